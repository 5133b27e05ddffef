// Copyright (c) 2015-2021, NVIDIA CORPORATION.
// SPDX-License-Identifier: Apache-2.0

package sfbenchpkg

import (
	"fmt"

	"github.com/NVIDIA/sfbench/bucketstats"
	"github.com/NVIDIA/sfbench/procgroup"
	"github.com/NVIDIA/sfbench/utils"
)

const statsPkgName = "sfbench"

// rankStatsStruct holds one member's own measurements. They are logged when
// the Engine is closed and never reported in the results file.
type rankStatsStruct struct {
	RankSlotsWritten bucketstats.Total
	BytesWritten     bucketstats.Total
	BytesRead        bucketstats.Total
	WriteUsec        bucketstats.BucketLog2Round
	ReadUsec         bucketstats.BucketLog2Round
	SyncUsec         bucketstats.BucketLog2Round
	BarrierWaitUsec  bucketstats.BucketLog2Round
	Barriers         bucketstats.Total
}

func statsGroupName(runID string, rank int) string {
	return fmt.Sprintf("%s/rank-%d", runID, rank)
}

// meteredGroupStruct records time spent waiting in each Barrier()
type meteredGroupStruct struct {
	procgroup.Group
	stats *rankStatsStruct
}

func (group *meteredGroupStruct) Barrier() (err error) {
	stopwatch := utils.NewStopwatch()
	err = group.Group.Barrier()
	stopwatch.Stop()

	group.stats.Barriers.Increment()
	group.stats.BarrierWaitUsec.Add(stopwatch.ElapsedUs())

	return
}
