// Copyright (c) 2015-2021, NVIDIA CORPORATION.
// SPDX-License-Identifier: Apache-2.0

package sfbenchpkg

import (
	"github.com/NVIDIA/sfbench/procgroup"
)

// RunTimedPhase runs body on every member of group between two barriers.
//
// Only the coordinator samples the clock: once after the first barrier
// releases and once after the second. Since the second barrier cannot release
// before every member has finished body, elapsedSeconds is the time taken by
// the slowest member. Non-coordinators always get 0.
//
// An error from body or either barrier is returned immediately; the caller is
// responsible for aborting the group.
func RunTimedPhase(group procgroup.Group, isCoordinator bool, body func() error) (elapsedSeconds float64, err error) {
	var startedAt float64

	err = group.Barrier()
	if nil != err {
		return
	}

	if isCoordinator {
		startedAt = group.WallClockSeconds()
	}

	err = body()
	if nil != err {
		return
	}

	err = group.Barrier()
	if nil != err {
		return
	}

	if isCoordinator {
		elapsedSeconds = group.WallClockSeconds() - startedAt
	}

	err = nil
	return
}
