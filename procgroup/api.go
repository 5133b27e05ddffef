// Copyright (c) 2015-2021, NVIDIA CORPORATION.
// SPDX-License-Identifier: Apache-2.0

// Package procgroup provides the process group a benchmark run executes in:
// each member learns its rank and the group size, may block in a group-wide
// barrier, and reads a process-local monotonic clock.
//
// Three implementations are provided:
//
//   local - all members are goroutines of one process (NewLocalGroup)
//   etcd  - members are processes coordinating through an etcd cluster (NewEtcdGroup)
//   nats  - members are processes coordinating through a NATS server (NewNATSGroup)
//
// Bootstrapping (launching the member processes and handing each its rank) is
// not provided here; multi-process members receive their identity via config.
package procgroup

import (
	"time"

	"github.com/NVIDIA/sfbench/blunder"
)

// Group is one member's handle on a process group.
type Group interface {
	// Rank returns this member's rank in [0, GroupSize())
	Rank() int
	// GroupSize returns the number of members
	GroupSize() int
	// Barrier blocks until every member has called Barrier() the same number
	// of times. Once the group is aborted, every pending and future Barrier()
	// returns a GroupAbortedError.
	Barrier() error
	// WallClockSeconds returns monotonic seconds since this member joined
	WallClockSeconds() float64
	// Abort terminates the group on behalf of this member
	Abort(err error)
	// Close releases this member's resources
	Close() error
}

const (
	GroupTypeLocal = "local"
	GroupTypeEtcd  = "etcd"
	GroupTypeNATS  = "nats"
)

// CoordinatorRank is the rank that reads phase timings and persists results
const CoordinatorRank = 0

type clockStruct struct {
	origin time.Time
}

func newClock() clockStruct {
	return clockStruct{origin: time.Now()}
}

func (clock clockStruct) wallClockSeconds() float64 {
	return time.Since(clock.origin).Seconds()
}

func checkIdentity(rank int, groupSize int) (err error) {
	if 1 > groupSize {
		err = blunder.NewKindError(blunder.ConfigurationError, blunder.InvalidArgError, "group size (%d) must be >= 1", groupSize)
		return
	}
	if (0 > rank) || (rank >= groupSize) {
		err = blunder.NewKindError(blunder.ConfigurationError, blunder.InvalidArgError, "rank (%d) must be in [0,%d)", rank, groupSize)
		return
	}
	err = nil
	return
}

func abortedError(rank int, cause string) error {
	return blunder.NewKindError(blunder.CollectiveIOError, blunder.GroupAbortedError, "process group aborted (observed by rank %d): %s", rank, cause)
}

func closedError(rank int) error {
	return blunder.NewKindError(blunder.CollectiveIOError, blunder.BadFileError, "process group member %d closed", rank)
}
