// Copyright (c) 2015-2021, NVIDIA CORPORATION.
// SPDX-License-Identifier: Apache-2.0

package procgroup

import (
	"sync"

	"github.com/NVIDIA/sfbench/blunder"
	"github.com/NVIDIA/sfbench/logger"
)

type localGroupStruct struct {
	sync.Mutex
	cond       *sync.Cond
	groupSize  int
	arrived    int
	generation uint64
	abortCause string
	aborted    bool
}

// LocalMember is one goroutine's handle on a local process group.
type LocalMember struct {
	group  *localGroupStruct
	rank   int
	clock  clockStruct
	closed bool
}

// NewLocalGroup returns the groupSize members of a new in-process group,
// indexed by rank. Each member must be driven by its own goroutine.
func NewLocalGroup(groupSize int) (members []*LocalMember, err error) {
	err = checkIdentity(0, groupSize)
	if nil != err {
		return
	}

	group := &localGroupStruct{groupSize: groupSize}
	group.cond = sync.NewCond(&group.Mutex)

	members = make([]*LocalMember, groupSize)
	for rank := range members {
		members[rank] = &LocalMember{
			group: group,
			rank:  rank,
			clock: newClock(),
		}
	}

	err = nil
	return
}

func (member *LocalMember) Rank() int {
	return member.rank
}

func (member *LocalMember) GroupSize() int {
	return member.group.groupSize
}

func (member *LocalMember) WallClockSeconds() float64 {
	return member.clock.wallClockSeconds()
}

func (member *LocalMember) Barrier() (err error) {
	group := member.group

	group.Lock()
	defer group.Unlock()

	if member.closed {
		err = closedError(member.rank)
		return
	}
	if group.aborted {
		err = abortedError(member.rank, group.abortCause)
		return
	}

	generation := group.generation
	group.arrived++
	if group.arrived == group.groupSize {
		group.arrived = 0
		group.generation++
		group.cond.Broadcast()
		err = nil
		return
	}

	for (generation == group.generation) && !group.aborted {
		group.cond.Wait()
	}

	if generation == group.generation {
		err = abortedError(member.rank, group.abortCause)
		return
	}

	err = nil
	return
}

func (member *LocalMember) Abort(cause error) {
	group := member.group

	group.Lock()
	if !group.aborted {
		group.aborted = true
		group.abortCause = blunder.ErrorString(cause)
		logger.WithRank(member.rank).ErrorfWithError(cause, "aborting local process group of %d", group.groupSize)
	}
	group.cond.Broadcast()
	group.Unlock()
}

func (member *LocalMember) Close() (err error) {
	member.group.Lock()
	member.closed = true
	member.group.Unlock()
	err = nil
	return
}
