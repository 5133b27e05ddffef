// Copyright (c) 2015-2021, NVIDIA CORPORATION.
// SPDX-License-Identifier: Apache-2.0

package sfbenchpkg

import (
	"sync"

	"github.com/NVIDIA/sfbench/blunder"
	"github.com/NVIDIA/sfbench/conf"
	"github.com/NVIDIA/sfbench/halter"
	"github.com/NVIDIA/sfbench/procgroup"
)

// RunLocal runs the benchmark with config.LocalGroupSize ranks, each driven
// by its own goroutine. Each rank's Halter is armed from confMap's [Halter]
// section before any rank starts.
//
// An error received on abortChan (which may be nil) aborts the group.
//
// The coordinator's result is returned. When more than one rank fails, the
// returned error is the one that caused the group to abort, not an observed
// abort.
func RunLocal(config Config, confMap conf.ConfMap, storage Storage, abortChan <-chan error) (result *BenchmarkResult, err error) {
	var (
		doneChan chan struct{}
		errs     []error
		halters  []*halter.Halter
		members  []*procgroup.LocalMember
		wg       sync.WaitGroup
	)

	halters = make([]*halter.Halter, config.LocalGroupSize)
	for rank := range halters {
		halters[rank], err = halter.NewFromConf(confMap, rank)
		if nil != err {
			return
		}
	}

	members, err = procgroup.NewLocalGroup(config.LocalGroupSize)
	if nil != err {
		return
	}

	errs = make([]error, len(members))

	doneChan = make(chan struct{})
	defer close(doneChan)

	go func() {
		select {
		case abortErr := <-abortChan:
			members[procgroup.CoordinatorRank].Abort(abortErr)
		case <-doneChan:
		}
	}()

	for rank, member := range members {
		wg.Add(1)
		go func(rank int, member *procgroup.LocalMember) {
			var memberResult *BenchmarkResult

			defer wg.Done()
			defer member.Close()

			memberResult, errs[rank] = RunMember(config, member, storage, halters[rank])
			if procgroup.CoordinatorRank == rank {
				result = memberResult
			}
		}(rank, member)
	}

	wg.Wait()

	err = firstCause(errs)
	return
}

// firstCause returns the lowest-ranked error that is not merely an observed
// group abort, falling back to the first error of any sort.
func firstCause(errs []error) (err error) {
	for _, rankErr := range errs {
		if (nil != rankErr) && blunder.IsNot(rankErr, blunder.GroupAbortedError) {
			err = rankErr
			return
		}
	}
	for _, rankErr := range errs {
		if nil != rankErr {
			err = rankErr
			return
		}
	}
	err = nil
	return
}
