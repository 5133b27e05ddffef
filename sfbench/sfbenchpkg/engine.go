// Copyright (c) 2015-2021, NVIDIA CORPORATION.
// SPDX-License-Identifier: Apache-2.0

package sfbenchpkg

import (
	"fmt"
	"io"
	"os"

	"github.com/NVIDIA/sfbench/blunder"
	"github.com/NVIDIA/sfbench/bucketstats"
	"github.com/NVIDIA/sfbench/halter"
	"github.com/NVIDIA/sfbench/logger"
	"github.com/NVIDIA/sfbench/procgroup"
	"github.com/NVIDIA/sfbench/sharedfile"
	"github.com/NVIDIA/sfbench/utils"
)

// Engine runs the benchmark phases for one member of a process group.
type Engine struct {
	config     Config
	group      procgroup.Group
	storage    Storage
	halter     *halter.Halter
	stats      *rankStatsStruct
	statsGroup string
	console    io.Writer
	rankLogger *logger.RankLogger
}

// NewEngine returns an Engine for group's calling member. A nil storage
// selects SharedFileStorage; a nil halter never injects failures.
//
// The Engine's statistics stay registered until Close() is called.
func NewEngine(config Config, group procgroup.Group, storage Storage, halter *halter.Halter) (engine *Engine) {
	if nil == storage {
		storage = SharedFileStorage
	}

	engine = &Engine{
		config:     config,
		storage:    storage,
		halter:     halter,
		stats:      &rankStatsStruct{},
		statsGroup: statsGroupName(config.RunID, group.Rank()),
		console:    os.Stdout,
		rankLogger: logger.WithRank(group.Rank()),
	}
	engine.group = &meteredGroupStruct{Group: group, stats: engine.stats}

	bucketstats.Register(statsPkgName, engine.statsGroup, engine.stats)

	return
}

// SetConsole redirects the coordinator's console lines (default: os.Stdout)
func (engine *Engine) SetConsole(console io.Writer) {
	engine.console = console
}

func (engine *Engine) isCoordinator() bool {
	return procgroup.CoordinatorRank == engine.group.Rank()
}

// Close logs and unregisters this member's statistics
func (engine *Engine) Close() {
	engine.rankLogger.Tracef("statistics:\n%s", bucketstats.SprintStats(statsPkgName, engine.statsGroup))
	bucketstats.UnRegister(statsPkgName, engine.statsGroup)
}

func collectiveIOError(err error) error {
	return blunder.AddKind(err, blunder.CollectiveIOError)
}

// runPhase opens path, restricts it to partition, then runs transfer between
// two barriers. The file is closed on every path out of runPhase.
func (engine *Engine) runPhase(path string, mode sharedfile.Mode, access sharedfile.Access, partition sharedfile.Partition, directIO bool, transfer func(file File) error) (elapsedSeconds float64, err error) {
	var file File

	err = engine.halter.Trigger(halter.SharedFileOpen)
	if nil == err {
		file, err = engine.storage.Open(path, mode, directIO)
	}
	if nil != err {
		engine.rankLogger.ErrorfWithError(err, "open of %s (%v) failed", path, mode)
		err = collectiveIOError(err)
		return
	}

	defer func() {
		closeErr := engine.halter.Trigger(halter.SharedFileClose)
		if nil == closeErr {
			closeErr = file.Close()
		} else {
			_ = file.Close()
		}
		if nil != closeErr {
			engine.rankLogger.ErrorfWithError(closeErr, "close of %s failed", path)
			if nil == err {
				err = collectiveIOError(closeErr)
			}
		}
	}()

	err = engine.halter.Trigger(halter.SharedFileSetView)
	if nil == err {
		err = file.SetView(partition, access)
	}
	if nil != err {
		engine.rankLogger.ErrorfWithError(err, "set view of %s to [%d,%d) failed", path, partition.ByteOffset, partition.End())
		err = collectiveIOError(err)
		return
	}

	elapsedSeconds, err = RunTimedPhase(engine.group, engine.isCoordinator(), func() error { return transfer(file) })
	if nil != err {
		if blunder.IsNot(err, blunder.GroupAbortedError) {
			engine.rankLogger.ErrorfWithError(err, "transfer on %s failed", path)
		}
		err = collectiveIOError(err)
		return
	}

	err = nil
	return
}

// RunRankIdentity has every member write RankSlotCount copies of its rank,
// as little-endian int32s, at offset rank*RankSlotCount*4 of RankFilePath.
// The coordinator's barrier-bounded write time is returned and echoed to the
// console; other members get 0.
func (engine *Engine) RunRankIdentity() (elapsedSeconds float64, err error) {
	rank := engine.group.Rank()

	partition, err := sharedfile.ComputePartition(rank, engine.group.GroupSize(), int64(engine.config.RankSlotCount), sharedfile.Int32)
	if nil != err {
		err = collectiveIOError(err)
		return
	}

	slots := make([]int32, engine.config.RankSlotCount)
	for i := range slots {
		slots[i] = int32(rank)
	}
	buf := utils.Int32SliceToByteSlice(slots)

	elapsedSeconds, err = engine.runPhase(engine.config.RankFilePath, sharedfile.ModeCreateWriteOnly, sharedfile.AccessWrite, partition, false,
		func(file File) (err error) {
			err = engine.halter.Trigger(halter.SharedFileRankWrite)
			if nil == err {
				err = file.Write(buf)
			}
			if nil == err {
				engine.stats.RankSlotsWritten.Add(uint64(len(slots)))
			}
			return
		})
	if nil != err {
		return
	}

	if engine.isCoordinator() {
		fmt.Fprintf(engine.console, "Time taken to write into file for part 1 :  %10.5f\n", elapsedSeconds)
		engine.rankLogger.Infof("rank identity written to %s by %d ranks in %f s", engine.config.RankFilePath, engine.group.GroupSize(), elapsedSeconds)
	}

	err = nil
	return
}

// RunThroughput runs the write phase then the read phase against
// ScratchFilePath, each rank transferring PayloadSize() bytes of its own
// partition. The coordinator removes ScratchFilePath after a final barrier and
// returns the result; other members return a nil result. A failed removal is
// only logged.
func (engine *Engine) RunThroughput() (result *BenchmarkResult, err error) {
	var (
		overallStartedAt float64
		overallSeconds   float64
		readSeconds      float64
		writeSeconds     float64
	)

	payloadSize := engine.config.PayloadSize()
	groupSize := engine.group.GroupSize()

	partition, err := sharedfile.ComputePartition(engine.group.Rank(), groupSize, payloadSize, sharedfile.Byte)
	if nil != err {
		err = collectiveIOError(err)
		return
	}

	buf := sharedfile.AlignedBuffer(int(payloadSize), engine.config.DirectIO)

	if engine.isCoordinator() {
		overallStartedAt = engine.group.WallClockSeconds()
	}

	writeSeconds, err = engine.runPhase(engine.config.ScratchFilePath, sharedfile.ModeCreateWriteOnly, sharedfile.AccessWrite, partition, engine.config.DirectIO,
		func(file File) (err error) {
			stopwatch := utils.NewStopwatch()
			err = engine.halter.Trigger(halter.SharedFileWrite)
			if nil == err {
				err = file.Write(buf)
			}
			stopwatch.Stop()
			if nil != err {
				return
			}
			engine.stats.BytesWritten.Add(uint64(len(buf)))
			engine.stats.WriteUsec.Add(stopwatch.ElapsedUs())

			if engine.config.SyncAfterWrite {
				stopwatch = utils.NewStopwatch()
				err = file.Sync()
				stopwatch.Stop()
				engine.stats.SyncUsec.Add(stopwatch.ElapsedUs())
			}
			return
		})
	if nil != err {
		return
	}

	readSeconds, err = engine.runPhase(engine.config.ScratchFilePath, sharedfile.ModeReadOnly, sharedfile.AccessRead, partition, engine.config.DirectIO,
		func(file File) (err error) {
			stopwatch := utils.NewStopwatch()
			err = engine.halter.Trigger(halter.SharedFileRead)
			if nil == err {
				err = file.Read(buf)
			}
			stopwatch.Stop()
			if nil != err {
				return
			}
			engine.stats.BytesRead.Add(uint64(len(buf)))
			engine.stats.ReadUsec.Add(stopwatch.ElapsedUs())
			return
		})
	if nil != err {
		return
	}

	err = engine.group.Barrier()
	if nil != err {
		err = collectiveIOError(err)
		return
	}

	if !engine.isCoordinator() {
		err = nil
		return
	}

	overallSeconds = engine.group.WallClockSeconds() - overallStartedAt

	err = engine.storage.Remove(engine.config.ScratchFilePath)
	if nil != err {
		engine.rankLogger.WarnfWithError(err, "removal of %s failed", engine.config.ScratchFilePath)
	}

	result = newBenchmarkResult(writeSeconds, readSeconds, overallSeconds, groupSize, payloadSize)

	engine.rankLogger.Infof("throughput of %d ranks x %d bytes: write %f s, read %f s, overall %f s, %f MB/s",
		groupSize, payloadSize, result.WriteSeconds, result.ReadSeconds, result.OverallSeconds, result.BandwidthMBps)

	err = nil
	return
}

// Run runs the rank identity sub-benchmark, then the throughput benchmark,
// then (on the coordinator only) reports the throughput result to
// ResultsFilePath. A ReportingError is returned alongside a non-nil result.
func (engine *Engine) Run() (result *BenchmarkResult, err error) {
	_, err = engine.RunRankIdentity()
	if nil != err {
		return
	}

	result, err = engine.RunThroughput()
	if (nil != err) || !engine.isCoordinator() {
		return
	}

	err = Report(result, engine.group.GroupSize(), engine.config.PayloadSize(), engine.config.ResultsFilePath)
	if nil != err {
		engine.rankLogger.ErrorfWithError(err, "results not reported")
		return
	}

	engine.rankLogger.Infof("results written to %s", engine.config.ResultsFilePath)

	err = nil
	return
}

// RunMember runs the full benchmark as group's calling member. Any
// CollectiveIOError other than an observed abort aborts the group before
// returning.
func RunMember(config Config, group procgroup.Group, storage Storage, halter *halter.Halter) (result *BenchmarkResult, err error) {
	engine := NewEngine(config, group, storage, halter)
	defer engine.Close()

	result, err = engine.Run()
	if (nil != err) && blunder.IsKind(err, blunder.CollectiveIOError) && blunder.IsNot(err, blunder.GroupAbortedError) {
		group.Abort(err)
	}

	return
}
