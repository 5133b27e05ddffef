// Copyright (c) 2015-2021, NVIDIA CORPORATION.
// SPDX-License-Identifier: Apache-2.0

package sfbenchpkg

import (
	"github.com/google/uuid"

	"github.com/NVIDIA/sfbench/blunder"
	"github.com/NVIDIA/sfbench/conf"
	"github.com/NVIDIA/sfbench/procgroup"
)

const (
	bytesPerMegabyte = 1024 * 1024

	defaultScratchFilePath = "temp"
	defaultRankSlotCount   = 10
	defaultGroupType       = procgroup.GroupTypeLocal
	defaultLocalGroupSize  = 1

	maxMegabytesPerWorker = 1 << 20 // a rank's transfer buffer is held in memory
)

// Config is the immutable description of one benchmark run, read once from
// the [SFBench] section of a conf.ConfMap.
type Config struct {
	RankFilePath       string // rank-identity sub-benchmark target
	MegabytesPerWorker uint32
	ResultsFilePath    string
	ScratchFilePath    string // throughput benchmark target; removed after each run
	RankSlotCount      uint32
	DirectIO           bool
	SyncAfterWrite     bool
	GroupType          string
	LocalGroupSize     int
	RunID              string
}

func configError(err error) error {
	return blunder.AddKind(blunder.AddError(err, blunder.InvalidArgError), blunder.ConfigurationError)
}

// FetchConfig reads and validates the [SFBench] section of confMap
func FetchConfig(confMap conf.ConfMap) (config Config, err error) {
	var localGroupSize uint32

	config.RankFilePath, err = confMap.FetchOptionValueString("SFBench", "RankFilePath")
	if nil != err {
		err = configError(err)
		return
	}
	config.MegabytesPerWorker, err = confMap.FetchOptionValueUint32("SFBench", "MegabytesPerWorker")
	if nil != err {
		err = configError(err)
		return
	}
	if (0 == config.MegabytesPerWorker) || (config.MegabytesPerWorker > maxMegabytesPerWorker) {
		err = blunder.NewKindError(blunder.ConfigurationError, blunder.InvalidArgError, "[SFBench]MegabytesPerWorker (%d) must be in [1,%d]", config.MegabytesPerWorker, maxMegabytesPerWorker)
		return
	}
	config.ResultsFilePath, err = confMap.FetchOptionValueString("SFBench", "ResultsFilePath")
	if nil != err {
		err = configError(err)
		return
	}

	config.ScratchFilePath, err = confMap.FetchOptionValueString("SFBench", "ScratchFilePath")
	if nil != err {
		if blunder.IsNot(err, blunder.NotFoundError) {
			err = configError(err)
			return
		}
		config.ScratchFilePath = defaultScratchFilePath
	}
	config.RankSlotCount, err = confMap.FetchOptionValueUint32("SFBench", "RankSlotCount")
	if nil != err {
		if blunder.IsNot(err, blunder.NotFoundError) {
			err = configError(err)
			return
		}
		config.RankSlotCount = defaultRankSlotCount
	}
	if 0 == config.RankSlotCount {
		err = blunder.NewKindError(blunder.ConfigurationError, blunder.InvalidArgError, "[SFBench]RankSlotCount must be > 0")
		return
	}
	config.DirectIO, err = confMap.FetchOptionValueBool("SFBench", "DirectIO")
	if nil != err {
		if blunder.IsNot(err, blunder.NotFoundError) {
			err = configError(err)
			return
		}
		config.DirectIO = false
	}
	config.SyncAfterWrite, err = confMap.FetchOptionValueBool("SFBench", "SyncAfterWrite")
	if nil != err {
		if blunder.IsNot(err, blunder.NotFoundError) {
			err = configError(err)
			return
		}
		config.SyncAfterWrite = false
	}

	config.GroupType, err = confMap.FetchOptionValueString("SFBench", "GroupType")
	if nil != err {
		if blunder.IsNot(err, blunder.NotFoundError) {
			err = configError(err)
			return
		}
		config.GroupType = defaultGroupType
	}
	switch config.GroupType {
	case procgroup.GroupTypeLocal, procgroup.GroupTypeEtcd, procgroup.GroupTypeNATS:
	default:
		err = blunder.NewKindError(blunder.ConfigurationError, blunder.InvalidArgError, "[SFBench]GroupType %q must be one of local, etcd or nats", config.GroupType)
		return
	}

	localGroupSize, err = confMap.FetchOptionValueUint32("SFBench", "LocalGroupSize")
	if nil != err {
		if blunder.IsNot(err, blunder.NotFoundError) {
			err = configError(err)
			return
		}
		localGroupSize = defaultLocalGroupSize
	}
	if 0 == localGroupSize {
		err = blunder.NewKindError(blunder.ConfigurationError, blunder.InvalidArgError, "[SFBench]LocalGroupSize must be > 0")
		return
	}
	config.LocalGroupSize = int(localGroupSize)

	config.RunID, err = confMap.FetchOptionValueString("SFBench", "RunID")
	if nil != err {
		if blunder.IsNot(err, blunder.NotFoundError) {
			err = configError(err)
			return
		}
		config.RunID = ""
	}
	if "" == config.RunID {
		config.RunID = uuid.New().String()
	}

	if (config.RankFilePath == config.ScratchFilePath) || (config.ResultsFilePath == config.ScratchFilePath) {
		err = blunder.NewKindError(blunder.ConfigurationError, blunder.InvalidArgError, "[SFBench]ScratchFilePath %q must differ from RankFilePath and ResultsFilePath", config.ScratchFilePath)
		return
	}

	err = nil
	return
}

// PayloadSize returns the number of bytes each rank transfers per phase
func (config *Config) PayloadSize() int64 {
	return int64(config.MegabytesPerWorker) * bytesPerMegabyte
}
