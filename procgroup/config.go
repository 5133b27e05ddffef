// Copyright (c) 2015-2021, NVIDIA CORPORATION.
// SPDX-License-Identifier: Apache-2.0

package procgroup

import (
	"strings"
	"time"

	"github.com/NVIDIA/sfbench/blunder"
	"github.com/NVIDIA/sfbench/conf"
)

const (
	defaultEtcdDialTimeout   = 5 * time.Second
	defaultEtcdKeyPrefix     = "/sfbench"
	defaultEtcdKeyTTL        = time.Hour
	defaultNATSSubjectPrefix = "sfbench"
	defaultNATSJoinTimeout   = 30 * time.Second
)

// EtcdConfig holds the [EtcdGroup] section
type EtcdConfig struct {
	Endpoints   []string
	DialTimeout time.Duration
	KeyPrefix   string
	KeyTTL      time.Duration
	RunID       string
	Rank        int
	GroupSize   int
}

// NATSConfig holds the [NATSGroup] section
type NATSConfig struct {
	URL           string
	SubjectPrefix string
	JoinTimeout   time.Duration
	RunID         string
	Rank          int
	GroupSize     int
}

func configError(err error) error {
	return blunder.AddKind(blunder.AddError(err, blunder.InvalidArgError), blunder.ConfigurationError)
}

func fetchIdentity(confMap conf.ConfMap, sectionName string) (runID string, rank int, groupSize int, err error) {
	runID, err = confMap.FetchOptionValueString(sectionName, "RunID")
	if nil != err {
		err = configError(err)
		return
	}
	if ("" == runID) || strings.ContainsAny(runID, "/.*> \t") {
		err = blunder.NewKindError(blunder.ConfigurationError, blunder.InvalidArgError, "[%s]RunID %q must be non-empty and contain no '/', '.', '*', '>' or whitespace", sectionName, runID)
		return
	}

	rankAsUint32, err := confMap.FetchOptionValueUint32(sectionName, "Rank")
	if nil != err {
		err = configError(err)
		return
	}
	groupSizeAsUint32, err := confMap.FetchOptionValueUint32(sectionName, "GroupSize")
	if nil != err {
		err = configError(err)
		return
	}

	rank = int(rankAsUint32)
	groupSize = int(groupSizeAsUint32)

	err = checkIdentity(rank, groupSize)
	return
}

// FetchEtcdConfig reads the [EtcdGroup] section of confMap
func FetchEtcdConfig(confMap conf.ConfMap) (config EtcdConfig, err error) {
	config.Endpoints, err = confMap.FetchOptionValueStringSlice("EtcdGroup", "Endpoints")
	if nil != err {
		err = configError(err)
		return
	}
	if 0 == len(config.Endpoints) {
		err = blunder.NewKindError(blunder.ConfigurationError, blunder.InvalidArgError, "[EtcdGroup]Endpoints must not be empty")
		return
	}

	config.DialTimeout, err = confMap.FetchOptionValueDuration("EtcdGroup", "DialTimeout")
	if nil != err {
		if blunder.IsNot(err, blunder.NotFoundError) {
			err = configError(err)
			return
		}
		config.DialTimeout = defaultEtcdDialTimeout
	}
	config.KeyPrefix, err = confMap.FetchOptionValueString("EtcdGroup", "KeyPrefix")
	if nil != err {
		if blunder.IsNot(err, blunder.NotFoundError) {
			err = configError(err)
			return
		}
		config.KeyPrefix = defaultEtcdKeyPrefix
	}
	config.KeyTTL, err = confMap.FetchOptionValueDuration("EtcdGroup", "KeyTTL")
	if nil != err {
		if blunder.IsNot(err, blunder.NotFoundError) {
			err = configError(err)
			return
		}
		config.KeyTTL = defaultEtcdKeyTTL
	}
	if time.Second > config.KeyTTL {
		err = blunder.NewKindError(blunder.ConfigurationError, blunder.InvalidArgError, "[EtcdGroup]KeyTTL (%v) must be at least 1s", config.KeyTTL)
		return
	}

	config.RunID, config.Rank, config.GroupSize, err = fetchIdentity(confMap, "EtcdGroup")
	return
}

// FetchNATSConfig reads the [NATSGroup] section of confMap
func FetchNATSConfig(confMap conf.ConfMap) (config NATSConfig, err error) {
	config.URL, err = confMap.FetchOptionValueString("NATSGroup", "URL")
	if nil != err {
		err = configError(err)
		return
	}

	config.SubjectPrefix, err = confMap.FetchOptionValueString("NATSGroup", "SubjectPrefix")
	if nil != err {
		if blunder.IsNot(err, blunder.NotFoundError) {
			err = configError(err)
			return
		}
		config.SubjectPrefix = defaultNATSSubjectPrefix
	}
	config.JoinTimeout, err = confMap.FetchOptionValueDuration("NATSGroup", "JoinTimeout")
	if nil != err {
		if blunder.IsNot(err, blunder.NotFoundError) {
			err = configError(err)
			return
		}
		config.JoinTimeout = defaultNATSJoinTimeout
	}

	config.RunID, config.Rank, config.GroupSize, err = fetchIdentity(confMap, "NATSGroup")
	return
}

// Join connects this process to the multi-process group of groupType
// described by confMap.
func Join(confMap conf.ConfMap, groupType string) (group Group, err error) {
	switch groupType {
	case GroupTypeEtcd:
		var (
			config EtcdConfig
			member *EtcdMember
		)
		config, err = FetchEtcdConfig(confMap)
		if nil != err {
			return
		}
		member, err = NewEtcdGroup(config)
		if nil == err {
			group = member
		}
	case GroupTypeNATS:
		var (
			config NATSConfig
			member *NATSMember
		)
		config, err = FetchNATSConfig(confMap)
		if nil != err {
			return
		}
		member, err = NewNATSGroup(config)
		if nil == err {
			group = member
		}
	default:
		err = blunder.NewKindError(blunder.ConfigurationError, blunder.InvalidArgError, "procgroup.Join() does not support group type %q", groupType)
	}
	return
}
