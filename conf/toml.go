// Copyright (c) 2015-2021, NVIDIA CORPORATION.
// SPDX-License-Identifier: Apache-2.0

package conf

import (
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/NVIDIA/sfbench/blunder"
)

// A .toml file to load maps each top-level table to a Section:
//
//   [SFBench]
//   ScratchFilePath = "/mnt/shared/temp"
//   DirectIO        = true
//
//   [EtcdGroup]
//   Endpoints   = ["10.0.0.1:2379", "10.0.0.2:2379"]
//   DialTimeout = "5s"
//
// Scalars become single-valued options and arrays become multi-valued options.
// Keys outside of a table and nested tables are rejected.

func (confMap ConfMap) updateFromTOML(confFilePath string, confFileBytes []byte) (err error) {
	var (
		decoded      map[string]interface{}
		optionValues []string
		sectionNames []string
	)

	_, err = toml.Decode(string(confFileBytes), &decoded)
	if nil != err {
		err = confError(blunder.InvalidArgError, "file %v toml.Decode() failed: %v", confFilePath, err)
		return
	}

	sectionNames = make([]string, 0, len(decoded))
	for sectionName := range decoded {
		sectionNames = append(sectionNames, sectionName)
	}
	sort.Strings(sectionNames)

	for _, sectionName := range sectionNames {
		section, ok := decoded[sectionName].(map[string]interface{})
		if !ok {
			err = confError(blunder.InvalidArgError, "file %v key %v is not within a Section", confFilePath, sectionName)
			return
		}

		for optionName, optionValue := range section {
			optionValues, err = tomlValueToStrings(optionValue)
			if nil != err {
				err = confError(blunder.InvalidArgError, "file %v [%v]%v: %v", confFilePath, sectionName, optionName, err)
				return
			}

			confMap.SetOptionValues(sectionName, optionName, optionValues...)
		}
	}

	err = nil
	return
}

func tomlValueToStrings(tomlValue interface{}) (optionValues []string, err error) {
	var (
		elementValues []string
	)

	switch v := tomlValue.(type) {
	case []interface{}:
		optionValues = make([]string, 0, len(v))
		for _, element := range v {
			elementValues, err = tomlValueToStrings(element)
			if nil != err {
				return
			}
			if 1 != len(elementValues) {
				err = confError(blunder.InvalidArgError, "nested arrays not supported")
				return
			}
			optionValues = append(optionValues, elementValues[0])
		}
	case map[string]interface{}:
		err = confError(blunder.InvalidArgError, "nested tables not supported")
		return
	case string:
		optionValues = []string{v}
	case bool:
		optionValues = []string{strconv.FormatBool(v)}
	case int64:
		optionValues = []string{strconv.FormatInt(v, 10)}
	case float64:
		optionValues = []string{strconv.FormatFloat(v, 'f', -1, 64)}
	case time.Time:
		optionValues = []string{v.Format(time.RFC3339Nano)}
	default:
		optionValues = []string{fmt.Sprint(v)}
	}

	err = nil
	return
}
