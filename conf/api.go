// Copyright (c) 2015-2021, NVIDIA CORPORATION.
// SPDX-License-Identifier: Apache-2.0

// Package conf provides the ConfMap used to configure every sfbench package.
//
// A ConfMap is loaded from a .INI/.conf file, from a .toml file, or from
// strings of the form <section_name>.<option_name>=<value>[,<value>]* such
// as are passed as extra command-line arguments. Every error it returns is a
// blunder.ConfigurationError.
package conf

import (
	"io/ioutil"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/NVIDIA/sfbench/blunder"
)

// ConfMap is accessed via confMap[section_name][option_name][option_value_index] or via the methods below

type ConfMapOption []string
type ConfMapSection map[string]ConfMapOption
type ConfMap map[string]ConfMapSection

func MakeConfMap() (confMap ConfMap) {
	confMap = make(ConfMap)
	return
}

func MakeConfMapFromFile(confFilePath string) (confMap ConfMap, err error) {
	confMap = MakeConfMap()
	err = confMap.UpdateFromFile(confFilePath)
	return
}

func MakeConfMapFromStrings(confStrings []string) (confMap ConfMap, err error) {
	confMap = MakeConfMap()
	err = confMap.UpdateFromStrings(confStrings)
	return
}

// UpdateFromString applies one <section_name>.<option_name>=<value>[,<value>]*
// update, such as an extra command-line argument.
func (confMap ConfMap) UpdateFromString(confString string) (err error) {
	sectionName, optionName, optionValues, err := parseConfString(confString)
	if nil != err {
		return
	}

	confMap.SetOptionValues(sectionName, optionName, optionValues...)

	err = nil
	return
}

func (confMap ConfMap) UpdateFromStrings(confStrings []string) (err error) {
	for _, confString := range confStrings {
		err = confMap.UpdateFromString(confString)
		if nil != err {
			return
		}
	}

	err = nil
	return
}

// UpdateFromFile applies every option in confFilePath
//
// A confFilePath ending in ".toml" is decoded as TOML; anything else is parsed
// as .INI/.conf. A confFilePath of "-" reads .INI/.conf from os.Stdin.
func (confMap ConfMap) UpdateFromFile(confFilePath string) (err error) {
	var (
		confFileBytes []byte
	)

	if "-" == confFilePath {
		confFileBytes, err = ioutil.ReadAll(os.Stdin)
	} else {
		confFileBytes, err = ioutil.ReadFile(confFilePath)
	}
	if nil != err {
		err = blunder.AddKind(err, blunder.ConfigurationError)
		return
	}

	if strings.HasSuffix(confFilePath, ".toml") {
		err = confMap.updateFromTOML(confFilePath, confFileBytes)
	} else {
		err = confMap.updateFromINI(confFilePath, confFileBytes)
	}

	return
}

// SetOptionValues replaces [sectionName]optionName's values, creating the section if necessary
//
// Unlike UpdateFromString, values are taken verbatim (e.g. file paths containing spaces).
func (confMap ConfMap) SetOptionValues(sectionName string, optionName string, optionValues ...string) {
	section, found := confMap[sectionName]
	if !found {
		section = make(ConfMapSection)
		confMap[sectionName] = section
	}

	section[optionName] = append(ConfMapOption{}, optionValues...)
}

// FetchOptionValueStringSlice returns every value of [sectionName]optionName.
// A missing option is a blunder.NotFoundError.
func (confMap ConfMap) FetchOptionValueStringSlice(sectionName string, optionName string) (optionValue []string, err error) {
	option, ok := confMap[sectionName][optionName]
	if !ok {
		optionValue = []string{}
		err = confError(blunder.NotFoundError, "[%v]%v missing", sectionName, optionName)
		return
	}

	optionValue = option

	err = nil
	return
}

func (confMap ConfMap) FetchOptionValueString(sectionName string, optionName string) (optionValue string, err error) {
	optionValueSlice, err := confMap.FetchOptionValueStringSlice(sectionName, optionName)
	if nil != err {
		return
	}

	if 1 != len(optionValueSlice) {
		err = confError(blunder.InvalidArgError, "[%v]%v must be single-valued", sectionName, optionName)
		return
	}

	optionValue = optionValueSlice[0]

	err = nil
	return
}

// FetchOptionValueBool accepts true/false, yes/no, and on/off in any case
func (confMap ConfMap) FetchOptionValueBool(sectionName string, optionName string) (optionValue bool, err error) {
	optionValueString, err := confMap.FetchOptionValueString(sectionName, optionName)
	if nil != err {
		return
	}

	switch strings.ToLower(optionValueString) {
	case "yes", "on", "true":
		optionValue = true
	case "no", "off", "false":
		optionValue = false
	default:
		err = confError(blunder.InvalidArgError, "[%v]%v couldn't interpret %q as boolean", sectionName, optionName, optionValueString)
		return
	}

	err = nil
	return
}

func (confMap ConfMap) FetchOptionValueUint32(sectionName string, optionName string) (optionValue uint32, err error) {
	optionValueString, err := confMap.FetchOptionValueString(sectionName, optionName)
	if nil != err {
		return
	}

	optionValueUint64, strconvErr := strconv.ParseUint(optionValueString, 10, 32)
	if nil != strconvErr {
		err = confError(blunder.InvalidArgError, "[%v]%v: %v", sectionName, optionName, strconvErr)
		return
	}

	optionValue = uint32(optionValueUint64)

	err = nil
	return
}

// FetchOptionValueDuration parses a non-negative time.ParseDuration() string
func (confMap ConfMap) FetchOptionValueDuration(sectionName string, optionName string) (optionValue time.Duration, err error) {
	optionValueString, err := confMap.FetchOptionValueString(sectionName, optionName)
	if nil != err {
		return
	}

	optionValue, parseErr := time.ParseDuration(optionValueString)
	if nil != parseErr {
		err = confError(blunder.InvalidArgError, "[%v]%v: %v", sectionName, optionName, parseErr)
		return
	}
	if 0 > optionValue {
		err = confError(blunder.InvalidArgError, "[%v]%v is negative", sectionName, optionName)
		return
	}

	err = nil
	return
}
