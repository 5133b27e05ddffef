// Copyright (c) 2015-2021, NVIDIA CORPORATION.
// SPDX-License-Identifier: Apache-2.0

package conf

import (
	"path/filepath"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/NVIDIA/sfbench/blunder"
)

func confError(errValue blunder.FsError, format string, a ...interface{}) error {
	return blunder.NewKindError(blunder.ConfigurationError, errValue, format, a...)
}

// RegEx components used below:

const assignment = "([ \t]*[=:][ \t]*)"
const dot = "(\\.)"
const leftBracket = "(\\[)"
const rightBracket = "(\\])"
const sectionName = "([0-9A-Za-z_\\-/:\\.]+)"
const separator = "([ \t]+|([ \t]*,[ \t]*))"

const token = "(([0-9A-Za-z_\\*\\-/:\\.\\[\\]~@+%]+)\\$?)"
const whiteSpace = "([ \t]+)"

// A string to load looks like:
//
//   <section_name_0>.<option_name_0> =
//     or
//   <section_name_1>.<option_name_1> : <value_1>
//     or
//   <section_name_2>.<option_name_2> = <value_2>, <value_3>
//     or
//   <section_name_3>.<option_name_3> : <value_4> <value_5>,<value_6>

var stringRE = regexp.MustCompile("\\A" + token + dot + token + assignment + "(" + token + "(" + separator + token + ")*)?\\z")
var sectionNameOptionNameSeparatorRE = regexp.MustCompile(dot)

// A .INI/.conf file to load typically looks like:
//
//   [<section_name_1>]
//   <option_name_0> :
//   <option_name_1> = <value_1>
//   <option_name_2> : <value_2> <value_3>
//   <option_name_3> = <value_4> <value_5>,<value_6>
//
//   # A comment on it's own line starting with '#'
//   ; A comment on it's own line starting with ';'
//
//   [<section_name_2>]          ; A comment at the end of a line starting with ';'
//   <option_name_4> : <value_7> # A comment at the end of a line starting with '#'
//
// One .INI/.conf file may include another before/between/after its own sections like:
//
//   .include <included .INI/.conf/.toml path>

var sectionHeaderLineRE = regexp.MustCompile("\\A" + leftBracket + token + rightBracket + "\\z")
var sectionNameRE = regexp.MustCompile(sectionName)

var optionLineRE = regexp.MustCompile("\\A" + token + assignment + "(" + token + "(" + separator + token + ")*)?\\z")

var optionNameOptionValuesSeparatorRE = regexp.MustCompile(assignment)
var optionValueSeparatorRE = regexp.MustCompile(separator)

var includeLineRE = regexp.MustCompile("\\A\\.include" + whiteSpace + token + "\\z")
var includeFilePathSeparatorRE = regexp.MustCompile(whiteSpace)

func splitOptionValues(optionValues string) (optionValuesSplit []string) {
	optionValuesSplit = optionValueSeparatorRE.Split(optionValues, -1)

	if (1 == len(optionValuesSplit)) && ("" == optionValuesSplit[0]) {
		// Handle special case where optionValuesSplit == []string{""}... changing it to []string{}

		optionValuesSplit = []string{}
	}

	return
}

func parseConfString(confString string) (sectionName string, optionName string, optionValues []string, err error) {
	confStringTrimmed := strings.Trim(confString, " \t")

	if 0 == len(confStringTrimmed) {
		err = confError(blunder.InvalidArgError, "trimmed confString: \"%v\" was found to be empty", confString)
		return
	}

	if !stringRE.MatchString(confStringTrimmed) {
		err = confError(blunder.InvalidArgError, "malformed confString: \"%v\"", confString)
		return
	}

	sectionNameOptionPayloadStrings := sectionNameOptionNameSeparatorRE.Split(confStringTrimmed, 2)

	sectionName = sectionNameOptionPayloadStrings[0]

	optionNameOptionValuesStrings := optionNameOptionValuesSeparatorRE.Split(sectionNameOptionPayloadStrings[1], 2)

	optionName = optionNameOptionValuesStrings[0]
	optionValues = splitOptionValues(optionNameOptionValuesStrings[1])

	err = nil
	return
}

func (confMap ConfMap) updateFromINI(confFilePath string, confFileBytes []byte) (err error) {
	var (
		currentSectionName string
		lines              []string
		nestedConfFilePath string
	)

	if !utf8.Valid(confFileBytes) {
		err = confError(blunder.InvalidArgError, "file %v contained invalid UTF-8", confFilePath)
		return
	}

	if (0 < len(confFileBytes)) && ('\n' != confFileBytes[len(confFileBytes)-1]) {
		err = confError(blunder.InvalidArgError, "file %v did not end in a '\\n' character", confFilePath)
		return
	}

	lines = strings.Split(string(confFileBytes), "\n")

	for _, currentLine := range lines {
		currentLine = strings.SplitN(currentLine, ";", 2)[0] // Trim comment after ';'
		currentLine = strings.SplitN(currentLine, "#", 2)[0] // Trim comment after '#'
		currentLine = strings.Trim(currentLine, " \t\r")

		if 0 == len(currentLine) {
			continue
		}

		if includeLineRE.MatchString(currentLine) {
			nestedConfFilePath = includeFilePathSeparatorRE.Split(currentLine, 2)[1]

			if !filepath.IsAbs(nestedConfFilePath) {
				nestedConfFilePath = filepath.Join(filepath.Dir(confFilePath), nestedConfFilePath)
			}

			err = confMap.UpdateFromFile(nestedConfFilePath)
			if nil != err {
				return
			}

			currentSectionName = ""

			continue
		}

		if sectionHeaderLineRE.MatchString(currentLine) {
			currentSectionName = sectionNameRE.FindString(currentLine)
			continue
		}

		if "" == currentSectionName {
			err = confError(blunder.InvalidArgError, "file %v did not start with a Section Name", confFilePath)
			return
		}

		if !optionLineRE.MatchString(currentLine) {
			err = confError(blunder.InvalidArgError, "file %v malformed line '%v'", confFilePath, currentLine)
			return
		}

		optionNameOptionValuesStrings := optionNameOptionValuesSeparatorRE.Split(currentLine, 2)

		confMap.SetOptionValues(currentSectionName, optionNameOptionValuesStrings[0], splitOptionValues(optionNameOptionValuesStrings[1])...)
	}

	err = nil
	return
}
