// Copyright (c) 2015-2021, NVIDIA CORPORATION.
// SPDX-License-Identifier: Apache-2.0

// Package halter provides armable trigger points used to inject storage-layer
// failures into a benchmark run.
//
// A trigger is armed with a count. Each call to Trigger() for an armed label
// decrements the count and, should it reach 0, returns an IOError in place of
// the operation the label guards. A nil *Halter is valid and never fires.
package halter

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/NVIDIA/sfbench/blunder"
	"github.com/NVIDIA/sfbench/conf"
)

// Note: HaltLabelStrings should be easily parseable as URL components

const (
	SharedFileOpen      = "sfbench.Open"
	SharedFileSetView   = "sfbench.SetView"
	SharedFileRankWrite = "sfbench.RankIdentityWrite"
	SharedFileWrite     = "sfbench.WriteTransfer"
	SharedFileRead      = "sfbench.ReadTransfer"
	SharedFileClose     = "sfbench.Close"
	apiTestHaltLabel1   = "halter.testHaltLabel1"
	apiTestHaltLabel2   = "halter.testHaltLabel2"
)

var (
	HaltLabelStrings = []string{
		apiTestHaltLabel1,
		apiTestHaltLabel2,
		SharedFileOpen,
		SharedFileSetView,
		SharedFileRankWrite,
		SharedFileWrite,
		SharedFileRead,
		SharedFileClose,
	}
)

type Halter struct {
	sync.Mutex
	armedTriggers map[string]uint32 // key: haltLabel; value: haltAfterCount (remaining)
}

func isKnownLabel(haltLabelString string) bool {
	for _, s := range HaltLabelStrings {
		if s == haltLabelString {
			return true
		}
	}
	return false
}

// New returns a Halter with no armed triggers
func New() (halter *Halter) {
	halter = &Halter{armedTriggers: make(map[string]uint32)}
	return
}

// NewFromConf returns a Halter armed according to the [Halter] section of confMap
//
//   ArmedTriggers - list of <label>:<haltAfterCount> (default: none)
//   ArmedRanks    - list of ranks the triggers apply to (default: all ranks)
//
// A rank not listed in a non-empty ArmedRanks receives an unarmed Halter.
func NewFromConf(confMap conf.ConfMap, rank int) (halter *Halter, err error) {
	var (
		armedRanks    []string
		armedTriggers []string
		rankIsArmed   bool
	)

	halter = New()

	armedTriggers, err = confMap.FetchOptionValueStringSlice("Halter", "ArmedTriggers")
	if (nil != err) || (0 == len(armedTriggers)) {
		err = nil
		return
	}

	armedRanks, err = confMap.FetchOptionValueStringSlice("Halter", "ArmedRanks")
	if (nil != err) || (0 == len(armedRanks)) {
		rankIsArmed = true
	} else {
		for _, armedRank := range armedRanks {
			armedRankAsInt, atoiErr := strconv.Atoi(armedRank)
			if nil != atoiErr {
				err = blunder.NewKindError(blunder.ConfigurationError, blunder.InvalidArgError, "[Halter]ArmedRanks entry %q is not a rank", armedRank)
				return
			}
			if armedRankAsInt == rank {
				rankIsArmed = true
			}
		}
	}

	for _, armedTrigger := range armedTriggers {
		labelAndCount := strings.SplitN(armedTrigger, ":", 2)
		if 2 != len(labelAndCount) {
			err = blunder.NewKindError(blunder.ConfigurationError, blunder.InvalidArgError, "[Halter]ArmedTriggers entry %q must be <label>:<count>", armedTrigger)
			return
		}
		haltAfterCount, parseErr := strconv.ParseUint(labelAndCount[1], 10, 32)
		if nil != parseErr {
			err = blunder.NewKindError(blunder.ConfigurationError, blunder.InvalidArgError, "[Halter]ArmedTriggers entry %q count invalid: %v", armedTrigger, parseErr)
			return
		}
		if rankIsArmed {
			err = halter.Arm(labelAndCount[0], uint32(haltAfterCount))
		} else {
			err = halter.checkArm(labelAndCount[0], uint32(haltAfterCount))
		}
		if nil != err {
			err = blunder.AddKind(err, blunder.ConfigurationError)
			return
		}
	}

	err = nil
	return
}

func (halter *Halter) checkArm(haltLabelString string, haltAfterCount uint32) (err error) {
	if !isKnownLabel(haltLabelString) {
		err = blunder.NewError(blunder.InvalidArgError, "halter.Arm(haltLabelString='%v',) - label unknown", haltLabelString)
		return
	}
	if 0 == haltAfterCount {
		err = blunder.NewError(blunder.InvalidArgError, "halter.Arm(haltLabel==%v,) called with haltAfterCount==0", haltLabelString)
		return
	}
	err = nil
	return
}

// Arm sets up a HALT on the haltAfterCount'd call to Trigger()
func (halter *Halter) Arm(haltLabelString string, haltAfterCount uint32) (err error) {
	err = halter.checkArm(haltLabelString, haltAfterCount)
	if nil != err {
		return
	}

	halter.Lock()
	halter.armedTriggers[haltLabelString] = haltAfterCount
	halter.Unlock()

	return
}

// Disarm removes a previously armed trigger via a call to Arm()
func (halter *Halter) Disarm(haltLabelString string) (err error) {
	if !isKnownLabel(haltLabelString) {
		err = blunder.NewError(blunder.InvalidArgError, "halter.Disarm(haltLabelString='%v') - label unknown", haltLabelString)
		return
	}

	halter.Lock()
	delete(halter.armedTriggers, haltLabelString)
	halter.Unlock()

	err = nil
	return
}

// Trigger decrements the haltAfterCount if armed and, should it reach 0, returns an IOError
func (halter *Halter) Trigger(haltLabelString string) (err error) {
	if nil == halter {
		return
	}

	halter.Lock()
	defer halter.Unlock()

	numTriggersRemaining, armed := halter.armedTriggers[haltLabelString]
	if !armed {
		return
	}

	numTriggersRemaining--
	if 0 == numTriggersRemaining {
		delete(halter.armedTriggers, haltLabelString)
		err = blunder.NewError(blunder.IOError, "halter.Trigger(haltLabelString==%v) triggered HALT", haltLabelString)
		return
	}

	halter.armedTriggers[haltLabelString] = numTriggersRemaining

	return
}

// Dump returns a map of currently armed triggers and their remaining trigger count
func (halter *Halter) Dump() (armedTriggers map[string]uint32) {
	armedTriggers = make(map[string]uint32)
	if nil == halter {
		return
	}

	halter.Lock()
	for k, v := range halter.armedTriggers {
		armedTriggers[k] = v
	}
	halter.Unlock()

	return
}

// List returns a sorted slice of available triggers
func List() (availableTriggers []string) {
	availableTriggers = append([]string{}, HaltLabelStrings...)
	sort.Strings(availableTriggers)
	return
}

func (halter *Halter) String() string {
	return fmt.Sprintf("%v", halter.Dump())
}
