// Copyright (c) 2015-2021, NVIDIA CORPORATION.
// SPDX-License-Identifier: Apache-2.0

// Package utils provides miscellaneous utilities for sfbench.
package utils

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"runtime"
	"strconv"
	"strings"
	"time"
)

// Int32SliceToByteSlice packs int32s as consecutive 4-byte LittleEndian values
func Int32SliceToByteSlice(int32Slice []int32) (byteSlice []byte) {
	byteSlice = make([]byte, 4*len(int32Slice))

	for i, i32 := range int32Slice {
		binary.LittleEndian.PutUint32(byteSlice[4*i:], uint32(i32))
	}

	return
}

// ByteSliceToInt32Slice is the inverse of Int32SliceToByteSlice
func ByteSliceToInt32Slice(byteSlice []byte) (int32Slice []int32, ok bool) {
	if 0 != (len(byteSlice) % 4) {
		ok = false
		return
	}

	int32Slice = make([]int32, len(byteSlice)/4)

	for i := range int32Slice {
		int32Slice[i] = int32(binary.LittleEndian.Uint32(byteSlice[4*i:]))
	}

	ok = true
	return
}

// GetGID returns the goroutine id of the caller, which tells apart the
// ranks of a local group sharing one process.
func GetGID() uint64 {
	b := make([]byte, 64)
	b = b[:runtime.Stack(b, false)]
	b = bytes.TrimPrefix(b, []byte("goroutine "))
	b = b[:bytes.IndexByte(b, ' ')]
	n, _ := strconv.ParseUint(string(b), 10, 64)
	return n
}

// GetFuncPackage returns the function and package names of the caller level
// frames above it, along with the goroutine id. Closures keep their
// "func1"-style suffix.
func GetFuncPackage(level int) (fn string, pkg string, gid uint64) {
	fn, pkg = "unknown", "unknown"
	gid = GetGID()

	pc, _, _, ok := runtime.Caller(level + 1)
	if !ok {
		return
	}
	functionObject := runtime.FuncForPC(pc)
	if nil == functionObject {
		return
	}

	// e.g. "github.com/NVIDIA/sfbench/sfbench/sfbenchpkg.(*Engine).runPhase.func1"
	qualifiedName := functionObject.Name()
	qualifiedName = qualifiedName[strings.LastIndex(qualifiedName, "/")+1:]

	dot := strings.Index(qualifiedName, ".")
	if 0 > dot {
		fn = qualifiedName
		return
	}

	pkg = qualifiedName[:dot]
	fn = qualifiedName[strings.LastIndex(qualifiedName, ".")+1:]

	return
}

type Stopwatch struct {
	StartTime   time.Time
	StopTime    time.Time
	ElapsedTime time.Duration
	IsRunning   bool
}

func NewStopwatch() *Stopwatch {
	return &Stopwatch{StartTime: time.Now(), IsRunning: true}
}

// Stop freezes the Stopwatch; stopping a stopped Stopwatch is a no-op
func (sw *Stopwatch) Stop() time.Duration {
	if sw.IsRunning {
		sw.StopTime = time.Now()
		sw.ElapsedTime = sw.StopTime.Sub(sw.StartTime)
		sw.IsRunning = false
	}
	return sw.ElapsedTime
}

func (sw *Stopwatch) Elapsed() time.Duration {
	if !sw.IsRunning {
		return sw.ElapsedTime
	}

	return time.Since(sw.StartTime)
}

func (sw *Stopwatch) ElapsedUs() uint64 {
	return uint64(sw.Elapsed() / time.Microsecond)
}

func JSONify(input interface{}, indentify bool) (output string) {
	var (
		err             error
		inputJSON       bytes.Buffer
		inputJSONPacked []byte
	)

	inputJSONPacked, err = json.Marshal(input)
	if nil == err {
		if indentify {
			err = json.Indent(&inputJSON, inputJSONPacked, "", "\t")
			if nil == err {
				output = inputJSON.String()
			} else {
				output = fmt.Sprintf("<<<json.Indent failed: %v>>>", err)
			}
		} else {
			output = string(inputJSONPacked)
		}
	} else {
		output = fmt.Sprintf("<<<json.Marshall failed: %v>>>", err)
	}

	return
}
