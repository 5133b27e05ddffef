// Copyright (c) 2015-2021, NVIDIA CORPORATION.
// SPDX-License-Identifier: Apache-2.0

package sfbenchpkg

import (
	"fmt"
	"io/ioutil"

	"github.com/NVIDIA/sfbench/blunder"
)

// BenchmarkResult is the coordinator's measurement of one throughput run
type BenchmarkResult struct {
	WriteSeconds   float64
	ReadSeconds    float64
	OverallSeconds float64
	BandwidthMBps  float64
}

func newBenchmarkResult(writeSeconds float64, readSeconds float64, overallSeconds float64, groupSize int, payloadSize int64) *BenchmarkResult {
	return &BenchmarkResult{
		WriteSeconds:   writeSeconds,
		ReadSeconds:    readSeconds,
		OverallSeconds: overallSeconds,
		BandwidthMBps:  Bandwidth(payloadSize*int64(groupSize), writeSeconds, readSeconds),
	}
}

// Bandwidth returns totalBytes moved in the slower of writeSeconds and
// readSeconds, in MB/s. It returns 0 if neither time is positive.
func Bandwidth(totalBytes int64, writeSeconds float64, readSeconds float64) float64 {
	slowerSeconds := writeSeconds
	if readSeconds > slowerSeconds {
		slowerSeconds = readSeconds
	}
	if 0 >= slowerSeconds {
		return 0
	}
	return float64(totalBytes) / (slowerSeconds * bytesPerMegabyte)
}

// FormatResults renders the four labeled results lines
func FormatResults(writeSeconds float64, readSeconds float64, overallSeconds float64, bandwidthMBps float64) string {
	return fmt.Sprintf("\nWrite time = %f s.\n", writeSeconds) +
		fmt.Sprintf("\nRead time = %f s.\n", readSeconds) +
		fmt.Sprintf("\nOverall time = %f s.\n", overallSeconds) +
		fmt.Sprintf("\nMaximum Bandwidth = %f MB/s.\n", bandwidthMBps)
}

// Report persists result to destinationPath, replacing any prior content.
// Failure is a ReportingError; it never requires aborting the group.
func Report(result *BenchmarkResult, groupSize int, payloadSize int64, destinationPath string) (err error) {
	totalBytes := payloadSize * int64(groupSize)
	bandwidthMBps := Bandwidth(totalBytes, result.WriteSeconds, result.ReadSeconds)

	results := FormatResults(result.WriteSeconds, result.ReadSeconds, result.OverallSeconds, bandwidthMBps)

	err = ioutil.WriteFile(destinationPath, []byte(results), 0644)
	if nil != err {
		err = blunder.NewKindError(blunder.ReportingError, blunder.IOError, "unable to create/override results file %s: %v", destinationPath, err)
		return
	}

	err = nil
	return
}
