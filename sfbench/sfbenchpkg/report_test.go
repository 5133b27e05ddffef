// Copyright (c) 2015-2021, NVIDIA CORPORATION.
// SPDX-License-Identifier: Apache-2.0

package sfbenchpkg

import (
	"fmt"
	"io/ioutil"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/NVIDIA/sfbench/blunder"
)

// testReadResults returns the non-empty lines of a results file and the value
// parsed from each
func testReadResults(t *testing.T, path string) (lines []string, values []float64) {
	resultsBytes, err := ioutil.ReadFile(path)
	require.Nil(t, err)

	formats := []string{
		"Write time = %f s.",
		"Read time = %f s.",
		"Overall time = %f s.",
		"Maximum Bandwidth = %f MB/s.",
	}

	for _, line := range strings.Split(string(resultsBytes), "\n") {
		if "" != line {
			lines = append(lines, line)
		}
	}
	require.Equal(t, len(formats), len(lines), "results file:\n%s", string(resultsBytes))

	values = make([]float64, len(lines))
	for i, line := range lines {
		_, err = fmt.Sscanf(line, formats[i], &values[i])
		require.Nil(t, err, "line %d: %q", i, line)
	}

	return
}

func TestBandwidth(t *testing.T) {
	assert := assert.New(t)

	// the slower direction determines bandwidth
	assert.Equal(float64(4), Bandwidth(8*bytesPerMegabyte, 2, 1))
	assert.Equal(float64(4), Bandwidth(8*bytesPerMegabyte, 1, 2))
	assert.Equal(float64(2), Bandwidth(1*bytesPerMegabyte, 0.5, 0.25))

	assert.Equal(float64(0), Bandwidth(1*bytesPerMegabyte, 0, 0))

	totalBytes := int64(64 * bytesPerMegabyte)
	previous := Bandwidth(totalBytes, 1, 1)
	assert.True(0 < previous)
	for _, slower := range []float64{1.5, 2, 10, 1000} {
		current := Bandwidth(totalBytes, slower, 1)
		assert.True(current < previous, "bandwidth must fall as write time grows to %v", slower)
		assert.Equal(current, Bandwidth(totalBytes, 1, slower))
		previous = current
	}
}

func TestReport(t *testing.T) {
	assert := assert.New(t)

	dir := t.TempDir()
	path := filepath.Join(dir, "results")

	require.Nil(t, ioutil.WriteFile(path, []byte(strings.Repeat("stale content\n", 100)), 0644))

	result := newBenchmarkResult(0.5, 0.25, 1, 4, 2*bytesPerMegabyte)
	assert.Equal(float64(16), result.BandwidthMBps)

	err := Report(result, 4, 2*bytesPerMegabyte, path)
	assert.Nil(err)

	lines, values := testReadResults(t, path)
	assert.Equal("Write time = 0.500000 s.", lines[0])
	assert.Equal("Read time = 0.250000 s.", lines[1])
	assert.Equal("Overall time = 1.000000 s.", lines[2])
	assert.Equal("Maximum Bandwidth = 16.000000 MB/s.", lines[3])
	assert.Equal([]float64{0.5, 0.25, 1, 16}, values)

	resultsBytes, err := ioutil.ReadFile(path)
	assert.Nil(err)
	assert.Equal(FormatResults(0.5, 0.25, 1, 16), string(resultsBytes))

	err = Report(result, 4, 2*bytesPerMegabyte, filepath.Join(dir, "no-such-dir", "results"))
	assert.NotNil(err)
	assert.True(blunder.IsKind(err, blunder.ReportingError))
}
