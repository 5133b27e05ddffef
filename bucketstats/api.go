// Copyright (c) 2015-2021, NVIDIA CORPORATION.
// SPDX-License-Identifier: Apache-2.0

// Package bucketstats collects per-rank counters and latency distributions.
//
// Statistics are exported fields of a struct that is registered under a
// package name and a group name before use. A registered group can be
// rendered one statistic per line via SprintStats().
//
package bucketstats

import (
	"sync/atomic"
)

// Register names every statistic in *statsStruct and makes the group visible
// to SprintStats(). Registering a pkgName, statsGroupName pair twice panics.
//
// A statistic's Name defaults to its field name. Whitespace, '*', '#', and
// ':' in any name are replaced by '_'.
func Register(pkgName string, statsGroupName string, statsStruct interface{}) {
	register(pkgName, statsGroupName, statsStruct)
}

// UnRegister forgets a group. Unknown groups are ignored.
func UnRegister(pkgName string, statsGroupName string) {
	unRegister(pkgName, statsGroupName)
}

// SprintStats renders a registered group, or every group when either name is
// "*", as "<pkg>.<group>.<stat> key:value..." lines sorted by name.
func SprintStats(pkgName string, statsGroupName string) (values string) {
	return sprintStats(pkgName, statsGroupName)
}

// Total accumulates a running sum, e.g. bytes transferred.
type Total struct {
	total uint64 // accessed atomically
	Name  string
}

func (total *Total) Add(value uint64) {
	atomic.AddUint64(&total.total, value)
}

func (total *Total) Increment() {
	total.Add(1)
}

func (total *Total) TotalGet() uint64 {
	return atomic.LoadUint64(&total.total)
}

// BucketInfo describes one bucket of a BucketLog2Round
type BucketInfo struct {
	Count      uint64
	NominalVal uint64 // 2^(index-1), or 0 for bucket 0
	MeanVal    uint64
	RangeLow   uint64
	RangeHigh  uint64
}

// BucketLog2Round counts values in bucket round(log2(value))+1, with 0 going
// to bucket 0. Bucket boundaries fall at 2^(n+0.5):
//
//  Values  Bucket
//       0       0
//       1       1
//       2       2
//   3 - 5       3
//  6 - 11       4
// 12 - 22       5
//
// NBucket, clamped by Register() to [10, 65] with 0 meaning 65, limits the
// number of buckets; larger values land in the last one.
type BucketLog2Round struct {
	buckets [log2RoundMaxBuckets]uint64 // accessed atomically; first for 64-bit alignment
	Name    string
	NBucket uint
}

func (bucketed *BucketLog2Round) Add(value uint64) {
	idx := log2RoundIdx(value)
	if idx >= bucketed.nBucket() {
		idx = bucketed.nBucket() - 1
	}
	atomic.AddUint64(&bucketed.buckets[idx], 1)
}

func (bucketed *BucketLog2Round) Increment() {
	bucketed.Add(1)
}

func (bucketed *BucketLog2Round) CountGet() (count uint64) {
	count, _, _ = summarize(bucketed.DistGet())
	return
}

// TotalGet estimates the sum of all values from each bucket's MeanVal,
// saturating at math.MaxUint64.
func (bucketed *BucketLog2Round) TotalGet() (total uint64) {
	_, total, _ = summarize(bucketed.DistGet())
	return
}

func (bucketed *BucketLog2Round) AverageGet() (mean uint64) {
	_, _, mean = summarize(bucketed.DistGet())
	return
}

// DistGet returns a snapshot of the first NBucket buckets.
func (bucketed *BucketLog2Round) DistGet() (dist []BucketInfo) {
	return distribution(bucketed.nBucket(), bucketed.buckets[:])
}

// nBucket is NBucket, or the maximum if Register() has not yet clamped it
func (bucketed *BucketLog2Round) nBucket() uint {
	if (0 == bucketed.NBucket) || (log2RoundMaxBuckets < bucketed.NBucket) {
		return log2RoundMaxBuckets
	}
	return bucketed.NBucket
}
