// Copyright (c) 2015-2021, NVIDIA CORPORATION.
// SPDX-License-Identifier: Apache-2.0

package bucketstats

import (
	"fmt"
	"math"
	"math/big"
	"math/bits"
	"reflect"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"unicode"
)

const (
	log2RoundMaxBuckets = 65
	log2RoundMinBuckets = 10
)

type statistic interface {
	statName() string
	sprint(prefix string) string
}

type registryStruct struct {
	sync.Mutex
	groups map[string]map[string]interface{} // [pkgName][statsGroupName] -> *struct
}

var registry = registryStruct{groups: make(map[string]map[string]interface{})}

// log2RoundUpper[k] is the largest value placed in bucket k+1, floor(2^(k+0.5))
var log2RoundUpper [log2RoundMaxBuckets]uint64

func init() {
	sqrt2 := new(big.Float).SetPrec(128).Sqrt(big.NewFloat(2).SetPrec(128))

	for k := 0; k < 64; k++ {
		bound := new(big.Float).SetPrec(128).SetMantExp(sqrt2, k)
		log2RoundUpper[k], _ = bound.Uint64()
	}
	log2RoundUpper[64] = math.MaxUint64
}

func log2RoundIdx(value uint64) uint {
	if 0 == value {
		return 0
	}

	floorLog2 := uint(bits.Len64(value)) - 1
	if value > log2RoundUpper[floorLog2] {
		return floorLog2 + 2
	}
	return floorLog2 + 1
}

func log2RoundRange(idx uint) (rangeLow uint64, rangeHigh uint64) {
	switch idx {
	case 0:
		return 0, 0
	case 1:
		return 1, log2RoundUpper[0]
	default:
		return log2RoundUpper[idx-2] + 1, log2RoundUpper[idx-1]
	}
}

func distribution(nBucket uint, buckets []uint64) (dist []BucketInfo) {
	dist = make([]BucketInfo, nBucket)

	for idx := range dist {
		dist[idx].Count = atomic.LoadUint64(&buckets[idx])
		dist[idx].RangeLow, dist[idx].RangeHigh = log2RoundRange(uint(idx))
		if 0 < idx {
			dist[idx].NominalVal = uint64(1) << uint(idx-1)
		}
	}

	// the last bucket also holds everything beyond it
	dist[nBucket-1].RangeHigh = math.MaxUint64

	for idx := range dist {
		low, high := dist[idx].RangeLow, dist[idx].RangeHigh
		dist[idx].MeanVal = low/2 + high/2 + (low & high & 1)
	}

	return
}

func summarize(dist []BucketInfo) (count uint64, total uint64, mean uint64) {
	var (
		carry    uint64
		overflow bool
		product  uint64
		productH uint64
	)

	for _, bucket := range dist {
		count += bucket.Count

		productH, product = bits.Mul64(bucket.Count, bucket.MeanVal)
		total, carry = bits.Add64(total, product, 0)
		if (0 != productH) || (0 != carry) {
			overflow = true
		}
	}

	if overflow {
		total = math.MaxUint64
	}
	if 0 < count {
		mean = total / count
	}

	return
}

func (total *Total) statName() string {
	return total.Name
}

func (total *Total) sprint(prefix string) string {
	return fmt.Sprintf("%s%s total:%d\n", prefix, total.Name, total.TotalGet())
}

func (bucketed *BucketLog2Round) statName() string {
	return bucketed.Name
}

// sprint lists buckets only through the last non-empty one, labelling those
// from 1024 up as powers of two.
func (bucketed *BucketLog2Round) sprint(prefix string) string {
	var line strings.Builder

	dist := bucketed.DistGet()
	count, total, mean := summarize(dist)

	fmt.Fprintf(&line, "%s%s total:%d count:%d avg:%d", prefix, bucketed.Name, total, count, mean)

	lastIdx := -1
	for idx, bucket := range dist {
		if 0 < bucket.Count {
			lastIdx = idx
		}
	}
	for idx := 0; idx <= lastIdx; idx++ {
		if dist[idx].NominalVal < 1024 {
			fmt.Fprintf(&line, " %d:%d", dist[idx].NominalVal, dist[idx].Count)
		} else {
			fmt.Fprintf(&line, " 2^%d:%d", idx-1, dist[idx].Count)
		}
	}
	line.WriteString("\n")

	return line.String()
}

func scrubName(name string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) || !unicode.IsPrint(r) || strings.ContainsRune("*#:", r) {
			return '_'
		}
		return r
	}, name)
}

type statField struct {
	stat      statistic
	fieldName string
	value     reflect.Value
}

// statistics returns the statistic fields of statsStruct, which must be a
// pointer to a struct.
func statistics(statsGroupName string, statsStruct interface{}) (fields []statField) {
	structValue := reflect.ValueOf(statsStruct)
	if (reflect.Ptr != structValue.Kind()) || (reflect.Struct != structValue.Elem().Kind()) {
		panic(fmt.Sprintf("bucketstats: statistics group %q is %T, not a pointer to a struct", statsGroupName, statsStruct))
	}
	structValue = structValue.Elem()
	structType := structValue.Type()

	for i := 0; i < structValue.NumField(); i++ {
		if "" != structType.Field(i).PkgPath {
			continue // unexported
		}
		stat, ok := structValue.Field(i).Addr().Interface().(statistic)
		if ok {
			fields = append(fields, statField{stat: stat, fieldName: structType.Field(i).Name, value: structValue.Field(i)})
		}
	}

	return
}

func register(pkgName string, statsGroupName string, statsStruct interface{}) {
	if ("" == pkgName) && ("" == statsGroupName) {
		panic("bucketstats: a statistics group needs a pkgName or a statsGroupName")
	}

	names := make(map[string]bool)

	for _, field := range statistics(statsGroupName, statsStruct) {
		nameValue := field.value.FieldByName("Name")
		if "" == nameValue.String() {
			nameValue.SetString(field.fieldName)
		} else {
			nameValue.SetString(scrubName(nameValue.String()))
		}
		if names[field.stat.statName()] {
			panic(fmt.Sprintf("bucketstats: statistics group %q uses name %q twice", statsGroupName, field.stat.statName()))
		}
		names[field.stat.statName()] = true

		bucketed, ok := field.stat.(*BucketLog2Round)
		if ok {
			switch {
			case (0 == bucketed.NBucket) || (log2RoundMaxBuckets < bucketed.NBucket):
				bucketed.NBucket = log2RoundMaxBuckets
			case log2RoundMinBuckets > bucketed.NBucket:
				bucketed.NBucket = log2RoundMinBuckets
			}
		}
	}

	pkgName = scrubName(pkgName)
	statsGroupName = scrubName(statsGroupName)

	registry.Lock()
	defer registry.Unlock()

	if nil == registry.groups[pkgName] {
		registry.groups[pkgName] = make(map[string]interface{})
	}
	_, ok := registry.groups[pkgName][statsGroupName]
	if ok {
		panic(fmt.Sprintf("bucketstats: statistics group %q of %q is already registered", statsGroupName, pkgName))
	}
	registry.groups[pkgName][statsGroupName] = statsStruct
}

func unRegister(pkgName string, statsGroupName string) {
	pkgName = scrubName(pkgName)
	statsGroupName = scrubName(statsGroupName)

	registry.Lock()
	defer registry.Unlock()

	delete(registry.groups[pkgName], statsGroupName)
	if 0 == len(registry.groups[pkgName]) {
		delete(registry.groups, pkgName)
	}
}

func sortedKeys(m map[string]interface{}) (keys []string) {
	for key := range m {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return
}

func sprintStats(pkgName string, statsGroupName string) string {
	var values strings.Builder

	registry.Lock()
	defer registry.Unlock()

	pkgNames := []string{scrubName(pkgName)}
	if "*" == pkgName {
		pkgNames = nil
		for pkg := range registry.groups {
			pkgNames = append(pkgNames, pkg)
		}
		sort.Strings(pkgNames)
	}

	for _, pkg := range pkgNames {
		groupNames := []string{scrubName(statsGroupName)}
		if "*" == statsGroupName {
			groupNames = sortedKeys(registry.groups[pkg])
		}

		for _, group := range groupNames {
			statsStruct, ok := registry.groups[pkg][group]
			if !ok {
				panic(fmt.Sprintf("bucketstats: statistics group %q of %q is not registered", group, pkg))
			}

			prefix := pkg + "." + group + "."
			switch {
			case "" == pkg:
				prefix = group + "."
			case "" == group:
				prefix = pkg + "."
			}

			for _, field := range statistics(group, statsStruct) {
				values.WriteString(field.stat.sprint(prefix))
			}
		}
	}

	return values.String()
}
