// Copyright (c) 2015-2021, NVIDIA CORPORATION.
// SPDX-License-Identifier: Apache-2.0

package sharedfile

import (
	"fmt"

	"github.com/NVIDIA/sfbench/blunder"
)

// ElementType selects the fixed-width element a view addresses.
type ElementType int

const (
	Byte ElementType = iota
	Int32
)

// Size returns the width of one element in bytes
func (elementType ElementType) Size() int64 {
	switch elementType {
	case Byte:
		return 1
	case Int32:
		return 4
	default:
		return 0
	}
}

func (elementType ElementType) String() string {
	switch elementType {
	case Byte:
		return "Byte"
	case Int32:
		return "Int32"
	default:
		return fmt.Sprintf("ElementType(%d)", int(elementType))
	}
}

// Partition is the contiguous region of a shared file owned by one rank.
//
// For a fixed (GroupSize, ElementCount, ElementType), the Partitions of ranks
// 0..GroupSize-1 are pairwise disjoint and together cover
// [0, GroupSize*ElementCount*ElementType.Size()) in rank order.
type Partition struct {
	Rank         int
	GroupSize    int
	ByteOffset   int64
	ElementCount int64
	ElementType  ElementType
}

// Length returns the number of bytes in the Partition
func (partition Partition) Length() int64 {
	return partition.ElementCount * partition.ElementType.Size()
}

// End returns the offset one past the last byte of the Partition
func (partition Partition) End() int64 {
	return partition.ByteOffset + partition.Length()
}

// ComputePartition returns the region owned by rank in a group of groupSize
// ranks, each owning elementCount elements of elementType.
func ComputePartition(rank int, groupSize int, elementCount int64, elementType ElementType) (partition Partition, err error) {
	if 0 >= elementType.Size() {
		err = blunder.NewError(blunder.InvalidArgError, "sharedfile.ComputePartition() invalid elementType %v", elementType)
		return
	}
	if 0 >= elementCount {
		err = blunder.NewError(blunder.InvalidArgError, "sharedfile.ComputePartition() elementCount (%d) must be > 0", elementCount)
		return
	}
	if 1 > groupSize {
		err = blunder.NewError(blunder.InvalidArgError, "sharedfile.ComputePartition() groupSize (%d) must be >= 1", groupSize)
		return
	}
	if (0 > rank) || (rank >= groupSize) {
		err = blunder.NewError(blunder.InvalidArgError, "sharedfile.ComputePartition() rank (%d) must be in [0,%d)", rank, groupSize)
		return
	}

	partition = Partition{
		Rank:         rank,
		GroupSize:    groupSize,
		ByteOffset:   int64(rank) * elementCount * elementType.Size(),
		ElementCount: elementCount,
		ElementType:  elementType,
	}

	err = nil
	return
}
