// Copyright (c) 2015-2021, NVIDIA CORPORATION.
// SPDX-License-Identifier: Apache-2.0

package sharedfile

import (
	"io/ioutil"
	"os"
	"path/filepath"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/NVIDIA/sfbench/blunder"
	"github.com/NVIDIA/sfbench/utils"
)

func TestComputePartitionCoverage(t *testing.T) {
	assert := assert.New(t)

	for _, elementType := range []ElementType{Byte, Int32} {
		for groupSize := 1; groupSize <= 9; groupSize++ {
			for _, elementCount := range []int64{1, 10, 4096} {
				partitions := make([]Partition, 0, groupSize)
				for rank := 0; rank < groupSize; rank++ {
					partition, err := ComputePartition(rank, groupSize, elementCount, elementType)
					assert.Nil(err)
					assert.Equal(elementCount*elementType.Size(), partition.Length())
					partitions = append(partitions, partition)
				}

				sort.Slice(partitions, func(i, j int) bool { return partitions[i].ByteOffset < partitions[j].ByteOffset })

				nextOffset := int64(0)
				for i, partition := range partitions {
					assert.Equal(i, partition.Rank, "partitions must be rank ordered")
					assert.Equal(nextOffset, partition.ByteOffset, "gap or overlap before rank %d", partition.Rank)
					nextOffset = partition.End()
				}
				assert.Equal(int64(groupSize)*elementCount*elementType.Size(), nextOffset)
			}
		}
	}
}

func TestComputePartitionInvalid(t *testing.T) {
	assert := assert.New(t)

	_, err := ComputePartition(0, 1, 0, Byte)
	assert.True(blunder.Is(err, blunder.InvalidArgError))
	_, err = ComputePartition(0, 0, 1, Byte)
	assert.True(blunder.Is(err, blunder.InvalidArgError))
	_, err = ComputePartition(-1, 2, 1, Byte)
	assert.True(blunder.Is(err, blunder.InvalidArgError))
	_, err = ComputePartition(2, 2, 1, Int32)
	assert.True(blunder.Is(err, blunder.InvalidArgError))
	_, err = ComputePartition(0, 1, 1, ElementType(7))
	assert.True(blunder.Is(err, blunder.InvalidArgError))

	partition, err := ComputePartition(3, 4, 10, Int32)
	assert.Nil(err)
	assert.Equal(int64(120), partition.ByteOffset)
	assert.Equal(int64(160), partition.End())
}

func TestWriteThenRead(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)

	path := filepath.Join(t.TempDir(), "shared")
	groupSize := 4
	slotCount := int64(10)

	require.Nil(ioutil.WriteFile(path, make([]byte, 1000), 0644))

	handles := make([]*Handle, groupSize)
	for rank := range handles {
		partition, err := ComputePartition(rank, groupSize, slotCount, Int32)
		require.Nil(err)

		handles[rank], err = Open(path, ModeCreateWriteOnly, false)
		require.Nil(err)
		require.Nil(handles[rank].SetView(partition, AccessWrite))
	}

	for rank := groupSize - 1; rank >= 0; rank-- {
		handle := handles[rank]
		slots := make([]int32, slotCount)
		for i := range slots {
			slots[i] = int32(rank)
		}
		assert.Nil(handle.Write(utils.Int32SliceToByteSlice(slots)))
		assert.Nil(handle.Sync())
		assert.Nil(handle.Close())
	}

	fileBytes, err := ioutil.ReadFile(path)
	require.Nil(err)
	fileSlots, ok := utils.ByteSliceToInt32Slice(fileBytes)
	require.True(ok)
	require.Equal(int(slotCount)*groupSize, len(fileSlots), "stale bytes beyond the last partition are truncated")
	for i, slot := range fileSlots {
		assert.Equal(int32(i/int(slotCount)), slot, "slot %d", i)
	}

	partition, err := ComputePartition(2, groupSize, slotCount, Int32)
	require.Nil(err)
	handle, err := Open(path, ModeReadOnly, false)
	require.Nil(err)
	require.Nil(handle.SetView(partition, AccessRead))

	buf := make([]byte, partition.Length()/2)
	assert.Nil(handle.Read(buf))
	assert.Nil(handle.Read(buf))
	readSlots, _ := utils.ByteSliceToInt32Slice(buf)
	assert.Equal([]int32{2, 2, 2, 2, 2}, readSlots)

	err = handle.Read(buf)
	assert.True(blunder.Is(err, blunder.ViewBoundsError))

	assert.Nil(handle.Close())
	assert.Nil(handle.Close())
}

func TestHandleErrors(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)

	dir := t.TempDir()
	path := filepath.Join(dir, "shared")

	_, err := Open(path, ModeReadOnly, false)
	assert.True(blunder.Is(err, blunder.NotFoundError))

	_, err = Open(filepath.Join(dir, "no-such-dir", "shared"), ModeCreateWriteOnly, false)
	assert.NotNil(err)

	partition, err := ComputePartition(0, 1, 8, Byte)
	require.Nil(err)

	handle, err := Open(path, ModeCreateWriteOnly, false)
	require.Nil(err)

	err = handle.Write(make([]byte, 8))
	assert.True(blunder.Is(err, blunder.InvalidArgError), "transfer before SetView")

	err = handle.SetView(partition, AccessRead)
	assert.True(blunder.Is(err, blunder.BadFileError))

	require.Nil(handle.SetView(partition, AccessWrite))
	err = handle.Write(make([]byte, 9))
	assert.True(blunder.Is(err, blunder.ViewBoundsError))
	assert.Nil(handle.Write(make([]byte, 8)))
	require.Nil(handle.Close())

	err = handle.Write(make([]byte, 8))
	assert.True(blunder.Is(err, blunder.BadFileError))
	err = handle.SetView(partition, AccessWrite)
	assert.True(blunder.Is(err, blunder.BadFileError))
	err = handle.Sync()
	assert.True(blunder.Is(err, blunder.BadFileError))

	handle, err = Open(path, ModeReadOnly, false)
	require.Nil(err)
	err = handle.SetView(partition, AccessWrite)
	assert.True(blunder.Is(err, blunder.ReadOnlyError))

	int32Partition, err := ComputePartition(0, 1, 2, Int32)
	require.Nil(err)
	require.Nil(handle.SetView(int32Partition, AccessRead))
	err = handle.Read(make([]byte, 3))
	assert.True(blunder.Is(err, blunder.InvalidArgError))
	err = handle.Read(make([]byte, 8))
	assert.Nil(err)
	assert.Nil(handle.Close())

	largerPartition, err := ComputePartition(1, 2, 8, Byte)
	require.Nil(err)
	handle, err = Open(path, ModeReadOnly, false)
	require.Nil(err)
	require.Nil(handle.SetView(largerPartition, AccessRead))
	err = handle.Read(make([]byte, 8))
	assert.True(blunder.Is(err, blunder.ShortReadError), "read past end of file")
	assert.Nil(handle.Close())

	assert.Nil(Remove(path))
	err = Remove(path)
	assert.True(blunder.Is(err, blunder.NotFoundError))
	_, err = os.Stat(path)
	assert.True(os.IsNotExist(err))
}

func TestAlignedBuffer(t *testing.T) {
	assert := assert.New(t)

	buf := AlignedBuffer(1<<20, false)
	assert.Equal(1<<20, len(buf))

	buf = AlignedBuffer(1<<20, true)
	assert.Equal(1<<20, len(buf))
}
