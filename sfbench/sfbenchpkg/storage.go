// Copyright (c) 2015-2021, NVIDIA CORPORATION.
// SPDX-License-Identifier: Apache-2.0

package sfbenchpkg

import (
	"github.com/NVIDIA/sfbench/sharedfile"
)

// File is an open shared file as seen by an Engine
type File interface {
	SetView(partition sharedfile.Partition, access sharedfile.Access) error
	Write(buf []byte) error
	Read(buf []byte) error
	Sync() error
	Close() error
}

// Storage opens and removes the shared files an Engine works on
type Storage interface {
	Open(path string, mode sharedfile.Mode, directIO bool) (File, error)
	Remove(path string) error
}

type sharedFileStorageStruct struct{}

// SharedFileStorage is the Storage backed by package sharedfile
var SharedFileStorage Storage = sharedFileStorageStruct{}

func (sharedFileStorageStruct) Open(path string, mode sharedfile.Mode, directIO bool) (file File, err error) {
	handle, err := sharedfile.Open(path, mode, directIO)
	if nil != err {
		return
	}
	file = handle
	return
}

func (sharedFileStorageStruct) Remove(path string) error {
	return sharedfile.Remove(path)
}
