// Copyright (c) 2015-2021, NVIDIA CORPORATION.
// SPDX-License-Identifier: Apache-2.0

package sharedfile

import (
	"errors"
	"os"
	"sync"

	"github.com/ncw/directio"
	"golang.org/x/sys/unix"

	"github.com/NVIDIA/sfbench/blunder"
)

// Mode is the access mode a shared file is opened with.
type Mode int

const (
	ModeCreateWriteOnly Mode = iota
	ModeReadOnly
)

func (mode Mode) String() string {
	switch mode {
	case ModeCreateWriteOnly:
		return "CreateWriteOnly"
	case ModeReadOnly:
		return "ReadOnly"
	default:
		return "UnknownMode"
	}
}

// Access is the direction of transfers permitted through a view.
type Access int

const (
	AccessWrite Access = iota
	AccessRead
)

const sharedFilePerm = 0644

type viewStruct struct {
	partition Partition
	access    Access
	position  int64 // relative to partition.ByteOffset
}

// Handle is an open shared file. Transfers require a view established by SetView().
//
// A Handle is owned by a single goroutine at a time; the embedded Mutex only
// guards against a concurrent Close().
type Handle struct {
	sync.Mutex
	path     string
	mode     Mode
	directIO bool
	file     *os.File
	view     *viewStruct
}

// Open opens the shared file at path. ModeCreateWriteOnly creates the file
// if absent and truncates it, so every member must open it before any member
// writes. When directIO is set, the file is opened bypassing the page cache
// and every view and transfer must be directio.AlignSize aligned.
func Open(path string, mode Mode, directIO bool) (handle *Handle, err error) {
	var (
		file *os.File
		flag int
	)

	switch mode {
	case ModeCreateWriteOnly:
		flag = os.O_CREATE | os.O_WRONLY | os.O_TRUNC
	case ModeReadOnly:
		flag = os.O_RDONLY
	default:
		err = blunder.NewError(blunder.InvalidArgError, "sharedfile.Open(%s) unknown mode %v", path, mode)
		return
	}

	if directIO {
		file, err = directio.OpenFile(path, flag, sharedFilePerm)
	} else {
		file, err = os.OpenFile(path, flag, sharedFilePerm)
	}
	if nil != err {
		err = storageError(err)
		return
	}

	handle = &Handle{
		path:     path,
		mode:     mode,
		directIO: directIO,
		file:     file,
	}

	err = nil
	return
}

// Remove deletes the shared file at path
func Remove(path string) (err error) {
	err = os.Remove(path)
	if nil != err {
		err = storageError(err)
	}
	return
}

// AlignedBuffer returns a transfer buffer of size bytes suitable for a
// Handle opened with the same directIO setting.
func AlignedBuffer(size int, directIO bool) (buf []byte) {
	if directIO {
		buf = directio.AlignedBlock(size)
	} else {
		buf = make([]byte, size)
	}
	return
}

// Path returns the path the Handle was opened with
func (handle *Handle) Path() string {
	return handle.path
}

// SetView restricts subsequent transfers to partition in the given direction
// and rewinds the transfer position to the start of partition.
func (handle *Handle) SetView(partition Partition, access Access) (err error) {
	handle.Lock()
	defer handle.Unlock()

	if nil == handle.file {
		err = blunder.NewError(blunder.BadFileError, "sharedfile.SetView(%s) on closed handle", handle.path)
		return
	}
	if (AccessWrite == access) && (ModeReadOnly == handle.mode) {
		err = blunder.NewError(blunder.ReadOnlyError, "sharedfile.SetView(%s) cannot write-restrict a read-only handle", handle.path)
		return
	}
	if (AccessRead == access) && (ModeCreateWriteOnly == handle.mode) {
		err = blunder.NewError(blunder.BadFileError, "sharedfile.SetView(%s) cannot read-restrict a write-only handle", handle.path)
		return
	}
	if (0 > partition.ByteOffset) || (0 >= partition.Length()) {
		err = blunder.NewError(blunder.InvalidArgError, "sharedfile.SetView(%s) invalid partition %+v", handle.path, partition)
		return
	}
	if handle.directIO && ((0 != partition.ByteOffset%directio.AlignSize) || (0 != partition.Length()%directio.AlignSize)) {
		err = blunder.NewError(blunder.InvalidArgError, "sharedfile.SetView(%s) partition %+v not aligned to %d for direct I/O", handle.path, partition, directio.AlignSize)
		return
	}

	handle.view = &viewStruct{
		partition: partition,
		access:    access,
		position:  0,
	}

	err = nil
	return
}

func (handle *Handle) checkTransfer(access Access, buf []byte) (fileOffset int64, err error) {
	bufLen := len(buf)

	if nil == handle.file {
		err = blunder.NewError(blunder.BadFileError, "sharedfile transfer on closed handle %s", handle.path)
		return
	}
	if nil == handle.view {
		err = blunder.NewError(blunder.InvalidArgError, "sharedfile transfer on %s before SetView()", handle.path)
		return
	}
	if access != handle.view.access {
		err = blunder.NewError(blunder.BadFileError, "sharedfile transfer on %s does not match view access", handle.path)
		return
	}
	if handle.view.position+int64(bufLen) > handle.view.partition.Length() {
		err = blunder.NewError(blunder.ViewBoundsError, "sharedfile transfer of %d bytes at view position %d exceeds view length %d of %s",
			bufLen, handle.view.position, handle.view.partition.Length(), handle.path)
		return
	}
	if 0 != int64(bufLen)%handle.view.partition.ElementType.Size() {
		err = blunder.NewError(blunder.InvalidArgError, "sharedfile transfer of %d bytes is not a whole number of %v elements", bufLen, handle.view.partition.ElementType)
		return
	}
	if handle.directIO && ((0 == bufLen) || (0 != bufLen%directio.AlignSize) || !directio.IsAligned(buf)) {
		err = blunder.NewError(blunder.InvalidArgError, "sharedfile transfer of %d bytes not aligned for direct I/O", bufLen)
		return
	}

	fileOffset = handle.view.partition.ByteOffset + handle.view.position
	err = nil
	return
}

// Write transfers all of buf into the view at the current view position
func (handle *Handle) Write(buf []byte) (err error) {
	handle.Lock()
	defer handle.Unlock()

	fileOffset, err := handle.checkTransfer(AccessWrite, buf)
	if nil != err {
		return
	}

	n, err := handle.file.WriteAt(buf, fileOffset)
	if nil != err {
		err = storageError(err)
		return
	}
	if n != len(buf) {
		err = blunder.NewError(blunder.ShortWriteError, "sharedfile.Write(%s) wrote %d of %d bytes", handle.path, n, len(buf))
		return
	}

	handle.view.position += int64(n)

	err = nil
	return
}

// Read fills buf from the view at the current view position
func (handle *Handle) Read(buf []byte) (err error) {
	handle.Lock()
	defer handle.Unlock()

	fileOffset, err := handle.checkTransfer(AccessRead, buf)
	if nil != err {
		return
	}

	n, err := handle.file.ReadAt(buf, fileOffset)
	if n != len(buf) {
		err = blunder.NewError(blunder.ShortReadError, "sharedfile.Read(%s) read %d of %d bytes: %v", handle.path, n, len(buf), err)
		return
	}

	handle.view.position += int64(n)

	err = nil
	return
}

// Sync flushes written data to stable storage
func (handle *Handle) Sync() (err error) {
	handle.Lock()
	defer handle.Unlock()

	if nil == handle.file {
		err = blunder.NewError(blunder.BadFileError, "sharedfile.Sync(%s) on closed handle", handle.path)
		return
	}

	err = handle.file.Sync()
	if nil != err {
		err = storageError(err)
	}
	return
}

// Close releases the Handle. Closing an already closed Handle is a no-op.
func (handle *Handle) Close() (err error) {
	handle.Lock()
	defer handle.Unlock()

	if nil == handle.file {
		err = nil
		return
	}

	err = handle.file.Close()
	handle.file = nil
	handle.view = nil
	if nil != err {
		err = storageError(err)
	}
	return
}

// storageError annotates an error from the os package with its errno,
// defaulting to IOError.
func storageError(err error) error {
	var errno unix.Errno

	if errors.As(err, &errno) {
		return blunder.AddError(err, blunder.FsError(int(errno)))
	}
	return blunder.AddError(err, blunder.IOError)
}
