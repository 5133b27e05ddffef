// Copyright (c) 2015-2021, NVIDIA CORPORATION.
// SPDX-License-Identifier: Apache-2.0

// Package blunder provides error-handling wrappers
//
// These wrappers allow callers to provide additional information in Go errors
// while still conforming to the Go error interface.
//
// Two pieces of information may be attached to an error:
//
//   errno - an FsError, typically a linux/POSIX errno from errno.h
//   kind  - an ErrorKind, selecting how the top level of a benchmark run
//           reacts to the error (usage, group-wide abort, or local report)
//
// This package is implemented on top of the ansel1/merry package:
//   https://github.com/ansel1/merry
//
package blunder

import (
	"fmt"

	"github.com/ansel1/merry"
	"golang.org/x/sys/unix"
)

// FsError holds an errno value.
//
// NOTE: unix.Errno is used here because they are errno constants that exist in Go-land.
//       We need to cast it to an int to get the errno value.
type FsError int

const (
	NotPermError    FsError = FsError(int(unix.EPERM))     // Operation not permitted
	NotFoundError   FsError = FsError(int(unix.ENOENT))    // No such file or directory
	IOError         FsError = FsError(int(unix.EIO))       // I/O error
	BadFileError    FsError = FsError(int(unix.EBADF))     // Bad file number
	PermDeniedError FsError = FsError(int(unix.EACCES))    // Permission denied
	InvalidArgError FsError = FsError(int(unix.EINVAL))    // Invalid argument
	ReadOnlyError   FsError = FsError(int(unix.EROFS))     // Read-only file system
	NoSpaceError    FsError = FsError(int(unix.ENOSPC))    // No space left on device
	OutOfRangeError FsError = FsError(int(unix.ERANGE))    // Math result not representable
	TimedOut        FsError = FsError(int(unix.ETIMEDOUT)) // Connection timed out
	CanceledError   FsError = FsError(int(unix.ECANCELED)) // Operation canceled
	NotImplemented  FsError = FsError(int(unix.ENOSYS))    // Function not implemented
)

// Errors that map to constants already defined above
const (
	ShortWriteError   FsError = IOError
	ShortReadError    FsError = IOError
	ViewBoundsError   FsError = InvalidArgError
	GroupAbortedError FsError = CanceledError
)

// SuccessError is the FsError of a nil error
const SuccessError FsError = 0

// ErrorKind classifies an error by the way a benchmark run must respond to it.
type ErrorKind int

const (
	// UnclassifiedError is the kind of any error without an explicit kind
	UnclassifiedError ErrorKind = iota
	// ConfigurationError reports bad/missing arguments; no collective operation may start
	ConfigurationError
	// CollectiveIOError reports a storage-layer failure on any participant; the group is aborted
	CollectiveIOError
	// ReportingError reports a failure persisting results; local to the coordinator
	ReportingError
)

const (
	successErrno = 0
	failureErrno = -1

	errnoKey = "errno"
	kindKey  = "kind"
)

// Value returns the int value for the specified FsError constant
func (err FsError) Value() int {
	return int(err)
}

func (kind ErrorKind) String() string {
	switch kind {
	case ConfigurationError:
		return "ConfigurationError"
	case CollectiveIOError:
		return "CollectiveIOError"
	case ReportingError:
		return "ReportingError"
	default:
		return "UnclassifiedError"
	}
}

// NewError creates a new merry/blunder.FsError-annotated error using the given
// format string and arguments.
func NewError(errValue FsError, format string, a ...interface{}) error {
	return merry.WrapSkipping(fmt.Errorf(format, a...), 1).WithValue(errnoKey, int(errValue))
}

// NewKindError creates a new error annotated with both an ErrorKind and an FsError.
func NewKindError(kind ErrorKind, errValue FsError, format string, a ...interface{}) error {
	return merry.WrapSkipping(fmt.Errorf(format, a...), 1).WithValue(errnoKey, int(errValue)).WithValue(kindKey, kind)
}

// AddError is used to add FS error detail to a Go error.
//
// An errno already present is replaced.
func AddError(e error, errValue FsError) error {
	if nil == e {
		return merry.New("regular error").WithValue(errnoKey, int(errValue))
	}

	return merry.WrapSkipping(e, 1).WithValue(errnoKey, int(errValue))
}

// AddKind classifies e. Any errno already attached is preserved; an error
// lacking one is given IOError.
func AddKind(e error, kind ErrorKind) error {
	if nil == e {
		return merry.New("unclassified error").WithValue(errnoKey, int(IOError)).WithValue(kindKey, kind)
	}

	wrapped := merry.WrapSkipping(e, 1).WithValue(kindKey, kind)
	if !hasErrnoValue(e) {
		if errno, ok := e.(unix.Errno); ok {
			wrapped = wrapped.WithValue(errnoKey, int(errno))
		} else {
			wrapped = wrapped.WithValue(errnoKey, int(IOError))
		}
	}

	return wrapped
}

func hasErrnoValue(e error) bool {
	return nil != merry.Value(e, errnoKey)
}

// Errno extracts errno from the error, if it was previously wrapped.
// Otherwise a default value is returned.
func Errno(e error) int {
	if nil == e {
		return successErrno
	}

	errno := failureErrno
	tmp := merry.Value(e, errnoKey)
	if nil != tmp {
		errno = tmp.(int)
	}

	return errno
}

// Kind extracts the ErrorKind from the error, if one was attached.
func Kind(e error) ErrorKind {
	if nil == e {
		return UnclassifiedError
	}

	tmp := merry.Value(e, kindKey)
	if nil == tmp {
		return UnclassifiedError
	}

	return tmp.(ErrorKind)
}

// ErrorString returns the error text followed by its errno value, if set.
func ErrorString(e error) string {
	if nil == e {
		return ""
	}

	errPlusVal := e.Error()

	tmp := merry.Value(e, errnoKey)
	if nil != tmp {
		errPlusVal = fmt.Sprintf("%s. Error Value: %v", errPlusVal, tmp.(int))
	}

	return errPlusVal
}

// Is checks if an error matches a particular FsError
//
// NOTE: Because the value of the underlying errno is used to do this check, one cannot
//       use this API to distinguish between FsErrors that use the same errno value.
func Is(e error, theError FsError) bool {
	return Errno(e) == theError.Value()
}

// IsNot checks if an error is NOT a particular FsError
func IsNot(e error, theError FsError) bool {
	return Errno(e) != theError.Value()
}

// IsSuccess checks if an error is the success FsError
func IsSuccess(e error) bool {
	return Errno(e) == successErrno
}

// IsKind checks if an error was classified as kind
func IsKind(e error, kind ErrorKind) bool {
	return Kind(e) == kind
}

// Details returns the error message, values, and stacktrace of e.
func Details(e error) string {
	return merry.Details(e)
}

// Stacktrace returns the stacktrace captured when e was created or wrapped.
func Stacktrace(e error) string {
	return merry.Stacktrace(e)
}
