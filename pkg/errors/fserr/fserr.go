// Copyright 2021 The gVisor Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package fserr contains the error classes returned by the extfs driver,
// exported as error interface pointers. This allows for fast comparison and
// return operations comparable to unix.Errno constants.
//
// Callers add context with fmt.Errorf("...: %w", fserr.X) and classify with
// errors.Is.
package fserr

import (
	goerrors "errors"

	"golang.org/x/sys/unix"
	"gvisor.dev/extfs/pkg/errors"
)

var (
	// NotFound is returned when a name or path is absent.
	NotFound = errors.New(unix.ENOENT, "not found")

	// InvalidParameter is returned for malformed paths, ".." past the root,
	// and bad open modes or attributes.
	InvalidParameter = errors.New(unix.EINVAL, "invalid parameter")

	// OutOfRange is returned when a file offset lies beyond what the block
	// map can address.
	OutOfRange = errors.New(unix.EFBIG, "offset out of range")

	// Unsupported is returned for operations that are not meaningful for the
	// object, and for on-disk features the driver does not implement.
	Unsupported = errors.New(unix.EOPNOTSUPP, "unsupported")

	// VolumeCorrupted is returned when an on-disk structural invariant does
	// not hold.
	VolumeCorrupted = errors.New(unix.EUCLEAN, "volume corrupted")

	// IoError is returned when the device fails or returns short data.
	IoError = errors.New(unix.EIO, "I/O error")

	// OutOfMemory is returned when a buffer sized from disk data cannot be
	// allocated.
	OutOfMemory = errors.New(unix.ENOMEM, "out of memory")

	// WriteProtected is returned for any attempt to mutate the volume.
	WriteProtected = errors.New(unix.EROFS, "write protected")

	// DeleteFailed is returned by delete, which never succeeds.
	DeleteFailed = errors.New(unix.EPERM, "delete failed")

	// Busy is returned by try-lock variants when the volume is in use.
	Busy = errors.New(unix.EBUSY, "volume busy")
)

var all = []*errors.Error{
	NotFound,
	InvalidParameter,
	OutOfRange,
	Unsupported,
	VolumeCorrupted,
	IoError,
	OutOfMemory,
	WriteProtected,
	DeleteFailed,
	Busy,
}

// Classify returns the error class wrapped by err, or nil if err carries
// none.
func Classify(err error) *errors.Error {
	var e *errors.Error
	if goerrors.As(err, &e) {
		return e
	}
	return nil
}

// ToUnix returns the errno a host would report for err. Errors without a
// class translate to EIO.
func ToUnix(err error) unix.Errno {
	if err == nil {
		return 0
	}
	if e := Classify(err); e != nil {
		return e.Errno()
	}
	var errno unix.Errno
	if goerrors.As(err, &errno) {
		return errno
	}
	return unix.EIO
}

// FromUnix returns the error class for a host errno. Errnos without a class
// become IoError.
func FromUnix(errno unix.Errno) *errors.Error {
	for _, e := range all {
		if e.Errno() == errno {
			return e
		}
	}
	return IoError
}
