// Copyright 2026 The gVisor Authors.
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

// Package device provides the raw byte-range readers that back an ext
// volume: image files and block devices, in-memory images, and a retrying
// wrapper for transient failures.
package device

import (
	"context"
	"fmt"
	"io"

	"gvisor.dev/extfs/pkg/errors/fserr"
)

// ContextReaderAt is implemented by devices whose reads can be cancelled.
type ContextReaderAt interface {
	ReadAtContext(ctx context.Context, p []byte, off int64) (int, error)
}

// ReadFull reads exactly len(p) bytes at off from dev. It prefers
// ReadAtContext when dev implements it. A short read is reported as
// fserr.IoError together with the number of bytes read.
func ReadFull(ctx context.Context, dev io.ReaderAt, p []byte, off int64) (int, error) {
	var (
		n   int
		err error
	)
	if cdev, ok := dev.(ContextReaderAt); ok {
		n, err = cdev.ReadAtContext(ctx, p, off)
	} else {
		n, err = dev.ReadAt(p, off)
	}
	if n == len(p) {
		// io.ReaderAt may return io.EOF with a full read at the end of the
		// device.
		return n, nil
	}
	if err == nil || err == io.EOF {
		return n, fmt.Errorf("short read at offset %d: got %d of %d bytes: %w", off, n, len(p), fserr.IoError)
	}
	return n, fmt.Errorf("read at offset %d: %v: %w", off, err, fserr.IoError)
}

// Memory is a device backed by a byte slice.
type Memory []byte

// ReadAt implements io.ReaderAt.ReadAt.
func (m Memory) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 {
		return 0, fserr.InvalidParameter
	}
	if off >= int64(len(m)) {
		return 0, io.EOF
	}
	n := copy(p, m[off:])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

// Size returns the size of the image in bytes.
func (m Memory) Size() (int64, error) {
	return int64(len(m)), nil
}
