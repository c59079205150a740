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

package device

import (
	"fmt"
	"io"
	"os"

	"github.com/gofrs/flock"
	"golang.org/x/sys/unix"
	"gvisor.dev/extfs/pkg/errors/fserr"
	"gvisor.dev/extfs/pkg/log"
)

// File is a device backed by an image file or a block device node.
type File struct {
	f *os.File

	// lock is the shared advisory lock on the path, nil if not taken.
	lock *flock.Flock
}

// Open opens path read-only. If lock is set, a shared advisory lock is taken
// on it; Open fails with fserr.Busy if another process holds an exclusive
// lock, which usually means the image is being written.
func Open(path string, lock bool) (*File, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	d := &File{f: f}
	if lock {
		d.lock = flock.NewFlock(path)
		ok, err := d.lock.TryRLock()
		if err != nil {
			_ = f.Close()
			return nil, fmt.Errorf("locking %q: %w", path, err)
		}
		if !ok {
			_ = f.Close()
			return nil, fmt.Errorf("%q is locked by another process: %w", path, fserr.Busy)
		}
	}
	log.Debugf("Opened device %q, fd %d", path, f.Fd())
	return d, nil
}

// ReadAt implements io.ReaderAt.ReadAt.
func (d *File) ReadAt(p []byte, off int64) (int, error) {
	done := 0
	for done < len(p) {
		n, err := unix.Pread(int(d.f.Fd()), p[done:], off+int64(done))
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return done, err
		}
		if n == 0 {
			return done, io.EOF
		}
		done += n
	}
	return done, nil
}

// Size returns the size of the device in bytes. For block devices the
// kernel is asked directly since stat reports zero.
func (d *File) Size() (int64, error) {
	fi, err := d.f.Stat()
	if err != nil {
		return 0, err
	}
	if fi.Mode()&os.ModeDevice == 0 {
		return fi.Size(), nil
	}
	size, err := unix.IoctlGetInt(int(d.f.Fd()), unix.BLKGETSIZE64)
	if err != nil {
		return 0, fmt.Errorf("BLKGETSIZE64 on %q: %w", d.f.Name(), err)
	}
	return int64(size), nil
}

// Name returns the path the device was opened with.
func (d *File) Name() string {
	return d.f.Name()
}

// Close releases the lock and closes the file.
func (d *File) Close() error {
	if d.lock != nil {
		if err := d.lock.Unlock(); err != nil {
			log.Warningf("Unlocking %q: %v", d.f.Name(), err)
		}
	}
	return d.f.Close()
}
