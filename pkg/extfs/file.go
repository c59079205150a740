// Copyright 2019 The gVisor Authors.
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

package extfs

import (
	"context"
	"fmt"

	"gvisor.dev/extfs/pkg/errors/fserr"
	"gvisor.dev/extfs/pkg/extfs/device"
	"gvisor.dev/extfs/pkg/log"
)

// OpenFile is an opened file or directory: a private copy of its inode, the
// directory entry that named it and its canonical absolute path.
//
// Every open produces an independent OpenFile; nothing is shared between
// them except the volume.
type OpenFile struct {
	// vol is the volume the file lives on. Immutable.
	vol *Volume

	// Inode is the decoded inode.
	Inode InodeRecord

	// Entry is the directory entry that named the file.
	Entry DirectoryEntry

	// Path is the canonical absolute path of the file.
	Path string
}

// Volume returns the volume f lives on.
func (f *OpenFile) Volume() *Volume {
	return f.vol
}

// IsDir reports whether f is a directory.
func (f *OpenFile) IsDir() bool {
	return f.Inode.IsDir()
}

// Name returns the name f was opened by.
func (f *OpenFile) Name() string {
	return string(f.Entry.Name)
}

// clone returns an independent copy of f.
func (f *OpenFile) clone() *OpenFile {
	return &OpenFile{
		vol:   f.vol,
		Inode: *f.Inode.Clone(),
		Entry: f.Entry.clone(),
		Path:  f.Path,
	}
}

// ReadAt reads len(p) bytes of file data starting at pos. It returns the
// number of bytes read; on error that count covers what was transferred
// before the failure.
//
// Preconditions: pos+len(p) <= f.Inode.Size.
func (f *OpenFile) ReadAt(ctx context.Context, p []byte, pos uint64) (int, error) {
	size := f.Inode.Size
	if pos > size || uint64(len(p)) > size-pos {
		// Callers clip to the file size, so this is a bug in the caller.
		log.Warningf("ext: read of %d bytes at %d past the %d byte inode %d (%s)", len(p), pos, size, f.Inode.Number, f.Path)
		return 0, fmt.Errorf("internal error: read of %d bytes at %d past the %d byte file: %w", len(p), pos, size, fserr.VolumeCorrupted)
	}

	if m, ok := f.Inode.Mapping.(InlineMapping); ok {
		if pos+uint64(len(p)) > uint64(len(m.Data)) {
			return 0, f.vol.corrupted("inline inode %d has size %d", f.Inode.Number, size)
		}
		return copy(p, m.Data[pos:]), nil
	}

	done := 0
	for done < len(p) {
		loc, err := f.Resolve(ctx, pos)
		if err != nil {
			return done, err
		}
		n := uint64(len(p) - done)
		if n > loc.Run {
			n = loc.Run
		}
		got, err := device.ReadFull(ctx, f.vol.dev, p[done:done+int(n)], int64(loc.ByteOffset()))
		done += got
		if err != nil {
			return done, err
		}
		pos += n
	}
	return done, nil
}
