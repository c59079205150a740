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
	"bytes"
	"context"
	"fmt"

	"gvisor.dev/extfs/pkg/errors/fserr"
	"gvisor.dev/extfs/pkg/extfs/disklayout"
)

// maxDirSize bounds the directory data read into memory at once.
const maxDirSize = 256 << 20

// DirectoryEntry is a decoded directory record.
type DirectoryEntry struct {
	Inode        uint32
	RecordLength uint16
	NameLength   uint8
	FileType     uint8
	Name         []byte
}

// Empty reports whether the record is an unused slot.
func (d *DirectoryEntry) Empty() bool {
	return d.Inode == 0
}

func (d *DirectoryEntry) clone() DirectoryEntry {
	c := *d
	c.Name = append([]byte(nil), d.Name...)
	return c
}

// readDir reads the whole directory into memory.
func (f *OpenFile) readDir(ctx context.Context) ([]byte, error) {
	if !f.IsDir() {
		return nil, fmt.Errorf("%s is not a directory: %w", f.Path, fserr.Unsupported)
	}
	if f.Inode.Size > maxDirSize {
		return nil, fmt.Errorf("%s: directory of %d bytes: %w", f.Path, f.Inode.Size, fserr.OutOfMemory)
	}
	buf := make([]byte, f.Inode.Size)
	if _, err := f.ReadAt(ctx, buf, 0); err != nil {
		return nil, fmt.Errorf("reading directory %s: %w", f.Path, err)
	}
	return buf, nil
}

// direntAt decodes the record at off in the directory data buf. done is set
// once the records are exhausted: at the end of buf or at a zero record
// length.
func (f *OpenFile) direntAt(buf []byte, off uint64) (d DirectoryEntry, done bool, err error) {
	if off >= uint64(len(buf)) {
		return d, true, nil
	}
	raw, err := disklayout.DecodeDirent(buf[off:])
	if err != nil {
		return d, false, f.vol.corrupted("directory %s, offset %d: %v", f.Path, off, err)
	}
	if raw.RecordLength == 0 {
		return d, true, nil
	}
	return DirectoryEntry{
		Inode:        raw.InodeNumber,
		RecordLength: raw.RecordLength,
		NameLength:   raw.NameLength,
		FileType:     raw.FileType,
		Name:         raw.Name,
	}, false, nil
}

// scan calls fn for every record in the directory data buf, in order, until
// fn returns false.
func (f *OpenFile) scan(buf []byte, fn func(d *DirectoryEntry) bool) error {
	for off := uint64(0); ; {
		d, done, err := f.direntAt(buf, off)
		if err != nil || done {
			return err
		}
		if !fn(&d) {
			return nil
		}
		off += uint64(d.RecordLength)
	}
}

// FindEntry scans the directory for name. Names match exactly, byte for
// byte. Unused slots never match.
func (f *OpenFile) FindEntry(ctx context.Context, name []byte) (DirectoryEntry, error) {
	buf, err := f.readDir(ctx)
	if err != nil {
		return DirectoryEntry{}, err
	}
	var (
		found DirectoryEntry
		ok    bool
	)
	err = f.scan(buf, func(d *DirectoryEntry) bool {
		if d.Empty() || int(d.NameLength) != len(name) || !bytes.Equal(d.Name, name) {
			return true
		}
		found, ok = d.clone(), true
		return false
	})
	if err != nil {
		return DirectoryEntry{}, err
	}
	if !ok {
		return DirectoryEntry{}, fmt.Errorf("%q in %s: %w", name, f.Path, fserr.NotFound)
	}
	return found, nil
}

// Entries returns every record of the directory in on-disk order, including
// unused slots.
func (f *OpenFile) Entries(ctx context.Context) ([]DirectoryEntry, error) {
	buf, err := f.readDir(ctx)
	if err != nil {
		return nil, err
	}
	var ents []DirectoryEntry
	err = f.scan(buf, func(d *DirectoryEntry) bool {
		ents = append(ents, *d)
		return true
	})
	return ents, err
}

// Child materializes the OpenFile named by the entry d of directory f.
func (f *OpenFile) Child(ctx context.Context, d DirectoryEntry) (*OpenFile, error) {
	if d.Empty() {
		return nil, fmt.Errorf("unused directory slot in %s: %w", f.Path, fserr.InvalidParameter)
	}
	path, err := childPath(f.Path, string(d.Name))
	if err != nil {
		return nil, f.vol.corrupted("entry in %s: %v", f.Path, err)
	}
	in, err := f.vol.ReadInode(ctx, d.Inode)
	if err != nil {
		return nil, err
	}
	return &OpenFile{
		vol:   f.vol,
		Inode: *in,
		Entry: d.clone(),
		Path:  path,
	}, nil
}
