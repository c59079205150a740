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
	"io"
	"math"

	"gvisor.dev/extfs/pkg/errors/fserr"
	"gvisor.dev/extfs/pkg/extfs/disklayout"
	"gvisor.dev/extfs/pkg/log"
)

// OpenMode is the access requested by Open.
type OpenMode uint64

// Open modes. The only valid combinations are ModeRead, ModeRead|ModeWrite
// and ModeRead|ModeWrite|ModeCreate.
const (
	ModeRead   OpenMode = 0x1
	ModeWrite  OpenMode = 0x2
	ModeCreate OpenMode = 0x8000000000000000
)

// valid reports whether m is one of the accepted combinations.
func (m OpenMode) valid() bool {
	switch m {
	case ModeRead, ModeRead | ModeWrite, ModeRead | ModeWrite | ModeCreate:
		return true
	}
	return false
}

// InfoKind selects what Handle.Info reports.
type InfoKind int

// Info kinds.
const (
	// InfoFile selects the FileInfo of the open file.
	InfoFile InfoKind = iota

	// InfoVolume selects the VolumeInfo of the volume.
	InfoVolume

	// InfoVolumeLabel selects the volume label as a string.
	InfoVolumeLabel
)

// String implements fmt.Stringer.String.
func (k InfoKind) String() string {
	switch k {
	case InfoFile:
		return "file"
	case InfoVolume:
		return "volume"
	case InfoVolumeLabel:
		return "volume-label"
	default:
		return fmt.Sprintf("InfoKind(%d)", int(k))
	}
}

// Handle is one open instance of a file. It refers to its OpenFile
// explicitly and carries the cursor: a byte position for files and the
// offset of the next record for directories.
//
// A Handle must not be used concurrently; Handles on the same volume may be.
type Handle struct {
	file *OpenFile
	mode OpenMode
	pos  uint64

	// dirBuf caches the directory data between ReadDir calls. It is
	// dropped on rewind.
	dirBuf []byte
}

// OpenRoot returns a handle on the root directory.
func (v *Volume) OpenRoot() *Handle {
	return &Handle{file: v.root, mode: ModeRead}
}

// File returns the OpenFile behind h.
func (h *Handle) File() *OpenFile {
	return h.file
}

// Open opens name relative to the directory of h.
func (h *Handle) Open(ctx context.Context, name string, mode OpenMode, attr Attribute) (*Handle, error) {
	if err := h.checkOpen(); err != nil {
		return nil, err
	}
	if !mode.valid() {
		return nil, fmt.Errorf("open mode %#x: %w", uint64(mode), fserr.InvalidParameter)
	}
	if mode&ModeCreate != 0 && (attr&^AttrValid != 0 || attr&AttrReadOnly != 0) {
		return nil, fmt.Errorf("create attributes %#x: %w", uint64(attr), fserr.InvalidParameter)
	}
	if !h.file.IsDir() {
		return nil, fmt.Errorf("open relative to %s, not a directory: %w", h.file.Path, fserr.Unsupported)
	}
	if mode&ModeWrite != 0 {
		return nil, fmt.Errorf("open %q for writing: %w", name, fserr.WriteProtected)
	}
	if name == "" {
		return nil, fmt.Errorf("empty name: %w", fserr.InvalidParameter)
	}

	v := h.file.vol
	v.Lock()
	defer v.Unlock()
	f, err := v.Locate(ctx, h.file, name)
	if err != nil {
		log.Debugf("ext: open %q in %s: %v", name, h.file.Path, err)
		return nil, err
	}
	return &Handle{file: f, mode: mode}, nil
}

// Read reads from the cursor and advances it.
//
// For directories each call encodes the next used entry as a FileInfo
// record (see FileInfo.MarshalBinary) and returns 0, io.EOF once all entries
// have been read. If p cannot hold the record, Read fails with
// fserr.InvalidParameter without moving the cursor.
func (h *Handle) Read(ctx context.Context, p []byte) (int, error) {
	if err := h.checkOpen(); err != nil {
		return 0, err
	}
	v := h.file.vol
	v.Lock()
	defer v.Unlock()

	in := &h.file.Inode
	if h.pos > in.Size {
		return 0, fmt.Errorf("position %d past the end of %s: %w", h.pos, h.file.Path, fserr.IoError)
	}

	switch in.FileType() {
	case disklayout.ModeDir:
		fi, next, err := h.nextDirent(ctx)
		if err != nil {
			return 0, err
		}
		if next == 0 {
			return 0, io.EOF
		}
		if need := fi.EncodedSize(); uint64(len(p)) < need {
			return 0, fmt.Errorf("directory record needs %d bytes, have %d: %w", need, len(p), fserr.InvalidParameter)
		}
		rec, err := fi.MarshalBinary()
		if err != nil {
			return 0, err
		}
		h.pos = next
		return copy(p, rec), nil

	case disklayout.ModeRegular, disklayout.ModeSymlink:
		rem := in.Size - h.pos
		if rem == 0 && len(p) > 0 {
			return 0, io.EOF
		}
		if uint64(len(p)) > rem {
			p = p[:rem]
		}
		n, err := h.file.ReadAt(ctx, p, h.pos)
		h.pos += uint64(n)
		return n, err

	default:
		return 0, fmt.Errorf("reading special file %s (mode %#o): %w", h.file.Path, in.Mode, fserr.Unsupported)
	}
}

// ReadDir returns the next used entry of a directory and advances the
// cursor past it. It returns io.EOF at the end of the directory.
func (h *Handle) ReadDir(ctx context.Context) (FileInfo, error) {
	if err := h.checkOpen(); err != nil {
		return FileInfo{}, err
	}
	if !h.file.IsDir() {
		return FileInfo{}, fmt.Errorf("%s is not a directory: %w", h.file.Path, fserr.Unsupported)
	}
	v := h.file.vol
	v.Lock()
	defer v.Unlock()

	fi, next, err := h.nextDirent(ctx)
	if err != nil {
		return FileInfo{}, err
	}
	if next == 0 {
		return FileInfo{}, io.EOF
	}
	h.pos = next
	return fi, nil
}

// nextDirent finds the first used entry at or after the cursor and returns
// its FileInfo and the cursor position after it. Unused slots before it are
// skipped for good. next is 0 at the end of the directory.
//
// Preconditions: the volume lock is held; h is a directory.
func (h *Handle) nextDirent(ctx context.Context) (fi FileInfo, next uint64, err error) {
	if h.dirBuf == nil {
		if h.dirBuf, err = h.file.readDir(ctx); err != nil {
			return FileInfo{}, 0, err
		}
	}
	for {
		d, done, err := h.file.direntAt(h.dirBuf, h.pos)
		if err != nil || done {
			return FileInfo{}, 0, err
		}
		if d.Empty() {
			h.pos += uint64(d.RecordLength)
			continue
		}
		child, err := h.file.Child(ctx, d)
		if err != nil {
			return FileInfo{}, 0, err
		}
		fi, err := child.Info(ctx)
		if err != nil {
			return FileInfo{}, 0, err
		}
		return fi, h.pos + uint64(d.RecordLength), nil
	}
}

// Write always fails: the volume is read-only.
func (h *Handle) Write(p []byte) (int, error) {
	if err := h.checkOpen(); err != nil {
		return 0, err
	}
	return 0, fmt.Errorf("write to %s: %w", h.file.Path, fserr.WriteProtected)
}

// Position returns the byte cursor of a file.
func (h *Handle) Position() (uint64, error) {
	if err := h.checkOpen(); err != nil {
		return 0, err
	}
	if h.file.IsDir() {
		return 0, fmt.Errorf("position of directory %s: %w", h.file.Path, fserr.Unsupported)
	}
	return h.pos, nil
}

// SetPosition moves the cursor. Directories can only be rewound to 0. For
// files, math.MaxUint64 moves to the end of the file. Positions past the end
// are accepted but make the next Read fail.
func (h *Handle) SetPosition(pos uint64) error {
	if err := h.checkOpen(); err != nil {
		return err
	}
	if h.file.IsDir() {
		if pos != 0 {
			return fmt.Errorf("seek directory %s to %d: %w", h.file.Path, pos, fserr.Unsupported)
		}
		h.pos = 0
		h.dirBuf = nil
		return nil
	}
	if pos == math.MaxUint64 {
		pos = h.file.Inode.Size
	}
	h.pos = pos
	return nil
}

// Info returns a FileInfo, VolumeInfo or label string depending on kind.
func (h *Handle) Info(ctx context.Context, kind InfoKind) (any, error) {
	if err := h.checkOpen(); err != nil {
		return nil, err
	}
	v := h.file.vol
	v.Lock()
	defer v.Unlock()
	return h.infoLocked(ctx, kind)
}

// TryInfo is like Info, but fails with fserr.Busy instead of waiting for
// the volume lock.
func (h *Handle) TryInfo(ctx context.Context, kind InfoKind) (any, error) {
	if err := h.checkOpen(); err != nil {
		return nil, err
	}
	v := h.file.vol
	if err := v.TryLock(); err != nil {
		return nil, err
	}
	defer v.Unlock()
	return h.infoLocked(ctx, kind)
}

// Preconditions: the volume lock is held.
func (h *Handle) infoLocked(ctx context.Context, kind InfoKind) (any, error) {
	switch kind {
	case InfoFile:
		return h.file.Info(ctx)
	case InfoVolume:
		return h.file.vol.Info(), nil
	case InfoVolumeLabel:
		return h.file.vol.Label(), nil
	default:
		return nil, fmt.Errorf("info kind %v: %w", kind, fserr.Unsupported)
	}
}

// SetInfo always fails: the volume is read-only.
func (h *Handle) SetInfo(kind InfoKind, info any) error {
	if err := h.checkOpen(); err != nil {
		return err
	}
	return fmt.Errorf("set %v info on %s: %w", kind, h.file.Path, fserr.WriteProtected)
}

// Flush does nothing; there is never anything to write back.
func (h *Handle) Flush() error {
	return h.checkOpen()
}

// Close releases the handle. Closing twice is allowed; every other
// operation on a closed handle fails with fserr.InvalidParameter.
func (h *Handle) Close() error {
	h.file = nil
	h.dirBuf = nil
	return nil
}

func (h *Handle) checkOpen() error {
	if h.file == nil {
		return fmt.Errorf("handle is closed: %w", fserr.InvalidParameter)
	}
	return nil
}

// Delete closes the handle and fails: the volume is read-only.
func (h *Handle) Delete() error {
	if err := h.checkOpen(); err != nil {
		return err
	}
	path := h.file.Path
	h.Close()
	return fmt.Errorf("delete %s: %w", path, fserr.DeleteFailed)
}
