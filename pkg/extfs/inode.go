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
	"fmt"

	"github.com/mohae/deepcopy"
	"gvisor.dev/extfs/pkg/extfs/disklayout"
)

// InodeRecord is a decoded ext inode. It is owned by a single OpenFile and
// copied with Clone, never shared.
type InodeRecord struct {
	// Number is the inode number on disk.
	Number uint32

	Mode  uint16
	UID   uint32
	GID   uint32
	Size  uint64
	Links uint16
	Flags uint32

	// Times are in seconds since the epoch.
	AccessTime       uint32
	ChangeTime       uint32
	ModificationTime uint32
	DeletionTime     uint32

	// Mapping describes where the file data lives.
	Mapping BlockMapping
}

// BlockMapping is the decoded form of the 60 byte i_block area. It is one of
// DirectMapping, ExtentMapping or InlineMapping.
type BlockMapping interface {
	isBlockMapping()
}

// DirectMapping is the classic block map: 12 direct pointers followed by
// the single, double and triple indirect pointers.
type DirectMapping struct {
	Blocks [disklayout.NumBlockPointers]uint32
}

// ExtentMapping holds the root node of an extent tree.
type ExtentMapping struct {
	Root ExtentNode
}

// InlineMapping holds data stored in i_block itself, as used by fast
// symlinks.
type InlineMapping struct {
	Data [disklayout.InodeBlockAreaSize]byte
}

func (DirectMapping) isBlockMapping() {}
func (ExtentMapping) isBlockMapping() {}
func (InlineMapping) isBlockMapping() {}

// ExtentNode is a decoded extent tree node. Leaves holds the extents of a
// leaf node (depth 0); Indexes holds the children of an internal node.
type ExtentNode struct {
	Header  disklayout.ExtentHeader
	Leaves  []disklayout.Extent
	Indexes []disklayout.ExtentIdx
}

// decodeExtentNode decodes and validates an extent node. capacity is the
// largest entry count a node of this size can hold.
func decodeExtentNode(buf []byte, capacity uint16) (ExtentNode, error) {
	var node ExtentNode
	h, err := disklayout.DecodeExtentHeader(buf)
	if err != nil {
		return node, err
	}
	if h.Magic != disklayout.ExtentMagic {
		return node, fmt.Errorf("extent header magic %#x", h.Magic)
	}
	if h.MaxEntries > capacity {
		return node, fmt.Errorf("extent node claims %d slots, fits %d", h.MaxEntries, capacity)
	}
	if h.NumEntries > h.MaxEntries {
		return node, fmt.Errorf("extent node has %d entries, max %d", h.NumEntries, h.MaxEntries)
	}
	if h.Depth > disklayout.MaxExtentDepth {
		return node, fmt.Errorf("extent node depth %d", h.Depth)
	}
	node.Header = h
	if h.Depth == 0 {
		node.Leaves, err = disklayout.DecodeExtents(buf, h.NumEntries)
	} else {
		node.Indexes, err = disklayout.DecodeExtentIdxs(buf, h.NumEntries)
	}
	return node, err
}

// fastSymlink reports whether the symlink target of disk is stored in
// i_block.
func fastSymlink(disk *disklayout.Inode) bool {
	return disk.FileType() == disklayout.ModeSymlink &&
		!disk.HasExtents() &&
		disk.Size() < disklayout.InodeBlockAreaSize
}

// newInodeRecord decodes the block area of disk according to its flags.
func newInodeRecord(n uint32, disk *disklayout.Inode) (*InodeRecord, error) {
	in := &InodeRecord{
		Number:           n,
		Mode:             disk.ModeRaw,
		UID:              disk.UID(),
		GID:              disk.GID(),
		Size:             disk.Size(),
		Links:            disk.LinksCountRaw,
		Flags:            disk.FlagsRaw,
		AccessTime:       disk.AccessTimeRaw,
		ChangeTime:       disk.ChangeTimeRaw,
		ModificationTime: disk.ModificationTimeRaw,
		DeletionTime:     disk.DeletionTimeRaw,
	}
	switch {
	case fastSymlink(disk):
		in.Mapping = InlineMapping{Data: disk.DataRaw}
	case disk.HasExtents():
		root, err := decodeExtentNode(disk.DataRaw[:], disklayout.MaxRootExtentEntries)
		if err != nil {
			return nil, fmt.Errorf("extent root: %v", err)
		}
		in.Mapping = ExtentMapping{Root: root}
	default:
		in.Mapping = DirectMapping{Blocks: disk.BlockPointers()}
	}
	return in, nil
}

// FileType returns the type bits of the mode.
func (in *InodeRecord) FileType() uint16 {
	return in.Mode & disklayout.ModeTypeMask
}

// IsDir reports whether the inode is a directory.
func (in *InodeRecord) IsDir() bool {
	return in.FileType() == disklayout.ModeDir
}

// IsSymlink reports whether the inode is a symbolic link.
func (in *InodeRecord) IsSymlink() bool {
	return in.FileType() == disklayout.ModeSymlink
}

// Clone returns a deep copy of in.
func (in *InodeRecord) Clone() *InodeRecord {
	return deepcopy.Copy(in).(*InodeRecord)
}
