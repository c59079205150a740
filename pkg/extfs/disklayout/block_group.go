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

package disklayout

import (
	"fmt"
)

const (
	// BlockGroup32Size is the descriptor size without the 64-bit feature.
	BlockGroup32Size = 32

	// BlockGroup64Size is the smallest descriptor size with the 64-bit
	// feature.
	BlockGroup64Size = 64

	// MaxDescSize is the largest descriptor size with the 64-bit feature.
	MaxDescSize = 1024
)

// BlockGroup represents a block group descriptor.
//
// The descriptor table is read-only after mount, so there are no setters.
type BlockGroup interface {
	// BlockBitmap returns the block number of the block bitmap.
	BlockBitmap() uint64

	// InodeBitmap returns the block number of the inode bitmap.
	InodeBitmap() uint64

	// InodeTable returns the first block of the inode table.
	InodeTable() uint64

	// FreeBlocksCount returns the number of free blocks in the group.
	FreeBlocksCount() uint32

	// FreeInodesCount returns the number of free inodes in the group.
	FreeInodesCount() uint32

	// UsedDirsCount returns the number of directories in the group.
	UsedDirsCount() uint32
}

// BlockGroup32Bit emulates the first half of struct ext4_group_desc in
// linux kernel. It is the full descriptor on volumes without the 64-bit
// feature.
type BlockGroup32Bit struct {
	BlockBitmapLo         uint32
	InodeBitmapLo         uint32
	InodeTableLo          uint32
	FreeBlocksCountLo     uint16
	FreeInodesCountLo     uint16
	UsedDirsCountLo       uint16
	FlagsRaw              uint16
	ExcludeBitmapLo       uint32
	BlockBitmapChecksumLo uint16
	InodeBitmapChecksumLo uint16
	ItableUnusedLo        uint16
	Checksum              uint16
}

// BlockGroup64Bit emulates struct ext4_group_desc.
type BlockGroup64Bit struct {
	BlockGroup32Bit
	BlockBitmapHi         uint32
	InodeBitmapHi         uint32
	InodeTableHi          uint32
	FreeBlocksCountHi     uint16
	FreeInodesCountHi     uint16
	UsedDirsCountHi       uint16
	ItableUnusedHi        uint16
	ExcludeBitmapHi       uint32
	BlockBitmapChecksumHi uint16
	InodeBitmapChecksumHi uint16
	_                     uint32
}

// Compiles only if both descriptor layouts implement BlockGroup.
var (
	_ BlockGroup = (*BlockGroup32Bit)(nil)
	_ BlockGroup = (*BlockGroup64Bit)(nil)
)

// BlockBitmap implements BlockGroup.BlockBitmap.
func (bg *BlockGroup32Bit) BlockBitmap() uint64 { return uint64(bg.BlockBitmapLo) }

// InodeBitmap implements BlockGroup.InodeBitmap.
func (bg *BlockGroup32Bit) InodeBitmap() uint64 { return uint64(bg.InodeBitmapLo) }

// InodeTable implements BlockGroup.InodeTable.
func (bg *BlockGroup32Bit) InodeTable() uint64 { return uint64(bg.InodeTableLo) }

// FreeBlocksCount implements BlockGroup.FreeBlocksCount.
func (bg *BlockGroup32Bit) FreeBlocksCount() uint32 { return uint32(bg.FreeBlocksCountLo) }

// FreeInodesCount implements BlockGroup.FreeInodesCount.
func (bg *BlockGroup32Bit) FreeInodesCount() uint32 { return uint32(bg.FreeInodesCountLo) }

// UsedDirsCount implements BlockGroup.UsedDirsCount.
func (bg *BlockGroup32Bit) UsedDirsCount() uint32 { return uint32(bg.UsedDirsCountLo) }

// BlockBitmap implements BlockGroup.BlockBitmap.
func (bg *BlockGroup64Bit) BlockBitmap() uint64 {
	return uint64(bg.BlockBitmapHi)<<32 | uint64(bg.BlockBitmapLo)
}

// InodeBitmap implements BlockGroup.InodeBitmap.
func (bg *BlockGroup64Bit) InodeBitmap() uint64 {
	return uint64(bg.InodeBitmapHi)<<32 | uint64(bg.InodeBitmapLo)
}

// InodeTable implements BlockGroup.InodeTable.
func (bg *BlockGroup64Bit) InodeTable() uint64 {
	return uint64(bg.InodeTableHi)<<32 | uint64(bg.InodeTableLo)
}

// FreeBlocksCount implements BlockGroup.FreeBlocksCount.
func (bg *BlockGroup64Bit) FreeBlocksCount() uint32 {
	return uint32(bg.FreeBlocksCountHi)<<16 | uint32(bg.FreeBlocksCountLo)
}

// FreeInodesCount implements BlockGroup.FreeInodesCount.
func (bg *BlockGroup64Bit) FreeInodesCount() uint32 {
	return uint32(bg.FreeInodesCountHi)<<16 | uint32(bg.FreeInodesCountLo)
}

// UsedDirsCount implements BlockGroup.UsedDirsCount.
func (bg *BlockGroup64Bit) UsedDirsCount() uint32 {
	return uint32(bg.UsedDirsCountHi)<<16 | uint32(bg.UsedDirsCountLo)
}

// DecodeBlockGroups decodes count descriptors of descSize bytes each from
// the start of buf.
func DecodeBlockGroups(buf []byte, count uint64, descSize uint16) ([]BlockGroup, error) {
	if descSize == 0 || count > uint64(len(buf))/uint64(descSize) {
		return nil, fmt.Errorf("descriptor table of %d %d-byte entries does not fit in %d bytes", count, descSize, len(buf))
	}
	bgs := make([]BlockGroup, count)
	for i := range bgs {
		rec := buf[uint64(i)*uint64(descSize):]
		var bg BlockGroup
		if descSize >= BlockGroup64Size {
			bg = &BlockGroup64Bit{}
		} else {
			bg = &BlockGroup32Bit{}
		}
		if err := decode(rec, bg); err != nil {
			return nil, err
		}
		bgs[i] = bg
	}
	return bgs, nil
}
