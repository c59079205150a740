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
	"bytes"
)

const (
	// SbOffset is the absolute offset at which the superblock is placed.
	SbOffset = 1024

	// SbSize is the size of the superblock record.
	SbSize = 1024

	// SuperMagic is the ext superblock magic number.
	SuperMagic = 0xEF53

	// OldInodeSize is the inode record size for revision 0 volumes.
	OldInodeSize = 128

	// MinBlockSize is the block size for s_log_block_size == 0.
	MinBlockSize = 1024

	// MaxLogBlockSize bounds s_log_block_size (64KiB blocks).
	MaxLogBlockSize = 6

	// RootInode is the inode number of the root directory.
	RootInode = 2
)

// Revision levels.
const (
	GoodOldRev = 0
	DynamicRev = 1
)

// Incompatible feature flags. A driver that does not understand one of these
// must not mount the volume.
const (
	IncompatCompression = 0x1
	IncompatFileType    = 0x2
	IncompatRecover     = 0x4
	IncompatJournalDev  = 0x8
	IncompatMetaBG      = 0x10
	IncompatExtents     = 0x40
	Incompat64Bit       = 0x80
	IncompatMMP         = 0x100
	IncompatFlexBG      = 0x200
	IncompatEAInode     = 0x400
	IncompatDirData     = 0x1000
	IncompatCsumSeed    = 0x2000
	IncompatLargeDir    = 0x4000
	IncompatInlineData  = 0x8000
	IncompatEncrypt     = 0x10000
	IncompatCasefold    = 0x20000
)

// SuperBlock is the ext2/3/4 superblock, including the 64-bit extension
// fields. It occupies SbSize bytes.
type SuperBlock struct {
	InodesCount          uint32
	BlocksCountLo        uint32
	ReservedBlocksCount  uint32
	FreeBlocksCountLo    uint32
	FreeInodesCount      uint32
	FirstDataBlock       uint32
	LogBlockSize         uint32
	LogClusterSize       uint32
	BlocksPerGroup       uint32
	ClustersPerGroup     uint32
	InodesPerGroup       uint32
	Mtime                uint32
	Wtime                uint32
	MountCount           uint16
	MaxMountCount        int16
	Magic                uint16
	State                uint16
	Errors               uint16
	MinorRevLevel        uint16
	LastCheck            uint32
	CheckInterval        uint32
	CreatorOS            uint32
	RevLevel             uint32
	DefResUID            uint16
	DefResGID            uint16
	FirstInode           uint32
	InodeSizeRaw         uint16
	BlockGroupNumber     uint16
	FeatureCompat        uint32
	FeatureIncompat      uint32
	FeatureRoCompat      uint32
	UUID                 [16]byte
	VolumeName           [16]byte
	LastMounted          [64]byte
	AlgorithmUsageBitmap uint32
	PreallocBlocks       uint8
	PreallocDirBlocks    uint8
	ReservedGdtBlocks    uint16
	JournalUUID          [16]byte
	JournalInum          uint32
	JournalDev           uint32
	LastOrphan           uint32
	HashSeed             [4]uint32
	DefHashVersion       uint8
	JnlBackupType        uint8
	DescSizeRaw          uint16
	DefaultMountOpts     uint32
	FirstMetaBg          uint32
	MkfsTime             uint32
	JnlBlocks            [17]uint32

	BlocksCountHi         uint32
	ReservedBlocksCountHi uint32
	FreeBlocksCountHi     uint32
	MinExtraIsize         uint16
	WantExtraIsize        uint16
	Flags                 uint32

	_ [0x29C]byte
}

// DecodeSuperBlock decodes a superblock from the SbSize bytes read at
// SbOffset.
func DecodeSuperBlock(buf []byte) (*SuperBlock, error) {
	var sb SuperBlock
	if err := decode(buf, &sb); err != nil {
		return nil, err
	}
	return &sb, nil
}

// Is64Bit reports whether the 64-bit feature is enabled.
func (sb *SuperBlock) Is64Bit() bool {
	return sb.FeatureIncompat&Incompat64Bit != 0
}

// BlockSize returns the block size in bytes. Callers validate LogBlockSize
// first.
func (sb *SuperBlock) BlockSize() uint64 {
	return MinBlockSize << sb.LogBlockSize
}

// BlocksCount returns the total number of blocks.
func (sb *SuperBlock) BlocksCount() uint64 {
	if sb.Is64Bit() {
		return uint64(sb.BlocksCountHi)<<32 | uint64(sb.BlocksCountLo)
	}
	return uint64(sb.BlocksCountLo)
}

// FreeBlocksCount returns the superblock's own free block count. Group
// descriptors hold the authoritative per-group counts.
func (sb *SuperBlock) FreeBlocksCount() uint64 {
	if sb.Is64Bit() {
		return uint64(sb.FreeBlocksCountHi)<<32 | uint64(sb.FreeBlocksCountLo)
	}
	return uint64(sb.FreeBlocksCountLo)
}

// InodeSize returns the size of an inode record in the inode table.
func (sb *SuperBlock) InodeSize() uint16 {
	if sb.RevLevel == GoodOldRev {
		return OldInodeSize
	}
	return sb.InodeSizeRaw
}

// DescSize returns the size of a block group descriptor record.
func (sb *SuperBlock) DescSize() uint16 {
	if sb.Is64Bit() && sb.DescSizeRaw >= BlockGroup64Size {
		return sb.DescSizeRaw
	}
	return BlockGroup32Size
}

// Label returns the volume name with trailing NULs removed.
func (sb *SuperBlock) Label() string {
	name := sb.VolumeName[:]
	if i := bytes.IndexByte(name, 0); i >= 0 {
		name = name[:i]
	}
	return string(name)
}

// GroupCount returns ceil(BlocksCount / BlocksPerGroup).
//
// Precondition: BlocksPerGroup != 0.
func (sb *SuperBlock) GroupCount() uint64 {
	bpg := uint64(sb.BlocksPerGroup)
	return (sb.BlocksCount() + bpg - 1) / bpg
}
