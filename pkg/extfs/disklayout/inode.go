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

const (
	// InodeRecordSize is the size of the part of the inode this driver
	// decodes. Larger records only add fields after it.
	InodeRecordSize = 128

	// InodeBlockAreaSize is the size of i_block.
	InodeBlockAreaSize = 60

	// NumDirectBlocks is the number of direct block pointers in i_block.
	NumDirectBlocks = 12

	// NumBlockPointers is the number of pointers in i_block: the direct
	// ones, then single, double and triple indirect.
	NumBlockPointers = 15
)

// File type bits of the inode mode.
const (
	ModeTypeMask = 0xF000
	ModeSocket   = 0xC000
	ModeSymlink  = 0xA000
	ModeRegular  = 0x8000
	ModeBlockDev = 0x6000
	ModeDir      = 0x4000
	ModeCharDev  = 0x2000
	ModeFIFO     = 0x1000
)

// Inode flags this driver inspects.
const (
	InodeFlagIndex      = 0x1000
	InodeFlagExtents    = 0x80000
	InodeFlagInlineData = 0x10000000
)

// Inode emulates the first InodeRecordSize bytes of struct ext4_inode.
//
// All fields representing time are in seconds since the epoch.
type Inode struct {
	ModeRaw             uint16
	UIDLo               uint16
	SizeLo              uint32
	AccessTimeRaw       uint32
	ChangeTimeRaw       uint32
	ModificationTimeRaw uint32
	DeletionTimeRaw     uint32
	GIDLo               uint16
	LinksCountRaw       uint16
	BlocksCountLo       uint32
	FlagsRaw            uint32
	VersionLo           uint32
	DataRaw             [InodeBlockAreaSize]byte
	Generation          uint32
	FileACLLo           uint32
	SizeHi              uint32
	ObsoFaddr           uint32

	// OS dependent fields have been inlined here.
	BlocksCountHi uint16
	FileACLHi     uint16
	UIDHi         uint16
	GIDHi         uint16
	ChecksumLo    uint16
	_             uint16
}

// DecodeInode decodes an inode from the start of an inode table record.
func DecodeInode(buf []byte) (*Inode, error) {
	var in Inode
	if err := decode(buf, &in); err != nil {
		return nil, err
	}
	return &in, nil
}

// FileType returns the file type bits of the mode.
func (in *Inode) FileType() uint16 { return in.ModeRaw & ModeTypeMask }

// IsDir reports whether the mode says directory.
func (in *Inode) IsDir() bool { return in.FileType() == ModeDir }

// UID returns the owner.
func (in *Inode) UID() uint32 {
	return uint32(in.UIDHi)<<16 | uint32(in.UIDLo)
}

// GID returns the group.
func (in *Inode) GID() uint32 {
	return uint32(in.GIDHi)<<16 | uint32(in.GIDLo)
}

// Size returns the file size in bytes. The high word is used for every file
// type; on old ext2 directories it held the directory ACL and is zero in
// practice.
func (in *Inode) Size() uint64 {
	return uint64(in.SizeHi)<<32 | uint64(in.SizeLo)
}

// HasExtents reports whether i_block holds an extent tree.
func (in *Inode) HasExtents() bool { return in.FlagsRaw&InodeFlagExtents != 0 }

// BlockPointers decodes i_block as the classic pointer array.
func (in *Inode) BlockPointers() [NumBlockPointers]uint32 {
	var ptrs [NumBlockPointers]uint32
	if err := decode(in.DataRaw[:], &ptrs); err != nil {
		panic(err) // DataRaw is exactly 60 bytes.
	}
	return ptrs
}
