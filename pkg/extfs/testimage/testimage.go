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

// Package testimage builds small ext images in memory for tests.
//
// The builder lays down the superblock, group descriptors, bitmaps, inode
// tables, block maps with indirect blocks, extent trees and directory
// blocks. It panics on misuse; it is only meant for tests.
package testimage

import (
	"fmt"

	"gvisor.dev/extfs/pkg/binary"
	"gvisor.dev/extfs/pkg/extfs/device"
	"gvisor.dev/extfs/pkg/extfs/disklayout"
)

// firstInode is the first inode number not reserved by the format.
const firstInode = 11

// Options describes the geometry of an image.
type Options struct {
	// BlockSize is the block size in bytes. Defaults to 1024.
	BlockSize uint64

	// Blocks is the total number of blocks. Defaults to 2048.
	Blocks uint64

	// BlocksPerGroup defaults to 1024.
	BlocksPerGroup uint32

	// InodesPerGroup defaults to 64.
	InodesPerGroup uint32

	// InodeSize defaults to 128.
	InodeSize uint16

	// Label is the volume name.
	Label string

	// Is64Bit selects 64 byte group descriptors.
	Is64Bit bool

	// Time is stamped on every inode.
	Time uint32
}

func (o *Options) setDefaults() {
	if o.BlockSize == 0 {
		o.BlockSize = 1024
	}
	if o.Blocks == 0 {
		o.Blocks = 2048
	}
	if o.BlocksPerGroup == 0 {
		o.BlocksPerGroup = 1024
	}
	if o.InodesPerGroup == 0 {
		o.InodesPerGroup = 64
	}
	if o.InodeSize == 0 {
		o.InodeSize = disklayout.OldInodeSize
	}
}

// Builder assembles an image.
type Builder struct {
	opts Options

	img []byte

	firstDataBlock uint64
	groups         uint64
	descSize       uint16

	// Per group metadata locations.
	blockBitmaps []uint64
	inodeBitmaps []uint64
	inodeTables  []uint64

	// used marks allocated blocks.
	used []bool

	// cursor is where block allocation resumes.
	cursor uint64

	// inodes marks allocated inodes, indexed by number.
	inodes []bool

	nextInode uint32

	// usedDirs counts directories per group.
	usedDirs []uint32

	incompat uint32

	dirs []*Dir
	root *Dir

	finished bool
}

// New returns a Builder for an empty volume with a root directory.
func New(opts Options) *Builder {
	opts.setDefaults()
	b := &Builder{
		opts:      opts,
		img:       make([]byte, opts.Blocks*opts.BlockSize),
		used:      make([]bool, opts.Blocks),
		nextInode: firstInode,
		descSize:  disklayout.BlockGroup32Size,
		incompat:  disklayout.IncompatFileType,
	}
	if opts.Is64Bit {
		b.descSize = disklayout.BlockGroup64Size
		b.incompat |= disklayout.Incompat64Bit
	}
	if opts.BlockSize == disklayout.MinBlockSize {
		b.firstDataBlock = 1
	}
	bpg := uint64(opts.BlocksPerGroup)
	b.groups = (opts.Blocks + bpg - 1) / bpg
	b.inodes = make([]bool, b.groups*uint64(opts.InodesPerGroup)+1)
	b.usedDirs = make([]uint32, b.groups)

	// Boot block, superblock and descriptor table.
	gdtBlocks := (b.groups*uint64(b.descSize) + opts.BlockSize - 1) / opts.BlockSize
	for blk := uint64(0); blk <= b.firstDataBlock+gdtBlocks; blk++ {
		b.used[blk] = true
	}
	tableBlocks := (uint64(opts.InodesPerGroup)*uint64(opts.InodeSize) + opts.BlockSize - 1) / opts.BlockSize
	for g := uint64(0); g < b.groups; g++ {
		start := b.firstDataBlock + g*bpg
		if g == 0 {
			start += 1 + gdtBlocks
		}
		b.blockBitmaps = append(b.blockBitmaps, start)
		b.inodeBitmaps = append(b.inodeBitmaps, start+1)
		b.inodeTables = append(b.inodeTables, start+2)
		for blk := start; blk < start+2+tableBlocks; blk++ {
			if blk >= opts.Blocks {
				panic(fmt.Sprintf("group %d metadata does not fit", g))
			}
			b.used[blk] = true
		}
	}
	for ino := 1; ino < firstInode; ino++ {
		b.inodes[ino] = true
	}
	b.root = b.newDir(disklayout.RootInode, disklayout.RootInode)
	return b
}

// BlockSize returns the block size.
func (b *Builder) BlockSize() uint64 {
	return b.opts.BlockSize
}

// Groups returns the number of block groups.
func (b *Builder) Groups() uint64 {
	return b.groups
}

// InodeTable returns the first block of the inode table of group g.
func (b *Builder) InodeTable(g uint64) uint64 {
	return b.inodeTables[g]
}

// Block returns the contents of block blk. Writes go to the image.
func (b *Builder) Block(blk uint64) []byte {
	bs := b.opts.BlockSize
	return b.img[blk*bs : (blk+1)*bs]
}

// AllocRun allocates n contiguous blocks and returns the first one.
func (b *Builder) AllocRun(n uint64) uint64 {
	for start := b.cursor; start+n <= b.opts.Blocks; {
		free := uint64(0)
		for free < n && !b.used[start+free] {
			free++
		}
		if free == n {
			for blk := start; blk < start+n; blk++ {
				b.used[blk] = true
			}
			b.cursor = start + n
			return start
		}
		start += free + 1
	}
	panic(fmt.Sprintf("no run of %d free blocks", n))
}

// AllocBlock allocates one block.
func (b *Builder) AllocBlock() uint64 {
	return b.AllocRun(1)
}

// AllocInode allocates an inode number.
func (b *Builder) AllocInode() uint32 {
	for int(b.nextInode) < len(b.inodes) {
		n := b.nextInode
		b.nextInode++
		if !b.inodes[n] {
			b.inodes[n] = true
			return n
		}
	}
	panic("out of inodes")
}

// inodeOffset returns the byte offset of inode n.
func (b *Builder) inodeOffset(n uint32) uint64 {
	ipg := b.opts.InodesPerGroup
	g := (n - 1) / ipg
	return b.inodeTables[g]*b.opts.BlockSize + uint64((n-1)%ipg)*uint64(b.opts.InodeSize)
}

// PutInode writes inode n.
func (b *Builder) PutInode(n uint32, in *disklayout.Inode) {
	off := b.inodeOffset(n)
	copy(b.img[off:off+disklayout.InodeRecordSize], binary.Marshal(nil, binary.LittleEndian, in))
}

// Inode reads back inode n.
func (b *Builder) Inode(n uint32) *disklayout.Inode {
	off := b.inodeOffset(n)
	in, err := disklayout.DecodeInode(b.img[off:])
	if err != nil {
		panic(err)
	}
	return in
}

// newInode returns an inode with the builder's defaults.
func (b *Builder) newInode(mode uint16, size uint64) *disklayout.Inode {
	return &disklayout.Inode{
		ModeRaw:             mode,
		SizeLo:              uint32(size),
		SizeHi:              uint32(size >> 32),
		AccessTimeRaw:       b.opts.Time,
		ChangeTimeRaw:       b.opts.Time,
		ModificationTimeRaw: b.opts.Time,
		LinksCountRaw:       1,
	}
}

// writeData copies data into freshly allocated blocks and returns them.
func (b *Builder) writeData(data []byte) []uint32 {
	bs := b.opts.BlockSize
	n := (uint64(len(data)) + bs - 1) / bs
	blocks := make([]uint32, 0, n)
	for i := uint64(0); i < n; i++ {
		blk := b.AllocBlock()
		copy(b.Block(blk), data[i*bs:])
		blocks = append(blocks, uint32(blk))
	}
	return blocks
}

// BlockMap builds the 15 pointer block map for the given data blocks,
// allocating indirect blocks as needed.
func (b *Builder) BlockMap(blocks []uint32) [disklayout.NumBlockPointers]uint32 {
	var m [disklayout.NumBlockPointers]uint32
	rest := blocks[copy(m[:disklayout.NumDirectBlocks], blocks):]
	for level := 1; level <= 3 && len(rest) > 0; level++ {
		m[disklayout.NumDirectBlocks+level-1], rest = b.indirect(level, rest)
	}
	if len(rest) != 0 {
		panic(fmt.Sprintf("%d blocks beyond the triple indirect range", len(rest)))
	}
	return m
}

// indirect builds an indirect tree of the given depth over a prefix of
// blocks and returns its root and the blocks left over.
func (b *Builder) indirect(level int, blocks []uint32) (uint32, []uint32) {
	u := int(b.opts.BlockSize / 4)
	blk := b.AllocBlock()
	buf := b.Block(blk)
	for i := 0; i < u && len(blocks) > 0; i++ {
		var ptr uint32
		if level == 1 {
			ptr, blocks = blocks[0], blocks[1:]
		} else {
			ptr, blocks = b.indirect(level-1, blocks)
		}
		binary.LittleEndian.PutUint32(buf[i*4:], ptr)
	}
	return uint32(blk), blocks
}

// setBlockMap stores a block map in in.
func setBlockMap(in *disklayout.Inode, m [disklayout.NumBlockPointers]uint32) {
	copy(in.DataRaw[:], binary.Marshal(nil, binary.LittleEndian, m))
}

// File describes a regular file laid down by the builder.
type File struct {
	Inode uint32

	// Blocks are the data blocks in file order.
	Blocks []uint32

	// Nodes are the extent tree blocks below the root, if any.
	Nodes []uint64
}

// Image finishes the volume and returns its bytes. Further changes to the
// builder are not allowed, but Block still gives access to the image.
func (b *Builder) Image() []byte {
	if !b.finished {
		b.finish()
	}
	return b.img
}

// Device returns the image as a device.
func (b *Builder) Device() device.Memory {
	return device.Memory(b.Image())
}

func (b *Builder) finish() {
	b.finished = true
	// Children first so parents see their final link counts.
	for i := len(b.dirs) - 1; i >= 0; i-- {
		b.dirs[i].write()
	}

	bs := b.opts.BlockSize
	bpg := uint64(b.opts.BlocksPerGroup)
	ipg := uint64(b.opts.InodesPerGroup)
	var (
		table                  []byte
		freeBlocks, freeInodes uint64
	)
	for g := uint64(0); g < b.groups; g++ {
		blockBitmap := b.Block(b.blockBitmaps[g])
		var groupFree uint64
		for i := uint64(0); i < bpg; i++ {
			blk := b.firstDataBlock + g*bpg + i
			if blk >= b.opts.Blocks || b.used[blk] {
				blockBitmap[i/8] |= 1 << (i % 8)
				continue
			}
			groupFree++
		}
		inodeBitmap := b.Block(b.inodeBitmaps[g])
		var groupFreeInodes uint64
		for i := uint64(0); i < ipg; i++ {
			if b.inodes[g*ipg+i+1] {
				inodeBitmap[i/8] |= 1 << (i % 8)
				continue
			}
			groupFreeInodes++
		}
		freeBlocks += groupFree
		freeInodes += groupFreeInodes

		bg := disklayout.BlockGroup64Bit{
			BlockGroup32Bit: disklayout.BlockGroup32Bit{
				BlockBitmapLo:     uint32(b.blockBitmaps[g]),
				InodeBitmapLo:     uint32(b.inodeBitmaps[g]),
				InodeTableLo:      uint32(b.inodeTables[g]),
				FreeBlocksCountLo: uint16(groupFree),
				FreeInodesCountLo: uint16(groupFreeInodes),
				UsedDirsCountLo:   uint16(b.usedDirs[g]),
			},
			FreeBlocksCountHi: uint16(groupFree >> 16),
			FreeInodesCountHi: uint16(groupFreeInodes >> 16),
		}
		if b.opts.Is64Bit {
			table = disklayout.Encode(table, &bg)
		} else {
			table = disklayout.Encode(table, &bg.BlockGroup32Bit)
		}
	}
	copy(b.img[(b.firstDataBlock+1)*bs:], table)

	logBlockSize := uint32(0)
	for disklayout.MinBlockSize<<logBlockSize < bs {
		logBlockSize++
	}
	sb := disklayout.SuperBlock{
		InodesCount:       uint32(b.groups * ipg),
		BlocksCountLo:     uint32(b.opts.Blocks),
		FreeBlocksCountLo: uint32(freeBlocks),
		FreeInodesCount:   uint32(freeInodes),
		FirstDataBlock:    uint32(b.firstDataBlock),
		LogBlockSize:      logBlockSize,
		LogClusterSize:    logBlockSize,
		BlocksPerGroup:    b.opts.BlocksPerGroup,
		ClustersPerGroup:  b.opts.BlocksPerGroup,
		InodesPerGroup:    b.opts.InodesPerGroup,
		Mtime:             b.opts.Time,
		Wtime:             b.opts.Time,
		MaxMountCount:     -1,
		Magic:             disklayout.SuperMagic,
		State:             1,
		RevLevel:          disklayout.DynamicRev,
		FirstInode:        firstInode,
		InodeSizeRaw:      b.opts.InodeSize,
		FeatureIncompat:   b.incompat,
	}
	copy(sb.VolumeName[:], b.opts.Label)
	if b.opts.Is64Bit {
		sb.DescSizeRaw = b.descSize
		sb.BlocksCountHi = uint32(b.opts.Blocks >> 32)
		sb.FreeBlocksCountHi = uint32(freeBlocks >> 32)
	}
	copy(b.img[disklayout.SbOffset:], disklayout.Encode(nil, &sb))
}
