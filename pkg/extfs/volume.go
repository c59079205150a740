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
	"sync"

	"gvisor.dev/extfs/pkg/errors/fserr"
	"gvisor.dev/extfs/pkg/extfs/blockcache"
	"gvisor.dev/extfs/pkg/extfs/disklayout"
	"gvisor.dev/extfs/pkg/fspath"
	"gvisor.dev/extfs/pkg/log"
)

// Volume is a mounted ext filesystem.
//
// Geometry and group descriptors are immutable after Mount. Handle
// operations serialize on the volume lock.
type Volume struct {
	// dev is the backing device. Immutable.
	dev io.ReaderAt

	// cache holds metadata blocks. May be nil.
	cache *blockcache.Cache

	// corruption reports on-disk inconsistencies without flooding the log.
	corruption log.Logger

	// sb is the decoded superblock. Immutable.
	sb *disklayout.SuperBlock

	// bgs is the group descriptor table. Immutable.
	bgs []disklayout.BlockGroup

	// Geometry derived from sb. Immutable.
	blockSize      uint64
	blocksCount    uint64
	inodeSize      uint64
	inodesPerGroup uint32

	// mu is the volume lock.
	mu sync.Mutex

	// root is the root directory. It lives as long as the volume.
	root *OpenFile
}

// options configures Mount.
type options struct {
	cache      *blockcache.Cache
	corruption log.Logger
}

// Option configures Mount.
type Option func(*options)

// WithBlockCache makes the volume cache metadata blocks in c.
func WithBlockCache(c *blockcache.Cache) Option {
	return func(o *options) { o.cache = c }
}

// WithCorruptionLogger sets the logger used to report on-disk
// inconsistencies found after mount. It defaults to a rate limited logger.
func WithCorruptionLogger(l log.Logger) Option {
	return func(o *options) { o.corruption = l }
}

// unsupportedIncompat are incompatible features that make the volume
// unreadable by this driver.
var unsupportedIncompat = []struct {
	flag uint32
	name string
}{
	{disklayout.IncompatCompression, "compression"},
	{disklayout.IncompatEncrypt, "encryption"},
}

// warnIncompat are incompatible features that are tolerated with a warning.
// Mount does not refuse them, but files relying on them may fail to read.
var warnIncompat = []struct {
	flag uint32
	name string
}{
	{disklayout.IncompatMetaBG, "meta block groups"},
	{disklayout.IncompatMMP, "multiple mount protection"},
	{disklayout.IncompatInlineData, "inline data"},
	{disklayout.IncompatJournalDev, "external journal device"},
}

// isCompatible checks the incompatible feature set of sb. Only the
// incompatible set matters since the volume is only ever read.
func isCompatible(sb *disklayout.SuperBlock) error {
	for _, f := range unsupportedIncompat {
		if sb.FeatureIncompat&f.flag != 0 {
			log.Warningf("ext: %s is not supported", f.name)
			return fmt.Errorf("feature %s: %w", f.name, fserr.Unsupported)
		}
	}
	for _, f := range warnIncompat {
		if sb.FeatureIncompat&f.flag != 0 {
			log.Warningf("ext: %s is not supported, some files may be unreadable", f.name)
		}
	}
	return nil
}

// maxDescTableSize bounds the descriptor table read at mount.
const maxDescTableSize = 64 << 20

// validate checks the superblock geometry.
func validate(sb *disklayout.SuperBlock) error {
	if sb.Magic != disklayout.SuperMagic {
		return fmt.Errorf("bad superblock magic %#x: %w", sb.Magic, fserr.Unsupported)
	}
	if sb.LogBlockSize > disklayout.MaxLogBlockSize {
		return fmt.Errorf("log block size %d too large: %w", sb.LogBlockSize, fserr.VolumeCorrupted)
	}
	if sb.BlocksPerGroup == 0 || sb.InodesPerGroup == 0 {
		return fmt.Errorf("%d blocks and %d inodes per group: %w", sb.BlocksPerGroup, sb.InodesPerGroup, fserr.VolumeCorrupted)
	}
	// Each group's block and inode bitmaps fit in one block.
	bits := 8 * sb.BlockSize()
	if uint64(sb.BlocksPerGroup) > bits || uint64(sb.InodesPerGroup) > bits {
		return fmt.Errorf("%d blocks and %d inodes per group exceed %d bitmap bits: %w", sb.BlocksPerGroup, sb.InodesPerGroup, bits, fserr.VolumeCorrupted)
	}
	if sb.BlocksCount() == 0 {
		return fmt.Errorf("no blocks: %w", fserr.VolumeCorrupted)
	}
	if sb.BlocksCount() > math.MaxUint64/sb.BlockSize() {
		return fmt.Errorf("%d blocks of %d bytes overflow the volume size: %w", sb.BlocksCount(), sb.BlockSize(), fserr.VolumeCorrupted)
	}
	if ds := sb.DescSize(); sb.Is64Bit() && (ds > disklayout.MaxDescSize || ds&(ds-1) != 0) {
		return fmt.Errorf("descriptor size %d: %w", ds, fserr.VolumeCorrupted)
	}
	is := uint64(sb.InodeSize())
	if is < disklayout.OldInodeSize || is > sb.BlockSize() || is&(is-1) != 0 {
		return fmt.Errorf("inode size %d: %w", is, fserr.VolumeCorrupted)
	}
	return isCompatible(sb)
}

// Mount reads the superblock and group descriptor table from dev and opens
// the root directory.
func Mount(ctx context.Context, dev io.ReaderAt, opts ...Option) (*Volume, error) {
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}
	if o.corruption == nil {
		o.corruption = defaultCorruptionLogger()
	}
	v := &Volume{
		dev:        dev,
		cache:      o.cache,
		corruption: o.corruption,
	}

	buf := make([]byte, disklayout.SbSize)
	if err := v.readFromDisk(ctx, disklayout.SbOffset, buf); err != nil {
		return nil, fmt.Errorf("reading superblock: %w", err)
	}
	sb, err := disklayout.DecodeSuperBlock(buf)
	if err != nil {
		return nil, fmt.Errorf("decoding superblock: %v: %w", err, fserr.VolumeCorrupted)
	}
	if err := validate(sb); err != nil {
		return nil, err
	}
	v.sb = sb
	v.blockSize = sb.BlockSize()
	v.blocksCount = sb.BlocksCount()
	v.inodeSize = uint64(sb.InodeSize())
	v.inodesPerGroup = sb.InodesPerGroup

	// The descriptor table starts in the block after the superblock.
	groups := sb.GroupCount()
	descSize := sb.DescSize()
	if groups > maxDescTableSize/uint64(descSize) {
		return nil, fmt.Errorf("descriptor table for %d groups is too large: %w", groups, fserr.VolumeCorrupted)
	}
	tableOff := (uint64(sb.FirstDataBlock) + 1) * v.blockSize
	tableLen := groups * uint64(descSize)
	if tableOff+tableLen > v.blocksCount*v.blockSize {
		return nil, fmt.Errorf("descriptor table for %d groups runs past the volume: %w", groups, fserr.VolumeCorrupted)
	}
	table := make([]byte, tableLen)
	if err := v.readFromDisk(ctx, tableOff, table); err != nil {
		return nil, fmt.Errorf("reading group descriptors: %w", err)
	}
	v.bgs, err = disklayout.DecodeBlockGroups(table, groups, descSize)
	if err != nil {
		return nil, fmt.Errorf("decoding group descriptors: %v: %w", err, fserr.VolumeCorrupted)
	}

	in, err := v.ReadInode(ctx, disklayout.RootInode)
	if err != nil {
		return nil, fmt.Errorf("reading root inode: %w", err)
	}
	if !in.IsDir() {
		return nil, fmt.Errorf("root inode has mode %#o: %w", in.Mode, fserr.VolumeCorrupted)
	}
	v.root = &OpenFile{
		vol:   v,
		Inode: *in,
		Entry: rootEntry(),
		Path:  fspath.Root,
	}

	log.Infof("Mounted ext volume %q: %d blocks of %d bytes, %d groups, %d inodes", v.Label(), v.blocksCount, v.blockSize, len(v.bgs), sb.InodesCount)
	return v, nil
}

// rootEntry synthesizes the directory entry naming the root.
func rootEntry() DirectoryEntry {
	return DirectoryEntry{
		Inode:        disklayout.RootInode,
		RecordLength: disklayout.DirentHeaderSize + 4,
		NameLength:   1,
		FileType:     disklayout.FileTypeDir,
		Name:         []byte(fspath.Root),
	}
}

// Root returns the root directory. It is owned by the volume and must not
// be modified.
func (v *Volume) Root() *OpenFile {
	return v.root
}

// BlockSize returns the block size in bytes.
func (v *Volume) BlockSize() uint64 {
	return v.blockSize
}

// GroupCount returns the number of block groups.
func (v *Volume) GroupCount() int {
	return len(v.bgs)
}

// Label returns the volume name.
func (v *Volume) Label() string {
	return v.sb.Label()
}

// Lock takes the volume lock.
func (v *Volume) Lock() {
	v.mu.Lock()
}

// TryLock takes the volume lock if it is free and returns fserr.Busy
// otherwise.
func (v *Volume) TryLock() error {
	if !v.mu.TryLock() {
		return fserr.Busy
	}
	return nil
}

// Unlock releases the volume lock.
func (v *Volume) Unlock() {
	v.mu.Unlock()
}

// ReadInode reads inode n from the inode table of its group.
//
// Preconditions: n != 0.
func (v *Volume) ReadInode(ctx context.Context, n uint32) (*InodeRecord, error) {
	if n == 0 {
		panic("inode number 0 on ext filesystems is not possible")
	}
	if n > v.sb.InodesCount {
		return nil, v.corrupted("inode %d beyond the %d inodes of the volume", n, v.sb.InodesCount)
	}
	group := (n - 1) / v.inodesPerGroup
	index := (n - 1) % v.inodesPerGroup
	if int(group) >= len(v.bgs) {
		return nil, v.corrupted("inode %d in group %d of %d", n, group, len(v.bgs))
	}
	off := v.bgs[group].InodeTable()*v.blockSize + uint64(index)*v.inodeSize

	buf := make([]byte, disklayout.InodeRecordSize)
	if err := v.readFromDisk(ctx, off, buf); err != nil {
		return nil, fmt.Errorf("reading inode %d: %w", n, err)
	}
	disk, err := disklayout.DecodeInode(buf)
	if err != nil {
		return nil, fmt.Errorf("decoding inode %d: %v: %w", n, err, fserr.VolumeCorrupted)
	}
	in, err := newInodeRecord(n, disk)
	if err != nil {
		return nil, v.corrupted("inode %d: %v", n, err)
	}
	return in, nil
}
