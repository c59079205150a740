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

// Extents were introduced in ext4 and provide huge performance gains in terms
// data locality and reduced metadata block usage. Extents are organized in
// extent trees. The root node is contained in inode.BlocksRaw.
//
// Terminology:
//   - Physical Block:
//     Filesystem data block which is addressed normally wrt the entire
//     filesystem (addressed with 48 bits).
//
//   - File Block:
//     Data block containing *only* file data and addressed wrt to the file
//     with only 32 bits. The (i)th file block contains file data from
//     byte (i * sb.BlockSize()) to ((i+1) * sb.BlockSize()).

const (
	// ExtentHeaderSize is the size of the header of an extent tree node.
	ExtentHeaderSize = 12

	// ExtentEntrySize is the size of an entry in an extent tree node.
	// This size is the same for both leaf and internal nodes.
	ExtentEntrySize = 12

	// ExtentMagic is the magic number which must be present in the header.
	ExtentMagic = 0xf30a

	// MaxRootExtentEntries is the capacity of the root node in i_block:
	// 60 bytes = 1 header + 4 entries.
	MaxRootExtentEntries = (InodeBlockAreaSize - ExtentHeaderSize) / ExtentEntrySize

	// MaxExtentDepth is the deepest tree the kernel will build.
	MaxExtentDepth = 5

	// InitMaxLen is the longest initialized extent. Lengths above it mark
	// uninitialized extents of length (Length - InitMaxLen).
	InitMaxLen = 1 << 15
)

// ExtentHeader emulates the ext4_extent_header struct in ext4. Each extent
// tree node begins with this and is followed by `NumEntries` number of:
//   - Extent if `Depth` == 0
//   - ExtentIdx otherwise
type ExtentHeader struct {
	// Magic in the extent magic number, must be 0xf30a.
	Magic uint16

	// NumEntries indicates the number of valid entries following the header.
	NumEntries uint16

	// MaxEntries that could follow the header. Used while adding entries.
	MaxEntries uint16

	// Depth indicates this node's distance from the leaves. Leaf nodes
	// have depth 0.
	Depth uint16

	// Generation is the tree generation, unused by ext4.
	Generation uint32
}

// ExtentIdx emulates the ext4_extent_idx struct in ext4. Only present in
// internal nodes. Sorted in ascending order based on FirstFileBlock since
// Linux does a binary search on this. This points to a block containing the
// child node.
type ExtentIdx struct {
	FirstFileBlock uint32
	ChildBlockLo   uint32
	ChildBlockHi   uint16
	_              uint16
}

// ChildBlock returns the physical block holding the child node.
func (ei *ExtentIdx) ChildBlock() uint64 {
	return uint64(ei.ChildBlockHi)<<32 | uint64(ei.ChildBlockLo)
}

// Extent represents the ext4_extent struct in ext4. Only present in leaf
// nodes. Sorted in ascending order based on FirstFileBlock since Linux does a
// binary search on this. This points to an array of data blocks containing
// the file data. It covers `Length` data blocks starting from
// `StartBlock`.
type Extent struct {
	FirstFileBlock uint32
	LengthRaw      uint16
	StartBlockHi   uint16
	StartBlockLo   uint32
}

// StartBlock returns the first physical block of the run.
func (e *Extent) StartBlock() uint64 {
	return uint64(e.StartBlockHi)<<32 | uint64(e.StartBlockLo)
}

// Length returns the number of blocks covered, for initialized and
// uninitialized extents alike.
func (e *Extent) Length() uint32 {
	if e.LengthRaw > InitMaxLen {
		return uint32(e.LengthRaw) - InitMaxLen
	}
	return uint32(e.LengthRaw)
}

// Contains reports whether file block blk falls inside the extent.
func (e *Extent) Contains(blk uint32) bool {
	return blk >= e.FirstFileBlock && uint64(blk) < uint64(e.FirstFileBlock)+uint64(e.Length())
}

// DecodeExtentHeader decodes the header at the start of a tree node.
func DecodeExtentHeader(buf []byte) (ExtentHeader, error) {
	var h ExtentHeader
	err := decode(buf, &h)
	return h, err
}

// DecodeExtents decodes n leaf entries following the header in node.
func DecodeExtents(node []byte, n uint16) ([]Extent, error) {
	es := make([]Extent, n)
	for i := range es {
		if err := decode(node[ExtentHeaderSize+i*ExtentEntrySize:], &es[i]); err != nil {
			return nil, err
		}
	}
	return es, nil
}

// DecodeExtentIdxs decodes n index entries following the header in node.
func DecodeExtentIdxs(node []byte, n uint16) ([]ExtentIdx, error) {
	idxs := make([]ExtentIdx, n)
	for i := range idxs {
		if err := decode(node[ExtentHeaderSize+i*ExtentEntrySize:], &idxs[i]); err != nil {
			return nil, err
		}
	}
	return idxs, nil
}
