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
	"math"
	"sort"

	"gvisor.dev/extfs/pkg/binary"
	"gvisor.dev/extfs/pkg/errors/fserr"
	"gvisor.dev/extfs/pkg/extfs/disklayout"
)

// PhysicalLocation is where a byte of file data lives on the device.
type PhysicalLocation struct {
	// Block is the physical block number.
	Block uint64

	// Offset is the byte offset within Block.
	Offset uint64

	// Run is the number of bytes from Offset to the end of Block.
	Run uint64

	// BlockSize is the block size of the volume.
	BlockSize uint64
}

// ByteOffset returns the absolute device offset of the location.
func (l PhysicalLocation) ByteOffset() uint64 {
	return l.Block*l.BlockSize + l.Offset
}

// Resolve maps the file offset pos to its physical location.
func (f *OpenFile) Resolve(ctx context.Context, pos uint64) (PhysicalLocation, error) {
	v := f.vol
	lb := pos / v.blockSize

	var (
		blk uint64
		err error
	)
	switch m := f.Inode.Mapping.(type) {
	case DirectMapping:
		blk, err = v.resolveIndirect(ctx, &m.Blocks, lb)
	case ExtentMapping:
		blk, err = v.resolveExtent(ctx, &m.Root, lb)
	case InlineMapping:
		err = fmt.Errorf("inode %d keeps its data inline: %w", f.Inode.Number, fserr.Unsupported)
	default:
		panic(fmt.Sprintf("unknown block mapping %T", m))
	}
	if err != nil {
		return PhysicalLocation{}, err
	}

	off := pos % v.blockSize
	return PhysicalLocation{
		Block:     blk,
		Offset:    off,
		Run:       v.blockSize - off,
		BlockSize: v.blockSize,
	}, nil
}

// resolveIndirect walks the classic block map to find logical block lb.
func (v *Volume) resolveIndirect(ctx context.Context, blocks *[disklayout.NumBlockPointers]uint32, lb uint64) (uint64, error) {
	// u is the number of pointers in an indirect block.
	u := v.blockSize / 4

	var (
		root uint32
		path []uint64
	)
	switch rel := lb; {
	case rel < disklayout.NumDirectBlocks:
		if blocks[rel] == 0 {
			return 0, v.corrupted("direct pointer %d is zero", rel)
		}
		return uint64(blocks[rel]), nil
	case rel-disklayout.NumDirectBlocks < u:
		rel -= disklayout.NumDirectBlocks
		root = blocks[disklayout.NumDirectBlocks]
		path = []uint64{rel}
	case rel-disklayout.NumDirectBlocks-u < u*u:
		rel -= disklayout.NumDirectBlocks + u
		root = blocks[disklayout.NumDirectBlocks+1]
		path = []uint64{rel / u, rel % u}
	case rel-disklayout.NumDirectBlocks-u-u*u < u*u*u:
		rel -= disklayout.NumDirectBlocks + u + u*u
		root = blocks[disklayout.NumDirectBlocks+2]
		path = []uint64{rel / (u * u), (rel / u) % u, rel % u}
	default:
		return 0, fmt.Errorf("logical block %d beyond the triple indirect range: %w", lb, fserr.OutOfRange)
	}

	if root == 0 {
		return 0, v.corrupted("level %d indirect pointer for block %d is zero", len(path), lb)
	}
	blk := uint64(root)
	for depth, idx := range path {
		// Every level reads into its own buffer.
		buf := make([]byte, v.blockSize)
		if err := v.readBlock(ctx, blk, buf); err != nil {
			return 0, err
		}
		ptr := binary.LittleEndian.Uint32(buf[idx*4:])
		if ptr == 0 {
			return 0, v.corrupted("zero pointer at depth %d (index %d of block %d) for block %d", depth+1, idx, blk, lb)
		}
		blk = uint64(ptr)
	}
	return blk, nil
}

// resolveExtent walks the extent tree rooted at root to find logical block
// lb.
func (v *Volume) resolveExtent(ctx context.Context, root *ExtentNode, lb uint64) (uint64, error) {
	if lb > math.MaxUint32 {
		return 0, fmt.Errorf("logical block %d beyond the extent range: %w", lb, fserr.OutOfRange)
	}
	target := uint32(lb)
	capacity := uint16(v.blockSize/disklayout.ExtentEntrySize - 1)

	node := root
	for {
		if node.Header.Depth == 0 {
			for i := range node.Leaves {
				e := &node.Leaves[i]
				if !e.Contains(target) {
					continue
				}
				// Block 0 holds the boot record and superblock, never data.
				if start := e.StartBlock(); start == 0 || start+uint64(e.Length()) > v.blocksCount {
					return 0, v.corrupted("extent for block %d maps %d blocks at %d, volume has %d", lb, e.Length(), start, v.blocksCount)
				}
				return e.StartBlock() + uint64(target-e.FirstFileBlock), nil
			}
			return 0, v.corrupted("no extent maps block %d", lb)
		}

		// Find the last index whose first block is at or before target.
		found := sort.Search(len(node.Indexes), func(i int) bool {
			return node.Indexes[i].FirstFileBlock > target
		}) - 1
		if found < 0 {
			return 0, v.corrupted("no extent index covers block %d", lb)
		}
		child := node.Indexes[found].ChildBlock()
		if child == 0 {
			return 0, v.corrupted("extent index for block %d points at block 0", lb)
		}

		buf := make([]byte, v.blockSize)
		if err := v.readBlock(ctx, child, buf); err != nil {
			return 0, err
		}
		next, err := decodeExtentNode(buf, capacity)
		if err != nil {
			return 0, v.corrupted("extent node in block %d: %v", child, err)
		}
		if next.Header.Depth >= node.Header.Depth {
			return 0, v.corrupted("extent node in block %d has depth %d under depth %d", child, next.Header.Depth, node.Header.Depth)
		}
		node = &next
	}
}
