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

package testimage

import (
	"gvisor.dev/extfs/pkg/extfs/disklayout"
)

// ExtentOptions controls how a file's extents and tree are laid out.
type ExtentOptions struct {
	// Run is the number of blocks per extent. Consecutive extents are
	// separated by an unused block so they cannot be merged. Zero puts all
	// the data in one extent.
	Run int

	// Fanout is the number of entries per non-root node. Zero uses the
	// capacity of a block.
	Fanout int

	// Uninitialized marks every extent as uninitialized.
	Uninitialized bool
}

// extentFile lays down data and an extent tree describing it.
func (b *Builder) extentFile(data []byte, opts ExtentOptions) File {
	bs := b.opts.BlockSize
	nblocks := int((uint64(len(data)) + bs - 1) / bs)
	run := opts.Run
	if run <= 0 || run > nblocks {
		run = nblocks
	}

	f := File{Inode: b.AllocInode()}
	var exts []disklayout.Extent
	for first := 0; first < nblocks; first += run {
		n := run
		if first+n > nblocks {
			n = nblocks - first
		}
		start := b.AllocRun(uint64(n))
		for i := 0; i < n; i++ {
			blk := start + uint64(i)
			copy(b.Block(blk), data[uint64(first+i)*bs:])
			f.Blocks = append(f.Blocks, uint32(blk))
		}
		length := uint16(n)
		if opts.Uninitialized {
			length += disklayout.InitMaxLen
		}
		exts = append(exts, disklayout.Extent{
			FirstFileBlock: uint32(first),
			LengthRaw:      length,
			StartBlockHi:   uint16(start >> 32),
			StartBlockLo:   uint32(start),
		})
		// Keep the next extent from being physically contiguous.
		b.AllocBlock()
	}

	in := b.newInode(disklayout.ModeRegular|0644, uint64(len(data)))
	in.FlagsRaw |= disklayout.InodeFlagExtents
	var root []byte
	root, f.Nodes = b.ExtentTree(exts, opts.Fanout)
	copy(in.DataRaw[:], root)
	b.PutInode(f.Inode, in)
	b.incompat |= disklayout.IncompatExtents
	return f
}

// ExtentTree writes the non-root nodes of an extent tree over exts and
// returns the encoded root node and the blocks of the other nodes, bottom
// level first.
func (b *Builder) ExtentTree(exts []disklayout.Extent, fanout int) ([]byte, []uint64) {
	capacity := int(b.opts.BlockSize/disklayout.ExtentEntrySize - 1)
	if fanout <= 1 || fanout > capacity {
		fanout = capacity
	}

	type item struct {
		first uint32
		raw   []byte
	}
	var items []item
	for i := range exts {
		items = append(items, item{first: exts[i].FirstFileBlock, raw: disklayout.Encode(nil, &exts[i])})
	}

	var (
		nodes []uint64
		depth uint16
	)
	for len(items) > disklayout.MaxRootExtentEntries {
		var next []item
		for i := 0; i < len(items); i += fanout {
			chunk := items[i:min(i+fanout, len(items))]
			blk := b.AllocBlock()
			node := disklayout.Encode(nil, &disklayout.ExtentHeader{
				Magic:      disklayout.ExtentMagic,
				NumEntries: uint16(len(chunk)),
				MaxEntries: uint16(capacity),
				Depth:      depth,
			})
			for _, it := range chunk {
				node = append(node, it.raw...)
			}
			copy(b.Block(blk), node)
			nodes = append(nodes, blk)
			next = append(next, item{
				first: chunk[0].first,
				raw: disklayout.Encode(nil, &disklayout.ExtentIdx{
					FirstFileBlock: chunk[0].first,
					ChildBlockLo:   uint32(blk),
					ChildBlockHi:   uint16(blk >> 32),
				}),
			})
		}
		items = next
		depth++
	}

	root := disklayout.Encode(nil, &disklayout.ExtentHeader{
		Magic:      disklayout.ExtentMagic,
		NumEntries: uint16(len(items)),
		MaxEntries: disklayout.MaxRootExtentEntries,
		Depth:      depth,
	})
	for _, it := range items {
		root = append(root, it.raw...)
	}
	return root, nodes
}
