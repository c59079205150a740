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
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"gvisor.dev/extfs/pkg/binary"
	"gvisor.dev/extfs/pkg/errors/fserr"
	"gvisor.dev/extfs/pkg/extfs/disklayout"
	"gvisor.dev/extfs/pkg/extfs/testimage"
)

// referenceBlock decodes the block map ptrs straight from the image bytes.
func referenceBlock(img []byte, bs uint64, ptrs [disklayout.NumBlockPointers]uint32, lb uint64) uint64 {
	u := bs / 4
	ptrAt := func(blk uint32, idx uint64) uint32 {
		return binary.LittleEndian.Uint32(img[uint64(blk)*bs+idx*4:])
	}
	if lb < 12 {
		return uint64(ptrs[lb])
	}
	lb -= 12
	if lb < u {
		return uint64(ptrAt(ptrs[12], lb))
	}
	lb -= u
	if lb < u*u {
		return uint64(ptrAt(ptrAt(ptrs[13], lb/u), lb%u))
	}
	lb -= u * u
	return uint64(ptrAt(ptrAt(ptrAt(ptrs[14], lb/(u*u)), (lb/u)%u), lb%u))
}

// indirectFixture is a file reaching two blocks into the double indirect
// range of a 1KiB block volume.
func indirectFixture(t *testing.T) (*testimage.Builder, testimage.File, *Volume, *OpenFile) {
	t.Helper()
	const nblocks = 12 + 256 + 2
	b := testimage.New(testimage.Options{})
	f := b.Root().Create("big", pattern(nblocks*1024))
	v := mount(t, b.Device())
	return b, f, v, locate(t, v, "/big")
}

func TestResolveRoundTrip(t *testing.T) {
	b, f, _, of := indirectFixture(t)
	img := b.Image()
	ptrs := of.Inode.Mapping.(DirectMapping).Blocks
	for lb := range f.Blocks {
		loc, err := of.Resolve(context.Background(), uint64(lb)*1024)
		if err != nil {
			t.Fatalf("Resolve(block %d) failed: %v", lb, err)
		}
		want := referenceBlock(img, 1024, ptrs, uint64(lb))
		if loc.Block != want || loc.Block != uint64(f.Blocks[lb]) {
			t.Errorf("Resolve(block %d) = %d, reference %d, fixture %d", lb, loc.Block, want, f.Blocks[lb])
		}
	}
}

func TestResolveLocation(t *testing.T) {
	_, f, _, of := indirectFixture(t)
	for _, pos := range []uint64{0, 1, 1023, 1024, 5000, 12*1024 + 100, 268*1024 + 1023} {
		loc, err := of.Resolve(context.Background(), pos)
		if err != nil {
			t.Fatalf("Resolve(%d) failed: %v", pos, err)
		}
		want := PhysicalLocation{
			Block:     uint64(f.Blocks[pos/1024]),
			Offset:    pos % 1024,
			Run:       1024 - pos%1024,
			BlockSize: 1024,
		}
		if diff := cmp.Diff(want, loc); diff != "" {
			t.Errorf("Resolve(%d) mismatch (-want +got):\n%s", pos, diff)
		}
		if got, want := loc.ByteOffset(), want.Block*1024+pos%1024; got != want {
			t.Errorf("ByteOffset = %d, want %d", got, want)
		}
	}
}

// TestResolveThresholds checks which pointer serves the blocks around each
// threshold by zeroing one root pointer at a time.
func TestResolveThresholds(t *testing.T) {
	const u = 256
	blocks := []uint64{11, 12, 12 + u - 1, 12 + u}
	for _, test := range []struct {
		name string
		ptr  int
		// fails lists which of blocks must stop resolving.
		fails []bool
	}{
		{"intact", -1, []bool{false, false, false, false}},
		{"direct 11", 11, []bool{true, false, false, false}},
		{"single indirect", 12, []bool{false, true, true, false}},
		{"double indirect", 13, []bool{false, false, false, true}},
	} {
		t.Run(test.name, func(t *testing.T) {
			_, _, _, of := indirectFixture(t)
			m := of.Inode.Mapping.(DirectMapping)
			if test.ptr >= 0 {
				m.Blocks[test.ptr] = 0
			}
			of.Inode.Mapping = m
			for i, lb := range blocks {
				_, err := of.Resolve(context.Background(), lb*1024)
				if failed := err != nil; failed != test.fails[i] {
					t.Errorf("Resolve(block %d) = %v, want failure: %v", lb, err, test.fails[i])
				}
				if err != nil && !errors.Is(err, fserr.VolumeCorrupted) {
					t.Errorf("Resolve(block %d) = %v, want %v", lb, err, fserr.VolumeCorrupted)
				}
			}
		})
	}
}

func TestResolveTripleIndirect(t *testing.T) {
	const u = 256
	b := testimage.New(testimage.Options{})
	outer, mid, inner := b.AllocBlock(), b.AllocBlock(), b.AllocBlock()
	binary.LittleEndian.PutUint32(b.Block(outer), uint32(mid))
	binary.LittleEndian.PutUint32(b.Block(mid), uint32(inner))
	binary.LittleEndian.PutUint32(b.Block(inner), 777)
	binary.LittleEndian.PutUint32(b.Block(inner)[4:], 0)
	v := mount(t, b.Device())

	var m DirectMapping
	m.Blocks[14] = uint32(outer)
	f := &OpenFile{
		vol:   v,
		Inode: InodeRecord{Number: 99, Mode: disklayout.ModeRegular, Size: 1 << 40, Mapping: m},
		Path:  "/synthetic",
	}

	first := uint64(12 + u + u*u)
	loc, err := f.Resolve(context.Background(), first*1024)
	if err != nil || loc.Block != 777 {
		t.Errorf("Resolve(first triple indirect block) = (%d, %v), want 777", loc.Block, err)
	}
	if _, err := f.Resolve(context.Background(), (first+1)*1024); !errors.Is(err, fserr.VolumeCorrupted) {
		t.Errorf("Resolve(hole) = %v, want %v", err, fserr.VolumeCorrupted)
	}
	end := first + u*u*u
	if _, err := f.Resolve(context.Background(), end*1024); !errors.Is(err, fserr.OutOfRange) {
		t.Errorf("Resolve(past triple indirect) = %v, want %v", err, fserr.OutOfRange)
	}
}

func extentFixture(t *testing.T, nblocks int, opts testimage.ExtentOptions) (*testimage.Builder, testimage.File) {
	t.Helper()
	b := testimage.New(testimage.Options{})
	f := b.Root().CreateExtents("ext", pattern(nblocks*1024), opts)
	return b, f
}

func TestResolveExtents(t *testing.T) {
	for _, test := range []struct {
		name      string
		nblocks   int
		opts      testimage.ExtentOptions
		wantDepth uint16
	}{
		{"single extent", 9, testimage.ExtentOptions{}, 0},
		{"root leaf", 8, testimage.ExtentOptions{Run: 2}, 0},
		{"one level", 40, testimage.ExtentOptions{Run: 1}, 1},
		{"deep", 30, testimage.ExtentOptions{Run: 1, Fanout: 2}, 3},
		{"uninitialized", 6, testimage.ExtentOptions{Run: 3, Uninitialized: true}, 0},
	} {
		t.Run(test.name, func(t *testing.T) {
			b, f := extentFixture(t, test.nblocks, test.opts)
			v := mount(t, b.Device())
			of := locate(t, v, "/ext")
			m, ok := of.Inode.Mapping.(ExtentMapping)
			if !ok {
				t.Fatalf("Mapping = %T, want ExtentMapping", of.Inode.Mapping)
			}
			if got := m.Root.Header.Depth; got != test.wantDepth {
				t.Errorf("tree depth = %d, want %d", got, test.wantDepth)
			}
			for lb, want := range f.Blocks {
				loc, err := of.Resolve(context.Background(), uint64(lb)*1024+5)
				if err != nil {
					t.Fatalf("Resolve(block %d) failed: %v", lb, err)
				}
				if loc.Block != uint64(want) || loc.Offset != 5 || loc.Run != 1019 {
					t.Errorf("Resolve(block %d) = %+v, want block %d", lb, loc, want)
				}
			}
			if _, err := of.Resolve(context.Background(), uint64(test.nblocks)*1024); !errors.Is(err, fserr.VolumeCorrupted) {
				t.Errorf("Resolve(unmapped block) = %v, want %v", err, fserr.VolumeCorrupted)
			}
		})
	}
}

func TestExtentCorruption(t *testing.T) {
	le := binary.LittleEndian
	capacity := uint16(1024/disklayout.ExtentEntrySize - 1)
	for _, test := range []struct {
		name    string
		corrupt func(b *testimage.Builder, f testimage.File)
		// atOpen is set when the inode itself is rejected.
		atOpen bool
	}{
		{
			name: "child magic",
			corrupt: func(b *testimage.Builder, f testimage.File) {
				le.PutUint16(b.Block(f.Nodes[0]), 0xdead)
			},
		},
		{
			name: "child entries over max",
			corrupt: func(b *testimage.Builder, f testimage.File) {
				le.PutUint16(b.Block(f.Nodes[0])[2:], capacity+1)
			},
		},
		{
			name: "child max over capacity",
			corrupt: func(b *testimage.Builder, f testimage.File) {
				node := b.Block(f.Nodes[0])
				le.PutUint16(node[2:], 0xffff)
				le.PutUint16(node[4:], 0xffff)
			},
		},
		{
			name: "child depth not decreasing",
			corrupt: func(b *testimage.Builder, f testimage.File) {
				le.PutUint16(b.Block(f.Nodes[0])[6:], 1)
			},
		},
		{
			name: "child beyond volume",
			corrupt: func(b *testimage.Builder, f testimage.File) {
				in := b.Inode(f.Inode)
				le.PutUint32(in.DataRaw[disklayout.ExtentHeaderSize+4:], 1<<30)
				b.PutInode(f.Inode, in)
			},
		},
		{
			name: "child pointer zero",
			corrupt: func(b *testimage.Builder, f testimage.File) {
				in := b.Inode(f.Inode)
				le.PutUint32(in.DataRaw[disklayout.ExtentHeaderSize+4:], 0)
				le.PutUint16(in.DataRaw[disklayout.ExtentHeaderSize+8:], 0)
				b.PutInode(f.Inode, in)
			},
		},
		{
			name: "leaf start zero",
			corrupt: func(b *testimage.Builder, f testimage.File) {
				leaf := b.Block(f.Nodes[0])[disklayout.ExtentHeaderSize:]
				le.PutUint16(leaf[6:], 0)
				le.PutUint32(leaf[8:], 0)
			},
		},
		{
			name: "leaf run beyond volume",
			corrupt: func(b *testimage.Builder, f testimage.File) {
				leaf := b.Block(f.Nodes[0])[disklayout.ExtentHeaderSize:]
				le.PutUint32(leaf[8:], 1<<30)
			},
		},
		{
			name: "root magic",
			corrupt: func(b *testimage.Builder, f testimage.File) {
				in := b.Inode(f.Inode)
				le.PutUint16(in.DataRaw[:], 0)
				b.PutInode(f.Inode, in)
			},
			atOpen: true,
		},
		{
			name: "root entries over four",
			corrupt: func(b *testimage.Builder, f testimage.File) {
				in := b.Inode(f.Inode)
				le.PutUint16(in.DataRaw[2:], 5)
				le.PutUint16(in.DataRaw[4:], 5)
				b.PutInode(f.Inode, in)
			},
			atOpen: true,
		},
		{
			name: "root too deep",
			corrupt: func(b *testimage.Builder, f testimage.File) {
				in := b.Inode(f.Inode)
				le.PutUint16(in.DataRaw[6:], disklayout.MaxExtentDepth+1)
				b.PutInode(f.Inode, in)
			},
			atOpen: true,
		},
	} {
		t.Run(test.name, func(t *testing.T) {
			// Ten single block extents: the root indexes one leaf.
			b, f := extentFixture(t, 10, testimage.ExtentOptions{Run: 1})
			if len(f.Nodes) != 1 {
				t.Fatalf("fixture has %d tree nodes, want 1", len(f.Nodes))
			}
			b.Image()
			test.corrupt(b, f)
			v := mount(t, b.Device())

			of, err := v.Locate(context.Background(), nil, "/ext")
			if test.atOpen {
				if !errors.Is(err, fserr.VolumeCorrupted) {
					t.Errorf("Locate = %v, want %v", err, fserr.VolumeCorrupted)
				}
				return
			}
			if err != nil {
				t.Fatalf("Locate failed: %v", err)
			}
			if _, err := of.Resolve(context.Background(), 0); !errors.Is(err, fserr.VolumeCorrupted) {
				t.Errorf("Resolve = %v, want %v", err, fserr.VolumeCorrupted)
			}
		})
	}
}

func TestResolveInline(t *testing.T) {
	b := testimage.New(testimage.Options{})
	b.Root().Symlink("l", "target")
	v := mount(t, b.Device())
	of := locate(t, v, "/l")
	if _, err := of.Resolve(context.Background(), 0); !errors.Is(err, fserr.Unsupported) {
		t.Errorf("Resolve on an inline symlink = %v, want %v", err, fserr.Unsupported)
	}
}
