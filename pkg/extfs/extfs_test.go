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
	"bytes"
	"context"
	"errors"
	"io"
	"testing"

	"gvisor.dev/extfs/pkg/errors/fserr"
	"gvisor.dev/extfs/pkg/extfs/blockcache"
	"gvisor.dev/extfs/pkg/extfs/device"
	"gvisor.dev/extfs/pkg/extfs/disklayout"
	"gvisor.dev/extfs/pkg/extfs/testimage"
	"gvisor.dev/extfs/pkg/log"
)

// pattern returns n bytes that differ between blocks and within them.
func pattern(n int) []byte {
	data := make([]byte, n)
	for i := range data {
		data[i] = byte(i*7 + i/1024)
	}
	return data
}

// testLog sends corruption warnings to the test log, where they are shown
// only for failing tests.
func testLog(t *testing.T) Option {
	return WithCorruptionLogger(&log.BasicLogger{Level: log.Warning, Emitter: &log.TestEmitter{TestLogger: t}})
}

func mount(t *testing.T, dev io.ReaderAt, opts ...Option) *Volume {
	t.Helper()
	v, err := Mount(context.Background(), dev, append([]Option{testLog(t)}, opts...)...)
	if err != nil {
		t.Fatalf("Mount failed: %v", err)
	}
	return v
}

func locate(t *testing.T, v *Volume, path string) *OpenFile {
	t.Helper()
	f, err := v.Locate(context.Background(), nil, path)
	if err != nil {
		t.Fatalf("Locate(%q) failed: %v", path, err)
	}
	return f
}

// readAll reads h from its position to the end in small chunks.
func readAll(t *testing.T, h *Handle, chunk int) []byte {
	t.Helper()
	var out []byte
	buf := make([]byte, chunk)
	for {
		n, err := h.Read(context.Background(), buf)
		out = append(out, buf[:n]...)
		if err == io.EOF {
			return out
		}
		if err != nil {
			t.Fatalf("Read failed after %d bytes: %v", len(out), err)
		}
	}
}

// TestEndToEnd mounts a two group volume of 1KiB blocks and reads back a
// file whose last block is reached through the single indirect block.
func TestEndToEnd(t *testing.T) {
	b := testimage.New(testimage.Options{Label: "E2E"})
	data := pattern(13 * 1024)
	f := b.Root().Create("A.TXT", data)
	if len(f.Blocks) != 13 {
		t.Fatalf("fixture has %d blocks, want 13", len(f.Blocks))
	}
	v := mount(t, b.Device())

	if got := v.GroupCount(); got != 2 {
		t.Errorf("GroupCount = %d, want 2", got)
	}
	if got := v.BlockSize(); got != 1024 {
		t.Errorf("BlockSize = %d, want 1024", got)
	}

	root := v.OpenRoot()
	h, err := root.Open(context.Background(), "/A.TXT", ModeRead, 0)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer h.Close()
	if got := h.File().Path; got != "/A.TXT" {
		t.Errorf("Path = %q, want %q", got, "/A.TXT")
	}

	got := readAll(t, h, 13*1024)
	if !bytes.Equal(got, data) {
		t.Errorf("file contents differ from the fixture")
	}
	// The last block is the only one behind the indirect block.
	last := got[12*1024:]
	if !bytes.Equal(last, data[12*1024:]) {
		t.Errorf("indirect block contents differ")
	}
}

func corruptSuperBlock(img []byte, fn func(sb *disklayout.SuperBlock)) {
	sb, err := disklayout.DecodeSuperBlock(img[disklayout.SbOffset:])
	if err != nil {
		panic(err)
	}
	fn(sb)
	copy(img[disklayout.SbOffset:], disklayout.Encode(nil, sb))
}

func TestMountErrors(t *testing.T) {
	for _, test := range []struct {
		name    string
		corrupt func(img []byte) []byte
		want    error
	}{
		{
			name: "bad magic",
			corrupt: func(img []byte) []byte {
				corruptSuperBlock(img, func(sb *disklayout.SuperBlock) { sb.Magic = 0x1234 })
				return img
			},
			want: fserr.Unsupported,
		},
		{
			name: "huge block size",
			corrupt: func(img []byte) []byte {
				corruptSuperBlock(img, func(sb *disklayout.SuperBlock) { sb.LogBlockSize = 7 })
				return img
			},
			want: fserr.VolumeCorrupted,
		},
		{
			name: "no blocks per group",
			corrupt: func(img []byte) []byte {
				corruptSuperBlock(img, func(sb *disklayout.SuperBlock) { sb.BlocksPerGroup = 0 })
				return img
			},
			want: fserr.VolumeCorrupted,
		},
		{
			name: "blocks per group beyond bitmap",
			corrupt: func(img []byte) []byte {
				corruptSuperBlock(img, func(sb *disklayout.SuperBlock) { sb.BlocksPerGroup = 8*uint32(sb.BlockSize()) + 1 })
				return img
			},
			want: fserr.VolumeCorrupted,
		},
		{
			name: "inodes per group beyond bitmap",
			corrupt: func(img []byte) []byte {
				corruptSuperBlock(img, func(sb *disklayout.SuperBlock) { sb.InodesPerGroup = 8*uint32(sb.BlockSize()) + 1 })
				return img
			},
			want: fserr.VolumeCorrupted,
		},
		{
			name: "block count overflows volume size",
			corrupt: func(img []byte) []byte {
				corruptSuperBlock(img, func(sb *disklayout.SuperBlock) {
					sb.FeatureIncompat |= disklayout.Incompat64Bit
					sb.BlocksCountHi = 0xffffffff
					sb.BlocksCountLo = 0xffffffff
				})
				return img
			},
			want: fserr.VolumeCorrupted,
		},
		{
			name: "descriptor table too large",
			corrupt: func(img []byte) []byte {
				corruptSuperBlock(img, func(sb *disklayout.SuperBlock) {
					sb.FeatureIncompat |= disklayout.Incompat64Bit
					sb.BlocksCountHi = 1 << 16
					sb.BlocksPerGroup = 1
				})
				return img
			},
			want: fserr.VolumeCorrupted,
		},
		{
			name: "bad descriptor size",
			corrupt: func(img []byte) []byte {
				corruptSuperBlock(img, func(sb *disklayout.SuperBlock) {
					sb.FeatureIncompat |= disklayout.Incompat64Bit
					sb.DescSizeRaw = 96
				})
				return img
			},
			want: fserr.VolumeCorrupted,
		},
		{
			name: "odd inode size",
			corrupt: func(img []byte) []byte {
				corruptSuperBlock(img, func(sb *disklayout.SuperBlock) { sb.InodeSizeRaw = 200 })
				return img
			},
			want: fserr.VolumeCorrupted,
		},
		{
			name: "compression",
			corrupt: func(img []byte) []byte {
				corruptSuperBlock(img, func(sb *disklayout.SuperBlock) { sb.FeatureIncompat |= disklayout.IncompatCompression })
				return img
			},
			want: fserr.Unsupported,
		},
		{
			name: "truncated descriptor table",
			corrupt: func(img []byte) []byte {
				return img[:2*1024+8]
			},
			want: fserr.IoError,
		},
		{
			name: "truncated superblock",
			corrupt: func(img []byte) []byte {
				return img[:1500]
			},
			want: fserr.IoError,
		},
		{
			name: "root not a directory",
			corrupt: func(img []byte) []byte {
				b := testimage.New(testimage.Options{})
				img = b.Image()
				in := b.Inode(disklayout.RootInode)
				in.ModeRaw = disklayout.ModeRegular | 0644
				b.PutInode(disklayout.RootInode, in)
				return img
			},
			want: fserr.VolumeCorrupted,
		},
	} {
		t.Run(test.name, func(t *testing.T) {
			img := test.corrupt(testimage.New(testimage.Options{}).Image())
			_, err := Mount(context.Background(), device.Memory(img), testLog(t))
			if !errors.Is(err, test.want) {
				t.Errorf("Mount = %v, want %v", err, test.want)
			}
		})
	}
}

func TestMountGeometries(t *testing.T) {
	for _, test := range []struct {
		name string
		opts testimage.Options
	}{
		{"1k blocks", testimage.Options{}},
		{"4k blocks", testimage.Options{BlockSize: 4096, Blocks: 256, BlocksPerGroup: 128}},
		{"64bit descriptors", testimage.Options{Is64Bit: true}},
		{"large inodes", testimage.Options{InodeSize: 256}},
		{"three groups", testimage.Options{Blocks: 3000}},
	} {
		t.Run(test.name, func(t *testing.T) {
			b := testimage.New(test.opts)
			data := pattern(20 * int(b.BlockSize()))
			b.Root().Mkdir("d").Create("f", data)
			v := mount(t, b.Device())
			if got, want := uint64(v.GroupCount()), b.Groups(); got != want {
				t.Errorf("GroupCount = %d, want %d", got, want)
			}
			h, err := v.OpenRoot().Open(context.Background(), "d/f", ModeRead, 0)
			if err != nil {
				t.Fatalf("Open failed: %v", err)
			}
			if got := readAll(t, h, 3000); !bytes.Equal(got, data) {
				t.Errorf("file contents differ from the fixture")
			}
		})
	}
}

func TestReadInode(t *testing.T) {
	b := testimage.New(testimage.Options{})
	v := mount(t, b.Device())

	if _, err := v.ReadInode(context.Background(), v.sb.InodesCount+1); !errors.Is(err, fserr.VolumeCorrupted) {
		t.Errorf("ReadInode past the inode count = %v, want %v", err, fserr.VolumeCorrupted)
	}

	defer func() {
		if recover() == nil {
			t.Errorf("ReadInode(0) did not panic")
		}
	}()
	v.ReadInode(context.Background(), 0)
}

func TestVolumeInfo(t *testing.T) {
	b := testimage.New(testimage.Options{Label: "scratch"})
	b.Root().Create("f", pattern(5000))
	img := b.Image()
	v := mount(t, device.Memory(img))

	sb, err := disklayout.DecodeSuperBlock(img[disklayout.SbOffset:])
	if err != nil {
		t.Fatalf("DecodeSuperBlock: %v", err)
	}
	info := v.Info()
	if !info.ReadOnly {
		t.Errorf("ReadOnly = false")
	}
	if got, want := info.VolumeSize, uint64(2048*1024); got != want {
		t.Errorf("VolumeSize = %d, want %d", got, want)
	}
	if got, want := info.FreeSpace, 1024*sb.FreeBlocksCount(); got != want {
		t.Errorf("FreeSpace = %d, want %d", got, want)
	}
	if info.FreeSpace == 0 || info.FreeSpace >= info.VolumeSize {
		t.Errorf("FreeSpace = %d of %d", info.FreeSpace, info.VolumeSize)
	}
	if info.Label != "scratch" || v.Label() != "scratch" {
		t.Errorf("Label = %q, %q, want %q", info.Label, v.Label(), "scratch")
	}
	if info.BlockSize != 1024 || info.Groups != 2 {
		t.Errorf("BlockSize, Groups = %d, %d", info.BlockSize, info.Groups)
	}
}

func TestBlockCache(t *testing.T) {
	b := testimage.New(testimage.Options{})
	data := pattern(40 * 1024)
	b.Root().Create("f", data)
	c := blockcache.New(8)
	v := mount(t, b.Device(), WithBlockCache(c))

	f := locate(t, v, "/f")
	for i := 0; i < 2; i++ {
		got := make([]byte, len(data))
		if _, err := f.ReadAt(context.Background(), got, 0); err != nil {
			t.Fatalf("ReadAt failed: %v", err)
		}
		if !bytes.Equal(got, data) {
			t.Fatalf("pass %d: contents differ", i)
		}
	}
	if hits, _ := c.Stats(); hits == 0 {
		t.Errorf("indirect block never served from the cache")
	}
}

func TestClone(t *testing.T) {
	b := testimage.New(testimage.Options{})
	b.Root().CreateExtents("f", pattern(3*1024), testimage.ExtentOptions{Run: 1})
	v := mount(t, b.Device())
	f := locate(t, v, "/f")

	c := f.Inode.Clone()
	c.Mapping.(ExtentMapping).Root.Leaves[0].StartBlockLo = 0
	if f.Inode.Mapping.(ExtentMapping).Root.Leaves[0].StartBlockLo == 0 {
		t.Errorf("Clone shares extent entries with the original")
	}
	if c.Number != f.Inode.Number || c.Size != f.Inode.Size {
		t.Errorf("Clone = %+v, want a copy of %+v", c, f.Inode)
	}
}
