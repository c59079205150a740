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

// Dir is a directory under construction. Its data is written when the
// image is finished.
type Dir struct {
	b *Builder

	// Inode is the inode number of the directory.
	Inode uint32

	parent uint32
	links  uint16
	ents   []disklayout.Dirent
}

func (b *Builder) newDir(ino, parent uint32) *Dir {
	d := &Dir{b: b, Inode: ino, parent: parent, links: 2}
	d.Link(".", ino, disklayout.FileTypeDir)
	d.Link("..", parent, disklayout.FileTypeDir)
	b.dirs = append(b.dirs, d)
	b.usedDirs[(ino-1)/b.opts.InodesPerGroup]++
	return d
}

// Root returns the root directory.
func (b *Builder) Root() *Dir {
	return b.root
}

// Link adds an entry for name pointing at inode ino. An inode of zero adds
// an unused slot.
func (d *Dir) Link(name string, ino uint32, fileType uint8) {
	d.ents = append(d.ents, disklayout.Dirent{
		DirentHeader: disklayout.DirentHeader{
			InodeNumber: ino,
			NameLength:  uint8(len(name)),
			FileType:    fileType,
		},
		Name: []byte(name),
	})
}

// Mkdir creates a subdirectory.
func (d *Dir) Mkdir(name string) *Dir {
	ino := d.b.AllocInode()
	d.Link(name, ino, disklayout.FileTypeDir)
	d.links++
	return d.b.newDir(ino, d.Inode)
}

// Create adds a regular file whose data is addressed by a block map.
func (d *Dir) Create(name string, data []byte) File {
	b := d.b
	f := File{Inode: b.AllocInode(), Blocks: b.writeData(data)}
	in := b.newInode(disklayout.ModeRegular|0644, uint64(len(data)))
	setBlockMap(in, b.BlockMap(f.Blocks))
	b.PutInode(f.Inode, in)
	d.Link(name, f.Inode, disklayout.FileTypeRegular)
	return f
}

// CreateExtents adds a regular file whose data is addressed by an extent
// tree.
func (d *Dir) CreateExtents(name string, data []byte, opts ExtentOptions) File {
	b := d.b
	f := b.extentFile(data, opts)
	d.Link(name, f.Inode, disklayout.FileTypeRegular)
	return f
}

// Symlink adds a symbolic link. Targets shorter than the inode block area
// are stored inline.
func (d *Dir) Symlink(name, target string) uint32 {
	b := d.b
	ino := b.AllocInode()
	in := b.newInode(disklayout.ModeSymlink|0777, uint64(len(target)))
	if len(target) < disklayout.InodeBlockAreaSize {
		copy(in.DataRaw[:], target)
	} else {
		setBlockMap(in, b.BlockMap(b.writeData([]byte(target))))
	}
	b.PutInode(ino, in)
	d.Link(name, ino, disklayout.FileTypeSymlink)
	return ino
}

// Mknod adds a special file of the given mode type.
func (d *Dir) Mknod(name string, mode uint16, fileType uint8) uint32 {
	b := d.b
	ino := b.AllocInode()
	b.PutInode(ino, b.newInode(mode|0600, 0))
	d.Link(name, ino, fileType)
	return ino
}

// recordLength is the minimal aligned record length for a name.
func recordLength(nameLen int) int {
	return (disklayout.DirentHeaderSize + nameLen + 3) &^ 3
}

// write packs the entries into blocks and writes the directory inode.
func (d *Dir) write() {
	b := d.b
	bs := int(b.opts.BlockSize)

	var blocks [][]disklayout.Dirent
	var cur []disklayout.Dirent
	used := 0
	for _, e := range d.ents {
		rl := recordLength(len(e.Name))
		if used+rl > bs {
			blocks = append(blocks, cur)
			cur, used = nil, 0
		}
		e.RecordLength = uint16(rl)
		cur = append(cur, e)
		used += rl
	}
	blocks = append(blocks, cur)

	var data []byte
	for _, ents := range blocks {
		// The last record of a block extends to its end.
		start := len(data)
		for i := range ents {
			if i == len(ents)-1 {
				ents[i].RecordLength = uint16(bs - (len(data) - start))
			}
			data = ents[i].Encode(data)
		}
	}

	in := b.newInode(disklayout.ModeDir|0755, uint64(len(data)))
	in.LinksCountRaw = d.links
	setBlockMap(in, b.BlockMap(b.writeData(data)))
	b.PutInode(d.Inode, in)
}
