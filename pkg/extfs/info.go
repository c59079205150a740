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
	"strings"
	"time"

	"gvisor.dev/extfs/pkg/binary"
	"gvisor.dev/extfs/pkg/extfs/disklayout"
)

// Attribute is a set of file attribute bits as reported to host code.
type Attribute uint64

// Attribute bits.
const (
	AttrReadOnly  Attribute = 0x01
	AttrHidden    Attribute = 0x02
	AttrSystem    Attribute = 0x04
	AttrReserved  Attribute = 0x08
	AttrDirectory Attribute = 0x10
	AttrArchive   Attribute = 0x20

	// AttrValid is the set of bits a caller may pass.
	AttrValid = AttrReadOnly | AttrHidden | AttrSystem | AttrReserved | AttrDirectory | AttrArchive
)

var attrNames = []struct {
	bit  Attribute
	name string
}{
	{AttrReadOnly, "readonly"},
	{AttrHidden, "hidden"},
	{AttrSystem, "system"},
	{AttrReserved, "reserved"},
	{AttrDirectory, "directory"},
	{AttrArchive, "archive"},
}

// String implements fmt.Stringer.String.
func (a Attribute) String() string {
	if a == 0 {
		return "none"
	}
	var names []string
	for _, n := range attrNames {
		if a&n.bit != 0 {
			names = append(names, n.name)
		}
	}
	return strings.Join(names, "|")
}

// MarshalText implements encoding.TextMarshaler.
func (a Attribute) MarshalText() ([]byte, error) {
	return []byte(a.String()), nil
}

// FileInfoHeaderSize is the size of the fixed part of an encoded FileInfo.
// The name follows it as NUL terminated 16-bit characters.
const FileInfoHeaderSize = 80

// FileInfo describes an open file.
type FileInfo struct {
	Name             string    `json:"name" yaml:"name"`
	Size             uint64    `json:"size" yaml:"size"`
	PhysicalSize     uint64    `json:"physical_size" yaml:"physical_size"`
	CreateTime       time.Time `json:"create_time" yaml:"create_time"`
	LastAccessTime   time.Time `json:"last_access_time" yaml:"last_access_time"`
	ModificationTime time.Time `json:"modification_time" yaml:"modification_time"`
	Attribute        Attribute `json:"attribute" yaml:"attribute"`
	Mode             uint16    `json:"mode" yaml:"mode"`
	Inode            uint32    `json:"inode" yaml:"inode"`
	Links            uint16    `json:"links" yaml:"links"`
	UID              uint32    `json:"uid" yaml:"uid"`
	GID              uint32    `json:"gid" yaml:"gid"`
}

// IsDir reports whether the described file is a directory.
func (fi *FileInfo) IsDir() bool {
	return fi.Attribute&AttrDirectory != 0
}

// EncodedSize returns the size of the encoded record.
func (fi *FileInfo) EncodedSize() uint64 {
	return encodedInfoSize(len(fi.Name))
}

func encodedInfoSize(nameLen int) uint64 {
	return FileInfoHeaderSize + uint64(nameLen+1)*2
}

// calendarTime is the encoded form of a timestamp.
type calendarTime struct {
	Year       uint16
	Month      uint8
	Day        uint8
	Hour       uint8
	Minute     uint8
	Second     uint8
	_          uint8
	Nanosecond uint32
	TimeZone   int16
	Daylight   uint8
	_          uint8
}

// unspecifiedTimeZone marks a calendarTime as local time.
const unspecifiedTimeZone = 0x07FF

func toCalendar(t time.Time) calendarTime {
	return calendarTime{
		Year:     uint16(t.Year()),
		Month:    uint8(t.Month()),
		Day:      uint8(t.Day()),
		Hour:     uint8(t.Hour()),
		Minute:   uint8(t.Minute()),
		Second:   uint8(t.Second()),
		TimeZone: unspecifiedTimeZone,
	}
}

// fileInfoHeader is the encoded fixed part of a FileInfo.
type fileInfoHeader struct {
	Size             uint64
	FileSize         uint64
	PhysicalSize     uint64
	CreateTime       calendarTime
	LastAccessTime   calendarTime
	ModificationTime calendarTime
	Attribute        uint64
}

// MarshalBinary encodes fi as a fixed header followed by the name. Each name
// byte is widened to one 16-bit character.
func (fi *FileInfo) MarshalBinary() ([]byte, error) {
	hdr := fileInfoHeader{
		Size:             fi.EncodedSize(),
		FileSize:         fi.Size,
		PhysicalSize:     fi.PhysicalSize,
		CreateTime:       toCalendar(fi.CreateTime),
		LastAccessTime:   toCalendar(fi.LastAccessTime),
		ModificationTime: toCalendar(fi.ModificationTime),
		Attribute:        uint64(fi.Attribute),
	}
	buf := binary.Marshal(make([]byte, 0, hdr.Size), binary.LittleEndian, &hdr)
	for i := 0; i < len(fi.Name); i++ {
		buf = binary.LittleEndian.AppendUint16(buf, uint16(fi.Name[i]))
	}
	return append(buf, 0, 0), nil
}

// epochTime converts on-disk seconds since the epoch to a UTC time.
func epochTime(secs uint32) time.Time {
	return time.Unix(int64(secs), 0).UTC()
}

// roundUp rounds n up to a multiple of the block size.
func roundUp(n, blockSize uint64) uint64 {
	return (n + blockSize - 1) / blockSize * blockSize
}

// attributes classifies the inode type.
func attributes(in *InodeRecord) Attribute {
	switch in.FileType() {
	case disklayout.ModeDir:
		return AttrDirectory
	case disklayout.ModeRegular:
		return 0
	case disklayout.ModeSymlink:
		return AttrSystem
	default:
		return AttrSystem | AttrHidden
	}
}

// dirSize is the size reported for a directory: the encoded FileInfo size
// of every used entry.
func (f *OpenFile) dirSize(ctx context.Context) (uint64, error) {
	buf, err := f.readDir(ctx)
	if err != nil {
		return 0, err
	}
	var size uint64
	err = f.scan(buf, func(d *DirectoryEntry) bool {
		if !d.Empty() {
			size += encodedInfoSize(int(d.NameLength))
		}
		return true
	})
	return size, err
}

// Info returns the metadata of f. Directories are scanned to compute their
// size.
func (f *OpenFile) Info(ctx context.Context) (FileInfo, error) {
	in := &f.Inode
	size := in.Size
	if f.IsDir() {
		var err error
		if size, err = f.dirSize(ctx); err != nil {
			return FileInfo{}, err
		}
	}
	return FileInfo{
		Name:             f.Name(),
		Size:             size,
		PhysicalSize:     roundUp(size, f.vol.blockSize),
		CreateTime:       epochTime(in.ChangeTime),
		LastAccessTime:   epochTime(in.AccessTime),
		ModificationTime: epochTime(in.ModificationTime),
		Attribute:        attributes(in),
		Mode:             in.Mode,
		Inode:            in.Number,
		Links:            in.Links,
		UID:              in.UID,
		GID:              in.GID,
	}, nil
}

// VolumeInfo describes a volume.
type VolumeInfo struct {
	Label      string `json:"label" yaml:"label"`
	ReadOnly   bool   `json:"read_only" yaml:"read_only"`
	VolumeSize uint64 `json:"volume_size" yaml:"volume_size"`
	FreeSpace  uint64 `json:"free_space" yaml:"free_space"`
	BlockSize  uint64 `json:"block_size" yaml:"block_size"`
	Groups     int    `json:"groups" yaml:"groups"`
	Inodes     uint32 `json:"inodes" yaml:"inodes"`
	FreeInodes uint64 `json:"free_inodes" yaml:"free_inodes"`
}

// Info returns the volume metadata. Free space is summed over the group
// descriptors.
func (v *Volume) Info() VolumeInfo {
	var freeBlocks, freeInodes uint64
	for _, bg := range v.bgs {
		freeBlocks += uint64(bg.FreeBlocksCount())
		freeInodes += uint64(bg.FreeInodesCount())
	}
	return VolumeInfo{
		Label:      v.Label(),
		ReadOnly:   true,
		VolumeSize: v.blockSize * v.blocksCount,
		FreeSpace:  v.blockSize * freeBlocks,
		BlockSize:  v.blockSize,
		Groups:     len(v.bgs),
		Inodes:     v.sb.InodesCount,
		FreeInodes: freeInodes,
	}
}
