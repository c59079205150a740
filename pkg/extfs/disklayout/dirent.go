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

import (
	"fmt"
)

const (
	// DirentHeaderSize is the size of the fixed part of a directory entry.
	DirentHeaderSize = 8

	// MaxFileName is the maximum length of an ext fs file's name.
	MaxFileName = 255
)

// File type hints stored in directory entries.
const (
	FileTypeUnknown  = 0
	FileTypeRegular  = 1
	FileTypeDir      = 2
	FileTypeCharDev  = 3
	FileTypeBlockDev = 4
	FileTypeFIFO     = 5
	FileTypeSocket   = 6
	FileTypeSymlink  = 7
)

// DirentHeader emulates the fixed part of ext4_dir_entry_2. The name follows
// it on disk and is not NUL terminated.
type DirentHeader struct {
	InodeNumber  uint32
	RecordLength uint16
	NameLength   uint8
	FileType     uint8
}

// Dirent is a decoded directory entry with its name.
type Dirent struct {
	DirentHeader
	Name []byte
}

// DecodeDirent decodes the entry at the start of buf. buf must extend at
// least to the end of the record.
//
// A record whose length is zero is returned as is, since it ends a scan. A
// record that is shorter than its own header and name, or that runs past
// buf, is an error.
func DecodeDirent(buf []byte) (Dirent, error) {
	var d Dirent
	if err := decode(buf, &d.DirentHeader); err != nil {
		return d, err
	}
	if d.RecordLength == 0 {
		return d, nil
	}
	if int(d.RecordLength) > len(buf) {
		return d, fmt.Errorf("record length %d runs past the remaining %d bytes", d.RecordLength, len(buf))
	}
	if int(d.RecordLength) < DirentHeaderSize+int(d.NameLength) {
		return d, fmt.Errorf("record length %d too short for a %d byte name", d.RecordLength, d.NameLength)
	}
	d.Name = append([]byte(nil), buf[DirentHeaderSize:DirentHeaderSize+int(d.NameLength)]...)
	return d, nil
}

// Encode appends the record to buf, padding the name out to RecordLength.
func (d *Dirent) Encode(buf []byte) []byte {
	start := len(buf)
	buf = Encode(buf, &d.DirentHeader)
	buf = append(buf, d.Name...)
	for len(buf)-start < int(d.RecordLength) {
		buf = append(buf, 0)
	}
	return buf
}
