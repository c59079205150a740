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

package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"gopkg.in/yaml.v3"
	"gvisor.dev/extfs/pkg/extfs"
	"gvisor.dev/extfs/pkg/extfs/disklayout"
)

// Output formats accepted by -format.
const (
	formatText = "text"
	formatJSON = "json"
	formatYAML = "yaml"
)

// timeLayout is used for timestamps in text output.
const timeLayout = "2006-01-02 15:04:05 MST"

// encode writes v to w as JSON or YAML. text is called for the text format.
func encode(w io.Writer, format string, v any, text func(w io.Writer) error) error {
	switch format {
	case formatText:
		return text(w)
	case formatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	case formatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return err
		}
		return enc.Close()
	default:
		return fmt.Errorf("invalid format %q, must be %q, %q or %q", format, formatText, formatJSON, formatYAML)
	}
}

// validFormat reports whether format is accepted by encode.
func validFormat(format string) bool {
	switch format {
	case formatText, formatJSON, formatYAML:
		return true
	}
	return false
}

var fileTypeChars = map[uint16]byte{
	disklayout.ModeSocket:   's',
	disklayout.ModeSymlink:  'l',
	disklayout.ModeRegular:  '-',
	disklayout.ModeBlockDev: 'b',
	disklayout.ModeDir:      'd',
	disklayout.ModeCharDev:  'c',
	disklayout.ModeFIFO:     'p',
}

// modeString formats an inode mode the way ls -l does.
func modeString(mode uint16) string {
	var b [10]byte
	b[0] = '?'
	if c, ok := fileTypeChars[mode&disklayout.ModeTypeMask]; ok {
		b[0] = c
	}
	const rwx = "rwxrwxrwx"
	for i := 0; i < 9; i++ {
		b[i+1] = '-'
		if mode&(1<<uint(8-i)) != 0 {
			b[i+1] = rwx[i]
		}
	}
	// Set-ID and sticky bits replace the execute slots.
	special := []struct {
		bit      uint16
		pos      int
		set, off byte
	}{
		{0o4000, 3, 's', 'S'},
		{0o2000, 6, 's', 'S'},
		{0o1000, 9, 't', 'T'},
	}
	for _, s := range special {
		if mode&s.bit == 0 {
			continue
		}
		if b[s.pos] == '-' {
			b[s.pos] = s.off
		} else {
			b[s.pos] = s.set
		}
	}
	return string(b[:])
}

// writeLong writes one ls -l style line per entry.
func writeLong(w io.Writer, ents []extfs.FileInfo) error {
	tw := tabwriter.NewWriter(w, 0, 8, 1, ' ', tabwriter.AlignRight)
	for _, fi := range ents {
		fmt.Fprintf(tw, "%s\t%d\t%d\t%d\t%d\t %s\t %s\n",
			modeString(fi.Mode), fi.Links, fi.UID, fi.GID, fi.Size,
			fi.ModificationTime.Format("Jan _2  2006"), fi.Name)
	}
	return tw.Flush()
}

// writeFileInfo writes fi in stat's text format.
func writeFileInfo(w io.Writer, fi *extfs.FileInfo) error {
	var b strings.Builder
	fmt.Fprintf(&b, "  File: %s\n", fi.Name)
	fmt.Fprintf(&b, "  Size: %-12d Physical: %-12d Attributes: %v\n", fi.Size, fi.PhysicalSize, fi.Attribute)
	fmt.Fprintf(&b, " Inode: %-12d Links: %d\n", fi.Inode, fi.Links)
	fmt.Fprintf(&b, "Access: (%04o/%s)  Uid: %d  Gid: %d\n", fi.Mode&0o7777, modeString(fi.Mode), fi.UID, fi.GID)
	for _, t := range []struct {
		name string
		t    time.Time
	}{
		{"Access", fi.LastAccessTime},
		{"Modify", fi.ModificationTime},
		{"Change", fi.CreateTime},
	} {
		fmt.Fprintf(&b, "%s: %s\n", t.name, t.t.Format(timeLayout))
	}
	_, err := io.WriteString(w, b.String())
	return err
}

// writeVolumeInfo writes vi in info's text format.
func writeVolumeInfo(w io.Writer, vi *extfs.VolumeInfo) error {
	tw := tabwriter.NewWriter(w, 0, 8, 1, ' ', 0)
	fmt.Fprintf(tw, "Label:\t%q\n", vi.Label)
	fmt.Fprintf(tw, "Read-only:\t%t\n", vi.ReadOnly)
	fmt.Fprintf(tw, "Block size:\t%d\n", vi.BlockSize)
	fmt.Fprintf(tw, "Block groups:\t%d\n", vi.Groups)
	fmt.Fprintf(tw, "Volume size:\t%d\n", vi.VolumeSize)
	fmt.Fprintf(tw, "Free space:\t%d\n", vi.FreeSpace)
	fmt.Fprintf(tw, "Inodes:\t%d\n", vi.Inodes)
	fmt.Fprintf(tw, "Free inodes:\t%d\n", vi.FreeInodes)
	return tw.Flush()
}
