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

// Package disklayout provides ext2/3/4 on-disk structures and their decoders.
//
// All structures are little endian and are decoded with pkg/binary. Field
// order and widths follow the on-disk layout exactly; reserved ranges are
// blank fields so that binary.Size matches the record size.
//
// Accessor methods combine split fields (lo/hi halves) and hide which
// revision of a structure was read.
package disklayout

import (
	"gvisor.dev/extfs/pkg/binary"
)

// decode is binary.Decode with the on-disk byte order.
func decode(buf []byte, v any) error {
	return binary.Decode(buf, binary.LittleEndian, v)
}

// Encode appends the on-disk representation of v to buf. It is used to lay
// down test images.
func Encode(buf []byte, v any) []byte {
	return binary.Marshal(buf, binary.LittleEndian, v)
}
