// Copyright 2018 Google LLC
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

// Package binary translates between fixed-size on-disk records and their
// little or big endian byte representation.
//
// Records are plain structs made of fixed-width integers, arrays and nested
// structs. Blank (`_`) fields are skipped on decode and written as zeroes on
// encode, which is how reserved on-disk ranges are expressed.
package binary

import (
	"encoding/binary"
	"fmt"
	"reflect"
)

// LittleEndian is the byte order of ext filesystems.
var LittleEndian = binary.LittleEndian

// BigEndian is the network byte order.
var BigEndian = binary.BigEndian

// field is one leaf of a record: an integer, or a whole byte array.
type field struct {
	v reflect.Value

	// size is the encoded length in bytes.
	size int

	// blank is set for `_` struct fields and everything inside them.
	blank bool
}

// walk calls fn for each leaf of v in encoding order.
func walk(v reflect.Value, blank bool, fn func(field)) {
	switch k := v.Kind(); k {
	case reflect.Int8, reflect.Uint8:
		fn(field{v, 1, blank})
	case reflect.Int16, reflect.Uint16:
		fn(field{v, 2, blank})
	case reflect.Int32, reflect.Uint32:
		fn(field{v, 4, blank})
	case reflect.Int64, reflect.Uint64:
		fn(field{v, 8, blank})

	case reflect.Array, reflect.Slice:
		if k == reflect.Array && v.Type().Elem().Kind() == reflect.Uint8 {
			fn(field{v, v.Len(), blank})
			return
		}
		for i := 0; i < v.Len(); i++ {
			walk(v.Index(i), blank, fn)
		}

	case reflect.Struct:
		t := v.Type()
		for i := 0; i < v.NumField(); i++ {
			walk(v.Field(i), blank || t.Field(i).Name == "_", fn)
		}

	default:
		panic("invalid type: " + v.Type().String())
	}
}

// bits returns the raw two's complement bits of an integer value.
func bits(v reflect.Value) uint64 {
	if v.CanInt() {
		return uint64(v.Int())
	}
	return v.Uint()
}

// Marshal appends a binary representation of data to buf.
//
// data must only contain fixed-length signed and unsigned ints, arrays,
// slices, structs and compositions of said types. data may be a pointer,
// but cannot contain pointers.
func Marshal(buf []byte, order binary.ByteOrder, data any) []byte {
	walk(reflect.Indirect(reflect.ValueOf(data)), false, func(f field) {
		start := len(buf)
		buf = append(buf, make([]byte, f.size)...)
		if f.blank {
			return
		}
		out := buf[start:]
		switch {
		case f.v.Kind() == reflect.Array:
			for i := range out {
				out[i] = byte(f.v.Index(i).Uint())
			}
		case f.size == 1:
			out[0] = byte(bits(f.v))
		case f.size == 2:
			order.PutUint16(out, uint16(bits(f.v)))
		case f.size == 4:
			order.PutUint32(out, uint32(bits(f.v)))
		default:
			order.PutUint64(out, bits(f.v))
		}
	})
	return buf
}

// Unmarshal unpacks buf into data.
//
// data must be a slice or a pointer and buf must have a length of exactly
// Size(data). Unmarshal panics otherwise; use Decode for bytes that came off
// a device.
func Unmarshal(buf []byte, order binary.ByteOrder, data any) {
	value := reflect.ValueOf(data)
	switch value.Kind() {
	case reflect.Ptr:
		value = value.Elem()
	case reflect.Slice:
	default:
		panic("invalid type: " + value.Type().String())
	}
	if size := sizeof(value); len(buf) != size {
		if len(buf) > size {
			panic(fmt.Sprintf("buffer too long by %d bytes", len(buf)-size))
		}
		panic(fmt.Sprintf("buffer too short by %d bytes", size-len(buf)))
	}
	walk(value, false, func(f field) {
		in := buf[:f.size]
		buf = buf[f.size:]
		if f.blank || !f.v.CanSet() {
			return
		}
		var u uint64
		switch {
		case f.v.Kind() == reflect.Array:
			reflect.Copy(f.v, reflect.ValueOf(in))
			return
		case f.size == 1:
			u = uint64(in[0])
		case f.size == 2:
			u = uint64(order.Uint16(in))
		case f.size == 4:
			u = uint64(order.Uint32(in))
		default:
			u = order.Uint64(in)
		}
		if f.v.CanInt() {
			// Sign extend from the field width.
			shift := 64 - 8*f.size
			f.v.SetInt(int64(u<<shift) >> shift)
		} else {
			f.v.SetUint(u)
		}
	})
}

// Decode is like Unmarshal, but only uses the first Size(data) bytes of buf
// and returns an error instead of panicking when buf is too short.
func Decode(buf []byte, order binary.ByteOrder, data any) error {
	size := int(Size(data))
	if len(buf) < size {
		return fmt.Errorf("short buffer decoding %T: have %d bytes, need %d", data, len(buf), size)
	}
	Unmarshal(buf[:size], order, data)
	return nil
}

// Size returns the number of bytes Marshal writes for v and Unmarshal
// consumes.
func Size(v any) uintptr {
	return uintptr(sizeof(reflect.Indirect(reflect.ValueOf(v))))
}

func sizeof(v reflect.Value) int {
	n := 0
	walk(v, false, func(f field) { n += f.size })
	return n
}
