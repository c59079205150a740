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

package binary

import (
	"encoding/binary"
	"fmt"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func newInt32(i int32) *int32 {
	return &i
}

func TestSize(t *testing.T) {
	for _, test := range []struct {
		name string
		data any
		want uintptr
	}{
		{"uint32", uint32(10), 4},
		{"byte array", [60]byte{}, 60},
		{"struct", outer{}, 1 + 2 + 4 + 8 + 1 + 2 + 4 + 8 + 5*4 + 4},
		{"padded struct", outerPadding{}, 1 + 2 + 4 + 8 + 5*4 + 4},
	} {
		t.Run(test.name, func(t *testing.T) {
			if got := Size(test.data); got != test.want {
				t.Errorf("Size(%T) = %d, want = %d", test.data, got, test.want)
			}
		})
	}
}

func TestPanic(t *testing.T) {
	tests := []struct {
		name string
		f    func([]byte, binary.ByteOrder, any)
		data any
		want string
	}{
		{"Unmarshal int", Unmarshal, 5, "invalid type: int"},
		{"Unmarshal []int", Unmarshal, []int{5}, "invalid type: int"},
		{"Marshal int", func(_ []byte, bo binary.ByteOrder, d any) { Marshal(nil, bo, d) }, 5, "invalid type: int"},
		{"Unmarshal short buffer", Unmarshal, newInt32(5), "buffer too short by 4 bytes"},
		{"Unmarshal long buffer", func(_ []byte, bo binary.ByteOrder, d any) { Unmarshal(make([]byte, 50), bo, d) }, newInt32(5), "buffer too long by 46 bytes"},
		{"Size int", func(_ []byte, _ binary.ByteOrder, d any) { Size(d) }, 5, "invalid type: int"},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			defer func() {
				r := recover()
				if got := fmt.Sprint(r); !strings.HasPrefix(got, test.want) {
					t.Errorf("Got recover() = %q, want prefix = %q", got, test.want)
				}
			}()

			test.f(nil, LittleEndian, test.data)
		})
	}
}

type inner struct {
	Field int32
}

type outer struct {
	Int8   int8
	Int16  int16
	Int32  int32
	Int64  int64
	Uint8  uint8
	Uint16 uint16
	Uint32 uint32
	Uint64 uint64

	Array  [5]int32
	Struct inner
}

func TestMarshalUnmarshal(t *testing.T) {
	want := outer{
		1, -2, 3, -4, 5, 6, 7, 8,
		[5]int32{12, 13, 14, 15, 16},
		inner{17},
	}
	buf := Marshal(nil, LittleEndian, want)
	if got, want := uintptr(len(buf)), Size(want); got != want {
		t.Fatalf("Marshal wrote %d bytes, want %d", got, want)
	}
	var got outer
	Unmarshal(buf, LittleEndian, &got)
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("round trip mismatch (-want +got):\n%s", diff)
	}
}

type outerPadding struct {
	Int8 int8
	_    int16
	_    int32
	_    int64

	Array  [5]int32
	Struct inner
}

func TestUnmarshalSkipsPadding(t *testing.T) {
	buf := make([]byte, Size(outerPadding{}))
	for i := range buf {
		buf[i] = 0xff
	}
	var got outerPadding
	Unmarshal(buf, LittleEndian, &got)
	if got.Int8 != -1 || got.Struct.Field != -1 {
		t.Errorf("Unmarshal = %+v, want all named fields set to -1", got)
	}
}

func TestSignExtension(t *testing.T) {
	type signed struct {
		A int8
		B int16
		C int32
		D int64
	}
	buf := []byte{0x80, 0xfe, 0xff, 0xfd, 0xff, 0xff, 0xff, 0xfc, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff}
	var got signed
	Unmarshal(buf, LittleEndian, &got)
	if want := (signed{-128, -2, -3, -4}); got != want {
		t.Errorf("Unmarshal = %+v, want %+v", got, want)
	}
}

func TestMarshalZeroesPadding(t *testing.T) {
	type padded struct {
		A uint8
		_ [3]byte
		B uint32
	}
	got := Marshal(nil, LittleEndian, padded{A: 1, B: 2})
	if want := []byte{1, 0, 0, 0, 2, 0, 0, 0}; !cmp.Equal(got, want) {
		t.Errorf("Marshal = %v, want %v", got, want)
	}
}

type record struct {
	Magic uint16
	Name  [6]byte
}

func TestDecode(t *testing.T) {
	buf := []byte{0x53, 0xef, 'l', 'a', 'b', 'e', 'l', 0, 0xaa, 0xbb}

	var got record
	if err := Decode(buf, LittleEndian, &got); err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	want := record{Magic: 0xef53, Name: [6]byte{'l', 'a', 'b', 'e', 'l', 0}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Decode mismatch (-want +got):\n%s", diff)
	}

	if err := Decode(buf[:4], LittleEndian, &got); err == nil {
		t.Errorf("Decode of a 4 byte buffer into %d byte record succeeded", Size(got))
	}
}

func TestByteOrder(t *testing.T) {
	const v = uint32(0x01020304)
	if got, want := Marshal(nil, BigEndian, v), []byte{1, 2, 3, 4}; !cmp.Equal(got, want) {
		t.Errorf("Marshal(BigEndian) = %v, want %v", got, want)
	}
	if got, want := Marshal(nil, LittleEndian, v), []byte{4, 3, 2, 1}; !cmp.Equal(got, want) {
		t.Errorf("Marshal(LittleEndian) = %v, want %v", got, want)
	}
}
