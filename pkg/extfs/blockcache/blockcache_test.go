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

package blockcache

import (
	"bytes"
	"testing"
)

func block(b byte) []byte {
	return bytes.Repeat([]byte{b}, 16)
}

func TestGetPut(t *testing.T) {
	c := New(2)
	dst := make([]byte, 16)
	if c.Get(1, dst) {
		t.Fatalf("Get on an empty cache succeeded")
	}
	c.Put(1, block(1))
	if !c.Get(1, dst) {
		t.Fatalf("Get(1) missed after Put")
	}
	if !bytes.Equal(dst, block(1)) {
		t.Errorf("Get(1) = %v, want %v", dst, block(1))
	}
	if hits, misses := c.Stats(); hits != 1 || misses != 1 {
		t.Errorf("Stats = (%d, %d), want (1, 1)", hits, misses)
	}
}

func TestPutCopies(t *testing.T) {
	c := New(1)
	data := block(7)
	c.Put(3, data)
	data[0] = 0

	dst := make([]byte, 16)
	c.Get(3, dst)
	if dst[0] != 7 {
		t.Errorf("cache aliases the caller's buffer")
	}
	dst[1] = 0
	c.Get(3, dst)
	if dst[1] != 7 {
		t.Errorf("cache aliases the Get buffer")
	}
}

func TestEviction(t *testing.T) {
	c := New(2)
	dst := make([]byte, 16)
	c.Put(1, block(1))
	c.Put(2, block(2))
	// Make 1 the most recent so 2 is evicted next.
	c.Get(1, dst)
	c.Put(3, block(3))

	for _, test := range []struct {
		block uint64
		want  bool
	}{
		{1, true},
		{2, false},
		{3, true},
	} {
		if got := c.Get(test.block, dst); got != test.want {
			t.Errorf("Get(%d) = %v, want %v", test.block, got, test.want)
		}
	}
	if got := c.Len(); got != 2 {
		t.Errorf("Len = %d, want 2", got)
	}
}

func TestReplace(t *testing.T) {
	c := New(2)
	c.Put(1, block(1))
	c.Put(1, block(9))
	dst := make([]byte, 16)
	if !c.Get(1, dst) || dst[0] != 9 {
		t.Errorf("Get(1) = %v, want the replaced contents", dst)
	}
	if got := c.Len(); got != 1 {
		t.Errorf("Len = %d, want 1", got)
	}
}

func TestDisabled(t *testing.T) {
	c := New(0)
	if c != nil {
		t.Fatalf("New(0) = %v, want nil", c)
	}
	c.Put(1, block(1))
	if c.Get(1, make([]byte, 16)) {
		t.Errorf("nil cache returned a block")
	}
	if c.Len() != 0 {
		t.Errorf("nil cache has entries")
	}
}
