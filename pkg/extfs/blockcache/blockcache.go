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

// Package blockcache provides a small bounded cache of filesystem metadata
// blocks with least-recently-used eviction.
//
// Callers never hold references into the cache: Get copies the block into a
// caller-owned buffer and Put stores a private copy.
package blockcache

import (
	"sync"

	"github.com/google/btree"
)

// degree is the B-tree degree used for the recency index.
const degree = 8

type entry struct {
	block uint64
	tick  uint64
	data  []byte
}

func lessTick(a, b *entry) bool {
	return a.tick < b.tick
}

// Cache is a fixed capacity block cache. A nil *Cache is valid and caches
// nothing.
type Cache struct {
	// mu protects the fields below.
	mu sync.Mutex

	capacity int

	// tick is incremented on every access and orders recency.
	tick uint64

	// blocks maps a physical block number to its entry.
	blocks map[uint64]*entry

	// recency orders entries by tick; the minimum is evicted first.
	recency *btree.BTreeG[*entry]

	hits   uint64
	misses uint64
}

// New returns a cache holding at most capacity blocks. A capacity of zero or
// less returns nil, which disables caching.
func New(capacity int) *Cache {
	if capacity <= 0 {
		return nil
	}
	return &Cache{
		capacity: capacity,
		blocks:   make(map[uint64]*entry, capacity),
		recency:  btree.NewG(degree, lessTick),
	}
}

// touch moves e to the most recently used position.
//
// Preconditions: c.mu is locked.
func (c *Cache) touch(e *entry) {
	c.recency.Delete(e)
	c.tick++
	e.tick = c.tick
	c.recency.ReplaceOrInsert(e)
}

// Get copies block into dst and reports whether it was cached. dst must be
// at least as long as the cached block.
func (c *Cache) Get(block uint64, dst []byte) bool {
	if c == nil {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.blocks[block]
	if !ok || len(dst) < len(e.data) {
		c.misses++
		return false
	}
	c.hits++
	copy(dst, e.data)
	c.touch(e)
	return true
}

// Put stores a copy of data as the contents of block, evicting the least
// recently used block if the cache is full.
func (c *Cache) Put(block uint64, data []byte) {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.blocks[block]; ok {
		e.data = append(e.data[:0], data...)
		c.touch(e)
		return
	}
	for len(c.blocks) >= c.capacity {
		oldest, ok := c.recency.DeleteMin()
		if !ok {
			break
		}
		delete(c.blocks, oldest.block)
	}
	c.tick++
	e := &entry{
		block: block,
		tick:  c.tick,
		data:  append([]byte(nil), data...),
	}
	c.blocks[block] = e
	c.recency.ReplaceOrInsert(e)
}

// Len returns the number of cached blocks.
func (c *Cache) Len() int {
	if c == nil {
		return 0
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.blocks)
}

// Stats returns the number of cache hits and misses so far.
func (c *Cache) Stats() (hits, misses uint64) {
	if c == nil {
		return 0, 0
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hits, c.misses
}
