// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Strata Contributors

// Package cache provides the process-local embedding cache. Entries
// live only for the lifetime of the process; nothing is persisted.
package cache

import (
	"crypto/sha256"
	"sync"
	"sync/atomic"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/strata-dev/strata/internal/store"
)

// Config bounds the cache by entry count and by total byte size. Both
// budgets hold at the same time; eviction removes the least recently
// used entries until they do.
type Config struct {
	MaxEntries int
	MaxBytes   int64
}

const (
	defaultMaxEntries = 4096
	defaultMaxBytes   = 64 << 20 // 64 MiB
)

func (c Config) withDefaults() Config {
	if c.MaxEntries <= 0 {
		c.MaxEntries = defaultMaxEntries
	}
	if c.MaxBytes <= 0 {
		c.MaxBytes = defaultMaxBytes
	}
	return c
}

// cacheKey identifies an embedding by text and model. Hashing keeps the
// key fixed-size regardless of input text length.
type cacheKey [sha256.Size]byte

func keyFor(text, model string) cacheKey {
	h := sha256.New()
	h.Write([]byte(model))
	h.Write([]byte{0})
	h.Write([]byte(text))
	var k cacheKey
	h.Sum(k[:0])
	return k
}

type entry struct {
	vector []float32
	size   int64
}

// entrySize charges the vector payload plus key overhead.
func entrySize(text, model string, vector []float32) int64 {
	return int64(len(vector)*4) + int64(len(text)) + int64(len(model))
}

// Compile-time interface check.
var _ store.EmbeddingCache = (*EmbeddingCache)(nil)

// EmbeddingCache is an LRU cache of computed embeddings keyed by
// (text, model). Safe for concurrent use; under concurrent puts for
// the same key the last write wins.
type EmbeddingCache struct {
	mu    sync.Mutex
	cfg   Config
	lru   *lru.Cache[cacheKey, entry]
	bytes int64

	hits   atomic.Int64
	misses atomic.Int64
}

// New creates an embedding cache with the given budgets.
func New(cfg Config) (*EmbeddingCache, error) {
	cfg = cfg.withDefaults()
	c := &EmbeddingCache{cfg: cfg}

	inner, err := lru.NewWithEvict(cfg.MaxEntries, func(_ cacheKey, e entry) {
		c.bytes -= e.size
	})
	if err != nil {
		return nil, err
	}
	c.lru = inner
	return c, nil
}

// Get returns the cached embedding for (text, model), if present. The
// returned slice is shared; callers must not mutate it.
func (c *EmbeddingCache) Get(text, model string) ([]float32, bool) {
	c.mu.Lock()
	e, ok := c.lru.Get(keyFor(text, model))
	c.mu.Unlock()

	if !ok {
		c.misses.Add(1)
		return nil, false
	}
	c.hits.Add(1)
	return e.vector, true
}

// Put stores an embedding, evicting least recently used entries until
// both the entry and byte budgets are satisfied. Vectors larger than
// the whole byte budget are not cached.
func (c *EmbeddingCache) Put(text, model string, vector []float32) {
	size := entrySize(text, model, vector)
	if size > c.cfg.MaxBytes {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	key := keyFor(text, model)
	// Removing an existing entry fires the eviction callback, which
	// releases its byte charge before the fresh entry is added.
	c.lru.Remove(key)

	c.lru.Add(key, entry{vector: vector, size: size})
	c.bytes += size

	for c.bytes > c.cfg.MaxBytes && c.lru.Len() > 1 {
		if _, _, ok := c.lru.RemoveOldest(); !ok {
			break
		}
	}
}

// Clear drops every entry and resets the hit and miss counters.
func (c *EmbeddingCache) Clear() {
	c.mu.Lock()
	c.lru.Purge()
	c.bytes = 0
	c.mu.Unlock()

	c.hits.Store(0)
	c.misses.Store(0)
}

// Stats reports occupancy and hit rate.
func (c *EmbeddingCache) Stats() store.CacheStats {
	c.mu.Lock()
	entries := c.lru.Len()
	bytes := c.bytes
	c.mu.Unlock()

	hits := c.hits.Load()
	misses := c.misses.Load()

	st := store.CacheStats{
		Entries:   entries,
		SizeBytes: bytes,
		Hits:      hits,
		Misses:    misses,
	}
	if total := hits + misses; total > 0 {
		st.HitRate = float64(hits) / float64(total)
	}
	return st
}
