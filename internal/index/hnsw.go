// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Strata Contributors

// Package index implements the in-process approximate nearest-neighbor
// index used per storage tier: a hierarchical navigable small-world
// (HNSW) graph over cosine similarity.
//
// Vectors are expected pre-normalized by the embedding provider; the
// index does not re-normalize, so the dot product is the similarity.
package index

import (
	"container/heap"
	"context"
	"iter"
	"math"
	"math/rand"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/strata-dev/strata/internal/store"
	strataerr "github.com/strata-dev/strata/pkg/errors"
)

// Config holds the HNSW tunables.
type Config struct {
	Dimensions int

	// MaxConnections is the graph degree (M). Defaults to 16.
	MaxConnections int

	// EfConstruction is the build-time candidate list size. Defaults to 200.
	EfConstruction int

	// EfSearch is the query-time candidate list size. Defaults to 50.
	EfSearch int

	// MaxElements is a capacity hint used to presize internal slices.
	MaxElements int
}

func (c Config) withDefaults() Config {
	if c.MaxConnections <= 0 {
		c.MaxConnections = 16
	}
	if c.EfConstruction <= 0 {
		c.EfConstruction = 200
	}
	if c.EfSearch <= 0 {
		c.EfSearch = 50
	}
	if c.MaxElements <= 0 {
		c.MaxElements = 1024
	}
	return c
}

// node is one element of the graph. Neighbor lists are per level,
// level 0 holding the densest connections.
type node struct {
	id        string
	vector    []float32
	neighbors [][]uint32
	deleted   bool
}

// Compile-time interface check.
var _ store.VectorIndex = (*HNSW)(nil)

// HNSW is a layered-graph ANN index. Safe for concurrent use: searches
// share a read lock, mutations take the write lock, Rebuild holds it
// exclusively for the whole pass.
type HNSW struct {
	mu  sync.RWMutex
	cfg Config

	nodes []*node
	byID  map[string]uint32

	entry    uint32
	maxLevel int
	live     int

	// levelMult controls the level distribution (1/ln(M)).
	levelMult float64
	rng       *rand.Rand

	// Latency counters are atomic so searches can record under the
	// shared read lock.
	insertTotalNs atomic.Int64
	insertOps     atomic.Int64
	searchTotalNs atomic.Int64
	searchOps     atomic.Int64
}

// New creates an empty index with the given tunables.
func New(cfg Config) *HNSW {
	cfg = cfg.withDefaults()
	return &HNSW{
		cfg:       cfg,
		nodes:     make([]*node, 0, cfg.MaxElements),
		byID:      make(map[string]uint32, cfg.MaxElements),
		maxLevel:  -1,
		levelMult: 1 / math.Log(float64(cfg.MaxConnections)),
		rng:       rand.New(rand.NewSource(time.Now().UnixNano())), //nolint:gosec // level assignment, not crypto
	}
}

// Add inserts a vector under id. Inserting a duplicate id overwrites
// the prior vector: the old node is tombstoned and a fresh node joins
// the graph.
func (h *HNSW) Add(id string, vector []float32) error {
	if len(vector) != h.cfg.Dimensions {
		return strataerr.New(strataerr.CodeIndexDimensionMismatch, "vector dimension mismatch",
			strataerr.FieldRecordID(id),
			strataerr.FieldDimensions(h.cfg.Dimensions, len(vector)))
	}
	for i, v := range vector {
		if math.IsNaN(float64(v)) || math.IsInf(float64(v), 0) {
			return strataerr.Errorf(strataerr.CodeIndexVectorInvalid, "vector contains NaN or Inf at index %d", i)
		}
	}

	start := time.Now()
	h.mu.Lock()
	defer func() {
		h.insertTotalNs.Add(time.Since(start).Nanoseconds())
		h.insertOps.Add(1)
		h.mu.Unlock()
	}()

	h.addLocked(id, vector)
	return nil
}

// addLocked runs the HNSW insertion. Caller holds the write lock and
// has validated the vector.
func (h *HNSW) addLocked(id string, vector []float32) {
	if prev, ok := h.byID[id]; ok {
		h.nodes[prev].deleted = true
		h.live--
	}

	level := h.randomLevel()
	n := &node{
		id:        id,
		vector:    vector,
		neighbors: make([][]uint32, level+1),
	}
	internal := uint32(len(h.nodes))
	h.nodes = append(h.nodes, n)
	h.byID[id] = internal
	h.live++

	if h.maxLevel < 0 {
		// First element becomes the entry point.
		h.entry = internal
		h.maxLevel = level
		return
	}

	curr := h.entry
	// Greedy descent through the upper levels.
	for l := h.maxLevel; l > level; l-- {
		curr = h.greedyClosest(vector, curr, l)
	}

	for l := min(level, h.maxLevel); l >= 0; l-- {
		candidates := h.searchLayer(vector, curr, h.cfg.EfConstruction, l)
		neighbors := h.selectNeighbors(candidates, h.maxConnections(l))
		n.neighbors[l] = neighbors

		for _, nb := range neighbors {
			h.link(nb, internal, l)
		}
		if len(candidates) > 0 {
			curr = candidates[0].internal
		}
	}

	if level > h.maxLevel {
		h.maxLevel = level
		h.entry = internal
	}
}

// Remove tombstones the vector for id, reporting whether it existed.
// Graph edges through tombstoned nodes are kept for connectivity and
// reclaimed on the next Rebuild.
func (h *HNSW) Remove(id string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	internal, ok := h.byID[id]
	if !ok {
		return false
	}
	h.nodes[internal].deleted = true
	delete(h.byID, id)
	h.live--
	return true
}

// Search returns up to k matches ordered by descending similarity.
// Querying an empty index returns an empty result.
func (h *HNSW) Search(query []float32, k int) ([]store.Match, error) {
	if len(query) != h.cfg.Dimensions {
		return nil, strataerr.New(strataerr.CodeIndexDimensionMismatch, "query dimension mismatch",
			strataerr.FieldDimensions(h.cfg.Dimensions, len(query)))
	}
	if k <= 0 {
		return []store.Match{}, nil
	}

	start := time.Now()
	h.mu.RLock()
	defer func() {
		h.searchTotalNs.Add(time.Since(start).Nanoseconds())
		h.searchOps.Add(1)
		h.mu.RUnlock()
	}()

	if h.live == 0 {
		return []store.Match{}, nil
	}

	ef := h.cfg.EfSearch
	if ef < k {
		ef = k
	}

	curr := h.entry
	for l := h.maxLevel; l > 0; l-- {
		curr = h.greedyClosest(query, curr, l)
	}
	candidates := h.searchLayer(query, curr, ef, 0)

	matches := make([]store.Match, 0, min(k, len(candidates)))
	for _, c := range candidates {
		n := h.nodes[c.internal]
		if n.deleted {
			continue
		}
		matches = append(matches, store.Match{ID: n.id, Score: c.sim})
		if len(matches) == k {
			break
		}
	}
	return matches, nil
}

// BatchSearch runs one search per query in parallel, bounded by the
// available parallelism, preserving query order in the results.
func (h *HNSW) BatchSearch(queries [][]float32, k int) ([][]store.Match, error) {
	for i, q := range queries {
		if len(q) != h.cfg.Dimensions {
			return nil, strataerr.Errorf(strataerr.CodeIndexDimensionMismatch,
				"query %d: dimension mismatch: want %d, got %d", i, h.cfg.Dimensions, len(q))
		}
	}

	results := make([][]store.Match, len(queries))
	sem := semaphore.NewWeighted(int64(runtime.GOMAXPROCS(0)))
	var wg sync.WaitGroup
	var errOnce sync.Once
	var firstErr error

	for i, q := range queries {
		wg.Add(1)
		_ = sem.Acquire(context.Background(), 1)
		go func(i int, q []float32) {
			defer wg.Done()
			defer sem.Release(1)

			matches, err := h.Search(q, k)
			if err != nil {
				errOnce.Do(func() { firstErr = err })
				return
			}
			results[i] = matches
		}(i, q)
	}

	wg.Wait()
	if firstErr != nil {
		return nil, firstErr
	}
	return results, nil
}

// Rebuild discards the graph and re-indexes every record in source.
// The write lock is held for the whole pass, so searches wait.
func (h *HNSW) Rebuild(source iter.Seq2[*store.Record, error]) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.nodes = h.nodes[:0]
	h.byID = make(map[string]uint32, h.cfg.MaxElements)
	h.maxLevel = -1
	h.live = 0

	for rec, err := range source {
		if err != nil {
			return strataerr.Wrap(err, strataerr.CodeIndexRebuildFailure, "reading rebuild source")
		}
		if len(rec.Embedding) != h.cfg.Dimensions {
			return strataerr.New(strataerr.CodeIndexRebuildFailure, "re-indexing record: dimension mismatch",
				strataerr.FieldRecordID(rec.ID),
				strataerr.FieldDimensions(h.cfg.Dimensions, len(rec.Embedding)))
		}
		h.addLocked(rec.ID, rec.Embedding)
	}
	return nil
}

// Len returns the number of live vectors in the index.
func (h *HNSW) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.live
}

// Stats reports element count and mean operation latencies.
func (h *HNSW) Stats() store.IndexStats {
	h.mu.RLock()
	defer h.mu.RUnlock()

	st := store.IndexStats{Count: h.live}
	if ops := h.insertOps.Load(); ops > 0 {
		st.AvgInsertTime = time.Duration(h.insertTotalNs.Load() / ops)
	}
	if ops := h.searchOps.Load(); ops > 0 {
		st.AvgSearchTime = time.Duration(h.searchTotalNs.Load() / ops)
	}
	return st
}

// ---------- graph internals (callers hold the lock) ----------

// maxConnections returns the degree cap for a level; level 0 carries
// twice the configured degree, as in the reference HNSW construction.
func (h *HNSW) maxConnections(level int) int {
	if level == 0 {
		return h.cfg.MaxConnections * 2
	}
	return h.cfg.MaxConnections
}

func (h *HNSW) randomLevel() int {
	level := int(math.Floor(-math.Log(h.rng.Float64()) * h.levelMult))
	// Cap levels so neighbor slices stay small; 16 is far beyond any
	// realistic element count.
	if level > 16 {
		level = 16
	}
	return level
}

// greedyClosest walks level l from entry toward the query until no
// neighbor improves similarity.
func (h *HNSW) greedyClosest(query []float32, entry uint32, level int) uint32 {
	curr := entry
	currSim := dot(query, h.nodes[curr].vector)
	for {
		improved := false
		if level < len(h.nodes[curr].neighbors) {
			for _, nb := range h.nodes[curr].neighbors[level] {
				if sim := dot(query, h.nodes[nb].vector); sim > currSim {
					curr, currSim = nb, sim
					improved = true
				}
			}
		}
		if !improved {
			return curr
		}
	}
}

type candidate struct {
	internal uint32
	sim      float32
}

// searchLayer performs the beam search at one level, returning up to ef
// candidates ordered by descending similarity.
func (h *HNSW) searchLayer(query []float32, entry uint32, ef int, level int) []candidate {
	visited := map[uint32]struct{}{entry: {}}

	entrySim := dot(query, h.nodes[entry].vector)
	// frontier pops the most similar candidate first; results keeps the
	// ef best seen, least similar on top for cheap eviction.
	frontier := &maxHeap{{entry, entrySim}}
	results := &minHeap{{entry, entrySim}}

	for frontier.Len() > 0 {
		c := heap.Pop(frontier).(candidate)
		worst := (*results)[0].sim
		if c.sim < worst && results.Len() >= ef {
			break
		}

		if level < len(h.nodes[c.internal].neighbors) {
			for _, nb := range h.nodes[c.internal].neighbors[level] {
				if _, seen := visited[nb]; seen {
					continue
				}
				visited[nb] = struct{}{}

				sim := dot(query, h.nodes[nb].vector)
				if results.Len() < ef || sim > (*results)[0].sim {
					heap.Push(frontier, candidate{nb, sim})
					heap.Push(results, candidate{nb, sim})
					if results.Len() > ef {
						heap.Pop(results)
					}
				}
			}
		}
	}

	out := make([]candidate, results.Len())
	for i := len(out) - 1; i >= 0; i-- {
		out[i] = heap.Pop(results).(candidate)
	}
	return out
}

// selectNeighbors keeps the m most similar candidates.
func (h *HNSW) selectNeighbors(candidates []candidate, m int) []uint32 {
	if len(candidates) > m {
		candidates = candidates[:m]
	}
	out := make([]uint32, len(candidates))
	for i, c := range candidates {
		out[i] = c.internal
	}
	return out
}

// link adds target to n's neighbor list at level, trimming back to the
// degree cap by similarity when the list overflows.
func (h *HNSW) link(n, target uint32, level int) {
	nd := h.nodes[n]
	for level >= len(nd.neighbors) {
		nd.neighbors = append(nd.neighbors, nil)
	}
	nd.neighbors[level] = append(nd.neighbors[level], target)

	limit := h.maxConnections(level)
	if len(nd.neighbors[level]) <= limit {
		return
	}

	// Overflow: keep the most similar neighbors up to the degree cap.
	cands := make([]candidate, 0, len(nd.neighbors[level]))
	for _, nb := range nd.neighbors[level] {
		cands = append(cands, candidate{nb, dot(nd.vector, h.nodes[nb].vector)})
	}
	sortBySimDesc(cands)
	nd.neighbors[level] = nd.neighbors[level][:0]
	for i := 0; i < limit; i++ {
		nd.neighbors[level] = append(nd.neighbors[level], cands[i].internal)
	}
}

func sortBySimDesc(cands []candidate) {
	// Insertion sort: neighbor lists are tiny (<= 2M+1).
	for i := 1; i < len(cands); i++ {
		for j := i; j > 0 && cands[j].sim > cands[j-1].sim; j-- {
			cands[j], cands[j-1] = cands[j-1], cands[j]
		}
	}
}

// dot computes the inner product, which equals cosine similarity for
// pre-normalized vectors.
func dot(a, b []float32) float32 {
	var sum float32
	for i := range a {
		sum += a[i] * b[i]
	}
	return sum
}

// ---------- heaps ----------

// maxHeap pops the highest-similarity candidate first.
type maxHeap []candidate

func (q maxHeap) Len() int           { return len(q) }
func (q maxHeap) Less(i, j int) bool { return q[i].sim > q[j].sim }
func (q maxHeap) Swap(i, j int)      { q[i], q[j] = q[j], q[i] }
func (q *maxHeap) Push(x any)        { *q = append(*q, x.(candidate)) }
func (q *maxHeap) Pop() any {
	old := *q
	n := len(old)
	c := old[n-1]
	*q = old[:n-1]
	return c
}

// minHeap keeps the least similar of the retained set on top.
type minHeap []candidate

func (q minHeap) Len() int           { return len(q) }
func (q minHeap) Less(i, j int) bool { return q[i].sim < q[j].sim }
func (q minHeap) Swap(i, j int)      { q[i], q[j] = q[j], q[i] }
func (q *minHeap) Push(x any)        { *q = append(*q, x.(candidate)) }
func (q *minHeap) Pop() any {
	old := *q
	n := len(old)
	c := old[n-1]
	*q = old[:n-1]
	return c
}
