// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Strata Contributors

package store

import (
	"time"
)

// --- Layer types ---

// Layer identifies one of the three ordered storage tiers a record can
// occupy. Records enter at Interact and are promoted forward, never back.
type Layer string

const (
	LayerInteract Layer = "interact"
	LayerInsights Layer = "insights"
	LayerAssets   Layer = "assets"
)

// Layers returns all layers in promotion order.
func Layers() []Layer {
	return []Layer{LayerInteract, LayerInsights, LayerAssets}
}

// --- Record types ---

// Record is the unit of storage: a piece of agent memory with its
// embedding and access pattern.
type Record struct {
	ID        string
	Text      string
	Embedding []float32
	Layer     Layer

	// Classification metadata, free-form.
	Kind    string
	Tags    []string
	Project string
	Session string

	// Score is a mutable relevance score used for ranking.
	Score float64

	CreatedAt  time.Time
	LastAccess time.Time
	// AccessCount increases monotonically; only read paths
	// (search, get, explicit access updates) bump it.
	AccessCount int64
}

// Clone returns a deep copy of the record. Promotion uses this to build
// the destination-tier record without sharing the embedding slice.
func (r *Record) Clone() *Record {
	cp := *r
	cp.Embedding = make([]float32, len(r.Embedding))
	copy(cp.Embedding, r.Embedding)
	cp.Tags = append([]string(nil), r.Tags...)
	return &cp
}

// --- Search types ---

// Match is a single result from a vector similarity search.
type Match struct {
	ID string
	// Score is cosine similarity; higher = more similar, 1.0 = exact.
	Score float32
}

// --- Stats types ---

// LayerStats summarises one tier of the store.
type LayerStats struct {
	RecordCount     int64
	TotalSizeBytes  int64
	AvgEmbeddingDim float64
}

// IndexStats summarises one tier's vector index.
type IndexStats struct {
	Count         int
	AvgInsertTime time.Duration
	AvgSearchTime time.Duration
}

// CacheStats summarises the embedding cache.
type CacheStats struct {
	Entries   int
	SizeBytes int64
	Hits      int64
	Misses    int64
	HitRate   float64
}

// --- Batch types ---

// BatchError records a single failed record within a batch insert.
type BatchError struct {
	RecordID string
	Err      error
}

// BatchInsertResult reports per-item outcomes of a batch insert.
// Batches are not atomic: Inserted records stay inserted even when
// others in the same batch fail validation.
type BatchInsertResult struct {
	Inserted  int
	Failed    int
	Errors    []BatchError
	TotalTime time.Duration
}

// PromotionResult aggregates the outcome of one promotion cycle.
type PromotionResult struct {
	InteractToInsights int
	InsightsToAssets   int
}
