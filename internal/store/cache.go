// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Strata Contributors

package store

import "context"

// EmbeddingCache maps (text, model) to a previously computed embedding.
// Misses never block: the caller computes the vector through the
// Embedder and then calls Put. Concurrent Puts of the same key are
// last-write-wins. Cache state is not persisted across restarts.
type EmbeddingCache interface {
	Get(text, model string) ([]float32, bool)
	Put(text, model string, vector []float32)
	Clear()
	Stats() CacheStats
}

// Embedder turns batches of text into fixed-dimension vectors. It is an
// external collaborator: failures surface as embedding errors and are
// never retried or papered over with placeholder vectors.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)

	// Dimensions returns the fixed dimension of produced vectors.
	Dimensions() int

	// Model identifies the embedding model, used as part of cache keys.
	Model() string
}
