// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Strata Contributors

package store

import "iter"

// VectorIndex is an approximate nearest-neighbor index over dense
// float32 vectors, one instance per tier.
//
// All implementations must be safe for concurrent use; Rebuild takes
// exclusive access internally.
type VectorIndex interface {
	// Add inserts or overwrites the vector for id.
	Add(id string, vector []float32) error

	// Remove deletes a vector by id, reporting whether it existed.
	Remove(id string) bool

	// Search returns up to k matches ordered by descending similarity.
	// An empty index yields an empty result, not an error; k larger
	// than the element count returns everything.
	Search(query []float32, k int) ([]Match, error)

	// BatchSearch runs one search per query in parallel, preserving
	// query order in the results.
	BatchSearch(queries [][]float32, k int) ([][]Match, error)

	// Rebuild discards the graph and re-indexes from source. Used after
	// bulk corruption recovery.
	Rebuild(source iter.Seq2[*Record, error]) error

	// Len returns the number of indexed vectors.
	Len() int

	// Stats reports element count and rolling operation latencies.
	Stats() IndexStats
}
