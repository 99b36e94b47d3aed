// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Strata Contributors

package index_test

import (
	"fmt"
	"math"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/strata-dev/strata/internal/index"
	"github.com/strata-dev/strata/internal/store"
	strataerr "github.com/strata-dev/strata/pkg/errors"
)

const testDims = 8

func newTestIndex(t *testing.T) *index.HNSW {
	t.Helper()
	return index.New(index.Config{Dimensions: testDims})
}

// unitVector returns a normalized pseudo-random vector seeded by n.
func unitVector(n int64) []float32 {
	rng := rand.New(rand.NewSource(n)) //nolint:gosec
	v := make([]float32, testDims)
	var norm float64
	for i := range v {
		v[i] = float32(rng.NormFloat64())
		norm += float64(v[i]) * float64(v[i])
	}
	norm = math.Sqrt(norm)
	for i := range v {
		v[i] = float32(float64(v[i]) / norm)
	}
	return v
}

// axisVector returns the unit vector along the given axis.
func axisVector(axis int) []float32 {
	v := make([]float32, testDims)
	v[axis] = 1
	return v
}

func TestHNSWSearchEmpty(t *testing.T) {
	idx := newTestIndex(t)

	matches, err := idx.Search(axisVector(0), 5)
	require.NoError(t, err)
	assert.Empty(t, matches)
}

func TestHNSWAddAndSearch(t *testing.T) {
	idx := newTestIndex(t)

	require.NoError(t, idx.Add("a", axisVector(0)))
	require.NoError(t, idx.Add("b", axisVector(1)))
	require.NoError(t, idx.Add("c", axisVector(2)))
	assert.Equal(t, 3, idx.Len())

	matches, err := idx.Search(axisVector(1), 1)
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, "b", matches[0].ID)
	assert.InDelta(t, 1.0, matches[0].Score, 1e-6)
}

func TestHNSWSearchOrdering(t *testing.T) {
	idx := newTestIndex(t)

	require.NoError(t, idx.Add("exact", axisVector(0)))
	require.NoError(t, idx.Add("near", []float32{0.9, 0.436, 0, 0, 0, 0, 0, 0}))
	require.NoError(t, idx.Add("far", axisVector(3)))

	matches, err := idx.Search(axisVector(0), 3)
	require.NoError(t, err)
	require.Len(t, matches, 3)
	assert.Equal(t, "exact", matches[0].ID)
	assert.Equal(t, "near", matches[1].ID)
	assert.Equal(t, "far", matches[2].ID)
	for i := 1; i < len(matches); i++ {
		assert.LessOrEqual(t, matches[i].Score, matches[i-1].Score)
	}
}

func TestHNSWSearchKExceedsSize(t *testing.T) {
	idx := newTestIndex(t)

	require.NoError(t, idx.Add("a", axisVector(0)))
	require.NoError(t, idx.Add("b", axisVector(1)))

	matches, err := idx.Search(axisVector(0), 50)
	require.NoError(t, err)
	assert.Len(t, matches, 2)
}

func TestHNSWDimensionMismatch(t *testing.T) {
	idx := newTestIndex(t)

	err := idx.Add("a", make([]float32, testDims+1))
	require.Error(t, err)
	assert.True(t, strataerr.IsDimensionMismatch(err))

	_, err = idx.Search(make([]float32, testDims-1), 3)
	require.Error(t, err)
	assert.True(t, strataerr.IsDimensionMismatch(err))
}

func TestHNSWRejectsNaN(t *testing.T) {
	idx := newTestIndex(t)

	v := axisVector(0)
	v[3] = float32(math.NaN())
	err := idx.Add("a", v)
	require.Error(t, err)
	assert.True(t, strataerr.IsValidation(err))
	assert.Equal(t, strataerr.CodeIndexVectorInvalid, strataerr.CodeOf(err))

	v = axisVector(0)
	v[1] = float32(math.Inf(1))
	err = idx.Add("b", v)
	require.Error(t, err)
	assert.Equal(t, strataerr.CodeIndexVectorInvalid, strataerr.CodeOf(err))
}

func TestHNSWDuplicateIDOverwrites(t *testing.T) {
	idx := newTestIndex(t)

	require.NoError(t, idx.Add("a", axisVector(0)))
	require.NoError(t, idx.Add("a", axisVector(1)))
	assert.Equal(t, 1, idx.Len())

	matches, err := idx.Search(axisVector(1), 1)
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, "a", matches[0].ID)
	assert.InDelta(t, 1.0, matches[0].Score, 1e-6)
}

func TestHNSWRemove(t *testing.T) {
	idx := newTestIndex(t)

	require.NoError(t, idx.Add("a", axisVector(0)))
	require.NoError(t, idx.Add("b", axisVector(1)))

	assert.True(t, idx.Remove("a"))
	assert.False(t, idx.Remove("a"))
	assert.False(t, idx.Remove("missing"))
	assert.Equal(t, 1, idx.Len())

	matches, err := idx.Search(axisVector(0), 2)
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, "b", matches[0].ID)
}

func TestHNSWRecallNearestNeighbor(t *testing.T) {
	idx := index.New(index.Config{Dimensions: testDims, MaxElements: 512})

	const n = 300
	vectors := make(map[string][]float32, n)
	for i := 0; i < n; i++ {
		id := fmt.Sprintf("rec-%03d", i)
		v := unitVector(int64(i + 1))
		vectors[id] = v
		require.NoError(t, idx.Add(id, v))
	}
	require.Equal(t, n, idx.Len())

	// Query with a handful of stored vectors; the exact vector must come
	// back as the top match with similarity ~1.
	for _, seed := range []int{1, 57, 123, 299} {
		id := fmt.Sprintf("rec-%03d", seed)
		matches, err := idx.Search(vectors[id], 5)
		require.NoError(t, err)
		require.NotEmpty(t, matches)
		assert.Equal(t, id, matches[0].ID)
		assert.InDelta(t, 1.0, matches[0].Score, 1e-5)
	}
}

func TestHNSWBatchSearch(t *testing.T) {
	idx := newTestIndex(t)

	for i := 0; i < 4; i++ {
		require.NoError(t, idx.Add(fmt.Sprintf("rec-%d", i), axisVector(i)))
	}

	queries := [][]float32{axisVector(2), axisVector(0), axisVector(3)}
	results, err := idx.BatchSearch(queries, 1)
	require.NoError(t, err)
	require.Len(t, results, 3)
	assert.Equal(t, "rec-2", results[0][0].ID)
	assert.Equal(t, "rec-0", results[1][0].ID)
	assert.Equal(t, "rec-3", results[2][0].ID)
}

func TestHNSWBatchSearchDimensionMismatch(t *testing.T) {
	idx := newTestIndex(t)
	require.NoError(t, idx.Add("a", axisVector(0)))

	_, err := idx.BatchSearch([][]float32{axisVector(0), make([]float32, 3)}, 1)
	require.Error(t, err)
	assert.True(t, strataerr.IsDimensionMismatch(err))
}

func TestHNSWRebuild(t *testing.T) {
	idx := newTestIndex(t)

	require.NoError(t, idx.Add("stale-1", axisVector(0)))
	require.NoError(t, idx.Add("stale-2", axisVector(1)))
	idx.Remove("stale-1")

	now := time.Now().UTC()
	records := []*store.Record{
		{ID: "fresh-1", Text: "one", Embedding: axisVector(2), Layer: store.LayerInteract, CreatedAt: now},
		{ID: "fresh-2", Text: "two", Embedding: axisVector(3), Layer: store.LayerInteract, CreatedAt: now},
	}
	source := func(yield func(*store.Record, error) bool) {
		for _, rec := range records {
			if !yield(rec, nil) {
				return
			}
		}
	}

	require.NoError(t, idx.Rebuild(source))
	assert.Equal(t, 2, idx.Len())

	matches, err := idx.Search(axisVector(0), 5)
	require.NoError(t, err)
	for _, m := range matches {
		assert.NotContains(t, m.ID, "stale")
	}
}

func TestHNSWRebuildSourceError(t *testing.T) {
	idx := newTestIndex(t)

	source := func(yield func(*store.Record, error) bool) {
		yield(nil, assert.AnError)
	}
	err := idx.Rebuild(source)
	require.Error(t, err)
	assert.Equal(t, strataerr.CodeIndexRebuildFailure, strataerr.CodeOf(err))
}

func TestHNSWStats(t *testing.T) {
	idx := newTestIndex(t)

	require.NoError(t, idx.Add("a", axisVector(0)))
	_, err := idx.Search(axisVector(0), 1)
	require.NoError(t, err)

	st := idx.Stats()
	assert.Equal(t, 1, st.Count)
	assert.Greater(t, st.AvgInsertTime, time.Duration(0))
	assert.Greater(t, st.AvgSearchTime, time.Duration(0))
}
