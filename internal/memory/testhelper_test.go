// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Strata Contributors

package memory_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/strata-dev/strata/internal/cache"
	"github.com/strata-dev/strata/internal/embed"
	"github.com/strata-dev/strata/internal/memory"
	"github.com/strata-dev/strata/internal/store"
	"github.com/strata-dev/strata/internal/store/sqlite"
)

const testDims = 8

// testDeps bundles the collaborators a facade test needs direct access to.
type testDeps struct {
	store    *sqlite.LayerStore
	cache    *cache.EmbeddingCache
	embedder *embed.Mock
}

func newTestDeps(t *testing.T) testDeps {
	t.Helper()

	st, err := sqlite.NewLayerStore(filepath.Join(t.TempDir(), "records.db"), testDims)
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	c, err := cache.New(cache.Config{})
	require.NoError(t, err)

	return testDeps{store: st, cache: c, embedder: embed.NewMock(testDims)}
}

func newTestVectorStore(t *testing.T, deps testDeps, mutate ...func(*memory.Options)) *memory.VectorStore {
	t.Helper()

	opts := memory.Options{
		Store:    deps.store,
		Cache:    deps.cache,
		Embedder: deps.embedder,
		Policy:   memory.DefaultPromotionPolicy(),
	}
	for _, m := range mutate {
		m(&opts)
	}

	vs, err := memory.New(context.Background(), opts)
	require.NoError(t, err)
	return vs
}

// embedText runs one text through the mock embedder.
func embedText(t *testing.T, e *embed.Mock, text string) []float32 {
	t.Helper()
	vecs, err := e.Embed(context.Background(), []string{text})
	require.NoError(t, err)
	return vecs[0]
}

// testRecord builds a valid record in the given layer, embedding its
// own text.
func testRecord(t *testing.T, e *embed.Mock, id, text string, layer store.Layer) *store.Record {
	t.Helper()
	return &store.Record{
		ID:        id,
		Text:      text,
		Embedding: embedText(t, e, text),
		Layer:     layer,
		CreatedAt: time.Now().UTC(),
	}
}
