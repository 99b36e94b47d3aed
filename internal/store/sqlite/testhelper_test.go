// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Strata Contributors

package sqlite_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/strata-dev/strata/internal/store"
	"github.com/strata-dev/strata/internal/store/sqlite"
)

// testDir creates a temp directory for a test and returns it.
func testDir(t *testing.T) string {
	t.Helper()
	dir, err := os.MkdirTemp("", "strata-test-*")
	require.NoError(t, err)
	t.Cleanup(func() { os.RemoveAll(dir) })
	return dir
}

// testDBPath returns a temp SQLite database path.
func testDBPath(t *testing.T, name string) string {
	t.Helper()
	return filepath.Join(testDir(t), name+".db")
}

// newTestStore opens a layer store over a fresh database with small
// test embeddings.
func newTestStore(t *testing.T, name string, dims int) *sqlite.LayerStore {
	t.Helper()
	ls, err := sqlite.NewLayerStore(testDBPath(t, name), dims)
	require.NoError(t, err)
	t.Cleanup(func() { _ = ls.Close() })
	return ls
}

// record builds a valid test record.
func record(id, text string, layer store.Layer, embedding []float32) *store.Record {
	return &store.Record{
		ID:        id,
		Text:      text,
		Embedding: embedding,
		Layer:     layer,
		CreatedAt: time.Now().UTC().Truncate(time.Millisecond),
	}
}
