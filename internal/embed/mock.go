// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Strata Contributors

package embed

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"math/rand"

	"github.com/strata-dev/strata/internal/store"
)

// Compile-time interface check.
var _ store.Embedder = (*Mock)(nil)

// Mock is a deterministic embedder: the same text always produces the
// same unit-length vector, and distinct texts almost surely differ. It
// needs no network and serves tests and offline smoke runs.
type Mock struct {
	model      string
	dimensions int
}

// NewMock creates a mock embedder producing vectors of the given width.
func NewMock(dimensions int) *Mock {
	if dimensions <= 0 {
		dimensions = defaultDimensions
	}
	return &Mock{model: "mock-embed-v1", dimensions: dimensions}
}

func (m *Mock) Model() string   { return m.model }
func (m *Mock) Dimensions() int { return m.dimensions }

// Embed derives each vector from a hash of the text, so repeated calls
// are stable across processes.
func (m *Mock) Embed(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		sum := sha256.Sum256([]byte(m.model + "\x00" + text))
		seed := int64(binary.LittleEndian.Uint64(sum[:8])) //nolint:gosec
		rng := rand.New(rand.NewSource(seed))              //nolint:gosec

		v := make([]float32, m.dimensions)
		for j := range v {
			v[j] = float32(rng.NormFloat64())
		}
		normalize(v)
		out[i] = v
	}
	return out, nil
}
