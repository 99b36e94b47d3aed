// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Strata Contributors

package store

import (
	"sync"

	strataerr "github.com/strata-dev/strata/pkg/errors"
)

// defaultDimensions is the default embedding dimension (matches common
// sentence-transformer models).
const defaultDimensions = 768

// LayerStoreFactory creates a layer store rooted at a directory path
// with the given vector dimensions.
type LayerStoreFactory func(dataPath string, dimensions int) (LayerStore, error)

var (
	factories   = map[string]LayerStoreFactory{}
	factoriesMu sync.RWMutex
)

// RegisterBackend registers a factory function for a named storage
// backend. Backend packages call this from init(). Goroutine-safe.
func RegisterBackend(name string, factory LayerStoreFactory) {
	factoriesMu.Lock()
	defer factoriesMu.Unlock()
	factories[name] = factory
}

// resolveBackend returns the effective backend name, defaulting to "sqlite".
func resolveBackend(cfg *StorageConfig) string {
	if cfg.Backend == "" {
		return "sqlite"
	}
	return cfg.Backend
}

// NewLayerStore creates the layer store for the configured backend.
// The dataPath directory is used to derive backing file paths.
func NewLayerStore(cfg *StorageConfig, dataPath string) (LayerStore, error) {
	backend := resolveBackend(cfg)

	factoriesMu.RLock()
	factory, ok := factories[backend]
	factoriesMu.RUnlock()
	if !ok {
		return nil, strataerr.Errorf(strataerr.CodeStoreBackendUnsupported, "unsupported storage backend: %q", backend)
	}

	dims := defaultDimensions
	if cfg.Dimensions > 0 {
		dims = cfg.Dimensions
	}

	return factory(dataPath, dims)
}
