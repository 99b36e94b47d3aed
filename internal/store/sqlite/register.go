// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Strata Contributors

package sqlite

import (
	"path/filepath"

	"github.com/strata-dev/strata/internal/store"
)

func init() {
	store.RegisterBackend("sqlite", newLayerStore)
}

func newLayerStore(dataPath string, dimensions int) (store.LayerStore, error) {
	return NewLayerStore(filepath.Join(dataPath, "records.db"), dimensions)
}
