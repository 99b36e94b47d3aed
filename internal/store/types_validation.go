// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Strata Contributors

package store

import (
	strataerr "github.com/strata-dev/strata/pkg/errors"
)

// Valid reports whether the layer is a known storage tier.
func (l Layer) Valid() bool {
	switch l {
	case LayerInteract, LayerInsights, LayerAssets:
		return true
	default:
		return false
	}
}

// Next returns the destination tier for a promotion out of l.
// The ordering is forward-only: Interact -> Insights -> Assets.
// ok is false for Assets (terminal) and for unknown layers.
func (l Layer) Next() (next Layer, ok bool) {
	switch l {
	case LayerInteract:
		return LayerInsights, true
	case LayerInsights:
		return LayerAssets, true
	default:
		return "", false
	}
}

// Validate checks that the Record is storable at the given embedding
// dimension. It runs before any persistence; a failing record leaves
// no partial state behind.
func (r *Record) Validate(dimensions int) error {
	if r.ID == "" {
		return strataerr.New(strataerr.CodeStoreRecordInvalid, "record: ID is required")
	}
	if r.Text == "" {
		return strataerr.New(strataerr.CodeStoreRecordInvalid, "record: Text must be non-empty",
			strataerr.FieldRecordID(r.ID))
	}
	if !r.Layer.Valid() {
		return strataerr.Errorf(strataerr.CodeStoreLayerInvalid, "record %s: invalid layer %q", r.ID, r.Layer)
	}
	if len(r.Embedding) != dimensions {
		return strataerr.New(strataerr.CodeStoreRecordInvalid, "record: embedding dimension mismatch",
			strataerr.FieldRecordID(r.ID),
			strataerr.FieldDimensions(dimensions, len(r.Embedding)))
	}
	if r.CreatedAt.IsZero() {
		return strataerr.New(strataerr.CodeStoreRecordInvalid, "record: CreatedAt is required",
			strataerr.FieldRecordID(r.ID))
	}
	if r.AccessCount < 0 {
		return strataerr.Errorf(strataerr.CodeStoreRecordInvalid, "record %s: AccessCount must be >= 0, got %d", r.ID, r.AccessCount)
	}
	return nil
}
