// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Strata Contributors

package store

import (
	"context"
	"iter"
	"time"
)

// LayerStore manages persistent per-tier storage of Records, keyed by id.
//
// Validation failures are rejected before any write; storage failures
// propagate unretried (retry policy belongs to the caller). Operations
// may block on I/O and internal locks.
type LayerStore interface {
	// Insert persists a record into its layer. The record must already
	// pass Validate for the store's configured dimension.
	Insert(ctx context.Context, record *Record) error

	// InsertBatch persists multiple records. Each record is validated
	// independently before any of them is persisted; a failing record
	// never corrupts unrelated records. The batch is not atomic.
	InsertBatch(ctx context.Context, records []*Record) error

	// Get returns the record with the given id in the given layer, or
	// ErrNotFound. Get does not touch access tracking.
	Get(ctx context.Context, layer Layer, id string) (*Record, error)

	// Update rewrites a record's content, score, and metadata in place.
	// The record is re-validated. Access tracking fields are preserved
	// as given.
	Update(ctx context.Context, record *Record) error

	// Delete removes the record, reporting whether it existed.
	Delete(ctx context.Context, layer Layer, id string) (bool, error)

	// Iterate yields every record in the layer. The sequence is finite
	// and each call starts a fresh pass.
	Iterate(ctx context.Context, layer Layer) iter.Seq2[*Record, error]

	// DeleteExpired removes records whose last access is before cutoff,
	// returning how many were removed.
	DeleteExpired(ctx context.Context, layer Layer, cutoff time.Time) (int64, error)

	// UpdateAccess bumps the record's access counter and last-access
	// time. Only read paths call this.
	UpdateAccess(ctx context.Context, layer Layer, id string, at time.Time) error

	// Count returns the number of records in the layer.
	Count(ctx context.Context, layer Layer) (int64, error)

	// Stats summarises one layer.
	Stats(ctx context.Context, layer Layer) (LayerStats, error)

	// SizeOnDisk reports the total bytes used by the backing files.
	SizeOnDisk() (int64, error)

	// Clear removes every record in every layer.
	Clear(ctx context.Context) error

	Close() error
}
