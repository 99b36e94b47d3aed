// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Strata Contributors

package store

import "errors"

// Sentinel errors for store operations.
// These errors can be checked using errors.Is() for classification.
var (
	// ErrNotFound indicates the requested record does not exist in the tier.
	ErrNotFound = errors.New("not found")

	// ErrClosed indicates the store has been closed.
	ErrClosed = errors.New("store closed")
)
