// Tracegate - Log Ingestion Admission Control and Trace Correlation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tracegate

package models

import "errors"

// Sentinel errors shared across stores and services.
var (
	// ErrNotFound indicates a trace or event that does not exist.
	// Correlation queries translate this to a null result, not a failure.
	ErrNotFound = errors.New("not found")

	// ErrStoreUnavailable indicates a backing store that is entirely
	// unreachable. Admission fails open on it; sync surfaces it.
	ErrStoreUnavailable = errors.New("store unavailable")
)
