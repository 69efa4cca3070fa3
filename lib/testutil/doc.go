// Copyright 2026 The Stockade Authors
// SPDX-License-Identifier: Apache-2.0

// Package testutil provides shared test helpers for Stockade packages.
//
// [RequireReceive] encapsulates the timeout safety valve pattern
// (select with time.After fallback) so that individual tests do not
// need direct time.After calls. Tests that supervise real child
// processes use it to fail loudly instead of hanging when a kill path
// regresses.
//
// All helpers call t.Fatalf on failure rather than returning errors,
// since test setup failures are not recoverable.
//
// This package has no Stockade-internal dependencies.
package testutil
