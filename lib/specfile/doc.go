// Copyright 2026 The Stockade Authors
// SPDX-License-Identifier: Apache-2.0

// Package specfile loads jail specs from disk.
//
// A spec file is the single source of truth for one jail: there are no
// environment-variable overrides and no merging of multiple files, so
// what the operator wrote is exactly what runs. Files are JSON by
// default, extended with // line comments, /* block comments */, and
// trailing commas (.json/.jsonc); YAML (.yaml/.yml) carries the same
// field names. Fields the file omits keep the baseline values from
// [jail.DefaultSpec].
package specfile
