// Copyright 2026 The Stockade Authors
// SPDX-License-Identifier: Apache-2.0

// Package process provides the shared entrypoint error handler for
// Stockade binaries.
package process

import (
	"fmt"
	"os"
)

// Fatal writes "error: err" to stderr and exits with code 1. Use it in
// main() for errors from run() where the structured logger may not be
// initialized.
func Fatal(err error) {
	fmt.Fprintf(os.Stderr, "error: %v\n", err)
	os.Exit(1)
}
