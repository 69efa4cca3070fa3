// Copyright 2026 The Stockade Authors
// SPDX-License-Identifier: Apache-2.0

package specfile

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"

	"github.com/stockade-project/stockade/jail"
)

// Load reads, parses, and validates a spec file. The syntax is chosen
// by extension; anything unrecognized is treated as JSON, which keeps
// extension-less files and shell pipelines working.
func Load(path string) (*jail.Spec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read spec file: %w", err)
	}

	spec, err := Parse(data, filepath.Ext(path))
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return spec, nil
}

// Parse decodes spec data in the syntax implied by ext (".yaml",
// ".yml", ".json", ".jsonc", or anything else for JSON), applies it
// over the baseline spec, and validates the result.
func Parse(data []byte, ext string) (*jail.Spec, error) {
	spec, err := Decode(data, ext)
	if err != nil {
		return nil, err
	}
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	return spec, nil
}

// Decode parses spec data without validating it. The validate command
// uses this so a broken spec still produces a full pre-flight report
// instead of stopping at the first invariant.
func Decode(data []byte, ext string) (*jail.Spec, error) {
	spec := jail.DefaultSpec()

	switch strings.ToLower(ext) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, spec); err != nil {
			return nil, err
		}
	default:
		// Strip comments and trailing commas before parsing as
		// standard JSON.
		stripped := jsonc.ToJSON(data)
		if err := json.Unmarshal(stripped, spec); err != nil {
			return nil, err
		}
	}

	return spec, nil
}
