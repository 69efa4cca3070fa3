// Copyright 2026 The Stockade Authors
// SPDX-License-Identifier: Apache-2.0

package jail

import (
	"fmt"
	"os"
	"path/filepath"
)

// identityMapper installs the single-entry identity mapping for a
// freshly created user namespace: uid 0 inside the jail maps to the
// invoking user outside it. The outer uid/gid come from the
// supervisor's payload because the child's own getuid() reads the
// overflow ID until the mapping lands.
//
// The kernel dictates the write order. gid_map is rejected while
// setgroups is still permitted in an unmapped user namespace, so the
// sequence is uid_map, then setgroups=deny, then gid_map. There is no
// partial-mapping recovery: any failed write aborts the run before the
// privilege drop, since an incompletely mapped namespace leaves the
// process without a coherent identity.
type identityMapper struct {
	outerUID int
	outerGID int

	// dir is the proc directory holding the mapping files, normally
	// /proc/self. Tests point it at a scratch directory.
	dir string

	// write performs one full mapping write. Tests replace it to
	// observe the sequence.
	write func(path, contents string) error
}

func newIdentityMapper(outerUID, outerGID int) *identityMapper {
	return &identityMapper{
		outerUID: outerUID,
		outerGID: outerGID,
		dir:      "/proc/self",
		write:    writeMappingFile,
	}
}

func (m *identityMapper) apply() error {
	steps := []struct {
		file     string
		contents string
	}{
		{"uid_map", fmt.Sprintf("0 %d 1", m.outerUID)},
		{"setgroups", "deny"},
		{"gid_map", fmt.Sprintf("0 %d 1", m.outerGID)},
	}
	for _, step := range steps {
		path := filepath.Join(m.dir, step.file)
		if err := m.write(path, step.contents); err != nil {
			return stageErrorf(StageMapping, "write %s: %w", path, err)
		}
	}
	return nil
}

// writeMappingFile writes the whole mapping in a single write(2); the
// kernel rejects piecemeal writes to these files.
func writeMappingFile(path, contents string) error {
	file, err := os.OpenFile(path, os.O_WRONLY, 0)
	if err != nil {
		return err
	}
	defer file.Close()
	if _, err := file.WriteString(contents); err != nil {
		return err
	}
	return nil
}
