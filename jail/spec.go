// Copyright 2026 The Stockade Authors
// SPDX-License-Identifier: Apache-2.0

package jail

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Spec describes one jail: the target program, the namespaces to
// create, the filesystem to confine it to, and the limits to apply.
// A Spec is constructed once (normally by lib/specfile), validated,
// and consumed by exactly one run. It is never mutated during a run.
type Spec struct {
	// Name identifies the jail in logs and error messages.
	Name string `json:"name" yaml:"name"`

	// Hostname is set inside the jail when a UTS namespace is
	// requested. Empty means the host's name shows through.
	Hostname string `json:"hostname,omitempty" yaml:"hostname,omitempty"`

	// ChrootDir is the confinement root. When set it must exist and
	// be a directory; the child switches its root there after all
	// mounts are installed. Empty means no filesystem confinement.
	ChrootDir string `json:"chroot_dir,omitempty" yaml:"chroot_dir,omitempty"`

	// ExecBin is the path of the program to execute inside the jail,
	// resolved after the root switch. Required.
	ExecBin string `json:"exec_bin" yaml:"exec_bin"`

	// ExecArgs is the full argument vector including argv[0].
	// Defaults to [ExecBin] when empty.
	ExecArgs []string `json:"exec_args" yaml:"exec_args"`

	// Namespace toggles, each independent.
	NewPID   bool `json:"clone_newpid" yaml:"clone_newpid"`
	NewNet   bool `json:"clone_newnet" yaml:"clone_newnet"`
	NewMount bool `json:"clone_newns" yaml:"clone_newns"`
	NewUTS   bool `json:"clone_newuts" yaml:"clone_newuts"`
	NewIPC   bool `json:"clone_newipc" yaml:"clone_newipc"`
	NewUser  bool `json:"clone_newuser" yaml:"clone_newuser"`

	// Resource ceilings, applied with soft == hard so the jailed
	// program cannot raise them back. Zero means no ceiling.
	RlimitAS     uint64 `json:"rlimit_as,omitempty" yaml:"rlimit_as,omitempty"`
	RlimitCPU    uint64 `json:"rlimit_cpu,omitempty" yaml:"rlimit_cpu,omitempty"`
	RlimitNoFile uint64 `json:"rlimit_nofile,omitempty" yaml:"rlimit_nofile,omitempty"`

	// Mounts are installed in order, all before the root switch.
	Mounts []MountSpec `json:"mounts" yaml:"mounts"`

	// UID and GID are the identity the child drops to before exec.
	// Pointers because uid 0 is a legal target distinct from "keep
	// the current identity".
	UID *uint32 `json:"uid,omitempty" yaml:"uid,omitempty"`
	GID *uint32 `json:"gid,omitempty" yaml:"gid,omitempty"`

	// TimeLimit is the wall-clock limit in seconds, enforced by the
	// supervisor. Zero means unlimited.
	TimeLimit uint64 `json:"time_limit,omitempty" yaml:"time_limit,omitempty"`
}

// MountSpec describes one mount inside the confinement root.
type MountSpec struct {
	// Src is the host path to mount (or the filesystem source for
	// non-bind mounts, e.g. "proc").
	Src string `json:"src" yaml:"src"`

	// Dst is the destination, interpreted relative to the
	// confinement root regardless of a leading slash.
	Dst string `json:"dst" yaml:"dst"`

	// FsType is the filesystem type for non-bind mounts.
	FsType string `json:"fstype,omitempty" yaml:"fstype,omitempty"`

	// IsBind selects a bind mount of Src.
	IsBind bool `json:"is_bind" yaml:"is_bind"`

	// RW mounts read-write; the default is read-only.
	RW bool `json:"rw" yaml:"rw"`
}

// DefaultSpec returns the baseline spec: an interactive shell with
// every namespace enabled and nothing else configured. Loaded spec
// files override these values field by field.
func DefaultSpec() *Spec {
	// ExecArgs stays empty so a loaded file that overrides only
	// exec_bin still gets a matching argv from Argv().
	return &Spec{
		Name:     "default",
		ExecBin:  "/bin/sh",
		NewPID:   true,
		NewNet:   true,
		NewMount: true,
		NewUTS:   true,
		NewIPC:   true,
		NewUser:  true,
	}
}

// Validate checks the spec invariants. It is called by the loader
// before a run and again by the supervisor as a defensive re-check.
func (s *Spec) Validate() error {
	if s.ExecBin == "" {
		return stageErrorf(StageValidation, "exec_bin must not be empty")
	}

	if s.ChrootDir != "" {
		info, err := os.Stat(s.ChrootDir)
		if err != nil {
			return stageError(StageValidation, fmt.Errorf("chroot_dir %q: %w", s.ChrootDir, err))
		}
		if !info.IsDir() {
			return stageErrorf(StageValidation, "chroot_dir %q is not a directory", s.ChrootDir)
		}
	}

	seen := make(map[string]int, len(s.Mounts))
	for i, m := range s.Mounts {
		if err := m.validate(); err != nil {
			return stageError(StageValidation, fmt.Errorf("mounts[%d]: %w", i, err))
		}
		dst := m.normalizedDst()
		if prev, ok := seen[dst]; ok {
			return stageErrorf(StageValidation, "mounts[%d]: destination %q duplicates mounts[%d]", i, m.Dst, prev)
		}
		seen[dst] = i
	}

	return nil
}

// Argv returns the argument vector to exec, defaulting to [ExecBin].
func (s *Spec) Argv() []string {
	if len(s.ExecArgs) > 0 {
		return s.ExecArgs
	}
	return []string{s.ExecBin}
}

func (m *MountSpec) validate() error {
	if m.Src == "" {
		return fmt.Errorf("src is required")
	}
	if m.Dst == "" {
		return fmt.Errorf("dst is required")
	}
	// Reject traversal outright rather than silently re-rooting it:
	// a spec that says "../etc" is wrong, not creatively confined.
	for _, part := range strings.Split(filepath.ToSlash(m.Dst), "/") {
		if part == ".." {
			return fmt.Errorf("dst %q escapes the confinement root", m.Dst)
		}
	}
	return nil
}

// normalizedDst is the destination as an absolute path inside the
// confinement root, used for uniqueness checks and target resolution.
func (m *MountSpec) normalizedDst() string {
	return filepath.Clean("/" + m.Dst)
}

// targetPath resolves the mount destination under root. The
// normalization guarantees the result stays inside root.
func (m *MountSpec) targetPath(root string) string {
	return filepath.Join(root, m.normalizedDst())
}
