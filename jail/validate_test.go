// Copyright 2026 The Stockade Authors
// SPDX-License-Identifier: Apache-2.0

package jail

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestValidatorNilSpec(t *testing.T) {
	t.Parallel()

	v := NewValidator()
	v.ValidateAll(nil)

	if !v.HasErrors() {
		t.Error("nil spec should fail validation")
	}
}

func TestValidatorMissingChroot(t *testing.T) {
	t.Parallel()

	v := NewValidator()
	spec := &Spec{ExecBin: "/bin/sh", ChrootDir: filepath.Join(t.TempDir(), "missing")}
	// Spec.Validate already rejects the missing directory; the chroot
	// check reports it by name as well.
	v.ValidateChrootDir(spec)

	if !v.HasErrors() {
		t.Error("missing chroot_dir should fail")
	}
}

func TestValidatorExecInsideChroot(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	binDir := filepath.Join(root, "bin")
	if err := os.MkdirAll(binDir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(binDir, "app"), []byte("#!/bin/sh\n"), 0o755); err != nil {
		t.Fatal(err)
	}

	v := NewValidator()
	v.ValidateExecutable(&Spec{ExecBin: "/bin/app", ChrootDir: root})
	if v.HasErrors() {
		t.Errorf("executable present in chroot should pass: %+v", v.Results())
	}

	v = NewValidator()
	v.ValidateExecutable(&Spec{ExecBin: "/bin/gone", ChrootDir: root})
	if !v.HasErrors() {
		t.Error("missing executable should fail")
	}
}

func TestValidatorMountCoveredExecWarns(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	v := NewValidator()
	v.ValidateExecutable(&Spec{
		ExecBin:   "/bin/sh",
		ChrootDir: root,
		Mounts:    []MountSpec{{Src: "/bin", Dst: "/bin", IsBind: true}},
	})

	if v.HasErrors() {
		t.Errorf("mount-covered executable should warn, not fail: %+v", v.Results())
	}
	warned := false
	for _, r := range v.Results() {
		if r.Name == "exec" && r.Warning {
			warned = true
		}
	}
	if !warned {
		t.Error("expected a warning for a mount-covered executable")
	}
}

func TestValidatorMountSources(t *testing.T) {
	t.Parallel()

	v := NewValidator()
	v.ValidateMountSources(&Spec{
		ExecBin: "/bin/sh",
		Mounts: []MountSpec{
			{Src: "proc", Dst: "/proc", FsType: "proc"},
			{Src: filepath.Join(t.TempDir(), "missing"), Dst: "/data", IsBind: true},
		},
	})

	if !v.HasErrors() {
		t.Error("missing bind source should fail; virtual sources are skipped")
	}
}

func TestValidatorPrintResults(t *testing.T) {
	t.Parallel()

	v := NewValidator()
	v.pass("spec", "loaded: test")
	v.warn("chroot", "no chroot_dir set")
	v.fail("exec", "not found")

	var out strings.Builder
	v.PrintResults(&out)
	got := out.String()

	for _, want := range []string{"✓ spec", "⚠ chroot", "✗ exec", "Validation failed with 1 error(s)"} {
		if !strings.Contains(got, want) {
			t.Errorf("output missing %q:\n%s", want, got)
		}
	}
}
