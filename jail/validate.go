// Copyright 2026 The Stockade Authors
// SPDX-License-Identifier: Apache-2.0

package jail

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// ValidationResult holds the result of a single pre-flight check.
type ValidationResult struct {
	Name    string
	Passed  bool
	Message string
	Warning bool // True if this is a warning, not an error.
}

// Validator performs pre-flight validation for a jail spec. It checks
// the things that would otherwise fail deep inside the child, so the
// operator gets one readable report instead of a stage error.
type Validator struct {
	results []ValidationResult
	errors  int
}

// NewValidator creates a new validator.
func NewValidator() *Validator {
	return &Validator{
		results: make([]ValidationResult, 0),
	}
}

// Results returns all validation results.
func (v *Validator) Results() []ValidationResult {
	return v.results
}

// HasErrors returns true if any validation failed.
func (v *Validator) HasErrors() bool {
	return v.errors > 0
}

// pass records a successful validation.
func (v *Validator) pass(name, message string) {
	v.results = append(v.results, ValidationResult{
		Name:    name,
		Passed:  true,
		Message: message,
	})
}

// warn records a warning (not a failure).
func (v *Validator) warn(name, message string) {
	v.results = append(v.results, ValidationResult{
		Name:    name,
		Passed:  true,
		Message: message,
		Warning: true,
	})
}

// fail records a validation failure.
func (v *Validator) fail(name, message string) {
	v.results = append(v.results, ValidationResult{
		Name:    name,
		Passed:  false,
		Message: message,
	})
	v.errors++
}

// ValidateAll runs every pre-flight check for a jail spec.
func (v *Validator) ValidateAll(spec *Spec) {
	v.ValidateSpec(spec)
	if spec == nil {
		return
	}
	v.ValidateUserNamespaces(spec)
	v.ValidateChrootDir(spec)
	v.ValidateExecutable(spec)
	v.ValidateMountSources(spec)
	v.ValidatePrivileges(spec)
}

// ValidateSpec checks the structural invariants of the spec itself.
func (v *Validator) ValidateSpec(spec *Spec) {
	if spec == nil {
		v.fail("spec", "spec is nil")
		return
	}

	if err := spec.Validate(); err != nil {
		v.fail("spec", err.Error())
		return
	}

	v.pass("spec", fmt.Sprintf("loaded: %s", spec.Name))
}

// ValidateUserNamespaces checks that user namespaces are available
// when the spec requests one.
func (v *Validator) ValidateUserNamespaces(spec *Spec) {
	if !spec.NewUser {
		return
	}

	data, err := os.ReadFile("/proc/sys/kernel/unprivileged_userns_clone")
	if err != nil {
		// File might not exist on some kernels - that's usually fine.
		if os.IsNotExist(err) {
			v.pass("userns", "user namespaces supported (no clone restriction)")
			return
		}
		v.warn("userns", fmt.Sprintf("cannot check user namespace support: %v", err))
		return
	}

	value := strings.TrimSpace(string(data))
	if value == "0" {
		v.fail("userns", "unprivileged user namespaces are disabled (set kernel.unprivileged_userns_clone=1)")
		return
	}

	v.pass("userns", "user namespaces enabled")
}

// ValidateChrootDir checks that the confinement root exists and is a
// directory.
func (v *Validator) ValidateChrootDir(spec *Spec) {
	if spec.ChrootDir == "" {
		v.warn("chroot", "no chroot_dir set (filesystem confinement disabled)")
		return
	}

	info, err := os.Stat(spec.ChrootDir)
	if err != nil {
		if os.IsNotExist(err) {
			v.fail("chroot", fmt.Sprintf("does not exist: %s", spec.ChrootDir))
		} else {
			v.fail("chroot", fmt.Sprintf("cannot access: %v", err))
		}
		return
	}

	if !info.IsDir() {
		v.fail("chroot", fmt.Sprintf("not a directory: %s", spec.ChrootDir))
		return
	}

	v.pass("chroot", fmt.Sprintf("exists: %s", spec.ChrootDir))
}

// ValidateExecutable checks that the target program will resolve
// inside the jail. The path is checked relative to the confinement
// root when one is set, because that is where the exec happens.
func (v *Validator) ValidateExecutable(spec *Spec) {
	path := spec.ExecBin
	if spec.ChrootDir != "" {
		path = filepath.Join(spec.ChrootDir, filepath.Clean("/"+spec.ExecBin))
	}

	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			// A bind mount may provide the binary at run time; the
			// jailed view cannot be fully reconstructed here.
			if spec.mountCovers(spec.ExecBin) {
				v.warn("exec", fmt.Sprintf("%s not present yet but covered by a mount", spec.ExecBin))
			} else {
				v.fail("exec", fmt.Sprintf("not found in jail: %s", spec.ExecBin))
			}
		} else {
			v.fail("exec", fmt.Sprintf("cannot stat %s: %v", path, err))
		}
		return
	}

	if info.Mode()&0111 == 0 {
		v.fail("exec", fmt.Sprintf("%s is not executable", path))
		return
	}

	v.pass("exec", fmt.Sprintf("available: %s", spec.ExecBin))
}

// ValidateMountSources checks that every bind mount source exists.
// Non-bind sources are virtual filesystem identifiers and are skipped.
func (v *Validator) ValidateMountSources(spec *Spec) {
	for _, mount := range spec.Mounts {
		if !mount.IsBind {
			continue
		}

		if _, err := os.Stat(mount.Src); err != nil {
			if os.IsNotExist(err) {
				v.fail("mount", fmt.Sprintf("source not found: %s -> %s", mount.Src, mount.Dst))
			} else {
				v.fail("mount", fmt.Sprintf("cannot access source %s: %v", mount.Src, err))
			}
			continue
		}
	}

	if len(spec.Mounts) > 0 && v.errors == 0 {
		v.pass("mount", fmt.Sprintf("%d mount source(s) available", len(spec.Mounts)))
	}
}

// ValidatePrivileges checks whether the invoking process can perform
// the privileged parts of the spec.
func (v *Validator) ValidatePrivileges(spec *Spec) {
	if os.Geteuid() == 0 {
		v.pass("privileges", "running as root")
		return
	}

	if spec.NewUser {
		v.pass("privileges", "unprivileged run with a user namespace")
		return
	}

	var needs []string
	if spec.ChrootDir != "" {
		needs = append(needs, "chroot")
	}
	if len(spec.Mounts) > 0 {
		needs = append(needs, "mount")
	}
	if spec.UID != nil || spec.GID != nil {
		needs = append(needs, "setuid/setgid")
	}

	if len(needs) > 0 {
		v.warn("privileges", fmt.Sprintf("not root and no user namespace; %s will likely fail", strings.Join(needs, ", ")))
		return
	}

	v.pass("privileges", "no privileged operations requested")
}

// mountCovers reports whether any configured mount destination is a
// prefix of the given in-jail path.
func (s *Spec) mountCovers(path string) bool {
	for _, mount := range s.Mounts {
		dst := mount.normalizedDst()
		if path == dst || strings.HasPrefix(path, dst+"/") {
			return true
		}
	}
	return false
}

// PrintResults writes validation results to a writer.
func (v *Validator) PrintResults(w io.Writer) {
	for _, r := range v.results {
		var prefix string
		if r.Passed {
			if r.Warning {
				prefix = "⚠"
			} else {
				prefix = "✓"
			}
		} else {
			prefix = "✗"
		}
		fmt.Fprintf(w, "%s %s: %s\n", prefix, r.Name, r.Message)
	}

	fmt.Fprintln(w)
	if v.HasErrors() {
		fmt.Fprintf(w, "Validation failed with %d error(s)\n", v.errors)
	} else {
		fmt.Fprintln(w, "Ready to run jail")
	}
}
