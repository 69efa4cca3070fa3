// Copyright 2026 The Stockade Authors
// SPDX-License-Identifier: Apache-2.0

package jail

import (
	"golang.org/x/sys/unix"
)

// dropper sets the target identity and pins the resource ceilings.
// This is the last privilege-sensitive gate before the untrusted
// program gains control, so every failure here aborts the run.
//
// Group before user: once setuid lands the process normally loses the
// capability to change its group. Limits are applied with soft == hard
// so the jailed program cannot raise its own ceiling back up.
type dropper struct {
	uid          *uint32
	gid          *uint32
	rlimitAS     uint64
	rlimitCPU    uint64
	rlimitNoFile uint64

	// Syscall seams for tests.
	setgid    func(gid int) error
	setuid    func(uid int) error
	setrlimit func(resource int, limit *unix.Rlimit) error
}

func newDropper(spec *Spec) *dropper {
	return &dropper{
		uid:          spec.UID,
		gid:          spec.GID,
		rlimitAS:     spec.RlimitAS,
		rlimitCPU:    spec.RlimitCPU,
		rlimitNoFile: spec.RlimitNoFile,
		setgid:       unix.Setgid,
		setuid:       unix.Setuid,
		setrlimit:    unix.Setrlimit,
	}
}

func (d *dropper) apply() error {
	if d.gid != nil {
		if err := d.setgid(int(*d.gid)); err != nil {
			return stageErrorf(StagePrivileges, "setgid %d: %w", *d.gid, err)
		}
	}
	if d.uid != nil {
		if err := d.setuid(int(*d.uid)); err != nil {
			return stageErrorf(StagePrivileges, "setuid %d: %w", *d.uid, err)
		}
	}

	ceilings := []struct {
		name     string
		resource int
		value    uint64
	}{
		{"address space", unix.RLIMIT_AS, d.rlimitAS},
		{"cpu time", unix.RLIMIT_CPU, d.rlimitCPU},
		{"open files", unix.RLIMIT_NOFILE, d.rlimitNoFile},
	}
	for _, c := range ceilings {
		if c.value == 0 {
			continue
		}
		limit := &unix.Rlimit{Cur: c.value, Max: c.value}
		if err := d.setrlimit(c.resource, limit); err != nil {
			return stageErrorf(StagePrivileges, "set %s limit to %d: %w", c.name, c.value, err)
		}
	}
	return nil
}
