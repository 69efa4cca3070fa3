// Copyright 2026 The Stockade Authors
// SPDX-License-Identifier: Apache-2.0

package jail

import (
	"syscall"

	"golang.org/x/sys/unix"
)

// cloneFlags translates the requested namespace set into clone(2)
// flags. The supervisor applies them when it starts the child, which
// is the one atomic way Go offers to enter new namespaces: the runtime
// is multi-threaded before main runs, so an in-process
// unshare(CLONE_NEWUSER) would be refused by the kernel, and an
// in-process unshare(CLONE_NEWPID) would only affect grandchildren.
// Applying the flags at clone time gives the same ordering guarantee
// as unshare-then-fork: the namespaces exist before any later stage
// runs, with no partial application.
func (s *Spec) cloneFlags() uintptr {
	var flags uintptr
	if s.NewPID {
		flags |= unix.CLONE_NEWPID
	}
	if s.NewNet {
		flags |= unix.CLONE_NEWNET
	}
	if s.NewMount {
		flags |= unix.CLONE_NEWNS
	}
	if s.NewUTS {
		flags |= unix.CLONE_NEWUTS
	}
	if s.NewIPC {
		flags |= unix.CLONE_NEWIPC
	}
	if s.NewUser {
		flags |= unix.CLONE_NEWUSER
	}
	return flags
}

// sysProcAttr builds the child's clone attributes. Setpgid puts the
// child in its own process group so a time-limit kill reaps the whole
// jail, not just the immediate child.
func (s *Spec) sysProcAttr() *syscall.SysProcAttr {
	return &syscall.SysProcAttr{
		Cloneflags: s.cloneFlags(),
		Setpgid:    true,
	}
}

// setJailHostname applies the configured hostname inside the child.
// Only meaningful when a UTS namespace was requested; without one the
// write would rename the host, so the pipeline skips it.
func setJailHostname(name string) error {
	if err := unix.Sethostname([]byte(name)); err != nil {
		return stageErrorf(StageIsolation, "sethostname %q: %w", name, err)
	}
	return nil
}
