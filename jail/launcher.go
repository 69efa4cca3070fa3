// Copyright 2026 The Stockade Authors
// SPDX-License-Identifier: Apache-2.0

package jail

import (
	"golang.org/x/sys/unix"
)

// jailEnvironment is the complete environment the target program
// receives. It is constructed from scratch rather than filtered from
// the invoker's environment, so nothing from the host — credentials,
// sockets, tool configuration — leaks through the exec boundary.
var jailEnvironment = []string{
	"PATH=/bin:/usr/bin:/sbin:/usr/sbin",
	"HOME=/",
	"USER=jail",
}

// launcher replaces the process image with the target program. exec
// diverges on success; when it returns, the child is in a uniquely
// dangerous state — jailed identity, dropped privileges, but still
// running host library code — and must terminate immediately rather
// than continue through any other code path.
type launcher struct {
	bin  string
	argv []string

	execve func(bin string, argv []string, env []string) error
}

func newLauncher(spec *Spec) *launcher {
	return &launcher{
		bin:    spec.ExecBin,
		argv:   spec.Argv(),
		execve: unix.Exec,
	}
}

func (l *launcher) launch() error {
	if err := l.execve(l.bin, l.argv, jailEnvironment); err != nil {
		return stageErrorf(StageExec, "exec %s: %w", l.bin, err)
	}
	return nil
}
