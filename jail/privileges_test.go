// Copyright 2026 The Stockade Authors
// SPDX-License-Identifier: Apache-2.0

package jail

import (
	"errors"
	"testing"

	"golang.org/x/sys/unix"
)

func TestDropperOrderAndLimits(t *testing.T) {
	t.Parallel()

	spec := &Spec{
		ExecBin:      "/bin/sh",
		UID:          uint32p(1000),
		GID:          uint32p(1000),
		RlimitAS:     1048576,
		RlimitNoFile: 64,
	}
	d := newDropper(spec)

	var events []string
	limits := map[int]unix.Rlimit{}

	d.setgid = func(gid int) error {
		events = append(events, "setgid")
		if gid != 1000 {
			t.Errorf("setgid %d, want 1000", gid)
		}
		return nil
	}
	d.setuid = func(uid int) error {
		events = append(events, "setuid")
		if uid != 1000 {
			t.Errorf("setuid %d, want 1000", uid)
		}
		return nil
	}
	d.setrlimit = func(resource int, limit *unix.Rlimit) error {
		events = append(events, "setrlimit")
		limits[resource] = *limit
		return nil
	}

	if err := d.apply(); err != nil {
		t.Fatalf("apply() = %v", err)
	}

	if len(events) < 2 || events[0] != "setgid" || events[1] != "setuid" {
		t.Errorf("events = %v, want setgid before setuid", events)
	}

	as, ok := limits[unix.RLIMIT_AS]
	if !ok {
		t.Fatal("RLIMIT_AS never set")
	}
	if as.Cur != 1048576 || as.Max != 1048576 {
		t.Errorf("RLIMIT_AS = %+v, want soft == hard == 1048576", as)
	}

	nofile, ok := limits[unix.RLIMIT_NOFILE]
	if !ok {
		t.Fatal("RLIMIT_NOFILE never set")
	}
	if nofile.Cur != 64 || nofile.Max != 64 {
		t.Errorf("RLIMIT_NOFILE = %+v, want soft == hard == 64", nofile)
	}

	if _, ok := limits[unix.RLIMIT_CPU]; ok {
		t.Error("RLIMIT_CPU set despite a zero ceiling")
	}
}

func TestDropperSkipsAbsentIdentity(t *testing.T) {
	t.Parallel()

	d := newDropper(&Spec{ExecBin: "/bin/sh"})
	d.setgid = func(int) error {
		t.Error("setgid called without a configured gid")
		return nil
	}
	d.setuid = func(int) error {
		t.Error("setuid called without a configured uid")
		return nil
	}
	d.setrlimit = func(int, *unix.Rlimit) error {
		t.Error("setrlimit called without configured limits")
		return nil
	}

	if err := d.apply(); err != nil {
		t.Fatalf("apply() = %v", err)
	}
}

func TestDropperUIDZeroIsApplied(t *testing.T) {
	t.Parallel()

	d := newDropper(&Spec{ExecBin: "/bin/sh", UID: uint32p(0)})
	called := false
	d.setuid = func(uid int) error {
		called = true
		if uid != 0 {
			t.Errorf("setuid %d, want 0", uid)
		}
		return nil
	}

	if err := d.apply(); err != nil {
		t.Fatalf("apply() = %v", err)
	}
	if !called {
		t.Error("setuid(0) never called; uid 0 is a legal target")
	}
}

func TestDropperFailureAborts(t *testing.T) {
	t.Parallel()

	d := newDropper(&Spec{ExecBin: "/bin/sh", UID: uint32p(1000), GID: uint32p(1000)})
	boom := errors.New("operation not permitted")
	d.setgid = func(int) error { return boom }
	d.setuid = func(int) error {
		t.Error("setuid called after a setgid failure")
		return nil
	}

	err := d.apply()
	if err == nil {
		t.Fatal("apply() = nil, want error")
	}
	if !IsStage(err, StagePrivileges) {
		t.Errorf("error %v is not a privileges stage error", err)
	}
	if !errors.Is(err, boom) {
		t.Errorf("error %v does not wrap the setgid failure", err)
	}
}
