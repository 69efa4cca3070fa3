// Copyright 2026 The Stockade Authors
// SPDX-License-Identifier: Apache-2.0

package jail

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"syscall"
	"testing"
	"time"

	"golang.org/x/sys/unix"

	"github.com/stockade-project/stockade/lib/testutil"
)

// TestMain intercepts re-executions of the test binary: the supervisor
// tests below spawn real children, and each child must run the jail
// pipeline instead of the test suite.
func TestMain(m *testing.M) {
	MaybeChild()
	os.Exit(m.Run())
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// plainSpec is a spec with no namespaces, no confinement, and no
// privilege changes, runnable by an unprivileged test process.
func plainSpec(bin string, args ...string) *Spec {
	return &Spec{
		Name:     "test",
		ExecBin:  bin,
		ExecArgs: append([]string{bin}, args...),
	}
}

func runSpec(t *testing.T, spec *Spec) (Outcome, error) {
	t.Helper()
	sup, err := NewSupervisor(spec, quietLogger())
	if err != nil {
		t.Fatalf("NewSupervisor: %v", err)
	}
	return sup.Run(context.Background())
}

func TestNewSupervisorRejectsInvalidSpec(t *testing.T) {
	t.Parallel()

	_, err := NewSupervisor(&Spec{}, quietLogger())
	if err == nil {
		t.Fatal("NewSupervisor accepted a spec with no exec_bin")
	}
	if !IsStage(err, StageValidation) {
		t.Errorf("error %v is not a validation stage error", err)
	}

	_, err = NewSupervisor(nil, quietLogger())
	if !IsStage(err, StageValidation) {
		t.Errorf("nil spec error %v is not a validation stage error", err)
	}
}

func TestRunExitsZero(t *testing.T) {
	t.Parallel()

	outcome, err := runSpec(t, plainSpec("/bin/echo", "hi"))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if outcome.State != OutcomeExited || outcome.Code != 0 {
		t.Errorf("outcome = %v, want exit 0", outcome)
	}
}

func TestRunPropagatesExitCode(t *testing.T) {
	t.Parallel()

	outcome, err := runSpec(t, plainSpec("/bin/sh", "-c", "exit 7"))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if outcome.State != OutcomeExited || outcome.Code != 7 {
		t.Errorf("outcome = %v, want exit 7", outcome)
	}
}

func TestRunExitStatusMatchingChildFailureStatus(t *testing.T) {
	t.Parallel()

	// 254 doubles as the child's private stage-failure status; a
	// target program exiting 254 on its own must still be reported as
	// a normal exit.
	outcome, err := runSpec(t, plainSpec("/bin/sh", "-c", "exit 254"))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if outcome.State != OutcomeExited || outcome.Code != childFailureStatus {
		t.Errorf("outcome = %v, want exit %d", outcome, childFailureStatus)
	}
}

func TestRunReportsSignal(t *testing.T) {
	t.Parallel()

	outcome, err := runSpec(t, plainSpec("/bin/sh", "-c", "kill -TERM $$"))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if outcome.State != OutcomeSignaled {
		t.Fatalf("outcome = %v, want signaled", outcome)
	}
	if outcome.Signal != syscall.SIGTERM {
		t.Errorf("signal = %v, want SIGTERM", outcome.Signal)
	}
}

func TestRunExecFailureIsStageError(t *testing.T) {
	t.Parallel()

	_, err := runSpec(t, plainSpec("/does/not/exist"))
	if err == nil {
		t.Fatal("Run succeeded with a missing exec_bin")
	}
	if !IsStage(err, StageExec) {
		t.Errorf("error %v is not an exec stage error", err)
	}
}

type runResult struct {
	outcome Outcome
	err     error
}

// runAsync starts Run in a goroutine so the test can bound how long a
// kill path is allowed to take.
func runAsync(ctx context.Context, t *testing.T, sup *Supervisor) <-chan runResult {
	t.Helper()
	results := make(chan runResult, 1)
	go func() {
		outcome, err := sup.Run(ctx)
		results <- runResult{outcome, err}
	}()
	return results
}

func TestRunTimeLimitKillsChild(t *testing.T) {
	t.Parallel()

	spec := plainSpec("/bin/sleep", "30")
	spec.TimeLimit = 1

	sup, err := NewSupervisor(spec, quietLogger())
	if err != nil {
		t.Fatalf("NewSupervisor: %v", err)
	}

	// Well under the 30s sleep: only the limit kill can finish this.
	result := testutil.RequireReceive(t, runAsync(context.Background(), t, sup),
		10*time.Second, "time limit should kill the sleep")

	if result.err != nil {
		t.Fatalf("Run: %v", result.err)
	}
	if result.outcome.State != OutcomeTimedOut {
		t.Errorf("outcome = %v, want timed out", result.outcome)
	}

	// The kill must leave nothing behind: the child has been reaped
	// by the time Run returns.
	if err := unix.Kill(sup.childPID, 0); !errors.Is(err, unix.ESRCH) {
		t.Errorf("kill(%d, 0) = %v, want ESRCH (child still exists?)", sup.childPID, err)
	}
}

func TestRunUnexpiredTimeLimitPassesExitThrough(t *testing.T) {
	t.Parallel()

	// An armed but unexpired timer must not recolor a normal exit as
	// a timeout.
	spec := plainSpec("/bin/sh", "-c", "exit 5")
	spec.TimeLimit = 30

	outcome, err := runSpec(t, spec)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if outcome.State != OutcomeExited || outcome.Code != 5 {
		t.Errorf("outcome = %v, want exit 5", outcome)
	}
}

func TestRunContextCancellation(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()

	sup, err := NewSupervisor(plainSpec("/bin/sleep", "30"), quietLogger())
	if err != nil {
		t.Fatalf("NewSupervisor: %v", err)
	}

	result := testutil.RequireReceive(t, runAsync(ctx, t, sup),
		10*time.Second, "cancellation should kill the sleep")

	if result.err == nil {
		t.Fatal("Run = nil error after cancellation")
	}
	if !IsStage(result.err, StageSupervision) {
		t.Errorf("error %v is not a supervision stage error", result.err)
	}
}

func TestOutcomeString(t *testing.T) {
	t.Parallel()

	tests := []struct {
		outcome Outcome
		want    string
	}{
		{Outcome{State: OutcomeExited, Code: 0}, "exited with code 0"},
		{Outcome{State: OutcomeExited, Code: 7}, "exited with code 7"},
		{Outcome{State: OutcomeSignaled, Signal: syscall.SIGKILL}, "killed by signal SIGKILL"},
		{Outcome{State: OutcomeTimedOut}, "timed out"},
	}
	for _, tt := range tests {
		if got := tt.outcome.String(); got != tt.want {
			t.Errorf("String() = %q, want %q", got, tt.want)
		}
	}
}

func TestLauncherWrapsExecFailure(t *testing.T) {
	t.Parallel()

	l := newLauncher(plainSpec("/bin/true"))
	l.execve = func(bin string, argv []string, env []string) error {
		return syscall.ENOENT
	}

	err := l.launch()
	if err == nil {
		t.Fatal("launch() = nil, want error")
	}
	if !IsStage(err, StageExec) {
		t.Errorf("error %v is not an exec stage error", err)
	}
}

func TestLauncherEnvironmentIsFixed(t *testing.T) {
	t.Setenv("STOCKADE_TEST_SECRET", "leak")

	l := newLauncher(plainSpec("/bin/true"))
	var gotEnv []string
	l.execve = func(bin string, argv []string, env []string) error {
		gotEnv = env
		return nil
	}
	if err := l.launch(); err != nil {
		t.Fatalf("launch() = %v", err)
	}

	for _, kv := range gotEnv {
		if kv == "STOCKADE_TEST_SECRET=leak" {
			t.Fatal("invoker environment leaked through exec")
		}
	}
	want := map[string]bool{
		"PATH=/bin:/usr/bin:/sbin:/usr/sbin": false,
		"HOME=/":                             false,
		"USER=jail":                          false,
	}
	for _, kv := range gotEnv {
		if _, ok := want[kv]; ok {
			want[kv] = true
		}
	}
	for kv, seen := range want {
		if !seen {
			t.Errorf("jail environment missing %q", kv)
		}
	}
}
