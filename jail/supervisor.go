// Copyright 2026 The Stockade Authors
// SPDX-License-Identifier: Apache-2.0

package jail

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sync/atomic"
	"syscall"
	"time"

	"golang.org/x/sys/unix"
)

// OutcomeState classifies how a jail run ended.
type OutcomeState int

const (
	// OutcomeExited means the target program terminated normally.
	OutcomeExited OutcomeState = iota
	// OutcomeSignaled means the target program was killed by a signal.
	OutcomeSignaled
	// OutcomeTimedOut means the supervisor killed the jail because the
	// wall-clock limit elapsed.
	OutcomeTimedOut
)

// Outcome reports the termination of a jailed process.
type Outcome struct {
	State  OutcomeState
	Code   int            // exit code, valid for OutcomeExited
	Signal syscall.Signal // valid for OutcomeSignaled
}

func (o Outcome) String() string {
	switch o.State {
	case OutcomeSignaled:
		return fmt.Sprintf("killed by signal %s", unix.SignalName(o.Signal))
	case OutcomeTimedOut:
		return "timed out"
	default:
		return fmt.Sprintf("exited with code %d", o.Code)
	}
}

// Supervisor runs one jail: it creates the child with the requested
// namespaces, feeds it the spec, and waits for termination. A
// Supervisor is built for a single Spec and a single Run call.
type Supervisor struct {
	spec   *Spec
	logger *slog.Logger

	// childPID is the pid of the started child, recorded for logging
	// and post-mortem liveness checks.
	childPID int
}

// NewSupervisor validates the spec and returns a supervisor for it.
// Validation failure means no child process will ever be created for
// this spec.
func NewSupervisor(spec *Spec, logger *slog.Logger) (*Supervisor, error) {
	if spec == nil {
		return nil, stageErrorf(StageValidation, "spec is required")
	}
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Supervisor{spec: spec, logger: logger}, nil
}

// Run executes the jail and blocks until the child terminates, the
// configured time limit fires, or ctx is cancelled. The returned
// Outcome describes normal terminations (exit, signal, timeout); a
// non-nil error means the jail itself could not be built or
// supervised, and carries the failing stage.
func (s *Supervisor) Run(ctx context.Context) (Outcome, error) {
	// Defensive re-check. The loader already validated, but the core
	// refuses to start on a spec that lost its invariants in between.
	if err := s.spec.Validate(); err != nil {
		return Outcome{}, err
	}

	self, err := os.Executable()
	if err != nil {
		return Outcome{}, stageErrorf(StageSupervision, "resolve own executable: %w", err)
	}

	payloadRead, payloadWrite, err := os.Pipe()
	if err != nil {
		return Outcome{}, stageErrorf(StageSupervision, "create payload pipe: %w", err)
	}
	reportRead, reportWrite, err := os.Pipe()
	if err != nil {
		payloadRead.Close()
		payloadWrite.Close()
		return Outcome{}, stageErrorf(StageSupervision, "create report pipe: %w", err)
	}

	cmd := exec.Command(self)
	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	cmd.ExtraFiles = []*os.File{payloadRead, reportWrite}
	cmd.SysProcAttr = s.spec.sysProcAttr()

	// A minimal environment for the re-executed child. The child never
	// consults the environment beyond the child variable, and the target
	// program gets the fixed jail environment at exec — but without
	// this the invoker's full environment would sit readable in
	// /proc/<pid>/environ for the child's whole setup phase.
	cmd.Env = []string{
		childEnvVar + "=1",
		"PATH=/usr/bin:/bin",
	}

	s.logger.Info("starting jail",
		"name", s.spec.Name,
		"exec", s.spec.ExecBin,
		"chroot", s.spec.ChrootDir,
		"namespaces", s.spec.namespaceNames(),
	)

	if err := cmd.Start(); err != nil {
		payloadRead.Close()
		payloadWrite.Close()
		reportRead.Close()
		reportWrite.Close()
		// A clone refused while namespace flags were requested is a
		// namespace problem (unsupported kernel, insufficient
		// privilege), not a fork problem.
		if s.spec.cloneFlags() != 0 {
			return Outcome{}, stageErrorf(StageIsolation, "create namespaces: %w", err)
		}
		return Outcome{}, stageErrorf(StageSupervision, "start child: %w", err)
	}

	s.childPID = cmd.Process.Pid
	s.logger.Debug("child started", "pid", s.childPID)

	// Parent keeps only its own pipe ends.
	payloadRead.Close()
	reportWrite.Close()

	// Hand the child its spec. A write failure here means the child
	// died before reading; the wait below surfaces that.
	payload := childPayload{
		Spec:     *s.spec,
		OuterUID: os.Getuid(),
		OuterGID: os.Getgid(),
	}
	if err := json.NewEncoder(payloadWrite).Encode(&payload); err != nil {
		s.logger.Warn("payload write failed", "error", err)
	}
	payloadWrite.Close()

	// Drain the report pipe concurrently; it sees EOF the moment the
	// child execs (close-on-exec) or dies.
	reportCh := make(chan []byte, 1)
	go func() {
		data, _ := io.ReadAll(reportRead)
		reportRead.Close()
		reportCh <- data
	}()

	// Enforce the wall-clock limit and context cancellation by
	// killing the child's whole process group.
	var timedOut, cancelled atomic.Bool
	waitDone := make(chan struct{})
	kill := func() {
		_ = unix.Kill(-cmd.Process.Pid, unix.SIGKILL)
	}
	var timer *time.Timer
	if s.spec.TimeLimit > 0 {
		timer = time.AfterFunc(time.Duration(s.spec.TimeLimit)*time.Second, func() {
			timedOut.Store(true)
			kill()
		})
	}
	go func() {
		select {
		case <-ctx.Done():
			cancelled.Store(true)
			kill()
		case <-waitDone:
		}
	}()

	waitErr := cmd.Wait()
	if timer != nil {
		timer.Stop()
	}
	close(waitDone)
	report := <-reportCh

	// The marker byte says the pipeline reached exec. Anything after
	// it is an exec failure report; an unmarked report is a failure in
	// an earlier stage.
	execStarted := len(report) > 0 && report[0] == execMarker
	if execStarted {
		report = report[1:]
	}

	if len(report) > 0 {
		var wire wireError
		if err := json.Unmarshal(report, &wire); err == nil {
			return Outcome{}, wire.toStageError()
		}
	}

	if waitErr == nil {
		outcome := Outcome{State: OutcomeExited, Code: 0}
		s.logger.Info("jail finished", "name", s.spec.Name, "outcome", outcome.String())
		return outcome, nil
	}

	exitErr, ok := waitErr.(*exec.ExitError)
	if !ok {
		return Outcome{}, stageErrorf(StageSupervision, "wait for child: %w", waitErr)
	}

	status, ok := exitErr.Sys().(syscall.WaitStatus)
	if !ok {
		return Outcome{}, stageErrorf(StageSupervision, "unexpected wait status %T", exitErr.Sys())
	}

	switch {
	case status.Signaled():
		// A timeout or cancellation is only claimed when the child
		// actually died by the group SIGKILL. A flag that raced a
		// death by some other cause does not rewrite the outcome.
		if status.Signal() == unix.SIGKILL {
			if timedOut.Load() {
				outcome := Outcome{State: OutcomeTimedOut}
				s.logger.Info("jail timed out", "name", s.spec.Name, "limit_seconds", s.spec.TimeLimit)
				return outcome, nil
			}
			if cancelled.Load() {
				return Outcome{}, stageErrorf(StageSupervision, "run cancelled: %w", ctx.Err())
			}
		}
		outcome := Outcome{State: OutcomeSignaled, Signal: status.Signal()}
		s.logger.Info("jail finished", "name", s.spec.Name, "outcome", outcome.String())
		return outcome, nil
	case status.Exited() && status.ExitStatus() == childFailureStatus && !execStarted:
		// The child died in the pipeline but its report was lost.
		return Outcome{}, stageErrorf(StageSupervision, "child failed during jail setup without a report")
	default:
		outcome := Outcome{State: OutcomeExited, Code: status.ExitStatus()}
		s.logger.Info("jail finished", "name", s.spec.Name, "outcome", outcome.String())
		return outcome, nil
	}
}

// namespaceNames lists the requested namespaces for logging.
func (s *Spec) namespaceNames() []string {
	var names []string
	for _, ns := range []struct {
		name string
		on   bool
	}{
		{"pid", s.NewPID},
		{"net", s.NewNet},
		{"mount", s.NewMount},
		{"uts", s.NewUTS},
		{"ipc", s.NewIPC},
		{"user", s.NewUser},
	} {
		if ns.on {
			names = append(names, ns.name)
		}
	}
	return names
}
