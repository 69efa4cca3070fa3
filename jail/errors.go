// Copyright 2026 The Stockade Authors
// SPDX-License-Identifier: Apache-2.0

package jail

import (
	"errors"
	"fmt"
)

// Stage names one step of the jail pipeline. Every error produced by
// this package is a [StageError] tagged with the stage that failed,
// so callers (and users reading stderr) always know which step of the
// jail construction went wrong.
type Stage string

const (
	// StageValidation covers pre-flight input checks. A validation
	// failure means no child process was ever created.
	StageValidation Stage = "validation"

	// StageIsolation covers the namespace request at clone time.
	StageIsolation Stage = "isolation"

	// StageMapping covers the uid_map/setgroups/gid_map writes for a
	// user namespace.
	StageMapping Stage = "mapping"

	// StageFilesystem covers skeleton creation, mounts, and the root
	// switch.
	StageFilesystem Stage = "filesystem"

	// StagePrivileges covers the identity drop and resource limits.
	StagePrivileges Stage = "privileges"

	// StageExec covers the final process image replacement.
	StageExec Stage = "exec"

	// StageSupervision covers parent-side failures: starting the
	// child or waiting for it.
	StageSupervision Stage = "supervision"
)

// StageError is an error from one pipeline stage. A stage failure is
// terminal for the run: there is no retry or partial recovery anywhere
// in the pipeline, because a half-applied jail must never execute the
// target program.
type StageError struct {
	Stage Stage
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

// IsStage reports whether err is (or wraps) a StageError for the given
// stage.
func IsStage(err error, stage Stage) bool {
	var stageErr *StageError
	return errors.As(err, &stageErr) && stageErr.Stage == stage
}

func stageError(stage Stage, err error) *StageError {
	return &StageError{Stage: stage, Err: err}
}

func stageErrorf(stage Stage, format string, args ...any) *StageError {
	return &StageError{Stage: stage, Err: fmt.Errorf(format, args...)}
}

// wireError is the JSON shape a failing child writes to the report
// pipe before exiting. The message already includes the underlying
// cause; the stage travels separately so the supervisor can rebuild a
// typed StageError.
type wireError struct {
	Stage   Stage  `json:"stage"`
	Message string `json:"message"`
}

func (w *wireError) toStageError() *StageError {
	return &StageError{Stage: w.Stage, Err: errors.New(w.Message)}
}
