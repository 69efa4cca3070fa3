// Copyright 2026 The Stockade Authors
// SPDX-License-Identifier: Apache-2.0

package jail

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

const (
	// childEnvVar marks a process as the re-executed jail child.
	childEnvVar = "STOCKADE_JAIL_CHILD"

	// payloadFD carries the spec from supervisor to child; reportFD
	// carries a stage error back. Both are inherited pipe ends placed
	// after stdio by the supervisor's ExtraFiles.
	payloadFD = 3
	reportFD  = 4

	// childFailureStatus is the child's exit code for any stage
	// failure. The report pipe, not this code, is what identifies a
	// setup failure: the target program may legitimately exit 254
	// itself, which the exec marker below disambiguates.
	childFailureStatus = 254

	// execMarker is the single byte the child writes to the report
	// pipe immediately before exec. The supervisor reads marker+EOF
	// when the exec succeeded (close-on-exec drops the pipe), and
	// marker+JSON when the exec itself failed. A report without the
	// marker is a pipeline failure before the exec stage. The byte can
	// never begin a JSON document, so the two framings cannot collide.
	execMarker = 0x00
)

// childPayload is what the supervisor sends down the payload pipe.
// The outer identity rides along because inside a fresh user namespace
// the child's own getuid() reads the overflow ID, not the invoker.
type childPayload struct {
	Spec     Spec `json:"spec"`
	OuterUID int  `json:"outer_uid"`
	OuterGID int  `json:"outer_gid"`
}

// MaybeChild intercepts the supervisor's re-execution of this binary.
// Call it first thing in main, before flag parsing or logger setup:
// when the process is a jail child it never returns, either becoming
// the target program or exiting with a stage failure. In an ordinary
// invocation it is a no-op.
func MaybeChild() {
	if os.Getenv(childEnvVar) != "1" {
		return
	}
	os.Exit(childMain())
}

// childMain runs the child-side pipeline and returns the process exit
// status. It only returns on failure (or in tests where the exec seam
// is stubbed): a successful pipeline ends in exec.
func childMain() int {
	report := os.NewFile(reportFD, "jail-report")

	payload, err := readPayload()
	if err == nil {
		err = runPipeline(payload, report)
	}
	if err != nil {
		reportFailure(report, err)
		fmt.Fprintf(os.Stderr, "jail: %v\n", err)
		return childFailureStatus
	}
	return 0
}

func readPayload() (*childPayload, error) {
	pipe := os.NewFile(payloadFD, "jail-payload")
	if pipe == nil {
		return nil, stageErrorf(StageSupervision, "payload pipe missing")
	}
	defer pipe.Close()

	var payload childPayload
	if err := json.NewDecoder(pipe).Decode(&payload); err != nil {
		return nil, stageErrorf(StageSupervision, "decode payload: %w", err)
	}
	return &payload, nil
}

// runPipeline executes the child-side stages in their fixed order.
// Each stage must succeed before the next starts; the first error
// aborts the remainder.
func runPipeline(payload *childPayload, report *os.File) error {
	spec := &payload.Spec

	if spec.NewUser {
		mapper := newIdentityMapper(payload.OuterUID, payload.OuterGID)
		if err := mapper.apply(); err != nil {
			return err
		}
	}

	if spec.NewUTS && spec.Hostname != "" {
		if err := setJailHostname(spec.Hostname); err != nil {
			return err
		}
	}

	if spec.ChrootDir != "" {
		if err := newConfiner(spec.ChrootDir, spec.Mounts).apply(); err != nil {
			return err
		}
	}

	if err := newDropper(spec).apply(); err != nil {
		return err
	}

	// The pipe fds must not leak into the jailed program: mark the
	// report end close-on-exec so the supervisor sees EOF exactly
	// when the exec succeeds.
	if _, err := unix.FcntlInt(uintptr(reportFD), unix.F_SETFD, unix.FD_CLOEXEC); err != nil {
		return stageErrorf(StageExec, "set report pipe close-on-exec: %w", err)
	}

	// Tell the supervisor the pipeline reached exec. From here the
	// child's exit status belongs to the target program, including an
	// exit status that happens to equal childFailureStatus.
	if _, err := report.Write([]byte{execMarker}); err != nil {
		return stageErrorf(StageExec, "write exec marker: %w", err)
	}

	return newLauncher(spec).launch()
}

// reportFailure sends the stage error up the report pipe. Best effort:
// the child is about to die either way, and the supervisor falls back
// to the exit status if the pipe write is lost.
func reportFailure(report *os.File, err error) {
	if report == nil {
		return
	}
	defer report.Close()

	wire := wireError{Stage: StageSupervision, Message: err.Error()}
	var stageErr *StageError
	if errors.As(err, &stageErr) {
		wire.Stage = stageErr.Stage
		wire.Message = stageErr.Err.Error()
	}
	_ = json.NewEncoder(report).Encode(&wire)
}
