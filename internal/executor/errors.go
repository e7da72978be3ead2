package executor

import (
	"errors"
	"fmt"

	"tx/internal/pipeline"
)

var (
	// ErrCaptureLimit is returned when captured output grows past the limit.
	ErrCaptureLimit = errors.New("captured prompt exceeds configured limit")

	// ErrEmptyPlan is returned for a plan without stages.
	ErrEmptyPlan = errors.New("plan has no stages")

	// ErrKilled is the cause recorded when Running.Kill is called.
	ErrKilled = errors.New("killed")
)

// StageExecutionError reports a stage that could not be started.
type StageExecutionError struct {
	Stage pipeline.StageKind
	Name  string
	Index int
	Err   error
}

func (e *StageExecutionError) Error() string {
	return fmt.Sprintf("failed to start %s stage %d (%s): %v", e.Stage, e.Index, e.Name, e.Err)
}

func (e *StageExecutionError) Unwrap() error { return e.Err }

// ExitCode is 127, the shell convention for a command that could not run.
func (e *StageExecutionError) ExitCode() int { return pipeline.ExitNotFound }

// ExitError reports a stage that started and exited non-zero.
type ExitError struct {
	Stage pipeline.StageKind
	Name  string
	Index int
	Code  int
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("%s stage %d (%s) exited with status %d", e.Stage, e.Index, e.Name, e.Code)
}

func (e *ExitError) ExitCode() int { return e.Code }

// PartialFailureError reports non-terminal stages that exited non-zero.
// ExitCode is the terminal stage's own status, which may be 0.
type PartialFailureError struct {
	Failures []*ExitError
	ExitCode int
}

func (e *PartialFailureError) Error() string {
	if len(e.Failures) == 1 {
		return fmt.Sprintf("pipeline partially failed: %v", e.Failures[0])
	}
	return fmt.Sprintf("pipeline partially failed: %d stages exited non-zero (first: %v)", len(e.Failures), e.Failures[0])
}

// TerminalStatus lets pipeline.ExitCode report the terminal stage status.
func (e *PartialFailureError) TerminalStatus() int { return e.ExitCode }

// InterruptedError reports a run stopped by cancellation or Kill.
type InterruptedError struct {
	Cause error
}

func (e *InterruptedError) Error() string { return fmt.Sprintf("pipeline interrupted: %v", e.Cause) }
func (e *InterruptedError) Unwrap() error { return e.Cause }

// ExitCode is 130, the status a shell reports after SIGINT.
func (e *InterruptedError) ExitCode() int { return 130 }

func captureLimitError(limit int64) error {
	return fmt.Errorf("%w of %d bytes", ErrCaptureLimit, limit)
}
