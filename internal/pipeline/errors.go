package pipeline

import (
	"fmt"
	"strings"

	"alorg/internal/runner"
)

// StageError reports a failed sequential stage.
//
// Err is usually a [*runner.StepFailedError] or [*runner.SpawnError]; use
// errors.As to reach the exit code.
type StageError struct {
	Step PlannedStep
	Err  error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("step %d (%s) failed: %v", e.Step.Number, e.Step.Label, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

// ServerFailure is one server whose rollout did not succeed.
type ServerFailure struct {
	Server string
	Number int
	Err    error
}

// RolloutError aggregates the failed rollouts of a run.
//
// It is only produced after every server task has finished, so Failures is
// complete. Total is the number of servers that were attempted.
type RolloutError struct {
	Failures []ServerFailure
	Total    int
}

func (e *RolloutError) Error() string {
	parts := make([]string, len(e.Failures))
	for i, f := range e.Failures {
		parts[i] = f.Server
		if code, ok := runner.ExitCode(f.Err); ok && code >= 0 {
			parts[i] = fmt.Sprintf("%s (exit code %d)", f.Server, code)
		}
	}
	return fmt.Sprintf("rollout failed on %d of %d servers: %s",
		len(e.Failures), e.Total, strings.Join(parts, ", "))
}

// Unwrap exposes each server's error to errors.Is and errors.As.
func (e *RolloutError) Unwrap() []error {
	errs := make([]error, len(e.Failures))
	for i, f := range e.Failures {
		errs[i] = f.Err
	}
	return errs
}

// Partial reports whether at least one server was upgraded.
func (e *RolloutError) Partial() bool {
	return len(e.Failures) < e.Total
}

// Servers lists the failed server addresses in plan order.
func (e *RolloutError) Servers() []string {
	out := make([]string, len(e.Failures))
	for i, f := range e.Failures {
		out[i] = f.Server
	}
	return out
}
