package runner

import (
	"errors"
	"fmt"
)

// StepFailedError reports a process that ran but exited non-zero.
type StepFailedError struct {
	// Step is the step that failed.
	Step Step

	// ExitCode is the process exit status. It is -1 when the process was
	// terminated by a signal or the wait failed without an exit status.
	ExitCode int

	// Err is the underlying wait error, if any.
	Err error

	// Stderr is the tail of the step's stderr when it ran quietly.
	Stderr string
}

func (e *StepFailedError) Error() string {
	return fmt.Sprintf("step %s failed with exit code %d", e.Step, e.ExitCode)
}

func (e *StepFailedError) Unwrap() error {
	return e.Err
}

// SpawnError reports a process that could not be started (missing binary,
// permission error, unreadable stdin file, unreachable remote host).
type SpawnError struct {
	Step Step
	Err  error
}

func (e *SpawnError) Error() string {
	return fmt.Sprintf("step %s could not start %q: %v", e.Step, e.Step.Program, e.Err)
}

func (e *SpawnError) Unwrap() error {
	return e.Err
}

// ExitCode extracts a process exit code from a runner error.
//
// Returns (code, true) for a [*StepFailedError] anywhere in the chain,
// and (0, false) otherwise.
func ExitCode(err error) (int, bool) {
	var failed *StepFailedError
	if errors.As(err, &failed) {
		return failed.ExitCode, true
	}
	return 0, false
}
