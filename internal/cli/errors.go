package cli

import (
	"errors"
	"fmt"
)

// ExitError carries a process exit code out of a RunE function, so commands
// never call os.Exit themselves. [Execute] turns it into the exit status.
type ExitError struct {
	// Code is 1 for CLI and descriptor failures, or the status of the
	// pipeline step that failed.
	Code int
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("exit status %d", e.Code)
}

// NewExitError creates an [ExitError] with the given exit code.
func NewExitError(code int) *ExitError {
	return &ExitError{Code: code}
}

// IsExitError returns the code of the first [ExitError] in err's chain.
func IsExitError(err error) (int, bool) {
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code, true
	}
	return 0, false
}
