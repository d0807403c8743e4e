package dockerd

import (
	"errors"
	"fmt"
)

// ErrConnectionFailed marks an unreachable or misconfigured daemon.
var ErrConnectionFailed = errors.New("docker connection failed")

// Error wraps daemon failures with the operation and image involved.
type Error struct {
	Op      string // Operation that failed
	Ref     string // Image reference, if any
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Ref != "" {
		return fmt.Sprintf("%s image %s: %s", e.Op, e.Ref, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func newError(op, ref, message string, err error) *Error {
	return &Error{Op: op, Ref: ref, Message: message, Err: err}
}
