package runner

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"time"
)

// Runner is the interface for executing a single pipeline step.
//
// Run blocks until the step's process exits. It returns nil on exit status 0,
// a [*StepFailedError] for a non-zero exit and a [*SpawnError] when the
// process could not be started. Implementations must be safe for concurrent
// use, since rollout steps run in parallel.
type Runner interface {
	Run(ctx context.Context, step Step) error
}

// ExecRunner runs steps as local child processes.
//
// In verbose mode child output is connected to Stdout and Stderr for live
// visibility. In quiet mode stdout is discarded and only the last
// [StderrTailSize] bytes of stderr are kept for the failure report. Create
// instances with [NewExecRunner].
type ExecRunner struct {
	// Verbose is the default output mode for steps with [VisibilityInherit].
	Verbose bool

	// Stdout and Stderr receive child output in verbose mode.
	Stdout io.Writer
	Stderr io.Writer

	logger *slog.Logger
}

// NewExecRunner creates an [ExecRunner] writing to the process's standard streams.
func NewExecRunner(verbose bool, logger *slog.Logger) *ExecRunner {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &ExecRunner{
		Verbose: verbose,
		Stdout:  os.Stdout,
		Stderr:  os.Stderr,
		logger:  logger,
	}
}

func (r *ExecRunner) verbose(step Step) bool {
	switch step.Visibility {
	case VisibilityVerbose:
		return true
	case VisibilityQuiet:
		return false
	default:
		return r.Verbose
	}
}

// Run spawns the step's process and waits for it to exit.
func (r *ExecRunner) Run(ctx context.Context, step Step) error {
	cmd := exec.CommandContext(ctx, step.Program, step.Args...)
	cmd.Dir = step.Dir
	cmd.Env = append(os.Environ(), step.environ()...)

	var tail *tailBuffer
	if r.verbose(step) {
		cmd.Stdout = r.Stdout
		cmd.Stderr = r.Stderr
	} else {
		tail = newTailBuffer(StderrTailSize)
		cmd.Stderr = tail
	}

	if step.StdinPath != "" {
		stdin, err := os.Open(step.StdinPath)
		if err != nil {
			return &SpawnError{Step: step, Err: err}
		}
		defer stdin.Close()
		cmd.Stdin = stdin
	}

	logger := r.logger.With("step", step.String())
	logger.Debug("starting step", "command", step.CommandLine(), "dir", step.Dir)

	startTime := time.Now()
	if err := cmd.Start(); err != nil {
		return &SpawnError{Step: step, Err: err}
	}

	err := cmd.Wait()
	duration := time.Since(startTime)
	if err == nil {
		logger.Debug("step succeeded", "duration", duration)
		return nil
	}

	exitCode := -1
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		exitCode = exitErr.ExitCode()
	}
	failed := &StepFailedError{Step: step, ExitCode: exitCode, Err: err}
	if tail != nil {
		failed.Stderr = tail.String()
	}
	logger.Debug("step failed", "exit_code", exitCode, "duration", duration, "error", err, "stderr", failed.Stderr)

	return failed
}

// StderrTailSize bounds the stderr kept from a quiet step.
const StderrTailSize = 4096

// tailBuffer keeps the last max bytes written to it.
type tailBuffer struct {
	max int
	buf []byte
}

func newTailBuffer(max int) *tailBuffer {
	return &tailBuffer{max: max}
}

func (t *tailBuffer) Write(p []byte) (int, error) {
	n := len(p)
	if n >= t.max {
		t.buf = append(t.buf[:0], p[n-t.max:]...)
		return n, nil
	}
	t.buf = append(t.buf, p...)
	if over := len(t.buf) - t.max; over > 0 {
		t.buf = append(t.buf[:0], t.buf[over:]...)
	}
	return n, nil
}

func (t *tailBuffer) String() string {
	return string(t.buf)
}
