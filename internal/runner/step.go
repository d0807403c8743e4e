// Package runner executes single external-process pipeline steps.
//
// A [Step] describes one process: program, arguments, working directory,
// environment overrides, optional stdin file and output visibility. A [Runner]
// executes a step exactly once and reports the outcome as an error value:
// nil on exit status 0, [*StepFailedError] on a non-zero exit, and
// [*SpawnError] when the process could not be started at all. No retries are
// performed here; retry policy belongs to the caller.
//
// Key types:
//   - [Runner]: interface every step executor implements
//   - [ExecRunner]: local os/exec implementation with verbose and quiet modes
//   - [MockRunner]: records steps without spawning processes, for tests
package runner

import (
	"sort"
	"strings"
)

// Visibility controls whether a step's output reaches the terminal.
type Visibility int

const (
	// VisibilityInherit uses the runner's default mode.
	VisibilityInherit Visibility = iota

	// VisibilityVerbose connects the child's stdout/stderr to the runner's writers.
	VisibilityVerbose

	// VisibilityQuiet discards the child's output; only the exit status matters.
	VisibilityQuiet
)

// Step is a single unit of sequential work.
type Step struct {
	// Name identifies the step (e.g. "build-image", "rollout").
	Name string

	// Target is the remote host for rollout steps, empty for local steps.
	Target string

	// Program is the executable, resolved through PATH when not absolute.
	Program string

	// Args are passed to Program in order.
	Args []string

	// Dir overrides the working directory. Empty inherits the runner's.
	Dir string

	// Env is layered over the invoking process environment.
	Env map[string]string

	// StdinPath, when set, is opened and fed to the process as stdin.
	StdinPath string

	// Visibility overrides the runner's output mode for this step.
	Visibility Visibility
}

// CommandLine renders the program and arguments for display.
func (s Step) CommandLine() string {
	parts := append([]string{s.Program}, s.Args...)
	line := strings.Join(parts, " ")
	if s.StdinPath != "" {
		line += " < " + s.StdinPath
	}
	return line
}

// String returns the step name, qualified by target when present.
func (s Step) String() string {
	if s.Target != "" {
		return s.Name + "@" + s.Target
	}
	return s.Name
}

// environ returns Env as sorted KEY=VALUE pairs.
func (s Step) environ() []string {
	if len(s.Env) == 0 {
		return nil
	}
	keys := make([]string, 0, len(s.Env))
	for k := range s.Env {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	env := make([]string, 0, len(keys))
	for _, k := range keys {
		env = append(env, k+"="+s.Env[k])
	}
	return env
}
