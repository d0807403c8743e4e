package runner

import (
	"context"
	"errors"
	"sync"
)

// MockRunner implements [Runner] for testing without spawning processes.
//
// Configure failures by setting fields before use:
//
//	mock := &MockRunner{
//	    FailOnStep:    "test",
//	    FailOnTargets: map[string]bool{"root@h2": true},
//	}
//
// MockRunner is safe for concurrent use.
type MockRunner struct {
	// FailOnStep names a step that exits with ExitCode.
	FailOnStep string

	// FailOnTargets lists rollout targets whose step exits with ExitCode.
	FailOnTargets map[string]bool

	// SpawnFailOnStep names a step that fails to start.
	SpawnFailOnStep string

	// ExitCode is the exit code for configured failures. Defaults to 1.
	ExitCode int

	// OnRun, when set, is called for every step before the outcome is decided.
	OnRun func(step Step)

	mu       sync.Mutex
	executed []Step
}

// Run records the step and returns the configured outcome.
func (m *MockRunner) Run(ctx context.Context, step Step) error {
	m.mu.Lock()
	m.executed = append(m.executed, step)
	onRun := m.OnRun
	m.mu.Unlock()

	if onRun != nil {
		onRun(step)
	}

	if err := ctx.Err(); err != nil {
		return &StepFailedError{Step: step, ExitCode: -1, Err: err}
	}

	if m.SpawnFailOnStep != "" && step.Name == m.SpawnFailOnStep {
		return &SpawnError{Step: step, Err: errors.New("executable file not found in $PATH")}
	}

	if (m.FailOnStep != "" && step.Name == m.FailOnStep) || m.FailOnTargets[step.Target] {
		code := m.ExitCode
		if code == 0 {
			code = 1
		}
		return &StepFailedError{Step: step, ExitCode: code}
	}

	return nil
}

// Executed returns a copy of every step run so far, in call order.
func (m *MockRunner) Executed() []Step {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Step, len(m.executed))
	copy(out, m.executed)
	return out
}

// ExecutedNames returns the names of every step run so far, in call order.
func (m *MockRunner) ExecutedNames() []string {
	steps := m.Executed()
	names := make([]string, len(steps))
	for i, s := range steps {
		names[i] = s.Name
	}
	return names
}

// Count returns how many times the named step ran.
func (m *MockRunner) Count(name string) int {
	n := 0
	for _, s := range m.Executed() {
		if s.Name == name {
			n++
		}
	}
	return n
}
