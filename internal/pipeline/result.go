package pipeline

import "time"

// StepResult records one finished sequential step.
type StepResult struct {
	Step     PlannedStep
	Duration time.Duration
	Err      error
}

// ServerResult records one server's rollout.
type ServerResult struct {
	Server   string
	Number   int
	Duration time.Duration
	Err      error
}

// Succeeded reports whether the rollout finished with exit status zero.
func (r ServerResult) Succeeded() bool {
	return r.Err == nil
}

// Result is the outcome of one [Orchestrator.Run].
//
// State is [StageDone] or [StageFailed]. When failed, FailedStage names the
// stage that stopped the run and Err holds the reason.
type Result struct {
	RunID       string
	Plan        Plan
	State       Stage
	FailedStage Stage
	Steps       []StepResult
	Rollouts    []ServerResult

	// DeploySkipped is set when the descriptor had no servers.
	DeploySkipped bool

	Duration time.Duration
	Err      error
}

// Succeeded reports whether the run reached [StageDone].
func (r *Result) Succeeded() bool {
	return r.State == StageDone
}

// UpgradedServers lists the servers whose rollout succeeded, in plan order.
func (r *Result) UpgradedServers() []string {
	var out []string
	for _, s := range r.Rollouts {
		if s.Succeeded() {
			out = append(out, s.Server)
		}
	}
	return out
}

func (r *Result) fail(stage Stage, err error) (*Result, error) {
	r.State = StageFailed
	r.FailedStage = stage
	r.Err = err
	return r, err
}
