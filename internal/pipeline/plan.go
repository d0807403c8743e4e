package pipeline

import (
	"fmt"

	"alorg/internal/descriptor"
)

// Stage identifies a pipeline state.
//
// The sequential stages run in the order listed; [StageRollingOut] is the only
// stage with one step per server. [StageDone] and [StageFailed] are terminal.
type Stage string

const (
	StageValidating           Stage = "validating"
	StageStaging              Stage = "staging"
	StageBuildingImage        Stage = "build-image"
	StageTesting              Stage = "test"
	StagePackaging            Stage = "package"
	StageBuildingReleaseImage Stage = "release-image"
	StagePublishing           Stage = "publish"
	StageRollingOut           Stage = "rollout"
	StageDone                 Stage = "done"
	StageFailed               Stage = "failed"
)

// fixedStages are executed in order on every run.
var fixedStages = []Stage{
	StageBuildingImage,
	StageTesting,
	StagePackaging,
	StageBuildingReleaseImage,
}

// PlannedStep is one numbered step in a [Plan].
type PlannedStep struct {
	// Number is the 1-based display position.
	Number int

	// Stage is the pipeline stage the step belongs to.
	Stage Stage

	// Label is the human-readable banner text.
	Label string

	// Server is set for rollout steps only.
	Server string
}

// Plan is the numbered list of steps a run will attempt.
//
// Plans are derived from the descriptor and only drive progress display; the
// orchestrator's control flow does not consult the numbering.
type Plan struct {
	Steps []PlannedStep
}

// NewPlan numbers the steps for d.
//
// Without servers the plan is the four build stages. With N servers it adds
// a publish step and N rollout steps, for 5+N steps numbered contiguously.
func NewPlan(d *descriptor.Descriptor) Plan {
	image := d.Image()
	var steps []PlannedStep

	for _, stage := range fixedStages {
		steps = append(steps, PlannedStep{
			Number: len(steps) + 1,
			Stage:  stage,
			Label:  stageLabel(stage, image),
		})
	}

	if !d.HasServers() {
		return Plan{Steps: steps}
	}

	steps = append(steps, PlannedStep{
		Number: len(steps) + 1,
		Stage:  StagePublishing,
		Label:  stageLabel(StagePublishing, image),
	})
	for _, server := range d.Servers {
		steps = append(steps, PlannedStep{
			Number: len(steps) + 1,
			Stage:  StageRollingOut,
			Label:  fmt.Sprintf("Deploying to %s", server),
			Server: server,
		})
	}

	return Plan{Steps: steps}
}

func stageLabel(stage Stage, image string) string {
	switch stage {
	case StageBuildingImage:
		return "Building env"
	case StageTesting:
		return "Running tests"
	case StagePackaging:
		return "Building production app"
	case StageBuildingReleaseImage:
		return fmt.Sprintf("Building release image %s", image)
	case StagePublishing:
		return fmt.Sprintf("Pushing to registry %s", image)
	default:
		return string(stage)
	}
}

// Total returns the number of planned steps.
func (p Plan) Total() int {
	return len(p.Steps)
}

// Publishes reports whether the plan pushes the release image.
func (p Plan) Publishes() bool {
	for _, s := range p.Steps {
		if s.Stage == StagePublishing {
			return true
		}
	}
	return false
}

// Sequential returns the steps that run one after another.
func (p Plan) Sequential() []PlannedStep {
	var out []PlannedStep
	for _, s := range p.Steps {
		if s.Stage != StageRollingOut {
			out = append(out, s)
		}
	}
	return out
}

// Rollouts returns the per-server steps in descriptor order.
func (p Plan) Rollouts() []PlannedStep {
	var out []PlannedStep
	for _, s := range p.Steps {
		if s.Stage == StageRollingOut {
			out = append(out, s)
		}
	}
	return out
}
