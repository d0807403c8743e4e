// Package pipeline drives a deployment from descriptor to running servers.
//
// The pipeline package provides [Orchestrator], which executes the fixed stage
// sequence (build image, test, package, release image) and, when the
// descriptor lists servers, publishes the release image and rolls it out to
// every server concurrently.
//
// Key concepts:
//   - The numbered step list comes from [NewPlan] and only drives progress display
//   - Sequential stages are fail-fast: the first failing step ends the run
//   - Rollouts are fan-out: every server is attempted, failures are collected
//     into a [*RolloutError] once all of them have finished
//   - Each run carries a [RunContext] (run id, root directory, descriptor);
//     nothing is read from the process working directory
package pipeline

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"alorg/internal/config"
	"alorg/internal/descriptor"
	"alorg/internal/rollout"
	"alorg/internal/runner"
	"alorg/internal/staging"
)

// SkipDeployWarning is reported when the descriptor has no servers.
const SkipDeployWarning = "No deploy servers specified. Only building and testing; no deployment."

// pruneTimeout bounds build image removal after the run.
const pruneTimeout = 30 * time.Second

// Reporter receives progress notifications from a run.
//
// StepStarted is called before each sequential step and once per server when
// its rollout is dispatched. Calls come from the coordinating goroutine only.
type Reporter interface {
	StepStarted(step PlannedStep, total int)
	Warning(msg string)
}

// Stager creates an isolated working copy of a project.
// The [staging.Stager] type implements this interface.
type Stager interface {
	Stage(ctx context.Context, source, label string) (*staging.Workspace, error)
}

// ImageRemover deletes a local image by reference.
// The dockerd.Client type implements this interface.
type ImageRemover interface {
	RemoveImage(ctx context.Context, ref string) error
}

// Settings are the tool-level knobs for building steps.
type Settings struct {
	// DockerBinary runs build, run and push.
	DockerBinary string

	// DockerHost is exported as DOCKER_HOST to container steps when set.
	DockerHost string

	// Recipe and script paths, relative to the run root.
	BuildRecipe   string
	ReleaseRecipe string
	UpgradeScript string

	TestCommand  []string
	BuildCommand []string

	// BuildOutput is the host directory, relative to the run root, that
	// receives the packaged artifacts.
	BuildOutput string

	// MaxParallelRollouts bounds concurrent rollouts; zero is unbounded.
	MaxParallelRollouts int

	// Transport and SSHBinary select how rollout steps are built.
	Transport string
	SSHBinary string
}

// SettingsFromConfig maps tool configuration onto [Settings].
func SettingsFromConfig(cfg *config.Config) Settings {
	return Settings{
		DockerBinary:        cfg.Docker.Binary,
		DockerHost:          cfg.Docker.Host,
		BuildRecipe:         cfg.Recipes.Build,
		ReleaseRecipe:       cfg.Recipes.Release,
		UpgradeScript:       cfg.Recipes.UpgradeScript,
		TestCommand:         cfg.Pipeline.TestCommand,
		BuildCommand:        cfg.Pipeline.BuildCommand,
		BuildOutput:         cfg.Pipeline.BuildOutput,
		MaxParallelRollouts: cfg.Pipeline.MaxParallelRollouts,
		Transport:           cfg.SSH.Transport,
		SSHBinary:           cfg.SSH.Binary,
	}
}

// RunContext is the per-run state threaded through step construction.
type RunContext struct {
	// ID is a unique run identifier used in logs and staging dir names.
	ID string

	// Root is the directory every step runs in: the project root, or the
	// staging workspace when isolation is enabled.
	Root string

	Descriptor *descriptor.Descriptor
}

// Orchestrator runs deployments.
//
// Orchestrator uses dependency injection for testability: the step
// [runner.Runner] executes container steps, and an optional separate runner
// executes rollouts (for the native SSH transport). Use [NewOrchestrator] and
// the Set* methods to configure it, then [Orchestrator.Run].
//
// One Orchestrator may serve several runs, but two runs for the same project
// must not overlap: they share the build image name.
type Orchestrator struct {
	runner        runner.Runner
	rolloutRunner runner.Runner
	settings      Settings
	reporter      Reporter
	stager        Stager
	pruner        ImageRemover
	logger        *slog.Logger
	newID         func() string
}

// NewOrchestrator creates an Orchestrator that runs every step through r.
//
// No reporter, stager or pruner is set by default: progress is silent, steps
// run in the project root, and the build image is kept.
func NewOrchestrator(r runner.Runner, settings Settings) *Orchestrator {
	return &Orchestrator{
		runner:   r,
		settings: settings,
		reporter: nopReporter{},
		logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
		newID:    uuid.NewString,
	}
}

// SetRolloutRunner routes rollout steps through r instead of the step runner.
func (o *Orchestrator) SetRolloutRunner(r runner.Runner) {
	o.rolloutRunner = r
}

// SetReporter configures progress reporting. A nil reporter disables it.
func (o *Orchestrator) SetReporter(r Reporter) {
	if r == nil {
		r = nopReporter{}
	}
	o.reporter = r
}

// SetStager enables isolated runs. Each run stages the project first and
// removes the workspace when it ends, whatever the outcome.
func (o *Orchestrator) SetStager(s Stager) {
	o.stager = s
}

// SetPruner enables removal of the temporary build image after each run.
// Removal failures are logged and never change the run's outcome.
func (o *Orchestrator) SetPruner(p ImageRemover) {
	o.pruner = p
}

// SetLogger configures diagnostic logging.
func (o *Orchestrator) SetLogger(l *slog.Logger) {
	if l != nil {
		o.logger = l
	}
}

// Run executes the pipeline for d rooted at workDir.
//
// The descriptor is validated first; a [*descriptor.MissingFieldError] ends
// the run before any step executes. Sequential stages stop at the first
// failure, returned as a [*StageError]. Rollouts run concurrently; if any
// fail, a [*RolloutError] listing all of them is returned after every server
// has finished.
//
// The returned [Result] is never nil and describes the run even on error.
func (o *Orchestrator) Run(ctx context.Context, workDir string, d *descriptor.Descriptor) (*Result, error) {
	start := time.Now()
	rc := RunContext{ID: o.newID(), Root: workDir, Descriptor: d}
	res := &Result{RunID: rc.ID, State: StageValidating}
	defer func() { res.Duration = time.Since(start) }()

	logger := o.logger.With("run_id", rc.ID)

	if err := d.Validate(); err != nil {
		logger.Error("descriptor invalid", "error", err)
		return res.fail(StageValidating, err)
	}
	logger = logger.With("project", d.Name)
	res.Plan = NewPlan(d)

	if o.stager != nil {
		res.State = StageStaging
		ws, err := o.stager.Stage(ctx, workDir, shortID(rc.ID))
		if err != nil {
			logger.Error("staging failed", "error", err)
			return res.fail(StageStaging, err)
		}
		defer func() {
			if err := ws.Cleanup(); err != nil {
				logger.Warn("workspace cleanup failed", "dir", ws.Dir, "error", err)
			}
		}()
		rc.Root = ws.Dir
		logger.Debug("staged workspace", "dir", ws.Dir)
	}

	if o.pruner != nil {
		defer o.pruneBuildImage(ctx, logger, d.BuildImage())
	}

	logger.Info("run started", "root", rc.Root, "steps", res.Plan.Total(), "servers", len(d.Servers))

	if !d.HasServers() {
		res.DeploySkipped = true
		o.reporter.Warning(SkipDeployWarning)
	}

	total := res.Plan.Total()
	for _, ps := range res.Plan.Sequential() {
		res.State = ps.Stage
		o.reporter.StepStarted(ps, total)

		stepStart := time.Now()
		err := o.runner.Run(ctx, o.buildStep(rc, ps))
		res.Steps = append(res.Steps, StepResult{Step: ps, Duration: time.Since(stepStart), Err: err})
		if err != nil {
			logger.Error("step failed", "step", ps.Number, "stage", ps.Stage, "error", err)
			return res.fail(ps.Stage, &StageError{Step: ps, Err: err})
		}
		logger.Debug("step finished", "step", ps.Number, "stage", ps.Stage, "duration", time.Since(stepStart))
	}

	if rollouts := res.Plan.Rollouts(); len(rollouts) > 0 {
		res.State = StageRollingOut
		res.Rollouts = o.rollOut(ctx, rc, rollouts, total, logger)
		if err := collectFailures(res.Rollouts); err != nil {
			logger.Error("rollout failed", "failed", len(err.Failures), "total", err.Total)
			return res.fail(StageRollingOut, err)
		}
	}

	res.State = StageDone
	logger.Info("run finished", "duration", time.Since(start))
	return res, nil
}

// rollOut dispatches one task per server and waits for all of them.
// A failing server never cancels its siblings.
func (o *Orchestrator) rollOut(ctx context.Context, rc RunContext, steps []PlannedStep, total int, logger *slog.Logger) []ServerResult {
	exec := o.rolloutRunner
	if exec == nil {
		exec = o.runner
	}

	var sem chan struct{}
	if o.settings.MaxParallelRollouts > 0 {
		sem = make(chan struct{}, o.settings.MaxParallelRollouts)
	}

	results := make([]ServerResult, len(steps))
	var wg sync.WaitGroup

	for i, ps := range steps {
		o.reporter.StepStarted(ps, total)
		step := o.buildStep(rc, ps)

		wg.Add(1)
		go func(i int, ps PlannedStep, step runner.Step) {
			defer wg.Done()
			if sem != nil {
				sem <- struct{}{}
				defer func() { <-sem }()
			}

			start := time.Now()
			err := exec.Run(ctx, step)
			results[i] = ServerResult{
				Server:   ps.Server,
				Number:   ps.Number,
				Duration: time.Since(start),
				Err:      err,
			}
			if err != nil {
				logger.Warn("server rollout failed", "server", ps.Server, "error", err)
				return
			}
			logger.Debug("server upgraded", "server", ps.Server, "duration", time.Since(start))
		}(i, ps, step)
	}

	wg.Wait()
	return results
}

func collectFailures(results []ServerResult) *RolloutError {
	var failures []ServerFailure
	for _, r := range results {
		if r.Err != nil {
			failures = append(failures, ServerFailure{Server: r.Server, Number: r.Number, Err: r.Err})
		}
	}
	if len(failures) == 0 {
		return nil
	}
	return &RolloutError{Failures: failures, Total: len(results)}
}

func (o *Orchestrator) pruneBuildImage(ctx context.Context, logger *slog.Logger, ref string) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), pruneTimeout)
	defer cancel()

	if err := o.pruner.RemoveImage(ctx, ref); err != nil {
		logger.Warn("build image prune failed", "image", ref, "error", err)
		return
	}
	logger.Debug("build image pruned", "image", ref)
}

// buildStep translates a planned step into the command that performs it.
func (o *Orchestrator) buildStep(rc RunContext, ps PlannedStep) runner.Step {
	d := rc.Descriptor
	s := o.settings
	step := runner.Step{
		Name:    string(ps.Stage),
		Program: s.DockerBinary,
		Dir:     rc.Root,
		Env:     o.dockerEnv(),
	}

	switch ps.Stage {
	case StageBuildingImage:
		step.Args = []string{"build", "-t", d.BuildImage(), "-f", rc.path(s.BuildRecipe), "."}
	case StageTesting:
		step.Args = append([]string{"run", "--rm", "-e", "CI", d.BuildImage()}, s.TestCommand...)
		if step.Env == nil {
			step.Env = map[string]string{}
		}
		step.Env["CI"] = "true"
	case StagePackaging:
		mount := rc.path(s.BuildOutput) + ":/app/build"
		step.Args = append([]string{"run", "--rm", "-v", mount, "-w", "/app", d.BuildImage()}, s.BuildCommand...)
	case StageBuildingReleaseImage:
		step.Args = []string{"build", "-t", d.Image(), "-f", rc.path(s.ReleaseRecipe), "."}
	case StagePublishing:
		step.Args = []string{"push", d.Image()}
	case StageRollingOut:
		rs := rollout.NewStep(rollout.Settings{
			Transport: s.Transport,
			SSHBinary: s.SSHBinary,
			Script:    rc.path(s.UpgradeScript),
		}, rollout.Target{Server: ps.Server, Image: d.Image(), Name: d.Name})
		rs.Dir = rc.Root
		return rs
	}

	return step
}

func (o *Orchestrator) dockerEnv() map[string]string {
	if o.settings.DockerHost == "" {
		return nil
	}
	return map[string]string{"DOCKER_HOST": o.settings.DockerHost}
}

// path resolves p against the run root unless it is already absolute.
func (rc RunContext) path(p string) string {
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(rc.Root, p)
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

type nopReporter struct{}

func (nopReporter) StepStarted(PlannedStep, int) {}
func (nopReporter) Warning(string)               {}
