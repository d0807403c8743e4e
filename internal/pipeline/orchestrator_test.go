package pipeline

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"alorg/internal/assets"
	"alorg/internal/config"
	"alorg/internal/descriptor"
	"alorg/internal/runner"
	"alorg/internal/staging"
)

func testSettings() Settings {
	return SettingsFromConfig(config.DefaultConfig())
}

func testDescriptor(servers ...string) *descriptor.Descriptor {
	return &descriptor.Descriptor{
		Name:     "app",
		Registry: "theopertore/alorg",
		Tag:      "app",
		Servers:  servers,
	}
}

type recordingReporter struct {
	mu       sync.Mutex
	started  []PlannedStep
	totals   []int
	warnings []string
}

func (r *recordingReporter) StepStarted(step PlannedStep, total int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.started = append(r.started, step)
	r.totals = append(r.totals, total)
}

func (r *recordingReporter) Warning(msg string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.warnings = append(r.warnings, msg)
}

type fakePruner struct {
	mu   sync.Mutex
	refs []string
	err  error
}

func (p *fakePruner) RemoveImage(_ context.Context, ref string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.refs = append(p.refs, ref)
	return p.err
}

func TestRun_MissingFieldExecutesNothing(t *testing.T) {
	tests := []struct {
		name  string
		d     *descriptor.Descriptor
		field string
	}{
		{"missing name", &descriptor.Descriptor{Registry: "r", Tag: "t", Servers: []string{"h1"}}, "name"},
		{"missing registry", &descriptor.Descriptor{Name: "n", Tag: "t"}, "registry"},
		{"missing tag", &descriptor.Descriptor{Name: "n", Registry: "r"}, "tag"},
		{"all missing reports name", &descriptor.Descriptor{}, "name"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock := &runner.MockRunner{}
			pruner := &fakePruner{}
			o := NewOrchestrator(mock, testSettings())
			o.SetPruner(pruner)

			res, err := o.Run(context.Background(), t.TempDir(), tt.d)

			var missing *descriptor.MissingFieldError
			require.True(t, errors.As(err, &missing))
			assert.Equal(t, tt.field, missing.Field)
			assert.Empty(t, mock.Executed())
			assert.Empty(t, pruner.refs)
			assert.Equal(t, StageFailed, res.State)
			assert.Equal(t, StageValidating, res.FailedStage)
		})
	}
}

func TestRun_NoServersBuildsOnly(t *testing.T) {
	mock := &runner.MockRunner{}
	rep := &recordingReporter{}
	o := NewOrchestrator(mock, testSettings())
	o.SetReporter(rep)

	res, err := o.Run(context.Background(), t.TempDir(), testDescriptor())

	require.NoError(t, err)
	assert.Equal(t, []string{"build-image", "test", "package", "release-image"}, mock.ExecutedNames())
	assert.Equal(t, StageDone, res.State)
	assert.True(t, res.DeploySkipped)
	assert.Empty(t, res.Rollouts)
	assert.Equal(t, []string{SkipDeployWarning}, rep.warnings)
	assert.Equal(t, []int{4, 4, 4, 4}, rep.totals)
}

func TestRun_FullDeploy(t *testing.T) {
	mock := &runner.MockRunner{}
	o := NewOrchestrator(mock, testSettings())

	res, err := o.Run(context.Background(), t.TempDir(), testDescriptor("h1", "h2"))

	require.NoError(t, err)
	assert.True(t, res.Succeeded())
	assert.Equal(t, 1, mock.Count("publish"))
	assert.Equal(t, 2, mock.Count("rollout"))
	assert.ElementsMatch(t, []string{"h1", "h2"}, res.UpgradedServers())
	assert.Len(t, res.Steps, 5)
	assert.NotEmpty(t, res.RunID)
	assert.False(t, res.DeploySkipped)
}

func TestRun_SequentialGating(t *testing.T) {
	tests := []struct {
		name      string
		failOn    string
		wantRun   []string
		wantStage Stage
	}{
		{"build fails", "build-image", []string{"build-image"}, StageBuildingImage},
		{"test fails", "test", []string{"build-image", "test"}, StageTesting},
		{"package fails", "package", []string{"build-image", "test", "package"}, StagePackaging},
		{"release fails", "release-image", []string{"build-image", "test", "package", "release-image"}, StageBuildingReleaseImage},
		{"push fails", "publish", []string{"build-image", "test", "package", "release-image", "publish"}, StagePublishing},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock := &runner.MockRunner{FailOnStep: tt.failOn, ExitCode: 2}
			o := NewOrchestrator(mock, testSettings())

			res, err := o.Run(context.Background(), t.TempDir(), testDescriptor("h1", "h2"))

			require.Error(t, err)
			assert.Equal(t, tt.wantRun, mock.ExecutedNames())
			assert.Equal(t, 0, mock.Count("rollout"))
			assert.Equal(t, StageFailed, res.State)
			assert.Equal(t, tt.wantStage, res.FailedStage)

			var stageErr *StageError
			require.True(t, errors.As(err, &stageErr))
			assert.Equal(t, tt.wantStage, stageErr.Step.Stage)

			code, ok := runner.ExitCode(err)
			assert.True(t, ok)
			assert.Equal(t, 2, code)
		})
	}
}

func TestRun_TestFailureNeverPackages(t *testing.T) {
	mock := &runner.MockRunner{FailOnStep: "test"}
	o := NewOrchestrator(mock, testSettings())

	_, err := o.Run(context.Background(), t.TempDir(), testDescriptor())

	require.Error(t, err)
	assert.Equal(t, 1, mock.Count("test"))
	assert.Equal(t, 0, mock.Count("package"))
	assert.Equal(t, 0, mock.Count("release-image"))
}

func TestRun_SpawnErrorAborts(t *testing.T) {
	mock := &runner.MockRunner{SpawnFailOnStep: "build-image"}
	o := NewOrchestrator(mock, testSettings())

	res, err := o.Run(context.Background(), t.TempDir(), testDescriptor("h1"))

	var spawn *runner.SpawnError
	require.True(t, errors.As(err, &spawn))
	assert.Equal(t, []string{"build-image"}, mock.ExecutedNames())
	assert.Equal(t, StageBuildingImage, res.FailedStage)
}

func TestRun_PartialRolloutFailure(t *testing.T) {
	mock := &runner.MockRunner{FailOnTargets: map[string]bool{"h2": true}}
	o := NewOrchestrator(mock, testSettings())

	res, err := o.Run(context.Background(), t.TempDir(), testDescriptor("h1", "h2", "h3"))

	var rolloutErr *RolloutError
	require.True(t, errors.As(err, &rolloutErr))
	assert.Equal(t, []string{"h2"}, rolloutErr.Servers())
	assert.Equal(t, 3, rolloutErr.Total)
	assert.True(t, rolloutErr.Partial())
	assert.Contains(t, err.Error(), "rollout failed on 1 of 3 servers: h2 (exit code 1)")

	var targets []string
	for _, s := range mock.Executed() {
		if s.Name == "rollout" {
			targets = append(targets, s.Target)
		}
	}
	assert.ElementsMatch(t, []string{"h1", "h2", "h3"}, targets)

	assert.Equal(t, StageFailed, res.State)
	assert.Equal(t, StageRollingOut, res.FailedStage)
	assert.Equal(t, []string{"h1", "h3"}, res.UpgradedServers())

	var failed *runner.StepFailedError
	require.True(t, errors.As(err, &failed))
	assert.Equal(t, "h2", failed.Step.Target)
}

func TestRun_AllRolloutsFail(t *testing.T) {
	mock := &runner.MockRunner{FailOnTargets: map[string]bool{"h1": true, "h2": true}}
	o := NewOrchestrator(mock, testSettings())

	_, err := o.Run(context.Background(), t.TempDir(), testDescriptor("h1", "h2"))

	var rolloutErr *RolloutError
	require.True(t, errors.As(err, &rolloutErr))
	assert.False(t, rolloutErr.Partial())
	assert.Equal(t, []string{"h1", "h2"}, rolloutErr.Servers())
}

func TestRun_RolloutsRunConcurrently(t *testing.T) {
	const servers = 3
	var arrived sync.WaitGroup
	arrived.Add(servers)
	release := make(chan struct{})
	go func() {
		arrived.Wait()
		close(release)
	}()

	mock := &runner.MockRunner{OnRun: func(s runner.Step) {
		if s.Name != "rollout" {
			return
		}
		arrived.Done()
		<-release
	}}
	o := NewOrchestrator(mock, testSettings())

	done := make(chan error, 1)
	go func() {
		_, err := o.Run(context.Background(), t.TempDir(), testDescriptor("h1", "h2", "h3"))
		done <- err
	}()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("rollouts did not run concurrently")
	}
}

func TestRun_MaxParallelRollouts(t *testing.T) {
	var current, peak int32
	mock := &runner.MockRunner{OnRun: func(s runner.Step) {
		if s.Name != "rollout" {
			return
		}
		n := atomic.AddInt32(&current, 1)
		for {
			p := atomic.LoadInt32(&peak)
			if n <= p || atomic.CompareAndSwapInt32(&peak, p, n) {
				break
			}
		}
		time.Sleep(10 * time.Millisecond)
		atomic.AddInt32(&current, -1)
	}}
	settings := testSettings()
	settings.MaxParallelRollouts = 2
	o := NewOrchestrator(mock, settings)

	_, err := o.Run(context.Background(), t.TempDir(), testDescriptor("h1", "h2", "h3", "h4", "h5"))

	require.NoError(t, err)
	assert.Equal(t, 5, mock.Count("rollout"))
	assert.LessOrEqual(t, atomic.LoadInt32(&peak), int32(2))
}

func TestRun_ReporterNumbering(t *testing.T) {
	rep := &recordingReporter{}
	o := NewOrchestrator(&runner.MockRunner{}, testSettings())
	o.SetReporter(rep)

	_, err := o.Run(context.Background(), t.TempDir(), testDescriptor("h1", "h2", "h3"))

	require.NoError(t, err)
	require.Len(t, rep.started, 8)
	for i, s := range rep.started {
		assert.Equal(t, i+1, s.Number)
		assert.Equal(t, 8, rep.totals[i])
	}
	assert.Equal(t, "Deploying to h1", rep.started[5].Label)
	assert.Equal(t, "h3", rep.started[7].Server)
	assert.Empty(t, rep.warnings)
}

func TestRun_StepCommands(t *testing.T) {
	mock := &runner.MockRunner{}
	settings := testSettings()
	settings.DockerHost = "tcp://builder:2375"
	o := NewOrchestrator(mock, settings)
	root := t.TempDir()

	_, err := o.Run(context.Background(), root, testDescriptor("root@h1"))
	require.NoError(t, err)

	steps := mock.Executed()
	require.Len(t, steps, 6)
	byName := map[string]runner.Step{}
	for _, s := range steps {
		byName[s.Name] = s
	}

	build := byName["build-image"]
	assert.Equal(t, "docker", build.Program)
	assert.Equal(t, []string{"build", "-t", "app-tmp-build", "-f", filepath.Join(root, "internals/docker/Dockerfile-js"), "."}, build.Args)
	assert.Equal(t, root, build.Dir)
	assert.Equal(t, "tcp://builder:2375", build.Env["DOCKER_HOST"])

	test := byName["test"]
	assert.Equal(t, []string{"run", "--rm", "-e", "CI", "app-tmp-build", "yarn", "test"}, test.Args)
	assert.Equal(t, "true", test.Env["CI"])

	pkg := byName["package"]
	assert.Equal(t, []string{"run", "--rm", "-v", filepath.Join(root, "build") + ":/app/build", "-w", "/app", "app-tmp-build", "yarn", "build"}, pkg.Args)

	release := byName["release-image"]
	assert.Equal(t, []string{"build", "-t", "theopertore/alorg:app", "-f", filepath.Join(root, "internals/docker/Dockerfile-nginx"), "."}, release.Args)

	assert.Equal(t, []string{"push", "theopertore/alorg:app"}, byName["publish"].Args)

	deploy := byName["rollout"]
	assert.Equal(t, "ssh", deploy.Program)
	assert.Equal(t, []string{"root@h1", "bash", "-s", "--", "theopertore/alorg:app", "app"}, deploy.Args)
	assert.Equal(t, filepath.Join(root, "internals/docker/image-upgrade.sh"), deploy.StdinPath)
	assert.Equal(t, "root@h1", deploy.Target)
}

func TestRun_NoDockerHostLeavesEnvUnset(t *testing.T) {
	mock := &runner.MockRunner{}
	o := NewOrchestrator(mock, testSettings())

	_, err := o.Run(context.Background(), t.TempDir(), testDescriptor())
	require.NoError(t, err)

	for _, s := range mock.Executed() {
		_, ok := s.Env["DOCKER_HOST"]
		assert.False(t, ok, s.Name)
	}
}

func TestRun_SeparateRolloutRunner(t *testing.T) {
	steps := &runner.MockRunner{}
	remote := &runner.MockRunner{}
	settings := testSettings()
	settings.Transport = "native"
	o := NewOrchestrator(steps, settings)
	o.SetRolloutRunner(remote)

	_, err := o.Run(context.Background(), t.TempDir(), testDescriptor("h1", "h2"))

	require.NoError(t, err)
	assert.Equal(t, 0, steps.Count("rollout"))
	assert.Equal(t, 2, remote.Count("rollout"))
	for _, s := range remote.Executed() {
		assert.Equal(t, "bash", s.Program)
	}
}

func TestRun_PrunesBuildImage(t *testing.T) {
	t.Run("after success", func(t *testing.T) {
		pruner := &fakePruner{}
		o := NewOrchestrator(&runner.MockRunner{}, testSettings())
		o.SetPruner(pruner)

		_, err := o.Run(context.Background(), t.TempDir(), testDescriptor())

		require.NoError(t, err)
		assert.Equal(t, []string{"app-tmp-build"}, pruner.refs)
	})

	t.Run("after failure", func(t *testing.T) {
		pruner := &fakePruner{}
		o := NewOrchestrator(&runner.MockRunner{FailOnStep: "test"}, testSettings())
		o.SetPruner(pruner)

		_, err := o.Run(context.Background(), t.TempDir(), testDescriptor())

		require.Error(t, err)
		assert.Equal(t, []string{"app-tmp-build"}, pruner.refs)
	})

	t.Run("prune error is not fatal", func(t *testing.T) {
		pruner := &fakePruner{err: errors.New("image in use")}
		o := NewOrchestrator(&runner.MockRunner{}, testSettings())
		o.SetPruner(pruner)

		res, err := o.Run(context.Background(), t.TempDir(), testDescriptor())

		require.NoError(t, err)
		assert.True(t, res.Succeeded())
	})
}

func TestRun_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	mock := &runner.MockRunner{}
	o := NewOrchestrator(mock, testSettings())

	res, err := o.Run(ctx, t.TempDir(), testDescriptor("h1"))

	require.Error(t, err)
	assert.Equal(t, []string{"build-image"}, mock.ExecutedNames())
	assert.Equal(t, StageBuildingImage, res.FailedStage)
}

// snapshot captures every file's mode and content under root.
func snapshot(t *testing.T, root string) map[string]string {
	t.Helper()
	out := map[string]string{}
	err := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, _ := filepath.Rel(root, p)
		info, err := d.Info()
		if err != nil {
			return err
		}
		if d.IsDir() {
			out[rel] = info.Mode().String()
			return nil
		}
		data, err := os.ReadFile(p)
		if err != nil {
			return err
		}
		out[rel] = info.Mode().String() + ":" + string(data)
		return nil
	})
	require.NoError(t, err)
	return out
}

func writeProject(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	for rel, content := range map[string]string{
		"package.json":     `{"name":"app","scripts":{"test":"jest"}}`,
		"alorg.json":       `{"name":"app","registry":"theopertore/alorg","tag":"app"}`,
		"src/index.js":     "export default 1",
		".git/HEAD":        "ref: refs/heads/main",
		"public/index.htm": "<html></html>",
	} {
		p := filepath.Join(root, filepath.FromSlash(rel))
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0755))
		require.NoError(t, os.WriteFile(p, []byte(content), 0644))
	}
	return root
}

func TestRun_StagingLeavesProjectUntouched(t *testing.T) {
	tests := []struct {
		name    string
		failOn  string
		servers []string
	}{
		{"success", "", []string{"h1"}},
		{"test failure", "test", nil},
		{"rollout failure", "", []string{"h1", "h2"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			project := writeProject(t)
			before := snapshot(t, project)
			parent := t.TempDir()

			var mu sync.Mutex
			var dirs []string
			mock := &runner.MockRunner{
				FailOnStep: tt.failOn,
				OnRun: func(s runner.Step) {
					mu.Lock()
					dirs = append(dirs, s.Dir)
					mu.Unlock()
					if s.Name == "package" {
						out := filepath.Join(s.Dir, "build")
						_ = os.MkdirAll(out, 0755)
						_ = os.WriteFile(filepath.Join(out, "index.html"), []byte("built"), 0644)
					}
					if s.Name == "build-image" {
						_ = os.WriteFile(filepath.Join(s.Dir, "package.json"), []byte("mutated"), 0644)
					}
				},
			}
			if len(tt.servers) > 1 {
				mock.FailOnTargets = map[string]bool{tt.servers[1]: true}
			}

			o := NewOrchestrator(mock, testSettings())
			o.SetStager(staging.NewStager(staging.Options{
				Ignore:  []string{".git", "node_modules", "build"},
				TempDir: parent,
				Overlay: assets.FS(),
			}))

			_, _ = o.Run(context.Background(), project, testDescriptor(tt.servers...))

			assert.Equal(t, before, snapshot(t, project))
			require.NotEmpty(t, dirs)
			for _, d := range dirs {
				assert.NotEqual(t, project, d)
				assert.NoDirExists(t, d, "workspace must be removed")
			}
			entries, err := os.ReadDir(parent)
			require.NoError(t, err)
			assert.Empty(t, entries)
		})
	}
}

func TestRun_StagedStepsSeeOverlay(t *testing.T) {
	project := writeProject(t)
	var script string
	mock := &runner.MockRunner{OnRun: func(s runner.Step) {
		if s.Name == "rollout" {
			data, err := os.ReadFile(s.StdinPath)
			if err == nil {
				script = string(data)
			}
		}
	}}

	o := NewOrchestrator(mock, testSettings())
	o.SetStager(staging.NewStager(staging.Options{TempDir: t.TempDir(), Overlay: assets.FS()}))

	_, err := o.Run(context.Background(), project, testDescriptor("h1"))

	require.NoError(t, err)
	embedded, err := fs.ReadFile(assets.FS(), assets.UpgradeScript)
	require.NoError(t, err)
	assert.Equal(t, string(embedded), script)
}

type failingStager struct{}

func (failingStager) Stage(context.Context, string, string) (*staging.Workspace, error) {
	return nil, staging.ErrMirror
}

func TestRun_StagingFailureAbortsBeforeSteps(t *testing.T) {
	mock := &runner.MockRunner{}
	o := NewOrchestrator(mock, testSettings())
	o.SetStager(failingStager{})

	res, err := o.Run(context.Background(), t.TempDir(), testDescriptor("h1"))

	assert.True(t, errors.Is(err, staging.ErrMirror))
	assert.Empty(t, mock.Executed())
	assert.Equal(t, StageStaging, res.FailedStage)
}
