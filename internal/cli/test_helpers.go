package cli

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"alorg/internal/config"
	"alorg/internal/dockerd"
	"alorg/internal/output"
	"alorg/internal/runner"
)

// MockDocker is a DockerClient for testing.
type MockDocker struct {
	mu sync.Mutex

	// Info is returned by Ping when PingErr is nil.
	Info    dockerd.Info
	PingErr error

	// Images lists references ImageExists reports as present.
	Images   map[string]bool
	ImageErr error

	// RemoveErr is returned by RemoveImage.
	RemoveErr error

	// Removed records every RemoveImage reference.
	Removed []string
	Closed  bool
}

func (m *MockDocker) Ping(ctx context.Context) (dockerd.Info, error) {
	if m.PingErr != nil {
		return dockerd.Info{}, m.PingErr
	}
	return m.Info, nil
}

func (m *MockDocker) ImageExists(ctx context.Context, ref string) (bool, error) {
	if m.ImageErr != nil {
		return false, m.ImageErr
	}
	return m.Images[ref], nil
}

func (m *MockDocker) RemoveImage(ctx context.Context, ref string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Removed = append(m.Removed, ref)
	return m.RemoveErr
}

func (m *MockDocker) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Closed = true
	return nil
}

// testApp bundles an App with the mocks behind it.
type testApp struct {
	App    *App
	Out    *bytes.Buffer
	Runner *runner.MockRunner
	Docker *MockDocker
}

// newTestApp creates an App rooted at dir with mock collaborators.
func newTestApp(t *testing.T, dir string) *testApp {
	t.Helper()
	t.Setenv("ALORG_DESCRIPTOR", "")

	buf := &bytes.Buffer{}
	mockRunner := &runner.MockRunner{}
	docker := &MockDocker{Info: dockerd.Info{APIVersion: "1.47", OSType: "linux"}}

	app := &App{
		Config:  config.DefaultConfig(),
		Printer: output.NewPrinterWithWriter(buf),
		WorkDir: dir,
		Runner:  mockRunner,
		NewDocker: func(string) (DockerClient, error) {
			return docker, nil
		},
		LookPath: func(file string) (string, error) {
			return "/usr/bin/" + file, nil
		},
	}

	return &testApp{App: app, Out: buf, Runner: mockRunner, Docker: docker}
}

// run executes the root command with args.
func (ta *testApp) run(args ...string) error {
	rootCmd := NewRootCommand(ta.App)
	cmdOut := &bytes.Buffer{}
	rootCmd.SetOut(cmdOut)
	rootCmd.SetErr(cmdOut)
	rootCmd.SetArgs(args)
	return rootCmd.ExecuteContext(context.Background())
}

// writeFile creates dir/name with content, creating parents as needed.
func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	p := filepath.Join(dir, filepath.FromSlash(name))
	if err := os.MkdirAll(filepath.Dir(p), 0755); err != nil {
		t.Fatalf("failed to create directory: %v", err)
	}
	if err := os.WriteFile(p, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write %s: %v", name, err)
	}
	return p
}
