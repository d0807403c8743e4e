// Package cli implements the alorg command-line interface using Cobra.
//
// The root command is built by [NewRootCommand] from an [App] that carries
// every collaborator the subcommands need. Tests build an App with mocks and
// drive the command tree directly; [Execute] wires the real implementations
// and converts the outcome into a process exit code.
//
// Commands:
//   - deploy: build, test, package, publish and roll out a project
//   - plan: print the numbered steps a deploy would run
//   - bootstrap: prepare a project for alorg deployments
//   - doctor: check the container daemon and required binaries
package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"alorg/internal/config"
	"alorg/internal/dockerd"
	"alorg/internal/logging"
	"alorg/internal/output"
	"alorg/internal/runner"
)

// Version is the alorg release, set at build time with -ldflags.
var Version = "dev"

// DockerClient is the slice of the daemon client the CLI uses.
// The [dockerd.Client] type implements this interface.
type DockerClient interface {
	Ping(ctx context.Context) (dockerd.Info, error)
	ImageExists(ctx context.Context, ref string) (bool, error)
	RemoveImage(ctx context.Context, ref string) error
	Close() error
}

// App holds the dependencies shared by every command.
//
// Zero-valued optional fields fall back to real implementations: a nil Runner
// means a local [runner.ExecRunner], a nil NewDocker connects through
// [dockerd.New], and a nil LookPath uses exec.LookPath.
type App struct {
	// Config is the tool configuration.
	Config *config.Config

	// Printer renders user-facing progress.
	Printer *output.Printer

	// Logger receives diagnostics.
	Logger *slog.Logger

	// WorkDir is the invocation directory; relative paths resolve against it.
	WorkDir string

	// Runner executes pipeline steps.
	Runner runner.Runner

	// RolloutRunner, when set, executes rollout steps instead of the
	// transport selected in Config.
	RolloutRunner runner.Runner

	// NewDocker connects to the container daemon.
	NewDocker func(host string) (DockerClient, error)

	// LookPath resolves binaries on PATH.
	LookPath func(file string) (string, error)
}

func (app *App) logger() *slog.Logger {
	if app.Logger == nil {
		return logging.Discard()
	}
	return app.Logger
}

func (app *App) docker(host string) (DockerClient, error) {
	if app.NewDocker != nil {
		return app.NewDocker(host)
	}
	client, err := dockerd.New(host)
	if err != nil {
		return nil, err
	}
	return client, nil
}

func (app *App) lookPath(file string) (string, error) {
	if app.LookPath != nil {
		return app.LookPath(file)
	}
	return exec.LookPath(file)
}

// NewRootCommand creates the root command with all subcommands attached.
func NewRootCommand(app *App) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "alorg",
		Short: "Build, test and deploy containerised web apps",
		Long: `alorg builds a project inside a container, runs its tests, packages a
release image, pushes it to a registry and upgrades every configured server.

Deployments are described by alorg.json in the project root:

    {
      "name": "my-project",
      "registry": "theopertore/alorg",
      "tag": "my-project",
      "servers": ["root@my-project.alorg.net"]
    }`,
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(
		newDeployCommand(app),
		newPlanCommand(app),
		newBootstrapCommand(app),
		newDoctorCommand(app),
	)

	return rootCmd
}

// ExecuteResult is the outcome of a CLI invocation.
type ExecuteResult struct {
	ExitCode int
	Err      error
}

// RunWithConfig builds the real [App] for cfg and runs the command line in
// args. It never calls os.Exit.
func RunWithConfig(ctx context.Context, cfg *config.Config, args []string) ExecuteResult {
	workDir, err := os.Getwd()
	if err != nil {
		return ExecuteResult{ExitCode: 1, Err: fmt.Errorf("failed to determine working directory: %w", err)}
	}

	app := &App{
		Config:  cfg,
		Printer: output.NewPrinter(),
		Logger:  logging.New(cfg.Log, os.Stderr),
		WorkDir: workDir,
	}

	rootCmd := NewRootCommand(app)
	rootCmd.SetArgs(args)

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		if code, ok := IsExitError(err); ok {
			return ExecuteResult{ExitCode: code, Err: err}
		}
		return ExecuteResult{ExitCode: 1, Err: err}
	}
	return ExecuteResult{}
}

// Execute loads configuration, runs the CLI and exits the process with the
// resulting code.
func Execute() {
	cfg, err := config.NewLoader().Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}

	// interrupting a deploy stops the step in flight
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	result := RunWithConfig(ctx, cfg, os.Args[1:])
	stop()
	if result.Err != nil {
		if _, ok := IsExitError(result.Err); !ok {
			fmt.Fprintf(os.Stderr, "Error: %v\n", result.Err)
		}
	}
	os.Exit(result.ExitCode)
}
