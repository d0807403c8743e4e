package cli

import (
	"context"
	"errors"

	"github.com/spf13/cobra"

	"alorg/internal/assets"
	"alorg/internal/config"
	"alorg/internal/descriptor"
	"alorg/internal/pipeline"
	"alorg/internal/rollout"
	"alorg/internal/runner"
	"alorg/internal/staging"
)

func newDeployCommand(app *App) *cobra.Command {
	var (
		opts  deployOptions
		quiet bool
	)

	cmd := &cobra.Command{
		Use:   "deploy",
		Short: "Build, test and deploy the project",
		Long: `Deploy the project described by alorg.json:
  1. Building env             - build the project's build image
  2. Running tests            - run the test suite inside it with CI=true
  3. Building production app  - run the production build, output to ./build
  4. Building release image   - build registry:tag from the build output
  5. Pushing to registry      - push registry:tag
  6+ Deploying to <server>    - upgrade every server concurrently

Without servers only steps 1-4 run.

The descriptor path is taken from --config, then $ALORG_DESCRIPTOR, then
./alorg.json. It needs at least name, registry and tag.`,
		Example: `  alorg deploy
  alorg deploy -c staging.json --isolate
  alorg deploy --quiet --prune-build-image`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.verbose = !quiet
			if !cmd.Flags().Changed("isolate") {
				opts.isolate = app.Config.Pipeline.Isolate
			}
			return runDeploy(cmd.Context(), app, opts)
		},
	}

	cmd.Flags().StringVarP(&opts.configPath, "config", "c", "", "path to the deploy config file (default ./alorg.json)")
	cmd.Flags().BoolVarP(&quiet, "quiet", "q", false, "hide output from build, test and deploy commands")
	cmd.Flags().BoolVar(&opts.isolate, "isolate", false, "run every step in a temporary copy of the project")
	cmd.Flags().BoolVar(&opts.prune, "prune-build-image", false, "remove the temporary build image when the run ends")

	return cmd
}

type deployOptions struct {
	configPath string
	verbose    bool
	isolate    bool
	prune      bool
}

func runDeploy(ctx context.Context, app *App, opts deployOptions) error {
	cfg := app.Config
	logger := app.logger()
	path := descriptor.ResolvePath(app.WorkDir, opts.configPath)

	d, err := descriptor.Load(path)
	if err != nil {
		app.Printer.DeployError(err)
		return NewExitError(1)
	}
	app.Printer.UsingConfig(path)

	// a missing field is reported before any transport or daemon is touched
	if err := d.Validate(); err != nil {
		app.Printer.DeployError(err)
		return NewExitError(1)
	}

	stepRunner := app.Runner
	if stepRunner == nil {
		stepRunner = runner.NewExecRunner(opts.verbose, logger)
	}

	orch := pipeline.NewOrchestrator(stepRunner, pipeline.SettingsFromConfig(cfg))
	orch.SetReporter(app.Printer)
	orch.SetLogger(logger)

	if opts.isolate {
		orch.SetStager(staging.NewStager(staging.Options{
			Ignore:  cfg.Staging.Ignore,
			TempDir: cfg.Staging.TempDir,
			Overlay: assets.FS(),
			Files:   map[string]string{descriptorName(path): path},
		}))
	}

	switch {
	case app.RolloutRunner != nil:
		orch.SetRolloutRunner(app.RolloutRunner)
	case cfg.SSH.Transport == config.TransportNative && len(d.Servers) > 0:
		sshRunner, err := rollout.NewSSHRunner(sshOptions(cfg.SSH, opts.verbose), logger)
		if err != nil {
			app.Printer.DeployError(err)
			return NewExitError(1)
		}
		defer sshRunner.Close()
		orch.SetRolloutRunner(sshRunner)
	}

	if opts.prune {
		client, err := app.docker(cfg.Docker.Host)
		if err != nil {
			logger.Warn("build image will not be pruned", "error", err)
		} else {
			defer client.Close()
			orch.SetPruner(client)
		}
	}

	res, err := orch.Run(ctx, app.WorkDir, d)
	app.Printer.Summary(res)
	if err != nil {
		app.Printer.DeployError(err)
		return NewExitError(exitCodeFor(err))
	}
	return nil
}

func sshOptions(c config.SSHConfig, verbose bool) rollout.SSHOptions {
	return rollout.SSHOptions{
		User:                  c.User,
		Port:                  c.Port,
		KeyPath:               c.KeyPath,
		KnownHosts:            c.KnownHosts,
		InsecureIgnoreHostKey: c.InsecureIgnoreHostKey,
		ConnectTimeout:        c.ConnectTimeout,
		Verbose:               verbose,
	}
}

// exitCodeFor passes a failed step's exit status through. Rollout failures
// and anything without a usable status exit 1.
func exitCodeFor(err error) int {
	var rolloutErr *pipeline.RolloutError
	if errors.As(err, &rolloutErr) {
		return 1
	}
	if code, ok := runner.ExitCode(err); ok && code > 0 {
		return code
	}
	return 1
}
