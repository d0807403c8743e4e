package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"alorg/internal/config"
	"alorg/internal/descriptor"
)

// doctorTimeout bounds the daemon calls.
const doctorTimeout = 10 * time.Second

func newDoctorCommand(app *App) *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Check that deploy prerequisites are available",
		Long: `Check that the container daemon is reachable and that the docker and
ssh binaries used by deploy are on PATH.

When a deploy config is found, also report whether the project's temporary
build image is present locally. A missing build image is not a problem; the
next deploy builds it.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			failed := 0

			for _, bin := range requiredBinaries(app.Config) {
				path, err := app.lookPath(bin)
				app.Printer.Check(bin, err, path)
				if err != nil {
					failed++
				}
			}

			failed += checkDaemon(cmd.Context(), app, configPath)

			if failed > 0 {
				app.logger().Warn("doctor found problems", "failed", failed)
				return NewExitError(1)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "path to the deploy config file (default ./alorg.json)")

	return cmd
}

func requiredBinaries(cfg *config.Config) []string {
	bins := []string{cfg.Docker.Binary}
	if cfg.SSH.Transport != config.TransportNative {
		bins = append(bins, cfg.SSH.Binary)
	}
	return bins
}

// checkDaemon pings the daemon and, when the descriptor loads, looks up the
// build image. It returns the number of failed checks.
func checkDaemon(ctx context.Context, app *App, configPath string) int {
	client, err := app.docker(app.Config.Docker.Host)
	if err != nil {
		app.Printer.Check("docker daemon", err, "")
		return 1
	}
	defer client.Close()

	ctx, cancel := context.WithTimeout(ctx, doctorTimeout)
	defer cancel()

	info, err := client.Ping(ctx)
	if err != nil {
		app.Printer.Check("docker daemon", err, "")
		return 1
	}
	app.Printer.Check("docker daemon", nil, fmt.Sprintf("API %s (%s)", info.APIVersion, info.OSType))

	d, err := descriptor.Load(descriptor.ResolvePath(app.WorkDir, configPath))
	if err != nil || d.Name == "" {
		app.logger().Debug("build image check skipped", "error", err)
		return 0
	}

	ref := d.BuildImage()
	exists, err := client.ImageExists(ctx, ref)
	switch {
	case err != nil:
		app.Printer.Check("build image", err, "")
		return 1
	case exists:
		app.Printer.Check("build image", nil, ref+" present")
	default:
		app.Printer.Check("build image", nil, ref+" not built yet")
	}
	return 0
}
