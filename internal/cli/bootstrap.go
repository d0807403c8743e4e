package cli

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"alorg/internal/bootstrap"
)

func newBootstrapCommand(app *App) *cobra.Command {
	var (
		dir     string
		verbose bool
	)

	cmd := &cobra.Command{
		Use:   "bootstrap",
		Short: "Prepare a project for alorg deployments",
		Long: `Bootstrap a project to be deployed following alorg conventions:
  - adds "deploy": "alorg deploy" to the package.json scripts
  - writes alorg.json using the package name for name, tag and server
  - copies the build recipes and upgrade script into internals/docker

Existing alorg.json and recipe files are kept.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			root := app.WorkDir
			if dir != "" {
				root = dir
				if !filepath.IsAbs(root) {
					root = filepath.Join(app.WorkDir, root)
				}
			}

			app.Printer.Info("Bootstrapping alorg project for deployment...")
			app.Printer.Blank()

			report, err := bootstrap.Seed(root)
			if err != nil {
				app.Printer.DeployError(err)
				return NewExitError(1)
			}

			if verbose {
				for _, p := range report.Created {
					app.Printer.Info(fmt.Sprintf("  created %s", p))
				}
				for _, p := range report.Skipped {
					app.Printer.Info(fmt.Sprintf("  kept    %s", p))
				}
				app.Printer.Blank()
			}
			app.logger().Info("project bootstrapped", "dir", root, "package", report.PackageName,
				"created", len(report.Created), "skipped", len(report.Skipped))

			app.Printer.Done()
			return nil
		},
	}

	cmd.Flags().StringVar(&dir, "dir", "", "project directory (default current directory)")
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "list every file written or kept")

	return cmd
}
