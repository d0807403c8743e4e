package cli

import (
	"path/filepath"

	"github.com/spf13/cobra"

	"alorg/internal/descriptor"
	"alorg/internal/pipeline"
)

func newPlanCommand(app *App) *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "plan",
		Short: "Show the steps a deploy would run",
		Long: `Load and validate the deploy config, then print the numbered steps
a deploy would run. Nothing is built or deployed.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			path := descriptor.ResolvePath(app.WorkDir, configPath)
			d, err := descriptor.Read(path)
			if err != nil {
				app.Printer.DeployError(err)
				return NewExitError(1)
			}
			app.Printer.Plan(path, pipeline.NewPlan(d))
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "path to the deploy config file (default ./alorg.json)")

	return cmd
}

// descriptorName is the file name the descriptor keeps inside a staged workspace.
func descriptorName(path string) string {
	return filepath.Base(path)
}
