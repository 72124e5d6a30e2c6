package cli

import (
	"github.com/spf13/cobra"

	"battery-cost-forecast/internal/app"
)

var (
	exportDir       string
	exportScenarios []string
	exportMagnitude float64
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Write CSV, Excel and PNG exports without persisting a run",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Export(cmd.Context(), app.ExportOptions{
			Dir:       exportDir,
			Scenarios: exportScenarios,
			Magnitude: exportMagnitude,
		})
	},
}

func init() {
	exportCmd.Flags().StringVar(&exportDir, "out", "", "Export directory (defaults to config)")
	exportCmd.Flags().StringSliceVar(&exportScenarios, "scenario", nil, "Scenario presets to include (all when empty)")
	exportCmd.Flags().Float64Var(&exportMagnitude, "magnitude", 0, "Tornado perturbation (defaults to config)")
}
