package cli

import (
	"github.com/spf13/cobra"

	"battery-cost-forecast/internal/app"
)

var (
	sensitivityChemistry string
	sensitivityMonth     string
	sensitivityMagnitude float64
	sensitivityExportDir string
)

var sensitivityCmd = &cobra.Command{
	Use:   "sensitivity",
	Short: "Rank materials by their impact on chemistry cost (tornado)",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Sensitivity(cmd.Context(), app.SensitivityOptions{
			Chemistry: sensitivityChemistry,
			Month:     sensitivityMonth,
			Magnitude: sensitivityMagnitude,
			ExportDir: sensitivityExportDir,
		})
	},
}

func init() {
	sensitivityCmd.Flags().StringVar(&sensitivityChemistry, "chemistry", "", "Chemistry id (all when empty)")
	sensitivityCmd.Flags().StringVar(&sensitivityMonth, "month", "", "Month as YYYY-MM (defaults to first forecast month)")
	sensitivityCmd.Flags().Float64Var(&sensitivityMagnitude, "magnitude", 0, "Perturbation as a fraction (defaults to config)")
	sensitivityCmd.Flags().StringVar(&sensitivityExportDir, "out", "", "Also write tornado CSV and charts to this directory")
}
