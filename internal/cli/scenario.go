package cli

import (
	"github.com/spf13/cobra"

	"battery-cost-forecast/internal/app"
)

var (
	scenarioPreset    string
	scenarioShock     []string
	scenarioRecycling []string
	scenarioDuty      []string
	scenarioExportDir string
)

var scenarioCmd = &cobra.Command{
	Use:   "scenario",
	Short: "Compare annual chemistry costs under a price scenario",
	Example: `  batterycost scenario --preset nickel_squeeze
  batterycost scenario --shock nickel=0.25 --recycling cobalt=0.3 --duty graphite=0.25`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Scenario(cmd.Context(), app.ScenarioOptions{
			Preset:    scenarioPreset,
			Shock:     scenarioShock,
			Recycling: scenarioRecycling,
			Duty:      scenarioDuty,
			ExportDir: scenarioExportDir,
		})
	},
}

func init() {
	scenarioCmd.Flags().StringVar(&scenarioPreset, "preset", "", "Scenario name from scenario.file")
	scenarioCmd.Flags().StringSliceVar(&scenarioShock, "shock", nil, "Price shock as material=fraction (0.1 = +10%)")
	scenarioCmd.Flags().StringSliceVar(&scenarioRecycling, "recycling", nil, "Recycling offset as material=fraction")
	scenarioCmd.Flags().StringSliceVar(&scenarioDuty, "duty", nil, "Import duty as material=fraction")
	scenarioCmd.Flags().StringVar(&scenarioExportDir, "out", "", "Also write the scenario tables to this directory")
}
