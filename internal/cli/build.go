package cli

import (
	"github.com/spf13/cobra"

	"battery-cost-forecast/internal/app"
)

var (
	buildExportDir string
	buildNoExport  bool
)

var buildCmd = &cobra.Command{
	Use:   "build",
	Short: "Recompute every table once, persist it and write the export bundle",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Build(cmd.Context(), app.BuildOptions{
			ExportDir: buildExportDir,
			NoExport:  buildNoExport,
		})
	},
}

func init() {
	buildCmd.Flags().StringVar(&buildExportDir, "out", "", "Export directory (defaults to config)")
	buildCmd.Flags().BoolVar(&buildNoExport, "no-export", false, "Skip writing export files")
}
