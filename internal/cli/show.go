package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"battery-cost-forecast/internal/app"
)

var (
	showLimit     int
	showChemistry string
	showPersisted bool
)

var showCmd = &cobra.Command{
	Use:       "show [annual|costs|accuracy|runs]",
	Short:     "Display cost tables, forecast accuracy or recent runs",
	Args:      cobra.MaximumNArgs(1),
	ValidArgs: []string{"annual", "costs", "accuracy", "runs"},
	RunE: func(cmd *cobra.Command, args []string) error {
		if showLimit < 0 {
			return fmt.Errorf("--limit cannot be negative")
		}

		opts := app.ShowOptions{
			What:      "annual",
			Chemistry: showChemistry,
			Limit:     showLimit,
			Persisted: showPersisted,
		}
		if len(args) == 1 {
			opts.What = args[0]
		}
		if opts.What == "runs" && opts.Limit == 0 {
			opts.Limit = 20
		}

		return getApp().Show(cmd.Context(), opts)
	},
}

func init() {
	showCmd.Flags().IntVar(&showLimit, "limit", 0, "Rows per chemistry for costs, or number of runs (0 shows all)")
	showCmd.Flags().StringVar(&showChemistry, "chemistry", "", "Restrict cost tables to one chemistry")
	showCmd.Flags().BoolVar(&showPersisted, "persisted", false, "Read tables from the last stored run instead of recomputing")
}
