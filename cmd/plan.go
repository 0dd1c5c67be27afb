package cmd

import (
	"github.com/spf13/cobra"
)

var planCmd = &cobra.Command{
	Use:   "plan",
	Short: "Dry run: show the budget each adset would get without changing it",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return executeRun(cmd, true)
	},
}

func init() {
	planCmd.Flags().BoolVar(&runCharts, "charts", false, "Draw a forecast chart per adset")
	planCmd.Flags().BoolVar(&runNoSave, "no-save", false, "Skip recording the run in the history ledger")
	rootCmd.AddCommand(planCmd)
}
