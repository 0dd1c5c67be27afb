package cmd

import (
	"fmt"
	"time"

	"github.com/theirongolddev/cplpilot/internal/cli"

	"github.com/spf13/cobra"
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List recorded runs",
	RunE:  runHistory,
}

var (
	historyLimit int
	historyPrune int
)

func init() {
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "l", 20, "Number of runs to show (0 for all)")
	historyCmd.Flags().IntVar(&historyPrune, "prune", 0, "Delete runs older than this many days first")
	rootCmd.AddCommand(historyCmd)
}

func runHistory(_ *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	ledger, err := openLedger(cfg)
	if err != nil {
		return err
	}
	defer ledger.Close()

	if historyPrune > 0 {
		n, err := ledger.Prune(time.Now().AddDate(0, 0, -historyPrune))
		if err != nil {
			return fmt.Errorf("pruning runs: %w", err)
		}
		progress("Pruned %d runs older than %d days", n, historyPrune)
	}

	runs, err := ledger.ListRuns(historyLimit)
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		fmt.Println("\n  No runs recorded yet.")
		fmt.Println("  Run `cplpilot plan` for a dry run.")
		return nil
	}

	fmt.Println()
	fmt.Println(cli.RenderTitle(fmt.Sprintf("RUN HISTORY  (showing %d)", len(runs))))
	fmt.Println()

	rows := make([][]string, 0, len(runs))
	for _, r := range runs {
		mode := "live"
		if r.DryRun {
			mode = "dry run"
		}
		s := r.Summary
		rows = append(rows, []string{
			cli.ShortID(r.ID),
			cli.FormatTime(r.StartedAt),
			mode,
			fmt.Sprintf("%d/%d", s.Accounts-s.AccountsFailed, s.Accounts),
			fmt.Sprint(s.Adsets),
			fmt.Sprint(s.Increase),
			fmt.Sprint(s.Decrease),
			fmt.Sprint(s.Maintain),
			fmt.Sprint(s.Skipped),
			fmt.Sprint(s.Failed),
		})
	}

	fmt.Print(cli.RenderTable(cli.Table{
		Headers:  []string{"Run", "Started", "Mode", "Accounts", "Adsets", "▲", "▼", "●", "Skip", "Fail"},
		Rows:     rows,
		LeftCols: 3,
	}))
	fmt.Println()
	fmt.Println("  Use `cplpilot show <run>` for details.")
	return nil
}
