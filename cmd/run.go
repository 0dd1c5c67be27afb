package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/theirongolddev/cplpilot/internal/cli"
	"github.com/theirongolddev/cplpilot/internal/config"
	"github.com/theirongolddev/cplpilot/internal/logger"
	"github.com/theirongolddev/cplpilot/internal/metrics"
	"github.com/theirongolddev/cplpilot/internal/model"

	"github.com/spf13/cobra"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Forecast CPL and update daily budgets for every configured account",
	RunE:  runBatch,
}

var (
	runDryRun bool
	runCharts bool
	runNoSave bool
)

func init() {
	for _, c := range []*cobra.Command{rootCmd, runCmd} {
		c.Flags().BoolVar(&runDryRun, "dry-run", false, "Compute decisions without updating budgets")
		c.Flags().BoolVar(&runCharts, "charts", false, "Draw a forecast chart per adset")
		c.Flags().BoolVar(&runNoSave, "no-save", false, "Skip recording the run in the history ledger")
	}
	rootCmd.AddCommand(runCmd)
}

func runBatch(cmd *cobra.Command, _ []string) error {
	return executeRun(cmd, runDryRun)
}

// executeRun is shared by run and plan. Only startup problems are returned;
// account and adset failures end up in the report.
func executeRun(cmd *cobra.Command, dryRun bool) error {
	cfg, creds, err := loadRunSettings()
	if err != nil {
		return err
	}

	runner, err := newRunner(cfg, creds, dryRun)
	if err != nil {
		return err
	}
	runner.WithReporter(&cli.RunPrinter{
		W:           os.Stdout,
		Symbol:      cfg.Report.CurrencySymbol,
		PreviewRows: cfg.Report.PreviewRows,
		Charts:      runCharts || cfg.Report.ShowCharts,
		LeadType:    cfg.Platform.LeadActionType,
	})

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	progress("Processing %d accounts (forecast engine: %s)", len(cfg.Accounts.IDs), cfg.Forecast.Engine)
	report := runner.Run(ctx, cfg.Accounts.IDs)

	fmt.Println()
	fmt.Print(cli.RenderRunSummary(report))

	recordRun(cmd, cfg, report)
	return nil
}

// recordRun stores the report in the ledger and writes the metrics
// textfile. Failures here are logged and never fail the run.
func recordRun(cmd *cobra.Command, cfg config.Config, report model.RunReport) {
	ctx := cmd.Context()

	if !runNoSave {
		if err := saveReport(cfg, report); err != nil {
			logger.ErrorWithErr(ctx, "saving run to ledger", err, "run_id", report.ID)
		} else {
			progress("Saved run %s to %s", cli.ShortID(report.ID), cfg.StorePath())
		}
	}

	if cfg.Report.MetricsFile == "" {
		return
	}
	rec, err := metrics.NewRecorder()
	if err != nil {
		logger.ErrorWithErr(ctx, "creating metrics recorder", err)
		return
	}
	rec.ObserveReport(report)
	if err := rec.WriteTextfile(cfg.Report.MetricsFile); err != nil {
		logger.ErrorWithErr(ctx, "writing metrics textfile", err, "path", cfg.Report.MetricsFile)
	}
}

func saveReport(cfg config.Config, report model.RunReport) error {
	ledger, err := openLedger(cfg)
	if err != nil {
		return err
	}
	defer ledger.Close()
	return ledger.SaveRun(report)
}
