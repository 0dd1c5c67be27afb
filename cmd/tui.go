package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/theirongolddev/cplpilot/internal/config"
	"github.com/theirongolddev/cplpilot/internal/logger"
	"github.com/theirongolddev/cplpilot/internal/model"
	"github.com/theirongolddev/cplpilot/internal/pipeline"
	"github.com/theirongolddev/cplpilot/internal/tui"
	"github.com/theirongolddev/cplpilot/internal/tui/theme"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
	"github.com/spf13/cobra"
)

var tuiCmd = &cobra.Command{
	Use:   "tui",
	Short: "Browse a dry run or a recorded run interactively",
	Long: "Without --run, executes a dry run and browses its outcomes as they arrive.\n" +
		"With --run, opens a run from the history ledger. No budgets are changed.",
	RunE: runTUI,
}

var tuiRun string

func init() {
	tuiCmd.Flags().StringVarP(&tuiRun, "run", "r", "", "Open a recorded run (id or unique prefix)")
	rootCmd.AddCommand(tuiCmd)
}

func runTUI(_ *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	theme.SetActive(cfg.Appearance.Theme)

	// Log lines on stderr would tear the alt screen.
	logf, err := openTUILog()
	if err != nil {
		return err
	}
	defer func() { _ = logf.Close() }()
	lc := logger.LoadConfigFromEnv()
	lc.Version = version
	lc.Output = logf
	if err := logger.Init(lc); err != nil {
		return err
	}

	// Force TrueColor profile so all background styling produces ANSI codes
	// Without this, lipgloss may default to Ascii profile (no colors)
	lipgloss.SetColorProfile(termenv.TrueColor)

	opts := tui.Options{Config: cfg, Save: saveSettings}
	var src tui.Source
	if tuiRun != "" {
		opts.Title = "run " + tuiRun
		src = storedRunSource(tuiRun)
	} else {
		creds, credErr := config.LoadCredentials()
		opts.Credentials = creds
		opts.Title = "dry run"
		opts.NeedSetup = !config.Exists(configPath()) || credErr != nil
		src = dryRunSource
	}

	p := tea.NewProgram(tui.NewApp(src, opts), tea.WithAltScreen())
	if _, err := p.Run(); err != nil {
		return fmt.Errorf("TUI error: %w", err)
	}
	return nil
}

func openTUILog() (*os.File, error) {
	path := filepath.Join(config.DataDir(), "tui.log")
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, fmt.Errorf("creating log dir: %w", err)
	}
	//nolint:gosec // log path derives from the user's data dir
	return os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o600)
}

// dryRunSource runs the batch without updating budgets, feeding progress to
// the browser, and records the result.
func dryRunSource(ctx context.Context, cfg config.Config, rep pipeline.Reporter) (model.RunReport, error) {
	if err := cfg.Validate(); err != nil {
		return model.RunReport{}, err
	}
	// pick up credentials written by the setup form
	if err := config.LoadEnvFiles(); err != nil {
		return model.RunReport{}, err
	}
	creds, err := config.LoadCredentials()
	if err != nil {
		return model.RunReport{}, err
	}
	runner, err := newRunner(cfg, creds, true)
	if err != nil {
		return model.RunReport{}, err
	}

	report := runner.WithReporter(rep).Run(ctx, cfg.Accounts.IDs)
	if errors.Is(ctx.Err(), context.Canceled) {
		return report, nil
	}
	if err := saveReport(cfg, report); err != nil {
		logger.ErrorWithErr(ctx, "saving run to ledger", err, "run_id", report.ID)
	}
	return report, nil
}

func storedRunSource(id string) tui.Source {
	return func(_ context.Context, cfg config.Config, _ pipeline.Reporter) (model.RunReport, error) {
		ledger, err := openLedger(cfg)
		if err != nil {
			return model.RunReport{}, err
		}
		defer ledger.Close()
		return ledger.LoadRun(id)
	}
}
