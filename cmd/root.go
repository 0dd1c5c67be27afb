package cmd

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/theirongolddev/cplpilot/internal/adsplatform"
	"github.com/theirongolddev/cplpilot/internal/config"
	"github.com/theirongolddev/cplpilot/internal/forecast"
	"github.com/theirongolddev/cplpilot/internal/logger"
	"github.com/theirongolddev/cplpilot/internal/pipeline"
	"github.com/theirongolddev/cplpilot/internal/store"

	"github.com/spf13/cobra"
)

// version is stamped at build time with -ldflags "-X .../cmd.version=...".
var version = "dev"

var (
	flagConfig   string
	flagQuiet    bool
	flagAccounts []string
)

var rootCmd = &cobra.Command{
	Use:   "cplpilot",
	Short: "Forecast-driven daily budgets for lead generation adsets",
	Long: "cplpilot forecasts the cost per lead of every active adset and nudges its\n" +
		"daily budget up or down within fixed limits. Without a subcommand it runs\n" +
		"the batch and updates budgets.",
	SilenceUsage:       true,
	PersistentPreRunE:  initLogging,
	PersistentPostRunE: shutdownLogging,
	RunE:               runBatch,
}

// Execute is the main entry point called from main.go.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&flagConfig, "config", "c", "", "Config file (default "+config.Path()+")")
	rootCmd.PersistentFlags().BoolVarP(&flagQuiet, "quiet", "q", false, "Suppress progress output")
	rootCmd.PersistentFlags().StringSliceVarP(&flagAccounts, "account", "a", nil, "Process only these ad accounts")
	rootCmd.Version = version
}

func initLogging(_ *cobra.Command, _ []string) error {
	if err := config.LoadEnvFiles(); err != nil {
		return err
	}
	lc := logger.LoadConfigFromEnv()
	lc.Version = version
	return logger.Init(lc)
}

func shutdownLogging(_ *cobra.Command, _ []string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return logger.Shutdown(ctx)
}

func configPath() string {
	if flagConfig != "" {
		return flagConfig
	}
	return config.Path()
}

// loadConfig reads the config file and applies --account.
func loadConfig() (config.Config, error) {
	cfg, err := config.LoadFrom(configPath())
	if err != nil {
		return cfg, err
	}
	if len(flagAccounts) > 0 {
		cfg.Accounts.IDs = normalizeAccounts(flagAccounts)
	}
	return cfg, nil
}

// loadRunSettings is the startup path shared by every command that talks to
// the platform. Any error here is fatal.
func loadRunSettings() (config.Config, config.Credentials, error) {
	cfg, err := loadConfig()
	if err != nil {
		return cfg, config.Credentials{}, err
	}
	if err := cfg.Validate(); err != nil {
		return cfg, config.Credentials{}, fmt.Errorf("invalid config %s:\n%w", configPath(), err)
	}
	creds, err := config.LoadCredentials()
	if err != nil {
		return cfg, creds, err
	}
	return cfg, creds, nil
}

func normalizeAccounts(ids []string) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" {
			continue
		}
		if len(id) < 4 || id[:4] != "act_" {
			id = "act_" + id
		}
		out = append(out, id)
	}
	return out
}

// newRunner wires the platform client and forecaster for one run.
func newRunner(cfg config.Config, creds config.Credentials, dryRun bool) (*pipeline.Runner, error) {
	client := adsplatform.NewClient(creds, adsplatform.Options{
		BaseURL:    cfg.Platform.BaseURL,
		APIVersion: cfg.Platform.APIVersion,
		Timeout:    time.Duration(cfg.Platform.TimeoutSec) * time.Second,
		PageSize:   cfg.Platform.PageSize,
	})
	if client == nil {
		return nil, config.ErrMissingCredentials
	}

	fc, err := forecast.New(cfg.Forecast)
	if err != nil {
		return nil, err
	}

	return pipeline.NewRunner(client, forecast.Instrument(fc, cfg.Forecast.Engine), cfg.Limits(), pipeline.Options{
		HistoryDays:    cfg.Forecast.HistoryDays,
		Horizon:        cfg.Forecast.HorizonDays,
		LeadActionType: cfg.Platform.LeadActionType,
		DryRun:         dryRun,
	}), nil
}

func openLedger(cfg config.Config) (*store.Ledger, error) {
	return store.Open(cfg.StorePath())
}

func progress(format string, args ...any) {
	if !flagQuiet {
		fmt.Fprintf(os.Stderr, "  "+format+"\n", args...)
	}
}
