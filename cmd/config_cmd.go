// Package cmd implements the cplpilot CLI commands.
package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/theirongolddev/cplpilot/internal/cli"
	"github.com/theirongolddev/cplpilot/internal/config"

	"github.com/spf13/cobra"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show current configuration",
	RunE:  runConfig,
}

func init() {
	rootCmd.AddCommand(configCmd)
}

func runConfig(_ *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	path := configPath()
	fmt.Printf("  Config file: %s\n", path)
	if config.Exists(path) {
		fmt.Println("  Status: loaded")
	} else {
		fmt.Println("  Status: using defaults (no config file)")
	}
	fmt.Println()

	fmt.Println("  [Accounts]")
	for _, id := range cfg.Accounts.IDs {
		fmt.Printf("    %s\n", id)
	}
	fmt.Println()

	sym := cfg.Report.CurrencySymbol
	fmt.Println("  [Budget]")
	fmt.Printf("    Min budget:    %s\n", cli.FormatMoney(cfg.Budget.MinBudget, sym))
	fmt.Printf("    Max budget:    %s\n", cli.FormatMoney(cfg.Budget.MaxBudget, sym))
	fmt.Printf("    CPL threshold: %s\n", cli.FormatMoney(cfg.Budget.CPLThreshold, sym))
	fmt.Printf("    Steps:         +%s / -%s\n",
		cli.FormatPercent(cfg.Budget.IncreaseStep), cli.FormatPercent(cfg.Budget.DecreaseStep))
	fmt.Println()

	fmt.Println("  [Forecast]")
	fmt.Printf("    Engine:   %s\n", cfg.Forecast.Engine)
	if cfg.Forecast.Engine == config.EngineProphet {
		fmt.Printf("    Service:  %s (timeout %ds)\n", cfg.Forecast.ServiceURL, cfg.Forecast.TimeoutSec)
	}
	fmt.Printf("    History:  %d days, horizon %d days\n", cfg.Forecast.HistoryDays, cfg.Forecast.HorizonDays)
	fmt.Printf("    Interval: %s\n", cli.FormatPercent(cfg.Forecast.IntervalWidth))
	fmt.Println()

	fmt.Println("  [Platform]")
	fmt.Printf("    API:         %s/%s\n", cfg.Platform.BaseURL, cfg.Platform.APIVersion)
	fmt.Printf("    Lead action: %s\n", cfg.Platform.LeadActionType)
	fmt.Println()

	fmt.Println("  [Credentials]")
	for _, name := range []string{config.EnvAppID, config.EnvAppSecret, config.EnvAccessToken} {
		v := strings.TrimSpace(os.Getenv(name))
		switch {
		case v == "":
			fmt.Printf("    %-22s not set\n", name)
		case name == config.EnvAppID:
			fmt.Printf("    %-22s %s\n", name, v)
		default:
			fmt.Printf("    %-22s %s\n", name, config.Mask(v))
		}
	}
	fmt.Println()

	fmt.Println("  [Report]")
	fmt.Printf("    History db:   %s\n", cfg.StorePath())
	if cfg.Report.MetricsFile != "" {
		fmt.Printf("    Metrics file: %s\n", cfg.Report.MetricsFile)
	}
	fmt.Printf("    Charts:       %v\n", cfg.Report.ShowCharts)
	fmt.Printf("    Theme:        %s\n", cfg.Appearance.Theme)
	fmt.Println()

	if err := cfg.Validate(); err != nil {
		fmt.Println(cli.RenderError("Configuration problems:"))
		for _, line := range strings.Split(err.Error(), "\n") {
			fmt.Printf("      %s\n", line)
		}
		fmt.Println()
	}

	fmt.Println("  Run `cplpilot setup` to reconfigure.")
	return nil
}
