package cmd

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/theirongolddev/cplpilot/internal/cli"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var showCmd = &cobra.Command{
	Use:   "show <run>",
	Short: "Show the outcomes of a recorded run",
	Long:  "Show every account and adset outcome of a recorded run. <run> may be a unique prefix of the run id.",
	Args:  cobra.ExactArgs(1),
	RunE:  runShow,
}

var showFormat string

func init() {
	showCmd.Flags().StringVarP(&showFormat, "format", "f", "table", "Output format: table, json or yaml")
	rootCmd.AddCommand(showCmd)
}

func runShow(_ *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	ledger, err := openLedger(cfg)
	if err != nil {
		return err
	}
	defer ledger.Close()

	report, err := ledger.LoadRun(args[0])
	if err != nil {
		return err
	}

	switch showFormat {
	case "json":
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(report)
	case "yaml":
		enc := yaml.NewEncoder(os.Stdout)
		enc.SetIndent(2)
		defer enc.Close()
		return enc.Encode(report)
	case "table":
	default:
		return fmt.Errorf("unknown format %q (want table, json or yaml)", showFormat)
	}

	fmt.Println()
	fmt.Print(cli.RenderRunSummary(report))
	fmt.Println()

	for _, acct := range report.Accounts {
		if acct.Reason != "" {
			fmt.Println(cli.RenderError(fmt.Sprintf("Account %s failed: %s", acct.AccountID, acct.Reason)))
		}
	}
	if len(report.Adsets()) == 0 {
		fmt.Println("  No adsets were processed in this run.")
		return nil
	}
	fmt.Print(cli.RenderTable(cli.DecisionTable(report, cfg.Report.CurrencySymbol)))
	return nil
}
