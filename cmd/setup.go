package cmd

import (
	"errors"
	"fmt"

	"github.com/theirongolddev/cplpilot/internal/config"
	"github.com/theirongolddev/cplpilot/internal/tui"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"
)

var setupCmd = &cobra.Command{
	Use:   "setup",
	Short: "First-time setup wizard",
	RunE:  runSetup,
}

func init() {
	rootCmd.AddCommand(setupCmd)
}

func runSetup(_ *cobra.Command, _ []string) error {
	cfg, _ := loadConfig()
	creds, _ := config.LoadCredentials()

	values := tui.NewSetupValues(cfg, creds)
	form := tui.NewSetupForm(values, creds)
	if err := form.Run(); err != nil {
		if errors.Is(err, huh.ErrUserAborted) {
			fmt.Println("  Setup cancelled, nothing saved.")
			return nil
		}
		return err
	}

	if err := values.Apply(&cfg, &creds); err != nil {
		return fmt.Errorf("invalid settings: %w", err)
	}
	if err := saveSettings(cfg, creds); err != nil {
		return err
	}

	fmt.Println()
	fmt.Printf("  Saved to %s\n", configPath())
	fmt.Printf("  Credentials in %s\n", config.CredentialsPath())
	fmt.Println("  Try `cplpilot plan` for a dry run.")
	fmt.Println()
	return nil
}

func saveSettings(cfg config.Config, creds config.Credentials) error {
	if err := config.SaveTo(configPath(), cfg); err != nil {
		return fmt.Errorf("saving config: %w", err)
	}
	if err := config.SaveCredentials(config.CredentialsPath(), creds); err != nil {
		return fmt.Errorf("saving credentials: %w", err)
	}
	return nil
}
