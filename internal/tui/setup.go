package tui

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/charmbracelet/huh"

	"github.com/theirongolddev/cplpilot/internal/config"
	"github.com/theirongolddev/cplpilot/internal/tui/theme"
)

// SetupValues holds the setup form answers. Numbers are kept as text so the
// inputs can bind to them directly.
type SetupValues struct {
	Accounts    string
	AppID       string
	AppSecret   string
	AccessToken string

	Engine     string
	ServiceURL string

	MinBudget    string
	MaxBudget    string
	CPLThreshold string

	Theme string
}

// NewSetupValues seeds the form from the current settings. Secrets start
// empty so leaving them blank keeps the stored value.
func NewSetupValues(cfg config.Config, creds config.Credentials) *SetupValues {
	return &SetupValues{
		Accounts:     strings.Join(cfg.Accounts.IDs, ", "),
		AppID:        creds.AppID,
		Engine:       cfg.Forecast.Engine,
		ServiceURL:   cfg.Forecast.ServiceURL,
		MinBudget:    formatAmount(cfg.Budget.MinBudget),
		MaxBudget:    formatAmount(cfg.Budget.MaxBudget),
		CPLThreshold: formatAmount(cfg.Budget.CPLThreshold),
		Theme:        cfg.Appearance.Theme,
	}
}

// NewSetupForm builds the first-run wizard bound to v.
func NewSetupForm(v *SetupValues, creds config.Credentials) *huh.Form {
	secretHint := "Leave blank to keep the stored value."
	if creds.AppSecret == "" {
		secretHint = "Used to sign requests with appsecret_proof."
	}
	tokenHint := "Leave blank to keep " + config.Mask(creds.AccessToken) + "."
	if creds.AccessToken == "" {
		tokenHint = "A long-lived system user token with ads_management."
	}

	themeOpts := make([]huh.Option[string], 0, len(theme.All))
	for _, name := range theme.Names() {
		themeOpts = append(themeOpts, huh.NewOption(name, name))
	}

	return huh.NewForm(
		huh.NewGroup(
			huh.NewNote().
				Title("cplpilot setup").
				Description("Forecast-driven daily budgets for lead generation adsets."),
			huh.NewInput().
				Title("Ad accounts").
				Description("Comma separated account ids, with or without act_.").
				Value(&v.Accounts).
				Validate(validateAccounts),
		),
		huh.NewGroup(
			huh.NewInput().
				Title("App ID").
				Value(&v.AppID),
			huh.NewInput().
				Title("App secret").
				Description(secretHint).
				EchoMode(huh.EchoModePassword).
				Value(&v.AppSecret),
			huh.NewInput().
				Title("Access token").
				Description(tokenHint).
				EchoMode(huh.EchoModePassword).
				Value(&v.AccessToken).
				Validate(func(s string) error {
					if strings.TrimSpace(s) == "" && creds.AccessToken == "" {
						return errors.New("an access token is required")
					}
					return nil
				}),
		).Title("Credentials"),
		huh.NewGroup(
			huh.NewSelect[string]().
				Title("Forecast engine").
				Options(
					huh.NewOption("Prophet sidecar service", config.EngineProphet),
					huh.NewOption("Built-in linear trend", config.EngineLinear),
				).
				Value(&v.Engine),
			huh.NewInput().
				Title("Forecast service URL").
				Description("Only used by the prophet engine.").
				Value(&v.ServiceURL),
		).Title("Forecasting"),
		huh.NewGroup(
			huh.NewInput().Title("Minimum daily budget").Value(&v.MinBudget).Validate(validateAmount),
			huh.NewInput().Title("Maximum daily budget").Value(&v.MaxBudget).Validate(validateAmount),
			huh.NewInput().Title("CPL threshold").
				Description("Budgets only grow while the predicted CPL stays under this.").
				Value(&v.CPLThreshold).
				Validate(validateAmount),
		).Title("Budget limits"),
		huh.NewGroup(
			huh.NewSelect[string]().
				Title("Color theme").
				Options(themeOpts...).
				Value(&v.Theme),
		),
	).WithShowHelp(true)
}

// Apply copies the answers into cfg and creds. Blank secrets keep the
// existing ones.
func (v *SetupValues) Apply(cfg *config.Config, creds *config.Credentials) error {
	cfg.Accounts.IDs = splitAccounts(v.Accounts)
	if v.Engine != "" {
		cfg.Forecast.Engine = v.Engine
	}
	cfg.Forecast.ServiceURL = strings.TrimSpace(v.ServiceURL)
	if v.Theme != "" {
		cfg.Appearance.Theme = v.Theme
	}

	var errs []error
	for _, f := range []struct {
		name string
		in   string
		out  *float64
	}{
		{"minimum budget", v.MinBudget, &cfg.Budget.MinBudget},
		{"maximum budget", v.MaxBudget, &cfg.Budget.MaxBudget},
		{"CPL threshold", v.CPLThreshold, &cfg.Budget.CPLThreshold},
	} {
		n, err := parseAmount(f.in)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", f.name, err))
			continue
		}
		*f.out = n
	}
	if err := errors.Join(errs...); err != nil {
		return err
	}

	creds.AppID = strings.TrimSpace(v.AppID)
	if s := strings.TrimSpace(v.AppSecret); s != "" {
		creds.AppSecret = s
	}
	if s := strings.TrimSpace(v.AccessToken); s != "" {
		creds.AccessToken = s
	}
	return cfg.Validate()
}

// splitAccounts normalizes a free-form list to act_-prefixed ids.
func splitAccounts(s string) []string {
	var ids []string
	for _, part := range strings.FieldsFunc(s, func(r rune) bool { return r == ',' || r == ' ' || r == ';' }) {
		ids = append(ids, "act_"+strings.TrimPrefix(part, "act_"))
	}
	return ids
}

func validateAccounts(s string) error {
	ids := splitAccounts(s)
	if len(ids) == 0 {
		return errors.New("at least one account is required")
	}
	for _, id := range ids {
		if _, err := strconv.ParseUint(strings.TrimPrefix(id, "act_"), 10, 64); err != nil {
			return fmt.Errorf("%q is not a numeric account id", id)
		}
	}
	return nil
}

func validateAmount(s string) error {
	_, err := parseAmount(s)
	return err
}

func parseAmount(s string) (float64, error) {
	n, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0, errors.New("enter a number")
	}
	if n <= 0 {
		return 0, errors.New("must be positive")
	}
	return n, nil
}

func formatAmount(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
