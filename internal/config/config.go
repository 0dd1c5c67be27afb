// Package config loads cplpilot settings from TOML and credentials from the environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/theirongolddev/cplpilot/internal/budget"

	"github.com/BurntSushi/toml"
)

// Config holds all cplpilot configuration.
type Config struct {
	Budget     BudgetConfig     `toml:"budget"`
	Forecast   ForecastConfig   `toml:"forecast"`
	Platform   PlatformConfig   `toml:"platform"`
	Accounts   AccountsConfig   `toml:"accounts"`
	Report     ReportConfig     `toml:"report"`
	Appearance AppearanceConfig `toml:"appearance"`
}

// BudgetConfig holds the controller's limits. Amounts are major currency units.
type BudgetConfig struct {
	MinBudget    float64 `toml:"min_budget"`
	MaxBudget    float64 `toml:"max_budget"`
	CPLThreshold float64 `toml:"cpl_threshold"`
	IncreaseStep float64 `toml:"increase_step"`
	DecreaseStep float64 `toml:"decrease_step"`
}

// ForecastConfig selects and tunes the forecasting engine.
type ForecastConfig struct {
	Engine        string  `toml:"engine"` // "prophet" or "linear"
	HorizonDays   int     `toml:"horizon_days"`
	HistoryDays   int     `toml:"history_days"`
	ServiceURL    string  `toml:"service_url"`
	TimeoutSec    int     `toml:"timeout_sec"`
	IntervalWidth float64 `toml:"interval_width"`
}

// PlatformConfig holds ads platform API settings.
type PlatformConfig struct {
	BaseURL        string `toml:"base_url"`
	APIVersion     string `toml:"api_version"`
	TimeoutSec     int    `toml:"timeout_sec"`
	PageSize       int    `toml:"page_size"`
	LeadActionType string `toml:"lead_action_type"`
}

// AccountsConfig lists the ad accounts processed by a run.
type AccountsConfig struct {
	IDs []string `toml:"ids"`
}

// ReportConfig controls run output and history.
type ReportConfig struct {
	StorePath      string `toml:"store_path,omitempty"`
	MetricsFile    string `toml:"metrics_file,omitempty"`
	ShowCharts     bool   `toml:"show_charts"`
	PreviewRows    int    `toml:"preview_rows"`
	CurrencySymbol string `toml:"currency_symbol"`
}

// AppearanceConfig holds theme settings.
type AppearanceConfig struct {
	Theme string `toml:"theme"`
}

// Engine names accepted in [forecast].engine.
const (
	EngineProphet = "prophet"
	EngineLinear  = "linear"
)

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	l := budget.DefaultLimits()
	return Config{
		Budget: BudgetConfig{
			MinBudget:    l.MinBudget,
			MaxBudget:    l.MaxBudget,
			CPLThreshold: l.CPLThreshold,
			IncreaseStep: l.IncreaseStep,
			DecreaseStep: l.DecreaseStep,
		},
		Forecast: ForecastConfig{
			Engine:        EngineProphet,
			HorizonDays:   7,
			HistoryDays:   30,
			ServiceURL:    "http://localhost:5000",
			TimeoutSec:    60,
			IntervalWidth: 0.8,
		},
		Platform: PlatformConfig{
			BaseURL:        "https://graph.facebook.com",
			APIVersion:     "v19.0",
			TimeoutSec:     30,
			PageSize:       500,
			LeadActionType: "lead",
		},
		Accounts: AccountsConfig{
			IDs: []string{"act_300157559082101", "act_705674745014619"},
		},
		Report: ReportConfig{
			PreviewRows:    5,
			CurrencySymbol: "€",
		},
		Appearance: AppearanceConfig{
			Theme: "flexoki-dark",
		},
	}
}

// Dir returns the XDG-compliant config directory.
func Dir() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "cplpilot")
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config", "cplpilot")
}

// Path returns the default config file path.
func Path() string {
	return filepath.Join(Dir(), "config.toml")
}

// DataDir returns the directory holding the run history database.
func DataDir() string {
	if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
		return filepath.Join(xdg, "cplpilot")
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".local", "share", "cplpilot")
}

// StorePath returns the run history database path, honoring [report].store_path.
func (c Config) StorePath() string {
	if c.Report.StorePath != "" {
		return c.Report.StorePath
	}
	return filepath.Join(DataDir(), "runs.db")
}

// Load reads the default config file.
func Load() (Config, error) {
	return LoadFrom(Path())
}

// LoadFrom reads the config file at path, returning defaults if it doesn't
// exist. Environment overrides are applied on top.
func LoadFrom(path string) (Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return cfg, fmt.Errorf("reading config: %w", err)
	}
	if err == nil {
		if err := toml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parsing config: %w", err)
		}
	}

	applyEnv(&cfg)
	return cfg, nil
}

// applyEnv layers CPLPILOT_ACCOUNTS and FORECAST_SERVICE_URL over the file.
func applyEnv(cfg *Config) {
	if v := os.Getenv("CPLPILOT_ACCOUNTS"); v != "" {
		cfg.Accounts.IDs = splitList(v)
	}
	if v := os.Getenv("FORECAST_SERVICE_URL"); v != "" {
		cfg.Forecast.ServiceURL = v
	}
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// Save writes the config to the default path.
func Save(cfg Config) error {
	return SaveTo(Path(), cfg)
}

// SaveTo writes the config to path.
func SaveTo(path string, cfg Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating config dir: %w", err)
	}

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return fmt.Errorf("creating config file: %w", err)
	}
	defer f.Close()

	return toml.NewEncoder(f).Encode(cfg)
}

// Exists returns true if a config file exists at path.
func Exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// Limits returns the immutable controller limits for a run.
func (c Config) Limits() budget.Limits {
	return budget.Limits{
		MinBudget:    c.Budget.MinBudget,
		MaxBudget:    c.Budget.MaxBudget,
		CPLThreshold: c.Budget.CPLThreshold,
		IncreaseStep: c.Budget.IncreaseStep,
		DecreaseStep: c.Budget.DecreaseStep,
	}
}

// Validate reports every problem with the configuration at once.
func (c Config) Validate() error {
	var errs []error
	if err := c.Limits().Validate(); err != nil {
		errs = append(errs, err)
	}
	if c.Forecast.HorizonDays < 1 {
		errs = append(errs, fmt.Errorf("forecast horizon_days %d must be at least 1", c.Forecast.HorizonDays))
	}
	if c.Forecast.HistoryDays < 2 {
		errs = append(errs, fmt.Errorf("forecast history_days %d must be at least 2", c.Forecast.HistoryDays))
	}
	switch c.Forecast.Engine {
	case EngineProphet:
		if c.Forecast.ServiceURL == "" {
			errs = append(errs, errors.New("forecast service_url is required for the prophet engine"))
		}
	case EngineLinear:
	default:
		errs = append(errs, fmt.Errorf("unknown forecast engine %q", c.Forecast.Engine))
	}
	if w := c.Forecast.IntervalWidth; w <= 0 || w >= 1 {
		errs = append(errs, fmt.Errorf("forecast interval_width %.2f must be in (0,1)", w))
	}
	if len(c.Accounts.IDs) == 0 {
		errs = append(errs, errors.New("no ad accounts configured"))
	}
	for _, id := range c.Accounts.IDs {
		if !strings.HasPrefix(id, "act_") {
			errs = append(errs, fmt.Errorf("account id %q must start with act_", id))
		}
	}
	if c.Platform.LeadActionType == "" {
		errs = append(errs, errors.New("platform lead_action_type is empty"))
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}
