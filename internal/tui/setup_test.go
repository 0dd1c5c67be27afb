package tui

import (
	"reflect"
	"strings"
	"testing"

	"github.com/theirongolddev/cplpilot/internal/config"
)

func TestSplitAccounts(t *testing.T) {
	tests := []struct {
		in   string
		want []string
	}{
		{"act_1, 2", []string{"act_1", "act_2"}},
		{"  3;4 5 ", []string{"act_3", "act_4", "act_5"}},
		{"", nil},
	}
	for _, tt := range tests {
		if got := splitAccounts(tt.in); !reflect.DeepEqual(got, tt.want) {
			t.Errorf("splitAccounts(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestValidateAccounts(t *testing.T) {
	if err := validateAccounts("act_123, 456"); err != nil {
		t.Errorf("valid ids rejected: %v", err)
	}
	if err := validateAccounts(" "); err == nil {
		t.Error("empty list accepted")
	}
	if err := validateAccounts("act_12x"); err == nil {
		t.Error("non-numeric id accepted")
	}
}

func TestSetupApply(t *testing.T) {
	cfg := config.DefaultConfig()
	creds := config.Credentials{AppID: "old", AppSecret: "keep-me", AccessToken: "old-token"}

	v := NewSetupValues(cfg, creds)
	v.Accounts = "111, act_222"
	v.AppID = "app"
	v.AccessToken = "new-token"
	v.Engine = config.EngineLinear
	v.MinBudget = "10"
	v.MaxBudget = "200"
	v.CPLThreshold = "15.5"
	v.Theme = "tokyo-night"

	if err := v.Apply(&cfg, &creds); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if !reflect.DeepEqual(cfg.Accounts.IDs, []string{"act_111", "act_222"}) {
		t.Errorf("accounts = %v", cfg.Accounts.IDs)
	}
	if cfg.Budget.MinBudget != 10 || cfg.Budget.MaxBudget != 200 || cfg.Budget.CPLThreshold != 15.5 {
		t.Errorf("budget = %+v", cfg.Budget)
	}
	if cfg.Forecast.Engine != config.EngineLinear {
		t.Errorf("engine = %q", cfg.Forecast.Engine)
	}
	if creds.AppSecret != "keep-me" {
		t.Errorf("blank secret should keep stored value, got %q", creds.AppSecret)
	}
	if creds.AccessToken != "new-token" || creds.AppID != "app" {
		t.Errorf("creds = %+v", creds)
	}
}

func TestSetupApplyRejectsBadAmounts(t *testing.T) {
	cfg := config.DefaultConfig()
	var creds config.Credentials
	v := NewSetupValues(cfg, creds)
	v.MinBudget = "abc"
	v.MaxBudget = "-1"

	err := v.Apply(&cfg, &creds)
	if err == nil {
		t.Fatal("expected error")
	}
	for _, want := range []string{"minimum budget", "maximum budget"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q missing %q", err, want)
		}
	}
}

func TestSetupApplyValidatesLimits(t *testing.T) {
	cfg := config.DefaultConfig()
	var creds config.Credentials
	v := NewSetupValues(cfg, creds)
	v.MinBudget = "500"
	v.MaxBudget = "100"

	if err := v.Apply(&cfg, &creds); err == nil {
		t.Error("min above max should fail validation")
	}
}
