package cli

import (
	"math"
	"testing"
	"time"
)

func TestFormatMoney(t *testing.T) {
	tests := []struct {
		in   float64
		want string
	}{
		{45, "€45.00"},
		{55.00000000000001, "€55.00"},
		{1234.5, "€1,234.50"},
		{0.299, "€0.30"},
		{-12.5, "-€12.50"},
		{math.NaN(), "n/a"},
	}
	for _, tt := range tests {
		if got := FormatMoney(tt.in, "€"); got != tt.want {
			t.Errorf("FormatMoney(%v) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestFormatBudgetAndCPL(t *testing.T) {
	if got := FormatBudget(45); got != "45.00" {
		t.Errorf("FormatBudget(45) = %q", got)
	}
	if got := FormatBudget(49.5 * 1.1); got != "54.45" {
		t.Errorf("FormatBudget(54.45) = %q", got)
	}
	if got := FormatCPL(7.5); got != "7.50" {
		t.Errorf("FormatCPL(7.5) = %q", got)
	}
	if got := FormatCPL(math.NaN()); got != "n/a" {
		t.Errorf("FormatCPL(NaN) = %q", got)
	}
}

func TestFormatChange(t *testing.T) {
	tests := []struct {
		in   float64
		want string
	}{
		{1.1, "+10.0%"},
		{0.9, "-10.0%"},
		{1, "0.0%"},
		{1.0000001, "0.0%"},
	}
	for _, tt := range tests {
		if got := FormatChange(tt.in); got != tt.want {
			t.Errorf("FormatChange(%v) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		in   time.Duration
		want string
	}{
		{0, "0s"},
		{2500 * time.Millisecond, "2.5s"},
		{3 * time.Second, "3s"},
		{125 * time.Second, "2m 5s"},
		{3725 * time.Second, "1h 2m"},
	}
	for _, tt := range tests {
		if got := FormatDuration(tt.in); got != tt.want {
			t.Errorf("FormatDuration(%v) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestFormatNumber(t *testing.T) {
	tests := []struct {
		in   int64
		want string
	}{
		{0, "0"},
		{999, "999"},
		{1000, "1,000"},
		{1234567, "1,234,567"},
		{-4500, "-4,500"},
	}
	for _, tt := range tests {
		if got := FormatNumber(tt.in); got != tt.want {
			t.Errorf("FormatNumber(%d) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestShortIDAndTruncate(t *testing.T) {
	if got := ShortID("0b9e4c1e-aaaa-4bbb"); got != "0b9e4c1e" {
		t.Errorf("ShortID = %q", got)
	}
	if got := ShortID("abc"); got != "abc" {
		t.Errorf("ShortID(abc) = %q", got)
	}
	if got := Truncate("Prospecting – Lookalike", 8); got != "Prospec…" {
		t.Errorf("Truncate = %q", got)
	}
	if got := Truncate("short", 8); got != "short" {
		t.Errorf("Truncate(short) = %q", got)
	}
}
