package budget

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// minorExponent is the number of minor units per major unit as a power of
// ten (cents).
const minorExponent = 2

// ToMinor converts a major-unit amount to the platform's integer minor
// units. The float is first read as its shortest round-tripping decimal, so
// 4.35 is exactly 435 cents rather than 434. Sub-cent digits of that decimal
// are truncated toward zero.
func ToMinor(major float64) int64 {
	return decimal.NewFromFloat(major).Shift(minorExponent).IntPart()
}

// FromMinor converts integer minor units to a major-unit amount.
func FromMinor(minor int64) float64 {
	return decimal.New(minor, -minorExponent).InexactFloat64()
}

// ParseMinor parses a minor-unit amount as sent by the platform ("5000").
func ParseMinor(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("budget: empty amount")
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, fmt.Errorf("budget: parsing amount %q: %w", s, err)
	}
	if !d.Equal(d.Truncate(0)) {
		return 0, fmt.Errorf("budget: amount %q is not a whole number of minor units", s)
	}
	return d.IntPart(), nil
}
