// Package budget implements the CPL-driven daily budget controller.
package budget

import (
	"errors"
	"fmt"
	"math"

	"github.com/theirongolddev/cplpilot/internal/model"
)

// Limits bounds every decision the controller makes. It is built once per
// run and passed by value.
type Limits struct {
	MinBudget    float64
	MaxBudget    float64
	CPLThreshold float64
	IncreaseStep float64 // fraction added on Increase (0.10 = +10%)
	DecreaseStep float64 // fraction removed on Decrease
}

// DefaultLimits returns the production defaults: 5..100 budget, CPL
// threshold 12, 10% steps.
func DefaultLimits() Limits {
	return Limits{
		MinBudget:    5,
		MaxBudget:    100,
		CPLThreshold: 12,
		IncreaseStep: 0.10,
		DecreaseStep: 0.10,
	}
}

// Validate checks that the limits describe a usable budget band.
func (l Limits) Validate() error {
	var errs []error
	if l.MinBudget < 0 {
		errs = append(errs, fmt.Errorf("min budget %.2f is negative", l.MinBudget))
	}
	if l.MinBudget > l.MaxBudget {
		errs = append(errs, fmt.Errorf("min budget %.2f exceeds max budget %.2f", l.MinBudget, l.MaxBudget))
	}
	if l.CPLThreshold <= 0 {
		errs = append(errs, fmt.Errorf("cpl threshold %.2f must be positive", l.CPLThreshold))
	}
	if l.IncreaseStep <= 0 || l.IncreaseStep >= 1 {
		errs = append(errs, fmt.Errorf("increase step %.2f must be in (0,1)", l.IncreaseStep))
	}
	if l.DecreaseStep <= 0 || l.DecreaseStep >= 1 {
		errs = append(errs, fmt.Errorf("decrease step %.2f must be in (0,1)", l.DecreaseStep))
	}
	return errors.Join(errs...)
}

// Decision is the controller output for one adset.
type Decision struct {
	NewBudget float64
	Action    model.Action
}

// Decide compares the forecast CPL with the latest observed CPL and returns
// the next daily budget. Rules are evaluated in order:
//
//	predicted > actual                      -> Decrease
//	predicted < actual && predicted < limit -> Increase
//	otherwise                               -> Maintain
//
// The result is always clamped to [MinBudget, MaxBudget]. NaN inputs fail
// every comparison and fall through to Maintain.
func Decide(predicted, actual, current float64, l Limits) Decision {
	var d Decision
	switch {
	case predicted > actual:
		d = Decision{NewBudget: current * (1 - l.DecreaseStep), Action: model.ActionDecrease}
	case predicted < actual && predicted < l.CPLThreshold:
		d = Decision{NewBudget: current * (1 + l.IncreaseStep), Action: model.ActionIncrease}
	default:
		d = Decision{NewBudget: current, Action: model.ActionMaintain}
	}
	d.NewBudget = Clamp(d.NewBudget, l.MinBudget, l.MaxBudget)
	return d
}

// Clamp bounds v to [lo, hi]. A NaN v maps to lo.
func Clamp(v, lo, hi float64) float64 {
	if v < lo || math.IsNaN(v) {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
