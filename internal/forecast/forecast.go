// Package forecast turns a per-adset CPL history into a predicted trajectory.
package forecast

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/theirongolddev/cplpilot/internal/config"
	"github.com/theirongolddev/cplpilot/internal/model"
)

// ErrInsufficientData is returned for series shorter than model.MinSeriesPoints.
var ErrInsufficientData = errors.New("forecast: not enough points")

// Forecaster fits a model to a date-sorted series and predicts horizon
// daily periods past its last date. The returned forecast covers every
// historical date followed by the future rows.
type Forecaster interface {
	FitPredict(ctx context.Context, series []model.SeriesPoint, horizon int) (model.Forecast, error)
}

// New builds the forecaster selected by cfg.Engine.
func New(cfg config.ForecastConfig) (Forecaster, error) {
	switch cfg.Engine {
	case config.EngineProphet:
		timeout := time.Duration(cfg.TimeoutSec) * time.Second
		return NewProphetClient(cfg.ServiceURL, timeout, cfg.IntervalWidth), nil
	case config.EngineLinear:
		return Linear{IntervalWidth: cfg.IntervalWidth}, nil
	default:
		return nil, fmt.Errorf("forecast: unknown engine %q", cfg.Engine)
	}
}

func checkSeries(series []model.SeriesPoint, horizon int) error {
	if len(series) < model.MinSeriesPoints {
		return fmt.Errorf("%w: have %d, need %d", ErrInsufficientData, len(series), model.MinSeriesPoints)
	}
	if horizon < 1 {
		return fmt.Errorf("forecast: horizon %d must be at least 1", horizon)
	}
	return nil
}

// futureDates returns the horizon calendar days after last.
func futureDates(last time.Time, horizon int) []time.Time {
	out := make([]time.Time, horizon)
	for i := range out {
		out[i] = last.AddDate(0, 0, i+1)
	}
	return out
}

func dayKey(t time.Time) string {
	return t.Format("2006-01-02")
}
