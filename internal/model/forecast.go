package model

import "time"

// ForecastPoint is one row of forecaster output. Future is false for rows
// that re-estimate a historical date.
type ForecastPoint struct {
	Date     time.Time `json:"date" yaml:"date"`
	Estimate float64   `json:"estimate" yaml:"estimate"`
	Lower    float64   `json:"lower" yaml:"lower"`
	Upper    float64   `json:"upper" yaml:"upper"`
	Future   bool      `json:"future" yaml:"future"`
}

// Forecast is the full trajectory returned for one adset.
type Forecast struct {
	Engine string          `json:"engine" yaml:"engine"`
	Points []ForecastPoint `json:"points" yaml:"points"`
}

// FuturePoints returns the rows past the last historical date.
func (f Forecast) FuturePoints() []ForecastPoint {
	var out []ForecastPoint
	for _, p := range f.Points {
		if p.Future {
			out = append(out, p)
		}
	}
	return out
}

// HorizonMean is the mean point estimate over the future rows.
// Returns false when the forecast has no future rows.
func (f Forecast) HorizonMean() (float64, bool) {
	future := f.FuturePoints()
	if len(future) == 0 {
		return 0, false
	}
	var sum float64
	for _, p := range future {
		sum += p.Estimate
	}
	return sum / float64(len(future)), true
}

// Tail returns the last n rows.
func (f Forecast) Tail(n int) []ForecastPoint {
	if n <= 0 {
		return nil
	}
	if n >= len(f.Points) {
		return f.Points
	}
	return f.Points[len(f.Points)-n:]
}
