// Package model defines domain types for adset metrics, forecasts and budget decisions.
package model

import (
	"math"
	"time"
)

// ActionValue is one entry of the platform's per-action-type lists
// (actions, cost_per_action_type). Value is kept as the raw string the
// platform sends so unparsable costs can be told apart from zero.
type ActionValue struct {
	ActionType string `json:"action_type"`
	Value      string `json:"value"`
}

// AdsetRecord is one (adset, day) row of performance data.
type AdsetRecord struct {
	AccountID    string
	AdsetID      string
	AdsetName    string
	CampaignName string
	Date         time.Time

	Spend       float64
	Impressions int64
	Clicks      int64
	CPC         float64
	CPM         float64

	Actions       []ActionValue
	CostPerAction []ActionValue

	// CPL is NaN while missing. CPLObserved reports whether the value came
	// from the platform, CPLFilled whether it was imputed from the adset mean.
	CPL         float64
	CPLObserved bool
	CPLFilled   bool
}

// HasCPL reports whether the row carries a usable CPL value.
func (r AdsetRecord) HasCPL() bool {
	return !math.IsNaN(r.CPL) && (r.CPLObserved || r.CPLFilled)
}

// SeriesPoint is a single (date, CPL) observation.
type SeriesPoint struct {
	Date time.Time `json:"date" yaml:"date"`
	CPL  float64   `json:"cpl" yaml:"cpl"`
}

// AdsetSeries is the date-ordered CPL history of one adset.
// Points holds only rows with a usable CPL; Rows counts every row seen.
type AdsetSeries struct {
	AccountID    string
	AdsetID      string
	AdsetName    string
	CampaignName string
	Points       []SeriesPoint
	Rows         int
	Observed     int
}

// MinSeriesPoints is the shortest history a forecast is attempted on.
const MinSeriesPoints = 2

// Valid reports whether the series has enough observed CPLs to forecast.
// Mean-filled rows do not count.
func (s AdsetSeries) Valid() bool {
	return s.Observed >= MinSeriesPoints
}

// Latest returns the most recent point of the series.
func (s AdsetSeries) Latest() (SeriesPoint, bool) {
	if len(s.Points) == 0 {
		return SeriesPoint{}, false
	}
	return s.Points[len(s.Points)-1], true
}

// Values returns the CPL values in date order.
func (s AdsetSeries) Values() []float64 {
	out := make([]float64, len(s.Points))
	for i, p := range s.Points {
		out[i] = p.CPL
	}
	return out
}
