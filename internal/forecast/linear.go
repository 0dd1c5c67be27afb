package forecast

import (
	"context"
	"math"

	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/theirongolddev/cplpilot/internal/model"
)

// Linear is an in-process baseline: an ordinary least squares trend over
// day offsets with a residual-based band. Estimates are floored at zero.
type Linear struct {
	IntervalWidth float64 // central coverage of the band, e.g. 0.8
}

// FitPredict implements Forecaster.
func (l Linear) FitPredict(ctx context.Context, series []model.SeriesPoint, horizon int) (model.Forecast, error) {
	if err := checkSeries(series, horizon); err != nil {
		return model.Forecast{}, err
	}
	if err := ctx.Err(); err != nil {
		return model.Forecast{}, err
	}

	origin := series[0].Date
	xs := make([]float64, len(series))
	ys := make([]float64, len(series))
	for i, p := range series {
		xs[i] = p.Date.Sub(origin).Hours() / 24
		ys[i] = p.CPL
	}

	intercept, slope := fitLine(xs, ys)
	band := l.z() * residualStdDev(xs, ys, intercept, slope)

	point := func(x float64) (est, lo, hi float64) {
		est = intercept + slope*x
		return math.Max(est, 0), math.Max(est-band, 0), math.Max(est+band, 0)
	}

	out := model.Forecast{Engine: "linear", Points: make([]model.ForecastPoint, 0, len(series)+horizon)}
	for i, p := range series {
		est, lo, hi := point(xs[i])
		out.Points = append(out.Points, model.ForecastPoint{Date: p.Date, Estimate: est, Lower: lo, Upper: hi})
	}
	last := series[len(series)-1].Date
	for _, d := range futureDates(last, horizon) {
		est, lo, hi := point(d.Sub(origin).Hours() / 24)
		out.Points = append(out.Points, model.ForecastPoint{Date: d, Estimate: est, Lower: lo, Upper: hi, Future: true})
	}
	return out, nil
}

// z is the two-sided normal quantile for the configured interval width.
func (l Linear) z() float64 {
	w := l.IntervalWidth
	if w <= 0 || w >= 1 {
		w = 0.8
	}
	return distuv.UnitNormal.Quantile(0.5 + w/2)
}

// fitLine returns the least squares intercept and slope. All-equal xs give
// a flat line through the mean.
func fitLine(xs, ys []float64) (intercept, slope float64) {
	if len(xs) < 2 || stat.Variance(xs, nil) == 0 {
		return stat.Mean(ys, nil), 0
	}
	return stat.LinearRegression(xs, ys, nil, false)
}

func residualStdDev(xs, ys []float64, intercept, slope float64) float64 {
	if len(xs) <= 2 {
		return 0
	}
	res := make([]float64, len(xs))
	for i := range xs {
		res[i] = ys[i] - (intercept + slope*xs[i])
	}
	// two fitted parameters
	return math.Sqrt(stat.Moment(2, res, nil) * float64(len(xs)) / float64(len(xs)-2))
}
