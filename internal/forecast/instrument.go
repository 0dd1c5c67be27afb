package forecast

import (
	"context"

	"github.com/theirongolddev/cplpilot/internal/logger"
	"github.com/theirongolddev/cplpilot/internal/model"
)

type instrumented struct {
	next   Forecaster
	engine string
}

var _ Forecaster = (*instrumented)(nil)

// Instrument wraps f so every call runs inside a logged, traced operation.
func Instrument(f Forecaster, engine string) Forecaster {
	return &instrumented{next: f, engine: engine}
}

func (i *instrumented) FitPredict(ctx context.Context, series []model.SeriesPoint, horizon int) (model.Forecast, error) {
	op := logger.StartOperation(ctx, "forecast.FitPredict",
		"engine", i.engine,
		"points", len(series),
		"horizon", horizon,
	)
	fc, err := i.next.FitPredict(op.Context(), series, horizon)
	if err != nil {
		op.EndWithError(err)
		return fc, err
	}
	mean, _ := fc.HorizonMean()
	op.End("horizon_mean", mean)
	return fc, nil
}
