package forecast

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/theirongolddev/cplpilot/internal/config"
	"github.com/theirongolddev/cplpilot/internal/model"
)

func day(d int) time.Time {
	return time.Date(2026, 10, d, 0, 0, 0, 0, time.UTC)
}

func series(vals ...float64) []model.SeriesPoint {
	out := make([]model.SeriesPoint, len(vals))
	for i, v := range vals {
		out[i] = model.SeriesPoint{Date: day(i + 1), CPL: v}
	}
	return out
}

func TestLinear_PerfectTrend(t *testing.T) {
	fc, err := Linear{IntervalWidth: 0.8}.FitPredict(context.Background(), series(10, 11, 12, 13), 7)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(fc.Points) != 11 {
		t.Fatalf("points = %d, want 11", len(fc.Points))
	}
	future := fc.FuturePoints()
	if len(future) != 7 {
		t.Fatalf("future = %d, want 7", len(future))
	}
	if !future[0].Date.Equal(day(5)) || !future[6].Date.Equal(day(11)) {
		t.Errorf("future dates = %v .. %v", future[0].Date, future[6].Date)
	}
	// Days 5..11 continue the +1/day line: 14..20, mean 17.
	mean, ok := fc.HorizonMean()
	if !ok || math.Abs(mean-17) > 1e-9 {
		t.Errorf("HorizonMean = %v, %v; want 17", mean, ok)
	}
	// Perfect fit leaves no residual band.
	if math.Abs(future[0].Upper-future[0].Lower) > 1e-9 {
		t.Errorf("band = [%v, %v], want zero width", future[0].Lower, future[0].Upper)
	}
}

func TestLinear_NoisySeriesHasBand(t *testing.T) {
	fc, err := Linear{IntervalWidth: 0.9}.FitPredict(context.Background(), series(10, 14, 9, 15, 11), 3)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for _, p := range fc.Points {
		if !(p.Lower <= p.Estimate && p.Estimate <= p.Upper) {
			t.Errorf("point %v: estimate outside band", p)
		}
	}
	last := fc.Points[len(fc.Points)-1]
	if last.Upper-last.Lower <= 0 {
		t.Error("expected a non-empty band for noisy data")
	}
}

func TestLinear_FloorsAtZero(t *testing.T) {
	fc, err := Linear{}.FitPredict(context.Background(), series(6, 4, 2), 5)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for _, p := range fc.FuturePoints() {
		if p.Estimate < 0 || p.Lower < 0 {
			t.Errorf("negative CPL forecast %v", p)
		}
	}
}

func TestLinear_CalendarGaps(t *testing.T) {
	s := []model.SeriesPoint{
		{Date: day(1), CPL: 10},
		{Date: day(5), CPL: 14},
	}
	fc, err := Linear{}.FitPredict(context.Background(), s, 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	f := fc.FuturePoints()[0]
	if !f.Date.Equal(day(6)) || math.Abs(f.Estimate-15) > 1e-9 {
		t.Errorf("future = %v, want day 6 at 15", f)
	}
}

func TestLinear_BandQuantile(t *testing.T) {
	tests := []struct {
		width float64
		want  float64
	}{
		{0.8, 1.2815515655446004},
		{0.95, 1.959963984540054},
		{0, 1.2815515655446004}, // out of range falls back to 0.8
	}
	for _, tt := range tests {
		if got := (Linear{IntervalWidth: tt.width}).z(); math.Abs(got-tt.want) > 1e-6 {
			t.Errorf("z(%v) = %v, want %v", tt.width, got, tt.want)
		}
	}
}

func TestFitLine(t *testing.T) {
	b, m := fitLine([]float64{0, 1, 2, 3}, []float64{1, 3, 5, 7})
	if math.Abs(b-1) > 1e-9 || math.Abs(m-2) > 1e-9 {
		t.Errorf("fitLine = %v + %v x, want 1 + 2x", b, m)
	}
	b, m = fitLine([]float64{2, 2}, []float64{4, 8})
	if b != 6 || m != 0 {
		t.Errorf("degenerate fitLine = %v + %v x, want flat 6", b, m)
	}
	if sd := residualStdDev([]float64{0, 1, 2, 3}, []float64{1, 3, 5, 7}, 1, 2); sd > 1e-9 {
		t.Errorf("residual sd of exact fit = %v", sd)
	}
}

func TestInsufficientData(t *testing.T) {
	_, err := Linear{}.FitPredict(context.Background(), series(10), 7)
	if !errors.Is(err, ErrInsufficientData) {
		t.Errorf("err = %v, want ErrInsufficientData", err)
	}
	_, err = NewProphetClient("http://127.0.0.1:1", time.Second, 0.8).FitPredict(context.Background(), nil, 7)
	if !errors.Is(err, ErrInsufficientData) {
		t.Errorf("prophet err = %v, want ErrInsufficientData", err)
	}
}

func TestProphetClient_RoundTrip(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/forecast" {
			t.Errorf("request = %s %s", r.Method, r.URL.Path)
		}
		var req prophetRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode: %v", err)
		}
		if req.Periods != 2 || req.Freq != "D" || len(req.Series) != 2 || req.Series[0].DS != "2026-10-01" {
			t.Errorf("request body = %+v", req)
		}
		fmt.Fprint(w, `{"forecast":[
			{"ds":"2026-10-01 00:00:00","yhat":10,"yhat_lower":9,"yhat_upper":11},
			{"ds":"2026-10-02T00:00:00","yhat":12,"yhat_lower":11,"yhat_upper":13},
			{"ds":"2026-10-03","yhat":14,"yhat_lower":12,"yhat_upper":16},
			{"ds":"2026-10-04","yhat":16,"yhat_lower":13,"yhat_upper":19}
		]}`)
	}))
	defer srv.Close()

	fc, err := NewProphetClient(srv.URL+"/", 5*time.Second, 0.8).FitPredict(context.Background(), series(10, 12), 2)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if fc.Engine != "prophet" || len(fc.Points) != 4 {
		t.Fatalf("forecast = %+v", fc)
	}
	if fc.Points[1].Future || !fc.Points[2].Future {
		t.Errorf("future flags = %v %v", fc.Points[1].Future, fc.Points[2].Future)
	}
	if mean, _ := fc.HorizonMean(); mean != 15 {
		t.Errorf("HorizonMean = %v, want 15", mean)
	}
}

func TestProphetClient_ServiceError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		fmt.Fprint(w, `{"error":"Dataframe has less than 2 non-NaN rows."}`)
	}))
	defer srv.Close()

	_, err := NewProphetClient(srv.URL, time.Second, 0.8).FitPredict(context.Background(), series(1, 2), 7)
	if err == nil {
		t.Fatal("expected error")
	}
	if want := "status 422: Dataframe has less than 2 non-NaN rows."; !strings.Contains(err.Error(), want) {
		t.Errorf("err = %q, want it to contain %q", err, want)
	}
}

func TestProphetClient_NoFutureRows(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `{"forecast":[{"ds":"2026-10-01","yhat":1},{"ds":"2026-10-02","yhat":2}]}`)
	}))
	defer srv.Close()

	if _, err := NewProphetClient(srv.URL, time.Second, 0.8).FitPredict(context.Background(), series(1, 2), 7); err == nil {
		t.Error("expected error when the service returns only history")
	}
}

func TestNew_SelectsEngine(t *testing.T) {
	cfg := config.DefaultConfig().Forecast

	f, err := New(cfg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := f.(*ProphetClient); !ok {
		t.Errorf("default engine = %T, want *ProphetClient", f)
	}

	cfg.Engine = config.EngineLinear
	f, _ = New(cfg)
	if _, ok := f.(Linear); !ok {
		t.Errorf("linear engine = %T, want Linear", f)
	}

	cfg.Engine = "arima"
	if _, err := New(cfg); err == nil {
		t.Error("expected error for unknown engine")
	}
}

func TestInstrument_PassesThrough(t *testing.T) {
	f := Instrument(Linear{}, "linear")
	fc, err := f.FitPredict(context.Background(), series(1, 2, 3), 2)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(fc.FuturePoints()) != 2 {
		t.Errorf("future = %d, want 2", len(fc.FuturePoints()))
	}
	if _, err := f.FitPredict(context.Background(), series(1), 2); !errors.Is(err, ErrInsufficientData) {
		t.Errorf("err = %v, want ErrInsufficientData", err)
	}
}
