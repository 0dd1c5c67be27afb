package forecast

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/theirongolddev/cplpilot/internal/model"
)

const (
	defaultProphetTimeout = 60 * time.Second
	maxResponseSize       = 4 << 20
)

// ProphetClient delegates fitting to a Prophet sidecar over HTTP.
//
// The sidecar accepts POST /forecast with
//
//	{"series":[{"ds":"2026-10-01","y":7.5},...],"periods":7,"freq":"D","interval_width":0.8}
//
// and answers with the Prophet predict frame:
//
//	{"forecast":[{"ds":"2026-10-01","yhat":7.1,"yhat_lower":5.9,"yhat_upper":8.4},...]}
type ProphetClient struct {
	baseURL       string
	intervalWidth float64
	http          *http.Client
}

// NewProphetClient creates a client for the sidecar at baseURL.
func NewProphetClient(baseURL string, timeout time.Duration, intervalWidth float64) *ProphetClient {
	if timeout <= 0 {
		timeout = defaultProphetTimeout
	}
	return &ProphetClient{
		baseURL:       strings.TrimRight(baseURL, "/"),
		intervalWidth: intervalWidth,
		http:          &http.Client{Timeout: timeout},
	}
}

type prophetPoint struct {
	DS string  `json:"ds"`
	Y  float64 `json:"y"`
}

type prophetRequest struct {
	Series        []prophetPoint `json:"series"`
	Periods       int            `json:"periods"`
	Freq          string         `json:"freq"`
	IntervalWidth float64        `json:"interval_width,omitempty"`
}

type prophetRow struct {
	DS        string  `json:"ds"`
	YHat      float64 `json:"yhat"`
	YHatLower float64 `json:"yhat_lower"`
	YHatUpper float64 `json:"yhat_upper"`
}

type prophetResponse struct {
	Forecast []prophetRow `json:"forecast"`
	Error    string       `json:"error,omitempty"`
}

// FitPredict implements Forecaster.
func (p *ProphetClient) FitPredict(ctx context.Context, series []model.SeriesPoint, horizon int) (model.Forecast, error) {
	if err := checkSeries(series, horizon); err != nil {
		return model.Forecast{}, err
	}

	reqBody := prophetRequest{
		Series:        make([]prophetPoint, len(series)),
		Periods:       horizon,
		Freq:          "D",
		IntervalWidth: p.intervalWidth,
	}
	for i, pt := range series {
		reqBody.Series[i] = prophetPoint{DS: dayKey(pt.Date), Y: pt.CPL}
	}
	payload, err := json.Marshal(reqBody)
	if err != nil {
		return model.Forecast{}, fmt.Errorf("forecast: encoding request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/forecast", bytes.NewReader(payload))
	if err != nil {
		return model.Forecast{}, fmt.Errorf("forecast: creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := p.http.Do(req)
	if err != nil {
		return model.Forecast{}, fmt.Errorf("forecast: calling prophet service: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return model.Forecast{}, fmt.Errorf("forecast: reading response: %w", err)
	}

	var pr prophetResponse
	decodeErr := json.Unmarshal(body, &pr)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg := strings.TrimSpace(string(body))
		if decodeErr == nil && pr.Error != "" {
			msg = pr.Error
		}
		return model.Forecast{}, fmt.Errorf("forecast: prophet service returned status %d: %s", resp.StatusCode, msg)
	}
	if decodeErr != nil {
		return model.Forecast{}, fmt.Errorf("forecast: parsing response: %w", decodeErr)
	}

	return toForecast(pr.Forecast, series[len(series)-1].Date)
}

// toForecast converts predict rows, flagging those after lastHistory as future.
func toForecast(rows []prophetRow, lastHistory time.Time) (model.Forecast, error) {
	out := model.Forecast{Engine: "prophet", Points: make([]model.ForecastPoint, 0, len(rows))}
	cutoff := dayKey(lastHistory)
	for _, r := range rows {
		d, err := parseDS(r.DS)
		if err != nil {
			return model.Forecast{}, err
		}
		out.Points = append(out.Points, model.ForecastPoint{
			Date:     d,
			Estimate: r.YHat,
			Lower:    r.YHatLower,
			Upper:    r.YHatUpper,
			Future:   dayKey(d) > cutoff,
		})
	}
	if len(out.FuturePoints()) == 0 {
		return model.Forecast{}, fmt.Errorf("forecast: prophet service returned no future rows")
	}
	return out, nil
}

var dsLayouts = []string{
	"2006-01-02",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	time.RFC3339,
}

func parseDS(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range dsLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC), nil
		}
	}
	return time.Time{}, fmt.Errorf("forecast: unrecognized date %q", s)
}
