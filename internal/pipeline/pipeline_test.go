package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
	"testing"
	"time"

	"github.com/theirongolddev/cplpilot/internal/adsplatform"
	"github.com/theirongolddev/cplpilot/internal/budget"
	"github.com/theirongolddev/cplpilot/internal/model"
)

func insightRows(t *testing.T, raw string) []adsplatform.InsightRow {
	t.Helper()
	var rows []adsplatform.InsightRow
	if err := json.Unmarshal([]byte(raw), &rows); err != nil {
		t.Fatalf("decoding fixture: %v", err)
	}
	return rows
}

// dayRow renders one insights row; cpl "" omits the lead cost entry.
func dayRow(adset, date, cpl string) string {
	costs := `[{"action_type":"link_click","value":"0.40"}]`
	if cpl != "" {
		costs = fmt.Sprintf(`[{"action_type":"link_click","value":"0.40"},{"action_type":"lead","value":%q}]`, cpl)
	}
	return fmt.Sprintf(`{"adset_id":%q,"adset_name":"Adset %s","campaign_name":"Spring","date_start":%q,
		"spend":"20.00","impressions":"1000","clicks":"50",
		"actions":[{"action_type":"lead","value":"2"}],"cost_per_action_type":%s}`, adset, adset, date, costs)
}

func rowsJSON(rows ...string) string { return "[" + strings.Join(rows, ",") + "]" }

type fakePlatform struct {
	insights   map[string][]adsplatform.InsightRow
	insightErr map[string]error
	budgets    map[string]string
	updateErr  map[string]error
	updates    map[string]int64
	gets       int
}

func newFakePlatform() *fakePlatform {
	return &fakePlatform{
		insights:   map[string][]adsplatform.InsightRow{},
		insightErr: map[string]error{},
		budgets:    map[string]string{},
		updateErr:  map[string]error{},
		updates:    map[string]int64{},
	}
}

func (f *fakePlatform) FetchInsights(_ context.Context, accountID string, _ adsplatform.InsightsQuery) ([]adsplatform.InsightRow, error) {
	if err := f.insightErr[accountID]; err != nil {
		return nil, err
	}
	return f.insights[accountID], nil
}

func (f *fakePlatform) GetAdSet(_ context.Context, adsetID string) (adsplatform.AdSet, error) {
	f.gets++
	b, ok := f.budgets[adsetID]
	if !ok {
		return adsplatform.AdSet{}, adsplatform.ErrNotFound
	}
	return adsplatform.AdSet{ID: adsetID, DailyBudget: b}, nil
}

func (f *fakePlatform) UpdateDailyBudget(_ context.Context, adsetID string, minor int64) error {
	if err := f.updateErr[adsetID]; err != nil {
		return err
	}
	f.updates[adsetID] = minor
	return nil
}

// flatForecaster predicts a constant value for every future day.
type flatForecaster struct {
	value float64
	err   error
	calls int
}

func (f *flatForecaster) FitPredict(_ context.Context, history []model.SeriesPoint, horizon int) (model.Forecast, error) {
	f.calls++
	if f.err != nil {
		return model.Forecast{}, f.err
	}
	last := history[len(history)-1].Date
	fc := model.Forecast{Engine: "flat"}
	for i := 1; i <= horizon; i++ {
		fc.Points = append(fc.Points, model.ForecastPoint{
			Date: last.AddDate(0, 0, i), Estimate: f.value, Lower: f.value, Upper: f.value, Future: true,
		})
	}
	return fc, nil
}

func TestExtractCPL(t *testing.T) {
	tests := []struct {
		name  string
		costs []model.ActionValue
		want  float64
		ok    bool
	}{
		{"lead present", []model.ActionValue{{ActionType: "link_click", Value: "0.4"}, {ActionType: "lead", Value: "7.5"}}, 7.5, true},
		{"first lead wins", []model.ActionValue{{ActionType: "lead", Value: "3"}, {ActionType: "lead", Value: "9"}}, 3, true},
		{"no lead", []model.ActionValue{{ActionType: "link_click", Value: "0.4"}}, 0, false},
		{"empty", nil, 0, false},
		{"unparsable", []model.ActionValue{{ActionType: "lead", Value: "n/a"}}, 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ExtractCPL(tt.costs, "lead")
			if ok != tt.ok {
				t.Fatalf("ok = %v, want %v", ok, tt.ok)
			}
			if !ok {
				if !math.IsNaN(got) {
					t.Errorf("missing CPL = %v, want NaN", got)
				}
				return
			}
			if got != tt.want {
				t.Errorf("CPL = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestFillMissingCPLUsesAdsetMean(t *testing.T) {
	nan := math.NaN()
	records := []model.AdsetRecord{
		{AdsetID: "a", CPL: 10, CPLObserved: true},
		{AdsetID: "a", CPL: nan},
		{AdsetID: "a", CPL: 20, CPLObserved: true},
		{AdsetID: "b", CPL: 4, CPLObserved: true},
		{AdsetID: "c", CPL: nan},
	}
	FillMissingCPL(records)

	if records[1].CPL != 15 || !records[1].CPLFilled {
		t.Errorf("filled CPL = %v (filled=%v), want 15", records[1].CPL, records[1].CPLFilled)
	}
	if records[0].CPLFilled || records[0].CPL != 10 {
		t.Errorf("observed row changed: %+v", records[0])
	}
	if !math.IsNaN(records[4].CPL) || records[4].HasCPL() {
		t.Errorf("adset without observations should stay missing, got %v", records[4].CPL)
	}
}

func TestCollectAndGroup(t *testing.T) {
	p := newFakePlatform()
	p.insights["123"] = insightRows(t, rowsJSON(
		dayRow("a", "2024-03-03", "9"),
		dayRow("a", "2024-03-01", "6"),
		dayRow("b", "2024-03-01", ""),
		dayRow("a", "2024-03-02", ""),
	))

	records, err := Collect(context.Background(), p, "123", 30, "lead")
	if err != nil {
		t.Fatalf("Collect: %v", err)
	}
	if len(records) != 4 {
		t.Fatalf("records = %d, want 4", len(records))
	}
	if records[0].Spend != 20 || records[0].Impressions != 1000 || records[0].Clicks != 50 {
		t.Errorf("metrics = %+v", records[0])
	}

	series := GroupSeries(records)
	if len(series) != 2 || series[0].AdsetID != "a" || series[1].AdsetID != "b" {
		t.Fatalf("series order = %+v", series)
	}

	a := series[0]
	if a.Rows != 3 || a.Observed != 2 || len(a.Points) != 3 {
		t.Fatalf("adset a rows=%d observed=%d points=%d", a.Rows, a.Observed, len(a.Points))
	}
	wantDates := []string{"2024-03-01", "2024-03-02", "2024-03-03"}
	wantCPL := []float64{6, 7.5, 9}
	for i, p := range a.Points {
		if got := p.Date.Format("2006-01-02"); got != wantDates[i] {
			t.Errorf("point %d date = %s, want %s", i, got, wantDates[i])
		}
		if p.CPL != wantCPL[i] {
			t.Errorf("point %d CPL = %v, want %v", i, p.CPL, wantCPL[i])
		}
	}
	if got, _ := ActualCPL(a); got != 9 {
		t.Errorf("ActualCPL = %v, want 9 (latest date)", got)
	}

	if series[1].Valid() {
		t.Error("adset without any lead cost should not be valid")
	}
}

func TestCollectWrapsFetchError(t *testing.T) {
	p := newFakePlatform()
	p.insightErr["9"] = adsplatform.ErrUnauthorized

	_, err := Collect(context.Background(), p, "9", 30, "lead")
	if !errors.Is(err, adsplatform.ErrUnauthorized) {
		t.Fatalf("err = %v, want ErrUnauthorized", err)
	}
	if !strings.Contains(err.Error(), "fetching insights for 9") {
		t.Errorf("err = %q, missing account context", err)
	}
}

func TestParseDate(t *testing.T) {
	for _, s := range []string{"2024-03-01", "2024-03-01T00:00:00+0000", " 2024-03-01 "} {
		d, err := ParseDate(s)
		if err != nil {
			t.Fatalf("ParseDate(%q): %v", s, err)
		}
		if !d.Equal(time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)) {
			t.Errorf("ParseDate(%q) = %v", s, d)
		}
	}
	if _, err := ParseDate("03/01/2024"); err == nil {
		t.Error("expected error for unsupported layout")
	}
}

func TestRunnerDecidesAndUpdates(t *testing.T) {
	p := newFakePlatform()
	p.insights["1"] = insightRows(t, rowsJSON(
		dayRow("up", "2024-03-01", "8"),
		dayRow("up", "2024-03-02", "11"),
		dayRow("down", "2024-03-01", "30"),
		dayRow("down", "2024-03-02", "5"),
	))
	p.budgets["up"] = "5000"
	p.budgets["down"] = "5000"

	// predicted 10: "up" has actual 11 (cheaper than expected, under threshold),
	// "down" has actual 5 (forecast worse than actual).
	f := &flatForecaster{value: 10}
	r := NewRunner(p, f, budget.DefaultLimits(), Options{})
	report := r.Run(context.Background(), []string{"1"})

	if report.ID == "" {
		t.Error("report has no id")
	}
	if len(report.Accounts) != 1 || report.Accounts[0].Status != model.StatusOK {
		t.Fatalf("accounts = %+v", report.Accounts)
	}
	adsets := report.Adsets()
	if len(adsets) != 2 {
		t.Fatalf("adsets = %d, want 2", len(adsets))
	}

	up, down := adsets[0], adsets[1]
	if up.Status != model.StatusUpdated || up.Decision.Action != model.ActionIncrease {
		t.Errorf("up = %s/%v", up.Status, up.Decision)
	}
	if up.Decision.ActualCPL != 11 || up.Decision.PredictedCPL != 10 || up.Decision.CurrentBudget != 50 {
		t.Errorf("up decision inputs = %+v", *up.Decision)
	}
	if p.updates["up"] != 5500 {
		t.Errorf("up update = %d, want 5500", p.updates["up"])
	}
	if down.Decision.Action != model.ActionDecrease || p.updates["down"] != 4500 {
		t.Errorf("down = %v, update %d, want Decrease/4500", down.Decision.Action, p.updates["down"])
	}

	s := report.Summary()
	if s.Increase != 1 || s.Decrease != 1 || s.Failed != 0 {
		t.Errorf("summary = %+v", s)
	}
}

func TestRunnerSkipsShortSeries(t *testing.T) {
	p := newFakePlatform()
	p.insights["1"] = insightRows(t, rowsJSON(
		dayRow("single", "2024-03-01", "8"),
		dayRow("nolead", "2024-03-01", ""),
		dayRow("nolead", "2024-03-02", ""),
		dayRow("onelead", "2024-03-01", "8"),
		dayRow("onelead", "2024-03-02", ""),
		dayRow("onelead", "2024-03-03", ""),
	))
	p.budgets["onelead"] = "5000"
	f := &flatForecaster{value: 10}
	report := NewRunner(p, f, budget.DefaultLimits(), Options{}).Run(context.Background(), []string{"1"})

	if n := len(report.Adsets()); n != 3 {
		t.Fatalf("adsets = %d, want 3", n)
	}
	for _, a := range report.Adsets() {
		if a.Status != model.StatusSkipped {
			t.Errorf("%s status = %s, want skipped", a.AdsetID, a.Status)
		}
		if a.Reason == "" {
			t.Errorf("%s skipped without a reason", a.AdsetID)
		}
	}
	if f.calls != 0 || p.gets != 0 || len(p.updates) != 0 {
		t.Errorf("skipped adsets touched forecaster (%d) or platform (%d gets, %d updates)", f.calls, p.gets, len(p.updates))
	}
	// filled days do not count towards the minimum
	if r := report.Adsets()[2].Reason; !strings.Contains(r, "only 1 of 3 rows") {
		t.Errorf("onelead reason = %q", r)
	}
}

func TestRunnerIsolatesAccountFailures(t *testing.T) {
	p := newFakePlatform()
	p.insightErr["bad"] = errors.New("boom")
	p.insights["good"] = insightRows(t, rowsJSON(
		dayRow("x", "2024-03-01", "12"),
		dayRow("x", "2024-03-02", "12"),
	))
	p.budgets["x"] = "2000"

	report := NewRunner(p, &flatForecaster{value: 12}, budget.DefaultLimits(), Options{}).
		Run(context.Background(), []string{"bad", "good"})

	if len(report.Accounts) != 2 {
		t.Fatalf("accounts = %d, want 2", len(report.Accounts))
	}
	if report.Accounts[0].Status != model.StatusFailed || report.Accounts[0].Err == nil {
		t.Errorf("bad account = %+v", report.Accounts[0])
	}
	good := report.Accounts[1]
	if good.Status != model.StatusOK || len(good.Adsets) != 1 {
		t.Fatalf("good account = %+v", good)
	}
	// equal forecast and actual keeps the budget but still writes it back
	if good.Adsets[0].Decision.Action != model.ActionMaintain || p.updates["x"] != 2000 {
		t.Errorf("x = %v, update %d", good.Adsets[0].Decision.Action, p.updates["x"])
	}
	if s := report.Summary(); s.AccountsFailed != 1 || s.Maintain != 1 {
		t.Errorf("summary = %+v", s)
	}
}

func TestRunnerIsolatesAdsetFailures(t *testing.T) {
	p := newFakePlatform()
	p.insights["1"] = insightRows(t, rowsJSON(
		dayRow("missing", "2024-03-01", "8"),
		dayRow("missing", "2024-03-02", "8"),
		dayRow("rejected", "2024-03-01", "8"),
		dayRow("rejected", "2024-03-02", "8"),
		dayRow("fine", "2024-03-01", "8"),
		dayRow("fine", "2024-03-02", "8"),
	))
	p.budgets["rejected"] = "1000"
	p.budgets["fine"] = "1000"
	p.updateErr["rejected"] = adsplatform.ErrRateLimited

	report := NewRunner(p, &flatForecaster{value: 9}, budget.DefaultLimits(), Options{}).
		Run(context.Background(), []string{"1"})
	adsets := report.Adsets()
	if len(adsets) != 3 {
		t.Fatalf("adsets = %d, want 3", len(adsets))
	}

	if adsets[0].Status != model.StatusFailed || !errors.Is(adsets[0].Err, adsplatform.ErrNotFound) {
		t.Errorf("missing = %s %v", adsets[0].Status, adsets[0].Err)
	}
	if adsets[1].Status != model.StatusFailed || !errors.Is(adsets[1].Err, adsplatform.ErrRateLimited) {
		t.Errorf("rejected = %s %v", adsets[1].Status, adsets[1].Err)
	}
	if adsets[1].Decision == nil {
		t.Error("rejected update should keep its decision")
	}
	if adsets[2].Status != model.StatusUpdated || p.updates["fine"] != 900 {
		t.Errorf("fine = %s, update %d, want updated/900", adsets[2].Status, p.updates["fine"])
	}
}

func TestRunnerForecastFailure(t *testing.T) {
	p := newFakePlatform()
	p.insights["1"] = insightRows(t, rowsJSON(
		dayRow("a", "2024-03-01", "8"),
		dayRow("a", "2024-03-02", "8"),
	))
	p.budgets["a"] = "1000"

	report := NewRunner(p, &flatForecaster{err: errors.New("service down")}, budget.DefaultLimits(), Options{}).
		Run(context.Background(), []string{"1"})
	a := report.Adsets()[0]
	if a.Status != model.StatusFailed || !strings.Contains(a.Reason, "service down") {
		t.Errorf("outcome = %s %q", a.Status, a.Reason)
	}
	if len(p.updates) != 0 {
		t.Error("budget updated after failed forecast")
	}
}

func TestRunnerDryRun(t *testing.T) {
	p := newFakePlatform()
	p.insights["1"] = insightRows(t, rowsJSON(
		dayRow("a", "2024-03-01", "20"),
		dayRow("a", "2024-03-02", "20"),
	))
	p.budgets["a"] = "9950"

	report := NewRunner(p, &flatForecaster{value: 25}, budget.DefaultLimits(), Options{DryRun: true}).
		Run(context.Background(), []string{"1"})
	if !report.DryRun {
		t.Error("report not marked dry run")
	}
	a := report.Adsets()[0]
	if a.Status != model.StatusPlanned {
		t.Fatalf("status = %s, want planned", a.Status)
	}
	if a.Decision.Action != model.ActionDecrease || math.Abs(a.Decision.NewBudget-89.55) > 1e-9 {
		t.Errorf("decision = %+v", *a.Decision)
	}
	if len(p.updates) != 0 {
		t.Errorf("dry run wrote %d updates", len(p.updates))
	}
}

func TestRunnerCancelledContext(t *testing.T) {
	p := newFakePlatform()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	report := NewRunner(p, &flatForecaster{value: 1}, budget.DefaultLimits(), Options{}).
		Run(ctx, []string{"1", "2"})
	if len(report.Accounts) != 2 {
		t.Fatalf("accounts = %d, want 2", len(report.Accounts))
	}
	for _, a := range report.Accounts {
		if a.Status != model.StatusFailed || !errors.Is(a.Err, context.Canceled) {
			t.Errorf("account %s = %s %v", a.AccountID, a.Status, a.Err)
		}
	}
}

type recordingReporter struct {
	events []string
}

func (r *recordingReporter) AccountStarted(id string) { r.events = append(r.events, "start:"+id) }
func (r *recordingReporter) AccountLoaded(id string, recs []model.AdsetRecord) {
	r.events = append(r.events, fmt.Sprintf("loaded:%s:%d", id, len(recs)))
}
func (r *recordingReporter) AdsetDone(o model.AdsetOutcome) {
	r.events = append(r.events, "adset:"+o.AdsetID+":"+string(o.Status))
}
func (r *recordingReporter) AccountDone(o model.AccountOutcome) {
	r.events = append(r.events, "done:"+o.AccountID+":"+string(o.Status))
}

func TestRunnerReporterOrder(t *testing.T) {
	p := newFakePlatform()
	p.insights["1"] = insightRows(t, rowsJSON(
		dayRow("a", "2024-03-01", "8"),
		dayRow("a", "2024-03-02", "8"),
	))
	p.budgets["a"] = "1000"
	rep := &recordingReporter{}

	NewRunner(p, &flatForecaster{value: 8}, budget.DefaultLimits(), Options{DryRun: true}).
		WithReporter(rep).
		Run(context.Background(), []string{"1"})

	want := []string{"start:1", "loaded:1:2", "adset:a:planned", "done:1:ok"}
	if strings.Join(rep.events, " ") != strings.Join(want, " ") {
		t.Errorf("events = %v, want %v", rep.events, want)
	}
}

func TestSummarizeAdsets(t *testing.T) {
	day := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	leads := func(n string) []model.ActionValue { return []model.ActionValue{{ActionType: "lead", Value: n}} }
	records := []model.AdsetRecord{
		{AdsetID: "a", Date: day, Spend: 10, Impressions: 100, Clicks: 5, Actions: leads("2")},
		{AdsetID: "a", Date: day.AddDate(0, 0, 1), Spend: 20, Impressions: 100, Clicks: 5, Actions: leads("1")},
		{AdsetID: "b", Date: day, Spend: 50, Impressions: 1000, Clicks: 10},
	}

	got := SummarizeAdsets(records, "lead")
	if len(got) != 2 || got[0].AdsetID != "b" {
		t.Fatalf("order = %+v, want b first by spend", got)
	}
	a := got[1]
	if a.Days != 2 || a.Spend != 30 || a.Leads != 3 || a.CPL != 10 {
		t.Errorf("a = %+v", a)
	}
	if math.Abs(a.CTR-0.05) > 1e-12 {
		t.Errorf("a CTR = %v, want 0.05", a.CTR)
	}
	if got[0].CPL != 0 {
		t.Errorf("b CPL = %v, want 0 without leads", got[0].CPL)
	}

	days := AggregateDays(records, "lead")
	if len(days) != 2 || !days[0].Date.Equal(day) {
		t.Fatalf("days = %+v", days)
	}
	if days[0].Spend != 60 || days[0].Leads != 2 || days[0].CPL != 30 {
		t.Errorf("day 1 = %+v", days[0])
	}
}
