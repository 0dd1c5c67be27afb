package daemon

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/theirongolddev/cplpilot/internal/metrics"
	"github.com/theirongolddev/cplpilot/internal/model"
)

func report(id string, actions ...model.Action) model.RunReport {
	start := time.Date(2024, 3, 1, 6, 0, 0, 0, time.UTC)
	acct := model.AccountOutcome{AccountID: "act_1", Status: model.StatusOK}
	for i, a := range actions {
		acct.Adsets = append(acct.Adsets, model.AdsetOutcome{
			AccountID: "act_1",
			AdsetID:   string(rune('a' + i)),
			Status:    model.StatusUpdated,
			Decision:  &model.BudgetDecision{CurrentBudget: 50, NewBudget: 50, Action: a},
		})
	}
	return model.RunReport{ID: id, StartedAt: start, FinishedAt: start.Add(time.Second), Accounts: []model.AccountOutcome{acct}}
}

func TestDiffSummaries(t *testing.T) {
	prev := model.RunSummary{Adsets: 10, Increase: 3, Decrease: 4, Maintain: 2, Skipped: 1}
	curr := model.RunSummary{Adsets: 12, Increase: 5, Decrease: 2, Maintain: 2, Skipped: 2, Failed: 1}

	d := diffSummaries(prev, curr)
	if d.Adsets != 2 || d.Increase != 2 || d.Decrease != -2 || d.Maintain != 0 || d.Skipped != 1 || d.Failed != 1 {
		t.Fatalf("delta = %+v", d)
	}
}

func TestPublishEventRingBuffer(t *testing.T) {
	s := New(Config{EventsBuffer: 2}, nil, nil)

	s.publishEvent(Event{ID: 1})
	s.publishEvent(Event{ID: 2})
	s.publishEvent(Event{ID: 3})

	s.mu.RLock()
	defer s.mu.RUnlock()

	if len(s.events) != 2 {
		t.Fatalf("events len = %d, want 2", len(s.events))
	}
	if s.events[0].ID != 2 || s.events[1].ID != 3 {
		t.Fatalf("events ring contains IDs [%d, %d], want [2, 3]", s.events[0].ID, s.events[1].ID)
	}
}

func TestRunOnceRecordsSnapshotAndDelta(t *testing.T) {
	runs := []model.RunReport{
		report("r1", model.ActionIncrease),
		report("r2", model.ActionIncrease, model.ActionDecrease),
	}
	var saved []string
	i := 0
	s := New(Config{
		OnReport: func(_ context.Context, r model.RunReport) { saved = append(saved, r.ID) },
	}, func(context.Context) model.RunReport {
		r := runs[i]
		i++
		return r
	}, nil)

	s.runOnce(context.Background())
	s.runOnce(context.Background())

	st := s.Status()
	if st.RunCount != 2 || st.Last.RunID != "r2" || st.Last.Summary.Adsets != 2 {
		t.Fatalf("status = %+v", st)
	}
	if st.IntervalSec != int((24 * time.Hour).Seconds()) {
		t.Errorf("interval = %d, want default of one day", st.IntervalSec)
	}
	if len(saved) != 2 {
		t.Errorf("OnReport calls = %v", saved)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.events) != 2 {
		t.Fatalf("events = %d", len(s.events))
	}
	if d := s.events[1].Delta; d.Adsets != 1 || d.Decrease != 1 || d.Increase != 0 {
		t.Errorf("second delta = %+v", d)
	}
}

func TestRunErrorWhenEveryAccountFails(t *testing.T) {
	r := model.RunReport{Accounts: []model.AccountOutcome{
		{AccountID: "act_1", Status: model.StatusFailed, Reason: "unauthorized"},
		{AccountID: "act_2", Status: model.StatusFailed, Reason: "unauthorized"},
	}}
	if got := runError(r); !strings.Contains(got, "all 2 accounts failed: unauthorized") {
		t.Errorf("runError = %q", got)
	}
	r.Accounts[1].Status = model.StatusOK
	if got := runError(r); got != "" {
		t.Errorf("runError with one good account = %q", got)
	}
}

func TestHandlerServesStatusAndMetrics(t *testing.T) {
	rec, err := metrics.NewRecorder()
	if err != nil {
		t.Fatal(err)
	}
	s := New(Config{DryRun: true}, func(context.Context) model.RunReport {
		return report("r1", model.ActionDecrease)
	}, rec)
	s.runOnce(context.Background())

	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/v1/status")
	if err != nil {
		t.Fatal(err)
	}
	var st Status
	err = json.NewDecoder(resp.Body).Decode(&st)
	_ = resp.Body.Close()
	if err != nil {
		t.Fatalf("decoding status: %v", err)
	}
	if st.Last.RunID != "r1" || !st.DryRun || st.Last.Summary.Decrease != 1 {
		t.Errorf("status = %+v", st)
	}

	resp, err = http.Get(srv.URL + "/metrics")
	if err != nil {
		t.Fatal(err)
	}
	body, _ := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if !strings.Contains(string(body), `cplpilot_adsets_total{action="decrease"} 1`) {
		t.Errorf("metrics missing adset counter:\n%s", body)
	}

	resp, err = http.Get(srv.URL + "/healthz")
	if err != nil {
		t.Fatal(err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("healthz = %d", resp.StatusCode)
	}
}
