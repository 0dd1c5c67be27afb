package adsplatform

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/theirongolddev/cplpilot/internal/config"
)

func newTestClient(t *testing.T, h http.HandlerFunc) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	c := NewClient(config.Credentials{AppID: "1", AppSecret: "shh", AccessToken: "tok"},
		Options{BaseURL: srv.URL, APIVersion: "v19.0", Timeout: 5 * time.Second, PageSize: 2})
	if c == nil {
		t.Fatal("NewClient returned nil")
	}
	return c, srv
}

func TestNewClient_EmptyToken(t *testing.T) {
	if c := NewClient(config.Credentials{AccessToken: "  "}, Options{}); c != nil {
		t.Error("expected nil client for empty token")
	}
}

func TestAppSecretProof(t *testing.T) {
	const want = "4e70d72a6629db6896890efadcfeed75c634f1bf0a8f271731325eb0b5f2037e"
	if got := AppSecretProof("tok", "shh"); got != want {
		t.Errorf("AppSecretProof = %s, want %s", got, want)
	}
	if AppSecretProof("tok", "") != "" {
		t.Error("expected empty proof without secret")
	}
}

func TestFetchInsights_QueryAndPaging(t *testing.T) {
	var calls int
	var srvURL string
	c, srv := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		q := r.URL.Query()
		if q.Get("access_token") != "tok" {
			t.Errorf("access_token = %q", q.Get("access_token"))
		}
		if q.Get("appsecret_proof") != AppSecretProof("tok", "shh") {
			t.Errorf("appsecret_proof missing or wrong")
		}
		switch calls {
		case 1:
			if r.URL.Path != "/v19.0/act_123/insights" {
				t.Errorf("path = %s", r.URL.Path)
			}
			if q.Get("date_preset") != "last_30d" || q.Get("level") != "adset" || q.Get("time_increment") != "1" {
				t.Errorf("query = %v", q)
			}
			if !strings.Contains(q.Get("filtering"), "adset.effective_status") {
				t.Errorf("filtering = %q", q.Get("filtering"))
			}
			if !strings.Contains(q.Get("fields"), "cost_per_action_type") {
				t.Errorf("fields = %q", q.Get("fields"))
			}
			fmt.Fprintf(w, `{"data":[
				{"adset_id":"1","adset_name":"A","date_start":"2026-10-01","spend":"10.5","impressions":"1000","clicks":12,
				 "cost_per_action_type":[{"action_type":"lead","value":"7.5"}]},
				{"adset_id":"1","adset_name":"A","date_start":"2026-10-02","spend":"8"}
			],"paging":{"next":"%s/v19.0/act_123/insights?after=abc&access_token=tok"}}`, srvURL)
		case 2:
			if q.Get("after") != "abc" {
				t.Errorf("after = %q", q.Get("after"))
			}
			fmt.Fprint(w, `{"data":[{"adset_id":"2","adset_name":"B","date_start":"2026-10-01"}],"paging":{}}`)
		default:
			t.Errorf("unexpected call %d", calls)
		}
	})
	srvURL = srv.URL

	rows, err := c.FetchInsights(context.Background(), "123", DefaultInsightsQuery(30))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 2 {
		t.Errorf("calls = %d, want 2", calls)
	}
	if len(rows) != 3 {
		t.Fatalf("rows = %d, want 3", len(rows))
	}
	if rows[0].Spend.Float() != 10.5 || rows[0].Impressions.Int() != 1000 || rows[0].Clicks.Int() != 12 {
		t.Errorf("row 0 metrics = %+v", rows[0])
	}
	cpa := rows[0].CostPerAction()
	if len(cpa) != 1 || cpa[0].ActionType != "lead" || cpa[0].Value != "7.5" {
		t.Errorf("cost per action = %+v", cpa)
	}
}

func TestFetchInsights_CustomWindowUsesTimeRange(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if q.Get("date_preset") != "" {
			t.Errorf("date_preset = %q, want none", q.Get("date_preset"))
		}
		var tr map[string]string
		if err := json.Unmarshal([]byte(q.Get("time_range")), &tr); err != nil {
			t.Errorf("time_range: %v", err)
		}
		if tr["since"] != "2026-10-01" || tr["until"] != "2026-10-10" {
			t.Errorf("time_range = %v", tr)
		}
		fmt.Fprint(w, `{"data":[]}`)
	})

	q := DefaultInsightsQuery(10)
	q.Until = time.Date(2026, 10, 10, 0, 0, 0, 0, time.UTC)
	if _, err := c.FetchInsights(context.Background(), "act_1", q); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestErrorClassification(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		want   error
	}{
		{"expired token", 400, `{"error":{"message":"Session expired","type":"OAuthException","code":190}}`, ErrUnauthorized},
		{"user throttle", 400, `{"error":{"message":"Too many calls","code":17}}`, ErrRateLimited},
		{"ads throttle", 400, `{"error":{"message":"Too many calls","code":80004}}`, ErrRateLimited},
		{"missing object", 400, `{"error":{"message":"Unsupported get request","code":100,"error_subcode":33}}`, ErrNotFound},
		{"http 429", 429, `oops`, ErrRateLimited},
		{"http 403", 403, ``, ErrUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, _ := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.status)
				fmt.Fprint(w, tt.body)
			})
			_, err := c.GetAdSet(context.Background(), "42")
			if !errors.Is(err, tt.want) {
				t.Fatalf("err = %v, want %v", err, tt.want)
			}
			var apiErr *APIError
			if !errors.As(err, &apiErr) || apiErr.Status != tt.status {
				t.Errorf("APIError = %+v", apiErr)
			}
		})
	}
}

func TestErrorUnclassifiedKeepsMessage(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(400)
		fmt.Fprint(w, `{"error":{"message":"Invalid parameter","code":100,"error_subcode":1885272,"fbtrace_id":"Axyz"}}`)
	})
	err := c.UpdateDailyBudget(context.Background(), "42", 500)
	if err == nil {
		t.Fatal("expected error")
	}
	for _, sentinel := range []error{ErrUnauthorized, ErrRateLimited, ErrNotFound} {
		if errors.Is(err, sentinel) {
			t.Errorf("err unexpectedly matches %v", sentinel)
		}
	}
	if !strings.Contains(err.Error(), "Invalid parameter") || !strings.Contains(err.Error(), "Axyz") {
		t.Errorf("err = %q", err)
	}
}

func TestGetAdSet(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v19.0/42" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if !strings.Contains(r.URL.Query().Get("fields"), "daily_budget") {
			t.Errorf("fields = %q", r.URL.Query().Get("fields"))
		}
		fmt.Fprint(w, `{"id":"42","name":"Leads - PT","daily_budget":"5000","effective_status":"ACTIVE"}`)
	})
	a, err := c.GetAdSet(context.Background(), "42")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	minor, err := a.DailyBudgetMinor()
	if err != nil || minor != 5000 {
		t.Errorf("DailyBudgetMinor = %d, %v; want 5000", minor, err)
	}
	if a.Name != "Leads - PT" {
		t.Errorf("Name = %q", a.Name)
	}
}

func TestAdSetWithoutDailyBudget(t *testing.T) {
	if _, err := (AdSet{ID: "7"}).DailyBudgetMinor(); err == nil {
		t.Error("expected error for lifetime-budget adset")
	}
}

func TestUpdateDailyBudget(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s", r.Method)
		}
		if err := r.ParseForm(); err != nil {
			t.Errorf("ParseForm: %v", err)
		}
		if r.PostForm.Get("daily_budget") != "4500" {
			t.Errorf("daily_budget = %q", r.PostForm.Get("daily_budget"))
		}
		if r.PostForm.Get("access_token") != "tok" {
			t.Errorf("access_token missing from form")
		}
		fmt.Fprint(w, `{"success":true}`)
	})
	if err := c.UpdateDailyBudget(context.Background(), "42", 4500); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := c.UpdateDailyBudget(context.Background(), "42", 0); err == nil {
		t.Error("expected error for zero budget")
	}
}

func TestUpdateDailyBudget_NotAcknowledged(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `{"success":false}`)
	})
	if err := c.UpdateDailyBudget(context.Background(), "42", 100); err == nil {
		t.Error("expected error when update is not acknowledged")
	}
}
