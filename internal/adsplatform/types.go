package adsplatform

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/theirongolddev/cplpilot/internal/budget"
	"github.com/theirongolddev/cplpilot/internal/model"
)

// InsightFields is the field list requested for adset-level insights.
var InsightFields = []string{
	"spend",
	"impressions",
	"clicks",
	"cpc",
	"cpm",
	"actions",
	"cost_per_action_type",
	"campaign_name",
	"adset_name",
	"adset_id",
}

// InsightRow is one row of the insights edge. Numeric metrics arrive as
// decimal strings.
type InsightRow struct {
	AccountID         string        `json:"account_id"`
	AdsetID           string        `json:"adset_id"`
	AdsetName         string        `json:"adset_name"`
	CampaignName      string        `json:"campaign_name"`
	DateStart         string        `json:"date_start"`
	DateStop          string        `json:"date_stop"`
	Spend             flexString    `json:"spend"`
	Impressions       flexString    `json:"impressions"`
	Clicks            flexString    `json:"clicks"`
	CPC               flexString    `json:"cpc"`
	CPM               flexString    `json:"cpm"`
	Actions           []actionEntry `json:"actions"`
	CostPerActionType []actionEntry `json:"cost_per_action_type"`
}

type actionEntry struct {
	ActionType string     `json:"action_type"`
	Value      flexString `json:"value"`
}

// flexString accepts either a JSON string or a JSON number.
type flexString string

// Float parses a metric, returning 0 for empty or malformed values.
func (f flexString) Float() float64 {
	v, err := strconv.ParseFloat(strings.TrimSpace(string(f)), 64)
	if err != nil {
		return 0
	}
	return v
}

// Int parses a count metric, returning 0 for empty or malformed values.
func (f flexString) Int() int64 {
	s := strings.TrimSpace(string(f))
	if v, err := strconv.ParseInt(s, 10, 64); err == nil {
		return v
	}
	return int64(f.Float())
}

func (f *flexString) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*f = ""
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*f = flexString(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("value %s is neither string nor number", data)
	}
	*f = flexString(n.String())
	return nil
}

func toActionValues(entries []actionEntry) []model.ActionValue {
	if len(entries) == 0 {
		return nil
	}
	out := make([]model.ActionValue, len(entries))
	for i, e := range entries {
		out[i] = model.ActionValue{ActionType: e.ActionType, Value: string(e.Value)}
	}
	return out
}

// ActionValues returns the row's action counts.
func (r InsightRow) ActionValues() []model.ActionValue { return toActionValues(r.Actions) }

// CostPerAction returns the row's per-action-type costs.
func (r InsightRow) CostPerAction() []model.ActionValue { return toActionValues(r.CostPerActionType) }

type paging struct {
	Cursors struct {
		Before string `json:"before"`
		After  string `json:"after"`
	} `json:"cursors"`
	Next string `json:"next"`
}

type insightsPage struct {
	Data   []InsightRow `json:"data"`
	Paging paging       `json:"paging"`
}

// AdSet is the subset of adset fields the controller reads.
type AdSet struct {
	ID              string `json:"id"`
	Name            string `json:"name"`
	DailyBudget     string `json:"daily_budget"`
	EffectiveStatus string `json:"effective_status"`
}

// DailyBudgetMinor returns the daily budget in minor units.
func (a AdSet) DailyBudgetMinor() (int64, error) {
	if a.DailyBudget == "" {
		return 0, fmt.Errorf("adsplatform: adset %s has no daily budget", a.ID)
	}
	return budget.ParseMinor(a.DailyBudget)
}

type updateResponse struct {
	Success bool `json:"success"`
}

type errorEnvelope struct {
	Error *struct {
		Message      string `json:"message"`
		Type         string `json:"type"`
		Code         int    `json:"code"`
		ErrorSubcode int    `json:"error_subcode"`
		FBTraceID    string `json:"fbtrace_id"`
	} `json:"error"`
}
