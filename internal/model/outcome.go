package model

import "time"

// Action is the direction of a budget change.
type Action string

const (
	ActionIncrease Action = "Increase"
	ActionDecrease Action = "Decrease"
	ActionMaintain Action = "Maintain"
)

// BudgetDecision is the controller's verdict for one adset.
// Budgets are in major currency units.
type BudgetDecision struct {
	AdsetID       string  `json:"adset_id" yaml:"adset_id"`
	PredictedCPL  float64 `json:"predicted_cpl" yaml:"predicted_cpl"`
	ActualCPL     float64 `json:"actual_cpl" yaml:"actual_cpl"`
	CurrentBudget float64 `json:"current_budget" yaml:"current_budget"`
	NewBudget     float64 `json:"new_budget" yaml:"new_budget"`
	Action        Action  `json:"action" yaml:"action"`
}

// ChangeRatio is new/current, or 1 when the current budget is zero.
func (d BudgetDecision) ChangeRatio() float64 {
	if d.CurrentBudget == 0 {
		return 1
	}
	return d.NewBudget / d.CurrentBudget
}

// Status is the terminal state of a processed item.
type Status string

const (
	StatusUpdated Status = "updated" // decision pushed to the platform
	StatusPlanned Status = "planned" // decision computed, update withheld (dry run)
	StatusSkipped Status = "skipped"
	StatusFailed  Status = "failed"
	StatusOK      Status = "ok"
)

// AdsetOutcome is the per-adset result of a run.
type AdsetOutcome struct {
	AccountID    string          `json:"account_id" yaml:"account_id"`
	AdsetID      string          `json:"adset_id" yaml:"adset_id"`
	AdsetName    string          `json:"adset_name" yaml:"adset_name"`
	CampaignName string          `json:"campaign_name,omitempty" yaml:"campaign_name,omitempty"`
	Status       Status          `json:"status" yaml:"status"`
	Decision     *BudgetDecision `json:"decision,omitempty" yaml:"decision,omitempty"`
	Reason       string          `json:"reason,omitempty" yaml:"reason,omitempty"`

	History  []SeriesPoint `json:"-" yaml:"-"`
	Forecast *Forecast     `json:"-" yaml:"-"`
	Err      error         `json:"-" yaml:"-"`
}

// AccountOutcome is the per-account result of a run.
type AccountOutcome struct {
	AccountID string         `json:"account_id" yaml:"account_id"`
	Status    Status         `json:"status" yaml:"status"`
	Rows      int            `json:"rows" yaml:"rows"`
	Reason    string         `json:"reason,omitempty" yaml:"reason,omitempty"`
	Adsets    []AdsetOutcome `json:"adsets" yaml:"adsets"`
	Err       error          `json:"-" yaml:"-"`
}

// RunReport collects everything one batch invocation did.
type RunReport struct {
	ID         string           `json:"id" yaml:"id"`
	StartedAt  time.Time        `json:"started_at" yaml:"started_at"`
	FinishedAt time.Time        `json:"finished_at" yaml:"finished_at"`
	DryRun     bool             `json:"dry_run" yaml:"dry_run"`
	Accounts   []AccountOutcome `json:"accounts" yaml:"accounts"`
}

// RunSummary holds outcome counts for a report.
type RunSummary struct {
	Accounts       int `json:"accounts" yaml:"accounts"`
	AccountsFailed int `json:"accounts_failed" yaml:"accounts_failed"`
	Adsets         int `json:"adsets" yaml:"adsets"`
	Increase       int `json:"increase" yaml:"increase"`
	Decrease       int `json:"decrease" yaml:"decrease"`
	Maintain       int `json:"maintain" yaml:"maintain"`
	Skipped        int `json:"skipped" yaml:"skipped"`
	Failed         int `json:"failed" yaml:"failed"`
}

// Summary counts outcomes across all accounts. Adsets with a decision are
// counted by action whether or not the update was applied.
func (r RunReport) Summary() RunSummary {
	var s RunSummary
	for _, acct := range r.Accounts {
		s.Accounts++
		if acct.Status == StatusFailed {
			s.AccountsFailed++
		}
		for _, a := range acct.Adsets {
			s.Adsets++
			switch a.Status {
			case StatusSkipped:
				s.Skipped++
				continue
			case StatusFailed:
				s.Failed++
				continue
			}
			if a.Decision == nil {
				continue
			}
			switch a.Decision.Action {
			case ActionIncrease:
				s.Increase++
			case ActionDecrease:
				s.Decrease++
			case ActionMaintain:
				s.Maintain++
			}
		}
	}
	return s
}

// Duration is the wall time of the run.
func (r RunReport) Duration() time.Duration {
	if r.FinishedAt.IsZero() {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}

// Adsets returns every adset outcome in processing order.
func (r RunReport) Adsets() []AdsetOutcome {
	var out []AdsetOutcome
	for _, acct := range r.Accounts {
		out = append(out, acct.Adsets...)
	}
	return out
}
