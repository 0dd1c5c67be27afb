package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/theirongolddev/cplpilot/internal/adsplatform"
	"github.com/theirongolddev/cplpilot/internal/budget"
	"github.com/theirongolddev/cplpilot/internal/forecast"
	"github.com/theirongolddev/cplpilot/internal/logger"
	"github.com/theirongolddev/cplpilot/internal/model"

	"github.com/google/uuid"
)

// Platform is the slice of the ads API a run needs.
type Platform interface {
	InsightsSource
	GetAdSet(ctx context.Context, adsetID string) (adsplatform.AdSet, error)
	UpdateDailyBudget(ctx context.Context, adsetID string, minor int64) error
}

// Reporter receives progress as the run advances. Calls happen on the
// runner's goroutine in processing order.
type Reporter interface {
	AccountStarted(accountID string)
	AccountLoaded(accountID string, records []model.AdsetRecord)
	AdsetDone(outcome model.AdsetOutcome)
	AccountDone(outcome model.AccountOutcome)
}

// Options tunes a run.
type Options struct {
	HistoryDays    int
	Horizon        int
	LeadActionType string
	DryRun         bool // compute decisions without updating budgets
}

// Runner processes accounts one at a time and adsets one at a time.
type Runner struct {
	platform   Platform
	forecaster forecast.Forecaster
	limits     budget.Limits
	opts       Options
	reporter   Reporter
	now        func() time.Time
}

// NewRunner creates a runner. limits is copied and never modified.
func NewRunner(p Platform, f forecast.Forecaster, limits budget.Limits, opts Options) *Runner {
	if opts.HistoryDays <= 0 {
		opts.HistoryDays = 30
	}
	if opts.Horizon <= 0 {
		opts.Horizon = 7
	}
	if opts.LeadActionType == "" {
		opts.LeadActionType = "lead"
	}
	return &Runner{
		platform:   p,
		forecaster: f,
		limits:     limits,
		opts:       opts,
		reporter:   nopReporter{},
		now:        time.Now,
	}
}

// WithReporter sets the progress receiver.
func (r *Runner) WithReporter(rep Reporter) *Runner {
	if rep == nil {
		rep = nopReporter{}
	}
	r.reporter = rep
	return r
}

// Run processes every account and returns the collected outcomes. A failed
// account never stops the remaining ones; a cancelled context marks the
// accounts not yet started as failed.
func (r *Runner) Run(ctx context.Context, accounts []string) model.RunReport {
	report := model.RunReport{
		ID:        uuid.NewString(),
		StartedAt: r.now(),
		DryRun:    r.opts.DryRun,
	}

	op := logger.StartOperation(ctx, "run", "run_id", report.ID, "accounts", len(accounts), "dry_run", r.opts.DryRun)
	ctx = op.Context()

	for _, id := range accounts {
		if err := ctx.Err(); err != nil {
			acct := model.AccountOutcome{AccountID: id, Status: model.StatusFailed, Err: err, Reason: err.Error()}
			report.Accounts = append(report.Accounts, acct)
			r.reporter.AccountDone(acct)
			continue
		}
		report.Accounts = append(report.Accounts, r.ProcessAccount(ctx, id))
	}

	report.FinishedAt = r.now()
	s := report.Summary()
	op.End("adsets", s.Adsets, "failed", s.Failed, "skipped", s.Skipped)
	return report
}

// ProcessAccount collects, forecasts, decides and applies for one account.
func (r *Runner) ProcessAccount(ctx context.Context, accountID string) model.AccountOutcome {
	r.reporter.AccountStarted(accountID)
	out := model.AccountOutcome{AccountID: accountID, Status: model.StatusOK}

	op := logger.StartOperation(ctx, "account", "account_id", accountID)
	ctx = op.Context()

	records, err := Collect(ctx, r.platform, accountID, r.opts.HistoryDays, r.opts.LeadActionType)
	if err != nil {
		op.EndWithError(err)
		out.Status = model.StatusFailed
		out.Err = err
		out.Reason = err.Error()
		r.reporter.AccountDone(out)
		return out
	}
	out.Rows = len(records)
	r.reporter.AccountLoaded(accountID, records)

	for _, series := range GroupSeries(records) {
		if ctx.Err() != nil {
			break
		}
		adset := r.processAdset(ctx, series)
		out.Adsets = append(out.Adsets, adset)
		r.reporter.AdsetDone(adset)
	}

	op.End("rows", out.Rows, "adsets", len(out.Adsets))
	r.reporter.AccountDone(out)
	return out
}

func (r *Runner) processAdset(ctx context.Context, series model.AdsetSeries) model.AdsetOutcome {
	out := model.AdsetOutcome{
		AccountID:    series.AccountID,
		AdsetID:      series.AdsetID,
		AdsetName:    series.AdsetName,
		CampaignName: series.CampaignName,
		History:      series.Points,
	}

	if !series.Valid() {
		out.Status = model.StatusSkipped
		out.Reason = fmt.Sprintf("only %d of %d rows carry a CPL, need %d", series.Observed, series.Rows, model.MinSeriesPoints)
		logger.Info(ctx, "adset skipped", "adset_id", series.AdsetID, "adset_name", series.AdsetName, "reason", out.Reason)
		return out
	}

	fc, err := r.forecaster.FitPredict(ctx, series.Points, r.opts.Horizon)
	if err != nil {
		return r.fail(ctx, out, "forecast", err)
	}
	out.Forecast = &fc

	predicted, ok := fc.HorizonMean()
	if !ok {
		return r.fail(ctx, out, "forecast", errors.New("forecast has no future periods"))
	}
	actual, _ := ActualCPL(series)

	adset, err := r.platform.GetAdSet(ctx, series.AdsetID)
	if err != nil {
		return r.fail(ctx, out, "reading budget", err)
	}
	currentMinor, err := adset.DailyBudgetMinor()
	if err != nil {
		return r.fail(ctx, out, "reading budget", err)
	}
	if adset.Name != "" {
		out.AdsetName = adset.Name
	}
	current := budget.FromMinor(currentMinor)

	d := budget.Decide(predicted, actual, current, r.limits)
	out.Decision = &model.BudgetDecision{
		AdsetID:       series.AdsetID,
		PredictedCPL:  predicted,
		ActualCPL:     actual,
		CurrentBudget: current,
		NewBudget:     d.NewBudget,
		Action:        d.Action,
	}
	logger.Decision(ctx, series.AdsetID, string(d.Action), predicted, actual, current, d.NewBudget,
		"adset_name", out.AdsetName, "dry_run", r.opts.DryRun)

	if r.opts.DryRun {
		out.Status = model.StatusPlanned
		return out
	}

	if err := r.platform.UpdateDailyBudget(ctx, series.AdsetID, budget.ToMinor(d.NewBudget)); err != nil {
		return r.fail(ctx, out, "updating budget", err)
	}
	out.Status = model.StatusUpdated
	return out
}

func (r *Runner) fail(ctx context.Context, out model.AdsetOutcome, stage string, err error) model.AdsetOutcome {
	out.Status = model.StatusFailed
	out.Err = fmt.Errorf("%s: %w", stage, err)
	out.Reason = out.Err.Error()
	logger.ErrorWithErr(ctx, "adset failed", err, "adset_id", out.AdsetID, "adset_name", out.AdsetName, "stage", stage)
	return out
}

type nopReporter struct{}

func (nopReporter) AccountStarted(string)                     {}
func (nopReporter) AccountLoaded(string, []model.AdsetRecord) {}
func (nopReporter) AdsetDone(model.AdsetOutcome)              {}
func (nopReporter) AccountDone(model.AccountOutcome)          {}
