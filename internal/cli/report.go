package cli

import (
	"fmt"
	"io"
	"math"
	"strings"

	"github.com/theirongolddev/cplpilot/internal/model"
	"github.com/theirongolddev/cplpilot/internal/pipeline"
)

// RunPrinter writes the human-readable run report as the runner makes
// progress. It satisfies pipeline.Reporter.
type RunPrinter struct {
	W           io.Writer
	Symbol      string
	PreviewRows int
	TailRows    int
	Charts      bool
	LeadType    string
}

// AccountStarted prints the account header.
func (p *RunPrinter) AccountStarted(accountID string) {
	fmt.Fprintln(p.W)
	fmt.Fprintln(p.W, RenderTitle("ACCOUNT  "+accountID))
}

// AccountLoaded prints the first rows fetched for an account, then the
// window totals per adset and the daily CPL line.
func (p *RunPrinter) AccountLoaded(accountID string, records []model.AdsetRecord) {
	if len(records) == 0 {
		fmt.Fprintln(p.W, RenderNote("No active adsets with data for "+accountID))
		return
	}
	fmt.Fprintln(p.W, RenderTable(PreviewTable(records, p.PreviewRows, p.Symbol)))
	fmt.Fprintln(p.W, RenderNote(fmt.Sprintf("%s rows fetched", FormatNumber(int64(len(records))))))
	fmt.Fprintln(p.W, RenderTable(AdsetTotalsTable(pipeline.SummarizeAdsets(records, p.leadType()), p.Symbol)))
	fmt.Fprintln(p.W, DailyCPLLine(pipeline.AggregateDays(records, p.leadType())))
}

// AdsetDone prints the outcome line, the forecast tail and, when enabled,
// the chart of one adset.
func (p *RunPrinter) AdsetDone(o model.AdsetOutcome) {
	fmt.Fprintln(p.W, OutcomeLine(o))

	if o.Forecast == nil {
		return
	}
	tail := o.Forecast.Tail(p.tailRows())
	if len(tail) > 0 {
		fmt.Fprintln(p.W, RenderTable(ForecastTable(tail)))
	}
	if p.Charts && len(o.History) > 0 {
		fmt.Fprintln(p.W, RenderForecastChart(o.History, *o.Forecast, 60, 10))
	}
}

// AccountDone prints the account failure, if any.
func (p *RunPrinter) AccountDone(o model.AccountOutcome) {
	if o.Status == model.StatusFailed {
		fmt.Fprintln(p.W, RenderError(fmt.Sprintf("Account %s failed: %s", o.AccountID, o.Reason)))
	}
}

func (p *RunPrinter) leadType() string {
	if p.LeadType != "" {
		return p.LeadType
	}
	return "lead"
}

func (p *RunPrinter) tailRows() int {
	if p.TailRows > 0 {
		return p.TailRows
	}
	return 5
}

// OutcomeLine is the one-line result of an adset.
func OutcomeLine(o model.AdsetOutcome) string {
	name := o.AdsetName
	if name == "" {
		name = o.AdsetID
	}
	switch o.Status {
	case model.StatusUpdated:
		return fmt.Sprintf("  Budget updated for adset %s: %s (%s)",
			name, FormatBudget(o.Decision.NewBudget), RenderAction(o.Decision.Action))
	case model.StatusPlanned:
		return fmt.Sprintf("  Planned budget for adset %s: %s → %s (%s)",
			name, FormatBudget(o.Decision.CurrentBudget), FormatBudget(o.Decision.NewBudget), RenderAction(o.Decision.Action))
	case model.StatusSkipped:
		return skipStyle.Render(fmt.Sprintf("  Skipping adset %s: %s", name, o.Reason))
	default:
		return RenderError(fmt.Sprintf("Error with adset %s: %s", name, o.Reason))
	}
}

// PreviewTable shows the first n fetched rows.
func PreviewTable(records []model.AdsetRecord, n int, symbol string) Table {
	if n <= 0 || n > len(records) {
		n = len(records)
	}
	rows := make([][]string, 0, n)
	for _, r := range records[:n] {
		rows = append(rows, []string{
			FormatDate(r.Date),
			r.AdsetID,
			Truncate(r.AdsetName, 28),
			FormatMoney(r.Spend, symbol),
			FormatNumber(r.Clicks),
			FormatCPL(r.CPL),
		})
	}
	return Table{
		Headers:  []string{"Date", "Adset ID", "Adset", "Spend", "Clicks", "CPL"},
		Rows:     rows,
		LeftCols: 3,
	}
}

// AdsetTotalsTable shows the window totals of each adset.
func AdsetTotalsTable(sums []pipeline.AdsetSummary, symbol string) Table {
	rows := make([][]string, 0, len(sums))
	for _, s := range sums {
		cpl := "-"
		if s.Leads > 0 {
			cpl = FormatMoney(s.CPL, symbol)
		}
		rows = append(rows, []string{
			Truncate(s.AdsetName, 28),
			fmt.Sprint(s.Days),
			FormatMoney(s.Spend, symbol),
			fmt.Sprintf("%.0f", s.Leads),
			cpl,
			FormatPercent(s.CTR),
		})
	}
	return Table{
		Title:   "Window totals",
		Headers: []string{"Adset", "Days", "Spend", "Leads", "CPL", "CTR"},
		Rows:    rows,
	}
}

// DailyCPLLine renders the account's daily CPL as a sparkline. Days
// without leads show as gaps.
func DailyCPLLine(days []pipeline.DailyTotals) string {
	if len(days) == 0 {
		return ""
	}
	values := make([]float64, len(days))
	for i, d := range days {
		values[i] = math.NaN()
		if d.Leads > 0 {
			values[i] = d.CPL
		}
	}
	first, last := days[0].Date.Format("01-02"), days[len(days)-1].Date.Format("01-02")
	return fmt.Sprintf("  %s %s %s",
		mutedStyle.Render("Daily CPL "+first),
		RenderSparkline(values),
		mutedStyle.Render(last))
}

// ForecastTable lists forecast rows with their interval.
func ForecastTable(points []model.ForecastPoint) Table {
	rows := make([][]string, 0, len(points))
	for _, p := range points {
		mark := ""
		if p.Future {
			mark = "◆"
		}
		rows = append(rows, []string{
			FormatDate(p.Date),
			FormatCPL(p.Estimate),
			FormatCPL(p.Lower),
			FormatCPL(p.Upper),
			mark,
		})
	}
	return Table{
		Headers: []string{"Date", "Estimate", "Lower", "Upper", ""},
		Rows:    rows,
	}
}

// SummaryTable counts outcomes by action and status.
func SummaryTable(s model.RunSummary) Table {
	return Table{
		Title:   "Summary",
		Headers: []string{"Outcome", "Adsets"},
		Rows: [][]string{
			{RenderAction(model.ActionIncrease), fmt.Sprint(s.Increase)},
			{RenderAction(model.ActionDecrease), fmt.Sprint(s.Decrease)},
			{RenderAction(model.ActionMaintain), fmt.Sprint(s.Maintain)},
			{"---"},
			{RenderStatus(model.StatusSkipped), fmt.Sprint(s.Skipped)},
			{RenderStatus(model.StatusFailed), fmt.Sprint(s.Failed)},
			{"---"},
			{"Accounts", fmt.Sprintf("%d (%d failed)", s.Accounts, s.AccountsFailed)},
		},
	}
}

// RenderRunSummary renders the closing block of a run report.
func RenderRunSummary(r model.RunReport) string {
	var b strings.Builder
	title := "RUN " + ShortID(r.ID)
	if r.DryRun {
		title += "  (dry run)"
	}
	b.WriteString(RenderTitle(title))
	b.WriteString("\n")
	b.WriteString(RenderTable(SummaryTable(r.Summary())))
	b.WriteString(RenderNote(fmt.Sprintf("Finished in %s", FormatDuration(r.Duration()))))
	b.WriteString("\n")
	if r.DryRun {
		b.WriteString(RenderNote("Dry run: no budgets were changed."))
		b.WriteString("\n")
	}
	return b.String()
}

// DecisionTable lists every adset outcome of a stored run.
func DecisionTable(r model.RunReport, symbol string) Table {
	var rows [][]string
	for _, o := range r.Adsets() {
		row := []string{o.AccountID, o.AdsetID, Truncate(o.AdsetName, 24), RenderStatus(o.Status), "", "", "", ""}
		if d := o.Decision; d != nil {
			row[4] = FormatCPL(d.PredictedCPL)
			row[5] = FormatCPL(d.ActualCPL)
			row[6] = FormatMoney(d.CurrentBudget, symbol) + " → " + FormatMoney(d.NewBudget, symbol)
			row[7] = RenderAction(d.Action)
		} else {
			row[7] = mutedStyle.Render(Truncate(o.Reason, 40))
		}
		rows = append(rows, row)
	}
	return Table{
		Headers:  []string{"Account", "Adset ID", "Adset", "Status", "Pred CPL", "CPL", "Budget", "Action"},
		Rows:     rows,
		LeftCols: 4,
	}
}
