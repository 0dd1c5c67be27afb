// Package pipeline turns platform insights into per-adset CPL series and
// drives the forecast, decide and apply loop across accounts.
package pipeline

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/theirongolddev/cplpilot/internal/adsplatform"
	"github.com/theirongolddev/cplpilot/internal/model"
)

// InsightsSource returns daily adset rows for one account.
type InsightsSource interface {
	FetchInsights(ctx context.Context, accountID string, q adsplatform.InsightsQuery) ([]adsplatform.InsightRow, error)
}

// Collect fetches the trailing window of daily adset rows for an account
// and converts them to records with CPL extracted and gaps filled.
func Collect(ctx context.Context, src InsightsSource, accountID string, days int, leadType string) ([]model.AdsetRecord, error) {
	rows, err := src.FetchInsights(ctx, accountID, adsplatform.DefaultInsightsQuery(days))
	if err != nil {
		return nil, fmt.Errorf("fetching insights for %s: %w", accountID, err)
	}

	records := make([]model.AdsetRecord, 0, len(rows))
	for _, row := range rows {
		rec, err := ToRecord(accountID, row, leadType)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	FillMissingCPL(records)
	return records, nil
}

// ToRecord converts one insights row. Only the date is mandatory; malformed
// metrics read as zero and a malformed lead cost reads as missing.
func ToRecord(accountID string, row adsplatform.InsightRow, leadType string) (model.AdsetRecord, error) {
	date, err := ParseDate(row.DateStart)
	if err != nil {
		return model.AdsetRecord{}, fmt.Errorf("adset %s: %w", row.AdsetID, err)
	}

	rec := model.AdsetRecord{
		AccountID:     accountID,
		AdsetID:       row.AdsetID,
		AdsetName:     row.AdsetName,
		CampaignName:  row.CampaignName,
		Date:          date,
		Spend:         row.Spend.Float(),
		Impressions:   row.Impressions.Int(),
		Clicks:        row.Clicks.Int(),
		CPC:           row.CPC.Float(),
		CPM:           row.CPM.Float(),
		Actions:       row.ActionValues(),
		CostPerAction: row.CostPerAction(),
	}
	rec.CPL, rec.CPLObserved = ExtractCPL(rec.CostPerAction, leadType)
	return rec, nil
}

// ParseDate normalizes a platform date ("2006-01-02", optionally with a
// time part) to midnight UTC.
func ParseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if len(s) > len("2006-01-02") {
		s = s[:len("2006-01-02")]
	}
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parsing date %q: %w", s, err)
	}
	return t, nil
}
