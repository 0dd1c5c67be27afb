package pipeline

import (
	"sort"
	"time"

	"github.com/theirongolddev/cplpilot/internal/model"
)

// AdsetSummary holds window totals for one adset.
type AdsetSummary struct {
	AdsetID      string
	AdsetName    string
	CampaignName string
	Days         int
	Spend        float64
	Impressions  int64
	Clicks       int64
	Leads        float64
	CPL          float64 // spend / leads, 0 without leads
	CTR          float64 // clicks / impressions
}

// DailyTotals holds account totals for one calendar day.
type DailyTotals struct {
	Date   time.Time
	Spend  float64
	Leads  float64
	Clicks int64
	CPL    float64
}

// SummarizeAdsets totals records per adset, sorted by spend descending.
func SummarizeAdsets(records []model.AdsetRecord, leadType string) []AdsetSummary {
	byID := make(map[string]*AdsetSummary)
	for _, r := range records {
		s, ok := byID[r.AdsetID]
		if !ok {
			s = &AdsetSummary{AdsetID: r.AdsetID, AdsetName: r.AdsetName, CampaignName: r.CampaignName}
			byID[r.AdsetID] = s
		}
		s.Days++
		s.Spend += r.Spend
		s.Impressions += r.Impressions
		s.Clicks += r.Clicks
		s.Leads += CountLeads(r.Actions, leadType)
	}

	out := make([]AdsetSummary, 0, len(byID))
	for _, s := range byID {
		if s.Leads > 0 {
			s.CPL = s.Spend / s.Leads
		}
		if s.Impressions > 0 {
			s.CTR = float64(s.Clicks) / float64(s.Impressions)
		}
		out = append(out, *s)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Spend != out[j].Spend {
			return out[i].Spend > out[j].Spend
		}
		return out[i].AdsetID < out[j].AdsetID
	})
	return out
}

// AggregateDays totals records per calendar day, oldest first.
func AggregateDays(records []model.AdsetRecord, leadType string) []DailyTotals {
	dayMap := make(map[string]*DailyTotals)
	for _, r := range records {
		key := r.Date.Format("2006-01-02")
		d, ok := dayMap[key]
		if !ok {
			d = &DailyTotals{Date: r.Date}
			dayMap[key] = d
		}
		d.Spend += r.Spend
		d.Clicks += r.Clicks
		d.Leads += CountLeads(r.Actions, leadType)
	}

	out := make([]DailyTotals, 0, len(dayMap))
	for _, d := range dayMap {
		if d.Leads > 0 {
			d.CPL = d.Spend / d.Leads
		}
		out = append(out, *d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date.Before(out[j].Date) })
	return out
}
