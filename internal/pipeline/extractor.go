package pipeline

import (
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/theirongolddev/cplpilot/internal/model"
)

// ExtractCPL returns the cost of the first entry whose action type matches
// leadType. A missing entry or an unparsable value yields (NaN, false).
func ExtractCPL(costs []model.ActionValue, leadType string) (float64, bool) {
	for _, c := range costs {
		if c.ActionType != leadType {
			continue
		}
		v, err := strconv.ParseFloat(strings.TrimSpace(c.Value), 64)
		if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
			return math.NaN(), false
		}
		return v, true
	}
	return math.NaN(), false
}

// CountLeads sums the lead actions of a row.
func CountLeads(actions []model.ActionValue, leadType string) float64 {
	var n float64
	for _, a := range actions {
		if a.ActionType != leadType {
			continue
		}
		if v, err := strconv.ParseFloat(strings.TrimSpace(a.Value), 64); err == nil {
			n += v
		}
	}
	return n
}

// FillMissingCPL replaces each missing CPL with the mean of the observed
// CPLs of the same adset. Adsets without any observation stay missing.
func FillMissingCPL(records []model.AdsetRecord) {
	type acc struct {
		sum float64
		n   int
	}
	means := make(map[string]*acc)
	for _, r := range records {
		if !r.CPLObserved {
			continue
		}
		a := means[r.AdsetID]
		if a == nil {
			a = &acc{}
			means[r.AdsetID] = a
		}
		a.sum += r.CPL
		a.n++
	}

	for i := range records {
		r := &records[i]
		if r.CPLObserved {
			continue
		}
		r.CPL = math.NaN()
		if a := means[r.AdsetID]; a != nil && a.n > 0 {
			r.CPL = a.sum / float64(a.n)
			r.CPLFilled = true
		}
	}
}

// GroupSeries groups records by adset in order of first appearance. Each
// series is sorted by date and holds only rows with a usable CPL.
func GroupSeries(records []model.AdsetRecord) []model.AdsetSeries {
	index := make(map[string]int)
	var out []model.AdsetSeries
	rows := make(map[string][]model.AdsetRecord)

	for _, r := range records {
		if _, ok := index[r.AdsetID]; !ok {
			index[r.AdsetID] = len(out)
			out = append(out, model.AdsetSeries{
				AccountID:    r.AccountID,
				AdsetID:      r.AdsetID,
				AdsetName:    r.AdsetName,
				CampaignName: r.CampaignName,
			})
		}
		rows[r.AdsetID] = append(rows[r.AdsetID], r)
	}

	for i := range out {
		s := &out[i]
		rs := rows[s.AdsetID]
		sort.SliceStable(rs, func(a, b int) bool { return rs[a].Date.Before(rs[b].Date) })
		s.Rows = len(rs)
		for _, r := range rs {
			if r.CPLObserved {
				s.Observed++
			}
			if r.HasCPL() {
				s.Points = append(s.Points, model.SeriesPoint{Date: r.Date, CPL: r.CPL})
			}
		}
	}
	return out
}

// ActualCPL is the CPL of the most recent row of the series.
func ActualCPL(s model.AdsetSeries) (float64, bool) {
	p, ok := s.Latest()
	if !ok {
		return math.NaN(), false
	}
	return p.CPL, true
}
