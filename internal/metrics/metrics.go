// Package metrics records run outcomes as Prometheus metrics and writes them
// in the node_exporter textfile format.
package metrics

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/theirongolddev/cplpilot/internal/model"
)

const namespace = "cplpilot"

// Recorder holds the metrics of one process on a private registry.
type Recorder struct {
	registry      *prometheus.Registry
	adsetsTotal   *prometheus.CounterVec
	accountsTotal *prometheus.CounterVec
	runDuration   prometheus.Gauge
	lastRun       prometheus.Gauge
	dryRun        prometheus.Gauge
	changeRatio   *prometheus.GaugeVec
}

// NewRecorder constructs a recorder with its collectors registered.
func NewRecorder() (*Recorder, error) {
	registry := prometheus.NewRegistry()

	r := &Recorder{
		registry: registry,
		adsetsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "adsets_total",
			Help:      "Adsets processed, by budget action or terminal status.",
		}, []string{"action"}),
		accountsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "accounts_total",
			Help:      "Accounts processed, by status.",
		}, []string{"status"}),
		runDuration: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "run_duration_seconds",
			Help:      "Wall time of the last run.",
		}),
		lastRun: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_run_timestamp_seconds",
			Help:      "Unix time the last run finished.",
		}),
		dryRun: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_run_dry_run",
			Help:      "1 when the last run withheld budget updates.",
		}),
		changeRatio: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "budget_change_ratio",
			Help:      "New over current daily budget for each decided adset.",
		}, []string{"account_id", "adset_id", "action"}),
	}

	for _, c := range []prometheus.Collector{
		r.adsetsTotal, r.accountsTotal, r.runDuration, r.lastRun, r.dryRun, r.changeRatio,
	} {
		if err := registry.Register(c); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Gatherer exposes the private registry.
func (r *Recorder) Gatherer() prometheus.Gatherer {
	return r.registry
}

// ObserveReport adds a finished run to the metrics. Per-adset ratios are
// replaced so the file only shows the latest run.
func (r *Recorder) ObserveReport(rep model.RunReport) {
	r.changeRatio.Reset()

	for _, acct := range rep.Accounts {
		r.accountsTotal.WithLabelValues(string(acct.Status)).Inc()
		for _, a := range acct.Adsets {
			r.adsetsTotal.WithLabelValues(outcomeLabel(a)).Inc()
			if a.Decision != nil {
				r.changeRatio.WithLabelValues(a.AccountID, a.AdsetID, strings.ToLower(string(a.Decision.Action))).
					Set(a.Decision.ChangeRatio())
			}
		}
	}

	r.runDuration.Set(rep.Duration().Seconds())
	if !rep.FinishedAt.IsZero() {
		r.lastRun.Set(float64(rep.FinishedAt.Unix()))
	}
	if rep.DryRun {
		r.dryRun.Set(1)
	} else {
		r.dryRun.Set(0)
	}
}

// outcomeLabel is the action for decided adsets and the status otherwise.
// A failed update counts as failed even though a decision exists.
func outcomeLabel(a model.AdsetOutcome) string {
	if a.Status == model.StatusFailed || a.Status == model.StatusSkipped || a.Decision == nil {
		return string(a.Status)
	}
	return strings.ToLower(string(a.Decision.Action))
}

// WriteTextfile writes the metrics atomically for the node_exporter
// textfile collector.
func (r *Recorder) WriteTextfile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return fmt.Errorf("creating metrics dir: %w", err)
	}
	if err := prometheus.WriteToTextfile(path, r.registry); err != nil {
		return fmt.Errorf("writing metrics: %w", err)
	}
	return nil
}
