// Package daemon runs the batch on a schedule and serves its latest outcome
// over HTTP.
package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/theirongolddev/cplpilot/internal/logger"
	"github.com/theirongolddev/cplpilot/internal/metrics"
	"github.com/theirongolddev/cplpilot/internal/model"
)

// RunFunc executes one batch run.
type RunFunc func(ctx context.Context) model.RunReport

// Config controls the daemon runtime behavior.
type Config struct {
	Interval     time.Duration
	Addr         string
	EventsBuffer int
	DryRun       bool

	// OnReport is called after every run, e.g. to record it in the ledger.
	OnReport func(ctx context.Context, r model.RunReport)
}

// Snapshot is the compact outcome of one run for status and event payloads.
type Snapshot struct {
	RunID       string           `json:"run_id"`
	At          time.Time        `json:"at"`
	DryRun      bool             `json:"dry_run"`
	DurationSec float64          `json:"duration_sec"`
	Summary     model.RunSummary `json:"summary"`
}

// Delta is the change in outcome counts from the previous run.
type Delta struct {
	Adsets   int `json:"adsets"`
	Increase int `json:"increase"`
	Decrease int `json:"decrease"`
	Maintain int `json:"maintain"`
	Skipped  int `json:"skipped"`
	Failed   int `json:"failed"`
}

// Event is emitted after every run.
type Event struct {
	ID        int64     `json:"id"`
	Type      string    `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	Snapshot  Snapshot  `json:"snapshot"`
	Delta     Delta     `json:"delta"`
}

// Status is served at /v1/status.
type Status struct {
	StartedAt       time.Time `json:"started_at"`
	LastRunAt       time.Time `json:"last_run_at"`
	NextRunAt       time.Time `json:"next_run_at"`
	IntervalSec     int       `json:"interval_sec"`
	RunCount        int64     `json:"run_count"`
	DryRun          bool      `json:"dry_run"`
	Last            Snapshot  `json:"last"`
	LastError       string    `json:"last_error,omitempty"`
	EventCount      int       `json:"event_count"`
	SubscriberCount int       `json:"subscriber_count"`
}

// Service provides the scheduler and HTTP API.
type Service struct {
	cfg      Config
	run      RunFunc
	recorder *metrics.Recorder

	mu          sync.RWMutex
	startedAt   time.Time
	lastRunAt   time.Time
	nextRunAt   time.Time
	runCount    int64
	lastError   string
	hasSnapshot bool
	snapshot    Snapshot
	nextEventID int64
	events      []Event

	nextSubID int
	subs      map[int]chan Event
}

// New returns a daemon that calls run every cfg.Interval.
func New(cfg Config, run RunFunc, rec *metrics.Recorder) *Service {
	if cfg.Interval < time.Minute {
		cfg.Interval = 24 * time.Hour
	}
	if cfg.EventsBuffer < 1 {
		cfg.EventsBuffer = 200
	}
	if cfg.Addr == "" {
		cfg.Addr = "127.0.0.1:9464"
	}

	return &Service{
		cfg:       cfg,
		run:       run,
		recorder:  rec,
		startedAt: time.Now(),
		subs:      make(map[int]chan Event),
	}
}

// Handler returns the HTTP API.
func (s *Service) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.HandleFunc("/v1/status", s.handleStatus)
	mux.HandleFunc("/v1/events", s.handleEvents)
	mux.HandleFunc("/v1/stream", s.handleStream)
	if s.recorder != nil {
		mux.Handle("/metrics", promhttp.HandlerFor(s.recorder.Gatherer(), promhttp.HandlerOpts{}))
	}
	return mux
}

// Run starts the HTTP endpoints and runs the batch until ctx is canceled.
func (s *Service) Run(ctx context.Context) error {
	server := &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	s.runOnce(ctx)

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return server.Shutdown(shutdownCtx)
		case <-ticker.C:
			s.runOnce(ctx)
		case err := <-errCh:
			return fmt.Errorf("daemon http server: %w", err)
		}
	}
}

func (s *Service) runOnce(ctx context.Context) {
	report := s.run(ctx)
	now := time.Now()

	if s.recorder != nil {
		s.recorder.ObserveReport(report)
	}
	if s.cfg.OnReport != nil {
		s.cfg.OnReport(ctx, report)
	}

	snap := snapshotFromReport(report)
	lastErr := runError(report)
	if lastErr != "" {
		logger.Warn(ctx, "daemon run had no successful account", "run_id", report.ID, "error", lastErr)
	}

	s.mu.Lock()
	prev := s.snapshot
	prevExists := s.hasSnapshot

	s.hasSnapshot = true
	s.snapshot = snap
	s.lastRunAt = now
	s.nextRunAt = now.Add(s.cfg.Interval)
	s.runCount++
	s.lastError = lastErr

	s.nextEventID++
	ev := Event{
		ID:        s.nextEventID,
		Type:      "run",
		Timestamp: now,
		Snapshot:  snap,
	}
	if prevExists {
		ev.Delta = diffSummaries(prev.Summary, snap.Summary)
	}
	s.mu.Unlock()

	s.publishEvent(ev)
}

// runError describes a run where every account failed.
func runError(r model.RunReport) string {
	s := r.Summary()
	if s.Accounts == 0 || s.AccountsFailed < s.Accounts {
		return ""
	}
	return fmt.Sprintf("all %d accounts failed: %s", s.Accounts, r.Accounts[0].Reason)
}

func snapshotFromReport(r model.RunReport) Snapshot {
	return Snapshot{
		RunID:       r.ID,
		At:          r.FinishedAt,
		DryRun:      r.DryRun,
		DurationSec: r.Duration().Seconds(),
		Summary:     r.Summary(),
	}
}

func diffSummaries(prev, curr model.RunSummary) Delta {
	return Delta{
		Adsets:   curr.Adsets - prev.Adsets,
		Increase: curr.Increase - prev.Increase,
		Decrease: curr.Decrease - prev.Decrease,
		Maintain: curr.Maintain - prev.Maintain,
		Skipped:  curr.Skipped - prev.Skipped,
		Failed:   curr.Failed - prev.Failed,
	}
}

func (s *Service) publishEvent(ev Event) {
	s.mu.Lock()
	s.events = append(s.events, ev)
	if len(s.events) > s.cfg.EventsBuffer {
		s.events = s.events[len(s.events)-s.cfg.EventsBuffer:]
	}

	for _, ch := range s.subs {
		select {
		case ch <- ev:
		default:
		}
	}
	s.mu.Unlock()
}

// Status returns the current daemon state.
func (s *Service) Status() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return Status{
		StartedAt:       s.startedAt,
		LastRunAt:       s.lastRunAt,
		NextRunAt:       s.nextRunAt,
		IntervalSec:     int(s.cfg.Interval.Seconds()),
		RunCount:        s.runCount,
		DryRun:          s.cfg.DryRun,
		Last:            s.snapshot,
		LastError:       s.lastError,
		EventCount:      len(s.events),
		SubscriberCount: len(s.subs),
	}
}

func (s *Service) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write([]byte("ok\n"))
}

func (s *Service) handleStatus(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(s.Status())
}

func (s *Service) handleEvents(w http.ResponseWriter, _ *http.Request) {
	s.mu.RLock()
	events := make([]Event, len(s.events))
	copy(events, s.events)
	s.mu.RUnlock()

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(events)
}

func (s *Service) handleStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	ch := make(chan Event, 16)
	id := s.addSubscriber(ch)
	defer s.removeSubscriber(id)

	writeSSE(w, Event{
		Type:      "snapshot",
		Timestamp: time.Now(),
		Snapshot:  s.Status().Last,
	})
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case ev := <-ch:
			writeSSE(w, ev)
			flusher.Flush()
		}
	}
}

func writeSSE(w http.ResponseWriter, ev Event) {
	data, err := json.Marshal(ev)
	if err != nil {
		return
	}
	_, _ = fmt.Fprintf(w, "event: %s\n", ev.Type)
	_, _ = fmt.Fprintf(w, "data: %s\n\n", data)
}

func (s *Service) addSubscriber(ch chan Event) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextSubID++
	id := s.nextSubID
	s.subs[id] = ch
	return id
}

func (s *Service) removeSubscriber(id int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.subs, id)
}
