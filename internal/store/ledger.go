// Package store provides a SQLite-backed ledger of controller runs.
package store

import (
	"database/sql"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"time"

	"github.com/theirongolddev/cplpilot/internal/model"

	_ "modernc.org/sqlite" // register sqlite driver
)

var (
	// ErrRunNotFound is returned when no stored run matches an id.
	ErrRunNotFound = errors.New("run not found")
	// ErrAmbiguousID is returned when an id prefix matches more than one run.
	ErrAmbiguousID = errors.New("run id prefix is ambiguous")
)

// Ledger records run outcomes. Nothing in a run reads it back.
type Ledger struct {
	db *sql.DB
}

// Open opens or creates the ledger database at the given path.
func Open(dbPath string) (*Ledger, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("creating ledger dir: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(wal)&_pragma=synchronous(normal)&_pragma=foreign_keys(on)")
	if err != nil {
		return nil, fmt.Errorf("opening ledger db: %w", err)
	}

	if _, err := db.Exec(schemaSQL); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	return &Ledger{db: db}, nil
}

// Close closes the ledger database.
func (l *Ledger) Close() error {
	return l.db.Close()
}

// RunInfo is one row of the run listing.
type RunInfo struct {
	ID         string           `json:"id" yaml:"id"`
	StartedAt  time.Time        `json:"started_at" yaml:"started_at"`
	FinishedAt time.Time        `json:"finished_at" yaml:"finished_at"`
	DryRun     bool             `json:"dry_run" yaml:"dry_run"`
	Summary    model.RunSummary `json:"summary" yaml:"summary"`
}

// SaveRun stores a run with all account and adset outcomes, replacing any
// earlier copy with the same id.
func (l *Ledger) SaveRun(r model.RunReport) error {
	if r.ID == "" {
		return errors.New("run has no id")
	}

	tx, err := l.db.Begin()
	if err != nil {
		return fmt.Errorf("beginning save: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec("DELETE FROM runs WHERE run_id = ?", r.ID); err != nil {
		return fmt.Errorf("replacing run: %w", err)
	}

	s := r.Summary()
	_, err = tx.Exec(`INSERT INTO runs
		(run_id, started_at, finished_at, dry_run, accounts, accounts_failed,
		 adsets, increased, decreased, maintained, skipped, failed)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, formatTime(r.StartedAt), formatTime(r.FinishedAt), boolInt(r.DryRun),
		s.Accounts, s.AccountsFailed, s.Adsets, s.Increase, s.Decrease, s.Maintain, s.Skipped, s.Failed,
	)
	if err != nil {
		return fmt.Errorf("inserting run: %w", err)
	}

	adsetSeq := 0
	for i, acct := range r.Accounts {
		_, err = tx.Exec(`INSERT INTO account_outcomes
			(run_id, seq, account_id, status, rows_fetched, reason)
			VALUES (?, ?, ?, ?, ?, ?)`,
			r.ID, i, acct.AccountID, string(acct.Status), acct.Rows, acct.Reason,
		)
		if err != nil {
			return fmt.Errorf("inserting account %s: %w", acct.AccountID, err)
		}

		for _, a := range acct.Adsets {
			var d model.BudgetDecision
			if a.Decision != nil {
				d = *a.Decision
			}
			_, err = tx.Exec(`INSERT INTO adset_outcomes
				(run_id, seq, account_id, adset_id, adset_name, campaign_name, status, reason,
				 has_decision, predicted_cpl, actual_cpl, current_budget, new_budget, action)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
				r.ID, adsetSeq, acct.AccountID, a.AdsetID, a.AdsetName, a.CampaignName, string(a.Status), a.Reason,
				boolInt(a.Decision != nil), nullFloat(d.PredictedCPL), nullFloat(d.ActualCPL),
				nullFloat(d.CurrentBudget), nullFloat(d.NewBudget), string(d.Action),
			)
			if err != nil {
				return fmt.Errorf("inserting adset %s: %w", a.AdsetID, err)
			}
			adsetSeq++
		}
	}

	return tx.Commit()
}

// ListRuns returns the most recent runs, newest first. limit <= 0 lists all.
func (l *Ledger) ListRuns(limit int) ([]RunInfo, error) {
	query := `SELECT run_id, started_at, finished_at, dry_run, accounts, accounts_failed,
		adsets, increased, decreased, maintained, skipped, failed
		FROM runs ORDER BY started_at DESC, run_id`
	var args []any
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := l.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var runs []RunInfo
	for rows.Next() {
		var ri RunInfo
		var started string
		var finished sql.NullString
		var dry int
		s := &ri.Summary
		if err := rows.Scan(&ri.ID, &started, &finished, &dry, &s.Accounts, &s.AccountsFailed,
			&s.Adsets, &s.Increase, &s.Decrease, &s.Maintain, &s.Skipped, &s.Failed); err != nil {
			return nil, err
		}
		ri.StartedAt = parseTime(started)
		ri.FinishedAt = parseTime(finished.String)
		ri.DryRun = dry != 0
		runs = append(runs, ri)
	}
	return runs, rows.Err()
}

// LoadRun reads a stored run. id may be a unique prefix of the run id.
func (l *Ledger) LoadRun(id string) (model.RunReport, error) {
	var r model.RunReport
	if id == "" {
		return r, ErrRunNotFound
	}

	rows, err := l.db.Query(`SELECT run_id, started_at, finished_at, dry_run
		FROM runs WHERE substr(run_id, 1, length(?)) = ? LIMIT 2`, id, id)
	if err != nil {
		return r, fmt.Errorf("querying run: %w", err)
	}
	matches := 0
	for rows.Next() {
		var started string
		var finished sql.NullString
		var dry int
		if err := rows.Scan(&r.ID, &started, &finished, &dry); err != nil {
			_ = rows.Close()
			return r, err
		}
		r.StartedAt = parseTime(started)
		r.FinishedAt = parseTime(finished.String)
		r.DryRun = dry != 0
		matches++
	}
	err = rows.Err()
	_ = rows.Close()
	if err != nil {
		return r, err
	}
	switch matches {
	case 0:
		return model.RunReport{}, fmt.Errorf("%w: %s", ErrRunNotFound, id)
	case 2:
		return model.RunReport{}, fmt.Errorf("%w: %s", ErrAmbiguousID, id)
	}

	if err := l.loadAccounts(&r); err != nil {
		return model.RunReport{}, err
	}
	return r, nil
}

func (l *Ledger) loadAccounts(r *model.RunReport) error {
	acctRows, err := l.db.Query(`SELECT account_id, status, rows_fetched, reason
		FROM account_outcomes WHERE run_id = ? ORDER BY seq`, r.ID)
	if err != nil {
		return err
	}
	defer func() { _ = acctRows.Close() }()

	acctIdx := make(map[string]int)
	for acctRows.Next() {
		var a model.AccountOutcome
		var status string
		var reason sql.NullString
		if err := acctRows.Scan(&a.AccountID, &status, &a.Rows, &reason); err != nil {
			return err
		}
		a.Status = model.Status(status)
		a.Reason = reason.String
		acctIdx[a.AccountID] = len(r.Accounts)
		r.Accounts = append(r.Accounts, a)
	}
	if err := acctRows.Err(); err != nil {
		return err
	}

	adsetRows, err := l.db.Query(`SELECT account_id, adset_id, adset_name, campaign_name, status, reason,
		has_decision, predicted_cpl, actual_cpl, current_budget, new_budget, action
		FROM adset_outcomes WHERE run_id = ? ORDER BY seq`, r.ID)
	if err != nil {
		return err
	}
	defer func() { _ = adsetRows.Close() }()

	for adsetRows.Next() {
		var a model.AdsetOutcome
		var name, campaign, reason, action sql.NullString
		var status string
		var hasDecision int
		var predicted, actual, current, next sql.NullFloat64
		if err := adsetRows.Scan(&a.AccountID, &a.AdsetID, &name, &campaign, &status, &reason,
			&hasDecision, &predicted, &actual, &current, &next, &action); err != nil {
			return err
		}
		a.AdsetName = name.String
		a.CampaignName = campaign.String
		a.Status = model.Status(status)
		a.Reason = reason.String
		if hasDecision != 0 {
			a.Decision = &model.BudgetDecision{
				AdsetID:       a.AdsetID,
				PredictedCPL:  floatOrNaN(predicted),
				ActualCPL:     floatOrNaN(actual),
				CurrentBudget: floatOrNaN(current),
				NewBudget:     floatOrNaN(next),
				Action:        model.Action(action.String),
			}
		}
		if idx, ok := acctIdx[a.AccountID]; ok {
			r.Accounts[idx].Adsets = append(r.Accounts[idx].Adsets, a)
		}
	}
	return adsetRows.Err()
}

// RunCount returns the number of stored runs.
func (l *Ledger) RunCount() (int, error) {
	var count int
	err := l.db.QueryRow("SELECT COUNT(*) FROM runs").Scan(&count)
	return count, err
}

// Prune deletes runs that started before cutoff and returns how many went.
func (l *Ledger) Prune(cutoff time.Time) (int64, error) {
	res, err := l.db.Exec("DELETE FROM runs WHERE started_at < ?", formatTime(cutoff))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// timeLayout keeps a fixed width so stored timestamps sort as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, _ := time.Parse(timeLayout, s)
	return t
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// nullFloat stores NaN as NULL.
func nullFloat(v float64) sql.NullFloat64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: v, Valid: true}
}

func floatOrNaN(v sql.NullFloat64) float64 {
	if !v.Valid {
		return math.NaN()
	}
	return v.Float64
}
