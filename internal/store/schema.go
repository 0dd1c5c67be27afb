package store

const schemaSQL = `
CREATE TABLE IF NOT EXISTS runs (
    run_id               TEXT PRIMARY KEY,
    started_at           TEXT NOT NULL,
    finished_at          TEXT,
    dry_run              INTEGER NOT NULL DEFAULT 0,
    accounts             INTEGER NOT NULL DEFAULT 0,
    accounts_failed      INTEGER NOT NULL DEFAULT 0,
    adsets               INTEGER NOT NULL DEFAULT 0,
    increased            INTEGER NOT NULL DEFAULT 0,
    decreased            INTEGER NOT NULL DEFAULT 0,
    maintained           INTEGER NOT NULL DEFAULT 0,
    skipped              INTEGER NOT NULL DEFAULT 0,
    failed               INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS account_outcomes (
    run_id               TEXT NOT NULL REFERENCES runs(run_id) ON DELETE CASCADE,
    seq                  INTEGER NOT NULL,
    account_id           TEXT NOT NULL,
    status               TEXT NOT NULL,
    rows_fetched         INTEGER NOT NULL DEFAULT 0,
    reason               TEXT,
    PRIMARY KEY (run_id, seq)
);

CREATE TABLE IF NOT EXISTS adset_outcomes (
    run_id               TEXT NOT NULL REFERENCES runs(run_id) ON DELETE CASCADE,
    seq                  INTEGER NOT NULL,
    account_id           TEXT NOT NULL,
    adset_id             TEXT NOT NULL,
    adset_name           TEXT,
    campaign_name        TEXT,
    status               TEXT NOT NULL,
    reason               TEXT,
    has_decision         INTEGER NOT NULL DEFAULT 0,
    predicted_cpl        REAL,
    actual_cpl           REAL,
    current_budget       REAL,
    new_budget           REAL,
    action               TEXT,
    PRIMARY KEY (run_id, seq)
);

CREATE INDEX IF NOT EXISTS idx_runs_started ON runs(started_at);
CREATE INDEX IF NOT EXISTS idx_adset_outcomes_adset ON adset_outcomes(adset_id);
`
