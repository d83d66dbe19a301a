// Package store persists selection runs so their trajectories can be
// rendered again without retraining.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/dazhiw/b2lambda/selection"
)

// ErrNotFound is returned when a run does not exist.
var ErrNotFound = eris.New("store: not found")

// RunStatus is the lifecycle state of a run.
type RunStatus string

const (
	RunStatusRunning  RunStatus = "running"
	RunStatusComplete RunStatus = "complete"
	RunStatusFailed   RunStatus = "failed"
)

// RunParams describes the inputs of a selection run.
type RunParams struct {
	Train     string
	Test      string
	Features  []string
	Threshold float64
	Governing selection.Governing
}

// Run is a stored selection run.
type Run struct {
	RunParams
	ID        string
	Status    RunStatus
	CreatedAt time.Time
	UpdatedAt time.Time
}

// SQLiteStore stores runs in a SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS runs (
	id         TEXT PRIMARY KEY,
	status     TEXT NOT NULL DEFAULT 'running',
	train      TEXT NOT NULL,
	test       TEXT NOT NULL DEFAULT '',
	features   TEXT NOT NULL,
	threshold  REAL NOT NULL,
	governing  TEXT NOT NULL,
	created_at DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS steps (
	run_id     TEXT NOT NULL REFERENCES runs(id),
	idx        INTEGER NOT NULL,
	n_features INTEGER NOT NULL,
	removed    TEXT NOT NULL DEFAULT '',
	features   TEXT NOT NULL,
	train_auc  REAL NOT NULL,
	test_auc   REAL,
	PRIMARY KEY (run_id, idx)
);

CREATE TABLE IF NOT EXISTS trials (
	run_id    TEXT NOT NULL REFERENCES runs(id),
	round     INTEGER NOT NULL,
	pos       INTEGER NOT NULL,
	removed   TEXT NOT NULL,
	features  TEXT NOT NULL,
	train_auc REAL NOT NULL,
	test_auc  REAL,
	PRIMARY KEY (run_id, round, pos)
);

CREATE INDEX IF NOT EXISTS idx_runs_created_at ON runs(created_at);
`

// Open opens the database at dsn and applies the schema.
func Open(ctx context.Context, dsn string) (*SQLiteStore, error) {
	s, err := NewSQLite(dsn)
	if err != nil {
		return nil, err
	}
	if err := s.Migrate(ctx); err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// CreateRun records the start of a run.
func (s *SQLiteStore) CreateRun(ctx context.Context, p RunParams) (*Run, error) {
	id := uuid.New().String()
	now := time.Now().UTC()

	features, err := json.Marshal(p.Features)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: marshal features")
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO runs (id, status, train, test, features, threshold, governing, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		id, string(RunStatusRunning), p.Train, p.Test, string(features), p.Threshold, string(p.Governing), now, now,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: insert run")
	}

	return &Run{
		RunParams: p,
		ID:        id,
		Status:    RunStatusRunning,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

// FinishRun sets the final status of a run.
func (s *SQLiteStore) FinishRun(ctx context.Context, runID string, status RunStatus) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET status = ?, updated_at = ? WHERE id = ?`,
		string(status), time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: finish run %s", runID)
	}
	return checkRowsAffected(res, runID)
}

// AppendStep stores step as the idx-th trajectory point of a run, the
// baseline being 0.
func (s *SQLiteStore) AppendStep(ctx context.Context, runID string, idx int, step selection.Step) error {
	features, err := json.Marshal(step.Features)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal features")
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO steps (run_id, idx, n_features, removed, features, train_auc, test_auc)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		runID, idx, step.NFeatures, step.Removed, string(features), step.TrainAUC, testAUC(step.Scores),
	)
	return eris.Wrapf(err, "sqlite: insert step %d of run %s", idx, runID)
}

// AppendTrials stores every candidate of one round in a single transaction.
func (s *SQLiteStore) AppendTrials(ctx context.Context, runID string, round int, trials []selection.Trial) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin")
	}
	defer tx.Rollback() //nolint:errcheck

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO trials (run_id, round, pos, removed, features, train_auc, test_auc)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
	)
	if err != nil {
		return eris.Wrap(err, "sqlite: prepare trial insert")
	}
	defer stmt.Close()

	for pos, t := range trials {
		features, err := json.Marshal(t.Features)
		if err != nil {
			return eris.Wrap(err, "sqlite: marshal features")
		}
		if _, err := stmt.ExecContext(ctx, runID, round, pos, t.Removed, string(features), t.TrainAUC, testAUC(t.Scores)); err != nil {
			return eris.Wrapf(err, "sqlite: insert trial %d of round %d", pos, round)
		}
	}
	return eris.Wrap(tx.Commit(), "sqlite: commit trials")
}

// GetRun returns a run by id.
func (s *SQLiteStore) GetRun(ctx context.Context, runID string) (*Run, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, status, train, test, features, threshold, governing, created_at, updated_at
		 FROM runs WHERE id = ?`,
		runID,
	)
	return scanRun(row, runID)
}

// LatestRun returns the most recently created run.
func (s *SQLiteStore) LatestRun(ctx context.Context) (*Run, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, status, train, test, features, threshold, governing, created_at, updated_at
		 FROM runs ORDER BY created_at DESC, rowid DESC LIMIT 1`,
	)
	return scanRun(row, "latest")
}

// ListRuns returns up to limit runs, newest first.
func (s *SQLiteStore) ListRuns(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, status, train, test, features, threshold, governing, created_at, updated_at
		 FROM runs ORDER BY created_at DESC, rowid DESC LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list runs")
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		r, err := scanRun(rows, "")
		if err != nil {
			return nil, err
		}
		runs = append(runs, *r)
	}
	return runs, eris.Wrap(rows.Err(), "sqlite: list runs iterate")
}

// Steps returns the stored trajectory of a run.
func (s *SQLiteStore) Steps(ctx context.Context, runID string) (selection.Trajectory, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT n_features, removed, features, train_auc, test_auc
		 FROM steps WHERE run_id = ? ORDER BY idx`,
		runID,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: list steps of run %s", runID)
	}
	defer rows.Close()

	var traj selection.Trajectory
	for rows.Next() {
		var (
			step     selection.Step
			features string
			test     sql.NullFloat64
		)
		if err := rows.Scan(&step.NFeatures, &step.Removed, &features, &step.TrainAUC, &test); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan step")
		}
		if err := json.Unmarshal([]byte(features), &step.Features); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal features")
		}
		step.TestAUC, step.HasTest = test.Float64, test.Valid
		traj = append(traj, step)
	}
	return traj, eris.Wrap(rows.Err(), "sqlite: list steps iterate")
}

// Trials returns the candidates of one round in evaluation order.
func (s *SQLiteStore) Trials(ctx context.Context, runID string, round int) ([]selection.Trial, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT removed, features, train_auc, test_auc
		 FROM trials WHERE run_id = ? AND round = ? ORDER BY pos`,
		runID, round,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: list trials of run %s", runID)
	}
	defer rows.Close()

	var trials []selection.Trial
	for rows.Next() {
		var (
			t        selection.Trial
			features string
			test     sql.NullFloat64
		)
		if err := rows.Scan(&t.Removed, &features, &t.TrainAUC, &test); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan trial")
		}
		if err := json.Unmarshal([]byte(features), &t.Features); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal features")
		}
		t.TestAUC, t.HasTest = test.Float64, test.Valid
		trials = append(trials, t)
	}
	return trials, eris.Wrap(rows.Err(), "sqlite: list trials iterate")
}

// helpers

func testAUC(s selection.Scores) sql.NullFloat64 {
	return sql.NullFloat64{Float64: s.TestAUC, Valid: s.HasTest}
}

func checkRowsAffected(res sql.Result, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "sqlite: rows affected")
	}
	if n == 0 {
		return eris.Wrapf(ErrNotFound, "run %s", id)
	}
	return nil
}

type scannable interface {
	Scan(dest ...any) error
}

func scanRun(row scannable, id string) (*Run, error) {
	var (
		r         Run
		features  string
		governing string
	)
	err := row.Scan(&r.ID, &r.Status, &r.Train, &r.Test, &features, &r.Threshold, &governing, &r.CreatedAt, &r.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "run %s", id)
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: scan run")
	}
	if err := json.Unmarshal([]byte(features), &r.Features); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal features")
	}
	r.Governing = selection.Governing(governing)
	return &r, nil
}
