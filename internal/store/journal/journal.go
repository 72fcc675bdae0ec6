// Package journal is the SQLite execution journal: one row per job attempt
// and the last cursor seen by each job. It is diagnostic; job metadata files
// stay authoritative for skip and retry decisions.
package journal

import (
	"context"
	"database/sql"
	"errors"
	"time"

	_ "modernc.org/sqlite"
)

// Run states recorded by the executor.
const (
	StateRunning = "running"
	StateSuccess = "success"
	StateFailed  = "failed"
	StateSkipped = "skipped"
)

// DB wraps the journal database.
type DB struct{ sql *sql.DB }

func Open(path string) (*DB, error) {
	d, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// a single connection keeps ":memory:" databases shared and serialises writers
	d.SetMaxOpenConns(1)
	if _, err := d.Exec(`PRAGMA journal_mode=WAL; PRAGMA synchronous=NORMAL; PRAGMA busy_timeout=5000;`); err != nil {
		_ = d.Close()
		return nil, err
	}
	db := &DB{sql: d}
	if err := db.migrate(); err != nil {
		_ = d.Close()
		return nil, err
	}
	return db, nil
}

func (d *DB) Close() error { return d.sql.Close() }

func (d *DB) migrate() error {
	_, err := d.sql.Exec(`
	CREATE TABLE IF NOT EXISTS runs (
	  id INTEGER PRIMARY KEY AUTOINCREMENT,
	  job_id TEXT NOT NULL,
	  state TEXT NOT NULL,
	  started_at INTEGER NOT NULL,
	  finished_at INTEGER,
	  tweets INTEGER NOT NULL DEFAULT 0,
	  error TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_runs_job ON runs(job_id, id);
	CREATE TABLE IF NOT EXISTS cursors (
	  key TEXT PRIMARY KEY,
	  value TEXT NOT NULL,
	  updated_at INTEGER NOT NULL
	);
	`)
	return err
}

// Run is one recorded attempt of a job.
type Run struct {
	ID         int64
	JobID      string
	State      string
	StartedAt  time.Time
	FinishedAt time.Time
	Tweets     int
	Error      string
}

// StartRun records a running attempt and returns its row id.
func (d *DB) StartRun(ctx context.Context, jobID string, started time.Time) (int64, error) {
	res, err := d.sql.ExecContext(ctx, `INSERT INTO runs(job_id, state, started_at) VALUES(?,?,?)`, jobID, StateRunning, started.UnixMilli())
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// FinishRun closes an attempt with its final state.
func (d *DB) FinishRun(ctx context.Context, runID int64, state string, finished time.Time, tweets int, errMsg string) error {
	var e *string
	if errMsg != "" {
		e = &errMsg
	}
	res, err := d.sql.ExecContext(ctx, `UPDATE runs SET state=?, finished_at=?, tweets=?, error=? WHERE id=?`, state, finished.UnixMilli(), tweets, e, runID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errors.New("journal: unknown run")
	}
	return nil
}

// LatestRuns returns the most recent attempt of every job, ordered by job id.
func (d *DB) LatestRuns(ctx context.Context) ([]Run, error) {
	rows, err := d.sql.QueryContext(ctx, `
	SELECT r.id, r.job_id, r.state, r.started_at, COALESCE(r.finished_at, 0), r.tweets, COALESCE(r.error, '')
	FROM runs r JOIN (SELECT job_id, MAX(id) AS id FROM runs GROUP BY job_id) m ON r.id = m.id
	ORDER BY r.job_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Run
	for rows.Next() {
		var r Run
		var started, finished int64
		if err := rows.Scan(&r.ID, &r.JobID, &r.State, &started, &finished, &r.Tweets, &r.Error); err != nil {
			return nil, err
		}
		r.StartedAt = time.UnixMilli(started).UTC()
		if finished > 0 {
			r.FinishedAt = time.UnixMilli(finished).UTC()
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// SaveCursor stores the last cursor seen under key.
func (d *DB) SaveCursor(ctx context.Context, key, value string) error {
	_, err := d.sql.ExecContext(ctx, `INSERT INTO cursors(key, value, updated_at) VALUES(?,?,?) ON CONFLICT(key) DO UPDATE SET value=excluded.value, updated_at=excluded.updated_at`, key, value, time.Now().UnixMilli())
	return err
}

// LoadCursor returns the stored cursor, or "" when none was saved.
func (d *DB) LoadCursor(ctx context.Context, key string) (string, error) {
	var v string
	err := d.sql.QueryRowContext(ctx, `SELECT value FROM cursors WHERE key=?`, key).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	return v, err
}
