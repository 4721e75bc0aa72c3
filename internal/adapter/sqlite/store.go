// Package sqlite keeps a ledger of pipeline runs in a SQLite database.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/couchcryptid/grid-obs-bufr/internal/domain"
	"github.com/couchcryptid/grid-obs-bufr/internal/pipeline"
	_ "github.com/mattn/go-sqlite3"
)

const schema = `
CREATE TABLE IF NOT EXISTS runs (
	id          TEXT PRIMARY KEY,
	run_date    TEXT NOT NULL,
	obs_type    TEXT NOT NULL,
	status      TEXT NOT NULL,
	final_count INTEGER NOT NULL,
	encoded     INTEGER NOT NULL,
	report      TEXT NOT NULL,
	started_at  DATETIME NOT NULL,
	finished_at DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS runs_type_started ON runs (obs_type, started_at);
`

// Run statuses stored in the ledger.
const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// RunStore records run reports. It implements pipeline.RunRecorder.
type RunStore struct {
	db *sql.DB
}

// Open opens or creates the database at path and applies the schema.
// ":memory:" gives a private in-memory ledger.
func Open(path string) (*RunStore, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open run db: %w", err)
	}
	// ":memory:" databases are per connection.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply run db schema: %w", err)
	}
	return &RunStore{db: db}, nil
}

// Record inserts or replaces a report.
func (s *RunStore) Record(ctx context.Context, r pipeline.Report) error {
	data, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("serialize run report: %w", err)
	}
	status := StatusSuccess
	if r.Error != "" {
		status = StatusError
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO runs (id, run_date, obs_type, status, final_count, encoded, report, started_at, finished_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.RunID, r.Date.Format("2006-01-02"), string(r.ObsType), status,
		r.Stats.FinalCount, r.Encode.Encoded, string(data),
		r.StartedAt.UTC(), r.FinishedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("insert run %s: %w", r.RunID, err)
	}
	return nil
}

// List returns up to limit reports, newest first. An empty obsType
// matches every type.
func (s *RunStore) List(ctx context.Context, obsType domain.ObsType, limit int) ([]pipeline.Report, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT report FROM runs WHERE (? = '' OR obs_type = ?) ORDER BY started_at DESC, id DESC LIMIT ?`,
		string(obsType), string(obsType), limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	reports := []pipeline.Report{}
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		var r pipeline.Report
		if err := json.Unmarshal([]byte(raw), &r); err != nil {
			return nil, fmt.Errorf("decode run report: %w", err)
		}
		reports = append(reports, r)
	}
	return reports, rows.Err()
}

// Get returns one report by run ID.
func (s *RunStore) Get(ctx context.Context, id string) (*pipeline.Report, error) {
	var raw string
	err := s.db.QueryRowContext(ctx, `SELECT report FROM runs WHERE id = ?`, id).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: run %s", domain.ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("query run %s: %w", id, err)
	}
	var r pipeline.Report
	if err := json.Unmarshal([]byte(raw), &r); err != nil {
		return nil, fmt.Errorf("decode run report: %w", err)
	}
	return &r, nil
}

// LastSuccess returns the finish time of the newest successful run of a
// type, or the zero time when there is none.
func (s *RunStore) LastSuccess(ctx context.Context, obsType domain.ObsType) (time.Time, error) {
	var raw string
	err := s.db.QueryRowContext(ctx,
		`SELECT report FROM runs WHERE obs_type = ? AND status = ? ORDER BY started_at DESC LIMIT 1`,
		string(obsType), StatusSuccess,
	).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("query last success: %w", err)
	}
	var r pipeline.Report
	if err := json.Unmarshal([]byte(raw), &r); err != nil {
		return time.Time{}, fmt.Errorf("decode run report: %w", err)
	}
	return r.FinishedAt, nil
}

// CheckReadiness pings the database.
func (s *RunStore) CheckReadiness(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *RunStore) Close() error {
	return s.db.Close()
}
