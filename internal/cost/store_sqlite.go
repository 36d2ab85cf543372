package cost

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS cost_events (
	id           TEXT PRIMARY KEY,
	day          TEXT NOT NULL,
	category     TEXT NOT NULL,
	units        INTEGER NOT NULL,
	output_units INTEGER NOT NULL DEFAULT 0,
	cost_usd     REAL NOT NULL,
	request_id   TEXT,
	created_at   TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_cost_events_day ON cost_events(day);

CREATE TABLE IF NOT EXISTS daily_totals (
	day   TEXT PRIMARY KEY,
	total REAL NOT NULL
);
`

// SQLiteStore keeps the ledger in a local SQLite file so totals survive restarts.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) the database at path and runs migrations.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create db dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	// One writer at a time; the upsert below relies on it.
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{"PRAGMA journal_mode=WAL", "PRAGMA busy_timeout=5000"} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("pragma: %w", err)
		}
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// Add implements Store.
func (s *SQLiteStore) Add(ctx context.Context, ev Event) (float64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO cost_events (id, day, category, units, output_units, cost_usd, request_id, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		ev.ID, ev.Day, string(ev.Category), ev.Units, ev.OutputUnits, ev.CostUSD, ev.RequestID,
		ev.Timestamp.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return 0, fmt.Errorf("insert event: %w", err)
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO daily_totals (day, total) VALUES (?, ?)
		 ON CONFLICT(day) DO UPDATE SET total = total + excluded.total`,
		ev.Day, ev.CostUSD,
	)
	if err != nil {
		return 0, fmt.Errorf("update total: %w", err)
	}

	var total float64
	if err := tx.QueryRowContext(ctx, `SELECT total FROM daily_totals WHERE day = ?`, ev.Day).Scan(&total); err != nil {
		return 0, fmt.Errorf("read total: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}

	return total, nil
}

// Total implements Store.
func (s *SQLiteStore) Total(ctx context.Context, day string) (float64, error) {
	var total float64
	err := s.db.QueryRowContext(ctx, `SELECT total FROM daily_totals WHERE day = ?`, day).Scan(&total)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read total: %w", err)
	}
	return total, nil
}

// Events returns the events recorded for day in insertion order.
func (s *SQLiteStore) Events(ctx context.Context, day string) ([]Event, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, day, category, units, output_units, cost_usd, COALESCE(request_id, ''), created_at
		 FROM cost_events WHERE day = ? ORDER BY rowid`, day)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var ev Event
		var category, created string
		if err := rows.Scan(&ev.ID, &ev.Day, &category, &ev.Units, &ev.OutputUnits, &ev.CostUSD, &ev.RequestID, &created); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		ev.Category = Category(category)
		ev.Timestamp, _ = time.Parse(time.RFC3339Nano, created)
		events = append(events, ev)
	}
	return events, rows.Err()
}

// Close implements Store.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
