package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"

	"calgrid/internal/model"
)

const schema = `
CREATE TABLE IF NOT EXISTS events (
	id         TEXT PRIMARY KEY,
	title      TEXT NOT NULL,
	date       TEXT NOT NULL,
	end_date   TEXT NOT NULL,
	start_time INTEGER NOT NULL,
	end_time   INTEGER NOT NULL,
	color      TEXT NOT NULL DEFAULT '',
	source     TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_events_dates ON events (date, end_date);
CREATE INDEX IF NOT EXISTS idx_events_source ON events (source);
`

// SQLite persists events in a single table. Dates are stored as YYYY-MM-DD
// so they sort lexically.
type SQLite struct {
	db *sql.DB
}

// OpenSQLite opens (creating if needed) the database at path.
func OpenSQLite(path string) (*SQLite, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// One writer; also keeps ":memory:" on a single shared connection.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}
	return &SQLite{db: db}, nil
}

func (s *SQLite) Load(ctx context.Context) ([]model.Event, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, title, date, end_date, start_time, end_time, color, source FROM events ORDER BY date, start_time, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Event
	for rows.Next() {
		var (
			ev            model.Event
			date, endDate string
		)
		if err := rows.Scan(&ev.ID, &ev.Title, &date, &endDate, &ev.StartTime, &ev.EndTime, &ev.Color, &ev.Source); err != nil {
			return nil, err
		}
		if ev.Date, err = model.ParseDay(date); err != nil {
			return nil, fmt.Errorf("event %s: %w", ev.ID, err)
		}
		if ev.EndDate, err = model.ParseDay(endDate); err != nil {
			return nil, fmt.Errorf("event %s: %w", ev.ID, err)
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func putEvent(ctx context.Context, db execer, ev model.Event) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO events (id, title, date, end_date, start_time, end_time, color, source)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			title = excluded.title,
			date = excluded.date,
			end_date = excluded.end_date,
			start_time = excluded.start_time,
			end_time = excluded.end_time,
			color = excluded.color,
			source = excluded.source`,
		ev.ID, ev.Title, ev.Date.String(), ev.EndDate.String(), ev.StartTime, ev.EndTime, ev.Color, ev.Source)
	return err
}

// Commit writes deletes and puts in one transaction.
func (s *SQLite) Commit(ctx context.Context, puts []model.Event, deletes []string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, id := range deletes {
		if _, err := tx.ExecContext(ctx, `DELETE FROM events WHERE id = ?`, id); err != nil {
			return fmt.Errorf("delete %s: %w", id, err)
		}
	}
	for _, ev := range puts {
		if err := putEvent(ctx, tx, ev); err != nil {
			return fmt.Errorf("event %s: %w", ev.ID, err)
		}
	}
	return tx.Commit()
}

func (s *SQLite) ReplaceSource(ctx context.Context, source string, events []model.Event) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM events WHERE source = ?`, source); err != nil {
		return err
	}
	for _, ev := range events {
		ev.Source = source
		if err := putEvent(ctx, tx, ev); err != nil {
			return fmt.Errorf("event %s: %w", ev.ID, err)
		}
	}
	return tx.Commit()
}

func (s *SQLite) Close() error {
	return s.db.Close()
}
