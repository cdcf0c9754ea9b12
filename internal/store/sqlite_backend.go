package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // pure-Go driver, registers "sqlite"
)

func parseSQLiteTime(s string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, s)
}

// SQLiteLogBackend durably appends audit events to a local SQLite
// database. It implements LogBackend.
type SQLiteLogBackend struct {
	db *sql.DB
}

// OpenSQLiteLogBackend opens (creating if absent) the SQLite file at
// path and ensures the events table exists.
func OpenSQLiteLogBackend(path string) (*SQLiteLogBackend, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite log store: %w", err)
	}
	const schema = `CREATE TABLE IF NOT EXISTS events (
		id TEXT PRIMARY KEY,
		timestamp TEXT NOT NULL,
		client TEXT NOT NULL,
		url TEXT NOT NULL,
		action TEXT NOT NULL
	)`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating sqlite events table: %w", err)
	}
	return &SQLiteLogBackend{db: db}, nil
}

func (s *SQLiteLogBackend) Append(ctx context.Context, e Event) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO events (id, timestamp, client, url, action) VALUES (?, ?, ?, ?, ?)`,
		e.ID, e.Timestamp.Format(time.RFC3339Nano), e.Client, e.URL, string(e.Action))
	return err
}

func (s *SQLiteLogBackend) List(ctx context.Context) ([]Event, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, timestamp, client, url, action FROM events ORDER BY rowid ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var e Event
		var ts, action string
		if err := rows.Scan(&e.ID, &ts, &e.Client, &e.URL, &action); err != nil {
			return nil, err
		}
		e.Action = Action(action)
		if t, err := parseSQLiteTime(ts); err == nil {
			e.Timestamp = t
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

func (s *SQLiteLogBackend) Clear(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM events`)
	return err
}

// Close releases the underlying database handle.
func (s *SQLiteLogBackend) Close() error {
	return s.db.Close()
}
