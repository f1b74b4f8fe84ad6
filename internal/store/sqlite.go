package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/cortexuvula/massagesync/internal/session"
)

const schema = `
CREATE TABLE IF NOT EXISTS sessions (
	id           TEXT PRIMARY KEY,
	client_name  TEXT NOT NULL,
	pressure     TEXT NOT NULL,
	speed        TEXT NOT NULL,
	depth        TEXT NOT NULL,
	focus_zones  TEXT NOT NULL,
	ignore_zones TEXT NOT NULL,
	created_at   INTEGER NOT NULL,
	updated_at   INTEGER NOT NULL
)`

// SQLite is a session.Store backed by a single SQLite database file.
type SQLite struct {
	db  *sql.DB
	now func() time.Time
}

// OpenSQLite opens (or creates) the database at path and applies the schema.
func OpenSQLite(path string) (*SQLite, error) {
	if dir := filepath.Dir(path); dir != "." && path != ":memory:" {
		if err := os.MkdirAll(dir, 0750); err != nil {
			return nil, fmt.Errorf("creating store directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", "file:"+path+"?_busy_timeout=5000&_journal_mode=WAL&_txlock=immediate")
	if err != nil {
		return nil, fmt.Errorf("opening sqlite store: %w", err)
	}
	// One writer keeps read-modify-write updates serialised and lets
	// ":memory:" databases survive across calls.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("applying sqlite schema: %w", err)
	}
	return &SQLite{db: db, now: time.Now}, nil
}

func (s *SQLite) Create(ctx context.Context, rec session.Session) (session.Session, error) {
	focus, ignore, err := encodeZones(rec)
	if err != nil {
		return session.Session{}, err
	}
	query := `INSERT INTO sessions (id, client_name, pressure, speed, depth, focus_zones, ignore_zones, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`
	if _, err := s.db.ExecContext(ctx, query,
		rec.ID, rec.ClientName, rec.Pressure, rec.Speed, rec.Depth,
		focus, ignore, rec.CreatedAt.UnixNano(), rec.UpdatedAt.UnixNano(),
	); err != nil {
		return session.Session{}, fmt.Errorf("failed to insert session %s: %w", rec.ID, err)
	}
	return rec.Clone(), nil
}

func (s *SQLite) Get(ctx context.Context, id string) (session.Session, error) {
	return getSession(ctx, s.db, id)
}

// Update runs the read-modify-write in one transaction.
func (s *SQLite) Update(ctx context.Context, id string, p session.Preferences) (session.Session, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return session.Session{}, fmt.Errorf("begin update: %w", err)
	}
	defer tx.Rollback()

	rec, err := getSession(ctx, tx, id)
	if err != nil {
		return session.Session{}, err
	}
	p.Apply(&rec, s.now())

	focus, ignore, err := encodeZones(rec)
	if err != nil {
		return session.Session{}, err
	}
	query := `UPDATE sessions SET pressure = ?, speed = ?, depth = ?, focus_zones = ?, ignore_zones = ?, updated_at = ?
		WHERE id = ?`
	if _, err := tx.ExecContext(ctx, query,
		rec.Pressure, rec.Speed, rec.Depth, focus, ignore, rec.UpdatedAt.UnixNano(), id,
	); err != nil {
		return session.Session{}, fmt.Errorf("failed to update session %s: %w", id, err)
	}
	if err := tx.Commit(); err != nil {
		return session.Session{}, fmt.Errorf("commit update: %w", err)
	}
	return rec, nil
}

func (s *SQLite) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQLite) Close() error {
	return s.db.Close()
}

type queryRower interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func getSession(ctx context.Context, q queryRower, id string) (session.Session, error) {
	query := `SELECT id, client_name, pressure, speed, depth, focus_zones, ignore_zones, created_at, updated_at
		FROM sessions WHERE id = ?`

	var rec session.Session
	var focus, ignore string
	var created, updated int64
	if err := q.QueryRowContext(ctx, query, id).Scan(
		&rec.ID, &rec.ClientName, &rec.Pressure, &rec.Speed, &rec.Depth,
		&focus, &ignore, &created, &updated,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return session.Session{}, session.ErrNotFound
		}
		return session.Session{}, fmt.Errorf("error querying session %s: %w", id, err)
	}

	if err := json.Unmarshal([]byte(focus), &rec.FocusZones); err != nil {
		return session.Session{}, fmt.Errorf("decoding focus_zones: %w", err)
	}
	if err := json.Unmarshal([]byte(ignore), &rec.IgnoreZones); err != nil {
		return session.Session{}, fmt.Errorf("decoding ignore_zones: %w", err)
	}
	if rec.FocusZones == nil {
		rec.FocusZones = []string{}
	}
	if rec.IgnoreZones == nil {
		rec.IgnoreZones = []string{}
	}
	rec.CreatedAt = time.Unix(0, created).UTC()
	rec.UpdatedAt = time.Unix(0, updated).UTC()
	return rec, nil
}

func encodeZones(rec session.Session) (string, string, error) {
	focus := rec.FocusZones
	if focus == nil {
		focus = []string{}
	}
	ignore := rec.IgnoreZones
	if ignore == nil {
		ignore = []string{}
	}
	f, err := json.Marshal(focus)
	if err != nil {
		return "", "", fmt.Errorf("encoding focus_zones: %w", err)
	}
	i, err := json.Marshal(ignore)
	if err != nil {
		return "", "", fmt.Errorf("encoding ignore_zones: %w", err)
	}
	return string(f), string(i), nil
}
