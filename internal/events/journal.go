package events

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gofrs/flock"
	"github.com/rs/zerolog"
	_ "modernc.org/sqlite"
)

// Journal is the durable event log: an append-only sqlite table guarded by
// a file lock so several relay processes can share it.
type Journal struct {
	db   *sql.DB
	lock *flock.Flock
	log  zerolog.Logger
}

// Entry is a journaled event with its sequence number.
type Entry struct {
	Seq   int64 `json:"seq"`
	Event Event `json:"event"`
}

func OpenJournal(path, lockPath string, log zerolog.Logger) (*Journal, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create journal directory: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(lockPath), 0o755); err != nil {
		return nil, fmt.Errorf("create journal lock directory: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open journal sqlite: %w", err)
	}

	queries := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		`CREATE TABLE IF NOT EXISTS relay_events (
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			kind TEXT NOT NULL,
			chain_id INTEGER NOT NULL,
			created_at INTEGER NOT NULL,
			payload BLOB NOT NULL
		);`,
		"CREATE INDEX IF NOT EXISTS idx_relay_events_kind_seq ON relay_events(kind, seq DESC);",
	}
	for _, q := range queries {
		if _, err := db.Exec(q); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("init journal schema: %w", err)
		}
	}
	return &Journal{db: db, lock: flock.New(lockPath), log: log}, nil
}

func (j *Journal) Close() error {
	if j == nil || j.db == nil {
		return nil
	}
	return j.db.Close()
}

// Append stores event and returns its sequence number.
func (j *Journal) Append(ctx context.Context, event Event) (int64, error) {
	locked, err := j.lock.TryLockContext(ctx, 5*time.Second)
	if err != nil {
		return 0, fmt.Errorf("lock journal: %w", err)
	}
	if !locked {
		return 0, fmt.Errorf("lock journal: timeout acquiring lock")
	}
	defer func() { _ = j.lock.Unlock() }()

	event = Stamp(event, time.Now)
	payload, err := json.Marshal(event)
	if err != nil {
		return 0, fmt.Errorf("marshal event: %w", err)
	}
	res, err := j.db.ExecContext(ctx,
		"INSERT INTO relay_events (kind, chain_id, created_at, payload) VALUES (?, ?, ?, ?)",
		string(event.Kind), int64(event.Chain), event.At.Unix(), payload)
	if err != nil {
		return 0, fmt.Errorf("append event: %w", err)
	}
	return res.LastInsertId()
}

// Emit appends and logs (rather than returns) write failures.
func (j *Journal) Emit(ctx context.Context, event Event) {
	if _, err := j.Append(ctx, event); err != nil {
		j.log.Error().Err(err).Str("kind", string(event.Kind)).Msg("journal event")
	}
}

// List returns the newest events first, optionally filtered by kind.
func (j *Journal) List(ctx context.Context, kind string, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 50
	}
	var (
		rows *sql.Rows
		err  error
	)
	if strings.TrimSpace(kind) == "" {
		rows, err = j.db.QueryContext(ctx, "SELECT seq, payload FROM relay_events ORDER BY seq DESC LIMIT ?", limit)
	} else {
		rows, err = j.db.QueryContext(ctx, "SELECT seq, payload FROM relay_events WHERE kind = ? ORDER BY seq DESC LIMIT ?", kind, limit)
	}
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	defer rows.Close()

	entries := make([]Entry, 0)
	for rows.Next() {
		var (
			seq     int64
			payload []byte
		)
		if err := rows.Scan(&seq, &payload); err != nil {
			return nil, fmt.Errorf("scan event row: %w", err)
		}
		var event Event
		if err := json.Unmarshal(payload, &event); err != nil {
			return nil, fmt.Errorf("decode event row: %w", err)
		}
		entries = append(entries, Entry{Seq: seq, Event: event})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate event rows: %w", err)
	}
	return entries, nil
}

// Prune drops events older than maxAge.
func (j *Journal) Prune(ctx context.Context, maxAge time.Duration) (int64, error) {
	cutoff := time.Now().UTC().Add(-maxAge).Unix()
	res, err := j.db.ExecContext(ctx, "DELETE FROM relay_events WHERE created_at < ?", cutoff)
	if err != nil {
		return 0, fmt.Errorf("prune events: %w", err)
	}
	return res.RowsAffected()
}
