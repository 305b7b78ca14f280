package stagesync

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStateBackend is the durable-local option: one file, no external
// service. The pool is capped at a single connection, so the
// read-check-write inside SaveRecord is serialized and behaves like the
// guarded statements of the Postgres backend.
type SQLiteStateBackend struct {
	db *sql.DB
}

func NewSQLiteStateBackend(path string) (*SQLiteStateBackend, error) {
	p := filepath.Clean(strings.TrimSpace(path))
	if p == "" || p == "." {
		return nil, ErrInvalidInput
	}
	if dir := filepath.Dir(p); dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, err
		}
	}
	db, err := sql.Open("sqlite", p)
	if err != nil {
		return nil, err
	}
	if err := initSQLiteSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	return &SQLiteStateBackend{db: db}, nil
}

func initSQLiteSchema(db *sql.DB) error {
	statements := []string{
		`PRAGMA journal_mode = WAL`,
		`PRAGMA busy_timeout = 5000`,
		`CREATE TABLE IF NOT EXISTS stagesync_state (
			session_id TEXT NOT NULL,
			kind TEXT NOT NULL,
			payload TEXT NOT NULL,
			version INTEGER NOT NULL,
			updated_at_unix_ms INTEGER NOT NULL,
			PRIMARY KEY (session_id, kind)
		)`,
	}
	for _, stmt := range statements {
		if _, err := db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

func (b *SQLiteStateBackend) LoadRecord(ctx context.Context, sessionID string, kind Kind) (*StateRecord, error) {
	var payload string
	var version int64
	var updatedAtMs int64
	err := b.db.QueryRowContext(ctx,
		`SELECT payload, version, updated_at_unix_ms FROM stagesync_state WHERE session_id = ? AND kind = ?`,
		sessionID, string(kind),
	).Scan(&payload, &version, &updatedAtMs)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &StateRecord{
		SessionID: sessionID,
		Kind:      kind,
		Payload:   json.RawMessage(payload),
		Version:   version,
		UpdatedAt: time.UnixMilli(updatedAtMs).UTC(),
	}, nil
}

func (b *SQLiteStateBackend) SaveRecord(ctx context.Context, sessionID string, kind Kind, payload json.RawMessage, expectedVersion int64, now time.Time) (*StateRecord, error) {
	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	var current int64
	err = tx.QueryRowContext(ctx,
		`SELECT version FROM stagesync_state WHERE session_id = ? AND kind = ?`,
		sessionID, string(kind),
	).Scan(&current)
	exists := true
	if errors.Is(err, sql.ErrNoRows) {
		exists = false
		current = 0
	} else if err != nil {
		return nil, err
	}
	if expectedVersion != current {
		return nil, &ConflictError{ExpectedVersion: expectedVersion, CurrentVersion: current}
	}

	if exists {
		_, err = tx.ExecContext(ctx,
			`UPDATE stagesync_state SET payload = ?, version = ?, updated_at_unix_ms = ? WHERE session_id = ? AND kind = ?`,
			string(payload), current+1, now.UnixMilli(), sessionID, string(kind),
		)
	} else {
		_, err = tx.ExecContext(ctx,
			`INSERT INTO stagesync_state (session_id, kind, payload, version, updated_at_unix_ms) VALUES (?, ?, ?, 1, ?)`,
			sessionID, string(kind), string(payload), now.UnixMilli(),
		)
	}
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	committed = true
	return &StateRecord{
		SessionID: sessionID,
		Kind:      kind,
		Payload:   cloneRawMessage(payload),
		Version:   current + 1,
		UpdatedAt: time.UnixMilli(now.UnixMilli()).UTC(),
	}, nil
}

func (b *SQLiteStateBackend) Close() error {
	if b == nil || b.db == nil {
		return nil
	}
	return b.db.Close()
}
