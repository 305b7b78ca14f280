package stagesync

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/lib/pq"
)

const (
	postgresStateTableName   = "stagesync_state"
	postgresOperationTimeout = 5 * time.Second
)

type sqlOpenFunc func(driverName, dsn string) (*sql.DB, error)

// PostgresStateBackend stores one row per (sessionId, kind). Both save
// paths are single guarded statements, so the version check and the write
// commit or fail together and concurrent savers on the same key cannot
// both succeed.
type PostgresStateBackend struct {
	dsn       string
	tableName string
	openDB    sqlOpenFunc

	initOnce sync.Once
	initErr  error
	db       *sql.DB
}

func NewPostgresStateBackend(dsn string) (*PostgresStateBackend, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, ErrInvalidInput
	}
	return &PostgresStateBackend{
		dsn:       dsn,
		tableName: postgresStateTableName,
		openDB:    sql.Open,
	}, nil
}

func (b *PostgresStateBackend) LoadRecord(ctx context.Context, sessionID string, kind Kind) (*StateRecord, error) {
	if err := b.ensureReady(); err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, postgresOperationTimeout)
	defer cancel()

	query := fmt.Sprintf(
		"SELECT payload, version, updated_at FROM %s WHERE session_id = $1 AND kind = $2",
		postgresQuoteIdentifier(b.tableName),
	)
	var payload string
	var version int64
	var updatedAt time.Time
	err := b.db.QueryRowContext(ctx, query, sessionID, string(kind)).Scan(&payload, &version, &updatedAt)
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
		UpdatedAt: updatedAt.UTC(),
	}, nil
}

func (b *PostgresStateBackend) SaveRecord(ctx context.Context, sessionID string, kind Kind, payload json.RawMessage, expectedVersion int64, now time.Time) (*StateRecord, error) {
	if err := b.ensureReady(); err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, postgresOperationTimeout)
	defer cancel()

	if expectedVersion == 0 {
		return b.insertRecord(ctx, sessionID, kind, payload, now)
	}
	return b.updateRecord(ctx, sessionID, kind, payload, expectedVersion, now)
}

func (b *PostgresStateBackend) insertRecord(ctx context.Context, sessionID string, kind Kind, payload json.RawMessage, now time.Time) (*StateRecord, error) {
	query := fmt.Sprintf(`
		INSERT INTO %s (session_id, kind, payload, version, updated_at)
		VALUES ($1, $2, $3, 1, $4)
		ON CONFLICT (session_id, kind) DO NOTHING`, postgresQuoteIdentifier(b.tableName))
	result, err := b.db.ExecContext(ctx, query, sessionID, string(kind), string(payload), now)
	if err != nil {
		return nil, err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return nil, err
	}
	if affected == 0 {
		current, err := b.currentVersion(ctx, sessionID, kind)
		if err != nil {
			return nil, err
		}
		return nil, &ConflictError{ExpectedVersion: 0, CurrentVersion: current}
	}
	return &StateRecord{
		SessionID: sessionID,
		Kind:      kind,
		Payload:   cloneRawMessage(payload),
		Version:   1,
		UpdatedAt: now,
	}, nil
}

func (b *PostgresStateBackend) updateRecord(ctx context.Context, sessionID string, kind Kind, payload json.RawMessage, expectedVersion int64, now time.Time) (*StateRecord, error) {
	query := fmt.Sprintf(`
		UPDATE %s
		SET payload = $3, version = version + 1, updated_at = $4
		WHERE session_id = $1 AND kind = $2 AND version = $5`, postgresQuoteIdentifier(b.tableName))
	result, err := b.db.ExecContext(ctx, query, sessionID, string(kind), string(payload), now, expectedVersion)
	if err != nil {
		return nil, err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return nil, err
	}
	if affected == 0 {
		current, err := b.currentVersion(ctx, sessionID, kind)
		if err != nil {
			return nil, err
		}
		return nil, &ConflictError{ExpectedVersion: expectedVersion, CurrentVersion: current}
	}
	return &StateRecord{
		SessionID: sessionID,
		Kind:      kind,
		Payload:   cloneRawMessage(payload),
		Version:   expectedVersion + 1,
		UpdatedAt: now,
	}, nil
}

func (b *PostgresStateBackend) currentVersion(ctx context.Context, sessionID string, kind Kind) (int64, error) {
	query := fmt.Sprintf(
		"SELECT version FROM %s WHERE session_id = $1 AND kind = $2",
		postgresQuoteIdentifier(b.tableName),
	)
	var version int64
	err := b.db.QueryRowContext(ctx, query, sessionID, string(kind)).Scan(&version)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return version, nil
}

func (b *PostgresStateBackend) Close() error {
	if b == nil || b.db == nil {
		return nil
	}
	return b.db.Close()
}

func (b *PostgresStateBackend) ensureReady() error {
	if b == nil {
		return ErrInvalidInput
	}
	b.initOnce.Do(func() {
		db, err := b.openDB("postgres", b.dsn)
		if err != nil {
			b.initErr = err
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), postgresOperationTimeout)
		defer cancel()

		query := fmt.Sprintf(`
			CREATE TABLE IF NOT EXISTS %s (
				session_id TEXT NOT NULL,
				kind TEXT NOT NULL,
				payload TEXT NOT NULL,
				version BIGINT NOT NULL,
				updated_at TIMESTAMPTZ NOT NULL,
				PRIMARY KEY (session_id, kind)
			)`, postgresQuoteIdentifier(b.tableName))
		if _, err := db.ExecContext(ctx, query); err != nil {
			_ = db.Close()
			b.initErr = err
			return
		}
		b.db = db
	})
	return b.initErr
}

func postgresQuoteIdentifier(identifier string) string {
	identifier = strings.TrimSpace(identifier)
	if identifier == "" {
		return "\"\""
	}
	return `"` + strings.ReplaceAll(identifier, `"`, `""`) + `"`
}
