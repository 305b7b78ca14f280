package stagesync

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

var postgresIntegrationCounter uint64

func TestPostgresIntegrationSaveLoadRoundTrip(t *testing.T) {
	backend := newPostgresIntegrationBackend(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Millisecond)

	record, err := backend.LoadRecord(ctx, "sess_it", KindMonitoring)
	if err != nil {
		t.Fatalf("initial load: %v", err)
	}
	if record != nil {
		t.Fatalf("expected nil initial record, got %+v", record)
	}

	payload := json.RawMessage(`{"acknowledgedAlerts":{"alert-churn":true},"deltaOverrides":{}}`)
	saved, err := backend.SaveRecord(ctx, "sess_it", KindMonitoring, payload, 0, now)
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	if saved.Version != 1 {
		t.Fatalf("expected version 1, got %d", saved.Version)
	}

	loaded, err := backend.LoadRecord(ctx, "sess_it", KindMonitoring)
	if err != nil {
		t.Fatalf("load after save: %v", err)
	}
	if loaded == nil || loaded.Version != 1 {
		t.Fatalf("expected stored version 1, got %+v", loaded)
	}
}

func TestPostgresIntegrationStaleSaveConflicts(t *testing.T) {
	backend := newPostgresIntegrationBackend(t)
	ctx := context.Background()
	now := time.Now().UTC()
	payload := json.RawMessage(`{"acknowledgedAlerts":{},"deltaOverrides":{}}`)

	if _, err := backend.SaveRecord(ctx, "sess_it", KindMonitoring, payload, 0, now); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if _, err := backend.SaveRecord(ctx, "sess_it", KindMonitoring, payload, 1, now); err != nil {
		t.Fatalf("update: %v", err)
	}

	_, err := backend.SaveRecord(ctx, "sess_it", KindMonitoring, payload, 1, now)
	var conflict *ConflictError
	if !errors.As(err, &conflict) {
		t.Fatalf("expected ConflictError, got %v", err)
	}
	if conflict.CurrentVersion != 2 {
		t.Fatalf("expected current version 2, got %d", conflict.CurrentVersion)
	}
}

func TestPostgresIntegrationConcurrentSavesSingleWinner(t *testing.T) {
	backend := newPostgresIntegrationBackend(t)
	ctx := context.Background()
	now := time.Now().UTC()
	payload := json.RawMessage(`{"acknowledgedAlerts":{},"deltaOverrides":{}}`)

	if _, err := backend.SaveRecord(ctx, "sess_it", KindMonitoring, payload, 0, now); err != nil {
		t.Fatalf("seed: %v", err)
	}

	const racers = 4
	var wg sync.WaitGroup
	results := make([]error, racers)
	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, results[i] = backend.SaveRecord(ctx, "sess_it", KindMonitoring, payload, 1, time.Now().UTC())
		}(i)
	}
	wg.Wait()

	winners := 0
	for _, err := range results {
		if err == nil {
			winners++
			continue
		}
		if !errors.Is(err, ErrVersionConflict) {
			t.Fatalf("unexpected racer error: %v", err)
		}
	}
	if winners != 1 {
		t.Fatalf("expected exactly one winner, got %d", winners)
	}

	loaded, err := backend.LoadRecord(ctx, "sess_it", KindMonitoring)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if loaded.Version != 2 {
		t.Fatalf("expected exactly one applied transition, got version %d", loaded.Version)
	}
}

func newPostgresIntegrationBackend(t *testing.T) *PostgresStateBackend {
	t.Helper()
	dsn := postgresIntegrationDSN(t)
	backend, err := NewPostgresStateBackend(dsn)
	if err != nil {
		t.Fatalf("new postgres state backend: %v", err)
	}
	backend.tableName = postgresIntegrationTableName("stagesync_state_it")
	t.Cleanup(func() {
		_ = backend.Close()
		postgresIntegrationDropTable(t, dsn, backend.tableName)
	})
	return backend
}

func postgresIntegrationDSN(t *testing.T) string {
	t.Helper()
	dsn := strings.TrimSpace(os.Getenv("STAGESYNC_TEST_POSTGRES_DSN"))
	if dsn == "" {
		t.Skip("set STAGESYNC_TEST_POSTGRES_DSN to run Postgres integration tests")
	}
	return dsn
}

func postgresIntegrationTableName(prefix string) string {
	id := atomic.AddUint64(&postgresIntegrationCounter, 1)
	return fmt.Sprintf("%s_%d_%d", prefix, os.Getpid(), id)
}

func postgresIntegrationDropTable(t *testing.T, dsn, tableName string) {
	t.Helper()
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		t.Logf("drop table open: %v", err)
		return
	}
	defer db.Close()
	ctx, cancel := context.WithTimeout(context.Background(), postgresOperationTimeout)
	defer cancel()
	if _, err := db.ExecContext(ctx, fmt.Sprintf("DROP TABLE IF EXISTS %s", postgresQuoteIdentifier(tableName))); err != nil {
		t.Logf("drop table: %v", err)
	}
}
