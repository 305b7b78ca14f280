package stagesync

import (
	"errors"
	"path/filepath"
	"testing"
	"time"
)

func TestBuildStateBackendMemorySchemes(t *testing.T) {
	for _, dsn := range []string{"", "memory://", "mem://", "inmem://"} {
		backend, err := BuildStateBackendFromDSN(dsn)
		if err != nil {
			t.Fatalf("dsn %q: %v", dsn, err)
		}
		if _, ok := backend.(*InMemoryStateBackend); !ok {
			t.Fatalf("dsn %q: expected in-memory backend, got %T", dsn, backend)
		}
	}
}

func TestBuildStateBackendSQLitePath(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.db")
	backend, err := BuildStateBackendFromDSN("sqlite://" + path)
	if err != nil {
		t.Fatalf("sqlite dsn: %v", err)
	}
	defer backend.Close()
	if _, ok := backend.(*SQLiteStateBackend); !ok {
		t.Fatalf("expected sqlite backend, got %T", backend)
	}
}

func TestBuildStateBackendBarePathIsSQLite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.db")
	backend, err := BuildStateBackendFromDSN(path)
	if err != nil {
		t.Fatalf("bare path dsn: %v", err)
	}
	defer backend.Close()
	if _, ok := backend.(*SQLiteStateBackend); !ok {
		t.Fatalf("expected sqlite backend for bare path, got %T", backend)
	}
}

func TestBuildStateBackendUnsupportedScheme(t *testing.T) {
	if _, err := BuildStateBackendFromDSN("cassandra://host"); err == nil {
		t.Fatalf("expected error for unsupported scheme")
	}
	if _, err := BuildStateBackendFromDSN("mysql://host/db"); !errors.Is(err, ErrNotImplemented) {
		t.Fatalf("expected ErrNotImplemented for mysql, got %v", err)
	}
}

func TestBuildStateBackendCustomFactory(t *testing.T) {
	called := false
	RegisterStateBackendFactory("teststate", func(dsn string) (StateBackend, error) {
		called = true
		return NewInMemoryStateBackend(), nil
	})
	if _, err := BuildStateBackendFromDSN("teststate://anything"); err != nil {
		t.Fatalf("custom factory: %v", err)
	}
	if !called {
		t.Fatalf("expected registered factory to be invoked")
	}
}

func TestBuildPresenceTrackerSchemes(t *testing.T) {
	tracker, err := BuildPresenceTrackerFromDSN("", 0)
	if err != nil {
		t.Fatalf("default presence dsn: %v", err)
	}
	if _, ok := tracker.(*InMemoryPresenceTracker); !ok {
		t.Fatalf("expected in-memory tracker, got %T", tracker)
	}

	tracker, err = BuildPresenceTrackerFromDSN("memory://", 10*time.Second)
	if err != nil {
		t.Fatalf("memory presence dsn: %v", err)
	}
	if _, ok := tracker.(*InMemoryPresenceTracker); !ok {
		t.Fatalf("expected in-memory tracker, got %T", tracker)
	}

	if _, err := BuildPresenceTrackerFromDSN("etcd://host", 0); err == nil {
		t.Fatalf("expected error for unsupported presence scheme")
	}
}

func TestBuildPresenceTrackerCustomFactory(t *testing.T) {
	called := false
	RegisterPresenceTrackerFactory("testpresence", func(dsn string, ttl time.Duration) (PresenceTracker, error) {
		called = true
		return NewInMemoryPresenceTracker(ttl), nil
	})
	if _, err := BuildPresenceTrackerFromDSN("testpresence://anything", 0); err != nil {
		t.Fatalf("custom presence factory: %v", err)
	}
	if !called {
		t.Fatalf("expected registered presence factory to be invoked")
	}
}
