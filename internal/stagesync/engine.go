package stagesync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

const defaultStoreTimeout = 5 * time.Second

// Engine is the versioned state store: validate first, then a single
// compare-and-swap against the backend. Conflicts and validation failures
// are expected outcomes and are never retried here; the caller reloads
// and resubmits.
type Engine struct {
	registry     *StateTypeRegistry
	backend      StateBackend
	storeTimeout time.Duration
	now          func() time.Time
}

type EngineOptions struct {
	Registry     *StateTypeRegistry
	StoreTimeout time.Duration
	Now          func() time.Time
}

func NewEngine(backend StateBackend) *Engine {
	return NewEngineWithOptions(backend, EngineOptions{})
}

func NewEngineWithOptions(backend StateBackend, opts EngineOptions) *Engine {
	if backend == nil {
		backend = NewInMemoryStateBackend()
	}
	if opts.Registry == nil {
		opts.Registry = NewStateTypeRegistry()
	}
	if opts.StoreTimeout <= 0 {
		opts.StoreTimeout = defaultStoreTimeout
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Engine{
		registry:     opts.Registry,
		backend:      backend,
		storeTimeout: opts.StoreTimeout,
		now:          opts.Now,
	}
}

func (e *Engine) Registry() *StateTypeRegistry {
	return e.registry
}

// Load returns the current record for (sessionID, kind), or nil when no
// save has happened yet. It never fabricates a record.
func (e *Engine) Load(ctx context.Context, sessionID string, kind Kind) (*StateRecord, error) {
	if strings.TrimSpace(sessionID) == "" {
		return nil, fmt.Errorf("%w: missing session id", ErrInvalidInput)
	}
	if !e.registry.Known(kind) {
		return nil, fmt.Errorf("%w: %s", ErrUnknownKind, kind)
	}
	ctx, cancel := context.WithTimeout(ctx, e.storeTimeout)
	defer cancel()

	record, err := e.backend.LoadRecord(ctx, sessionID, kind)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return record, nil
}

// Save applies one compare-and-swap write. expectedVersion 0 means
// "create"; otherwise it must equal the stored version exactly. The
// winning record comes back at expectedVersion+1; a lost race comes back
// as *ConflictError carrying the now-current version.
func (e *Engine) Save(ctx context.Context, sessionID string, kind Kind, payload json.RawMessage, expectedVersion int64) (*StateRecord, error) {
	if strings.TrimSpace(sessionID) == "" {
		return nil, fmt.Errorf("%w: missing session id", ErrInvalidInput)
	}
	if expectedVersion < 0 {
		return nil, fmt.Errorf("%w: version must be >= 0", ErrInvalidInput)
	}
	if err := e.registry.Validate(kind, payload); err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, e.storeTimeout)
	defer cancel()

	record, err := e.backend.SaveRecord(ctx, sessionID, kind, payload, expectedVersion, e.now().UTC())
	if err != nil {
		var conflict *ConflictError
		if errors.As(err, &conflict) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return record, nil
}

func (e *Engine) Close() error {
	return e.backend.Close()
}
