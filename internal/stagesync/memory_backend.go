package stagesync

import (
	"context"
	"encoding/json"
	"sync"
	"time"
)

type recordKey struct {
	sessionID string
	kind      Kind
}

// InMemoryStateBackend keeps records in process memory. It serves tests
// and single-instance development; the mutex gives it the same
// one-winner-per-transition guarantee the durable backends get from their
// storage layer.
type InMemoryStateBackend struct {
	mu      sync.Mutex
	records map[recordKey]StateRecord
}

func NewInMemoryStateBackend() *InMemoryStateBackend {
	return &InMemoryStateBackend{records: map[recordKey]StateRecord{}}
}

func (b *InMemoryStateBackend) LoadRecord(_ context.Context, sessionID string, kind Kind) (*StateRecord, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	record, ok := b.records[recordKey{sessionID: sessionID, kind: kind}]
	if !ok {
		return nil, nil
	}
	out := record
	out.Payload = cloneRawMessage(record.Payload)
	return &out, nil
}

func (b *InMemoryStateBackend) SaveRecord(_ context.Context, sessionID string, kind Kind, payload json.RawMessage, expectedVersion int64, now time.Time) (*StateRecord, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	key := recordKey{sessionID: sessionID, kind: kind}
	existing, exists := b.records[key]
	if !exists {
		if expectedVersion != 0 {
			return nil, &ConflictError{ExpectedVersion: expectedVersion, CurrentVersion: 0}
		}
		record := StateRecord{
			SessionID: sessionID,
			Kind:      kind,
			Payload:   cloneRawMessage(payload),
			Version:   1,
			UpdatedAt: now,
		}
		b.records[key] = record
		out := record
		out.Payload = cloneRawMessage(record.Payload)
		return &out, nil
	}
	if expectedVersion != existing.Version {
		return nil, &ConflictError{ExpectedVersion: expectedVersion, CurrentVersion: existing.Version}
	}
	record := StateRecord{
		SessionID: sessionID,
		Kind:      kind,
		Payload:   cloneRawMessage(payload),
		Version:   existing.Version + 1,
		UpdatedAt: now,
	}
	b.records[key] = record
	out := record
	out.Payload = cloneRawMessage(record.Payload)
	return &out, nil
}

func (b *InMemoryStateBackend) Close() error {
	return nil
}
