package stagesync

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

// DefaultPresenceTTL is how long a heartbeat keeps an actor visible.
// The workbench UI beats roughly every 10s, so three missed beats
// expire a peer.
const DefaultPresenceTTL = 30 * time.Second

// PresenceTracker maintains the ephemeral "who is here" view. Each actor
// only ever writes its own record, so updates are last-write-wins and
// need no versioning.
type PresenceTracker interface {
	Heartbeat(ctx context.Context, actorID, stageSlug string) (PresenceSnapshot, error)
	Query(ctx context.Context, stageSlug string) ([]PresenceRecord, error)
	Close() error
}

// InMemoryPresenceTracker keeps presence in process memory. Expired
// entries are swept lazily whenever the map is read. State is local to
// one process; deployments running several instances centralize presence
// with the Redis tracker instead.
type InMemoryPresenceTracker struct {
	mu      sync.Mutex
	ttl     time.Duration
	now     func() time.Time
	records map[string]PresenceRecord
}

func NewInMemoryPresenceTracker(ttl time.Duration) *InMemoryPresenceTracker {
	if ttl <= 0 {
		ttl = DefaultPresenceTTL
	}
	return &InMemoryPresenceTracker{
		ttl:     ttl,
		now:     time.Now,
		records: map[string]PresenceRecord{},
	}
}

func (t *InMemoryPresenceTracker) Heartbeat(_ context.Context, actorID, stageSlug string) (PresenceSnapshot, error) {
	actorID = strings.TrimSpace(actorID)
	stageSlug = strings.TrimSpace(stageSlug)
	if actorID == "" || stageSlug == "" {
		return PresenceSnapshot{}, fmt.Errorf("%w: actor id and stage slug are required", ErrInvalidInput)
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	now := t.now().UTC()
	t.sweepLocked(now)
	record := PresenceRecord{ActorID: actorID, StageSlug: stageSlug, UpdatedAt: now}
	t.records[actorID] = record
	return PresenceSnapshot{
		ActorID:   record.ActorID,
		StageSlug: record.StageSlug,
		UpdatedAt: record.UpdatedAt,
		Peers:     t.peersLocked(stageSlug),
	}, nil
}

func (t *InMemoryPresenceTracker) Query(_ context.Context, stageSlug string) ([]PresenceRecord, error) {
	stageSlug = strings.TrimSpace(stageSlug)
	if stageSlug == "" {
		return nil, fmt.Errorf("%w: stage slug is required", ErrInvalidInput)
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.sweepLocked(t.now().UTC())
	return t.peersLocked(stageSlug), nil
}

func (t *InMemoryPresenceTracker) Close() error {
	return nil
}

func (t *InMemoryPresenceTracker) sweepLocked(now time.Time) {
	for actorID, record := range t.records {
		if now.Sub(record.UpdatedAt) > t.ttl {
			delete(t.records, actorID)
		}
	}
}

func (t *InMemoryPresenceTracker) peersLocked(stageSlug string) []PresenceRecord {
	peers := make([]PresenceRecord, 0)
	for _, record := range t.records {
		if record.StageSlug == stageSlug {
			peers = append(peers, record)
		}
	}
	sort.Slice(peers, func(i, j int) bool { return peers[i].ActorID < peers[j].ActorID })
	return peers
}
