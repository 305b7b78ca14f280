package stagesync

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	presenceKeyPrefix   = "stagesync:presence:"
	redisConnectTimeout = 5 * time.Second
)

// RedisPresenceTracker centralizes presence across process instances.
// One key per actor with the staleness window as its TTL, so expiry is
// Redis's job and a query only ever sees live records.
type RedisPresenceTracker struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisPresenceTracker(redisURL string, ttl time.Duration) (*RedisPresenceTracker, error) {
	if ttl <= 0 {
		ttl = DefaultPresenceTTL
	}
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse presence redis url: %w", err)
	}
	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), redisConnectTimeout)
	defer cancel()
	if _, err := client.Ping(ctx).Result(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect presence redis: %w", err)
	}
	return &RedisPresenceTracker{client: client, ttl: ttl}, nil
}

func (t *RedisPresenceTracker) Heartbeat(ctx context.Context, actorID, stageSlug string) (PresenceSnapshot, error) {
	actorID = strings.TrimSpace(actorID)
	stageSlug = strings.TrimSpace(stageSlug)
	if actorID == "" || stageSlug == "" {
		return PresenceSnapshot{}, fmt.Errorf("%w: actor id and stage slug are required", ErrInvalidInput)
	}
	record := PresenceRecord{ActorID: actorID, StageSlug: stageSlug, UpdatedAt: time.Now().UTC()}
	data, err := json.Marshal(record)
	if err != nil {
		return PresenceSnapshot{}, err
	}
	if err := t.client.Set(ctx, presenceKeyPrefix+actorID, data, t.ttl).Err(); err != nil {
		return PresenceSnapshot{}, err
	}
	peers, err := t.Query(ctx, stageSlug)
	if err != nil {
		return PresenceSnapshot{}, err
	}
	return PresenceSnapshot{
		ActorID:   record.ActorID,
		StageSlug: record.StageSlug,
		UpdatedAt: record.UpdatedAt,
		Peers:     peers,
	}, nil
}

func (t *RedisPresenceTracker) Query(ctx context.Context, stageSlug string) ([]PresenceRecord, error) {
	stageSlug = strings.TrimSpace(stageSlug)
	if stageSlug == "" {
		return nil, fmt.Errorf("%w: stage slug is required", ErrInvalidInput)
	}
	keys := make([]string, 0)
	var cursor uint64
	for {
		batch, next, err := t.client.Scan(ctx, cursor, presenceKeyPrefix+"*", 100).Result()
		if err != nil {
			return nil, err
		}
		keys = append(keys, batch...)
		cursor = next
		if cursor == 0 {
			break
		}
	}
	peers := make([]PresenceRecord, 0)
	if len(keys) == 0 {
		return peers, nil
	}
	values, err := t.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, err
	}
	for _, value := range values {
		// Keys can expire between SCAN and MGET.
		raw, ok := value.(string)
		if !ok {
			continue
		}
		var record PresenceRecord
		if err := json.Unmarshal([]byte(raw), &record); err != nil {
			continue
		}
		if record.StageSlug == stageSlug {
			peers = append(peers, record)
		}
	}
	sort.Slice(peers, func(i, j int) bool { return peers[i].ActorID < peers[j].ActorID })
	return peers, nil
}

func (t *RedisPresenceTracker) Close() error {
	if t == nil || t.client == nil {
		return nil
	}
	return t.client.Close()
}
