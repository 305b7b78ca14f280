package stagesync

import (
	"encoding/json"
	"time"
)

// Kind names one of the stage-scoped document types. The set is closed;
// new kinds are added by registering them in the StateTypeRegistry.
type Kind string

const (
	KindMemo             Kind = "memo"
	KindValuation        Kind = "valuation"
	KindMonitoring       Kind = "monitoring"
	KindNormalization    Kind = "normalization"
	KindScenarioLab      Kind = "scenario-lab"
	KindExecutionPlanner Kind = "execution-planner"
	KindRedTeam          Kind = "red-team"
)

// StateRecord is one versioned document, keyed by (sessionId, kind).
// Payload, version, and updatedAt only ever change together.
type StateRecord struct {
	SessionID string          `json:"sessionId"`
	Kind      Kind            `json:"kind"`
	Payload   json.RawMessage `json:"payload"`
	Version   int64           `json:"version"`
	UpdatedAt time.Time       `json:"updatedAt"`
}

// PresenceRecord is the last-seen marker for one actor. An actor is
// present on at most one stage; the most recent heartbeat wins.
type PresenceRecord struct {
	ActorID   string    `json:"actorId"`
	StageSlug string    `json:"stageSlug"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// PresenceSnapshot is the heartbeat response: the caller's own record plus
// every non-expired peer on the same stage, the caller included.
type PresenceSnapshot struct {
	ActorID   string           `json:"actorId"`
	StageSlug string           `json:"stageSlug"`
	UpdatedAt time.Time        `json:"updatedAt"`
	Peers     []PresenceRecord `json:"peers"`
}

func cloneRawMessage(raw json.RawMessage) json.RawMessage {
	if raw == nil {
		return nil
	}
	out := make(json.RawMessage, len(raw))
	copy(out, raw)
	return out
}
