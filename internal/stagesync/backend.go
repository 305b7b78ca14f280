package stagesync

import (
	"context"
	"encoding/json"
	"time"
)

// StateBackend is the durable collaborator behind the engine. SaveRecord
// must be atomic at the storage layer: of two callers racing on the same
// (sessionId, kind) with the same expectedVersion, exactly one may win.
//
// LoadRecord returns (nil, nil) when no record exists. SaveRecord returns
// *ConflictError when expectedVersion does not match the stored version
// (0 meaning "no record yet"); any other error is an infrastructure fault.
type StateBackend interface {
	LoadRecord(ctx context.Context, sessionID string, kind Kind) (*StateRecord, error)
	SaveRecord(ctx context.Context, sessionID string, kind Kind, payload json.RawMessage, expectedVersion int64, now time.Time) (*StateRecord, error)
	Close() error
}
