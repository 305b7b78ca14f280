package httpapi

import (
	"errors"
	"net/http"
	"strings"
)

// SessionKeyHeader carries the opaque collaborative-session identifier.
// It is validated upstream; here it is only scope, never a credential.
const SessionKeyHeader = "X-Session-Key"

// ActorIDHeader optionally names the collaborator for presence purposes.
const ActorIDHeader = "X-Actor-Id"

var errSessionMissing = errors.New("Session key header required")

// sessionKeyFromRequest fails closed: no header, no store access.
func sessionKeyFromRequest(r *http.Request) (string, error) {
	key := strings.TrimSpace(r.Header.Get(SessionKeyHeader))
	if key == "" {
		return "", errSessionMissing
	}
	return key, nil
}
