package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"math"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/quorumdesk/stagesync/internal/stagesync"
)

type ServerConfig struct {
	RateLimitMax    int
	RateLimitWindow time.Duration
	MaxBodyBytes    int64
}

// Server translates the HTTP surface into engine and presence calls.
// Each request is handled independently; the only cross-request state
// here is the optional rate limiter.
type Server struct {
	engine      *stagesync.Engine
	presence    stagesync.PresenceTracker
	cfg         ServerConfig
	rateLimiter *rateLimiter
}

type rateLimiter struct {
	mu      sync.Mutex
	window  time.Duration
	max     int
	entries map[string]rateEntry
}

type rateEntry struct {
	count   int
	resetAt time.Time
}

func NewServer(engine *stagesync.Engine, presence stagesync.PresenceTracker) *Server {
	return NewServerWithConfig(engine, presence, ServerConfig{})
}

func NewServerWithConfig(engine *stagesync.Engine, presence stagesync.PresenceTracker, cfg ServerConfig) *Server {
	if engine == nil {
		engine = stagesync.NewEngine(nil)
	}
	if presence == nil {
		presence = stagesync.NewInMemoryPresenceTracker(0)
	}
	if cfg.RateLimitMax < 0 {
		cfg.RateLimitMax = 0
	}
	if cfg.RateLimitWindow <= 0 {
		cfg.RateLimitWindow = time.Minute
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = 1 << 20
	}
	var limiter *rateLimiter
	if cfg.RateLimitMax > 0 {
		limiter = &rateLimiter{
			window:  cfg.RateLimitWindow,
			max:     cfg.RateLimitMax,
			entries: map[string]rateEntry{},
		}
	}
	return &Server{
		engine:      engine,
		presence:    presence,
		cfg:         cfg,
		rateLimiter: limiter,
	}
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch {
	case r.URL.Path == "/health" && r.Method == http.MethodGet:
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	case r.URL.Path == "/state" && r.Method == http.MethodGet:
		s.handleKinds(w)
	case strings.HasPrefix(r.URL.Path, "/state/"):
		kind := strings.TrimPrefix(r.URL.Path, "/state/")
		if kind == "" || strings.Contains(kind, "/") {
			writeError(w, http.StatusNotFound, "not_found", "route not found")
			return
		}
		switch r.Method {
		case http.MethodGet:
			s.handleLoadState(w, r, stagesync.Kind(kind))
		case http.MethodPut:
			s.handleSaveState(w, r, stagesync.Kind(kind))
		default:
			writeError(w, http.StatusNotFound, "not_found", "route not found")
		}
	case r.URL.Path == "/presence/heartbeat" && r.Method == http.MethodPost:
		s.handleHeartbeat(w, r)
	case r.URL.Path == "/presence" && r.Method == http.MethodGet:
		s.handlePresenceQuery(w, r)
	default:
		writeError(w, http.StatusNotFound, "not_found", "route not found")
	}
}

func (s *Server) handleKinds(w http.ResponseWriter) {
	registry := s.engine.Registry()
	kinds := registry.Kinds()
	defaults := make(map[stagesync.Kind]json.RawMessage, len(kinds))
	for _, kind := range kinds {
		if empty, ok := registry.EmptyDefault(kind); ok {
			defaults[kind] = empty
		}
	}
	writeJSON(w, http.StatusOK, struct {
		Kinds    []stagesync.Kind                   `json:"kinds"`
		Defaults map[stagesync.Kind]json.RawMessage `json:"defaults"`
	}{
		Kinds:    kinds,
		Defaults: defaults,
	})
}

func (s *Server) handleLoadState(w http.ResponseWriter, r *http.Request, kind stagesync.Kind) {
	sessionKey, err := sessionKeyFromRequest(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "session_missing", err.Error())
		return
	}
	if !s.allow(sessionKey, w) {
		return
	}
	record, err := s.engine.Load(r.Context(), sessionKey, kind)
	if err != nil {
		resolveStateError(w, err)
		return
	}
	if record == nil {
		writeJSON(w, http.StatusOK, nil)
		return
	}
	doc, err := stateDocument(record)
	if err != nil {
		resolveStateError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

func (s *Server) handleSaveState(w http.ResponseWriter, r *http.Request, kind stagesync.Kind) {
	sessionKey, err := sessionKeyFromRequest(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "session_missing", err.Error())
		return
	}
	if !s.allow(sessionKey, w) {
		return
	}
	body, ok := s.readRequestBody(w, r)
	if !ok {
		return
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(body, &fields); err != nil || fields == nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid json body")
		return
	}
	rawVersion, ok := fields["version"]
	if !ok {
		writeError(w, http.StatusBadRequest, "bad_request", "version field required")
		return
	}
	var expectedVersion int64
	if err := json.Unmarshal(rawVersion, &expectedVersion); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid version field")
		return
	}
	delete(fields, "version")
	payload, err := json.Marshal(fields)
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid json body")
		return
	}
	record, err := s.engine.Save(r.Context(), sessionKey, kind, payload, expectedVersion)
	if err != nil {
		resolveStateError(w, err)
		return
	}
	doc, err := stateDocument(record)
	if err != nil {
		resolveStateError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

func (s *Server) handleHeartbeat(w http.ResponseWriter, r *http.Request) {
	var body struct {
		StageSlug string `json:"stageSlug"`
	}
	if !s.decodeJSONBody(w, r, &body) {
		return
	}
	stage := strings.TrimSpace(body.StageSlug)
	if stage == "" {
		writeError(w, http.StatusBadRequest, "bad_request", "stageSlug is required")
		return
	}
	actorID := strings.TrimSpace(r.Header.Get(ActorIDHeader))
	if actorID == "" {
		// Anonymous callers still show up, but churn each beat. Stable
		// identity requires sending the header.
		actorID = uuid.NewString()
	}
	if !s.allow(actorID, w) {
		return
	}
	snapshot, err := s.presence.Heartbeat(r.Context(), actorID, stage)
	if err != nil {
		resolvePresenceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snapshot)
}

func (s *Server) handlePresenceQuery(w http.ResponseWriter, r *http.Request) {
	stage := strings.TrimSpace(r.URL.Query().Get("stage"))
	if stage == "" {
		writeError(w, http.StatusBadRequest, "bad_request", "missing stage query")
		return
	}
	peers, err := s.presence.Query(r.Context(), stage)
	if err != nil {
		resolvePresenceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, peers)
}

// stateDocument flattens a record into the wire shape: the payload's own
// fields plus version and updatedAt.
func stateDocument(record *stagesync.StateRecord) (map[string]any, error) {
	doc := map[string]any{}
	if err := json.Unmarshal(record.Payload, &doc); err != nil {
		return nil, err
	}
	doc["version"] = record.Version
	doc["updatedAt"] = record.UpdatedAt.UTC()
	return doc, nil
}

func (s *Server) allow(key string, w http.ResponseWriter) bool {
	if s.rateLimiter == nil {
		return true
	}
	if s.rateLimiter.allow(key, time.Now().UTC()) {
		return true
	}
	retryAfter := int(math.Ceil(s.rateLimiter.window.Seconds()))
	if retryAfter < 1 {
		retryAfter = 1
	}
	w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
	writeError(w, http.StatusTooManyRequests, "rate_limited", "rate limit exceeded")
	return false
}

func (s *Server) readRequestBody(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxBodyBytes)
	body, err := io.ReadAll(r.Body)
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeError(w, http.StatusRequestEntityTooLarge, "payload_too_large", "request body exceeds configured limit")
			return nil, false
		}
		writeError(w, http.StatusBadRequest, "bad_request", "failed to read request body")
		return nil, false
	}
	return body, true
}

func (s *Server) decodeJSONBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	body, ok := s.readRequestBody(w, r)
	if !ok {
		return false
	}
	if err := json.Unmarshal(body, dst); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid json body")
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]any{
		"code":    code,
		"message": message,
	})
}

func (r *rateLimiter) allow(key string, now time.Time) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.entries[key]
	if !ok || now.After(entry.resetAt) {
		r.entries[key] = rateEntry{
			count:   1,
			resetAt: now.Add(r.window),
		}
		return true
	}
	if entry.count >= r.max {
		return false
	}
	entry.count++
	r.entries[key] = entry
	return true
}
