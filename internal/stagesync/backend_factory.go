package stagesync

import (
	"fmt"
	"net/url"
	"strings"
	"time"
)

// BuildStateBackendFromDSN picks a state backend by DSN scheme:
// memory:// for in-process, postgres:// for shared durable storage,
// sqlite:// (or a bare file path) for durable-local.
func BuildStateBackendFromDSN(dsn string) (StateBackend, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return NewInMemoryStateBackend(), nil
	}
	parsed, err := url.Parse(dsn)
	if err != nil {
		return nil, err
	}
	scheme := normalizeBackendScheme(parsed.Scheme)
	if factory, ok := lookupStateBackendFactory(scheme); ok {
		return factory(dsn)
	}
	switch scheme {
	case "memory", "mem", "inmem":
		return NewInMemoryStateBackend(), nil
	case "postgres", "postgresql":
		return NewPostgresStateBackend(dsn)
	case "", "file", "sqlite":
		path, pathErr := dsnPath(parsed, dsn)
		if pathErr != nil {
			return nil, pathErr
		}
		return NewSQLiteStateBackend(path)
	case "mysql":
		return nil, fmt.Errorf("%w: state backend %s", ErrNotImplemented, scheme)
	default:
		return nil, fmt.Errorf("unsupported state backend scheme: %s", scheme)
	}
}

// BuildPresenceTrackerFromDSN picks presence storage the same way.
// In-memory presence is best-effort and diverges across instances;
// redis:// centralizes it for multi-instance deployments.
func BuildPresenceTrackerFromDSN(dsn string, ttl time.Duration) (PresenceTracker, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return NewInMemoryPresenceTracker(ttl), nil
	}
	parsed, err := url.Parse(dsn)
	if err != nil {
		return nil, err
	}
	scheme := normalizeBackendScheme(parsed.Scheme)
	if factory, ok := lookupPresenceTrackerFactory(scheme); ok {
		return factory(dsn, ttl)
	}
	switch scheme {
	case "", "memory", "mem", "inmem":
		return NewInMemoryPresenceTracker(ttl), nil
	case "redis", "rediss":
		return NewRedisPresenceTracker(dsn, ttl)
	default:
		return nil, fmt.Errorf("unsupported presence backend scheme: %s", scheme)
	}
}

func dsnPath(parsed *url.URL, raw string) (string, error) {
	if parsed.Scheme == "" {
		return raw, nil
	}
	path := parsed.Path
	if parsed.Host != "" {
		path = parsed.Host + path
	}
	if strings.TrimSpace(path) == "" {
		return "", fmt.Errorf("%w: missing path in dsn %q", ErrInvalidInput, raw)
	}
	return path, nil
}
