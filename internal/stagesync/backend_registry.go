package stagesync

import (
	"strings"
	"sync"
	"time"
)

type StateBackendFactory func(dsn string) (StateBackend, error)
type PresenceTrackerFactory func(dsn string, ttl time.Duration) (PresenceTracker, error)

var backendFactoryRegistry = struct {
	mu                sync.RWMutex
	stateFactories    map[string]StateBackendFactory
	presenceFactories map[string]PresenceTrackerFactory
}{
	stateFactories:    map[string]StateBackendFactory{},
	presenceFactories: map[string]PresenceTrackerFactory{},
}

// RegisterStateBackendFactory installs a custom DSN scheme. Built-in
// schemes stay resolvable; a registered factory takes precedence.
func RegisterStateBackendFactory(scheme string, factory StateBackendFactory) {
	scheme = normalizeBackendScheme(scheme)
	if scheme == "" || factory == nil {
		return
	}
	backendFactoryRegistry.mu.Lock()
	defer backendFactoryRegistry.mu.Unlock()
	backendFactoryRegistry.stateFactories[scheme] = factory
}

func RegisterPresenceTrackerFactory(scheme string, factory PresenceTrackerFactory) {
	scheme = normalizeBackendScheme(scheme)
	if scheme == "" || factory == nil {
		return
	}
	backendFactoryRegistry.mu.Lock()
	defer backendFactoryRegistry.mu.Unlock()
	backendFactoryRegistry.presenceFactories[scheme] = factory
}

func lookupStateBackendFactory(scheme string) (StateBackendFactory, bool) {
	scheme = normalizeBackendScheme(scheme)
	backendFactoryRegistry.mu.RLock()
	defer backendFactoryRegistry.mu.RUnlock()
	factory, ok := backendFactoryRegistry.stateFactories[scheme]
	return factory, ok
}

func lookupPresenceTrackerFactory(scheme string) (PresenceTrackerFactory, bool) {
	scheme = normalizeBackendScheme(scheme)
	backendFactoryRegistry.mu.RLock()
	defer backendFactoryRegistry.mu.RUnlock()
	factory, ok := backendFactoryRegistry.presenceFactories[scheme]
	return factory, ok
}

func normalizeBackendScheme(scheme string) string {
	return strings.ToLower(strings.TrimSpace(scheme))
}
