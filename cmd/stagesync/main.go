package main

import (
	"log"
	"net/http"

	"github.com/quorumdesk/stagesync/internal/config"
	"github.com/quorumdesk/stagesync/internal/httpapi"
	"github.com/quorumdesk/stagesync/internal/stagesync"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	backend, err := stagesync.BuildStateBackendFromDSN(cfg.StateDSN)
	if err != nil {
		log.Fatalf("failed to initialize state backend: %v", err)
	}
	presence, err := stagesync.BuildPresenceTrackerFromDSN(cfg.PresenceDSN, cfg.PresenceTTL)
	if err != nil {
		log.Fatalf("failed to initialize presence tracker: %v", err)
	}

	engine := stagesync.NewEngineWithOptions(backend, stagesync.EngineOptions{
		StoreTimeout: cfg.StoreTimeout,
	})
	server := httpapi.NewServerWithConfig(engine, presence, httpapi.ServerConfig{
		RateLimitMax:    cfg.RateLimitMax,
		RateLimitWindow: cfg.RateLimitWindow,
		MaxBodyBytes:    cfg.MaxBodyBytes,
	})

	log.Printf("stagesync listening on %s", cfg.Addr)
	if err := http.ListenAndServe(cfg.Addr, server); err != nil {
		log.Fatalf("server failed: %v", err)
	}
}
