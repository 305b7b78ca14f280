package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Addr != ":8080" {
		t.Fatalf("expected default addr :8080, got %q", cfg.Addr)
	}
	if cfg.StateDSN != "memory://" {
		t.Fatalf("expected memory state DSN, got %q", cfg.StateDSN)
	}
	if cfg.PresenceDSN != "memory://" {
		t.Fatalf("expected memory presence DSN, got %q", cfg.PresenceDSN)
	}
	if cfg.PresenceTTL != 30*time.Second {
		t.Fatalf("expected 30s presence TTL, got %s", cfg.PresenceTTL)
	}
	if cfg.StoreTimeout != 5*time.Second {
		t.Fatalf("expected 5s store timeout, got %s", cfg.StoreTimeout)
	}
	if cfg.RateLimitMax != 0 {
		t.Fatalf("expected rate limiting off by default, got %d", cfg.RateLimitMax)
	}
	if cfg.MaxBodyBytes != 1<<20 {
		t.Fatalf("expected 1 MiB body cap, got %d", cfg.MaxBodyBytes)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("STAGESYNC_ADDR", "127.0.0.1:9090")
	t.Setenv("STAGESYNC_STATE_DSN", "postgres://localhost/stagesync")
	t.Setenv("STAGESYNC_PRESENCE_DSN", "redis://localhost:6379/0")
	t.Setenv("STAGESYNC_PRESENCE_TTL", "45s")
	t.Setenv("STAGESYNC_RATE_LIMIT_MAX", "120")
	t.Setenv("STAGESYNC_RATE_LIMIT_WINDOW", "30s")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Addr != "127.0.0.1:9090" {
		t.Fatalf("unexpected addr: %q", cfg.Addr)
	}
	if cfg.StateDSN != "postgres://localhost/stagesync" {
		t.Fatalf("unexpected state DSN: %q", cfg.StateDSN)
	}
	if cfg.PresenceDSN != "redis://localhost:6379/0" {
		t.Fatalf("unexpected presence DSN: %q", cfg.PresenceDSN)
	}
	if cfg.PresenceTTL != 45*time.Second {
		t.Fatalf("unexpected presence TTL: %s", cfg.PresenceTTL)
	}
	if cfg.RateLimitMax != 120 || cfg.RateLimitWindow != 30*time.Second {
		t.Fatalf("unexpected rate limit config: %d per %s", cfg.RateLimitMax, cfg.RateLimitWindow)
	}
}

func TestLoadRejectsMalformedDuration(t *testing.T) {
	t.Setenv("STAGESYNC_PRESENCE_TTL", "soon")
	if _, err := Load(); err == nil {
		t.Fatalf("expected error for malformed duration")
	}
}
