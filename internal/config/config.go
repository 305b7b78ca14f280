package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config is the process configuration, loaded from environment variables.
type Config struct {
	Addr            string        `env:"STAGESYNC_ADDR" envDefault:":8080"`
	StateDSN        string        `env:"STAGESYNC_STATE_DSN" envDefault:"memory://"`
	PresenceDSN     string        `env:"STAGESYNC_PRESENCE_DSN" envDefault:"memory://"`
	PresenceTTL     time.Duration `env:"STAGESYNC_PRESENCE_TTL" envDefault:"30s"`
	StoreTimeout    time.Duration `env:"STAGESYNC_STORE_TIMEOUT" envDefault:"5s"`
	RateLimitMax    int           `env:"STAGESYNC_RATE_LIMIT_MAX" envDefault:"0"`
	RateLimitWindow time.Duration `env:"STAGESYNC_RATE_LIMIT_WINDOW" envDefault:"1m"`
	MaxBodyBytes    int64         `env:"STAGESYNC_MAX_BODY_BYTES" envDefault:"1048576"`
}

func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	return cfg, nil
}
