package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config holds process-level configuration. Per-shop business rules live in
// the document store, not here.
type Config struct {
	Port     string `env:"PORT" envDefault:"8080"`
	MongoURI string `env:"MONGO_URI" envDefault:"mongodb://localhost:27017"`
	MongoDB  string `env:"MONGO_DB" envDefault:"game_rewards"`

	// Commerce platform Admin API
	CommerceAPIVersion string        `env:"COMMERCE_API_VERSION" envDefault:"2024-01"`
	CommerceTimeout    time.Duration `env:"COMMERCE_TIMEOUT" envDefault:"10s"`
	IssuerMaxRetries   uint64        `env:"ISSUER_MAX_RETRIES" envDefault:"3"`

	// Webhook signature verification
	WebhookSecret string `env:"WEBHOOK_SECRET,required"`

	// Abandoned-session bookkeeping
	SessionTTL    time.Duration `env:"SESSION_TTL" envDefault:"30m"`
	SweepInterval time.Duration `env:"SWEEP_INTERVAL" envDefault:"5m"`
}

func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return cfg, nil
}
