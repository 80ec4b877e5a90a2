// Package config loads fleetcore's process-wide configuration once at
// startup into an immutable value passed explicitly to components. There is
// no package-level mutable state: callers hold the returned *Config and pass
// it down.
package config

import (
	"fmt"

	"github.com/caarlos0/env/v11"
	"github.com/go-playground/validator/v10"
)

// Config holds all process configuration, loaded from environment variables
// and validated before use. Absence of a required key fails initialization.
type Config struct {
	// Identity
	Region    string `env:"REGION,required" validate:"required"`
	ProjectID string `env:"PROJECT_ID,required" validate:"required"`
	WorkerID  string `env:"WORKER_ID" envDefault:""`

	// Rule / relational store
	CockroachDBURL string `env:"COCKROACH_DB_URL,required" validate:"required"`

	// Shared liveness store
	RedisURL string `env:"REDIS_URL" envDefault:"redis://localhost:6379/0"`

	// Provider credentials. Only the providers actually configured in the
	// rule set need a key present; a provider whose key is empty gets no
	// adapter, so rules naming it fail each reconcile tick with
	// UnknownProviderError rather than failing process start.
	VultrAPIKey   string `env:"VULTR_API_KEY"`
	HetznerAPIKey string `env:"HETZNER_API_KEY"`
	AWSRegion     string `env:"AWS_REGION" envDefault:"us-east-1"`

	// HTTP/RPC surface
	ListenHost string `env:"LISTEN_HOST" envDefault:"0.0.0.0"`
	ListenPort int    `env:"LISTEN_PORT" envDefault:"8080" validate:"min=1,max=65535"`

	// Read-only mirror of the API surface for untrusted/local-only
	// monitoring access (GET/HEAD/OPTIONS only). 0 disables it.
	ReadOnlyListenPort int `env:"READONLY_LISTEN_PORT" envDefault:"0" validate:"min=0,max=65535"`

	// Logging
	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"json"`

	// Container Supervisor
	ContainerdSocket  string `env:"CONTAINERD_SOCKET" envDefault:"/run/containerd/containerd.sock"`
	HealerCachePath   string `env:"HEALER_CACHE_PATH" envDefault:"/var/lib/fleetcore/healer.db"`
	MaxHealAttempts   int    `env:"MAX_HEAL_ATTEMPTS" envDefault:"3" validate:"min=1"`
	RollingPauseMs    int    `env:"ROLLING_PAUSE_MS" envDefault:"10000" validate:"min=0"`
	HealingRingLength int    `env:"HEALING_RING_LENGTH" envDefault:"1024" validate:"min=1"`

	// Fleet Reconciler
	ReconcileIntervalMs int `env:"RECONCILE_INTERVAL_MS" envDefault:"10000" validate:"min=1000"`

	// Optional operator notifications
	SlackBotToken     string `env:"SLACK_BOT_TOKEN"`
	SlackAlertChannel string `env:"SLACK_ALERT_CHANNEL"`
}

// Load reads configuration from environment variables and validates it.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parsing config from env: %w", err)
	}

	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// ListenAddr returns the address the HTTP/RPC surface should listen on.
func (c *Config) ListenAddr() string {
	return fmt.Sprintf("%s:%d", c.ListenHost, c.ListenPort)
}

// ReadOnlyListenAddr returns the address the read-only API mirror should
// listen on, and whether it's enabled at all.
func (c *Config) ReadOnlyListenAddr() (string, bool) {
	if c.ReadOnlyListenPort == 0 {
		return "", false
	}
	return fmt.Sprintf("%s:%d", c.ListenHost, c.ReadOnlyListenPort), true
}

// SlackEnabled reports whether operator Slack notifications are configured.
func (c *Config) SlackEnabled() bool {
	return c.SlackBotToken != "" && c.SlackAlertChannel != ""
}
