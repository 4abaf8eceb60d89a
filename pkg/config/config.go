// Package config loads the control plane's configuration from
// environment variables, mirroring the options table of the wire
// contract one struct field at a time.
package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config holds all control plane configuration, loaded from the
// environment.
type Config struct {
	// HTTP server
	Host string `env:"THUNDER_HOST" envDefault:"0.0.0.0"`
	Port int    `env:"THUNDER_PORT" envDefault:"8080"`

	// Logging
	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"json"`

	// Metrics
	MetricsPath string `env:"METRICS_PATH" envDefault:"/metrics"`

	// CORS (dashboard clients)
	CORSAllowedOrigins []string `env:"CORS_ALLOWED_ORIGINS" envDefault:"*" envSeparator:","`

	// StateStore (Redis). Empty RedisURL falls back to the in-memory
	// implementation, used for tests and standalone runs.
	RedisURL string `env:"REDIS_URL"`

	// NodeRegistry (C1)
	NodeHeartbeatInterval time.Duration `env:"THUNDER_NODE_HEARTBEAT_INTERVAL" envDefault:"10s"`
	NodeHeartbeatTimeout  time.Duration `env:"THUNDER_NODE_HEARTBEAT_TIMEOUT" envDefault:"60s"`
	NodeHeartbeatGrace    time.Duration `env:"THUNDER_NODE_HEARTBEAT_GRACE" envDefault:"120s"`
	NodeSweepInterval     time.Duration `env:"THUNDER_NODE_SWEEP_INTERVAL" envDefault:"5s"`

	// MatchRegistry (C2)
	MatchRetention      time.Duration `env:"THUNDER_MATCH_RETENTION" envDefault:"1h"`
	MatchSweepInterval  time.Duration `env:"THUNDER_MATCH_SWEEP_INTERVAL" envDefault:"1m"`

	// ModuleCatalog (C3)
	ModuleStorageDir           string        `env:"THUNDER_MODULE_STORAGE_DIR" envDefault:"/var/lib/thunder/modules"`
	MaxConcurrentDistributions int           `env:"THUNDER_MAX_CONCURRENT_DISTRIBUTIONS" envDefault:"4"`
	DistributionRetryBase      time.Duration `env:"THUNDER_DISTRIBUTION_RETRY_BASE" envDefault:"250ms"`
	DistributionRetryMax       time.Duration `env:"THUNDER_DISTRIBUTION_RETRY_MAX" envDefault:"2s"`
	DistributionMaxAttempts    int           `env:"THUNDER_DISTRIBUTION_MAX_ATTEMPTS" envDefault:"3"`

	// EngineNode collaborator HTTP client
	EngineNodeTimeout time.Duration `env:"THUNDER_ENGINE_NODE_TIMEOUT" envDefault:"10s"`

	// MatchCoordinator (C5)
	SchedulerRetries int `env:"THUNDER_SCHEDULER_RETRIES" envDefault:"2"`

	// TokenIssuer (C6)
	MatchTokenTTL          time.Duration `env:"THUNDER_MATCH_TOKEN_TTL" envDefault:"8h"`
	MatchTokenSigningKey   string        `env:"THUNDER_MATCH_TOKEN_SIGNING_KEY"`
	MatchTokenRotationGrace time.Duration `env:"THUNDER_MATCH_TOKEN_ROTATION_GRACE" envDefault:"24h"`

	// ClusterID names this deployment. When MatchTokenSigningKey is
	// unset, the control plane derives and recovers its signing key
	// from this ID instead of minting a fresh one on every restart.
	ClusterID string `env:"THUNDER_CLUSTER_ID" envDefault:"default"`

	// Autoscaler (C7)
	AutoscaleEnabled          bool          `env:"THUNDER_AUTOSCALE_ENABLED" envDefault:"false"`
	AutoscalePollInterval     time.Duration `env:"THUNDER_AUTOSCALE_POLL_INTERVAL" envDefault:"30s"`
	AutoscaleScaleUpThreshold float64       `env:"THUNDER_AUTOSCALE_SCALE_UP_THRESHOLD" envDefault:"0.70"`
	AutoscaleScaleDownThreshold float64     `env:"THUNDER_AUTOSCALE_SCALE_DOWN_THRESHOLD" envDefault:"0.30"`
	AutoscaleCooldown        time.Duration `env:"THUNDER_AUTOSCALE_COOLDOWN" envDefault:"5m"`
	AutoscaleMinNodes        int           `env:"THUNDER_AUTOSCALE_MIN_NODES" envDefault:"1"`
	AutoscaleMaxNodes        int           `env:"THUNDER_AUTOSCALE_MAX_NODES" envDefault:"100"`

	// ProxyRouter (C8)
	ProxyEnabled bool          `env:"THUNDER_PROXY_ENABLED" envDefault:"true"`
	ProxyTimeout time.Duration `env:"THUNDER_PROXY_TIMEOUT" envDefault:"30s"`

	// IdentityService (OIDC bearer scope verification)
	OIDCIssuerURL string `env:"OIDC_ISSUER_URL"`
	OIDCClientID  string `env:"OIDC_CLIENT_ID"`

	// Human login/refresh pass-through (relayed to IdentityService, never minted locally)
	OAuth2TokenURL string `env:"OAUTH2_TOKEN_URL"`

	// Join-token admin bootstrap (optional second factor for node.register)
	JoinTokenRequired bool `env:"THUNDER_JOIN_TOKEN_REQUIRED" envDefault:"false"`
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parsing config from env: %w", err)
	}
	return cfg, nil
}

// ListenAddr returns the address the HTTP server should listen on.
func (c *Config) ListenAddr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
