// Package config provides unified configuration for the connectauth add-on
// server.
//
// Configuration is loaded with a layered approach:
//  1. Built-in defaults
//  2. YAML config file (discovered or explicitly specified)
//  3. Environment variable overrides (CONNECTAUTH_ prefix)
//  4. Backward-compatible env var mapping for legacy variable names
//  5. File reference resolution (_file suffix fields)
//  6. Validation
package config

import (
	"time"

	"github.com/rhuss/connectauth/pkg/storage"
)

// Config holds all configuration for the add-on server.
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Addon         AddonConfig         `yaml:"addon"`
	Storage       StorageConfig       `yaml:"storage"`
	Auth          AuthConfig          `yaml:"auth"`
	OAuth2        OAuth2Config        `yaml:"oauth2"`
	Redis         RedisConfig         `yaml:"redis"`
	Observability ObservabilityConfig `yaml:"observability"`
	Debug         DebugConfig         `yaml:"debug"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port            int           `yaml:"port"`             // default: 3000
	ReadTimeout     time.Duration `yaml:"read_timeout"`     // default: 30s
	WriteTimeout    time.Duration `yaml:"write_timeout"`    // default: 60s
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"` // default: 30s
	MaxBodySize     int64         `yaml:"max_body_size"`    // default: 10 MB
}

// AddonConfig describes this add-on as seen by the host.
type AddonConfig struct {
	Key          string    `yaml:"key"`            // required
	Product      string    `yaml:"product"`        // "jira", "confluence", "bitbucket"
	UserAgent    string    `yaml:"user_agent"`     // default: connectauth/<version>
	LocalBaseURL string    `yaml:"local_base_url"` // default: http://localhost:<port>
	Scopes       []string  `yaml:"scopes"`         // impersonation scopes
	JWT          JWTConfig `yaml:"jwt"`
}

// JWTConfig holds self-asserted token settings.
type JWTConfig struct {
	Validity time.Duration `yaml:"validity"` // default: 3m
}

// StorageConfig holds tenant store settings.
type StorageConfig struct {
	Type     string                   `yaml:"type"`    // "memory" or "postgres", default: "memory"
	Tenants  []storage.ClientSettings `yaml:"tenants"` // seeded at startup
	Postgres PostgresConfig           `yaml:"postgres"`
}

// PostgresConfig holds PostgreSQL-specific settings.
type PostgresConfig struct {
	DSN            string `yaml:"dsn"`
	DSNFile        string `yaml:"dsn_file"`         // _file variant for dsn
	MaxConns       int32  `yaml:"max_conns"`        // default: 25
	MigrateOnStart bool   `yaml:"migrate_on_start"` // default: false
}

// AuthConfig holds inbound authentication settings.
type AuthConfig struct {
	// NoAuth disables token verification. Local development only.
	NoAuth bool `yaml:"no_auth"`

	// VerifyQSH binds inbound tokens to the exact request.
	VerifyQSH bool `yaml:"verify_qsh"`

	// ReplayWindow bounds oauth_timestamp skew and nonce lifetime. Default: 5m.
	ReplayWindow time.Duration `yaml:"replay_window"`

	// Nonce selects the ledger backend: "memory" or "redis". Default: "memory".
	Nonce string `yaml:"nonce"`

	Session   SessionConfig   `yaml:"session"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
}

// SessionConfig holds settings for the signature scheme's session trust.
type SessionConfig struct {
	Store        string        `yaml:"store"`         // "memory" or "redis", default: "memory"
	TrustSession bool          `yaml:"trust_session"` // default: true
	TTL          time.Duration `yaml:"ttl"`           // default: 30m
	CookieName   string        `yaml:"cookie_name"`
	Secure       bool          `yaml:"secure"`
}

// RateLimitConfig holds per-tenant request limits.
type RateLimitConfig struct {
	RequestsPerMinute int            `yaml:"requests_per_minute"` // 0 disables
	Tenants           map[string]int `yaml:"tenants"`             // per client key
}

// OAuth2Config holds user impersonation settings.
type OAuth2Config struct {
	AuthorizationServerURL string        `yaml:"authorization_server_url"`
	Cache                  string        `yaml:"cache"`         // "memory" or "redis", default: "memory"
	RefreshLeeway          time.Duration `yaml:"refresh_leeway"` // default: 30s
	Timeout                time.Duration `yaml:"timeout"`        // default: 30s
}

// RedisConfig holds the connection shared by Redis-backed components.
type RedisConfig struct {
	Addr         string `yaml:"addr"`
	Password     string `yaml:"password"`
	PasswordFile string `yaml:"password_file"` // _file variant for password
	DB           int    `yaml:"db"`
	KeyPrefix    string `yaml:"key_prefix"` // default: "connectauth:"
}

// ObservabilityConfig holds monitoring and instrumentation settings.
type ObservabilityConfig struct {
	Metrics MetricsConfig `yaml:"metrics"`
}

// MetricsConfig holds Prometheus metrics endpoint settings.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"` // default: true
	Path    string `yaml:"path"`    // default: "/metrics"
}

// DebugConfig holds logging settings. Env vars in pkg/debug take precedence.
type DebugConfig struct {
	Categories string `yaml:"categories"`
	Level      string `yaml:"level"`  // default: INFO
	Format     string `yaml:"format"` // "text" or "json"
}

// UsesRedis reports whether any component is configured for Redis.
func (c *Config) UsesRedis() bool {
	return c.Auth.Nonce == "redis" || c.Auth.Session.Store == "redis" || c.OAuth2.Cache == "redis"
}

// Defaults returns a Config with all default values filled in.
func Defaults() Config {
	return Config{
		Server: ServerConfig{
			Port:            3000,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    60 * time.Second,
			ShutdownTimeout: 30 * time.Second,
			MaxBodySize:     10 << 20,
		},
		Addon: AddonConfig{
			JWT: JWTConfig{Validity: 3 * time.Minute},
		},
		Storage: StorageConfig{
			Type: "memory",
			Postgres: PostgresConfig{
				MaxConns: 25,
			},
		},
		Auth: AuthConfig{
			ReplayWindow: 5 * time.Minute,
			Nonce:        "memory",
			Session: SessionConfig{
				Store:        "memory",
				TrustSession: true,
				TTL:          30 * time.Minute,
			},
		},
		OAuth2: OAuth2Config{
			Cache:         "memory",
			RefreshLeeway: 30 * time.Second,
			Timeout:       30 * time.Second,
		},
		Redis: RedisConfig{
			KeyPrefix: "connectauth:",
		},
		Observability: ObservabilityConfig{
			Metrics: MetricsConfig{
				Enabled: true,
				Path:    "/metrics",
			},
		},
	}
}
