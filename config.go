package main

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/caarlos0/env/v11"

	"github.com/bodhix-ai/cora-registry/storage"
)

// envPrefix namespaces every environment override, e.g. CORA_HTTP_PORT,
// CORA_DB_DSN. Env-set values win over the TOML file.
const envPrefix = "CORA_"

// Config is the full server configuration, loaded from TOML with
// environment-variable overrides.
type Config struct {
	Server   ServerConfig           `toml:"server"`
	Database storage.DatabaseConfig `toml:"database"`
	Auth     AuthConfig             `toml:"auth"`
	Cache    CacheConfig            `toml:"cache"`
	Logging  LoggingConfig          `toml:"logging"`
	Seed     SeedConfig             `toml:"seed"`
}

// ServerConfig holds HTTP listener settings.
type ServerConfig struct {
	BindAddress         string `toml:"bind_address" env:"BIND_ADDRESS"`
	Port                int    `toml:"port" env:"HTTP_PORT"`
	BehindProxy         bool   `toml:"behind_proxy" env:"BEHIND_PROXY"`
	ShutdownTimeoutSecs int    `toml:"shutdown_timeout_secs" env:"SHUTDOWN_TIMEOUT_SECS"`
}

// AuthConfig covers sessions, the bootstrap admin account, the optional OIDC
// provider, and login rate limiting.
type AuthConfig struct {
	SessionTTLHours int    `toml:"session_ttl_hours" env:"SESSION_TTL_HOURS"`
	SecureCookies   bool   `toml:"secure_cookies" env:"SECURE_COOKIES"`
	BootstrapEmail  string `toml:"bootstrap_email" env:"BOOTSTRAP_EMAIL"`
	// BootstrapPassword is only consulted when the users table is empty.
	BootstrapPassword string          `toml:"bootstrap_password" env:"BOOTSTRAP_PASSWORD"`
	OIDC              OIDCConfig      `toml:"oidc"`
	RateLimit         RateLimitConfig `toml:"rate_limit"`
}

// SessionTTL converts the configured hours to a duration, defaulting to 24h.
func (c *AuthConfig) SessionTTL() time.Duration {
	if c.SessionTTLHours <= 0 {
		return 24 * time.Hour
	}
	return time.Duration(c.SessionTTLHours) * time.Hour
}

// OIDCConfig describes a single upstream identity provider. An empty issuer
// disables OIDC login and leaves password login as the only path in.
type OIDCConfig struct {
	Issuer        string   `toml:"issuer" env:"OIDC_ISSUER"`
	ClientID      string   `toml:"client_id" env:"OIDC_CLIENT_ID"`
	ClientSecret  string   `toml:"client_secret" env:"OIDC_CLIENT_SECRET"`
	RedirectURL   string   `toml:"redirect_url" env:"OIDC_REDIRECT_URL"`
	Scopes        []string `toml:"scopes" env:"OIDC_SCOPES"`
	AutoProvision bool     `toml:"auto_provision" env:"OIDC_AUTO_PROVISION"`
	DefaultRole   string   `toml:"default_role" env:"OIDC_DEFAULT_ROLE"`
}

// Enabled reports whether an OIDC provider is configured.
func (c *OIDCConfig) Enabled() bool {
	return strings.TrimSpace(c.Issuer) != "" && strings.TrimSpace(c.ClientID) != ""
}

// RateLimitConfig tunes login attempt throttling.
type RateLimitConfig struct {
	Enabled       bool `toml:"enabled" env:"RATE_LIMIT_ENABLED"`
	MaxAttempts   int  `toml:"max_attempts" env:"RATE_LIMIT_MAX_ATTEMPTS"`
	BlockMinutes  int  `toml:"block_minutes" env:"RATE_LIMIT_BLOCK_MINUTES"`
	WindowMinutes int  `toml:"window_minutes" env:"RATE_LIMIT_WINDOW_MINUTES"`
}

// CacheConfig tunes the resolved-view cache.
type CacheConfig struct {
	TTLSeconds int `toml:"ttl_seconds" env:"CACHE_TTL_SECONDS"`
}

// TTL converts the configured seconds to a duration; zero or negative means
// the registry default.
func (c *CacheConfig) TTL() time.Duration {
	if c.TTLSeconds <= 0 {
		return 0
	}
	return time.Duration(c.TTLSeconds) * time.Second
}

// LoggingConfig selects log level and output format.
type LoggingConfig struct {
	Level  string `toml:"level" env:"LOG_LEVEL"`
	Format string `toml:"format" env:"LOG_FORMAT"` // "json" or "console"
}

// SeedConfig points at the module definition seed file applied at boot.
type SeedConfig struct {
	Path string `toml:"path" env:"SEED_PATH"`
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			BindAddress:         "0.0.0.0",
			Port:                8080,
			ShutdownTimeoutSecs: 20,
		},
		Database: storage.DatabaseConfig{
			Driver: "sqlite",
			Path:   "cora-registry.db",
		},
		Auth: AuthConfig{
			SessionTTLHours: 24,
			BootstrapEmail:  "admin@localhost",
			OIDC: OIDCConfig{
				Scopes:      []string{"openid", "profile", "email"},
				DefaultRole: string(storage.RoleViewer),
			},
			RateLimit: RateLimitConfig{
				Enabled:       true,
				MaxAttempts:   5,
				BlockMinutes:  5,
				WindowMinutes: 2,
			},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// LoadConfig loads configuration from a TOML file (when it exists) and
// applies CORA_* environment overrides on top. The returned slice lists the
// override variables that were present, for startup diagnostics.
func LoadConfig(configPath string) (*Config, []string, error) {
	cfg := DefaultConfig()

	if configPath != "" {
		if _, err := os.Stat(configPath); err == nil {
			if _, err := toml.DecodeFile(configPath, cfg); err != nil {
				return nil, nil, fmt.Errorf("parse %s: %w", configPath, err)
			}
		}
	}

	if err := env.ParseWithOptions(cfg, env.Options{Prefix: envPrefix}); err != nil {
		return nil, nil, fmt.Errorf("apply environment overrides: %w", err)
	}

	return cfg, envOverrides(), nil
}

// envOverrides lists the CORA_* variables present in the environment.
func envOverrides() []string {
	var keys []string
	for _, kv := range os.Environ() {
		if !strings.HasPrefix(kv, envPrefix) {
			continue
		}
		if i := strings.IndexByte(kv, '='); i > 0 {
			keys = append(keys, kv[:i])
		}
	}
	sort.Strings(keys)
	return keys
}

// WriteDefaultConfig writes a starter config file. Fails if the file already
// exists so an installed config is never clobbered.
func WriteDefaultConfig(configPath string) error {
	f, err := os.OpenFile(configPath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return err
	}
	defer f.Close()
	return toml.NewEncoder(f).Encode(DefaultConfig())
}
