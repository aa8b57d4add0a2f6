package storage

import (
	"fmt"
	"strings"
)

// DatabaseConfig selects and parameterizes the storage backend.
// SQLite is the default; PostgreSQL is selected with driver = "postgres".
type DatabaseConfig struct {
	Driver string `toml:"driver" env:"DB_DRIVER"`
	Path   string `toml:"path" env:"DB_PATH"`
	DSN    string `toml:"dsn" env:"DB_DSN"`

	Host     string `toml:"host" env:"DB_HOST"`
	Port     int    `toml:"port" env:"DB_PORT"`
	User     string `toml:"user" env:"DB_USER"`
	Password string `toml:"password" env:"DB_PASSWORD"`
	Name     string `toml:"name" env:"DB_NAME"`
	SSLMode  string `toml:"ssl_mode" env:"DB_SSL_MODE"`

	MaxOpenConns        int `toml:"max_open_conns" env:"DB_MAX_OPEN_CONNS"`
	MaxIdleConns        int `toml:"max_idle_conns" env:"DB_MAX_IDLE_CONNS"`
	ConnMaxLifetimeSecs int `toml:"conn_max_lifetime_secs" env:"DB_CONN_MAX_LIFETIME_SECS"`
}

// EffectiveDriver returns the normalized driver name, defaulting to sqlite.
func (c *DatabaseConfig) EffectiveDriver() string {
	driver := strings.ToLower(strings.TrimSpace(c.Driver))
	if driver == "" {
		return "sqlite"
	}
	return driver
}

// BuildDSN assembles a connection string. An explicit DSN wins; otherwise one
// is built from the host/port/user/name fields (postgres) or Path (sqlite).
func (c *DatabaseConfig) BuildDSN() string {
	if strings.TrimSpace(c.DSN) != "" {
		return c.DSN
	}

	switch c.EffectiveDriver() {
	case "postgres", "postgresql":
		host := c.Host
		if host == "" {
			host = "localhost"
		}
		port := c.Port
		if port == 0 {
			port = 5432
		}
		sslMode := c.SSLMode
		if sslMode == "" {
			sslMode = "prefer"
		}
		parts := []string{
			fmt.Sprintf("host=%s", host),
			fmt.Sprintf("port=%d", port),
			fmt.Sprintf("sslmode=%s", sslMode),
		}
		if c.User != "" {
			parts = append(parts, fmt.Sprintf("user=%s", c.User))
		}
		if c.Password != "" {
			parts = append(parts, fmt.Sprintf("password=%s", c.Password))
		}
		if c.Name != "" {
			parts = append(parts, fmt.Sprintf("dbname=%s", c.Name))
		}
		return strings.Join(parts, " ")
	default:
		return c.Path
	}
}
