package storage

import "fmt"

// NewStore creates a Store implementation from the database configuration.
// SQLite (the default) uses Path; PostgreSQL uses DSN or the host/port/user
// connection fields.
func NewStore(cfg *DatabaseConfig) (Store, error) {
	if cfg == nil {
		cfg = &DatabaseConfig{}
	}

	switch driver := cfg.EffectiveDriver(); driver {
	case "sqlite", "sqlite3", "modernc", "modernc-sqlite":
		path := cfg.Path
		if path == "" {
			path = cfg.DSN
		}
		return NewSQLiteStore(path)

	case "postgres", "postgresql":
		return NewPostgresStore(cfg)

	default:
		return nil, fmt.Errorf("unsupported database driver: %q (supported: sqlite, postgres)", driver)
	}
}
