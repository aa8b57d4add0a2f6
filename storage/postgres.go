package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	// Import postgres driver
	_ "github.com/jackc/pgx/v5/stdlib"
)

// PostgresStore implements Store for PostgreSQL.
type PostgresStore struct {
	BaseStore
}

const pgSchemaVersion = 1

// NewPostgresStore opens a PostgreSQL-backed store using the pgx stdlib driver.
func NewPostgresStore(cfg *DatabaseConfig) (*PostgresStore, error) {
	if cfg == nil {
		return nil, fmt.Errorf("database config required")
	}

	dsn := cfg.BuildDSN()
	if dsn == "" {
		return nil, fmt.Errorf("invalid database configuration: could not build DSN")
	}

	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres connection: %w", err)
	}

	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetimeSecs > 0 {
		db.SetConnMaxLifetime(time.Duration(cfg.ConnMaxLifetimeSecs) * time.Second)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping postgres: %w", err)
	}

	store := &PostgresStore{
		BaseStore: BaseStore{db: db, dialect: &PostgresDialect{}},
	}

	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize postgres schema: %w", err)
	}

	logger.Info().Str("host", cfg.Host).Str("database", cfg.Name).Msg("opened postgres database")
	return store, nil
}

// Path returns an empty string since PostgreSQL doesn't use file paths.
func (s *PostgresStore) Path() string { return "" }

func (s *PostgresStore) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY,
		applied_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS module_definitions (
		name TEXT PRIMARY KEY,
		display_name TEXT NOT NULL DEFAULT '',
		module_type TEXT NOT NULL DEFAULT 'functional',
		version TEXT,
		is_installed BOOLEAN NOT NULL DEFAULT TRUE,
		is_enabled_by_system BOOLEAN NOT NULL DEFAULT TRUE,
		base_config TEXT NOT NULL DEFAULT '{}',
		base_feature_flags TEXT NOT NULL DEFAULT '{}',
		dependencies TEXT,
		deprecated BOOLEAN NOT NULL DEFAULT FALSE,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
		updated_by TEXT
	);

	CREATE TABLE IF NOT EXISTS org_module_overrides (
		org_id TEXT NOT NULL,
		module_name TEXT NOT NULL,
		enabled_override TEXT,
		config_overrides TEXT NOT NULL DEFAULT '{}',
		feature_flag_overrides TEXT NOT NULL DEFAULT '{}',
		updated_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
		updated_by TEXT,
		PRIMARY KEY (org_id, module_name)
	);

	CREATE TABLE IF NOT EXISTS workspace_module_overrides (
		workspace_id TEXT NOT NULL,
		module_name TEXT NOT NULL,
		enabled_override TEXT,
		config_overrides TEXT NOT NULL DEFAULT '{}',
		feature_flag_overrides TEXT NOT NULL DEFAULT '{}',
		updated_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
		updated_by TEXT,
		PRIMARY KEY (workspace_id, module_name)
	);

	CREATE TABLE IF NOT EXISTS organizations (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		slug TEXT,
		description TEXT,
		created_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS workspaces (
		id TEXT PRIMARY KEY,
		org_id TEXT NOT NULL REFERENCES organizations(id) ON DELETE CASCADE,
		name TEXT NOT NULL,
		slug TEXT,
		description TEXT,
		created_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_workspaces_org_id ON workspaces(org_id);

	CREATE TABLE IF NOT EXISTS users (
		id TEXT PRIMARY KEY,
		email TEXT NOT NULL UNIQUE,
		name TEXT,
		role TEXT NOT NULL DEFAULT 'viewer',
		org_ids TEXT,
		workspace_ids TEXT,
		password_hash TEXT,
		created_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
		last_login_at TIMESTAMPTZ
	);

	CREATE TABLE IF NOT EXISTS sessions (
		token TEXT PRIMARY KEY,
		user_id TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
		created_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
		expires_at TIMESTAMPTZ NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_sessions_expires_at ON sessions(expires_at);

	CREATE TABLE IF NOT EXISTS audit_log (
		id BIGSERIAL PRIMARY KEY,
		timestamp TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
		actor TEXT,
		action TEXT NOT NULL,
		target_type TEXT,
		target_id TEXT,
		org_id TEXT,
		workspace_id TEXT,
		details TEXT,
		metadata TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_audit_log_timestamp ON audit_log(timestamp);
	`

	if _, err := s.db.Exec(schema); err != nil {
		return err
	}

	_, err := s.db.Exec(
		`INSERT INTO schema_version (version) VALUES ($1) ON CONFLICT (version) DO NOTHING`,
		pgSchemaVersion)
	if err != nil {
		return err
	}

	logger.Info().Int("schema_version", pgSchemaVersion).Msg("postgres schema initialized")
	return nil
}
