package storage

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite" // Pure Go SQLite driver (no CGO required)
)

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	BaseStore
}

const schemaVersion = 1

// NewSQLiteStore opens (creating if necessary) a SQLite-backed store.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	if dbPath == "" {
		dbPath = "cora-registry.db"
	}
	// Ensure directory exists (unless in-memory)
	if dbPath != ":memory:" {
		dir := filepath.Dir(dbPath)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create db directory: %w", err)
		}
	}

	connStr := dbPath
	if dbPath != ":memory:" {
		connStr += "?_journal_mode=WAL&_synchronous=NORMAL&_foreign_keys=ON"
	} else {
		connStr += "?_foreign_keys=ON"
	}

	db, err := sql.Open("sqlite", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	store := &SQLiteStore{
		BaseStore: BaseStore{db: db, dialect: &SQLiteDialect{}, dbPath: dbPath},
	}

	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to init schema: %w", err)
	}

	logger.Info().Str("path", dbPath).Msg("opened sqlite database")
	return store, nil
}

// Path returns the database file path.
func (s *SQLiteStore) Path() string { return s.dbPath }

func (s *SQLiteStore) initSchema() error {
	schema := `
	-- Schema version tracking
	CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY,
		applied_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	);

	-- System-tier module definitions; rows are deprecated, never deleted.
	CREATE TABLE IF NOT EXISTS module_definitions (
		name TEXT PRIMARY KEY,
		display_name TEXT NOT NULL DEFAULT '',
		module_type TEXT NOT NULL DEFAULT 'functional',
		version TEXT,
		is_installed INTEGER NOT NULL DEFAULT 1,
		is_enabled_by_system INTEGER NOT NULL DEFAULT 1,
		base_config TEXT NOT NULL DEFAULT '{}',
		base_feature_flags TEXT NOT NULL DEFAULT '{}',
		dependencies TEXT,
		deprecated INTEGER NOT NULL DEFAULT 0,
		updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		updated_by TEXT
	);

	-- Org-tier overrides. Absence of a row means full inheritance; a NULL
	-- enabled_override means the row only shadows config/flags.
	CREATE TABLE IF NOT EXISTS org_module_overrides (
		org_id TEXT NOT NULL,
		module_name TEXT NOT NULL,
		enabled_override TEXT,
		config_overrides TEXT NOT NULL DEFAULT '{}',
		feature_flag_overrides TEXT NOT NULL DEFAULT '{}',
		updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		updated_by TEXT,
		PRIMARY KEY (org_id, module_name)
	);

	CREATE TABLE IF NOT EXISTS workspace_module_overrides (
		workspace_id TEXT NOT NULL,
		module_name TEXT NOT NULL,
		enabled_override TEXT,
		config_overrides TEXT NOT NULL DEFAULT '{}',
		feature_flag_overrides TEXT NOT NULL DEFAULT '{}',
		updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		updated_by TEXT,
		PRIMARY KEY (workspace_id, module_name)
	);

	CREATE TABLE IF NOT EXISTS organizations (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		slug TEXT,
		description TEXT,
		created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS workspaces (
		id TEXT PRIMARY KEY,
		org_id TEXT NOT NULL,
		name TEXT NOT NULL,
		slug TEXT,
		description TEXT,
		created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		FOREIGN KEY(org_id) REFERENCES organizations(id) ON DELETE CASCADE
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
		created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		last_login_at DATETIME
	);

	CREATE TABLE IF NOT EXISTS sessions (
		token TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		expires_at DATETIME NOT NULL,
		FOREIGN KEY(user_id) REFERENCES users(id) ON DELETE CASCADE
	);

	CREATE INDEX IF NOT EXISTS idx_sessions_expires_at ON sessions(expires_at);

	CREATE TABLE IF NOT EXISTS audit_log (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		timestamp DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
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
		`INSERT INTO schema_version (version) VALUES (?) ON CONFLICT(version) DO NOTHING`,
		schemaVersion)
	return err
}
