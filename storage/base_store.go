package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// BaseStore provides the shared database operations for SQLite and PostgreSQL.
// Queries are written with SQLite-style ? placeholders and converted at
// runtime when the dialect is Postgres.
type BaseStore struct {
	db       *sql.DB
	dialect  Dialect
	dbPath   string
	notifier Notifier
}

// NewBaseStore creates a BaseStore over an open connection.
func NewBaseStore(db *sql.DB, dialect Dialect, dbPath string) *BaseStore {
	return &BaseStore{db: db, dialect: dialect, dbPath: dbPath}
}

// DB returns the underlying database connection.
func (s *BaseStore) DB() *sql.DB { return s.db }

// Dialect returns the SQL dialect in use.
func (s *BaseStore) Dialect() Dialect { return s.dialect }

// SetNotifier installs the invalidation observer for override writes.
func (s *BaseStore) SetNotifier(n Notifier) { s.notifier = n }

// Close closes the database connection.
func (s *BaseStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

func (s *BaseStore) query(q string) string {
	if s.dialect.Name() == "postgres" {
		return ConvertPlaceholders(q)
	}
	return q
}

func (s *BaseStore) execContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return s.db.ExecContext(ctx, s.query(query), args...)
}

func (s *BaseStore) queryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return s.db.QueryContext(ctx, s.query(query), args...)
}

func (s *BaseStore) queryRowContext(ctx context.Context, query string, args ...any) *sql.Row {
	return s.db.QueryRowContext(ctx, s.query(query), args...)
}

func (s *BaseStore) notify(tier Tier, moduleName, orgID, workspaceID string) {
	if s.notifier != nil {
		s.notifier.ModuleOverrideChanged(tier, moduleName, orgID, workspaceID)
	}
}

// ============================================================================
// Module definitions (system tier)
// ============================================================================

// UpsertModuleDefinition inserts or updates the system-tier record for a
// module. The definition key is the module name; rows are never deleted.
func (s *BaseStore) UpsertModuleDefinition(ctx context.Context, def *ModuleDefinition) error {
	if def == nil || strings.TrimSpace(def.Name) == "" {
		return fmt.Errorf("module definition requires a name")
	}
	baseConfig, err := encodeJSONMap(def.BaseConfig)
	if err != nil {
		return fmt.Errorf("encode base config: %w", err)
	}
	baseFlags, err := encodeJSONValue(def.BaseFeatureFlags)
	if err != nil {
		return fmt.Errorf("encode base feature flags: %w", err)
	}
	deps, err := encodeJSONValue(def.Dependencies)
	if err != nil {
		return fmt.Errorf("encode dependencies: %w", err)
	}

	query := `
		INSERT INTO module_definitions (
			name, display_name, module_type, version, is_installed,
			is_enabled_by_system, base_config, base_feature_flags,
			dependencies, deprecated, updated_at, updated_by
		)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP, ?)
		ON CONFLICT(name) DO UPDATE SET
			display_name = excluded.display_name,
			module_type = excluded.module_type,
			version = excluded.version,
			is_installed = excluded.is_installed,
			is_enabled_by_system = excluded.is_enabled_by_system,
			base_config = excluded.base_config,
			base_feature_flags = excluded.base_feature_flags,
			dependencies = excluded.dependencies,
			deprecated = excluded.deprecated,
			updated_at = CURRENT_TIMESTAMP,
			updated_by = excluded.updated_by
	`
	_, err = s.execContext(ctx, query,
		def.Name, def.DisplayName, string(def.ModuleType), def.Version,
		def.IsInstalled, def.IsEnabledBySystem, baseConfig, baseFlags,
		deps, def.Deprecated, def.UpdatedBy)
	if err != nil {
		return fmt.Errorf("upsert module definition %s: %w", def.Name, err)
	}
	s.notify(TierSystem, def.Name, "", "")
	return nil
}

// GetModuleDefinition returns the definition or ErrNotFound.
func (s *BaseStore) GetModuleDefinition(ctx context.Context, name string) (*ModuleDefinition, error) {
	query := `
		SELECT name, display_name, module_type, version, is_installed,
		       is_enabled_by_system, base_config, base_feature_flags,
		       dependencies, deprecated, updated_at, updated_by
		FROM module_definitions
		WHERE name = ?
	`
	def, err := scanModuleDefinition(s.queryRowContext(ctx, query, name))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("module definition %s: %w", name, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get module definition %s: %w", name, err)
	}
	return def, nil
}

// ListModuleDefinitions returns every definition ordered by name.
func (s *BaseStore) ListModuleDefinitions(ctx context.Context) ([]*ModuleDefinition, error) {
	query := `
		SELECT name, display_name, module_type, version, is_installed,
		       is_enabled_by_system, base_config, base_feature_flags,
		       dependencies, deprecated, updated_at, updated_by
		FROM module_definitions
		ORDER BY name
	`
	rows, err := s.queryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list module definitions: %w", err)
	}
	defer rows.Close()

	var defs []*ModuleDefinition
	for rows.Next() {
		def, err := scanModuleDefinition(rows)
		if err != nil {
			return nil, fmt.Errorf("scan module definition: %w", err)
		}
		defs = append(defs, def)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list module definitions: %w", err)
	}
	return defs, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanModuleDefinition(row rowScanner) (*ModuleDefinition, error) {
	var def ModuleDefinition
	var moduleType string
	var version, updatedBy sql.NullString
	var baseConfig, baseFlags, deps sql.NullString
	var updatedAt sql.NullTime

	err := row.Scan(&def.Name, &def.DisplayName, &moduleType, &version,
		&def.IsInstalled, &def.IsEnabledBySystem, &baseConfig, &baseFlags,
		&deps, &def.Deprecated, &updatedAt, &updatedBy)
	if err != nil {
		return nil, err
	}
	def.ModuleType = ModuleType(moduleType)
	def.Version = version.String
	def.UpdatedBy = updatedBy.String
	if updatedAt.Valid {
		def.UpdatedAt = updatedAt.Time
	}
	if def.BaseConfig, err = decodeJSONMap(baseConfig); err != nil {
		return nil, fmt.Errorf("decode base config for %s: %w", def.Name, err)
	}
	if err = decodeJSONValue(baseFlags, &def.BaseFeatureFlags); err != nil {
		return nil, fmt.Errorf("decode base feature flags for %s: %w", def.Name, err)
	}
	if def.BaseFeatureFlags == nil {
		def.BaseFeatureFlags = map[string]bool{}
	}
	if err = decodeJSONValue(deps, &def.Dependencies); err != nil {
		return nil, fmt.Errorf("decode dependencies for %s: %w", def.Name, err)
	}
	return &def, nil
}

// ============================================================================
// Org-tier overrides
// ============================================================================

// GetOrgOverride returns the override row, or (nil, nil) when absent.
// Absence encodes inheritance and is not an error.
func (s *BaseStore) GetOrgOverride(ctx context.Context, orgID, moduleName string) (*OrgModuleOverride, error) {
	query := `
		SELECT org_id, module_name, enabled_override, config_overrides,
		       feature_flag_overrides, updated_at, updated_by
		FROM org_module_overrides
		WHERE org_id = ? AND module_name = ?
	`
	ov, err := scanOrgOverride(s.queryRowContext(ctx, query, orgID, moduleName))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get org override %s/%s: %w", orgID, moduleName, err)
	}
	return ov, nil
}

// ListOrgOverrides returns every override row for an org.
func (s *BaseStore) ListOrgOverrides(ctx context.Context, orgID string) ([]*OrgModuleOverride, error) {
	query := `
		SELECT org_id, module_name, enabled_override, config_overrides,
		       feature_flag_overrides, updated_at, updated_by
		FROM org_module_overrides
		WHERE org_id = ?
		ORDER BY module_name
	`
	rows, err := s.queryContext(ctx, query, orgID)
	if err != nil {
		return nil, fmt.Errorf("list org overrides for %s: %w", orgID, err)
	}
	defer rows.Close()

	var out []*OrgModuleOverride
	for rows.Next() {
		ov, err := scanOrgOverride(rows)
		if err != nil {
			return nil, fmt.Errorf("scan org override: %w", err)
		}
		out = append(out, ov)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list org overrides for %s: %w", orgID, err)
	}
	return out, nil
}

// UpsertOrgOverride writes the override row keyed by (org_id, module_name).
func (s *BaseStore) UpsertOrgOverride(ctx context.Context, ov *OrgModuleOverride) error {
	if ov == nil || ov.OrgID == "" || ov.ModuleName == "" {
		return fmt.Errorf("org override requires org id and module name")
	}
	config, err := encodeJSONMap(ov.ConfigOverrides)
	if err != nil {
		return fmt.Errorf("encode config overrides: %w", err)
	}
	flags, err := encodeJSONValue(ov.FeatureFlagOverrides)
	if err != nil {
		return fmt.Errorf("encode feature flag overrides: %w", err)
	}

	query := `
		INSERT INTO org_module_overrides (
			org_id, module_name, enabled_override, config_overrides,
			feature_flag_overrides, updated_at, updated_by
		)
		VALUES (?, ?, ?, ?, ?, CURRENT_TIMESTAMP, ?)
		ON CONFLICT(org_id, module_name) DO UPDATE SET
			enabled_override = excluded.enabled_override,
			config_overrides = excluded.config_overrides,
			feature_flag_overrides = excluded.feature_flag_overrides,
			updated_at = CURRENT_TIMESTAMP,
			updated_by = excluded.updated_by
	`
	_, err = s.execContext(ctx, query,
		ov.OrgID, ov.ModuleName, enableStateValue(ov.Enabled), config, flags, ov.UpdatedBy)
	if err != nil {
		return fmt.Errorf("upsert org override %s/%s: %w", ov.OrgID, ov.ModuleName, err)
	}
	s.notify(TierOrg, ov.ModuleName, ov.OrgID, "")
	return nil
}

// DeleteOrgOverride removes the row, returning the module to full inheritance.
func (s *BaseStore) DeleteOrgOverride(ctx context.Context, orgID, moduleName string) error {
	query := `DELETE FROM org_module_overrides WHERE org_id = ? AND module_name = ?`
	if _, err := s.execContext(ctx, query, orgID, moduleName); err != nil {
		return fmt.Errorf("delete org override %s/%s: %w", orgID, moduleName, err)
	}
	s.notify(TierOrg, moduleName, orgID, "")
	return nil
}

func scanOrgOverride(row rowScanner) (*OrgModuleOverride, error) {
	var ov OrgModuleOverride
	var enabled, config, flags, updatedBy sql.NullString
	var updatedAt sql.NullTime

	err := row.Scan(&ov.OrgID, &ov.ModuleName, &enabled, &config, &flags, &updatedAt, &updatedBy)
	if err != nil {
		return nil, err
	}
	if ov.Enabled, err = ParseEnableState(enabled.String); err != nil {
		return nil, err
	}
	if ov.ConfigOverrides, err = decodeJSONMap(config); err != nil {
		return nil, err
	}
	if err = decodeJSONValue(flags, &ov.FeatureFlagOverrides); err != nil {
		return nil, err
	}
	if ov.FeatureFlagOverrides == nil {
		ov.FeatureFlagOverrides = map[string]bool{}
	}
	ov.UpdatedBy = updatedBy.String
	if updatedAt.Valid {
		ov.UpdatedAt = updatedAt.Time
	}
	return &ov, nil
}

// ============================================================================
// Workspace-tier overrides
// ============================================================================

// GetWorkspaceOverride returns the override row, or (nil, nil) when absent.
func (s *BaseStore) GetWorkspaceOverride(ctx context.Context, workspaceID, moduleName string) (*WorkspaceModuleOverride, error) {
	query := `
		SELECT workspace_id, module_name, enabled_override, config_overrides,
		       feature_flag_overrides, updated_at, updated_by
		FROM workspace_module_overrides
		WHERE workspace_id = ? AND module_name = ?
	`
	ov, err := scanWorkspaceOverride(s.queryRowContext(ctx, query, workspaceID, moduleName))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get workspace override %s/%s: %w", workspaceID, moduleName, err)
	}
	return ov, nil
}

// ListWorkspaceOverrides returns every override row for a workspace.
func (s *BaseStore) ListWorkspaceOverrides(ctx context.Context, workspaceID string) ([]*WorkspaceModuleOverride, error) {
	query := `
		SELECT workspace_id, module_name, enabled_override, config_overrides,
		       feature_flag_overrides, updated_at, updated_by
		FROM workspace_module_overrides
		WHERE workspace_id = ?
		ORDER BY module_name
	`
	rows, err := s.queryContext(ctx, query, workspaceID)
	if err != nil {
		return nil, fmt.Errorf("list workspace overrides for %s: %w", workspaceID, err)
	}
	defer rows.Close()

	var out []*WorkspaceModuleOverride
	for rows.Next() {
		ov, err := scanWorkspaceOverride(rows)
		if err != nil {
			return nil, fmt.Errorf("scan workspace override: %w", err)
		}
		out = append(out, ov)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list workspace overrides for %s: %w", workspaceID, err)
	}
	return out, nil
}

// UpsertWorkspaceOverride writes the row keyed by (workspace_id, module_name).
func (s *BaseStore) UpsertWorkspaceOverride(ctx context.Context, ov *WorkspaceModuleOverride) error {
	if ov == nil || ov.WorkspaceID == "" || ov.ModuleName == "" {
		return fmt.Errorf("workspace override requires workspace id and module name")
	}
	config, err := encodeJSONMap(ov.ConfigOverrides)
	if err != nil {
		return fmt.Errorf("encode config overrides: %w", err)
	}
	flags, err := encodeJSONValue(ov.FeatureFlagOverrides)
	if err != nil {
		return fmt.Errorf("encode feature flag overrides: %w", err)
	}

	query := `
		INSERT INTO workspace_module_overrides (
			workspace_id, module_name, enabled_override, config_overrides,
			feature_flag_overrides, updated_at, updated_by
		)
		VALUES (?, ?, ?, ?, ?, CURRENT_TIMESTAMP, ?)
		ON CONFLICT(workspace_id, module_name) DO UPDATE SET
			enabled_override = excluded.enabled_override,
			config_overrides = excluded.config_overrides,
			feature_flag_overrides = excluded.feature_flag_overrides,
			updated_at = CURRENT_TIMESTAMP,
			updated_by = excluded.updated_by
	`
	_, err = s.execContext(ctx, query,
		ov.WorkspaceID, ov.ModuleName, enableStateValue(ov.Enabled), config, flags, ov.UpdatedBy)
	if err != nil {
		return fmt.Errorf("upsert workspace override %s/%s: %w", ov.WorkspaceID, ov.ModuleName, err)
	}
	s.notify(TierWorkspace, ov.ModuleName, "", ov.WorkspaceID)
	return nil
}

// DeleteWorkspaceOverride removes the row.
func (s *BaseStore) DeleteWorkspaceOverride(ctx context.Context, workspaceID, moduleName string) error {
	query := `DELETE FROM workspace_module_overrides WHERE workspace_id = ? AND module_name = ?`
	if _, err := s.execContext(ctx, query, workspaceID, moduleName); err != nil {
		return fmt.Errorf("delete workspace override %s/%s: %w", workspaceID, moduleName, err)
	}
	s.notify(TierWorkspace, moduleName, "", workspaceID)
	return nil
}

func scanWorkspaceOverride(row rowScanner) (*WorkspaceModuleOverride, error) {
	var ov WorkspaceModuleOverride
	var enabled, config, flags, updatedBy sql.NullString
	var updatedAt sql.NullTime

	err := row.Scan(&ov.WorkspaceID, &ov.ModuleName, &enabled, &config, &flags, &updatedAt, &updatedBy)
	if err != nil {
		return nil, err
	}
	if ov.Enabled, err = ParseEnableState(enabled.String); err != nil {
		return nil, err
	}
	if ov.ConfigOverrides, err = decodeJSONMap(config); err != nil {
		return nil, err
	}
	if err = decodeJSONValue(flags, &ov.FeatureFlagOverrides); err != nil {
		return nil, err
	}
	if ov.FeatureFlagOverrides == nil {
		ov.FeatureFlagOverrides = map[string]bool{}
	}
	ov.UpdatedBy = updatedBy.String
	if updatedAt.Valid {
		ov.UpdatedAt = updatedAt.Time
	}
	return &ov, nil
}

// ============================================================================
// JSON / enum column helpers
// ============================================================================

// enableStateValue maps Inherit to NULL so the stored row never carries an
// explicit inherit marker.
func enableStateValue(e EnableState) any {
	if e == EnableInherit {
		return nil
	}
	return string(e)
}

func encodeJSONMap(m map[string]any) (string, error) {
	if m == nil {
		m = map[string]any{}
	}
	data, err := json.Marshal(m)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func decodeJSONMap(col sql.NullString) (map[string]any, error) {
	if !col.Valid || strings.TrimSpace(col.String) == "" {
		return map[string]any{}, nil
	}
	var out map[string]any
	if err := json.Unmarshal([]byte(col.String), &out); err != nil {
		return nil, err
	}
	if out == nil {
		out = map[string]any{}
	}
	return out, nil
}

func encodeJSONValue(v any) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func decodeJSONValue(col sql.NullString, dst any) error {
	if !col.Valid || strings.TrimSpace(col.String) == "" {
		return nil
	}
	return json.Unmarshal([]byte(col.String), dst)
}

// timeOrNil converts a zero time to NULL for nullable timestamp columns.
func timeOrNil(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t.UTC()
}
