package storage

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrNotFound is returned when a required row does not exist. Optional rows
// (org/workspace overrides) are reported as a nil record instead, since their
// absence is meaningful: it encodes inheritance.
var ErrNotFound = errors.New("not found")

// Role identifies the privilege level of a user account.
type Role string

const (
	RoleSystemAdmin    Role = "system_admin"
	RoleOrgAdmin       Role = "org_admin"
	RoleWorkspaceAdmin Role = "workspace_admin"
	RoleViewer         Role = "viewer"
)

// ParseRole normalizes a role string, defaulting to viewer.
func ParseRole(s string) Role {
	switch Role(s) {
	case RoleSystemAdmin, RoleOrgAdmin, RoleWorkspaceAdmin, RoleViewer:
		return Role(s)
	default:
		return RoleViewer
	}
}

// ModuleType distinguishes core platform modules from optional functional ones.
type ModuleType string

const (
	ModuleTypeCore       ModuleType = "core"
	ModuleTypeFunctional ModuleType = "functional"
)

// ParseModuleType validates a module type string, defaulting to functional
// when empty.
func ParseModuleType(s string) (ModuleType, error) {
	switch ModuleType(s) {
	case "":
		return ModuleTypeFunctional, nil
	case ModuleTypeCore, ModuleTypeFunctional:
		return ModuleType(s), nil
	default:
		return "", fmt.Errorf("unknown module type %q", s)
	}
}

// EnableState is the tri-state enablement opinion stored on an override row.
// The zero value is Inherit; a row that holds only config overrides carries
// Inherit, and a missing row is equivalent to Inherit for every field.
type EnableState string

const (
	EnableInherit  EnableState = ""
	EnableEnabled  EnableState = "enabled"
	EnableDisabled EnableState = "disabled"
)

// ParseEnableState maps the wire/database representation onto the enum.
func ParseEnableState(s string) (EnableState, error) {
	switch s {
	case "", "inherit":
		return EnableInherit, nil
	case "enabled":
		return EnableEnabled, nil
	case "disabled":
		return EnableDisabled, nil
	default:
		return EnableInherit, fmt.Errorf("invalid enable state: %q", s)
	}
}

// MarshalJSON renders Inherit explicitly so clients never see a null state.
func (e EnableState) MarshalJSON() ([]byte, error) {
	if e == EnableInherit {
		return []byte(`"inherit"`), nil
	}
	return []byte(`"` + string(e) + `"`), nil
}

// UnmarshalJSON accepts "inherit", "enabled", "disabled", or JSON null.
func (e *EnableState) UnmarshalJSON(data []byte) error {
	s := string(data)
	if s == "null" {
		*e = EnableInherit
		return nil
	}
	if len(s) < 2 || s[0] != '"' || s[len(s)-1] != '"' {
		return fmt.Errorf("invalid enable state: %s", s)
	}
	parsed, err := ParseEnableState(s[1 : len(s)-1])
	if err != nil {
		return err
	}
	*e = parsed
	return nil
}

// ModuleDefinition is the system-tier record for a pluggable module.
// Definitions are seeded at deploy time and toggled by system admins; they are
// never deleted, only marked deprecated.
type ModuleDefinition struct {
	Name              string            `json:"name"`
	DisplayName       string            `json:"display_name"`
	ModuleType        ModuleType        `json:"module_type"`
	Version           string            `json:"version,omitempty"`
	IsInstalled       bool              `json:"is_installed"`
	IsEnabledBySystem bool              `json:"is_enabled_by_system"`
	BaseConfig        map[string]any    `json:"base_config"`
	BaseFeatureFlags  map[string]bool   `json:"base_feature_flags"`
	Dependencies      []string          `json:"dependencies,omitempty"`
	Deprecated        bool              `json:"deprecated,omitempty"`
	UpdatedAt         time.Time         `json:"updated_at"`
	UpdatedBy         string            `json:"updated_by,omitempty"`
}

// OrgModuleOverride shadows a module definition for a single organization.
type OrgModuleOverride struct {
	OrgID                string          `json:"org_id"`
	ModuleName           string          `json:"module_name"`
	Enabled              EnableState     `json:"enabled"`
	ConfigOverrides      map[string]any  `json:"config_overrides"`
	FeatureFlagOverrides map[string]bool `json:"feature_flag_overrides"`
	UpdatedAt            time.Time       `json:"updated_at"`
	UpdatedBy            string          `json:"updated_by,omitempty"`
}

// WorkspaceModuleOverride shadows a module definition (and any org override)
// for a single workspace.
type WorkspaceModuleOverride struct {
	WorkspaceID          string          `json:"workspace_id"`
	ModuleName           string          `json:"module_name"`
	Enabled              EnableState     `json:"enabled"`
	ConfigOverrides      map[string]any  `json:"config_overrides"`
	FeatureFlagOverrides map[string]bool `json:"feature_flag_overrides"`
	UpdatedAt            time.Time       `json:"updated_at"`
	UpdatedBy            string          `json:"updated_by,omitempty"`
}

// Organization is a top-level tenant.
type Organization struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Slug        string    `json:"slug,omitempty"`
	Description string    `json:"description,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// Workspace is a sub-tenant scoped under an organization.
type Workspace struct {
	ID          string    `json:"id"`
	OrgID       string    `json:"org_id"`
	Name        string    `json:"name"`
	Slug        string    `json:"slug,omitempty"`
	Description string    `json:"description,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// User is an admin UI account. OrgIDs/WorkspaceIDs scope non-system roles.
type User struct {
	ID           string    `json:"id"`
	Email        string    `json:"email"`
	Name         string    `json:"name,omitempty"`
	Role         Role      `json:"role"`
	OrgIDs       []string  `json:"org_ids,omitempty"`
	WorkspaceIDs []string  `json:"workspace_ids,omitempty"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
	LastLoginAt  time.Time `json:"last_login_at,omitempty"`
}

// Session is an opaque bearer token tied to a user.
type Session struct {
	Token     string    `json:"-"`
	UserID    string    `json:"user_id"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// AuditEntry records an administrative action against the registry.
type AuditEntry struct {
	ID          int64          `json:"id"`
	Timestamp   time.Time      `json:"timestamp"`
	Actor       string         `json:"actor"`
	Action      string         `json:"action"`
	TargetType  string         `json:"target_type"`
	TargetID    string         `json:"target_id"`
	OrgID       string         `json:"org_id,omitempty"`
	WorkspaceID string         `json:"workspace_id,omitempty"`
	Details     string         `json:"details,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

// Store defines the persistence contract for the module registry.
//
// Lookup semantics: GetModuleDefinition, organizations, workspaces, users and
// sessions return ErrNotFound when missing. GetOrgOverride and
// GetWorkspaceOverride return (nil, nil) when no row exists; absence is the
// Inherit state, not an error. Any other failure is a storage fault and must
// be propagated untouched so callers never mistake an outage for inheritance.
type Store interface {
	// Module definitions (system tier)
	GetModuleDefinition(ctx context.Context, name string) (*ModuleDefinition, error)
	ListModuleDefinitions(ctx context.Context) ([]*ModuleDefinition, error)
	UpsertModuleDefinition(ctx context.Context, def *ModuleDefinition) error

	// Org-tier overrides
	GetOrgOverride(ctx context.Context, orgID, moduleName string) (*OrgModuleOverride, error)
	ListOrgOverrides(ctx context.Context, orgID string) ([]*OrgModuleOverride, error)
	UpsertOrgOverride(ctx context.Context, ov *OrgModuleOverride) error
	DeleteOrgOverride(ctx context.Context, orgID, moduleName string) error

	// Workspace-tier overrides
	GetWorkspaceOverride(ctx context.Context, workspaceID, moduleName string) (*WorkspaceModuleOverride, error)
	ListWorkspaceOverrides(ctx context.Context, workspaceID string) ([]*WorkspaceModuleOverride, error)
	UpsertWorkspaceOverride(ctx context.Context, ov *WorkspaceModuleOverride) error
	DeleteWorkspaceOverride(ctx context.Context, workspaceID, moduleName string) error

	// Tenancy
	CreateOrganization(ctx context.Context, org *Organization) error
	GetOrganization(ctx context.Context, id string) (*Organization, error)
	UpdateOrganization(ctx context.Context, org *Organization) error
	ListOrganizations(ctx context.Context) ([]*Organization, error)
	CreateWorkspace(ctx context.Context, ws *Workspace) error
	GetWorkspace(ctx context.Context, id string) (*Workspace, error)
	UpdateWorkspace(ctx context.Context, ws *Workspace) error
	ListWorkspaces(ctx context.Context, orgID string) ([]*Workspace, error)

	// Users and sessions
	UpsertUser(ctx context.Context, user *User) error
	GetUserByID(ctx context.Context, id string) (*User, error)
	GetUserByEmail(ctx context.Context, email string) (*User, error)
	ListUsers(ctx context.Context) ([]*User, error)
	CreateSession(ctx context.Context, session *Session) error
	GetSession(ctx context.Context, token string) (*Session, error)
	DeleteSession(ctx context.Context, token string) error
	DeleteExpiredSessions(ctx context.Context) (int64, error)

	// Audit
	AppendAudit(ctx context.Context, entry *AuditEntry) error
	ListAudit(ctx context.Context, limit int) ([]*AuditEntry, error)

	// SetNotifier wires the invalidation observer for override writes.
	SetNotifier(n Notifier)

	Close() error
}
