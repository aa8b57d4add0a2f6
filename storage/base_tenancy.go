package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ============================================================================
// Organizations
// ============================================================================

// CreateOrganization inserts a new org. An empty ID is generated.
func (s *BaseStore) CreateOrganization(ctx context.Context, org *Organization) error {
	if org == nil || strings.TrimSpace(org.Name) == "" {
		return fmt.Errorf("organization requires a name")
	}
	if org.ID == "" {
		org.ID = uuid.NewString()
	}
	if org.CreatedAt.IsZero() {
		org.CreatedAt = time.Now().UTC()
	}
	query := `
		INSERT INTO organizations (id, name, slug, description, created_at)
		VALUES (?, ?, ?, ?, ?)
	`
	_, err := s.execContext(ctx, query, org.ID, org.Name, org.Slug, org.Description, org.CreatedAt)
	if err != nil {
		return fmt.Errorf("create organization %s: %w", org.ID, err)
	}
	return nil
}

// GetOrganization returns the org or ErrNotFound.
func (s *BaseStore) GetOrganization(ctx context.Context, id string) (*Organization, error) {
	query := `SELECT id, name, slug, description, created_at FROM organizations WHERE id = ?`
	var org Organization
	var slug, description sql.NullString
	err := s.queryRowContext(ctx, query, id).Scan(&org.ID, &org.Name, &slug, &description, &org.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("organization %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get organization %s: %w", id, err)
	}
	org.Slug = slug.String
	org.Description = description.String
	return &org, nil
}

// UpdateOrganization updates the org's metadata.
func (s *BaseStore) UpdateOrganization(ctx context.Context, org *Organization) error {
	if org == nil || org.ID == "" {
		return fmt.Errorf("organization id required")
	}
	query := `UPDATE organizations SET name = ?, slug = ?, description = ? WHERE id = ?`
	res, err := s.execContext(ctx, query, org.Name, org.Slug, org.Description, org.ID)
	if err != nil {
		return fmt.Errorf("update organization %s: %w", org.ID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("organization %s: %w", org.ID, ErrNotFound)
	}
	return nil
}

// ListOrganizations returns all orgs ordered by name.
func (s *BaseStore) ListOrganizations(ctx context.Context) ([]*Organization, error) {
	query := `SELECT id, name, slug, description, created_at FROM organizations ORDER BY name`
	rows, err := s.queryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list organizations: %w", err)
	}
	defer rows.Close()

	var out []*Organization
	for rows.Next() {
		var org Organization
		var slug, description sql.NullString
		if err := rows.Scan(&org.ID, &org.Name, &slug, &description, &org.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan organization: %w", err)
		}
		org.Slug = slug.String
		org.Description = description.String
		out = append(out, &org)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list organizations: %w", err)
	}
	return out, nil
}

// ============================================================================
// Workspaces
// ============================================================================

// CreateWorkspace inserts a new workspace under an existing org.
func (s *BaseStore) CreateWorkspace(ctx context.Context, ws *Workspace) error {
	if ws == nil || strings.TrimSpace(ws.Name) == "" {
		return fmt.Errorf("workspace requires a name")
	}
	if ws.OrgID == "" {
		return fmt.Errorf("workspace requires an org id")
	}
	if ws.ID == "" {
		ws.ID = uuid.NewString()
	}
	if ws.CreatedAt.IsZero() {
		ws.CreatedAt = time.Now().UTC()
	}
	query := `
		INSERT INTO workspaces (id, org_id, name, slug, description, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`
	_, err := s.execContext(ctx, query, ws.ID, ws.OrgID, ws.Name, ws.Slug, ws.Description, ws.CreatedAt)
	if err != nil {
		return fmt.Errorf("create workspace %s: %w", ws.ID, err)
	}
	return nil
}

// GetWorkspace returns the workspace or ErrNotFound.
func (s *BaseStore) GetWorkspace(ctx context.Context, id string) (*Workspace, error) {
	query := `SELECT id, org_id, name, slug, description, created_at FROM workspaces WHERE id = ?`
	var ws Workspace
	var slug, description sql.NullString
	err := s.queryRowContext(ctx, query, id).Scan(&ws.ID, &ws.OrgID, &ws.Name, &slug, &description, &ws.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("workspace %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get workspace %s: %w", id, err)
	}
	ws.Slug = slug.String
	ws.Description = description.String
	return &ws, nil
}

// UpdateWorkspace updates the workspace's metadata. The org binding is fixed.
func (s *BaseStore) UpdateWorkspace(ctx context.Context, ws *Workspace) error {
	if ws == nil || ws.ID == "" {
		return fmt.Errorf("workspace id required")
	}
	query := `UPDATE workspaces SET name = ?, slug = ?, description = ? WHERE id = ?`
	res, err := s.execContext(ctx, query, ws.Name, ws.Slug, ws.Description, ws.ID)
	if err != nil {
		return fmt.Errorf("update workspace %s: %w", ws.ID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("workspace %s: %w", ws.ID, ErrNotFound)
	}
	return nil
}

// ListWorkspaces returns workspaces, optionally filtered by org.
func (s *BaseStore) ListWorkspaces(ctx context.Context, orgID string) ([]*Workspace, error) {
	query := `SELECT id, org_id, name, slug, description, created_at FROM workspaces`
	args := []any{}
	if orgID != "" {
		query += ` WHERE org_id = ?`
		args = append(args, orgID)
	}
	query += ` ORDER BY name`

	rows, err := s.queryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list workspaces: %w", err)
	}
	defer rows.Close()

	var out []*Workspace
	for rows.Next() {
		var ws Workspace
		var slug, description sql.NullString
		if err := rows.Scan(&ws.ID, &ws.OrgID, &ws.Name, &slug, &description, &ws.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan workspace: %w", err)
		}
		ws.Slug = slug.String
		ws.Description = description.String
		out = append(out, &ws)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list workspaces: %w", err)
	}
	return out, nil
}
