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
// Users
// ============================================================================

// UpsertUser inserts or updates a user keyed by email.
func (s *BaseStore) UpsertUser(ctx context.Context, user *User) error {
	if user == nil || strings.TrimSpace(user.Email) == "" {
		return fmt.Errorf("user requires an email")
	}
	if user.ID == "" {
		user.ID = uuid.NewString()
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	orgIDs, err := encodeJSONValue(user.OrgIDs)
	if err != nil {
		return fmt.Errorf("encode org ids: %w", err)
	}
	wsIDs, err := encodeJSONValue(user.WorkspaceIDs)
	if err != nil {
		return fmt.Errorf("encode workspace ids: %w", err)
	}

	query := `
		INSERT INTO users (id, email, name, role, org_ids, workspace_ids,
			password_hash, created_at, last_login_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(email) DO UPDATE SET
			name = excluded.name,
			role = excluded.role,
			org_ids = excluded.org_ids,
			workspace_ids = excluded.workspace_ids,
			password_hash = excluded.password_hash,
			last_login_at = excluded.last_login_at
	`
	_, err = s.execContext(ctx, query,
		user.ID, strings.ToLower(user.Email), user.Name, string(user.Role),
		orgIDs, wsIDs, user.PasswordHash, user.CreatedAt, timeOrNil(user.LastLoginAt))
	if err != nil {
		return fmt.Errorf("upsert user %s: %w", user.Email, err)
	}
	return nil
}

// GetUserByID returns the user or ErrNotFound.
func (s *BaseStore) GetUserByID(ctx context.Context, id string) (*User, error) {
	return s.getUser(ctx, "id", id)
}

// GetUserByEmail returns the user or ErrNotFound. Lookup is case-insensitive.
func (s *BaseStore) GetUserByEmail(ctx context.Context, email string) (*User, error) {
	return s.getUser(ctx, "email", strings.ToLower(strings.TrimSpace(email)))
}

func (s *BaseStore) getUser(ctx context.Context, column, value string) (*User, error) {
	query := fmt.Sprintf(`
		SELECT id, email, name, role, org_ids, workspace_ids,
		       password_hash, created_at, last_login_at
		FROM users
		WHERE %s = ?
	`, column)
	user, err := scanUser(s.queryRowContext(ctx, query, value))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("user %s: %w", value, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get user %s: %w", value, err)
	}
	return user, nil
}

// ListUsers returns all users ordered by email.
func (s *BaseStore) ListUsers(ctx context.Context) ([]*User, error) {
	query := `
		SELECT id, email, name, role, org_ids, workspace_ids,
		       password_hash, created_at, last_login_at
		FROM users
		ORDER BY email
	`
	rows, err := s.queryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	defer rows.Close()

	var out []*User
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		out = append(out, user)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	return out, nil
}

func scanUser(row rowScanner) (*User, error) {
	var user User
	var name, role, orgIDs, wsIDs, passwordHash sql.NullString
	var lastLogin sql.NullTime

	err := row.Scan(&user.ID, &user.Email, &name, &role, &orgIDs, &wsIDs,
		&passwordHash, &user.CreatedAt, &lastLogin)
	if err != nil {
		return nil, err
	}
	user.Name = name.String
	user.Role = ParseRole(role.String)
	user.PasswordHash = passwordHash.String
	if lastLogin.Valid {
		user.LastLoginAt = lastLogin.Time
	}
	if err = decodeJSONValue(orgIDs, &user.OrgIDs); err != nil {
		return nil, err
	}
	if err = decodeJSONValue(wsIDs, &user.WorkspaceIDs); err != nil {
		return nil, err
	}
	return &user, nil
}

// ============================================================================
// Sessions
// ============================================================================

// CreateSession stores a new opaque session token.
func (s *BaseStore) CreateSession(ctx context.Context, session *Session) error {
	if session == nil || session.Token == "" || session.UserID == "" {
		return fmt.Errorf("session requires a token and user id")
	}
	if session.CreatedAt.IsZero() {
		session.CreatedAt = time.Now().UTC()
	}
	query := `INSERT INTO sessions (token, user_id, created_at, expires_at) VALUES (?, ?, ?, ?)`
	_, err := s.execContext(ctx, query, session.Token, session.UserID, session.CreatedAt, session.ExpiresAt)
	if err != nil {
		return fmt.Errorf("create session: %w", err)
	}
	return nil
}

// GetSession returns a live session or ErrNotFound. Expired tokens are
// reported as not found and lazily removed.
func (s *BaseStore) GetSession(ctx context.Context, token string) (*Session, error) {
	query := `SELECT token, user_id, created_at, expires_at FROM sessions WHERE token = ?`
	var session Session
	err := s.queryRowContext(ctx, query, token).Scan(
		&session.Token, &session.UserID, &session.CreatedAt, &session.ExpiresAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("session: %w", ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}
	if time.Now().UTC().After(session.ExpiresAt) {
		_ = s.DeleteSession(ctx, token)
		return nil, fmt.Errorf("session expired: %w", ErrNotFound)
	}
	return &session, nil
}

// DeleteSession removes a session token.
func (s *BaseStore) DeleteSession(ctx context.Context, token string) error {
	query := `DELETE FROM sessions WHERE token = ?`
	if _, err := s.execContext(ctx, query, token); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

// DeleteExpiredSessions removes every expired session and reports the count.
func (s *BaseStore) DeleteExpiredSessions(ctx context.Context) (int64, error) {
	query := `DELETE FROM sessions WHERE expires_at < ?`
	res, err := s.execContext(ctx, query, time.Now().UTC())
	if err != nil {
		return 0, fmt.Errorf("delete expired sessions: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// ============================================================================
// Audit log
// ============================================================================

// AppendAudit records an administrative action.
func (s *BaseStore) AppendAudit(ctx context.Context, entry *AuditEntry) error {
	if entry == nil || entry.Action == "" {
		return fmt.Errorf("audit entry requires an action")
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}
	metadata, err := encodeJSONValue(entry.Metadata)
	if err != nil {
		return fmt.Errorf("encode audit metadata: %w", err)
	}
	query := `
		INSERT INTO audit_log (timestamp, actor, action, target_type, target_id,
			org_id, workspace_id, details, metadata)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err = s.execContext(ctx, query,
		entry.Timestamp, entry.Actor, entry.Action, entry.TargetType, entry.TargetID,
		entry.OrgID, entry.WorkspaceID, entry.Details, metadata)
	if err != nil {
		return fmt.Errorf("append audit entry: %w", err)
	}
	return nil
}

// ListAudit returns the most recent audit entries, newest first.
func (s *BaseStore) ListAudit(ctx context.Context, limit int) ([]*AuditEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	query := fmt.Sprintf(`
		SELECT id, timestamp, actor, action, target_type, target_id,
		       org_id, workspace_id, details, metadata
		FROM audit_log
		ORDER BY timestamp DESC, id DESC
		LIMIT %d
	`, limit)
	rows, err := s.queryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list audit entries: %w", err)
	}
	defer rows.Close()

	var out []*AuditEntry
	for rows.Next() {
		var entry AuditEntry
		var actor, targetType, targetID, orgID, wsID, details, metadata sql.NullString
		if err := rows.Scan(&entry.ID, &entry.Timestamp, &actor, &entry.Action,
			&targetType, &targetID, &orgID, &wsID, &details, &metadata); err != nil {
			return nil, fmt.Errorf("scan audit entry: %w", err)
		}
		entry.Actor = actor.String
		entry.TargetType = targetType.String
		entry.TargetID = targetID.String
		entry.OrgID = orgID.String
		entry.WorkspaceID = wsID.String
		entry.Details = details.String
		if err := decodeJSONValue(metadata, &entry.Metadata); err != nil {
			return nil, fmt.Errorf("decode audit metadata: %w", err)
		}
		out = append(out, &entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list audit entries: %w", err)
	}
	return out, nil
}
