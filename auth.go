package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/bodhix-ai/cora-registry/authz"
	"github.com/bodhix-ai/cora-registry/storage"
)

const sessionCookieName = "cora_session"

type contextKey string

const principalKey contextKey = "principal"

// Principal is the authenticated caller attached to request contexts by the
// session middleware.
type Principal struct {
	User    *storage.User
	Session *storage.Session
}

// Subject converts the principal into an authorization subject.
func (p *Principal) Subject() authz.Subject {
	return authz.Subject{
		Role:         p.User.Role,
		OrgIDs:       p.User.OrgIDs,
		WorkspaceIDs: p.User.WorkspaceIDs,
	}
}

var (
	authStore    storage.Store
	authSettings *AuthConfig
	loginLimiter *LoginRateLimiter
	behindProxy  bool
)

// initAuth wires the auth subsystem to the store and configuration. Must be
// called before any handler runs.
func initAuth(store storage.Store, cfg *Config) {
	authStore = store
	authSettings = &cfg.Auth
	behindProxy = cfg.Server.BehindProxy
	if loginLimiter != nil {
		loginLimiter.Stop()
		loginLimiter = nil
	}
	if cfg.Auth.RateLimit.Enabled {
		loginLimiter = NewLoginRateLimiter(
			cfg.Auth.RateLimit.MaxAttempts,
			time.Duration(cfg.Auth.RateLimit.BlockMinutes)*time.Minute,
			time.Duration(cfg.Auth.RateLimit.WindowMinutes)*time.Minute,
		)
	}
}

func getPrincipal(r *http.Request) *Principal {
	p, _ := r.Context().Value(principalKey).(*Principal)
	return p
}

// sessionToken pulls the bearer token from the Authorization header or the
// session cookie.
func sessionToken(r *http.Request) string {
	if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(auth, "Bearer "))
	}
	if cookie, err := r.Cookie(sessionCookieName); err == nil {
		return cookie.Value
	}
	return ""
}

// requireSession wraps a handler with session authentication. Expired
// sessions are deleted on sight.
func requireSession(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token := sessionToken(r)
		if token == "" {
			http.Error(w, "authentication required", http.StatusUnauthorized)
			return
		}

		ctx := r.Context()
		session, err := authStore.GetSession(ctx, token)
		if err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				http.Error(w, "invalid session", http.StatusUnauthorized)
				return
			}
			http.Error(w, "session lookup failed", http.StatusServiceUnavailable)
			return
		}
		if time.Now().After(session.ExpiresAt) {
			_ = authStore.DeleteSession(ctx, token)
			http.Error(w, "session expired", http.StatusUnauthorized)
			return
		}

		user, err := authStore.GetUserByID(ctx, session.UserID)
		if err != nil {
			http.Error(w, "invalid session", http.StatusUnauthorized)
			return
		}

		principal := &Principal{User: user, Session: session}
		next(w, r.WithContext(context.WithValue(ctx, principalKey, principal)))
	}
}

// authorizeRequest is the Authorizer hook shared by the registry and tenancy
// routers.
func authorizeRequest(r *http.Request, action authz.Action, resource authz.ResourceRef) error {
	principal := getPrincipal(r)
	if principal == nil {
		return authz.ErrUnauthorized
	}
	return authz.Authorize(principal.Subject(), action, resource)
}

// actorEmail identifies the caller for audit entries.
func actorEmail(r *http.Request) string {
	if principal := getPrincipal(r); principal != nil {
		return principal.User.Email
	}
	return ""
}

// recordAuditEntry persists an audit entry, filling in the actor from the
// request when the caller left it empty. Audit failures are logged, never
// surfaced to the client.
func recordAuditEntry(r *http.Request, entry *storage.AuditEntry) {
	if entry == nil {
		return
	}
	if entry.Actor == "" {
		entry.Actor = actorEmail(r)
	}
	if err := authStore.AppendAudit(r.Context(), entry); err != nil {
		logger.Warn().Err(err).Str("action", entry.Action).Msg("failed to append audit entry")
	}
}

// requestIP returns the client IP, honoring X-Forwarded-For only when the
// server is configured behind a trusted proxy.
func requestIP(r *http.Request) string {
	if behindProxy {
		if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
			parts := strings.Split(fwd, ",")
			return strings.TrimSpace(parts[0])
		}
	}
	return clientIP(r.RemoteAddr)
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// handleLogin authenticates email+password credentials and issues a session.
func handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	email := strings.ToLower(strings.TrimSpace(req.Email))
	if email == "" || req.Password == "" {
		http.Error(w, "email and password required", http.StatusBadRequest)
		return
	}

	ip := requestIP(r)
	if loginLimiter != nil {
		if blocked, until := loginLimiter.IsBlocked(ip, email); blocked {
			logger.Warn().Str("ip", ip).Str("email", email).Time("blocked_until", until).
				Msg("blocked login attempt")
			http.Error(w, "too many failed attempts, try again later", http.StatusTooManyRequests)
			return
		}
	}

	ctx := r.Context()
	user, err := authStore.GetUserByEmail(ctx, email)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		http.Error(w, "login unavailable", http.StatusServiceUnavailable)
		return
	}

	ok := false
	if user != nil && user.PasswordHash != "" {
		ok, _ = storage.VerifyPassword(req.Password, user.PasswordHash)
	}
	if !ok {
		if loginLimiter != nil {
			if blocked, count := loginLimiter.RecordFailure(ip, email); blocked {
				logger.Warn().Str("ip", ip).Str("email", email).Int("attempts", count).
					Msg("login blocked after repeated failures")
			}
		}
		http.Error(w, "invalid credentials", http.StatusUnauthorized)
		return
	}
	if loginLimiter != nil {
		loginLimiter.RecordSuccess(ip, email)
	}

	session, err := createSession(ctx, w, user)
	if err != nil {
		logger.Error().Err(err).Str("email", email).Msg("failed to create session")
		http.Error(w, "failed to create session", http.StatusInternalServerError)
		return
	}

	user.LastLoginAt = time.Now().UTC()
	if err := authStore.UpsertUser(ctx, user); err != nil {
		logger.Warn().Err(err).Str("email", email).Msg("failed to record last login")
	}

	writeJSONResponse(w, http.StatusOK, map[string]any{
		"user":       user,
		"expires_at": session.ExpiresAt,
	})
}

// createSession issues a session token and sets the session cookie.
func createSession(ctx context.Context, w http.ResponseWriter, user *storage.User) (*storage.Session, error) {
	token, err := storage.NewSessionToken()
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	session := &storage.Session{
		Token:     token,
		UserID:    user.ID,
		CreatedAt: now,
		ExpiresAt: now.Add(authSettings.SessionTTL()),
	}
	if err := authStore.CreateSession(ctx, session); err != nil {
		return nil, err
	}

	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    token,
		Path:     "/",
		Expires:  session.ExpiresAt,
		HttpOnly: true,
		Secure:   authSettings.SecureCookies,
		SameSite: http.SameSiteLaxMode,
	})
	return session, nil
}

// handleLogout deletes the current session and clears the cookie.
func handleLogout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if token := sessionToken(r); token != "" {
		_ = authStore.DeleteSession(r.Context(), token)
	}
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   authSettings.SecureCookies,
		SameSite: http.SameSiteLaxMode,
	})
	writeJSONResponse(w, http.StatusOK, map[string]bool{"success": true})
}

// handleMe returns the authenticated user.
func handleMe(w http.ResponseWriter, r *http.Request) {
	principal := getPrincipal(r)
	if principal == nil {
		http.Error(w, "authentication required", http.StatusUnauthorized)
		return
	}
	writeJSONResponse(w, http.StatusOK, principal.User)
}

// ensureBootstrapAdmin creates the initial system admin when the users table
// is empty. Without it a fresh install would have no way to log in.
func ensureBootstrapAdmin(ctx context.Context, store storage.Store, cfg *AuthConfig) error {
	users, err := store.ListUsers(ctx)
	if err != nil {
		return err
	}
	if len(users) > 0 {
		return nil
	}

	password := cfg.BootstrapPassword
	generated := false
	if password == "" {
		token, err := storage.NewSessionToken()
		if err != nil {
			return err
		}
		password = token[:16]
		generated = true
	}
	hash, err := storage.HashPassword(password)
	if err != nil {
		return err
	}

	admin := &storage.User{
		ID:           uuid.NewString(),
		Email:        strings.ToLower(cfg.BootstrapEmail),
		Name:         "Bootstrap Admin",
		Role:         storage.RoleSystemAdmin,
		PasswordHash: hash,
		CreatedAt:    time.Now().UTC(),
	}
	if err := store.UpsertUser(ctx, admin); err != nil {
		return err
	}

	event := logger.Info().Str("email", admin.Email)
	if generated {
		// One-time credential; rotate it after first login.
		event = event.Str("password", password)
	}
	event.Msg("created bootstrap system admin")
	return nil
}

// sessionCleanupLoop purges expired sessions until the context is cancelled.
func sessionCleanupLoop(ctx context.Context, store storage.Store, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if n, err := store.DeleteExpiredSessions(ctx); err != nil {
				logger.Warn().Err(err).Msg("session cleanup failed")
			} else if n > 0 {
				logger.Debug().Int64("deleted", n).Msg("purged expired sessions")
			}
		case <-ctx.Done():
			return
		}
	}
}
