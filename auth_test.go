package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/bodhix-ai/cora-registry/authz"
	"github.com/bodhix-ai/cora-registry/storage"
)

func newAuthTestStore(t *testing.T) storage.Store {
	t.Helper()
	store, err := storage.NewSQLiteStore(":memory:")
	if err != nil {
		t.Fatalf("failed to open in-memory store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	cfg := DefaultConfig()
	cfg.Auth.RateLimit.Enabled = false
	initAuth(store, cfg)
	return store
}

func addTestUser(t *testing.T, store storage.Store, email, password string, role storage.Role) *storage.User {
	t.Helper()
	hash, err := storage.HashPassword(password)
	if err != nil {
		t.Fatalf("hash password: %v", err)
	}
	user := &storage.User{
		ID:           "user-" + email,
		Email:        email,
		Role:         role,
		PasswordHash: hash,
		CreatedAt:    time.Now().UTC(),
	}
	if err := store.UpsertUser(context.Background(), user); err != nil {
		t.Fatalf("create user: %v", err)
	}
	return user
}

func login(t *testing.T, email, password string) *httptest.ResponseRecorder {
	t.Helper()
	body, _ := json.Marshal(loginRequest{Email: email, Password: password})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	handleLogin(rec, req)
	return rec
}

func TestLoginIssuesSessionCookie(t *testing.T) {
	store := newAuthTestStore(t)
	addTestUser(t, store, "alice@example.com", "hunter22", storage.RoleSystemAdmin)

	rec := login(t, "alice@example.com", "hunter22")
	if rec.Code != http.StatusOK {
		t.Fatalf("login: got %d, body %s", rec.Code, rec.Body.String())
	}

	var cookie *http.Cookie
	for _, c := range rec.Result().Cookies() {
		if c.Name == sessionCookieName {
			cookie = c
		}
	}
	if cookie == nil || cookie.Value == "" {
		t.Fatal("no session cookie issued")
	}
	if !cookie.HttpOnly {
		t.Fatal("session cookie must be HttpOnly")
	}

	// The cookie authenticates follow-up requests.
	req := httptest.NewRequest(http.MethodGet, "/api/v1/auth/me", nil)
	req.AddCookie(cookie)
	rec = httptest.NewRecorder()
	requireSession(handleMe)(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("me: got %d", rec.Code)
	}
	var me storage.User
	if err := json.Unmarshal(rec.Body.Bytes(), &me); err != nil {
		t.Fatalf("decode me: %v", err)
	}
	if me.Email != "alice@example.com" {
		t.Fatalf("unexpected identity: %+v", me)
	}
}

func TestLoginRejectsBadCredentials(t *testing.T) {
	store := newAuthTestStore(t)
	addTestUser(t, store, "alice@example.com", "hunter22", storage.RoleViewer)

	if rec := login(t, "alice@example.com", "wrong"); rec.Code != http.StatusUnauthorized {
		t.Fatalf("wrong password: got %d", rec.Code)
	}
	if rec := login(t, "nobody@example.com", "hunter22"); rec.Code != http.StatusUnauthorized {
		t.Fatalf("unknown user: got %d", rec.Code)
	}
}

func TestLoginRateLimiting(t *testing.T) {
	store, err := storage.NewSQLiteStore(":memory:")
	if err != nil {
		t.Fatalf("failed to open in-memory store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	cfg := DefaultConfig()
	cfg.Auth.RateLimit.MaxAttempts = 2
	initAuth(store, cfg)
	t.Cleanup(loginLimiter.Stop)

	addTestUser(t, store, "alice@example.com", "hunter22", storage.RoleViewer)

	login(t, "alice@example.com", "wrong")
	login(t, "alice@example.com", "wrong")

	// Blocked now, even with the right password.
	if rec := login(t, "alice@example.com", "hunter22"); rec.Code != http.StatusTooManyRequests {
		t.Fatalf("got %d, want 429", rec.Code)
	}
}

func TestInitAuthDropsStaleRateLimiter(t *testing.T) {
	store, err := storage.NewSQLiteStore(":memory:")
	if err != nil {
		t.Fatalf("failed to open in-memory store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	cfg := DefaultConfig()
	cfg.Auth.RateLimit.MaxAttempts = 2
	initAuth(store, cfg)

	addTestUser(t, store, "alice@example.com", "hunter22", storage.RoleViewer)
	login(t, "alice@example.com", "wrong")
	login(t, "alice@example.com", "wrong")
	if rec := login(t, "alice@example.com", "hunter22"); rec.Code != http.StatusTooManyRequests {
		t.Fatalf("got %d, want 429 before re-init", rec.Code)
	}

	// Reinitializing with rate limiting disabled must discard the old
	// limiter along with its block records.
	cfg = DefaultConfig()
	cfg.Auth.RateLimit.Enabled = false
	initAuth(store, cfg)
	if loginLimiter != nil {
		t.Fatal("limiter should be nil when rate limiting is disabled")
	}
	if rec := login(t, "alice@example.com", "hunter22"); rec.Code != http.StatusOK {
		t.Fatalf("login after re-init: got %d, body %s", rec.Code, rec.Body.String())
	}
}

func TestRequireSessionRejections(t *testing.T) {
	store := newAuthTestStore(t)
	user := addTestUser(t, store, "alice@example.com", "hunter22", storage.RoleViewer)

	handler := requireSession(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/auth/me", nil)
	rec := httptest.NewRecorder()
	handler(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("missing token: got %d", rec.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/v1/auth/me", nil)
	req.Header.Set("Authorization", "Bearer bogus")
	rec = httptest.NewRecorder()
	handler(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("bogus token: got %d", rec.Code)
	}

	expired := &storage.Session{
		Token:     "expired-token",
		UserID:    user.ID,
		CreatedAt: time.Now().Add(-48 * time.Hour),
		ExpiresAt: time.Now().Add(-24 * time.Hour),
	}
	if err := store.CreateSession(context.Background(), expired); err != nil {
		t.Fatalf("create session: %v", err)
	}
	req = httptest.NewRequest(http.MethodGet, "/api/v1/auth/me", nil)
	req.Header.Set("Authorization", "Bearer expired-token")
	rec = httptest.NewRecorder()
	handler(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expired token: got %d", rec.Code)
	}
	// Expired sessions are purged on sight.
	if _, err := store.GetSession(context.Background(), "expired-token"); err == nil {
		t.Fatal("expired session should have been deleted")
	}
}

func TestLogoutDeletesSession(t *testing.T) {
	store := newAuthTestStore(t)
	addTestUser(t, store, "alice@example.com", "hunter22", storage.RoleViewer)

	rec := login(t, "alice@example.com", "hunter22")
	var cookie *http.Cookie
	for _, c := range rec.Result().Cookies() {
		if c.Name == sessionCookieName {
			cookie = c
		}
	}
	if cookie == nil {
		t.Fatal("no session cookie issued")
	}

	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/logout", nil)
	req.AddCookie(cookie)
	rec = httptest.NewRecorder()
	handleLogout(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("logout: got %d", rec.Code)
	}

	if _, err := store.GetSession(context.Background(), cookie.Value); err == nil {
		t.Fatal("session should be gone after logout")
	}
}

func withPrincipal(req *http.Request, user *storage.User) *http.Request {
	principal := &Principal{User: user}
	return req.WithContext(context.WithValue(req.Context(), principalKey, principal))
}

func TestAuthorizeRequest(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/api/v1/orgs", nil)
	if err := authorizeRequest(req, authz.ActionOrgsRead, authz.ResourceRef{}); err == nil {
		t.Fatal("anonymous request should be rejected")
	}

	viewer := &storage.User{Role: storage.RoleViewer, OrgIDs: []string{"org-1"}}
	req = withPrincipal(httptest.NewRequest(http.MethodGet, "/api/v1/orgs", nil), viewer)
	if err := authorizeRequest(req, authz.ActionOrgsRead, authz.ResourceRef{OrgIDs: []string{"org-1"}}); err != nil {
		t.Fatalf("viewer read should pass: %v", err)
	}
	if err := authorizeRequest(req, authz.ActionOrgsWrite, authz.ResourceRef{OrgIDs: []string{"org-1"}}); err == nil {
		t.Fatal("viewer write should be forbidden")
	}

	admin := &storage.User{Role: storage.RoleSystemAdmin}
	req = withPrincipal(httptest.NewRequest(http.MethodPost, "/api/v1/orgs", nil), admin)
	if err := authorizeRequest(req, authz.ActionOrgsWrite, authz.ResourceRef{}); err != nil {
		t.Fatalf("system admin write should pass: %v", err)
	}
}

func TestEnsureBootstrapAdmin(t *testing.T) {
	store := newAuthTestStore(t)
	ctx := context.Background()

	cfg := &AuthConfig{BootstrapEmail: "root@example.com", BootstrapPassword: "initial-secret"}
	if err := ensureBootstrapAdmin(ctx, store, cfg); err != nil {
		t.Fatalf("bootstrap failed: %v", err)
	}

	admin, err := store.GetUserByEmail(ctx, "root@example.com")
	if err != nil {
		t.Fatalf("bootstrap admin missing: %v", err)
	}
	if admin.Role != storage.RoleSystemAdmin {
		t.Fatalf("unexpected role: %s", admin.Role)
	}
	if ok, _ := storage.VerifyPassword("initial-secret", admin.PasswordHash); !ok {
		t.Fatal("bootstrap password not usable")
	}

	// Second run is a no-op once any user exists.
	if err := ensureBootstrapAdmin(ctx, store, cfg); err != nil {
		t.Fatalf("second bootstrap failed: %v", err)
	}
	users, err := store.ListUsers(ctx)
	if err != nil {
		t.Fatalf("list users: %v", err)
	}
	if len(users) != 1 {
		t.Fatalf("bootstrap created duplicates: %d users", len(users))
	}
}
