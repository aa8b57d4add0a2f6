package main

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	oidclib "github.com/coreos/go-oidc/v3/oidc"
	"github.com/google/uuid"
	"golang.org/x/oauth2"

	"github.com/bodhix-ai/cora-registry/storage"
)

// oidcLoginTTL bounds how long a login attempt may sit between the start
// redirect and the callback.
const oidcLoginTTL = 10 * time.Minute

type oidcAuthenticator struct {
	cfg *OIDCConfig

	mu       sync.Mutex
	provider *oidclib.Provider

	pendingMu sync.Mutex
	pending   map[string]*oidcLogin
}

// oidcLogin is an in-flight login attempt, keyed by state.
type oidcLogin struct {
	nonce     string
	redirect  string
	createdAt time.Time
}

type oidcClaims struct {
	Subject       string `json:"sub"`
	Email         string `json:"email"`
	EmailVerified bool   `json:"email_verified"`
	Name          string `json:"name"`
}

func newOIDCAuthenticator(cfg *OIDCConfig) *oidcAuthenticator {
	return &oidcAuthenticator{
		cfg:     cfg,
		pending: make(map[string]*oidcLogin),
	}
}

// discover loads and caches the issuer metadata. Discovery is deferred to the
// first login so a slow or offline issuer cannot block startup.
func (a *oidcAuthenticator) discover(ctx context.Context) (*oidclib.Provider, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.provider != nil {
		return a.provider, nil
	}
	provider, err := oidclib.NewProvider(ctx, a.cfg.Issuer)
	if err != nil {
		return nil, err
	}
	a.provider = provider
	return provider, nil
}

func (a *oidcAuthenticator) oauthConfig(r *http.Request, provider *oidclib.Provider) *oauth2.Config {
	redirect := a.cfg.RedirectURL
	if redirect == "" {
		redirect = externalURL(r) + "/auth/oidc/callback"
	}
	scopes := a.cfg.Scopes
	if len(scopes) == 0 {
		scopes = []string{oidclib.ScopeOpenID, "profile", "email"}
	}
	return &oauth2.Config{
		ClientID:     a.cfg.ClientID,
		ClientSecret: a.cfg.ClientSecret,
		RedirectURL:  redirect,
		Endpoint:     provider.Endpoint(),
		Scopes:       scopes,
	}
}

// handleStart begins the authorization code flow.
func (a *oidcAuthenticator) handleStart(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	provider, err := a.discover(ctx)
	if err != nil {
		logger.Error().Err(err).Str("issuer", a.cfg.Issuer).Msg("issuer discovery failed")
		http.Error(w, "identity provider unavailable", http.StatusBadGateway)
		return
	}

	state, err := randomURLSafe(24)
	if err != nil {
		http.Error(w, "failed to create state", http.StatusInternalServerError)
		return
	}
	nonce, err := randomURLSafe(24)
	if err != nil {
		http.Error(w, "failed to create nonce", http.StatusInternalServerError)
		return
	}

	a.pendingMu.Lock()
	a.prunePendingLocked()
	a.pending[state] = &oidcLogin{
		nonce:     nonce,
		redirect:  sanitizeRedirectTarget(r.URL.Query().Get("redirect")),
		createdAt: time.Now(),
	}
	a.pendingMu.Unlock()

	authURL := a.oauthConfig(r, provider).AuthCodeURL(state, oauth2.SetAuthURLParam("nonce", nonce))
	http.Redirect(w, r, authURL, http.StatusFound)
}

// handleCallback completes the flow: exchanges the code, verifies the ID
// token, resolves the user and issues a session.
func (a *oidcAuthenticator) handleCallback(w http.ResponseWriter, r *http.Request) {
	state := r.URL.Query().Get("state")
	code := r.URL.Query().Get("code")
	if state == "" || code == "" {
		http.Redirect(w, r, "/login?error=oidc_invalid", http.StatusFound)
		return
	}

	a.pendingMu.Lock()
	login, ok := a.pending[state]
	if ok {
		delete(a.pending, state)
	}
	a.pendingMu.Unlock()
	if !ok || time.Since(login.createdAt) > oidcLoginTTL {
		http.Redirect(w, r, "/login?error=oidc_state", http.StatusFound)
		return
	}

	ctx := r.Context()
	provider, err := a.discover(ctx)
	if err != nil {
		http.Redirect(w, r, "/login?error=oidc_discovery", http.StatusFound)
		return
	}

	token, err := a.oauthConfig(r, provider).Exchange(ctx, code)
	if err != nil {
		http.Redirect(w, r, "/login?error=oidc_exchange", http.StatusFound)
		return
	}
	rawIDToken, ok := token.Extra("id_token").(string)
	if !ok {
		http.Redirect(w, r, "/login?error=oidc_token", http.StatusFound)
		return
	}

	verifier := provider.Verifier(&oidclib.Config{ClientID: a.cfg.ClientID})
	idToken, err := verifier.Verify(ctx, rawIDToken)
	if err != nil {
		http.Redirect(w, r, "/login?error=oidc_verify", http.StatusFound)
		return
	}
	if idToken.Nonce != login.nonce {
		http.Redirect(w, r, "/login?error=oidc_nonce", http.StatusFound)
		return
	}

	var claims oidcClaims
	if err := idToken.Claims(&claims); err != nil {
		http.Redirect(w, r, "/login?error=oidc_claims", http.StatusFound)
		return
	}
	claims.Subject = idToken.Subject

	user, err := a.resolveUser(ctx, &claims)
	if err != nil {
		logger.Error().Err(err).Str("subject", claims.Subject).Msg("OIDC user resolution failed")
		http.Redirect(w, r, "/login?error=oidc_user", http.StatusFound)
		return
	}

	if _, err := createSession(ctx, w, user); err != nil {
		logger.Error().Err(err).Msg("OIDC session creation failed")
		http.Redirect(w, r, "/login?error=oidc_session", http.StatusFound)
		return
	}

	user.LastLoginAt = time.Now().UTC()
	if err := authStore.UpsertUser(ctx, user); err != nil {
		logger.Warn().Err(err).Str("email", user.Email).Msg("failed to record last login")
	}

	redirect := login.redirect
	if redirect == "" {
		redirect = "/"
	}
	http.Redirect(w, r, redirect, http.StatusFound)
}

// resolveUser matches the ID token to a local account by email, optionally
// auto-provisioning a new account when the provider allows it.
func (a *oidcAuthenticator) resolveUser(ctx context.Context, claims *oidcClaims) (*storage.User, error) {
	email := strings.ToLower(strings.TrimSpace(claims.Email))
	if email == "" {
		return nil, fmt.Errorf("ID token carries no email claim")
	}

	user, err := authStore.GetUserByEmail(ctx, email)
	if err == nil {
		return user, nil
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return nil, err
	}
	if !a.cfg.AutoProvision {
		return nil, fmt.Errorf("no account for %s and auto-provisioning is disabled", email)
	}

	user = &storage.User{
		ID:        uuid.NewString(),
		Email:     email,
		Name:      claims.Name,
		Role:      storage.ParseRole(a.cfg.DefaultRole),
		CreatedAt: time.Now().UTC(),
	}
	if err := authStore.UpsertUser(ctx, user); err != nil {
		return nil, err
	}
	logger.Info().Str("email", email).Str("role", string(user.Role)).
		Msg("auto-provisioned user from OIDC login")
	return user, nil
}

func (a *oidcAuthenticator) prunePendingLocked() {
	cutoff := time.Now().Add(-oidcLoginTTL)
	for state, login := range a.pending {
		if login.createdAt.Before(cutoff) {
			delete(a.pending, state)
		}
	}
}

func externalURL(r *http.Request) string {
	scheme := "http"
	if r.TLS != nil || (behindProxy && r.Header.Get("X-Forwarded-Proto") == "https") {
		scheme = "https"
	}
	host := r.Host
	if host == "" {
		host = "localhost"
	}
	return fmt.Sprintf("%s://%s", scheme, host)
}

// sanitizeRedirectTarget keeps post-login redirects on this host.
func sanitizeRedirectTarget(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "/"
	}
	u, err := url.Parse(raw)
	if err != nil || u.IsAbs() {
		return "/"
	}
	if u.Path == "" {
		u.Path = "/"
	}
	return u.String()
}

func randomURLSafe(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
