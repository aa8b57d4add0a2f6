package main

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/bodhix-ai/cora-registry/authz"
	"github.com/bodhix-ai/cora-registry/storage"
)

type userPayload struct {
	Email        string   `json:"email"`
	Name         string   `json:"name"`
	Role         string   `json:"role"`
	OrgIDs       []string `json:"org_ids"`
	WorkspaceIDs []string `json:"workspace_ids"`
	Password     string   `json:"password,omitempty"`
}

// handleUsers serves GET (list) and POST (create) on /api/v1/users.
func handleUsers(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		if err := authorizeRequest(r, authz.ActionUsersRead, authz.ResourceRef{}); err != nil {
			writeAuthzError(w, err)
			return
		}
		users, err := authStore.ListUsers(r.Context())
		if err != nil {
			http.Error(w, "failed to list users", http.StatusServiceUnavailable)
			return
		}
		writeJSONResponse(w, http.StatusOK, users)

	case http.MethodPost:
		if err := authorizeRequest(r, authz.ActionUsersWrite, authz.ResourceRef{}); err != nil {
			writeAuthzError(w, err)
			return
		}
		var payload userPayload
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			http.Error(w, "invalid json", http.StatusBadRequest)
			return
		}
		email := strings.ToLower(strings.TrimSpace(payload.Email))
		if email == "" {
			http.Error(w, "email required", http.StatusBadRequest)
			return
		}
		ctx := r.Context()
		if _, err := authStore.GetUserByEmail(ctx, email); err == nil {
			http.Error(w, "user already exists", http.StatusConflict)
			return
		} else if !errors.Is(err, storage.ErrNotFound) {
			http.Error(w, "user lookup failed", http.StatusServiceUnavailable)
			return
		}

		user := &storage.User{
			ID:           uuid.NewString(),
			Email:        email,
			Name:         strings.TrimSpace(payload.Name),
			Role:         storage.ParseRole(payload.Role),
			OrgIDs:       payload.OrgIDs,
			WorkspaceIDs: payload.WorkspaceIDs,
			CreatedAt:    time.Now().UTC(),
		}
		if payload.Password != "" {
			hash, err := storage.HashPassword(payload.Password)
			if err != nil {
				http.Error(w, "failed to hash password", http.StatusInternalServerError)
				return
			}
			user.PasswordHash = hash
		}
		if err := authStore.UpsertUser(ctx, user); err != nil {
			http.Error(w, "failed to create user", http.StatusServiceUnavailable)
			return
		}
		recordAuditEntry(r, &storage.AuditEntry{
			Action:     "user.create",
			TargetType: "user",
			TargetID:   user.ID,
			Details:    user.Email,
		})
		writeJSONResponse(w, http.StatusCreated, user)

	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

// handleUserRoute serves GET and PUT on /api/v1/users/{id}.
func handleUserRoute(w http.ResponseWriter, r *http.Request) {
	id := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/v1/users/"), "/")
	if id == "" || strings.Contains(id, "/") {
		http.NotFound(w, r)
		return
	}

	ctx := r.Context()
	user, err := authStore.GetUserByID(ctx, id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			http.Error(w, "user not found", http.StatusNotFound)
		} else {
			http.Error(w, "user lookup failed", http.StatusServiceUnavailable)
		}
		return
	}

	switch r.Method {
	case http.MethodGet:
		if err := authorizeRequest(r, authz.ActionUsersRead, authz.ResourceRef{}); err != nil {
			writeAuthzError(w, err)
			return
		}
		writeJSONResponse(w, http.StatusOK, user)

	case http.MethodPut:
		if err := authorizeRequest(r, authz.ActionUsersWrite, authz.ResourceRef{}); err != nil {
			writeAuthzError(w, err)
			return
		}
		var payload userPayload
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			http.Error(w, "invalid json", http.StatusBadRequest)
			return
		}
		if payload.Name != "" {
			user.Name = strings.TrimSpace(payload.Name)
		}
		if payload.Role != "" {
			user.Role = storage.ParseRole(payload.Role)
		}
		if payload.OrgIDs != nil {
			user.OrgIDs = payload.OrgIDs
		}
		if payload.WorkspaceIDs != nil {
			user.WorkspaceIDs = payload.WorkspaceIDs
		}
		if payload.Password != "" {
			hash, err := storage.HashPassword(payload.Password)
			if err != nil {
				http.Error(w, "failed to hash password", http.StatusInternalServerError)
				return
			}
			user.PasswordHash = hash
		}
		if err := authStore.UpsertUser(ctx, user); err != nil {
			http.Error(w, "failed to update user", http.StatusServiceUnavailable)
			return
		}
		recordAuditEntry(r, &storage.AuditEntry{
			Action:     "user.update",
			TargetType: "user",
			TargetID:   user.ID,
			Details:    user.Email,
		})
		writeJSONResponse(w, http.StatusOK, user)

	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func writeAuthzError(w http.ResponseWriter, err error) {
	if errors.Is(err, authz.ErrUnauthorized) {
		http.Error(w, "authentication required", http.StatusUnauthorized)
		return
	}
	http.Error(w, "forbidden", http.StatusForbidden)
}
