package main

import (
	"net/http"
	"strconv"

	"github.com/bodhix-ai/cora-registry/authz"
)

const defaultAuditLimit = 100

// handleAuditLog serves GET /api/v1/audit?limit=N, newest entries first.
func handleAuditLog(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if err := authorizeRequest(r, authz.ActionAuditLogsRead, authz.ResourceRef{}); err != nil {
		writeAuthzError(w, err)
		return
	}

	limit := defaultAuditLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 || n > 1000 {
			http.Error(w, "limit must be between 1 and 1000", http.StatusBadRequest)
			return
		}
		limit = n
	}

	entries, err := authStore.ListAudit(r.Context(), limit)
	if err != nil {
		http.Error(w, "failed to list audit entries", http.StatusServiceUnavailable)
		return
	}
	writeJSONResponse(w, http.StatusOK, entries)
}
