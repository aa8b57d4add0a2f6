package tenancy

import (
	"errors"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/bodhix-ai/cora-registry/authz"
)

var logger = log.With().Str("component", "tenancy").Logger()

var authorizer func(*http.Request, authz.Action, authz.ResourceRef) error

// SetAuthorizer allows the main server package to wire in its authorization helper.
func SetAuthorizer(fn func(*http.Request, authz.Action, authz.ResourceRef) error) {
	authorizer = fn
}

// authorizeOrReject runs the injected authorizer and writes the rejection
// itself, so handlers only proceed on a true return. A missing authorizer
// is a wiring bug and fails closed.
func authorizeOrReject(w http.ResponseWriter, r *http.Request, action authz.Action, resource authz.ResourceRef) bool {
	if authorizer == nil {
		http.Error(w, "authorization not configured", http.StatusInternalServerError)
		return false
	}
	if err := authorizer(r, action, resource); err != nil {
		status := http.StatusForbidden
		if errors.Is(err, authz.ErrUnauthorized) {
			status = http.StatusUnauthorized
		}
		logger.Debug().Err(err).Str("action", string(action)).Str("path", r.URL.Path).
			Msg("request rejected")
		http.Error(w, http.StatusText(status), status)
		return false
	}
	return true
}
