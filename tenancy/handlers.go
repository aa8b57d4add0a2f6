// Package tenancy serves the organization and workspace hierarchy and
// dispatches nested subresources (such as per-scope module overrides)
// to the packages that own them.
package tenancy

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/bodhix-ai/cora-registry/authz"
	"github.com/bodhix-ai/cora-registry/storage"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

var dbStore storage.Store

// AuthMiddleware, when set by the main application, wraps tenancy
// handlers so they can enforce authentication.
var AuthMiddleware func(http.HandlerFunc) http.HandlerFunc

var auditLogger func(*http.Request, *storage.AuditEntry)

// SetAuditLogger wires an audit sink so tenancy actions appear in the central audit log.
func SetAuditLogger(logger func(*http.Request, *storage.AuditEntry)) {
	auditLogger = logger
}

func recordAudit(r *http.Request, entry *storage.AuditEntry) {
	if auditLogger == nil || entry == nil {
		return
	}
	auditLogger(r, entry)
}

type orgPayload struct {
	ID          string `json:"id,omitempty" validate:"max=64"`
	Name        string `json:"name" validate:"required,min=1,max=128"`
	Slug        string `json:"slug,omitempty" validate:"max=64"`
	Description string `json:"description,omitempty" validate:"max=1024"`
}

func (p *orgPayload) normalize() {
	p.ID = strings.TrimSpace(p.ID)
	p.Name = strings.TrimSpace(p.Name)
	p.Slug = strings.TrimSpace(p.Slug)
}

type workspacePayload struct {
	ID          string `json:"id,omitempty" validate:"max=64"`
	Name        string `json:"name" validate:"required,min=1,max=128"`
	Slug        string `json:"slug,omitempty" validate:"max=64"`
	Description string `json:"description,omitempty" validate:"max=1024"`
}

func (p *workspacePayload) normalize() {
	p.ID = strings.TrimSpace(p.ID)
	p.Name = strings.TrimSpace(p.Name)
	p.Slug = strings.TrimSpace(p.Slug)
}

type normalizer interface{ normalize() }

// decodePayload decodes and validates a JSON write body, answering the 400
// itself. Payloads are normalized before validation so whitespace-only
// fields fail the required check.
func decodePayload(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return false
	}
	if n, ok := dst.(normalizer); ok {
		n.normalize()
	}
	if err := validate.Struct(dst); err != nil {
		writeError(w, http.StatusBadRequest, validationMessage(err))
		return false
	}
	return true
}

func validationMessage(err error) string {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		fe := verrs[0]
		return fmt.Sprintf("field %s failed %s validation", strings.ToLower(fe.Field()), fe.Tag())
	}
	return "invalid payload"
}

// RegisterRoutesOnMux registers tenancy routes on the provided ServeMux.
// Tests create their own muxes to avoid DefaultServeMux races; callers
// are responsible for not registering the same mux twice.
func RegisterRoutesOnMux(mux *http.ServeMux, s storage.Store) {
	dbStore = s
	wrap := func(h http.HandlerFunc) http.HandlerFunc {
		if AuthMiddleware != nil {
			return AuthMiddleware(h)
		}
		return h
	}

	mux.HandleFunc("/api/v1/orgs", wrap(handleOrgs))
	mux.HandleFunc("/api/v1/orgs/", wrap(handleOrgRoute))
	mux.HandleFunc("/api/v1/workspaces/", wrap(handleWorkspaceRoute))
}

// handleOrgs supports GET (list) and POST (create).
func handleOrgs(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		if !authorizeOrReject(w, r, authz.ActionOrgsRead, authz.ResourceRef{}) {
			return
		}
		list, err := dbStore.ListOrganizations(r.Context())
		if err != nil {
			writeError(w, http.StatusInternalServerError, "failed to list organizations")
			return
		}
		writeJSON(w, http.StatusOK, list)
	case http.MethodPost:
		if !authorizeOrReject(w, r, authz.ActionOrgsWrite, authz.ResourceRef{}) {
			return
		}
		var in orgPayload
		if !decodePayload(w, r, &in) {
			return
		}
		org := &storage.Organization{
			ID:          in.ID,
			Name:        in.Name,
			Slug:        in.Slug,
			Description: in.Description,
		}
		if err := dbStore.CreateOrganization(r.Context(), org); err != nil {
			writeError(w, http.StatusInternalServerError, "failed to create organization")
			return
		}
		writeJSON(w, http.StatusOK, org)
		recordAudit(r, &storage.AuditEntry{
			Action:     "org.create",
			TargetType: "org",
			TargetID:   org.ID,
			OrgID:      org.ID,
			Details:    fmt.Sprintf("Created organization %s", org.Name),
		})
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

// handleOrgRoute dispatches /api/v1/orgs/{id}, /api/v1/orgs/{id}/workspaces
// and registered subresources like /api/v1/orgs/{id}/modules.
func handleOrgRoute(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/v1/orgs/")
	rest = strings.Trim(rest, "/")
	if rest == "" {
		http.NotFound(w, r)
		return
	}
	parts := strings.SplitN(rest, "/", 2)
	orgID := strings.TrimSpace(parts[0])
	if orgID == "" {
		http.NotFound(w, r)
		return
	}
	if len(parts) == 1 {
		handleOrgByID(w, r, orgID)
		return
	}
	subParts := strings.SplitN(strings.Trim(parts[1], "/"), "/", 2)
	resource := subParts[0]
	remainder := ""
	if len(subParts) == 2 {
		remainder = subParts[1]
	}
	if resource == "workspaces" && remainder == "" {
		handleOrgWorkspaces(w, r, orgID)
		return
	}
	if handler := getOrgSubresourceHandler(resource); handler != nil {
		handler(w, r, orgID, remainder)
		return
	}
	http.NotFound(w, r)
}

func handleOrgByID(w http.ResponseWriter, r *http.Request, orgID string) {
	switch r.Method {
	case http.MethodGet:
		if !authorizeOrReject(w, r, authz.ActionOrgsRead, authz.ResourceRef{OrgIDs: []string{orgID}}) {
			return
		}
		org, err := dbStore.GetOrganization(r.Context(), orgID)
		if err != nil {
			writeOrgLookupError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, org)
	case http.MethodPut:
		if !authorizeOrReject(w, r, authz.ActionOrgsWrite, authz.ResourceRef{OrgIDs: []string{orgID}}) {
			return
		}
		var in orgPayload
		if !decodePayload(w, r, &in) {
			return
		}
		org, err := dbStore.GetOrganization(r.Context(), orgID)
		if err != nil {
			writeOrgLookupError(w, err)
			return
		}
		org.Name = in.Name
		org.Slug = in.Slug
		org.Description = in.Description
		if err := dbStore.UpdateOrganization(r.Context(), org); err != nil {
			writeError(w, http.StatusInternalServerError, "failed to update organization")
			return
		}
		writeJSON(w, http.StatusOK, org)
		recordAudit(r, &storage.AuditEntry{
			Action:     "org.update",
			TargetType: "org",
			TargetID:   org.ID,
			OrgID:      org.ID,
			Details:    fmt.Sprintf("Updated organization %s", org.Name),
		})
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

// handleOrgWorkspaces supports GET (list) and POST (create) of workspaces
// under an organization.
func handleOrgWorkspaces(w http.ResponseWriter, r *http.Request, orgID string) {
	if _, err := dbStore.GetOrganization(r.Context(), orgID); err != nil {
		writeOrgLookupError(w, err)
		return
	}
	switch r.Method {
	case http.MethodGet:
		if !authorizeOrReject(w, r, authz.ActionWorkspacesRead, authz.ResourceRef{OrgIDs: []string{orgID}}) {
			return
		}
		list, err := dbStore.ListWorkspaces(r.Context(), orgID)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "failed to list workspaces")
			return
		}
		writeJSON(w, http.StatusOK, list)
	case http.MethodPost:
		if !authorizeOrReject(w, r, authz.ActionWorkspacesWrite, authz.ResourceRef{OrgIDs: []string{orgID}}) {
			return
		}
		var in workspacePayload
		if !decodePayload(w, r, &in) {
			return
		}
		ws := &storage.Workspace{
			ID:          in.ID,
			OrgID:       orgID,
			Name:        in.Name,
			Slug:        in.Slug,
			Description: in.Description,
		}
		if err := dbStore.CreateWorkspace(r.Context(), ws); err != nil {
			writeError(w, http.StatusInternalServerError, "failed to create workspace")
			return
		}
		writeJSON(w, http.StatusOK, ws)
		recordAudit(r, &storage.AuditEntry{
			Action:      "workspace.create",
			TargetType:  "workspace",
			TargetID:    ws.ID,
			OrgID:       orgID,
			WorkspaceID: ws.ID,
			Details:     fmt.Sprintf("Created workspace %s in organization %s", ws.Name, orgID),
		})
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

// handleWorkspaceRoute dispatches /api/v1/workspaces/{id} and registered
// subresources like /api/v1/workspaces/{id}/modules.
func handleWorkspaceRoute(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/v1/workspaces/")
	rest = strings.Trim(rest, "/")
	if rest == "" {
		http.NotFound(w, r)
		return
	}
	parts := strings.SplitN(rest, "/", 2)
	workspaceID := strings.TrimSpace(parts[0])
	if workspaceID == "" {
		http.NotFound(w, r)
		return
	}
	if len(parts) == 1 {
		handleWorkspaceByID(w, r, workspaceID)
		return
	}
	subParts := strings.SplitN(strings.Trim(parts[1], "/"), "/", 2)
	resource := subParts[0]
	remainder := ""
	if len(subParts) == 2 {
		remainder = subParts[1]
	}
	if handler := getWorkspaceSubresourceHandler(resource); handler != nil {
		handler(w, r, workspaceID, remainder)
		return
	}
	http.NotFound(w, r)
}

func handleWorkspaceByID(w http.ResponseWriter, r *http.Request, workspaceID string) {
	ws, err := dbStore.GetWorkspace(r.Context(), workspaceID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeError(w, http.StatusNotFound, "workspace not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to load workspace")
		return
	}
	resource := authz.ResourceRef{OrgIDs: []string{ws.OrgID}, WorkspaceIDs: []string{workspaceID}}
	switch r.Method {
	case http.MethodGet:
		if !authorizeOrReject(w, r, authz.ActionWorkspacesRead, resource) {
			return
		}
		writeJSON(w, http.StatusOK, ws)
	case http.MethodPut:
		if !authorizeOrReject(w, r, authz.ActionWorkspacesWrite, resource) {
			return
		}
		var in workspacePayload
		if !decodePayload(w, r, &in) {
			return
		}
		ws.Name = in.Name
		ws.Slug = in.Slug
		ws.Description = in.Description
		if err := dbStore.UpdateWorkspace(r.Context(), ws); err != nil {
			writeError(w, http.StatusInternalServerError, "failed to update workspace")
			return
		}
		writeJSON(w, http.StatusOK, ws)
		recordAudit(r, &storage.AuditEntry{
			Action:      "workspace.update",
			TargetType:  "workspace",
			TargetID:    ws.ID,
			OrgID:       ws.OrgID,
			WorkspaceID: ws.ID,
			Details:     fmt.Sprintf("Updated workspace %s", ws.Name),
		})
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func writeOrgLookupError(w http.ResponseWriter, err error) {
	if errors.Is(err, storage.ErrNotFound) {
		writeError(w, http.StatusNotFound, "organization not found")
		return
	}
	writeError(w, http.StatusInternalServerError, "failed to load organization")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
