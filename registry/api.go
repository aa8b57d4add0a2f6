package registry

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/bodhix-ai/cora-registry/authz"
	"github.com/bodhix-ai/cora-registry/metrics"
	"github.com/bodhix-ai/cora-registry/storage"
	"github.com/bodhix-ai/cora-registry/tenancy"
)

// APIOptions carry cross-cutting concerns required by the HTTP layer.
type APIOptions struct {
	AuthMiddleware func(http.HandlerFunc) http.HandlerFunc
	Authorizer     func(*http.Request, authz.Action, authz.ResourceRef) error
	ActorResolver  func(*http.Request) string
	AuditLogger    func(*http.Request, *storage.AuditEntry)
}

// RouteConfig controls how HTTP routes are registered.
type RouteConfig struct {
	Mux *http.ServeMux
}

// API exposes HTTP handlers for the module registry: system-tier module
// definitions plus org- and workspace-tier overrides with resolved views.
type API struct {
	store         Store
	resolver      *Resolver
	cache         *Cache
	guard         *Guard
	validate      *validator.Validate
	authWrap      func(http.HandlerFunc) http.HandlerFunc
	authorizer    func(*http.Request, authz.Action, authz.ResourceRef) error
	actorResolver func(*http.Request) string
	auditLogger   func(*http.Request, *storage.AuditEntry)
}

// NewAPI builds an API backed by the provided store. A nil cache disables
// decision caching and every read hits the store.
func NewAPI(store Store, cache *Cache, opts APIOptions) (*API, error) {
	if store == nil {
		return nil, errors.New("registry API requires a store")
	}
	resolver, err := NewResolver(store)
	if err != nil {
		return nil, err
	}
	guard, err := NewGuard(resolver)
	if err != nil {
		return nil, err
	}
	return &API{
		store:         store,
		resolver:      resolver,
		cache:         cache,
		guard:         guard,
		validate:      validator.New(validator.WithRequiredStructEnabled()),
		authWrap:      opts.AuthMiddleware,
		authorizer:    opts.Authorizer,
		actorResolver: opts.ActorResolver,
		auditLogger:   opts.AuditLogger,
	}, nil
}

// RegisterRoutes wires the HTTP handlers onto the mux and hooks the
// module subresources into the tenancy router.
func (api *API) RegisterRoutes(cfg RouteConfig) {
	mux := cfg.Mux
	if mux == nil {
		mux = http.DefaultServeMux
	}
	wrap := api.wrap

	mux.HandleFunc("/api/v1/modules", wrap(api.handleModules))
	mux.HandleFunc("/api/v1/modules/", wrap(api.handleModuleRoute))

	tenancy.RegisterOrgSubresource("modules", api.orgSubresourceHandler())
	tenancy.RegisterWorkspaceSubresource("modules", api.workspaceSubresourceHandler())
}

func (api *API) wrap(handler http.HandlerFunc) http.HandlerFunc {
	if api.authWrap == nil {
		return handler
	}
	return api.authWrap(handler)
}

func (api *API) authorize(w http.ResponseWriter, r *http.Request, action authz.Action, resource authz.ResourceRef) bool {
	if api.authorizer == nil {
		http.Error(w, "authorization not configured", http.StatusInternalServerError)
		return false
	}
	if err := api.authorizer(r, action, resource); err != nil {
		status := http.StatusForbidden
		if errors.Is(err, authz.ErrUnauthorized) {
			status = http.StatusUnauthorized
		}
		http.Error(w, http.StatusText(status), status)
		return false
	}
	return true
}

func (api *API) actorLabel(r *http.Request) string {
	if api.actorResolver == nil {
		return "system"
	}
	if name := strings.TrimSpace(api.actorResolver(r)); name != "" {
		return name
	}
	return "system"
}

func (api *API) audit(r *http.Request, entry *storage.AuditEntry) {
	if api.auditLogger == nil || entry == nil {
		return
	}
	api.auditLogger(r, entry)
}

// resolveScope resolves one module for a scope through the cache when
// one is configured, recording latency and outcome.
func (api *API) resolveScope(r *http.Request, moduleName, orgID, workspaceID string) (*ResolvedModuleView, error) {
	start := time.Now()
	var view *ResolvedModuleView
	var err error
	if api.cache != nil {
		view, err = api.cache.Resolve(r.Context(), moduleName, orgID, workspaceID)
	} else {
		view, err = api.resolver.Resolve(r.Context(), moduleName, orgID, workspaceID)
	}
	metrics.ResolveDuration.Observe(time.Since(start).Seconds())
	metrics.ResolveTotal.WithLabelValues(resolveOutcome(err)).Inc()
	return view, err
}

func (api *API) resolveScopeAll(r *http.Request, orgID, workspaceID string) ([]*ResolvedModuleView, error) {
	start := time.Now()
	var views []*ResolvedModuleView
	var err error
	if api.cache != nil {
		views, err = api.cache.ResolveAll(r.Context(), orgID, workspaceID)
	} else {
		views, err = api.resolver.ResolveAll(r.Context(), orgID, workspaceID)
	}
	metrics.ResolveDuration.Observe(time.Since(start).Seconds())
	metrics.ResolveTotal.WithLabelValues(resolveOutcome(err)).Inc()
	return views, err
}

func resolveOutcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrModuleNotFound):
		return "not_found"
	default:
		return "error"
	}
}

// moduleDefinitionRequest is the system-tier write payload.
type moduleDefinitionRequest struct {
	Name         string          `json:"name" validate:"required,min=1,max=64"`
	DisplayName  string          `json:"display_name" validate:"max=128"`
	ModuleType   string          `json:"module_type" validate:"omitempty,oneof=core functional"`
	Version      string          `json:"version" validate:"omitempty,semver"`
	Installed    *bool           `json:"installed"`
	Enabled      *bool           `json:"enabled"`
	Deprecated   bool            `json:"deprecated"`
	Dependencies []string        `json:"dependencies" validate:"dive,required"`
	Config       map[string]any  `json:"config"`
	FeatureFlags map[string]bool `json:"feature_flags"`
}

// overrideWriteRequest replaces an override row at the org or workspace
// tier. Enabled accepts "enabled", "disabled", "inherit" or null.
type overrideWriteRequest struct {
	Enabled      storage.EnableState `json:"enabled"`
	Config       map[string]any      `json:"config"`
	FeatureFlags map[string]bool     `json:"feature_flags"`
}

// handleModules supports GET (list definitions) and POST (create/update).
func (api *API) handleModules(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		if !api.authorize(w, r, authz.ActionModulesRead, authz.ResourceRef{}) {
			return
		}
		defs, err := api.store.ListModuleDefinitions(r.Context())
		if err != nil {
			writeRegistryError(w, storeErr("module definition list", err))
			return
		}
		sort.Slice(defs, func(i, j int) bool { return defs[i].Name < defs[j].Name })
		writeJSON(w, http.StatusOK, defs)
	case http.MethodPost:
		if !api.authorize(w, r, authz.ActionModulesSystemWrite, authz.ResourceRef{}) {
			return
		}
		api.saveModuleDefinition(w, r)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

// handleModuleRoute dispatches /api/v1/modules/{name}[/enable|/disable].
func (api *API) handleModuleRoute(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/v1/modules/")
	rest = strings.Trim(rest, "/")
	if rest == "" {
		http.NotFound(w, r)
		return
	}
	parts := strings.SplitN(rest, "/", 2)
	name := strings.TrimSpace(parts[0])
	if name == "" {
		http.NotFound(w, r)
		return
	}
	if len(parts) == 1 {
		api.handleModuleByName(w, r, name)
		return
	}
	switch parts[1] {
	case "enable":
		api.setSystemEnabled(w, r, name, true)
	case "disable":
		api.setSystemEnabled(w, r, name, false)
	default:
		http.NotFound(w, r)
	}
}

func (api *API) handleModuleByName(w http.ResponseWriter, r *http.Request, name string) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if !api.authorize(w, r, authz.ActionModulesRead, authz.ResourceRef{}) {
		return
	}
	def, err := api.store.GetModuleDefinition(r.Context(), name)
	if err != nil {
		writeRegistryError(w, storeErr("module definition lookup", err))
		return
	}
	writeJSON(w, http.StatusOK, def)
}

func (api *API) saveModuleDefinition(w http.ResponseWriter, r *http.Request) {
	var in moduleDefinitionRequest
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if err := api.validate.Struct(in); err != nil {
		writeRegistryError(w, &ValidationError{Issues: validationIssues(err)})
		return
	}
	modType, err := storage.ParseModuleType(in.ModuleType)
	if err != nil {
		writeRegistryError(w, &ValidationError{Issues: []string{err.Error()}})
		return
	}

	name := strings.TrimSpace(in.Name)
	def := &storage.ModuleDefinition{
		Name:              name,
		DisplayName:       strings.TrimSpace(in.DisplayName),
		ModuleType:        modType,
		Version:           strings.TrimSpace(in.Version),
		IsInstalled:       true,
		IsEnabledBySystem: true,
		BaseConfig:        in.Config,
		BaseFeatureFlags:  in.FeatureFlags,
		Dependencies:      in.Dependencies,
		Deprecated:        in.Deprecated,
	}
	if def.DisplayName == "" {
		def.DisplayName = name
	}
	if prev, err := api.store.GetModuleDefinition(r.Context(), name); err == nil {
		// Partial intent: absent booleans keep the stored state.
		def.IsInstalled = prev.IsInstalled
		def.IsEnabledBySystem = prev.IsEnabledBySystem
	} else if !errors.Is(err, storage.ErrNotFound) {
		writeRegistryError(w, storeErr("module definition lookup", err))
		return
	}
	if in.Installed != nil {
		def.IsInstalled = *in.Installed
	}
	if in.Enabled != nil {
		def.IsEnabledBySystem = *in.Enabled
	}

	actor := api.actorLabel(r)
	def.UpdatedBy = actor
	if err := api.store.UpsertModuleDefinition(r.Context(), def); err != nil {
		writeRegistryError(w, storeErr("module definition upsert", err))
		return
	}
	metrics.OverrideWrites.WithLabelValues(string(storage.TierSystem)).Inc()
	stored, err := api.store.GetModuleDefinition(r.Context(), name)
	if err != nil {
		writeRegistryError(w, storeErr("module definition lookup", err))
		return
	}
	writeJSON(w, http.StatusOK, stored)
	api.audit(r, &storage.AuditEntry{
		Action:     "module.definition.update",
		TargetType: "module",
		TargetID:   name,
		Details:    fmt.Sprintf("Module %s definition updated by %s", name, actor),
		Metadata: map[string]any{
			"installed": def.IsInstalled,
			"enabled":   def.IsEnabledBySystem,
			"version":   def.Version,
		},
	})
}

// setSystemEnabled flips the system-tier kill switch for a module.
func (api *API) setSystemEnabled(w http.ResponseWriter, r *http.Request, name string, enabled bool) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if !api.authorize(w, r, authz.ActionModulesSystemWrite, authz.ResourceRef{}) {
		return
	}
	def, err := api.store.GetModuleDefinition(r.Context(), name)
	if err != nil {
		writeRegistryError(w, storeErr("module definition lookup", err))
		return
	}
	actor := api.actorLabel(r)
	if def.IsEnabledBySystem != enabled {
		def.IsEnabledBySystem = enabled
		def.UpdatedBy = actor
		if err := api.store.UpsertModuleDefinition(r.Context(), def); err != nil {
			writeRegistryError(w, storeErr("module definition upsert", err))
			return
		}
		metrics.OverrideWrites.WithLabelValues(string(storage.TierSystem)).Inc()
	}
	writeJSON(w, http.StatusOK, def)
	verb := "disabled"
	if enabled {
		verb = "enabled"
	}
	api.audit(r, &storage.AuditEntry{
		Action:     "module.system." + verb,
		TargetType: "module",
		TargetID:   name,
		Details:    fmt.Sprintf("Module %s %s at system tier by %s", name, verb, actor),
	})
}

// orgSubresourceHandler serves /api/v1/orgs/{orgID}/modules[/{name}].
func (api *API) orgSubresourceHandler() tenancy.OrgSubresourceHandler {
	return func(w http.ResponseWriter, r *http.Request, orgID, rest string) {
		handler := api.wrap(func(w http.ResponseWriter, r *http.Request) {
			api.handleOrgModules(w, r, orgID, strings.Trim(rest, "/"))
		})
		handler(w, r)
	}
}

func (api *API) handleOrgModules(w http.ResponseWriter, r *http.Request, orgID, rest string) {
	if strings.Contains(rest, "/") {
		http.NotFound(w, r)
		return
	}
	if _, err := api.store.GetOrganization(r.Context(), orgID); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeError(w, http.StatusNotFound, "organization not found")
			return
		}
		writeRegistryError(w, storeErr("organization lookup", err))
		return
	}
	resource := authz.ResourceRef{OrgIDs: []string{orgID}}

	if rest == "" {
		if r.Method != http.MethodGet {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		if !api.authorize(w, r, authz.ActionModulesRead, resource) {
			return
		}
		views, err := api.resolveScopeAll(r, orgID, "")
		if err != nil {
			writeRegistryError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, views)
		return
	}

	moduleName := rest
	switch r.Method {
	case http.MethodGet:
		if !api.authorize(w, r, authz.ActionModulesRead, resource) {
			return
		}
		view, err := api.resolveScope(r, moduleName, orgID, "")
		if err != nil {
			writeRegistryError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, view)
	case http.MethodPut:
		if !api.authorize(w, r, authz.ActionModulesOrgWrite, resource) {
			return
		}
		api.saveOrgOverride(w, r, orgID, moduleName)
	case http.MethodDelete:
		if !api.authorize(w, r, authz.ActionModulesOrgWrite, resource) {
			return
		}
		if err := api.guard.ValidateWrite(r.Context(), storage.TierOrg, moduleName, storage.EnableInherit, orgID); err != nil {
			writeRegistryError(w, err)
			return
		}
		if err := api.store.DeleteOrgOverride(r.Context(), orgID, moduleName); err != nil {
			writeRegistryError(w, storeErr("org override delete", err))
			return
		}
		api.audit(r, &storage.AuditEntry{
			Action:     "module.override.org.reset",
			TargetType: "module",
			TargetID:   moduleName,
			OrgID:      orgID,
			Details:    fmt.Sprintf("Cleared org override for module %s", moduleName),
		})
		view, err := api.resolveScope(r, moduleName, orgID, "")
		if err != nil {
			writeRegistryError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, view)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (api *API) saveOrgOverride(w http.ResponseWriter, r *http.Request, orgID, moduleName string) {
	var in overrideWriteRequest
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if err := api.guard.ValidateWrite(r.Context(), storage.TierOrg, moduleName, in.Enabled, orgID); err != nil {
		if isCascadeViolation(err) {
			metrics.CascadeViolations.Inc()
		}
		writeRegistryError(w, err)
		return
	}
	actor := api.actorLabel(r)
	ov := &storage.OrgModuleOverride{
		OrgID:                orgID,
		ModuleName:           moduleName,
		Enabled:              in.Enabled,
		ConfigOverrides:      in.Config,
		FeatureFlagOverrides: in.FeatureFlags,
		UpdatedBy:            actor,
	}
	if err := api.store.UpsertOrgOverride(r.Context(), ov); err != nil {
		writeRegistryError(w, storeErr("org override upsert", err))
		return
	}
	metrics.OverrideWrites.WithLabelValues(string(storage.TierOrg)).Inc()
	view, err := api.resolveScope(r, moduleName, orgID, "")
	if err != nil {
		writeRegistryError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
	api.audit(r, &storage.AuditEntry{
		Action:     "module.override.org.update",
		TargetType: "module",
		TargetID:   moduleName,
		OrgID:      orgID,
		Details:    fmt.Sprintf("Org override for module %s updated by %s", moduleName, actor),
		Metadata: map[string]any{
			"enabled":       in.Enabled,
			"config_keys":   mapKeys(in.Config),
			"feature_flags": boolMapKeys(in.FeatureFlags),
		},
	})
}

// workspaceSubresourceHandler serves /api/v1/workspaces/{wsID}/modules[/{name}].
func (api *API) workspaceSubresourceHandler() tenancy.WorkspaceSubresourceHandler {
	return func(w http.ResponseWriter, r *http.Request, workspaceID, rest string) {
		handler := api.wrap(func(w http.ResponseWriter, r *http.Request) {
			api.handleWorkspaceModules(w, r, workspaceID, strings.Trim(rest, "/"))
		})
		handler(w, r)
	}
}

func (api *API) handleWorkspaceModules(w http.ResponseWriter, r *http.Request, workspaceID, rest string) {
	if strings.Contains(rest, "/") {
		http.NotFound(w, r)
		return
	}
	ws, err := api.store.GetWorkspace(r.Context(), workspaceID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeError(w, http.StatusNotFound, "workspace not found")
			return
		}
		writeRegistryError(w, storeErr("workspace lookup", err))
		return
	}
	resource := authz.ResourceRef{OrgIDs: []string{ws.OrgID}, WorkspaceIDs: []string{workspaceID}}

	if rest == "" {
		if r.Method != http.MethodGet {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		if !api.authorize(w, r, authz.ActionModulesRead, resource) {
			return
		}
		views, err := api.resolveScopeAll(r, ws.OrgID, workspaceID)
		if err != nil {
			writeRegistryError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, views)
		return
	}

	moduleName := rest
	switch r.Method {
	case http.MethodGet:
		if !api.authorize(w, r, authz.ActionModulesRead, resource) {
			return
		}
		view, err := api.resolveScope(r, moduleName, ws.OrgID, workspaceID)
		if err != nil {
			writeRegistryError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, view)
	case http.MethodPut:
		if !api.authorize(w, r, authz.ActionModulesWsWrite, resource) {
			return
		}
		api.saveWorkspaceOverride(w, r, ws, moduleName)
	case http.MethodDelete:
		if !api.authorize(w, r, authz.ActionModulesWsWrite, resource) {
			return
		}
		if err := api.guard.ValidateWrite(r.Context(), storage.TierWorkspace, moduleName, storage.EnableInherit, ws.OrgID); err != nil {
			writeRegistryError(w, err)
			return
		}
		if err := api.store.DeleteWorkspaceOverride(r.Context(), workspaceID, moduleName); err != nil {
			writeRegistryError(w, storeErr("workspace override delete", err))
			return
		}
		api.audit(r, &storage.AuditEntry{
			Action:      "module.override.workspace.reset",
			TargetType:  "module",
			TargetID:    moduleName,
			OrgID:       ws.OrgID,
			WorkspaceID: workspaceID,
			Details:     fmt.Sprintf("Cleared workspace override for module %s", moduleName),
		})
		view, err := api.resolveScope(r, moduleName, ws.OrgID, workspaceID)
		if err != nil {
			writeRegistryError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, view)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (api *API) saveWorkspaceOverride(w http.ResponseWriter, r *http.Request, ws *storage.Workspace, moduleName string) {
	var in overrideWriteRequest
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if err := api.guard.ValidateWrite(r.Context(), storage.TierWorkspace, moduleName, in.Enabled, ws.OrgID); err != nil {
		if isCascadeViolation(err) {
			metrics.CascadeViolations.Inc()
		}
		writeRegistryError(w, err)
		return
	}
	actor := api.actorLabel(r)
	ov := &storage.WorkspaceModuleOverride{
		WorkspaceID:          ws.ID,
		ModuleName:           moduleName,
		Enabled:              in.Enabled,
		ConfigOverrides:      in.Config,
		FeatureFlagOverrides: in.FeatureFlags,
		UpdatedBy:            actor,
	}
	if err := api.store.UpsertWorkspaceOverride(r.Context(), ov); err != nil {
		writeRegistryError(w, storeErr("workspace override upsert", err))
		return
	}
	metrics.OverrideWrites.WithLabelValues(string(storage.TierWorkspace)).Inc()
	view, err := api.resolveScope(r, moduleName, ws.OrgID, ws.ID)
	if err != nil {
		writeRegistryError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
	api.audit(r, &storage.AuditEntry{
		Action:      "module.override.workspace.update",
		TargetType:  "module",
		TargetID:    moduleName,
		OrgID:       ws.OrgID,
		WorkspaceID: ws.ID,
		Details:     fmt.Sprintf("Workspace override for module %s updated by %s", moduleName, actor),
		Metadata: map[string]any{
			"enabled":       in.Enabled,
			"config_keys":   mapKeys(in.Config),
			"feature_flags": boolMapKeys(in.FeatureFlags),
		},
	})
}

func isCascadeViolation(err error) bool {
	var cv *CascadeViolationError
	return errors.As(err, &cv)
}

func validationIssues(err error) []string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return []string{err.Error()}
	}
	issues := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		issues = append(issues, fmt.Sprintf("field %s failed %s validation", fe.Field(), fe.Tag()))
	}
	return issues
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// writeRegistryError maps the error taxonomy onto HTTP statuses. Storage
// outages surface as 503, never as a silently inherited default.
func writeRegistryError(w http.ResponseWriter, err error) {
	var cv *CascadeViolationError
	var ve *ValidationError
	var su *StoreUnavailableError
	switch {
	case errors.Is(err, ErrModuleNotFound):
		writeError(w, http.StatusNotFound, "module not found")
	case errors.As(err, &cv):
		writeJSON(w, http.StatusConflict, map[string]any{
			"error":         cv.Error(),
			"module":        cv.ModuleName,
			"blocking_tier": cv.BlockingTier,
		})
	case errors.As(err, &ve):
		writeJSON(w, http.StatusBadRequest, map[string]any{
			"error":             "invalid payload",
			"validation_errors": ve.Issues,
		})
	case errors.As(err, &su):
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error":  "storage unavailable",
			"detail": su.Error(),
		})
	default:
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error":  "internal error",
			"detail": err.Error(),
		})
	}
}

func mapKeys(m map[string]any) []string {
	if len(m) == 0 {
		return nil
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func boolMapKeys(m map[string]bool) []string {
	if len(m) == 0 {
		return nil
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
