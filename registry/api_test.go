package registry

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/bodhix-ai/cora-registry/authz"
	"github.com/bodhix-ai/cora-registry/storage"
)

func allowAllAuthorizer(*http.Request, authz.Action, authz.ResourceRef) error {
	return nil
}

func newTestAPI(t *testing.T, store *fakeStore) *API {
	t.Helper()
	api, err := NewAPI(store, nil, APIOptions{
		Authorizer:    allowAllAuthorizer,
		ActorResolver: func(*http.Request) string { return "alice" },
	})
	if err != nil {
		t.Fatalf("new api: %v", err)
	}
	return api
}

func TestAPISaveModuleDefinition(t *testing.T) {
	store := newFakeStore()
	api := newTestAPI(t, store)

	body, _ := json.Marshal(map[string]any{
		"name":          "chat",
		"display_name":  "Chat",
		"module_type":   "functional",
		"version":       "1.2.0",
		"config":        map[string]any{"model": "standard"},
		"feature_flags": map[string]bool{"streaming": true},
	})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/modules", bytes.NewReader(body))
	rr := httptest.NewRecorder()
	api.handleModules(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("unexpected status: %d body=%s", rr.Code, rr.Body.String())
	}
	def := store.defs["chat"]
	if def == nil {
		t.Fatalf("definition not persisted")
	}
	if !def.IsInstalled || !def.IsEnabledBySystem {
		t.Fatalf("new definition should default to installed and enabled: %+v", def)
	}
	if def.UpdatedBy != "alice" {
		t.Fatalf("actor not recorded: %q", def.UpdatedBy)
	}
}

func TestAPISaveModuleDefinitionRejectsBadPayload(t *testing.T) {
	store := newFakeStore()
	api := newTestAPI(t, store)

	for _, payload := range []map[string]any{
		{"display_name": "missing name"},
		{"name": "chat", "module_type": "bogus"},
		{"name": "chat", "version": "not-semver"},
	} {
		body, _ := json.Marshal(payload)
		req := httptest.NewRequest(http.MethodPost, "/api/v1/modules", bytes.NewReader(body))
		rr := httptest.NewRecorder()
		api.handleModules(rr, req)
		if rr.Code != http.StatusBadRequest {
			t.Fatalf("payload %+v: expected 400, got %d", payload, rr.Code)
		}
	}
	if len(store.defs) != 0 {
		t.Fatalf("rejected payloads reached the store")
	}
}

func TestAPISystemDisableEndpoint(t *testing.T) {
	store := newFakeStore()
	store.addDef(enabledDef("chat"))
	api := newTestAPI(t, store)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/modules/chat/disable", nil)
	rr := httptest.NewRecorder()
	api.handleModuleRoute(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("unexpected status: %d", rr.Code)
	}
	if store.defs["chat"].IsEnabledBySystem {
		t.Fatalf("kill switch not persisted")
	}
}

func TestAPIOrgOverridePutResolvesView(t *testing.T) {
	store := newFakeStore()
	def := enabledDef("chat")
	def.BaseConfig = map[string]any{"a": 1, "b": 1}
	store.addDef(def)
	store.orgs["org-1"] = &storage.Organization{ID: "org-1", Name: "Acme"}
	api := newTestAPI(t, store)

	body, _ := json.Marshal(map[string]any{
		"enabled": "inherit",
		"config":  map[string]any{"a": 2},
	})
	req := httptest.NewRequest(http.MethodPut, "/api/v1/orgs/org-1/modules/chat", bytes.NewReader(body))
	rr := httptest.NewRecorder()
	api.handleOrgModules(rr, req, "org-1", "chat")
	if rr.Code != http.StatusOK {
		t.Fatalf("unexpected status: %d body=%s", rr.Code, rr.Body.String())
	}

	var view ResolvedModuleView
	if err := json.Unmarshal(rr.Body.Bytes(), &view); err != nil {
		t.Fatalf("decode view: %v", err)
	}
	if !view.Enabled || view.Config["a"] != float64(2) || view.Config["b"] != float64(1) {
		t.Fatalf("resolved view wrong: %+v", view)
	}
	ov := store.orgOverrides["org-1"]["chat"]
	if ov == nil || ov.UpdatedBy != "alice" {
		t.Fatalf("override not persisted with actor: %+v", ov)
	}
}

func TestAPIOrgEnableBlockedBySystemLeavesStoreUnchanged(t *testing.T) {
	store := newFakeStore()
	def := enabledDef("search")
	def.IsEnabledBySystem = false
	store.addDef(def)
	store.orgs["org-1"] = &storage.Organization{ID: "org-1", Name: "Acme"}
	api := newTestAPI(t, store)

	body, _ := json.Marshal(map[string]any{"enabled": "enabled"})
	req := httptest.NewRequest(http.MethodPut, "/api/v1/orgs/org-1/modules/search", bytes.NewReader(body))
	rr := httptest.NewRecorder()
	api.handleOrgModules(rr, req, "org-1", "search")
	if rr.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d body=%s", rr.Code, rr.Body.String())
	}
	var resp map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp["blocking_tier"] != "system" {
		t.Fatalf("blocking tier not named: %+v", resp)
	}
	if len(store.orgOverrides["org-1"]) != 0 {
		t.Fatalf("rejected write reached the store")
	}
}

func TestAPIWorkspaceEnableBlockedByOrg(t *testing.T) {
	store := newFakeStore()
	store.addDef(enabledDef("chat"))
	store.orgs["org-1"] = &storage.Organization{ID: "org-1", Name: "Acme"}
	store.workspaces["ws-1"] = &storage.Workspace{ID: "ws-1", OrgID: "org-1", Name: "Research"}
	store.addOrgOverride(&storage.OrgModuleOverride{OrgID: "org-1", ModuleName: "chat", Enabled: storage.EnableDisabled})
	api := newTestAPI(t, store)

	body, _ := json.Marshal(map[string]any{"enabled": "enabled"})
	req := httptest.NewRequest(http.MethodPut, "/api/v1/workspaces/ws-1/modules/chat", bytes.NewReader(body))
	rr := httptest.NewRecorder()
	api.handleWorkspaceModules(rr, req, "ws-1", "chat")
	if rr.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", rr.Code)
	}
	if len(store.wsOverrides["ws-1"]) != 0 {
		t.Fatalf("rejected write reached the store")
	}
}

func TestAPIWorkspaceOverrideDisable(t *testing.T) {
	store := newFakeStore()
	store.addDef(enabledDef("chat"))
	store.orgs["org-1"] = &storage.Organization{ID: "org-1", Name: "Acme"}
	store.workspaces["ws-1"] = &storage.Workspace{ID: "ws-1", OrgID: "org-1", Name: "Research"}
	api := newTestAPI(t, store)

	body, _ := json.Marshal(map[string]any{"enabled": "disabled"})
	req := httptest.NewRequest(http.MethodPut, "/api/v1/workspaces/ws-1/modules/chat", bytes.NewReader(body))
	rr := httptest.NewRecorder()
	api.handleWorkspaceModules(rr, req, "ws-1", "chat")
	if rr.Code != http.StatusOK {
		t.Fatalf("unexpected status: %d body=%s", rr.Code, rr.Body.String())
	}
	var view ResolvedModuleView
	if err := json.Unmarshal(rr.Body.Bytes(), &view); err != nil {
		t.Fatalf("decode view: %v", err)
	}
	if view.Enabled || view.SourceOfDisablement != SourceWorkspace {
		t.Fatalf("disable not reflected in view: %+v", view)
	}
}

func TestAPIOverrideUnknownModule(t *testing.T) {
	store := newFakeStore()
	store.orgs["org-1"] = &storage.Organization{ID: "org-1", Name: "Acme"}
	api := newTestAPI(t, store)

	body, _ := json.Marshal(map[string]any{"enabled": "disabled"})
	req := httptest.NewRequest(http.MethodPut, "/api/v1/orgs/org-1/modules/ghost", bytes.NewReader(body))
	rr := httptest.NewRecorder()
	api.handleOrgModules(rr, req, "org-1", "ghost")
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rr.Code)
	}
}

func TestAPIOrgOverrideDeleteRestoresInheritance(t *testing.T) {
	store := newFakeStore()
	def := enabledDef("chat")
	def.BaseConfig = map[string]any{"a": 1}
	store.addDef(def)
	store.orgs["org-1"] = &storage.Organization{ID: "org-1", Name: "Acme"}
	store.addOrgOverride(&storage.OrgModuleOverride{
		OrgID:           "org-1",
		ModuleName:      "chat",
		Enabled:         storage.EnableDisabled,
		ConfigOverrides: map[string]any{"a": 9},
	})
	api := newTestAPI(t, store)

	req := httptest.NewRequest(http.MethodDelete, "/api/v1/orgs/org-1/modules/chat", nil)
	rr := httptest.NewRecorder()
	api.handleOrgModules(rr, req, "org-1", "chat")
	if rr.Code != http.StatusOK {
		t.Fatalf("unexpected status: %d", rr.Code)
	}
	var view ResolvedModuleView
	if err := json.Unmarshal(rr.Body.Bytes(), &view); err != nil {
		t.Fatalf("decode view: %v", err)
	}
	if !view.Enabled || view.Config["a"] != float64(1) {
		t.Fatalf("inheritance not restored after delete: %+v", view)
	}
}

func TestAPIListOrgModules(t *testing.T) {
	store := newFakeStore()
	store.addDef(enabledDef("chat"))
	store.addDef(enabledDef("search"))
	store.orgs["org-1"] = &storage.Organization{ID: "org-1", Name: "Acme"}
	api := newTestAPI(t, store)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/orgs/org-1/modules", nil)
	rr := httptest.NewRecorder()
	api.handleOrgModules(rr, req, "org-1", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("unexpected status: %d", rr.Code)
	}
	var views []ResolvedModuleView
	if err := json.Unmarshal(rr.Body.Bytes(), &views); err != nil {
		t.Fatalf("decode views: %v", err)
	}
	if len(views) != 2 || views[0].Name != "chat" || views[1].Name != "search" {
		t.Fatalf("unexpected listing: %+v", views)
	}
}

func TestAPIAuthorizationDenied(t *testing.T) {
	store := newFakeStore()
	store.addDef(enabledDef("chat"))
	api, err := NewAPI(store, nil, APIOptions{
		Authorizer: func(*http.Request, authz.Action, authz.ResourceRef) error {
			return authz.ErrForbidden
		},
	})
	if err != nil {
		t.Fatalf("new api: %v", err)
	}
	req := httptest.NewRequest(http.MethodGet, "/api/v1/modules", nil)
	rr := httptest.NewRecorder()
	api.handleModules(rr, req)
	if rr.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rr.Code)
	}
}
