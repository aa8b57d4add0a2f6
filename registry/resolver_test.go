package registry

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/bodhix-ai/cora-registry/storage"
)

type fakeStore struct {
	defs         map[string]*storage.ModuleDefinition
	orgOverrides map[string]map[string]*storage.OrgModuleOverride
	wsOverrides  map[string]map[string]*storage.WorkspaceModuleOverride
	orgs         map[string]*storage.Organization
	workspaces   map[string]*storage.Workspace

	failAll error

	defLookups int
	orgLookups int
	wsLookups  int
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		defs:         map[string]*storage.ModuleDefinition{},
		orgOverrides: map[string]map[string]*storage.OrgModuleOverride{},
		wsOverrides:  map[string]map[string]*storage.WorkspaceModuleOverride{},
		orgs:         map[string]*storage.Organization{},
		workspaces:   map[string]*storage.Workspace{},
	}
}

func (s *fakeStore) addDef(def *storage.ModuleDefinition) {
	s.defs[def.Name] = def
}

func (s *fakeStore) addOrgOverride(ov *storage.OrgModuleOverride) {
	if s.orgOverrides[ov.OrgID] == nil {
		s.orgOverrides[ov.OrgID] = map[string]*storage.OrgModuleOverride{}
	}
	s.orgOverrides[ov.OrgID][ov.ModuleName] = ov
}

func (s *fakeStore) addWorkspaceOverride(ov *storage.WorkspaceModuleOverride) {
	if s.wsOverrides[ov.WorkspaceID] == nil {
		s.wsOverrides[ov.WorkspaceID] = map[string]*storage.WorkspaceModuleOverride{}
	}
	s.wsOverrides[ov.WorkspaceID][ov.ModuleName] = ov
}

func (s *fakeStore) GetModuleDefinition(_ context.Context, name string) (*storage.ModuleDefinition, error) {
	s.defLookups++
	if s.failAll != nil {
		return nil, s.failAll
	}
	def, ok := s.defs[name]
	if !ok {
		return nil, fmt.Errorf("module definition %s: %w", name, storage.ErrNotFound)
	}
	copied := *def
	return &copied, nil
}

func (s *fakeStore) ListModuleDefinitions(context.Context) ([]*storage.ModuleDefinition, error) {
	if s.failAll != nil {
		return nil, s.failAll
	}
	out := make([]*storage.ModuleDefinition, 0, len(s.defs))
	for _, def := range s.defs {
		copied := *def
		out = append(out, &copied)
	}
	return out, nil
}

func (s *fakeStore) UpsertModuleDefinition(_ context.Context, def *storage.ModuleDefinition) error {
	if s.failAll != nil {
		return s.failAll
	}
	copied := *def
	s.defs[def.Name] = &copied
	return nil
}

func (s *fakeStore) GetOrgOverride(_ context.Context, orgID, moduleName string) (*storage.OrgModuleOverride, error) {
	s.orgLookups++
	if s.failAll != nil {
		return nil, s.failAll
	}
	ov := s.orgOverrides[orgID][moduleName]
	if ov == nil {
		return nil, nil
	}
	copied := *ov
	return &copied, nil
}

func (s *fakeStore) ListOrgOverrides(_ context.Context, orgID string) ([]*storage.OrgModuleOverride, error) {
	if s.failAll != nil {
		return nil, s.failAll
	}
	out := make([]*storage.OrgModuleOverride, 0, len(s.orgOverrides[orgID]))
	for _, ov := range s.orgOverrides[orgID] {
		copied := *ov
		out = append(out, &copied)
	}
	return out, nil
}

func (s *fakeStore) UpsertOrgOverride(_ context.Context, ov *storage.OrgModuleOverride) error {
	if s.failAll != nil {
		return s.failAll
	}
	s.addOrgOverride(ov)
	return nil
}

func (s *fakeStore) DeleteOrgOverride(_ context.Context, orgID, moduleName string) error {
	if s.failAll != nil {
		return s.failAll
	}
	delete(s.orgOverrides[orgID], moduleName)
	return nil
}

func (s *fakeStore) GetWorkspaceOverride(_ context.Context, workspaceID, moduleName string) (*storage.WorkspaceModuleOverride, error) {
	s.wsLookups++
	if s.failAll != nil {
		return nil, s.failAll
	}
	ov := s.wsOverrides[workspaceID][moduleName]
	if ov == nil {
		return nil, nil
	}
	copied := *ov
	return &copied, nil
}

func (s *fakeStore) ListWorkspaceOverrides(_ context.Context, workspaceID string) ([]*storage.WorkspaceModuleOverride, error) {
	if s.failAll != nil {
		return nil, s.failAll
	}
	out := make([]*storage.WorkspaceModuleOverride, 0, len(s.wsOverrides[workspaceID]))
	for _, ov := range s.wsOverrides[workspaceID] {
		copied := *ov
		out = append(out, &copied)
	}
	return out, nil
}

func (s *fakeStore) UpsertWorkspaceOverride(_ context.Context, ov *storage.WorkspaceModuleOverride) error {
	if s.failAll != nil {
		return s.failAll
	}
	s.addWorkspaceOverride(ov)
	return nil
}

func (s *fakeStore) DeleteWorkspaceOverride(_ context.Context, workspaceID, moduleName string) error {
	if s.failAll != nil {
		return s.failAll
	}
	delete(s.wsOverrides[workspaceID], moduleName)
	return nil
}

func (s *fakeStore) GetOrganization(_ context.Context, id string) (*storage.Organization, error) {
	if s.failAll != nil {
		return nil, s.failAll
	}
	org, ok := s.orgs[id]
	if !ok {
		return nil, fmt.Errorf("organization %s: %w", id, storage.ErrNotFound)
	}
	copied := *org
	return &copied, nil
}

func (s *fakeStore) GetWorkspace(_ context.Context, id string) (*storage.Workspace, error) {
	if s.failAll != nil {
		return nil, s.failAll
	}
	ws, ok := s.workspaces[id]
	if !ok {
		return nil, fmt.Errorf("workspace %s: %w", id, storage.ErrNotFound)
	}
	copied := *ws
	return &copied, nil
}

func enabledDef(name string) *storage.ModuleDefinition {
	return &storage.ModuleDefinition{
		Name:              name,
		DisplayName:       name,
		ModuleType:        storage.ModuleTypeFunctional,
		IsInstalled:       true,
		IsEnabledBySystem: true,
	}
}

func newTestResolver(t *testing.T, store *fakeStore) *Resolver {
	t.Helper()
	resolver, err := NewResolver(store)
	if err != nil {
		t.Fatalf("new resolver: %v", err)
	}
	return resolver
}

func TestResolveInheritanceByAbsence(t *testing.T) {
	store := newFakeStore()
	def := enabledDef("chat")
	def.BaseConfig = map[string]any{"model": "standard", "max_turns": 10}
	def.BaseFeatureFlags = map[string]bool{"streaming": true}
	store.addDef(def)
	resolver := newTestResolver(t, store)

	view, err := resolver.Resolve(context.Background(), "chat", "org-1", "ws-1")
	if err != nil {
		t.Fatalf("resolve failed: %v", err)
	}
	if !view.Enabled {
		t.Fatalf("expected module enabled with no overrides")
	}
	if view.SourceOfDisablement != SourceNone {
		t.Fatalf("unexpected disablement source: %q", view.SourceOfDisablement)
	}
	if view.Config["model"] != "standard" || view.Config["max_turns"] != 10 {
		t.Fatalf("base config not inherited: %+v", view.Config)
	}
	if !view.FeatureFlags["streaming"] {
		t.Fatalf("base feature flags not inherited")
	}
}

func TestResolveMergePrecedence(t *testing.T) {
	store := newFakeStore()
	def := enabledDef("chat")
	def.BaseConfig = map[string]any{"a": 1, "b": 1}
	def.BaseFeatureFlags = map[string]bool{"x": false, "y": false}
	store.addDef(def)
	store.addOrgOverride(&storage.OrgModuleOverride{
		OrgID:                "org-1",
		ModuleName:           "chat",
		ConfigOverrides:      map[string]any{"a": 2, "b": 2},
		FeatureFlagOverrides: map[string]bool{"x": true, "y": true},
	})
	store.addWorkspaceOverride(&storage.WorkspaceModuleOverride{
		WorkspaceID:          "ws-1",
		ModuleName:           "chat",
		ConfigOverrides:      map[string]any{"a": 3},
		FeatureFlagOverrides: map[string]bool{"y": false},
	})
	resolver := newTestResolver(t, store)

	view, err := resolver.Resolve(context.Background(), "chat", "org-1", "ws-1")
	if err != nil {
		t.Fatalf("resolve failed: %v", err)
	}
	if view.Config["a"] != 3 || view.Config["b"] != 2 {
		t.Fatalf("workspace > org > system precedence violated: %+v", view.Config)
	}
	if !view.FeatureFlags["x"] || view.FeatureFlags["y"] {
		t.Fatalf("flag precedence violated: %+v", view.FeatureFlags)
	}
}

func TestResolveNotInstalledShortCircuits(t *testing.T) {
	store := newFakeStore()
	def := enabledDef("legacy")
	def.IsInstalled = false
	def.BaseConfig = map[string]any{"a": 1}
	store.addDef(def)
	store.addOrgOverride(&storage.OrgModuleOverride{OrgID: "org-1", ModuleName: "legacy", Enabled: storage.EnableEnabled})
	resolver := newTestResolver(t, store)

	view, err := resolver.Resolve(context.Background(), "legacy", "org-1", "ws-1")
	if err != nil {
		t.Fatalf("resolve failed: %v", err)
	}
	if view.Enabled {
		t.Fatalf("uninstalled module resolved enabled")
	}
	if view.SourceOfDisablement != SourceNotInstalled {
		t.Fatalf("unexpected source: %q", view.SourceOfDisablement)
	}
	if store.orgLookups != 0 || store.wsLookups != 0 {
		t.Fatalf("override tables consulted for uninstalled module: org=%d ws=%d", store.orgLookups, store.wsLookups)
	}
	if view.Config["a"] != 1 {
		t.Fatalf("base config missing on disabled view")
	}
}

func TestResolveSystemDisableShortCircuits(t *testing.T) {
	store := newFakeStore()
	def := enabledDef("search")
	def.IsEnabledBySystem = false
	store.addDef(def)
	store.addOrgOverride(&storage.OrgModuleOverride{OrgID: "org-1", ModuleName: "search", Enabled: storage.EnableEnabled})
	resolver := newTestResolver(t, store)

	view, err := resolver.Resolve(context.Background(), "search", "org-1", "ws-1")
	if err != nil {
		t.Fatalf("resolve failed: %v", err)
	}
	if view.Enabled {
		t.Fatalf("org override re-enabled a system-disabled module")
	}
	if view.SourceOfDisablement != SourceSystem {
		t.Fatalf("unexpected source: %q", view.SourceOfDisablement)
	}
	if store.orgLookups != 0 || store.wsLookups != 0 {
		t.Fatalf("override tables consulted for system-disabled module")
	}
}

func TestResolveOrgDisableWinsOverWorkspace(t *testing.T) {
	store := newFakeStore()
	store.addDef(enabledDef("chat"))
	store.addOrgOverride(&storage.OrgModuleOverride{OrgID: "org-1", ModuleName: "chat", Enabled: storage.EnableDisabled})
	store.addWorkspaceOverride(&storage.WorkspaceModuleOverride{WorkspaceID: "ws-1", ModuleName: "chat", Enabled: storage.EnableEnabled})
	resolver := newTestResolver(t, store)

	view, err := resolver.Resolve(context.Background(), "chat", "org-1", "ws-1")
	if err != nil {
		t.Fatalf("resolve failed: %v", err)
	}
	if view.Enabled {
		t.Fatalf("workspace override re-enabled an org-disabled module")
	}
	if view.SourceOfDisablement != SourceOrg {
		t.Fatalf("unexpected source: %q", view.SourceOfDisablement)
	}
	if store.wsLookups != 0 {
		t.Fatalf("workspace override fetched after org disable")
	}
}

func TestResolveWorkspaceDisable(t *testing.T) {
	store := newFakeStore()
	def := enabledDef("chat")
	def.BaseConfig = map[string]any{"a": 1}
	store.addDef(def)
	store.addWorkspaceOverride(&storage.WorkspaceModuleOverride{
		WorkspaceID:     "ws-1",
		ModuleName:      "chat",
		Enabled:         storage.EnableDisabled,
		ConfigOverrides: map[string]any{"a": 2},
	})
	resolver := newTestResolver(t, store)

	view, err := resolver.Resolve(context.Background(), "chat", "org-1", "ws-1")
	if err != nil {
		t.Fatalf("resolve failed: %v", err)
	}
	if view.Enabled || view.SourceOfDisablement != SourceWorkspace {
		t.Fatalf("expected workspace disable, got enabled=%v source=%q", view.Enabled, view.SourceOfDisablement)
	}
	if view.Config["a"] != 2 {
		t.Fatalf("workspace config overrides dropped on disabled view: %+v", view.Config)
	}
}

func TestResolveOrgOnlyScope(t *testing.T) {
	store := newFakeStore()
	def := enabledDef("chat")
	def.BaseConfig = map[string]any{"a": 1}
	store.addDef(def)
	store.addOrgOverride(&storage.OrgModuleOverride{
		OrgID:           "org-1",
		ModuleName:      "chat",
		ConfigOverrides: map[string]any{"a": 2},
	})
	resolver := newTestResolver(t, store)

	view, err := resolver.Resolve(context.Background(), "chat", "org-1", "")
	if err != nil {
		t.Fatalf("resolve failed: %v", err)
	}
	if !view.Enabled || view.Config["a"] != 2 {
		t.Fatalf("org-only resolution wrong: enabled=%v config=%+v", view.Enabled, view.Config)
	}
	if store.wsLookups != 0 {
		t.Fatalf("workspace tier consulted for org-only resolution")
	}
}

func TestResolveUnknownModule(t *testing.T) {
	store := newFakeStore()
	resolver := newTestResolver(t, store)
	_, err := resolver.Resolve(context.Background(), "nope", "org-1", "ws-1")
	if !errors.Is(err, ErrModuleNotFound) {
		t.Fatalf("expected ErrModuleNotFound, got %v", err)
	}
}

func TestResolveStoreOutageIsNotInheritance(t *testing.T) {
	store := newFakeStore()
	store.addDef(enabledDef("chat"))
	store.failAll = errors.New("connection refused")
	resolver := newTestResolver(t, store)

	_, err := resolver.Resolve(context.Background(), "chat", "org-1", "ws-1")
	var su *StoreUnavailableError
	if !errors.As(err, &su) {
		t.Fatalf("expected StoreUnavailableError, got %v", err)
	}
}

func TestResolveAllSortsAndAnnotatesDependencies(t *testing.T) {
	store := newFakeStore()
	base := enabledDef("ai-core")
	store.addDef(base)
	dependent := enabledDef("chat")
	dependent.Dependencies = []string{"ai-core", "missing"}
	store.addDef(dependent)
	store.addOrgOverride(&storage.OrgModuleOverride{OrgID: "org-1", ModuleName: "ai-core", Enabled: storage.EnableDisabled})
	resolver := newTestResolver(t, store)

	views, err := resolver.ResolveAll(context.Background(), "org-1", "ws-1")
	if err != nil {
		t.Fatalf("resolve all failed: %v", err)
	}
	if len(views) != 2 {
		t.Fatalf("expected 2 views, got %d", len(views))
	}
	if views[0].Name != "ai-core" || views[1].Name != "chat" {
		t.Fatalf("views not sorted by name: %s, %s", views[0].Name, views[1].Name)
	}
	if views[0].Enabled {
		t.Fatalf("org-disabled dependency resolved enabled")
	}
	got := views[1].UnsatisfiedDependencies
	if len(got) != 2 || got[0] != "ai-core" || got[1] != "missing" {
		t.Fatalf("unexpected unsatisfied dependencies: %+v", got)
	}
}

func TestResolveAllMatchesSingleResolve(t *testing.T) {
	store := newFakeStore()
	def := enabledDef("chat")
	def.BaseConfig = map[string]any{"a": 1, "b": 1}
	store.addDef(def)
	store.addOrgOverride(&storage.OrgModuleOverride{
		OrgID:           "org-1",
		ModuleName:      "chat",
		ConfigOverrides: map[string]any{"a": 2},
	})
	store.addWorkspaceOverride(&storage.WorkspaceModuleOverride{
		WorkspaceID:     "ws-1",
		ModuleName:      "chat",
		ConfigOverrides: map[string]any{"b": 3},
	})
	resolver := newTestResolver(t, store)

	single, err := resolver.Resolve(context.Background(), "chat", "org-1", "ws-1")
	if err != nil {
		t.Fatalf("resolve failed: %v", err)
	}
	views, err := resolver.ResolveAll(context.Background(), "org-1", "ws-1")
	if err != nil {
		t.Fatalf("resolve all failed: %v", err)
	}
	batch := views[0]
	if batch.Enabled != single.Enabled || batch.Config["a"] != single.Config["a"] || batch.Config["b"] != single.Config["b"] {
		t.Fatalf("batch and single resolution disagree: %+v vs %+v", batch, single)
	}
}
