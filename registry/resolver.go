package registry

import (
	"context"
	"errors"
	"sort"
	"strings"

	"github.com/bodhix-ai/cora-registry/storage"
)

// Store captures the storage operations required by the module registry.
type Store interface {
	GetModuleDefinition(ctx context.Context, name string) (*storage.ModuleDefinition, error)
	ListModuleDefinitions(ctx context.Context) ([]*storage.ModuleDefinition, error)
	UpsertModuleDefinition(ctx context.Context, def *storage.ModuleDefinition) error

	GetOrgOverride(ctx context.Context, orgID, moduleName string) (*storage.OrgModuleOverride, error)
	ListOrgOverrides(ctx context.Context, orgID string) ([]*storage.OrgModuleOverride, error)
	UpsertOrgOverride(ctx context.Context, ov *storage.OrgModuleOverride) error
	DeleteOrgOverride(ctx context.Context, orgID, moduleName string) error

	GetWorkspaceOverride(ctx context.Context, workspaceID, moduleName string) (*storage.WorkspaceModuleOverride, error)
	ListWorkspaceOverrides(ctx context.Context, workspaceID string) ([]*storage.WorkspaceModuleOverride, error)
	UpsertWorkspaceOverride(ctx context.Context, ov *storage.WorkspaceModuleOverride) error
	DeleteWorkspaceOverride(ctx context.Context, workspaceID, moduleName string) error

	GetOrganization(ctx context.Context, id string) (*storage.Organization, error)
	GetWorkspace(ctx context.Context, id string) (*storage.Workspace, error)
}

// Resolver computes effective module decisions by folding the override
// tiers (system definition → org override → workspace override).
type Resolver struct {
	store Store
}

// NewResolver builds a resolver using the provided store.
// Returns an error if store is nil.
func NewResolver(store Store) (*Resolver, error) {
	if store == nil {
		return nil, errors.New("module resolver requires a store")
	}
	return &Resolver{store: store}, nil
}

// Resolve returns the effective view of one module for a scope. An empty
// orgID resolves at the system tier only; an empty workspaceID stops the
// fold after the org tier. Disabled tiers short-circuit: an uninstalled
// or system-disabled module never touches the override tables, and an
// org-level disable skips the workspace lookup.
func (r *Resolver) Resolve(ctx context.Context, moduleName, orgID, workspaceID string) (*ResolvedModuleView, error) {
	moduleName = strings.TrimSpace(moduleName)
	if moduleName == "" {
		return nil, &ValidationError{Issues: []string{"module name required"}}
	}
	def, err := r.store.GetModuleDefinition(ctx, moduleName)
	if err != nil {
		return nil, storeErr("module definition lookup", err)
	}

	if view, done := resolveSystem(def); done {
		return view, nil
	}

	var orgOv *storage.OrgModuleOverride
	if orgID != "" {
		orgOv, err = r.store.GetOrgOverride(ctx, orgID, moduleName)
		if err != nil {
			return nil, storeErr("org override lookup", err)
		}
		if orgOv != nil && orgOv.Enabled == storage.EnableDisabled {
			return buildView(def, SourceOrg, layerFromOrg(orgOv)), nil
		}
	}

	var wsOv *storage.WorkspaceModuleOverride
	if orgID != "" && workspaceID != "" {
		wsOv, err = r.store.GetWorkspaceOverride(ctx, workspaceID, moduleName)
		if err != nil {
			return nil, storeErr("workspace override lookup", err)
		}
	}
	source := SourceNone
	if wsOv != nil && wsOv.Enabled == storage.EnableDisabled {
		source = SourceWorkspace
	}
	return buildView(def, source, layerFromOrg(orgOv), layerFromWorkspace(wsOv)), nil
}

// ResolveAll returns the effective views of every defined module for a
// scope, sorted by module name, with unsatisfied dependencies annotated.
// Overrides are fetched in one batch per tier instead of per module.
func (r *Resolver) ResolveAll(ctx context.Context, orgID, workspaceID string) ([]*ResolvedModuleView, error) {
	defs, err := r.store.ListModuleDefinitions(ctx)
	if err != nil {
		return nil, storeErr("module definition list", err)
	}

	orgOverrides := map[string]*storage.OrgModuleOverride{}
	if orgID != "" {
		rows, err := r.store.ListOrgOverrides(ctx, orgID)
		if err != nil {
			return nil, storeErr("org override list", err)
		}
		for _, ov := range rows {
			orgOverrides[ov.ModuleName] = ov
		}
	}
	wsOverrides := map[string]*storage.WorkspaceModuleOverride{}
	if orgID != "" && workspaceID != "" {
		rows, err := r.store.ListWorkspaceOverrides(ctx, workspaceID)
		if err != nil {
			return nil, storeErr("workspace override list", err)
		}
		for _, ov := range rows {
			wsOverrides[ov.ModuleName] = ov
		}
	}

	views := make([]*ResolvedModuleView, 0, len(defs))
	enabledByName := make(map[string]bool, len(defs))
	for _, def := range defs {
		view := resolveOne(def, orgOverrides[def.Name], wsOverrides[def.Name])
		enabledByName[def.Name] = view.Enabled
		views = append(views, view)
	}
	for _, view := range views {
		view.UnsatisfiedDependencies = unsatisfiedDependencies(view.Dependencies, enabledByName)
	}
	sort.Slice(views, func(i, j int) bool { return views[i].Name < views[j].Name })
	return views, nil
}

// resolveOne applies the full fold to prefetched rows. It mirrors
// Resolve's tier ordering without touching the store.
func resolveOne(def *storage.ModuleDefinition, orgOv *storage.OrgModuleOverride, wsOv *storage.WorkspaceModuleOverride) *ResolvedModuleView {
	if view, done := resolveSystem(def); done {
		return view
	}
	if orgOv != nil && orgOv.Enabled == storage.EnableDisabled {
		return buildView(def, SourceOrg, layerFromOrg(orgOv))
	}
	source := SourceNone
	if wsOv != nil && wsOv.Enabled == storage.EnableDisabled {
		source = SourceWorkspace
	}
	return buildView(def, source, layerFromOrg(orgOv), layerFromWorkspace(wsOv))
}

// resolveSystem handles the system-tier short-circuits. The second
// return reports whether the decision is final before any override tier.
func resolveSystem(def *storage.ModuleDefinition) (*ResolvedModuleView, bool) {
	if !def.IsInstalled {
		return buildView(def, SourceNotInstalled), true
	}
	if !def.IsEnabledBySystem {
		return buildView(def, SourceSystem), true
	}
	return nil, false
}

func buildView(def *storage.ModuleDefinition, source string, layers ...*Layer) *ResolvedModuleView {
	return &ResolvedModuleView{
		Name:                def.Name,
		DisplayName:         def.DisplayName,
		ModuleType:          string(def.ModuleType),
		Version:             def.Version,
		Enabled:             source == SourceNone,
		Config:              MergeConfig(def.BaseConfig, layers...),
		FeatureFlags:        MergeFeatureFlags(def.BaseFeatureFlags, layers...),
		SourceOfDisablement: source,
		Deprecated:          def.Deprecated,
		Dependencies:        def.Dependencies,
		UpdatedAt:           def.UpdatedAt,
	}
}

// unsatisfiedDependencies lists declared dependencies that are missing
// or not effectively enabled in the same scope. Advisory only: nothing
// is enforced transitively.
func unsatisfiedDependencies(deps []string, enabledByName map[string]bool) []string {
	var out []string
	for _, dep := range deps {
		if !enabledByName[dep] {
			out = append(out, dep)
		}
	}
	sort.Strings(out)
	return out
}
