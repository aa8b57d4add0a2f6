package registry

import (
	"time"

	"github.com/bodhix-ai/cora-registry/storage"
)

// Disablement sources reported on resolved views. Empty means the module
// is enabled at every tier that was consulted.
const (
	SourceNone         = ""
	SourceNotInstalled = "system:not_installed"
	SourceSystem       = "system"
	SourceOrg          = "org"
	SourceWorkspace    = "workspace"
)

// ResolvedModuleView is the effective per-module decision for a scope:
// whether the module is usable there, the merged config and feature
// flags, and which tier (if any) switched it off.
type ResolvedModuleView struct {
	Name                    string          `json:"name"`
	DisplayName             string          `json:"display_name"`
	ModuleType              string          `json:"module_type"`
	Version                 string          `json:"version,omitempty"`
	Enabled                 bool            `json:"enabled"`
	Config                  map[string]any  `json:"config"`
	FeatureFlags            map[string]bool `json:"feature_flags"`
	SourceOfDisablement     string          `json:"source_of_disablement"`
	Deprecated              bool            `json:"deprecated,omitempty"`
	Dependencies            []string        `json:"dependencies,omitempty"`
	UnsatisfiedDependencies []string        `json:"unsatisfied_dependencies,omitempty"`
	UpdatedAt               time.Time       `json:"updated_at,omitempty"`
}

// Layer is one tier's contribution to the merge fold. A nil layer (no
// stored row) contributes nothing and inherits everything.
type Layer struct {
	Config       map[string]any
	FeatureFlags map[string]bool
}

func layerFromOrg(ov *storage.OrgModuleOverride) *Layer {
	if ov == nil {
		return nil
	}
	return &Layer{Config: ov.ConfigOverrides, FeatureFlags: ov.FeatureFlagOverrides}
}

func layerFromWorkspace(ov *storage.WorkspaceModuleOverride) *Layer {
	if ov == nil {
		return nil
	}
	return &Layer{Config: ov.ConfigOverrides, FeatureFlags: ov.FeatureFlagOverrides}
}
