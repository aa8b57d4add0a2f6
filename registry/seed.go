package registry

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/Masterminds/semver/v3"

	"github.com/bodhix-ai/cora-registry/storage"
)

// seedFile mirrors the on-disk module seed document. Deployment installs
// and upgrades modules by shipping this file next to the binary.
type seedFile struct {
	Modules []seedModule `toml:"module"`
}

type seedModule struct {
	Name         string          `toml:"name"`
	DisplayName  string          `toml:"display_name"`
	ModuleType   string          `toml:"module_type"`
	Version      string          `toml:"version"`
	Enabled      *bool           `toml:"enabled"`
	Deprecated   bool            `toml:"deprecated"`
	Dependencies []string        `toml:"dependencies"`
	Config       map[string]any  `toml:"config"`
	FeatureFlags map[string]bool `toml:"feature_flags"`
}

// LoadSeedFile parses a module seed document into definitions. Every
// listed module is considered installed; enablement defaults to on.
func LoadSeedFile(path string) ([]*storage.ModuleDefinition, error) {
	var doc seedFile
	if _, err := toml.DecodeFile(path, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse module seed %s: %w", path, err)
	}
	if len(doc.Modules) == 0 {
		return nil, fmt.Errorf("module seed %s defines no modules", path)
	}
	defs := make([]*storage.ModuleDefinition, 0, len(doc.Modules))
	seen := make(map[string]bool, len(doc.Modules))
	var issues []string
	for i, m := range doc.Modules {
		def, err := m.toDefinition()
		if err != nil {
			issues = append(issues, fmt.Sprintf("module %d: %v", i, err))
			continue
		}
		if seen[def.Name] {
			issues = append(issues, fmt.Sprintf("module %q listed twice", def.Name))
			continue
		}
		seen[def.Name] = true
		defs = append(defs, def)
	}
	if len(issues) > 0 {
		return nil, &ValidationError{Issues: issues}
	}
	return defs, nil
}

func (m seedModule) toDefinition() (*storage.ModuleDefinition, error) {
	name := strings.TrimSpace(m.Name)
	if name == "" {
		return nil, errors.New("name required")
	}
	modType, err := storage.ParseModuleType(m.ModuleType)
	if err != nil {
		return nil, err
	}
	version := strings.TrimSpace(m.Version)
	if version != "" {
		if _, err := semver.NewVersion(version); err != nil {
			return nil, fmt.Errorf("module %q version %q: %w", name, version, err)
		}
	}
	display := strings.TrimSpace(m.DisplayName)
	if display == "" {
		display = name
	}
	enabled := true
	if m.Enabled != nil {
		enabled = *m.Enabled
	}
	return &storage.ModuleDefinition{
		Name:              name,
		DisplayName:       display,
		ModuleType:        modType,
		Version:           version,
		IsInstalled:       true,
		IsEnabledBySystem: enabled,
		BaseConfig:        m.Config,
		BaseFeatureFlags:  m.FeatureFlags,
		Dependencies:      m.Dependencies,
		Deprecated:        m.Deprecated,
	}, nil
}

// SyncSeed reconciles the store with a seed: new modules are inserted,
// known ones are refreshed only when the seed carries an equal or newer
// semantic version, and definitions missing from the seed are marked
// uninstalled rather than deleted so their override history survives.
func SyncSeed(ctx context.Context, store Store, defs []*storage.ModuleDefinition, actor string) error {
	existing, err := store.ListModuleDefinitions(ctx)
	if err != nil {
		return storeErr("module definition list", err)
	}
	current := make(map[string]*storage.ModuleDefinition, len(existing))
	for _, def := range existing {
		current[def.Name] = def
	}

	seeded := make(map[string]bool, len(defs))
	for _, def := range defs {
		seeded[def.Name] = true
		prev := current[def.Name]
		if prev != nil && olderThan(def.Version, prev.Version) {
			logger.Warn().
				Str("module", def.Name).
				Str("seed_version", def.Version).
				Str("stored_version", prev.Version).
				Msg("seed is older than stored definition, skipping")
			continue
		}
		if prev != nil {
			// An operator's system-tier kill switch survives re-seeding.
			def.IsEnabledBySystem = def.IsEnabledBySystem && prev.IsEnabledBySystem
		}
		def.UpdatedBy = actor
		if err := store.UpsertModuleDefinition(ctx, def); err != nil {
			return storeErr("module definition upsert", err)
		}
	}

	for name, def := range current {
		if seeded[name] || !def.IsInstalled {
			continue
		}
		def.IsInstalled = false
		def.UpdatedBy = actor
		if err := store.UpsertModuleDefinition(ctx, def); err != nil {
			return storeErr("module definition upsert", err)
		}
		logger.Info().Str("module", name).Msg("module absent from seed, marked uninstalled")
	}
	return nil
}

// olderThan reports whether candidate is strictly older than stored,
// comparing semantic versions. Unparseable or missing versions never
// block an update.
func olderThan(candidate, stored string) bool {
	cv, err := semver.NewVersion(strings.TrimSpace(candidate))
	if err != nil {
		return false
	}
	sv, err := semver.NewVersion(strings.TrimSpace(stored))
	if err != nil {
		return false
	}
	return cv.LessThan(sv)
}
