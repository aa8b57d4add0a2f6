package registry

import (
	"context"
	"errors"
	"strings"

	"github.com/bodhix-ai/cora-registry/storage"
)

// Guard validates override writes before they reach the store. The write
// must target a defined module, and an enable request must not
// contradict a disable at a higher tier: lower tiers can only switch a
// module off, never back on above their ancestors.
type Guard struct {
	resolver *Resolver
}

// NewGuard builds a guard sharing the resolver's store view.
// Returns an error if resolver is nil.
func NewGuard(resolver *Resolver) (*Guard, error) {
	if resolver == nil {
		return nil, errors.New("mutation guard requires a resolver")
	}
	return &Guard{resolver: resolver}, nil
}

// ValidateWrite checks a pending override write. orgID is the owning
// organization for both org- and workspace-tier writes. Returns nil when
// the write may proceed, ErrModuleNotFound for undefined modules, or a
// *CascadeViolationError naming the blocking tier. The store is never
// touched by a rejected write.
func (g *Guard) ValidateWrite(ctx context.Context, tier storage.Tier, moduleName string, requested storage.EnableState, orgID string) error {
	moduleName = strings.TrimSpace(moduleName)
	if moduleName == "" {
		return &ValidationError{Issues: []string{"module name required"}}
	}
	if _, err := g.resolver.store.GetModuleDefinition(ctx, moduleName); err != nil {
		return storeErr("module definition lookup", err)
	}

	// Config and flag writes never depend on the cascade; only an
	// explicit enable has an ancestor tier to contradict.
	if requested != storage.EnableEnabled || tier == storage.TierSystem {
		return nil
	}

	parentOrg := ""
	if tier == storage.TierWorkspace {
		parentOrg = orgID
	}
	view, err := g.resolver.Resolve(ctx, moduleName, parentOrg, "")
	if err != nil {
		return err
	}
	if view.Enabled {
		return nil
	}
	return &CascadeViolationError{ModuleName: moduleName, BlockingTier: blockingTier(view.SourceOfDisablement)}
}

func blockingTier(source string) string {
	switch source {
	case SourceNotInstalled, SourceSystem:
		return "system"
	default:
		return source
	}
}
