package registry

import (
	"context"
	"sync"
	"time"

	"github.com/bodhix-ai/cora-registry/metrics"
	"github.com/bodhix-ai/cora-registry/storage"
)

// DefaultCacheTTL bounds staleness when an invalidation is lost.
const DefaultCacheTTL = 30 * time.Second

type cacheKey struct {
	module    string
	org       string
	workspace string
}

type cacheEntry struct {
	view    *ResolvedModuleView
	expires time.Time
}

// Cache is a pull-through decision cache in front of a Resolver, keyed
// by (module, org, workspace). It implements storage.Notifier so
// override writes drop exactly the scopes they can affect: a workspace
// write its own key, an org write every workspace under the org, a
// system write every scope of the module.
type Cache struct {
	resolver *Resolver
	ttl      time.Duration
	now      func() time.Time

	mu      sync.Mutex
	entries map[cacheKey]cacheEntry
}

// NewCache wraps resolver with a TTL cache. A zero ttl uses DefaultCacheTTL.
func NewCache(resolver *Resolver, ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &Cache{
		resolver: resolver,
		ttl:      ttl,
		now:      time.Now,
		entries:  map[cacheKey]cacheEntry{},
	}
}

// Resolve returns the cached view for the scope or falls through to the
// resolver. Returned views are shared and must not be mutated.
func (c *Cache) Resolve(ctx context.Context, moduleName, orgID, workspaceID string) (*ResolvedModuleView, error) {
	key := cacheKey{module: moduleName, org: orgID, workspace: workspaceID}
	c.mu.Lock()
	entry, ok := c.entries[key]
	if ok && c.now().Before(entry.expires) {
		c.mu.Unlock()
		metrics.CacheHits.Inc()
		return entry.view, nil
	}
	if ok {
		delete(c.entries, key)
	}
	c.mu.Unlock()

	metrics.CacheMisses.Inc()
	view, err := c.resolver.Resolve(ctx, moduleName, orgID, workspaceID)
	if err != nil {
		return nil, err
	}
	c.put(key, view)
	return view, nil
}

// ResolveAll always recomputes the batch and primes the per-module
// entries, so the next single-module lookups in the same scope hit.
func (c *Cache) ResolveAll(ctx context.Context, orgID, workspaceID string) ([]*ResolvedModuleView, error) {
	views, err := c.resolver.ResolveAll(ctx, orgID, workspaceID)
	if err != nil {
		return nil, err
	}
	for _, view := range views {
		c.put(cacheKey{module: view.Name, org: orgID, workspace: workspaceID}, view)
	}
	return views, nil
}

func (c *Cache) put(key cacheKey, view *ResolvedModuleView) {
	c.mu.Lock()
	c.entries[key] = cacheEntry{view: view, expires: c.now().Add(c.ttl)}
	c.mu.Unlock()
}

// ModuleOverrideChanged implements storage.Notifier.
func (c *Cache) ModuleOverrideChanged(tier storage.Tier, moduleName, orgID, workspaceID string) {
	c.mu.Lock()
	dropped := 0
	for key := range c.entries {
		if key.module != moduleName {
			continue
		}
		switch tier {
		case storage.TierSystem:
			// Every scope sees the new system decision.
		case storage.TierOrg:
			if key.org != orgID {
				continue
			}
		case storage.TierWorkspace:
			if key.workspace != workspaceID {
				continue
			}
		}
		delete(c.entries, key)
		dropped++
	}
	c.mu.Unlock()
	if dropped > 0 {
		metrics.CacheInvalidations.WithLabelValues(string(tier)).Add(float64(dropped))
	}
}

// Len reports the number of live entries, expired ones included.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
