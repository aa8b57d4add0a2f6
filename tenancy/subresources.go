package tenancy

import (
	"net/http"
	"strings"
	"sync"
)

// OrgSubresourceHandler handles nested routes such as /api/v1/orgs/{id}/modules.
type OrgSubresourceHandler func(http.ResponseWriter, *http.Request, string, string)

// WorkspaceSubresourceHandler handles nested routes such as /api/v1/workspaces/{id}/modules.
type WorkspaceSubresourceHandler func(http.ResponseWriter, *http.Request, string, string)

var (
	orgSubresourceHandlers       = make(map[string]OrgSubresourceHandler)
	workspaceSubresourceHandlers = make(map[string]WorkspaceSubresourceHandler)
	subresourceHandlersMu        sync.RWMutex
)

// RegisterOrgSubresource installs a handler for a named org subresource
// (e.g., "modules"). Pass a nil handler to remove an existing registration.
func RegisterOrgSubresource(name string, handler OrgSubresourceHandler) {
	key := normalizeSubresourceName(name)
	if key == "" {
		return
	}
	subresourceHandlersMu.Lock()
	defer subresourceHandlersMu.Unlock()
	if handler == nil {
		delete(orgSubresourceHandlers, key)
		return
	}
	orgSubresourceHandlers[key] = handler
}

// RegisterWorkspaceSubresource installs a handler for a named workspace
// subresource. Pass a nil handler to remove an existing registration.
func RegisterWorkspaceSubresource(name string, handler WorkspaceSubresourceHandler) {
	key := normalizeSubresourceName(name)
	if key == "" {
		return
	}
	subresourceHandlersMu.Lock()
	defer subresourceHandlersMu.Unlock()
	if handler == nil {
		delete(workspaceSubresourceHandlers, key)
		return
	}
	workspaceSubresourceHandlers[key] = handler
}

func getOrgSubresourceHandler(name string) OrgSubresourceHandler {
	key := normalizeSubresourceName(name)
	if key == "" {
		return nil
	}
	subresourceHandlersMu.RLock()
	defer subresourceHandlersMu.RUnlock()
	return orgSubresourceHandlers[key]
}

func getWorkspaceSubresourceHandler(name string) WorkspaceSubresourceHandler {
	key := normalizeSubresourceName(name)
	if key == "" {
		return nil
	}
	subresourceHandlersMu.RLock()
	defer subresourceHandlersMu.RUnlock()
	return workspaceSubresourceHandlers[key]
}

func normalizeSubresourceName(name string) string {
	name = strings.TrimSpace(name)
	name = strings.Trim(name, "/")
	return strings.ToLower(name)
}
