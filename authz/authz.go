package authz

import (
	"errors"
	"fmt"
	"strings"

	"github.com/bodhix-ai/cora-registry/storage"
)

var (
	ErrUnauthorized = errors.New("unauthorized")
	ErrForbidden    = errors.New("forbidden")
)

// Action represents a permissionable operation within the server API surface.
type Action string

const (
	ActionModulesRead        Action = "modules.read"
	ActionModulesSystemWrite Action = "modules.system.write"
	ActionModulesOrgWrite    Action = "modules.org.write"
	ActionModulesWsWrite     Action = "modules.workspace.write"

	ActionOrgsRead        Action = "orgs.read"
	ActionOrgsWrite       Action = "orgs.write"
	ActionWorkspacesRead  Action = "workspaces.read"
	ActionWorkspacesWrite Action = "workspaces.write"

	ActionUsersRead  Action = "users.read"
	ActionUsersWrite Action = "users.write"

	ActionAuditLogsRead   Action = "audit.logs.read"
	ActionEventsSubscribe Action = "events.subscribe"
)

// ResourceRef carries contextual identifiers relevant for authorization checks.
// An empty ref means a system-scoped resource.
type ResourceRef struct {
	OrgIDs       []string
	WorkspaceIDs []string
}

// Subject describes the caller being authorized.
type Subject struct {
	Role         storage.Role
	OrgIDs       []string
	WorkspaceIDs []string
}

// IsSystemAdmin reports whether the subject bypasses scope checks.
func (s Subject) IsSystemAdmin() bool { return s.Role == storage.RoleSystemAdmin }

// Authorize ensures subject can perform action on the resource: first the
// role policy, then the tenant scope. Org admins reach every workspace under
// their orgs, so workspace scoping only binds workspace-level roles.
func Authorize(subject Subject, action Action, resource ResourceRef) error {
	if !roleAllows(subject.Role, action) {
		return fmt.Errorf("%w: role %s cannot perform %s", ErrForbidden, subject.Role, action)
	}
	if subject.IsSystemAdmin() {
		return nil
	}

	if len(resource.OrgIDs) > 0 {
		allowed := toSet(subject.OrgIDs)
		for _, id := range resource.OrgIDs {
			if id == "" {
				continue
			}
			if _, ok := allowed[id]; !ok {
				return fmt.Errorf("%w: org %s not permitted", ErrForbidden, id)
			}
		}
	}

	if len(resource.WorkspaceIDs) > 0 && subject.Role == storage.RoleWorkspaceAdmin {
		allowed := toSet(subject.WorkspaceIDs)
		for _, id := range resource.WorkspaceIDs {
			if id == "" {
				continue
			}
			if _, ok := allowed[id]; !ok {
				return fmt.Errorf("%w: workspace %s not permitted", ErrForbidden, id)
			}
		}
	}

	return nil
}

var rolePolicies = map[storage.Role][]string{
	storage.RoleSystemAdmin: {"*"},
	storage.RoleOrgAdmin: {
		"modules.read",
		"modules.org.write",
		"modules.workspace.write",
		"orgs.read",
		"workspaces.*",
		"users.read",
		"audit.logs.read",
		"events.subscribe",
	},
	storage.RoleWorkspaceAdmin: {
		"modules.read",
		"modules.workspace.write",
		"orgs.read",
		"workspaces.read",
		"events.subscribe",
	},
	storage.RoleViewer: {
		"modules.read",
		"orgs.read",
		"workspaces.read",
		"events.subscribe",
	},
}

func roleAllows(role storage.Role, action Action) bool {
	patterns, ok := rolePolicies[role]
	if !ok {
		return false
	}

	needle := strings.ToLower(string(action))
	for _, pattern := range patterns {
		switch {
		case pattern == "*":
			return true
		case strings.EqualFold(pattern, needle):
			return true
		case strings.HasSuffix(pattern, ".*"):
			prefix := strings.TrimSuffix(strings.ToLower(pattern), ".*")
			if strings.HasPrefix(needle, prefix+".") {
				return true
			}
		}
	}
	return false
}

func toSet(ids []string) map[string]struct{} {
	set := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	return set
}
