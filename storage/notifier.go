package storage

// Tier names one level of the override cascade.
type Tier string

const (
	TierSystem    Tier = "system"
	TierOrg       Tier = "org"
	TierWorkspace Tier = "workspace"
)

// Notifier observes successful override writes so layers above the store
// (caches, event streams) never serve stale resolutions. System-tier changes
// carry empty org/workspace IDs; org-tier changes carry only the org ID.
type Notifier interface {
	ModuleOverrideChanged(tier Tier, moduleName, orgID, workspaceID string)
}

// NotifierFunc adapts a plain function to the Notifier interface.
type NotifierFunc func(tier Tier, moduleName, orgID, workspaceID string)

func (f NotifierFunc) ModuleOverrideChanged(tier Tier, moduleName, orgID, workspaceID string) {
	f(tier, moduleName, orgID, workspaceID)
}

// multiNotifier fans a change event out to several observers.
type multiNotifier []Notifier

func (m multiNotifier) ModuleOverrideChanged(tier Tier, moduleName, orgID, workspaceID string) {
	for _, n := range m {
		if n != nil {
			n.ModuleOverrideChanged(tier, moduleName, orgID, workspaceID)
		}
	}
}

// CombineNotifiers merges observers into one, skipping nils.
func CombineNotifiers(notifiers ...Notifier) Notifier {
	out := make(multiNotifier, 0, len(notifiers))
	for _, n := range notifiers {
		if n != nil {
			out = append(out, n)
		}
	}
	if len(out) == 0 {
		return nil
	}
	if len(out) == 1 {
		return out[0]
	}
	return out
}
