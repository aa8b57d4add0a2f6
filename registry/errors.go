package registry

import (
	"errors"
	"fmt"

	"github.com/bodhix-ai/cora-registry/storage"
)

// ErrModuleNotFound marks lookups of module names with no definition row.
var ErrModuleNotFound = errors.New("module not found")

// CascadeViolationError rejects an enable write that a higher tier blocks.
// A lower tier can only switch a module off, never back on above its
// ancestors, so the write is refused and the store left untouched.
type CascadeViolationError struct {
	ModuleName   string
	BlockingTier string
}

func (e *CascadeViolationError) Error() string {
	return fmt.Sprintf("module %q cannot be enabled: disabled at %s tier", e.ModuleName, e.BlockingTier)
}

// ValidationError carries the individual issues found in a write payload.
type ValidationError struct {
	Issues []string
}

func (e *ValidationError) Error() string {
	if len(e.Issues) == 1 {
		return "invalid payload: " + e.Issues[0]
	}
	return fmt.Sprintf("invalid payload: %d issues", len(e.Issues))
}

// StoreUnavailableError wraps a storage failure during resolution or a
// guarded write. Outages are surfaced, never mistaken for an absent
// override row.
type StoreUnavailableError struct {
	Op  string
	Err error
}

func (e *StoreUnavailableError) Error() string {
	return fmt.Sprintf("store unavailable during %s: %v", e.Op, e.Err)
}

func (e *StoreUnavailableError) Unwrap() error { return e.Err }

// storeErr classifies an error from the store: absent definitions become
// ErrModuleNotFound, everything else is an outage.
func storeErr(op string, err error) error {
	if errors.Is(err, storage.ErrNotFound) {
		return ErrModuleNotFound
	}
	return &StoreUnavailableError{Op: op, Err: err}
}
