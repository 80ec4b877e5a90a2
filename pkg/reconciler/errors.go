package reconciler

import (
	"errors"
	"fmt"
)

// ErrReconciliationInProgress is returned by Reconcile when a previous
// reconciliation tick has not finished; the caller should skip this tick
// rather than run two reconciliations concurrently.
var ErrReconciliationInProgress = errors.New("reconciliation already in progress")

// InvalidRulesError is returned when a rule set violates the uniqueness
// invariant on (Provider, Region) before any provider call is made.
type InvalidRulesError struct {
	Provider string
	Region   string
}

func (e *InvalidRulesError) Error() string {
	return fmt.Sprintf("duplicate rule for provider %q region %q", e.Provider, e.Region)
}

// UnknownProviderError is returned when a rule names a provider with no
// registered adapter.
type UnknownProviderError struct {
	Provider string
}

func (e *UnknownProviderError) Error() string {
	return fmt.Sprintf("no adapter registered for provider %q", e.Provider)
}
