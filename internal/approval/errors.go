package approval

import "fmt"

// ValidationError indicates a create request with a missing or malformed
// required field. It is surfaced to the caller as a rejected request and
// must not be retried as-is.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return e.Reason
}

// InvalidTransitionError indicates an attempt to resolve a request that has
// already left the pending state. The current status is carried so a caller
// showing stale data can explain the conflict.
type InvalidTransitionError struct {
	ID      string
	Current string
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("cannot transition %s: current status is %s", e.ID, e.Current)
}
