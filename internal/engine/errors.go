package engine

import (
	"errors"
	"fmt"
)

// ErrLockTimeout means the document lock could not be acquired within the
// configured wait. Transient: the periodic sweep retries naturally.
var ErrLockTimeout = errors.New("document lock timeout")

// ErrInvalidTransition rejects an assignment state change outside the
// allowed machine.
var ErrInvalidTransition = errors.New("invalid assignment state transition")

// ReconciliationError wraps any failure inside the reconcile transaction.
// The transaction is rolled back; the blocked marker stays stale until the
// next trigger or sweep.
type ReconciliationError struct {
	DocumentID string
	Transition string
	Err        error
}

func (e *ReconciliationError) Error() string {
	return fmt.Sprintf("reconcile document %s (%s): %v", e.DocumentID, e.Transition, e.Err)
}

func (e *ReconciliationError) Unwrap() error { return e.Err }
