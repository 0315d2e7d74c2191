package coordinator

import (
	"errors"
	"fmt"
	"strings"
)

// ValidationError reports bad input. It has no side effects and the request
// is safe to retry after fixing the input.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation: " + e.Reason
	}
	return fmt.Sprintf("validation: %s: %s", e.Field, e.Reason)
}

// ConflictError reports that the optimistic-concurrency retry budget was
// exhausted during a rebalance. The caller may retry the whole operation.
type ConflictError struct {
	Farm     string
	Attempts int
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("rebalance conflict on farm %q after %d attempts", e.Farm, e.Attempts)
}

// StoreError wraps a persistence failure (including a deadline expiry) after
// any rollback has been attempted.
type StoreError struct {
	Op      string
	Timeout bool
	Err     error
}

func (e *StoreError) Error() string {
	if e.Timeout {
		return fmt.Sprintf("store %s timed out: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("store %s failed: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error { return e.Err }

// PartialRollbackFailure is the single fatal condition: a bulk write failed
// and the compensating rollback also failed, leaving the listed todo records
// in an inconsistent state. It is never retried automatically; an operator
// must reconcile the orphaned records.
type PartialRollbackFailure struct {
	Farm     string
	Orphaned []string
	Err      error
}

func (e *PartialRollbackFailure) Error() string {
	return fmt.Sprintf("partial rollback failure on farm %q, orphaned todos [%s]: %v",
		e.Farm, strings.Join(e.Orphaned, ", "), e.Err)
}

func (e *PartialRollbackFailure) Unwrap() error { return e.Err }

// IsRecoverable reports whether the caller can recover locally: validation
// errors (fix the input) and conflicts (retry) are recoverable, store errors
// and rollback failures are not.
func IsRecoverable(err error) bool {
	var ve *ValidationError
	var ce *ConflictError
	return errors.As(err, &ve) || errors.As(err, &ce)
}
