package ports

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrorCode classifies a document store failure. The codes mirror
// the remote store's own error surface; classification drives the
// retry, backoff, and pacing decisions in the resilience layer.
type ErrorCode string

// Store error codes the core reacts to.
const (
	// CodePermissionDenied is an authorization failure. Never
	// retried; surfaced immediately.
	CodePermissionDenied ErrorCode = "permission-denied"

	// CodeUnavailable is ordinary network unavailability. Retried,
	// and it drives the reconnection state machine.
	CodeUnavailable ErrorCode = "unavailable"

	// CodeDeadlineExceeded is a timeout. Treated like unavailability.
	CodeDeadlineExceeded ErrorCode = "deadline-exceeded"

	// CodeResourceExhausted is the store's rate-limit signal. Not
	// retried at the same rate; callers apply their own pacing.
	CodeResourceExhausted ErrorCode = "resource-exhausted"

	// CodeFailedPrecondition is a state conflict. Not retried.
	CodeFailedPrecondition ErrorCode = "failed-precondition"

	// CodeNotFound is a missing document.
	CodeNotFound ErrorCode = "not-found"

	// CodeCanceled means the caller abandoned the operation. Never
	// retried, and never treated as connectivity loss.
	CodeCanceled ErrorCode = "canceled"

	// CodeInternal is an internal fault inside the store or its
	// client library, signaled by message content rather than a
	// structured code.
	CodeInternal ErrorCode = "internal"
)

// ErrStoreOffline is returned without touching the remote store when
// the connection manager has the store in an offline state. Callers
// see a distinct "switched to offline mode" status instead of another
// round of doomed retries.
var ErrStoreOffline = errors.New("store is in offline mode")

// StoreError wraps a document store failure with its classification
// and the logical operation that produced it.
type StoreError struct {
	// Code classifies the failure for retry and pacing decisions.
	Code ErrorCode

	// Op is the logical store operation, e.g. "votes.list".
	Op string

	// Err is the underlying failure.
	Err error
}

// Error implements the error interface for StoreError.
func (e *StoreError) Error() string {
	return fmt.Sprintf("store error: op=%s, code=%s, err=%v", e.Op, e.Code, e.Err)
}

// Unwrap returns the underlying error.
func (e *StoreError) Unwrap() error { return e.Err }

// NewStoreError creates a StoreError with the given classification.
func NewStoreError(code ErrorCode, op string, err error) *StoreError {
	return &StoreError{Code: code, Op: op, Err: err}
}

// CodeOf extracts the classification from err. Errors that carry no
// StoreError anywhere in their chain are classified by content: a
// context cancellation or deadline, a known corruption signature, and
// otherwise CodeUnavailable, since an unclassified failure from the
// store client is most often plain connectivity loss.
func CodeOf(err error) ErrorCode {
	var se *StoreError
	if errors.As(err, &se) {
		return se.Code
	}
	if errors.Is(err, context.Canceled) {
		return CodeCanceled
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return CodeDeadlineExceeded
	}
	if matchesInternalSignature(err) {
		return CodeInternal
	}
	return CodeUnavailable
}

// internalSignatures are message fragments historically emitted by
// the store client when its own state is corrupted. These failures
// cannot be fixed by short retries; the connection manager skips
// straight to the long cooldown when it sees one.
var internalSignatures = []string{
	"internal assertion failed",
	"unexpected state",
	"internal error",
	"client has already been terminated",
}

// IsInternalCorruption reports whether err belongs to the
// internal/unexpected-state class, matched on message content or an
// explicit CodeInternal classification.
func IsInternalCorruption(err error) bool {
	if err == nil {
		return false
	}
	var se *StoreError
	if errors.As(err, &se) && se.Code == CodeInternal {
		return true
	}
	return matchesInternalSignature(err)
}

func matchesInternalSignature(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, sig := range internalSignatures {
		if strings.Contains(msg, sig) {
			return true
		}
	}
	return false
}

// IsConnectivity reports whether err is ordinary connectivity loss
// worth a short-backoff reconnect, as opposed to the internal class.
func IsConnectivity(err error) bool {
	switch CodeOf(err) {
	case CodeUnavailable, CodeDeadlineExceeded:
		return !matchesInternalSignature(err)
	}
	return false
}

// IsRetryable reports whether the safe operation wrapper should
// retry err. Authorization denials, preconditions, missing
// documents, and rate-limit signals are not retried; connectivity
// loss and internal corruption are (the latter after triggering the
// connection manager's reset path).
func IsRetryable(err error) bool {
	switch CodeOf(err) {
	case CodeUnavailable, CodeDeadlineExceeded, CodeInternal:
		return true
	}
	return false
}
