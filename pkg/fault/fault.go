// Package fault defines the typed error taxonomy shared by every pipeline
// stage. A fault carries a kind, the stage that raised it, and a stable
// machine-readable reason code; control flow branches on the kind, never on
// message text.
package fault

import (
	"errors"
	"fmt"

	"github.com/intake-labs/ire/pkg/canonical"
)

// Kind classifies a failure for routing and retry decisions.
type Kind string

const (
	// KindValidation marks schema-invalid or non-canonical data. Always
	// fail-closed to the stage's review queue.
	KindValidation Kind = "VALIDATION"
	// KindSafetyOverride marks malware/legal/regulatory/self-harm overrides.
	// Never recoverable by retry.
	KindSafetyOverride Kind = "SAFETY_OVERRIDE"
	// KindDependencyUnavailable marks transient transport failures eligible
	// for bounded deterministic retry.
	KindDependencyUnavailable Kind = "DEPENDENCY_UNAVAILABLE"
	// KindDeterminismViolation marks a cache miss under determinism mode.
	KindDeterminismViolation Kind = "DETERMINISM_VIOLATION"
	// KindIntegrity marks a broken audit chain or content-hash mismatch.
	KindIntegrity Kind = "INTEGRITY"
	// KindInternal marks programmer error converted from panics.
	KindInternal Kind = "INTERNAL"
)

// Error is the taxonomy-tagged error type.
type Error struct {
	Kind   Kind
	Stage  canonical.Stage // empty outside stage context
	Reason string          // stable reason code, e.g. "determinism_cache_miss"
	Err    error           // wrapped cause, may be nil
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("[%s] %s", e.Kind, e.Reason)
	if e.Stage != "" {
		msg = fmt.Sprintf("[%s] stage=%s %s", e.Kind, e.Stage, e.Reason)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// New builds a fault with no wrapped cause.
func New(kind Kind, stage canonical.Stage, reason string) *Error {
	return &Error{Kind: kind, Stage: stage, Reason: reason}
}

// Wrap tags an underlying error with kind, stage and reason. A nil err
// yields nil so call sites can wrap unconditionally.
func Wrap(kind Kind, stage canonical.Stage, reason string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Stage: stage, Reason: reason, Err: err}
}

// KindOf extracts the taxonomy kind from an error chain. Untagged errors
// report KindInternal: an unclassified failure must never look retryable.
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return KindInternal
}

// ReasonOf extracts the stable reason code, or "" for untagged errors.
func ReasonOf(err error) string {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Reason
	}
	return ""
}

// Retryable reports whether bounded deterministic retry is permitted.
// Only dependency faults qualify; decision-stage faults fail closed.
func Retryable(err error) bool {
	return KindOf(err) == KindDependencyUnavailable
}
