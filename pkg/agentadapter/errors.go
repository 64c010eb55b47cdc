// Package agentadapter implements the uniform agent invocation contract
// (C3, §4.3): the Executor interface, retry/circuit-breaker/timeout
// middleware composed around it, and the error-kind taxonomy every
// failure the core surfaces is expressed in.
package agentadapter

import (
	"errors"
	"fmt"
)

// Kind is the closed error taxonomy of §7. Every error the core surfaces
// carries one of these plus a RequestID — never a bare string.
type Kind int8

const (
	// KindNotFound — unknown request_id or approval_id.
	KindNotFound Kind = iota
	// KindAlreadyExists — duplicate create.
	KindAlreadyExists
	// KindAlreadyDecided — approval is no longer pending.
	KindAlreadyDecided
	// KindConcurrencyConflict — stale-version write; always retried
	// internally, never surfaced to users.
	KindConcurrencyConflict
	// KindTimeout — agent invocation exceeded its deadline.
	KindTimeout
	// KindRateLimited — retryable transient failure.
	KindRateLimited
	// KindUpstreamUnavailable — retryable transient failure.
	KindUpstreamUnavailable
	// KindMalformed — programming or contract error; not retried.
	KindMalformed
	// KindInvalid — programming or contract error; not retried.
	KindInvalid
	// KindPreconditionViolated — programming or contract error; not retried.
	KindPreconditionViolated
	// KindIterationCapExceeded — loop counter reached max; routed to
	// human_review.
	KindIterationCapExceeded
	// KindCancelled — administrative cancellation.
	KindCancelled
	// KindInternal — unclassified; logged at high severity.
	KindInternal
)

// String returns the taxonomy name used in audit payloads and logs.
func (k Kind) String() string {
	switch k {
	case KindNotFound:
		return "NotFound"
	case KindAlreadyExists:
		return "AlreadyExists"
	case KindAlreadyDecided:
		return "AlreadyDecided"
	case KindConcurrencyConflict:
		return "ConcurrencyConflict"
	case KindTimeout:
		return "Timeout"
	case KindRateLimited:
		return "RateLimited"
	case KindUpstreamUnavailable:
		return "UpstreamUnavailable"
	case KindMalformed:
		return "Malformed"
	case KindInvalid:
		return "Invalid"
	case KindPreconditionViolated:
		return "PreconditionViolated"
	case KindIterationCapExceeded:
		return "IterationCapExceeded"
	case KindCancelled:
		return "Cancelled"
	case KindInternal:
		return "Internal"
	default:
		return "Unknown"
	}
}

// Retryable reports whether the Adapter should retry an invocation that
// failed with this kind (§4.3: "the first three are retryable; the
// remainder are terminal").
func (k Kind) Retryable() bool {
	switch k {
	case KindTimeout, KindRateLimited, KindUpstreamUnavailable:
		return true
	default:
		return false
	}
}

// Retryable reports whether e's Kind is retryable. Exported on Error
// itself (rather than requiring callers to unwrap to Kind first) so
// retry and circuit can classify failures via a local duck-typed
// interface instead of importing this package directly — both of
// those packages are imported back by this one to build the Adapter's
// middleware stack.
func (e *Error) Retryable() bool {
	return e.Kind.Retryable()
}

// Error is the typed error every failure the core surfaces is wrapped in.
//
//nolint:govet // struct alignment optimization not critical for this type
type Error struct {
	Kind      Kind
	RequestID string
	Message   string
	Err       error
}

func (e *Error) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("researchflow[%s] request=%s: %s", e.Kind, e.RequestID, e.Message)
	}
	if e.Err != nil {
		return fmt.Sprintf("researchflow[%s] request=%s: %v", e.Kind, e.RequestID, e.Err)
	}
	return fmt.Sprintf("researchflow[%s] request=%s", e.Kind, e.RequestID)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New constructs a classified Error.
func New(kind Kind, requestID, message string) *Error {
	return &Error{Kind: kind, RequestID: requestID, Message: message}
}

// Wrap constructs a classified Error around an underlying cause.
func Wrap(kind Kind, requestID string, cause error, message string) *Error {
	return &Error{Kind: kind, RequestID: requestID, Message: message, Err: cause}
}

// Is reports whether err is a classified Error of the given kind.
func Is(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}

// KindOf returns the Kind of err, or KindInternal if err is not a
// classified Error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}
