// Package fault defines the closed failure taxonomy shared across the
// gateway. Every failure surfaced to callers or recorded in alerts is one of
// the Kinds below; transport-level errors are additionally tagged with a
// Class that drives the retry policy. No component matches on error strings.
package fault

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"
)

// Kind is the caller-visible failure category.
type Kind string

// Failure kinds surfaced in responses and alerts.
const (
	InvalidInput     Kind = "invalid_input"
	QuotaReject      Kind = "quota_reject"
	BudgetReject     Kind = "budget_reject"
	NoAgentAvailable Kind = "no_agent_available"
	CircuitOpen      Kind = "circuit_open"
	RateLimit        Kind = "rate_limit"
	Timeout          Kind = "timeout"
	UpstreamError    Kind = "upstream_error"
	AuthError        Kind = "auth_error"
	Cancelled        Kind = "cancelled"
	NotFound         Kind = "not_found"
	Internal         Kind = "internal"
)

// Class is the transport-level classification consumed by the retry policy.
type Class string

// Transport classes.
const (
	ClassRateLimit  Class = "rate_limit"
	ClassServer     Class = "server_error"
	ClassTimeout    Class = "timeout"
	ClassConnection Class = "connection_error"
	ClassValidation Class = "validation"
	ClassAuth       Class = "auth"
	ClassNotFound   Class = "not_found"
	ClassUnknown    Class = "unknown"
)

// classKinds maps transport classes to the kind surfaced when retries are
// exhausted or the class is terminal.
var classKinds = map[Class]Kind{
	ClassRateLimit:  RateLimit,
	ClassServer:     UpstreamError,
	ClassTimeout:    Timeout,
	ClassConnection: UpstreamError,
	ClassValidation: InvalidInput,
	ClassAuth:       AuthError,
	ClassNotFound:   NotFound,
	ClassUnknown:    Internal,
}

// Fault is the concrete error type carried through the dispatch path.
type Fault struct {
	Kind       Kind
	Class      Class
	Message    string
	RetryAfter time.Duration  // provider-supplied backoff hint, zero if absent
	Detail     map[string]any // numbers surfaced to callers (budget/quota rejections)
	cause      error
}

// Error implements the error interface.
func (f *Fault) Error() string {
	if f.cause != nil {
		return fmt.Sprintf("%s: %s: %v", f.Kind, f.Message, f.cause)
	}
	return fmt.Sprintf("%s: %s", f.Kind, f.Message)
}

// Unwrap exposes the wrapped cause for errors.Is/As chains.
func (f *Fault) Unwrap() error { return f.cause }

// New creates a Fault of the given kind.
func New(kind Kind, message string) *Fault {
	return &Fault{Kind: kind, Class: defaultClass(kind), Message: message}
}

// Newf creates a Fault with a formatted message.
func Newf(kind Kind, format string, args ...any) *Fault {
	return New(kind, fmt.Sprintf(format, args...))
}

// Wrap creates a Fault of the given kind around an underlying cause.
func Wrap(kind Kind, message string, cause error) *Fault {
	return &Fault{Kind: kind, Class: defaultClass(kind), Message: message, cause: cause}
}

// WithClass overrides the transport class.
func (f *Fault) WithClass(c Class) *Fault {
	f.Class = c
	return f
}

// WithRetryAfter attaches a provider-supplied backoff hint.
func (f *Fault) WithRetryAfter(d time.Duration) *Fault {
	f.RetryAfter = d
	return f
}

// WithDetail attaches a key/value pair surfaced in the response body.
func (f *Fault) WithDetail(key string, value any) *Fault {
	if f.Detail == nil {
		f.Detail = make(map[string]any)
	}
	f.Detail[key] = value
	return f
}

// defaultClass maps a kind to the transport class it usually originates from.
func defaultClass(kind Kind) Class {
	switch kind {
	case RateLimit:
		return ClassRateLimit
	case UpstreamError:
		return ClassServer
	case Timeout:
		return ClassTimeout
	case InvalidInput:
		return ClassValidation
	case AuthError:
		return ClassAuth
	case NotFound:
		return ClassNotFound
	default:
		return ClassUnknown
	}
}

// KindOf extracts the Kind from any error. Context errors map to
// Timeout/Cancelled; anything unclassified is Internal.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var f *Fault
	if errors.As(err, &f) {
		return f.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return Timeout
	}
	if errors.Is(err, context.Canceled) {
		return Cancelled
	}
	return Internal
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// ClassOf extracts the transport class from any error, deriving one from
// context and net errors when the error is not a Fault.
func ClassOf(err error) Class {
	if err == nil {
		return ""
	}
	var f *Fault
	if errors.As(err, &f) && f.Class != "" {
		return f.Class
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ClassTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return ClassTimeout
		}
		return ClassConnection
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return ClassConnection
	}
	return ClassUnknown
}

// RetryAfterOf extracts a provider backoff hint, zero when absent.
func RetryAfterOf(err error) time.Duration {
	var f *Fault
	if errors.As(err, &f) {
		return f.RetryAfter
	}
	return 0
}

// FromStatus classifies an upstream HTTP status into a Fault. The message is
// used verbatim; callers wrap provider errors as the cause.
func FromStatus(status int, message string, cause error) *Fault {
	var class Class
	switch {
	case status == 429:
		class = ClassRateLimit
	case status == 401 || status == 403:
		class = ClassAuth
	case status == 404:
		class = ClassNotFound
	case status == 408:
		class = ClassTimeout
	case status >= 500:
		class = ClassServer
	case status >= 400:
		class = ClassValidation
	default:
		class = ClassUnknown
	}
	return &Fault{
		Kind:    classKinds[class],
		Class:   class,
		Message: message,
		cause:   cause,
	}
}

// Terminal converts a transport-classified error into its surface Fault once
// retries are exhausted. Existing Faults pass through unchanged.
func Terminal(err error) *Fault {
	if err == nil {
		return nil
	}
	var f *Fault
	if errors.As(err, &f) {
		return f
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return Wrap(Timeout, "deadline exceeded", err)
	}
	if errors.Is(err, context.Canceled) {
		return Wrap(Cancelled, "cancelled", err)
	}
	class := ClassOf(err)
	return &Fault{Kind: classKinds[class], Class: class, Message: err.Error(), cause: err}
}
