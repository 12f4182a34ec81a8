package provider

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
)

// ErrUnsupportedCapability is returned before any network I/O when a request
// needs a capability the target provider lacks.
var ErrUnsupportedCapability = errors.New("unsupported capability")

// ErrUnknownProvider is returned by the registry for names outside the
// configured provider set.
var ErrUnknownProvider = errors.New("unknown provider")

// Kind classifies a provider failure. The orchestrator keys its retry and
// surfacing decisions off this classification, never off message strings.
type Kind int

// Provider error kinds.
const (
	// KindAuth marks missing or rejected credentials. Fatal, never retried.
	KindAuth Kind = iota + 1
	// KindRateLimited marks quota exhaustion. Retried with bounded backoff.
	KindRateLimited
	// KindTimeout marks a request deadline hit. Retried once, then surfaced.
	KindTimeout
	// KindUnavailable marks an unreachable provider (connection refused,
	// 5xx). Surfaced immediately, no silent fallback to another provider.
	KindUnavailable
	// KindInvalid marks a request the provider rejected as malformed
	// (unknown model, oversized payload). Fatal, never retried.
	KindInvalid
)

// String returns the kind's wire-stable label.
func (k Kind) String() string {
	switch k {
	case KindAuth:
		return "auth"
	case KindRateLimited:
		return "rate_limited"
	case KindTimeout:
		return "timeout"
	case KindUnavailable:
		return "unavailable"
	case KindInvalid:
		return "invalid"
	default:
		return "unknown"
	}
}

// Error is the typed failure every provider variant maps its wire errors into.
type Error struct {
	Provider string
	Kind     Kind
	Status   int // HTTP status when the failure came from a response, else 0
	Message  string
}

func (e *Error) Error() string {
	if e.Status > 0 {
		return fmt.Sprintf("provider %s: %s (status %d): %s", e.Provider, e.Kind, e.Status, e.Message)
	}
	return fmt.Sprintf("provider %s: %s: %s", e.Provider, e.Kind, e.Message)
}

// Retryable reports whether the failure is transient.
func (e *Error) Retryable() bool {
	return e.Kind == KindRateLimited || e.Kind == KindTimeout
}

// ErrKind extracts the Kind from err, or 0 if err is not a provider Error.
func ErrKind(err error) Kind {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return 0
}

// statusKind maps an HTTP response status to an error kind.
func statusKind(status int) Kind {
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return KindAuth
	case status == http.StatusTooManyRequests:
		return KindRateLimited
	case status == http.StatusRequestTimeout:
		return KindTimeout
	case status >= 500:
		return KindUnavailable
	default:
		return KindInvalid
	}
}

// wrapTransportError maps a transport-level failure (no HTTP response) into a
// typed Error. Context cancellation passes through untouched so callers can
// distinguish a user abort from a provider fault.
func wrapTransportError(name string, err error) error {
	if errors.Is(err, context.Canceled) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &Error{Provider: name, Kind: KindTimeout, Message: err.Error()}
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return &Error{Provider: name, Kind: KindTimeout, Message: err.Error()}
	}
	return &Error{Provider: name, Kind: KindUnavailable, Message: err.Error()}
}
