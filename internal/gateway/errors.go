package gateway

import (
	"errors"
	"fmt"
)

// ErrorKind is the typed classification every ProviderAdapter reduces an
// upstream failure to. It is what drives retry/failover decisions, never
// the HTTP status code or provider-specific message.
type ErrorKind string

const (
	// KindRateLimit is retriable: fail over to another key immediately,
	// or re-enqueue with the provider's Retry-After hint.
	KindRateLimit ErrorKind = "rate_limit"
	// KindTransient covers 5xx, Cloudflare edge errors, and network
	// failures/timeouts. Retriable.
	KindTransient ErrorKind = "transient"
	// KindAuthentication means the key itself is bad. The key is
	// disabled permanently; the request/run continues to the next key.
	KindAuthentication ErrorKind = "authentication"
	// KindClient is a caller problem (bad request, unsupported
	// attachment, etc). Not retriable; the key is not cooled.
	KindClient ErrorKind = "client"
	// KindNoKey means KeyPool.Select found no usable key. Retriable in
	// the worker; terminal (503) in the sync path unless masked by a
	// prior RateLimit observation.
	KindNoKey ErrorKind = "no_key"
)

// ProviderError is the error type every adapter and the key pool use to
// carry a classified failure plus whatever detail callers need to react
// (a Retry-After hint, an HTTP status for logging).
type ProviderError struct {
	Kind       ErrorKind
	Provider   string
	StatusCode int
	Message    string
	RetryAfter *float64 // seconds, only meaningful for KindRateLimit
}

func (e *ProviderError) Error() string {
	if e.Provider != "" {
		return fmt.Sprintf("%s: %s (%s)", e.Provider, e.Message, e.Kind)
	}
	return fmt.Sprintf("%s (%s)", e.Message, e.Kind)
}

// HTTPStatus lets generic classification code (e.g. circuit-breaker-style
// error scoring, if ever reintroduced) recover the original status.
func (e *ProviderError) HTTPStatus() int { return e.StatusCode }

// NewRateLimitError builds a KindRateLimit ProviderError, optionally with a
// Retry-After hint in seconds.
func NewRateLimitError(provider string, status int, msg string, retryAfter *float64) *ProviderError {
	return &ProviderError{Kind: KindRateLimit, Provider: provider, StatusCode: status, Message: msg, RetryAfter: retryAfter}
}

// NewTransientError builds a KindTransient ProviderError.
func NewTransientError(provider string, status int, msg string) *ProviderError {
	return &ProviderError{Kind: KindTransient, Provider: provider, StatusCode: status, Message: msg}
}

// NewAuthenticationError builds a KindAuthentication ProviderError.
func NewAuthenticationError(provider string, status int, msg string) *ProviderError {
	return &ProviderError{Kind: KindAuthentication, Provider: provider, StatusCode: status, Message: msg}
}

// NewClientError builds a KindClient ProviderError.
func NewClientError(provider string, status int, msg string) *ProviderError {
	return &ProviderError{Kind: KindClient, Provider: provider, StatusCode: status, Message: msg}
}

// ErrNoKey is returned by KeyPool.Select when no usable key exists for a
// provider. It is not a ProviderError since it never came from upstream.
var ErrNoKey = errors.New("no available keys")

// ErrRunNotFound, ErrRunTerminal, and ErrUnauthorized are the sentinel
// errors the server layer maps to 404/400/401 respectively.
var (
	ErrRunNotFound     = errors.New("run not found")
	ErrRunTerminal     = errors.New("run already in a terminal state")
	ErrKeyNotFound     = errors.New("key not found")
	ErrUnauthorized    = errors.New("unauthorized")
	ErrAttachmentsUnsupported = errors.New("provider does not support attachments")
)

// AsProviderError unwraps err into a *ProviderError if possible.
func AsProviderError(err error) (*ProviderError, bool) {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe, true
	}
	return nil, false
}
