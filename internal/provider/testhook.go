package provider

import (
	gateway "github.com/routellm/gateway/internal/gateway"
)

// TestHook implements the force429/force_transient_error contract every
// adapter honors: if the first message's content is one of these two
// sentinel strings, the adapter raises the corresponding error without
// calling upstream at all. Part of the adapter contract, not a debugging
// backdoor removed in production. The adapters' unit tests exercise these
// hooks.
func TestHook(req *gateway.ChatRequest) (func(provider string) error, bool) {
	if len(req.Messages) == 0 {
		return nil, false
	}
	switch req.Messages[0].Content {
	case "force429":
		return func(provider string) error {
			retryAfter := 30.0
			return gateway.NewRateLimitError(provider, 429, "forced rate limit for testing", &retryAfter)
		}, true
	case "force_transient_error":
		return func(provider string) error {
			return gateway.NewTransientError(provider, 503, "forced transient error for testing")
		}, true
	default:
		return nil, false
	}
}
