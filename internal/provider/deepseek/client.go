// Package deepseek provides the DeepSeek provider.Adapter. DeepSeek's API
// is OpenAI-compatible, so this is a thin constructor wrapper around
// provider/openai's Client pointed at a different base URL and default
// model, per spec §4.2: "OpenAI-compatible shape against DeepSeek base URL."
package deepseek

import (
	"time"

	"github.com/rs/dnscache"

	"github.com/routellm/gateway/internal/provider/openai"
)

const defaultBaseURL = "https://api.deepseek.com/v1"

// New constructs a DeepSeek adapter. If baseURL is empty it defaults to
// DeepSeek's public API.
func New(baseURL, defaultModel string, defaultMaxTokens int, timeout time.Duration, resolver *dnscache.Resolver) *openai.Client {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	return openai.New("deepseek", baseURL, defaultModel, defaultMaxTokens, timeout, resolver)
}
