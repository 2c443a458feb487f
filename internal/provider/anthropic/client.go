// Package anthropic implements the provider.Adapter for the Anthropic
// Messages API.
package anthropic

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/dnscache"

	gateway "github.com/routellm/gateway/internal/gateway"
	"github.com/routellm/gateway/internal/provider"
)

const (
	defaultBaseURL      = "https://api.anthropic.com"
	anthropicVersion    = "2023-06-01"
	maxTokensUpperBound = 64000
	providerName        = "anthropic"
)

// Client is the Anthropic provider.Adapter. It carries no API key; every
// call receives the key to use from the caller (the key pool).
type Client struct {
	baseURL      string
	defaultModel string
	maxTokens    int
	http         *http.Client
}

// New creates an Anthropic Client with a tuned http.Client, mirroring the
// OpenAI client's transport construction (cached DNS resolution, connection
// pool sizing).
func New(baseURL, defaultModel string, defaultMaxTokens int, timeout time.Duration, resolver *dnscache.Resolver) *Client {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	baseURL = strings.TrimRight(baseURL, "/")

	t := provider.NewTransport(resolver, true)

	return &Client{
		baseURL:      baseURL,
		defaultModel: defaultModel,
		maxTokens:    defaultMaxTokens,
		http:         &http.Client{Transport: t, Timeout: timeout},
	}
}

// Name returns the registry tag.
func (c *Client) Name() string { return providerName }

// SupportsAttachments: Anthropic accepts inline base64 image content blocks.
func (c *Client) SupportsAttachments() bool { return true }

// Chat implements provider.Adapter.Chat against POST /v1/messages.
func (c *Client) Chat(ctx context.Context, apiKey string, req *gateway.ChatRequest, files map[string]*gateway.StoredFile) (*gateway.ChatResponse, error) {
	if hook, ok := provider.TestHook(req); ok {
		return nil, hook(providerName)
	}

	model := req.Model
	if model == "" {
		model = c.defaultModel
	}
	maxTokens := c.maxTokens
	if req.MaxTokens != nil {
		maxTokens = *req.MaxTokens
	}
	if maxTokens > maxTokensUpperBound {
		maxTokens = maxTokensUpperBound
	}

	body := translateRequest(req, model, maxTokens, files)
	raw, err := json.Marshal(body)
	if err != nil {
		return nil, gateway.NewClientError(providerName, 0, fmt.Sprintf("marshal request: %v", err))
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/messages", bytes.NewReader(raw))
	if err != nil {
		return nil, gateway.NewClientError(providerName, 0, fmt.Sprintf("build request: %v", err))
	}
	httpReq.Header.Set("x-api-key", apiKey)
	httpReq.Header.Set("anthropic-version", anthropicVersion)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, gateway.NewTransientError(providerName, 0, fmt.Sprintf("request failed: %v", err))
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		errBody := provider.ReadErrorBody(resp)
		ce := provider.ClassifyHTTPError(resp, errBody)
		return nil, classifiedToProviderError(ce)
	}

	var out messagesResponseBody
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, gateway.NewTransientError(providerName, resp.StatusCode, fmt.Sprintf("decode response: %v", err))
	}
	return translateResponse(out, model, resp.StatusCode)
}

func classifiedToProviderError(ce provider.ClassifiedError) *gateway.ProviderError {
	switch ce.Kind {
	case "rate_limit":
		return gateway.NewRateLimitError(providerName, ce.StatusCode, ce.Message, ce.RetryAfter)
	case "transient":
		return gateway.NewTransientError(providerName, ce.StatusCode, ce.Message)
	case "authentication":
		return gateway.NewAuthenticationError(providerName, ce.StatusCode, ce.Message)
	default:
		return gateway.NewClientError(providerName, ce.StatusCode, ce.Message)
	}
}
