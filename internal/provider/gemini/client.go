// Package gemini implements the provider.Adapter for the Google Gemini
// generateContent API.
package gemini

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
	defaultBaseURL = "https://generativelanguage.googleapis.com/v1beta"
	providerName   = "gemini"
)

// Client is the Gemini provider.Adapter. It carries no API key; the key
// travels as a query parameter per call, since Gemini authenticates that
// way rather than via a header.
type Client struct {
	baseURL      string
	defaultModel string
	maxTokens    int
	http         *http.Client
}

// New creates a Gemini Client with a tuned http.Client.
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

// SupportsAttachments: Gemini support is wired for text-only chat.
func (c *Client) SupportsAttachments() bool { return false }

// Chat implements provider.Adapter.Chat against POST
// /models/{model}:generateContent?key={apiKey}.
func (c *Client) Chat(ctx context.Context, apiKey string, req *gateway.ChatRequest, files map[string]*gateway.StoredFile) (*gateway.ChatResponse, error) {
	if hook, ok := provider.TestHook(req); ok {
		return nil, hook(providerName)
	}
	if len(files) > 0 {
		for _, m := range req.Messages {
			if len(m.Attachments) > 0 {
				return nil, gateway.ErrAttachmentsUnsupported
			}
		}
	}

	model := req.Model
	if model == "" {
		model = c.defaultModel
	}
	maxTokens := c.maxTokens
	if req.MaxTokens != nil {
		maxTokens = *req.MaxTokens
	}

	body := translateRequest(req, maxTokens)
	raw, err := json.Marshal(body)
	if err != nil {
		return nil, gateway.NewClientError(providerName, 0, fmt.Sprintf("marshal request: %v", err))
	}

	u := fmt.Sprintf("%s/models/%s:generateContent?key=%s", c.baseURL, model, apiKey)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(raw))
	if err != nil {
		return nil, gateway.NewClientError(providerName, 0, fmt.Sprintf("build request: %v", err))
	}
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

	var out generateContentResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, gateway.NewTransientError(providerName, resp.StatusCode, fmt.Sprintf("decode response: %v", err))
	}
	if len(out.Candidates) == 0 {
		return nil, gateway.NewTransientError(providerName, resp.StatusCode, "response contained no candidates")
	}

	return translateResponse(out, model), nil
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
