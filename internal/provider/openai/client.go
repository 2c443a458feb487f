// Package openai implements the provider.Adapter for the OpenAI chat
// completions API and any OpenAI-compatible upstream (DeepSeek reuses this
// client verbatim against a different base URL and default model).
package openai

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/rs/dnscache"

	gateway "github.com/routellm/gateway/internal/gateway"
	"github.com/routellm/gateway/internal/provider"
)

const defaultBaseURL = "https://api.openai.com/v1"

// Client is an OpenAI-compatible provider.Adapter. It carries no API key;
// every call receives the key to use from the caller (the key pool),
// because one Client instance is shared across every credential for its
// provider.
type Client struct {
	name         string
	baseURL      string
	defaultModel string
	maxTokens    int
	http         *http.Client
}

// New creates an OpenAI-compatible Client. name is the registry tag
// ("openai" or "deepseek"); if baseURL is empty it defaults to OpenAI's.
// If resolver is non-nil, it wraps the transport's DialContext with cached
// DNS lookups.
func New(name, baseURL, defaultModel string, defaultMaxTokens int, timeout time.Duration, resolver *dnscache.Resolver) *Client {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	baseURL = strings.TrimRight(baseURL, "/")

	t := provider.NewTransport(resolver, true)

	return &Client{
		name:         name,
		baseURL:      baseURL,
		defaultModel: defaultModel,
		maxTokens:    defaultMaxTokens,
		http:         &http.Client{Transport: t, Timeout: timeout},
	}
}

// Name returns the registry tag this adapter was constructed for.
func (c *Client) Name() string { return c.name }

// SupportsAttachments: the OpenAI-compatible wire format can carry
// image_url content parts.
func (c *Client) SupportsAttachments() bool { return true }

type chatMessage struct {
	Role    string `json:"role"`
	Content any    `json:"content"`
}

type contentPart struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *imageURL `json:"image_url,omitempty"`
}

type imageURL struct {
	URL string `json:"url"`
}

type chatRequestBody struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature *float64      `json:"temperature,omitempty"`
	MaxTokens   *int          `json:"max_tokens,omitempty"`
}

type chatResponseBody struct {
	Model   string `json:"model"`
	Choices []struct {
		Message struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Usage *gateway.Usage `json:"usage,omitempty"`
}

// Chat implements provider.Adapter.Chat against an OpenAI-compatible
// /chat/completions endpoint.
func (c *Client) Chat(ctx context.Context, apiKey string, req *gateway.ChatRequest, files map[string]*gateway.StoredFile) (*gateway.ChatResponse, error) {
	if hook, ok := provider.TestHook(req); ok {
		return nil, hook(c.name)
	}

	model := req.Model
	if model == "" {
		model = c.defaultModel
	}
	maxTokens := c.maxTokens
	if req.MaxTokens != nil {
		maxTokens = *req.MaxTokens
	}

	body := chatRequestBody{Model: model, Temperature: req.Temperature, MaxTokens: &maxTokens}
	for _, m := range req.Messages {
		body.Messages = append(body.Messages, translateMessage(m, files))
	}

	raw, err := json.Marshal(body)
	if err != nil {
		return nil, gateway.NewClientError(c.name, 0, fmt.Sprintf("marshal request: %v", err))
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(raw))
	if err != nil {
		return nil, gateway.NewClientError(c.name, 0, fmt.Sprintf("build request: %v", err))
	}
	httpReq.Header.Set("Authorization", "Bearer "+apiKey)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, gateway.NewTransientError(c.name, 0, fmt.Sprintf("request failed: %v", err))
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		errBody := provider.ReadErrorBody(resp)
		ce := provider.ClassifyHTTPError(resp, errBody)
		return nil, classifiedToProviderError(c.name, ce)
	}

	var out chatResponseBody
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, gateway.NewTransientError(c.name, resp.StatusCode, fmt.Sprintf("decode response: %v", err))
	}
	if len(out.Choices) == 0 {
		return nil, gateway.NewTransientError(c.name, resp.StatusCode, "response contained no choices")
	}

	return &gateway.ChatResponse{
		Model: out.Model,
		Message: gateway.Message{
			Role:    gateway.Role(out.Choices[0].Message.Role),
			Content: out.Choices[0].Message.Content,
		},
		Usage: out.Usage,
	}, nil
}

func translateMessage(m gateway.Message, files map[string]*gateway.StoredFile) chatMessage {
	if len(m.Attachments) == 0 {
		return chatMessage{Role: string(m.Role), Content: m.Content}
	}
	parts := []contentPart{{Type: "text", Text: m.Content}}
	for _, a := range m.Attachments {
		f := files[a.FileID]
		if f == nil {
			continue
		}
		data, err := os.ReadFile(f.StoragePath)
		if err != nil {
			continue
		}
		dataURL := fmt.Sprintf("data:%s;base64,%s", f.MimeType, base64.StdEncoding.EncodeToString(data))
		parts = append(parts, contentPart{Type: "image_url", ImageURL: &imageURL{URL: dataURL}})
	}
	return chatMessage{Role: string(m.Role), Content: parts}
}

func classifiedToProviderError(name string, ce provider.ClassifiedError) *gateway.ProviderError {
	switch ce.Kind {
	case "rate_limit":
		return gateway.NewRateLimitError(name, ce.StatusCode, ce.Message, ce.RetryAfter)
	case "transient":
		return gateway.NewTransientError(name, ce.StatusCode, ce.Message)
	case "authentication":
		return gateway.NewAuthenticationError(name, ce.StatusCode, ce.Message)
	default:
		return gateway.NewClientError(name, ce.StatusCode, ce.Message)
	}
}
