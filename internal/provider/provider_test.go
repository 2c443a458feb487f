package provider

import (
	"context"
	"io"
	"net/http"
	"strings"
	"testing"

	gateway "github.com/routellm/gateway/internal/gateway"
)

// fakeAdapter is a minimal Adapter for registry tests.
type fakeAdapter struct {
	name string
}

func (f *fakeAdapter) Name() string                { return f.name }
func (f *fakeAdapter) SupportsAttachments() bool    { return false }
func (f *fakeAdapter) Chat(context.Context, string, *gateway.ChatRequest, map[string]*gateway.StoredFile) (*gateway.ChatResponse, error) {
	return nil, nil
}

func TestRegistryRegisterAndGet(t *testing.T) {
	t.Parallel()

	reg := NewRegistry()
	reg.Register("openai", &fakeAdapter{name: "openai"})

	got, err := reg.Get("openai")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Name() != "openai" {
		t.Errorf("Name() = %q, want openai", got.Name())
	}

	if _, err := reg.Get("nonexistent"); err == nil {
		t.Fatal("expected error for nonexistent provider")
	}
}

func TestRegistryList(t *testing.T) {
	t.Parallel()

	reg := NewRegistry()
	reg.Register("beta", &fakeAdapter{name: "beta"})
	reg.Register("alpha", &fakeAdapter{name: "alpha"})

	names := reg.List()
	if len(names) != 2 || names[0] != "alpha" || names[1] != "beta" {
		t.Errorf("names = %v, want [alpha beta]", names)
	}
}

func TestRegistryOverwrite(t *testing.T) {
	t.Parallel()

	reg := NewRegistry()
	reg.Register("p1", &fakeAdapter{name: "p1-v1"})
	reg.Register("p1", &fakeAdapter{name: "p1-v2"})

	got, err := reg.Get("p1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Name() != "p1-v2" {
		t.Errorf("Name() = %q, want p1-v2 (overwritten)", got.Name())
	}
	if len(reg.List()) != 1 {
		t.Errorf("list len = %d, want 1", len(reg.List()))
	}
}

func TestClassifyHTTPError_RateLimit(t *testing.T) {
	t.Parallel()

	resp := &http.Response{
		StatusCode: http.StatusTooManyRequests,
		Header:     http.Header{"Retry-After": []string{"30"}},
	}
	body := []byte(`{"error":{"message":"rate limited"}}`)
	ce := ClassifyHTTPError(resp, body)
	if ce.Kind != "rate_limit" {
		t.Fatalf("Kind = %q, want rate_limit", ce.Kind)
	}
	if ce.RetryAfter == nil || *ce.RetryAfter != 30 {
		t.Fatalf("RetryAfter = %v, want 30", ce.RetryAfter)
	}
}

func TestClassifyHTTPError_ServerError(t *testing.T) {
	t.Parallel()

	resp := &http.Response{StatusCode: http.StatusBadGateway, Header: http.Header{}}
	ce := ClassifyHTTPError(resp, []byte(`{"error":{"message":"bad gateway"}}`))
	if ce.Kind != "transient" {
		t.Fatalf("Kind = %q, want transient", ce.Kind)
	}
}

func TestClassifyHTTPError_CloudflareHTML(t *testing.T) {
	t.Parallel()

	resp := &http.Response{StatusCode: 524, Header: http.Header{"Content-Type": []string{"text/html"}}}
	ce := ClassifyHTTPError(resp, []byte("<html><body>cloudflare error</body></html>"))
	if ce.Kind != "transient" {
		t.Fatalf("Kind = %q, want transient for cloudflare 524", ce.Kind)
	}
	if !strings.Contains(ce.Message, "timeout") {
		t.Fatalf("Message = %q, want cloudflare 524 timeout message", ce.Message)
	}
}

func TestClassifyHTTPError_Unauthorized(t *testing.T) {
	t.Parallel()

	resp := &http.Response{StatusCode: http.StatusUnauthorized, Header: http.Header{}}
	ce := ClassifyHTTPError(resp, []byte(`{"error":{"message":"invalid api key"}}`))
	if ce.Kind != "authentication" {
		t.Fatalf("Kind = %q, want authentication", ce.Kind)
	}
}

func TestClassifyHTTPError_OtherClient(t *testing.T) {
	t.Parallel()

	resp := &http.Response{StatusCode: http.StatusBadRequest, Header: http.Header{}}
	ce := ClassifyHTTPError(resp, []byte(`{"error":{"message":"invalid_request: missing model"}}`))
	if ce.Kind != "client" {
		t.Fatalf("Kind = %q, want client", ce.Kind)
	}
}

func TestReadErrorBody(t *testing.T) {
	t.Parallel()

	resp := &http.Response{Body: io.NopCloser(strings.NewReader("plain text error"))}
	body := ReadErrorBody(resp)
	if string(body) != "plain text error" {
		t.Fatalf("ReadErrorBody = %q", body)
	}
}
