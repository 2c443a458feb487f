package gemini

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	gateway "github.com/routellm/gateway/internal/gateway"
)

func TestChat(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, ":generateContent") {
			t.Errorf("path = %s, want suffix :generateContent", r.URL.Path)
		}
		if r.URL.Query().Get("key") != "test-key" {
			t.Error("missing key query parameter")
		}

		var body generateContentRequest
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if body.SystemInstruction == nil || body.SystemInstruction.Parts[0].Text != "be terse" {
			t.Errorf("systemInstruction = %v, want hoisted system message", body.SystemInstruction)
		}
		if len(body.Contents) != 1 || body.Contents[0].Role != "user" {
			t.Fatalf("contents = %v, want one user turn", body.Contents)
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(generateContentResponse{
			Candidates: []struct {
				Content struct {
					Parts []struct {
						Text string `json:"text"`
					} `json:"parts"`
				} `json:"content"`
			}{{Content: struct {
				Parts []struct {
					Text string `json:"text"`
				} `json:"parts"`
			}{Parts: []struct {
				Text string `json:"text"`
			}{{Text: "Hello!"}}}}},
		})
	}))
	defer srv.Close()

	client := New(srv.URL, "gemini-1.5-flash", 1024, 30*time.Second, nil)
	resp, err := client.Chat(context.Background(), "test-key", &gateway.ChatRequest{
		Messages: []gateway.Message{
			{Role: gateway.RoleSystem, Content: "be terse"},
			{Role: gateway.RoleUser, Content: "hi"},
		},
	}, nil)
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if resp.Message.Content != "Hello!" {
		t.Errorf("content = %q, want Hello!", resp.Message.Content)
	}
}

func TestChat_AssistantRoleMapsToModel(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body generateContentRequest
		json.NewDecoder(r.Body).Decode(&body)
		if len(body.Contents) != 2 || body.Contents[1].Role != "model" {
			t.Errorf("contents = %+v, want assistant turn mapped to model role", body.Contents)
		}
		json.NewEncoder(w).Encode(generateContentResponse{})
	}))
	defer srv.Close()

	client := New(srv.URL, "gemini-1.5-flash", 1024, 30*time.Second, nil)
	_, err := client.Chat(context.Background(), "k", &gateway.ChatRequest{
		Messages: []gateway.Message{
			{Role: gateway.RoleUser, Content: "hi"},
			{Role: gateway.RoleAssistant, Content: "hello"},
		},
	}, nil)
	if err == nil {
		t.Fatal("expected transient error for empty candidates")
	}
}

func TestChat_AttachmentsUnsupported(t *testing.T) {
	t.Parallel()

	client := New("http://unused.invalid", "gemini-1.5-flash", 1024, 30*time.Second, nil)
	_, err := client.Chat(context.Background(), "k", &gateway.ChatRequest{
		Messages: []gateway.Message{{Role: gateway.RoleUser, Content: "hi", Attachments: []gateway.Attachment{{FileID: "f1"}}}},
	}, map[string]*gateway.StoredFile{"f1": {ID: "f1"}})
	if err != gateway.ErrAttachmentsUnsupported {
		t.Fatalf("err = %v, want ErrAttachmentsUnsupported", err)
	}
}

func TestChat_RateLimit(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Retry-After", "5")
		w.WriteHeader(http.StatusTooManyRequests)
		fmt.Fprint(w, `{"error":{"message":"rate limited"}}`)
	}))
	defer srv.Close()

	client := New(srv.URL, "gemini-1.5-flash", 1024, 30*time.Second, nil)
	_, err := client.Chat(context.Background(), "k", &gateway.ChatRequest{
		Messages: []gateway.Message{{Role: gateway.RoleUser, Content: "hi"}},
	}, nil)
	pe, ok := gateway.AsProviderError(err)
	if !ok || pe.Kind != gateway.KindRateLimit {
		t.Fatalf("expected RateLimit, got %v", err)
	}
}

func TestChat_ForceHooks(t *testing.T) {
	t.Parallel()

	client := New("http://unused.invalid", "gemini-1.5-flash", 1024, 30*time.Second, nil)

	_, err := client.Chat(context.Background(), "k", &gateway.ChatRequest{
		Messages: []gateway.Message{{Role: gateway.RoleUser, Content: "force429"}},
	}, nil)
	pe, ok := gateway.AsProviderError(err)
	if !ok || pe.Kind != gateway.KindRateLimit {
		t.Fatalf("force429 hook: expected RateLimit, got %v", err)
	}
}

func TestName(t *testing.T) {
	t.Parallel()
	client := New("", "gemini-1.5-flash", 1024, 30*time.Second, nil)
	if client.Name() != "gemini" {
		t.Errorf("Name() = %q, want gemini", client.Name())
	}
}
