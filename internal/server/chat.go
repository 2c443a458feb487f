package server

import (
	"net/http"

	gateway "github.com/routellm/gateway/internal/gateway"
)

// chatRequest is the wire shape for POST /v1/llm/chat.
type chatRequest struct {
	Provider    string             `json:"provider"`
	Model       string             `json:"model"`
	Messages    []gateway.Message  `json:"messages"`
	MaxTokens   *int               `json:"max_tokens,omitempty"`
	Temperature *float64           `json:"temperature,omitempty"`
}

// handleChat implements POST /v1/llm/chat, the synchronous in-request
// failover path.
func (s *server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if !decodeRequestBody(w, r, &req) {
		return
	}
	if req.Provider == "" || len(req.Messages) == 0 {
		writeJSON(w, http.StatusBadRequest, errorResponse("provider and messages are required"))
		return
	}

	resp, err := s.deps.Chat.Chat(r.Context(), &gateway.ChatRequest{
		Provider:    req.Provider,
		Model:       req.Model,
		Messages:    req.Messages,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
	})
	if err != nil {
		writeProviderError(w, r.Context(), err)
		return
	}

	writeJSON(w, http.StatusOK, resp)
}
