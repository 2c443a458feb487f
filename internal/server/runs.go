package server

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	gateway "github.com/routellm/gateway/internal/gateway"
)

// createRunRequest is the wire shape for POST /v1/agent/runs.
type createRunRequest struct {
	Provider       string            `json:"provider"`
	Model          string            `json:"model"`
	Messages       []gateway.Message `json:"messages"`
	MaxTokens      *int              `json:"max_tokens,omitempty"`
	IdempotencyKey string            `json:"idempotency_key,omitempty"`
}

type runResponse struct {
	RunID           string             `json:"run_id"`
	Status          gateway.RunStatus  `json:"status"`
	Provider        string             `json:"provider,omitempty"`
	Model           string             `json:"model,omitempty"`
	OutputMessage   *gateway.Message   `json:"output_message,omitempty"`
	Error           string             `json:"error,omitempty"`
	RetryCount      int                `json:"retry_count,omitempty"`
	CreatedAt       time.Time          `json:"created_at"`
	UpdatedAt       time.Time          `json:"updated_at"`
	FinishedAt      *time.Time         `json:"finished_at,omitempty"`
}

func toRunResponse(run *gateway.Run) runResponse {
	return runResponse{
		RunID:         run.ID,
		Status:        run.Status,
		Provider:      run.Provider,
		Model:         run.Model,
		OutputMessage: run.OutputMessage,
		Error:         run.Error,
		RetryCount:    run.RetryCount,
		CreatedAt:     run.CreatedAt,
		UpdatedAt:     run.UpdatedAt,
		FinishedAt:    run.FinishedAt,
	}
}

// handleCreateRun implements POST /v1/agent/runs.
func (s *server) handleCreateRun(w http.ResponseWriter, r *http.Request) {
	var req createRunRequest
	if !decodeRequestBody(w, r, &req) {
		return
	}
	if req.Provider == "" || len(req.Messages) == 0 {
		writeJSON(w, http.StatusBadRequest, errorResponse("provider and messages are required"))
		return
	}

	run, err := s.deps.Runs.CreateRun(r.Context(), &gateway.ChatRequest{
		Provider:  req.Provider,
		Model:     req.Model,
		Messages:  req.Messages,
		MaxTokens: req.MaxTokens,
	}, req.IdempotencyKey)
	if err != nil {
		writeProviderError(w, r.Context(), err)
		return
	}

	writeJSON(w, http.StatusCreated, toRunResponse(run))
}

// handleGetRun implements GET /v1/agent/runs/{id}.
func (s *server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	run, err := s.deps.RunStore.GetRun(r.Context(), id)
	if err != nil {
		writeProviderError(w, r.Context(), err)
		return
	}
	writeJSON(w, http.StatusOK, toRunResponse(run))
}

// handleCancelRun implements POST /v1/agent/runs/{id}/cancel: a best-effort,
// non-preemptive cancellation. A run in flight finishes its current
// provider call; the worker's next check-in honors the cancellation instead
// of overwriting it with a stale success/failure.
func (s *server) handleCancelRun(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	run, err := s.deps.RunStore.GetRun(r.Context(), id)
	if err != nil {
		writeProviderError(w, r.Context(), err)
		return
	}
	if run.Status.Terminal() {
		writeProviderError(w, r.Context(), gateway.ErrRunTerminal)
		return
	}

	run.Status = gateway.RunCanceled
	if err := s.deps.RunStore.UpdateRun(r.Context(), run); err != nil {
		writeProviderError(w, r.Context(), err)
		return
	}
	writeJSON(w, http.StatusOK, toRunResponse(run))
}
