package server

import (
	"net/http"
	"sort"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	gateway "github.com/routellm/gateway/internal/gateway"
)

type keyResponse struct {
	ID               string             `json:"id"`
	Provider         string             `json:"provider"`
	DisplayName      string             `json:"display_name"`
	Environment      string             `json:"environment,omitempty"`
	MaxRPM           *int               `json:"max_rpm,omitempty"`
	MaxTPM           *int               `json:"max_tpm,omitempty"`
	Priority         int                `json:"priority"`
	Status           gateway.KeyStatus  `json:"status"`
	ErrorCountRecent int                `json:"error_count_recent"`
	CreatedAt        time.Time          `json:"created_at"`
	UpdatedAt        time.Time          `json:"updated_at"`
	LastUsedAt       *time.Time         `json:"last_used_at,omitempty"`
	CoolingUntil     *time.Time         `json:"cooling_until,omitempty"`
}

func toKeyResponse(k *gateway.ProviderKey) keyResponse {
	return keyResponse{
		ID:               k.ID,
		Provider:         k.Provider,
		DisplayName:      k.DisplayName,
		Environment:      k.Environment,
		MaxRPM:           k.MaxRPM,
		MaxTPM:           k.MaxTPM,
		Priority:         k.Priority,
		Status:           k.Status,
		ErrorCountRecent: k.ErrorCountRecent,
		CreatedAt:        k.CreatedAt,
		UpdatedAt:        k.UpdatedAt,
		LastUsedAt:       k.LastUsedAt,
		CoolingUntil:     k.CoolingUntil,
	}
}

// handleListKeys implements GET /v1/admin/keys, sorted by (priority,
// created_at). KeyPool.Select orders candidates by error_count_recent
// first and only then by these two fields.
func (s *server) handleListKeys(w http.ResponseWriter, r *http.Request) {
	provider := r.URL.Query().Get("provider")
	status := r.URL.Query().Get("status")

	keys, err := s.deps.Keys.ListKeys(r.Context(), provider, status)
	if err != nil {
		writeProviderError(w, r.Context(), err)
		return
	}

	sort.Slice(keys, func(i, j int) bool {
		if keys[i].Priority != keys[j].Priority {
			return keys[i].Priority < keys[j].Priority
		}
		return keys[i].CreatedAt.Before(keys[j].CreatedAt)
	})

	resp := make([]keyResponse, len(keys))
	for i, k := range keys {
		resp[i] = toKeyResponse(k)
	}
	writeJSON(w, http.StatusOK, resp)
}

// createKeyRequest is the wire shape for POST /v1/admin/keys.
type createKeyRequest struct {
	Provider    string `json:"provider"`
	DisplayName string `json:"display_name"`
	APIKey      string `json:"api_key"`
	Environment string `json:"environment"`
	MaxRPM      *int   `json:"max_rpm,omitempty"`
	MaxTPM      *int   `json:"max_tpm,omitempty"`
	Priority    int    `json:"priority"`
}

func (s *server) handleCreateKey(w http.ResponseWriter, r *http.Request) {
	var req createKeyRequest
	if !decodeRequestBody(w, r, &req) {
		return
	}
	if req.Provider == "" || req.APIKey == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse("provider and api_key are required"))
		return
	}

	now := time.Now().UTC()
	key := &gateway.ProviderKey{
		ID:          uuid.New().String(),
		Provider:    req.Provider,
		DisplayName: req.DisplayName,
		APIKey:      req.APIKey,
		Environment: req.Environment,
		MaxRPM:      req.MaxRPM,
		MaxTPM:      req.MaxTPM,
		Priority:    req.Priority,
		Status:      gateway.KeyActive,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.deps.Keys.CreateKey(r.Context(), key); err != nil {
		writeProviderError(w, r.Context(), err)
		return
	}
	writeJSON(w, http.StatusCreated, toKeyResponse(key))
}

func (s *server) handleGetKey(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	key, err := s.deps.Keys.GetKey(r.Context(), id)
	if err != nil {
		writeProviderError(w, r.Context(), err)
		return
	}
	writeJSON(w, http.StatusOK, toKeyResponse(key))
}

// patchKeyRequest carries only the fields an operator may update; nil means
// "leave unchanged".
type patchKeyRequest struct {
	DisplayName *string            `json:"display_name,omitempty"`
	MaxRPM      *int               `json:"max_rpm,omitempty"`
	MaxTPM      *int               `json:"max_tpm,omitempty"`
	Priority    *int               `json:"priority,omitempty"`
	Status      *gateway.KeyStatus `json:"status,omitempty"`
}

func (s *server) handlePatchKey(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	key, err := s.deps.Keys.GetKey(r.Context(), id)
	if err != nil {
		writeProviderError(w, r.Context(), err)
		return
	}

	var req patchKeyRequest
	if !decodeRequestBody(w, r, &req) {
		return
	}
	if req.DisplayName != nil {
		key.DisplayName = *req.DisplayName
	}
	if req.MaxRPM != nil {
		key.MaxRPM = req.MaxRPM
	}
	if req.MaxTPM != nil {
		key.MaxTPM = req.MaxTPM
	}
	if req.Priority != nil {
		key.Priority = *req.Priority
	}
	if req.Status != nil {
		key.Status = *req.Status
	}
	key.UpdatedAt = time.Now().UTC()

	if err := s.deps.Keys.UpdateKey(r.Context(), key); err != nil {
		writeProviderError(w, r.Context(), err)
		return
	}
	writeJSON(w, http.StatusOK, toKeyResponse(key))
}

func (s *server) handleDeleteKey(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.deps.Keys.DeleteKey(r.Context(), id); err != nil {
		writeProviderError(w, r.Context(), err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
