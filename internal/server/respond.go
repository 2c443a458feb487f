package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"sync"

	gateway "github.com/routellm/gateway/internal/gateway"
)

// bodyPool reuses buffers for request body reads, avoiding per-request
// allocations from json.NewDecoder (which cannot be pooled/reset).
var bodyPool = sync.Pool{New: func() any { return new(bytes.Buffer) }}

// maxRequestBody is the maximum allowed request body size (4 MB).
const maxRequestBody = 4 << 20

// decodeRequestBody reads the request body via bodyPool, unmarshals JSON into
// v, and returns false (writing a 400) on error. Parse errors are logged
// server-side; clients receive a static message to avoid leaking internals.
func decodeRequestBody(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBody)
	buf := bodyPool.Get().(*bytes.Buffer)
	buf.Reset()
	if _, err := buf.ReadFrom(r.Body); err != nil {
		bodyPool.Put(buf)
		writeJSON(w, http.StatusBadRequest, errorResponse("invalid request body"))
		return false
	}
	if err := json.Unmarshal(buf.Bytes(), v); err != nil {
		bodyPool.Put(buf)
		slog.LogAttrs(r.Context(), slog.LevelWarn, "request decode error",
			slog.String("error", err.Error()),
		)
		writeJSON(w, http.StatusBadRequest, errorResponse("invalid request body"))
		return false
	}
	bodyPool.Put(buf)
	return true
}

type apiError struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

func errorResponse(msg string) apiError {
	var e apiError
	e.Error.Message = msg
	e.Error.Type = "invalid_request_error"
	return e
}

// writeProviderError logs the full error server-side and returns a
// classified message to the client, mapping the ProviderError kind (or
// sentinel error) onto an HTTP status and a Retry-After header when present.
func writeProviderError(w http.ResponseWriter, ctx context.Context, err error) {
	status := errorStatus(err)
	slog.LogAttrs(ctx, slog.LevelError, "upstream error",
		slog.Int("status", status),
		slog.String("error", err.Error()),
	)
	if pe, ok := gateway.AsProviderError(err); ok && pe.RetryAfter != nil {
		w.Header()[hdrRetryAfter] = []string{formatRetryAfter(*pe.RetryAfter)}
	}
	writeJSON(w, status, errorResponse(err.Error()))
}

const hdrRetryAfter = "Retry-After"

func formatRetryAfter(seconds float64) string {
	n := int(seconds + 0.999) // round up, never advertise less wait than actual
	if n < 1 {
		n = 1
	}
	return strconv.Itoa(n)
}

func errorStatus(err error) int {
	switch {
	case errors.Is(err, gateway.ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, gateway.ErrRunNotFound), errors.Is(err, gateway.ErrKeyNotFound):
		return http.StatusNotFound
	case errors.Is(err, gateway.ErrRunTerminal), errors.Is(err, gateway.ErrAttachmentsUnsupported):
		return http.StatusBadRequest
	}
	if pe, ok := gateway.AsProviderError(err); ok {
		switch pe.Kind {
		case gateway.KindRateLimit:
			return http.StatusTooManyRequests
		case gateway.KindClient:
			return http.StatusBadRequest
		default:
			return http.StatusServiceUnavailable
		}
	}
	return http.StatusInternalServerError
}

// jsonCT is a pre-allocated header value slice. Direct map assignment
// (w.Header()["Content-Type"] = jsonCT) avoids the []string{v} alloc
// that Header.Set creates on every call.
var jsonCT = []string{"application/json"}

func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		slog.Error("failed to encode response", "error", err)
		return
	}
	w.Header()["Content-Type"] = jsonCT
	w.WriteHeader(status)
	w.Write(data)
}
