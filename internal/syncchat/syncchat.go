// Package syncchat implements the synchronous chat path: resolve a
// provider adapter, iterate keys from the pool until one succeeds or the
// retry budget is exhausted, and record usage on success.
package syncchat

import (
	"context"
	"log/slog"
	"time"

	gateway "github.com/routellm/gateway/internal/gateway"
	"github.com/routellm/gateway/internal/keypool"
	"github.com/routellm/gateway/internal/provider"
	"github.com/routellm/gateway/internal/storage"
)

// Recorder is the subset of TokenTimeSeries.record this path calls after a
// successful upstream response.
type Recorder interface {
	Record(ctx context.Context, keyID string, tokens int) error
}

// Service orchestrates the in-request failover loop, per spec §4.3.
type Service struct {
	providers  *provider.Registry
	pool       *keypool.Pool
	files      storage.FileStore
	recorder   Recorder
	maxRetries int
	now        func() time.Time
}

// New constructs a Service. maxRetries is sync_max_retries; the loop makes
// up to maxRetries+1 attempts. now defaults to time.Now if nil (tests pass
// a fixed clock).
func New(providers *provider.Registry, pool *keypool.Pool, files storage.FileStore, recorder Recorder, maxRetries int, now func() time.Time) *Service {
	if now == nil {
		now = time.Now
	}
	return &Service{providers: providers, pool: pool, files: files, recorder: recorder, maxRetries: maxRetries, now: now}
}

// Chat resolves req.Provider's adapter and iterates keys per spec §4.3's
// algorithm until an attempt succeeds, a Client error occurs, or the retry
// budget (maxRetries+1 attempts) is exhausted.
func (s *Service) Chat(ctx context.Context, req *gateway.ChatRequest) (*gateway.ChatResponse, error) {
	adapter, err := s.providers.Get(req.Provider)
	if err != nil {
		return nil, gateway.NewClientError(req.Provider, 0, err.Error())
	}
	if !adapter.SupportsAttachments() {
		for _, m := range req.Messages {
			if len(m.Attachments) > 0 {
				return nil, gateway.ErrAttachmentsUnsupported
			}
		}
	}

	files, err := s.resolveFiles(ctx, req)
	if err != nil {
		return nil, err
	}

	excluded := make(map[string]bool, s.maxRetries+1)
	var lastErr error
	attempts := s.maxRetries + 1

	for attempt := 1; attempt <= attempts; attempt++ {
		now := s.now()
		key, err := s.pool.Select(ctx, req.Provider, now, excluded)
		if err != nil {
			// Running out of keys after an attempt keeps that attempt's
			// error as the cause, so a RateLimit still ends as a 429.
			if lastErr == nil || err != gateway.ErrNoKey {
				lastErr = err
			}
			break
		}
		excluded[key.ID] = true

		// Select already decayed errors/cooling for every inspected key,
		// including this one. Only the RPM window and LastUsedAt remain.
		s.pool.RegisterUsage(key, now)
		if err := s.pool.UpdateUsage(ctx, key, now); err != nil {
			slog.Warn("syncchat: persist key usage failed", "key_id", key.ID, "error", err)
		}

		resp, callErr := adapter.Chat(ctx, key.APIKey, req, files)
		if callErr == nil {
			if s.recorder != nil && resp.Usage != nil {
				if err := s.recorder.Record(ctx, key.ID, resp.Usage.TotalOrSum()); err != nil {
					slog.Warn("syncchat: token series record failed", "key_id", key.ID, "error", err)
				}
			}
			return resp, nil
		}

		pe, ok := gateway.AsProviderError(callErr)
		if !ok {
			lastErr = callErr
			continue
		}
		if markErr := s.pool.MarkError(ctx, key, now, pe.Kind); markErr != nil {
			slog.Warn("syncchat: mark key error failed", "key_id", key.ID, "error", markErr)
		}
		if pe.Kind == gateway.KindClient {
			return nil, pe
		}
		lastErr = pe
	}

	return nil, terminalError(lastErr)
}

// terminalError maps the last observed error to the loop-exhaustion status
// spec §4.3 requires: RateLimit → 429 with Retry-After, any other observed
// error → 503, no key ever selected → 503 "no available keys".
func terminalError(lastErr error) error {
	if lastErr == nil || lastErr == gateway.ErrNoKey {
		return gateway.NewTransientError("", 503, "no available keys")
	}
	if pe, ok := gateway.AsProviderError(lastErr); ok && pe.Kind == gateway.KindRateLimit {
		return pe
	}
	return gateway.NewTransientError("", 503, "all provider keys exhausted")
}

// resolveFiles looks up the StoredFile metadata for every attachment
// referenced across the request's messages.
func (s *Service) resolveFiles(ctx context.Context, req *gateway.ChatRequest) (map[string]*gateway.StoredFile, error) {
	var ids []string
	for _, m := range req.Messages {
		for _, a := range m.Attachments {
			ids = append(ids, a.FileID)
		}
	}
	if len(ids) == 0 {
		return nil, nil
	}
	files := make(map[string]*gateway.StoredFile, len(ids))
	for _, id := range ids {
		if _, ok := files[id]; ok {
			continue
		}
		f, err := s.files.GetFile(ctx, id)
		if err != nil {
			return nil, gateway.NewClientError("", 0, "unknown attachment: "+id)
		}
		files[id] = f
	}
	return files, nil
}
