// Package testutil provides in-memory fakes shared across component tests.
package testutil

import (
	"context"
	"sort"
	"sync"
	"time"

	gateway "github.com/routellm/gateway/internal/gateway"
	"github.com/routellm/gateway/internal/storage"
)

// FakeStore is an in-memory implementation of storage.Store for testing.
type FakeStore struct {
	mu sync.RWMutex

	keys    map[string]*gateway.ProviderKey
	cursors map[string]int
	runs    map[string]*gateway.Run
	idemp   map[string]string // idempotency_key -> run id
	jobs    map[string]*storage.ScheduledJob
	files   map[string]*gateway.StoredFile
	samples map[string][]storage.TokenSample
}

// NewFakeStore returns a FakeStore with empty collections.
func NewFakeStore() *FakeStore {
	return &FakeStore{
		keys:    make(map[string]*gateway.ProviderKey),
		cursors: make(map[string]int),
		runs:    make(map[string]*gateway.Run),
		idemp:   make(map[string]string),
		jobs:    make(map[string]*storage.ScheduledJob),
		files:   make(map[string]*gateway.StoredFile),
		samples: make(map[string][]storage.TokenSample),
	}
}

// AddKey inserts a key directly, bypassing CreateKey, for test setup.
func (s *FakeStore) AddKey(k *gateway.ProviderKey) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.keys[k.ID] = k
}

// AddFile inserts file metadata directly, for test setup.
func (s *FakeStore) AddFile(f *gateway.StoredFile) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.files[f.ID] = f
}

// --- KeyStore ---

func (s *FakeStore) CreateKey(_ context.Context, k *gateway.ProviderKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.keys[k.ID] = k
	return nil
}

func (s *FakeStore) GetKey(_ context.Context, id string) (*gateway.ProviderKey, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	k, ok := s.keys[id]
	if !ok {
		return nil, gateway.ErrKeyNotFound
	}
	return k, nil
}

func (s *FakeStore) ListKeysByProvider(_ context.Context, provider string) ([]*gateway.ProviderKey, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*gateway.ProviderKey
	for _, k := range s.keys {
		if k.Provider == provider {
			out = append(out, k)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *FakeStore) ListKeys(_ context.Context, provider, status string) ([]*gateway.ProviderKey, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*gateway.ProviderKey
	for _, k := range s.keys {
		if provider != "" && k.Provider != provider {
			continue
		}
		if status != "" && string(k.Status) != status {
			continue
		}
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority < out[j].Priority
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (s *FakeStore) UpdateKey(_ context.Context, k *gateway.ProviderKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.keys[k.ID] = k
	return nil
}

func (s *FakeStore) DeleteKey(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.keys, id)
	return nil
}

// --- CursorStore ---

func (s *FakeStore) NextCursor(_ context.Context, provider string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := s.cursors[provider]
	s.cursors[provider] = c + 1
	return c, nil
}

// --- RunStore ---

func (s *FakeStore) CreateRun(_ context.Context, r *gateway.Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r.IdempotencyKey != "" {
		if _, ok := s.idemp[r.IdempotencyKey]; ok {
			return nil
		}
		s.idemp[r.IdempotencyKey] = r.ID
	}
	s.runs[r.ID] = r
	return nil
}

func (s *FakeStore) GetRun(_ context.Context, id string) (*gateway.Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.runs[id]
	if !ok {
		return nil, gateway.ErrRunNotFound
	}
	return r, nil
}

func (s *FakeStore) GetRunByIdempotencyKey(_ context.Context, key string) (*gateway.Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.idemp[key]
	if !ok {
		return nil, gateway.ErrRunNotFound
	}
	return s.runs[id], nil
}

func (s *FakeStore) UpdateRun(_ context.Context, r *gateway.Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runs[r.ID] = r
	return nil
}

// --- ScheduledJobStore ---

func (s *FakeStore) Schedule(_ context.Context, j *storage.ScheduledJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[j.ID] = j
	return nil
}

func (s *FakeStore) DueJobs(_ context.Context, now time.Time, limit int) ([]*storage.ScheduledJob, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*storage.ScheduledJob
	for _, j := range s.jobs {
		if !j.Dispatched && !j.RunAt.After(now) {
			out = append(out, j)
			if len(out) >= limit && limit > 0 {
				break
			}
		}
	}
	return out, nil
}

func (s *FakeStore) MarkDispatched(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if j, ok := s.jobs[id]; ok {
		j.Dispatched = true
	}
	return nil
}

// --- FileStore ---

func (s *FakeStore) GetFile(_ context.Context, id string) (*gateway.StoredFile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	f, ok := s.files[id]
	if !ok {
		return nil, gateway.ErrKeyNotFound
	}
	return f, nil
}

// --- TimeSeriesStore ---

func (s *FakeStore) Append(_ context.Context, keyID string, ts time.Time, tokens int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.samples[keyID] = append([]storage.TokenSample{{Timestamp: ts, Tokens: tokens}}, s.samples[keyID]...)
	return nil
}

func (s *FakeStore) Samples(_ context.Context, keyID string, since time.Time) ([]storage.TokenSample, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []storage.TokenSample
	for _, sm := range s.samples[keyID] {
		if !sm.Timestamp.Before(since) {
			out = append(out, sm)
		}
	}
	return out, nil
}

func (s *FakeStore) Prune(_ context.Context, keyID string, olderThan time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.samples[keyID][:0]
	for _, sm := range s.samples[keyID] {
		if !sm.Timestamp.Before(olderThan) {
			kept = append(kept, sm)
		}
	}
	s.samples[keyID] = kept
	return nil
}

func (s *FakeStore) KeysWithData(context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []string
	for k, v := range s.samples {
		if len(v) > 0 {
			out = append(out, k)
		}
	}
	sort.Strings(out)
	return out, nil
}

func (s *FakeStore) SampleCount(_ context.Context, keyID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.samples[keyID]), nil
}

func (s *FakeStore) Close() error { return nil }
