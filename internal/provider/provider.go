// Package provider implements the provider registry and adapter contract
// for LLM provider adapters.
package provider

import (
	"context"
	"fmt"
	"slices"
	"sync"

	gateway "github.com/routellm/gateway/internal/gateway"
)

// Adapter is the uniform contract every provider implements, per spec §4.2.
type Adapter interface {
	// Name is the registry key this adapter was registered under.
	Name() string
	// SupportsAttachments reports whether Chat can accept multimodal
	// attachments; SyncChatPath rejects attachment requests against
	// adapters that return false before consuming a key.
	SupportsAttachments() bool
	// Chat translates req to the provider's wire format, calls upstream,
	// and translates the result back. Upstream and translation failures
	// are a *gateway.ProviderError; an adapter without attachment support
	// returns gateway.ErrAttachmentsUnsupported for a request that carries
	// attachments.
	Chat(ctx context.Context, apiKey string, req *gateway.ChatRequest, files map[string]*gateway.StoredFile) (*gateway.ChatResponse, error)
}

// Registry maps provider names to Adapter instances. Safe for concurrent use.
type Registry struct {
	mu        sync.RWMutex
	providers map[string]Adapter
}

// NewRegistry returns an empty, ready-to-use Registry.
func NewRegistry() *Registry {
	return &Registry{providers: make(map[string]Adapter)}
}

// Register adds a provider under the given name.
// It overwrites any previously registered provider with the same name.
func (r *Registry) Register(name string, p Adapter) {
	r.mu.Lock()
	r.providers[name] = p
	r.mu.Unlock()
}

// Get returns the provider registered under name, or an error if not found.
func (r *Registry) Get(name string) (Adapter, error) {
	r.mu.RLock()
	p, ok := r.providers[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("provider %q not registered", name)
	}
	return p, nil
}

// List returns a sorted slice of all registered provider names.
func (r *Registry) List() []string {
	r.mu.RLock()
	names := slices.Collect(func(yield func(string) bool) {
		for name := range r.providers {
			if !yield(name) {
				return
			}
		}
	})
	r.mu.RUnlock()
	slices.Sort(names)
	return names
}
