// Package keypool implements health-aware selection among many API
// credentials for a single provider: RPM windowing, cooling on errors,
// error decay, and round-robin tie-breaking across restarts.
package keypool

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/maypok86/otter/v2"

	gateway "github.com/routellm/gateway/internal/gateway"
	"github.com/routellm/gateway/internal/storage"
	"github.com/routellm/gateway/internal/telemetry"
)

// Config holds the cooldown/decay/window durations the pool applies. All
// fields except ListCacheTTL are required; Pool does not supply its own defaults — that is
// config.Config's job, grounded on internal/config/config.go's pattern of
// applying defaults before the struct reaches its consumer.
type Config struct {
	RPMWindow           time.Duration
	CooldownOnRateLimit time.Duration
	CooldownOnTransient time.Duration
	ErrorDecay          time.Duration

	// ListCacheTTL, if non-zero, fronts ListKeysByProvider with a
	// short-lived otter cache so a burst of concurrent requests for the
	// same provider doesn't each hit the key store. Zero disables caching.
	ListCacheTTL time.Duration
}

// Pool selects and mutates ProviderKey health state. One Pool instance is
// shared by every goroutine in the process; its in-memory state is the
// per-key RPM window (per spec §3, intentionally process-local and lost on
// restart) and, when ListCacheTTL is set, the short-lived key-list cache.
type Pool struct {
	keys    storage.KeyStore
	cursors storage.CursorStore
	metrics *telemetry.Metrics
	cfg     Config
	list    *otter.Cache[string, []*gateway.ProviderKey]

	mu      sync.RWMutex
	windows map[string]*rpmWindow
}

type rpmWindow struct {
	mu          sync.Mutex
	windowStart time.Time
	count       int
}

// New constructs a Pool. metrics may be nil in tests. When cfg.ListCacheTTL
// is non-zero, an otter cache fronts ListKeysByProvider so a burst of
// concurrent Select calls for the same provider only reads the key store
// once per TTL window; New falls back to no caching if otter.New errors.
func New(keys storage.KeyStore, cursors storage.CursorStore, metrics *telemetry.Metrics, cfg Config) *Pool {
	p := &Pool{
		keys:    keys,
		cursors: cursors,
		metrics: metrics,
		cfg:     cfg,
		windows: make(map[string]*rpmWindow),
	}
	if cfg.ListCacheTTL > 0 {
		if c, err := otter.New(&otter.Options[string, []*gateway.ProviderKey]{
			MaximumSize:      256,
			ExpiryCalculator: otter.ExpiryWriting[string, []*gateway.ProviderKey](cfg.ListCacheTTL),
		}); err == nil {
			p.list = c
		} else {
			slog.Warn("keypool: list cache disabled", "error", err)
		}
	}
	return p
}

// listKeys reads candidate keys for provider, through the otter cache when
// one is configured. Cached entries are the same *ProviderKey pointers the
// store returned, so in-place mutation (decay, cooldown) by callers of
// Select remains visible without waiting for the cache entry to expire.
func (p *Pool) listKeys(ctx context.Context, provider string) ([]*gateway.ProviderKey, error) {
	if p.list == nil {
		return p.keys.ListKeysByProvider(ctx, provider)
	}
	if cached, ok := p.list.GetIfPresent(provider); ok {
		return cached, nil
	}
	keys, err := p.keys.ListKeysByProvider(ctx, provider)
	if err != nil {
		return nil, err
	}
	p.list.Set(provider, keys)
	return keys, nil
}

// Select implements spec §4.1's select operation: load candidates, decay
// errors opportunistically, filter excluded/inactive/RPM-blocked keys, sort
// by score, and round-robin among equally-viable candidates.
func (p *Pool) Select(ctx context.Context, provider string, now time.Time, excluded map[string]bool) (*gateway.ProviderKey, error) {
	all, err := p.listKeys(ctx, provider)
	if err != nil {
		return nil, err
	}

	candidates := make([]*gateway.ProviderKey, 0, len(all))
	for _, k := range all {
		if k.Status == gateway.KeyDisabled {
			continue
		}
		if p.DecayErrors(ctx, k, now) {
			if err := p.keys.UpdateKey(ctx, k); err != nil {
				slog.Warn("keypool: persist decay failed", "key_id", k.ID, "error", err)
			}
		}
		if excluded[k.ID] {
			continue
		}
		if !k.EffectivelyActive(now) {
			continue
		}
		if !p.canUseForRPM(k, now) {
			continue
		}
		candidates = append(candidates, k)
	}

	if len(candidates) == 0 {
		return nil, gateway.ErrNoKey
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if a.ErrorCountRecent != b.ErrorCountRecent {
			return a.ErrorCountRecent < b.ErrorCountRecent
		}
		if a.Priority != b.Priority {
			return a.Priority < b.Priority
		}
		return a.CreatedAt.Before(b.CreatedAt)
	})

	cursor, err := p.cursors.NextCursor(ctx, provider)
	if err != nil {
		return nil, err
	}
	idx := cursor % len(candidates)
	selected := candidates[idx]
	if p.metrics != nil {
		p.metrics.KeySelections.WithLabelValues(provider).Inc()
	}
	return selected, nil
}

// canUseForRPM implements spec §4.1's canUseForRPM: unset MaxRPM always
// allows; otherwise a fixed sliding window, check-only (no mutation beyond
// lazy first-touch init), matching the original's can_use_key_for_rpm.
func (p *Pool) canUseForRPM(k *gateway.ProviderKey, now time.Time) bool {
	if k.MaxRPM == nil {
		return true
	}
	w := p.windowFor(k.ID)
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.windowStart.IsZero() {
		return true
	}
	if now.Sub(w.windowStart) >= p.cfg.RPMWindow {
		return true
	}
	return w.count < *k.MaxRPM
}

// RegisterUsage implements spec §4.1's registerUsage: mutate the RPM
// window counter, resetting it if the window has elapsed.
func (p *Pool) RegisterUsage(k *gateway.ProviderKey, now time.Time) {
	if k.MaxRPM == nil {
		return
	}
	w := p.windowFor(k.ID)
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.windowStart.IsZero() || now.Sub(w.windowStart) >= p.cfg.RPMWindow {
		w.windowStart = now
		w.count = 1
		return
	}
	w.count++
}

func (p *Pool) windowFor(keyID string) *rpmWindow {
	p.mu.RLock()
	w, ok := p.windows[keyID]
	p.mu.RUnlock()
	if ok {
		return w
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if w, ok = p.windows[keyID]; ok {
		return w
	}
	w = &rpmWindow{}
	p.windows[keyID] = w
	return w
}

// MarkError implements spec §4.1's markError: increment the error counter
// and apply the per-kind cooling/disable policy.
func (p *Pool) MarkError(ctx context.Context, k *gateway.ProviderKey, now time.Time, kind gateway.ErrorKind) error {
	k.ErrorCountRecent++
	k.LastErrorAt = &now

	switch kind {
	case gateway.KindAuthentication:
		k.Status = gateway.KeyDisabled
		k.CoolingUntil = nil
	case gateway.KindRateLimit:
		until := now.Add(p.cfg.CooldownOnRateLimit)
		k.CoolingUntil = &until
		k.Status = gateway.KeyCoolingDown
	case gateway.KindTransient:
		until := now.Add(p.cfg.CooldownOnTransient)
		k.CoolingUntil = &until
		k.Status = gateway.KeyCoolingDown
	case gateway.KindClient:
		// No cooling, no status change: caller's fault, not the key's.
	}

	if p.metrics != nil {
		p.metrics.KeyErrorsTotal.WithLabelValues(k.Provider, k.ID, string(kind)).Inc()
	}
	return p.keys.UpdateKey(ctx, k)
}

// DecayErrors implements spec §4.1's decayErrors. It mutates k in place and
// reports whether anything changed (so callers only persist on change).
// Idempotent: calling it twice at the same now is a no-op the second time.
func (p *Pool) DecayErrors(ctx context.Context, k *gateway.ProviderKey, now time.Time) bool {
	changed := false
	if k.LastErrorAt != nil && now.Sub(*k.LastErrorAt) >= p.cfg.ErrorDecay && k.ErrorCountRecent != 0 {
		k.ErrorCountRecent = 0
		changed = true
	}
	if k.Status == gateway.KeyCoolingDown && (k.CoolingUntil == nil || !k.CoolingUntil.After(now)) {
		k.Status = gateway.KeyActive
		k.CoolingUntil = nil
		changed = true
	}
	return changed
}

// UpdateUsage implements spec §4.1's updateUsage: persist LastUsedAt.
func (p *Pool) UpdateUsage(ctx context.Context, k *gateway.ProviderKey, now time.Time) error {
	k.LastUsedAt = &now
	return p.keys.UpdateKey(ctx, k)
}
