package keypool

import (
	"context"
	"testing"
	"time"

	gateway "github.com/routellm/gateway/internal/gateway"
	"github.com/routellm/gateway/internal/testutil"
)

func testConfig() Config {
	return Config{
		RPMWindow:           60 * time.Second,
		CooldownOnRateLimit: 30 * time.Second,
		CooldownOnTransient: 15 * time.Second,
		ErrorDecay:          10 * time.Minute,
	}
}

func newKey(id string, priority int, created time.Time) *gateway.ProviderKey {
	return &gateway.ProviderKey{
		ID:        id,
		Provider:  "openai",
		APIKey:    "sk-" + id,
		Priority:  priority,
		Status:    gateway.KeyActive,
		CreatedAt: created,
	}
}

func TestSelect_PicksLowestScore(t *testing.T) {
	t.Parallel()
	store := testutil.NewFakeStore()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	a := newKey("a", 200, now)
	b := newKey("b", 100, now)
	store.AddKey(a)
	store.AddKey(b)

	pool := New(store, store, nil, testConfig())
	got, err := pool.Select(context.Background(), "openai", now, map[string]bool{})
	if err != nil {
		t.Fatalf("Select: %v", err)
	}
	if got.ID != "b" {
		t.Fatalf("expected key b (lower priority value preferred), got %s", got.ID)
	}
}

func TestSelect_ExcludedNeverReturned(t *testing.T) {
	t.Parallel()
	store := testutil.NewFakeStore()
	now := time.Now().UTC()
	a := newKey("a", 100, now)
	store.AddKey(a)

	pool := New(store, store, nil, testConfig())
	_, err := pool.Select(context.Background(), "openai", now, map[string]bool{"a": true})
	if err != gateway.ErrNoKey {
		t.Fatalf("expected ErrNoKey, got %v", err)
	}
}

func TestSelect_DisabledNeverReturned(t *testing.T) {
	t.Parallel()
	store := testutil.NewFakeStore()
	now := time.Now().UTC()
	a := newKey("a", 100, now)
	a.Status = gateway.KeyDisabled
	store.AddKey(a)

	pool := New(store, store, nil, testConfig())
	_, err := pool.Select(context.Background(), "openai", now, map[string]bool{})
	if err != gateway.ErrNoKey {
		t.Fatalf("expected ErrNoKey for disabled key, got %v", err)
	}
}

func TestSelect_CoolingDownExcluded(t *testing.T) {
	t.Parallel()
	store := testutil.NewFakeStore()
	now := time.Now().UTC()
	a := newKey("a", 100, now)
	until := now.Add(time.Hour)
	a.Status = gateway.KeyCoolingDown
	a.CoolingUntil = &until
	store.AddKey(a)

	pool := New(store, store, nil, testConfig())
	_, err := pool.Select(context.Background(), "openai", now, map[string]bool{})
	if err != gateway.ErrNoKey {
		t.Fatalf("expected ErrNoKey for cooling key, got %v", err)
	}
}

func TestRoundRobin_RotatesAmongAvailable(t *testing.T) {
	t.Parallel()
	store := testutil.NewFakeStore()
	now := time.Now().UTC()
	a := newKey("a", 100, now)
	b := newKey("b", 100, now.Add(time.Second))
	store.AddKey(a)
	store.AddKey(b)

	pool := New(store, store, nil, testConfig())
	ctx := context.Background()
	first, err := pool.Select(ctx, "openai", now, map[string]bool{})
	if err != nil {
		t.Fatalf("Select: %v", err)
	}
	second, err := pool.Select(ctx, "openai", now, map[string]bool{})
	if err != nil {
		t.Fatalf("Select: %v", err)
	}
	if first.ID == second.ID {
		t.Fatalf("expected round-robin to rotate between two equally-scored keys, got %s twice", first.ID)
	}
}

func TestMarkError_RateLimitCoolsDown(t *testing.T) {
	t.Parallel()
	store := testutil.NewFakeStore()
	now := time.Now().UTC()
	a := newKey("a", 100, now)
	store.AddKey(a)

	pool := New(store, store, nil, testConfig())
	if err := pool.MarkError(context.Background(), a, now, gateway.KindRateLimit); err != nil {
		t.Fatalf("MarkError: %v", err)
	}
	if a.Status != gateway.KeyCoolingDown {
		t.Fatalf("expected cooling_down, got %s", a.Status)
	}
	if a.ErrorCountRecent != 1 {
		t.Fatalf("expected error_count_recent=1, got %d", a.ErrorCountRecent)
	}
	wantUntil := now.Add(testConfig().CooldownOnRateLimit)
	if a.CoolingUntil == nil || !a.CoolingUntil.Equal(wantUntil) {
		t.Fatalf("expected cooling_until=%v, got %v", wantUntil, a.CoolingUntil)
	}
}

func TestMarkError_AuthenticationDisables(t *testing.T) {
	t.Parallel()
	store := testutil.NewFakeStore()
	now := time.Now().UTC()
	a := newKey("a", 100, now)
	store.AddKey(a)

	pool := New(store, store, nil, testConfig())
	if err := pool.MarkError(context.Background(), a, now, gateway.KindAuthentication); err != nil {
		t.Fatalf("MarkError: %v", err)
	}
	if a.Status != gateway.KeyDisabled {
		t.Fatalf("expected disabled, got %s", a.Status)
	}
	if a.CoolingUntil != nil {
		t.Fatalf("expected no cooling_until on disable, got %v", a.CoolingUntil)
	}
}

func TestMarkError_ClientDoesNotCool(t *testing.T) {
	t.Parallel()
	store := testutil.NewFakeStore()
	now := time.Now().UTC()
	a := newKey("a", 100, now)
	store.AddKey(a)

	pool := New(store, store, nil, testConfig())
	if err := pool.MarkError(context.Background(), a, now, gateway.KindClient); err != nil {
		t.Fatalf("MarkError: %v", err)
	}
	if a.Status != gateway.KeyActive {
		t.Fatalf("expected status unchanged (active), got %s", a.Status)
	}
	if a.CoolingUntil != nil {
		t.Fatalf("expected no cooling_until on client error, got %v", a.CoolingUntil)
	}
}

func TestDecayErrors_ResetsAfterInterval(t *testing.T) {
	t.Parallel()
	store := testutil.NewFakeStore()
	base := time.Now().UTC()
	a := newKey("a", 100, base)
	a.ErrorCountRecent = 3
	errAt := base
	a.LastErrorAt = &errAt
	store.AddKey(a)

	pool := New(store, store, nil, testConfig())
	later := base.Add(11 * time.Minute)
	if !pool.DecayErrors(context.Background(), a, later) {
		t.Fatalf("expected DecayErrors to report a change")
	}
	if a.ErrorCountRecent != 0 {
		t.Fatalf("expected error_count_recent reset to 0, got %d", a.ErrorCountRecent)
	}
}

func TestDecayErrors_Idempotent(t *testing.T) {
	t.Parallel()
	store := testutil.NewFakeStore()
	base := time.Now().UTC()
	a := newKey("a", 100, base)
	a.ErrorCountRecent = 3
	errAt := base
	a.LastErrorAt = &errAt
	store.AddKey(a)

	pool := New(store, store, nil, testConfig())
	later := base.Add(11 * time.Minute)
	pool.DecayErrors(context.Background(), a, later)
	snapshot := *a
	changed := pool.DecayErrors(context.Background(), a, later)
	if changed {
		t.Fatalf("expected second DecayErrors call to report no change")
	}
	if *a != snapshot {
		t.Fatalf("expected state unchanged by second decay call")
	}
}

func TestDecayErrors_ReactivatesExpiredCooldown(t *testing.T) {
	t.Parallel()
	store := testutil.NewFakeStore()
	base := time.Now().UTC()
	a := newKey("a", 100, base)
	a.Status = gateway.KeyCoolingDown
	until := base.Add(-time.Second)
	a.CoolingUntil = &until
	store.AddKey(a)

	pool := New(store, store, nil, testConfig())
	pool.DecayErrors(context.Background(), a, base)
	if a.Status != gateway.KeyActive {
		t.Fatalf("expected reactivation to active, got %s", a.Status)
	}
	if a.CoolingUntil != nil {
		t.Fatalf("expected cooling_until cleared, got %v", a.CoolingUntil)
	}
}

func TestRPM_BlocksAfterMax(t *testing.T) {
	t.Parallel()
	store := testutil.NewFakeStore()
	now := time.Now().UTC()
	max := 2
	a := newKey("a", 100, now)
	a.MaxRPM = &max
	store.AddKey(a)

	pool := New(store, store, nil, testConfig())
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		got, err := pool.Select(ctx, "openai", now, map[string]bool{})
		if err != nil {
			t.Fatalf("Select %d: %v", i, err)
		}
		pool.RegisterUsage(got, now)
		now = now.Add(time.Second)
	}

	if _, err := pool.Select(ctx, "openai", now, map[string]bool{}); err != gateway.ErrNoKey {
		t.Fatalf("expected RPM exhaustion to yield ErrNoKey, got %v", err)
	}
}

func TestListKeys_CachesWithinTTL(t *testing.T) {
	t.Parallel()
	store := testutil.NewFakeStore()
	now := time.Now().UTC()
	a := newKey("a", 100, now)
	store.AddKey(a)

	cfg := testConfig()
	cfg.ListCacheTTL = time.Minute
	pool := New(store, store, nil, cfg)
	ctx := context.Background()

	if _, err := pool.Select(ctx, "openai", now, map[string]bool{}); err != nil {
		t.Fatalf("Select: %v", err)
	}

	// A key added directly to the store (bypassing the pool) should not be
	// visible until the cached listing expires.
	b := newKey("b", 50, now)
	store.AddKey(b)

	got, err := pool.Select(ctx, "openai", now, map[string]bool{})
	if err != nil {
		t.Fatalf("Select: %v", err)
	}
	if got.ID != "a" {
		t.Fatalf("expected cached listing to still exclude key b, got %s", got.ID)
	}
}

func TestListKeys_NoCacheByDefault(t *testing.T) {
	t.Parallel()
	store := testutil.NewFakeStore()
	now := time.Now().UTC()
	a := newKey("a", 100, now)
	store.AddKey(a)

	pool := New(store, store, nil, testConfig())
	ctx := context.Background()

	if _, err := pool.Select(ctx, "openai", now, map[string]bool{}); err != nil {
		t.Fatalf("Select: %v", err)
	}

	b := newKey("b", 50, now)
	store.AddKey(b)

	// Exclude a so the pick does not depend on the round-robin cursor: only
	// a fresh listing has any candidate left.
	got, err := pool.Select(ctx, "openai", now, map[string]bool{"a": true})
	if err != nil {
		t.Fatalf("Select: %v", err)
	}
	if got.ID != "b" {
		t.Fatalf("expected uncached listing to pick up key b immediately, got %s", got.ID)
	}
}

func TestRPM_ResetsAfterWindow(t *testing.T) {
	t.Parallel()
	store := testutil.NewFakeStore()
	now := time.Now().UTC()
	max := 1
	a := newKey("a", 100, now)
	a.MaxRPM = &max
	store.AddKey(a)

	pool := New(store, store, nil, testConfig())
	ctx := context.Background()

	got, err := pool.Select(ctx, "openai", now, map[string]bool{})
	if err != nil {
		t.Fatalf("Select: %v", err)
	}
	pool.RegisterUsage(got, now)

	later := now.Add(61 * time.Second)
	if _, err := pool.Select(ctx, "openai", later, map[string]bool{}); err != nil {
		t.Fatalf("expected window reset to allow selection, got %v", err)
	}
}
