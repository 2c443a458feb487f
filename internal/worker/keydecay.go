package worker

import (
	"context"
	"log/slog"
	"time"

	"github.com/routellm/gateway/internal/keypool"
	"github.com/routellm/gateway/internal/storage"
)

const keyDecayInterval = 30 * time.Second

// KeyDecayWorker periodically walks every provider key and decays its
// error count / cooldown, independent of request traffic. keypool.Pool.Select
// already does this opportunistically for any key it inspects; this worker
// covers keys that go a while without being selected (e.g. a disabled
// provider's keys, or ones parked behind more-preferred keys).
type KeyDecayWorker struct {
	keys storage.KeyStore
	pool *keypool.Pool
	now  func() time.Time
}

// NewKeyDecayWorker constructs a KeyDecayWorker. now defaults to time.Now
// if nil.
func NewKeyDecayWorker(keys storage.KeyStore, pool *keypool.Pool, now func() time.Time) *KeyDecayWorker {
	if now == nil {
		now = time.Now
	}
	return &KeyDecayWorker{keys: keys, pool: pool, now: now}
}

// Name returns the worker identifier.
func (w *KeyDecayWorker) Name() string { return "key_decay" }

// Run walks every key on a fixed interval until ctx is cancelled.
func (w *KeyDecayWorker) Run(ctx context.Context) error {
	w.decayAll(ctx)

	ticker := time.NewTicker(keyDecayInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			w.decayAll(ctx)
		case <-ctx.Done():
			return nil
		}
	}
}

func (w *KeyDecayWorker) decayAll(ctx context.Context) {
	keys, err := w.keys.ListKeys(ctx, "", "")
	if err != nil {
		slog.Error("key_decay: list keys failed", "error", err)
		return
	}
	now := w.now()
	for _, k := range keys {
		if w.pool.DecayErrors(ctx, k, now) {
			if err := w.keys.UpdateKey(ctx, k); err != nil {
				slog.Warn("key_decay: persist decay failed", "key_id", k.ID, "error", err)
			}
		}
	}
}
