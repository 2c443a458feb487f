// Package config provides configuration loading and database bootstrapping.
package config

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	gateway "github.com/routellm/gateway/internal/gateway"
	"github.com/routellm/gateway/internal/storage"
)

// Bootstrap seeds the key pool from the config file on first run. Existing
// keys for a provider are left untouched; a config-declared key is only
// inserted when no key with the same DisplayName already exists for that
// provider, so re-running Bootstrap against a populated database is a no-op
// for named keys. A key with an empty DisplayName is never matched and is
// inserted again on every run.
func Bootstrap(ctx context.Context, cfg *Config, store storage.Store) error {
	for _, k := range cfg.Keys {
		if k.APIKey == "" {
			continue
		}

		existing, err := store.ListKeysByProvider(ctx, k.Provider)
		if err != nil {
			return err
		}
		if keyAlreadySeeded(existing, k.DisplayName) {
			continue
		}

		now := time.Now().UTC()
		key := &gateway.ProviderKey{
			ID:          uuid.New().String(),
			Provider:    k.Provider,
			DisplayName: k.DisplayName,
			APIKey:      k.APIKey,
			Environment: k.Environment,
			MaxRPM:      k.MaxRPM,
			MaxTPM:      k.MaxTPM,
			Priority:    k.Priority,
			Status:      gateway.KeyActive,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		if err := store.CreateKey(ctx, key); err != nil {
			return err
		}
		slog.Info("bootstrapped provider key", "provider", k.Provider, "display_name", k.DisplayName)
	}

	return nil
}

func keyAlreadySeeded(existing []*gateway.ProviderKey, displayName string) bool {
	if displayName == "" {
		return false
	}
	for _, k := range existing {
		if k.DisplayName == displayName {
			return true
		}
	}
	return false
}
