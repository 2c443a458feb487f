package sqlite

import (
	"context"
	"database/sql"
	"time"

	gateway "github.com/routellm/gateway/internal/gateway"
)

// CreateKey inserts a new provider credential.
func (s *Store) CreateKey(ctx context.Context, k *gateway.ProviderKey) error {
	_, err := s.write.ExecContext(ctx,
		`INSERT INTO provider_keys (id, provider, display_name, api_key, environment,
		 max_rpm, max_tpm, priority, status, created_at, updated_at,
		 last_used_at, last_error_at, error_count_recent, cooling_until)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		k.ID, k.Provider, k.DisplayName, k.APIKey, k.Environment,
		nullInt(k.MaxRPM), nullInt(k.MaxTPM), k.Priority, string(k.Status),
		k.CreatedAt.UTC().Format(time.RFC3339), k.UpdatedAt.UTC().Format(time.RFC3339),
		timeToStr(k.LastUsedAt), timeToStr(k.LastErrorAt), k.ErrorCountRecent, timeToStr(k.CoolingUntil),
	)
	return err
}

// GetKey retrieves a provider credential by ID.
func (s *Store) GetKey(ctx context.Context, id string) (*gateway.ProviderKey, error) {
	row := s.read.QueryRowContext(ctx, selectKeysSQL+" WHERE id = ?", id)
	k, err := scanKey(row)
	if err != nil {
		if errNotFound(err) {
			return nil, gateway.ErrKeyNotFound
		}
		return nil, err
	}
	return k, nil
}

// ListKeysByProvider returns every key registered for one provider.
func (s *Store) ListKeysByProvider(ctx context.Context, provider string) ([]*gateway.ProviderKey, error) {
	rows, err := s.read.QueryContext(ctx,
		selectKeysSQL+" WHERE provider = ? ORDER BY id", provider,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanKeys(rows)
}

// ListKeys lists keys, optionally filtered by provider and/or status; an
// empty provider or status skips that filter, so ListKeys(ctx, "", "")
// returns every key in the pool.
func (s *Store) ListKeys(ctx context.Context, provider, status string) ([]*gateway.ProviderKey, error) {
	query := selectKeysSQL + " WHERE (? = '' OR provider = ?) AND (? = '' OR status = ?) ORDER BY priority, created_at"
	rows, err := s.read.QueryContext(ctx, query, provider, provider, status, status)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanKeys(rows)
}

// UpdateKey persists the mutable fields of a provider key: status, cooldown,
// and error-tracking state change far more often than the credential itself.
func (s *Store) UpdateKey(ctx context.Context, k *gateway.ProviderKey) error {
	result, err := s.write.ExecContext(ctx,
		`UPDATE provider_keys SET display_name=?, api_key=?, environment=?, max_rpm=?, max_tpm=?,
		 priority=?, status=?, updated_at=?, last_used_at=?, last_error_at=?,
		 error_count_recent=?, cooling_until=? WHERE id=?`,
		k.DisplayName, k.APIKey, k.Environment, nullInt(k.MaxRPM), nullInt(k.MaxTPM),
		k.Priority, string(k.Status), k.UpdatedAt.UTC().Format(time.RFC3339),
		timeToStr(k.LastUsedAt), timeToStr(k.LastErrorAt), k.ErrorCountRecent, timeToStr(k.CoolingUntil),
		k.ID,
	)
	if err != nil {
		return err
	}
	return checkRowsAffected(result, gateway.ErrKeyNotFound)
}

// DeleteKey removes a provider credential.
func (s *Store) DeleteKey(ctx context.Context, id string) error {
	result, err := s.write.ExecContext(ctx, `DELETE FROM provider_keys WHERE id=?`, id)
	if err != nil {
		return err
	}
	return checkRowsAffected(result, gateway.ErrKeyNotFound)
}

const selectKeysSQL = `SELECT id, provider, display_name, api_key, environment,
	 max_rpm, max_tpm, priority, status, created_at, updated_at,
	 last_used_at, last_error_at, error_count_recent, cooling_until
	 FROM provider_keys`

func scanKeys(rows *sql.Rows) ([]*gateway.ProviderKey, error) {
	var out []*gateway.ProviderKey
	for rows.Next() {
		k, err := scanKey(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, k)
	}
	return out, rows.Err()
}

func scanKey(row scanner) (*gateway.ProviderKey, error) {
	var k gateway.ProviderKey
	var maxRPM, maxTPM sql.NullInt64
	var status string
	var createdAt, updatedAt string
	var lastUsedAt, lastErrorAt, coolingUntil sql.NullString

	err := row.Scan(
		&k.ID, &k.Provider, &k.DisplayName, &k.APIKey, &k.Environment,
		&maxRPM, &maxTPM, &k.Priority, &status, &createdAt, &updatedAt,
		&lastUsedAt, &lastErrorAt, &k.ErrorCountRecent, &coolingUntil,
	)
	if err != nil {
		return nil, err
	}

	k.Status = gateway.KeyStatus(status)
	k.MaxRPM = nullIntPtr(maxRPM)
	k.MaxTPM = nullIntPtr(maxTPM)
	k.LastUsedAt = parseTime(lastUsedAt)
	k.LastErrorAt = parseTime(lastErrorAt)
	k.CoolingUntil = parseTime(coolingUntil)
	if t := parseTime(sql.NullString{String: createdAt, Valid: true}); t != nil {
		k.CreatedAt = *t
	}
	if t := parseTime(sql.NullString{String: updatedAt, Valid: true}); t != nil {
		k.UpdatedAt = *t
	}
	return &k, nil
}

func nullInt(v *int) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*v), Valid: true}
}

func nullIntPtr(v sql.NullInt64) *int {
	if !v.Valid {
		return nil
	}
	n := int(v.Int64)
	return &n
}
