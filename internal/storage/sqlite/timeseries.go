package sqlite

import (
	"context"
	"time"

	"github.com/routellm/gateway/internal/storage"
)

// Append records one token observation for a key.
func (s *Store) Append(ctx context.Context, keyID string, ts time.Time, tokens int) error {
	_, err := s.write.ExecContext(ctx,
		`INSERT INTO key_token_samples (key_id, ts, tokens) VALUES (?, ?, ?)`,
		keyID, ts.UTC().Format(time.RFC3339), tokens,
	)
	return err
}

// Samples returns every sample for a key recorded at or after since.
func (s *Store) Samples(ctx context.Context, keyID string, since time.Time) ([]storage.TokenSample, error) {
	rows, err := s.read.QueryContext(ctx,
		`SELECT ts, tokens FROM key_token_samples WHERE key_id = ? AND ts >= ? ORDER BY ts`,
		keyID, since.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []storage.TokenSample
	for rows.Next() {
		var ts string
		var tokens int
		if err := rows.Scan(&ts, &tokens); err != nil {
			return nil, err
		}
		t, err := time.Parse(time.RFC3339, ts)
		if err != nil {
			continue
		}
		out = append(out, storage.TokenSample{Timestamp: t, Tokens: tokens})
	}
	return out, rows.Err()
}

// Prune deletes samples older than olderThan, keeping the table bounded to
// the retention window.
func (s *Store) Prune(ctx context.Context, keyID string, olderThan time.Time) error {
	_, err := s.write.ExecContext(ctx,
		`DELETE FROM key_token_samples WHERE key_id = ? AND ts < ?`,
		keyID, olderThan.UTC().Format(time.RFC3339),
	)
	return err
}

// KeysWithData returns every distinct key ID that has at least one sample.
func (s *Store) KeysWithData(ctx context.Context) ([]string, error) {
	rows, err := s.read.QueryContext(ctx, `SELECT DISTINCT key_id FROM key_token_samples ORDER BY key_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// SampleCount returns how many samples are stored for a key.
func (s *Store) SampleCount(ctx context.Context, keyID string) (int, error) {
	var n int
	err := s.read.QueryRowContext(ctx, `SELECT COUNT(*) FROM key_token_samples WHERE key_id = ?`, keyID).Scan(&n)
	return n, err
}
