package sqlite

import "context"

// NextCursor returns the current round-robin cursor for a provider and
// advances it, so key selection fairness survives process restarts and is
// shared across every HTTP and worker process pointed at this database.
func (s *Store) NextCursor(ctx context.Context, provider string) (int, error) {
	tx, err := s.write.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	var cursor int
	err = tx.QueryRowContext(ctx, `SELECT cursor FROM provider_cursors WHERE provider = ?`, provider).Scan(&cursor)
	switch {
	case errNotFound(err):
		cursor = 0
		if _, err := tx.ExecContext(ctx, `INSERT INTO provider_cursors (provider, cursor) VALUES (?, 1)`, provider); err != nil {
			return 0, err
		}
	case err != nil:
		return 0, err
	default:
		if _, err := tx.ExecContext(ctx, `UPDATE provider_cursors SET cursor = ? WHERE provider = ?`, cursor+1, provider); err != nil {
			return 0, err
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return cursor, nil
}
