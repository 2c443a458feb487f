package sqlite

import (
	"context"
	"database/sql"

	gateway "github.com/routellm/gateway/internal/gateway"
)

// GetFile resolves a stored attachment's metadata. Uploads themselves are
// out of scope; this table is populated by whatever external upload path
// the deployment uses.
func (s *Store) GetFile(ctx context.Context, id string) (*gateway.StoredFile, error) {
	row := s.read.QueryRowContext(ctx,
		`SELECT id, filename, mime_type, size_bytes, storage_path, created_at FROM stored_files WHERE id = ?`,
		id,
	)

	var f gateway.StoredFile
	var createdAt string
	err := row.Scan(&f.ID, &f.Filename, &f.MimeType, &f.SizeBytes, &f.StoragePath, &createdAt)
	if err != nil {
		if errNotFound(err) {
			return nil, gateway.ErrKeyNotFound
		}
		return nil, err
	}
	if t := parseTime(sql.NullString{String: createdAt, Valid: true}); t != nil {
		f.CreatedAt = *t
	}
	return &f, nil
}
