package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	gateway "github.com/routellm/gateway/internal/gateway"
)

// CreateRun inserts a new durable run. A duplicate idempotency_key is not an
// error: the producer re-reads the existing run via GetRunByIdempotencyKey
// and returns that instead of enqueueing a second attempt.
func (s *Store) CreateRun(ctx context.Context, r *gateway.Run) error {
	input, err := json.Marshal(r.InputMessages)
	if err != nil {
		return fmt.Errorf("marshal input messages: %w", err)
	}
	output, err := marshalMessage(r.OutputMessage)
	if err != nil {
		return err
	}

	_, err = s.write.ExecContext(ctx,
		`INSERT INTO runs (id, status, provider, model, max_tokens, input_messages, output_message,
		 error, idempotency_key, created_at, updated_at, started_at, finished_at,
		 retry_count, last_error_reason)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (idempotency_key) DO NOTHING`,
		r.ID, string(r.Status), r.Provider, r.Model, nullInt(r.MaxTokens), string(input), output,
		r.Error, nullStr(r.IdempotencyKey), r.CreatedAt.UTC().Format(time.RFC3339), r.UpdatedAt.UTC().Format(time.RFC3339),
		timeToStr(r.StartedAt), timeToStr(r.FinishedAt), r.RetryCount, r.LastErrorReason,
	)
	return err
}

// GetRun retrieves a run by ID.
func (s *Store) GetRun(ctx context.Context, id string) (*gateway.Run, error) {
	row := s.read.QueryRowContext(ctx, selectRunsSQL+" WHERE id = ?", id)
	return s.scanRun(row)
}

// GetRunByIdempotencyKey retrieves a run by the idempotency key the caller
// supplied at creation time.
func (s *Store) GetRunByIdempotencyKey(ctx context.Context, key string) (*gateway.Run, error) {
	row := s.read.QueryRowContext(ctx, selectRunsSQL+" WHERE idempotency_key = ?", key)
	return s.scanRun(row)
}

// UpdateRun persists a run's full state, including its lifecycle transition.
func (s *Store) UpdateRun(ctx context.Context, r *gateway.Run) error {
	output, err := marshalMessage(r.OutputMessage)
	if err != nil {
		return err
	}
	result, err := s.write.ExecContext(ctx,
		`UPDATE runs SET status=?, error=?, output_message=?, updated_at=?, started_at=?,
		 finished_at=?, retry_count=?, last_error_reason=? WHERE id=?`,
		string(r.Status), r.Error, output, r.UpdatedAt.UTC().Format(time.RFC3339),
		timeToStr(r.StartedAt), timeToStr(r.FinishedAt), r.RetryCount, r.LastErrorReason, r.ID,
	)
	if err != nil {
		return err
	}
	return checkRowsAffected(result, gateway.ErrRunNotFound)
}

const selectRunsSQL = `SELECT id, status, provider, model, max_tokens, input_messages, output_message,
	 error, idempotency_key, created_at, updated_at, started_at, finished_at,
	 retry_count, last_error_reason
	 FROM runs`

func (s *Store) scanRun(row scanner) (*gateway.Run, error) {
	var r gateway.Run
	var status string
	var maxTokens sql.NullInt64
	var inputJSON string
	var outputJSON, idempotencyKey sql.NullString
	var createdAt, updatedAt string
	var startedAt, finishedAt sql.NullString

	err := row.Scan(
		&r.ID, &status, &r.Provider, &r.Model, &maxTokens, &inputJSON, &outputJSON,
		&r.Error, &idempotencyKey, &createdAt, &updatedAt, &startedAt, &finishedAt,
		&r.RetryCount, &r.LastErrorReason,
	)
	if err != nil {
		if errNotFound(err) {
			return nil, gateway.ErrRunNotFound
		}
		return nil, err
	}

	r.Status = gateway.RunStatus(status)
	r.MaxTokens = nullIntPtr(maxTokens)
	r.IdempotencyKey = idempotencyKey.String

	if err := json.Unmarshal([]byte(inputJSON), &r.InputMessages); err != nil {
		return nil, fmt.Errorf("unmarshal input messages: %w", err)
	}
	msg, err := unmarshalMessage(outputJSON)
	if err != nil {
		return nil, err
	}
	r.OutputMessage = msg

	if t := parseTime(sql.NullString{String: createdAt, Valid: true}); t != nil {
		r.CreatedAt = *t
	}
	if t := parseTime(sql.NullString{String: updatedAt, Valid: true}); t != nil {
		r.UpdatedAt = *t
	}
	r.StartedAt = parseTime(startedAt)
	r.FinishedAt = parseTime(finishedAt)
	return &r, nil
}

func marshalMessage(m *gateway.Message) (sql.NullString, error) {
	if m == nil {
		return sql.NullString{}, nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return sql.NullString{}, fmt.Errorf("marshal output message: %w", err)
	}
	return sql.NullString{String: string(b), Valid: true}, nil
}

func unmarshalMessage(ns sql.NullString) (*gateway.Message, error) {
	if !ns.Valid {
		return nil, nil
	}
	var m gateway.Message
	if err := json.Unmarshal([]byte(ns.String), &m); err != nil {
		return nil, fmt.Errorf("unmarshal output message: %w", err)
	}
	return &m, nil
}

func nullStr(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
