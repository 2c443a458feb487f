package sqlite

import (
	"context"
	"database/sql"
	"time"

	"github.com/routellm/gateway/internal/storage"
)

// Schedule persists a delayed re-enqueue; RunDispatchWorker picks it up once
// due.
func (s *Store) Schedule(ctx context.Context, j *storage.ScheduledJob) error {
	_, err := s.write.ExecContext(ctx,
		`INSERT INTO scheduled_jobs (id, run_id, attempt, run_at, dispatched) VALUES (?, ?, ?, ?, 0)`,
		j.ID, j.RunID, j.Attempt, j.RunAt.UTC().Format(time.RFC3339),
	)
	return err
}

// DueJobs returns up to limit undispatched jobs whose run_at has passed.
func (s *Store) DueJobs(ctx context.Context, now time.Time, limit int) ([]*storage.ScheduledJob, error) {
	rows, err := s.read.QueryContext(ctx,
		`SELECT id, run_id, attempt, run_at, dispatched FROM scheduled_jobs
		 WHERE dispatched = 0 AND run_at <= ? ORDER BY run_at LIMIT ?`,
		now.UTC().Format(time.RFC3339), limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*storage.ScheduledJob
	for rows.Next() {
		var j storage.ScheduledJob
		var runAt string
		var dispatched int
		if err := rows.Scan(&j.ID, &j.RunID, &j.Attempt, &runAt, &dispatched); err != nil {
			return nil, err
		}
		j.Dispatched = dispatched != 0
		if t := parseTime(sql.NullString{String: runAt, Valid: true}); t != nil {
			j.RunAt = *t
		}
		out = append(out, &j)
	}
	return out, rows.Err()
}

// MarkDispatched flags a job so DueJobs never returns it again.
func (s *Store) MarkDispatched(ctx context.Context, id string) error {
	_, err := s.write.ExecContext(ctx, `UPDATE scheduled_jobs SET dispatched = 1 WHERE id = ?`, id)
	return err
}
