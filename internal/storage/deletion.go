package storage

import (
	"context"

	"github.com/Lebouse/telegram-reminder/internal/task"
)

// PutDeletionJob persists one pending message deletion. Jobs survive
// restarts; the deletion scheduler reloads them on start.
func (s *Store) PutDeletionJob(ctx context.Context, j task.DeletionJob) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO deletion_jobs(id, chat_id, message_id, delivery_id, fire_at) VALUES(?,?,?,?,?)
		 ON CONFLICT(id) DO UPDATE SET fire_at = excluded.fire_at`,
		j.ID, j.ChatID, j.MessageID, j.DeliveryID, j.FireAt.UTC().UnixMilli())
	return err
}

// ListDeletionJobs returns all pending jobs ordered by fire time.
func (s *Store) ListDeletionJobs(ctx context.Context) ([]task.DeletionJob, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, chat_id, message_id, delivery_id, fire_at FROM deletion_jobs ORDER BY fire_at ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []task.DeletionJob
	for rows.Next() {
		var (
			j      task.DeletionJob
			fireAt int64
		)
		if err := rows.Scan(&j.ID, &j.ChatID, &j.MessageID, &j.DeliveryID, &fireAt); err != nil {
			return nil, err
		}
		j.FireAt = fromMillis(fireAt)
		out = append(out, j)
	}
	return out, rows.Err()
}

// RemoveDeletionJob drops a job once executed (or once the target
// message is known to be gone). Removing an unknown id is a no-op.
func (s *Store) RemoveDeletionJob(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM deletion_jobs WHERE id = ?`, id)
	return err
}
