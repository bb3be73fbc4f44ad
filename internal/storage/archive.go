package storage

import (
	"context"
	"time"

	"github.com/Lebouse/telegram-reminder/internal/task"
	"github.com/Lebouse/telegram-reminder/pkg/logx"
)

// ArchiveDelivery appends one delivery record and returns its id.
// Records are never updated afterwards except for status transitions.
func (s *Store) ArchiveDelivery(ctx context.Context, d task.Delivery) (int64, error) {
	if d.PublishedAt.IsZero() {
		d.PublishedAt = time.Now()
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO deliveries(task_id, chat_id, message_id, kind, text, file_id, caption, status, error, published_at)
		 VALUES(?,?,?,?,?,?,?,?,?,?)`,
		d.TaskID, d.ChatID, d.MessageID, string(d.Payload.Kind),
		d.Payload.Text, d.Payload.FileID, d.Payload.Caption,
		string(d.Status), d.Error, d.PublishedAt.UTC().UnixMilli(),
	)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// SetDeliveryStatus transitions one archive record
// (published -> deletion-scheduled -> deleted).
func (s *Store) SetDeliveryStatus(ctx context.Context, id int64, status task.DeliveryStatus) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE deliveries SET status = ? WHERE id = ?`, string(status), id)
	return err
}

// DeliveriesForTask returns the archive entries of one task, newest first.
func (s *Store) DeliveriesForTask(ctx context.Context, taskID int64) ([]task.Delivery, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, task_id, chat_id, message_id, kind, text, file_id, caption, status, error, published_at
		 FROM deliveries WHERE task_id = ? ORDER BY published_at DESC`, taskID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []task.Delivery
	for rows.Next() {
		var (
			d            task.Delivery
			kind, status string
			published    int64
		)
		if err := rows.Scan(&d.ID, &d.TaskID, &d.ChatID, &d.MessageID, &kind,
			&d.Payload.Text, &d.Payload.FileID, &d.Payload.Caption,
			&status, &d.Error, &published); err != nil {
			return nil, err
		}
		d.Payload.Kind = task.PayloadKind(kind)
		d.Status = task.DeliveryStatus(status)
		d.PublishedAt = fromMillis(published)
		out = append(out, d)
	}
	return out, rows.Err()
}

// PruneDeliveries drops archive records older than the cutoff and
// returns the number removed.
func (s *Store) PruneDeliveries(ctx context.Context, olderThan time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM deliveries WHERE published_at < ?`, olderThan.UTC().UnixMilli())
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	if err == nil && n > 0 {
		s.log.Debug("pruned delivery archive", logx.Int64("removed", n))
	}
	return n, err
}
