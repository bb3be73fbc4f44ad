package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Lebouse/telegram-reminder/internal/task"
	"github.com/Lebouse/telegram-reminder/pkg/logx"
)

const taskColumns = `id, chat_id, kind, text, file_id, caption,
	first_fire_at, next_fire_at, recurrence, pin, silent, delete_after_days,
	active, max_end_at, last_published_at, created_at`

// CreateTask validates the draft, stamps first_fire_at = next_fire_at,
// computes max_end_at = now + horizon and persists the task as active.
func (s *Store) CreateTask(ctx context.Context, d task.Draft, now time.Time, horizon time.Duration) (int64, error) {
	if err := d.Validate(); err != nil {
		return 0, err
	}
	fireAt := d.FireAt.UTC().Truncate(time.Minute)
	maxEnd := now.UTC().Add(horizon)
	// An active task must never rest with next_fire_at past max_end_at.
	if fireAt.After(maxEnd) {
		return 0, fmt.Errorf("%w: fire time is past the scheduling horizon", task.ErrValidation)
	}

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO tasks(chat_id, kind, text, file_id, caption,
		   first_fire_at, next_fire_at, recurrence, pin, silent,
		   delete_after_days, active, max_end_at, created_at)
		 VALUES(?,?,?,?,?,?,?,?,?,?,?,1,?,?)`,
		d.ChatID, string(d.Payload.Kind), d.Payload.Text, d.Payload.FileID, d.Payload.Caption,
		fireAt.UnixMilli(), fireAt.UnixMilli(), string(d.Recurrence), d.Pin, d.Silent,
		d.DeleteAfterDays, maxEnd.UnixMilli(), now.UTC().UnixMilli(),
	)
	if err != nil {
		return 0, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}
	s.log.Info("task created",
		logx.Int64("task", id),
		logx.Int64("chat", d.ChatID),
		logx.Time("fire_at", fireAt),
		logx.String("recurrence", string(d.Recurrence)))
	return id, nil
}

func (s *Store) Task(ctx context.Context, id int64) (task.Task, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = ?`, id)
	t, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return task.Task{}, ErrNotFound
	}
	return t, err
}

// ListActive returns all active tasks ordered by next_fire_at ascending.
func (s *Store) ListActive(ctx context.Context) ([]task.Task, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+taskColumns+` FROM tasks WHERE active = 1 ORDER BY next_fire_at ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []task.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// TaskPatch is a partial update applied by the editing flow. Nil fields
// are left untouched. first_fire_at stays immutable by design.
type TaskPatch struct {
	Payload         *task.Payload
	NextFireAt      *time.Time
	Recurrence      *task.Recurrence
	Pin             *bool
	Silent          *bool
	DeleteAfterDays *int
}

func (p TaskPatch) empty() bool {
	return p.Payload == nil && p.NextFireAt == nil && p.Recurrence == nil &&
		p.Pin == nil && p.Silent == nil && p.DeleteAfterDays == nil
}

func (s *Store) UpdateTask(ctx context.Context, id int64, p TaskPatch) error {
	if p.empty() {
		// Still report unknown ids.
		_, err := s.Task(ctx, id)
		return err
	}
	if p.Payload != nil {
		if err := p.Payload.Validate(); err != nil {
			return err
		}
	}

	sets := make([]string, 0, 8)
	args := make([]any, 0, 10)
	if p.Payload != nil {
		sets = append(sets, "kind = ?", "text = ?", "file_id = ?", "caption = ?")
		args = append(args, string(p.Payload.Kind), p.Payload.Text, p.Payload.FileID, p.Payload.Caption)
	}
	if p.NextFireAt != nil {
		sets = append(sets, "next_fire_at = ?")
		args = append(args, p.NextFireAt.UTC().UnixMilli())
	}
	if p.Recurrence != nil {
		if _, err := task.ParseRecurrence(string(*p.Recurrence)); err != nil {
			return err
		}
		sets = append(sets, "recurrence = ?")
		args = append(args, string(*p.Recurrence))
	}
	if p.Pin != nil {
		sets = append(sets, "pin = ?")
		args = append(args, *p.Pin)
	}
	if p.Silent != nil {
		sets = append(sets, "silent = ?")
		args = append(args, *p.Silent)
	}
	if p.DeleteAfterDays != nil {
		if *p.DeleteAfterDays < 0 {
			return task.ErrValidation
		}
		sets = append(sets, "delete_after_days = ?")
		args = append(args, *p.DeleteAfterDays)
	}
	args = append(args, id)

	res, err := s.db.ExecContext(ctx,
		`UPDATE tasks SET `+strings.Join(sets, ", ")+` WHERE id = ?`, args...)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// AdvanceTask moves a recurring task to its next occurrence. The update
// only applies while the row is still active and next_fire_at still holds
// prevNext, so a concurrent cancel or edit wins the race; advanced
// reports whether the row was moved. A zero publishedAt leaves
// last_published_at untouched (the occurrence was consumed but not
// delivered).
func (s *Store) AdvanceTask(ctx context.Context, id int64, prevNext, newNext, publishedAt time.Time) (advanced bool, err error) {
	var pubMs int64
	if !publishedAt.IsZero() {
		pubMs = publishedAt.UTC().UnixMilli()
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE tasks SET next_fire_at = ?,
		   last_published_at = CASE WHEN ? = 0 THEN last_published_at ELSE ? END
		 WHERE id = ? AND active = 1 AND next_fire_at = ?`,
		newNext.UTC().UnixMilli(), pubMs, pubMs, id, prevNext.UTC().UnixMilli())
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// MarkPublished records last_published_at without moving next_fire_at.
// Used for one-shot tasks right before deactivation.
func (s *Store) MarkPublished(ctx context.Context, id int64, publishedAt time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE tasks SET last_published_at = ? WHERE id = ?`,
		publishedAt.UTC().UnixMilli(), id)
	return err
}

// Deactivate retires the task. Idempotent: deactivating a task that is
// already inactive succeeds; only an unknown id is an error.
func (s *Store) Deactivate(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `UPDATE tasks SET active = 0 WHERE id = ?`, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		// UPDATE reports 0 rows both for unknown ids and for rows already
		// holding active = 0; disambiguate with a lookup.
		if _, err := s.Task(ctx, id); err != nil {
			return err
		}
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(r rowScanner) (task.Task, error) {
	var (
		t         task.Task
		kind, rec string
		first     int64
		next      int64
		maxEnd    int64
		created   int64
		lastPub   sql.NullInt64
	)
	err := r.Scan(&t.ID, &t.ChatID, &kind, &t.Payload.Text, &t.Payload.FileID, &t.Payload.Caption,
		&first, &next, &rec, &t.Pin, &t.Silent, &t.DeleteAfterDays,
		&t.Active, &maxEnd, &lastPub, &created)
	if err != nil {
		return task.Task{}, err
	}
	t.Payload.Kind = task.PayloadKind(kind)
	t.Recurrence = task.Recurrence(rec)
	t.FirstFireAt = fromMillis(first)
	t.NextFireAt = fromMillis(next)
	t.MaxEndAt = fromMillis(maxEnd)
	t.CreatedAt = fromMillis(created)
	if lastPub.Valid {
		t.LastPublishedAt = fromMillis(lastPub.Int64)
	}
	return t, nil
}
