package dispatch

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/Lebouse/telegram-reminder/internal/storage"
	"github.com/Lebouse/telegram-reminder/internal/task"
	"github.com/Lebouse/telegram-reminder/pkg/logx"
)

// fire executes one occurrence of the task. It re-fetches the row first
// so a cancel or edit that landed after enqueueing wins. The returned
// instant, when reschedule is true, is the task's next fire time to put
// back on the queue.
func (d *Dispatcher) fire(ctx context.Context, id int64) (next time.Time, reschedule bool) {
	log := d.log.With(logx.Int64("task", id))

	t, err := d.store.Task(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		log.Debug("task vanished before firing")
		return time.Time{}, false
	}
	if err != nil {
		log.Error("task re-fetch failed; occurrence dropped", logx.Err(err))
		return time.Time{}, false
	}
	if !t.Active {
		log.Debug("task cancelled before firing")
		return time.Time{}, false
	}

	firedAt := d.now().UTC()
	if t.NextFireAt.After(firedAt) {
		// Edited to a later time after this entry was queued.
		return t.NextFireAt, true
	}

	ref, err := d.pub.Publish(ctx, t.ChatID, t.Payload, t.Silent)
	if err != nil {
		// At-most-once: the occurrence is lost, the series is not. A
		// recurring task resumes at its next natural occurrence.
		log.Error("delivery failed", logx.Int64("chat", t.ChatID), logx.Err(err))
		if _, aerr := d.store.ArchiveDelivery(ctx, task.Delivery{
			TaskID:      t.ID,
			ChatID:      t.ChatID,
			Payload:     t.Payload,
			Status:      task.StatusFailed,
			Error:       err.Error(),
			PublishedAt: firedAt,
		}); aerr != nil {
			log.Error("failed to archive delivery failure", logx.Err(aerr))
		}
		return d.afterFiring(ctx, t, time.Time{}, log)
	}

	log.Info("published",
		logx.Int64("chat", t.ChatID),
		logx.Int("message", ref.MessageID),
		logx.String("kind", string(t.Payload.Kind)))

	deliveryID, err := d.store.ArchiveDelivery(ctx, task.Delivery{
		TaskID:      t.ID,
		ChatID:      t.ChatID,
		MessageID:   ref.MessageID,
		Payload:     t.Payload,
		Status:      task.StatusPublished,
		PublishedAt: firedAt,
	})
	if err != nil {
		log.Error("archive insert failed", logx.Err(err))
	}

	if t.Pin {
		if err := d.pub.Pin(ctx, ref); err != nil {
			log.Warn("pin failed", logx.Err(err))
		}
	}

	if t.DeleteAfterDays > 0 && d.del != nil {
		job := task.DeletionJob{
			ID:         "del_" + uuid.NewString(),
			ChatID:     ref.ChatID,
			MessageID:  ref.MessageID,
			DeliveryID: deliveryID,
			FireAt:     firedAt.Add(time.Duration(t.DeleteAfterDays) * 24 * time.Hour),
		}
		if err := d.del.Schedule(ctx, job); err != nil {
			log.Warn("deletion scheduling failed", logx.Err(err))
		} else if deliveryID != 0 {
			if err := d.store.SetDeliveryStatus(ctx, deliveryID, task.StatusDeletionScheduled); err != nil {
				log.Warn("archive status update failed", logx.Err(err))
			}
		}
	}

	return d.afterFiring(ctx, t, firedAt, log)
}

// afterFiring advances a recurring series or retires the task. It runs
// for failed deliveries too (publishedAt zero then): a failed occurrence
// is logged and lost, but the series keeps its natural cadence.
func (d *Dispatcher) afterFiring(ctx context.Context, t task.Task, publishedAt time.Time, log logx.Logger) (time.Time, bool) {
	nextAt, ok := task.NextOccurrence(t.FirstFireAt, t.Recurrence, t.NextFireAt)
	if !ok {
		d.retire(ctx, t.ID, publishedAt, "series complete", log)
		return time.Time{}, false
	}
	if nextAt.After(t.MaxEndAt) {
		d.retire(ctx, t.ID, publishedAt, "horizon reached", log)
		return time.Time{}, false
	}

	advanced, err := d.store.AdvanceTask(ctx, t.ID, t.NextFireAt, nextAt, publishedAt)
	if err != nil {
		log.Error("reschedule failed", logx.Err(err))
		return time.Time{}, false
	}
	if !advanced {
		// Cancelled or edited while the delivery was in flight; whoever
		// changed the row owns the schedule now.
		log.Debug("task changed during firing; not rescheduled")
		return time.Time{}, false
	}
	log.Info("rescheduled", logx.Time("next_fire_at", nextAt))
	return nextAt, true
}

func (d *Dispatcher) retire(ctx context.Context, id int64, publishedAt time.Time, reason string, log logx.Logger) {
	if !publishedAt.IsZero() {
		if err := d.store.MarkPublished(ctx, id, publishedAt); err != nil {
			log.Warn("last_published_at update failed", logx.Err(err))
		}
	}
	if err := d.store.Deactivate(ctx, id); err != nil {
		log.Error("deactivate failed", logx.Err(err))
		return
	}
	log.Info("task retired", logx.String("reason", reason))
}
