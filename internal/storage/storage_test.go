package storage

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/Lebouse/telegram-reminder/internal/task"
	"github.com/Lebouse/telegram-reminder/pkg/logx"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	st, err := Open(Config{Path: filepath.Join(t.TempDir(), "test.db")}, logx.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func textDraft(chatID int64, fireAt time.Time) task.Draft {
	return task.Draft{
		ChatID:     chatID,
		Payload:    task.Payload{Kind: task.KindText, Text: "hello"},
		FireAt:     fireAt,
		Recurrence: task.RecurNone,
	}
}

func TestCreateTaskStampsFields(t *testing.T) {
	t.Parallel()
	st := openTestStore(t)
	ctx := context.Background()

	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	fireAt := now.Add(48 * time.Hour)

	id, err := st.CreateTask(ctx, textDraft(555, fireAt), now, 365*24*time.Hour)
	if err != nil {
		t.Fatalf("CreateTask: %v", err)
	}

	got, err := st.Task(ctx, id)
	if err != nil {
		t.Fatalf("Task: %v", err)
	}
	if !got.Active {
		t.Fatal("new task not active")
	}
	if !got.FirstFireAt.Equal(got.NextFireAt) {
		t.Fatalf("first_fire_at %v != next_fire_at %v", got.FirstFireAt, got.NextFireAt)
	}
	if !got.FirstFireAt.Equal(fireAt) {
		t.Fatalf("first_fire_at = %v, want %v", got.FirstFireAt, fireAt)
	}
	if want := now.Add(365 * 24 * time.Hour); !got.MaxEndAt.Equal(want) {
		t.Fatalf("max_end_at = %v, want %v", got.MaxEndAt, want)
	}
	if !got.LastPublishedAt.IsZero() {
		t.Fatalf("last_published_at should be unset, got %v", got.LastPublishedAt)
	}
}

func TestCreateTaskRejectsInvalidDraft(t *testing.T) {
	t.Parallel()
	st := openTestStore(t)

	d := textDraft(0, time.Now().Add(time.Hour))
	if _, err := st.CreateTask(context.Background(), d, time.Now(), time.Hour); !errors.Is(err, task.ErrValidation) {
		t.Fatalf("CreateTask = %v, want ErrValidation", err)
	}
}

func TestCreateTaskRejectsFireTimeBeyondHorizon(t *testing.T) {
	t.Parallel()
	st := openTestStore(t)
	ctx := context.Background()

	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	horizon := time.Hour

	// next_fire_at must never rest past max_end_at.
	d := textDraft(1, now.Add(2*time.Hour))
	if _, err := st.CreateTask(ctx, d, now, horizon); !errors.Is(err, task.ErrValidation) {
		t.Fatalf("CreateTask = %v, want ErrValidation", err)
	}

	// An overdue fire time inside the horizon is fine (misfire recovery
	// handles it); exactly at the ceiling is fine too.
	if _, err := st.CreateTask(ctx, textDraft(2, now.Add(-time.Minute)), now, horizon); err != nil {
		t.Fatalf("CreateTask overdue-within-horizon: %v", err)
	}
	if _, err := st.CreateTask(ctx, textDraft(3, now.Add(horizon)), now, horizon); err != nil {
		t.Fatalf("CreateTask at-ceiling: %v", err)
	}
}

func TestTaskNotFound(t *testing.T) {
	t.Parallel()
	st := openTestStore(t)

	if _, err := st.Task(context.Background(), 12345); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Task = %v, want ErrNotFound", err)
	}
	if err := st.UpdateTask(context.Background(), 12345, TaskPatch{Pin: boolPtr(true)}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("UpdateTask = %v, want ErrNotFound", err)
	}
	if err := st.Deactivate(context.Background(), 12345); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Deactivate = %v, want ErrNotFound", err)
	}
}

func TestListActiveOrdersByNextFire(t *testing.T) {
	t.Parallel()
	st := openTestStore(t)
	ctx := context.Background()
	now := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)

	late, _ := st.CreateTask(ctx, textDraft(1, now.Add(3*time.Hour)), now, time.Hour*24)
	early, _ := st.CreateTask(ctx, textDraft(2, now.Add(time.Hour)), now, time.Hour*24)
	gone, _ := st.CreateTask(ctx, textDraft(3, now.Add(2*time.Hour)), now, time.Hour*24)
	if err := st.Deactivate(ctx, gone); err != nil {
		t.Fatalf("Deactivate: %v", err)
	}

	got, err := st.ListActive(ctx)
	if err != nil {
		t.Fatalf("ListActive: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("len = %d, want 2", len(got))
	}
	if got[0].ID != early || got[1].ID != late {
		t.Fatalf("order = [%d %d], want [%d %d]", got[0].ID, got[1].ID, early, late)
	}
}

func TestAdvanceTaskOptimistic(t *testing.T) {
	t.Parallel()
	st := openTestStore(t)
	ctx := context.Background()
	now := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	fireAt := now.Add(time.Hour)

	id, _ := st.CreateTask(ctx, textDraft(42, fireAt), now, 24*time.Hour)

	next := fireAt.Add(24 * time.Hour)
	ok, err := st.AdvanceTask(ctx, id, fireAt, next, fireAt)
	if err != nil || !ok {
		t.Fatalf("AdvanceTask = %v, %v; want advanced", ok, err)
	}

	got, _ := st.Task(ctx, id)
	if !got.NextFireAt.Equal(next) {
		t.Fatalf("next_fire_at = %v, want %v", got.NextFireAt, next)
	}
	if !got.LastPublishedAt.Equal(fireAt) {
		t.Fatalf("last_published_at = %v, want %v", got.LastPublishedAt, fireAt)
	}
	if !got.FirstFireAt.Equal(fireAt) {
		t.Fatal("first_fire_at must not move")
	}

	// Stale precondition: the row already moved on.
	ok, err = st.AdvanceTask(ctx, id, fireAt, next.Add(24*time.Hour), fireAt)
	if err != nil {
		t.Fatalf("AdvanceTask: %v", err)
	}
	if ok {
		t.Fatal("stale advance must not apply")
	}

	// Cancelled row: advance must lose the race.
	if err := st.Deactivate(ctx, id); err != nil {
		t.Fatalf("Deactivate: %v", err)
	}
	ok, _ = st.AdvanceTask(ctx, id, next, next.Add(24*time.Hour), next)
	if ok {
		t.Fatal("advance applied to a deactivated task")
	}
}

func TestDeactivateIdempotent(t *testing.T) {
	t.Parallel()
	st := openTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	id, _ := st.CreateTask(ctx, textDraft(7, now.Add(time.Hour)), now, 24*time.Hour)
	if err := st.Deactivate(ctx, id); err != nil {
		t.Fatalf("first Deactivate: %v", err)
	}
	if err := st.Deactivate(ctx, id); err != nil {
		t.Fatalf("second Deactivate: %v", err)
	}
}

func TestUpdateTaskPartialPatch(t *testing.T) {
	t.Parallel()
	st := openTestStore(t)
	ctx := context.Background()
	now := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	fireAt := now.Add(time.Hour)

	id, _ := st.CreateTask(ctx, textDraft(9, fireAt), now, 24*time.Hour)

	newNext := fireAt.Add(2 * time.Hour)
	rec := task.RecurWeekly
	if err := st.UpdateTask(ctx, id, TaskPatch{NextFireAt: &newNext, Recurrence: &rec, Pin: boolPtr(true)}); err != nil {
		t.Fatalf("UpdateTask: %v", err)
	}

	got, _ := st.Task(ctx, id)
	if !got.NextFireAt.Equal(newNext) || got.Recurrence != task.RecurWeekly || !got.Pin {
		t.Fatalf("patch not applied: %+v", got)
	}
	if got.Payload.Text != "hello" || got.Silent {
		t.Fatalf("untouched fields changed: %+v", got)
	}
	if !got.FirstFireAt.Equal(fireAt) {
		t.Fatal("first_fire_at must stay immutable")
	}
}

func TestDeliveryArchive(t *testing.T) {
	t.Parallel()
	st := openTestStore(t)
	ctx := context.Background()

	at := time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC)
	id, err := st.ArchiveDelivery(ctx, task.Delivery{
		TaskID:      1,
		ChatID:      555,
		MessageID:   777,
		Payload:     task.Payload{Kind: task.KindText, Text: "hi"},
		Status:      task.StatusPublished,
		PublishedAt: at,
	})
	if err != nil {
		t.Fatalf("ArchiveDelivery: %v", err)
	}
	if err := st.SetDeliveryStatus(ctx, id, task.StatusDeletionScheduled); err != nil {
		t.Fatalf("SetDeliveryStatus: %v", err)
	}

	recs, err := st.DeliveriesForTask(ctx, 1)
	if err != nil {
		t.Fatalf("DeliveriesForTask: %v", err)
	}
	if len(recs) != 1 {
		t.Fatalf("len = %d, want 1", len(recs))
	}
	if recs[0].Status != task.StatusDeletionScheduled || recs[0].MessageID != 777 {
		t.Fatalf("unexpected record: %+v", recs[0])
	}

	n, err := st.PruneDeliveries(ctx, at.Add(time.Minute))
	if err != nil || n != 1 {
		t.Fatalf("PruneDeliveries = %d, %v; want 1 removed", n, err)
	}
}

func TestDeletionJobsRoundTrip(t *testing.T) {
	t.Parallel()
	st := openTestStore(t)
	ctx := context.Background()

	j := task.DeletionJob{
		ID:         "del_abc",
		ChatID:     555,
		MessageID:  777,
		DeliveryID: 3,
		FireAt:     time.Date(2024, 6, 3, 10, 0, 0, 0, time.UTC),
	}
	if err := st.PutDeletionJob(ctx, j); err != nil {
		t.Fatalf("PutDeletionJob: %v", err)
	}

	jobs, err := st.ListDeletionJobs(ctx)
	if err != nil {
		t.Fatalf("ListDeletionJobs: %v", err)
	}
	if len(jobs) != 1 || jobs[0] != j {
		t.Fatalf("jobs = %+v, want [%+v]", jobs, j)
	}

	if err := st.RemoveDeletionJob(ctx, "del_abc"); err != nil {
		t.Fatalf("RemoveDeletionJob: %v", err)
	}
	jobs, _ = st.ListDeletionJobs(ctx)
	if len(jobs) != 0 {
		t.Fatalf("job not removed: %+v", jobs)
	}
	// Unknown id is a no-op.
	if err := st.RemoveDeletionJob(ctx, "del_missing"); err != nil {
		t.Fatalf("RemoveDeletionJob(missing): %v", err)
	}
}

func TestChatsUpsertAndList(t *testing.T) {
	t.Parallel()
	st := openTestStore(t)
	ctx := context.Background()

	if err := st.UpsertChat(ctx, -100200, "Beta"); err != nil {
		t.Fatalf("UpsertChat: %v", err)
	}
	if err := st.UpsertChat(ctx, -100100, "Alpha"); err != nil {
		t.Fatalf("UpsertChat: %v", err)
	}
	// Re-adding updates the title.
	if err := st.UpsertChat(ctx, -100200, "Beta (renamed)"); err != nil {
		t.Fatalf("UpsertChat: %v", err)
	}

	chats, err := st.ListChats(ctx)
	if err != nil {
		t.Fatalf("ListChats: %v", err)
	}
	if len(chats) != 2 {
		t.Fatalf("len = %d, want 2", len(chats))
	}
	if chats[0].Title != "Alpha" || chats[1].Title != "Beta (renamed)" {
		t.Fatalf("unexpected order/titles: %+v", chats)
	}

	if err := st.RemoveChat(ctx, -100100); err != nil {
		t.Fatalf("RemoveChat: %v", err)
	}
	chats, _ = st.ListChats(ctx)
	if len(chats) != 1 {
		t.Fatalf("chat not removed: %+v", chats)
	}
}

func boolPtr(v bool) *bool { return &v }
