package dispatch

import (
	"container/heap"
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/Lebouse/telegram-reminder/internal/storage"
	"github.com/Lebouse/telegram-reminder/internal/task"
	"github.com/Lebouse/telegram-reminder/pkg/logx"
)

// Dispatcher owns the scheduling loop. Construct it once at process
// start and hand it to whatever layer needs to submit or query tasks.
type Dispatcher struct {
	store *storage.Store
	pub   Publisher
	del   *Deleter
	log   logx.Logger
	cfg   Config

	now func() time.Time

	mu sync.Mutex
	q  fireQueue
	// queued maps task id -> the fire time currently in the heap. Heap
	// entries whose time no longer matches are stale and dropped on pop;
	// this is how Cancel and Edit invalidate queued entries without
	// searching the heap.
	queued   map[int64]time.Time
	inflight map[int64]bool
	// pending holds a fire time that arrived (via Edit or Resync) while
	// the task was in flight; it is armed once the firing completes.
	pending map[int64]time.Time

	wake    chan struct{}
	stopped chan struct{}
	running bool
	wg      sync.WaitGroup
}

func New(st *storage.Store, pub Publisher, del *Deleter, cfg Config, log logx.Logger) *Dispatcher {
	return &Dispatcher{
		store:    st,
		pub:      pub,
		del:      del,
		log:      log,
		cfg:      cfg,
		now:      time.Now,
		queued:   map[int64]time.Time{},
		inflight: map[int64]bool{},
		pending:  map[int64]time.Time{},
		wake:     make(chan struct{}, 1),
	}
}

// Start loads all active tasks and runs the timer loop. Tasks whose fire
// time already passed (missed wake-ups during downtime) fire immediately
// rather than being skipped.
func (d *Dispatcher) Start(ctx context.Context) error {
	d.mu.Lock()
	if d.running {
		d.mu.Unlock()
		return nil
	}
	d.running = true
	d.stopped = make(chan struct{})
	d.mu.Unlock()

	tasks, err := d.store.ListActive(ctx)
	if err != nil {
		return err
	}
	overdue := 0
	for _, t := range tasks {
		if !t.NextFireAt.After(d.now()) {
			overdue++
		}
		d.enqueue(t.ID, t.NextFireAt)
	}
	d.log.Info("dispatcher started",
		logx.Int("pending", len(tasks)),
		logx.Int("overdue", overdue))

	d.wg.Add(1)
	go d.run(ctx)
	return nil
}

// Stop halts the timer loop and waits briefly for in-flight deliveries.
// It does not cancel a delivery already handed to the platform.
func (d *Dispatcher) Stop(ctx context.Context) error {
	d.mu.Lock()
	if !d.running {
		d.mu.Unlock()
		return nil
	}
	d.running = false
	close(d.stopped)
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		d.log.Info("dispatcher stopped")
		return nil
	case <-ctx.Done():
		d.log.Warn("dispatcher stop cut short; deliveries may still be in flight")
		return ctx.Err()
	}
}

// Submit persists a new task and arms the timer for it.
func (d *Dispatcher) Submit(ctx context.Context, draft task.Draft) (int64, error) {
	id, err := d.store.CreateTask(ctx, draft, d.now(), d.cfg.horizon())
	if err != nil {
		return 0, err
	}
	d.enqueue(id, draft.FireAt.UTC().Truncate(time.Minute))
	return id, nil
}

// ListActive returns the active tasks, ascending by next fire time.
func (d *Dispatcher) ListActive(ctx context.Context) ([]task.Task, error) {
	return d.store.ListActive(ctx)
}

// Task looks up a single task by id.
func (d *Dispatcher) Task(ctx context.Context, id int64) (task.Task, error) {
	return d.store.Task(ctx, id)
}

// Cancel deactivates the task. Any queued in-memory entry is
// invalidated; the fire path's re-fetch makes this safe even when the
// cancel races a firing already in progress.
func (d *Dispatcher) Cancel(ctx context.Context, id int64) error {
	if err := d.store.Deactivate(ctx, id); err != nil {
		return err
	}
	d.mu.Lock()
	delete(d.queued, id)
	delete(d.pending, id)
	d.mu.Unlock()
	d.log.Info("task cancelled", logx.Int64("task", id))
	return nil
}

// Edit applies a partial update. When the fire time changes the old
// queue entry is invalidated and the timer re-armed for the new one.
// A new fire time past the task's max_end_at is rejected; the horizon
// is fixed at creation.
func (d *Dispatcher) Edit(ctx context.Context, id int64, p storage.TaskPatch) error {
	if p.NextFireAt != nil {
		t, err := d.store.Task(ctx, id)
		if err != nil {
			return err
		}
		if p.NextFireAt.UTC().After(t.MaxEndAt) {
			return fmt.Errorf("%w: fire time is past the scheduling horizon", task.ErrValidation)
		}
	}
	if err := d.store.UpdateTask(ctx, id, p); err != nil {
		return err
	}
	if p.NextFireAt != nil {
		d.mu.Lock()
		delete(d.queued, id)
		d.mu.Unlock()
		d.enqueue(id, p.NextFireAt.UTC())
	}
	return nil
}

// Resync reloads active tasks into the queue. It is the safety net
// against timer-rearm bugs and runs periodically from the maintenance
// cron; enqueue dedupes so this is cheap when nothing drifted.
func (d *Dispatcher) Resync(ctx context.Context) error {
	tasks, err := d.store.ListActive(ctx)
	if err != nil {
		return err
	}
	for _, t := range tasks {
		d.enqueue(t.ID, t.NextFireAt)
	}
	return nil
}

// enqueue registers a fire time for the task and wakes the loop when it
// became the new earliest. Already-queued identical times are skipped.
// For an in-flight task the time is parked instead: the firing's own
// successor loses the optimistic advance to whoever edited the row, so
// the parked time is armed when the firing completes.
func (d *Dispatcher) enqueue(id int64, at time.Time) {
	d.mu.Lock()
	if d.inflight[id] {
		d.pending[id] = at
		d.mu.Unlock()
		return
	}
	if cur, ok := d.queued[id]; ok && cur.Equal(at) {
		d.mu.Unlock()
		return
	}
	d.queued[id] = at
	heap.Push(&d.q, entry{id: id, at: at})
	d.mu.Unlock()

	select {
	case d.wake <- struct{}{}:
	default:
	}
}

func (d *Dispatcher) run(ctx context.Context) {
	defer d.wg.Done()

	timer := time.NewTimer(time.Hour)
	defer timer.Stop()

	for {
		var wait <-chan time.Time
		d.mu.Lock()
		if len(d.q) > 0 {
			delay := d.q[0].at.Sub(d.now())
			if delay < 0 {
				delay = 0
			}
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(delay)
			wait = timer.C
		}
		stopped := d.stopped
		d.mu.Unlock()

		select {
		case <-ctx.Done():
			return
		case <-stopped:
			return
		case <-d.wake:
			// re-evaluate the earliest entry
		case <-wait:
			d.fireDue(ctx)
		}
	}
}

// fireDue pops every entry at or before now and spawns a firing for each
// task that is not already in flight.
func (d *Dispatcher) fireDue(ctx context.Context) {
	now := d.now()

	d.mu.Lock()
	var due []entry
	for len(d.q) > 0 && !d.q[0].at.After(now) {
		e := heap.Pop(&d.q).(entry)
		cur, ok := d.queued[e.id]
		if !ok || !cur.Equal(e.at) {
			continue // cancelled, edited, or superseded
		}
		delete(d.queued, e.id)
		if d.inflight[e.id] {
			continue
		}
		d.inflight[e.id] = true
		due = append(due, e)
	}
	d.mu.Unlock()

	for _, e := range due {
		e := e
		d.wg.Add(1)
		go func() {
			defer d.wg.Done()
			next, reschedule := d.fire(ctx, e.id)
			// Clear the in-flight guard before arming the successor, or
			// enqueue would drop it.
			d.clearInflight(e.id)
			if reschedule {
				d.enqueue(e.id, next)
			}
		}()
	}
}

func (d *Dispatcher) clearInflight(id int64) {
	d.mu.Lock()
	delete(d.inflight, id)
	at, parked := d.pending[id]
	if parked {
		delete(d.pending, id)
	}
	d.mu.Unlock()
	if parked {
		d.enqueue(id, at)
	}
}
