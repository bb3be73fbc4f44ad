package dispatch

import (
	"container/heap"
	"context"
	"sync"
	"time"

	"github.com/Lebouse/telegram-reminder/internal/storage"
	"github.com/Lebouse/telegram-reminder/internal/task"
	"github.com/Lebouse/telegram-reminder/pkg/logx"
)

// Deleter removes delivered messages once their delete-after window
// elapses. One shared instance serves all jobs; jobs are persisted, so a
// restart inside the window does not lose the deletion. Failures are
// expected (message already gone, permissions changed) and are logged,
// never retried.
type Deleter struct {
	store *storage.Store
	pub   Publisher
	log   logx.Logger

	now func() time.Time

	mu      sync.Mutex
	q       delQueue
	pending map[string]bool

	wake    chan struct{}
	stopped chan struct{}
	running bool
	wg      sync.WaitGroup
}

func NewDeleter(st *storage.Store, pub Publisher, log logx.Logger) *Deleter {
	return &Deleter{
		store:   st,
		pub:     pub,
		log:     log,
		now:     time.Now,
		pending: map[string]bool{},
		wake:    make(chan struct{}, 1),
	}
}

// Start reloads persisted jobs and runs the timer loop. Jobs overdue at
// startup execute immediately.
func (dl *Deleter) Start(ctx context.Context) error {
	dl.mu.Lock()
	if dl.running {
		dl.mu.Unlock()
		return nil
	}
	dl.running = true
	dl.stopped = make(chan struct{})
	dl.mu.Unlock()

	jobs, err := dl.store.ListDeletionJobs(ctx)
	if err != nil {
		return err
	}
	for _, j := range jobs {
		dl.push(j)
	}
	if len(jobs) > 0 {
		dl.log.Info("deletion jobs recovered", logx.Int("pending", len(jobs)))
	}

	dl.wg.Add(1)
	go dl.run(ctx)
	return nil
}

func (dl *Deleter) Stop(ctx context.Context) error {
	dl.mu.Lock()
	if !dl.running {
		dl.mu.Unlock()
		return nil
	}
	dl.running = false
	close(dl.stopped)
	dl.mu.Unlock()

	done := make(chan struct{})
	go func() {
		dl.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Schedule persists the job and arms the timer for it.
func (dl *Deleter) Schedule(ctx context.Context, j task.DeletionJob) error {
	if err := dl.store.PutDeletionJob(ctx, j); err != nil {
		return err
	}
	dl.push(j)
	dl.log.Info("deletion scheduled",
		logx.String("job", j.ID),
		logx.Int64("chat", j.ChatID),
		logx.Int("message", j.MessageID),
		logx.Time("fire_at", j.FireAt))
	return nil
}

func (dl *Deleter) push(j task.DeletionJob) {
	dl.mu.Lock()
	if dl.pending[j.ID] {
		dl.mu.Unlock()
		return
	}
	dl.pending[j.ID] = true
	heap.Push(&dl.q, j)
	dl.mu.Unlock()

	select {
	case dl.wake <- struct{}{}:
	default:
	}
}

func (dl *Deleter) run(ctx context.Context) {
	defer dl.wg.Done()

	timer := time.NewTimer(time.Hour)
	defer timer.Stop()

	for {
		var wait <-chan time.Time
		dl.mu.Lock()
		if len(dl.q) > 0 {
			delay := dl.q[0].FireAt.Sub(dl.now())
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
		stopped := dl.stopped
		dl.mu.Unlock()

		select {
		case <-ctx.Done():
			return
		case <-stopped:
			return
		case <-dl.wake:
		case <-wait:
			dl.fireDue(ctx)
		}
	}
}

func (dl *Deleter) fireDue(ctx context.Context) {
	now := dl.now()

	dl.mu.Lock()
	var due []task.DeletionJob
	for len(dl.q) > 0 && !dl.q[0].FireAt.After(now) {
		j := heap.Pop(&dl.q).(task.DeletionJob)
		delete(dl.pending, j.ID)
		due = append(due, j)
	}
	dl.mu.Unlock()

	for _, j := range due {
		j := j
		dl.wg.Add(1)
		go func() {
			defer dl.wg.Done()
			dl.execute(ctx, j)
		}()
	}
}

func (dl *Deleter) execute(ctx context.Context, j task.DeletionJob) {
	log := dl.log.With(logx.String("job", j.ID), logx.Int64("chat", j.ChatID), logx.Int("message", j.MessageID))

	err := dl.pub.Delete(ctx, MessageRef{ChatID: j.ChatID, MessageID: j.MessageID})
	if err != nil {
		// Non-fatal by design; the job is consumed either way.
		log.Warn("message deletion failed", logx.Err(err))
	} else {
		log.Info("message deleted")
		if j.DeliveryID != 0 {
			if serr := dl.store.SetDeliveryStatus(ctx, j.DeliveryID, task.StatusDeleted); serr != nil {
				log.Warn("archive status update failed", logx.Err(serr))
			}
		}
	}

	if rerr := dl.store.RemoveDeletionJob(ctx, j.ID); rerr != nil {
		log.Warn("deletion job cleanup failed", logx.Err(rerr))
	}
}

// delQueue is a min-heap of deletion jobs keyed by fire time.
type delQueue []task.DeletionJob

func (q delQueue) Len() int           { return len(q) }
func (q delQueue) Less(i, j int) bool { return q[i].FireAt.Before(q[j].FireAt) }
func (q delQueue) Swap(i, j int)      { q[i], q[j] = q[j], q[i] }
func (q *delQueue) Push(x any)        { *q = append(*q, x.(task.DeletionJob)) }
func (q *delQueue) Pop() any {
	old := *q
	n := len(old)
	j := old[n-1]
	*q = old[:n-1]
	return j
}
