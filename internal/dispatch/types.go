package dispatch

import (
	"container/heap"
	"context"
	"time"

	"github.com/Lebouse/telegram-reminder/internal/task"
)

// MessageRef is the delivery handle returned by the messaging platform,
// used later for pinning and deletion.
type MessageRef struct {
	ChatID    int64
	MessageID int
}

// Publisher is the delivery collaborator. Publish sends the payload to
// the chat and returns the platform handle; Pin and Delete are
// best-effort side actions on an earlier delivery.
type Publisher interface {
	Publish(ctx context.Context, chatID int64, p task.Payload, silent bool) (MessageRef, error)
	Pin(ctx context.Context, ref MessageRef) error
	Delete(ctx context.Context, ref MessageRef) error
}

// Config configures the dispatcher.
type Config struct {
	// Horizon caps how far a series may run past its creation
	// (max_end_at = created_at + Horizon). Zero means 365 days.
	Horizon time.Duration
}

const defaultHorizon = 365 * 24 * time.Hour

func (c Config) horizon() time.Duration {
	if c.Horizon > 0 {
		return c.Horizon
	}
	return defaultHorizon
}

// entry is one pending fire time in the in-memory queue.
type entry struct {
	id int64
	at time.Time
}

// fireQueue is a min-heap of entries keyed by fire time.
type fireQueue []entry

func (q fireQueue) Len() int            { return len(q) }
func (q fireQueue) Less(i, j int) bool  { return q[i].at.Before(q[j].at) }
func (q fireQueue) Swap(i, j int)       { q[i], q[j] = q[j], q[i] }
func (q *fireQueue) Push(x any)         { *q = append(*q, x.(entry)) }
func (q *fireQueue) Pop() any {
	old := *q
	n := len(old)
	e := old[n-1]
	*q = old[:n-1]
	return e
}

var _ heap.Interface = (*fireQueue)(nil)
