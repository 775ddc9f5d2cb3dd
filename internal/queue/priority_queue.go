package queue

import (
	"context"
	"fmt"

	"github.com/notifyhub/notify-core/internal/domain"
)

// PriorityQueue is the local fan-out structure between the bus edge's
// consumer-group reader and the worker pool. It dispatches items to one
// of two buffered channels based on derived priority.
//
// Buffer sizes reflect expected traffic ratios:
//
//	High:   1 000  — HOUSING/STRR, must never accumulate
//	Normal: 5 000  — bulk GC Notify traffic
//
// Workers dequeue via the double-select pattern, which guarantees that
// high-priority items are always served before normal ones, while still
// letting the worker block (rather than spin) when both are empty.
type PriorityQueue struct {
	high   chan Item
	normal chan Item
}

func New() *PriorityQueue {
	return &PriorityQueue{
		high:   make(chan Item, 1000),
		normal: make(chan Item, 5000),
	}
}

// Enqueue places an item on the appropriate priority channel.
// It is non-blocking: if the target channel is full, domain.ErrQueueFull
// is returned immediately rather than blocking the caller.
func (q *PriorityQueue) Enqueue(item Item) error {
	switch item.Priority {
	case PriorityHigh:
		select {
		case q.high <- item:
			return nil
		default:
			return domain.ErrQueueFull
		}
	case PriorityNormal:
		select {
		case q.normal <- item:
			return nil
		default:
			return domain.ErrQueueFull
		}
	default:
		return fmt.Errorf("unknown priority %q", item.Priority)
	}
}

// Dequeue blocks until an item is available or ctx is cancelled.
//
// Priority guarantee — the double-select pattern:
//  1. A non-blocking select checks the high channel first. If an item is
//     waiting there, it is returned immediately regardless of normal.
//  2. Only when high is empty does the goroutine enter a fair blocking
//     select across both channels plus the done signal. This prevents
//     high-priority starvation while still letting the worker sleep
//     instead of spinning.
//
// Returns (Item{}, false) when ctx is cancelled (graceful shutdown signal).
func (q *PriorityQueue) Dequeue(ctx context.Context) (Item, bool) {
	select {
	case item := <-q.high:
		return item, true
	default:
	}

	select {
	case item := <-q.high:
		return item, true
	case item := <-q.normal:
		return item, true
	case <-ctx.Done():
		return Item{}, false
	}
}

// Depths returns the current number of items waiting in each priority tier.
// Used by the metrics handler for the queue-depth snapshot.
func (q *PriorityQueue) Depths() (high, normal int) {
	return len(q.high), len(q.normal)
}
