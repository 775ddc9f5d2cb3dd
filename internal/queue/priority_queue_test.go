package queue_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/notifyhub/notify-core/internal/domain"
	"github.com/notifyhub/notify-core/internal/queue"
)

func item(id string, p queue.Priority) queue.Item {
	return queue.Item{NotificationID: id, Priority: p}
}

func TestPriorityQueue_BasicEnqueueDequeue(t *testing.T) {
	q := queue.New()
	ctx := context.Background()

	if err := q.Enqueue(item("1", queue.PriorityNormal)); err != nil {
		t.Fatal(err)
	}

	got, ok := q.Dequeue(ctx)
	if !ok {
		t.Fatal("expected item, got nothing")
	}
	if got.NotificationID != "1" {
		t.Fatalf("expected id=1, got %s", got.NotificationID)
	}
}

// TestPriorityQueue_HighBeforeNormal verifies that a high-priority item
// inserted after a normal-priority item is still served first.
func TestPriorityQueue_HighBeforeNormal(t *testing.T) {
	q := queue.New()
	ctx := context.Background()

	_ = q.Enqueue(item("normal", queue.PriorityNormal))
	_ = q.Enqueue(item("high", queue.PriorityHigh))

	first, _ := q.Dequeue(ctx)
	if first.NotificationID != "high" {
		t.Fatalf("expected high to be dequeued first, got %q", first.NotificationID)
	}
}

// TestPriorityQueue_ContextCancellation verifies Dequeue returns (_, false)
// when the context is cancelled while blocking.
func TestPriorityQueue_ContextCancellation(t *testing.T) {
	q := queue.New()
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan bool, 1)
	go func() {
		_, ok := q.Dequeue(ctx)
		done <- ok
	}()

	cancel()

	select {
	case ok := <-done:
		if ok {
			t.Fatal("expected ok=false after context cancellation")
		}
	case <-time.After(time.Second):
		t.Fatal("Dequeue did not return after context cancellation")
	}
}

// TestPriorityQueue_ErrQueueFull verifies the non-blocking Enqueue returns
// ErrQueueFull when the target channel is saturated.
func TestPriorityQueue_ErrQueueFull(t *testing.T) {
	q := queue.New()
	if err := q.Enqueue(item("x", queue.PriorityNormal)); err != nil {
		t.Fatalf("unexpected error on empty queue: %v", err)
	}
	// Fill the rest of the 5000-slot normal channel.
	for i := 1; i < 5000; i++ {
		if err := q.Enqueue(item("fill", queue.PriorityNormal)); err != nil {
			t.Fatalf("unexpected error filling queue at %d: %v", i, err)
		}
	}
	if err := q.Enqueue(item("overflow", queue.PriorityNormal)); !errors.Is(err, domain.ErrQueueFull) {
		t.Fatalf("expected ErrQueueFull on saturated queue, got %v", err)
	}
}

// TestPriorityQueue_ConcurrentEnqueueDequeue verifies there are no races
// when multiple goroutines enqueue and dequeue simultaneously.
func TestPriorityQueue_ConcurrentEnqueueDequeue(t *testing.T) {
	q := queue.New()

	const producers = 5
	const itemsPerProducer = 100
	const total = producers * itemsPerProducer

	received := make(chan struct{}, total)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var consumerDone sync.WaitGroup
	consumerDone.Add(1)
	go func() {
		defer consumerDone.Done()
		for {
			_, ok := q.Dequeue(ctx)
			if !ok {
				return
			}
			received <- struct{}{}
		}
	}()

	var wg sync.WaitGroup
	for i := 0; i < producers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < itemsPerProducer; j++ {
				_ = q.Enqueue(item("id", queue.PriorityNormal))
			}
		}()
	}
	wg.Wait()

	for i := 0; i < total; i++ {
		select {
		case <-received:
		case <-ctx.Done():
			t.Fatalf("timeout: only received %d/%d items", i, total)
		}
	}
	cancel()
	consumerDone.Wait()
}

func TestPriorityQueue_Depths(t *testing.T) {
	q := queue.New()

	_ = q.Enqueue(item("h", queue.PriorityHigh))
	_ = q.Enqueue(item("n1", queue.PriorityNormal))
	_ = q.Enqueue(item("n2", queue.PriorityNormal))

	high, normal := q.Depths()
	if high != 1 || normal != 2 {
		t.Fatalf("unexpected depths: high=%d normal=%d", high, normal)
	}
}
