package worker

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/notifyhub/notify-core/internal/bus"
	"github.com/notifyhub/notify-core/internal/queue"
	"github.com/notifyhub/notify-core/internal/repository"
)

// BusReader bridges the bus edge's consumer-group subscription to the
// in-process PriorityQueue the worker pool dequeues from. It is the only
// component that touches bus.Subscriber directly, so the Pool and Worker
// stay broker-agnostic.
type BusReader struct {
	sub         bus.Subscriber
	q           *queue.PriorityQueue
	repo        repository.NotificationRepository
	pollEvery   time.Duration
	reclaimIdle time.Duration
	logger      *zap.Logger
}

// NewBusReader builds a reader that polls sub for new and reclaimable
// deliveries and feeds them to q, deriving local dispatch priority from
// each notification's routed provider.
func NewBusReader(sub bus.Subscriber, q *queue.PriorityQueue, repo repository.NotificationRepository, pollEvery, reclaimIdle time.Duration, logger *zap.Logger) *BusReader {
	return &BusReader{sub: sub, q: q, repo: repo, pollEvery: pollEvery, reclaimIdle: reclaimIdle, logger: logger}
}

// Run blocks until ctx is cancelled, alternating between reading new
// deliveries and reclaiming ones abandoned by a crashed consumer.
func (b *BusReader) Run(ctx context.Context) {
	ticker := time.NewTicker(b.pollEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			b.pump(ctx)
		}
	}
}

func (b *BusReader) pump(ctx context.Context) {
	deliveries, err := b.sub.Read(ctx, 64)
	if err != nil {
		b.logger.Error("bus read error", zap.Error(err))
	}
	reclaimed, err := b.sub.Reclaim(ctx, b.reclaimIdle, 64)
	if err != nil {
		b.logger.Error("bus reclaim error", zap.Error(err))
	}
	for _, d := range append(deliveries, reclaimed...) {
		b.enqueue(ctx, d)
	}
}

func (b *BusReader) enqueue(ctx context.Context, d bus.Delivery) {
	n, err := b.repo.Load(ctx, d.Envelope.ID)
	if err != nil {
		b.logger.Warn("dropping delivery for unknown notification", zap.String("id", d.Envelope.ID), zap.Error(err))
		_ = d.Ack(ctx)
		return
	}
	if n.Status.IsTerminal() {
		_ = d.Ack(ctx)
		return
	}

	item := queue.Item{
		NotificationID: d.Envelope.ID,
		Priority:       queue.PriorityOf(n),
		Attempt:        d.Envelope.Attempt,
		Ack:            func() error { return d.Ack(ctx) },
		Nack:           func() error { return d.Nack(ctx) },
	}
	if err := b.q.Enqueue(item); err != nil {
		b.logger.Warn("local queue full, leaving delivery unacked for later reclaim",
			zap.String("id", d.Envelope.ID), zap.Error(err))
		return
	}
}
