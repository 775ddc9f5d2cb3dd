package worker

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/notifyhub/notify-core/internal/bus"
	"github.com/notifyhub/notify-core/internal/repository"
)

// RetryWorker polls the store for PENDING notifications whose NextRetryAt
// is in the past and republishes them onto the bus.
//
// This DB-backed approach means retries survive server restarts: the next
// retry time is persisted in the store, not held in memory or in an
// in-process timer.
type RetryWorker struct {
	repo     repository.NotificationRepository
	pub      bus.Publisher
	interval time.Duration
	logger   *zap.Logger
}

func NewRetryWorker(
	repo repository.NotificationRepository,
	pub bus.Publisher,
	interval time.Duration,
	logger *zap.Logger,
) *RetryWorker {
	return &RetryWorker{repo: repo, pub: pub, interval: interval, logger: logger}
}

// Run ticks every interval and republishes any due retries.
// Stops cleanly when ctx is cancelled.
func (rw *RetryWorker) Run(ctx context.Context) {
	ticker := time.NewTicker(rw.interval)
	defer ticker.Stop()

	rw.logger.Info("retry worker started", zap.Duration("interval", rw.interval))

	for {
		select {
		case <-ctx.Done():
			rw.logger.Info("retry worker stopping")
			return
		case <-ticker.C:
			rw.poll(ctx)
		}
	}
}

func (rw *RetryWorker) poll(ctx context.Context) {
	notifications, err := rw.repo.FindDueRetries(ctx)
	if err != nil {
		rw.logger.Error("retry poll error", zap.Error(err))
		return
	}

	for _, n := range notifications {
		env := bus.Envelope{
			Schema:     bus.SchemaDispatchV1,
			ID:         n.ID,
			Attempt:    n.Attempt,
			EnqueuedAt: time.Now().UTC(),
		}
		if err := rw.pub.Publish(ctx, env); err != nil {
			rw.logger.Warn("could not republish due retry", zap.String("id", n.ID), zap.Error(err))
		}
	}

	if len(notifications) > 0 {
		rw.logger.Info("republished due retries", zap.Int("count", len(notifications)))
	}
}
