package worker

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/notifyhub/notify-core/internal/bus"
	"github.com/notifyhub/notify-core/internal/repository"
)

// SchedulerWorker polls the store for notifications whose ScheduledAt has
// passed, promotes them from SCHEDULED to PENDING, and publishes them onto
// the bus for dispatch.
//
// Notifications created with a future ScheduledAt are stored with
// status=SCHEDULED and bypass the bus entirely until their time arrives.
type SchedulerWorker struct {
	repo     repository.NotificationRepository
	pub      bus.Publisher
	interval time.Duration
	logger   *zap.Logger
}

func NewSchedulerWorker(
	repo repository.NotificationRepository,
	pub bus.Publisher,
	interval time.Duration,
	logger *zap.Logger,
) *SchedulerWorker {
	return &SchedulerWorker{repo: repo, pub: pub, interval: interval, logger: logger}
}

// Run ticks every interval and publishes any notifications that are now due.
// Stops cleanly when ctx is cancelled.
func (sw *SchedulerWorker) Run(ctx context.Context) {
	ticker := time.NewTicker(sw.interval)
	defer ticker.Stop()

	sw.logger.Info("scheduler worker started", zap.Duration("interval", sw.interval))

	for {
		select {
		case <-ctx.Done():
			sw.logger.Info("scheduler worker stopping")
			return
		case <-ticker.C:
			sw.poll(ctx)
		}
	}
}

func (sw *SchedulerWorker) poll(ctx context.Context) {
	notifications, err := sw.repo.FindDueScheduled(ctx)
	if err != nil {
		sw.logger.Error("scheduler poll error", zap.Error(err))
		return
	}

	for _, n := range notifications {
		if err := sw.repo.PromoteScheduled(ctx, n.ID); err != nil {
			sw.logger.Error("failed to promote scheduled notification", zap.String("id", n.ID), zap.Error(err))
			continue
		}
		env := bus.Envelope{
			Schema:     bus.SchemaDispatchV1,
			ID:         n.ID,
			Attempt:    0,
			EnqueuedAt: time.Now().UTC(),
		}
		if err := sw.pub.Publish(ctx, env); err != nil {
			sw.logger.Warn("could not publish scheduled notification", zap.String("id", n.ID), zap.Error(err))
		}
	}

	if len(notifications) > 0 {
		sw.logger.Info("published due scheduled notifications", zap.Int("count", len(notifications)))
	}
}
