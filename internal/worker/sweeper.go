package worker

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/notifyhub/notify-core/internal/bus"
	"github.com/notifyhub/notify-core/internal/repository"
)

// SweeperWorker implements §5's sweep: on each tick it (a) re-admits
// FORWARDED notifications whose lease expired without a worker completing
// the attempt, and (b) republishes PENDING notifications whose insert's
// dispatch publish never landed on the bus (an "orphan" row, §4.1). Both
// cases are the at-least-once safety net underneath the per-notification
// lease — the lease makes concurrent delivery impossible, the sweeper
// makes a lost event or a crashed worker recoverable.
type SweeperWorker struct {
	repo            repository.NotificationRepository
	pub             bus.Publisher
	interval        time.Duration
	orphanThreshold time.Duration
	logger          *zap.Logger
}

func NewSweeperWorker(
	repo repository.NotificationRepository,
	pub bus.Publisher,
	interval, orphanThreshold time.Duration,
	logger *zap.Logger,
) *SweeperWorker {
	return &SweeperWorker{repo: repo, pub: pub, interval: interval, orphanThreshold: orphanThreshold, logger: logger}
}

// Run ticks every interval and stops cleanly when ctx is cancelled.
func (s *SweeperWorker) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.logger.Info("sweeper started", zap.Duration("interval", s.interval), zap.Duration("orphan_threshold", s.orphanThreshold))

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("sweeper stopping")
			return
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

func (s *SweeperWorker) sweep(ctx context.Context) {
	released, err := s.repo.ReleaseExpiredLeases(ctx)
	if err != nil {
		s.logger.Error("sweep: release expired leases failed", zap.Error(err))
	} else if len(released) > 0 {
		s.logger.Warn("sweep: released expired leases, re-publishing", zap.Int("count", len(released)))
		for _, n := range released {
			s.republish(ctx, n.ID, n.Attempt)
		}
	}

	orphans, err := s.repo.FindOrphanedPending(ctx, s.orphanThreshold)
	if err != nil {
		s.logger.Error("sweep: find orphaned pending failed", zap.Error(err))
		return
	}
	if len(orphans) > 0 {
		s.logger.Warn("sweep: republishing orphaned pending notifications", zap.Int("count", len(orphans)))
		for _, n := range orphans {
			s.republish(ctx, n.ID, n.Attempt)
		}
	}
}

func (s *SweeperWorker) republish(ctx context.Context, id string, attempt int) {
	env := bus.Envelope{
		Schema:     bus.SchemaDispatchV1,
		ID:         id,
		Attempt:    attempt,
		EnqueuedAt: time.Now().UTC(),
	}
	if err := s.pub.Publish(ctx, env); err != nil {
		s.logger.Warn("sweep: could not republish", zap.String("id", id), zap.Error(err))
	}
}
