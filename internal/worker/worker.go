package worker

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/notifyhub/notify-core/internal/domain"
	"github.com/notifyhub/notify-core/internal/provider"
	"github.com/notifyhub/notify-core/internal/queue"
	"github.com/notifyhub/notify-core/internal/ratelimiter"
	"github.com/notifyhub/notify-core/internal/repository"
	"github.com/notifyhub/notify-core/internal/retry"
	"github.com/notifyhub/notify-core/internal/selector"
)

// Worker is a single goroutine that continuously pulls items from the
// local priority queue and runs the full dispatch algorithm: claim, load,
// select provider, send, classify, update and ack.
type Worker struct {
	id           int
	leaseTTL     time.Duration
	q            *queue.PriorityQueue
	repo         repository.NotificationRepository
	providers    *provider.Registry
	selectorCfg  selector.Config
	limiter      *ratelimiter.ProviderLimiters
	retryPolicy  retry.Policy
	logger       *zap.Logger

	onSent   func(code domain.ProviderCode, latency time.Duration)
	onFailed func(code domain.ProviderCode)
}

// NewWorker constructs a worker. onSent and onFailed are optional (nil = no-op).
func NewWorker(
	id int,
	q *queue.PriorityQueue,
	repo repository.NotificationRepository,
	providers *provider.Registry,
	selectorCfg selector.Config,
	limiter *ratelimiter.ProviderLimiters,
	retryPolicy retry.Policy,
	leaseTTL time.Duration,
	logger *zap.Logger,
	onSent func(domain.ProviderCode, time.Duration),
	onFailed func(domain.ProviderCode),
) *Worker {
	if onSent == nil {
		onSent = func(domain.ProviderCode, time.Duration) {}
	}
	if onFailed == nil {
		onFailed = func(domain.ProviderCode) {}
	}
	return &Worker{
		id: id, q: q, repo: repo, providers: providers,
		selectorCfg: selectorCfg, limiter: limiter, retryPolicy: retryPolicy,
		leaseTTL: leaseTTL, logger: logger,
		onSent: onSent, onFailed: onFailed,
	}
}

// Run blocks until ctx is cancelled, processing one queue item per iteration.
func (w *Worker) Run(ctx context.Context) {
	w.logger.Info("worker started", zap.Int("id", w.id))
	for {
		item, ok := w.q.Dequeue(ctx)
		if !ok {
			w.logger.Info("worker stopping", zap.Int("id", w.id))
			return
		}
		w.process(ctx, item)
	}
}

func (w *Worker) process(ctx context.Context, item queue.Item) {
	start := time.Now()
	log := w.logger.With(zap.String("notification_id", item.NotificationID))

	leaseToken := uuid.NewString()
	n, err := w.repo.ClaimForDispatch(ctx, item.NotificationID, leaseToken, w.leaseTTL)
	if err != nil {
		// Another replica already owns this notification, or it was
		// cancelled between publish and claim; either way this delivery
		// is done.
		log.Debug("claim did not succeed", zap.Error(err))
		w.ackItem(ctx, item)
		return
	}

	code := selector.Select(w.selectorCfg, *n)
	prov, ok := w.providers.Resolve(code)
	if !ok {
		log.Error("no provider registered for code", zap.String("provider_code", string(code)))
		if err := w.repo.MarkFailure(ctx, n.ID, code, "no provider registered"); err != nil {
			log.Error("failed to mark failure", zap.Error(err))
		}
		w.onFailed(code)
		w.ackItem(ctx, item)
		return
	}

	if err := w.limiter.Wait(ctx, code); err != nil {
		// ctx cancelled while waiting — worker is shutting down. Release
		// the lease so another replica can pick this up promptly.
		_ = w.repo.ReleaseLease(ctx, n.ID, leaseToken)
		return
	}

	result, sendErr := prov.Send(ctx, provider.Message{
		NotificationID: n.ID,
		Recipients:     n.Recipients,
		Subject:        n.Content.Subject,
		Body:           n.Content.Body,
		IsHTML:         n.Content.IsHTML,
		Attachments:    n.Content.Attachments,
	})
	elapsed := time.Since(start)

	switch retry.Classify(sendErr) {
	case retry.Success:
		if err := w.repo.MarkDelivered(ctx, n.ID, code, result.ResponseID, time.Now().UTC()); err != nil {
			log.Error("failed to mark delivered", zap.Error(err))
		}
		w.onSent(code, elapsed)
		log.Info("notification delivered", zap.String("provider_response_id", result.ResponseID), zap.Duration("latency", elapsed))

	case retry.Fatal:
		if err := w.repo.MarkFailure(ctx, n.ID, code, sendErr.Error()); err != nil {
			log.Error("failed to mark failure", zap.Error(err))
		}
		w.onFailed(code)
		log.Warn("notification permanently failed", zap.Error(sendErr))

	case retry.Retry:
		w.handleRetry(ctx, n, code, sendErr, log)
	}

	if n.BatchID != nil {
		go func() {
			if err := w.repo.UpdateBatchCounts(context.Background(), *n.BatchID); err != nil {
				log.Warn("failed to update batch counts", zap.Error(err))
			}
		}()
	}

	w.ackItem(ctx, item)
}

func (w *Worker) handleRetry(ctx context.Context, n *domain.Notification, code domain.ProviderCode, sendErr error, log *zap.Logger) {
	if w.retryPolicy.Exhausted(n.Attempt) {
		if err := w.repo.MarkFailure(ctx, n.ID, code, sendErr.Error()); err != nil {
			log.Error("failed to mark failure after exhausting retries", zap.Error(err))
		}
		w.onFailed(code)
		log.Warn("notification failed after exhausting retries", zap.Int("attempt", n.Attempt), zap.Error(sendErr))
		return
	}

	nextRetry := time.Now().UTC().Add(w.retryPolicy.NextDelay(n.Attempt))
	if err := w.repo.RescheduleRetry(ctx, n.ID, code, sendErr.Error(), n.Attempt+1, nextRetry); err != nil {
		log.Error("failed to schedule retry", zap.Error(err))
	}
	log.Warn("scheduled retry", zap.Int("next_attempt", n.Attempt+1), zap.Time("next_retry_at", nextRetry), zap.Error(sendErr))
}

func (w *Worker) ackItem(ctx context.Context, item queue.Item) {
	if item.Ack == nil {
		return
	}
	if err := item.Ack(); err != nil {
		w.logger.Warn("failed to ack dispatch message", zap.String("notification_id", item.NotificationID), zap.Error(err))
	}
}
