package worker

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/notifyhub/notify-core/internal/config"
	"github.com/notifyhub/notify-core/internal/domain"
	"github.com/notifyhub/notify-core/internal/provider"
	"github.com/notifyhub/notify-core/internal/queue"
	"github.com/notifyhub/notify-core/internal/ratelimiter"
	"github.com/notifyhub/notify-core/internal/repository"
	"github.com/notifyhub/notify-core/internal/retry"
	"github.com/notifyhub/notify-core/internal/selector"
)

// MetricHooks carries the metric callback functions injected by main.
// Using a struct keeps the pool constructor signature clean.
type MetricHooks struct {
	OnSent   func(code domain.ProviderCode, latency time.Duration)
	OnFailed func(code domain.ProviderCode)
}

// Pool manages the lifecycle of all dispatch workers. All workers share
// the same local priority queue — its double-select pattern handles
// priority ordering internally.
type Pool struct {
	workers []*Worker
	wg      sync.WaitGroup
}

// NewPool creates cfg.DispatchWorkers identical workers. All workers are
// interchangeable; routing to the right provider happens per-notification
// inside each worker via the selector.
func NewPool(
	cfg *config.Config,
	q *queue.PriorityQueue,
	repo repository.NotificationRepository,
	providers *provider.Registry,
	selectorCfg selector.Config,
	limiter *ratelimiter.ProviderLimiters,
	retryPolicy retry.Policy,
	logger *zap.Logger,
	hooks MetricHooks,
) *Pool {
	workers := make([]*Worker, cfg.DispatchWorkers)
	for i := range workers {
		workers[i] = NewWorker(
			i, q, repo, providers, selectorCfg, limiter, retryPolicy, cfg.LeaseDuration,
			logger.With(zap.Int("worker_id", i)),
			hooks.OnSent, hooks.OnFailed,
		)
	}
	return &Pool{workers: workers}
}

// Start launches all workers as goroutines. The provided ctx is forwarded
// to every worker; cancelling it triggers a graceful shutdown of the
// entire pool.
func (p *Pool) Start(ctx context.Context) {
	for _, w := range p.workers {
		p.wg.Add(1)
		go func(w *Worker) {
			defer p.wg.Done()
			w.Run(ctx)
		}(w)
	}
}

// Wait blocks until every worker has returned after ctx is cancelled.
// Call this after cancelling the context to ensure in-flight messages finish.
func (p *Pool) Wait() {
	p.wg.Wait()
}
