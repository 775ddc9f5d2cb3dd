package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/notifyhub/notify-core/internal/api"
	"github.com/notifyhub/notify-core/internal/auth"
	"github.com/notifyhub/notify-core/internal/bus"
	"github.com/notifyhub/notify-core/internal/config"
	"github.com/notifyhub/notify-core/internal/db"
	"github.com/notifyhub/notify-core/internal/domain"
	"github.com/notifyhub/notify-core/internal/metrics"
	"github.com/notifyhub/notify-core/internal/provider"
	"github.com/notifyhub/notify-core/internal/queue"
	"github.com/notifyhub/notify-core/internal/ratelimiter"
	"github.com/notifyhub/notify-core/internal/repository"
	"github.com/notifyhub/notify-core/internal/retry"
	"github.com/notifyhub/notify-core/internal/selector"
	"github.com/notifyhub/notify-core/internal/service"
	"github.com/notifyhub/notify-core/internal/worker"
)

func main() {
	logger, _ := zap.NewProduction()
	defer logger.Sync() //nolint:errcheck

	// ---- configuration ----
	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("failed to load config", zap.Error(err))
	}

	// ---- database ----
	ctx := context.Background()
	pool, err := db.Connect(ctx, cfg)
	if err != nil {
		logger.Fatal("failed to connect to database", zap.Error(err))
	}
	defer pool.Close()

	if err := db.Migrate(cfg.DatabaseURL); err != nil {
		logger.Fatal("failed to run migrations", zap.Error(err))
	}
	logger.Info("database migrations applied")

	// ---- event bus (C6) ----
	rdb := redis.NewClient(&redis.Options{Addr: cfg.BusAddr})
	if err := rdb.Ping(ctx).Err(); err != nil {
		logger.Fatal("failed to connect to bus", zap.Error(err))
	}
	defer rdb.Close()

	edge, err := bus.NewRedisBus(ctx, rdb, cfg.BusStream, cfg.BusGroup, cfg.BusConsumer, logger)
	if err != nil {
		logger.Fatal("failed to initialize bus consumer group", zap.Error(err))
	}
	defer edge.Close()

	// ---- auth (verifies bearer tokens against the configured OIDC issuer) ----
	verifier, err := auth.New(ctx, cfg.OIDCIssuer, cfg.OIDCAudience)
	if err != nil {
		logger.Fatal("failed to initialize auth verifier", zap.Error(err))
	}

	// ---- core dependencies ----
	promReg := prometheus.NewRegistry()
	m := metrics.New(promReg)
	q := queue.New()
	repo := repository.NewPgNotificationRepository(pool)
	limiter := ratelimiter.New(cfg.RateLimit)
	selectorCfg := buildSelectorConfig(cfg)
	retryPolicy := retry.Policy{
		Base:        cfg.RetryBase,
		Cap:         cfg.RetryCap,
		MaxAttempts: cfg.RetryMaxAttempts,
		Jitter:      cfg.RetryJitter,
	}

	providers := provider.NewRegistry(
		provider.NewGCNotifyProvider(domain.ProviderGCNotifyEmail, cfg.GCNotifyBaseURL+"/v2/notifications/email", cfg.GCNotifyAPIKey, cfg.GCNotifyTimeout, cfg.GCNotifyMaxInFlight),
		provider.NewGCNotifyProvider(domain.ProviderGCNotifySMS, cfg.GCNotifyBaseURL+"/v2/notifications/sms", cfg.GCNotifyAPIKey, cfg.GCNotifyTimeout, cfg.GCNotifyMaxInFlight),
		provider.NewSMTPProvider(cfg.SMTPHost, cfg.SMTPPort, cfg.SMTPUser, cfg.SMTPPass, cfg.SMTPFrom, cfg.MaxAttachmentBytes),
		provider.NewHousingProvider(cfg.HousingBaseURL, cfg.HousingTokenURL, cfg.HousingClientID, cfg.HousingClientSecret, cfg.HousingTimeout),
	)

	svc := service.NewNotificationService(repo, edge, cfg.MaxAttachmentBytes, cfg.MaxAttachments, cfg.MaxTotalAttachmentBytes, logger)

	// ---- worker pool (C4) ----
	// Context for all background goroutines; cancelled on shutdown signal.
	workerCtx, cancelWorkers := context.WithCancel(ctx)
	defer cancelWorkers()

	onSent, onFailed := m.WorkerHooks()
	dispatchPool := worker.NewPool(cfg, q, repo, providers, selectorCfg, limiter, retryPolicy, logger, worker.MetricHooks{
		OnSent:   onSent,
		OnFailed: onFailed,
	})
	dispatchPool.Start(workerCtx)

	busReader := worker.NewBusReader(edge, q, repo, cfg.BusPollInterval, cfg.ReclaimIdle, logger)
	go busReader.Run(workerCtx)

	retryW := worker.NewRetryWorker(repo, edge, cfg.RetryInterval, logger)
	go retryW.Run(workerCtx)

	schedulerW := worker.NewSchedulerWorker(repo, edge, cfg.SchedulerInterval, logger)
	go schedulerW.Run(workerCtx)

	sweeperW := worker.NewSweeperWorker(repo, edge, cfg.SweepInterval, cfg.OrphanThreshold, logger)
	go sweeperW.Run(workerCtx)

	go observeQueueDepths(workerCtx, q, m)

	// ---- HTTP server ----
	router := api.NewRouter(svc, q, verifier, cfg.RequiredRoles, cfg.AdminRoles, promReg, logger)
	srv := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	// Start server in a goroutine so it does not block the shutdown listener.
	go func() {
		logger.Info("server starting", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server error", zap.Error(err))
		}
	}()

	// ---- graceful shutdown ----
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutdown signal received")

	// 1. Stop accepting new HTTP requests.
	shutdownCtx, shutdownCancel := context.WithTimeout(ctx, cfg.ShutdownTimeout)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown error", zap.Error(err))
	}

	// 2. Signal all workers (dispatch pool, bus reader, retry/scheduler/sweeper loops) to stop.
	cancelWorkers()

	// 3. Wait for in-flight dispatch workers to finish their current message.
	dispatchPool.Wait()

	logger.Info("server stopped cleanly")
}

// buildSelectorConfig turns the comma-separated HOUSING_REQUESTERS list
// into the normalized lookup set selector.Select expects.
func buildSelectorConfig(cfg *config.Config) selector.Config {
	requesters := make(map[string]bool, len(cfg.HousingRequesters))
	for _, r := range cfg.HousingRequesters {
		requesters[strings.ToUpper(strings.TrimSpace(r))] = true
	}
	return selector.Config{
		HousingRequesters:  requesters,
		SMTPThresholdBytes: cfg.SMTPThresholdBytes,
	}
}

// observeQueueDepths periodically snapshots the local dispatch queue depth
// gauges. A ticking snapshot (rather than updating on every enqueue/dequeue)
// keeps the queue's hot path free of Prometheus calls.
func observeQueueDepths(ctx context.Context, q *queue.PriorityQueue, m *metrics.Metrics) {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			high, normal := q.Depths()
			m.ObserveQueueDepths(high, normal)
		}
	}
}
