package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/notifyhub/notify-core/internal/api/handler"
	apimw "github.com/notifyhub/notify-core/internal/api/middleware"
	"github.com/notifyhub/notify-core/internal/auth"
	"github.com/notifyhub/notify-core/internal/queue"
	"github.com/notifyhub/notify-core/internal/service"
)

// NewRouter wires the chi router, attaches all middleware, and registers
// every route. It is the single source of truth for the HTTP surface area.
func NewRouter(
	svc *service.NotificationService,
	q *queue.PriorityQueue,
	verifier *auth.Verifier,
	requiredRoles, adminRoles []string,
	reg prometheus.Gatherer,
	logger *zap.Logger,
) http.Handler {
	r := chi.NewRouter()

	// --- global middleware (applied to every route) ---
	r.Use(chimw.Recoverer)          // recover panics, return 500
	r.Use(chimw.RealIP)             // trust X-Forwarded-For / X-Real-IP
	r.Use(chimw.RequestSize(30 << 20)) // attachments ride along in the JSON body
	r.Use(apimw.CorrelationID)      // X-Correlation-ID inject / echo
	r.Use(apimw.RequestLogger(logger))

	// --- handler instances ---
	nh := handler.NewNotificationHandler(svc, adminRoles, logger)
	bh := handler.NewBatchHandler(svc, logger)
	mh := handler.NewMetricsHandler(q)
	hh := handler.NewHealthHandler()

	// --- unauthenticated routes ---
	r.Get("/health", hh.Health)
	r.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	// --- authenticated API surface ---
	r.Route("/api/v1", func(r chi.Router) {
		r.Use(apimw.Auth(verifier, requiredRoles))

		// Notifications — note: /batch must be registered before /{id}
		// so chi does not treat the literal string "batch" as an ID.
		r.Post("/notifications/batch", bh.CreateBatch)
		r.Post("/notifications", nh.Create)
		r.Get("/notifications", nh.List)
		r.Get("/notifications/{id}", nh.GetByID)
		r.Delete("/notifications/{id}", nh.Cancel)
		r.Post("/notifications/{id}/resend", nh.Resend)

		// Batches
		r.Get("/batches/{id}", bh.GetBatch)

		// JSON metrics snapshot
		r.Get("/metrics", mh.GetMetrics)
	})

	return r
}
