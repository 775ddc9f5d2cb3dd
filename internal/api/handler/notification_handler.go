package handler

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	apimw "github.com/notifyhub/notify-core/internal/api/middleware"
	"github.com/notifyhub/notify-core/internal/auth"
	"github.com/notifyhub/notify-core/internal/domain"
	"github.com/notifyhub/notify-core/internal/service"
)

// NotificationHandler handles single-notification CRUD endpoints.
type NotificationHandler struct {
	svc        *service.NotificationService
	adminRoles []string
	logger     *zap.Logger
}

func NewNotificationHandler(svc *service.NotificationService, adminRoles []string, logger *zap.Logger) *NotificationHandler {
	return &NotificationHandler{svc: svc, adminRoles: adminRoles, logger: logger}
}

// isAdmin reports whether claims carries any of the configured admin
// roles, letting an admin caller read any notification regardless of
// OwnerSub.
func (h *NotificationHandler) isAdmin(claims *auth.Claims) bool {
	if claims == nil {
		return false
	}
	for _, have := range claims.Roles {
		for _, want := range h.adminRoles {
			if have == want {
				return true
			}
		}
	}
	return false
}

// Create handles POST /api/v1/notifications
//
// @Summary     Create a notification
// @Tags        notifications
// @Accept      json
// @Produce     json
// @Param       Idempotency-Key    header    string                      false  "Idempotency key"
// @Param       body               body      domain.NotificationRequest  true   "Notification payload"
// @Success     201                {object}  domain.Notification
// @Success     200                {object}  domain.Notification          "Duplicate: returned existing notification"
// @Failure     400                {object}  map[string]string
// @Failure     413                {object}  map[string]string
// @Failure     503                {object}  map[string]string
// @Router      /api/v1/notifications [post]
func (h *NotificationHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req domain.NotificationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	ownerSub := ""
	if claims := apimw.GetClaims(r.Context()); claims != nil {
		ownerSub = claims.Subject
	}

	idempotencyKey := r.Header.Get("Idempotency-Key")
	n, isDuplicate, err := h.svc.Create(r.Context(), req, ownerSub, idempotencyKey)
	if err != nil {
		h.logger.Warn("create notification failed",
			zap.String("correlation_id", apimw.GetCorrelationID(r.Context())),
			zap.Error(err),
		)
		mapError(w, err)
		return
	}

	status := http.StatusCreated
	if isDuplicate {
		status = http.StatusOK
	}
	respondJSON(w, status, n)
}

// GetByID handles GET /api/v1/notifications/{id}
//
// @Summary  Get a notification by ID
// @Tags     notifications
// @Produce  json
// @Param    id   path      string  true  "Notification UUID"
// @Success  200  {object}  domain.Notification
// @Failure  404  {object}  map[string]string
// @Router   /api/v1/notifications/{id} [get]
func (h *NotificationHandler) GetByID(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	n, err := h.svc.GetByID(r.Context(), id)
	if err != nil {
		mapError(w, err)
		return
	}

	claims := apimw.GetClaims(r.Context())
	if !h.isAdmin(claims) && (claims == nil || n.OwnerSub != claims.Subject) {
		mapError(w, domain.ErrForbidden)
		return
	}

	respondJSON(w, http.StatusOK, n)
}

// List handles GET /api/v1/notifications
//
// @Summary  List notifications with filtering and pagination
// @Tags     notifications
// @Produce  json
// @Param    status     query     string  false  "Filter by status"
// @Param    requestBy  query     string  false  "Filter by requester"
// @Param    type       query     string  false  "Filter by type (EMAIL or TEXT)"
// @Param    search     query     string  false  "Text match on recipient or subject"
// @Param    page       query     int     false  "Page number (default 1)"
// @Param    limit      query     int     false  "Items per page (default 20, max 100)"
// @Success  200        {object}  map[string]any
// @Failure  400        {object}  map[string]string
// @Router   /api/v1/notifications [get]
func (h *NotificationHandler) List(w http.ResponseWriter, r *http.Request) {
	filter, err := parseListFilter(r)
	if err != nil {
		mapError(w, err)
		return
	}

	notifications, total, err := h.svc.List(r.Context(), filter)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to list notifications")
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"data":  notifications,
		"total": total,
		"page":  filter.Page,
		"limit": filter.Limit,
	})
}

// Cancel handles DELETE /api/v1/notifications/{id}
//
// @Summary  Cancel a pending notification
// @Tags     notifications
// @Param    id   path      string  true  "Notification UUID"
// @Success  204
// @Failure  404  {object}  map[string]string
// @Failure  409  {object}  map[string]string
// @Router   /api/v1/notifications/{id} [delete]
func (h *NotificationHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.svc.Cancel(r.Context(), id); err != nil {
		mapError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Resend handles POST /api/v1/notifications/{id}/resend
//
// @Summary  Resend a notification that previously failed or delivered
// @Tags     notifications
// @Produce  json
// @Param    id   path      string  true  "Notification UUID"
// @Success  202  {object}  domain.Notification
// @Failure  404  {object}  map[string]string
// @Failure  409  {object}  map[string]string
// @Router   /api/v1/notifications/{id}/resend [post]
func (h *NotificationHandler) Resend(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	n, err := h.svc.Resend(r.Context(), id)
	if err != nil {
		mapError(w, err)
		return
	}
	respondJSON(w, http.StatusAccepted, n)
}

func parseListFilter(r *http.Request) (domain.ListFilter, error) {
	q := r.URL.Query()
	filter := domain.ListFilter{Page: 1, Limit: 20}

	if p, err := strconv.Atoi(q.Get("page")); err == nil && p > 0 {
		filter.Page = p
	}
	if l, err := strconv.Atoi(q.Get("limit")); err == nil && l > 0 && l <= 100 {
		filter.Limit = l
	}
	if s := q.Get("status"); s != "" {
		st := domain.Status(s)
		if !st.IsValid() {
			return filter, domain.ErrBadFilter
		}
		filter.Status = &st
	}
	if rb := q.Get("requestBy"); rb != "" {
		filter.RequestBy = &rb
	}
	if t := q.Get("type"); t != "" {
		typ := domain.Type(t)
		if !typ.IsValid() {
			return filter, domain.ErrBadFilter
		}
		filter.Type = &typ
	}
	if f := q.Get("sentFrom"); f != "" {
		if t, err := time.Parse(time.RFC3339, f); err == nil {
			filter.SentFrom = &t
		}
	}
	if to := q.Get("sentTo"); to != "" {
		if t, err := time.Parse(time.RFC3339, to); err == nil {
			filter.SentTo = &t
		}
	}
	if s := q.Get("search"); s != "" {
		filter.Search = &s
	}
	return filter, nil
}
