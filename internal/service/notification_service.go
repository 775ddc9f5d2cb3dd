package service

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/notifyhub/notify-core/internal/bus"
	"github.com/notifyhub/notify-core/internal/domain"
	"github.com/notifyhub/notify-core/internal/repository"
)

// NotificationService coordinates the durable store and the bus edge. All
// business rules (idempotency, cancel state machine, batch limits,
// attachment budgets) live here; HTTP handlers and workers depend on this
// service, not on each other.
type NotificationService struct {
	repo                    repository.NotificationRepository
	pub                     bus.Publisher
	maxAttachmentBytes      int64
	maxAttachments          int
	maxTotalAttachmentBytes int64
	logger                  *zap.Logger
}

func NewNotificationService(
	repo repository.NotificationRepository,
	pub bus.Publisher,
	maxAttachmentBytes int64,
	maxAttachments int,
	maxTotalAttachmentBytes int64,
	logger *zap.Logger,
) *NotificationService {
	return &NotificationService{
		repo: repo, pub: pub,
		maxAttachmentBytes: maxAttachmentBytes, maxAttachments: maxAttachments,
		maxTotalAttachmentBytes: maxTotalAttachmentBytes,
		logger:                  logger,
	}
}

// Create validates, persists, and (unless scheduled) publishes a single
// notification onto the dispatch bus.
//
// Idempotency: if an Idempotency-Key header was supplied and a
// notification with that key and an identical payload already exists, the
// existing record is returned as-is. A key reused with a different payload
// is a conflict. The caller can distinguish a repeat response by the HTTP
// status code (200 for existing, 201 for newly created).
func (s *NotificationService) Create(
	ctx context.Context,
	req domain.NotificationRequest,
	ownerSub string,
	idempotencyKey string,
) (*domain.Notification, bool, error) {
	if err := req.Validate(); err != nil {
		return nil, false, err
	}

	content, err := s.buildContent(req.Content)
	if err != nil {
		return nil, false, err
	}

	payloadHash := hashPayload(req)

	if idempotencyKey != "" {
		existing, err := s.repo.GetByIdempotencyKey(ctx, idempotencyKey)
		if err != nil && !errors.Is(err, domain.ErrNotFound) {
			return nil, false, fmt.Errorf("idempotency lookup: %w", err)
		}
		if existing != nil {
			if existing.PayloadHash == nil || *existing.PayloadHash != payloadHash {
				return nil, false, domain.ErrConflict
			}
			return existing, true, nil
		}
	}

	n := s.buildNotification(req, content, ownerSub, idempotencyKey, payloadHash, nil)

	if err := s.repo.Create(ctx, n); err != nil {
		return nil, false, fmt.Errorf("persist notification: %w", err)
	}

	if n.Status != domain.StatusScheduled {
		s.publish(ctx, n)
	}
	return n, false, nil
}

// CreateBatch validates and creates up to 1000 notifications in a single
// transaction, then publishes the non-scheduled ones.
func (s *NotificationService) CreateBatch(
	ctx context.Context,
	ownerSub string,
	requests []domain.NotificationRequest,
) (*domain.Batch, error) {
	if len(requests) == 0 {
		return nil, domain.ErrBatchEmpty
	}
	if len(requests) > 1000 {
		return nil, domain.ErrBatchTooLarge
	}

	batchID := uuid.New().String()
	now := time.Now().UTC()

	notifications := make([]*domain.Notification, len(requests))
	for i, req := range requests {
		if err := req.Validate(); err != nil {
			return nil, fmt.Errorf("item %d: %w", i, err)
		}
		content, err := s.buildContent(req.Content)
		if err != nil {
			return nil, fmt.Errorf("item %d: %w", i, err)
		}
		n := s.buildNotification(req, content, ownerSub, "", hashPayload(req), &batchID)
		n.CreatedAt = now
		n.UpdatedAt = now
		notifications[i] = n
	}

	batch, err := s.repo.CreateBatch(ctx, batchID, notifications)
	if err != nil {
		return nil, fmt.Errorf("persist batch: %w", err)
	}

	for _, n := range notifications {
		if n.ScheduledAt == nil {
			s.publish(ctx, n)
		}
	}

	return batch, nil
}

// Cancel marks a notification as cancelled if it is still in a cancellable state.
func (s *NotificationService) Cancel(ctx context.Context, id string) error {
	n, err := s.repo.Load(ctx, id)
	if err != nil {
		return err
	}

	switch n.Status {
	case domain.StatusCancelled, domain.StatusDelivered, domain.StatusFailure:
		return domain.ErrAlreadyTerminal
	case domain.StatusForwarded:
		return domain.ErrNotCancellable
	}

	return s.repo.Cancel(ctx, id)
}

// Resend republishes a notification that already reached a terminal state,
// onto the dispatch bus with a reset attempt counter. Only FAILURE and
// DELIVERED notifications may be resent; an in-flight or already-cancelled
// notification cannot.
func (s *NotificationService) Resend(ctx context.Context, id string) (*domain.Notification, error) {
	n, err := s.repo.Load(ctx, id)
	if err != nil {
		return nil, err
	}

	switch n.Status {
	case domain.StatusFailure, domain.StatusDelivered:
	default:
		return nil, domain.ErrNotCancellable
	}

	if n.Status == domain.StatusDelivered && n.SentDate != nil && time.Since(*n.SentDate) < resendCooldown {
		return nil, domain.ErrResendCooldown
	}

	if err := s.repo.RescheduleRetry(ctx, n.ID, "", "manual resend", 0, time.Now().UTC()); err != nil {
		return nil, fmt.Errorf("reschedule for resend: %w", err)
	}

	n.Status = domain.StatusPending
	n.Attempt = 0
	s.publish(ctx, n)
	return n, nil
}

const resendCooldown = 5 * time.Minute

func (s *NotificationService) GetByID(ctx context.Context, id string) (*domain.Notification, error) {
	return s.repo.Load(ctx, id)
}

func (s *NotificationService) List(ctx context.Context, filter domain.ListFilter) ([]*domain.Notification, int, error) {
	return s.repo.List(ctx, filter)
}

func (s *NotificationService) GetBatch(ctx context.Context, batchID string) (*domain.Batch, []*domain.Notification, error) {
	return s.repo.GetBatch(ctx, batchID)
}

// ---- private helpers ----

// buildContent decodes base64 attachment bytes, computes each ContentSize
// server-side (the client's claimed size is never trusted), and enforces
// the per-attachment cap and the total-bytes hard cap independently — the
// total is not derived from the per-attachment cap times the count limit,
// since those bound two different things.
func (s *NotificationService) buildContent(req domain.ContentRequest) (domain.Content, error) {
	if len(req.Attachments) > s.maxAttachments {
		return domain.Content{}, domain.ErrPayloadTooLarge
	}

	attachments := make([]domain.Attachment, len(req.Attachments))
	var total int64
	for i, a := range req.Attachments {
		raw, err := base64.StdEncoding.DecodeString(a.FileBytesB64)
		if err != nil {
			return domain.Content{}, fmt.Errorf("attachment %d: invalid base64: %w", i, err)
		}
		size := int64(len(raw))
		if size > s.maxAttachmentBytes {
			return domain.Content{}, domain.ErrAttachmentTooBig
		}
		total += size
		attachments[i] = domain.Attachment{
			FileName:    a.FileName,
			FileBytes:   raw,
			AttachOrder: a.AttachOrder,
			ContentSize: size,
		}
	}
	if total > s.maxTotalAttachmentBytes {
		return domain.Content{}, domain.ErrPayloadTooLarge
	}

	return domain.Content{
		Subject:     req.Subject,
		Body:        req.Body,
		IsHTML:      req.IsHTML,
		Attachments: attachments,
	}, nil
}

func (s *NotificationService) buildNotification(
	req domain.NotificationRequest,
	content domain.Content,
	ownerSub string,
	idempotencyKey string,
	payloadHash string,
	batchID *string,
) *domain.Notification {
	now := time.Now().UTC()
	status := domain.StatusPending
	if req.ScheduledAt != nil && req.ScheduledAt.After(now) {
		status = domain.StatusScheduled
	}

	n := &domain.Notification{
		ID:          uuid.New().String(),
		BatchID:     batchID,
		Recipients:  req.SplitRecipients(),
		RequestBy:   req.RequestBy,
		RequestDate: now,
		Type:        req.InferredType(),
		Status:      status,
		Content:     content,
		ScheduledAt: req.ScheduledAt,
		OwnerSub:    ownerSub,
		PayloadHash: &payloadHash,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	if idempotencyKey != "" {
		n.IdempotencyKey = &idempotencyKey
	}

	return n
}

// publish puts the notification onto the dispatch bus. A publish failure
// is logged rather than returned: the notification is already durably
// PENDING in the store, so the sweeper's orphaned-PENDING scan (§5) will
// republish it on its own schedule even if this publish is lost.
func (s *NotificationService) publish(ctx context.Context, n *domain.Notification) {
	env := bus.Envelope{
		Schema:     bus.SchemaDispatchV1,
		ID:         n.ID,
		Attempt:    n.Attempt,
		EnqueuedAt: time.Now().UTC(),
	}
	if err := s.pub.Publish(ctx, env); err != nil {
		s.logger.Warn("failed to publish notification, relying on retry sweep",
			zap.String("id", n.ID), zap.Error(err))
	}
}

// hashPayload derives a stable fingerprint of the request body, used to
// detect an idempotency key reused with a different payload.
func hashPayload(req domain.NotificationRequest) string {
	h := sha256.New()
	h.Write([]byte(req.Recipients))
	h.Write([]byte(req.RequestBy))
	h.Write([]byte(req.Type))
	h.Write([]byte(req.Content.Subject))
	h.Write([]byte(req.Content.Body))
	for _, a := range req.Content.Attachments {
		h.Write([]byte(a.FileName))
		h.Write([]byte(a.FileBytesB64))
	}
	return hex.EncodeToString(h.Sum(nil))
}
