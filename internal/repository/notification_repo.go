package repository

import (
	"context"
	"time"

	"github.com/notifyhub/notify-core/internal/domain"
)

// NotificationRepository defines all persistence operations for
// notifications. The pgx implementation is in pg_notification_repo.go.
// Tests use a hand-written mock (mock_notification_repo.go).
type NotificationRepository interface {
	Create(ctx context.Context, n *domain.Notification) error
	Load(ctx context.Context, id string) (*domain.Notification, error)
	GetByIdempotencyKey(ctx context.Context, key string) (*domain.Notification, error)
	List(ctx context.Context, filter domain.ListFilter) ([]*domain.Notification, int, error)

	// ClaimForDispatch atomically transitions a PENDING notification (or
	// one whose previous lease has expired) to FORWARDED, recording the
	// given lease token and expiry. It returns domain.ErrAlreadyClaimed if
	// no row matched.
	ClaimForDispatch(ctx context.Context, id, leaseToken string, leaseDuration time.Duration) (*domain.Notification, error)
	// ReleaseLease clears the lease fields and returns the notification to
	// PENDING so it can be claimed again, used when a worker gives up an
	// attempt without completing it.
	ReleaseLease(ctx context.Context, id, leaseToken string) error

	// MarkDelivered appends a DELIVERED history entry and transitions the
	// notification to the terminal DELIVERED status.
	MarkDelivered(ctx context.Context, id string, providerCode domain.ProviderCode, responseID string, sentAt time.Time) error
	// MarkFailure appends a FAILURE history entry and transitions the
	// notification to the terminal FAILURE status.
	MarkFailure(ctx context.Context, id string, providerCode domain.ProviderCode, message string) error
	// RescheduleRetry appends a FAILURE history entry, sets Attempt to
	// nextAttempt, and returns the notification to PENDING so it is re-claimable after
	// availableAt.
	RescheduleRetry(ctx context.Context, id string, providerCode domain.ProviderCode, message string, nextAttempt int, availableAt time.Time) error

	Cancel(ctx context.Context, id string) error

	// PromoteScheduled transitions a SCHEDULED notification to PENDING,
	// making it visible to ClaimForDispatch.
	PromoteScheduled(ctx context.Context, id string) error

	// FindDueScheduled returns SCHEDULED notifications whose ScheduledAt
	// has passed, for the scheduler worker to promote to PENDING and
	// publish.
	FindDueScheduled(ctx context.Context) ([]*domain.Notification, error)
	// FindDueRetries returns PENDING notifications whose NextRetryAt has
	// passed, for the retry worker to republish onto the bus.
	FindDueRetries(ctx context.Context) ([]*domain.Notification, error)

	// FindOrphanedPending returns PENDING notifications with no scheduled
	// retry that have not been touched in longer than olderThan — the
	// trace of an insert whose dispatch publish never landed (§4.1,
	// §5 sweeper). The sweeper republishes these onto the bus.
	FindOrphanedPending(ctx context.Context, olderThan time.Duration) ([]*domain.Notification, error)
	// ReleaseExpiredLeases atomically returns every FORWARDED notification
	// whose lease has expired back to PENDING, clearing the lease fields,
	// and returns the affected notifications so the sweeper can republish
	// them. Gated on lease_expires_at so it never races an active
	// ClaimForDispatch, which matches the same condition.
	ReleaseExpiredLeases(ctx context.Context) ([]*domain.Notification, error)

	CreateBatch(ctx context.Context, batchID string, notifications []*domain.Notification) (*domain.Batch, error)
	GetBatch(ctx context.Context, batchID string) (*domain.Batch, []*domain.Notification, error)
	UpdateBatchCounts(ctx context.Context, batchID string) error
}
