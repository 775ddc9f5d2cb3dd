package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/notifyhub/notify-core/internal/domain"
)

type pgNotificationRepository struct {
	pool *pgxpool.Pool
}

// NewPgNotificationRepository returns a NotificationRepository backed by PostgreSQL.
func NewPgNotificationRepository(pool *pgxpool.Pool) NotificationRepository {
	return &pgNotificationRepository{pool: pool}
}

func (r *pgNotificationRepository) Create(ctx context.Context, n *domain.Notification) error {
	contentJSON, attachmentsJSON, err := marshalContent(n.Content)
	if err != nil {
		return err
	}

	_, err = r.pool.Exec(ctx, `
		INSERT INTO notifications
			(id, batch_id, recipients, request_by, request_date, type, status,
			 provider_code, content, attachments, attempt, idempotency_key, payload_hash,
			 scheduled_at, next_retry_at, owner_sub, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18)`,
		n.ID, n.BatchID, n.Recipients, n.RequestBy, n.RequestDate, n.Type, n.Status,
		n.ProviderCode, contentJSON, attachmentsJSON, n.Attempt, n.IdempotencyKey, n.PayloadHash,
		n.ScheduledAt, n.NextRetryAt, n.OwnerSub, n.CreatedAt, n.UpdatedAt,
	)
	if err != nil {
		if strings.Contains(err.Error(), "idempotency_key") {
			return domain.ErrConflict
		}
		return fmt.Errorf("insert notification: %w", err)
	}
	return nil
}

func (r *pgNotificationRepository) Load(ctx context.Context, id string) (*domain.Notification, error) {
	row := r.pool.QueryRow(ctx, selectNotificationColumns+` FROM notifications WHERE id = $1`, id)
	n, err := scanNotification(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	n.History, err = r.loadHistory(ctx, id)
	return n, err
}

func (r *pgNotificationRepository) GetByIdempotencyKey(ctx context.Context, key string) (*domain.Notification, error) {
	row := r.pool.QueryRow(ctx, selectNotificationColumns+` FROM notifications WHERE idempotency_key = $1`, key)
	n, err := scanNotification(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	return n, err
}

func (r *pgNotificationRepository) List(ctx context.Context, f domain.ListFilter) ([]*domain.Notification, int, error) {
	where, args := buildListWhere(f)

	var total int
	if err := r.pool.QueryRow(ctx, "SELECT COUNT(*) FROM notifications"+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count notifications: %w", err)
	}

	limit, offset := f.Limit, (f.Page-1)*f.Limit
	if limit <= 0 {
		limit = 50
	}
	args = append(args, limit, offset)
	limitPlaceholder := fmt.Sprintf("$%d", len(args)-1)
	offsetPlaceholder := fmt.Sprintf("$%d", len(args))

	query := fmt.Sprintf(selectNotificationColumns+`
		FROM notifications%s
		ORDER BY request_date DESC, id DESC
		LIMIT %s OFFSET %s`, where, limitPlaceholder, offsetPlaceholder)

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list notifications: %w", err)
	}
	defer rows.Close()

	notifications, err := scanNotifications(rows)
	return notifications, total, err
}

// ClaimForDispatch is the single statement driving C4's lease: it matches
// a row that is either freshly PENDING or whose previous lease has
// expired, and atomically takes ownership in the same UPDATE so two
// dispatcher replicas can never both win the claim.
func (r *pgNotificationRepository) ClaimForDispatch(ctx context.Context, id, leaseToken string, leaseDuration time.Duration) (*domain.Notification, error) {
	expiresAt := time.Now().UTC().Add(leaseDuration)
	row := r.pool.QueryRow(ctx, `
		UPDATE notifications
		SET status = 'FORWARDED', lease_token = $1, lease_expires_at = $2, updated_at = NOW()
		WHERE id = $3
		  AND (status = 'PENDING' OR (status = 'FORWARDED' AND lease_expires_at < NOW()))
		RETURNING `+notificationColumnList, leaseToken, expiresAt, id)

	n, err := scanNotification(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrAlreadyClaimed
	}
	if err != nil {
		return nil, fmt.Errorf("claim for dispatch: %w", err)
	}
	n.History, err = r.loadHistory(ctx, id)
	return n, err
}

func (r *pgNotificationRepository) ReleaseLease(ctx context.Context, id, leaseToken string) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE notifications
		SET status = 'PENDING', lease_token = NULL, lease_expires_at = NULL, updated_at = NOW()
		WHERE id = $1 AND lease_token = $2`, id, leaseToken)
	return err
}

func (r *pgNotificationRepository) MarkDelivered(ctx context.Context, id string, providerCode domain.ProviderCode, responseID string, sentAt time.Time) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if _, err := tx.Exec(ctx, `
		UPDATE notifications
		SET status = 'DELIVERED', provider_code = $1, sent_date = $2,
		    lease_token = NULL, lease_expires_at = NULL, updated_at = NOW()
		WHERE id = $3`, providerCode, sentAt, id); err != nil {
		return fmt.Errorf("mark delivered: %w", err)
	}

	if err := r.appendHistory(ctx, tx, id, domain.History{
		SentDate: sentAt, StatusCode: domain.HistoryDelivered, ProviderCode: providerCode, ResponseID: &responseID,
	}); err != nil {
		return err
	}

	return tx.Commit(ctx)
}

func (r *pgNotificationRepository) MarkFailure(ctx context.Context, id string, providerCode domain.ProviderCode, message string) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	now := time.Now().UTC()
	if _, err := tx.Exec(ctx, `
		UPDATE notifications
		SET status = 'FAILURE', provider_code = $1, sent_date = $2, lease_token = NULL, lease_expires_at = NULL, updated_at = NOW()
		WHERE id = $3`, providerCode, now, id); err != nil {
		return fmt.Errorf("mark failure: %w", err)
	}

	if err := r.appendHistory(ctx, tx, id, domain.History{
		SentDate: now, StatusCode: domain.HistoryFailure, ProviderCode: providerCode, Message: message,
	}); err != nil {
		return err
	}

	return tx.Commit(ctx)
}

func (r *pgNotificationRepository) RescheduleRetry(ctx context.Context, id string, providerCode domain.ProviderCode, message string, nextAttempt int, availableAt time.Time) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if _, err := tx.Exec(ctx, `
		UPDATE notifications
		SET status = 'PENDING', attempt = $1, next_retry_at = $2,
		    lease_token = NULL, lease_expires_at = NULL, updated_at = NOW()
		WHERE id = $3`, nextAttempt, availableAt, id); err != nil {
		return fmt.Errorf("reschedule retry: %w", err)
	}

	if err := r.appendHistory(ctx, tx, id, domain.History{
		SentDate: time.Now().UTC(), StatusCode: domain.HistoryFailure, ProviderCode: providerCode, Message: message,
	}); err != nil {
		return err
	}

	return tx.Commit(ctx)
}

func (r *pgNotificationRepository) Cancel(ctx context.Context, id string) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE notifications SET status = 'CANCELLED', updated_at = NOW() WHERE id = $1`, id)
	return err
}

func (r *pgNotificationRepository) PromoteScheduled(ctx context.Context, id string) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE notifications SET status = 'PENDING', updated_at = NOW()
		WHERE id = $1 AND status = 'SCHEDULED'`, id)
	return err
}

func (r *pgNotificationRepository) FindDueScheduled(ctx context.Context) ([]*domain.Notification, error) {
	rows, err := r.pool.Query(ctx, selectNotificationColumns+`
		FROM notifications
		WHERE status = 'SCHEDULED' AND scheduled_at <= NOW()
		LIMIT 500`)
	if err != nil {
		return nil, fmt.Errorf("find due scheduled: %w", err)
	}
	defer rows.Close()
	return scanNotifications(rows)
}

func (r *pgNotificationRepository) FindDueRetries(ctx context.Context) ([]*domain.Notification, error) {
	rows, err := r.pool.Query(ctx, selectNotificationColumns+`
		FROM notifications
		WHERE status = 'PENDING' AND next_retry_at IS NOT NULL AND next_retry_at <= NOW()
		LIMIT 500`)
	if err != nil {
		return nil, fmt.Errorf("find due retries: %w", err)
	}
	defer rows.Close()
	return scanNotifications(rows)
}

// FindOrphanedPending catches inserts whose dispatch publish never landed:
// a PENDING row with no retry scheduled that has sat untouched past
// olderThan never had a live dispatch event behind it.
func (r *pgNotificationRepository) FindOrphanedPending(ctx context.Context, olderThan time.Duration) ([]*domain.Notification, error) {
	rows, err := r.pool.Query(ctx, selectNotificationColumns+`
		FROM notifications
		WHERE status = 'PENDING' AND next_retry_at IS NULL AND updated_at <= $1
		LIMIT 500`, time.Now().UTC().Add(-olderThan))
	if err != nil {
		return nil, fmt.Errorf("find orphaned pending: %w", err)
	}
	defer rows.Close()
	return scanNotifications(rows)
}

// ReleaseExpiredLeases re-admits every FORWARDED row whose lease has
// expired to PENDING in a single statement, gated on the same
// lease_expires_at condition ClaimForDispatch itself checks, so a worker
// that claims the row a moment later always wins over this bulk release.
func (r *pgNotificationRepository) ReleaseExpiredLeases(ctx context.Context) ([]*domain.Notification, error) {
	rows, err := r.pool.Query(ctx, `
		UPDATE notifications
		SET status = 'PENDING', lease_token = NULL, lease_expires_at = NULL, updated_at = NOW()
		WHERE status = 'FORWARDED' AND lease_expires_at < NOW()
		RETURNING `+notificationColumnList)
	if err != nil {
		return nil, fmt.Errorf("release expired leases: %w", err)
	}
	defer rows.Close()
	return scanNotifications(rows)
}

func (r *pgNotificationRepository) CreateBatch(ctx context.Context, batchID string, notifications []*domain.Notification) (*domain.Batch, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	now := time.Now().UTC()
	batch := &domain.Batch{ID: batchID, Total: len(notifications), Pending: len(notifications), CreatedAt: now, UpdatedAt: now}

	_, err = tx.Exec(ctx, `
		INSERT INTO batches (id, total, pending, delivered, failed, cancelled, created_at, updated_at)
		VALUES ($1,$2,$3,0,0,0,$4,$5)`, batch.ID, batch.Total, batch.Pending, now, now)
	if err != nil {
		return nil, fmt.Errorf("insert batch: %w", err)
	}

	for _, n := range notifications {
		contentJSON, attachmentsJSON, err := marshalContent(n.Content)
		if err != nil {
			return nil, err
		}
		_, err = tx.Exec(ctx, `
			INSERT INTO notifications
				(id, batch_id, recipients, request_by, request_date, type, status,
				 provider_code, content, attachments, attempt, idempotency_key, payload_hash,
				 scheduled_at, next_retry_at, owner_sub, created_at, updated_at)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18)`,
			n.ID, n.BatchID, n.Recipients, n.RequestBy, n.RequestDate, n.Type, n.Status,
			n.ProviderCode, contentJSON, attachmentsJSON, n.Attempt, n.IdempotencyKey, n.PayloadHash,
			n.ScheduledAt, n.NextRetryAt, n.OwnerSub, n.CreatedAt, n.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("insert batch notification: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit batch: %w", err)
	}
	return batch, nil
}

func (r *pgNotificationRepository) GetBatch(ctx context.Context, batchID string) (*domain.Batch, []*domain.Notification, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, total, pending, delivered, failed, cancelled, created_at, updated_at
		FROM batches WHERE id = $1`, batchID)

	var b domain.Batch
	err := row.Scan(&b.ID, &b.Total, &b.Pending, &b.Delivered, &b.Failed, &b.Cancelled, &b.CreatedAt, &b.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, nil, fmt.Errorf("get batch: %w", err)
	}

	rows, err := r.pool.Query(ctx, selectNotificationColumns+`
		FROM notifications WHERE batch_id = $1 ORDER BY request_date ASC`, batchID)
	if err != nil {
		return nil, nil, fmt.Errorf("get batch notifications: %w", err)
	}
	defer rows.Close()

	notifications, err := scanNotifications(rows)
	return &b, notifications, err
}

func (r *pgNotificationRepository) UpdateBatchCounts(ctx context.Context, batchID string) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE batches b
		SET
			pending   = (SELECT COUNT(*) FROM notifications WHERE batch_id = b.id AND status IN ('PENDING','FORWARDED','SCHEDULED')),
			delivered = (SELECT COUNT(*) FROM notifications WHERE batch_id = b.id AND status = 'DELIVERED'),
			failed    = (SELECT COUNT(*) FROM notifications WHERE batch_id = b.id AND status = 'FAILURE'),
			cancelled = (SELECT COUNT(*) FROM notifications WHERE batch_id = b.id AND status = 'CANCELLED'),
			updated_at = NOW()
		WHERE id = $1`, batchID)
	return err
}

func (r *pgNotificationRepository) appendHistory(ctx context.Context, tx pgx.Tx, id string, h domain.History) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO notification_history (notification_id, sent_date, status_code, provider_code, response_id, message)
		VALUES ($1,$2,$3,$4,$5,$6)`, id, h.SentDate, h.StatusCode, h.ProviderCode, h.ResponseID, h.Message)
	if err != nil {
		return fmt.Errorf("insert history: %w", err)
	}
	return nil
}

func (r *pgNotificationRepository) loadHistory(ctx context.Context, id string) ([]domain.History, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT sent_date, status_code, provider_code, response_id, message
		FROM notification_history WHERE notification_id = $1 ORDER BY sent_date ASC`, id)
	if err != nil {
		return nil, fmt.Errorf("load history: %w", err)
	}
	defer rows.Close()

	var out []domain.History
	for rows.Next() {
		var h domain.History
		if err := rows.Scan(&h.SentDate, &h.StatusCode, &h.ProviderCode, &h.ResponseID, &h.Message); err != nil {
			return nil, err
		}
		out = append(out, h)
	}
	return out, rows.Err()
}

// ---- helpers ----

const notificationColumnList = `id, batch_id, recipients, request_by, request_date, sent_date, type, status,
	       provider_code, content, attachments, attempt, idempotency_key, payload_hash,
	       scheduled_at, next_retry_at, owner_sub, created_at, updated_at`

const selectNotificationColumns = `SELECT ` + notificationColumnList

func marshalContent(c domain.Content) (json.RawMessage, json.RawMessage, error) {
	type contentOnly struct {
		Subject string `json:"subject,omitempty"`
		Body    string `json:"body"`
		IsHTML  bool   `json:"isHtml"`
	}
	contentJSON, err := json.Marshal(contentOnly{Subject: c.Subject, Body: c.Body, IsHTML: c.IsHTML})
	if err != nil {
		return nil, nil, fmt.Errorf("marshal content: %w", err)
	}
	attachmentsJSON, err := json.Marshal(c.Attachments)
	if err != nil {
		return nil, nil, fmt.Errorf("marshal attachments: %w", err)
	}
	return contentJSON, attachmentsJSON, nil
}

// scanNotification reads a single notification row (without History, which
// is loaded separately from notification_history) from any pgx row type.
func scanNotification(row pgx.Row) (*domain.Notification, error) {
	var n domain.Notification
	var contentJSON, attachmentsJSON []byte

	err := row.Scan(
		&n.ID, &n.BatchID, &n.Recipients, &n.RequestBy, &n.RequestDate, &n.SentDate, &n.Type, &n.Status,
		&n.ProviderCode, &contentJSON, &attachmentsJSON, &n.Attempt, &n.IdempotencyKey, &n.PayloadHash,
		&n.ScheduledAt, &n.NextRetryAt, &n.OwnerSub, &n.CreatedAt, &n.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	var content struct {
		Subject string `json:"subject,omitempty"`
		Body    string `json:"body"`
		IsHTML  bool   `json:"isHtml"`
	}
	if len(contentJSON) > 0 {
		if err := json.Unmarshal(contentJSON, &content); err != nil {
			return nil, fmt.Errorf("unmarshal content: %w", err)
		}
	}
	n.Content.Subject, n.Content.Body, n.Content.IsHTML = content.Subject, content.Body, content.IsHTML

	if len(attachmentsJSON) > 0 {
		if err := json.Unmarshal(attachmentsJSON, &n.Content.Attachments); err != nil {
			return nil, fmt.Errorf("unmarshal attachments: %w", err)
		}
	}

	return &n, nil
}

func scanNotifications(rows pgx.Rows) ([]*domain.Notification, error) {
	var result []*domain.Notification
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, n)
	}
	return result, rows.Err()
}

// buildListWhere builds a parameterised WHERE clause from a ListFilter.
func buildListWhere(f domain.ListFilter) (string, []any) {
	var conditions []string
	var args []any

	add := func(condition string, val any) {
		args = append(args, val)
		conditions = append(conditions, fmt.Sprintf(condition, len(args)))
	}

	if f.Status != nil {
		add("status = $%d", *f.Status)
	}
	if f.RequestBy != nil {
		add("request_by = $%d", *f.RequestBy)
	}
	if f.Type != nil {
		add("type = $%d", *f.Type)
	}
	if f.SentFrom != nil {
		add("sent_date >= $%d", *f.SentFrom)
	}
	if f.SentTo != nil {
		add("sent_date <= $%d", *f.SentTo)
	}
	if f.Search != nil && *f.Search != "" {
		// Matches any recipient or the subject line; both live differently
		// (a TEXT[] column and a JSONB field) so each needs its own ILIKE,
		// sharing the single placeholder.
		args = append(args, "%"+*f.Search+"%")
		n := len(args)
		conditions = append(conditions, fmt.Sprintf(
			`(array_to_string(recipients, ',') ILIKE $%d OR content->>'subject' ILIKE $%d)`, n, n))
	}

	if len(conditions) == 0 {
		return "", args
	}
	return " WHERE " + strings.Join(conditions, " AND "), args
}
