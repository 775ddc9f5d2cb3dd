package repository

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/notifyhub/notify-core/internal/domain"
)

// MockNotificationRepository is a hand-written, in-memory implementation of
// NotificationRepository used in unit tests. No mock-generation library needed.
type MockNotificationRepository struct {
	mu            sync.RWMutex
	notifications map[string]*domain.Notification
	batches       map[string]*domain.Batch

	// Optional error overrides — set in tests to simulate failure paths.
	CreateErr              error
	LoadErr                error
	GetByIdempotencyKeyErr error
}

func NewMockNotificationRepository() *MockNotificationRepository {
	return &MockNotificationRepository{
		notifications: make(map[string]*domain.Notification),
		batches:       make(map[string]*domain.Batch),
	}
}

func (m *MockNotificationRepository) Create(_ context.Context, n *domain.Notification) error {
	if m.CreateErr != nil {
		return m.CreateErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if n.IdempotencyKey != nil {
		for _, existing := range m.notifications {
			if existing.IdempotencyKey != nil && *existing.IdempotencyKey == *n.IdempotencyKey {
				return domain.ErrConflict
			}
		}
	}
	clone := *n
	m.notifications[n.ID] = &clone
	return nil
}

func (m *MockNotificationRepository) Load(_ context.Context, id string) (*domain.Notification, error) {
	if m.LoadErr != nil {
		return nil, m.LoadErr
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	n, ok := m.notifications[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	clone := *n
	return &clone, nil
}

func (m *MockNotificationRepository) GetByIdempotencyKey(_ context.Context, key string) (*domain.Notification, error) {
	if m.GetByIdempotencyKeyErr != nil {
		return nil, m.GetByIdempotencyKeyErr
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, n := range m.notifications {
		if n.IdempotencyKey != nil && *n.IdempotencyKey == key {
			clone := *n
			return &clone, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (m *MockNotificationRepository) List(_ context.Context, f domain.ListFilter) ([]*domain.Notification, int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	result := make([]*domain.Notification, 0, len(m.notifications))
	for _, n := range m.notifications {
		if f.Status != nil && n.Status != *f.Status {
			continue
		}
		if f.RequestBy != nil && n.RequestBy != *f.RequestBy {
			continue
		}
		if f.Type != nil && n.Type != *f.Type {
			continue
		}
		if f.SentFrom != nil && (n.SentDate == nil || n.SentDate.Before(*f.SentFrom)) {
			continue
		}
		if f.SentTo != nil && (n.SentDate == nil || n.SentDate.After(*f.SentTo)) {
			continue
		}
		if f.Search != nil && *f.Search != "" && !matchesSearch(n, *f.Search) {
			continue
		}
		clone := *n
		result = append(result, &clone)
	}
	// Matches the Postgres repository's deterministic ORDER BY
	// (request_date DESC, id DESC); map iteration order is otherwise random.
	sort.Slice(result, func(i, j int) bool {
		if !result[i].RequestDate.Equal(result[j].RequestDate) {
			return result[i].RequestDate.After(result[j].RequestDate)
		}
		return result[i].ID > result[j].ID
	})

	total := len(result)
	limit := f.Limit
	if limit <= 0 {
		limit = 50
	}
	offset := (f.Page - 1) * limit
	if offset < 0 || offset >= total {
		return []*domain.Notification{}, total, nil
	}
	end := offset + limit
	if end > total {
		end = total
	}
	return result[offset:end], total, nil
}

// matchesSearch mirrors the Postgres repository's ILIKE-on-recipients-or-subject
// text match so list filtering behaves the same against the mock in tests.
func matchesSearch(n *domain.Notification, term string) bool {
	term = strings.ToLower(term)
	if strings.Contains(strings.ToLower(n.Content.Subject), term) {
		return true
	}
	for _, r := range n.Recipients {
		if strings.Contains(strings.ToLower(r), term) {
			return true
		}
	}
	return false
}

func (m *MockNotificationRepository) ClaimForDispatch(_ context.Context, id, leaseToken string, leaseDuration time.Duration) (*domain.Notification, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n, ok := m.notifications[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	now := time.Now().UTC()
	claimable := n.Status == domain.StatusPending ||
		(n.Status == domain.StatusForwarded && n.LeaseExpiresAt != nil && n.LeaseExpiresAt.Before(now))
	if !claimable {
		return nil, domain.ErrAlreadyClaimed
	}
	n.Status = domain.StatusForwarded
	n.LeaseToken = &leaseToken
	expiresAt := now.Add(leaseDuration)
	n.LeaseExpiresAt = &expiresAt
	clone := *n
	return &clone, nil
}

func (m *MockNotificationRepository) ReleaseLease(_ context.Context, id, leaseToken string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	n, ok := m.notifications[id]
	if !ok || n.LeaseToken == nil || *n.LeaseToken != leaseToken {
		return nil
	}
	n.Status = domain.StatusPending
	n.LeaseToken = nil
	n.LeaseExpiresAt = nil
	return nil
}

func (m *MockNotificationRepository) MarkDelivered(_ context.Context, id string, providerCode domain.ProviderCode, responseID string, sentAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	n, ok := m.notifications[id]
	if !ok {
		return domain.ErrNotFound
	}
	n.Status = domain.StatusDelivered
	n.ProviderCode = &providerCode
	n.SentDate = &sentAt
	n.LeaseToken = nil
	n.LeaseExpiresAt = nil
	n.History = append(n.History, domain.History{
		SentDate: sentAt, StatusCode: domain.HistoryDelivered, ProviderCode: providerCode, ResponseID: &responseID,
	})
	return nil
}

func (m *MockNotificationRepository) MarkFailure(_ context.Context, id string, providerCode domain.ProviderCode, message string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	n, ok := m.notifications[id]
	if !ok {
		return domain.ErrNotFound
	}
	now := time.Now().UTC()
	n.Status = domain.StatusFailure
	n.ProviderCode = &providerCode
	n.SentDate = &now
	n.LeaseToken = nil
	n.LeaseExpiresAt = nil
	n.History = append(n.History, domain.History{
		SentDate: now, StatusCode: domain.HistoryFailure, ProviderCode: providerCode, Message: message,
	})
	return nil
}

func (m *MockNotificationRepository) RescheduleRetry(_ context.Context, id string, providerCode domain.ProviderCode, message string, nextAttempt int, availableAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	n, ok := m.notifications[id]
	if !ok {
		return domain.ErrNotFound
	}
	n.Status = domain.StatusPending
	n.Attempt = nextAttempt
	n.NextRetryAt = &availableAt
	n.LeaseToken = nil
	n.LeaseExpiresAt = nil
	n.History = append(n.History, domain.History{
		SentDate: time.Now().UTC(), StatusCode: domain.HistoryFailure, ProviderCode: providerCode, Message: message,
	})
	return nil
}

func (m *MockNotificationRepository) Cancel(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	n, ok := m.notifications[id]
	if !ok {
		return domain.ErrNotFound
	}
	n.Status = domain.StatusCancelled
	return nil
}

func (m *MockNotificationRepository) PromoteScheduled(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	n, ok := m.notifications[id]
	if !ok {
		return domain.ErrNotFound
	}
	if n.Status == domain.StatusScheduled {
		n.Status = domain.StatusPending
	}
	return nil
}

func (m *MockNotificationRepository) FindDueRetries(_ context.Context) ([]*domain.Notification, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*domain.Notification
	now := time.Now().UTC()
	for _, n := range m.notifications {
		if n.Status == domain.StatusPending && n.NextRetryAt != nil && !n.NextRetryAt.After(now) {
			clone := *n
			out = append(out, &clone)
		}
	}
	return out, nil
}

func (m *MockNotificationRepository) FindDueScheduled(_ context.Context) ([]*domain.Notification, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*domain.Notification
	now := time.Now().UTC()
	for _, n := range m.notifications {
		if n.Status == domain.StatusScheduled && n.ScheduledAt != nil && !n.ScheduledAt.After(now) {
			clone := *n
			out = append(out, &clone)
		}
	}
	return out, nil
}

func (m *MockNotificationRepository) FindOrphanedPending(_ context.Context, olderThan time.Duration) ([]*domain.Notification, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*domain.Notification
	cutoff := time.Now().UTC().Add(-olderThan)
	for _, n := range m.notifications {
		if n.Status == domain.StatusPending && n.NextRetryAt == nil && !n.UpdatedAt.After(cutoff) {
			clone := *n
			out = append(out, &clone)
		}
	}
	return out, nil
}

func (m *MockNotificationRepository) ReleaseExpiredLeases(_ context.Context) ([]*domain.Notification, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*domain.Notification
	now := time.Now().UTC()
	for _, n := range m.notifications {
		if n.Status == domain.StatusForwarded && n.LeaseExpiresAt != nil && n.LeaseExpiresAt.Before(now) {
			n.Status = domain.StatusPending
			n.LeaseToken = nil
			n.LeaseExpiresAt = nil
			n.UpdatedAt = now
			clone := *n
			out = append(out, &clone)
		}
	}
	return out, nil
}

func (m *MockNotificationRepository) CreateBatch(_ context.Context, batchID string, notifications []*domain.Notification) (*domain.Batch, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	batch := &domain.Batch{
		ID:        batchID,
		Total:     len(notifications),
		Pending:   len(notifications),
		CreatedAt: time.Now().UTC(),
		UpdatedAt: time.Now().UTC(),
	}
	m.batches[batchID] = batch
	for _, n := range notifications {
		clone := *n
		m.notifications[n.ID] = &clone
	}
	return batch, nil
}

func (m *MockNotificationRepository) GetBatch(_ context.Context, batchID string) (*domain.Batch, []*domain.Notification, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	b, ok := m.batches[batchID]
	if !ok {
		return nil, nil, domain.ErrNotFound
	}
	var notifications []*domain.Notification
	for _, n := range m.notifications {
		if n.BatchID != nil && *n.BatchID == batchID {
			clone := *n
			notifications = append(notifications, &clone)
		}
	}
	batchClone := *b
	return &batchClone, notifications, nil
}

func (m *MockNotificationRepository) UpdateBatchCounts(_ context.Context, _ string) error {
	return nil
}
