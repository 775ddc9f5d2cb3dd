package repository_test

import (
	"context"
	"testing"
	"time"

	"github.com/notifyhub/notify-core/internal/domain"
	"github.com/notifyhub/notify-core/internal/repository"
)

func newPendingNotification(id string) *domain.Notification {
	return &domain.Notification{
		ID:          id,
		Recipients:  []string{"jane@example.com"},
		RequestBy:   "strr-service",
		RequestDate: time.Now().UTC(),
		Type:        domain.TypeEmail,
		Status:      domain.StatusPending,
		Content:     domain.Content{Subject: "hi", Body: "hello"},
	}
}

func TestMockRepository_ClaimForDispatch_SecondClaimFailsWhileLeased(t *testing.T) {
	repo := repository.NewMockNotificationRepository()
	ctx := context.Background()
	n := newPendingNotification("n1")
	if err := repo.Create(ctx, n); err != nil {
		t.Fatalf("create: %v", err)
	}

	if _, err := repo.ClaimForDispatch(ctx, "n1", "lease-1", time.Minute); err != nil {
		t.Fatalf("first claim: %v", err)
	}

	_, err := repo.ClaimForDispatch(ctx, "n1", "lease-2", time.Minute)
	if err != domain.ErrAlreadyClaimed {
		t.Fatalf("expected ErrAlreadyClaimed, got %v", err)
	}
}

func TestMockRepository_ClaimForDispatch_ReclaimableAfterLeaseExpiry(t *testing.T) {
	repo := repository.NewMockNotificationRepository()
	ctx := context.Background()
	n := newPendingNotification("n2")
	if err := repo.Create(ctx, n); err != nil {
		t.Fatalf("create: %v", err)
	}

	if _, err := repo.ClaimForDispatch(ctx, "n2", "lease-1", -time.Second); err != nil {
		t.Fatalf("first claim: %v", err)
	}

	got, err := repo.ClaimForDispatch(ctx, "n2", "lease-2", time.Minute)
	if err != nil {
		t.Fatalf("expected reclaim to succeed after lease expiry, got %v", err)
	}
	if *got.LeaseToken != "lease-2" {
		t.Fatalf("expected lease-2, got %s", *got.LeaseToken)
	}
}

func TestMockRepository_MarkDelivered_AppendsHistoryAndClearsLease(t *testing.T) {
	repo := repository.NewMockNotificationRepository()
	ctx := context.Background()
	n := newPendingNotification("n3")
	_ = repo.Create(ctx, n)
	_, _ = repo.ClaimForDispatch(ctx, "n3", "lease-1", time.Minute)

	if err := repo.MarkDelivered(ctx, "n3", domain.ProviderGCNotifyEmail, "resp-1", time.Now().UTC()); err != nil {
		t.Fatalf("mark delivered: %v", err)
	}

	got, err := repo.Load(ctx, "n3")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got.Status != domain.StatusDelivered {
		t.Fatalf("expected DELIVERED, got %s", got.Status)
	}
	if got.LeaseToken != nil {
		t.Fatal("expected lease to be cleared")
	}
	if len(got.History) != 1 || got.History[0].StatusCode != domain.HistoryDelivered {
		t.Fatalf("expected one DELIVERED history entry, got %+v", got.History)
	}
}

func TestMockRepository_RescheduleRetry_ReturnsToPendingWithIncrementedAttempt(t *testing.T) {
	repo := repository.NewMockNotificationRepository()
	ctx := context.Background()
	n := newPendingNotification("n4")
	_ = repo.Create(ctx, n)
	_, _ = repo.ClaimForDispatch(ctx, "n4", "lease-1", time.Minute)

	nextRetry := time.Now().UTC().Add(30 * time.Second)
	if err := repo.RescheduleRetry(ctx, "n4", domain.ProviderGCNotifyEmail, "timeout", 1, nextRetry); err != nil {
		t.Fatalf("reschedule: %v", err)
	}

	got, _ := repo.Load(ctx, "n4")
	if got.Status != domain.StatusPending {
		t.Fatalf("expected PENDING, got %s", got.Status)
	}
	if got.Attempt != 1 {
		t.Fatalf("expected attempt=1, got %d", got.Attempt)
	}
	if got.NextRetryAt == nil || !got.NextRetryAt.Equal(nextRetry) {
		t.Fatalf("expected NextRetryAt=%v, got %v", nextRetry, got.NextRetryAt)
	}
}

func TestMockRepository_List_FiltersBySearchAndOrdersDeterministically(t *testing.T) {
	repo := repository.NewMockNotificationRepository()
	ctx := context.Background()

	older := newPendingNotification("n7")
	older.RequestDate = time.Now().UTC().Add(-time.Hour)
	older.Content.Subject = "quarterly report"
	_ = repo.Create(ctx, older)

	newer := newPendingNotification("n8")
	newer.RequestDate = time.Now().UTC()
	newer.Recipients = []string{"report-team@example.com"}
	_ = repo.Create(ctx, newer)

	unrelated := newPendingNotification("n9")
	unrelated.Content.Subject = "welcome aboard"
	_ = repo.Create(ctx, unrelated)

	search := "report"
	got, total, err := repo.List(ctx, domain.ListFilter{Search: &search, Page: 1, Limit: 10})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if total != 2 {
		t.Fatalf("expected 2 matches, got %d", total)
	}
	if got[0].ID != "n8" || got[1].ID != "n7" {
		t.Fatalf("expected newest-first order [n8 n7], got [%s %s]", got[0].ID, got[1].ID)
	}
}

func TestMockRepository_GetByIdempotencyKey_ConflictOnCreate(t *testing.T) {
	repo := repository.NewMockNotificationRepository()
	ctx := context.Background()

	key := "idem-1"
	n1 := newPendingNotification("n5")
	n1.IdempotencyKey = &key
	if err := repo.Create(ctx, n1); err != nil {
		t.Fatalf("create n1: %v", err)
	}

	n2 := newPendingNotification("n6")
	n2.IdempotencyKey = &key
	if err := repo.Create(ctx, n2); err != domain.ErrConflict {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
}
