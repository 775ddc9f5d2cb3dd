package worker

import (
	"context"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/notifyhub/notify-core/internal/bus"
	"github.com/notifyhub/notify-core/internal/domain"
	"github.com/notifyhub/notify-core/internal/repository"
)

type recordingPublisher struct {
	mu  sync.Mutex
	ids []string
}

func (p *recordingPublisher) Publish(_ context.Context, env bus.Envelope) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ids = append(p.ids, env.ID)
	return nil
}

func (p *recordingPublisher) published() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.ids))
	copy(out, p.ids)
	return out
}

func TestSweeper_ReleasesExpiredLeaseAndRepublishes(t *testing.T) {
	repo := repository.NewMockNotificationRepository()
	ctx := context.Background()

	mustCreate(t, repo, "leased-1")
	if _, err := repo.ClaimForDispatch(ctx, "leased-1", "worker-a", -time.Minute); err != nil {
		t.Fatalf("claim: %v", err)
	}

	pub := &recordingPublisher{}
	sw := NewSweeperWorker(repo, pub, time.Minute, time.Hour, zap.NewNop())
	sw.sweep(ctx)

	got, _ := repo.Load(ctx, "leased-1")
	if got.Status != domain.StatusPending {
		t.Fatalf("expected PENDING after sweep, got %s", got.Status)
	}
	if got.LeaseToken != nil {
		t.Fatal("expected lease token cleared")
	}
	if ids := pub.published(); len(ids) != 1 || ids[0] != "leased-1" {
		t.Fatalf("expected republish of leased-1, got %v", ids)
	}
}

func TestSweeper_RepublishesOrphanedPending(t *testing.T) {
	repo := repository.NewMockNotificationRepository()
	ctx := context.Background()

	mustCreate(t, repo, "orphan-1")
	n, _ := repo.Load(ctx, "orphan-1")
	n.UpdatedAt = time.Now().UTC().Add(-time.Hour)
	_ = repo.Create(ctx, n)

	pub := &recordingPublisher{}
	sw := NewSweeperWorker(repo, pub, time.Minute, time.Minute, zap.NewNop())
	sw.sweep(ctx)

	if ids := pub.published(); len(ids) != 1 || ids[0] != "orphan-1" {
		t.Fatalf("expected republish of orphan-1, got %v", ids)
	}
}

func TestSweeper_LeavesFreshPendingAlone(t *testing.T) {
	repo := repository.NewMockNotificationRepository()
	ctx := context.Background()

	now := time.Now().UTC()
	if err := repo.Create(ctx, &domain.Notification{
		ID: "fresh-1", Recipients: []string{"jane@example.com"}, RequestBy: "strr-service",
		RequestDate: now, Type: domain.TypeEmail, Status: domain.StatusPending,
		Content: domain.Content{Subject: "hi", Body: "hello"},
		UpdatedAt: now,
	}); err != nil {
		t.Fatalf("create: %v", err)
	}

	pub := &recordingPublisher{}
	sw := NewSweeperWorker(repo, pub, time.Minute, time.Hour, zap.NewNop())
	sw.sweep(ctx)

	if ids := pub.published(); len(ids) != 0 {
		t.Fatalf("expected no republish of a fresh pending row, got %v", ids)
	}
}
