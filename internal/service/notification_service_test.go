package service

import (
	"context"
	"encoding/base64"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/notifyhub/notify-core/internal/bus"
	"github.com/notifyhub/notify-core/internal/domain"
	"github.com/notifyhub/notify-core/internal/repository"
)

type fakePublisher struct {
	published []bus.Envelope
	err       error
}

func (f *fakePublisher) Publish(_ context.Context, env bus.Envelope) error {
	if f.err != nil {
		return f.err
	}
	f.published = append(f.published, env)
	return nil
}

func newTestService() (*NotificationService, *repository.MockNotificationRepository, *fakePublisher) {
	repo := repository.NewMockNotificationRepository()
	pub := &fakePublisher{}
	svc := NewNotificationService(repo, pub, 25*1024*1024, 10, 20971520, zap.NewNop())
	return svc, repo, pub
}

func validRequest() domain.NotificationRequest {
	return domain.NotificationRequest{
		Recipients: "jane@example.com",
		RequestBy:  "strr-service",
		Content:    domain.ContentRequest{Subject: "hi", Body: "hello"},
	}
}

func TestNotificationService_Create_PublishesAndPersists(t *testing.T) {
	svc, repo, pub := newTestService()

	n, dup, err := svc.Create(context.Background(), validRequest(), "user-1", "")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if dup {
		t.Fatal("expected new notification, not a duplicate")
	}
	if n.Status != domain.StatusPending {
		t.Fatalf("expected PENDING, got %s", n.Status)
	}
	if len(pub.published) != 1 {
		t.Fatalf("expected 1 publish, got %d", len(pub.published))
	}

	stored, err := repo.Load(context.Background(), n.ID)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if stored.OwnerSub != "user-1" {
		t.Fatalf("expected owner to be persisted, got %q", stored.OwnerSub)
	}
}

func TestNotificationService_Create_InvalidRequestRejected(t *testing.T) {
	svc, _, _ := newTestService()
	req := validRequest()
	req.Recipients = "not-an-address"

	_, _, err := svc.Create(context.Background(), req, "user-1", "")
	if err == nil {
		t.Fatal("expected validation error")
	}
}

func TestNotificationService_Create_ScheduledDoesNotPublish(t *testing.T) {
	svc, _, pub := newTestService()
	req := validRequest()
	future := time.Now().UTC().Add(time.Hour)
	req.ScheduledAt = &future

	n, _, err := svc.Create(context.Background(), req, "user-1", "")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if n.Status != domain.StatusScheduled {
		t.Fatalf("expected SCHEDULED, got %s", n.Status)
	}
	if len(pub.published) != 0 {
		t.Fatalf("expected no publish for scheduled notification, got %d", len(pub.published))
	}
}

func TestNotificationService_Create_IdempotentReplaySameKeyReturnsExisting(t *testing.T) {
	svc, _, pub := newTestService()
	req := validRequest()

	first, dup1, err := svc.Create(context.Background(), req, "user-1", "key-1")
	if err != nil {
		t.Fatalf("first create: %v", err)
	}
	if dup1 {
		t.Fatal("first call should not be a duplicate")
	}

	second, dup2, err := svc.Create(context.Background(), req, "user-1", "key-1")
	if err != nil {
		t.Fatalf("second create: %v", err)
	}
	if !dup2 {
		t.Fatal("expected duplicate on key replay")
	}
	if second.ID != first.ID {
		t.Fatal("expected same notification returned for replayed key")
	}
	if len(pub.published) != 1 {
		t.Fatalf("expected only the first create to publish, got %d", len(pub.published))
	}
}

func TestNotificationService_Create_IdempotencyKeyReusedWithDifferentPayloadConflicts(t *testing.T) {
	svc, _, _ := newTestService()
	req := validRequest()

	_, _, err := svc.Create(context.Background(), req, "user-1", "key-1")
	if err != nil {
		t.Fatalf("first create: %v", err)
	}

	req2 := validRequest()
	req2.Content.Body = "a different body"
	_, _, err = svc.Create(context.Background(), req2, "user-1", "key-1")
	if err != domain.ErrConflict {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
}

func TestNotificationService_Create_AttachmentOverPerFileLimitRejected(t *testing.T) {
	svc, _, _ := newTestService()
	svc.maxAttachmentBytes = 10

	req := validRequest()
	req.Content.Attachments = []domain.AttachmentRequest{
		{FileName: "big.bin", FileBytesB64: base64.StdEncoding.EncodeToString(make([]byte, 100))},
	}

	_, _, err := svc.Create(context.Background(), req, "user-1", "")
	if err != domain.ErrAttachmentTooBig {
		t.Fatalf("expected ErrAttachmentTooBig, got %v", err)
	}
}

func TestNotificationService_Create_TotalAttachmentBytesOverHardCapRejected(t *testing.T) {
	svc, _, _ := newTestService()
	svc.maxTotalAttachmentBytes = 100

	req := validRequest()
	req.Content.Attachments = []domain.AttachmentRequest{
		{FileName: "a.bin", FileBytesB64: base64.StdEncoding.EncodeToString(make([]byte, 60))},
		{FileName: "b.bin", FileBytesB64: base64.StdEncoding.EncodeToString(make([]byte, 60))},
	}

	// Each attachment is under the per-file limit, and the count is under
	// maxAttachments, but the sum (120) exceeds the independent hard cap.
	_, _, err := svc.Create(context.Background(), req, "user-1", "")
	if err != domain.ErrPayloadTooLarge {
		t.Fatalf("expected ErrPayloadTooLarge, got %v", err)
	}
}

func TestNotificationService_Cancel_PendingSucceeds(t *testing.T) {
	svc, repo, _ := newTestService()
	n, _, _ := svc.Create(context.Background(), validRequest(), "user-1", "")

	if err := svc.Cancel(context.Background(), n.ID); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	got, _ := repo.Load(context.Background(), n.ID)
	if got.Status != domain.StatusCancelled {
		t.Fatalf("expected CANCELLED, got %s", got.Status)
	}
}

func TestNotificationService_Cancel_ForwardedRejected(t *testing.T) {
	svc, repo, _ := newTestService()
	n, _, _ := svc.Create(context.Background(), validRequest(), "user-1", "")
	_, _ = repo.ClaimForDispatch(context.Background(), n.ID, "lease-1", time.Minute)

	err := svc.Cancel(context.Background(), n.ID)
	if err != domain.ErrNotCancellable {
		t.Fatalf("expected ErrNotCancellable, got %v", err)
	}
}

func TestNotificationService_Cancel_AlreadyTerminalRejected(t *testing.T) {
	svc, repo, _ := newTestService()
	n, _, _ := svc.Create(context.Background(), validRequest(), "user-1", "")
	_ = repo.Cancel(context.Background(), n.ID)

	err := svc.Cancel(context.Background(), n.ID)
	if err != domain.ErrAlreadyTerminal {
		t.Fatalf("expected ErrAlreadyTerminal, got %v", err)
	}
}

func TestNotificationService_Resend_FailureRepublishes(t *testing.T) {
	svc, repo, pub := newTestService()
	n, _, _ := svc.Create(context.Background(), validRequest(), "user-1", "")
	_ = repo.MarkFailure(context.Background(), n.ID, domain.ProviderGCNotifyEmail, "boom")

	resent, err := svc.Resend(context.Background(), n.ID)
	if err != nil {
		t.Fatalf("resend: %v", err)
	}
	if resent.Status != domain.StatusPending {
		t.Fatalf("expected PENDING after resend, got %s", resent.Status)
	}
	if len(pub.published) != 2 {
		t.Fatalf("expected 2 publishes (create + resend), got %d", len(pub.published))
	}
}

func TestNotificationService_CreateBatch_EmptyRejected(t *testing.T) {
	svc, _, _ := newTestService()
	_, err := svc.CreateBatch(context.Background(), "user-1", nil)
	if err != domain.ErrBatchEmpty {
		t.Fatalf("expected ErrBatchEmpty, got %v", err)
	}
}

func TestNotificationService_CreateBatch_PersistsAndPublishesEach(t *testing.T) {
	svc, _, pub := newTestService()
	reqs := []domain.NotificationRequest{validRequest(), validRequest()}

	batch, err := svc.CreateBatch(context.Background(), "user-1", reqs)
	if err != nil {
		t.Fatalf("create batch: %v", err)
	}
	if batch.Total != 2 {
		t.Fatalf("expected total=2, got %d", batch.Total)
	}
	if len(pub.published) != 2 {
		t.Fatalf("expected 2 publishes, got %d", len(pub.published))
	}
}
