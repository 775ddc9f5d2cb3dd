package provider_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/notifyhub/notify-core/internal/domain"
	"github.com/notifyhub/notify-core/internal/provider"
	"github.com/notifyhub/notify-core/internal/retry"
)

func TestGCNotifyProvider_Send_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
		_ = json.NewEncoder(w).Encode(map[string]string{"notificationId": "abc-123", "status": "accepted"})
	}))
	defer srv.Close()

	p := provider.NewGCNotifyProvider(domain.ProviderGCNotifyEmail, srv.URL, "test-key", 2*time.Second, 4)
	res, err := p.Send(context.Background(), provider.Message{
		NotificationID: "n1",
		Recipients:     []string{"jane@example.com"},
		Subject:        "hi",
		Body:           "hello",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.ResponseID != "abc-123" {
		t.Fatalf("expected abc-123, got %s", res.ResponseID)
	}
}

func TestGCNotifyProvider_Send_RateLimitedIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	p := provider.NewGCNotifyProvider(domain.ProviderGCNotifySMS, srv.URL, "test-key", 2*time.Second, 4)
	_, err := p.Send(context.Background(), provider.Message{Recipients: []string{"+15145551234"}, Body: "hi"})
	if err == nil {
		t.Fatal("expected error")
	}
	if got := retry.Classify(err); got != retry.Retry {
		t.Fatalf("expected Retry classification, got %s", got)
	}
}

func TestGCNotifyProvider_Send_BadRequestIsFatal(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	p := provider.NewGCNotifyProvider(domain.ProviderGCNotifyEmail, srv.URL, "test-key", 2*time.Second, 4)
	_, err := p.Send(context.Background(), provider.Message{Recipients: []string{"jane@example.com"}, Body: "hi"})
	if err == nil {
		t.Fatal("expected error")
	}
	if got := retry.Classify(err); got != retry.Fatal {
		t.Fatalf("expected Fatal classification, got %s", got)
	}
}

func TestGCNotifyProvider_Send_EmailRejectsHTML(t *testing.T) {
	p := provider.NewGCNotifyProvider(domain.ProviderGCNotifyEmail, "http://example.invalid", "k", time.Second, 1)
	_, err := p.Send(context.Background(), provider.Message{Recipients: []string{"jane@example.com"}, Body: "<p>hi</p>", IsHTML: true})
	if err == nil {
		t.Fatal("expected error for HTML body")
	}
	if got := retry.Classify(err); got != retry.Fatal {
		t.Fatalf("expected Fatal classification, got %s", got)
	}
}

func TestGCNotifyProvider_Send_EmailRejectsAttachments(t *testing.T) {
	p := provider.NewGCNotifyProvider(domain.ProviderGCNotifyEmail, "http://example.invalid", "k", time.Second, 1)
	_, err := p.Send(context.Background(), provider.Message{
		Recipients:  []string{"jane@example.com"},
		Body:        "hi",
		Attachments: []domain.Attachment{{FileName: "a.pdf", ContentSize: 10}},
	})
	if err == nil {
		t.Fatal("expected error for attachments")
	}
	if got := retry.Classify(err); got != retry.Fatal {
		t.Fatalf("expected Fatal classification, got %s", got)
	}
}

func TestGCNotifyProvider_Send_SMSCallsOncePerRecipient(t *testing.T) {
	var calls int
	var recipientsSeen [][]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		var req struct {
			Recipients []string `json:"recipients"`
		}
		_ = json.NewDecoder(r.Body).Decode(&req)
		recipientsSeen = append(recipientsSeen, req.Recipients)
		w.WriteHeader(http.StatusAccepted)
		_ = json.NewEncoder(w).Encode(map[string]string{"notificationId": "sms-" + req.Recipients[0]})
	}))
	defer srv.Close()

	p := provider.NewGCNotifyProvider(domain.ProviderGCNotifySMS, srv.URL, "test-key", 2*time.Second, 4)
	res, err := p.Send(context.Background(), provider.Message{
		Recipients: []string{"+15145551234", "+15145555678"},
		Body:       "hi",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 2 {
		t.Fatalf("expected 2 calls, one per recipient, got %d", calls)
	}
	for _, recipients := range recipientsSeen {
		if len(recipients) != 1 {
			t.Fatalf("expected exactly one recipient per call, got %v", recipients)
		}
	}
	if res.ResponseID == "" {
		t.Fatal("expected a non-empty combined response id")
	}
}

func TestGCNotifyProvider_Send_SMSFailsFastOnFirstPermanentError(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	p := provider.NewGCNotifyProvider(domain.ProviderGCNotifySMS, srv.URL, "test-key", 2*time.Second, 4)
	_, err := p.Send(context.Background(), provider.Message{
		Recipients: []string{"+15145551234", "+15145555678"},
		Body:       "hi",
	})
	if err == nil {
		t.Fatal("expected error")
	}
	if calls != 1 {
		t.Fatalf("expected to stop after the first permanent error, got %d calls", calls)
	}
}

func TestRegistry_Resolve(t *testing.T) {
	p := provider.NewGCNotifyProvider(domain.ProviderGCNotifyEmail, "http://example.invalid", "k", time.Second, 1)
	reg := provider.NewRegistry(p)

	got, ok := reg.Resolve(domain.ProviderGCNotifyEmail)
	if !ok || got.Code() != domain.ProviderGCNotifyEmail {
		t.Fatalf("expected to resolve GC_NOTIFY_EMAIL provider")
	}

	_, ok = reg.Resolve(domain.ProviderHousing)
	if ok {
		t.Fatal("expected HOUSING to be unregistered")
	}
}
