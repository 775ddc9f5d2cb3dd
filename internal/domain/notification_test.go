package domain_test

import (
	"testing"

	"github.com/notifyhub/notify-core/internal/domain"
)

func validRequest() domain.NotificationRequest {
	return domain.NotificationRequest{
		Recipients: "jane@example.com",
		RequestBy:  "strr-service",
		Type:       domain.TypeEmail,
		Content: domain.ContentRequest{
			Subject: "Renewal due",
			Body:    "Your licence is due for renewal.",
		},
	}
}

func TestNotificationRequest_Validate(t *testing.T) {
	t.Run("valid request passes", func(t *testing.T) {
		r := validRequest()
		if err := r.Validate(); err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
	})

	t.Run("empty recipients rejected", func(t *testing.T) {
		r := validRequest()
		r.Recipients = "  ,  "
		if err := r.Validate(); err != domain.ErrNoRecipients {
			t.Fatalf("expected ErrNoRecipients, got %v", err)
		}
	})

	t.Run("malformed email rejected", func(t *testing.T) {
		r := validRequest()
		r.Recipients = "not-an-email"
		if err := r.Validate(); err != domain.ErrInvalidRecipient {
			t.Fatalf("expected ErrInvalidRecipient, got %v", err)
		}
	})

	t.Run("malformed phone rejected for TEXT", func(t *testing.T) {
		r := validRequest()
		r.Type = domain.TypeText
		r.Recipients = "555-1234"
		r.Content.Subject = ""
		if err := r.Validate(); err != domain.ErrInvalidRecipient {
			t.Fatalf("expected ErrInvalidRecipient, got %v", err)
		}
	})

	t.Run("valid E.164 phone accepted for TEXT", func(t *testing.T) {
		r := validRequest()
		r.Type = domain.TypeText
		r.Recipients = "+15145551234"
		r.Content.Subject = ""
		if err := r.Validate(); err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
	})

	t.Run("multiple comma-separated recipients all validated", func(t *testing.T) {
		r := validRequest()
		r.Recipients = "jane@example.com, not-an-email"
		if err := r.Validate(); err != domain.ErrInvalidRecipient {
			t.Fatalf("expected ErrInvalidRecipient, got %v", err)
		}
	})

	t.Run("missing subject on EMAIL rejected", func(t *testing.T) {
		r := validRequest()
		r.Content.Subject = ""
		if err := r.Validate(); err != domain.ErrMissingSubject {
			t.Fatalf("expected ErrMissingSubject, got %v", err)
		}
	})

	t.Run("empty body rejected", func(t *testing.T) {
		r := validRequest()
		r.Content.Body = "   "
		if err := r.Validate(); err != domain.ErrEmptyBody {
			t.Fatalf("expected ErrEmptyBody, got %v", err)
		}
	})

	t.Run("HTML body without explicit type infers EMAIL", func(t *testing.T) {
		r := validRequest()
		r.Type = ""
		r.Recipients = "+15145551234"
		r.Content.IsHTML = true
		if got := r.InferredType(); got != domain.TypeEmail {
			t.Fatalf("expected inferred type EMAIL, got %s", got)
		}
	})

	t.Run("attachment without explicit type infers EMAIL", func(t *testing.T) {
		r := validRequest()
		r.Type = ""
		r.Recipients = "+15145551234"
		r.Content.Attachments = []domain.AttachmentRequest{{FileName: "a.pdf"}}
		if got := r.InferredType(); got != domain.TypeEmail {
			t.Fatalf("expected inferred type EMAIL, got %s", got)
		}
	})

	t.Run("all phone-shaped recipients without explicit type infer TEXT", func(t *testing.T) {
		r := validRequest()
		r.Type = ""
		r.Recipients = "+15145551234,+15145551235"
		r.Content.Subject = ""
		if got := r.InferredType(); got != domain.TypeText {
			t.Fatalf("expected inferred type TEXT, got %s", got)
		}
	})
}

func TestSplitRecipients(t *testing.T) {
	r := domain.NotificationRequest{Recipients: " a@example.com ,b@example.com,, c@example.com"}
	got := r.SplitRecipients()
	want := []string{"a@example.com", "b@example.com", "c@example.com"}
	if len(got) != len(want) {
		t.Fatalf("expected %d recipients, got %d (%v)", len(want), len(got), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("recipient %d: expected %q, got %q", i, want[i], got[i])
		}
	}
}

func TestStatus_IsTerminal(t *testing.T) {
	terminal := []domain.Status{domain.StatusDelivered, domain.StatusFailure, domain.StatusCancelled}
	for _, s := range terminal {
		if !s.IsTerminal() {
			t.Fatalf("expected %s to be terminal", s)
		}
	}

	nonTerminal := []domain.Status{domain.StatusScheduled, domain.StatusPending, domain.StatusForwarded}
	for _, s := range nonTerminal {
		if s.IsTerminal() {
			t.Fatalf("expected %s to not be terminal", s)
		}
	}
}

func TestContent_TotalAttachmentBytes(t *testing.T) {
	c := domain.Content{Attachments: []domain.Attachment{
		{ContentSize: 100},
		{ContentSize: 250},
	}}
	if got := c.TotalAttachmentBytes(); got != 350 {
		t.Fatalf("expected 350, got %d", got)
	}
}
