// Package provider implements the concrete delivery adapters reachable
// through the Provider interface: two GC Notify channels, direct SMTP, and
// the HOUSING service's own notification endpoint.
package provider

import (
	"context"

	"github.com/notifyhub/notify-core/internal/domain"
)

// Message is what a Provider is asked to deliver. It carries everything
// the adapter needs without depending on the full domain.Notification
// shape, so providers stay testable with plain literals.
type Message struct {
	NotificationID string
	Recipients     []string
	Subject        string
	Body           string
	IsHTML         bool
	Attachments    []domain.Attachment
}

// Result is returned on a successful Send. ResponseID is the provider's
// own message identifier, recorded on the History entry.
type Result struct {
	ResponseID string
}

// Capabilities describes what an adapter can carry, so callers (and
// tests) can reason about provider limits without sending a message and
// observing a rejection. The Selector's own routing rules are the source
// of truth for which notification goes where; Capabilities documents why
// those rules exist.
type Capabilities struct {
	SupportsHTML        bool
	SupportsAttachments bool
	MaxAttachmentBytes  int64
	SupportsSMS         bool
}

// Provider abstracts delivery to one external notification channel.
// Implementations classify their own failures by returning a
// retry.TransientError or retry.PermanentError; an unclassified error is
// treated as transient by the dispatcher.
type Provider interface {
	// Code identifies this adapter for selector routing and metrics.
	Code() domain.ProviderCode
	// Capabilities reports this adapter's fixed limits.
	Capabilities() Capabilities
	// Send delivers msg and returns the provider's own message ID.
	Send(ctx context.Context, msg Message) (*Result, error)
}

// Registry resolves a domain.ProviderCode to the Provider that implements
// it, so the worker pool and the selector never need to know concrete
// adapter types.
type Registry struct {
	providers map[domain.ProviderCode]Provider
}

// NewRegistry builds a Registry from the given providers, keyed by their
// own Code().
func NewRegistry(providers ...Provider) *Registry {
	r := &Registry{providers: make(map[domain.ProviderCode]Provider, len(providers))}
	for _, p := range providers {
		r.providers[p.Code()] = p
	}
	return r
}

// Resolve returns the Provider registered for code, or false if none was
// registered.
func (r *Registry) Resolve(code domain.ProviderCode) (Provider, bool) {
	p, ok := r.providers[code]
	return p, ok
}
