package domain

import (
	"regexp"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

var structValidate = validator.New()

// Type is the kind of message a Notification carries.
type Type string

const (
	TypeEmail Type = "EMAIL"
	TypeText  Type = "TEXT"
)

func (t Type) IsValid() bool {
	switch t {
	case TypeEmail, TypeText:
		return true
	}
	return false
}

// Status tracks the lifecycle of a notification. The graph is:
//
//	SCHEDULED ──due──▶ PENDING ──claim──▶ FORWARDED ──send ok──▶ DELIVERED (terminal)
//	                       │                   │
//	                       │                   ├─retriable error─▶ PENDING
//	                       │                   └─fatal error─────▶ FAILURE (terminal)
//	                       └──cancel──▶ CANCELLED (terminal)
//
// DELIVERED, FAILURE and CANCELLED are terminal: no further transitions.
type Status string

const (
	StatusScheduled Status = "SCHEDULED"
	StatusPending   Status = "PENDING"
	StatusForwarded Status = "FORWARDED"
	StatusDelivered Status = "DELIVERED"
	StatusFailure   Status = "FAILURE"
	StatusCancelled Status = "CANCELLED"
)

// IsTerminal reports whether no further transition is possible from s.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusDelivered, StatusFailure, StatusCancelled:
		return true
	}
	return false
}

// IsValid reports whether s is one of the defined lifecycle states.
func (s Status) IsValid() bool {
	switch s {
	case StatusScheduled, StatusPending, StatusForwarded, StatusDelivered, StatusFailure, StatusCancelled:
		return true
	}
	return false
}

// ProviderCode identifies a concrete Provider adapter.
type ProviderCode string

const (
	ProviderGCNotifyEmail ProviderCode = "GC_NOTIFY_EMAIL"
	ProviderGCNotifySMS   ProviderCode = "GC_NOTIFY_SMS"
	ProviderSMTP          ProviderCode = "SMTP"
	ProviderHousing       ProviderCode = "HOUSING"
)

// HistoryStatusCode is the outcome recorded by a single delivery attempt.
type HistoryStatusCode string

const (
	HistoryDelivered HistoryStatusCode = "DELIVERED"
	HistoryFailure   HistoryStatusCode = "FAILURE"
)

// Attachment is a single file attached to a Content. ContentSize is always
// derived from len(FileBytes) server-side; it is never trusted from input.
type Attachment struct {
	FileName    string `json:"fileName"`
	FileBytes   []byte `json:"fileBytes,omitempty"`
	AttachOrder int    `json:"attachOrder"`
	ContentSize int64  `json:"contentSize"`
}

// Content is the single child every Notification owns exclusively.
type Content struct {
	Subject     string       `json:"subject,omitempty"`
	Body        string       `json:"body"`
	IsHTML      bool         `json:"isHtml"`
	Attachments []Attachment `json:"attachments,omitempty"`
}

// TotalAttachmentBytes sums ContentSize across every attachment.
func (c Content) TotalAttachmentBytes() int64 {
	var total int64
	for _, a := range c.Attachments {
		total += a.ContentSize
	}
	return total
}

// History is a single, append-only record of a delivery attempt's outcome.
type History struct {
	SentDate     time.Time         `json:"sentDate"`
	StatusCode   HistoryStatusCode `json:"statusCode"`
	ProviderCode ProviderCode      `json:"providerCode"`
	ResponseID   *string           `json:"responseId,omitempty"`
	Message      string            `json:"message,omitempty"`
}

// Notification is the core aggregate root. It exclusively owns its Content
// and History; recipients are a value list, not a separate aggregate.
type Notification struct {
	ID             string        `json:"id"`
	BatchID        *string       `json:"batchId,omitempty"`
	Recipients     []string      `json:"recipients"`
	RequestBy      string        `json:"requestBy"`
	RequestDate    time.Time     `json:"requestDate"`
	SentDate       *time.Time    `json:"sentDate,omitempty"`
	Type           Type          `json:"type"`
	Status         Status        `json:"status"`
	ProviderCode   *ProviderCode `json:"providerCode,omitempty"`
	Content        Content       `json:"content"`
	History        []History     `json:"history,omitempty"`
	Attempt        int           `json:"attempt"`
	IdempotencyKey *string       `json:"-"`
	PayloadHash    *string       `json:"-"`
	ScheduledAt    *time.Time    `json:"scheduledAt,omitempty"`
	NextRetryAt    *time.Time    `json:"-"`
	OwnerSub       string        `json:"-"`
	LeaseToken     *string       `json:"-"`
	LeaseExpiresAt *time.Time    `json:"-"`
	CreatedAt      time.Time     `json:"createdAt"`
	UpdatedAt      time.Time     `json:"updatedAt"`
}

// AttachmentRequest is the inbound, base64-carrying wire shape for one
// attachment. It is decoded into an Attachment with ContentSize computed
// from the decoded byte length.
type AttachmentRequest struct {
	FileName     string `json:"fileName"`
	FileBytesB64 string `json:"fileBytes"`
	AttachOrder  int    `json:"attachOrder"`
}

// ContentRequest is the inbound shape of Content on POST /notifications.
type ContentRequest struct {
	Subject     string              `json:"subject"`
	Body        string              `json:"body"`
	IsHTML      bool                `json:"isHtml"`
	Attachments []AttachmentRequest `json:"attachments"`
}

// NotificationRequest is the inbound payload for POST /api/v1/notifications.
// Recipients is accepted as a comma-separated string to match the wire
// contract; it is split and trimmed before validation.
type NotificationRequest struct {
	Recipients  string         `json:"recipients" validate:"required"`
	RequestBy   string         `json:"requestBy" validate:"required"`
	Type        Type           `json:"type"`
	Content     ContentRequest `json:"content" validate:"required"`
	ScheduledAt *time.Time     `json:"scheduledAt,omitempty"`
}

// SplitRecipients parses the comma-separated Recipients field, trimming
// whitespace around each address. Duplicates are permitted and preserved.
func (r NotificationRequest) SplitRecipients() []string {
	parts := strings.Split(r.Recipients, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// InferredType resolves the effective Type for a request: an explicit Type
// is honored, otherwise EMAIL/TEXT is inferred from recipient shape and
// HTML/attachment content (HTML or any attachment forces EMAIL).
func (r NotificationRequest) InferredType() Type {
	if r.Type.IsValid() {
		return r.Type
	}
	if r.Content.IsHTML || len(r.Content.Attachments) > 0 {
		return TypeEmail
	}
	recipients := r.SplitRecipients()
	for _, addr := range recipients {
		if !looksLikePhone(addr) {
			return TypeEmail
		}
	}
	return TypeText
}

var emailRe = regexp.MustCompile(`^[a-zA-Z0-9.!#$%&'*+/=?^_` + "`" + `{|}~-]+@[a-zA-Z0-9](?:[a-zA-Z0-9-]{0,61}[a-zA-Z0-9])?(?:\.[a-zA-Z0-9](?:[a-zA-Z0-9-]{0,61}[a-zA-Z0-9])?)+$`)

// e164Re is a pragmatic E.164 matcher: a leading '+' and 8-15 digits.
var e164Re = regexp.MustCompile(`^\+[1-9][0-9]{7,14}$`)

func looksLikeEmail(addr string) bool { return emailRe.MatchString(addr) }
func looksLikePhone(addr string) bool { return e164Re.MatchString(addr) }

// Validate applies the structural constraints that cannot be expressed as
// validator struct tags: per-type address format, HTML/attachment-forces-
// EMAIL, subject-required-for-EMAIL. Byte-budget checks are applied
// separately by the caller, since the limits are runtime configuration,
// not a compile-time constant.
func (r NotificationRequest) Validate() error {
	if err := structValidate.Struct(r); err != nil {
		return ErrNoRecipients
	}

	recipients := r.SplitRecipients()
	if len(recipients) == 0 {
		return ErrNoRecipients
	}

	typ := r.InferredType()
	if !typ.IsValid() {
		return ErrInvalidType
	}
	if typ == TypeText && (r.Content.IsHTML || len(r.Content.Attachments) > 0) {
		return ErrInvalidType
	}

	for _, addr := range recipients {
		switch typ {
		case TypeEmail:
			if !looksLikeEmail(addr) {
				return ErrInvalidRecipient
			}
		case TypeText:
			if !looksLikePhone(addr) {
				return ErrInvalidRecipient
			}
		}
	}

	if strings.TrimSpace(r.Content.Body) == "" {
		return ErrEmptyBody
	}

	if typ == TypeEmail && strings.TrimSpace(r.Content.Subject) == "" {
		return ErrMissingSubject
	}

	return nil
}

// CreateBatchRequest wraps a slice of notification requests for the batch
// endpoint.
type CreateBatchRequest struct {
	Notifications []NotificationRequest `json:"notifications"`
}

// Batch groups multiple notifications created together.
type Batch struct {
	ID        string    `json:"id"`
	Total     int       `json:"total"`
	Pending   int       `json:"pending"`
	Delivered int       `json:"delivered"`
	Failed    int       `json:"failed"`
	Cancelled int       `json:"cancelled"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// ListFilter holds query parameters for paginated notification listing.
type ListFilter struct {
	Status    *Status
	RequestBy *string
	Type      *Type
	SentFrom  *time.Time
	SentTo    *time.Time
	Search    *string
	Page      int
	Limit     int
}
