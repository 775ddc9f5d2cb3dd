package domain

import "errors"

// Sentinel errors used throughout the application.
// Handlers translate these to HTTP status codes via a single mapError function.
var (
	ErrNotFound          = errors.New("not found")
	ErrConflict          = errors.New("conflict: idempotency key already used with a different payload")
	ErrForbidden         = errors.New("forbidden: not the owner of this notification")
	ErrInvalidType       = errors.New("invalid type: must be EMAIL or TEXT")
	ErrInvalidRecipient  = errors.New("recipient is not a well-formed address for the notification type")
	ErrNoRecipients      = errors.New("recipients must be non-empty")
	ErrMissingSubject    = errors.New("subject is required for EMAIL notifications")
	ErrEmptyBody         = errors.New("body must not be empty")
	ErrAttachmentTooBig  = errors.New("attachment exceeds the per-attachment byte limit")
	ErrPayloadTooLarge   = errors.New("total attachment size exceeds the hard cap")
	ErrBatchTooLarge     = errors.New("batch exceeds maximum of 1000 notifications")
	ErrBatchEmpty        = errors.New("batch must contain at least one notification")
	ErrAlreadyTerminal   = errors.New("notification is already in a terminal state")
	ErrNotCancellable    = errors.New("notification cannot be cancelled in its current status")
	ErrResendCooldown    = errors.New("notification succeeded recently; resend is in cool-down")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrAlreadyClaimed    = errors.New("notification is already claimed by another worker")
	ErrQueueFull         = errors.New("dispatch queue is at capacity, try again later")
	ErrBadFilter         = errors.New("invalid list filter")
)
