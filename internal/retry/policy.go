// Package retry classifies provider send outcomes and computes the backoff
// delay before the next dispatch attempt.
package retry

import (
	"errors"
	"math"
	"math/rand"
	"time"
)

// Outcome is the three-way classification of a single send attempt.
type Outcome int

const (
	// Success means the provider accepted the message for delivery.
	Success Outcome = iota
	// Retry means the failure is transient and the attempt should be
	// rescheduled.
	Retry
	// Fatal means the failure is permanent; no further attempts should be
	// made.
	Fatal
)

func (o Outcome) String() string {
	switch o {
	case Success:
		return "SUCCESS"
	case Retry:
		return "RETRY"
	case Fatal:
		return "FATAL"
	default:
		return "UNKNOWN"
	}
}

// TransientError marks a provider failure that is worth retrying: rate
// limits, timeouts, 5xx responses, connection resets.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string { return e.Err.Error() }
func (e *TransientError) Unwrap() error { return e.Err }

// PermanentError marks a provider failure that will never succeed on
// retry: malformed recipient, provider-side rejection, auth failure.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string { return e.Err.Error() }
func (e *PermanentError) Unwrap() error { return e.Err }

// NewTransient wraps err as a TransientError.
func NewTransient(err error) error { return &TransientError{Err: err} }

// NewPermanent wraps err as a PermanentError.
func NewPermanent(err error) error { return &PermanentError{Err: err} }

// Classify inspects a provider.Send error and decides the outcome. A nil
// err always classifies as Success. An error that is neither a
// TransientError nor a PermanentError is treated as transient, since an
// adapter that forgot to classify its own failure should not silently
// drop a message that might have succeeded on retry.
func Classify(err error) Outcome {
	if err == nil {
		return Success
	}
	var perm *PermanentError
	if errors.As(err, &perm) {
		return Fatal
	}
	var trans *TransientError
	if errors.As(err, &trans) {
		return Retry
	}
	return Retry
}

// Policy computes the exponential backoff-with-jitter delay for a retry
// attempt and the maximum number of attempts before a retriable failure
// is escalated to FAILURE.
type Policy struct {
	// Base is the delay for the first retry (attempt 0).
	Base time.Duration
	// Cap is the maximum delay regardless of attempt count.
	Cap time.Duration
	// MaxAttempts bounds the zero-based attempt number: a Retry outcome on
	// an attempt below MaxAttempts is retried, and one at or above it is
	// escalated to Fatal.
	MaxAttempts int
	// Jitter is the fractional jitter applied to each delay, e.g. 0.2 for
	// +/-20%.
	Jitter float64
}

// DefaultPolicy mirrors the environment-variable defaults: 5s base,
// 10m cap, 5 attempts, 20% jitter.
func DefaultPolicy() Policy {
	return Policy{
		Base:        5 * time.Second,
		Cap:         10 * time.Minute,
		MaxAttempts: 5,
		Jitter:      0.2,
	}
}

// NextDelay returns the delay to wait before retrying after the given
// zero-based attempt number (0 = first attempt already failed, about to
// make the second). The formula is:
//
//	delay = min(base * 2^attempt +/- jitter, cap)
func (p Policy) NextDelay(attempt int) time.Duration {
	raw := float64(p.Base) * math.Pow(2, float64(attempt))
	if p.Jitter > 0 {
		raw *= 1 + (rand.Float64()*2-1)*p.Jitter
	}
	if capF := float64(p.Cap); raw > capF {
		raw = capF
	}
	if raw < 0 {
		raw = 0
	}
	return time.Duration(raw)
}

// Exhausted reports whether attempt (zero-based, the attempt that just
// failed) has used up the policy's retry budget.
func (p Policy) Exhausted(attempt int) bool {
	return attempt >= p.MaxAttempts
}
