// Package bus is the edge between the durable notification store and the
// dispatch worker pool. It abstracts an external pub/sub substrate behind
// a Publisher/Subscriber contract so the rest of the system never depends
// on a specific broker's wire format.
package bus

import (
	"context"
	"time"
)

// SchemaDispatchV1 is the envelope schema name published to the dispatch
// subject. A future incompatible change bumps this rather than the subject
// name, so old and new consumers can coexist during a rollout.
const SchemaDispatchV1 = "notify/dispatch/v1"

// Envelope is the message carried over the bus. It references a
// notification by ID rather than embedding the payload, so the bus never
// needs to reason about notification schema changes.
type Envelope struct {
	Schema      string    `json:"schema"`
	ID          string    `json:"id"`
	Attempt     int       `json:"attempt"`
	EnqueuedAt  time.Time `json:"enqueued_at"`
}

// Delivery wraps an Envelope received from a Subscriber together with the
// broker-specific handle needed to Ack or Nack it.
type Delivery struct {
	Envelope Envelope
	Ack      func(ctx context.Context) error
	Nack     func(ctx context.Context) error
}

// Publisher sends envelopes onto the dispatch subject. Publish must be
// at-least-once: a returned nil error guarantees the message is durably
// queued, even if this process crashes immediately after.
type Publisher interface {
	Publish(ctx context.Context, env Envelope) error
}

// Subscriber reads envelopes as a named consumer-group member, so that
// multiple dispatcher replicas share the subject without duplicate
// processing beyond the broker's own at-least-once guarantee. Reads block
// until ctx is cancelled or at least one delivery is available.
type Subscriber interface {
	Read(ctx context.Context, maxBatch int) ([]Delivery, error)
	// Reclaim re-delivers envelopes whose consumer has held them past
	// minIdle without acking, so a crashed worker's in-flight messages are
	// not lost.
	Reclaim(ctx context.Context, minIdle time.Duration, maxBatch int) ([]Delivery, error)
}

// Edge bundles both halves of the bus contract, as most call sites need to
// both publish (on create/resend) and subscribe (in the dispatcher).
type Edge interface {
	Publisher
	Subscriber
	Close() error
}
