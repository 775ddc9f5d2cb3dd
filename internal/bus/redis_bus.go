package bus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RedisBus implements Edge on top of a Redis Stream, using a consumer
// group so that multiple dispatcher replicas fan the same subject out
// without double-processing beyond Redis's own at-least-once semantics.
type RedisBus struct {
	rdb      *redis.Client
	stream   string
	group    string
	consumer string
	logger   *zap.Logger
}

// NewRedisBus creates the consumer group on stream if it does not already
// exist, then returns a ready-to-use Edge.
func NewRedisBus(ctx context.Context, rdb *redis.Client, stream, group, consumer string, logger *zap.Logger) (*RedisBus, error) {
	err := rdb.XGroupCreateMkStream(ctx, stream, group, "0").Err()
	if err != nil && !errors.Is(err, redis.Nil) && !isBusyGroupErr(err) {
		return nil, fmt.Errorf("create consumer group: %w", err)
	}
	return &RedisBus{rdb: rdb, stream: stream, group: group, consumer: consumer, logger: logger}, nil
}

func isBusyGroupErr(err error) bool {
	return err != nil && err.Error() == "BUSYGROUP Consumer Group name already exists"
}

// Publish XADDs the envelope to the stream. Redis persists the entry to
// its append-only file before returning, giving the at-least-once
// guarantee the Publisher contract requires.
func (b *RedisBus) Publish(ctx context.Context, env Envelope) error {
	payload, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}
	return b.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: b.stream,
		Values: map[string]interface{}{"envelope": payload},
	}).Err()
}

// Read performs a blocking XREADGROUP for up to maxBatch new entries.
func (b *RedisBus) Read(ctx context.Context, maxBatch int) ([]Delivery, error) {
	res, err := b.rdb.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    b.group,
		Consumer: b.consumer,
		Streams:  []string{b.stream, ">"},
		Count:    int64(maxBatch),
		Block:    5 * time.Second,
	}).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) || errors.Is(err, context.DeadlineExceeded) {
			return nil, nil
		}
		return nil, err
	}
	return b.toDeliveries(res)
}

// Reclaim uses XAUTOCLAIM to take ownership of entries idle longer than
// minIdle, so a crashed consumer's in-flight messages are picked up by a
// surviving replica rather than stuck forever in the pending entries list.
func (b *RedisBus) Reclaim(ctx context.Context, minIdle time.Duration, maxBatch int) ([]Delivery, error) {
	_, msgs, err := b.rdb.XAutoClaim(ctx, &redis.XAutoClaimArgs{
		Stream:   b.stream,
		Group:    b.group,
		Consumer: b.consumer,
		MinIdle:  minIdle,
		Start:    "0",
		Count:    int64(maxBatch),
	}).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, err
	}
	return b.toDeliveries([]redis.XStream{{Stream: b.stream, Messages: msgs}})
}

func (b *RedisBus) toDeliveries(streams []redis.XStream) ([]Delivery, error) {
	var out []Delivery
	for _, stream := range streams {
		for _, msg := range stream.Messages {
			raw, ok := msg.Values["envelope"].(string)
			if !ok {
				b.logger.Warn("dropping malformed stream entry", zap.String("id", msg.ID))
				continue
			}
			var env Envelope
			if err := json.Unmarshal([]byte(raw), &env); err != nil {
				b.logger.Warn("dropping unparseable envelope", zap.String("id", msg.ID), zap.Error(err))
				continue
			}
			id := msg.ID
			out = append(out, Delivery{
				Envelope: env,
				Ack: func(ctx context.Context) error {
					return b.rdb.XAck(ctx, b.stream, b.group, id).Err()
				},
				Nack: func(ctx context.Context) error {
					// A no-op: leaving the entry unacked keeps it in the
					// pending entries list for Reclaim to pick up later.
					return nil
				},
			})
		}
	}
	return out, nil
}

// Close releases the underlying Redis client.
func (b *RedisBus) Close() error {
	return b.rdb.Close()
}
