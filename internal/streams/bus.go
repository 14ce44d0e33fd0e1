package streams

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// Appender is the producer-side surface handlers write through.
type Appender interface {
	Append(ctx context.Context, streamKey string, fields map[string]string) (string, error)
}

// Bus is the append-only ordered stream transport over Redis Streams.
// Message ids are redis-assigned and monotonic per stream; consumer groups
// give at-least-once delivery with per-message acks.
type Bus struct {
	client *redis.Client
	log    zerolog.Logger
}

// NewBus wraps a connected redis client.
func NewBus(client *redis.Client, log zerolog.Logger) *Bus {
	return &Bus{client: client, log: log}
}

// Append adds a record to a stream and returns the assigned id.
func (b *Bus) Append(ctx context.Context, streamKey string, fields map[string]string) (string, error) {
	values := make(map[string]interface{}, len(fields))
	for k, v := range fields {
		values[k] = v
	}
	id, err := b.client.XAdd(ctx, &redis.XAddArgs{Stream: streamKey, Values: values}).Result()
	if err != nil {
		return "", fmt.Errorf("stream append %s: %w", streamKey, err)
	}
	return id, nil
}

// CreateGroup ensures a consumer group exists on a stream, starting at the
// beginning so replays after a reset are observed. Idempotent: an existing
// group is not an error. With mkStream the stream is created when absent;
// without it, a missing stream fails.
func (b *Bus) CreateGroup(ctx context.Context, streamKey, group string, mkStream bool) error {
	var err error
	if mkStream {
		err = b.client.XGroupCreateMkStream(ctx, streamKey, group, "0").Err()
	} else {
		err = b.client.XGroupCreate(ctx, streamKey, group, "0").Err()
	}
	if err != nil && strings.Contains(err.Error(), "BUSYGROUP") {
		return nil
	}
	if err != nil {
		return fmt.Errorf("create group %s on %s: %w", group, streamKey, err)
	}
	return nil
}

// DestroyGroup removes a consumer group. Removing a group that does not
// exist is not an error.
func (b *Bus) DestroyGroup(ctx context.Context, streamKey, group string) error {
	if err := b.client.XGroupDestroy(ctx, streamKey, group).Err(); err != nil {
		msg := err.Error()
		if strings.Contains(msg, "NOGROUP") || strings.Contains(msg, "no such key") ||
			strings.Contains(msg, "requires the key to exist") {
			return nil
		}
		return fmt.Errorf("destroy group %s on %s: %w", group, streamKey, err)
	}
	return nil
}

// Read blocks up to block for unclaimed messages on the given streams. A
// timeout with no messages returns (nil, nil). Delivered ids stay pending
// for (group, consumer) until acked.
func (b *Bus) Read(ctx context.Context, group, consumer string, streamKeys []string, count int64, block time.Duration) ([]redis.XStream, error) {
	args := make([]string, 0, len(streamKeys)*2)
	args = append(args, streamKeys...)
	for range streamKeys {
		args = append(args, ">")
	}
	res, err := b.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    group,
		Consumer: consumer,
		Streams:  args,
		Count:    count,
		Block:    block,
	}).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("stream read: %w", err)
	}
	return res, nil
}

// ReadBacklog returns this consumer's own pending (delivered, unacked)
// messages from the start of the backlog. Used on startup and after a
// dispatch failure so an event is retried before anything newer.
func (b *Bus) ReadBacklog(ctx context.Context, group, consumer string, streamKeys []string, count int64) ([]redis.XStream, error) {
	args := make([]string, 0, len(streamKeys)*2)
	args = append(args, streamKeys...)
	for range streamKeys {
		args = append(args, "0")
	}
	res, err := b.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    group,
		Consumer: consumer,
		Streams:  args,
		Count:    count,
	}).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("stream backlog read: %w", err)
	}
	return res, nil
}

// ClaimStale takes over messages another consumer left pending for longer
// than minIdle, e.g. after a crashed instance with a generated consumer id.
func (b *Bus) ClaimStale(ctx context.Context, streamKey, group, consumer string, minIdle time.Duration, count int64) ([]redis.XMessage, error) {
	pending, err := b.client.XPendingExt(ctx, &redis.XPendingExtArgs{
		Stream: streamKey,
		Group:  group,
		Start:  "-",
		End:    "+",
		Count:  count,
	}).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("stream pending scan %s: %w", streamKey, err)
	}

	ids := make([]string, 0, len(pending))
	for _, p := range pending {
		if p.Idle >= minIdle && p.Consumer != consumer {
			ids = append(ids, p.ID)
		}
	}
	if len(ids) == 0 {
		return nil, nil
	}

	claimed, err := b.client.XClaim(ctx, &redis.XClaimArgs{
		Stream:   streamKey,
		Group:    group,
		Consumer: consumer,
		MinIdle:  minIdle,
		Messages: ids,
	}).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("stream claim %s: %w", streamKey, err)
	}
	return claimed, nil
}

// Ack removes a delivered message from the group's pending list.
func (b *Bus) Ack(ctx context.Context, streamKey, group, id string) error {
	if err := b.client.XAck(ctx, streamKey, group, id).Err(); err != nil {
		return fmt.Errorf("ack %s on %s: %w", id, streamKey, err)
	}
	return nil
}

// Exists reports whether a stream key holds any data.
func (b *Bus) Exists(ctx context.Context, streamKey string) (bool, error) {
	n, err := b.client.Exists(ctx, streamKey).Result()
	if err != nil {
		return false, fmt.Errorf("stream exists %s: %w", streamKey, err)
	}
	return n > 0, nil
}

// Len returns the number of records in a stream.
func (b *Bus) Len(ctx context.Context, streamKey string) (int64, error) {
	return b.client.XLen(ctx, streamKey).Result()
}

// Ping checks bus connectivity for the health endpoint.
func (b *Bus) Ping(ctx context.Context) error {
	return b.client.Ping(ctx).Err()
}
