package indexer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"clob-market-data/internal/streams"
)

// InboxStream is the raw decoded-event inbox the indexer framework
// appends to, namespaced like every other stream.
const InboxStream = "events"

// InboxGroup returns the handler consumer-group name for a chain.
func InboxGroup(chainID int64) string {
	return fmt.Sprintf("event-handlers-%d", chainID)
}

// inboxConsumer is a stable identity: the inbox is drained by exactly one
// worker per chain so events stay in block/log order, and its pending
// entries survive restarts.
const inboxConsumer = "handler-worker"

// Runner drains the raw-event inbox and applies each record through the
// dispatcher. On every cycle the consumer's own backlog is retried first,
// so a failed event blocks everything behind it until it succeeds —
// preserving per-chain ordering. Entity writes are idempotent by id hash,
// which makes those retries safe.
type Runner struct {
	bus        *streams.Bus
	dispatcher *Dispatcher
	chainID    int64
	group      string
	batchSize  int
	block      time.Duration
	log        zerolog.Logger
}

// NewRunner builds the handler-side consumer for one chain.
func NewRunner(bus *streams.Bus, dispatcher *Dispatcher, chainID int64, batchSize int, pollInterval time.Duration, log zerolog.Logger) *Runner {
	if batchSize <= 0 {
		batchSize = 10
	}
	if pollInterval <= 0 {
		pollInterval = time.Second
	}
	return &Runner{
		bus:        bus,
		dispatcher: dispatcher,
		chainID:    chainID,
		group:      InboxGroup(chainID),
		batchSize:  batchSize,
		block:      pollInterval,
		log:        log,
	}
}

// Run loops until the context is cancelled.
func (r *Runner) Run(ctx context.Context) error {
	key := streams.Key(r.chainID, InboxStream)
	if err := r.bus.CreateGroup(ctx, key, r.group, true); err != nil {
		return err
	}

	r.log.Info().Str("group", r.group).Msg("event handler runner started")

	for {
		select {
		case <-ctx.Done():
			r.log.Info().Msg("event handler runner stopping")
			return nil
		default:
		}

		batch, err := r.bus.ReadBacklog(ctx, r.group, inboxConsumer, []string{key}, int64(r.batchSize))
		if err == nil && emptyBatch(batch) {
			batch, err = r.bus.Read(ctx, r.group, inboxConsumer, []string{key}, int64(r.batchSize), r.block)
		}
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			r.log.Error().Err(err).Msg("inbox read failed")
			time.Sleep(r.block)
			continue
		}

		if !r.processBatch(ctx, key, batch) {
			// A handler failed; back off before retrying from the backlog.
			time.Sleep(r.block)
		}
	}
}

// processBatch applies messages in order; it stops at the first
// non-malformed failure so nothing is applied out of order. Returns false
// when a failure interrupted the batch.
func (r *Runner) processBatch(ctx context.Context, key string, batch []redis.XStream) bool {
	for _, stream := range batch {
		for _, msg := range stream.Messages {
			fields := make(map[string]string, len(msg.Values))
			for k, v := range msg.Values {
				if s, ok := v.(string); ok {
					fields[k] = s
				} else {
					fields[k] = fmt.Sprintf("%v", v)
				}
			}

			if err := r.dispatcher.Dispatch(ctx, fields); err != nil {
				if errors.Is(err, ErrMalformedEvent) {
					// Malformed events never become valid; ack and drop.
					r.log.Error().Err(err).Str("id", msg.ID).Msg("malformed event dropped")
				} else {
					r.log.Error().Err(err).Str("id", msg.ID).Msg("event handling failed, will retry")
					return false
				}
			}
			if err := r.bus.Ack(ctx, key, r.group, msg.ID); err != nil {
				r.log.Error().Err(err).Str("id", msg.ID).Msg("inbox ack failed")
				return false
			}
		}
	}
	return true
}

func emptyBatch(batch []redis.XStream) bool {
	for _, stream := range batch {
		if len(stream.Messages) > 0 {
			return false
		}
	}
	return true
}
