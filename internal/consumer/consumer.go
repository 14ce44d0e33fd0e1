// Package consumer reads the chain-namespaced event streams through a
// consumer group and fans the records out to WebSocket subscribers as wire
// messages. Delivery is at-least-once: a record is acked only after its
// dispatch succeeded.
package consumer

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"clob-market-data/internal/streams"
)

// readBlock bounds how long a single stream read blocks; the loop visits
// every stream often enough that one quiet stream cannot starve the rest.
const readBlock = 100 * time.Millisecond

// claimInterval paces the reclaim of messages left pending by crashed
// consumers in the same group.
const (
	claimInterval = 30 * time.Second
	claimMinIdle  = time.Minute
)

// Gateway is the fan-out surface; satisfied by *api.Hub.
type Gateway interface {
	BroadcastToStream(name string, payload interface{})
	SendToUser(userID string, payload interface{})
}

// Config tunes one consumer instance.
type Config struct {
	ChainID      int64
	Group        string
	ConsumerID   string
	BatchSize    int
	PollInterval time.Duration
}

// Consumer is the stream-reader side of the pipeline.
type Consumer struct {
	bus       *streams.Bus
	gateway   Gateway
	cfg       Config
	log       zerolog.Logger
	lastClaim time.Time
}

// New builds a consumer; empty group/consumer identities get chain-scoped
// defaults.
func New(bus *streams.Bus, gateway Gateway, cfg Config, log zerolog.Logger) *Consumer {
	if cfg.Group == "" {
		cfg.Group = streams.ConsumerGroup(cfg.ChainID)
	}
	if cfg.ConsumerID == "" {
		cfg.ConsumerID = fmt.Sprintf("ws-consumer-%s", uuid.New().String()[:8])
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 10
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Second
	}
	return &Consumer{bus: bus, gateway: gateway, cfg: cfg, log: log}
}

// Run sets up consumer groups and loops until the context is cancelled.
// Unacked messages stay pending and are redelivered to the next consumer
// in the group.
func (c *Consumer) Run(ctx context.Context) error {
	if err := c.setupGroups(ctx); err != nil {
		return err
	}

	c.log.Info().Str("group", c.cfg.Group).Str("consumer", c.cfg.ConsumerID).Msg("stream consumer started")

	for {
		select {
		case <-ctx.Done():
			c.log.Info().Msg("stream consumer stopping")
			return nil
		default:
		}

		handled, err := c.pollOnce(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			c.log.Error().Err(err).Msg("stream poll failed")
			time.Sleep(c.cfg.PollInterval)
			continue
		}

		if time.Since(c.lastClaim) >= claimInterval {
			c.lastClaim = time.Now()
			c.claimStale(ctx)
		}

		if !handled {
			// Nothing anywhere this round; the per-stream blocking reads
			// already paced us.
			continue
		}
	}
}

// claimStale adopts messages a crashed group member left pending so they
// are not lost behind a dead generated consumer id.
func (c *Consumer) claimStale(ctx context.Context) {
	for _, name := range streams.AllStreams {
		key := streams.Key(c.cfg.ChainID, name)
		exists, err := c.bus.Exists(ctx, key)
		if err != nil || !exists {
			continue
		}
		claimed, err := c.bus.ClaimStale(ctx, key, c.cfg.Group, c.cfg.ConsumerID, claimMinIdle, int64(c.cfg.BatchSize))
		if err != nil {
			c.log.Warn().Err(err).Str("stream", name).Msg("stale claim failed")
			continue
		}
		for _, msg := range claimed {
			if err := c.dispatch(name, flatten(msg.Values)); err != nil {
				c.log.Error().Err(err).Str("stream", name).Str("id", msg.ID).Msg("claimed dispatch failed")
				continue
			}
			if err := c.bus.Ack(ctx, key, c.cfg.Group, msg.ID); err != nil {
				c.log.Error().Err(err).Str("id", msg.ID).Msg("claimed ack failed")
			}
		}
	}
}

// setupGroups ensures the group exists on every stream that exists and
// destroys orphan groups left behind by data resets, so a stale cursor can
// never stall a fresh stream.
func (c *Consumer) setupGroups(ctx context.Context) error {
	for _, name := range streams.AllStreams {
		key := streams.Key(c.cfg.ChainID, name)
		exists, err := c.bus.Exists(ctx, key)
		if err != nil {
			return err
		}
		if exists {
			if err := c.bus.CreateGroup(ctx, key, c.cfg.Group, false); err != nil {
				return err
			}
			continue
		}
		if err := c.bus.DestroyGroup(ctx, key, c.cfg.Group); err != nil {
			return err
		}
	}
	return nil
}

// pollOnce visits each stream in turn and dispatches the first batch that
// arrives. Returns whether any message was handled.
func (c *Consumer) pollOnce(ctx context.Context) (bool, error) {
	for _, name := range streams.AllStreams {
		key := streams.Key(c.cfg.ChainID, name)

		exists, err := c.bus.Exists(ctx, key)
		if err != nil {
			return false, err
		}
		if !exists {
			continue
		}
		// Streams appear after boot once the handlers first write them.
		if err := c.bus.CreateGroup(ctx, key, c.cfg.Group, false); err != nil {
			return false, err
		}

		// Retry this consumer's own unacked backlog before taking new
		// messages; a transient dispatch failure must not be skipped over.
		batch, err := c.bus.ReadBacklog(ctx, c.cfg.Group, c.cfg.ConsumerID, []string{key}, int64(c.cfg.BatchSize))
		if err != nil {
			return false, err
		}
		if batchEmpty(batch) {
			batch, err = c.bus.Read(ctx, c.cfg.Group, c.cfg.ConsumerID, []string{key}, int64(c.cfg.BatchSize), readBlock)
			if err != nil {
				return false, err
			}
		}
		if batchEmpty(batch) {
			continue
		}

		for _, stream := range batch {
			for _, msg := range stream.Messages {
				fields := flatten(msg.Values)
				if err := c.dispatch(name, fields); err != nil {
					c.log.Error().Err(err).Str("stream", name).Str("id", msg.ID).Msg("dispatch failed, leaving pending")
					continue
				}
				if err := c.bus.Ack(ctx, key, c.cfg.Group, msg.ID); err != nil {
					return true, err
				}
			}
		}
		return true, nil
	}
	return false, nil
}

// dispatch routes one record to the gateway by stream name.
func (c *Consumer) dispatch(streamName string, fields map[string]string) error {
	switch streamName {
	case streams.StreamTrades:
		e, err := streams.DecodeTradeEvent(fields)
		if err != nil {
			return err
		}
		c.gateway.BroadcastToStream(e.Symbol+"@trade", NewTradeMessage(e))
		return nil

	case streams.StreamDepth:
		e, err := streams.DecodeDepthEvent(fields)
		if err != nil {
			return err
		}
		c.gateway.BroadcastToStream(e.Symbol+"@depth", NewDepthMessage(e))
		return nil

	case streams.StreamKlines:
		if fields["kind"] == "miniTicker" {
			e, err := streams.DecodeMiniTickerEvent(fields)
			if err != nil {
				return err
			}
			c.gateway.BroadcastToStream(e.Symbol+"@miniTicker", NewMiniTickerMessage(e))
			return nil
		}
		e, err := streams.DecodeKlineEvent(fields)
		if err != nil {
			return err
		}
		c.gateway.BroadcastToStream(fmt.Sprintf("%s@kline_%s", e.Symbol, e.Interval), NewKlineMessage(e))
		return nil

	case streams.StreamExecutionReports:
		e, err := streams.DecodeExecutionReportEvent(fields)
		if err != nil {
			return err
		}
		c.gateway.SendToUser(strings.ToLower(e.User), NewExecutionReportMessage(e))
		return nil

	case streams.StreamBalances:
		e, err := streams.DecodeBalanceEvent(fields)
		if err != nil {
			return err
		}
		c.gateway.SendToUser(strings.ToLower(e.User), NewBalanceUpdateMessage(e))
		return nil

	case streams.StreamOrders:
		// Auxiliary stream for non-websocket consumers; nothing to fan out.
		return nil

	default:
		return fmt.Errorf("unknown stream %q", streamName)
	}
}

func batchEmpty(batch []redis.XStream) bool {
	for _, stream := range batch {
		if len(stream.Messages) > 0 {
			return false
		}
	}
	return true
}

func flatten(values map[string]interface{}) map[string]string {
	fields := make(map[string]string, len(values))
	for k, v := range values {
		if s, ok := v.(string); ok {
			fields[k] = s
		} else {
			fields[k] = fmt.Sprintf("%v", v)
		}
	}
	return fields
}
