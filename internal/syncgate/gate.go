// Package syncgate holds the process-wide "websocket enable block"
// watermark. Handlers always perform durable writes; the gate only decides
// whether an event is recent enough for live push emission. During backfill
// the gate is false and nothing is appended to the push streams --
// subscribers read snapshots over REST instead.
package syncgate

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync/atomic"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// Gate is the read surface handlers depend on.
type Gate interface {
	InSync(block uint64) bool
	ExecuteIfInSync(block uint64, fn func() error) error
}

// Watermark is the redis-persisted, in-memory-cached enable block. It is
// initialized once at process start. Without an override it only ever
// advances: a persisted value higher than the boot candidate wins, never the
// other way around. A non-zero override is taken as given, even when it is
// lower than the persisted value.
type Watermark struct {
	client  *redis.Client
	chainID int64
	block   atomic.Uint64
	log     zerolog.Logger
}

func key(chainID int64) string {
	return fmt.Sprintf("chain:%d:ws_enable_block", chainID)
}

// Init resolves the watermark. Precedence: explicit override (non-zero),
// then the persisted value, then the boot-time chain head. The result is
// persisted with no expiry so restarts agree with each other.
func Init(ctx context.Context, client *redis.Client, chainID int64, override, chainHead uint64, log zerolog.Logger) (*Watermark, error) {
	w := &Watermark{client: client, chainID: chainID, log: log}

	persisted, err := w.load(ctx)
	if err != nil {
		return nil, err
	}

	block := chainHead
	if override != 0 {
		block = override
	} else if persisted > block {
		block = persisted
	}

	if block != persisted {
		if err := client.Set(ctx, key(chainID), strconv.FormatUint(block, 10), 0).Err(); err != nil {
			return nil, fmt.Errorf("persist sync watermark: %w", err)
		}
	}

	w.block.Store(block)
	log.Info().Uint64("enable_block", block).Int64("chain_id", chainID).Msg("sync watermark initialized")
	return w, nil
}

func (w *Watermark) load(ctx context.Context) (uint64, error) {
	val, err := w.client.Get(ctx, key(w.chainID)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, nil
		}
		return 0, fmt.Errorf("load sync watermark: %w", err)
	}
	block, err := strconv.ParseUint(val, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("corrupt sync watermark %q: %w", val, err)
	}
	return block, nil
}

// EnableBlock returns the current watermark.
func (w *Watermark) EnableBlock() uint64 {
	return w.block.Load()
}

// InSync reports whether an event at the given block is past the watermark
// and therefore eligible for live push emission.
func (w *Watermark) InSync(block uint64) bool {
	return block >= w.block.Load()
}

// ExecuteIfInSync runs fn only when the block is past the watermark. The
// gate itself never fails; only fn's error propagates.
func (w *Watermark) ExecuteIfInSync(block uint64, fn func() error) error {
	if !w.InSync(block) {
		return nil
	}
	return fn()
}
