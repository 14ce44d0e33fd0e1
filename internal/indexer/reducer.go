// Package indexer holds the per-event reducers: deterministic
// transformations of decoded blockchain events into entity mutations and
// stream appends. Events for one chain arrive serialized in block/log
// order, so no handler-level locking is needed.
package indexer

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"clob-market-data/internal/database"
	"clob-market-data/internal/streams"
	"clob-market-data/internal/syncgate"
)

// depthSnapshotLimit bounds the per-side size of pushed depth snapshots.
const depthSnapshotLimit = 50

// Store is the entity-store surface the reducers mutate. Satisfied by
// *database.Repository.
type Store interface {
	UpsertPool(ctx context.Context, p *database.Pool) error
	GetPoolByAddress(ctx context.Context, chainID int64, poolAddress string) (*database.Pool, error)
	ApplyTradeToPool(ctx context.Context, chainID int64, poolAddress, lastPrice, baseDelta, quoteDelta string, ts int64) error

	UpsertCurrency(ctx context.Context, c *database.Currency) error
	GetCurrencyByAddress(ctx context.Context, chainID int64, address string) (*database.Currency, error)

	InsertOrder(ctx context.Context, o *database.Order) error
	GetOrder(ctx context.Context, id string) (*database.Order, error)
	ApplyOrderFill(ctx context.Context, id, qty string, ts int64) (*database.Order, error)
	UpdateOrderStatus(ctx context.Context, id, status string, ts int64) (*database.Order, error)
	UpsertOrderHistory(ctx context.Context, h *database.OrderHistory) error

	IncrementDepth(ctx context.Context, l *database.DepthLevel) error
	DecrementDepth(ctx context.Context, chainID int64, poolAddress, side, price, qty string, ts int64) error
	GetDepthSnapshot(ctx context.Context, chainID int64, poolAddress string, limit int) (bids, asks []*database.DepthLevel, err error)

	InsertTrade(ctx context.Context, t *database.Trade) error
	InsertOrderBookTrade(ctx context.Context, t *database.OrderBookTrade) error

	UpsertBucket(ctx context.Context, interval string, b *database.Bucket) (*database.Bucket, error)

	ApplyBalanceDelta(ctx context.Context, id string, chainID int64, user, currency, availableDelta, lockedDelta string, ts int64) (*database.Balance, error)
}

// Reducer applies decoded events to the store and, once the chain is past
// the sync watermark, appends push records to the event streams. During
// backfill only the durable writes happen.
type Reducer struct {
	store   Store
	bus     streams.Appender
	gate    syncgate.Gate
	chainID int64
	log     zerolog.Logger
}

// NewReducer wires a reducer for one chain namespace.
func NewReducer(store Store, bus streams.Appender, gate syncgate.Gate, chainID int64, log zerolog.Logger) *Reducer {
	return &Reducer{store: store, bus: bus, gate: gate, chainID: chainID, log: log}
}

func malformed(event, field string) error {
	return fmt.Errorf("%w: %s missing %s", ErrMalformedEvent, event, field)
}

// requirePool resolves the pool an event references. A miss is the
// UNKNOWN_POOL recovery path: the caller logs and drops the event.
func (r *Reducer) requirePool(ctx context.Context, poolAddress string) (*database.Pool, error) {
	pool, err := r.store.GetPoolByAddress(ctx, r.chainID, poolAddress)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrUnknownPool, poolAddress)
		}
		return nil, err
	}
	return pool, nil
}

// appendDepthSnapshot recomputes the pool's top-N book and appends a full
// snapshot to the depth stream. Called only in-sync.
func (r *Reducer) appendDepthSnapshot(ctx context.Context, pool *database.Pool, ts int64) error {
	bids, asks, err := r.store.GetDepthSnapshot(ctx, r.chainID, pool.PoolAddress, depthSnapshotLimit)
	if err != nil {
		return err
	}
	event := streams.DepthEvent{
		ChainID:     r.chainID,
		PoolAddress: pool.PoolAddress,
		Symbol:      pool.Symbol(),
		Bids:        toPriceLevels(bids),
		Asks:        toPriceLevels(asks),
		Timestamp:   ts,
	}
	fields, err := event.Fields()
	if err != nil {
		return err
	}
	_, err = r.bus.Append(ctx, streams.Key(r.chainID, streams.StreamDepth), fields)
	return err
}

func toPriceLevels(levels []*database.DepthLevel) []streams.PriceLevel {
	out := make([]streams.PriceLevel, 0, len(levels))
	for _, l := range levels {
		var pl streams.PriceLevel
		pl.Price.SetString(l.Price, 10)
		pl.Quantity.SetString(l.Quantity, 10)
		out = append(out, pl)
	}
	return out
}

// appendExecutionReport publishes a per-order transition for user fan-out.
// Called only in-sync.
func (r *Reducer) appendExecutionReport(ctx context.Context, pool *database.Pool, o *database.Order, executionType string, lastQty, lastPrice string, ts int64) error {
	event := streams.ExecutionReportEvent{
		ChainID:         r.chainID,
		PoolAddress:     pool.PoolAddress,
		Symbol:          pool.Symbol(),
		OrderID:         o.OrderID,
		User:            o.User,
		Side:            o.Side,
		OrderType:       o.OrderType,
		Price:           mustBig(o.Price),
		Quantity:        mustBig(o.Quantity),
		Filled:          mustBig(o.Filled),
		LastFilledQty:   mustBig(lastQty),
		LastFilledPrice: mustBig(lastPrice),
		Status:          o.Status,
		ExecutionType:   executionType,
		Timestamp:       ts,
	}
	_, err := r.bus.Append(ctx, streams.Key(r.chainID, streams.StreamExecutionReports), event.Fields())
	return err
}

// appendOrderEvent feeds the auxiliary orders stream consumed outside the
// websocket path. Called only in-sync.
func (r *Reducer) appendOrderEvent(ctx context.Context, o *database.Order, ts int64) error {
	event := streams.OrderEvent{
		ChainID:     r.chainID,
		PoolAddress: o.PoolAddress,
		OrderID:     o.OrderID,
		User:        o.User,
		Status:      o.Status,
		Timestamp:   ts,
	}
	_, err := r.bus.Append(ctx, streams.Key(r.chainID, streams.StreamOrders), event.Fields())
	return err
}
