package indexer

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"clob-market-data/internal/bignum"
	"clob-market-data/internal/chain"
	"clob-market-data/internal/database"
	"clob-market-data/internal/ids"
	"clob-market-data/internal/streams"
)

// Execution types carried on the execution-report stream.
const (
	ExecTypeNew      = "NEW"
	ExecTypeTrade    = "TRADE"
	ExecTypeCanceled = "CANCELED"
	ExecTypeExpired  = "EXPIRED"
	ExecTypeRejected = "REJECTED"
)

func mustBig(s string) *big.Int {
	if s == "" {
		return new(big.Int)
	}
	return bignum.MustParse(s)
}

// HandleOrderPlaced records a new order, its history row, and its depth
// contribution, then publishes NEW execution report and depth snapshot when
// in sync.
func (r *Reducer) HandleOrderPlaced(ctx context.Context, evt chain.Context, args chain.OrderPlacedArgs) error {
	switch {
	case args.PoolAddress == "":
		return malformed("OrderPlaced", "poolAddress")
	case args.OrderID == "":
		return malformed("OrderPlaced", "orderId")
	case args.User == "":
		return malformed("OrderPlaced", "user")
	case args.Side == "":
		return malformed("OrderPlaced", "side")
	}
	price, err := bignum.Parse(args.Price)
	if err != nil {
		return fmt.Errorf("%w: OrderPlaced price: %v", ErrMalformedEvent, err)
	}
	qty, err := bignum.Parse(args.Quantity)
	if err != nil {
		return fmt.Errorf("%w: OrderPlaced quantity: %v", ErrMalformedEvent, err)
	}

	pool, err := r.requirePool(ctx, args.PoolAddress)
	if err != nil {
		if errors.Is(err, ErrUnknownPool) {
			r.log.Warn().Str("pool", args.PoolAddress).Msg("order placed on unknown pool, skipping")
			return nil
		}
		return err
	}

	ts := evt.Block.Timestamp
	status := args.Status
	if status == "" {
		status = chain.StatusOpen
	}

	order := &database.Order{
		ID:           ids.Order(r.chainID, args.PoolAddress, args.OrderID),
		ChainID:      r.chainID,
		PoolAddress:  args.PoolAddress,
		OrderID:      args.OrderID,
		User:         args.User,
		Side:         args.Side,
		OrderType:    orderTypeOrDefault(args.OrderType),
		Price:        price.String(),
		Quantity:     qty.String(),
		Filled:       "0",
		Status:       status,
		Expiry:       args.Expiry,
		CreatedTs:    ts,
		LastUpdateTs: ts,
	}
	if err := r.store.InsertOrder(ctx, order); err != nil {
		return err
	}

	if err := r.store.UpsertOrderHistory(ctx, r.historyRow(order, evt, "placed")); err != nil {
		return err
	}

	level := &database.DepthLevel{
		ID:          ids.DepthLevel(r.chainID, args.PoolAddress, args.Side, price.String()),
		ChainID:     r.chainID,
		PoolAddress: args.PoolAddress,
		Side:        args.Side,
		Price:       price.String(),
		Quantity:    qty.String(),
		LastUpdated: ts,
	}
	if err := r.store.IncrementDepth(ctx, level); err != nil {
		return err
	}

	return r.gate.ExecuteIfInSync(evt.Block.Number, func() error {
		if err := r.appendExecutionReport(ctx, pool, order, ExecTypeNew, "0", "0", ts); err != nil {
			return err
		}
		if err := r.appendOrderEvent(ctx, order, ts); err != nil {
			return err
		}
		return r.appendDepthSnapshot(ctx, pool, ts)
	})
}

// HandleOrderMatched applies one on-chain fill: pool rollups, two trade
// rows plus the flat projection, both order fills, symmetric depth
// consumption, and the five candlestick buckets. In sync it additionally
// publishes trade, execution reports, depth, klines, and the mini-ticker.
func (r *Reducer) HandleOrderMatched(ctx context.Context, evt chain.Context, args chain.OrderMatchedArgs) error {
	switch {
	case args.PoolAddress == "":
		return malformed("OrderMatched", "poolAddress")
	case args.BuyOrderID == "":
		return malformed("OrderMatched", "buyOrderId")
	case args.SellOrderID == "":
		return malformed("OrderMatched", "sellOrderId")
	case args.TakerSide == "":
		return malformed("OrderMatched", "takerSide")
	}
	price, err := bignum.Parse(args.ExecutionPrice)
	if err != nil {
		return fmt.Errorf("%w: OrderMatched executionPrice: %v", ErrMalformedEvent, err)
	}
	qty, err := bignum.Parse(args.ExecutedQty)
	if err != nil {
		return fmt.Errorf("%w: OrderMatched executedQty: %v", ErrMalformedEvent, err)
	}

	pool, err := r.requirePool(ctx, args.PoolAddress)
	if err != nil {
		if errors.Is(err, ErrUnknownPool) {
			r.log.Warn().Str("pool", args.PoolAddress).Msg("match on unknown pool, skipping")
			return nil
		}
		return err
	}

	ts := evt.Block.Timestamp
	txHash := evt.Transaction.Hash

	// Quote-denominated volume: qty*price shifted by the base decimals.
	quoteDelta := new(big.Int).Mul(qty, price)
	quoteDelta.Quo(quoteDelta, pow10(pool.BaseDecimals))
	if err := r.store.ApplyTradeToPool(ctx, r.chainID, args.PoolAddress, price.String(), qty.String(), quoteDelta.String(), ts); err != nil {
		return err
	}

	for _, side := range []struct {
		user, side, orderID string
	}{
		{args.BuyUser, chain.SideBuy, args.BuyOrderID},
		{args.SellUser, chain.SideSell, args.SellOrderID},
	} {
		trade := &database.Trade{
			ID:          ids.Trade(r.chainID, txHash, side.user, side.side, args.BuyOrderID, args.SellOrderID, price.String(), qty.String()),
			ChainID:     r.chainID,
			PoolAddress: args.PoolAddress,
			OrderID:     side.orderID,
			User:        side.user,
			Side:        side.side,
			Price:       price.String(),
			Quantity:    qty.String(),
			TxHash:      txHash,
			Timestamp:   ts,
		}
		if err := r.store.InsertTrade(ctx, trade); err != nil {
			return err
		}
	}

	obt := &database.OrderBookTrade{
		ID:          ids.OrderBookTrade(r.chainID, txHash, args.BuyOrderID, args.SellOrderID, price.String(), qty.String()),
		ChainID:     r.chainID,
		PoolAddress: args.PoolAddress,
		Price:       price.String(),
		Quantity:    qty.String(),
		TakerSide:   args.TakerSide,
		BuyOrderID:  args.BuyOrderID,
		SellOrderID: args.SellOrderID,
		TxHash:      txHash,
		Timestamp:   ts,
	}
	if err := r.store.InsertOrderBookTrade(ctx, obt); err != nil {
		return err
	}

	buyOrder, err := r.applyFill(ctx, args.PoolAddress, args.BuyOrderID, qty.String(), ts, evt)
	if err != nil {
		return err
	}
	sellOrder, err := r.applyFill(ctx, args.PoolAddress, args.SellOrderID, qty.String(), ts, evt)
	if err != nil {
		return err
	}

	// A match consumes resting liquidity on both sides of the crossed
	// price level.
	for _, side := range []string{chain.SideBuy, chain.SideSell} {
		if err := r.store.DecrementDepth(ctx, r.chainID, args.PoolAddress, side, price.String(), qty.String(), ts); err != nil {
			return err
		}
	}

	buckets, err := r.updateBuckets(ctx, pool, price, qty, args.TakerSide, ts)
	if err != nil {
		return err
	}

	return r.gate.ExecuteIfInSync(evt.Block.Number, func() error {
		tradeEvent := streams.TradeEvent{
			ChainID:     r.chainID,
			PoolAddress: pool.PoolAddress,
			Symbol:      pool.Symbol(),
			TradeID:     obt.ID,
			Price:       price,
			Quantity:    qty,
			TakerSide:   args.TakerSide,
			BuyOrderID:  args.BuyOrderID,
			SellOrderID: args.SellOrderID,
			Timestamp:   ts,
		}
		if _, err := r.bus.Append(ctx, streams.Key(r.chainID, streams.StreamTrades), tradeEvent.Fields()); err != nil {
			return err
		}

		for _, o := range []*database.Order{buyOrder, sellOrder} {
			if o == nil {
				continue
			}
			if err := r.appendExecutionReport(ctx, pool, o, ExecTypeTrade, qty.String(), price.String(), ts); err != nil {
				return err
			}
			if err := r.appendOrderEvent(ctx, o, ts); err != nil {
				return err
			}
		}

		if err := r.appendDepthSnapshot(ctx, pool, ts); err != nil {
			return err
		}

		var daily *database.Bucket
		for _, kb := range buckets {
			if err := r.appendKline(ctx, pool, kb.interval, kb.bucket, ts); err != nil {
				return err
			}
			if kb.interval == "1d" {
				daily = kb.bucket
			}
		}
		if daily != nil {
			return r.appendMiniTicker(ctx, pool, daily, ts)
		}
		return nil
	})
}

// HandleOrderCancelled marks the order cancelled and refunds its remaining
// open quantity to the book.
func (r *Reducer) HandleOrderCancelled(ctx context.Context, evt chain.Context, args chain.OrderCancelledArgs) error {
	if args.PoolAddress == "" {
		return malformed("OrderCancelled", "poolAddress")
	}
	if args.OrderID == "" {
		return malformed("OrderCancelled", "orderId")
	}

	pool, err := r.requirePool(ctx, args.PoolAddress)
	if err != nil {
		if errors.Is(err, ErrUnknownPool) {
			r.log.Warn().Str("pool", args.PoolAddress).Msg("cancel on unknown pool, skipping")
			return nil
		}
		return err
	}

	ts := evt.Block.Timestamp
	id := ids.Order(r.chainID, args.PoolAddress, args.OrderID)
	order, err := r.store.UpdateOrderStatus(ctx, id, chain.StatusCancelled, ts)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			r.log.Warn().Str("order", args.OrderID).Msg("cancel for unknown or terminal order, skipping")
			return nil
		}
		return err
	}

	if err := r.store.UpsertOrderHistory(ctx, r.historyRow(order, evt, "cancelled")); err != nil {
		return err
	}

	remaining := new(big.Int).Sub(mustBig(order.Quantity), mustBig(order.Filled))
	if remaining.Sign() > 0 {
		if err := r.store.DecrementDepth(ctx, r.chainID, args.PoolAddress, order.Side, order.Price, remaining.String(), ts); err != nil {
			return err
		}
	}

	return r.gate.ExecuteIfInSync(evt.Block.Number, func() error {
		if err := r.appendExecutionReport(ctx, pool, order, ExecTypeCanceled, "0", "0", ts); err != nil {
			return err
		}
		if err := r.appendOrderEvent(ctx, order, ts); err != nil {
			return err
		}
		return r.appendDepthSnapshot(ctx, pool, ts)
	})
}

// HandleUpdateOrder applies a generic status transition. An expiry refunds
// the order's remaining open quantity to the book, mirroring a cancel; a
// partially filled expired order only returns what was still resting.
func (r *Reducer) HandleUpdateOrder(ctx context.Context, evt chain.Context, args chain.UpdateOrderArgs) error {
	if args.PoolAddress == "" {
		return malformed("UpdateOrder", "poolAddress")
	}
	if args.OrderID == "" {
		return malformed("UpdateOrder", "orderId")
	}
	if args.Status == "" {
		return malformed("UpdateOrder", "status")
	}

	pool, err := r.requirePool(ctx, args.PoolAddress)
	if err != nil {
		if errors.Is(err, ErrUnknownPool) {
			r.log.Warn().Str("pool", args.PoolAddress).Msg("order update on unknown pool, skipping")
			return nil
		}
		return err
	}

	ts := evt.Block.Timestamp
	id := ids.Order(r.chainID, args.PoolAddress, args.OrderID)
	order, err := r.store.UpdateOrderStatus(ctx, id, args.Status, ts)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			r.log.Warn().Str("order", args.OrderID).Msg("update for unknown or terminal order, skipping")
			return nil
		}
		return err
	}

	if err := r.store.UpsertOrderHistory(ctx, r.historyRow(order, evt, "updated")); err != nil {
		return err
	}

	if args.Status == chain.StatusExpired && order.Side != "" {
		remaining := new(big.Int).Sub(mustBig(order.Quantity), mustBig(order.Filled))
		if remaining.Sign() > 0 {
			if err := r.store.DecrementDepth(ctx, r.chainID, args.PoolAddress, order.Side, order.Price, remaining.String(), ts); err != nil {
				return err
			}
		}
	}

	return r.gate.ExecuteIfInSync(evt.Block.Number, func() error {
		if err := r.appendExecutionReport(ctx, pool, order, execTypeForStatus(args.Status), "0", "0", ts); err != nil {
			return err
		}
		if err := r.appendOrderEvent(ctx, order, ts); err != nil {
			return err
		}
		return r.appendDepthSnapshot(ctx, pool, ts)
	})
}

// applyFill folds one execution into an order. Orders the indexer never saw
// (or that are already terminal) are logged and skipped; the trade rows
// still stand.
func (r *Reducer) applyFill(ctx context.Context, poolAddress, orderID, qty string, ts int64, evt chain.Context) (*database.Order, error) {
	id := ids.Order(r.chainID, poolAddress, orderID)
	order, err := r.store.ApplyOrderFill(ctx, id, qty, ts)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			r.log.Warn().Str("order", orderID).Msg("fill for unknown or terminal order")
			return nil, nil
		}
		return nil, err
	}
	if err := r.store.UpsertOrderHistory(ctx, r.historyRow(order, evt, "filled")); err != nil {
		return nil, err
	}
	return order, nil
}

type intervalBucket struct {
	interval string
	bucket   *database.Bucket
}

// updateBuckets advances every candlestick interval for one fill and
// returns the merged rows for kline publication.
func (r *Reducer) updateBuckets(ctx context.Context, pool *database.Pool, price, qty *big.Int, takerSide string, ts int64) ([]intervalBucket, error) {
	base, quote, takerBuyBase, takerBuyQuote := tradeVolumes(price, qty, pool.BaseDecimals, pool.QuoteDecimals, takerSide)

	out := make([]intervalBucket, 0, len(intervals))
	for _, iv := range intervals {
		openTime, closeTime := bucketWindow(ts, iv.Seconds)
		seed := &database.Bucket{
			ID:                  ids.Bucket(r.chainID, pool.PoolAddress, openTime),
			ChainID:             r.chainID,
			PoolAddress:         pool.PoolAddress,
			OpenTime:            openTime,
			CloseTime:           closeTime,
			Close:               price.String(),
			Volume:              base.String(),
			QuoteVolume:         quote.String(),
			TakerBuyBaseVolume:  takerBuyBase.String(),
			TakerBuyQuoteVolume: takerBuyQuote.String(),
		}
		merged, err := r.store.UpsertBucket(ctx, iv.Label, seed)
		if err != nil {
			return nil, err
		}
		out = append(out, intervalBucket{interval: iv.Label, bucket: merged})
	}
	return out, nil
}

func (r *Reducer) appendKline(ctx context.Context, pool *database.Pool, interval string, b *database.Bucket, ts int64) error {
	event := streams.KlineEvent{
		ChainID:       r.chainID,
		PoolAddress:   pool.PoolAddress,
		Symbol:        pool.Symbol(),
		Interval:      interval,
		OpenTime:      b.OpenTime,
		CloseTime:     b.CloseTime,
		Open:          mustBig(b.Open),
		High:          mustBig(b.High),
		Low:           mustBig(b.Low),
		Close:         mustBig(b.Close),
		Volume:        mustDecimal(b.Volume),
		QuoteVolume:   mustDecimal(b.QuoteVolume),
		TakerBuyBase:  mustDecimal(b.TakerBuyBaseVolume),
		TakerBuyQuote: mustDecimal(b.TakerBuyQuoteVolume),
		Count:         b.Count,
		Timestamp:     ts,
	}
	_, err := r.bus.Append(ctx, streams.Key(r.chainID, streams.StreamKlines), event.Fields())
	return err
}

// appendMiniTicker derives the rolling-daily mini ticker from the current
// 1d bucket.
func (r *Reducer) appendMiniTicker(ctx context.Context, pool *database.Pool, daily *database.Bucket, ts int64) error {
	event := streams.MiniTickerEvent{
		ChainID:     r.chainID,
		PoolAddress: pool.PoolAddress,
		Symbol:      pool.Symbol(),
		Close:       mustBig(daily.Close),
		High:        mustBig(daily.High),
		Low:         mustBig(daily.Low),
		Volume:      mustDecimal(daily.Volume),
		Timestamp:   ts,
	}
	_, err := r.bus.Append(ctx, streams.Key(r.chainID, streams.StreamKlines), event.Fields())
	return err
}

func (r *Reducer) historyRow(o *database.Order, evt chain.Context, phase string) *database.OrderHistory {
	filledAt := fmt.Sprintf("%s-%d", phase, evt.Log.LogIndex)
	return &database.OrderHistory{
		ID:          ids.OrderHistory(o.ChainID, o.PoolAddress, o.OrderID, evt.Transaction.Hash, filledAt),
		ChainID:     o.ChainID,
		PoolAddress: o.PoolAddress,
		OrderID:     o.OrderID,
		TxHash:      evt.Transaction.Hash,
		User:        o.User,
		Side:        o.Side,
		OrderType:   o.OrderType,
		Price:       o.Price,
		Quantity:    o.Quantity,
		Filled:      o.Filled,
		Status:      o.Status,
		Timestamp:   evt.Block.Timestamp,
	}
}

func execTypeForStatus(status string) string {
	switch status {
	case chain.StatusExpired:
		return ExecTypeExpired
	case chain.StatusRejected:
		return ExecTypeRejected
	case chain.StatusCancelled:
		return ExecTypeCanceled
	default:
		return ExecTypeNew
	}
}

func orderTypeOrDefault(t string) string {
	if t == "" {
		return chain.OrderTypeLimit
	}
	return t
}

func pow10(decimals int32) *big.Int {
	return new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil)
}
