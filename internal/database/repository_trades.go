package database

import (
	"context"
	"strings"
)

const tradeColumns = `id, chain_id, pool_address, order_id, user_address, side,
	price::text, quantity::text, tx_hash, timestamp`

const obtColumns = `id, chain_id, pool_address, price::text, quantity::text, taker_side,
	buy_order_id, sell_order_id, tx_hash, timestamp`

// InsertTrade records one side of a fill; replays are no-ops by id hash.
func (r *Repository) InsertTrade(ctx context.Context, t *Trade) error {
	query := `
		INSERT INTO trades (id, chain_id, pool_address, order_id, user_address, side, price, quantity, tx_hash, timestamp)
		VALUES ($1, $2, $3, $4, $5, $6, $7::numeric, $8::numeric, $9, $10)
		ON CONFLICT (id) DO NOTHING
	`
	_, err := r.db.Pool.Exec(ctx, query,
		t.ID, t.ChainID, strings.ToLower(t.PoolAddress), t.OrderID, strings.ToLower(t.User),
		t.Side, t.Price, t.Quantity, strings.ToLower(t.TxHash), t.Timestamp,
	)
	return err
}

// InsertOrderBookTrade records the flat one-row-per-match projection.
func (r *Repository) InsertOrderBookTrade(ctx context.Context, t *OrderBookTrade) error {
	query := `
		INSERT INTO order_book_trades (id, chain_id, pool_address, price, quantity, taker_side,
			buy_order_id, sell_order_id, tx_hash, timestamp)
		VALUES ($1, $2, $3, $4::numeric, $5::numeric, $6, $7, $8, $9, $10)
		ON CONFLICT (id) DO NOTHING
	`
	_, err := r.db.Pool.Exec(ctx, query,
		t.ID, t.ChainID, strings.ToLower(t.PoolAddress), t.Price, t.Quantity, t.TakerSide,
		t.BuyOrderID, t.SellOrderID, strings.ToLower(t.TxHash), t.Timestamp,
	)
	return err
}

// GetRecentOrderBookTrades returns the latest matches for a pool.
func (r *Repository) GetRecentOrderBookTrades(ctx context.Context, chainID int64, poolAddress string, limit int) ([]*OrderBookTrade, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `
		SELECT ` + obtColumns + `
		FROM order_book_trades
		WHERE chain_id = $1 AND pool_address = $2
		ORDER BY timestamp DESC
		LIMIT $3
	`
	return r.queryOrderBookTrades(ctx, query, chainID, strings.ToLower(poolAddress), limit)
}

// GetOrderBookTradesSince returns matches at or after a timestamp in
// ascending time order; the 24h ticker folds over this.
func (r *Repository) GetOrderBookTradesSince(ctx context.Context, chainID int64, poolAddress string, sinceTs int64) ([]*OrderBookTrade, error) {
	query := `
		SELECT ` + obtColumns + `
		FROM order_book_trades
		WHERE chain_id = $1 AND pool_address = $2 AND timestamp >= $3
		ORDER BY timestamp ASC
	`
	return r.queryOrderBookTrades(ctx, query, chainID, strings.ToLower(poolAddress), sinceTs)
}

// GetUserTrades returns a user's own fills in a pool, newest first.
func (r *Repository) GetUserTrades(ctx context.Context, chainID int64, poolAddress, user string, limit int) ([]*Trade, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `
		SELECT ` + tradeColumns + `
		FROM trades
		WHERE chain_id = $1 AND pool_address = $2 AND user_address = $3
		ORDER BY timestamp DESC
		LIMIT $4
	`
	rows, err := r.db.Pool.Query(ctx, query, chainID, strings.ToLower(poolAddress), strings.ToLower(user), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var trades []*Trade
	for rows.Next() {
		t := &Trade{}
		if err := rows.Scan(&t.ID, &t.ChainID, &t.PoolAddress, &t.OrderID, &t.User, &t.Side,
			&t.Price, &t.Quantity, &t.TxHash, &t.Timestamp); err != nil {
			return nil, err
		}
		trades = append(trades, t)
	}
	return trades, rows.Err()
}

func (r *Repository) queryOrderBookTrades(ctx context.Context, query string, args ...interface{}) ([]*OrderBookTrade, error) {
	rows, err := r.db.Pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var trades []*OrderBookTrade
	for rows.Next() {
		t := &OrderBookTrade{}
		if err := rows.Scan(&t.ID, &t.ChainID, &t.PoolAddress, &t.Price, &t.Quantity, &t.TakerSide,
			&t.BuyOrderID, &t.SellOrderID, &t.TxHash, &t.Timestamp); err != nil {
			return nil, err
		}
		trades = append(trades, t)
	}
	return trades, rows.Err()
}
