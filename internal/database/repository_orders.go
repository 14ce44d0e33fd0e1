package database

import (
	"context"
	"errors"
	"strings"

	"github.com/jackc/pgx/v5"
)

const orderColumns = `id, chain_id, pool_address, order_id, user_address, side, order_type,
	price::text, quantity::text, filled::text, status, expiry, created_ts, last_update_ts`

// Terminal order statuses are absorbing: no update transitions out of them.
const terminalStatuses = `('Filled', 'Cancelled', 'Rejected', 'Expired')`

// InsertOrder records a newly placed order; duplicate events are no-ops.
func (r *Repository) InsertOrder(ctx context.Context, o *Order) error {
	query := `
		INSERT INTO orders (id, chain_id, pool_address, order_id, user_address, side, order_type,
			price, quantity, filled, status, expiry, created_ts, last_update_ts)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8::numeric, $9::numeric, $10::numeric, $11, $12, $13, $14)
		ON CONFLICT (id) DO NOTHING
	`
	_, err := r.db.Pool.Exec(ctx, query,
		o.ID, o.ChainID, strings.ToLower(o.PoolAddress), o.OrderID, strings.ToLower(o.User),
		o.Side, o.OrderType, o.Price, o.Quantity, zeroIfEmpty(o.Filled), o.Status,
		o.Expiry, o.CreatedTs, o.LastUpdateTs,
	)
	return err
}

// GetOrder fetches an order by its derived primary key.
func (r *Repository) GetOrder(ctx context.Context, id string) (*Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders WHERE id = $1`
	return r.scanOrder(r.db.Pool.QueryRow(ctx, query, id))
}

// ApplyOrderFill accumulates one execution into an order and derives the
// status in the same statement, so a replayed block cannot observe a
// half-applied fill. Terminal orders are left untouched.
func (r *Repository) ApplyOrderFill(ctx context.Context, id, qty string, ts int64) (*Order, error) {
	query := `
		UPDATE orders
		SET filled = filled + $2::numeric,
		    status = CASE WHEN filled + $2::numeric >= quantity THEN 'Filled' ELSE 'PartiallyFilled' END,
		    last_update_ts = $3
		WHERE id = $1 AND status NOT IN ` + terminalStatuses + `
		RETURNING ` + orderColumns
	return r.scanOrder(r.db.Pool.QueryRow(ctx, query, id, qty, ts))
}

// UpdateOrderStatus moves an order to a new status unless it is already
// terminal. Returns the updated row, or ErrNotFound when the guard held.
func (r *Repository) UpdateOrderStatus(ctx context.Context, id, status string, ts int64) (*Order, error) {
	query := `
		UPDATE orders
		SET status = $2, last_update_ts = $3
		WHERE id = $1 AND status NOT IN ` + terminalStatuses + `
		RETURNING ` + orderColumns
	return r.scanOrder(r.db.Pool.QueryRow(ctx, query, id, status, ts))
}

// UpsertOrderHistory appends a transition row; a replay overwrites it with
// the latest status and fill.
func (r *Repository) UpsertOrderHistory(ctx context.Context, h *OrderHistory) error {
	query := `
		INSERT INTO order_history (id, chain_id, pool_address, order_id, tx_hash, user_address,
			side, order_type, price, quantity, filled, status, timestamp)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9::numeric, $10::numeric, $11::numeric, $12, $13)
		ON CONFLICT (id) DO UPDATE
		SET status = EXCLUDED.status, filled = EXCLUDED.filled, timestamp = EXCLUDED.timestamp
	`
	_, err := r.db.Pool.Exec(ctx, query,
		h.ID, h.ChainID, strings.ToLower(h.PoolAddress), h.OrderID, strings.ToLower(h.TxHash),
		strings.ToLower(h.User), h.Side, h.OrderType, zeroIfEmpty(h.Price), zeroIfEmpty(h.Quantity),
		zeroIfEmpty(h.Filled), h.Status, h.Timestamp,
	)
	return err
}

// GetOpenOrders lists a user's open orders in one pool, newest first.
func (r *Repository) GetOpenOrders(ctx context.Context, chainID int64, poolAddress, user string) ([]*Order, error) {
	query := `
		SELECT ` + orderColumns + `
		FROM orders
		WHERE chain_id = $1 AND pool_address = $2 AND user_address = $3 AND status IN ('Open', 'PartiallyFilled')
		ORDER BY created_ts DESC
	`
	return r.queryOrders(ctx, query, chainID, strings.ToLower(poolAddress), strings.ToLower(user))
}

// GetAllOrders lists a user's orders in one pool regardless of status.
func (r *Repository) GetAllOrders(ctx context.Context, chainID int64, poolAddress, user string, limit int) ([]*Order, error) {
	query := `
		SELECT ` + orderColumns + `
		FROM orders
		WHERE chain_id = $1 AND pool_address = $2 AND user_address = $3
		ORDER BY created_ts DESC
		LIMIT $4
	`
	if limit <= 0 {
		limit = 500
	}
	return r.queryOrders(ctx, query, chainID, strings.ToLower(poolAddress), strings.ToLower(user), limit)
}

func (r *Repository) queryOrders(ctx context.Context, query string, args ...interface{}) ([]*Order, error) {
	rows, err := r.db.Pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var orders []*Order
	for rows.Next() {
		o, err := r.scanOrder(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, o)
	}
	return orders, rows.Err()
}

func (r *Repository) scanOrder(row rowScanner) (*Order, error) {
	o := &Order{}
	err := row.Scan(
		&o.ID, &o.ChainID, &o.PoolAddress, &o.OrderID, &o.User, &o.Side, &o.OrderType,
		&o.Price, &o.Quantity, &o.Filled, &o.Status, &o.Expiry, &o.CreatedTs, &o.LastUpdateTs,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return o, nil
}
