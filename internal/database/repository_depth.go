package database

import (
	"context"
	"strings"
)

const depthColumns = `id, chain_id, pool_address, side, price::text, quantity::text, order_count, last_updated`

// IncrementDepth adds open quantity at a level: a fresh level starts at the
// order's quantity with one resting order; an existing level accumulates.
func (r *Repository) IncrementDepth(ctx context.Context, l *DepthLevel) error {
	query := `
		INSERT INTO depth_levels (id, chain_id, pool_address, side, price, quantity, order_count, last_updated)
		VALUES ($1, $2, $3, $4, $5::numeric, $6::numeric, 1, $7)
		ON CONFLICT (chain_id, pool_address, side, price) DO UPDATE
		SET quantity = depth_levels.quantity + EXCLUDED.quantity,
		    order_count = depth_levels.order_count + 1,
		    last_updated = EXCLUDED.last_updated
	`
	_, err := r.db.Pool.Exec(ctx, query,
		l.ID, l.ChainID, strings.ToLower(l.PoolAddress), l.Side, l.Price, l.Quantity, l.LastUpdated,
	)
	return err
}

// DecrementDepth removes consumed or reversed quantity from a level. Rows
// are clamped at zero rather than deleted; reads ignore empty levels.
func (r *Repository) DecrementDepth(ctx context.Context, chainID int64, poolAddress, side, price, qty string, ts int64) error {
	query := `
		UPDATE depth_levels
		SET quantity = GREATEST(0::numeric, quantity - $5::numeric),
		    order_count = GREATEST(0, order_count - 1),
		    last_updated = $6
		WHERE chain_id = $1 AND pool_address = $2 AND side = $3 AND price = $4::numeric
	`
	_, err := r.db.Pool.Exec(ctx, query, chainID, strings.ToLower(poolAddress), side, price, qty, ts)
	return err
}

// GetDepthSnapshot returns the top-N of each side of the resting book:
// bids descending, asks ascending, empty levels excluded.
func (r *Repository) GetDepthSnapshot(ctx context.Context, chainID int64, poolAddress string, limit int) (bids, asks []*DepthLevel, err error) {
	if limit <= 0 {
		limit = 100
	}
	bids, err = r.queryDepth(ctx, `
		SELECT `+depthColumns+`
		FROM depth_levels
		WHERE chain_id = $1 AND pool_address = $2 AND side = 'Buy' AND quantity > 0
		ORDER BY price DESC
		LIMIT $3
	`, chainID, strings.ToLower(poolAddress), limit)
	if err != nil {
		return nil, nil, err
	}
	asks, err = r.queryDepth(ctx, `
		SELECT `+depthColumns+`
		FROM depth_levels
		WHERE chain_id = $1 AND pool_address = $2 AND side = 'Sell' AND quantity > 0
		ORDER BY price ASC
		LIMIT $3
	`, chainID, strings.ToLower(poolAddress), limit)
	if err != nil {
		return nil, nil, err
	}
	return bids, asks, nil
}

func (r *Repository) queryDepth(ctx context.Context, query string, args ...interface{}) ([]*DepthLevel, error) {
	rows, err := r.db.Pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var levels []*DepthLevel
	for rows.Next() {
		l := &DepthLevel{}
		if err := rows.Scan(&l.ID, &l.ChainID, &l.PoolAddress, &l.Side, &l.Price, &l.Quantity, &l.OrderCount, &l.LastUpdated); err != nil {
			return nil, err
		}
		levels = append(levels, l)
	}
	return levels, rows.Err()
}
