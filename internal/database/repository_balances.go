package database

import (
	"context"
	"errors"
	"strings"

	"github.com/jackc/pgx/v5"
)

const balanceColumns = `id, chain_id, user_address, currency, available::text, locked::text, last_updated`

// ApplyBalanceDelta folds a signed (available, locked) change into a
// balance row, creating it on first touch. Balances never go negative; a
// replayed or out-of-order decrement clamps at zero.
func (r *Repository) ApplyBalanceDelta(ctx context.Context, id string, chainID int64, user, currency, availableDelta, lockedDelta string, ts int64) (*Balance, error) {
	query := `
		INSERT INTO balances (id, chain_id, user_address, currency, available, locked, last_updated)
		VALUES ($1, $2, $3, $4, GREATEST(0::numeric, $5::numeric), GREATEST(0::numeric, $6::numeric), $7)
		ON CONFLICT (chain_id, user_address, currency) DO UPDATE
		SET available = GREATEST(0::numeric, balances.available + $5::numeric),
		    locked = GREATEST(0::numeric, balances.locked + $6::numeric),
		    last_updated = EXCLUDED.last_updated
		RETURNING ` + balanceColumns
	return r.scanBalance(r.db.Pool.QueryRow(ctx, query,
		id, chainID, strings.ToLower(user), strings.ToLower(currency), availableDelta, lockedDelta, ts,
	))
}

// GetBalance fetches one user's holdings in one currency.
func (r *Repository) GetBalance(ctx context.Context, chainID int64, user, currency string) (*Balance, error) {
	query := `SELECT ` + balanceColumns + ` FROM balances WHERE chain_id = $1 AND user_address = $2 AND currency = $3`
	return r.scanBalance(r.db.Pool.QueryRow(ctx, query, chainID, strings.ToLower(user), strings.ToLower(currency)))
}

// ListBalances returns every balance a user holds on a chain.
func (r *Repository) ListBalances(ctx context.Context, chainID int64, user string) ([]*Balance, error) {
	query := `SELECT ` + balanceColumns + ` FROM balances WHERE chain_id = $1 AND user_address = $2 ORDER BY currency`
	rows, err := r.db.Pool.Query(ctx, query, chainID, strings.ToLower(user))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var balances []*Balance
	for rows.Next() {
		b, err := r.scanBalance(rows)
		if err != nil {
			return nil, err
		}
		balances = append(balances, b)
	}
	return balances, rows.Err()
}

func (r *Repository) scanBalance(row rowScanner) (*Balance, error) {
	b := &Balance{}
	err := row.Scan(&b.ID, &b.ChainID, &b.User, &b.Currency, &b.Available, &b.Locked, &b.LastUpdated)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return b, nil
}
