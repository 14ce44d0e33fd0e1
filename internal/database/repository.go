package database

import (
	"context"
	"errors"
	"strings"

	"github.com/jackc/pgx/v5"
)

// ErrNotFound is returned by lookups that miss.
var ErrNotFound = errors.New("not found")

// Repository provides typed access to the entity store. Handlers hold the
// read/write path; the market service and gateway use read-only methods.
type Repository struct {
	db *DB
}

// NewRepository creates a new repository.
func NewRepository(db *DB) *Repository {
	return &Repository{db: db}
}

// HealthCheck pings the store.
func (r *Repository) HealthCheck(ctx context.Context) error {
	return r.db.Pool.Ping(ctx)
}

func symbolOf(base, quote string) string {
	return strings.ToLower(base + quote)
}

// ============================================================================
// POOLS
// ============================================================================

const poolColumns = `id, chain_id, pool_address, order_book, base_currency, quote_currency,
	base_decimals, quote_decimals, cumulative_volume_base::text, cumulative_volume_quote::text,
	last_price::text, last_update_ts`

// UpsertPool inserts a pool; replayed PoolCreated events are no-ops.
func (r *Repository) UpsertPool(ctx context.Context, p *Pool) error {
	query := `
		INSERT INTO pools (id, chain_id, pool_address, order_book, base_currency, quote_currency,
			base_decimals, quote_decimals, cumulative_volume_base, cumulative_volume_quote, last_price, last_update_ts)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9::numeric, $10::numeric, $11::numeric, $12)
		ON CONFLICT (id) DO NOTHING
	`
	_, err := r.db.Pool.Exec(ctx, query,
		p.ID, p.ChainID, strings.ToLower(p.PoolAddress), strings.ToLower(p.OrderBook),
		p.BaseCurrency, p.QuoteCurrency, p.BaseDecimals, p.QuoteDecimals,
		zeroIfEmpty(p.CumulativeVolumeBase), zeroIfEmpty(p.CumulativeVolumeQuote),
		zeroIfEmpty(p.LastPrice), p.LastUpdateTs,
	)
	return err
}

// GetPoolByAddress looks a pool up by its on-chain address.
func (r *Repository) GetPoolByAddress(ctx context.Context, chainID int64, poolAddress string) (*Pool, error) {
	query := `SELECT ` + poolColumns + ` FROM pools WHERE chain_id = $1 AND pool_address = $2`
	return r.scanPool(r.db.Pool.QueryRow(ctx, query, chainID, strings.ToLower(poolAddress)))
}

// GetPoolBySymbol resolves a lowercase base+quote symbol to its pool.
func (r *Repository) GetPoolBySymbol(ctx context.Context, chainID int64, symbol string) (*Pool, error) {
	query := `SELECT ` + poolColumns + ` FROM pools WHERE chain_id = $1 AND lower(base_currency || quote_currency) = $2`
	return r.scanPool(r.db.Pool.QueryRow(ctx, query, chainID, strings.ToLower(symbol)))
}

// ListPools returns every pool on a chain.
func (r *Repository) ListPools(ctx context.Context, chainID int64) ([]*Pool, error) {
	query := `SELECT ` + poolColumns + ` FROM pools WHERE chain_id = $1 ORDER BY pool_address`
	rows, err := r.db.Pool.Query(ctx, query, chainID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var pools []*Pool
	for rows.Next() {
		p, err := r.scanPool(rows)
		if err != nil {
			return nil, err
		}
		pools = append(pools, p)
	}
	return pools, rows.Err()
}

// ApplyTradeToPool folds one fill into the pool's rolling totals.
func (r *Repository) ApplyTradeToPool(ctx context.Context, chainID int64, poolAddress, lastPrice, baseDelta, quoteDelta string, ts int64) error {
	query := `
		UPDATE pools
		SET last_price = $3::numeric,
		    cumulative_volume_base = cumulative_volume_base + $4::numeric,
		    cumulative_volume_quote = cumulative_volume_quote + $5::numeric,
		    last_update_ts = $6
		WHERE chain_id = $1 AND pool_address = $2
	`
	tag, err := r.db.Pool.Exec(ctx, query, chainID, strings.ToLower(poolAddress), lastPrice, baseDelta, quoteDelta, ts)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func (r *Repository) scanPool(row rowScanner) (*Pool, error) {
	p := &Pool{}
	err := row.Scan(
		&p.ID, &p.ChainID, &p.PoolAddress, &p.OrderBook, &p.BaseCurrency, &p.QuoteCurrency,
		&p.BaseDecimals, &p.QuoteDecimals, &p.CumulativeVolumeBase, &p.CumulativeVolumeQuote,
		&p.LastPrice, &p.LastUpdateTs,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return p, nil
}

// ============================================================================
// CURRENCIES
// ============================================================================

// UpsertCurrency registers a token; replays refresh the metadata.
func (r *Repository) UpsertCurrency(ctx context.Context, c *Currency) error {
	query := `
		INSERT INTO currencies (id, chain_id, address, symbol, name, decimals, is_active)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE
		SET symbol = EXCLUDED.symbol, name = EXCLUDED.name,
		    decimals = EXCLUDED.decimals, is_active = EXCLUDED.is_active
	`
	_, err := r.db.Pool.Exec(ctx, query, c.ID, c.ChainID, strings.ToLower(c.Address), c.Symbol, c.Name, c.Decimals, c.IsActive)
	return err
}

// GetCurrencyByAddress looks a token up by address.
func (r *Repository) GetCurrencyByAddress(ctx context.Context, chainID int64, address string) (*Currency, error) {
	query := `SELECT id, chain_id, address, symbol, name, decimals, is_active FROM currencies WHERE chain_id = $1 AND address = $2`
	c := &Currency{}
	err := r.db.Pool.QueryRow(ctx, query, chainID, strings.ToLower(address)).Scan(
		&c.ID, &c.ChainID, &c.Address, &c.Symbol, &c.Name, &c.Decimals, &c.IsActive,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return c, nil
}

// ListCurrencies returns every registered token on a chain.
func (r *Repository) ListCurrencies(ctx context.Context, chainID int64) ([]*Currency, error) {
	query := `SELECT id, chain_id, address, symbol, name, decimals, is_active FROM currencies WHERE chain_id = $1 ORDER BY symbol`
	rows, err := r.db.Pool.Query(ctx, query, chainID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var currencies []*Currency
	for rows.Next() {
		c := &Currency{}
		if err := rows.Scan(&c.ID, &c.ChainID, &c.Address, &c.Symbol, &c.Name, &c.Decimals, &c.IsActive); err != nil {
			return nil, err
		}
		currencies = append(currencies, c)
	}
	return currencies, rows.Err()
}

func zeroIfEmpty(s string) string {
	if s == "" {
		return "0"
	}
	return s
}
