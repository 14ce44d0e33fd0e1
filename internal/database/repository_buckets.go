package database

import (
	"context"
	"fmt"
	"strings"
)

// bucketTables whitelists the per-interval tables; interval strings come in
// from REST parameters so they are never interpolated directly.
var bucketTables = map[string]string{
	"1m":  "buckets_1m",
	"5m":  "buckets_5m",
	"30m": "buckets_30m",
	"1h":  "buckets_1h",
	"1d":  "buckets_1d",
}

// ErrBadInterval is returned for an unrecognized kline interval.
var ErrBadInterval = fmt.Errorf("unknown kline interval")

func bucketTable(interval string) (string, error) {
	table, ok := bucketTables[interval]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrBadInterval, interval)
	}
	return table, nil
}

const bucketColumns = `id, chain_id, pool_address, open_time, close_time,
	open::text, high::text, low::text, close::text, average::text, count,
	volume::text, quote_volume::text, taker_buy_base_volume::text, taker_buy_quote_volume::text`

// UpsertBucket folds one trade into an interval bucket. The first trade of a
// window seeds OHLC at the trade price; later trades update close, stretch
// high/low, advance the incremental average, and accumulate volumes — all in
// one atomic statement. The merged row is returned for kline publication.
func (r *Repository) UpsertBucket(ctx context.Context, interval string, b *Bucket) (*Bucket, error) {
	table, err := bucketTable(interval)
	if err != nil {
		return nil, err
	}
	query := fmt.Sprintf(`
		INSERT INTO %s (id, chain_id, pool_address, open_time, close_time,
			open, high, low, close, average, count,
			volume, quote_volume, taker_buy_base_volume, taker_buy_quote_volume)
		VALUES ($1, $2, $3, $4, $5, $6::numeric, $6::numeric, $6::numeric, $6::numeric, $6::numeric, 1,
			$7::numeric, $8::numeric, $9::numeric, $10::numeric)
		ON CONFLICT (chain_id, pool_address, open_time) DO UPDATE
		SET close = EXCLUDED.close,
		    high = GREATEST(%s.high, EXCLUDED.high),
		    low = LEAST(%s.low, EXCLUDED.low),
		    average = (%s.average * %s.count + EXCLUDED.close) / (%s.count + 1),
		    count = %s.count + 1,
		    volume = %s.volume + EXCLUDED.volume,
		    quote_volume = %s.quote_volume + EXCLUDED.quote_volume,
		    taker_buy_base_volume = %s.taker_buy_base_volume + EXCLUDED.taker_buy_base_volume,
		    taker_buy_quote_volume = %s.taker_buy_quote_volume + EXCLUDED.taker_buy_quote_volume
		RETURNING %s`,
		table, table, table, table, table, table, table, table, table, table, table, bucketColumns)

	row := r.db.Pool.QueryRow(ctx, query,
		b.ID, b.ChainID, strings.ToLower(b.PoolAddress), b.OpenTime, b.CloseTime,
		b.Close, b.Volume, b.QuoteVolume, b.TakerBuyBaseVolume, b.TakerBuyQuoteVolume,
	)
	return r.scanBucket(row)
}

// GetKlines returns buckets for an interval in ascending open-time order.
// The newest `limit` windows are selected, optionally bounded by the
// open-time range.
func (r *Repository) GetKlines(ctx context.Context, interval string, chainID int64, poolAddress string, limit int, startTime, endTime int64) ([]*Bucket, error) {
	table, err := bucketTable(interval)
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 500
	}

	query := fmt.Sprintf(`
		SELECT %s FROM %s
		WHERE chain_id = $1 AND pool_address = $2
		  AND ($3 = 0 OR open_time >= $3)
		  AND ($4 = 0 OR open_time <= $4)
		ORDER BY open_time DESC
		LIMIT $5`, bucketColumns, table)

	rows, err := r.db.Pool.Query(ctx, query, chainID, strings.ToLower(poolAddress), startTime, endTime, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var buckets []*Bucket
	for rows.Next() {
		b, err := r.scanBucket(rows)
		if err != nil {
			return nil, err
		}
		buckets = append(buckets, b)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Selected newest-first; callers want ascending time.
	for i, j := 0, len(buckets)-1; i < j; i, j = i+1, j-1 {
		buckets[i], buckets[j] = buckets[j], buckets[i]
	}
	return buckets, nil
}

func (r *Repository) scanBucket(row rowScanner) (*Bucket, error) {
	b := &Bucket{}
	err := row.Scan(
		&b.ID, &b.ChainID, &b.PoolAddress, &b.OpenTime, &b.CloseTime,
		&b.Open, &b.High, &b.Low, &b.Close, &b.Average, &b.Count,
		&b.Volume, &b.QuoteVolume, &b.TakerBuyBaseVolume, &b.TakerBuyQuoteVolume,
	)
	if err != nil {
		return nil, err
	}
	return b, nil
}
