package indexer

import (
	"context"

	"clob-market-data/internal/chain"
	"clob-market-data/internal/database"
	"clob-market-data/internal/ids"
)

// HandlePoolCreated registers a new trading pair and its two tokens.
// Pools are never deleted; a replayed event is a no-op.
func (r *Reducer) HandlePoolCreated(ctx context.Context, evt chain.Context, args chain.PoolCreatedArgs) error {
	switch {
	case args.PoolAddress == "":
		return malformed("PoolCreated", "poolAddress")
	case args.BaseSymbol == "":
		return malformed("PoolCreated", "baseSymbol")
	case args.QuoteSymbol == "":
		return malformed("PoolCreated", "quoteSymbol")
	}

	for _, c := range []struct {
		address  string
		symbol   string
		decimals int32
	}{
		{args.BaseCurrency, args.BaseSymbol, args.BaseDecimals},
		{args.QuoteCurrency, args.QuoteSymbol, args.QuoteDecimals},
	} {
		if c.address == "" {
			continue
		}
		currency := &database.Currency{
			ID:       ids.Currency(r.chainID, c.address),
			ChainID:  r.chainID,
			Address:  c.address,
			Symbol:   c.symbol,
			Name:     c.symbol,
			Decimals: c.decimals,
			IsActive: true,
		}
		if err := r.store.UpsertCurrency(ctx, currency); err != nil {
			return err
		}
	}

	pool := &database.Pool{
		ID:            ids.Pool(r.chainID, args.PoolAddress),
		ChainID:       r.chainID,
		PoolAddress:   args.PoolAddress,
		OrderBook:     args.OrderBook,
		BaseCurrency:  args.BaseSymbol,
		QuoteCurrency: args.QuoteSymbol,
		BaseDecimals:  args.BaseDecimals,
		QuoteDecimals: args.QuoteDecimals,
		LastUpdateTs:  evt.Block.Timestamp,
	}
	if err := r.store.UpsertPool(ctx, pool); err != nil {
		return err
	}

	r.log.Info().Str("pool", args.PoolAddress).Str("symbol", pool.Symbol()).Msg("pool created")
	return nil
}
