package indexer

import (
	"math/big"

	"github.com/shopspring/decimal"

	"clob-market-data/internal/bignum"
	"clob-market-data/internal/chain"
)

// Candlestick intervals, in seconds, with their wire labels.
var intervals = []struct {
	Seconds int64
	Label   string
}{
	{60, "1m"},
	{300, "5m"},
	{1800, "30m"},
	{3600, "1h"},
	{86400, "1d"},
}

// bucketWindow returns the window a timestamp falls into for an interval.
func bucketWindow(ts, intervalSeconds int64) (openTime, closeTime int64) {
	openTime = (ts / intervalSeconds) * intervalSeconds
	return openTime, openTime + intervalSeconds - 1
}

// tradeVolumes computes the fractional volume contributions of one fill.
// Base volume shifts the raw quantity by the base decimals; quote volume
// shifts price*quantity by the combined decimals. Taker-buy volumes only
// accrue when the incoming order was a buy.
func tradeVolumes(price, qty *big.Int, baseDecimals, quoteDecimals int32, takerSide string) (base, quote, takerBuyBase, takerBuyQuote decimal.Decimal) {
	base = bignum.Scale(qty, baseDecimals)
	quote = bignum.ScaleProduct(price, qty, quoteDecimals, baseDecimals)
	if takerSide == chain.SideBuy {
		takerBuyBase = base
		takerBuyQuote = quote
	}
	return base, quote, takerBuyBase, takerBuyQuote
}

func mustDecimal(s string) decimal.Decimal {
	if s == "" {
		return decimal.Decimal{}
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}
