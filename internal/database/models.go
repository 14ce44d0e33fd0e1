package database

// Entity models for the market-data store. Monetary quantities are
// fixed-point integers carried as decimal strings; callers that need
// arithmetic parse them with bignum. Timestamps are unix seconds.

// Pool is one on-chain trading pair; created on PoolCreated, never deleted.
type Pool struct {
	ID                    string
	ChainID               int64
	PoolAddress           string
	OrderBook             string
	BaseCurrency          string
	QuoteCurrency         string
	BaseDecimals          int32
	QuoteDecimals         int32
	CumulativeVolumeBase  string
	CumulativeVolumeQuote string
	LastPrice             string
	LastUpdateTs          int64
}

// Symbol returns the lowercase base+quote concatenation used on the wire.
func (p *Pool) Symbol() string {
	return symbolOf(p.BaseCurrency, p.QuoteCurrency)
}

// Order is the current state of one on-chain order.
type Order struct {
	ID           string
	ChainID      int64
	PoolAddress  string
	OrderID      string
	User         string
	Side         string
	OrderType    string
	Price        string
	Quantity     string
	Filled       string
	Status       string
	Expiry       int64
	CreatedTs    int64
	LastUpdateTs int64
}

// OrderHistory is one append-only status/fill transition of an order.
type OrderHistory struct {
	ID          string
	ChainID     int64
	PoolAddress string
	OrderID     string
	TxHash      string
	User        string
	Side        string
	OrderType   string
	Price       string
	Quantity    string
	Filled      string
	Status      string
	Timestamp   int64
}

// DepthLevel is the aggregated open quantity at one (pool, side, price).
// A zero-quantity row may persist; reads must treat it as absent.
type DepthLevel struct {
	ID          string
	ChainID     int64
	PoolAddress string
	Side        string
	Price       string
	Quantity    string
	OrderCount  int64
	LastUpdated int64
}

// Trade is one fill from the perspective of one side; every match writes
// two rows.
type Trade struct {
	ID          string
	ChainID     int64
	PoolAddress string
	OrderID     string
	User        string
	Side        string
	Price       string
	Quantity    string
	TxHash      string
	Timestamp   int64
}

// OrderBookTrade is the flat one-row-per-match projection for time-series
// reads (tickers, recent trades).
type OrderBookTrade struct {
	ID          string
	ChainID     int64
	PoolAddress string
	Price       string
	Quantity    string
	TakerSide   string
	BuyOrderID  string
	SellOrderID string
	TxHash      string
	Timestamp   int64
}

// Bucket is one candlestick at a fixed interval. Average and the volume
// columns carry fractional scale; OHLC stay fixed-point integers.
type Bucket struct {
	ID                  string
	ChainID             int64
	PoolAddress         string
	OpenTime            int64
	CloseTime           int64
	Open                string
	High                string
	Low                 string
	Close               string
	Average             string
	Count               int64
	Volume              string
	QuoteVolume         string
	TakerBuyBaseVolume  string
	TakerBuyQuoteVolume string
}

// Balance is one user's holdings in one currency.
type Balance struct {
	ID          string
	ChainID     int64
	User        string
	Currency    string
	Available   string
	Locked      string
	LastUpdated int64
}

// Currency is one registered token.
type Currency struct {
	ID       string
	ChainID  int64
	Address  string
	Symbol   string
	Name     string
	Decimals int32
	IsActive bool
}
