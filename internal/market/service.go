// Package market computes the read-side views served over REST: depth
// snapshots, 24h ticker rollups, klines, and user-scoped listings. It only
// ever reads from the entity store.
package market

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"clob-market-data/internal/bignum"
	"clob-market-data/internal/database"
)

// ErrSymbolUnknown is returned when a symbol resolves to no pool.
var ErrSymbolUnknown = errors.New("SYMBOL_UNKNOWN")

// Store is the read surface; satisfied by *database.Repository.
type Store interface {
	GetPoolBySymbol(ctx context.Context, chainID int64, symbol string) (*database.Pool, error)
	GetPoolByAddress(ctx context.Context, chainID int64, poolAddress string) (*database.Pool, error)
	ListPools(ctx context.Context, chainID int64) ([]*database.Pool, error)
	ListCurrencies(ctx context.Context, chainID int64) ([]*database.Currency, error)
	GetCurrencyByAddress(ctx context.Context, chainID int64, address string) (*database.Currency, error)
	GetDepthSnapshot(ctx context.Context, chainID int64, poolAddress string, limit int) (bids, asks []*database.DepthLevel, err error)
	GetRecentOrderBookTrades(ctx context.Context, chainID int64, poolAddress string, limit int) ([]*database.OrderBookTrade, error)
	GetOrderBookTradesSince(ctx context.Context, chainID int64, poolAddress string, sinceTs int64) ([]*database.OrderBookTrade, error)
	GetUserTrades(ctx context.Context, chainID int64, poolAddress, user string, limit int) ([]*database.Trade, error)
	GetKlines(ctx context.Context, interval string, chainID int64, poolAddress string, limit int, startTime, endTime int64) ([]*database.Bucket, error)
	GetOpenOrders(ctx context.Context, chainID int64, poolAddress, user string) ([]*database.Order, error)
	GetAllOrders(ctx context.Context, chainID int64, poolAddress, user string, limit int) ([]*database.Order, error)
	ListBalances(ctx context.Context, chainID int64, user string) ([]*database.Balance, error)
}

// Service answers market-data queries for one chain namespace.
type Service struct {
	store   Store
	chainID int64
	now     func() int64
}

// NewService builds the read service.
func NewService(store Store, chainID int64) *Service {
	return &Service{store: store, chainID: chainID, now: func() int64 { return time.Now().Unix() }}
}

// ResolveSymbol maps a lowercase base+quote symbol to its pool.
func (s *Service) ResolveSymbol(ctx context.Context, symbol string) (*database.Pool, error) {
	if symbol == "" {
		return nil, fmt.Errorf("%w: empty symbol", ErrSymbolUnknown)
	}
	pool, err := s.store.GetPoolBySymbol(ctx, s.chainID, strings.ToLower(symbol))
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrSymbolUnknown, symbol)
		}
		return nil, err
	}
	return pool, nil
}

// LookupSymbol maps a pool address back to its wire symbol.
func (s *Service) LookupSymbol(ctx context.Context, poolAddress string) (string, error) {
	pool, err := s.store.GetPoolByAddress(ctx, s.chainID, poolAddress)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return "", fmt.Errorf("%w: %s", ErrSymbolUnknown, poolAddress)
		}
		return "", err
	}
	return pool.Symbol(), nil
}

// DepthView is the REST order-book snapshot.
type DepthView struct {
	Symbol       string     `json:"symbol"`
	LastUpdateTs int64      `json:"lastUpdateTime"`
	Bids         [][]string `json:"bids"`
	Asks         [][]string `json:"asks"`
}

// Depth returns the top-N bids (price descending) and asks (ascending).
func (s *Service) Depth(ctx context.Context, symbol string, limit int) (*DepthView, error) {
	pool, err := s.ResolveSymbol(ctx, symbol)
	if err != nil {
		return nil, err
	}
	bids, asks, err := s.store.GetDepthSnapshot(ctx, s.chainID, pool.PoolAddress, limit)
	if err != nil {
		return nil, err
	}
	return &DepthView{
		Symbol:       strings.ToUpper(pool.Symbol()),
		LastUpdateTs: pool.LastUpdateTs * 1000,
		Bids:         levelPairs(bids),
		Asks:         levelPairs(asks),
	}, nil
}

func levelPairs(levels []*database.DepthLevel) [][]string {
	out := make([][]string, 0, len(levels))
	for _, l := range levels {
		out = append(out, []string{l.Price, l.Quantity})
	}
	return out
}

// Ticker24 is the rolling 24h statistics view.
type Ticker24 struct {
	Symbol             string `json:"symbol"`
	PriceChange        string `json:"priceChange"`
	PriceChangePercent string `json:"priceChangePercent"`
	OpenPrice          string `json:"openPrice"`
	LastPrice          string `json:"lastPrice"`
	HighPrice          string `json:"highPrice"`
	LowPrice           string `json:"lowPrice"`
	Volume             string `json:"volume"`
	QuoteVolume        string `json:"quoteVolume"`
	TradeCount         int    `json:"count"`
	OpenTime           int64  `json:"openTime"`
	CloseTime          int64  `json:"closeTime"`
}

// Ticker24hr folds every match of the last 24 hours into OHLC, volume and
// change statistics. With no trades all prices report zero.
func (s *Service) Ticker24hr(ctx context.Context, symbol string) (*Ticker24, error) {
	pool, err := s.ResolveSymbol(ctx, symbol)
	if err != nil {
		return nil, err
	}

	now := s.now()
	since := now - 86400
	trades, err := s.store.GetOrderBookTradesSince(ctx, s.chainID, pool.PoolAddress, since)
	if err != nil {
		return nil, err
	}

	t := &Ticker24{
		Symbol:             strings.ToUpper(pool.Symbol()),
		PriceChange:        "0",
		PriceChangePercent: "0",
		OpenPrice:          "0",
		LastPrice:          "0",
		HighPrice:          "0",
		LowPrice:           "0",
		Volume:             "0",
		QuoteVolume:        "0",
		OpenTime:           since * 1000,
		CloseTime:          now * 1000,
	}
	if len(trades) == 0 {
		return t, nil
	}

	open := bignum.MustParse(trades[0].Price)
	last := bignum.MustParse(trades[len(trades)-1].Price)
	high := new(big.Int).Set(open)
	low := new(big.Int).Set(open)
	volume := decimal.Zero

	for _, trade := range trades {
		price := bignum.MustParse(trade.Price)
		if price.Cmp(high) > 0 {
			high.Set(price)
		}
		if price.Cmp(low) < 0 {
			low.Set(price)
		}
		volume = volume.Add(bignum.Scale(bignum.MustParse(trade.Quantity), pool.BaseDecimals))
	}

	change := decimal.NewFromBigInt(last, 0).Sub(decimal.NewFromBigInt(open, 0))
	percent := decimal.Zero
	if open.Sign() != 0 {
		percent = change.Div(decimal.NewFromBigInt(open, 0)).Mul(decimal.NewFromInt(100)).Round(4)
	}
	quoteVolume := volume.Mul(bignum.Scale(last, pool.QuoteDecimals))

	t.PriceChange = change.String()
	t.PriceChangePercent = percent.String()
	t.OpenPrice = open.String()
	t.LastPrice = last.String()
	t.HighPrice = high.String()
	t.LowPrice = low.String()
	t.Volume = volume.String()
	t.QuoteVolume = quoteVolume.String()
	t.TradeCount = len(trades)
	return t, nil
}

// PriceView is the lightweight last-price lookup.
type PriceView struct {
	Symbol string `json:"symbol"`
	Price  string `json:"price"`
}

// TickerPrice returns the pool's last trade price.
func (s *Service) TickerPrice(ctx context.Context, symbol string) (*PriceView, error) {
	pool, err := s.ResolveSymbol(ctx, symbol)
	if err != nil {
		return nil, err
	}
	return &PriceView{Symbol: strings.ToUpper(pool.Symbol()), Price: pool.LastPrice}, nil
}

// KlineView is one candlestick row on the REST surface.
type KlineView struct {
	OpenTime            int64  `json:"openTime"`
	CloseTime           int64  `json:"closeTime"`
	Open                string `json:"open"`
	High                string `json:"high"`
	Low                 string `json:"low"`
	Close               string `json:"close"`
	Average             string `json:"average"`
	Volume              string `json:"volume"`
	QuoteVolume         string `json:"quoteVolume"`
	TradeCount          int64  `json:"count"`
	TakerBuyBaseVolume  string `json:"takerBuyBaseVolume"`
	TakerBuyQuoteVolume string `json:"takerBuyQuoteVolume"`
}

// Klines returns candlesticks in ascending open-time order.
func (s *Service) Klines(ctx context.Context, symbol, interval string, limit int, startTime, endTime int64) ([]KlineView, error) {
	pool, err := s.ResolveSymbol(ctx, symbol)
	if err != nil {
		return nil, err
	}
	buckets, err := s.store.GetKlines(ctx, interval, s.chainID, pool.PoolAddress, limit, startTime, endTime)
	if err != nil {
		return nil, err
	}
	out := make([]KlineView, 0, len(buckets))
	for _, b := range buckets {
		out = append(out, KlineView{
			OpenTime:            b.OpenTime * 1000,
			CloseTime:           b.CloseTime * 1000,
			Open:                b.Open,
			High:                b.High,
			Low:                 b.Low,
			Close:               b.Close,
			Average:             b.Average,
			Volume:              b.Volume,
			QuoteVolume:         b.QuoteVolume,
			TradeCount:          b.Count,
			TakerBuyBaseVolume:  b.TakerBuyBaseVolume,
			TakerBuyQuoteVolume: b.TakerBuyQuoteVolume,
		})
	}
	return out, nil
}

// PairView describes one tradable market.
type PairView struct {
	Symbol        string `json:"symbol"`
	PoolAddress   string `json:"poolAddress"`
	BaseCurrency  string `json:"baseCurrency"`
	QuoteCurrency string `json:"quoteCurrency"`
	BaseDecimals  int32  `json:"baseDecimals"`
	QuoteDecimals int32  `json:"quoteDecimals"`
	LastPrice     string `json:"lastPrice"`
	VolumeBase    string `json:"volumeBase"`
	VolumeQuote   string `json:"volumeQuote"`
}

// Pairs lists every pool on the chain.
func (s *Service) Pairs(ctx context.Context) ([]PairView, error) {
	pools, err := s.store.ListPools(ctx, s.chainID)
	if err != nil {
		return nil, err
	}
	out := make([]PairView, 0, len(pools))
	for _, p := range pools {
		out = append(out, PairView{
			Symbol:        strings.ToUpper(p.Symbol()),
			PoolAddress:   p.PoolAddress,
			BaseCurrency:  p.BaseCurrency,
			QuoteCurrency: p.QuoteCurrency,
			BaseDecimals:  p.BaseDecimals,
			QuoteDecimals: p.QuoteDecimals,
			LastPrice:     p.LastPrice,
			VolumeBase:    p.CumulativeVolumeBase,
			VolumeQuote:   p.CumulativeVolumeQuote,
		})
	}
	return out, nil
}

// Currencies lists every registered token.
func (s *Service) Currencies(ctx context.Context) ([]*database.Currency, error) {
	return s.store.ListCurrencies(ctx, s.chainID)
}

// Currency looks one token up by address.
func (s *Service) Currency(ctx context.Context, address string) (*database.Currency, error) {
	return s.store.GetCurrencyByAddress(ctx, s.chainID, address)
}

// TradeView is one fill on the REST surface.
type TradeView struct {
	ID        string `json:"id"`
	Price     string `json:"price"`
	Quantity  string `json:"qty"`
	Side      string `json:"side,omitempty"`
	Timestamp int64  `json:"time"`
}

// Trades returns recent fills for a pool; with a user filter it returns
// that user's own fills instead.
func (s *Service) Trades(ctx context.Context, symbol, user string, limit int) ([]TradeView, error) {
	pool, err := s.ResolveSymbol(ctx, symbol)
	if err != nil {
		return nil, err
	}

	if user != "" {
		trades, err := s.store.GetUserTrades(ctx, s.chainID, pool.PoolAddress, user, limit)
		if err != nil {
			return nil, err
		}
		out := make([]TradeView, 0, len(trades))
		for _, t := range trades {
			out = append(out, TradeView{ID: t.ID, Price: t.Price, Quantity: t.Quantity, Side: t.Side, Timestamp: t.Timestamp * 1000})
		}
		return out, nil
	}

	trades, err := s.store.GetRecentOrderBookTrades(ctx, s.chainID, pool.PoolAddress, limit)
	if err != nil {
		return nil, err
	}
	out := make([]TradeView, 0, len(trades))
	for _, t := range trades {
		out = append(out, TradeView{ID: t.ID, Price: t.Price, Quantity: t.Quantity, Side: t.TakerSide, Timestamp: t.Timestamp * 1000})
	}
	return out, nil
}

// OrderView is one order on the REST surface.
type OrderView struct {
	OrderID      string `json:"orderId"`
	Symbol       string `json:"symbol"`
	User         string `json:"user"`
	Side         string `json:"side"`
	Type         string `json:"type"`
	Price        string `json:"price"`
	Quantity     string `json:"origQty"`
	Filled       string `json:"executedQty"`
	Status       string `json:"status"`
	CreatedTime  int64  `json:"time"`
	UpdateTime   int64  `json:"updateTime"`
}

// OpenOrders lists a user's resting orders in one market.
func (s *Service) OpenOrders(ctx context.Context, symbol, user string) ([]OrderView, error) {
	pool, err := s.ResolveSymbol(ctx, symbol)
	if err != nil {
		return nil, err
	}
	orders, err := s.store.GetOpenOrders(ctx, s.chainID, pool.PoolAddress, user)
	if err != nil {
		return nil, err
	}
	return orderViews(pool, orders), nil
}

// AllOrders lists a user's orders in one market regardless of status.
func (s *Service) AllOrders(ctx context.Context, symbol, user string, limit int) ([]OrderView, error) {
	pool, err := s.ResolveSymbol(ctx, symbol)
	if err != nil {
		return nil, err
	}
	orders, err := s.store.GetAllOrders(ctx, s.chainID, pool.PoolAddress, user, limit)
	if err != nil {
		return nil, err
	}
	return orderViews(pool, orders), nil
}

func orderViews(pool *database.Pool, orders []*database.Order) []OrderView {
	out := make([]OrderView, 0, len(orders))
	for _, o := range orders {
		out = append(out, OrderView{
			OrderID:     o.OrderID,
			Symbol:      strings.ToUpper(pool.Symbol()),
			User:        o.User,
			Side:        o.Side,
			Type:        o.OrderType,
			Price:       o.Price,
			Quantity:    o.Quantity,
			Filled:      o.Filled,
			Status:      o.Status,
			CreatedTime: o.CreatedTs * 1000,
			UpdateTime:  o.LastUpdateTs * 1000,
		})
	}
	return out
}

// BalanceView is one holding on the REST surface.
type BalanceView struct {
	Currency  string `json:"asset"`
	Available string `json:"free"`
	Locked    string `json:"locked"`
}

// Account lists every balance an address holds.
func (s *Service) Account(ctx context.Context, user string) ([]BalanceView, error) {
	balances, err := s.store.ListBalances(ctx, s.chainID, user)
	if err != nil {
		return nil, err
	}
	out := make([]BalanceView, 0, len(balances))
	for _, b := range balances {
		currency := b.Currency
		if c, err := s.store.GetCurrencyByAddress(ctx, s.chainID, b.Currency); err == nil {
			currency = c.Symbol
		}
		out = append(out, BalanceView{Currency: currency, Available: b.Available, Locked: b.Locked})
	}
	return out, nil
}
