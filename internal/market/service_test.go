package market

import (
	"context"
	"errors"
	"strings"
	"testing"

	"clob-market-data/internal/database"
)

type fakeStore struct {
	pools      []*database.Pool
	currencies map[string]*database.Currency
	bids, asks []*database.DepthLevel
	obTrades   []*database.OrderBookTrade
	userTrades []*database.Trade
	buckets    []*database.Bucket
	open, all  []*database.Order
	balances   []*database.Balance
}

func (f *fakeStore) GetPoolBySymbol(_ context.Context, _ int64, symbol string) (*database.Pool, error) {
	for _, p := range f.pools {
		if p.Symbol() == strings.ToLower(symbol) {
			return p, nil
		}
	}
	return nil, database.ErrNotFound
}

func (f *fakeStore) GetPoolByAddress(_ context.Context, _ int64, poolAddress string) (*database.Pool, error) {
	for _, p := range f.pools {
		if strings.EqualFold(p.PoolAddress, poolAddress) {
			return p, nil
		}
	}
	return nil, database.ErrNotFound
}

func (f *fakeStore) ListPools(context.Context, int64) ([]*database.Pool, error) { return f.pools, nil }

func (f *fakeStore) ListCurrencies(context.Context, int64) ([]*database.Currency, error) {
	var out []*database.Currency
	for _, c := range f.currencies {
		out = append(out, c)
	}
	return out, nil
}

func (f *fakeStore) GetCurrencyByAddress(_ context.Context, _ int64, address string) (*database.Currency, error) {
	if c, ok := f.currencies[strings.ToLower(address)]; ok {
		return c, nil
	}
	return nil, database.ErrNotFound
}

func (f *fakeStore) GetDepthSnapshot(_ context.Context, _ int64, _ string, limit int) ([]*database.DepthLevel, []*database.DepthLevel, error) {
	bids, asks := f.bids, f.asks
	if len(bids) > limit {
		bids = bids[:limit]
	}
	if len(asks) > limit {
		asks = asks[:limit]
	}
	return bids, asks, nil
}

func (f *fakeStore) GetRecentOrderBookTrades(_ context.Context, _ int64, _ string, limit int) ([]*database.OrderBookTrade, error) {
	if len(f.obTrades) > limit {
		return f.obTrades[:limit], nil
	}
	return f.obTrades, nil
}

func (f *fakeStore) GetOrderBookTradesSince(_ context.Context, _ int64, _ string, sinceTs int64) ([]*database.OrderBookTrade, error) {
	var out []*database.OrderBookTrade
	for _, t := range f.obTrades {
		if t.Timestamp >= sinceTs {
			out = append(out, t)
		}
	}
	return out, nil
}

func (f *fakeStore) GetUserTrades(context.Context, int64, string, string, int) ([]*database.Trade, error) {
	return f.userTrades, nil
}

func (f *fakeStore) GetKlines(context.Context, string, int64, string, int, int64, int64) ([]*database.Bucket, error) {
	return f.buckets, nil
}

func (f *fakeStore) GetOpenOrders(context.Context, int64, string, string) ([]*database.Order, error) {
	return f.open, nil
}

func (f *fakeStore) GetAllOrders(context.Context, int64, string, string, int) ([]*database.Order, error) {
	return f.all, nil
}

func (f *fakeStore) ListBalances(context.Context, int64, string) ([]*database.Balance, error) {
	return f.balances, nil
}

func testPool() *database.Pool {
	return &database.Pool{
		ID:            "poolid",
		ChainID:       1,
		PoolAddress:   "0x00000000000000000000000000000000000000aa",
		BaseCurrency:  "WETH",
		QuoteCurrency: "USDC",
		BaseDecimals:  18,
		QuoteDecimals: 6,
		LastPrice:     "2000000000",
		LastUpdateTs:  1700000000,
	}
}

func newTestService(f *fakeStore) *Service {
	s := NewService(f, 1)
	s.now = func() int64 { return 1700000000 }
	return s
}

func TestSymbolRoundTrip(t *testing.T) {
	f := &fakeStore{pools: []*database.Pool{testPool()}}
	s := newTestService(f)
	ctx := context.Background()

	pool, err := s.ResolveSymbol(ctx, "WETHUSDC")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	symbol, err := s.LookupSymbol(ctx, pool.PoolAddress)
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	back, err := s.ResolveSymbol(ctx, symbol)
	if err != nil {
		t.Fatalf("resolve round trip: %v", err)
	}
	if back.PoolAddress != pool.PoolAddress {
		t.Errorf("round trip changed pool: %s vs %s", back.PoolAddress, pool.PoolAddress)
	}
}

func TestUnknownSymbol(t *testing.T) {
	s := newTestService(&fakeStore{})
	if _, err := s.ResolveSymbol(context.Background(), "nope"); !errors.Is(err, ErrSymbolUnknown) {
		t.Errorf("expected SYMBOL_UNKNOWN, got %v", err)
	}
	if _, err := s.Depth(context.Background(), "", 10); !errors.Is(err, ErrSymbolUnknown) {
		t.Errorf("empty symbol: %v", err)
	}
}

func TestDepthView(t *testing.T) {
	f := &fakeStore{
		pools: []*database.Pool{testPool()},
		bids: []*database.DepthLevel{
			{Price: "1990000000", Quantity: "100"},
			{Price: "1980000000", Quantity: "50"},
		},
		asks: []*database.DepthLevel{{Price: "2000000000", Quantity: "500000000000000000"}},
	}
	s := newTestService(f)

	depth, err := s.Depth(context.Background(), "wethusdc", 10)
	if err != nil {
		t.Fatalf("depth: %v", err)
	}
	if depth.Symbol != "WETHUSDC" {
		t.Errorf("symbol %q", depth.Symbol)
	}
	if len(depth.Bids) != 2 || depth.Bids[0][0] != "1990000000" {
		t.Errorf("bids %v", depth.Bids)
	}
	if len(depth.Asks) != 1 || depth.Asks[0][1] != "500000000000000000" {
		t.Errorf("asks %v", depth.Asks)
	}
}

func TestTicker24hr(t *testing.T) {
	f := &fakeStore{
		pools: []*database.Pool{testPool()},
		obTrades: []*database.OrderBookTrade{
			{Price: "100", Quantity: "1000000000000000000", Timestamp: 1699930000},
			{Price: "120", Quantity: "1000000000000000000", Timestamp: 1699940000},
			{Price: "90", Quantity: "1000000000000000000", Timestamp: 1699950000},
			{Price: "110", Quantity: "1000000000000000000", Timestamp: 1699960000},
		},
	}
	s := newTestService(f)

	ticker, err := s.Ticker24hr(context.Background(), "wethusdc")
	if err != nil {
		t.Fatalf("ticker: %v", err)
	}
	if ticker.OpenPrice != "100" || ticker.LastPrice != "110" {
		t.Errorf("open/last %s/%s", ticker.OpenPrice, ticker.LastPrice)
	}
	if ticker.HighPrice != "120" || ticker.LowPrice != "90" {
		t.Errorf("high/low %s/%s", ticker.HighPrice, ticker.LowPrice)
	}
	if ticker.Volume != "4" {
		t.Errorf("volume %s, want 4", ticker.Volume)
	}
	if ticker.PriceChange != "10" || ticker.PriceChangePercent != "10" {
		t.Errorf("change %s (%s%%)", ticker.PriceChange, ticker.PriceChangePercent)
	}
	if ticker.TradeCount != 4 {
		t.Errorf("count %d", ticker.TradeCount)
	}
}

func TestTicker24hrNoTrades(t *testing.T) {
	s := newTestService(&fakeStore{pools: []*database.Pool{testPool()}})
	ticker, err := s.Ticker24hr(context.Background(), "wethusdc")
	if err != nil {
		t.Fatalf("ticker: %v", err)
	}
	if ticker.OpenPrice != "0" || ticker.LastPrice != "0" || ticker.Volume != "0" {
		t.Errorf("empty market must report zeros: %+v", ticker)
	}
}

func TestTicker24hrExcludesOldTrades(t *testing.T) {
	f := &fakeStore{
		pools: []*database.Pool{testPool()},
		obTrades: []*database.OrderBookTrade{
			{Price: "999", Quantity: "1000000000000000000", Timestamp: 1699000000}, // > 24h old
			{Price: "110", Quantity: "1000000000000000000", Timestamp: 1699960000},
		},
	}
	s := newTestService(f)

	ticker, err := s.Ticker24hr(context.Background(), "wethusdc")
	if err != nil {
		t.Fatalf("ticker: %v", err)
	}
	if ticker.OpenPrice != "110" || ticker.HighPrice != "110" {
		t.Errorf("stale trade leaked into the window: %+v", ticker)
	}
}

func TestKlinesView(t *testing.T) {
	f := &fakeStore{
		pools: []*database.Pool{testPool()},
		buckets: []*database.Bucket{{
			OpenTime: 1700000040, CloseTime: 1700000099,
			Open: "100", High: "120", Low: "90", Close: "105", Average: "105",
			Count: 5, Volume: "5", QuoteVolume: "0.000525",
			TakerBuyBaseVolume: "5", TakerBuyQuoteVolume: "0.000525",
		}},
	}
	s := newTestService(f)

	klines, err := s.Klines(context.Background(), "wethusdc", "1m", 10, 0, 0)
	if err != nil {
		t.Fatalf("klines: %v", err)
	}
	if len(klines) != 1 {
		t.Fatalf("klines %v", klines)
	}
	k := klines[0]
	if k.OpenTime != 1700000040000 || k.CloseTime != 1700000099000 {
		t.Errorf("times not ms: %d %d", k.OpenTime, k.CloseTime)
	}
	if k.Open != "100" || k.TradeCount != 5 {
		t.Errorf("kline %+v", k)
	}
}

func TestTradesUserScoped(t *testing.T) {
	f := &fakeStore{
		pools:      []*database.Pool{testPool()},
		obTrades:   []*database.OrderBookTrade{{ID: "pub", Price: "1", Quantity: "2", TakerSide: "Buy", Timestamp: 1700000000}},
		userTrades: []*database.Trade{{ID: "mine", Price: "1", Quantity: "2", Side: "Sell", Timestamp: 1700000000}},
	}
	s := newTestService(f)
	ctx := context.Background()

	public, err := s.Trades(ctx, "wethusdc", "", 10)
	if err != nil || len(public) != 1 || public[0].ID != "pub" {
		t.Errorf("public trades %v %v", public, err)
	}
	mine, err := s.Trades(ctx, "wethusdc", "0xme", 10)
	if err != nil || len(mine) != 1 || mine[0].ID != "mine" {
		t.Errorf("user trades %v %v", mine, err)
	}
}

func TestAccountMapsCurrencySymbols(t *testing.T) {
	f := &fakeStore{
		pools: []*database.Pool{testPool()},
		currencies: map[string]*database.Currency{
			"0xusdc": {Address: "0xusdc", Symbol: "USDC", Decimals: 6},
		},
		balances: []*database.Balance{
			{Currency: "0xusdc", Available: "1000000", Locked: "0"},
			{Currency: "0xunknown", Available: "5", Locked: "0"},
		},
	}
	s := newTestService(f)

	account, err := s.Account(context.Background(), "0xme")
	if err != nil {
		t.Fatalf("account: %v", err)
	}
	if len(account) != 2 {
		t.Fatalf("balances %v", account)
	}
	if account[0].Currency != "USDC" {
		t.Errorf("registered token should report its symbol: %+v", account[0])
	}
	if account[1].Currency != "0xunknown" {
		t.Errorf("unregistered token falls back to the address: %+v", account[1])
	}
}
