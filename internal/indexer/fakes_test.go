package indexer

import (
	"context"
	"fmt"
	"math/big"
	"sort"
	"strings"

	"github.com/shopspring/decimal"

	"clob-market-data/internal/database"
)

// fakeStore mirrors the repository's SQL semantics in memory: additive
// depth conflicts, derived fill statuses, clamped balances, merged buckets.
type fakeStore struct {
	pools      map[string]*database.Pool
	currencies map[string]*database.Currency
	orders     map[string]*database.Order
	histories  map[string]*database.OrderHistory
	depth      map[string]*database.DepthLevel
	trades     []*database.Trade
	obTrades   []*database.OrderBookTrade
	buckets    map[string]*database.Bucket
	balances   map[string]*database.Balance
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		pools:      make(map[string]*database.Pool),
		currencies: make(map[string]*database.Currency),
		orders:     make(map[string]*database.Order),
		histories:  make(map[string]*database.OrderHistory),
		depth:      make(map[string]*database.DepthLevel),
		buckets:    make(map[string]*database.Bucket),
		balances:   make(map[string]*database.Balance),
	}
}

func big_(s string) *big.Int {
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		panic("bad big " + s)
	}
	return v
}

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func (f *fakeStore) UpsertPool(_ context.Context, p *database.Pool) error {
	addr := strings.ToLower(p.PoolAddress)
	if _, ok := f.pools[addr]; ok {
		return nil
	}
	cp := *p
	cp.PoolAddress = addr
	cp.CumulativeVolumeBase = "0"
	cp.CumulativeVolumeQuote = "0"
	cp.LastPrice = "0"
	f.pools[addr] = &cp
	return nil
}

func (f *fakeStore) GetPoolByAddress(_ context.Context, _ int64, poolAddress string) (*database.Pool, error) {
	p, ok := f.pools[strings.ToLower(poolAddress)]
	if !ok {
		return nil, database.ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (f *fakeStore) ApplyTradeToPool(_ context.Context, _ int64, poolAddress, lastPrice, baseDelta, quoteDelta string, ts int64) error {
	p, ok := f.pools[strings.ToLower(poolAddress)]
	if !ok {
		return database.ErrNotFound
	}
	p.LastPrice = lastPrice
	p.CumulativeVolumeBase = new(big.Int).Add(big_(p.CumulativeVolumeBase), big_(baseDelta)).String()
	p.CumulativeVolumeQuote = new(big.Int).Add(big_(p.CumulativeVolumeQuote), big_(quoteDelta)).String()
	p.LastUpdateTs = ts
	return nil
}

func (f *fakeStore) UpsertCurrency(_ context.Context, c *database.Currency) error {
	cp := *c
	f.currencies[strings.ToLower(c.Address)] = &cp
	return nil
}

func (f *fakeStore) GetCurrencyByAddress(_ context.Context, _ int64, address string) (*database.Currency, error) {
	c, ok := f.currencies[strings.ToLower(address)]
	if !ok {
		return nil, database.ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (f *fakeStore) InsertOrder(_ context.Context, o *database.Order) error {
	if _, ok := f.orders[o.ID]; ok {
		return nil
	}
	cp := *o
	f.orders[o.ID] = &cp
	return nil
}

func (f *fakeStore) GetOrder(_ context.Context, id string) (*database.Order, error) {
	o, ok := f.orders[id]
	if !ok {
		return nil, database.ErrNotFound
	}
	cp := *o
	return &cp, nil
}

func terminal(status string) bool {
	switch status {
	case "Filled", "Cancelled", "Rejected", "Expired":
		return true
	}
	return false
}

func (f *fakeStore) ApplyOrderFill(_ context.Context, id, qty string, ts int64) (*database.Order, error) {
	o, ok := f.orders[id]
	if !ok || terminal(o.Status) {
		return nil, database.ErrNotFound
	}
	filled := new(big.Int).Add(big_(o.Filled), big_(qty))
	o.Filled = filled.String()
	if filled.Cmp(big_(o.Quantity)) >= 0 {
		o.Status = "Filled"
	} else {
		o.Status = "PartiallyFilled"
	}
	o.LastUpdateTs = ts
	cp := *o
	return &cp, nil
}

func (f *fakeStore) UpdateOrderStatus(_ context.Context, id, status string, ts int64) (*database.Order, error) {
	o, ok := f.orders[id]
	if !ok || terminal(o.Status) {
		return nil, database.ErrNotFound
	}
	o.Status = status
	o.LastUpdateTs = ts
	cp := *o
	return &cp, nil
}

func (f *fakeStore) UpsertOrderHistory(_ context.Context, h *database.OrderHistory) error {
	cp := *h
	f.histories[h.ID] = &cp
	return nil
}

func depthKey(poolAddress, side, price string) string {
	return fmt.Sprintf("%s|%s|%s", strings.ToLower(poolAddress), side, price)
}

func (f *fakeStore) IncrementDepth(_ context.Context, l *database.DepthLevel) error {
	key := depthKey(l.PoolAddress, l.Side, l.Price)
	if existing, ok := f.depth[key]; ok {
		existing.Quantity = new(big.Int).Add(big_(existing.Quantity), big_(l.Quantity)).String()
		existing.OrderCount++
		existing.LastUpdated = l.LastUpdated
		return nil
	}
	cp := *l
	cp.OrderCount = 1
	f.depth[key] = &cp
	return nil
}

func (f *fakeStore) DecrementDepth(_ context.Context, _ int64, poolAddress, side, price, qty string, ts int64) error {
	l, ok := f.depth[depthKey(poolAddress, side, price)]
	if !ok {
		return nil
	}
	q := new(big.Int).Sub(big_(l.Quantity), big_(qty))
	if q.Sign() < 0 {
		q.SetInt64(0)
	}
	l.Quantity = q.String()
	if l.OrderCount > 0 {
		l.OrderCount--
	}
	l.LastUpdated = ts
	return nil
}

func (f *fakeStore) GetDepthSnapshot(_ context.Context, _ int64, poolAddress string, limit int) ([]*database.DepthLevel, []*database.DepthLevel, error) {
	var bids, asks []*database.DepthLevel
	for _, l := range f.depth {
		if !strings.EqualFold(l.PoolAddress, poolAddress) || big_(l.Quantity).Sign() <= 0 {
			continue
		}
		cp := *l
		if l.Side == "Buy" {
			bids = append(bids, &cp)
		} else {
			asks = append(asks, &cp)
		}
	}
	sort.Slice(bids, func(i, j int) bool { return big_(bids[i].Price).Cmp(big_(bids[j].Price)) > 0 })
	sort.Slice(asks, func(i, j int) bool { return big_(asks[i].Price).Cmp(big_(asks[j].Price)) < 0 })
	if len(bids) > limit {
		bids = bids[:limit]
	}
	if len(asks) > limit {
		asks = asks[:limit]
	}
	return bids, asks, nil
}

func (f *fakeStore) InsertTrade(_ context.Context, t *database.Trade) error {
	cp := *t
	f.trades = append(f.trades, &cp)
	return nil
}

func (f *fakeStore) InsertOrderBookTrade(_ context.Context, t *database.OrderBookTrade) error {
	cp := *t
	f.obTrades = append(f.obTrades, &cp)
	return nil
}

func (f *fakeStore) UpsertBucket(_ context.Context, interval string, b *database.Bucket) (*database.Bucket, error) {
	key := interval + "|" + b.ID
	existing, ok := f.buckets[key]
	if !ok {
		cp := *b
		cp.Open = b.Close
		cp.High = b.Close
		cp.Low = b.Close
		cp.Average = b.Close
		cp.Count = 1
		f.buckets[key] = &cp
		out := cp
		return &out, nil
	}

	price := big_(b.Close)
	existing.Close = b.Close
	if price.Cmp(big_(existing.High)) > 0 {
		existing.High = b.Close
	}
	if price.Cmp(big_(existing.Low)) < 0 {
		existing.Low = b.Close
	}
	count := decimal.NewFromInt(existing.Count)
	avg := dec(existing.Average).Mul(count).Add(dec(b.Close)).Div(count.Add(decimal.NewFromInt(1)))
	existing.Average = avg.String()
	existing.Count++
	existing.Volume = dec(existing.Volume).Add(dec(b.Volume)).String()
	existing.QuoteVolume = dec(existing.QuoteVolume).Add(dec(b.QuoteVolume)).String()
	existing.TakerBuyBaseVolume = dec(existing.TakerBuyBaseVolume).Add(dec(b.TakerBuyBaseVolume)).String()
	existing.TakerBuyQuoteVolume = dec(existing.TakerBuyQuoteVolume).Add(dec(b.TakerBuyQuoteVolume)).String()
	out := *existing
	return &out, nil
}

func (f *fakeStore) ApplyBalanceDelta(_ context.Context, id string, chainID int64, user, currency, availableDelta, lockedDelta string, ts int64) (*database.Balance, error) {
	key := strings.ToLower(user) + "|" + strings.ToLower(currency)
	b, ok := f.balances[key]
	if !ok {
		b = &database.Balance{ID: id, ChainID: chainID, User: strings.ToLower(user), Currency: strings.ToLower(currency), Available: "0", Locked: "0"}
		f.balances[key] = b
	}
	avail := new(big.Int).Add(big_(b.Available), big_(availableDelta))
	if avail.Sign() < 0 {
		avail.SetInt64(0)
	}
	locked := new(big.Int).Add(big_(b.Locked), big_(lockedDelta))
	if locked.Sign() < 0 {
		locked.SetInt64(0)
	}
	b.Available = avail.String()
	b.Locked = locked.String()
	b.LastUpdated = ts
	cp := *b
	return &cp, nil
}

// fakeBus records appends in order.
type fakeBus struct {
	appends []appendCall
}

type appendCall struct {
	key    string
	fields map[string]string
}

func (f *fakeBus) Append(_ context.Context, streamKey string, fields map[string]string) (string, error) {
	f.appends = append(f.appends, appendCall{key: streamKey, fields: fields})
	return fmt.Sprintf("%d-0", len(f.appends)), nil
}

func (f *fakeBus) byStream(streamKey string) []appendCall {
	var out []appendCall
	for _, a := range f.appends {
		if a.key == streamKey {
			out = append(out, a)
		}
	}
	return out
}

// fakeGate gates on a fixed watermark like the real one.
type fakeGate struct {
	enableBlock uint64
}

func (g *fakeGate) InSync(block uint64) bool {
	return block >= g.enableBlock
}

func (g *fakeGate) ExecuteIfInSync(block uint64, fn func() error) error {
	if !g.InSync(block) {
		return nil
	}
	return fn()
}
