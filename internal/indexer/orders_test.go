package indexer

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"

	"clob-market-data/internal/chain"
	"clob-market-data/internal/ids"
	"clob-market-data/internal/streams"
)

const (
	testPool = "0x00000000000000000000000000000000000000aa"
	weth     = "0x00000000000000000000000000000000000000b1"
	usdc     = "0x00000000000000000000000000000000000000b2"
)

func newTestReducer(enableBlock uint64) (*Reducer, *fakeStore, *fakeBus) {
	store := newFakeStore()
	bus := &fakeBus{}
	r := NewReducer(store, bus, &fakeGate{enableBlock: enableBlock}, 1, zerolog.Nop())
	return r, store, bus
}

func evtAt(block uint64, ts int64, tx string, logIndex uint32) chain.Context {
	return chain.Context{
		Block:       chain.Block{Number: block, Timestamp: ts},
		Transaction: chain.Transaction{Hash: tx, From: "0xsender"},
		Log:         chain.Log{Address: testPool, LogIndex: logIndex},
		Network:     chain.Network{ChainID: 1},
	}
}

func createPool(t *testing.T, r *Reducer) {
	t.Helper()
	err := r.HandlePoolCreated(context.Background(), evtAt(1, 1700000000, "0xt0", 0), chain.PoolCreatedArgs{
		PoolAddress:   testPool,
		OrderBook:     "0xbook",
		BaseCurrency:  weth,
		QuoteCurrency: usdc,
		BaseSymbol:    "WETH",
		QuoteSymbol:   "USDC",
		BaseDecimals:  18,
		QuoteDecimals: 6,
	})
	if err != nil {
		t.Fatalf("pool created: %v", err)
	}
}

func placeOrder(t *testing.T, r *Reducer, block uint64, ts int64, orderID, user, side, price, qty string) {
	t.Helper()
	err := r.HandleOrderPlaced(context.Background(), evtAt(block, ts, "0xplace"+orderID, 1), chain.OrderPlacedArgs{
		PoolAddress: testPool,
		OrderID:     orderID,
		User:        user,
		Side:        side,
		OrderType:   chain.OrderTypeLimit,
		Price:       price,
		Quantity:    qty,
		Status:      chain.StatusOpen,
	})
	if err != nil {
		t.Fatalf("order placed %s: %v", orderID, err)
	}
}

// TestPlaceMatchFlow drives a full place-place-match sequence and checks
// fills, statuses, symmetric depth consumption, and the published frames.
func TestPlaceMatchFlow(t *testing.T) {
	r, store, bus := newTestReducer(0)
	ctx := context.Background()
	createPool(t, r)

	const (
		price   = "2000000000"
		sellQty = "1000000000000000000"
		buyQty  = "500000000000000000"
	)

	placeOrder(t, r, 10, 1700000100, "1", "0xseller", chain.SideSell, price, sellQty)
	placeOrder(t, r, 11, 1700000101, "2", "0xbuyer", chain.SideBuy, price, buyQty)

	err := r.HandleOrderMatched(ctx, evtAt(12, 1700000102, "0xmatch", 3), chain.OrderMatchedArgs{
		PoolAddress:    testPool,
		BuyOrderID:     "2",
		SellOrderID:    "1",
		BuyUser:        "0xbuyer",
		SellUser:       "0xseller",
		TakerSide:      chain.SideBuy,
		ExecutionPrice: price,
		ExecutedQty:    buyQty,
	})
	if err != nil {
		t.Fatalf("order matched: %v", err)
	}

	sell := store.orders[ids.Order(1, testPool, "1")]
	if sell.Filled != buyQty || sell.Status != chain.StatusPartiallyFilled {
		t.Errorf("sell order filled=%s status=%s, want %s PartiallyFilled", sell.Filled, sell.Status, buyQty)
	}
	buy := store.orders[ids.Order(1, testPool, "2")]
	if buy.Filled != buyQty || buy.Status != chain.StatusFilled {
		t.Errorf("buy order filled=%s status=%s, want %s Filled", buy.Filled, buy.Status, buyQty)
	}

	// Both sides of the crossed level were consumed.
	sellLevel := store.depth[depthKey(testPool, chain.SideSell, price)]
	if sellLevel.Quantity != "500000000000000000" {
		t.Errorf("sell depth %s, want 500000000000000000", sellLevel.Quantity)
	}
	buyLevel := store.depth[depthKey(testPool, chain.SideBuy, price)]
	if buyLevel.Quantity != "0" {
		t.Errorf("buy depth %s, want 0", buyLevel.Quantity)
	}

	// Two trade rows plus the flat projection.
	if len(store.trades) != 2 || len(store.obTrades) != 1 {
		t.Fatalf("trade rows %d/%d, want 2/1", len(store.trades), len(store.obTrades))
	}

	// Pool rollups: base volume += qty, quote volume += qty*price/10^18.
	pool := store.pools[testPool]
	if pool.LastPrice != price {
		t.Errorf("pool last price %s", pool.LastPrice)
	}
	if pool.CumulativeVolumeBase != buyQty {
		t.Errorf("pool base volume %s", pool.CumulativeVolumeBase)
	}
	if pool.CumulativeVolumeQuote != "1000000000" {
		t.Errorf("pool quote volume %s, want 1000000000", pool.CumulativeVolumeQuote)
	}

	// One trade frame on the trades stream.
	trades := bus.byStream(streams.Key(1, streams.StreamTrades))
	if len(trades) != 1 {
		t.Fatalf("trade appends %d, want 1", len(trades))
	}
	e, err := streams.DecodeTradeEvent(trades[0].fields)
	if err != nil {
		t.Fatalf("decode trade: %v", err)
	}
	if e.Price.String() != price || e.Quantity.String() != buyQty || e.Timestamp != 1700000102 {
		t.Errorf("trade event %+v", e)
	}
	if e.Symbol != "wethusdc" {
		t.Errorf("symbol %q, want wethusdc", e.Symbol)
	}

	// Depth snapshot after the match: asks show the residual sell, bids empty.
	depths := bus.byStream(streams.Key(1, streams.StreamDepth))
	if len(depths) != 3 { // two placements + one match
		t.Fatalf("depth appends %d, want 3", len(depths))
	}
	d, err := streams.DecodeDepthEvent(depths[2].fields)
	if err != nil {
		t.Fatalf("decode depth: %v", err)
	}
	if len(d.Bids) != 0 {
		t.Errorf("bids %v, want empty", d.Bids)
	}
	if len(d.Asks) != 1 || d.Asks[0].Price.String() != price || d.Asks[0].Quantity.String() != "500000000000000000" {
		t.Errorf("asks %v", d.Asks)
	}

	// Klines: five intervals plus the mini ticker, all with count 1 and a
	// flat OHLC at the execution price.
	klines := bus.byStream(streams.Key(1, streams.StreamKlines))
	if len(klines) != 6 {
		t.Fatalf("kline appends %d, want 5 intervals + mini ticker", len(klines))
	}
	for _, k := range klines[:5] {
		e, err := streams.DecodeKlineEvent(k.fields)
		if err != nil {
			t.Fatalf("decode kline: %v", err)
		}
		if e.Open.String() != price || e.High.String() != price || e.Low.String() != price || e.Close.String() != price {
			t.Errorf("kline %s OHLC not flat at %s: %+v", e.Interval, price, e)
		}
		if e.Count != 1 {
			t.Errorf("kline %s count %d, want 1", e.Interval, e.Count)
		}
	}
	if klines[5].fields["kind"] != "miniTicker" {
		t.Errorf("last kline append is not the mini ticker: %v", klines[5].fields)
	}

	// Execution reports for both affected orders (plus the two placements).
	reports := bus.byStream(streams.Key(1, streams.StreamExecutionReports))
	if len(reports) != 4 {
		t.Fatalf("execution reports %d, want 4", len(reports))
	}
	last, err := streams.DecodeExecutionReportEvent(reports[3].fields)
	if err != nil {
		t.Fatalf("decode report: %v", err)
	}
	if last.ExecutionType != ExecTypeTrade {
		t.Errorf("execution type %s, want TRADE", last.ExecutionType)
	}
}

// TestSyncGatedBackfill replays the same flow behind the watermark: the
// entity state must match the live run while nothing reaches the streams.
func TestSyncGatedBackfill(t *testing.T) {
	live, liveStore, _ := newTestReducer(0)
	backfill, backfillStore, backfillBus := newTestReducer(1000)

	for _, r := range []*Reducer{live, backfill} {
		createPool(t, r)
		placeOrder(t, r, 10, 1700000100, "1", "0xseller", chain.SideSell, "2000000000", "1000000000000000000")
		placeOrder(t, r, 11, 1700000101, "2", "0xbuyer", chain.SideBuy, "2000000000", "500000000000000000")
		err := r.HandleOrderMatched(context.Background(), evtAt(12, 1700000102, "0xmatch", 3), chain.OrderMatchedArgs{
			PoolAddress: testPool, BuyOrderID: "2", SellOrderID: "1",
			BuyUser: "0xbuyer", SellUser: "0xseller", TakerSide: chain.SideBuy,
			ExecutionPrice: "2000000000", ExecutedQty: "500000000000000000",
		})
		if err != nil {
			t.Fatalf("match: %v", err)
		}
	}

	if len(backfillBus.appends) != 0 {
		t.Errorf("backfill appended %d stream records, want 0", len(backfillBus.appends))
	}

	for id, want := range liveStore.orders {
		got, ok := backfillStore.orders[id]
		if !ok {
			t.Fatalf("backfill missing order %s", id)
		}
		if got.Filled != want.Filled || got.Status != want.Status {
			t.Errorf("order %s diverged: %+v vs %+v", id, got, want)
		}
	}
	for key, want := range liveStore.depth {
		got := backfillStore.depth[key]
		if got == nil || got.Quantity != want.Quantity || got.OrderCount != want.OrderCount {
			t.Errorf("depth %s diverged: %+v vs %+v", key, got, want)
		}
	}
}

// TestCancelRefundsDepth places and cancels a sell; the level must drain
// to zero and the pushed snapshot must omit it.
func TestCancelRefundsDepth(t *testing.T) {
	r, store, bus := newTestReducer(0)
	createPool(t, r)
	placeOrder(t, r, 10, 1700000100, "1", "0xseller", chain.SideSell, "2000000000", "1000000000000000000")

	err := r.HandleOrderCancelled(context.Background(), evtAt(11, 1700000200, "0xcancel", 2), chain.OrderCancelledArgs{
		PoolAddress: testPool, OrderID: "1", User: "0xseller",
	})
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}

	order := store.orders[ids.Order(1, testPool, "1")]
	if order.Status != chain.StatusCancelled {
		t.Errorf("status %s, want Cancelled", order.Status)
	}

	level := store.depth[depthKey(testPool, chain.SideSell, "2000000000")]
	if level.Quantity != "0" || level.OrderCount != 0 {
		t.Errorf("level qty=%s count=%d, want 0/0", level.Quantity, level.OrderCount)
	}

	depths := bus.byStream(streams.Key(1, streams.StreamDepth))
	d, err := streams.DecodeDepthEvent(depths[len(depths)-1].fields)
	if err != nil {
		t.Fatalf("decode depth: %v", err)
	}
	if len(d.Asks) != 0 {
		t.Errorf("cancelled level still visible: %v", d.Asks)
	}
}

// TestExpiredRefundsRemainingOnly verifies a partially filled order only
// returns its resting remainder on expiry.
func TestExpiredRefundsRemainingOnly(t *testing.T) {
	r, store, _ := newTestReducer(0)
	ctx := context.Background()
	createPool(t, r)

	placeOrder(t, r, 10, 1700000100, "1", "0xseller", chain.SideSell, "2000000000", "1000000000000000000")
	placeOrder(t, r, 10, 1700000100, "3", "0xother", chain.SideSell, "2000000000", "1000000000000000000")
	placeOrder(t, r, 11, 1700000101, "2", "0xbuyer", chain.SideBuy, "2000000000", "400000000000000000")

	err := r.HandleOrderMatched(ctx, evtAt(12, 1700000102, "0xmatch", 3), chain.OrderMatchedArgs{
		PoolAddress: testPool, BuyOrderID: "2", SellOrderID: "1",
		BuyUser: "0xbuyer", SellUser: "0xseller", TakerSide: chain.SideBuy,
		ExecutionPrice: "2000000000", ExecutedQty: "400000000000000000",
	})
	if err != nil {
		t.Fatalf("match: %v", err)
	}

	err = r.HandleUpdateOrder(ctx, evtAt(13, 1700000300, "0xexpire", 4), chain.UpdateOrderArgs{
		PoolAddress: testPool, OrderID: "1", User: "0xseller", Status: chain.StatusExpired,
	})
	if err != nil {
		t.Fatalf("expire: %v", err)
	}

	level := store.depth[depthKey(testPool, chain.SideSell, "2000000000")]
	if level.Quantity != "1000000000000000000" {
		t.Errorf("expired level qty %s, want 1e18 (order 3 rests; order 1's remainder 6e17 refunded after match took 4e17)", level.Quantity)
	}

	order := store.orders[ids.Order(1, testPool, "1")]
	if order.Status != chain.StatusExpired {
		t.Errorf("status %s, want Expired", order.Status)
	}
}

// TestTerminalStatusAbsorbing: no transition out of Filled.
func TestTerminalStatusAbsorbing(t *testing.T) {
	r, store, _ := newTestReducer(0)
	ctx := context.Background()
	createPool(t, r)

	placeOrder(t, r, 10, 1700000100, "1", "0xseller", chain.SideSell, "2000000000", "500000000000000000")
	placeOrder(t, r, 11, 1700000101, "2", "0xbuyer", chain.SideBuy, "2000000000", "500000000000000000")

	err := r.HandleOrderMatched(ctx, evtAt(12, 1700000102, "0xmatch", 3), chain.OrderMatchedArgs{
		PoolAddress: testPool, BuyOrderID: "2", SellOrderID: "1",
		BuyUser: "0xbuyer", SellUser: "0xseller", TakerSide: chain.SideBuy,
		ExecutionPrice: "2000000000", ExecutedQty: "500000000000000000",
	})
	if err != nil {
		t.Fatalf("match: %v", err)
	}

	// Cancelling a filled order is dropped without a state change.
	err = r.HandleOrderCancelled(ctx, evtAt(13, 1700000200, "0xlate", 4), chain.OrderCancelledArgs{
		PoolAddress: testPool, OrderID: "1", User: "0xseller",
	})
	if err != nil {
		t.Fatalf("late cancel: %v", err)
	}
	if got := store.orders[ids.Order(1, testPool, "1")].Status; got != chain.StatusFilled {
		t.Errorf("terminal status overwritten: %s", got)
	}
}

func TestMalformedEvent(t *testing.T) {
	r, _, _ := newTestReducer(0)
	createPool(t, r)

	err := r.HandleOrderPlaced(context.Background(), evtAt(10, 1700000100, "0xbad", 1), chain.OrderPlacedArgs{
		PoolAddress: testPool, User: "0xseller", Side: chain.SideSell, Price: "1", Quantity: "1",
	})
	if !errors.Is(err, ErrMalformedEvent) {
		t.Errorf("expected MALFORMED_EVENT, got %v", err)
	}

	err = r.HandleOrderPlaced(context.Background(), evtAt(10, 1700000100, "0xbad", 1), chain.OrderPlacedArgs{
		PoolAddress: testPool, OrderID: "9", User: "0xseller", Side: chain.SideSell, Price: "not-a-number", Quantity: "1",
	})
	if !errors.Is(err, ErrMalformedEvent) {
		t.Errorf("expected MALFORMED_EVENT for bad price, got %v", err)
	}
}

func TestUnknownPoolSkipped(t *testing.T) {
	r, store, bus := newTestReducer(0)

	err := r.HandleOrderPlaced(context.Background(), evtAt(10, 1700000100, "0xtx", 1), chain.OrderPlacedArgs{
		PoolAddress: "0x00000000000000000000000000000000000000ff",
		OrderID:     "1", User: "0xseller", Side: chain.SideSell, Price: "1", Quantity: "1",
	})
	if err != nil {
		t.Fatalf("unknown pool must not fail the block: %v", err)
	}
	if len(store.orders) != 0 || len(bus.appends) != 0 {
		t.Error("unknown-pool event produced writes")
	}
}

// TestCandlestickAccretion folds five trades of one window into the 1m
// bucket and checks every OHLC/average/volume invariant.
func TestCandlestickAccretion(t *testing.T) {
	r, store, _ := newTestReducer(0)
	ctx := context.Background()
	createPool(t, r)

	prices := []string{"100", "110", "90", "120", "105"}
	baseTs := int64(1700000040)
	for i, p := range prices {
		sellID := string(rune('a' + i))
		buyID := "b" + sellID
		placeOrder(t, r, 10, baseTs, sellID, "0xseller", chain.SideSell, p, "1000000000000000000")
		placeOrder(t, r, 10, baseTs, buyID, "0xbuyer", chain.SideBuy, p, "1000000000000000000")
		err := r.HandleOrderMatched(ctx, evtAt(12, baseTs+int64(i), "0xm"+sellID, 3), chain.OrderMatchedArgs{
			PoolAddress: testPool, BuyOrderID: buyID, SellOrderID: sellID,
			BuyUser: "0xbuyer", SellUser: "0xseller", TakerSide: chain.SideBuy,
			ExecutionPrice: p, ExecutedQty: "1000000000000000000",
		})
		if err != nil {
			t.Fatalf("match %d: %v", i, err)
		}
	}

	bucket := store.buckets["1m|"+ids.Bucket(1, testPool, 1700000040)]
	if bucket == nil {
		t.Fatal("1m bucket missing")
	}
	if bucket.Open != "100" || bucket.Close != "105" || bucket.High != "120" || bucket.Low != "90" {
		t.Errorf("OHLC %s/%s/%s/%s, want 100/120/90/105", bucket.Open, bucket.High, bucket.Low, bucket.Close)
	}
	if bucket.Count != 5 {
		t.Errorf("count %d, want 5", bucket.Count)
	}
	if dec(bucket.Average).Cmp(dec("105")) != 0 {
		t.Errorf("average %s, want 105", bucket.Average)
	}
	if dec(bucket.Volume).Cmp(dec("5")) != 0 {
		t.Errorf("volume %s, want 5", bucket.Volume)
	}
	// quoteVolume: sum of price*1e18/1e24 = (100+110+90+120+105)*1e-6.
	if dec(bucket.QuoteVolume).Cmp(dec("0.000525")) != 0 {
		t.Errorf("quote volume %s, want 0.000525", bucket.QuoteVolume)
	}
}
