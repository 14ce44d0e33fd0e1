package streams

import (
	"encoding/json"
	"fmt"
	"math/big"
	"strconv"

	"github.com/shopspring/decimal"
)

// Stream records are flat string-keyed maps. Integers are encoded decimal;
// big integers as decimal strings. Values nested inside JSON fields carry a
// {"__type":"bigint","value":"…"} tag so readers can rehydrate without
// precision loss.

// BigInt is a big.Int with the tagged JSON encoding used in nested fields.
type BigInt struct {
	big.Int
}

// NewBigInt copies v into a tagged wrapper; nil becomes zero.
func NewBigInt(v *big.Int) BigInt {
	var b BigInt
	if v != nil {
		b.Set(v)
	}
	return b
}

func (b BigInt) MarshalJSON() ([]byte, error) {
	return json.Marshal(map[string]string{"__type": "bigint", "value": b.String()})
}

func (b *BigInt) UnmarshalJSON(data []byte) error {
	var tagged struct {
		Type  string `json:"__type"`
		Value string `json:"value"`
	}
	if err := json.Unmarshal(data, &tagged); err == nil && tagged.Type == "bigint" {
		if _, ok := b.SetString(tagged.Value, 10); !ok {
			return fmt.Errorf("invalid bigint value %q", tagged.Value)
		}
		return nil
	}
	// Bare decimal strings are accepted for forward compatibility.
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("unsupported bigint encoding: %s", data)
	}
	if _, ok := b.SetString(s, 10); !ok {
		return fmt.Errorf("invalid bigint value %q", s)
	}
	return nil
}

// PriceLevel is one (price, quantity) pair inside a depth snapshot.
type PriceLevel struct {
	Price    BigInt `json:"price"`
	Quantity BigInt `json:"quantity"`
}

// TradeEvent is one fill published on the trades stream.
type TradeEvent struct {
	ChainID     int64
	PoolAddress string
	Symbol      string
	TradeID     string
	Price       *big.Int
	Quantity    *big.Int
	TakerSide   string
	BuyOrderID  string
	SellOrderID string
	Timestamp   int64
}

// Fields flattens the event for stream storage.
func (e TradeEvent) Fields() map[string]string {
	return map[string]string{
		"chainId":     strconv.FormatInt(e.ChainID, 10),
		"poolAddress": e.PoolAddress,
		"symbol":      e.Symbol,
		"tradeId":     e.TradeID,
		"price":       e.Price.String(),
		"quantity":    e.Quantity.String(),
		"takerSide":   e.TakerSide,
		"buyOrderId":  e.BuyOrderID,
		"sellOrderId": e.SellOrderID,
		"timestamp":   strconv.FormatInt(e.Timestamp, 10),
	}
}

// DecodeTradeEvent rehydrates a trades record.
func DecodeTradeEvent(fields map[string]string) (TradeEvent, error) {
	var e TradeEvent
	var err error
	if e.ChainID, err = fieldInt(fields, "chainId"); err != nil {
		return e, err
	}
	e.PoolAddress = fields["poolAddress"]
	e.Symbol = fields["symbol"]
	e.TradeID = fields["tradeId"]
	if e.Price, err = fieldBig(fields, "price"); err != nil {
		return e, err
	}
	if e.Quantity, err = fieldBig(fields, "quantity"); err != nil {
		return e, err
	}
	e.TakerSide = fields["takerSide"]
	e.BuyOrderID = fields["buyOrderId"]
	e.SellOrderID = fields["sellOrderId"]
	if e.Timestamp, err = fieldInt(fields, "timestamp"); err != nil {
		return e, err
	}
	return e, nil
}

// DepthEvent is a full top-N snapshot published on the depth stream.
type DepthEvent struct {
	ChainID     int64
	PoolAddress string
	Symbol      string
	Bids        []PriceLevel
	Asks        []PriceLevel
	Timestamp   int64
}

func (e DepthEvent) Fields() (map[string]string, error) {
	bids, err := json.Marshal(e.Bids)
	if err != nil {
		return nil, fmt.Errorf("encode bids: %w", err)
	}
	asks, err := json.Marshal(e.Asks)
	if err != nil {
		return nil, fmt.Errorf("encode asks: %w", err)
	}
	return map[string]string{
		"chainId":     strconv.FormatInt(e.ChainID, 10),
		"poolAddress": e.PoolAddress,
		"symbol":      e.Symbol,
		"bids":        string(bids),
		"asks":        string(asks),
		"timestamp":   strconv.FormatInt(e.Timestamp, 10),
	}, nil
}

// DecodeDepthEvent rehydrates a depth record, including the tagged bigints
// inside the nested bid/ask arrays.
func DecodeDepthEvent(fields map[string]string) (DepthEvent, error) {
	var e DepthEvent
	var err error
	if e.ChainID, err = fieldInt(fields, "chainId"); err != nil {
		return e, err
	}
	e.PoolAddress = fields["poolAddress"]
	e.Symbol = fields["symbol"]
	if err = json.Unmarshal([]byte(fields["bids"]), &e.Bids); err != nil {
		return e, fmt.Errorf("decode bids: %w", err)
	}
	if err = json.Unmarshal([]byte(fields["asks"]), &e.Asks); err != nil {
		return e, fmt.Errorf("decode asks: %w", err)
	}
	if e.Timestamp, err = fieldInt(fields, "timestamp"); err != nil {
		return e, err
	}
	return e, nil
}

// KlineEvent is one candlestick bucket update published per interval.
type KlineEvent struct {
	ChainID       int64
	PoolAddress   string
	Symbol        string
	Interval      string
	OpenTime      int64
	CloseTime     int64
	Open          *big.Int
	High          *big.Int
	Low           *big.Int
	Close         *big.Int
	Volume        decimal.Decimal
	QuoteVolume   decimal.Decimal
	TakerBuyBase  decimal.Decimal
	TakerBuyQuote decimal.Decimal
	Count         int64
	Timestamp     int64
}

func (e KlineEvent) Fields() map[string]string {
	return map[string]string{
		"chainId":       strconv.FormatInt(e.ChainID, 10),
		"poolAddress":   e.PoolAddress,
		"symbol":        e.Symbol,
		"interval":      e.Interval,
		"openTime":      strconv.FormatInt(e.OpenTime, 10),
		"closeTime":     strconv.FormatInt(e.CloseTime, 10),
		"open":          e.Open.String(),
		"high":          e.High.String(),
		"low":           e.Low.String(),
		"close":         e.Close.String(),
		"volume":        e.Volume.String(),
		"quoteVolume":   e.QuoteVolume.String(),
		"takerBuyBase":  e.TakerBuyBase.String(),
		"takerBuyQuote": e.TakerBuyQuote.String(),
		"count":         strconv.FormatInt(e.Count, 10),
		"timestamp":     strconv.FormatInt(e.Timestamp, 10),
	}
}

func DecodeKlineEvent(fields map[string]string) (KlineEvent, error) {
	var e KlineEvent
	var err error
	if e.ChainID, err = fieldInt(fields, "chainId"); err != nil {
		return e, err
	}
	e.PoolAddress = fields["poolAddress"]
	e.Symbol = fields["symbol"]
	e.Interval = fields["interval"]
	if e.OpenTime, err = fieldInt(fields, "openTime"); err != nil {
		return e, err
	}
	if e.CloseTime, err = fieldInt(fields, "closeTime"); err != nil {
		return e, err
	}
	if e.Open, err = fieldBig(fields, "open"); err != nil {
		return e, err
	}
	if e.High, err = fieldBig(fields, "high"); err != nil {
		return e, err
	}
	if e.Low, err = fieldBig(fields, "low"); err != nil {
		return e, err
	}
	if e.Close, err = fieldBig(fields, "close"); err != nil {
		return e, err
	}
	if e.Volume, err = fieldDecimal(fields, "volume"); err != nil {
		return e, err
	}
	if e.QuoteVolume, err = fieldDecimal(fields, "quoteVolume"); err != nil {
		return e, err
	}
	if e.TakerBuyBase, err = fieldDecimal(fields, "takerBuyBase"); err != nil {
		return e, err
	}
	if e.TakerBuyQuote, err = fieldDecimal(fields, "takerBuyQuote"); err != nil {
		return e, err
	}
	if e.Count, err = fieldInt(fields, "count"); err != nil {
		return e, err
	}
	if e.Timestamp, err = fieldInt(fields, "timestamp"); err != nil {
		return e, err
	}
	return e, nil
}

// MiniTickerEvent is the rolling-daily ticker derived after each trade.
type MiniTickerEvent struct {
	ChainID     int64
	PoolAddress string
	Symbol      string
	Close       *big.Int
	High        *big.Int
	Low         *big.Int
	Volume      decimal.Decimal
	Timestamp   int64
}

func (e MiniTickerEvent) Fields() map[string]string {
	return map[string]string{
		"chainId":     strconv.FormatInt(e.ChainID, 10),
		"poolAddress": e.PoolAddress,
		"symbol":      e.Symbol,
		"kind":        "miniTicker",
		"close":       e.Close.String(),
		"high":        e.High.String(),
		"low":         e.Low.String(),
		"volume":      e.Volume.String(),
		"timestamp":   strconv.FormatInt(e.Timestamp, 10),
	}
}

func DecodeMiniTickerEvent(fields map[string]string) (MiniTickerEvent, error) {
	var e MiniTickerEvent
	var err error
	if e.ChainID, err = fieldInt(fields, "chainId"); err != nil {
		return e, err
	}
	e.PoolAddress = fields["poolAddress"]
	e.Symbol = fields["symbol"]
	if e.Close, err = fieldBig(fields, "close"); err != nil {
		return e, err
	}
	if e.High, err = fieldBig(fields, "high"); err != nil {
		return e, err
	}
	if e.Low, err = fieldBig(fields, "low"); err != nil {
		return e, err
	}
	if e.Volume, err = fieldDecimal(fields, "volume"); err != nil {
		return e, err
	}
	if e.Timestamp, err = fieldInt(fields, "timestamp"); err != nil {
		return e, err
	}
	return e, nil
}

// ExecutionReportEvent is a per-order transition published for user fan-out.
type ExecutionReportEvent struct {
	ChainID         int64
	PoolAddress     string
	Symbol          string
	OrderID         string
	User            string
	Side            string
	OrderType       string
	Price           *big.Int
	Quantity        *big.Int
	Filled          *big.Int
	LastFilledQty   *big.Int
	LastFilledPrice *big.Int
	Status          string
	ExecutionType   string
	Timestamp       int64
}

func (e ExecutionReportEvent) Fields() map[string]string {
	return map[string]string{
		"chainId":         strconv.FormatInt(e.ChainID, 10),
		"poolAddress":     e.PoolAddress,
		"symbol":          e.Symbol,
		"orderId":         e.OrderID,
		"userId":          e.User,
		"side":            e.Side,
		"orderType":       e.OrderType,
		"price":           e.Price.String(),
		"quantity":        e.Quantity.String(),
		"filled":          e.Filled.String(),
		"lastFilledQty":   e.LastFilledQty.String(),
		"lastFilledPrice": e.LastFilledPrice.String(),
		"status":          e.Status,
		"executionType":   e.ExecutionType,
		"timestamp":       strconv.FormatInt(e.Timestamp, 10),
	}
}

func DecodeExecutionReportEvent(fields map[string]string) (ExecutionReportEvent, error) {
	var e ExecutionReportEvent
	var err error
	if e.ChainID, err = fieldInt(fields, "chainId"); err != nil {
		return e, err
	}
	e.PoolAddress = fields["poolAddress"]
	e.Symbol = fields["symbol"]
	e.OrderID = fields["orderId"]
	e.User = fields["userId"]
	e.Side = fields["side"]
	e.OrderType = fields["orderType"]
	if e.Price, err = fieldBig(fields, "price"); err != nil {
		return e, err
	}
	if e.Quantity, err = fieldBig(fields, "quantity"); err != nil {
		return e, err
	}
	if e.Filled, err = fieldBig(fields, "filled"); err != nil {
		return e, err
	}
	if e.LastFilledQty, err = fieldBig(fields, "lastFilledQty"); err != nil {
		return e, err
	}
	if e.LastFilledPrice, err = fieldBig(fields, "lastFilledPrice"); err != nil {
		return e, err
	}
	e.Status = fields["status"]
	e.ExecutionType = fields["executionType"]
	if e.Timestamp, err = fieldInt(fields, "timestamp"); err != nil {
		return e, err
	}
	return e, nil
}

// BalanceEvent is a per-user balance change published on the balances stream.
type BalanceEvent struct {
	ChainID   int64
	User      string
	Currency  string
	Available *big.Int
	Locked    *big.Int
	Timestamp int64
}

func (e BalanceEvent) Fields() map[string]string {
	return map[string]string{
		"chainId":   strconv.FormatInt(e.ChainID, 10),
		"userId":    e.User,
		"currency":  e.Currency,
		"available": e.Available.String(),
		"locked":    e.Locked.String(),
		"timestamp": strconv.FormatInt(e.Timestamp, 10),
	}
}

func DecodeBalanceEvent(fields map[string]string) (BalanceEvent, error) {
	var e BalanceEvent
	var err error
	if e.ChainID, err = fieldInt(fields, "chainId"); err != nil {
		return e, err
	}
	e.User = fields["userId"]
	e.Currency = fields["currency"]
	if e.Available, err = fieldBig(fields, "available"); err != nil {
		return e, err
	}
	if e.Locked, err = fieldBig(fields, "locked"); err != nil {
		return e, err
	}
	if e.Timestamp, err = fieldInt(fields, "timestamp"); err != nil {
		return e, err
	}
	return e, nil
}

// OrderEvent is the auxiliary orders-stream record for non-websocket
// consumers (analytics, archival).
type OrderEvent struct {
	ChainID     int64
	PoolAddress string
	OrderID     string
	User        string
	Status      string
	Timestamp   int64
}

func (e OrderEvent) Fields() map[string]string {
	return map[string]string{
		"chainId":     strconv.FormatInt(e.ChainID, 10),
		"poolAddress": e.PoolAddress,
		"orderId":     e.OrderID,
		"userId":      e.User,
		"status":      e.Status,
		"timestamp":   strconv.FormatInt(e.Timestamp, 10),
	}
}

func fieldBig(fields map[string]string, key string) (*big.Int, error) {
	s, ok := fields[key]
	if !ok || s == "" {
		return nil, fmt.Errorf("stream record missing field %q", key)
	}
	v, ok2 := new(big.Int).SetString(s, 10)
	if !ok2 {
		return nil, fmt.Errorf("stream record field %q not a big integer: %q", key, s)
	}
	return v, nil
}

func fieldInt(fields map[string]string, key string) (int64, error) {
	s, ok := fields[key]
	if !ok || s == "" {
		return 0, fmt.Errorf("stream record missing field %q", key)
	}
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("stream record field %q not an integer: %q", key, s)
	}
	return v, nil
}

func fieldDecimal(fields map[string]string, key string) (decimal.Decimal, error) {
	s, ok := fields[key]
	if !ok || s == "" {
		return decimal.Decimal{}, fmt.Errorf("stream record missing field %q", key)
	}
	v, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("stream record field %q not a decimal: %q", key, s)
	}
	return v, nil
}
