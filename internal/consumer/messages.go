package consumer

import (
	"strings"

	"clob-market-data/internal/chain"
	"clob-market-data/internal/streams"
)

// Wire payloads are Binance-compatible JSON. Timestamps on the wire are
// milliseconds; stream records carry unix seconds.

func ms(seconds int64) int64 {
	return seconds * 1000
}

// TradeMessage is the <symbol>@trade frame.
type TradeMessage struct {
	EventType    string `json:"e"`
	EventTime    int64  `json:"E"`
	Symbol       string `json:"s"`
	TradeID      string `json:"t"`
	Price        string `json:"p"`
	Quantity     string `json:"q"`
	TradeTime    int64  `json:"T"`
	IsBuyerMaker bool   `json:"m"`
}

// NewTradeMessage translates a trades-stream record to the wire. The buyer
// is the maker exactly when the incoming (taker) order was a sell.
func NewTradeMessage(e streams.TradeEvent) TradeMessage {
	return TradeMessage{
		EventType:    "trade",
		EventTime:    ms(e.Timestamp),
		Symbol:       strings.ToUpper(e.Symbol),
		TradeID:      e.TradeID,
		Price:        e.Price.String(),
		Quantity:     e.Quantity.String(),
		TradeTime:    ms(e.Timestamp),
		IsBuyerMaker: e.TakerSide == chain.SideSell,
	}
}

// DepthMessage is the <symbol>@depth frame: a full top-N snapshot.
type DepthMessage struct {
	EventType string     `json:"e"`
	EventTime int64      `json:"E"`
	Symbol    string     `json:"s"`
	Bids      [][]string `json:"b"`
	Asks      [][]string `json:"a"`
}

func NewDepthMessage(e streams.DepthEvent) DepthMessage {
	return DepthMessage{
		EventType: "depthUpdate",
		EventTime: ms(e.Timestamp),
		Symbol:    strings.ToUpper(e.Symbol),
		Bids:      toWireLevels(e.Bids),
		Asks:      toWireLevels(e.Asks),
	}
}

func toWireLevels(levels []streams.PriceLevel) [][]string {
	out := make([][]string, 0, len(levels))
	for _, l := range levels {
		out = append(out, []string{l.Price.String(), l.Quantity.String()})
	}
	return out
}

// KlinePayload is the k object inside a kline frame.
type KlinePayload struct {
	OpenTime      int64  `json:"t"`
	CloseTime     int64  `json:"T"`
	Symbol        string `json:"s"`
	Interval      string `json:"i"`
	Open          string `json:"o"`
	Close         string `json:"c"`
	High          string `json:"h"`
	Low           string `json:"l"`
	Volume        string `json:"v"`
	TradeCount    int64  `json:"n"`
	Closed        bool   `json:"x"`
	QuoteVolume   string `json:"q"`
	TakerBuyBase  string `json:"V"`
	TakerBuyQuote string `json:"Q"`
}

// KlineMessage is the <symbol>@kline_<interval> frame.
type KlineMessage struct {
	EventType string       `json:"e"`
	EventTime int64        `json:"E"`
	Symbol    string       `json:"s"`
	Kline     KlinePayload `json:"k"`
}

func NewKlineMessage(e streams.KlineEvent) KlineMessage {
	return KlineMessage{
		EventType: "kline",
		EventTime: ms(e.Timestamp),
		Symbol:    strings.ToUpper(e.Symbol),
		Kline: KlinePayload{
			OpenTime:      ms(e.OpenTime),
			CloseTime:     ms(e.CloseTime),
			Symbol:        strings.ToUpper(e.Symbol),
			Interval:      e.Interval,
			Open:          e.Open.String(),
			Close:         e.Close.String(),
			High:          e.High.String(),
			Low:           e.Low.String(),
			Volume:        e.Volume.String(),
			TradeCount:    e.Count,
			Closed:        e.Timestamp > e.CloseTime,
			QuoteVolume:   e.QuoteVolume.String(),
			TakerBuyBase:  e.TakerBuyBase.String(),
			TakerBuyQuote: e.TakerBuyQuote.String(),
		},
	}
}

// MiniTickerMessage is the <symbol>@miniTicker frame.
type MiniTickerMessage struct {
	EventType string `json:"e"`
	EventTime int64  `json:"E"`
	Symbol    string `json:"s"`
	Close     string `json:"c"`
	High      string `json:"h"`
	Low       string `json:"l"`
	Volume    string `json:"v"`
}

func NewMiniTickerMessage(e streams.MiniTickerEvent) MiniTickerMessage {
	return MiniTickerMessage{
		EventType: "24hrMiniTicker",
		EventTime: ms(e.Timestamp),
		Symbol:    strings.ToUpper(e.Symbol),
		Close:     e.Close.String(),
		High:      e.High.String(),
		Low:       e.Low.String(),
		Volume:    e.Volume.String(),
	}
}

// ExecutionReportMessage is the per-user executionReport frame, carrying
// the Binance field letters.
type ExecutionReportMessage struct {
	EventType        string `json:"e"`
	EventTime        int64  `json:"E"`
	Symbol           string `json:"s"`
	ClientOrderID    string `json:"c"`
	Side             string `json:"S"`
	OrderType        string `json:"o"`
	TimeInForce      string `json:"f"`
	Quantity         string `json:"q"`
	Price            string `json:"p"`
	StopPrice        string `json:"P"`
	IcebergQty       string `json:"F"`
	OrderListID      int64  `json:"g"`
	OrigClientID     string `json:"C"`
	ExecutionType    string `json:"x"`
	OrderStatus      string `json:"X"`
	RejectReason     string `json:"r"`
	OrderID          string `json:"i"`
	LastExecutedQty  string `json:"l"`
	CumulativeFilled string `json:"z"`
	LastExecutedPx   string `json:"L"`
	Commission       string `json:"n"`
	CommissionAsset  string `json:"N"`
	TransactionTime  int64  `json:"T"`
	TradeID          int64  `json:"t"`
	IsWorking        bool   `json:"w"`
	IsMaker          bool   `json:"m"`
	CreationTime     int64  `json:"O"`
	CumulativeQuote  string `json:"Z"`
	LastQuoteQty     string `json:"Y"`
	QuoteOrderQty    string `json:"Q"`
}

// wireStatus maps entity statuses onto Binance order-status names.
var wireStatus = map[string]string{
	chain.StatusOpen:            "NEW",
	chain.StatusPartiallyFilled: "PARTIALLY_FILLED",
	chain.StatusFilled:          "FILLED",
	chain.StatusCancelled:       "CANCELED",
	chain.StatusRejected:        "REJECTED",
	chain.StatusExpired:         "EXPIRED",
}

func wireStatusOf(status string) string {
	if s, ok := wireStatus[status]; ok {
		return s
	}
	return status
}

func wireSide(side string) string {
	if side == chain.SideBuy {
		return "BUY"
	}
	return "SELL"
}

func wireOrderType(t string) string {
	if t == chain.OrderTypeMarket {
		return "MARKET"
	}
	return "LIMIT"
}

func NewExecutionReportMessage(e streams.ExecutionReportEvent) ExecutionReportMessage {
	working := e.Status == chain.StatusOpen || e.Status == chain.StatusPartiallyFilled
	return ExecutionReportMessage{
		EventType:        "executionReport",
		EventTime:        ms(e.Timestamp),
		Symbol:           strings.ToUpper(e.Symbol),
		ClientOrderID:    e.OrderID,
		Side:             wireSide(e.Side),
		OrderType:        wireOrderType(e.OrderType),
		TimeInForce:      "GTC",
		Quantity:         e.Quantity.String(),
		Price:            e.Price.String(),
		StopPrice:        "0",
		IcebergQty:       "0",
		OrderListID:      -1,
		OrigClientID:     "",
		ExecutionType:    e.ExecutionType,
		OrderStatus:      wireStatusOf(e.Status),
		RejectReason:     "NONE",
		OrderID:          e.OrderID,
		LastExecutedQty:  e.LastFilledQty.String(),
		CumulativeFilled: e.Filled.String(),
		LastExecutedPx:   e.LastFilledPrice.String(),
		Commission:       "0",
		CommissionAsset:  "",
		TransactionTime:  ms(e.Timestamp),
		TradeID:          -1,
		IsWorking:        working,
		IsMaker:          false,
		CreationTime:     ms(e.Timestamp),
		CumulativeQuote:  "0",
		LastQuoteQty:     "0",
		QuoteOrderQty:    "0",
	}
}

// BalanceUpdateMessage is the per-user balanceUpdate frame.
type BalanceUpdateMessage struct {
	EventType string `json:"e"`
	EventTime int64  `json:"E"`
	Asset     string `json:"a"`
	Available string `json:"b"`
	Locked    string `json:"l"`
}

func NewBalanceUpdateMessage(e streams.BalanceEvent) BalanceUpdateMessage {
	return BalanceUpdateMessage{
		EventType: "balanceUpdate",
		EventTime: ms(e.Timestamp),
		Asset:     e.Currency,
		Available: e.Available.String(),
		Locked:    e.Locked.String(),
	}
}

