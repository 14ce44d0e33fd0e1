// Package chain defines the inbound contract with the blockchain indexer:
// the typed envelope every decoded log arrives in, and the per-kind
// argument payloads. The indexer framework itself is an external
// collaborator; events for one chain arrive serialized in block/log order.
package chain

// Block carries the block metadata of a decoded log.
type Block struct {
	Number    uint64
	Timestamp int64 // unix seconds
}

// Transaction carries the enclosing transaction metadata.
type Transaction struct {
	Hash string
	From string
}

// Log carries the log position metadata.
type Log struct {
	Address  string
	LogIndex uint32
}

// Network identifies the chain the event came from.
type Network struct {
	ChainID int64
}

// Context is the shared envelope delivered with every decoded event.
type Context struct {
	Block       Block
	Transaction Transaction
	Log         Log
	Network     Network
}

// Order sides and types as decoded from chain events.
const (
	SideBuy  = "Buy"
	SideSell = "Sell"

	OrderTypeLimit  = "Limit"
	OrderTypeMarket = "Market"
)

// Order statuses carried by OrderPlaced/UpdateOrder events.
const (
	StatusOpen            = "Open"
	StatusPartiallyFilled = "PartiallyFilled"
	StatusFilled          = "Filled"
	StatusCancelled       = "Cancelled"
	StatusRejected        = "Rejected"
	StatusExpired         = "Expired"
)

// PoolCreatedArgs announces a new trading pool.
type PoolCreatedArgs struct {
	PoolAddress   string `json:"poolAddress"`
	OrderBook     string `json:"orderBook"`
	BaseCurrency  string `json:"baseCurrency"` // token address
	QuoteCurrency string `json:"quoteCurrency"` // token address
	BaseSymbol    string `json:"baseSymbol"`
	QuoteSymbol   string `json:"quoteSymbol"`
	BaseDecimals  int32  `json:"baseDecimals"`
	QuoteDecimals int32  `json:"quoteDecimals"`
}

// OrderPlacedArgs is a new resting or crossing order.
type OrderPlacedArgs struct {
	PoolAddress string `json:"poolAddress"`
	OrderID     string `json:"orderId"`
	User        string `json:"user"`
	Side        string `json:"side"`
	OrderType   string `json:"orderType"`
	Price       string `json:"price"`    // decimal string, quote fixed-point
	Quantity    string `json:"quantity"` // decimal string, base fixed-point
	Status      string `json:"status"`
	Expiry      int64  `json:"expiry"`
}

// OrderMatchedArgs is one on-chain fill between two orders.
type OrderMatchedArgs struct {
	PoolAddress    string `json:"poolAddress"`
	BuyOrderID     string `json:"buyOrderId"`
	SellOrderID    string `json:"sellOrderId"`
	BuyUser        string `json:"buyUser"`
	SellUser       string `json:"sellUser"`
	TakerSide      string `json:"takerSide"` // side of the incoming order
	ExecutionPrice string `json:"executionPrice"`
	ExecutedQty    string `json:"executedQty"`
}

// OrderCancelledArgs is a user cancellation of a resting order.
type OrderCancelledArgs struct {
	PoolAddress string `json:"poolAddress"`
	OrderID     string `json:"orderId"`
	User        string `json:"user"`
}

// UpdateOrderArgs is a generic status transition (expiry, rejection).
type UpdateOrderArgs struct {
	PoolAddress string `json:"poolAddress"`
	OrderID     string `json:"orderId"`
	User        string `json:"user"`
	Status      string `json:"status"`
}

// BalanceChangeArgs covers deposit/withdrawal/lock/unlock and faucet mints.
type BalanceChangeArgs struct {
	User     string `json:"user"`
	Currency string `json:"currency"` // token address
	Amount   string `json:"amount"`   // decimal string
}

// TransferArgs covers TransferFrom / TransferLockedFrom between users.
type TransferArgs struct {
	From     string `json:"from"`
	To       string `json:"to"`
	Currency string `json:"currency"`
	Amount   string `json:"amount"`
}
