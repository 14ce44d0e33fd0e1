package streams

import "fmt"

// Stream names. Each lives under a per-chain key so multi-chain deployments
// scale independently.
const (
	StreamTrades           = "trades"
	StreamBalances         = "balances"
	StreamOrders           = "orders"
	StreamDepth            = "depth"
	StreamKlines           = "klines"
	StreamExecutionReports = "execution_reports"
)

// AllStreams lists every stream a chain namespace can carry, in the order
// the consumer polls them.
var AllStreams = []string{
	StreamTrades,
	StreamBalances,
	StreamOrders,
	StreamDepth,
	StreamKlines,
	StreamExecutionReports,
}

// Key builds the chain-namespaced stream key, e.g. "chain:1:trades".
func Key(chainID int64, stream string) string {
	return fmt.Sprintf("chain:%d:%s", chainID, stream)
}

// ConsumerGroup returns the default consumer-group name for a chain.
func ConsumerGroup(chainID int64) string {
	return fmt.Sprintf("websocket-consumers-%d", chainID)
}
