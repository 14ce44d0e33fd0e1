// Package ids derives content-addressed primary keys. Every entity key is a
// SHA-256 over a delimiter-joined tuple, hex encoded, so IDs are stable
// across replays and collision-resistant across chains.
package ids

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"
)

func hash(parts ...string) string {
	sum := sha256.Sum256([]byte(strings.Join(parts, ":")))
	return hex.EncodeToString(sum[:])
}

// Pool derives the pool primary key.
func Pool(chainID int64, poolAddress string) string {
	return hash("pool", strconv.FormatInt(chainID, 10), strings.ToLower(poolAddress))
}

// Order derives the order primary key from the on-chain order id.
func Order(chainID int64, poolAddress, orderID string) string {
	return hash("order", strconv.FormatInt(chainID, 10), strings.ToLower(poolAddress), orderID)
}

// OrderHistory derives an append-only history row key. filledAtEvent
// disambiguates multiple transitions inside one transaction.
func OrderHistory(chainID int64, poolAddress, orderID, txHash, filledAtEvent string) string {
	return hash("order_history", strconv.FormatInt(chainID, 10), strings.ToLower(poolAddress), orderID, strings.ToLower(txHash), filledAtEvent)
}

// Trade derives a trade row key; the tuple includes the side so the two rows
// of one match never collide.
func Trade(chainID int64, txHash, user, side, buyOrderID, sellOrderID, price, qty string) string {
	return hash("trade", strconv.FormatInt(chainID, 10), strings.ToLower(txHash), strings.ToLower(user), side, buyOrderID, sellOrderID, price, qty)
}

// OrderBookTrade derives the flat time-series projection key for a match.
func OrderBookTrade(chainID int64, txHash, buyOrderID, sellOrderID, price, qty string) string {
	return hash("order_book_trade", strconv.FormatInt(chainID, 10), strings.ToLower(txHash), buyOrderID, sellOrderID, price, qty)
}

// Bucket derives a candlestick bucket key for one interval window.
func Bucket(chainID int64, poolAddress string, openTime int64) string {
	return hash("bucket", strconv.FormatInt(chainID, 10), strings.ToLower(poolAddress), strconv.FormatInt(openTime, 10))
}

// DepthLevel derives the aggregated depth row key for (pool, side, price).
func DepthLevel(chainID int64, poolAddress, side, price string) string {
	return hash("depth", strconv.FormatInt(chainID, 10), strings.ToLower(poolAddress), side, price)
}

// Balance derives the balance row key for (chain, user, currency).
func Balance(chainID int64, user, currency string) string {
	return hash("balance", strconv.FormatInt(chainID, 10), strings.ToLower(user), strings.ToLower(currency))
}

// Currency derives the currency row key for a token address.
func Currency(chainID int64, address string) string {
	return hash("currency", strconv.FormatInt(chainID, 10), strings.ToLower(address))
}
