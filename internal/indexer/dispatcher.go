package indexer

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"clob-market-data/internal/chain"
)

// Event kinds as delivered by the indexer framework.
const (
	KindPoolCreated        = "PoolCreated"
	KindOrderPlaced        = "OrderPlaced"
	KindOrderMatched       = "OrderMatched"
	KindOrderCancelled     = "OrderCancelled"
	KindUpdateOrder        = "UpdateOrder"
	KindDeposit            = "Deposit"
	KindWithdrawal         = "Withdrawal"
	KindLock               = "Lock"
	KindUnlock             = "Unlock"
	KindTransferFrom       = "TransferFrom"
	KindTransferLockedFrom = "TransferLockedFrom"
	KindFaucetMint         = "FaucetMint"
)

// Dispatcher decodes raw inbox records into typed events and routes them
// to the reducer. This is the interface boundary with the external indexer
// framework: it delivers {kind, envelope, args-as-JSON} per decoded log.
type Dispatcher struct {
	reducer *Reducer
}

// NewDispatcher binds a dispatcher to one reducer.
func NewDispatcher(reducer *Reducer) *Dispatcher {
	return &Dispatcher{reducer: reducer}
}

// Dispatch applies one decoded event. The envelope fields arrive flattened
// alongside the JSON-encoded args.
func (d *Dispatcher) Dispatch(ctx context.Context, fields map[string]string) error {
	kind := fields["kind"]
	if kind == "" {
		return fmt.Errorf("%w: event missing kind", ErrMalformedEvent)
	}

	evt, err := decodeEnvelope(fields)
	if err != nil {
		return err
	}
	raw := []byte(fields["args"])
	if len(raw) == 0 {
		return fmt.Errorf("%w: %s missing args", ErrMalformedEvent, kind)
	}

	switch kind {
	case KindPoolCreated:
		var args chain.PoolCreatedArgs
		if err := json.Unmarshal(raw, &args); err != nil {
			return fmt.Errorf("%w: %s args: %v", ErrMalformedEvent, kind, err)
		}
		return d.reducer.HandlePoolCreated(ctx, evt, args)

	case KindOrderPlaced:
		var args chain.OrderPlacedArgs
		if err := json.Unmarshal(raw, &args); err != nil {
			return fmt.Errorf("%w: %s args: %v", ErrMalformedEvent, kind, err)
		}
		return d.reducer.HandleOrderPlaced(ctx, evt, args)

	case KindOrderMatched:
		var args chain.OrderMatchedArgs
		if err := json.Unmarshal(raw, &args); err != nil {
			return fmt.Errorf("%w: %s args: %v", ErrMalformedEvent, kind, err)
		}
		return d.reducer.HandleOrderMatched(ctx, evt, args)

	case KindOrderCancelled:
		var args chain.OrderCancelledArgs
		if err := json.Unmarshal(raw, &args); err != nil {
			return fmt.Errorf("%w: %s args: %v", ErrMalformedEvent, kind, err)
		}
		return d.reducer.HandleOrderCancelled(ctx, evt, args)

	case KindUpdateOrder:
		var args chain.UpdateOrderArgs
		if err := json.Unmarshal(raw, &args); err != nil {
			return fmt.Errorf("%w: %s args: %v", ErrMalformedEvent, kind, err)
		}
		return d.reducer.HandleUpdateOrder(ctx, evt, args)

	case KindDeposit, KindWithdrawal, KindLock, KindUnlock, KindFaucetMint:
		var args chain.BalanceChangeArgs
		if err := json.Unmarshal(raw, &args); err != nil {
			return fmt.Errorf("%w: %s args: %v", ErrMalformedEvent, kind, err)
		}
		switch kind {
		case KindDeposit:
			return d.reducer.HandleDeposit(ctx, evt, args)
		case KindWithdrawal:
			return d.reducer.HandleWithdrawal(ctx, evt, args)
		case KindLock:
			return d.reducer.HandleLock(ctx, evt, args)
		case KindUnlock:
			return d.reducer.HandleUnlock(ctx, evt, args)
		default:
			return d.reducer.HandleFaucetMint(ctx, evt, args)
		}

	case KindTransferFrom:
		var args chain.TransferArgs
		if err := json.Unmarshal(raw, &args); err != nil {
			return fmt.Errorf("%w: %s args: %v", ErrMalformedEvent, kind, err)
		}
		return d.reducer.HandleTransferFrom(ctx, evt, args)

	case KindTransferLockedFrom:
		var args chain.TransferArgs
		if err := json.Unmarshal(raw, &args); err != nil {
			return fmt.Errorf("%w: %s args: %v", ErrMalformedEvent, kind, err)
		}
		return d.reducer.HandleTransferLockedFrom(ctx, evt, args)

	default:
		return fmt.Errorf("%w: unknown kind %q", ErrMalformedEvent, kind)
	}
}

func decodeEnvelope(fields map[string]string) (chain.Context, error) {
	var evt chain.Context
	blockNumber, err := strconv.ParseUint(fields["blockNumber"], 10, 64)
	if err != nil {
		return evt, fmt.Errorf("%w: blockNumber %q", ErrMalformedEvent, fields["blockNumber"])
	}
	blockTs, err := strconv.ParseInt(fields["blockTimestamp"], 10, 64)
	if err != nil {
		return evt, fmt.Errorf("%w: blockTimestamp %q", ErrMalformedEvent, fields["blockTimestamp"])
	}
	chainID, err := strconv.ParseInt(fields["chainId"], 10, 64)
	if err != nil {
		return evt, fmt.Errorf("%w: chainId %q", ErrMalformedEvent, fields["chainId"])
	}
	logIndex, _ := strconv.ParseUint(fields["logIndex"], 10, 32)

	evt.Block = chain.Block{Number: blockNumber, Timestamp: blockTs}
	evt.Transaction = chain.Transaction{Hash: fields["txHash"], From: fields["txFrom"]}
	evt.Log = chain.Log{Address: fields["logAddress"], LogIndex: uint32(logIndex)}
	evt.Network = chain.Network{ChainID: chainID}
	return evt, nil
}
