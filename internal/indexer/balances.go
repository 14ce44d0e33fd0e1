package indexer

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"clob-market-data/internal/bignum"
	"clob-market-data/internal/chain"
	"clob-market-data/internal/database"
	"clob-market-data/internal/ids"
	"clob-market-data/internal/streams"
)

// HandleDeposit credits a user's available balance.
func (r *Reducer) HandleDeposit(ctx context.Context, evt chain.Context, args chain.BalanceChangeArgs) error {
	return r.applyBalanceChange(ctx, evt, "Deposit", args, func(amount *big.Int) (avail, locked string) {
		return amount.String(), "0"
	})
}

// HandleWithdrawal debits a user's available balance.
func (r *Reducer) HandleWithdrawal(ctx context.Context, evt chain.Context, args chain.BalanceChangeArgs) error {
	return r.applyBalanceChange(ctx, evt, "Withdrawal", args, func(amount *big.Int) (avail, locked string) {
		return new(big.Int).Neg(amount).String(), "0"
	})
}

// HandleLock moves funds from available into locked (order collateral).
func (r *Reducer) HandleLock(ctx context.Context, evt chain.Context, args chain.BalanceChangeArgs) error {
	return r.applyBalanceChange(ctx, evt, "Lock", args, func(amount *big.Int) (avail, locked string) {
		return new(big.Int).Neg(amount).String(), amount.String()
	})
}

// HandleUnlock releases locked funds back to available.
func (r *Reducer) HandleUnlock(ctx context.Context, evt chain.Context, args chain.BalanceChangeArgs) error {
	return r.applyBalanceChange(ctx, evt, "Unlock", args, func(amount *big.Int) (avail, locked string) {
		return amount.String(), new(big.Int).Neg(amount).String()
	})
}

// HandleFaucetMint credits faucet drips to the available balance.
func (r *Reducer) HandleFaucetMint(ctx context.Context, evt chain.Context, args chain.BalanceChangeArgs) error {
	return r.applyBalanceChange(ctx, evt, "FaucetMint", args, func(amount *big.Int) (avail, locked string) {
		return amount.String(), "0"
	})
}

// HandleTransferFrom moves available funds between two users.
func (r *Reducer) HandleTransferFrom(ctx context.Context, evt chain.Context, args chain.TransferArgs) error {
	return r.applyTransfer(ctx, evt, "TransferFrom", args, false)
}

// HandleTransferLockedFrom moves a sender's locked funds into the
// recipient's available balance (settlement of locked collateral).
func (r *Reducer) HandleTransferLockedFrom(ctx context.Context, evt chain.Context, args chain.TransferArgs) error {
	return r.applyTransfer(ctx, evt, "TransferLockedFrom", args, true)
}

func (r *Reducer) applyBalanceChange(ctx context.Context, evt chain.Context, kind string, args chain.BalanceChangeArgs, deltas func(*big.Int) (string, string)) error {
	switch {
	case args.User == "":
		return malformed(kind, "user")
	case args.Currency == "":
		return malformed(kind, "currency")
	}
	amount, err := bignum.Parse(args.Amount)
	if err != nil {
		return fmt.Errorf("%w: %s amount: %v", ErrMalformedEvent, kind, err)
	}

	availDelta, lockedDelta := deltas(amount)
	balance, err := r.store.ApplyBalanceDelta(ctx,
		ids.Balance(r.chainID, args.User, args.Currency),
		r.chainID, args.User, args.Currency, availDelta, lockedDelta, evt.Block.Timestamp,
	)
	if err != nil {
		return err
	}

	return r.gate.ExecuteIfInSync(evt.Block.Number, func() error {
		return r.appendBalanceEvent(ctx, balance)
	})
}

func (r *Reducer) applyTransfer(ctx context.Context, evt chain.Context, kind string, args chain.TransferArgs, fromLocked bool) error {
	switch {
	case args.From == "":
		return malformed(kind, "from")
	case args.To == "":
		return malformed(kind, "to")
	case args.Currency == "":
		return malformed(kind, "currency")
	}
	amount, err := bignum.Parse(args.Amount)
	if err != nil {
		return fmt.Errorf("%w: %s amount: %v", ErrMalformedEvent, kind, err)
	}
	neg := new(big.Int).Neg(amount).String()

	fromAvail, fromLockedDelta := neg, "0"
	if fromLocked {
		fromAvail, fromLockedDelta = "0", neg
	}
	sender, err := r.store.ApplyBalanceDelta(ctx,
		ids.Balance(r.chainID, args.From, args.Currency),
		r.chainID, args.From, args.Currency, fromAvail, fromLockedDelta, evt.Block.Timestamp,
	)
	if err != nil {
		return err
	}
	recipient, err := r.store.ApplyBalanceDelta(ctx,
		ids.Balance(r.chainID, args.To, args.Currency),
		r.chainID, args.To, args.Currency, amount.String(), "0", evt.Block.Timestamp,
	)
	if err != nil {
		return err
	}

	return r.gate.ExecuteIfInSync(evt.Block.Number, func() error {
		if err := r.appendBalanceEvent(ctx, sender); err != nil {
			return err
		}
		return r.appendBalanceEvent(ctx, recipient)
	})
}

// appendBalanceEvent publishes the post-change totals. The currency is
// reported by symbol when the token is registered, by address otherwise.
func (r *Reducer) appendBalanceEvent(ctx context.Context, b *database.Balance) error {
	currency := b.Currency
	if c, err := r.store.GetCurrencyByAddress(ctx, r.chainID, b.Currency); err == nil {
		currency = c.Symbol
	} else if !errors.Is(err, database.ErrNotFound) {
		return err
	}

	event := streams.BalanceEvent{
		ChainID:   r.chainID,
		User:      b.User,
		Currency:  currency,
		Available: mustBig(b.Available),
		Locked:    mustBig(b.Locked),
		Timestamp: b.LastUpdated,
	}
	_, err := r.bus.Append(ctx, streams.Key(r.chainID, streams.StreamBalances), event.Fields())
	return err
}
