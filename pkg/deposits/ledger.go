// Package deposits implements the per-identity deposit ledger: the custody
// core's internal accounting of token entitlement held on behalf of each
// identity. Balances are never negative; every debit is checked first.
package deposits

import (
	"context"
	"errors"
	"math/big"

	"go.uber.org/zap"

	"github.com/idforge/custody/pkg/custodystore"
	"github.com/idforge/custody/pkg/identity"
)

// ErrInsufficientBalance is returned when a debit exceeds the identity's
// balance.
var ErrInsufficientBalance = errors.New("insufficient balance")

// Ledger owns the deposit balances. Credits are unconditional (invoked only
// after an external token transfer is confirmed); debits check first.
type Ledger struct {
	store  custodystore.BalanceStore
	logger *zap.Logger
}

// NewLedger creates a deposit ledger over the given store.
func NewLedger(store custodystore.BalanceStore, logger *zap.Logger) *Ledger {
	return &Ledger{store: store, logger: logger}
}

// Balance returns the identity's balance. Pure read, no side effects.
func (l *Ledger) Balance(ctx context.Context, ein identity.EIN) (*big.Int, error) {
	return l.store.Balance(ctx, ein)
}

// Credit increments the identity's balance.
func (l *Ledger) Credit(ctx context.Context, ein identity.EIN, amount *big.Int) error {
	balance, err := l.store.Balance(ctx, ein)
	if err != nil {
		return err
	}
	if err := l.store.SetBalance(ctx, ein, balance.Add(balance, amount)); err != nil {
		return err
	}
	l.logger.Debug("balance credited",
		zap.Stringer("ein", ein),
		zap.String("amount", amount.String()))
	return nil
}

// Debit decrements the identity's balance, failing with
// ErrInsufficientBalance when the balance would go negative.
func (l *Ledger) Debit(ctx context.Context, ein identity.EIN, amount *big.Int) error {
	balance, err := l.store.Balance(ctx, ein)
	if err != nil {
		return err
	}
	if balance.Cmp(amount) < 0 {
		return ErrInsufficientBalance
	}
	if err := l.store.SetBalance(ctx, ein, balance.Sub(balance, amount)); err != nil {
		return err
	}
	l.logger.Debug("balance debited",
		zap.Stringer("ein", ein),
		zap.String("amount", amount.String()))
	return nil
}
