// Package allowance implements the per-(identity, resolver) allowance
// ledger. Entries are created when a resolver is registered, mutated by the
// identity's owner or by signed delegation, and decremented atomically on
// every delegated spend.
package allowance

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/idforge/custody/pkg/custodystore"
	"github.com/idforge/custody/pkg/identity"
)

var (
	// ErrAlreadyRegistered is returned when registering a resolver that
	// already has an allowance entry.
	ErrAlreadyRegistered = errors.New("resolver already registered")
	// ErrNotRegistered is returned when operating on a resolver that has no
	// allowance entry (or is no longer set in the registry).
	ErrNotRegistered = errors.New("resolver not registered")
	// ErrLengthMismatch is returned when a batch's resolver and amount
	// slices differ in length.
	ErrLengthMismatch = errors.New("resolver and allowance lists differ in length")
	// ErrInsufficientAllowance is returned when a spend exceeds the
	// remaining allowance.
	ErrInsufficientAllowance = errors.New("insufficient allowance")
)

// Membership is the slice of the registry oracle consulted on every spend.
// The registry check runs independently of the local allowance map so a
// stale entry cannot be exploited after an external desync.
type Membership interface {
	IsResolverFor(ctx context.Context, ein identity.EIN, resolver common.Address) (bool, error)
}

// Ledger owns all allowance entries. It is exclusively responsible for
// their mutation; the resolver directory keeps it in lockstep with the
// registry's resolver sets.
type Ledger struct {
	store      custodystore.AllowanceStore
	membership Membership
	logger     *zap.Logger
}

// NewLedger creates an allowance ledger over the given store.
func NewLedger(store custodystore.AllowanceStore, membership Membership, logger *zap.Logger) *Ledger {
	return &Ledger{
		store:      store,
		membership: membership,
		logger:     logger,
	}
}

// Allowance returns the remaining allowance for the pair, or ErrNotRegistered.
func (l *Ledger) Allowance(ctx context.Context, ein identity.EIN, resolver common.Address) (*big.Int, error) {
	amount, err := l.store.Allowance(ctx, ein, resolver)
	if err != nil {
		if errors.Is(err, custodystore.ErrAllowanceNotFound) {
			return nil, ErrNotRegistered
		}
		return nil, err
	}
	return amount, nil
}

// SetAllowances creates allowance entries for an initial registration batch.
// The batch is all-or-nothing: if any resolver already has an entry, no
// entry is written.
func (l *Ledger) SetAllowances(ctx context.Context, ein identity.EIN, resolvers []common.Address, amounts []*big.Int) error {
	if len(resolvers) != len(amounts) {
		return ErrLengthMismatch
	}

	// Validate the whole batch before the first write.
	for _, r := range resolvers {
		_, err := l.store.Allowance(ctx, ein, r)
		if err == nil {
			return fmt.Errorf("%w: %s", ErrAlreadyRegistered, r.Hex())
		}
		if !errors.Is(err, custodystore.ErrAllowanceNotFound) {
			return err
		}
	}

	for i, r := range resolvers {
		if err := l.store.SetAllowance(ctx, ein, r, amounts[i]); err != nil {
			l.rollbackSet(ctx, ein, resolvers[:i])
			return err
		}
	}
	return nil
}

// UpdateAllowances overwrites allowances for already-registered resolvers.
// Fails with ErrNotRegistered if any resolver in the batch has no entry.
func (l *Ledger) UpdateAllowances(ctx context.Context, ein identity.EIN, resolvers []common.Address, amounts []*big.Int) error {
	if len(resolvers) != len(amounts) {
		return ErrLengthMismatch
	}

	previous := make([]*big.Int, len(resolvers))
	for i, r := range resolvers {
		amount, err := l.store.Allowance(ctx, ein, r)
		if err != nil {
			if errors.Is(err, custodystore.ErrAllowanceNotFound) {
				return fmt.Errorf("%w: %s", ErrNotRegistered, r.Hex())
			}
			return err
		}
		previous[i] = amount
	}

	for i, r := range resolvers {
		if err := l.store.SetAllowance(ctx, ein, r, amounts[i]); err != nil {
			l.restore(ctx, ein, resolvers[:i], previous[:i])
			return err
		}
	}
	return nil
}

// Spend atomically checks and decrements the resolver's allowance against
// the identity. The registry membership check runs first so a desynced
// local entry can never be spent.
func (l *Ledger) Spend(ctx context.Context, ein identity.EIN, resolver common.Address, amount *big.Int) error {
	set, err := l.membership.IsResolverFor(ctx, ein, resolver)
	if err != nil {
		return fmt.Errorf("registry membership check: %w", err)
	}
	if !set {
		return ErrNotRegistered
	}

	remaining, err := l.Allowance(ctx, ein, resolver)
	if err != nil {
		return err
	}
	if remaining.Cmp(amount) < 0 {
		return ErrInsufficientAllowance
	}

	if err := l.store.SetAllowance(ctx, ein, resolver, new(big.Int).Sub(remaining, amount)); err != nil {
		return err
	}

	l.logger.Debug("allowance spent",
		zap.Stringer("ein", ein),
		zap.String("resolver", resolver.Hex()),
		zap.String("amount", amount.String()))
	return nil
}

// Remove deletes allowance entries for the batch and returns the removed
// amounts so callers can restore them on a later batch failure. Does not
// touch the registry; keeping the two in lockstep is the directory's job.
func (l *Ledger) Remove(ctx context.Context, ein identity.EIN, resolvers []common.Address) ([]*big.Int, error) {
	removed := make([]*big.Int, len(resolvers))
	for i, r := range resolvers {
		amount, err := l.store.Allowance(ctx, ein, r)
		if err != nil {
			if errors.Is(err, custodystore.ErrAllowanceNotFound) {
				return nil, fmt.Errorf("%w: %s", ErrNotRegistered, r.Hex())
			}
			return nil, err
		}
		removed[i] = amount
	}

	for i, r := range resolvers {
		if err := l.store.DeleteAllowance(ctx, ein, r); err != nil {
			l.restore(ctx, ein, resolvers[:i], removed[:i])
			return nil, err
		}
	}
	return removed, nil
}

// Restore re-creates entries removed earlier in a failed batch.
func (l *Ledger) Restore(ctx context.Context, ein identity.EIN, resolvers []common.Address, amounts []*big.Int) {
	l.restore(ctx, ein, resolvers, amounts)
}

func (l *Ledger) restore(ctx context.Context, ein identity.EIN, resolvers []common.Address, amounts []*big.Int) {
	for i, r := range resolvers {
		if err := l.store.SetAllowance(ctx, ein, r, amounts[i]); err != nil {
			l.logger.Error("allowance restore failed",
				zap.Stringer("ein", ein),
				zap.String("resolver", r.Hex()),
				zap.Error(err))
		}
	}
}

func (l *Ledger) rollbackSet(ctx context.Context, ein identity.EIN, resolvers []common.Address) {
	for _, r := range resolvers {
		if err := l.store.DeleteAllowance(ctx, ein, r); err != nil {
			l.logger.Error("allowance rollback failed",
				zap.Stringer("ein", ein),
				zap.String("resolver", r.Hex()),
				zap.Error(err))
		}
	}
}
