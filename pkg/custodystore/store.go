// Package custodystore provides persistence for the three custody ledgers:
// deposit balances, resolver allowances, and consumed delegated-signature
// digests. Two implementations exist: an in-memory store used in dev mode
// and tests, and a postgres store backed by bun.
package custodystore

import (
	"context"
	"errors"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/idforge/custody/pkg/identity"
)

// ErrAllowanceNotFound is returned when no allowance entry exists for the
// (identity, resolver) pair.
var ErrAllowanceNotFound = errors.New("allowance not found")

// BalanceStore persists per-identity deposit balances.
type BalanceStore interface {
	// Balance returns the identity's balance; identities without an entry
	// report zero.
	Balance(ctx context.Context, ein identity.EIN) (*big.Int, error)
	// SetBalance overwrites the identity's balance.
	SetBalance(ctx context.Context, ein identity.EIN, amount *big.Int) error
}

// AllowanceStore persists per-(identity, resolver) allowance entries.
type AllowanceStore interface {
	// Allowance returns the allowance entry, or ErrAllowanceNotFound.
	Allowance(ctx context.Context, ein identity.EIN, resolver common.Address) (*big.Int, error)
	// SetAllowance creates or overwrites the allowance entry.
	SetAllowance(ctx context.Context, ein identity.EIN, resolver common.Address, amount *big.Int) error
	// DeleteAllowance removes the allowance entry if present.
	DeleteAllowance(ctx context.Context, ein identity.EIN, resolver common.Address) error
}

// SignatureStore persists the consumed-set for delegated signatures.
type SignatureStore interface {
	IsConsumed(ctx context.Context, digest common.Hash) (bool, error)
	MarkConsumed(ctx context.Context, digest common.Hash) error
}

// Store aggregates the three ledgers' persistence behind one backend.
type Store interface {
	BalanceStore
	AllowanceStore
	SignatureStore
}
