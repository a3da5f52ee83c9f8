package custodystore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/uptrace/bun"

	"github.com/idforge/custody/pkg/identity"
)

type pgStore struct {
	db *bun.DB
}

// NewPGStore creates a postgres implementation of the custody store
func NewPGStore(db *bun.DB) Store {
	return &pgStore{db: db}
}

func parseAmount(s string) (*big.Int, error) {
	n, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fmt.Errorf("malformed amount in store: %q", s)
	}
	return n, nil
}

func (s *pgStore) Balance(ctx context.Context, ein identity.EIN) (*big.Int, error) {
	dao := new(BalanceDao)
	err := s.db.NewSelect().
		Model(dao).
		Where("ein = ?", uint64(ein)).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return new(big.Int), nil
		}
		return nil, fmt.Errorf("failed to get balance: %w", err)
	}
	return parseAmount(dao.Balance)
}

func (s *pgStore) SetBalance(ctx context.Context, ein identity.EIN, amount *big.Int) error {
	dao := &BalanceDao{
		EIN:       uint64(ein),
		Balance:   amount.String(),
		UpdatedAt: time.Now(),
	}
	_, err := s.db.NewInsert().
		Model(dao).
		On("CONFLICT (ein) DO UPDATE").
		Set("balance = EXCLUDED.balance").
		Set("updated_at = EXCLUDED.updated_at").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to set balance: %w", err)
	}
	return nil
}

func (s *pgStore) Allowance(ctx context.Context, ein identity.EIN, resolver common.Address) (*big.Int, error) {
	dao := new(AllowanceDao)
	err := s.db.NewSelect().
		Model(dao).
		Where("ein = ?", uint64(ein)).
		Where("resolver = ?", resolver.Hex()).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrAllowanceNotFound
		}
		return nil, fmt.Errorf("failed to get allowance: %w", err)
	}
	return parseAmount(dao.Allowance)
}

func (s *pgStore) SetAllowance(ctx context.Context, ein identity.EIN, resolver common.Address, amount *big.Int) error {
	dao := &AllowanceDao{
		EIN:       uint64(ein),
		Resolver:  resolver.Hex(),
		Allowance: amount.String(),
		UpdatedAt: time.Now(),
	}
	_, err := s.db.NewInsert().
		Model(dao).
		On("CONFLICT (ein, resolver) DO UPDATE").
		Set("allowance = EXCLUDED.allowance").
		Set("updated_at = EXCLUDED.updated_at").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to set allowance: %w", err)
	}
	return nil
}

func (s *pgStore) DeleteAllowance(ctx context.Context, ein identity.EIN, resolver common.Address) error {
	_, err := s.db.NewDelete().
		Model((*AllowanceDao)(nil)).
		Where("ein = ?", uint64(ein)).
		Where("resolver = ?", resolver.Hex()).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to delete allowance: %w", err)
	}
	return nil
}

func (s *pgStore) IsConsumed(ctx context.Context, digest common.Hash) (bool, error) {
	exists, err := s.db.NewSelect().
		Model((*ConsumedSignatureDao)(nil)).
		Where("digest = ?", digest.Hex()).
		Exists(ctx)
	if err != nil {
		return false, fmt.Errorf("failed to check consumed signature: %w", err)
	}
	return exists, nil
}

func (s *pgStore) MarkConsumed(ctx context.Context, digest common.Hash) error {
	dao := &ConsumedSignatureDao{
		Digest:     digest.Hex(),
		ConsumedAt: time.Now(),
	}
	_, err := s.db.NewInsert().
		Model(dao).
		On("CONFLICT (digest) DO NOTHING").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to mark signature consumed: %w", err)
	}
	return nil
}
