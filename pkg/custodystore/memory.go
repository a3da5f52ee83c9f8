package custodystore

import (
	"context"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/idforge/custody/pkg/identity"
)

type allowanceKey struct {
	ein      identity.EIN
	resolver common.Address
}

// MemoryStore is a mutex-guarded in-process store. It is the default
// backend and the test double for the postgres store.
type MemoryStore struct {
	mu         sync.Mutex
	balances   map[identity.EIN]*big.Int
	allowances map[allowanceKey]*big.Int
	consumed   map[common.Hash]struct{}
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		balances:   make(map[identity.EIN]*big.Int),
		allowances: make(map[allowanceKey]*big.Int),
		consumed:   make(map[common.Hash]struct{}),
	}
}

func (s *MemoryStore) Balance(_ context.Context, ein identity.EIN) (*big.Int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if b, ok := s.balances[ein]; ok {
		return new(big.Int).Set(b), nil
	}
	return new(big.Int), nil
}

func (s *MemoryStore) SetBalance(_ context.Context, ein identity.EIN, amount *big.Int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.balances[ein] = new(big.Int).Set(amount)
	return nil
}

func (s *MemoryStore) Allowance(_ context.Context, ein identity.EIN, resolver common.Address) (*big.Int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if a, ok := s.allowances[allowanceKey{ein, resolver}]; ok {
		return new(big.Int).Set(a), nil
	}
	return nil, ErrAllowanceNotFound
}

func (s *MemoryStore) SetAllowance(_ context.Context, ein identity.EIN, resolver common.Address, amount *big.Int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.allowances[allowanceKey{ein, resolver}] = new(big.Int).Set(amount)
	return nil
}

func (s *MemoryStore) DeleteAllowance(_ context.Context, ein identity.EIN, resolver common.Address) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.allowances, allowanceKey{ein, resolver})
	return nil
}

func (s *MemoryStore) IsConsumed(_ context.Context, digest common.Hash) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.consumed[digest]
	return ok, nil
}

func (s *MemoryStore) MarkConsumed(_ context.Context, digest common.Hash) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.consumed[digest] = struct{}{}
	return nil
}
