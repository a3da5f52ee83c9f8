package tokenledger

import (
	"context"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

// Memory is an ERC-20-shaped in-process token ledger used in dev mode and
// unit tests. All transfers out of the custody account originate from the
// configured custody address.
type Memory struct {
	mu       sync.Mutex
	custody  common.Address
	balances map[common.Address]*big.Int
}

// NewMemory creates an in-memory token ledger whose Transfer calls debit the
// given custody address.
func NewMemory(custody common.Address) *Memory {
	return &Memory{
		custody:  custody,
		balances: make(map[common.Address]*big.Int),
	}
}

// Mint credits freshly issued tokens to an address. Test and dev helper;
// the real ledger mints through its own mechanisms.
func (m *Memory) Mint(addr common.Address, amount *big.Int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.credit(addr, amount)
}

// BalanceOf returns the token balance of an address.
func (m *Memory) BalanceOf(addr common.Address) *big.Int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if b, ok := m.balances[addr]; ok {
		return new(big.Int).Set(b)
	}
	return new(big.Int)
}

func (m *Memory) Transfer(_ context.Context, to common.Address, amount *big.Int) (bool, error) {
	return m.move(m.custody, to, amount)
}

func (m *Memory) TransferFrom(_ context.Context, from, to common.Address, amount *big.Int) (bool, error) {
	return m.move(from, to, amount)
}

func (m *Memory) move(from, to common.Address, amount *big.Int) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	bal, ok := m.balances[from]
	if !ok || bal.Cmp(amount) < 0 {
		return false, nil
	}
	bal.Sub(bal, amount)
	m.credit(to, amount)
	return true, nil
}

// credit assumes m.mu is held.
func (m *Memory) credit(addr common.Address, amount *big.Int) {
	if b, ok := m.balances[addr]; ok {
		b.Add(b, amount)
		return
	}
	m.balances[addr] = new(big.Int).Set(amount)
}
