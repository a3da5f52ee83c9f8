package custody

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/idforge/custody/pkg/identity"
)

// mockRelay is a func-field mock for the via-withdrawal callback.
type mockRelay struct {
	RelayToIdentityFunc func(ctx context.Context, resolver common.Address, from identity.EIN, to identity.EIN, amount *big.Int, payload []byte) error
	RelayToAddressFunc  func(ctx context.Context, resolver common.Address, from identity.EIN, to common.Address, amount *big.Int, payload []byte) error

	IdentityCalls int
	AddressCalls  int
}

func (m *mockRelay) RelayToIdentity(ctx context.Context, resolver common.Address, from identity.EIN, to identity.EIN, amount *big.Int, payload []byte) error {
	m.IdentityCalls++
	if m.RelayToIdentityFunc != nil {
		return m.RelayToIdentityFunc(ctx, resolver, from, to, amount, payload)
	}
	return nil
}

func (m *mockRelay) RelayToAddress(ctx context.Context, resolver common.Address, from identity.EIN, to common.Address, amount *big.Int, payload []byte) error {
	m.AddressCalls++
	if m.RelayToAddressFunc != nil {
		return m.RelayToAddressFunc(ctx, resolver, from, to, amount, payload)
	}
	return nil
}

// mockTokenLedger is a func-field mock for the external token ledger.
type mockTokenLedger struct {
	TransferFunc     func(ctx context.Context, to common.Address, amount *big.Int) (bool, error)
	TransferFromFunc func(ctx context.Context, from, to common.Address, amount *big.Int) (bool, error)
}

func (m *mockTokenLedger) Transfer(ctx context.Context, to common.Address, amount *big.Int) (bool, error) {
	if m.TransferFunc != nil {
		return m.TransferFunc(ctx, to, amount)
	}
	return true, nil
}

func (m *mockTokenLedger) TransferFrom(ctx context.Context, from, to common.Address, amount *big.Int) (bool, error) {
	if m.TransferFromFunc != nil {
		return m.TransferFromFunc(ctx, from, to, amount)
	}
	return true, nil
}
