package resolver

import (
	"context"
	"math/big"

	"github.com/idforge/custody/pkg/identity"
)

// mockHooks is a func-field mock for the resolver lifecycle callbacks.
type mockHooks struct {
	WantsSignUp   bool
	WantsRemoval  bool
	OnSignUpFunc  func(ctx context.Context, ein identity.EIN, allowance *big.Int) (bool, error)
	OnRemovalFunc func(ctx context.Context, ein identity.EIN) (bool, error)

	SignUpCalls  int
	RemovalCalls int
}

func (m *mockHooks) WantsSignUpCallback() bool  { return m.WantsSignUp }
func (m *mockHooks) WantsRemovalCallback() bool { return m.WantsRemoval }

func (m *mockHooks) OnSignUp(ctx context.Context, ein identity.EIN, allowance *big.Int) (bool, error) {
	m.SignUpCalls++
	if m.OnSignUpFunc != nil {
		return m.OnSignUpFunc(ctx, ein, allowance)
	}
	return true, nil
}

func (m *mockHooks) OnRemoval(ctx context.Context, ein identity.EIN) (bool, error) {
	m.RemovalCalls++
	if m.OnRemovalFunc != nil {
		return m.OnRemovalFunc(ctx, ein)
	}
	return true, nil
}
