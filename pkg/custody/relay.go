package custody

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/idforge/custody/pkg/identity"
)

// Relay is the callback contract a "via" target implements. The callback
// fires after the withdrawn funds have already been moved into the relay's
// custody; from this core's perspective it is fire-and-forget, and the two
// shapes mirror the identity/address destination overloads.
type Relay interface {
	RelayToIdentity(ctx context.Context, resolver common.Address, from identity.EIN, to identity.EIN, amount *big.Int, payload []byte) error
	RelayToAddress(ctx context.Context, resolver common.Address, from identity.EIN, to common.Address, amount *big.Int, payload []byte) error
}

// RelayDirectory resolves a relay address to its callback implementation.
type RelayDirectory interface {
	Relay(addr common.Address) (Relay, bool)
}

// StaticRelays is a fixed address-to-relay mapping, used in dev mode and
// tests.
type StaticRelays map[common.Address]Relay

func (s StaticRelays) Relay(addr common.Address) (Relay, bool) {
	r, ok := s[addr]
	return r, ok
}
