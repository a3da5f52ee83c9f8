package registry

import (
	"context"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/idforge/custody/pkg/auth"
	"github.com/idforge/custody/pkg/identity"
)

type record struct {
	addresses map[common.Address]struct{}
	resolvers map[common.Address]struct{}
}

// Memory is an in-process registry used in dev mode and unit tests.
// Signature verification recovers the signer from the digest and checks it
// against the identity's controlling addresses.
type Memory struct {
	mu      sync.Mutex
	nextEIN identity.EIN
	records map[identity.EIN]*record
	byAddr  map[common.Address]identity.EIN
}

// NewMemory creates an empty in-memory registry.
func NewMemory() *Memory {
	return &Memory{
		nextEIN: 1,
		records: make(map[identity.EIN]*record),
		byAddr:  make(map[common.Address]identity.EIN),
	}
}

func (m *Memory) IdentityExists(_ context.Context, ein identity.EIN) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.records[ein]
	return ok, nil
}

func (m *Memory) GetIdentity(_ context.Context, addr common.Address) (identity.EIN, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ein, ok := m.byAddr[addr]
	if !ok {
		return 0, ErrIdentityNotFound
	}
	return ein, nil
}

func (m *Memory) HasIdentity(_ context.Context, addr common.Address) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.byAddr[addr]
	return ok, nil
}

func (m *Memory) IsResolverFor(_ context.Context, ein identity.EIN, resolver common.Address) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[ein]
	if !ok {
		return false, nil
	}
	_, set := rec.resolvers[resolver]
	return set, nil
}

func (m *Memory) AddResolvers(_ context.Context, ein identity.EIN, resolvers []common.Address) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[ein]
	if !ok {
		return ErrIdentityNotFound
	}
	for _, r := range resolvers {
		if _, set := rec.resolvers[r]; set {
			return ErrResolverAlreadySet
		}
	}
	for _, r := range resolvers {
		rec.resolvers[r] = struct{}{}
	}
	return nil
}

func (m *Memory) RemoveResolvers(_ context.Context, ein identity.EIN, resolvers []common.Address) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[ein]
	if !ok {
		return ErrIdentityNotFound
	}
	for _, r := range resolvers {
		if _, set := rec.resolvers[r]; !set {
			return ErrResolverNotSet
		}
	}
	for _, r := range resolvers {
		delete(rec.resolvers, r)
	}
	return nil
}

// VerifySignature recovers the signer from the prefixed digest and accepts
// the signature when the recovered address equals addr and addr controls an
// identity. Invalid signatures report false with no error.
func (m *Memory) VerifySignature(_ context.Context, addr common.Address, digest common.Hash, signature []byte) (bool, error) {
	recovered, err := auth.RecoverDigestSigner(digest, signature)
	if err != nil {
		return false, nil
	}
	if recovered != addr {
		return false, nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.byAddr[addr]
	return ok, nil
}

func (m *Memory) MintIdentity(_ context.Context, owner common.Address) (identity.EIN, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, taken := m.byAddr[owner]; taken {
		return 0, ErrAddressInUse
	}
	ein := m.nextEIN
	m.nextEIN++
	m.records[ein] = &record{
		addresses: map[common.Address]struct{}{owner: {}},
		resolvers: make(map[common.Address]struct{}),
	}
	m.byAddr[owner] = ein
	return ein, nil
}

func (m *Memory) AddAddress(_ context.Context, ein identity.EIN, addr common.Address) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[ein]
	if !ok {
		return ErrIdentityNotFound
	}
	rec.addresses[addr] = struct{}{}
	m.byAddr[addr] = ein
	return nil
}

func (m *Memory) RemoveAddress(_ context.Context, ein identity.EIN, addr common.Address) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[ein]
	if !ok {
		return ErrIdentityNotFound
	}
	delete(rec.addresses, addr)
	delete(m.byAddr, addr)
	return nil
}
