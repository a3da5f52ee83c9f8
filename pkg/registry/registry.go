// Package registry defines the interface to the external identity registry.
//
// The registry is the source of truth for identity existence, the
// address-to-identity mapping, resolver-set membership, and signature
// verification against an identity's controlling keys. The custody core
// consumes it as an injected oracle and never caches its answers.
package registry

import (
	"context"
	"errors"

	"github.com/ethereum/go-ethereum/common"

	"github.com/idforge/custody/pkg/identity"
)

var (
	// ErrIdentityNotFound is returned when an EIN or address has no identity.
	ErrIdentityNotFound = errors.New("identity not found")
	// ErrResolverNotSet is returned when removing a resolver that is not set.
	ErrResolverNotSet = errors.New("resolver not set for identity")
	// ErrResolverAlreadySet is returned when adding a resolver that is already set.
	ErrResolverAlreadySet = errors.New("resolver already set for identity")
	// ErrAddressInUse is returned when minting over an address that already controls an identity.
	ErrAddressInUse = errors.New("address already controls an identity")
)

// Registry is the identity-registry oracle consumed by the custody core.
type Registry interface {
	// IdentityExists reports whether the EIN names a live identity.
	IdentityExists(ctx context.Context, ein identity.EIN) (bool, error)
	// GetIdentity returns the EIN controlled by the given address.
	// Returns ErrIdentityNotFound when the address controls no identity.
	GetIdentity(ctx context.Context, addr common.Address) (identity.EIN, error)
	// HasIdentity reports whether the address controls an identity.
	HasIdentity(ctx context.Context, addr common.Address) (bool, error)
	// IsResolverFor reports whether the resolver is in the identity's resolver set.
	IsResolverFor(ctx context.Context, ein identity.EIN, resolver common.Address) (bool, error)
	// AddResolvers adds the batch to the identity's resolver set.
	AddResolvers(ctx context.Context, ein identity.EIN, resolvers []common.Address) error
	// RemoveResolvers removes the batch from the identity's resolver set.
	RemoveResolvers(ctx context.Context, ein identity.EIN, resolvers []common.Address) error
	// VerifySignature checks a signature over digest against the identity
	// key behind addr.
	VerifySignature(ctx context.Context, addr common.Address, digest common.Hash, signature []byte) (bool, error)

	// Identity/address management passthroughs, forwarded verbatim.
	MintIdentity(ctx context.Context, owner common.Address) (identity.EIN, error)
	AddAddress(ctx context.Context, ein identity.EIN, addr common.Address) error
	RemoveAddress(ctx context.Context, ein identity.EIN, addr common.Address) error
}
