package registry

import (
	"context"
	"errors"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

func TestMemory_MintAndLookup(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	addr := common.HexToAddress("0x01")

	ein, err := m.MintIdentity(ctx, addr)
	if err != nil {
		t.Fatalf("MintIdentity() failed: %v", err)
	}

	got, err := m.GetIdentity(ctx, addr)
	if err != nil || got != ein {
		t.Fatalf("GetIdentity() = %v, %v; want %v", got, err, ein)
	}

	exists, _ := m.IdentityExists(ctx, ein)
	if !exists {
		t.Fatal("expected identity to exist")
	}

	if _, err := m.MintIdentity(ctx, addr); !errors.Is(err, ErrAddressInUse) {
		t.Fatalf("expected ErrAddressInUse for reused address, got %v", err)
	}
}

func TestMemory_GetIdentity_NotFound(t *testing.T) {
	m := NewMemory()
	_, err := m.GetIdentity(context.Background(), common.HexToAddress("0x02"))
	if !errors.Is(err, ErrIdentityNotFound) {
		t.Fatalf("expected ErrIdentityNotFound, got %v", err)
	}
}

func TestMemory_Resolvers(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	ein, _ := m.MintIdentity(ctx, common.HexToAddress("0x01"))
	res := common.HexToAddress("0xaa")

	if err := m.AddResolvers(ctx, ein, []common.Address{res}); err != nil {
		t.Fatalf("AddResolvers() failed: %v", err)
	}
	set, _ := m.IsResolverFor(ctx, ein, res)
	if !set {
		t.Fatal("expected resolver set")
	}
	if err := m.AddResolvers(ctx, ein, []common.Address{res}); !errors.Is(err, ErrResolverAlreadySet) {
		t.Fatalf("expected ErrResolverAlreadySet, got %v", err)
	}

	if err := m.RemoveResolvers(ctx, ein, []common.Address{res}); err != nil {
		t.Fatalf("RemoveResolvers() failed: %v", err)
	}
	if err := m.RemoveResolvers(ctx, ein, []common.Address{res}); !errors.Is(err, ErrResolverNotSet) {
		t.Fatalf("expected ErrResolverNotSet, got %v", err)
	}
}

func TestMemory_AddAndRemoveAddress(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	ein, _ := m.MintIdentity(ctx, common.HexToAddress("0x01"))
	second := common.HexToAddress("0x02")

	if err := m.AddAddress(ctx, ein, second); err != nil {
		t.Fatalf("AddAddress() failed: %v", err)
	}
	got, err := m.GetIdentity(ctx, second)
	if err != nil || got != ein {
		t.Fatalf("expected second address mapped to %v, got %v (%v)", ein, got, err)
	}

	if err := m.RemoveAddress(ctx, ein, second); err != nil {
		t.Fatalf("RemoveAddress() failed: %v", err)
	}
	if _, err := m.GetIdentity(ctx, second); !errors.Is(err, ErrIdentityNotFound) {
		t.Fatalf("expected ErrIdentityNotFound after removal, got %v", err)
	}
}

func TestMemory_VerifySignature(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("GenerateKey() failed: %v", err)
	}
	addr := crypto.PubkeyToAddress(key.PublicKey)
	if _, err := m.MintIdentity(ctx, addr); err != nil {
		t.Fatalf("MintIdentity() failed: %v", err)
	}

	digest := crypto.Keccak256Hash([]byte("payload"))
	sig, err := crypto.Sign(digest.Bytes(), key)
	if err != nil {
		t.Fatalf("Sign() failed: %v", err)
	}

	ok, err := m.VerifySignature(ctx, addr, digest, sig)
	if err != nil || !ok {
		t.Fatalf("expected valid signature, got %v (%v)", ok, err)
	}

	// A different claimed signer must be rejected.
	ok, err = m.VerifySignature(ctx, common.HexToAddress("0x0f"), digest, sig)
	if err != nil || ok {
		t.Fatalf("expected rejection for wrong signer, got %v (%v)", ok, err)
	}

	// Garbage signatures report false, not an error.
	ok, err = m.VerifySignature(ctx, addr, digest, make([]byte, 65))
	if err != nil || ok {
		t.Fatalf("expected rejection for garbage signature, got %v (%v)", ok, err)
	}
}
