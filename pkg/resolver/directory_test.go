package resolver

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"go.uber.org/zap"

	"github.com/idforge/custody/pkg/allowance"
	"github.com/idforge/custody/pkg/custodystore"
	"github.com/idforge/custody/pkg/identity"
	"github.com/idforge/custody/pkg/registry"
	"github.com/idforge/custody/pkg/sigguard"
)

var (
	resolverA = common.HexToAddress("0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa")
	resolverB = common.HexToAddress("0xbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb")
)

type fixture struct {
	reg        *registry.Memory
	allowances *allowance.Ledger
	hooks      StaticHooks
	directory  *Directory

	ownerKey  *ecdsa.PrivateKey
	ownerAddr common.Address
	ein       identity.EIN
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	reg := registry.NewMemory()
	store := custodystore.NewMemoryStore()
	logger := zap.NewNop()

	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("GenerateKey() failed: %v", err)
	}
	addr := crypto.PubkeyToAddress(key.PublicKey)
	ein, err := reg.MintIdentity(context.Background(), addr)
	if err != nil {
		t.Fatalf("MintIdentity() failed: %v", err)
	}

	guard, err := sigguard.New(reg, store, time.Hour, logger)
	if err != nil {
		t.Fatalf("sigguard.New() failed: %v", err)
	}

	allowances := allowance.NewLedger(store, reg, logger)
	hooks := StaticHooks{}
	directory := NewDirectory(reg, allowances, hooks, guard, NewLogSink(logger), logger)

	return &fixture{
		reg:        reg,
		allowances: allowances,
		hooks:      hooks,
		directory:  directory,
		ownerKey:   key,
		ownerAddr:  addr,
		ein:        ein,
	}
}

func (f *fixture) sign(t *testing.T, digest common.Hash) []byte {
	t.Helper()

	sig, err := crypto.Sign(digest.Bytes(), f.ownerKey)
	if err != nil {
		t.Fatalf("Sign() failed: %v", err)
	}
	return sig
}

func TestDirectory_Add(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	err := f.directory.Add(ctx, f.ownerAddr, f.ein,
		[]common.Address{resolverA, resolverB},
		[]*big.Int{big.NewInt(100), big.NewInt(200)})
	if err != nil {
		t.Fatalf("Add() failed: %v", err)
	}

	for _, r := range []common.Address{resolverA, resolverB} {
		set, _ := f.reg.IsResolverFor(ctx, f.ein, r)
		if !set {
			t.Fatalf("expected %s set in registry", r.Hex())
		}
	}
	got, err := f.allowances.Allowance(ctx, f.ein, resolverB)
	if err != nil || got.Cmp(big.NewInt(200)) != 0 {
		t.Fatalf("expected allowance 200 for resolverB, got %v (%v)", got, err)
	}
}

func TestDirectory_Add_NotController(t *testing.T) {
	f := newFixture(t)
	stranger := common.HexToAddress("0x0123456789012345678901234567890123456789")

	err := f.directory.Add(context.Background(), stranger, f.ein,
		[]common.Address{resolverA}, []*big.Int{big.NewInt(1)})
	if !errors.Is(err, ErrPermissionDenied) {
		t.Fatalf("expected ErrPermissionDenied, got %v", err)
	}
}

func TestDirectory_Add_DuplicateInBatch(t *testing.T) {
	f := newFixture(t)

	err := f.directory.Add(context.Background(), f.ownerAddr, f.ein,
		[]common.Address{resolverA, resolverA},
		[]*big.Int{big.NewInt(1), big.NewInt(2)})
	if !errors.Is(err, ErrMalformedInput) {
		t.Fatalf("expected ErrMalformedInput for duplicate, got %v", err)
	}
}

func TestDirectory_Add_SignUpRejectionRollsBack(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	rejecting := &mockHooks{
		WantsSignUp: true,
		OnSignUpFunc: func(context.Context, identity.EIN, *big.Int) (bool, error) {
			return false, nil
		},
	}
	f.hooks[resolverB] = rejecting

	err := f.directory.Add(ctx, f.ownerAddr, f.ein,
		[]common.Address{resolverA, resolverB},
		[]*big.Int{big.NewInt(10), big.NewInt(20)})
	if !errors.Is(err, ErrSignUpRejected) {
		t.Fatalf("expected ErrSignUpRejected, got %v", err)
	}

	// The committed entry for resolverA must have been unwound, and nothing
	// reached the registry.
	if _, err := f.allowances.Allowance(ctx, f.ein, resolverA); !errors.Is(err, allowance.ErrNotRegistered) {
		t.Fatalf("expected resolverA rolled back, got %v", err)
	}
	set, _ := f.reg.IsResolverFor(ctx, f.ein, resolverA)
	if set {
		t.Fatal("registry must be untouched after a rejected batch")
	}
}

func TestDirectory_Add_SignUpSeesCommittedAllowance(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	var observed *big.Int
	probing := &mockHooks{
		WantsSignUp: true,
		OnSignUpFunc: func(ctx context.Context, ein identity.EIN, _ *big.Int) (bool, error) {
			observed, _ = f.allowances.Allowance(ctx, ein, resolverA)
			return true, nil
		},
	}
	f.hooks[resolverA] = probing

	err := f.directory.Add(ctx, f.ownerAddr, f.ein,
		[]common.Address{resolverA}, []*big.Int{big.NewInt(42)})
	if err != nil {
		t.Fatalf("Add() failed: %v", err)
	}
	if observed == nil || observed.Cmp(big.NewInt(42)) != 0 {
		t.Fatalf("sign-up hook must observe its committed allowance, got %v", observed)
	}
}

func TestDirectory_Remove(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	if err := f.directory.Add(ctx, f.ownerAddr, f.ein,
		[]common.Address{resolverA}, []*big.Int{big.NewInt(10)}); err != nil {
		t.Fatalf("seed failed: %v", err)
	}

	if err := f.directory.Remove(ctx, f.ownerAddr, f.ein, []common.Address{resolverA}, false); err != nil {
		t.Fatalf("Remove() failed: %v", err)
	}

	set, _ := f.reg.IsResolverFor(ctx, f.ein, resolverA)
	if set {
		t.Fatal("expected resolverA removed from registry")
	}
	if _, err := f.allowances.Allowance(ctx, f.ein, resolverA); !errors.Is(err, allowance.ErrNotRegistered) {
		t.Fatalf("expected allowance entry removed, got %v", err)
	}
}

func TestDirectory_Remove_RejectionRestores(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	vetoing := &mockHooks{
		WantsRemoval: true,
		OnRemovalFunc: func(context.Context, identity.EIN) (bool, error) {
			return false, nil
		},
	}
	f.hooks[resolverA] = vetoing

	if err := f.directory.Add(ctx, f.ownerAddr, f.ein,
		[]common.Address{resolverA}, []*big.Int{big.NewInt(33)}); err != nil {
		t.Fatalf("seed failed: %v", err)
	}

	err := f.directory.Remove(ctx, f.ownerAddr, f.ein, []common.Address{resolverA}, false)
	if !errors.Is(err, ErrRemovalRejected) {
		t.Fatalf("expected ErrRemovalRejected, got %v", err)
	}

	// The vetoed removal must leave both ledgers intact.
	set, _ := f.reg.IsResolverFor(ctx, f.ein, resolverA)
	if !set {
		t.Fatal("expected resolverA still set after vetoed removal")
	}
	got, err := f.allowances.Allowance(ctx, f.ein, resolverA)
	if err != nil || got.Cmp(big.NewInt(33)) != 0 {
		t.Fatalf("expected allowance restored to 33, got %v (%v)", got, err)
	}
}

func TestDirectory_Remove_ForceSkipsCallbacks(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	vetoing := &mockHooks{
		WantsRemoval: true,
		OnRemovalFunc: func(context.Context, identity.EIN) (bool, error) {
			return false, nil
		},
	}
	f.hooks[resolverA] = vetoing

	if err := f.directory.Add(ctx, f.ownerAddr, f.ein,
		[]common.Address{resolverA}, []*big.Int{big.NewInt(1)}); err != nil {
		t.Fatalf("seed failed: %v", err)
	}

	if err := f.directory.Remove(ctx, f.ownerAddr, f.ein, []common.Address{resolverA}, true); err != nil {
		t.Fatalf("forced Remove() failed: %v", err)
	}
	if vetoing.RemovalCalls != 0 {
		t.Fatalf("force removal must not invoke callbacks, got %d calls", vetoing.RemovalCalls)
	}
}

func TestDirectory_AddFor_DelegatedSignature(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	ts := time.Now()
	resolvers := []common.Address{resolverA}
	amounts := []*big.Int{big.NewInt(50)}
	sig := f.sign(t, sigguard.AddResolversDigest(f.ein, resolvers, amounts, ts))

	if err := f.directory.AddFor(ctx, f.ownerAddr, f.ein, resolvers, amounts, sig, ts); err != nil {
		t.Fatalf("AddFor() failed: %v", err)
	}

	// The digest is not consumed; resubmission fails on the registered check
	// instead of the replay guard.
	err := f.directory.AddFor(ctx, f.ownerAddr, f.ein, resolvers, amounts, sig, ts)
	if !errors.Is(err, ErrAlreadyRegistered) {
		t.Fatalf("expected ErrAlreadyRegistered on resubmission, got %v", err)
	}
}

func TestDirectory_RemoveFor_ConsumesSignature(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	if err := f.directory.Add(ctx, f.ownerAddr, f.ein,
		[]common.Address{resolverA}, []*big.Int{big.NewInt(1)}); err != nil {
		t.Fatalf("seed failed: %v", err)
	}

	ts := time.Now()
	resolvers := []common.Address{resolverA}
	sig := f.sign(t, sigguard.RemoveResolversDigest(f.ein, resolvers, ts))

	if err := f.directory.RemoveFor(ctx, f.ownerAddr, f.ein, resolvers, false, sig, ts); err != nil {
		t.Fatalf("RemoveFor() failed: %v", err)
	}

	// Re-register, then replay the old removal delegation: the consumed-set
	// must reject it even though the resolver is set again.
	if err := f.directory.Add(ctx, f.ownerAddr, f.ein,
		[]common.Address{resolverA}, []*big.Int{big.NewInt(1)}); err != nil {
		t.Fatalf("re-register failed: %v", err)
	}
	err := f.directory.RemoveFor(ctx, f.ownerAddr, f.ein, resolvers, false, sig, ts)
	if !errors.Is(err, sigguard.ErrPermissionDenied) {
		t.Fatalf("expected replay rejection, got %v", err)
	}
}
