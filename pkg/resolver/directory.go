// Package resolver implements the resolver directory adapter: it keeps the
// local allowance ledger and the external registry's resolver sets in
// lockstep while invoking resolver lifecycle callbacks.
//
// Both batch protocols are all-or-nothing. Per-entry effects commit to the
// local ledger before the entry's callback fires (a re-entrant callback
// observes committed state, never a half-applied entry), and the single
// registry mutation happens only after every entry has succeeded. Any
// failure unwinds the local writes made for the batch.
package resolver

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/idforge/custody/internal/metrics"
	"github.com/idforge/custody/pkg/allowance"
	"github.com/idforge/custody/pkg/identity"
	"github.com/idforge/custody/pkg/sigguard"
)

var (
	// ErrPermissionDenied is returned when the caller does not control the
	// identity and presents no valid delegation.
	ErrPermissionDenied = errors.New("caller does not control identity")
	// ErrMalformedInput is returned when a batch's shape is invalid.
	ErrMalformedInput = errors.New("malformed batch input")
	// ErrAlreadyRegistered is returned when a batch names a resolver that
	// is already set for the identity.
	ErrAlreadyRegistered = errors.New("resolver already registered")
	// ErrNotRegistered is returned when a batch names a resolver that is
	// not currently set for the identity.
	ErrNotRegistered = errors.New("resolver not registered")
	// ErrSignUpRejected is returned when a resolver's sign-up callback
	// vetoes its registration.
	ErrSignUpRejected = errors.New("resolver sign-up callback rejected")
	// ErrRemovalRejected is returned when a resolver's removal callback
	// vetoes its removal.
	ErrRemovalRejected = errors.New("resolver removal callback rejected")
)

// registryClient is the slice of the registry oracle the directory needs.
type registryClient interface {
	IdentityExists(ctx context.Context, ein identity.EIN) (bool, error)
	GetIdentity(ctx context.Context, addr common.Address) (identity.EIN, error)
	IsResolverFor(ctx context.Context, ein identity.EIN, resolver common.Address) (bool, error)
	AddResolvers(ctx context.Context, ein identity.EIN, resolvers []common.Address) error
	RemoveResolvers(ctx context.Context, ein identity.EIN, resolvers []common.Address) error
}

// Directory orchestrates resolver registration and removal.
type Directory struct {
	registry   registryClient
	allowances *allowance.Ledger
	hooks      HookDirectory
	guard      *sigguard.Guard
	events     EventSink
	logger     *zap.Logger
}

// NewDirectory creates a resolver directory.
func NewDirectory(
	reg registryClient,
	allowances *allowance.Ledger,
	hooks HookDirectory,
	guard *sigguard.Guard,
	events EventSink,
	logger *zap.Logger,
) *Directory {
	return &Directory{
		registry:   reg,
		allowances: allowances,
		hooks:      hooks,
		guard:      guard,
		events:     events,
		logger:     logger,
	}
}

// Add registers a batch of resolvers with matching allowances for the
// caller's identity. Direct authorization: the caller address must control
// the identity.
func (d *Directory) Add(ctx context.Context, caller common.Address, ein identity.EIN, resolvers []common.Address, allowances []*big.Int) error {
	if err := d.authorize(ctx, caller, ein); err != nil {
		return err
	}
	return d.add(ctx, ein, resolvers, allowances)
}

// AddFor registers a batch of resolvers on behalf of an identity, authorized
// by a signature from one of the identity's controlling addresses.
//
// This path checks signature freshness but does not consume the digest:
// within the timeout window a resubmission is rejected by the
// already-registered check rather than the replay guard. The asymmetry with
// the allowance-change path is inherited from the source protocol.
func (d *Directory) AddFor(
	ctx context.Context,
	approver common.Address,
	ein identity.EIN,
	resolvers []common.Address,
	allowances []*big.Int,
	signature []byte,
	timestamp time.Time,
) error {
	if err := d.authorizeDelegated(ctx, approver, ein); err != nil {
		return err
	}
	digest := sigguard.AddResolversDigest(ein, resolvers, allowances, timestamp)
	if err := d.guard.VerifyAndConsume(ctx, approver, digest, signature, timestamp, false); err != nil {
		return err
	}
	return d.add(ctx, ein, resolvers, allowances)
}

// Remove deletes a batch of resolvers for the caller's identity. With
// force=false each resolver wanting a removal callback must approve its
// removal; force=true skips callbacks entirely, allowing removal of
// misbehaving or unresponsive resolvers.
func (d *Directory) Remove(ctx context.Context, caller common.Address, ein identity.EIN, resolvers []common.Address, force bool) error {
	if err := d.authorize(ctx, caller, ein); err != nil {
		return err
	}
	return d.remove(ctx, ein, resolvers, force)
}

// RemoveFor deletes a batch of resolvers on behalf of an identity,
// authorized by signature. The digest is consumed: a removal delegation is
// single-use.
func (d *Directory) RemoveFor(
	ctx context.Context,
	approver common.Address,
	ein identity.EIN,
	resolvers []common.Address,
	force bool,
	signature []byte,
	timestamp time.Time,
) error {
	if err := d.authorizeDelegated(ctx, approver, ein); err != nil {
		return err
	}
	digest := sigguard.RemoveResolversDigest(ein, resolvers, timestamp)
	if err := d.guard.VerifyAndConsume(ctx, approver, digest, signature, timestamp, true); err != nil {
		return err
	}
	return d.remove(ctx, ein, resolvers, force)
}

// authorize checks direct control: the caller address must map to ein.
func (d *Directory) authorize(ctx context.Context, caller common.Address, ein identity.EIN) error {
	got, err := d.registry.GetIdentity(ctx, caller)
	if err != nil || got != ein {
		return ErrPermissionDenied
	}
	return nil
}

// authorizeDelegated checks that the approver controls ein; the signature
// itself is checked by the replay guard.
func (d *Directory) authorizeDelegated(ctx context.Context, approver common.Address, ein identity.EIN) error {
	return d.authorize(ctx, approver, ein)
}

func (d *Directory) add(ctx context.Context, ein identity.EIN, resolvers []common.Address, allowances []*big.Int) error {
	if len(resolvers) == 0 || len(resolvers) != len(allowances) {
		return ErrMalformedInput
	}
	for _, a := range allowances {
		if !identity.ValidAmount(a) {
			return ErrMalformedInput
		}
	}

	exists, err := d.registry.IdentityExists(ctx, ein)
	if err != nil {
		return fmt.Errorf("identity lookup: %w", err)
	}
	if !exists {
		return ErrPermissionDenied
	}

	// Validate the whole batch before the first local write: no duplicates
	// within the batch, none already in the registry's resolver set.
	seen := make(map[common.Address]struct{}, len(resolvers))
	for _, r := range resolvers {
		if _, dup := seen[r]; dup {
			return fmt.Errorf("%w: duplicate resolver %s", ErrMalformedInput, r.Hex())
		}
		seen[r] = struct{}{}

		set, err := d.registry.IsResolverFor(ctx, ein, r)
		if err != nil {
			return fmt.Errorf("registry membership check: %w", err)
		}
		if set {
			return fmt.Errorf("%w: %s", ErrAlreadyRegistered, r.Hex())
		}
	}

	// Per entry: commit the allowance, then fire the sign-up hook. The
	// entry's bookkeeping is durable before its callback runs.
	committed := 0
	abort := func(cause error) error {
		if _, rbErr := d.allowances.Remove(ctx, ein, resolvers[:committed]); rbErr != nil {
			d.logger.Error("add-resolvers rollback failed", zap.Stringer("ein", ein), zap.Error(rbErr))
		}
		return cause
	}

	for i, r := range resolvers {
		if err := d.allowances.SetAllowances(ctx, ein, resolvers[i:i+1], allowances[i:i+1]); err != nil {
			if errors.Is(err, allowance.ErrAlreadyRegistered) {
				err = fmt.Errorf("%w: %s", ErrAlreadyRegistered, r.Hex())
			}
			return abort(err)
		}
		committed++

		hooks, ok := d.hooks.Hooks(r)
		if !ok || !hooks.WantsSignUpCallback() {
			continue
		}
		accepted, err := hooks.OnSignUp(ctx, ein, allowances[i])
		if err != nil {
			metrics.CallbackInvocations.WithLabelValues("sign_up", "error").Inc()
			return abort(fmt.Errorf("%w: %s: %v", ErrSignUpRejected, r.Hex(), err))
		}
		if !accepted {
			metrics.CallbackInvocations.WithLabelValues("sign_up", "rejected").Inc()
			return abort(fmt.Errorf("%w: %s", ErrSignUpRejected, r.Hex()))
		}
		metrics.CallbackInvocations.WithLabelValues("sign_up", "accepted").Inc()
	}

	// Single batched registry mutation, only after every entry succeeded.
	if err := d.registry.AddResolvers(ctx, ein, resolvers); err != nil {
		return abort(fmt.Errorf("registry add: %w", err))
	}

	for i, r := range resolvers {
		d.events.ResolverAdded(ein, r, allowances[i])
	}
	metrics.RegisteredResolvers.Add(float64(len(resolvers)))
	d.logger.Info("resolvers added",
		zap.Stringer("ein", ein),
		zap.Int("count", len(resolvers)))
	return nil
}

func (d *Directory) remove(ctx context.Context, ein identity.EIN, resolvers []common.Address, force bool) error {
	if len(resolvers) == 0 {
		return ErrMalformedInput
	}

	for _, r := range resolvers {
		set, err := d.registry.IsResolverFor(ctx, ein, r)
		if err != nil {
			return fmt.Errorf("registry membership check: %w", err)
		}
		if !set {
			return fmt.Errorf("%w: %s", ErrNotRegistered, r.Hex())
		}
	}

	// Per entry: delete the allowance, then (unless forced) ask the
	// resolver to approve its removal. Deleted entries are restored when a
	// later entry aborts the batch.
	removed := make([]*big.Int, 0, len(resolvers))
	abort := func(cause error) error {
		d.allowances.Restore(ctx, ein, resolvers[:len(removed)], removed)
		return cause
	}

	for i, r := range resolvers {
		amounts, err := d.allowances.Remove(ctx, ein, resolvers[i:i+1])
		if err != nil {
			if errors.Is(err, allowance.ErrNotRegistered) {
				err = fmt.Errorf("%w: %s", ErrNotRegistered, r.Hex())
			}
			return abort(err)
		}
		removed = append(removed, amounts[0])

		if force {
			continue
		}
		hooks, ok := d.hooks.Hooks(r)
		if !ok || !hooks.WantsRemovalCallback() {
			continue
		}
		accepted, err := hooks.OnRemoval(ctx, ein)
		if err != nil {
			metrics.CallbackInvocations.WithLabelValues("removal", "error").Inc()
			return abort(fmt.Errorf("%w: %s: %v", ErrRemovalRejected, r.Hex(), err))
		}
		if !accepted {
			metrics.CallbackInvocations.WithLabelValues("removal", "rejected").Inc()
			return abort(fmt.Errorf("%w: %s", ErrRemovalRejected, r.Hex()))
		}
		metrics.CallbackInvocations.WithLabelValues("removal", "accepted").Inc()
	}

	if err := d.registry.RemoveResolvers(ctx, ein, resolvers); err != nil {
		return abort(fmt.Errorf("registry remove: %w", err))
	}

	for _, r := range resolvers {
		d.events.ResolverRemoved(ein, r)
	}
	metrics.RegisteredResolvers.Sub(float64(len(resolvers)))
	d.logger.Info("resolvers removed",
		zap.Stringer("ein", ein),
		zap.Int("count", len(resolvers)),
		zap.Bool("force", force))
	return nil
}
