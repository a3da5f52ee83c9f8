// Package sigguard implements the replay-protection primitive shared by all
// signature-delegated operations: freshness against a bounded timeout
// window, authenticity against the registry's signature oracle, and an
// optional persistent consumed-set.
//
// The consume flag is deliberate: allowance-change delegations maintain the
// persistent consumed-set, while the add-resolvers delegation path relies on
// the freshness check alone. The asymmetry is inherited from the source
// protocol; see DESIGN.md.
package sigguard

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/idforge/custody/internal/metrics"
	"github.com/idforge/custody/pkg/config"
	"github.com/idforge/custody/pkg/custodystore"
)

var (
	// ErrExpired is returned when a signature's timestamp is outside the
	// validity window.
	ErrExpired = errors.New("signature expired")
	// ErrPermissionDenied is returned on authenticity failure or replay.
	ErrPermissionDenied = errors.New("signature permission denied")
	// ErrTimeoutOutOfRange is returned when setting a timeout outside the
	// configured bounds.
	ErrTimeoutOutOfRange = errors.New("signature timeout out of range")
)

// Verifier is the narrow slice of the registry oracle the guard needs.
type Verifier interface {
	VerifySignature(ctx context.Context, addr common.Address, digest common.Hash, signature []byte) (bool, error)
}

// Guard tracks consumed signed-message digests and enforces the expiry
// window on delegated signatures.
type Guard struct {
	verifier Verifier
	store    custodystore.SignatureStore
	logger   *zap.Logger

	mu      sync.RWMutex
	timeout time.Duration

	now func() time.Time
}

// New creates a guard with the given validity window. The window must sit
// inside [config.MinSignatureTimeout, config.MaxSignatureTimeout].
func New(verifier Verifier, store custodystore.SignatureStore, timeout time.Duration, logger *zap.Logger) (*Guard, error) {
	if timeout < config.MinSignatureTimeout || timeout > config.MaxSignatureTimeout {
		return nil, ErrTimeoutOutOfRange
	}
	return &Guard{
		verifier: verifier,
		store:    store,
		logger:   logger,
		timeout:  timeout,
		now:      time.Now,
	}, nil
}

// Timeout returns the current signature validity window.
func (g *Guard) Timeout() time.Duration {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.timeout
}

// SetTimeout changes the validity window, enforcing the configured bounds.
func (g *Guard) SetTimeout(timeout time.Duration) error {
	if timeout < config.MinSignatureTimeout || timeout > config.MaxSignatureTimeout {
		return ErrTimeoutOutOfRange
	}
	g.mu.Lock()
	g.timeout = timeout
	g.mu.Unlock()
	return nil
}

// VerifyAndConsume validates a delegated signature in order: freshness,
// authenticity against the identity key behind signer, then replay. The
// digest is marked consumed only when consume is true and every check has
// passed; a failed call mutates nothing.
func (g *Guard) VerifyAndConsume(
	ctx context.Context,
	signer common.Address,
	digest common.Hash,
	signature []byte,
	timestamp time.Time,
	consume bool,
) error {
	if !timestamp.Add(g.Timeout()).After(g.now()) {
		metrics.SignatureRejections.WithLabelValues("expired").Inc()
		return ErrExpired
	}

	ok, err := g.verifier.VerifySignature(ctx, signer, digest, signature)
	if err != nil {
		return fmt.Errorf("signature verification: %w", err)
	}
	if !ok {
		metrics.SignatureRejections.WithLabelValues("invalid").Inc()
		g.logger.Debug("delegated signature rejected",
			zap.String("signer", signer.Hex()),
			zap.String("digest", digest.Hex()))
		return ErrPermissionDenied
	}

	if !consume {
		return nil
	}

	consumed, err := g.store.IsConsumed(ctx, digest)
	if err != nil {
		return fmt.Errorf("consumed-set lookup: %w", err)
	}
	if consumed {
		metrics.SignatureRejections.WithLabelValues("replayed").Inc()
		g.logger.Warn("delegated signature replayed",
			zap.String("signer", signer.Hex()),
			zap.String("digest", digest.Hex()))
		return ErrPermissionDenied
	}

	if err := g.store.MarkConsumed(ctx, digest); err != nil {
		return fmt.Errorf("consumed-set update: %w", err)
	}
	return nil
}
