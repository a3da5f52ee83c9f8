package resolver

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/idforge/custody/pkg/identity"
)

// Hooks is the lifecycle callback contract a resolver may implement.
// Capability queries are consulted before each hook; a hook returning
// (false, nil) vetoes the triggering batch entry.
type Hooks interface {
	WantsSignUpCallback() bool
	WantsRemovalCallback() bool
	OnSignUp(ctx context.Context, ein identity.EIN, allowance *big.Int) (bool, error)
	OnRemoval(ctx context.Context, ein identity.EIN) (bool, error)
}

// HookDirectory resolves a resolver address to its Hooks implementation.
// Resolvers without a registered implementation receive no callbacks.
type HookDirectory interface {
	Hooks(resolver common.Address) (Hooks, bool)
}

// StaticHooks is a fixed address-to-hooks mapping, used in dev mode and
// tests.
type StaticHooks map[common.Address]Hooks

func (s StaticHooks) Hooks(resolver common.Address) (Hooks, bool) {
	h, ok := s[resolver]
	return h, ok
}

// EventSink receives the registration event emitted per resolver after a
// batch commits.
type EventSink interface {
	ResolverAdded(ein identity.EIN, resolver common.Address, allowance *big.Int)
	ResolverRemoved(ein identity.EIN, resolver common.Address)
}

// LogSink is the default EventSink; it emits registration events as
// structured log entries tagged with an event ID.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink creates an EventSink writing to the given logger.
func NewLogSink(logger *zap.Logger) *LogSink {
	return &LogSink{logger: logger}
}

func (s *LogSink) ResolverAdded(ein identity.EIN, resolver common.Address, allowance *big.Int) {
	s.logger.Info("resolver registered",
		zap.String("event_id", uuid.NewString()),
		zap.Stringer("ein", ein),
		zap.String("resolver", resolver.Hex()),
		zap.String("allowance", allowance.String()))
}

func (s *LogSink) ResolverRemoved(ein identity.EIN, resolver common.Address) {
	s.logger.Info("resolver removed",
		zap.String("event_id", uuid.NewString()),
		zap.Stringer("ein", ein),
		zap.String("resolver", resolver.Hex()))
}
