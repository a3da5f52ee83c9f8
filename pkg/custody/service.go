// Package custody implements the transfer/withdrawal engine: the operation
// entry points that compose the allowance ledger, the deposit ledger, the
// replay guard, and the external token ledger.
//
// Every operation follows the same mutation discipline: all local ledger
// writes commit before any external call (token transfer, relay callback).
// A callback that re-enters the service observes the committed state of the
// outer operation, never a pre-debit intermediate.
package custody

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/idforge/custody/internal/metrics"
	"github.com/idforge/custody/pkg/allowance"
	"github.com/idforge/custody/pkg/config"
	"github.com/idforge/custody/pkg/deposits"
	"github.com/idforge/custody/pkg/identity"
	"github.com/idforge/custody/pkg/registry"
	"github.com/idforge/custody/pkg/resolver"
	"github.com/idforge/custody/pkg/sigguard"
	"github.com/idforge/custody/pkg/tokenledger"
)

var (
	// ErrPermissionDenied is returned when the caller controls no identity
	// or is not authorized for the operation.
	ErrPermissionDenied = errors.New("permission denied")
	// ErrInvalidDestination is returned when the destination identity does
	// not exist (or an incoming deposit names a recipient with no identity).
	ErrInvalidDestination = errors.New("invalid destination")
	// ErrSelfWithdrawal is returned when a withdrawal targets the custody
	// address itself.
	ErrSelfWithdrawal = errors.New("withdrawal to custody address")
	// ErrTransferFailed is returned when the external token ledger reports
	// an unsuccessful transfer. The local debit has already been committed;
	// this partial-failure window is inherent to external withdrawal.
	ErrTransferFailed = errors.New("external token transfer failed")
	// ErrInvalidAmount is returned for nil or negative amounts.
	ErrInvalidAmount = errors.New("invalid amount")
	// ErrUnknownRelay is returned when a via target has no relay callback
	// registered.
	ErrUnknownRelay = errors.New("unknown relay target")
	// ErrTokenContractSet is returned when reconfiguring the token contract
	// after it has been set.
	ErrTokenContractSet = errors.New("token contract already configured")
)

// Service is the custody engine. It exclusively owns the deposit and
// allowance ledgers and is the only mutator of their state.
type Service struct {
	registry   registry.Registry
	tokens     tokenledger.Ledger
	allowances *allowance.Ledger
	deposits   *deposits.Ledger
	directory  *resolver.Directory
	guard      *sigguard.Guard
	relays     RelayDirectory
	logger     *zap.Logger

	custodyAddr common.Address
	owner       common.Address

	mu               sync.Mutex
	tokenContract    common.Address
	tokenContractSet bool
}

// NewService creates the custody engine from its collaborators and the
// custody section of the configuration.
func NewService(
	reg registry.Registry,
	tokens tokenledger.Ledger,
	allowances *allowance.Ledger,
	depositLedger *deposits.Ledger,
	directory *resolver.Directory,
	guard *sigguard.Guard,
	relays RelayDirectory,
	cfg *config.CustodyConfig,
	logger *zap.Logger,
) *Service {
	s := &Service{
		registry:    reg,
		tokens:      tokens,
		allowances:  allowances,
		deposits:    depositLedger,
		directory:   directory,
		guard:       guard,
		relays:      relays,
		logger:      logger,
		custodyAddr: common.HexToAddress(cfg.CustodyAddress),
		owner:       common.HexToAddress(cfg.Owner),
	}
	if cfg.TokenContract != "" {
		s.tokenContract = common.HexToAddress(cfg.TokenContract)
		s.tokenContractSet = true
	}
	return s
}

// Directory exposes the resolver directory for registration operations.
func (s *Service) Directory() *resolver.Directory {
	return s.directory
}

// Guard exposes the signature replay guard.
func (s *Service) Guard() *sigguard.Guard {
	return s.guard
}

// observe records an operation outcome and, on success, the moved amount.
func observe(op string, amount *big.Int, err error) {
	if err != nil {
		metrics.OperationsTotal.WithLabelValues(op, "error").Inc()
		return
	}
	metrics.OperationsTotal.WithLabelValues(op, "ok").Inc()
	if amount != nil {
		display := tokenledger.Display(amount, tokenledger.DefaultDecimals)
		metrics.TransferAmount.WithLabelValues(op).Observe(display.InexactFloat64())
	}
}

// callerIdentity resolves the caller address to its identity.
func (s *Service) callerIdentity(ctx context.Context, caller common.Address) (identity.EIN, error) {
	ein, err := s.registry.GetIdentity(ctx, caller)
	if err != nil {
		if errors.Is(err, registry.ErrIdentityNotFound) {
			return 0, ErrPermissionDenied
		}
		return 0, fmt.Errorf("identity lookup: %w", err)
	}
	return ein, nil
}

// Balance returns the deposit balance of an identity.
func (s *Service) Balance(ctx context.Context, ein identity.EIN) (*big.Int, error) {
	return s.deposits.Balance(ctx, ein)
}

// Transfer moves value from the caller's identity to another identity.
// The destination-existence check runs before the debit so a failed
// transfer commits nothing.
func (s *Service) Transfer(ctx context.Context, caller common.Address, to identity.EIN, amount *big.Int) (err error) {
	defer func() { observe("transfer", amount, err) }()

	if !identity.ValidAmount(amount) {
		return ErrInvalidAmount
	}
	from, err := s.callerIdentity(ctx, caller)
	if err != nil {
		return err
	}
	return s.move(ctx, from, to, amount)
}

// TransferFrom moves value from identityFrom to another identity on behalf
// of identityFrom. The caller must be a registered resolver with sufficient
// allowance; the allowance is spent before the balance moves.
func (s *Service) TransferFrom(ctx context.Context, caller common.Address, from identity.EIN, to identity.EIN, amount *big.Int) (err error) {
	defer func() { observe("transfer_from", amount, err) }()

	if !identity.ValidAmount(amount) {
		return ErrInvalidAmount
	}
	if err := s.allowances.Spend(ctx, from, caller, amount); err != nil {
		return err
	}
	if err := s.move(ctx, from, to, amount); err != nil {
		// The operation failed after the allowance was spent; put it back.
		s.restoreAllowance(ctx, from, caller, amount)
		return err
	}
	return nil
}

// move debits from and credits to, checking destination existence first.
func (s *Service) move(ctx context.Context, from, to identity.EIN, amount *big.Int) error {
	exists, err := s.registry.IdentityExists(ctx, to)
	if err != nil {
		return fmt.Errorf("destination lookup: %w", err)
	}
	if !exists {
		return ErrInvalidDestination
	}
	if err := s.deposits.Debit(ctx, from, amount); err != nil {
		return err
	}
	if err := s.deposits.Credit(ctx, to, amount); err != nil {
		// Store-level failure after the debit; undo it.
		if rbErr := s.deposits.Credit(ctx, from, amount); rbErr != nil {
			s.logger.Error("transfer rollback failed",
				zap.Stringer("from", from), zap.Error(rbErr))
		}
		return err
	}
	s.logger.Info("balance transferred",
		zap.Stringer("from", from),
		zap.Stringer("to", to),
		zap.String("amount", amount.String()))
	return nil
}

// Withdraw debits the caller's identity and instructs the token ledger to
// pay out to an external address. A failed external transfer surfaces as
// ErrTransferFailed with the debit already committed; the window is
// documented, not hidden.
func (s *Service) Withdraw(ctx context.Context, caller common.Address, to common.Address, amount *big.Int) (err error) {
	defer func() { observe("withdraw", amount, err) }()

	if !identity.ValidAmount(amount) {
		return ErrInvalidAmount
	}
	from, err := s.callerIdentity(ctx, caller)
	if err != nil {
		return err
	}
	return s.payOut(ctx, from, to, amount)
}

// WithdrawFrom withdraws from identityFrom on behalf of identityFrom,
// spending the caller's allowance first.
func (s *Service) WithdrawFrom(ctx context.Context, caller common.Address, from identity.EIN, to common.Address, amount *big.Int) (err error) {
	defer func() { observe("withdraw_from", amount, err) }()

	if !identity.ValidAmount(amount) {
		return ErrInvalidAmount
	}
	if to == s.custodyAddr {
		return ErrSelfWithdrawal
	}
	if err := s.allowances.Spend(ctx, from, caller, amount); err != nil {
		return err
	}
	if err := s.payOut(ctx, from, to, amount); err != nil {
		if errors.Is(err, deposits.ErrInsufficientBalance) {
			s.restoreAllowance(ctx, from, caller, amount)
		}
		return err
	}
	return nil
}

// WithdrawFromViaIdentity withdraws from identityFrom into a relay
// contract's custody and invokes the relay callback with an identity
// destination. The callback runs only after the debit and the external
// transfer have completed; its failure is logged, not propagated.
func (s *Service) WithdrawFromViaIdentity(
	ctx context.Context,
	caller common.Address,
	from identity.EIN,
	via common.Address,
	to identity.EIN,
	amount *big.Int,
	payload []byte,
) (err error) {
	defer func() { observe("withdraw_from_via", amount, err) }()

	relayTarget, err := s.prepareVia(via, amount)
	if err != nil {
		return err
	}
	if err := s.allowances.Spend(ctx, from, caller, amount); err != nil {
		return err
	}
	if err := s.payOut(ctx, from, via, amount); err != nil {
		if errors.Is(err, deposits.ErrInsufficientBalance) {
			s.restoreAllowance(ctx, from, caller, amount)
		}
		return err
	}

	if cbErr := relayTarget.RelayToIdentity(ctx, caller, from, to, amount, payload); cbErr != nil {
		metrics.CallbackInvocations.WithLabelValues("relay", "error").Inc()
		s.logger.Warn("relay callback failed",
			zap.String("via", via.Hex()), zap.Error(cbErr))
	} else {
		metrics.CallbackInvocations.WithLabelValues("relay", "accepted").Inc()
	}
	return nil
}

// WithdrawFromViaAddress is the address-destination shape of the via
// withdrawal.
func (s *Service) WithdrawFromViaAddress(
	ctx context.Context,
	caller common.Address,
	from identity.EIN,
	via common.Address,
	to common.Address,
	amount *big.Int,
	payload []byte,
) (err error) {
	defer func() { observe("withdraw_from_via", amount, err) }()

	relayTarget, err := s.prepareVia(via, amount)
	if err != nil {
		return err
	}
	if err := s.allowances.Spend(ctx, from, caller, amount); err != nil {
		return err
	}
	if err := s.payOut(ctx, from, via, amount); err != nil {
		if errors.Is(err, deposits.ErrInsufficientBalance) {
			s.restoreAllowance(ctx, from, caller, amount)
		}
		return err
	}

	if cbErr := relayTarget.RelayToAddress(ctx, caller, from, to, amount, payload); cbErr != nil {
		metrics.CallbackInvocations.WithLabelValues("relay", "error").Inc()
		s.logger.Warn("relay callback failed",
			zap.String("via", via.Hex()), zap.Error(cbErr))
	} else {
		metrics.CallbackInvocations.WithLabelValues("relay", "accepted").Inc()
	}
	return nil
}

// prepareVia validates the via withdrawal's shape before any mutation.
func (s *Service) prepareVia(via common.Address, amount *big.Int) (Relay, error) {
	if !identity.ValidAmount(amount) {
		return nil, ErrInvalidAmount
	}
	if via == s.custodyAddr {
		return nil, ErrSelfWithdrawal
	}
	relayTarget, ok := s.relays.Relay(via)
	if !ok {
		return nil, ErrUnknownRelay
	}
	return relayTarget, nil
}

// payOut debits the identity and moves tokens out through the external
// ledger. Ordering: debit commits first; the external call is last.
func (s *Service) payOut(ctx context.Context, from identity.EIN, to common.Address, amount *big.Int) error {
	if to == s.custodyAddr {
		return ErrSelfWithdrawal
	}
	if err := s.deposits.Debit(ctx, from, amount); err != nil {
		return err
	}

	ok, err := s.tokens.Transfer(ctx, to, amount)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrTransferFailed, err)
	}
	if !ok {
		return ErrTransferFailed
	}

	s.logger.Info("balance withdrawn",
		zap.Stringer("from", from),
		zap.String("to", to.Hex()),
		zap.String("amount", amount.String()))
	return nil
}

// restoreAllowance re-credits a spent allowance after a failed operation.
func (s *Service) restoreAllowance(ctx context.Context, ein identity.EIN, resolver common.Address, amount *big.Int) {
	remaining, err := s.allowances.Allowance(ctx, ein, resolver)
	if err != nil {
		s.logger.Error("allowance restore lookup failed",
			zap.Stringer("ein", ein), zap.Error(err))
		return
	}
	restored := new(big.Int).Add(remaining, amount)
	if err := s.allowances.UpdateAllowances(ctx, ein, []common.Address{resolver}, []*big.Int{restored}); err != nil {
		s.logger.Error("allowance restore failed",
			zap.Stringer("ein", ein), zap.Error(err))
	}
}

// OnIncomingTransfer is the deposit-notification entry point the token
// ledger calls after tokens arrive at the custody address. token names the
// notifying contract; callers must pass the authenticated notifier identity,
// never an unverified claim, and anything other than the configured token
// contract is rejected. When hint encodes a 20-byte address the deposit is
// credited to that address's identity, otherwise to the sender's identity.
func (s *Service) OnIncomingTransfer(ctx context.Context, sender common.Address, amount *big.Int, token common.Address, hint []byte) (err error) {
	defer func() { observe("deposit", amount, err) }()

	if !identity.ValidAmount(amount) {
		return ErrInvalidAmount
	}

	s.mu.Lock()
	expected := s.tokenContract
	configured := s.tokenContractSet
	s.mu.Unlock()
	if !configured || token != expected {
		return ErrPermissionDenied
	}

	recipient := sender
	if addr, ok := tokenledger.DecodeRecipientHint(hint); ok {
		recipient = addr
	}

	ein, err := s.registry.GetIdentity(ctx, recipient)
	if err != nil {
		if errors.Is(err, registry.ErrIdentityNotFound) {
			return fmt.Errorf("%w: %s has no identity", ErrInvalidDestination, recipient.Hex())
		}
		return fmt.Errorf("identity lookup: %w", err)
	}

	if err := s.deposits.Credit(ctx, ein, amount); err != nil {
		return err
	}
	metrics.DepositsTotal.Inc()
	s.logger.Info("deposit accepted",
		zap.Stringer("ein", ein),
		zap.String("sender", sender.Hex()),
		zap.String("amount", amount.String()))
	return nil
}

// UpdateAllowances overwrites allowances for already-registered resolvers
// of the caller's identity.
func (s *Service) UpdateAllowances(ctx context.Context, caller common.Address, resolvers []common.Address, amounts []*big.Int) (err error) {
	defer func() { observe("update_allowances", nil, err) }()

	for _, a := range amounts {
		if !identity.ValidAmount(a) {
			return ErrInvalidAmount
		}
	}
	ein, err := s.callerIdentity(ctx, caller)
	if err != nil {
		return err
	}
	return s.allowances.UpdateAllowances(ctx, ein, resolvers, amounts)
}

// ChangeAllowancesFor overwrites allowances on behalf of an identity,
// authorized by a one-shot delegated signature. The digest is consumed:
// replaying the identical payload and timestamp is rejected.
func (s *Service) ChangeAllowancesFor(
	ctx context.Context,
	approver common.Address,
	ein identity.EIN,
	resolvers []common.Address,
	amounts []*big.Int,
	signature []byte,
	timestamp time.Time,
) (err error) {
	defer func() { observe("change_allowances_for", nil, err) }()

	for _, a := range amounts {
		if !identity.ValidAmount(a) {
			return ErrInvalidAmount
		}
	}
	got, err := s.registry.GetIdentity(ctx, approver)
	if err != nil || got != ein {
		return ErrPermissionDenied
	}

	digest := sigguard.ChangeAllowancesDigest(ein, resolvers, amounts, timestamp)
	if err := s.guard.VerifyAndConsume(ctx, approver, digest, signature, timestamp, true); err != nil {
		return err
	}
	return s.allowances.UpdateAllowances(ctx, ein, resolvers, amounts)
}

// SetSignatureTimeout changes the delegated-signature validity window.
// Owner only.
func (s *Service) SetSignatureTimeout(caller common.Address, timeout time.Duration) error {
	if caller != s.owner {
		return ErrPermissionDenied
	}
	return s.guard.SetTimeout(timeout)
}

// SetTokenContract configures the external token ledger contract address.
// Owner only, settable once.
func (s *Service) SetTokenContract(caller common.Address, token common.Address) error {
	if caller != s.owner {
		return ErrPermissionDenied
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.tokenContractSet {
		return ErrTokenContractSet
	}
	s.tokenContract = token
	s.tokenContractSet = true
	s.logger.Info("token contract configured", zap.String("token", token.Hex()))
	return nil
}

// MintIdentity, AddAddress and RemoveAddress forward to the registry
// verbatim; the custody core adds no logic of its own.

func (s *Service) MintIdentity(ctx context.Context, owner common.Address) (identity.EIN, error) {
	return s.registry.MintIdentity(ctx, owner)
}

func (s *Service) AddAddress(ctx context.Context, ein identity.EIN, addr common.Address) error {
	return s.registry.AddAddress(ctx, ein, addr)
}

func (s *Service) RemoveAddress(ctx context.Context, ein identity.EIN, addr common.Address) error {
	return s.registry.RemoveAddress(ctx, ein, addr)
}
