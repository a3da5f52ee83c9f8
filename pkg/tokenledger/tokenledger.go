// Package tokenledger defines the interface to the external fungible-token
// ledger that actually holds deposited tokens. The custody core only tracks
// entitlements against those tokens; every physical movement goes through
// this interface.
package tokenledger

import (
	"context"
	"errors"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// ErrTransferFailed is returned when the external ledger reports an
// unsuccessful transfer.
var ErrTransferFailed = errors.New("token transfer failed")

// Ledger is the token-contract adapter consumed by the custody core.
// Both calls report success as a bool, mirroring the ERC-20 return
// convention; a false return with nil error is a ledger-level rejection.
type Ledger interface {
	Transfer(ctx context.Context, to common.Address, amount *big.Int) (bool, error)
	TransferFrom(ctx context.Context, from, to common.Address, amount *big.Int) (bool, error)
}

// DecodeRecipientHint interprets the opaque recipient bytes attached to an
// incoming token transfer. When the bytes encode a 20-byte address the
// deposit is credited to that address's identity; anything else falls back
// to the sender.
func DecodeRecipientHint(hint []byte) (common.Address, bool) {
	if len(hint) != common.AddressLength {
		return common.Address{}, false
	}
	return common.BytesToAddress(hint), true
}
