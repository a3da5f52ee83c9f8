// Package identity defines the core types for identities managed by the
// external identity registry. The custody service never owns identity
// records; it only references them by EIN.
package identity

import (
	"fmt"
	"math/big"
)

// EIN is the registry-assigned identity number. Zero is never a valid EIN.
type EIN uint64

// String implements fmt.Stringer for log fields and event payloads.
func (e EIN) String() string {
	return fmt.Sprintf("ein:%d", uint64(e))
}

// IsZero reports whether the EIN is the unassigned sentinel.
func (e EIN) IsZero() bool {
	return e == 0
}

// ValidAmount reports whether amount is usable for ledger arithmetic:
// non-nil and not negative. Every operation entry point runs its amounts
// through this before touching any ledger.
func ValidAmount(amount *big.Int) bool {
	return amount != nil && amount.Sign() >= 0
}
