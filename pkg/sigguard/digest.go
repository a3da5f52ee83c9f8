package sigguard

import (
	"encoding/binary"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/idforge/custody/pkg/identity"
)

// Operation tags bound into delegated-operation digests. Each delegated
// entry point hashes its own tag so a signature over one operation can
// never authorize another.
const (
	TagAddResolvers     = "custody.v1.addResolvers"
	TagRemoveResolvers  = "custody.v1.removeResolvers"
	TagChangeAllowances = "custody.v1.changeAllowances"
)

// digest hashes the canonical payload and wraps it in the personal-sign
// prefix, so wallets produce compatible signatures for the raw 32-byte hash.
func digest(tag string, ein identity.EIN, resolvers []common.Address, amounts []*big.Int, timestamp time.Time) common.Hash {
	var buf []byte
	buf = append(buf, tag...)

	var scratch [8]byte
	binary.BigEndian.PutUint64(scratch[:], uint64(ein))
	buf = append(buf, scratch[:]...)

	for _, r := range resolvers {
		buf = append(buf, r.Bytes()...)
	}
	for _, a := range amounts {
		buf = append(buf, common.BigToHash(a).Bytes()...)
	}

	binary.BigEndian.PutUint64(scratch[:], uint64(timestamp.Unix()))
	buf = append(buf, scratch[:]...)

	inner := crypto.Keccak256Hash(buf)
	return crypto.Keccak256Hash([]byte("\x19Ethereum Signed Message:\n32"), inner.Bytes())
}

// AddResolversDigest is the fingerprint signed to delegate an add-resolvers
// batch for an identity.
func AddResolversDigest(ein identity.EIN, resolvers []common.Address, allowances []*big.Int, timestamp time.Time) common.Hash {
	return digest(TagAddResolvers, ein, resolvers, allowances, timestamp)
}

// RemoveResolversDigest is the fingerprint signed to delegate a
// remove-resolvers batch for an identity.
func RemoveResolversDigest(ein identity.EIN, resolvers []common.Address, timestamp time.Time) common.Hash {
	return digest(TagRemoveResolvers, ein, resolvers, nil, timestamp)
}

// ChangeAllowancesDigest is the fingerprint signed to delegate an allowance
// overwrite for already-registered resolvers.
func ChangeAllowancesDigest(ein identity.EIN, resolvers []common.Address, allowances []*big.Int, timestamp time.Time) common.Hash {
	return digest(TagChangeAllowances, ein, resolvers, allowances, timestamp)
}
