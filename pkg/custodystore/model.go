package custodystore

import (
	"time"

	"github.com/uptrace/bun"
)

// BalanceDao is the database model for deposit balances. Amounts are stored
// as decimal strings; they exceed int64 range in base units.
type BalanceDao struct {
	bun.BaseModel `bun:"table:balances,alias:b"`

	EIN       uint64    `bun:"ein,pk"`
	Balance   string    `bun:"balance,notnull"`
	UpdatedAt time.Time `bun:"updated_at,notnull,default:current_timestamp"`
}

// AllowanceDao is the database model for resolver allowance entries.
type AllowanceDao struct {
	bun.BaseModel `bun:"table:allowances,alias:a"`

	EIN       uint64    `bun:"ein,pk"`
	Resolver  string    `bun:"resolver,pk"`
	Allowance string    `bun:"allowance,notnull"`
	UpdatedAt time.Time `bun:"updated_at,notnull,default:current_timestamp"`
}

// ConsumedSignatureDao is the database model for the delegated-signature
// consumed-set.
type ConsumedSignatureDao struct {
	bun.BaseModel `bun:"table:consumed_signatures,alias:cs"`

	Digest     string    `bun:"digest,pk"`
	ConsumedAt time.Time `bun:"consumed_at,notnull,default:current_timestamp"`
}
