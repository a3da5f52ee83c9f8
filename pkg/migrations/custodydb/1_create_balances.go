package custodydb

import (
	"context"
	"log"

	"github.com/uptrace/bun"

	"github.com/idforge/custody/pkg/custodystore"
	mghelper "github.com/idforge/custody/pkg/pgutil/migrations"
)

func init() {
	Migrations.MustRegister(func(ctx context.Context, db *bun.DB) error {
		log.Println("creating balances table...")
		return mghelper.CreateSchema(ctx, db, &custodystore.BalanceDao{})
	}, func(ctx context.Context, db *bun.DB) error {
		log.Println("dropping balances table...")
		return mghelper.DropTables(ctx, db, &custodystore.BalanceDao{})
	})
}
