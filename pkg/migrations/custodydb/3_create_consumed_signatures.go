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
		log.Println("creating consumed_signatures table...")
		return mghelper.CreateSchema(ctx, db, &custodystore.ConsumedSignatureDao{})
	}, func(ctx context.Context, db *bun.DB) error {
		log.Println("dropping consumed_signatures table...")
		return mghelper.DropTables(ctx, db, &custodystore.ConsumedSignatureDao{})
	})
}
