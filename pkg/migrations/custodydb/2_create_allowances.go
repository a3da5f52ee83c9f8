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
		log.Println("creating allowances table...")
		if err := mghelper.CreateSchema(ctx, db, &custodystore.AllowanceDao{}); err != nil {
			return err
		}
		// Create indexes
		return mghelper.CreateModelIndexes(ctx, db, &custodystore.AllowanceDao{}, "ein")
	}, func(ctx context.Context, db *bun.DB) error {
		log.Println("dropping allowances table...")
		return mghelper.DropTables(ctx, db, &custodystore.AllowanceDao{})
	})
}
