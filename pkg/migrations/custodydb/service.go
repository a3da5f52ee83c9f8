// Package custodydb holds all the migrations for the custody database
package custodydb

import "github.com/uptrace/bun/migrate"

// Migrations is the registry the numbered migration files register into.
var Migrations = migrate.NewMigrations()
