// Package migrations embeds the SQL migration files and registers them
// with the database package at startup.
package migrations

import (
	"embed"

	"github.com/beotools/beobridge/internal/infrastructure/database"
)

//go:embed *.sql
var migrationsFS embed.FS

func init() {
	database.MigrationsFS = migrationsFS
	database.MigrationsDir = "."
}
