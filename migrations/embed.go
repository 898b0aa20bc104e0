// Package migrations embeds SQL migration files into the binary so the
// credential database can be created on a device with a read-only rootfs.
package migrations

import (
	"embed"

	"github.com/nerrad567/provisiond/internal/infrastructure/database"
)

//go:embed *.sql
var migrationsFS embed.FS

func init() {
	database.MigrationsFS = migrationsFS
	database.MigrationsDir = "."
}
