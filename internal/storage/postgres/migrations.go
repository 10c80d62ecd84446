package postgres

import (
	"database/sql"
	"embed"

	"github.com/scrypster/memorytap/internal/storage"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// migrate brings the schema up to date. Tables created before versioning
// was tracked are kept: every statement uses IF NOT EXISTS.
func migrate(db *sql.DB) (int, error) {
	mgr, err := storage.NewMigrationManager(db, migrationsFS, "migrations", storage.PlaceholderDollar)
	if err != nil {
		return 0, err
	}
	return mgr.Up()
}
