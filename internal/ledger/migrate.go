package ledger

import (
	"database/sql"
	"embed"

	"github.com/pkg/errors"
	migrate "github.com/rubenv/sql-migrate"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

const migrationTable = "migrations"

// MigrationSource returns the embedded schema migrations.
func MigrationSource() migrate.MigrationSource {
	return &migrate.EmbedFileSystemMigrationSource{
		FileSystem: migrationFS,
		Root:       "migrations",
	}
}

// Migrate applies all pending up migrations and returns how many were applied.
func Migrate(db *sql.DB) (int, error) {
	migrate.SetTable(migrationTable)

	n, err := migrate.Exec(db, "postgres", MigrationSource(), migrate.Up)
	if err != nil {
		return 0, errors.Wrap(err, "failed to apply migrations")
	}

	return n, nil
}

// MigrationStatus lists applied migration ids next to the ones still pending.
func MigrationStatus(db *sql.DB) (applied []string, pending []string, err error) {
	migrate.SetTable(migrationTable)

	records, err := migrate.GetMigrationRecords(db, "postgres")
	if err != nil {
		return nil, nil, errors.Wrap(err, "failed to load migration records")
	}

	known, err := MigrationSource().FindMigrations()
	if err != nil {
		return nil, nil, errors.Wrap(err, "failed to load migrations")
	}

	done := make(map[string]bool, len(records))
	for _, r := range records {
		done[r.Id] = true
		applied = append(applied, r.Id)
	}

	for _, m := range known {
		if !done[m.Id] {
			pending = append(pending, m.Id)
		}
	}

	return applied, pending, nil
}
