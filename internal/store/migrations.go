package store

import (
	"context"
	"embed"
	"fmt"

	"github.com/n42/matrix-rocketchat/internal/errs"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

// RunMigrations applies every pending schema migration, tracked in a
// schema_migrations table the same way the rest of the bridge's ambient
// stack does it.
func (s *Store) RunMigrations(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INT PRIMARY KEY,
			applied_at TIMESTAMP WITH TIME ZONE DEFAULT NOW()
		)
	`)
	if err != nil {
		return errs.Wrap(errs.BackendError, err, "create migrations table")
	}

	var currentVersion int
	err = s.db.QueryRowContext(ctx, "SELECT COALESCE(MAX(version), 0) FROM schema_migrations").Scan(&currentVersion)
	if err != nil {
		return errs.Wrap(errs.BackendError, err, "get current migration version")
	}

	entries, err := migrationFS.ReadDir("migrations")
	if err != nil {
		return errs.Wrap(errs.BackendError, err, "read migrations directory")
	}

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}

		var version int
		if _, err := fmt.Sscanf(entry.Name(), "%04d_", &version); err != nil {
			continue
		}
		if version <= currentVersion {
			continue
		}

		data, err := migrationFS.ReadFile("migrations/" + entry.Name())
		if err != nil {
			return errs.Wrap(errs.BackendError, err, fmt.Sprintf("read migration %s", entry.Name()))
		}

		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return errs.Wrap(errs.BackendError, err, fmt.Sprintf("begin transaction for migration %d", version))
		}
		if _, err := tx.ExecContext(ctx, string(data)); err != nil {
			_ = tx.Rollback()
			return errs.Wrap(errs.BackendError, err, fmt.Sprintf("execute migration %s", entry.Name()))
		}
		if _, err := tx.ExecContext(ctx, "INSERT INTO schema_migrations (version) VALUES ($1)", version); err != nil {
			_ = tx.Rollback()
			return errs.Wrap(errs.BackendError, err, fmt.Sprintf("record migration %d", version))
		}
		if err := tx.Commit(); err != nil {
			return errs.Wrap(errs.BackendError, err, fmt.Sprintf("commit migration %d", version))
		}
	}

	return nil
}
