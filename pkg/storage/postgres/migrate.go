package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"regexp"

	"github.com/arborhq/arbor/pkg/observability"
)

// Migration represents a single schema migration for a component
type Migration struct {
	Version     int
	Description string
	SQL         string
}

var componentNamePattern = regexp.MustCompile(`^[a-z][a-z0-9_]*$`)

// RunMigrations executes all pending migrations for a component.
// Each component tracks its applied versions in its own table,
// named <component>_migrations.
func RunMigrations(ctx context.Context, db *sql.DB, component string, migrations []Migration, logger *observability.Logger) error {
	if !componentNamePattern.MatchString(component) {
		return fmt.Errorf("invalid component name: %q", component)
	}
	if logger == nil {
		logger = observability.DefaultLogger()
	}

	trackingTable := component + "_migrations"

	_, err := db.ExecContext(ctx, fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			version INT PRIMARY KEY,
			description TEXT NOT NULL,
			applied_at TIMESTAMP NOT NULL DEFAULT NOW()
		)
	`, trackingTable))
	if err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}

	rows, err := db.QueryContext(ctx, fmt.Sprintf("SELECT version FROM %s ORDER BY version", trackingTable))
	if err != nil {
		return fmt.Errorf("failed to query migrations: %w", err)
	}

	appliedVersions := make(map[int]bool)
	for rows.Next() {
		var version int
		if err := rows.Scan(&version); err != nil {
			rows.Close()
			return fmt.Errorf("failed to scan migration version: %w", err)
		}
		appliedVersions[version] = true
	}
	rows.Close()

	for _, migration := range migrations {
		if appliedVersions[migration.Version] {
			continue
		}

		logger.WithFields(map[string]interface{}{
			"component": component,
			"version":   migration.Version,
		}).Infof("Running migration: %s", migration.Description)

		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("failed to start transaction: %w", err)
		}

		if _, err := tx.ExecContext(ctx, migration.SQL); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to execute %s migration %d: %w", component, migration.Version, err)
		}

		if _, err := tx.ExecContext(ctx,
			fmt.Sprintf("INSERT INTO %s (version, description) VALUES ($1, $2)", trackingTable),
			migration.Version, migration.Description,
		); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to record %s migration %d: %w", component, migration.Version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("failed to commit %s migration %d: %w", component, migration.Version, err)
		}
	}

	return nil
}
