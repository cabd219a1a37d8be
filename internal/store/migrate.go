package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"wikiportal/api/internal/logging"
)

// Migration is one *.up.sql file and whether it has been applied.
type Migration struct {
	Version string
	Path    string
	Applied bool
}

// ApplyMigrations runs every pending up migration in version order, each in
// its own transaction.
func ApplyMigrations(ctx context.Context, db *sql.DB, migrationsDir string) error {
	_, err := applyPending(ctx, db, migrationsDir)
	return err
}

// MigrationStatus lists the migrations found in migrationsDir.
func MigrationStatus(ctx context.Context, db *sql.DB, migrationsDir string) ([]Migration, error) {
	if err := ensureMigrationsTable(ctx, db); err != nil {
		return nil, err
	}
	migrations, err := readMigrations(migrationsDir)
	if err != nil {
		return nil, err
	}
	for i := range migrations {
		applied, err := isMigrated(ctx, db, migrations[i].Version)
		if err != nil {
			return nil, err
		}
		migrations[i].Applied = applied
	}
	return migrations, nil
}

func applyPending(ctx context.Context, db *sql.DB, migrationsDir string) ([]string, error) {
	if err := ensureMigrationsTable(ctx, db); err != nil {
		return nil, err
	}
	migrations, err := readMigrations(migrationsDir)
	if err != nil {
		return nil, err
	}

	var applied []string
	for _, migration := range migrations {
		done, err := isMigrated(ctx, db, migration.Version)
		if err != nil {
			return applied, err
		}
		if done {
			continue
		}
		if err := applyOne(ctx, db, migration); err != nil {
			return applied, err
		}
		logging.Info("store: applied migration", logging.String("version", migration.Version))
		applied = append(applied, migration.Version)
	}
	return applied, nil
}

func readMigrations(migrationsDir string) ([]Migration, error) {
	entries, err := os.ReadDir(migrationsDir)
	if err != nil {
		return nil, fmt.Errorf("read migrations dir: %w", err)
	}
	var migrations []Migration
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".up.sql") {
			continue
		}
		migrations = append(migrations, Migration{Version: name, Path: filepath.Join(migrationsDir, name)})
	}
	sort.Slice(migrations, func(i, j int) bool {
		return migrations[i].Version < migrations[j].Version
	})
	return migrations, nil
}

func applyOne(ctx context.Context, db *sql.DB, migration Migration) error {
	contents, err := os.ReadFile(migration.Path)
	if err != nil {
		return fmt.Errorf("read migration %s: %w", migration.Version, err)
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin migration tx %s: %w", migration.Version, err)
	}
	if _, err := tx.ExecContext(ctx, string(contents)); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("execute migration %s: %w", migration.Version, err)
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO schema_migrations(version) VALUES($1)`, migration.Version); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("record migration %s: %w", migration.Version, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit migration %s: %w", migration.Version, err)
	}
	return nil
}

func ensureMigrationsTable(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version TEXT PRIMARY KEY,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)
	`)
	if err != nil {
		return fmt.Errorf("ensure schema_migrations: %w", err)
	}
	return nil
}

func isMigrated(ctx context.Context, db *sql.DB, version string) (bool, error) {
	var exists bool
	err := db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM schema_migrations WHERE version=$1)`, version).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check migration %s: %w", version, err)
	}
	return exists, nil
}
