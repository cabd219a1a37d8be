package store

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"testing"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
)

func TestMigrationsRoundTripPostgres(t *testing.T) {
	dsn := strings.TrimSpace(os.Getenv("PORTAL_TEST_DATABASE_URL"))
	if dsn == "" {
		t.Skip("PORTAL_TEST_DATABASE_URL is not set")
	}

	db, err := sql.Open("pgx", dsn)
	if err != nil {
		t.Fatalf("open postgres: %v", err)
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		t.Fatalf("ping postgres: %v", err)
	}

	if err := resetPublicSchema(ctx, db); err != nil {
		t.Fatalf("reset schema: %v", err)
	}

	migrationsDir := filepath.Join("..", "..", "db", "migrations")

	if err := ApplyMigrations(ctx, db, migrationsDir); err != nil {
		t.Fatalf("apply up migrations (pass 1): %v", err)
	}

	assertPortalSchema(t, ctx, db)

	if err := applyDownMigrations(ctx, db, migrationsDir); err != nil {
		t.Fatalf("apply down migrations: %v", err)
	}
	for _, table := range []string{"favorites", "directory_entries", "frames", "navigation_pages", "departments"} {
		var name sql.NullString
		if err := db.QueryRowContext(ctx, `SELECT to_regclass('public.' || $1)::text`, table).Scan(&name); err != nil {
			t.Fatalf("lookup %s: %v", table, err)
		}
		if name.Valid {
			t.Fatalf("expected %s to be dropped by down migrations", table)
		}
	}

	if _, err := db.ExecContext(ctx, `DELETE FROM schema_migrations`); err != nil {
		t.Fatalf("clear schema_migrations: %v", err)
	}

	if err := ApplyMigrations(ctx, db, migrationsDir); err != nil {
		t.Fatalf("apply up migrations (pass 2): %v", err)
	}
	assertPortalSchema(t, ctx, db)
}

// assertPortalSchema checks the indexes the store relies on: the partial
// unique indexes behind UpsertFavorite's ON CONFLICT targets, the single
// target check, and the navigation slug uniqueness.
func assertPortalSchema(t *testing.T, ctx context.Context, db *sql.DB) {
	t.Helper()

	uniqueIndexes := map[string]string{
		"favorites_user_entry_idx":      "WHERE (entry_id IS NOT NULL)",
		"favorites_user_department_idx": "WHERE (department_id IS NOT NULL)",
		"navigation_pages_slug_idx":     "(slug)",
	}
	for name, fragment := range uniqueIndexes {
		var def string
		err := db.QueryRowContext(ctx, `SELECT indexdef FROM pg_indexes WHERE schemaname = 'public' AND indexname = $1`, name).Scan(&def)
		if err != nil {
			t.Fatalf("index %s: %v", name, err)
		}
		if !strings.Contains(def, "UNIQUE") || !strings.Contains(def, fragment) {
			t.Fatalf("index %s = %q, want unique with %q", name, def, fragment)
		}
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `INSERT INTO departments(id, name) VALUES ('d-1', 'Engineering')`); err != nil {
		t.Fatalf("insert department: %v", err)
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO favorites(id, user_id, department_id) VALUES ('f-1', 'u-1', 'd-1')`); err != nil {
		t.Fatalf("insert favorite: %v", err)
	}
	if _, err := tx.ExecContext(ctx, `SAVEPOINT dup`); err != nil {
		t.Fatalf("savepoint: %v", err)
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO favorites(id, user_id, department_id) VALUES ('f-2', 'u-1', 'd-1')`); err == nil {
		t.Fatalf("expected duplicate department favorite to be rejected")
	}
	if _, err := tx.ExecContext(ctx, `ROLLBACK TO SAVEPOINT dup`); err != nil {
		t.Fatalf("rollback to savepoint: %v", err)
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO favorites(id, user_id) VALUES ('f-3', 'u-1')`); err == nil {
		t.Fatalf("expected favorite without a target to be rejected")
	}
}

func resetPublicSchema(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, `DROP SCHEMA IF EXISTS public CASCADE; CREATE SCHEMA public;`)
	return err
}

func applyDownMigrations(ctx context.Context, db *sql.DB, migrationsDir string) error {
	entries, err := os.ReadDir(migrationsDir)
	if err != nil {
		return err
	}

	pattern := regexp.MustCompile(`^(\d+)_.*\.down\.sql$`)
	type migration struct {
		version string
		path    string
	}
	downs := make([]migration, 0)

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		match := pattern.FindStringSubmatch(name)
		if match == nil {
			continue
		}
		downs = append(downs, migration{
			version: match[1],
			path:    filepath.Join(migrationsDir, name),
		})
	}

	sort.Slice(downs, func(i, j int) bool {
		return downs[i].version > downs[j].version
	})

	for _, down := range downs {
		sqlBytes, err := os.ReadFile(down.path)
		if err != nil {
			return err
		}
		sqlText := strings.TrimSpace(string(sqlBytes))
		if sqlText == "" {
			continue
		}
		if _, err := db.ExecContext(ctx, sqlText); err != nil {
			return err
		}
	}

	return nil
}
