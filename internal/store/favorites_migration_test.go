package store

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestPortalMigrationDeclaresFavoriteUpsertTargets(t *testing.T) {
	migrationPath := filepath.Join("..", "..", "db", "migrations", "0001_portal.up.sql")
	sqlBytes, err := os.ReadFile(migrationPath)
	if err != nil {
		t.Fatalf("read migration: %v", err)
	}
	sqlText := string(sqlBytes)

	expectedSnippets := []string{
		"favorites_user_entry_idx ON favorites (user_id, entry_id) WHERE entry_id IS NOT NULL",
		"favorites_user_department_idx ON favorites (user_id, department_id) WHERE department_id IS NOT NULL",
		"CHECK ((entry_id IS NULL) <> (department_id IS NULL))",
		"navigation_pages_slug_idx",
	}
	for _, snippet := range expectedSnippets {
		if !strings.Contains(sqlText, snippet) {
			t.Fatalf("expected migration to contain %q", snippet)
		}
	}
}
