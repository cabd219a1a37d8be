package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/jackc/pgx/v5/pgtype"
)

type PostgresStore struct {
	db    *sql.DB
	types *pgtype.Map
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db, types: pgtype.NewMap()}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

func (s *PostgresStore) ListDepartments(ctx context.Context) ([]Department, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, name FROM departments ORDER BY name ASC`)
	if err != nil {
		return nil, fmt.Errorf("list departments: %w", err)
	}
	defer rows.Close()

	items := make([]Department, 0)
	for rows.Next() {
		var item Department
		if err := rows.Scan(&item.ID, &item.Name); err != nil {
			return nil, fmt.Errorf("scan department: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate departments: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) GetDepartment(ctx context.Context, departmentID string) (Department, error) {
	var item Department
	err := s.db.QueryRowContext(ctx, `SELECT id, name FROM departments WHERE id=$1`, departmentID).Scan(&item.ID, &item.Name)
	if err != nil {
		return Department{}, err
	}
	return item, nil
}

func (s *PostgresStore) ListNavigationPages(ctx context.Context) ([]NavigationPage, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT department_id, slug, title, icon
		FROM navigation_pages
		ORDER BY slug ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("list navigation pages: %w", err)
	}
	defer rows.Close()

	items := make([]NavigationPage, 0)
	for rows.Next() {
		var item NavigationPage
		if err := rows.Scan(&item.DepartmentID, &item.Slug, &item.Title, &item.Icon); err != nil {
			return nil, fmt.Errorf("scan navigation page: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate navigation pages: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) GetFrame(ctx context.Context, frameID string) (Frame, error) {
	var item Frame
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, iframe_url, department_ids
		FROM frames
		WHERE id=$1
	`, frameID).Scan(&item.ID, &item.Name, &item.IframeURL, s.types.SQLScanner(&item.DepartmentIDs))
	if err != nil {
		return Frame{}, err
	}
	return item, nil
}

const directoryEntryColumns = `id, department_id, parent_id, frame_id, name, slug, sort_order, emoji`

// ListDirectoryEntries returns a department's rows ordered by sort_order
// (nulls last) then name, the order the directory index expects.
func (s *PostgresStore) ListDirectoryEntries(ctx context.Context, departmentID string) ([]DirectoryEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+directoryEntryColumns+`
		FROM directory_entries
		WHERE department_id=$1
		ORDER BY sort_order ASC NULLS LAST, name ASC
	`, departmentID)
	if err != nil {
		return nil, fmt.Errorf("list directory entries: %w", err)
	}
	return scanDirectoryEntries(rows)
}

func (s *PostgresStore) ListAllDirectoryEntries(ctx context.Context) ([]DirectoryEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+directoryEntryColumns+`
		FROM directory_entries
		ORDER BY department_id ASC, sort_order ASC NULLS LAST, name ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("list all directory entries: %w", err)
	}
	return scanDirectoryEntries(rows)
}

func (s *PostgresStore) GetDirectoryEntry(ctx context.Context, entryID string) (DirectoryEntry, error) {
	var item DirectoryEntry
	var sortOrder sql.NullInt32
	err := s.db.QueryRowContext(ctx, `
		SELECT `+directoryEntryColumns+`
		FROM directory_entries
		WHERE id=$1
	`, entryID).Scan(&item.ID, &item.DepartmentID, &item.ParentID, &item.FrameID, &item.Name, &item.Slug, &sortOrder, &item.Emoji)
	if err != nil {
		return DirectoryEntry{}, err
	}
	item.SortOrder = intPtr(sortOrder)
	return item, nil
}

// SearchDirectoryEntries is a case-insensitive substring match over entry
// names and slugs, optionally limited to one department.
func (s *PostgresStore) SearchDirectoryEntries(ctx context.Context, query, departmentID string, limit int) ([]DirectoryEntry, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+directoryEntryColumns+`
		FROM directory_entries
		WHERE (LOWER(name) LIKE '%' || LOWER($1) || '%' OR slug LIKE '%' || LOWER($1) || '%')
		  AND ($2 = '' OR department_id = $2)
		ORDER BY name ASC
		LIMIT $3
	`, query, departmentID, limit)
	if err != nil {
		return nil, fmt.Errorf("search directory entries: %w", err)
	}
	return scanDirectoryEntries(rows)
}

func scanDirectoryEntries(rows *sql.Rows) ([]DirectoryEntry, error) {
	defer rows.Close()

	items := make([]DirectoryEntry, 0)
	for rows.Next() {
		var item DirectoryEntry
		var sortOrder sql.NullInt32
		if err := rows.Scan(&item.ID, &item.DepartmentID, &item.ParentID, &item.FrameID, &item.Name, &item.Slug, &sortOrder, &item.Emoji); err != nil {
			return nil, fmt.Errorf("scan directory entry: %w", err)
		}
		item.SortOrder = intPtr(sortOrder)
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate directory entries: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) ListFavorites(ctx context.Context, userID string) ([]Favorite, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, entry_id, department_id, created_at
		FROM favorites
		WHERE user_id=$1
		ORDER BY created_at ASC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("list favorites: %w", err)
	}
	defer rows.Close()

	items := make([]Favorite, 0)
	for rows.Next() {
		var item Favorite
		if err := rows.Scan(&item.ID, &item.UserID, &item.EntryID, &item.DepartmentID, &item.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan favorite: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate favorites: %w", err)
	}
	return items, nil
}

// UpsertFavorite inserts the favorite or, when the user already has one for
// the same target, returns the existing row unchanged.
func (s *PostgresStore) UpsertFavorite(ctx context.Context, item Favorite) (Favorite, error) {
	target := "(user_id, entry_id) WHERE entry_id IS NOT NULL"
	if item.EntryID == nil {
		target = "(user_id, department_id) WHERE department_id IS NOT NULL"
	}
	var saved Favorite
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO favorites (id, user_id, entry_id, department_id)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT `+target+` DO UPDATE SET created_at=favorites.created_at
		RETURNING id, user_id, entry_id, department_id, created_at
	`, item.ID, item.UserID, item.EntryID, item.DepartmentID).Scan(&saved.ID, &saved.UserID, &saved.EntryID, &saved.DepartmentID, &saved.CreatedAt)
	if err != nil {
		return Favorite{}, fmt.Errorf("upsert favorite: %w", err)
	}
	return saved, nil
}

func (s *PostgresStore) DeleteFavorite(ctx context.Context, favoriteID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM favorites WHERE id=$1`, favoriteID)
	if err != nil {
		return fmt.Errorf("delete favorite: %w", err)
	}
	return nil
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func intPtr(value sql.NullInt32) *int {
	if !value.Valid {
		return nil
	}
	v := int(value.Int32)
	return &v
}
