package search

import (
	"context"
	"fmt"
	"strings"

	"wikiportal/api/internal/store"
)

// EntrySource is the slice of the store the fallback searcher reads.
type EntrySource interface {
	SearchDirectoryEntries(ctx context.Context, query, departmentID string, limit int) ([]store.DirectoryEntry, error)
	ListAllDirectoryEntries(ctx context.Context) ([]store.DirectoryEntry, error)
}

// Postgres implements Searcher with a substring match in the database. It
// backs the search endpoint whenever Meilisearch is absent or unhealthy.
type Postgres struct {
	source EntrySource
}

func NewPostgres(source EntrySource) *Postgres {
	return &Postgres{source: source}
}

// Healthy always returns true; if Postgres is down, the whole app is down.
func (p *Postgres) Healthy() bool {
	return true
}

func (p *Postgres) Search(ctx context.Context, q Query) ([]EntryHit, int, error) {
	text := strings.TrimSpace(q.Text)
	if text == "" {
		return nil, 0, nil
	}
	entries, err := p.source.SearchDirectoryEntries(ctx, text, q.DepartmentID, q.Limit)
	if err != nil {
		return nil, 0, fmt.Errorf("postgres entry search: %w", err)
	}
	hits := make([]EntryHit, 0, len(entries))
	for _, entry := range entries {
		record := ToRecord(entry)
		hits = append(hits, EntryHit{
			ID:           record.ID,
			DepartmentID: record.DepartmentID,
			Name:         record.Name,
			Slug:         record.Slug,
			IsPage:       record.IsPage,
		})
	}
	return hits, len(hits), nil
}

// LoadAllRecords returns every entry for full reindexing.
func (p *Postgres) LoadAllRecords(ctx context.Context) ([]EntryRecord, error) {
	entries, err := p.source.ListAllDirectoryEntries(ctx)
	if err != nil {
		return nil, fmt.Errorf("load entries: %w", err)
	}
	records := make([]EntryRecord, 0, len(entries))
	for _, entry := range entries {
		records = append(records, ToRecord(entry))
	}
	return records, nil
}

func ToRecord(entry store.DirectoryEntry) EntryRecord {
	return EntryRecord{
		ID:           entry.ID,
		DepartmentID: entry.DepartmentID,
		Name:         entry.Name,
		Slug:         entry.Slug,
		IsPage:       entry.IsPage(),
	}
}
