package search

import "context"

// EntryRecord is the data we index for a directory entry.
type EntryRecord struct {
	ID           string `json:"id"`
	DepartmentID string `json:"departmentId"`
	Name         string `json:"name"`
	Slug         string `json:"slug"`
	IsPage       bool   `json:"isPage"`
}

// EntryHit is a single entry search hit. Highlight carries the marked-up
// name when the backend supports it.
type EntryHit struct {
	ID           string `json:"id"`
	DepartmentID string `json:"departmentId"`
	Name         string `json:"name"`
	Slug         string `json:"slug"`
	IsPage       bool   `json:"isPage"`
	Highlight    string `json:"highlight,omitempty"`
}

// Query describes an entry search request.
type Query struct {
	Text         string
	DepartmentID string // empty = all departments
	Limit        int
}

// Response is the envelope returned by the entry search endpoint.
type Response struct {
	Results []EntryHit `json:"results"`
	Total   int        `json:"total"`
	Query   string     `json:"query"`
	Backend string     `json:"backend"`
}

// Searcher can execute an entry search.
type Searcher interface {
	Search(ctx context.Context, q Query) ([]EntryHit, int, error)
	Healthy() bool
}

// Indexer can push entries into a search index and prune stale ones.
type Indexer interface {
	IndexEntries(ctx context.Context, entries []EntryRecord) error
	IndexedIDs(ctx context.Context) ([]string, error)
	DeleteEntries(ctx context.Context, ids []string) error
}
