package search

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	meili "github.com/meilisearch/meilisearch-go"

	"wikiportal/api/internal/logging"
)

const idxEntries = "portal_entries"

// Meili implements Searcher and Indexer via Meilisearch.
type Meili struct {
	client  meili.ServiceManager
	healthy atomic.Bool
	done    chan struct{}
}

// NewMeili creates a Meilisearch client and configures the entry index.
// An unreachable server is logged; the health loop picks it up later.
func NewMeili(url, apiKey string) *Meili {
	client := meili.New(url, meili.WithAPIKey(apiKey))

	m := &Meili{
		client: client,
		done:   make(chan struct{}),
	}

	if _, err := client.Health(); err != nil {
		logging.Warn("search: meilisearch unavailable", logging.String("url", url), logging.Err(err))
		m.healthy.Store(false)
	} else {
		m.healthy.Store(true)
		m.configureIndexes()
	}

	go m.healthLoop()
	return m
}

func (m *Meili) configureIndexes() {
	if _, err := m.client.CreateIndex(&meili.IndexConfig{
		Uid:        idxEntries,
		PrimaryKey: "id",
	}); err != nil {
		logging.Debug("search: create index (may already exist)", logging.String("index", idxEntries), logging.Err(err))
	}

	index := m.client.Index(idxEntries)
	filterable := []interface{}{"departmentId", "isPage"}
	if _, err := index.UpdateFilterableAttributes(&filterable); err != nil {
		logging.Warn("search: update filterable attrs", logging.String("index", idxEntries), logging.Err(err))
	}
	searchable := []string{"name", "slug"}
	if _, err := index.UpdateSearchableAttributes(&searchable); err != nil {
		logging.Warn("search: update searchable attrs", logging.String("index", idxEntries), logging.Err(err))
	}
}

func (m *Meili) healthLoop() {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-m.done:
			return
		case <-ticker.C:
			_, err := m.client.Health()
			wasHealthy := m.healthy.Load()
			m.healthy.Store(err == nil)
			if err == nil && !wasHealthy {
				logging.Info("search: meilisearch recovered, reconfiguring indexes")
				m.configureIndexes()
			}
		}
	}
}

// Close stops the background health monitor.
func (m *Meili) Close() {
	close(m.done)
}

func (m *Meili) Healthy() bool {
	return m.healthy.Load()
}

func (m *Meili) Search(ctx context.Context, q Query) ([]EntryHit, int, error) {
	if err := ctx.Err(); err != nil {
		return nil, 0, err
	}
	if !m.healthy.Load() {
		return nil, 0, fmt.Errorf("meilisearch unhealthy")
	}

	limit := int64(q.Limit)
	if limit <= 0 {
		limit = 20
	}
	sr := &meili.SearchRequest{
		IndexUID:              idxEntries,
		Query:                 q.Text,
		Limit:                 limit,
		AttributesToHighlight: []string{"name"},
		HighlightPreTag:       "<mark>",
		HighlightPostTag:      "</mark>",
	}
	if q.DepartmentID != "" {
		sr.Filter = []string{fmt.Sprintf("departmentId = %q", q.DepartmentID)}
	}

	resp, err := m.client.MultiSearch(&meili.MultiSearchRequest{
		Queries: []*meili.SearchRequest{sr},
	})
	if err != nil {
		m.healthy.Store(false)
		return nil, 0, fmt.Errorf("meilisearch multi-search: %w", err)
	}

	var hits []EntryHit
	total := 0
	for _, result := range resp.Results {
		total += int(result.EstimatedTotalHits)
		for _, hit := range result.Hits {
			hits = append(hits, hitToEntry(hit))
		}
	}
	return hits, total, nil
}

func hitToEntry(hit meili.Hit) EntryHit {
	return EntryHit{
		ID:           decodeString(hit, "id"),
		DepartmentID: decodeString(hit, "departmentId"),
		Name:         decodeString(hit, "name"),
		Slug:         decodeString(hit, "slug"),
		IsPage:       decodeBool(hit, "isPage"),
		Highlight:    decodeFormattedString(hit, "name"),
	}
}

func decodeString(hit meili.Hit, key string) string {
	raw, ok := hit[key]
	if !ok {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return ""
}

func decodeBool(hit meili.Hit, key string) bool {
	raw, ok := hit[key]
	if !ok {
		return false
	}
	var b bool
	_ = json.Unmarshal(raw, &b)
	return b
}

func decodeFormattedString(hit meili.Hit, key string) string {
	raw, ok := hit["_formatted"]
	if !ok {
		return ""
	}
	var formatted map[string]json.RawMessage
	if err := json.Unmarshal(raw, &formatted); err != nil {
		return ""
	}
	var value string
	if err := json.Unmarshal(formatted[key], &value); err != nil {
		return ""
	}
	return strings.TrimSpace(value)
}

// IndexEntries adds or updates entries in the search index.
func (m *Meili) IndexEntries(ctx context.Context, entries []EntryRecord) error {
	if len(entries) == 0 {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	_, err := m.client.Index(idxEntries).AddDocuments(entries, nil)
	return err
}

// IndexedIDs pages through the index and returns every document id.
func (m *Meili) IndexedIDs(ctx context.Context) ([]string, error) {
	const page = 1000
	var ids []string
	for offset := int64(0); ; offset += page {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		var resp meili.DocumentsResult
		err := m.client.Index(idxEntries).GetDocuments(&meili.DocumentsQuery{
			Offset: offset,
			Limit:  page,
			Fields: []string{"id"},
		}, &resp)
		if err != nil {
			return nil, fmt.Errorf("list indexed entries: %w", err)
		}
		for _, hit := range resp.Results {
			if id := decodeString(hit, "id"); id != "" {
				ids = append(ids, id)
			}
		}
		if len(resp.Results) < page {
			return ids, nil
		}
	}
}

// DeleteEntries removes entries from the search index.
func (m *Meili) DeleteEntries(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	_, err := m.client.Index(idxEntries).DeleteDocuments(ids, nil)
	return err
}
