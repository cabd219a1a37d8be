package search

import (
	"context"
	"fmt"

	"wikiportal/api/internal/logging"
	"wikiportal/api/internal/metrics"
)

// remoteIndex is what the facade needs from Meilisearch.
type remoteIndex interface {
	Searcher
	Indexer
}

// Service is the facade that tries Meilisearch first and falls back to
// Postgres.
type Service struct {
	meili    remoteIndex
	postgres *Postgres
}

// NewService creates a search service. meili may be nil if Meilisearch is
// not configured.
func NewService(meili *Meili, postgres *Postgres) *Service {
	s := &Service{postgres: postgres}
	if meili != nil {
		s.meili = meili
	}
	return s
}

// Search tries Meilisearch if healthy, otherwise falls back to Postgres.
func (s *Service) Search(ctx context.Context, q Query) Response {
	if s.meili != nil && s.meili.Healthy() {
		results, total, err := s.meili.Search(ctx, q)
		if err == nil {
			metrics.RecordEntrySearch("meilisearch")
			return Response{Results: nonNil(results), Total: total, Query: q.Text, Backend: "meilisearch"}
		}
		logging.WithContext(ctx).Warn("search: meilisearch error, falling back to postgres", logging.Err(err))
	}

	metrics.RecordEntrySearch("postgres")
	results, total, err := s.postgres.Search(ctx, q)
	if err != nil {
		logging.WithContext(ctx).Error("search: postgres error", logging.Err(err))
		return Response{Results: []EntryHit{}, Total: 0, Query: q.Text, Backend: "postgres"}
	}
	return Response{Results: nonNil(results), Total: total, Query: q.Text, Backend: "postgres"}
}

// ReindexAll pushes every directory entry from Postgres into Meilisearch,
// removes index documents whose entry no longer exists, and returns the
// number of records sent.
func (s *Service) ReindexAll(ctx context.Context) (int, error) {
	if s.meili == nil {
		return 0, fmt.Errorf("reindex: meilisearch is not configured")
	}
	if !s.meili.Healthy() {
		return 0, fmt.Errorf("reindex: meilisearch is unhealthy")
	}
	records, err := s.postgres.LoadAllRecords(ctx)
	if err != nil {
		return 0, fmt.Errorf("reindex: %w", err)
	}
	if err := s.meili.IndexEntries(ctx, records); err != nil {
		return 0, fmt.Errorf("reindex entries: %w", err)
	}

	indexed, err := s.meili.IndexedIDs(ctx)
	if err != nil {
		return len(records), fmt.Errorf("reindex: %w", err)
	}
	live := make(map[string]struct{}, len(records))
	for _, record := range records {
		live[record.ID] = struct{}{}
	}
	var stale []string
	for _, id := range indexed {
		if _, ok := live[id]; !ok {
			stale = append(stale, id)
		}
	}
	if err := s.meili.DeleteEntries(ctx, stale); err != nil {
		return len(records), fmt.Errorf("prune stale entries: %w", err)
	}
	if len(stale) > 0 {
		logging.Info("search: pruned stale entries", logging.Int("count", len(stale)))
	}
	return len(records), nil
}

// ReindexInBackground runs ReindexAll without blocking startup.
func (s *Service) ReindexInBackground(ctx context.Context) {
	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	go func() {
		n, err := s.ReindexAll(ctx)
		if err != nil {
			logging.Warn("search: background reindex failed", logging.Err(err))
			return
		}
		logging.Info("search: reindexed entries", logging.Int("count", n))
	}()
}

func nonNil(r []EntryHit) []EntryHit {
	if r == nil {
		return []EntryHit{}
	}
	return r
}
