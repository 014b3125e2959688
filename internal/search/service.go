package search

import (
	"context"

	"contractflow/api/internal/logging"
)

// Service is the facade that tries Meilisearch first and falls back to PG FTS.
type Service struct {
	meili *Meili
	pgfts Searcher
	log   logging.Logger
}

// NewService creates a search service. meili may be nil if Meilisearch is not configured.
func NewService(meili *Meili, pgfts Searcher, log logging.Logger) *Service {
	if log == nil {
		log = logging.Nop()
	}
	return &Service{meili: meili, pgfts: pgfts, log: log}
}

// Search tries Meilisearch if healthy, otherwise falls back to PG FTS.
func (s *Service) Search(q Query) Response {
	if s.meili != nil && s.meili.Healthy() {
		results, total, err := s.meili.Search(q)
		if err == nil {
			return Response{Results: nonNil(results), Total: total, Query: q.Text}
		}
		s.log.Warn(context.Background(), "meilisearch error, falling back to pgfts", "error", err)
	}

	if s.pgfts == nil {
		return Response{Results: []Result{}, Total: 0, Query: q.Text}
	}
	results, total, err := s.pgfts.Search(q)
	if err != nil {
		s.log.Warn(context.Background(), "pgfts error", "error", err)
		return Response{Results: []Result{}, Total: 0, Query: q.Text}
	}
	return Response{Results: nonNil(results), Total: total, Query: q.Text}
}

// IndexTimeline indexes a timeline entry (fire-and-forget to Meilisearch).
func (s *Service) IndexTimeline(r TimelineRecord) {
	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	go func() {
		if err := s.meili.IndexTimeline(r); err != nil {
			s.log.Warn(context.Background(), "index timeline entry failed", "id", r.ID, "error", err)
		}
	}()
}

// DeleteTimeline removes entries from the index (fire-and-forget).
func (s *Service) DeleteTimeline(ids []string) {
	if s.meili == nil || !s.meili.Healthy() || len(ids) == 0 {
		return
	}
	go func() {
		for _, id := range ids {
			if err := s.meili.DeleteTimeline(id); err != nil {
				s.log.Warn(context.Background(), "delete timeline entry from index failed", "id", id, "error", err)
			}
		}
	}()
}

// ReindexAllFromPG pushes every stored timeline entry to Meilisearch.
func (s *Service) ReindexAllFromPG(ctx context.Context) {
	loader, ok := s.pgfts.(*PgFTS)
	if s.meili == nil || !s.meili.Healthy() || !ok {
		return
	}
	records, err := loader.LoadAllRecords(ctx)
	if err != nil {
		s.log.Warn(ctx, "reindex load failed", "error", err)
		return
	}
	if err := s.meili.IndexTimeline(records...); err != nil {
		s.log.Warn(ctx, "reindex timeline failed", "error", err)
	}
}

func nonNil(r []Result) []Result {
	if r == nil {
		return []Result{}
	}
	return r
}
