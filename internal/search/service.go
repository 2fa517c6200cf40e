package search

import (
	"context"
	"log"
)

// Service is the facade that tries Meilisearch first and falls back to
// querying PostgreSQL directly.
type Service struct {
	meili *Meili
	pg    *PgForms
}

// NewService creates a search service. meili may be nil if Meilisearch is not configured.
func NewService(meili *Meili, pg *PgForms) *Service {
	return &Service{meili: meili, pg: pg}
}

// Search tries Meilisearch if healthy, otherwise falls back to Postgres.
func (s *Service) Search(q Query) Response {
	if s.meili != nil && s.meili.Healthy() {
		results, total, err := s.meili.Search(q)
		if err == nil {
			return Response{Results: nonNil(results), Total: total, Query: q.Text}
		}
		log.Printf("search: meilisearch error, falling back to postgres: %v", err)
	}

	results, total, err := s.pg.Search(q)
	if err != nil {
		log.Printf("search: postgres fallback error: %v", err)
		return Response{Results: []FormRecord{}, Total: 0, Query: q.Text}
	}
	return Response{Results: nonNil(results), Total: total, Query: q.Text}
}

// IndexForm indexes a form (fire-and-forget to Meilisearch).
func (s *Service) IndexForm(f FormRecord) {
	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	go func() {
		if err := s.meili.IndexForm(f); err != nil {
			log.Printf("search: index form %s: %v", f.ID, err)
		}
	}()
}

// DeleteForm removes a form from the search index (fire-and-forget).
func (s *Service) DeleteForm(id string) {
	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	go func() {
		if err := s.meili.DeleteForm(id); err != nil {
			log.Printf("search: delete form %s: %v", id, err)
		}
	}()
}

// ReindexAllFromPG reads every form from PostgreSQL and pushes it to Meilisearch.
func (s *Service) ReindexAllFromPG(ctx context.Context) {
	if s.meili == nil || !s.meili.Healthy() || s.pg == nil {
		return
	}
	records, err := s.pg.LoadAllRecords(ctx)
	if err != nil {
		log.Printf("search: reindex load failed: %v", err)
		return
	}
	if err := s.meili.IndexForms(records); err != nil {
		log.Printf("search: reindex forms: %v", err)
	}
}

func nonNil(r []FormRecord) []FormRecord {
	if r == nil {
		return []FormRecord{}
	}
	return r
}
