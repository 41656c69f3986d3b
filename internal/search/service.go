package search

import (
	"log"
	"strings"

	"clearpath/api/internal/content"
)

// Service is the facade that tries Meilisearch first and falls back to the
// in-memory index. Both indexes are fed on every write so the fallback is
// never cold.
type Service struct {
	meili *Meili
	local *Local
}

// NewService creates a search service. meili may be nil if Meilisearch is
// not configured.
func NewService(meili *Meili, local *Local) *Service {
	if local == nil {
		local = NewLocal()
	}
	return &Service{meili: meili, local: local}
}

// Search tries Meilisearch if healthy, otherwise the local fallback.
func (s *Service) Search(q Query) Response {
	if s.meili != nil && s.meili.Healthy() {
		results, total, err := s.meili.Search(q)
		if err == nil {
			return Response{Results: nonNil(results), Total: total, Query: q.Text}
		}
		log.Printf("search: meilisearch error, falling back to local index: %v", err)
	}

	results, total, err := s.local.Search(q)
	if err != nil {
		log.Printf("search: local index error: %v", err)
		return Response{Results: []Result{}, Total: 0, Query: q.Text}
	}
	return Response{Results: nonNil(results), Total: total, Query: q.Text}
}

// IndexSection indexes a site section (fire-and-forget to Meilisearch, the
// local index is updated synchronously).
func (s *Service) IndexSection(record SectionRecord) {
	s.local.IndexSection(record)
	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	go func() {
		if err := s.meili.IndexSection(record); err != nil {
			log.Printf("search: index section %s: %v", record.ID, err)
		}
	}()
}

// IndexMessage indexes a contact message.
func (s *Service) IndexMessage(record MessageRecord) {
	s.local.IndexMessage(record)
	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	go func() {
		if err := s.meili.IndexMessage(record); err != nil {
			log.Printf("search: index message %s: %v", record.ID, err)
		}
	}()
}

// DeleteSection removes a section from both indexes.
func (s *Service) DeleteSection(id string) {
	s.local.DeleteSection(id)
	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	go func() {
		if err := s.meili.DeleteSection(id); err != nil {
			log.Printf("search: delete section %s: %v", id, err)
		}
	}()
}

// ReindexSections pushes the full section set into both indexes, used at
// startup and after Meilisearch recovers.
func (s *Service) ReindexSections(records []SectionRecord) {
	for _, record := range records {
		s.local.IndexSection(record)
	}
	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	if err := s.meili.IndexSections(records); err != nil {
		log.Printf("search: reindex sections: %v", err)
	}
}

// SectionRecordFrom flattens a stored section into its indexable form. The
// title field leads when present; everything else lands in the body.
func SectionRecordFrom(id, kind string, fields content.Fields) SectionRecord {
	record := SectionRecord{ID: id, Kind: kind, Title: fields["title"]}
	var parts []string
	for name, value := range fields {
		if name == "title" || strings.TrimSpace(value) == "" {
			continue
		}
		parts = append(parts, value)
	}
	record.Body = strings.Join(parts, " ")
	return record
}

func nonNil(r []Result) []Result {
	if r == nil {
		return []Result{}
	}
	return r
}
