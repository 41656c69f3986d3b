package search

import (
	"sort"
	"strings"
	"sync"
	"unicode/utf8"
)

// Local is the fallback Searcher used when Meilisearch is down. It holds the
// same records the Meilisearch indexes do, in memory, and matches by
// case-insensitive substring. The whole corpus is a handful of site sections
// and recent contact messages, so a linear scan is fine.
type Local struct {
	mu       sync.RWMutex
	sections map[string]SectionRecord
	messages map[string]MessageRecord
}

func NewLocal() *Local {
	return &Local{
		sections: make(map[string]SectionRecord),
		messages: make(map[string]MessageRecord),
	}
}

func (l *Local) Healthy() bool { return true }

func (l *Local) IndexSection(record SectionRecord) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.sections[record.ID] = record
}

func (l *Local) IndexMessage(record MessageRecord) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.messages[record.ID] = record
}

func (l *Local) DeleteSection(id string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.sections, id)
}

func (l *Local) Search(q Query) ([]Result, int, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	needle := strings.ToLower(strings.TrimSpace(q.Text))
	var results []Result

	if q.FilterType == "" || q.FilterType == ResultSection {
		for _, record := range l.sections {
			if needle == "" || containsFold(needle, record.Title, record.Body, record.Kind) {
				results = append(results, Result{
					Type:    ResultSection,
					ID:      record.ID,
					Kind:    record.Kind,
					Title:   firstNonBlank(record.Title, record.ID),
					Snippet: snippet(record.Body),
				})
			}
		}
	}
	if q.FilterType == "" || q.FilterType == ResultMessage {
		for _, record := range l.messages {
			if needle == "" || containsFold(needle, record.Name, record.Email, record.Message) {
				results = append(results, Result{
					Type:    ResultMessage,
					ID:      record.ID,
					Title:   record.Name,
					Snippet: snippet(record.Message),
				})
			}
		}
	}

	sort.Slice(results, func(i, j int) bool {
		if results[i].Type != results[j].Type {
			return results[i].Type < results[j].Type
		}
		return results[i].ID < results[j].ID
	})

	total := len(results)
	if q.Offset > 0 {
		if q.Offset >= len(results) {
			results = nil
		} else {
			results = results[q.Offset:]
		}
	}
	// Out-of-range page sizes fall back to the default rather than erroring;
	// the HTTP layer validates, but Meilisearch failures route raw queries
	// here too.
	limit := q.Limit
	if limit <= 0 {
		limit = 20
	}
	if len(results) > limit {
		results = results[:limit]
	}
	return results, total, nil
}

func containsFold(needle string, haystacks ...string) bool {
	for _, haystack := range haystacks {
		if strings.Contains(strings.ToLower(haystack), needle) {
			return true
		}
	}
	return false
}

func snippet(body string) string {
	const max = 160
	body = strings.TrimSpace(body)
	if len(body) <= max {
		return body
	}
	// Back up to a rune boundary so the cut never emits invalid UTF-8.
	cut := max
	for cut > 0 && !utf8.RuneStart(body[cut]) {
		cut--
	}
	return body[:cut] + "…"
}
