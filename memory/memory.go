// Package memory stores finalized research reports so later tasks for the
// same scope can build on them.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"
	"unicode"

	"github.com/google/uuid"
)

// DefaultScope is used when a task carries no user identity
const DefaultScope = "default_user"

// Record is one stored memory
type Record struct {
	ID        string    `json:"id"`
	Scope     string    `json:"scope"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"created_at"`
}

// Store searches and appends memories
type Store interface {
	Search(ctx context.Context, query, scope string, limit int) ([]Record, error)
	Add(ctx context.Context, text, scope string) (Record, error)
}

// NewRecord returns a record with a fresh ID
func NewRecord(text, scope string) Record {
	if scope == "" {
		scope = DefaultScope
	}
	return Record{
		ID:        uuid.NewString(),
		Scope:     scope,
		Text:      text,
		CreatedAt: time.Now().UTC(),
	}
}

// InMemoryStore keeps memories in process
type InMemoryStore struct {
	mutex   sync.RWMutex
	records []Record
}

// NewInMemoryStore returns an empty store
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{}
}

func (s *InMemoryStore) Add(ctx context.Context, text, scope string) (Record, error) {
	record := NewRecord(text, scope)
	s.mutex.Lock()
	s.records = append(s.records, record)
	s.mutex.Unlock()
	return record, nil
}

func (s *InMemoryStore) Search(ctx context.Context, query, scope string, limit int) ([]Record, error) {
	if scope == "" {
		scope = DefaultScope
	}
	s.mutex.RLock()
	var candidates []Record
	for _, r := range s.records {
		if r.Scope == scope {
			candidates = append(candidates, r)
		}
	}
	s.mutex.RUnlock()
	return Rank(query, candidates, limit), nil
}

// Rank orders records by the number of query terms they contain, newest
// first on ties. Records sharing no term with the query are dropped.
func Rank(query string, records []Record, limit int) []Record {
	terms := tokenize(query)
	if len(terms) == 0 {
		return nil
	}
	type scored struct {
		record Record
		score  int
	}
	var matches []scored
	for _, r := range records {
		words := make(map[string]struct{})
		for _, w := range tokenize(r.Text) {
			words[w] = struct{}{}
		}
		score := 0
		for _, term := range terms {
			if _, ok := words[term]; ok {
				score++
			}
		}
		if score > 0 {
			matches = append(matches, scored{record: r, score: score})
		}
	}
	sort.SliceStable(matches, func(i, j int) bool {
		if matches[i].score != matches[j].score {
			return matches[i].score > matches[j].score
		}
		return matches[i].record.CreatedAt.After(matches[j].record.CreatedAt)
	})
	if limit > 0 && len(matches) > limit {
		matches = matches[:limit]
	}
	out := make([]Record, len(matches))
	for i, m := range matches {
		out[i] = m.record
	}
	return out
}

var stopWords = map[string]struct{}{
	"the": {}, "and": {}, "for": {}, "what": {}, "are": {}, "how": {},
	"with": {}, "that": {}, "this": {}, "from": {}, "who": {}, "why": {},
}

func tokenize(s string) []string {
	fields := strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	seen := make(map[string]struct{}, len(fields))
	var out []string
	for _, f := range fields {
		if len(f) < 3 {
			continue
		}
		if _, stop := stopWords[f]; stop {
			continue
		}
		if _, dup := seen[f]; dup {
			continue
		}
		seen[f] = struct{}{}
		out = append(out, f)
	}
	return out
}
