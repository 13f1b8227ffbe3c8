package docstore

import (
	"context"
	"fmt"
	"reflect"
	"sync"

	"github.com/google/uuid"
)

// MemoryStore is an in-memory Store used by tests and local development.
// Conditional updates are serialized by a single mutex, which satisfies the
// per-document atomicity the engine relies on.
type MemoryStore struct {
	mu          sync.RWMutex
	collections map[string]map[string]map[string]any
}

var _ Store = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{collections: make(map[string]map[string]map[string]any)}
}

func (s *MemoryStore) Get(_ context.Context, collection, id string) (Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	doc, ok := s.collections[collection][id]
	if !ok {
		return Snapshot{}, ErrNotFound
	}
	return Snapshot{ID: id, Data: cloneDoc(doc)}, nil
}

func (s *MemoryStore) Add(_ context.Context, collection string, data map[string]any) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := uuid.NewString()
	s.col(collection)[id] = cloneDoc(data)
	return id, nil
}

func (s *MemoryStore) Set(_ context.Context, collection, id string, data map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.col(collection)[id] = cloneDoc(data)
	return nil
}

func (s *MemoryStore) Update(_ context.Context, collection, id string, fields map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, ok := s.collections[collection][id]
	if !ok {
		return ErrNotFound
	}
	for k, v := range fields {
		doc[k] = v
	}
	return nil
}

func (s *MemoryStore) UpdateIf(_ context.Context, collection, id, condField string, condValue any, fields map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, ok := s.collections[collection][id]
	if !ok {
		return ErrNotFound
	}
	if canon(doc[condField]) != canon(condValue) {
		return ErrConditionFailed
	}
	for k, v := range fields {
		doc[k] = v
	}
	return nil
}

func (s *MemoryStore) Query(_ context.Context, collection string, filters ...Filter) ([]Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []Snapshot
	for id, doc := range s.collections[collection] {
		if matchesAll(doc, filters) {
			out = append(out, Snapshot{ID: id, Data: cloneDoc(doc)})
		}
	}
	return out, nil
}

func (s *MemoryStore) col(name string) map[string]map[string]any {
	c, ok := s.collections[name]
	if !ok {
		c = make(map[string]map[string]any)
		s.collections[name] = c
	}
	return c
}

func matchesAll(doc map[string]any, filters []Filter) bool {
	for _, f := range filters {
		if !matches(doc, f) {
			return false
		}
	}
	return true
}

func matches(doc map[string]any, f Filter) bool {
	got, ok := doc[f.Field]
	if !ok {
		return false
	}
	switch f.Op {
	case OpEqual:
		return canon(got) == canon(f.Value)
	case OpLessEq:
		return canon(got) <= canon(f.Value)
	case OpGreater:
		return canon(got) >= canon(f.Value)
	case OpIn:
		rv := reflect.ValueOf(f.Value)
		if rv.Kind() != reflect.Slice {
			return false
		}
		for i := 0; i < rv.Len(); i++ {
			if canon(got) == canon(rv.Index(i).Interface()) {
				return true
			}
		}
		return false
	default:
		return false
	}
}

// canon folds a value to its comparable string form. Documents pass through
// a JSON round-trip, so numbers arrive as float64 regardless of the Go type
// they were written with.
func canon(v any) string {
	switch n := v.(type) {
	case float64:
		if n == float64(int64(n)) {
			return fmt.Sprintf("%d", int64(n))
		}
		return fmt.Sprintf("%v", n)
	case int:
		return fmt.Sprintf("%d", n)
	case int64:
		return fmt.Sprintf("%d", n)
	case uint64:
		return fmt.Sprintf("%d", n)
	default:
		return fmt.Sprintf("%v", v)
	}
}

func cloneDoc(doc map[string]any) map[string]any {
	out := make(map[string]any, len(doc))
	for k, v := range doc {
		out[k] = v
	}
	return out
}
