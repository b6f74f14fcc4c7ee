package docstore

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"
)

// MemoryStore is an in-memory implementation of Store.
// This is intended for testing and local development.
type MemoryStore struct {
	mu          sync.RWMutex
	collections map[string]map[string]*memoryEntry
	seq         int64
	now         func() time.Time
}

type memoryEntry struct {
	seq       int64
	body      []byte
	createdAt time.Time
	updatedAt time.Time
}

// MemoryOption configures a MemoryStore.
type MemoryOption func(*MemoryStore)

// WithClock overrides the clock used for document timestamps.
func WithClock(now func() time.Time) MemoryOption {
	return func(s *MemoryStore) {
		s.now = now
	}
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore(opts ...MemoryOption) *MemoryStore {
	s := &MemoryStore{
		collections: make(map[string]map[string]*memoryEntry),
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Get retrieves a document by id.
func (s *MemoryStore) Get(_ context.Context, collection, id string) (*Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entry, ok := s.collections[collection][id]
	if !ok {
		return nil, ErrNotFound
	}
	return entry.document(id), nil
}

// Put creates or replaces a document.
func (s *MemoryStore) Put(_ context.Context, collection, id string, body []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	docs, ok := s.collections[collection]
	if !ok {
		docs = make(map[string]*memoryEntry)
		s.collections[collection] = docs
	}

	now := s.now()
	bodyCopy := append([]byte(nil), body...)

	if existing, ok := docs[id]; ok {
		existing.body = bodyCopy
		existing.updatedAt = now
		return nil
	}

	s.seq++
	docs[id] = &memoryEntry{
		seq:       s.seq,
		body:      bodyCopy,
		createdAt: now,
		updatedAt: now,
	}
	return nil
}

// Find returns the documents matching q.
func (s *MemoryStore) Find(_ context.Context, collection string, q Query) ([]*Document, error) {
	if err := validateField(q.Field); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	type candidate struct {
		id    string
		entry *memoryEntry
	}

	docs := s.collections[collection]
	candidates := make([]candidate, 0, len(docs))
	for id, entry := range docs {
		if !q.UpdatedBefore.IsZero() && !entry.updatedAt.Before(q.UpdatedBefore) {
			continue
		}
		if q.Field != "" && !matchesField(entry.body, q.Field, q.Value) {
			continue
		}
		candidates = append(candidates, candidate{id: id, entry: entry})
	}

	sort.Slice(candidates, func(i, j int) bool {
		if q.Newest {
			return candidates[i].entry.seq > candidates[j].entry.seq
		}
		return candidates[i].entry.seq < candidates[j].entry.seq
	})

	if q.Limit > 0 && len(candidates) > q.Limit {
		candidates = candidates[:q.Limit]
	}

	result := make([]*Document, 0, len(candidates))
	for _, c := range candidates {
		result = append(result, c.entry.document(c.id))
	}
	return result, nil
}

// Delete removes a document.
func (s *MemoryStore) Delete(_ context.Context, collection, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	docs := s.collections[collection]
	if _, ok := docs[id]; !ok {
		return ErrNotFound
	}
	delete(docs, id)
	return nil
}

// Close is a no-op for the in-memory store.
func (s *MemoryStore) Close() error {
	return nil
}

func (e *memoryEntry) document(id string) *Document {
	return &Document{
		ID:        id,
		Body:      append([]byte(nil), e.body...),
		CreatedAt: e.createdAt,
		UpdatedAt: e.updatedAt,
	}
}

func matchesField(body []byte, field string, value any) bool {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(body, &fields); err != nil {
		return false
	}
	raw, ok := fields[field]
	if !ok {
		return false
	}
	var decoded any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return false
	}
	switch decoded.(type) {
	case map[string]any, []any:
		return false
	}
	return fieldText(decoded) == fieldText(value)
}

// Ensure MemoryStore implements Store interface.
var _ Store = (*MemoryStore)(nil)
