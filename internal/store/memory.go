package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"bookhaul/internal/book"
)

// MemoryStore is an in-memory Provider used by tests and single-process
// runs. It honors the same claim and upsert contracts as PostgresStore.
type MemoryStore struct {
	mu    sync.Mutex
	books map[string]*book.Record
}

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{books: make(map[string]*book.Record)}
}

// ClaimNext picks the first-discovered record with status current and moves
// it to next under the store lock; two concurrent callers never receive the
// same record.
func (s *MemoryStore) ClaimNext(_ context.Context, current, next book.Status) (*book.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var candidate *book.Record
	for _, rec := range s.books {
		if rec.Status != current {
			continue
		}
		if candidate == nil || rec.CreatedAt.Before(candidate.CreatedAt) ||
			(rec.CreatedAt.Equal(candidate.CreatedAt) && rec.ID < candidate.ID) {
			candidate = rec
		}
	}
	if candidate == nil {
		return nil, nil
	}
	candidate.Status = next
	out := cloneRecord(candidate)
	return &out, nil
}

// Finish sets the record's status; unknown identifiers are a no-op.
func (s *MemoryStore) Finish(_ context.Context, id string, status book.Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if rec, ok := s.books[id]; ok {
		rec.Status = status
	}
	return nil
}

// UpsertDiscovered inserts new records and merges tags into existing ones.
func (s *MemoryStore) UpsertDiscovered(_ context.Context, records []book.Record) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var inserted []string
	for _, rec := range records {
		if existing, ok := s.books[rec.ID]; ok {
			existing.Tags = book.MergeTags(existing.Tags, rec.Tags)
			continue
		}
		stored := cloneRecord(&rec)
		stored.Status = book.StatusNotAcquired
		if stored.CreatedAt.IsZero() {
			stored.CreatedAt = time.Now().UTC()
		}
		s.books[stored.ID] = &stored
		inserted = append(inserted, stored.ID)
	}
	return inserted, nil
}

// Close implements Provider; the memory store holds no resources.
func (s *MemoryStore) Close() {}

// Get returns a copy of the record, or nil when unknown.
func (s *MemoryStore) Get(id string) *book.Record {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.books[id]
	if !ok {
		return nil
	}
	out := cloneRecord(rec)
	return &out
}

// All returns copies of every record ordered by identifier.
func (s *MemoryStore) All() []book.Record {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]book.Record, 0, len(s.books))
	for _, rec := range s.books {
		out = append(out, cloneRecord(rec))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func cloneRecord(rec *book.Record) book.Record {
	out := *rec
	out.Authors = append([]string(nil), rec.Authors...)
	out.Publishers = append([]string(nil), rec.Publishers...)
	out.Tags = append([]string(nil), rec.Tags...)
	return out
}
