package store

import (
	"context"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/telhawk-systems/resulthub/internal/models"
)

// MemoryStore keeps documents in process. Used for local runs and tests.
type MemoryStore struct {
	results map[string]models.Record
	images  map[string]models.Record
	details map[string]map[string]models.Record // index -> id -> record
	mu      sync.RWMutex
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		results: make(map[string]models.Record),
		images:  make(map[string]models.Record),
		details: make(map[string]map[string]models.Record),
	}
}

// PutResult stores a result document keyed by its "_id".
func (s *MemoryStore) PutResult(rec models.Record) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.results[idOf(rec)] = rec.Clone()
}

// PutImage stores an image header keyed by its "_id".
func (s *MemoryStore) PutImage(rec models.Record) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.images[idOf(rec)] = rec.Clone()
}

// PutDetail stores a detail record in the given index.
func (s *MemoryStore) PutDetail(index string, rec models.Record) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.details[index] == nil {
		s.details[index] = make(map[string]models.Record)
	}
	s.details[index][idOf(rec)] = rec.Clone()
}

func (s *MemoryStore) GetImage(ctx context.Context, id string) (models.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.images[id]
	if !ok {
		return nil, ErrNotFound
	}
	return rec.Clone(), nil
}

func (s *MemoryStore) ListResults(ctx context.Context, session string, filter ResultFilter) ([]models.Record, error) {
	out := []models.Record{}
	if filter.MatchesNothing() {
		return out, nil
	}

	s.mu.RLock()
	for _, rec := range s.results {
		if rec["session_id"] != session {
			continue
		}
		if !filter.All {
			resultType, _ := rec["result_type"].(string)
			if !slices.Contains(filter.Types, resultType) {
				continue
			}
		}
		out = append(out, rec.Clone())
	}
	s.mu.RUnlock()

	sort.SliceStable(out, func(i, j int) bool {
		return timestampOf(out[i]).After(timestampOf(out[j]))
	})
	return out, nil
}

func (s *MemoryStore) GetDetail(ctx context.Context, kind Descriptor, id string) (models.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	index, ok := s.details[kind.Index]
	if !ok {
		// create-if-absent, mirroring the index creation of the OpenSearch store
		s.details[kind.Index] = make(map[string]models.Record)
		return nil, ErrNotFound
	}
	rec, ok := index[id]
	if !ok {
		return nil, ErrNotFound
	}
	return rec.Clone(), nil
}

func (s *MemoryStore) UpdateResult(ctx context.Context, id string, fields models.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.results[id]
	if !ok {
		return ErrNotFound
	}
	for k, v := range fields {
		if k == "_id" {
			continue
		}
		rec[k] = v
	}
	return nil
}

// HasIndex reports whether a detail index exists.
func (s *MemoryStore) HasIndex(index string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.details[index]
	return ok
}

func idOf(rec models.Record) string {
	id, _ := rec["_id"].(string)
	return id
}

func timestampOf(rec models.Record) time.Time {
	switch ts := rec["timestamp"].(type) {
	case time.Time:
		return ts
	case string:
		if t, err := time.Parse(time.RFC3339Nano, ts); err == nil {
			return t
		}
	}
	return time.Time{}
}
