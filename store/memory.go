package store

import (
	"context"
	"slices"
	"sync"
	"time"
)

type docRecord struct {
	data     []byte
	storedAt time.Time
}

// MemoryStore is an in-memory implementation of DocumentCache.
// With WithMaxBytes set it drops the oldest entries once the payload total
// exceeds the cap.
type MemoryStore struct {
	mu       sync.RWMutex
	docs     map[string]*docRecord
	size     int64
	maxBytes int64
	now      func() time.Time
}

func NewMemoryStore(opts ...Option) *MemoryStore {
	o := buildOptions(opts)
	return &MemoryStore{docs: make(map[string]*docRecord), now: o.now, maxBytes: o.maxBytes}
}

func (s *MemoryStore) Get(_ context.Context, id string) (*CachedDocument, bool, error) {
	if id == "" {
		return nil, false, ErrInvalidID
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.docs[id]
	if !ok {
		return nil, false, nil
	}
	return &CachedDocument{ID: id, Bytes: cloneBytes(rec.data), StoredAt: rec.storedAt}, true, nil
}

func (s *MemoryStore) Put(_ context.Context, doc CachedDocument) error {
	if err := validate(&doc, s.now); err != nil {
		return err
	}
	s.put(doc)
	return nil
}

// put stores a validated document, replacing any previous record.
func (s *MemoryStore) put(doc CachedDocument) {
	rec := &docRecord{data: cloneBytes(doc.Bytes), storedAt: doc.StoredAt}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.setLocked(doc.ID, rec)
	if s.maxBytes > 0 {
		s.shrinkLocked(s.maxBytes, nil)
	}
}

func (s *MemoryStore) setLocked(id string, rec *docRecord) {
	if old, ok := s.docs[id]; ok {
		s.size -= int64(len(old.data))
	}
	s.docs[id] = rec
	s.size += int64(len(rec.data))
}

func (s *MemoryStore) deleteLocked(id string) {
	if old, ok := s.docs[id]; ok {
		s.size -= int64(len(old.data))
		delete(s.docs, id)
	}
}

// shrink drops the oldest records not in keep until at most limit payload
// bytes remain, and returns the dropped IDs.
func (s *MemoryStore) shrink(limit int64, keep map[string]bool) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.shrinkLocked(limit, keep)
}

func (s *MemoryStore) shrinkLocked(limit int64, keep map[string]bool) []string {
	if s.size <= limit {
		return nil
	}
	ids := make([]string, 0, len(s.docs))
	for id := range s.docs {
		if !keep[id] {
			ids = append(ids, id)
		}
	}
	slices.SortFunc(ids, func(a, b string) int {
		return s.docs[a].storedAt.Compare(s.docs[b].storedAt)
	})
	var dropped []string
	for _, id := range ids {
		if s.size <= limit {
			break
		}
		s.deleteLocked(id)
		dropped = append(dropped, id)
	}
	return dropped
}

func (s *MemoryStore) EvictOlderThan(_ context.Context, maxAge time.Duration) (int, error) {
	return len(s.evict(maxAge)), nil
}

// evict removes expired records and returns their IDs.
func (s *MemoryStore) evict(maxAge time.Duration) []string {
	cutoff := s.now().Add(-maxAge)

	s.mu.Lock()
	defer s.mu.Unlock()

	var evicted []string
	for id, rec := range s.docs {
		if rec.storedAt.Before(cutoff) {
			s.deleteLocked(id)
			evicted = append(evicted, id)
		}
	}
	return evicted
}

// Len returns the number of cached documents.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.docs)
}

// Size returns the payload bytes held.
func (s *MemoryStore) Size() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.size
}
