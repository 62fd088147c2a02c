package store

import (
	"context"
	"log/slog"
	"slices"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// CachedStore wraps a backing DocumentCache with an in-memory tier.
// Reads are served from memory when possible and fall through to the backing
// store on a miss. Writes land in memory and are flushed to the backing store
// periodically in the background. With WithMaxBytes the memory tier keeps at
// most that many payload bytes of flushed entries; unflushed ones stay.
type CachedStore struct {
	cache         *MemoryStore
	backing       DocumentCache
	logger        *slog.Logger
	maxBytes      int64
	mu            sync.Mutex // guards dirty and flushing; taken before cache.mu
	dirty         map[string]bool
	flushing      map[string]bool
	flushInterval time.Duration
	stop          chan struct{}
	done          chan struct{}
	closeOnce     sync.Once
}

// NewCachedStore creates a CachedStore that caches in memory and flushes
// pending documents to the backing store every flushInterval.
func NewCachedStore(backing DocumentCache, flushInterval time.Duration, opts ...Option) *CachedStore {
	o := buildOptions(opts)
	// The tier enforces the cap itself so unflushed entries survive it.
	memOpts := append(slices.Clone(opts), WithMaxBytes(0))
	cs := &CachedStore{
		cache:         NewMemoryStore(memOpts...),
		backing:       backing,
		logger:        o.logger.With("component", "cached_store"),
		maxBytes:      o.maxBytes,
		dirty:         make(map[string]bool),
		flushing:      make(map[string]bool),
		flushInterval: flushInterval,
		stop:          make(chan struct{}),
		done:          make(chan struct{}),
	}
	go cs.flushLoop()
	return cs
}

func (cs *CachedStore) Get(ctx context.Context, id string) (*CachedDocument, bool, error) {
	doc, ok, err := cs.cache.Get(ctx, id)
	if err != nil || ok {
		return doc, ok, err
	}
	// Cache miss — load from backing store.
	doc, ok, err = cs.backing.Get(ctx, id)
	if err != nil || !ok {
		return nil, false, err
	}
	cs.cache.mu.Lock()
	if _, exists := cs.cache.docs[id]; !exists {
		cs.cache.setLocked(id, &docRecord{data: cloneBytes(doc.Bytes), storedAt: doc.StoredAt})
	}
	cs.cache.mu.Unlock()
	cs.trim()
	return doc, true, nil
}

func (cs *CachedStore) Put(ctx context.Context, doc CachedDocument) error {
	if err := validate(&doc, cs.cache.now); err != nil {
		return err
	}
	cs.mu.Lock()
	cs.cache.put(doc)
	cs.dirty[doc.ID] = true
	cs.mu.Unlock()
	cs.trim()
	return nil
}

// trim enforces the memory cap over entries that are already in the backing
// store.
func (cs *CachedStore) trim() {
	if cs.maxBytes <= 0 {
		return
	}
	cs.mu.Lock()
	defer cs.mu.Unlock()
	keep := make(map[string]bool, len(cs.dirty)+len(cs.flushing))
	for id := range cs.dirty {
		keep[id] = true
	}
	for id := range cs.flushing {
		keep[id] = true
	}
	if dropped := cs.cache.shrink(cs.maxBytes, keep); len(dropped) > 0 {
		cs.logger.Debug("trimmed memory tier", "dropped", len(dropped), "bytes", cs.cache.Size())
	}
}

// EvictOlderThan sweeps both tiers concurrently. The count is the larger of
// the two tiers' counts, since one document may live in both.
func (cs *CachedStore) EvictOlderThan(ctx context.Context, maxAge time.Duration) (int, error) {
	var memEvicted, backingEvicted int
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		ids := cs.cache.evict(maxAge)
		cs.mu.Lock()
		for _, id := range ids {
			delete(cs.dirty, id)
		}
		cs.mu.Unlock()
		memEvicted = len(ids)
		return nil
	})
	g.Go(func() error {
		n, err := cs.backing.EvictOlderThan(gctx, maxAge)
		backingEvicted = n
		return err
	})
	err := g.Wait()
	return max(memEvicted, backingEvicted), err
}

func (cs *CachedStore) flushLoop() {
	ticker := time.NewTicker(cs.flushInterval)
	defer ticker.Stop()
	defer close(cs.done)

	for {
		select {
		case <-ticker.C:
			cs.flush()
		case <-cs.stop:
			cs.flush()
			return
		}
	}
}

// flush writes all pending documents to the backing store. Failed writes
// stay pending and are retried on the next cycle.
func (cs *CachedStore) flush() {
	cs.mu.Lock()
	pending := make([]string, 0, len(cs.dirty))
	for id := range cs.dirty {
		pending = append(pending, id)
		cs.flushing[id] = true
	}
	cs.dirty = make(map[string]bool)
	cs.mu.Unlock()
	defer cs.trim()

	ctx := context.Background()
	for _, id := range pending {
		cs.cache.mu.RLock()
		rec, ok := cs.cache.docs[id]
		var doc CachedDocument
		if ok {
			doc = CachedDocument{ID: id, Bytes: rec.data, StoredAt: rec.storedAt}
		}
		cs.cache.mu.RUnlock()
		if !ok {
			cs.mu.Lock()
			delete(cs.flushing, id)
			cs.mu.Unlock()
			continue
		}

		err := cs.backing.Put(ctx, doc)
		cs.mu.Lock()
		delete(cs.flushing, id)
		if err != nil {
			cs.dirty[id] = true
		}
		cs.mu.Unlock()
		if err != nil {
			cs.logger.Warn("failed to flush document to backing store", "documentId", id, "error", err)
		}
	}
}

// Close signals the flush loop to perform a final flush and waits for it
// to complete.
func (cs *CachedStore) Close() {
	cs.closeOnce.Do(func() { close(cs.stop) })
	<-cs.done
}
