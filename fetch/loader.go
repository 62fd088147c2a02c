package fetch

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"sync"

	"github.com/alimasry/go-doc-viewer/store"
)

// Origin tells where loaded bytes came from.
type Origin int

const (
	FromNetwork Origin = iota
	FromCache
)

func (o Origin) String() string {
	if o == FromCache {
		return "cache"
	}
	return "network"
}

// Loader checks the document cache before fetching and writes fetched bytes
// back to it. Cache failures are logged and never fail a load.
type Loader struct {
	fetcher Fetcher
	cache   store.DocumentCache
	logger  *slog.Logger
	writes  sync.WaitGroup
}

// NewLoader creates a Loader. cache may be nil, which disables caching.
func NewLoader(fetcher Fetcher, cache store.DocumentCache, logger *slog.Logger) *Loader {
	if logger == nil {
		logger = slog.Default()
	}
	return &Loader{
		fetcher: fetcher,
		cache:   cache,
		logger:  logger.With("component", "loader"),
	}
}

// Load returns the document bytes for src. With useCache set, a cache hit
// skips the network and a network result is written to the cache in the
// background. Entries are keyed by the resolved URL and the credential, so a
// hit only returns bytes the same credential was already served.
func (l *Loader) Load(ctx context.Context, src Source, token string, useCache bool) ([]byte, Origin, error) {
	logger := l.logger.With("documentId", src.DocumentID)
	useCache = useCache && l.cache != nil

	var key string
	if useCache {
		target, err := src.Resolve()
		if err != nil {
			// The fetcher reports the resolution error.
			useCache = false
		} else {
			key = CacheKey(target, token)
		}
	}

	if useCache {
		doc, ok, err := l.cache.Get(ctx, key)
		switch {
		case err != nil:
			logger.Warn("cache read failed, falling back to network", "error", err)
		case ok:
			logger.Debug("cache hit")
			return doc.Bytes, FromCache, nil
		}
	}

	data, err := l.fetcher.Fetch(ctx, src, token)
	if err != nil {
		return nil, FromNetwork, err
	}

	if useCache {
		payload := make([]byte, len(data))
		copy(payload, data)
		l.writes.Add(1)
		go func() {
			defer l.writes.Done()
			err := l.cache.Put(context.WithoutCancel(ctx), store.CachedDocument{ID: key, Bytes: payload})
			if err != nil {
				logger.Warn("cache write failed", "error", err)
			}
		}()
	}
	return data, FromNetwork, nil
}

// CacheKey derives the cache entry id for a resolved source URL fetched with
// token.
func CacheKey(target, token string) string {
	h := sha256.New()
	h.Write([]byte(target))
	h.Write([]byte{0})
	h.Write([]byte(token))
	return hex.EncodeToString(h.Sum(nil))
}

// Wait blocks until background cache writes started so far have finished.
func (l *Loader) Wait() {
	l.writes.Wait()
}
