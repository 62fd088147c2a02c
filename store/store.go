package store

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

// DefaultRetention is how long a cached payload stays eligible for reuse.
const DefaultRetention = 7 * 24 * time.Hour

var (
	// ErrInvalidID is returned when a document ID is empty.
	ErrInvalidID = errors.New("document id is required")
	// ErrEmptyPayload is returned when storing a document without bytes.
	ErrEmptyPayload = errors.New("document payload is required")
)

// CachedDocument holds a fetched document payload and its insertion time.
type CachedDocument struct {
	ID       string
	Bytes    []byte
	StoredAt time.Time
}

// DocumentCache abstracts local persistence of fetched document bytes.
// Implementations: MemoryStore, SQLiteStore, FirestoreStore, CachedStore.
//
// Get reports a missing key as (nil, false, nil). Put replaces any prior entry
// for the same ID; a zero StoredAt is set to the current time.
type DocumentCache interface {
	Get(ctx context.Context, id string) (*CachedDocument, bool, error)
	Put(ctx context.Context, doc CachedDocument) error
	EvictOlderThan(ctx context.Context, maxAge time.Duration) (int, error)
}

// Option configures a store.
type Option func(*options)

type options struct {
	now      func() time.Time
	logger   *slog.Logger
	maxBytes int64
}

// WithClock sets the time source used for StoredAt and eviction cutoffs.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}

// WithLogger sets the logger used for background work.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithMaxBytes caps the payload bytes held in memory. Oldest entries are
// dropped first. Zero means no cap. Only in-memory tiers use it.
func WithMaxBytes(n int64) Option {
	return func(o *options) {
		if n >= 0 {
			o.maxBytes = n
		}
	}
}

func buildOptions(opts []Option) options {
	o := options{now: time.Now, logger: slog.Default()}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

func validate(doc *CachedDocument, now func() time.Time) error {
	if doc.ID == "" {
		return ErrInvalidID
	}
	if len(doc.Bytes) == 0 {
		return ErrEmptyPayload
	}
	if doc.StoredAt.IsZero() {
		doc.StoredAt = now()
	}
	return nil
}

func cloneBytes(b []byte) []byte {
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
