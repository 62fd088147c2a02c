package store

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// maxFirestorePayload keeps a document under Firestore's 1 MiB entity limit
// with room for the other fields.
const maxFirestorePayload = 1_000_000

// FirestoreStore is a Firestore-backed implementation of DocumentCache. It
// lets several viewer processes share one cache of small documents.
type FirestoreStore struct {
	client     *firestore.Client
	collection string
	now        func() time.Time
}

// NewFirestoreStore creates a new FirestoreStore using the given Firestore client.
func NewFirestoreStore(client *firestore.Client, collection string, opts ...Option) *FirestoreStore {
	if collection == "" {
		collection = "cached_documents"
	}
	o := buildOptions(opts)
	return &FirestoreStore{
		client:     client,
		collection: collection,
		now:        o.now,
	}
}

// docRef escapes the document ID since Firestore forbids '/' in IDs.
func (s *FirestoreStore) docRef(id string) *firestore.DocumentRef {
	return s.client.Collection(s.collection).Doc(url.PathEscape(id))
}

func (s *FirestoreStore) Get(ctx context.Context, id string) (*CachedDocument, bool, error) {
	if id == "" {
		return nil, false, ErrInvalidID
	}
	snap, err := s.docRef(id).Get(ctx)
	if status.Code(err) == codes.NotFound {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("get cached document %q: %w", id, err)
	}
	data := snap.Data()
	payload, _ := data["payload"].([]byte)
	storedAt, _ := data["storedAt"].(time.Time)
	if len(payload) == 0 {
		return nil, false, nil
	}
	return &CachedDocument{ID: id, Bytes: payload, StoredAt: storedAt}, true, nil
}

func (s *FirestoreStore) Put(ctx context.Context, doc CachedDocument) error {
	if err := validate(&doc, s.now); err != nil {
		return err
	}
	if len(doc.Bytes) > maxFirestorePayload {
		return fmt.Errorf("document %q is %d bytes, over the %d byte firestore limit", doc.ID, len(doc.Bytes), maxFirestorePayload)
	}
	_, err := s.docRef(doc.ID).Set(ctx, map[string]interface{}{
		"documentId": doc.ID,
		"payload":    doc.Bytes,
		"storedAt":   doc.StoredAt,
	})
	if err != nil {
		return fmt.Errorf("put cached document %q: %w", doc.ID, err)
	}
	return nil
}

func (s *FirestoreStore) EvictOlderThan(ctx context.Context, maxAge time.Duration) (int, error) {
	cutoff := s.now().Add(-maxAge)
	iter := s.client.Collection(s.collection).
		Where("storedAt", "<", cutoff).
		Documents(ctx)
	defer iter.Stop()

	evicted := 0
	for {
		snap, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return evicted, fmt.Errorf("list expired documents: %w", err)
		}
		if _, err := snap.Ref.Delete(ctx); err != nil {
			return evicted, fmt.Errorf("delete cached document %s: %w", snap.Ref.ID, err)
		}
		evicted++
	}
	return evicted, nil
}
