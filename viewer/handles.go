package viewer

import (
	"sync"

	"github.com/google/uuid"

	"github.com/alimasry/go-doc-viewer/render"
)

// Handles issues transient handles that let a rendering client address a
// loaded payload, e.g. as /blob/{handle}. Every acquired handle must be
// released.
type Handles interface {
	Acquire(documentID string, data []byte, doc render.Document) string
	Release(handle string)
}

// Blob is the payload behind a handle.
type Blob struct {
	DocumentID string
	Data       []byte
	Doc        render.Document
}

// HandleTable is an in-memory Handles implementation, safe for concurrent use.
type HandleTable struct {
	mu    sync.RWMutex
	blobs map[string]Blob
}

func NewHandleTable() *HandleTable {
	return &HandleTable{blobs: make(map[string]Blob)}
}

func (t *HandleTable) Acquire(documentID string, data []byte, doc render.Document) string {
	handle := uuid.NewString()
	t.mu.Lock()
	t.blobs[handle] = Blob{DocumentID: documentID, Data: data, Doc: doc}
	t.mu.Unlock()
	return handle
}

func (t *HandleTable) Release(handle string) {
	t.mu.Lock()
	delete(t.blobs, handle)
	t.mu.Unlock()
}

// Lookup returns the blob for handle, if it has not been released.
func (t *HandleTable) Lookup(handle string) (Blob, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	b, ok := t.blobs[handle]
	return b, ok
}

// Len returns the number of outstanding handles.
func (t *HandleTable) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.blobs)
}
