package store

import (
	"context"
	"testing"
	"time"
)

func TestSweep_EvictsUntilCancelled(t *testing.T) {
	clock := newFakeClock()
	s := NewMemoryStore(WithClock(clock.Now))
	ctx, cancel := context.WithCancel(context.Background())

	s.Put(ctx, CachedDocument{ID: "doc1", Bytes: []byte("x")})
	clock.Advance(8 * day)

	done := make(chan struct{})
	go func() {
		Sweep(ctx, s, DefaultRetention, 10*time.Millisecond, nil)
		close(done)
	}()

	deadline := time.After(2 * time.Second)
	for s.Len() != 0 {
		select {
		case <-deadline:
			t.Fatal("timeout waiting for sweep")
		case <-time.After(5 * time.Millisecond):
		}
	}

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("sweep did not stop after cancel")
	}
}
