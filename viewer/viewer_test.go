package viewer

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alimasry/go-doc-viewer/fetch"
	"github.com/alimasry/go-doc-viewer/render"
	"github.com/alimasry/go-doc-viewer/store"
)

type fakeDoc struct{ pages int }

func (d fakeDoc) PageCount() int { return d.pages }

func (d fakeDoc) Page(_ context.Context, n int) ([]byte, error) {
	if n < 1 || n > d.pages {
		return nil, render.ErrPageRender
	}
	return []byte(fmt.Sprintf("page %d", n)), nil
}

// fakeEngine reports a fixed page count for any payload that starts with
// "%PDF" and fails to decode anything else.
type fakeEngine struct{ pages int }

func (e fakeEngine) Decode(ctx context.Context, data []byte) (render.Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !bytes.HasPrefix(data, []byte("%PDF")) {
		return nil, fmt.Errorf("%w: not a pdf", render.ErrDecode)
	}
	return fakeDoc{pages: e.pages}, nil
}

// gateLoader blocks each load until its document is released.
type gateLoader struct {
	mu    sync.Mutex
	gates map[string]chan result
	calls atomic.Int32
}

type result struct {
	data []byte
	err  error
}

func newGateLoader() *gateLoader {
	return &gateLoader{gates: make(map[string]chan result)}
}

func (l *gateLoader) gate(id string) chan result {
	l.mu.Lock()
	defer l.mu.Unlock()
	ch, ok := l.gates[id]
	if !ok {
		ch = make(chan result, 1)
		l.gates[id] = ch
	}
	return ch
}

func (l *gateLoader) Load(_ context.Context, src fetch.Source, _ string, _ bool) ([]byte, fetch.Origin, error) {
	l.calls.Add(1)
	r := <-l.gate(src.DocumentID)
	return r.data, fetch.FromNetwork, r.err
}

func (l *gateLoader) release(id string, data []byte, err error) {
	l.gate(id) <- result{data: data, err: err}
}

// funcLoader adapts a function to Loader.
type funcLoader func(ctx context.Context, src fetch.Source) ([]byte, error)

func (f funcLoader) Load(ctx context.Context, src fetch.Source, _ string, _ bool) ([]byte, fetch.Origin, error) {
	data, err := f(ctx, src)
	return data, fetch.FromNetwork, err
}

func staticLoader(data []byte) funcLoader {
	return func(context.Context, fetch.Source) ([]byte, error) { return data, nil }
}

func openReq(id string) OpenRequest {
	return OpenRequest{Source: fetch.Source{DocumentID: id, URL: "http://docs.test/" + id}, Token: "tok"}
}

func record(v *Viewer) <-chan Event {
	events := make(chan Event, 128)
	v.Subscribe(func(ev Event) { events <- ev })
	return events
}

func waitFor(t *testing.T, events <-chan Event, match func(Event) bool) Event {
	t.Helper()
	timeout := time.After(2 * time.Second)
	for {
		select {
		case ev := <-events:
			if match(ev) {
				return ev
			}
		case <-timeout:
			t.Fatal("timed out waiting for event")
		}
	}
}

func isState(id string, ls LoadState) func(Event) bool {
	return func(ev Event) bool {
		return ev.Type == EventState && ev.State.DocumentID == id && ev.State.LoadState == ls
	}
}

func openReady(t *testing.T, pages int) *Viewer {
	t.Helper()
	v := New(Options{
		Loader:  staticLoader([]byte("%PDF-1.4")),
		Engine:  fakeEngine{pages: pages},
		Gesture: GestureConfig{SettleDelay: 5 * time.Millisecond},
	})
	t.Cleanup(v.Close)
	if err := v.Open(context.Background(), openReq("doc-1")); err != nil {
		t.Fatal(err)
	}
	return v
}

func TestViewer_OpenReachesReady(t *testing.T) {
	handles := NewHandleTable()
	v := New(Options{Loader: staticLoader([]byte("%PDF-1.4")), Engine: fakeEngine{pages: 5}, Handles: handles})
	defer v.Close()
	events := record(v)

	if err := v.Open(context.Background(), openReq("42")); err != nil {
		t.Fatal(err)
	}

	if ev := <-events; ev.State.LoadState != Loading {
		t.Fatalf("first event = %v, want loading", ev.State.LoadState)
	}
	ev := <-events
	if ev.State.LoadState != Ready || ev.State.TotalPages != 5 || ev.State.CurrentPage != 1 {
		t.Fatalf("second event = %+v", ev.State)
	}
	blob, ok := handles.Lookup(ev.State.Handle)
	if !ok || blob.DocumentID != "42" {
		t.Fatalf("handle %q not registered", ev.State.Handle)
	}
}

func TestViewer_NewDocumentSupersedesLoad(t *testing.T) {
	loader := newGateLoader()
	handles := NewHandleTable()
	v := New(Options{Loader: loader, Engine: fakeEngine{pages: 3}, Handles: handles})
	defer v.Close()
	events := record(v)

	errA := make(chan error, 1)
	go func() { errA <- v.Open(context.Background(), openReq("A")) }()
	waitFor(t, events, isState("A", Loading))

	errB := make(chan error, 1)
	go func() { errB <- v.Open(context.Background(), openReq("B")) }()
	waitFor(t, events, isState("B", Loading))

	// A's result arrives after B was requested and must be discarded.
	loader.release("A", []byte("%PDF-A"), nil)
	if err := <-errA; !errors.Is(err, ErrSuperseded) || !fetch.IsCancelled(err) {
		t.Fatalf("A error = %v, want superseded", err)
	}
	if st := v.State(); st.DocumentID != "B" || st.LoadState != Loading {
		t.Fatalf("state after stale result = %+v", st)
	}

	loader.release("B", []byte("%PDF-B"), nil)
	if err := <-errB; err != nil {
		t.Fatal(err)
	}
	st := v.State()
	if st.DocumentID != "B" || st.LoadState != Ready {
		t.Fatalf("final state = %+v", st)
	}
	if handles.Len() != 1 {
		t.Fatalf("outstanding handles = %d, want 1", handles.Len())
	}
	if blob, _ := handles.Lookup(st.Handle); string(blob.Data) != "%PDF-B" {
		t.Fatalf("handle holds %q", blob.Data)
	}
}

func TestViewer_SameDocumentIsNoop(t *testing.T) {
	var calls atomic.Int32
	loader := funcLoader(func(context.Context, fetch.Source) ([]byte, error) {
		calls.Add(1)
		return []byte("%PDF-1.4"), nil
	})
	v := New(Options{Loader: loader, Engine: fakeEngine{pages: 2}})
	defer v.Close()

	for i := 0; i < 3; i++ {
		if err := v.Open(context.Background(), openReq("x")); err != nil {
			t.Fatal(err)
		}
	}
	if calls.Load() != 1 {
		t.Fatalf("loader called %d times, want 1", calls.Load())
	}
}

func TestViewer_TransportFailureIsRetryable(t *testing.T) {
	var fail atomic.Bool
	fail.Store(true)
	loader := funcLoader(func(_ context.Context, src fetch.Source) ([]byte, error) {
		if fail.Load() {
			return nil, &fetch.Error{Kind: fetch.ErrTransport, DocumentID: src.DocumentID, Status: 503}
		}
		return []byte("%PDF-1.4"), nil
	})
	v := New(Options{Loader: loader, Engine: fakeEngine{pages: 4}})
	defer v.Close()

	err := v.Open(context.Background(), openReq("7"))
	if !errors.Is(err, fetch.ErrTransport) {
		t.Fatalf("Open error = %v", err)
	}
	st := v.State()
	if st.LoadState != Failed || !st.Retryable || !strings.Contains(st.Error, "503") {
		t.Fatalf("state = %+v", st)
	}

	// Failed is terminal for the same identifier until an explicit retry.
	fail.Store(false)
	if err := v.Open(context.Background(), openReq("7")); err != nil {
		t.Fatal(err)
	}
	if v.State().LoadState != Failed {
		t.Fatal("reopening a failed document should not reload")
	}

	if err := v.Retry(context.Background()); err != nil {
		t.Fatal(err)
	}
	st = v.State()
	if st.LoadState != Ready || st.TotalPages != 4 || st.Error != "" {
		t.Fatalf("state after retry = %+v", st)
	}
}

func TestViewer_CorruptDocument(t *testing.T) {
	v := New(Options{Loader: staticLoader([]byte("<html>")), Engine: fakeEngine{pages: 1}})
	defer v.Close()

	err := v.Open(context.Background(), openReq("bad"))
	if !errors.Is(err, render.ErrDecode) {
		t.Fatalf("Open error = %v", err)
	}
	st := v.State()
	if st.LoadState != Failed || st.Retryable || !strings.Contains(st.Error, "corrupted") {
		t.Fatalf("state = %+v", st)
	}
}

func TestViewer_CallerCancelReturnsToIdle(t *testing.T) {
	loader := funcLoader(func(ctx context.Context, src fetch.Source) ([]byte, error) {
		<-ctx.Done()
		return nil, &fetch.Error{Kind: fetch.ErrCancelled, DocumentID: src.DocumentID, Err: ctx.Err()}
	})
	v := New(Options{Loader: loader, Engine: fakeEngine{pages: 1}})
	defer v.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := v.Open(ctx, openReq("c"))
	if !fetch.IsCancelled(err) {
		t.Fatalf("Open error = %v", err)
	}
	if st := v.State(); st.LoadState != Idle || st.Error != "" {
		t.Fatalf("state = %+v", st)
	}
}

func TestViewer_CloseDiscardsInflightLoad(t *testing.T) {
	loader := newGateLoader()
	handles := NewHandleTable()
	v := New(Options{Loader: loader, Engine: fakeEngine{pages: 1}, Handles: handles})
	events := record(v)

	done := make(chan error, 1)
	go func() { done <- v.Open(context.Background(), openReq("z")) }()
	waitFor(t, events, isState("z", Loading))

	v.Close()
	loader.release("z", []byte("%PDF-1.4"), nil)
	if err := <-done; !errors.Is(err, ErrSuperseded) {
		t.Fatalf("Open error = %v", err)
	}
	if handles.Len() != 0 {
		t.Fatalf("outstanding handles = %d, want 0", handles.Len())
	}
	if err := v.Open(context.Background(), openReq("y")); !errors.Is(err, ErrClosed) {
		t.Fatalf("Open after Close = %v", err)
	}
}

func TestViewer_Navigation(t *testing.T) {
	v := openReady(t, 3)

	if p := v.Previous(); p != 1 {
		t.Errorf("Previous on first page = %d", p)
	}
	v.Next()
	v.Next()
	if p := v.Next(); p != 3 {
		t.Errorf("Next on last page = %d", p)
	}
	if _, err := v.GoToInput("2.5"); !errors.Is(err, ErrOutOfRangePage) {
		t.Errorf("GoToInput(2.5) error = %v", err)
	}
	if p, err := v.GoTo(2); err != nil || p != 2 {
		t.Errorf("GoTo(2) = %d, %v", p, err)
	}
	if _, err := v.GoTo(4); !errors.Is(err, ErrOutOfRangePage) {
		t.Errorf("GoTo(4) error = %v", err)
	}
	if v.State().CurrentPage != 2 {
		t.Errorf("current page = %d, want 2", v.State().CurrentPage)
	}
	if v.Key("ArrowLeft") != TurnPrevious || v.State().CurrentPage != 1 {
		t.Errorf("ArrowLeft did not go back")
	}
}

func TestViewer_NavigationBeforeReady(t *testing.T) {
	v := New(Options{Loader: staticLoader(nil), Engine: fakeEngine{}})
	defer v.Close()

	if p := v.Next(); p != 0 {
		t.Errorf("Next = %d, want 0", p)
	}
	if _, err := v.GoTo(1); !errors.Is(err, ErrOutOfRangePage) {
		t.Errorf("GoTo error = %v", err)
	}
	if res := v.Wheel(WheelEvent{DeltaY: 500, Viewport: fits}); res.Turn != TurnNone {
		t.Errorf("Wheel turned %v", res.Turn)
	}
	if _, _, err := v.Download(); !errors.Is(err, ErrNotReady) {
		t.Errorf("Download error = %v", err)
	}
}

func TestViewer_WheelTurnResetsScroll(t *testing.T) {
	v := openReady(t, 3)
	events := record(v)

	if res := v.Wheel(WheelEvent{DeltaY: 150, Viewport: fits}); res.Turn != TurnNext {
		t.Fatalf("Wheel = %v, want next", res.Turn)
	}
	ev := waitFor(t, events, func(ev Event) bool { return ev.Type == EventScroll })
	if ev.Scroll != ScrollToTop || ev.Page != 2 {
		t.Fatalf("scroll event = %+v, want top of page 2", ev)
	}
}

func TestViewer_PreviousTurnScrollsToBottom(t *testing.T) {
	v := New(Options{
		Loader:  staticLoader([]byte("%PDF-1.4")),
		Engine:  fakeEngine{pages: 3},
		Gesture: GestureConfig{SettleDelay: 5 * time.Millisecond},
	})
	defer v.Close()
	if err := v.Open(context.Background(), openReq("d")); err != nil {
		t.Fatal(err)
	}
	v.GoTo(3)
	events := record(v)

	if res := v.Wheel(WheelEvent{DeltaY: -150, Viewport: fits}); res.Turn != TurnPrevious {
		t.Fatalf("Wheel = %v, want previous", res.Turn)
	}
	ev := waitFor(t, events, func(ev Event) bool { return ev.Type == EventScroll })
	if ev.Scroll != ScrollToBottom || ev.Page != 2 {
		t.Fatalf("scroll event = %+v, want bottom of page 2", ev)
	}
}

func TestViewer_ScrollResetDroppedWhenSuperseded(t *testing.T) {
	v := New(Options{
		Loader:  staticLoader([]byte("%PDF-1.4")),
		Engine:  fakeEngine{pages: 3},
		Gesture: GestureConfig{SettleDelay: 20 * time.Millisecond},
	})
	if err := v.Open(context.Background(), openReq("s")); err != nil {
		t.Fatal(err)
	}
	events := record(v)

	v.Wheel(WheelEvent{DeltaY: 150, Viewport: fits})
	v.Open(context.Background(), openReq("other"))
	v.Close()

	deadline := time.After(60 * time.Millisecond)
	for {
		select {
		case ev := <-events:
			if ev.Type == EventScroll {
				t.Fatalf("unexpected scroll event %+v", ev)
			}
		case <-deadline:
			return
		}
	}
}

func TestViewer_Zoom(t *testing.T) {
	v := openReady(t, 1)

	for i := 0; i < 20; i++ {
		v.ZoomIn()
	}
	if s := v.State().Scale; s != MaxScale {
		t.Fatalf("scale = %v, want %v", s, MaxScale)
	}
	for i := 0; i < 20; i++ {
		v.ZoomOut()
	}
	if s := v.State().Scale; s != MinScale {
		t.Fatalf("scale = %v, want %v", s, MinScale)
	}
	if s := v.ZoomIn(); s != 0.75 {
		t.Fatalf("ZoomIn from min = %v, want 0.75", s)
	}
}

func TestViewer_FullscreenAndDownload(t *testing.T) {
	v := openReady(t, 2)

	if !v.ToggleFullscreen() || !v.State().Fullscreen {
		t.Fatal("expected fullscreen on")
	}
	v.SetFullscreen(false)
	if v.State().Fullscreen {
		t.Fatal("expected fullscreen off")
	}

	data, name, err := v.Download()
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "%PDF-1.4" || name != "doc-1.pdf" {
		t.Fatalf("Download = %q, %q", data, name)
	}

	v.Next()
	page, err := v.RenderPage(context.Background())
	if err != nil || string(page) != "page 2" {
		t.Fatalf("RenderPage = %q, %v", page, err)
	}
}

func TestViewer_Unsubscribe(t *testing.T) {
	v := openReady(t, 3)
	var n atomic.Int32
	unsubscribe := v.Subscribe(func(Event) { n.Add(1) })

	v.Next()
	unsubscribe()
	v.Next()
	if n.Load() != 1 {
		t.Fatalf("listener called %d times, want 1", n.Load())
	}
}

func TestViewer_EndToEndOverHTTP(t *testing.T) {
	payload := append([]byte("%PDF-1.7\n"), bytes.Repeat([]byte{'x'}, 12345-9)...)
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		if r.Header.Get("Authorization") != "Bearer secret" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Header().Set("Content-Type", "application/pdf")
		w.Write(payload)
	}))
	defer srv.Close()

	cache := store.NewMemoryStore()
	loader := fetch.NewLoader(fetch.NewHTTPFetcher(fetch.HTTPConfig{Client: srv.Client()}), cache, nil)
	engine := fakeEngine{pages: 5}
	req := OpenRequest{
		Source:   fetch.Source{DocumentID: "42", BaseURL: srv.URL + "/documents/"},
		Token:    "secret",
		UseCache: true,
	}

	v := New(Options{Loader: loader, Engine: engine})
	defer v.Close()
	events := record(v)
	if err := v.Open(context.Background(), req); err != nil {
		t.Fatal(err)
	}
	var seen []LoadState
	for len(seen) < 2 {
		seen = append(seen, (<-events).State.LoadState)
	}
	if seen[0] != Loading || seen[1] != Ready {
		t.Fatalf("transitions = %v, want [loading ready]", seen)
	}
	st := v.State()
	if st.TotalPages != 5 || st.CurrentPage != 1 || st.Origin != "network" {
		t.Fatalf("state = %+v", st)
	}
	data, _, _ := v.Download()
	if len(data) != 12345 {
		t.Fatalf("payload size = %d, want 12345", len(data))
	}

	loader.Wait()
	second := New(Options{Loader: loader, Engine: engine})
	defer second.Close()
	if err := second.Open(context.Background(), req); err != nil {
		t.Fatal(err)
	}
	if st := second.State(); st.Origin != "cache" || st.TotalPages != 5 {
		t.Fatalf("second state = %+v", st)
	}
	if hits.Load() != 1 {
		t.Fatalf("server hits = %d, want 1", hits.Load())
	}
}

func TestViewer_EndToEndWithoutCache(t *testing.T) {
	payload := append([]byte("%PDF-1.7\n"), bytes.Repeat([]byte{'x'}, 12345-9)...)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/pdf")
		w.Write(payload)
	}))
	defer srv.Close()

	loader := fetch.NewLoader(fetch.NewHTTPFetcher(fetch.HTTPConfig{Client: srv.Client()}), nil, nil)
	v := New(Options{Loader: loader, Engine: fakeEngine{pages: 5}})
	defer v.Close()
	if s := v.State(); s.LoadState != Idle {
		t.Fatalf("initial state = %v", s.LoadState)
	}

	req := OpenRequest{Source: fetch.Source{DocumentID: "42", BaseURL: srv.URL + "/"}, Token: "t"}
	if err := v.Open(context.Background(), req); err != nil {
		t.Fatal(err)
	}
	if st := v.State(); st.LoadState != Ready || st.CurrentPage != 1 {
		t.Fatalf("state = %+v", st)
	}

	want := []int{2, 3, 4, 5, 5, 5}
	for i, w := range want {
		if got := v.Next(); got != w {
			t.Fatalf("next #%d = %d, want %d", i+1, got, w)
		}
	}
}

func TestViewer_BeginOrderDecidesWinner(t *testing.T) {
	loader := newGateLoader()
	v := New(Options{Loader: loader, Engine: fakeEngine{pages: 2}})
	defer v.Close()

	waitA, err := v.Begin(context.Background(), openReq("A"))
	if err != nil {
		t.Fatal(err)
	}
	waitB, err := v.Begin(context.Background(), openReq("B"))
	if err != nil {
		t.Fatal(err)
	}

	// Run the loads in the opposite order to the Begin calls.
	loader.release("B", []byte("%PDF-B"), nil)
	if err := waitB(); err != nil {
		t.Fatal(err)
	}
	loader.release("A", []byte("%PDF-A"), nil)
	if err := waitA(); !errors.Is(err, ErrSuperseded) {
		t.Fatalf("A error = %v, want superseded", err)
	}
	if st := v.State(); st.DocumentID != "B" || st.LoadState != Ready {
		t.Fatalf("final state = %+v", st)
	}
}

func TestViewer_BeginRetryOnlyAfterFailure(t *testing.T) {
	v := openReady(t, 2)
	wait, err := v.BeginRetry(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if err := wait(); err != nil {
		t.Fatal(err)
	}
	if st := v.State(); st.LoadState != Ready || st.DocumentID != "doc-1" {
		t.Fatalf("state = %+v", st)
	}
}
