// Package viewer implements one document viewing session: loading a
// document through the cache and fetcher, decoding it, and turning button,
// keyboard, typed and wheel input into page navigation.
package viewer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"regexp"
	"sync"
	"time"

	"github.com/alimasry/go-doc-viewer/fetch"
	"github.com/alimasry/go-doc-viewer/render"
)

var (
	ErrClosed   = errors.New("viewer is closed")
	ErrNotReady = errors.New("document is not ready")
	// ErrSuperseded is returned by a load that lost to a newer Open or to Close.
	ErrSuperseded = fmt.Errorf("%w: superseded", fetch.ErrCancelled)
)

// Loader returns document bytes, consulting the cache when asked.
type Loader interface {
	Load(ctx context.Context, src fetch.Source, token string, useCache bool) ([]byte, fetch.Origin, error)
}

// Options configures a Viewer.
type Options struct {
	Loader  Loader
	Engine  render.Engine
	Handles Handles // defaults to a private HandleTable
	Gesture GestureConfig
	Now     func() time.Time
	Logger  *slog.Logger
}

// OpenRequest names the document to open and how to fetch it.
type OpenRequest struct {
	Source   fetch.Source
	Token    string
	UseCache bool
}

// Viewer owns one viewing session. Methods are safe for concurrent use;
// state changes are delivered to subscribers in the order they happen.
// Subscribers must not call back into the Viewer synchronously.
type Viewer struct {
	loader  Loader
	engine  render.Engine
	handles Handles
	logger  *slog.Logger
	gesture *GestureController

	mu     sync.Mutex
	emitMu sync.Mutex
	state  State
	nav    Navigator
	req    OpenRequest
	gen    uint64
	cancel context.CancelFunc
	handle string
	data   []byte
	doc    render.Document
	closed bool

	listeners    map[int]func(Event)
	nextListener int
	timers       map[*time.Timer]struct{}
}

// New creates an idle Viewer.
func New(opts Options) *Viewer {
	handles := opts.Handles
	if handles == nil {
		handles = NewHandleTable()
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Viewer{
		loader:    opts.Loader,
		engine:    opts.Engine,
		handles:   handles,
		logger:    logger.With("component", "viewer"),
		gesture:   NewGestureController(opts.Gesture, opts.Now),
		state:     State{Scale: baseScale},
		listeners: make(map[int]func(Event)),
		timers:    make(map[*time.Timer]struct{}),
	}
}

// Subscribe registers fn for events and returns a function that removes it.
func (v *Viewer) Subscribe(fn func(Event)) (unsubscribe func()) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.closed {
		return func() {}
	}
	id := v.nextListener
	v.nextListener++
	v.listeners[id] = fn
	return func() {
		v.mu.Lock()
		delete(v.listeners, id)
		v.mu.Unlock()
	}
}

// State returns a snapshot of the session.
func (v *Viewer) State() State {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.state
}

// Open loads the document in req and blocks until it is ready, fails, or is
// superseded. Opening a different document cancels any load in flight.
// Opening the document that is already loading, ready or failed is a no-op;
// use Retry after a failure.
func (v *Viewer) Open(ctx context.Context, req OpenRequest) error {
	wait, err := v.Begin(ctx, req)
	if err != nil {
		return err
	}
	return wait()
}

// Begin supersedes the current session with req and returns a function that
// runs the load. The supersede happens before Begin returns, so callers that
// hand wait to another goroutine still get last-call-wins ordering.
func (v *Viewer) Begin(ctx context.Context, req OpenRequest) (wait func() error, err error) {
	if req.Source.DocumentID == "" {
		return nil, fmt.Errorf("document id is required")
	}
	v.mu.Lock()
	if v.closed {
		v.mu.Unlock()
		return nil, ErrClosed
	}
	if req.Source.DocumentID == v.state.DocumentID && v.state.LoadState != Idle {
		v.mu.Unlock()
		return noLoad, nil
	}
	gen, loadCtx := v.beginLocked(ctx, req)
	v.unlockAndEmit(v.stateEventLocked())
	return func() error { return v.load(loadCtx, gen, req) }, nil
}

// Retry reloads the current document after a failure.
func (v *Viewer) Retry(ctx context.Context) error {
	wait, err := v.BeginRetry(ctx)
	if err != nil {
		return err
	}
	return wait()
}

// BeginRetry is the Begin counterpart of Retry.
func (v *Viewer) BeginRetry(ctx context.Context) (wait func() error, err error) {
	v.mu.Lock()
	if v.closed {
		v.mu.Unlock()
		return nil, ErrClosed
	}
	if v.state.LoadState != Failed {
		v.mu.Unlock()
		return noLoad, nil
	}
	req := v.req
	gen, loadCtx := v.beginLocked(ctx, req)
	v.unlockAndEmit(v.stateEventLocked())
	return func() error { return v.load(loadCtx, gen, req) }, nil
}

func noLoad() error { return nil }

// beginLocked supersedes the current session and starts a new generation.
func (v *Viewer) beginLocked(ctx context.Context, req OpenRequest) (uint64, context.Context) {
	if v.cancel != nil {
		v.cancel()
		v.cancel = nil
	}
	v.releaseLocked()
	v.stopTimersLocked()
	v.gen++
	loadCtx, cancel := context.WithCancel(ctx)
	v.cancel = cancel
	v.req = req
	v.nav.Reset(0)
	v.gesture.Reset()
	v.state = State{
		DocumentID: req.Source.DocumentID,
		LoadState:  Loading,
		Scale:      baseScale,
		Fullscreen: v.state.Fullscreen,
	}
	return v.gen, loadCtx
}

func (v *Viewer) load(ctx context.Context, gen uint64, req OpenRequest) error {
	logger := v.logger.With("documentId", req.Source.DocumentID)

	data, origin, err := v.loader.Load(ctx, req.Source, req.Token, req.UseCache)
	var doc render.Document
	if err == nil {
		doc, err = v.engine.Decode(ctx, data)
	}

	v.mu.Lock()
	if v.closed || gen != v.gen {
		v.mu.Unlock()
		logger.Debug("discarding result of superseded load")
		return ErrSuperseded
	}
	v.cancel()
	v.cancel = nil

	if err != nil {
		if fetch.IsCancelled(err) || errors.Is(err, context.Canceled) {
			// Cancelled by the caller, not by a newer document.
			v.state.LoadState = Idle
			v.unlockAndEmit(v.stateEventLocked())
			return err
		}
		msg, retryable := describeError(err)
		v.state.LoadState = Failed
		v.state.Error = msg
		v.state.Retryable = retryable
		logger.Warn("document load failed", "error", err, "retryable", retryable)
		v.unlockAndEmit(v.stateEventLocked())
		return err
	}

	v.handle = v.handles.Acquire(req.Source.DocumentID, data, doc)
	v.data = data
	v.doc = doc
	v.nav.Reset(doc.PageCount())
	v.state.LoadState = Ready
	v.state.TotalPages = doc.PageCount()
	v.state.CurrentPage = v.nav.Current()
	v.state.Handle = v.handle
	v.state.Origin = origin.String()
	logger.Info("document ready", "pages", doc.PageCount(), "bytes", len(data), "origin", origin.String())
	v.unlockAndEmit(v.stateEventLocked())
	return nil
}

// Next advances one page and returns the current page.
func (v *Viewer) Next() int { return v.applyTurn(TurnNext) }

// Previous goes back one page and returns the current page.
func (v *Viewer) Previous() int { return v.applyTurn(TurnPrevious) }

func (v *Viewer) applyTurn(t Turn) int {
	v.mu.Lock()
	if v.state.LoadState != Ready {
		v.mu.Unlock()
		return 0
	}
	page, changed := v.turnLocked(t)
	if !changed {
		v.mu.Unlock()
		return page
	}
	v.unlockAndEmit(v.stateEventLocked())
	return page
}

// GoTo jumps to page n. Out-of-range requests return ErrOutOfRangePage and
// change nothing.
func (v *Viewer) GoTo(n int) (int, error) {
	return v.jump(func(nav *Navigator) (int, error) { return nav.GoTo(n) })
}

// GoToInput jumps to the page typed by the user.
func (v *Viewer) GoToInput(s string) (int, error) {
	return v.jump(func(nav *Navigator) (int, error) { return nav.GoToInput(s) })
}

func (v *Viewer) jump(fn func(*Navigator) (int, error)) (int, error) {
	v.mu.Lock()
	if v.state.LoadState != Ready {
		v.mu.Unlock()
		return 0, ErrOutOfRangePage
	}
	before := v.nav.Current()
	page, err := fn(&v.nav)
	if err != nil || page == before {
		v.mu.Unlock()
		return page, err
	}
	v.state.CurrentPage = page
	v.unlockAndEmit(v.stateEventLocked())
	return page, nil
}

// Wheel feeds a wheel event through the gesture controller. A committed turn
// is followed, after the settle delay, by an EventScroll that places the new
// page at its top (advance) or bottom (retreat).
func (v *Viewer) Wheel(ev WheelEvent) GestureResult {
	v.mu.Lock()
	if v.state.LoadState != Ready {
		v.mu.Unlock()
		return GestureResult{}
	}
	res := v.gesture.Wheel(ev, v.nav.Total())
	if res.Turn == TurnNone {
		v.mu.Unlock()
		return res
	}
	page, changed := v.turnLocked(res.Turn)
	if !changed {
		v.mu.Unlock()
		return res
	}
	pos := ScrollToTop
	if res.Turn == TurnPrevious {
		pos = ScrollToBottom
	}
	v.scheduleScrollLocked(pos, page)
	v.unlockAndEmit(v.stateEventLocked())
	return res
}

// Key handles a keyboard key and returns the resulting turn.
func (v *Viewer) Key(key string) Turn {
	t := v.gesture.Key(key)
	if t != TurnNone {
		v.applyTurn(t)
	}
	return t
}

func (v *Viewer) turnLocked(t Turn) (page int, changed bool) {
	before := v.nav.Current()
	switch t {
	case TurnNext:
		page = v.nav.Next()
	case TurnPrevious:
		page = v.nav.Previous()
	default:
		page = before
	}
	v.state.CurrentPage = page
	return page, page != before
}

func (v *Viewer) scheduleScrollLocked(pos ScrollPosition, page int) {
	gen := v.gen
	var timer *time.Timer
	timer = time.AfterFunc(v.gesture.Config().SettleDelay, func() {
		v.mu.Lock()
		delete(v.timers, timer)
		if v.closed || v.gen != gen || v.nav.Current() != page {
			v.mu.Unlock()
			return
		}
		v.unlockAndEmit(Event{Type: EventScroll, Scroll: pos, Page: page}, v.listenersLocked()...)
	})
	v.timers[timer] = struct{}{}
}

// ZoomIn increases the scale by ZoomStep, up to MaxScale.
func (v *Viewer) ZoomIn() float64 { return v.zoom(ZoomStep) }

// ZoomOut decreases the scale by ZoomStep, down to MinScale.
func (v *Viewer) ZoomOut() float64 { return v.zoom(-ZoomStep) }

func (v *Viewer) zoom(step float64) float64 {
	v.mu.Lock()
	scale := math.Round((v.state.Scale+step)*100) / 100
	scale = min(max(scale, MinScale), MaxScale)
	if scale == v.state.Scale {
		v.mu.Unlock()
		return scale
	}
	v.state.Scale = scale
	v.unlockAndEmit(v.stateEventLocked())
	return scale
}

// SetFullscreen records the window's fullscreen state as reported by the UI.
func (v *Viewer) SetFullscreen(on bool) {
	v.mu.Lock()
	if v.state.Fullscreen == on {
		v.mu.Unlock()
		return
	}
	v.state.Fullscreen = on
	v.unlockAndEmit(v.stateEventLocked())
}

// ToggleFullscreen flips the fullscreen flag and returns the new value.
func (v *Viewer) ToggleFullscreen() bool {
	v.mu.Lock()
	on := !v.state.Fullscreen
	v.mu.Unlock()
	v.SetFullscreen(on)
	return on
}

var unsafeFilename = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// DownloadName is the filename offered when saving documentID.
func DownloadName(documentID string) string {
	return unsafeFilename.ReplaceAllString(documentID, "_") + ".pdf"
}

// Download returns the loaded payload and a filename for saving it.
func (v *Viewer) Download() ([]byte, string, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.state.LoadState != Ready {
		return nil, "", ErrNotReady
	}
	return v.data, DownloadName(v.state.DocumentID), nil
}

// RenderPage returns the current page as a standalone document.
func (v *Viewer) RenderPage(ctx context.Context) ([]byte, error) {
	v.mu.Lock()
	if v.state.LoadState != Ready {
		v.mu.Unlock()
		return nil, ErrNotReady
	}
	doc, page := v.doc, v.nav.Current()
	v.mu.Unlock()
	return doc.Page(ctx, page)
}

// Close cancels any load in flight, releases the document handle, stops
// pending scroll timers and drops all subscribers. It is idempotent.
func (v *Viewer) Close() {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.closed {
		return
	}
	v.closed = true
	if v.cancel != nil {
		v.cancel()
		v.cancel = nil
	}
	v.releaseLocked()
	v.stopTimersLocked()
	v.listeners = make(map[int]func(Event))
	v.state = State{Scale: baseScale}
}

func (v *Viewer) releaseLocked() {
	if v.handle != "" {
		v.handles.Release(v.handle)
		v.handle = ""
	}
	v.data = nil
	v.doc = nil
}

func (v *Viewer) stopTimersLocked() {
	for t := range v.timers {
		t.Stop()
		delete(v.timers, t)
	}
}

func (v *Viewer) listenersLocked() []func(Event) {
	out := make([]func(Event), 0, len(v.listeners))
	for _, fn := range v.listeners {
		out = append(out, fn)
	}
	return out
}

func (v *Viewer) stateEventLocked() Event {
	return Event{Type: EventState, State: v.state}
}

// unlockAndEmit hands off from mu to emitMu so events reach subscribers in
// mutation order, then delivers ev outside mu.
func (v *Viewer) unlockAndEmit(ev Event, listeners ...func(Event)) {
	if listeners == nil {
		listeners = v.listenersLocked()
	}
	v.emitMu.Lock()
	v.mu.Unlock()
	defer v.emitMu.Unlock()
	for _, fn := range listeners {
		fn(ev)
	}
}
