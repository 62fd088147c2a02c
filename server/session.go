package server

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/alimasry/go-doc-viewer/fetch"
	"github.com/alimasry/go-doc-viewer/viewer"
)

// Session bridges one client to one viewer. Client messages are serialized
// through a single goroutine; loads run in their own goroutines so a newer
// open can supersede one in flight.
type Session struct {
	client  *Client
	viewer  *viewer.Viewer
	baseURL string
	sources *fetch.AllowList
	logger  *slog.Logger

	ctx         context.Context
	cancel      context.CancelFunc
	unsubscribe func()
	loads       sync.WaitGroup

	incoming chan ClientMessage
	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}
}

func newSession(c *Client, v *viewer.Viewer, baseURL string, sources *fetch.AllowList, logger *slog.Logger) *Session {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		client:   c,
		viewer:   v,
		baseURL:  baseURL,
		sources:  sources,
		logger:   logger,
		ctx:      ctx,
		cancel:   cancel,
		incoming: make(chan ClientMessage, 64),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	s.unsubscribe = v.Subscribe(func(ev viewer.Event) {
		c.sendMsg(eventMessage(ev))
	})
	return s
}

// Run is the session's main loop.
func (s *Session) Run() {
	defer s.shutdown()
	for {
		select {
		case msg := <-s.incoming:
			if !s.handle(msg) {
				return
			}
		case <-s.stop:
			return
		}
	}
}

// Stop ends the session and waits for it to shut down.
func (s *Session) Stop() {
	s.stopOnce.Do(func() { close(s.stop) })
	<-s.done
}

func (s *Session) shutdown() {
	s.unsubscribe()
	s.cancel()
	s.viewer.Close()
	s.loads.Wait()

	s.client.mu.Lock()
	s.client.session = nil
	s.client.mu.Unlock()
	s.client.closeSend()
	close(s.done)
}

// handle applies one client message. It returns false when the session
// should end.
func (s *Session) handle(msg ClientMessage) bool {
	switch msg.Type {
	case MsgOpen:
		s.handleOpen(msg)
	case MsgRetry:
		wait, err := s.viewer.BeginRetry(s.ctx)
		if err != nil {
			s.logger.Debug("retry rejected", "error", err)
			return true
		}
		s.goLoad(wait)
	case MsgWheel:
		if msg.Wheel == nil {
			s.client.sendError("wheel message requires wheel data")
			return true
		}
		s.viewer.Wheel(*msg.Wheel)
	case MsgKey:
		s.viewer.Key(msg.Key)
	case MsgNext:
		s.viewer.Next()
	case MsgPrev:
		s.viewer.Previous()
	case MsgGoto:
		if _, err := s.viewer.GoToInput(msg.Page); err != nil {
			// No alert; the state push lets the UI restore its page input.
			s.client.sendMsg(stateMessage(s.viewer.State()))
		}
	case MsgZoom:
		switch msg.Direction {
		case ZoomIn:
			s.viewer.ZoomIn()
		case ZoomOut:
			s.viewer.ZoomOut()
		default:
			s.client.sendError("unknown zoom direction: " + msg.Direction)
		}
	case MsgFullscreen:
		if msg.Fullscreen == nil {
			s.viewer.ToggleFullscreen()
		} else {
			s.viewer.SetFullscreen(*msg.Fullscreen)
		}
	case MsgClose:
		return false
	default:
		s.client.sendError("unknown message type: " + msg.Type)
	}
	return true
}

func (s *Session) handleOpen(msg ClientMessage) {
	if msg.DocID == "" {
		s.client.sendError("open requires docId")
		return
	}
	if st := s.viewer.State(); st.DocumentID == msg.DocID && st.LoadState != viewer.Idle {
		s.client.sendMsg(stateMessage(st))
		return
	}
	useCache := true
	if msg.UseCache != nil {
		useCache = *msg.UseCache
	}
	src := fetch.Source{DocumentID: msg.DocID, URL: msg.URL, BaseURL: s.baseURL}
	target, err := src.Resolve()
	if err != nil {
		s.client.sendError(err.Error())
		return
	}
	if !s.sources.Permits(target) {
		s.logger.Warn("rejected document source", "documentId", msg.DocID, "url", target)
		s.client.sendError("document source is not allowed")
		return
	}
	req := viewer.OpenRequest{
		Source:   src,
		Token:    msg.Token,
		UseCache: useCache,
	}
	// Begin runs here so supersede order follows message order.
	wait, err := s.viewer.Begin(s.ctx, req)
	if err != nil {
		s.logger.Debug("open rejected", "error", err)
		return
	}
	s.goLoad(wait)
}

func (s *Session) goLoad(wait func() error) {
	s.loads.Add(1)
	go func() {
		defer s.loads.Done()
		err := wait()
		switch {
		case err == nil, errors.Is(err, viewer.ErrSuperseded), errors.Is(err, viewer.ErrClosed):
		case fetch.IsCancelled(err) || errors.Is(err, context.Canceled):
			s.logger.Debug("load cancelled", "error", err)
		default:
			// Failures reach the client through the state push.
			s.logger.Debug("load failed", "error", err)
		}
	}()
}
