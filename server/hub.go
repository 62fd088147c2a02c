package server

import (
	"log/slog"
	"sync"

	"github.com/alimasry/go-doc-viewer/fetch"
	"github.com/alimasry/go-doc-viewer/render"
	"github.com/alimasry/go-doc-viewer/viewer"
)

// HubConfig holds the dependencies shared by every viewer session.
type HubConfig struct {
	Loader        viewer.Loader
	Engine        render.Engine
	Handles       *viewer.HandleTable
	Gesture       viewer.GestureConfig
	SourceBaseURL string // prefix for documents opened by id only
	// Sources limits which resolved URLs may be fetched. When nil it is
	// built from SourceBaseURL alone.
	Sources *fetch.AllowList
	Logger  *slog.Logger
}

// Hub gives each connected client its own viewer session and tears the
// session down when the client leaves.
type Hub struct {
	cfg     HubConfig
	handles *viewer.HandleTable
	logger  *slog.Logger

	mu       sync.RWMutex
	sessions map[string]*Session

	leave chan *Client
}

func NewHub(cfg HubConfig) *Hub {
	if cfg.Handles == nil {
		cfg.Handles = viewer.NewHandleTable()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Sources == nil {
		sources, err := fetch.NewAllowList(cfg.SourceBaseURL)
		if err != nil {
			cfg.Logger.Warn("invalid source base url, no sources allowed", "error", err)
			sources = &fetch.AllowList{}
		}
		cfg.Sources = sources
	}
	return &Hub{
		cfg:      cfg,
		handles:  cfg.Handles,
		logger:   cfg.Logger.With("component", "hub"),
		sessions: make(map[string]*Session),
		leave:    make(chan *Client, 64),
	}
}

// Run is the hub's main loop.
func (h *Hub) Run() {
	for c := range h.leave {
		h.handleLeave(c)
	}
}

// join starts a session for c.
func (h *Hub) join(c *Client) *Session {
	logger := h.cfg.Logger.With("clientId", c.ID)
	v := viewer.New(viewer.Options{
		Loader:  h.cfg.Loader,
		Engine:  h.cfg.Engine,
		Handles: h.handles,
		Gesture: h.cfg.Gesture,
		Logger:  logger,
	})
	s := newSession(c, v, h.cfg.SourceBaseURL, h.cfg.Sources, logger)

	h.mu.Lock()
	h.sessions[c.ID] = s
	h.mu.Unlock()

	c.mu.Lock()
	c.session = s
	c.mu.Unlock()

	go s.Run()
	h.logger.Debug("client joined", "clientId", c.ID)
	return s
}

func (h *Hub) handleLeave(c *Client) {
	h.mu.Lock()
	s, ok := h.sessions[c.ID]
	delete(h.sessions, c.ID)
	h.mu.Unlock()
	if !ok {
		return
	}
	s.Stop()
	h.logger.Debug("client left", "clientId", c.ID)
}

// GetSession returns the session for a client, if active.
func (h *Hub) GetSession(clientID string) *Session {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.sessions[clientID]
}

// SessionCount returns the number of active sessions.
func (h *Hub) SessionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions)
}

// Handles returns the table that resolves blob handles.
func (h *Hub) Handles() *viewer.HandleTable { return h.handles }
