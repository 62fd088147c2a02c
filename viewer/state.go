package viewer

import (
	"errors"
	"fmt"

	"github.com/alimasry/go-doc-viewer/fetch"
	"github.com/alimasry/go-doc-viewer/render"
)

// LoadState is the lifecycle of the document open in a viewer.
type LoadState int

const (
	Idle LoadState = iota
	Loading
	Ready
	Failed
)

func (s LoadState) String() string {
	switch s {
	case Loading:
		return "loading"
	case Ready:
		return "ready"
	case Failed:
		return "failed"
	}
	return "idle"
}

func (s LoadState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *LoadState) UnmarshalText(text []byte) error {
	for _, ls := range []LoadState{Idle, Loading, Ready, Failed} {
		if ls.String() == string(text) {
			*s = ls
			return nil
		}
	}
	return fmt.Errorf("unknown load state %q", text)
}

// Zoom limits.
const (
	MinScale  = 0.5
	MaxScale  = 3.0
	ZoomStep  = 0.25
	baseScale = 1.0
)

// State is a snapshot of one viewer session. CurrentPage is only meaningful
// when LoadState is Ready.
type State struct {
	DocumentID  string    `json:"documentId"`
	LoadState   LoadState `json:"loadState"`
	TotalPages  int       `json:"totalPages"`
	CurrentPage int       `json:"currentPage"`
	Scale       float64   `json:"scale"`
	Fullscreen  bool      `json:"fullscreen"`
	Handle      string    `json:"handle,omitempty"`
	Origin      string    `json:"origin,omitempty"`
	Error       string    `json:"error,omitempty"`
	Retryable   bool      `json:"retryable,omitempty"`
}

// EventType distinguishes viewer events.
type EventType int

const (
	// EventState carries a new State snapshot.
	EventState EventType = iota
	// EventScroll asks the UI to move the page container to Scroll.
	EventScroll
)

// ScrollPosition is where the UI should place the page after a gesture turn.
type ScrollPosition int

const (
	ScrollToTop ScrollPosition = iota
	ScrollToBottom
)

func (p ScrollPosition) String() string {
	if p == ScrollToBottom {
		return "bottom"
	}
	return "top"
}

// Event is delivered to subscribers.
type Event struct {
	Type   EventType
	State  State
	Scroll ScrollPosition
	Page   int
}

// describeError maps a load failure to a user-facing message.
func describeError(err error) (msg string, retryable bool) {
	switch {
	case errors.Is(err, render.ErrDecode):
		return "Failed to load PDF. The document may be corrupted.", false
	case errors.Is(err, fetch.ErrTransport):
		var fe *fetch.Error
		if errors.As(err, &fe) && fe.Status != 0 {
			return fmt.Sprintf("Failed to load PDF (server responded %d). Please try again.", fe.Status), true
		}
		return "Failed to load PDF. Check your connection and try again.", true
	default:
		return "Failed to load PDF.", false
	}
}
