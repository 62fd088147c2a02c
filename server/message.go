package server

import (
	"encoding/json"

	"github.com/alimasry/go-doc-viewer/viewer"
)

// Message types exchanged over WebSocket.
const (
	// Client to server.
	MsgOpen       = "open"
	MsgWheel      = "wheel"
	MsgKey        = "key"
	MsgGoto       = "goto"
	MsgNext       = "next"
	MsgPrev       = "prev"
	MsgZoom       = "zoom"
	MsgFullscreen = "fullscreen"
	MsgRetry      = "retry"
	MsgClose      = "close"

	// Server to client.
	MsgState  = "state"
	MsgScroll = "scroll"
	MsgError  = "error"
)

// Zoom directions.
const (
	ZoomIn  = "in"
	ZoomOut = "out"
)

// ClientMessage is a message from client to server.
type ClientMessage struct {
	Type       string             `json:"type"`
	DocID      string             `json:"docId,omitempty"`
	URL        string             `json:"url,omitempty"`
	Token      string             `json:"token,omitempty"`
	UseCache   *bool              `json:"useCache,omitempty"` // defaults to true
	Wheel      *viewer.WheelEvent `json:"wheel,omitempty"`
	Key        string             `json:"key,omitempty"`
	Page       string             `json:"page,omitempty"` // raw page input
	Direction  string             `json:"direction,omitempty"`
	Fullscreen *bool              `json:"fullscreen,omitempty"` // nil toggles
}

// ServerMessage is a message from server to client.
type ServerMessage struct {
	Type    string        `json:"type"`
	State   *viewer.State `json:"state,omitempty"`
	Scroll  string        `json:"scroll,omitempty"`
	Page    int           `json:"page,omitempty"`
	Message string        `json:"message,omitempty"`
}

// Encode serializes a ServerMessage to JSON bytes.
func (m ServerMessage) Encode() []byte {
	b, _ := json.Marshal(m)
	return b
}

func stateMessage(st viewer.State) ServerMessage {
	return ServerMessage{Type: MsgState, State: &st}
}

func eventMessage(ev viewer.Event) ServerMessage {
	if ev.Type == viewer.EventScroll {
		return ServerMessage{Type: MsgScroll, Scroll: ev.Scroll.String(), Page: ev.Page}
	}
	return stateMessage(ev.State)
}
