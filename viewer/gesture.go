package viewer

import (
	"math"
	"time"
)

// GestureConfig tunes how wheel input turns into page turns. The defaults
// were tuned for mouse wheels; trackpads with inertial scrolling may want
// different values.
type GestureConfig struct {
	DeltaThreshold      float64       // accumulated delta needed to turn a page
	PageChangeCooldown  time.Duration // minimum time between committed turns
	PauseThreshold      time.Duration // a gap this long resets the accumulator
	SettleDelay         time.Duration // wait before resetting scroll on the new page
	ScrollableTolerance float64       // overflow beyond this makes a page scrollable
	EdgeTolerance       float64       // distance from an edge still counted as at the edge
}

// DefaultGestureConfig returns the mouse-wheel defaults.
func DefaultGestureConfig() GestureConfig {
	return GestureConfig{
		DeltaThreshold:      100,
		PageChangeCooldown:  400 * time.Millisecond,
		PauseThreshold:      300 * time.Millisecond,
		SettleDelay:         50 * time.Millisecond,
		ScrollableTolerance: 10,
		EdgeTolerance:       5,
	}
}

// withDefaults fills zero fields from DefaultGestureConfig.
func (c GestureConfig) withDefaults() GestureConfig {
	d := DefaultGestureConfig()
	if c.DeltaThreshold <= 0 {
		c.DeltaThreshold = d.DeltaThreshold
	}
	if c.PageChangeCooldown <= 0 {
		c.PageChangeCooldown = d.PageChangeCooldown
	}
	if c.PauseThreshold <= 0 {
		c.PauseThreshold = d.PauseThreshold
	}
	if c.SettleDelay <= 0 {
		c.SettleDelay = d.SettleDelay
	}
	if c.ScrollableTolerance <= 0 {
		c.ScrollableTolerance = d.ScrollableTolerance
	}
	if c.EdgeTolerance <= 0 {
		c.EdgeTolerance = d.EdgeTolerance
	}
	return c
}

// Viewport describes the scroll extents of the page container.
type Viewport struct {
	ScrollTop    float64 `json:"scrollTop"`
	ScrollHeight float64 `json:"scrollHeight"`
	ClientHeight float64 `json:"clientHeight"`
}

// WheelEvent is one wheel or scroll tick.
type WheelEvent struct {
	DeltaY   float64  `json:"deltaY"`
	Viewport Viewport `json:"viewport"`
}

// Turn is a discrete page-turn command.
type Turn int

const (
	TurnNone Turn = iota
	TurnNext
	TurnPrevious
)

func (t Turn) String() string {
	switch t {
	case TurnNext:
		return "next"
	case TurnPrevious:
		return "previous"
	}
	return "none"
}

// GestureResult is the outcome of feeding one wheel event.
type GestureResult struct {
	Turn Turn
	// Intercept is true when the event was a paging candidate and the UI
	// should not apply it as ordinary in-page scrolling.
	Intercept bool
}

// GestureController disambiguates scrolling within a page from paging. It
// holds the accumulator and debounce timestamps for one viewer session and
// is not safe for concurrent use.
type GestureController struct {
	cfg            GestureConfig
	now            func() time.Time
	accumulated    float64
	lastEvent      time.Time
	lastPageChange time.Time
}

// NewGestureController creates a controller. now may be nil.
func NewGestureController(cfg GestureConfig, now func() time.Time) *GestureController {
	if now == nil {
		now = time.Now
	}
	return &GestureController{cfg: cfg.withDefaults(), now: now}
}

// Config returns the effective configuration.
func (g *GestureController) Config() GestureConfig { return g.cfg }

// Accumulated returns the unconsumed scroll delta.
func (g *GestureController) Accumulated() float64 { return g.accumulated }

// Reset clears the accumulator and timestamps, e.g. when a new document opens.
func (g *GestureController) Reset() {
	g.accumulated = 0
	g.lastEvent = time.Time{}
	g.lastPageChange = time.Time{}
}

// Wheel feeds one wheel event. totalPages of zero disables paging.
func (g *GestureController) Wheel(ev WheelEvent, totalPages int) GestureResult {
	if totalPages < 1 {
		return GestureResult{}
	}
	now := g.now()
	if !g.lastEvent.IsZero() && now.Sub(g.lastEvent) > g.cfg.PauseThreshold {
		g.accumulated = 0
	}
	g.lastEvent = now

	vp := ev.Viewport
	scrollable := vp.ScrollHeight-vp.ClientHeight > g.cfg.ScrollableTolerance
	atTop := vp.ScrollTop <= g.cfg.EdgeTolerance
	atBottom := vp.ScrollTop+vp.ClientHeight >= vp.ScrollHeight-g.cfg.EdgeTolerance

	switch {
	case !scrollable:
	case ev.DeltaY > 0 && atBottom:
	case ev.DeltaY < 0 && atTop:
	default:
		// Ordinary scrolling inside a long page.
		return GestureResult{}
	}

	g.accumulated += ev.DeltaY
	if math.Abs(g.accumulated) < g.cfg.DeltaThreshold {
		return GestureResult{Intercept: true}
	}

	turn := TurnNext
	if g.accumulated < 0 {
		turn = TurnPrevious
	}
	g.accumulated = 0
	if !g.lastPageChange.IsZero() && now.Sub(g.lastPageChange) < g.cfg.PageChangeCooldown {
		// Spikes inside the cooldown are dropped, not queued.
		return GestureResult{Intercept: true}
	}
	g.lastPageChange = now
	return GestureResult{Turn: turn, Intercept: true}
}

// Key maps a keyboard key to a turn. Keys bypass the accumulator.
func (g *GestureController) Key(key string) Turn {
	switch key {
	case "ArrowRight", "PageDown":
		return TurnNext
	case "ArrowLeft", "PageUp":
		return TurnPrevious
	}
	return TurnNone
}
