// Package saver controls the display server's screensaver on behalf of the
// adapter: either activation is merely reported (notify mode, so the remote
// side can decide what to do) or the screensaver is disabled outright while
// the adapter is open.
package saver

import (
	"log/slog"

	"go.klb.dev/weft/internal/display"
)

// Display is the slice of the display backend the controller needs.
type Display interface {
	SaverSetNotify(w display.Window)
	SaverEnable()
	SaverDisable()
	SaverActivate(on bool)
}

type mode int

const (
	modeClosed mode = iota
	modeNotify
	modeDisabled
)

// Controller is a small state machine over the backend's screensaver
// primitives. It never blocks; callers serialize access.
type Controller struct {
	d      Display
	window display.Window
	mode   mode
}

// New returns a closed Controller bound to the adapter window.
func New(d Display, window display.Window) *Controller {
	return &Controller{d: d, window: window}
}

// Open arms the controller. With notify set, screensaver activation becomes
// an advisory event delivered to the adapter window instead of being
// suppressed; otherwise the screensaver is disabled outright.
func (c *Controller) Open(notify bool) {
	if notify {
		c.d.SaverSetNotify(c.window)
		c.mode = modeNotify
		slog.Debug("screensaver notify mode armed")
		return
	}
	c.d.SaverDisable()
	c.mode = modeDisabled
	slog.Debug("screensaver disabled")
}

// Close reverses whichever mode Open armed. No-op when closed.
func (c *Controller) Close() {
	switch c.mode {
	case modeNotify:
		c.d.SaverSetNotify(display.None)
	case modeDisabled:
		c.d.SaverEnable()
	}
	c.mode = modeClosed
}

// SetActive forces the screensaver on or off.
func (c *Controller) SetActive(on bool) {
	c.d.SaverActivate(on)
}

// OnPreDispatch lets the controller observe an event before normal
// dispatch. Advisory only: it never consumes the event.
func (c *Controller) OnPreDispatch(ev display.Event) {
	if sm, ok := ev.(display.SaverMessage); ok && c.mode == modeNotify {
		slog.Debug("screensaver state change", "active", sm.Active)
	}
}
