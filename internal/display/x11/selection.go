package x11

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jezek/xgb/xproto"

	"go.klb.dev/weft/internal/display"
)

// fetchMax is the longest selection payload we will pull in one
// GetProperty round trip, in 32-bit units (16 MiB of data).
const fetchMax = 1 << 22

// OwnSelection asserts ownership of sel for owner at time t and reports
// whether the server granted it. The server silently refuses grabs with a
// stale timestamp, so the result must be read back rather than assumed.
func (c *Conn) OwnSelection(sel display.Atom, owner display.Window, t display.Timestamp) bool {
	err := xproto.SetSelectionOwnerChecked(c.x, xproto.Window(owner),
		xproto.Atom(sel), xproto.Timestamp(t)).Check()
	if err != nil {
		slog.Debug("x11 set selection owner failed", "selection", uint32(sel), "err", err)
		return false
	}
	reply, err := xproto.GetSelectionOwner(c.x, xproto.Atom(sel)).Reply()
	if err != nil {
		return false
	}
	return reply.Owner == xproto.Window(owner)
}

// ClearSelection relinquishes ownership of sel.
func (c *Conn) ClearSelection(sel display.Atom, t display.Timestamp) {
	xproto.SetSelectionOwner(c.x, 0, xproto.Atom(sel), xproto.Timestamp(t))
}

// FetchSelection asks the current owner of sel to convert its contents to
// target and returns the resulting bytes. Large transfers streamed via the
// INCR protocol are reassembled before returning. Calls are serialized:
// one conversion is in flight at a time.
func (c *Conn) FetchSelection(sel, target display.Atom, t display.Timestamp) ([]byte, error) {
	c.fetchMu.Lock()
	defer c.fetchMu.Unlock()

	c.fetchWait.Store(true)
	defer c.fetchWait.Store(false)
	select {
	case <-c.fetchPropCh:
	default:
	}
	select {
	case <-c.fetchDataCh:
	default:
	}

	err := xproto.ConvertSelectionChecked(c.x, c.window, xproto.Atom(sel),
		xproto.Atom(target), c.atomFetch, xproto.Timestamp(t)).Check()
	if err != nil {
		return nil, fmt.Errorf("x11: convert selection: %w", err)
	}

	var prop xproto.Atom
	select {
	case prop = <-c.fetchPropCh:
	case <-time.After(roundTripTimeout):
		return nil, errors.New("x11: selection owner did not respond")
	case <-c.done:
		return nil, errors.New("x11: connection closed")
	}
	if prop == 0 {
		return nil, errors.New("x11: selection conversion refused")
	}

	reply, err := xproto.GetProperty(c.x, true, c.window, prop,
		xproto.GetPropertyTypeAny, 0, fetchMax).Reply()
	if err != nil {
		return nil, fmt.Errorf("x11: read selection property: %w", err)
	}
	if reply.Type != c.atomIncr {
		return reply.Value, nil
	}

	// INCR: deleting the initial property told the owner to start; each
	// chunk arrives as a new value on the same property and is acknowledged
	// by the delete in our GetProperty. A zero-length chunk ends the
	// transfer.
	var buf []byte
	for {
		select {
		case <-c.fetchDataCh:
		case <-time.After(roundTripTimeout):
			return nil, errors.New("x11: incremental transfer stalled")
		case <-c.done:
			return nil, errors.New("x11: connection closed")
		}
		chunk, err := xproto.GetProperty(c.x, true, c.window, prop,
			xproto.GetPropertyTypeAny, 0, fetchMax).Reply()
		if err != nil {
			return nil, fmt.Errorf("x11: read incremental chunk: %w", err)
		}
		if len(chunk.Value) == 0 {
			return buf, nil
		}
		buf = append(buf, chunk.Value...)
	}
}

// WriteProperty replaces prop on w with data of the given type and format.
func (c *Conn) WriteProperty(w display.Window, prop, typ display.Atom, format byte, data []byte) error {
	units := uint32(len(data))
	switch format {
	case 16:
		units /= 2
	case 32:
		units /= 4
	}
	err := xproto.ChangePropertyChecked(c.x, xproto.PropModeReplace,
		xproto.Window(w), xproto.Atom(prop), xproto.Atom(typ),
		format, units, data).Check()
	if err != nil {
		return fmt.Errorf("x11: write property: %w", err)
	}
	return nil
}

// DeleteProperty removes prop from w.
func (c *Conn) DeleteProperty(w display.Window, prop display.Atom) {
	xproto.DeleteProperty(c.x, xproto.Window(w), xproto.Atom(prop))
}

// NotifySelection sends a SelectionNotify to requestor. A None property
// tells the requestor the conversion was refused.
func (c *Conn) NotifySelection(requestor display.Window, sel, target, prop display.Atom, t display.Timestamp) error {
	ev := xproto.SelectionNotifyEvent{
		Time:      xproto.Timestamp(t),
		Requestor: xproto.Window(requestor),
		Selection: xproto.Atom(sel),
		Target:    xproto.Atom(target),
		Property:  xproto.Atom(prop),
	}
	err := xproto.SendEventChecked(c.x, false, xproto.Window(requestor),
		xproto.EventMaskNoEvent, string(ev.Bytes())).Check()
	if err != nil {
		return fmt.Errorf("x11: notify selection: %w", err)
	}
	return nil
}

// RefreshMapping re-reads the keyboard mapping after a MappingNotify so
// later key handling sees the new table.
func (c *Conn) RefreshMapping() {
	min := c.setup.MinKeycode
	max := c.setup.MaxKeycode
	_, err := xproto.GetKeyboardMapping(c.x, min, byte(max-min+1)).Reply()
	if err != nil {
		slog.Debug("x11 keyboard mapping refresh failed", "err", err)
	}
}

// PointerPos reports the pointer position on the root window.
func (c *Conn) PointerPos() (x, y int, ok bool) {
	reply, err := xproto.QueryPointer(c.x, c.screen.Root).Reply()
	if err != nil {
		return 0, 0, false
	}
	return int(reply.RootX), int(reply.RootY), true
}

// ScreenSize reports the root window dimensions recorded at open.
func (c *Conn) ScreenSize() (w, h int) {
	return c.width, c.height
}

// BlankCursor returns the invisible cursor created at open.
func (c *Conn) BlankCursor() display.Cursor {
	return display.Cursor(c.cursor)
}

// SaverSetNotify registers w as the screensaver activation notification
// target. Peers report activation by sending a SCREENSAVER client message,
// which the reader turns into a SaverMessage event.
func (c *Conn) SaverSetNotify(w display.Window) {
	// Delivery arrives on our own connection's event stream; nothing to
	// arm server-side beyond the client message convention.
	_ = w
}

// SaverEnable restores the server's default screensaver timeout.
func (c *Conn) SaverEnable() {
	xproto.SetScreenSaver(c.x, -1, -1, xproto.BlankingDefault, xproto.ExposuresDefault)
}

// SaverDisable turns the built-in screensaver off entirely.
func (c *Conn) SaverDisable() {
	xproto.SetScreenSaver(c.x, 0, 0, xproto.BlankingNotPreferred, xproto.ExposuresNotAllowed)
}

// SaverActivate forces the screensaver on or off immediately.
func (c *Conn) SaverActivate(on bool) {
	mode := byte(xproto.ScreenSaverReset)
	if on {
		mode = xproto.ScreenSaverActive
	}
	xproto.ForceScreenSaver(c.x, mode)
}
