// Package x11 implements display.Backend over the X protocol using the
// pure-Go jezek/xgb binding. A dedicated reader goroutine owns the event
// stream; synchronous round-trips (timestamp fetch, selection retrieval)
// intercept their replies off that stream instead of racing the event loop
// for them.
package x11

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jezek/xgb"
	"github.com/jezek/xgb/xproto"

	"go.klb.dev/weft/internal/display"
)

const (
	// eventBuffer bounds how far the reader can run ahead of the loop.
	eventBuffer = 128

	// roundTripTimeout bounds the synchronous timestamp and selection
	// fetch paths. The X server answers these in a round trip or two;
	// hitting this means the owner is gone or wedged.
	roundTripTimeout = 2 * time.Second
)

// Conn is an open X display connection implementing display.Backend.
type Conn struct {
	x      *xgb.Conn
	setup  *xproto.SetupInfo
	screen *xproto.ScreenInfo
	window xproto.Window
	cursor xproto.Cursor

	width, height int

	selections [display.ClipboardCount]xproto.Atom

	atomSaver     xproto.Atom
	atomTimestamp xproto.Atom
	atomFetch     xproto.Atom
	atomIncr      xproto.Atom

	atomMu sync.Mutex
	atoms  map[string]xproto.Atom

	events chan display.Event
	done   chan struct{}
	peeked []display.Event // loop goroutine only

	lastTime atomic.Uint32

	tsMu   sync.Mutex
	tsWait atomic.Bool
	tsCh   chan xproto.Timestamp

	fetchMu     sync.Mutex
	fetchWait   atomic.Bool
	fetchPropCh chan xproto.Atom
	fetchDataCh chan struct{}

	fatalMu sync.Mutex
	fatal   func()
	closed  atomic.Bool
}

var _ display.Backend = (*Conn)(nil)

// Open connects to the named display ("" = $DISPLAY), creates the hidden
// adapter window and blank cursor, and starts the event reader.
func Open(displayName string) (*Conn, error) {
	x, err := xgb.NewConnDisplay(displayName)
	if err != nil {
		return nil, fmt.Errorf("x11: open display: %w", err)
	}

	c := &Conn{
		x:           x,
		setup:       xproto.Setup(x),
		atoms:       make(map[string]xproto.Atom),
		events:      make(chan display.Event, eventBuffer),
		done:        make(chan struct{}),
		tsCh:        make(chan xproto.Timestamp, 1),
		fetchPropCh: make(chan xproto.Atom, 1),
		fetchDataCh: make(chan struct{}, 1),
	}
	c.screen = c.setup.DefaultScreen(x)
	c.width = int(c.screen.WidthInPixels)
	c.height = int(c.screen.HeightInPixels)

	if err := c.createWindow(); err != nil {
		x.Close()
		return nil, err
	}
	if err := c.createBlankCursor(); err != nil {
		x.Close()
		return nil, err
	}
	if err := c.internStaticAtoms(); err != nil {
		x.Close()
		return nil, err
	}

	go c.readLoop()

	slog.Debug("x11 display open",
		"screen", fmt.Sprintf("%dx%d", c.width, c.height),
		"window", uint32(c.window),
	)
	return c, nil
}

func (c *Conn) createWindow() error {
	wid, err := xproto.NewWindowId(c.x)
	if err != nil {
		return fmt.Errorf("x11: window id: %w", err)
	}
	err = xproto.CreateWindowChecked(c.x,
		0, // depth: copy from parent
		wid, c.screen.Root,
		-1, -1, 1, 1, 0,
		xproto.WindowClassInputOnly,
		c.screen.RootVisual,
		xproto.CwEventMask,
		[]uint32{xproto.EventMaskPropertyChange | xproto.EventMaskStructureNotify},
	).Check()
	if err != nil {
		return fmt.Errorf("x11: create window: %w", err)
	}
	c.window = wid
	return nil
}

func (c *Conn) createBlankCursor() error {
	pid, err := xproto.NewPixmapId(c.x)
	if err != nil {
		return fmt.Errorf("x11: pixmap id: %w", err)
	}
	cid, err := xproto.NewCursorId(c.x)
	if err != nil {
		return fmt.Errorf("x11: cursor id: %w", err)
	}
	// A 1x1 depth-1 pixmap of zeros serves as both shape and mask.
	if err := xproto.CreatePixmapChecked(c.x, 1, pid, xproto.Drawable(c.screen.Root), 1, 1).Check(); err != nil {
		return fmt.Errorf("x11: create pixmap: %w", err)
	}
	if err := xproto.CreateCursorChecked(c.x, cid, pid, pid, 0, 0, 0, 0, 0, 0, 0, 0).Check(); err != nil {
		return fmt.Errorf("x11: create cursor: %w", err)
	}
	xproto.FreePixmap(c.x, pid)
	c.cursor = cid
	return nil
}

func (c *Conn) internStaticAtoms() error {
	var err error
	intern := func(name string) xproto.Atom {
		if err != nil {
			return 0
		}
		var a xproto.Atom
		a, err = c.internAtom(name)
		return a
	}
	c.selections[display.ClipboardDefault] = intern("CLIPBOARD")
	c.selections[display.ClipboardSelection] = xproto.AtomPrimary
	c.atomSaver = intern("SCREENSAVER")
	c.atomTimestamp = intern("WEFT_TIMESTAMP")
	c.atomFetch = intern("WEFT_SELECTION")
	c.atomIncr = intern("INCR")
	return err
}

func (c *Conn) internAtom(name string) (xproto.Atom, error) {
	c.atomMu.Lock()
	defer c.atomMu.Unlock()
	if a, ok := c.atoms[name]; ok {
		return a, nil
	}
	reply, err := xproto.InternAtom(c.x, false, uint16(len(name)), name).Reply()
	if err != nil {
		return 0, fmt.Errorf("x11: intern %q: %w", name, err)
	}
	c.atoms[name] = reply.Atom
	return reply.Atom, nil
}

// readLoop pulls every event off the wire, routes synchronous-path replies
// to their waiters, and queues the rest for the event loop. When the
// server connection drops it fires the fatal callback: X gives us no way
// to keep running without a connection.
func (c *Conn) readLoop() {
	for {
		ev, xerr := c.x.WaitForEvent()
		if ev == nil && xerr == nil {
			if c.closed.Load() {
				return
			}
			slog.Warn("x11 connection lost")
			c.fatalMu.Lock()
			f := c.fatal
			c.fatalMu.Unlock()
			if f != nil {
				f()
			}
			return
		}
		if xerr != nil {
			slog.Debug("x11 protocol error", "err", xerr.Error())
			continue
		}
		out, ok := c.translate(ev)
		if !ok {
			continue
		}
		select {
		case c.events <- out:
		case <-c.done:
			return
		}
	}
}

// translate classifies a raw X event. ok=false means the event was fully
// consumed here (synchronous-path interception).
func (c *Conn) translate(ev xgb.Event) (display.Event, bool) {
	switch e := ev.(type) {
	case xproto.MappingNotifyEvent:
		return display.MappingChanged{}, true

	case xproto.SelectionClearEvent:
		c.noteTime(e.Time)
		return display.SelectionCleared{
			Selection: display.Atom(e.Selection),
			Time:      display.Timestamp(e.Time),
		}, true

	case xproto.SelectionNotifyEvent:
		c.noteTime(e.Time)
		if c.fetchWait.Load() && e.Requestor == c.window {
			select {
			case c.fetchPropCh <- e.Property:
			default:
			}
			return nil, false
		}
		return display.SelectionReady{
			Requestor: display.Window(e.Requestor),
			Property:  display.Atom(e.Property),
		}, true

	case xproto.SelectionRequestEvent:
		c.noteTime(e.Time)
		// Watch the requestor so we see its property deletions (chunk
		// pacing) and its destruction (transfer cleanup).
		xproto.ChangeWindowAttributes(c.x, e.Requestor, xproto.CwEventMask,
			[]uint32{xproto.EventMaskPropertyChange | xproto.EventMaskStructureNotify})
		return display.SelectionRequested{
			Owner:     display.Window(e.Owner),
			Requestor: display.Window(e.Requestor),
			Selection: display.Atom(e.Selection),
			Target:    display.Atom(e.Target),
			Property:  display.Atom(e.Property),
			Time:      display.Timestamp(e.Time),
		}, true

	case xproto.PropertyNotifyEvent:
		c.noteTime(e.Time)
		if e.Window == c.window && e.Atom == c.atomTimestamp &&
			e.State == xproto.PropertyNewValue && c.tsWait.Load() {
			select {
			case c.tsCh <- e.Time:
			default:
			}
			return nil, false
		}
		if e.Window == c.window && e.Atom == c.atomFetch &&
			e.State == xproto.PropertyNewValue && c.fetchWait.Load() {
			select {
			case c.fetchDataCh <- struct{}{}:
			default:
			}
			return nil, false
		}
		if e.State == xproto.PropertyDelete {
			return display.PropertyDeleted{
				Window:   display.Window(e.Window),
				Property: display.Atom(e.Atom),
				Time:     display.Timestamp(e.Time),
			}, true
		}
		return display.Generic{Kind: "PropertyNotify", Raw: e}, true

	case xproto.ClientMessageEvent:
		if e.Type == c.atomSaver && e.Format == 32 {
			return display.SaverMessage{Active: e.Data.Data32[0] != 0}, true
		}
		return display.Generic{Kind: "ClientMessage", Raw: e}, true

	case xproto.DestroyNotifyEvent:
		return display.WindowDestroyed{Window: display.Window(e.Window)}, true

	default:
		return display.Generic{Kind: fmt.Sprintf("%T", ev), Raw: ev}, true
	}
}

func (c *Conn) noteTime(t xproto.Timestamp) {
	if t != xproto.TimeCurrentTime {
		c.lastTime.Store(uint32(t))
	}
}

// Close shuts the connection down. The reader goroutine exits on the
// resulting stream EOF without firing the fatal callback.
func (c *Conn) Close() {
	if c.closed.Swap(true) {
		return
	}
	close(c.done)
	c.x.Close()
	slog.Debug("x11 display closed")
}

func (c *Conn) Window() display.Window { return display.Window(c.window) }

// Wait blocks until an event is queued, the timeout passes, or cancel
// fires. It never consumes events: a queued event is parked in the peek
// buffer for Next.
func (c *Conn) Wait(timeout time.Duration, cancel <-chan struct{}) display.WaitStatus {
	if len(c.peeked) > 0 {
		return display.WaitEvent
	}
	var deadline <-chan time.Time
	if timeout >= 0 {
		t := time.NewTimer(timeout)
		defer t.Stop()
		deadline = t.C
	}
	select {
	case ev := <-c.events:
		c.peeked = append(c.peeked, ev)
		return display.WaitEvent
	case <-deadline:
		return display.WaitTimeout
	case <-cancel:
		return display.WaitCancelled
	case <-c.done:
		return display.WaitCancelled
	}
}

func (c *Conn) Pending() int {
	return len(c.peeked) + len(c.events)
}

func (c *Conn) Next() (display.Event, bool) {
	if len(c.peeked) > 0 {
		ev := c.peeked[0]
		c.peeked = c.peeked[1:]
		return ev, true
	}
	select {
	case ev := <-c.events:
		return ev, true
	default:
		return nil, false
	}
}

// Now fetches a real server timestamp: a zero-length append to a private
// property comes back as a PropertyNotify carrying server time. The
// selection protocol forbids asserting ownership at the "current time"
// wildcard, so this round trip is mandatory before every grab.
func (c *Conn) Now() (display.Timestamp, error) {
	c.tsMu.Lock()
	defer c.tsMu.Unlock()

	c.tsWait.Store(true)
	defer c.tsWait.Store(false)
	select {
	case <-c.tsCh:
	default:
	}

	err := xproto.ChangePropertyChecked(c.x, xproto.PropModeAppend, c.window,
		c.atomTimestamp, xproto.AtomInteger, 32, 0, nil).Check()
	if err != nil {
		return 0, fmt.Errorf("x11: timestamp probe: %w", err)
	}

	select {
	case t := <-c.tsCh:
		c.noteTime(t)
		return display.Timestamp(t), nil
	case <-time.After(roundTripTimeout):
		if t := c.lastTime.Load(); t != 0 {
			return display.Timestamp(t), nil
		}
		return 0, errors.New("x11: timestamp fetch timed out")
	case <-c.done:
		return 0, errors.New("x11: connection closed")
	}
}

func (c *Conn) Atom(name string) (display.Atom, error) {
	a, err := c.internAtom(name)
	return display.Atom(a), err
}

func (c *Conn) SelectionAtom(id display.ClipboardID) (display.Atom, bool) {
	if id < 0 || id >= display.ClipboardCount {
		return 0, false
	}
	return display.Atom(c.selections[id]), true
}

func (c *Conn) OnFatal(f func()) {
	c.fatalMu.Lock()
	c.fatal = f
	c.fatalMu.Unlock()
}
