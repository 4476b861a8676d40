// Package display defines the capability surface weft needs from a native
// display server: a cancellable event wait, selection (clipboard) primitives,
// pointer and geometry queries, and screensaver control. Platform packages
// (display/x11) implement Backend; the core never touches the display
// protocol directly, which keeps it testable against displaytest.Fake.
package display

import "time"

// Window is a native window handle.
type Window uint32

// Atom is an interned display-server name (selection, target, property).
type Atom uint32

// Timestamp is a display-server timestamp in server time, not wall time.
// The zero value is the "current time" wildcard; selection ownership must
// never be asserted with it, so Backend.Now fetches a real timestamp.
type Timestamp uint32

// Cursor is a native cursor resource handle.
type Cursor uint32

// ClipboardID names one of the clipboards the adapter tracks.
type ClipboardID int

const (
	// ClipboardDefault is the explicit-copy clipboard (X11 CLIPBOARD).
	ClipboardDefault ClipboardID = iota
	// ClipboardSelection is the implicit primary selection (X11 PRIMARY).
	ClipboardSelection

	// ClipboardCount is the number of tracked clipboards.
	ClipboardCount
)

// None is the null window/atom value.
const None = 0

// WaitStatus is the outcome of a Backend.Wait call.
type WaitStatus int

const (
	// WaitEvent means at least one event is ready to be drained.
	WaitEvent WaitStatus = iota
	// WaitTimeout means the deadline passed with no event.
	WaitTimeout
	// WaitCancelled means the cancel channel fired.
	WaitCancelled
)

// Backend is a connection to one display server. Implementations must be
// safe for concurrent use: the event loop blocks in Wait/Next on its own
// goroutine while other goroutines issue selection and query calls.
type Backend interface {
	// Close releases the connection. Safe to call more than once.
	Close()

	// Window returns the adapter's own (hidden) window, used for selection
	// ownership and property transfers.
	Window() Window

	// Wait blocks until an event is available, the timeout expires, or
	// cancel fires, whichever comes first. A negative timeout means wait
	// indefinitely. Wait never consumes events; after WaitEvent the caller
	// drains them with Pending/Next.
	Wait(timeout time.Duration, cancel <-chan struct{}) WaitStatus

	// Pending returns the number of events that can be read without blocking.
	Pending() int

	// Next returns the next pending event, or ok=false if none is ready.
	Next() (ev Event, ok bool)

	// Now returns a real server timestamp. It never returns the wildcard
	// zero value on success.
	Now() (Timestamp, error)

	// Atom interns a name and returns its atom.
	Atom(name string) (Atom, error)

	// SelectionAtom maps a clipboard id to its selection atom.
	SelectionAtom(id ClipboardID) (Atom, bool)

	// OwnSelection asserts selection ownership for owner at time t and
	// reports whether the server actually granted it.
	OwnSelection(sel Atom, owner Window, t Timestamp) bool

	// ClearSelection gives up selection ownership.
	ClearSelection(sel Atom, t Timestamp)

	// FetchSelection synchronously retrieves the selection's content in the
	// given target format from whatever window currently owns it.
	FetchSelection(sel, target Atom, t Timestamp) ([]byte, error)

	// WriteProperty replaces the named property on w. format is 8 or 32;
	// data is raw property bytes.
	WriteProperty(w Window, prop, typ Atom, format byte, data []byte) error

	// DeleteProperty removes the named property from w.
	DeleteProperty(w Window, prop Atom)

	// NotifySelection sends a selection-notify to requestor. prop == None
	// signals refusal.
	NotifySelection(requestor Window, sel, target, prop Atom, t Timestamp) error

	// RefreshMapping re-reads the keyboard mapping after a MappingChanged
	// event.
	RefreshMapping()

	// PointerPos returns the pointer position relative to the screen origin.
	PointerPos() (x, y int, ok bool)

	// ScreenSize returns the screen dimensions in pixels.
	ScreenSize() (w, h int)

	// BlankCursor returns an invisible cursor created at open time.
	BlankCursor() Cursor

	// SaverSetNotify arms screensaver activity reporting to w; None disarms.
	SaverSetNotify(w Window)

	// SaverEnable restores the server's default screensaver behaviour.
	SaverEnable()

	// SaverDisable turns the server screensaver off entirely.
	SaverDisable()

	// SaverActivate forces the screensaver on (true) or resets it (false).
	SaverActivate(on bool)

	// OnFatal registers f to run when the connection is lost irrecoverably.
	// The backend is unusable once f has been called.
	OnFatal(f func())
}
