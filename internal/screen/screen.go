// Package screen drives the per-machine display adapter: one event loop
// that multiplexes native display events with software timers, owns the
// display connection and all clipboard channels, and hands everything it
// does not fully handle to the daemon's consumer interfaces.
package screen

import (
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"go.klb.dev/weft/internal/display"
	"go.klb.dev/weft/internal/saver"
	"go.klb.dev/weft/internal/sched"
	"go.klb.dev/weft/internal/selection"
)

// FatalExitCode is the process exit code used when the display connection
// is lost irrecoverably. The display server gives us no way to continue
// without a connection, so after Receiver.OnError the process exits with
// this code. Normal shutdown exits 0 through ordinary control flow.
const FatalExitCode = 17

// Opener opens a connection to the native display server.
type Opener func() (display.Backend, error)

// exitFunc is swapped out in tests.
var exitFunc = os.Exit

// Exactly one Screen may be open at a time; the slot exists so the fatal
// connection callback, which the backend invokes without context, can find
// its screen.
var (
	activeMu sync.Mutex
	active   *Screen
)

// Screen owns the display connection lifetime. One dedicated goroutine runs
// MainLoop; every other method may be called from any goroutine and
// serializes against loop state internally. Timer registration has its own
// lock inside sched.Scheduler so a running job never contends with
// clipboard or display work.
type Screen struct {
	opener   Opener
	receiver Receiver
	handler  EventHandler
	timers   *sched.Scheduler

	mu       sync.Mutex
	backend  display.Backend
	window   display.Window
	channels map[display.ClipboardID]*selection.Channel
	saver    *saver.Controller
	stop     bool
	cancel   chan struct{}
}

// New returns a Screen in its idle state. receiver and handler must be
// non-nil.
func New(opener Opener, receiver Receiver, handler EventHandler) *Screen {
	if opener == nil || receiver == nil || handler == nil {
		panic("screen: nil opener, receiver, or handler")
	}
	return &Screen{
		opener:   opener,
		receiver: receiver,
		handler:  handler,
		timers:   sched.New(),
	}
}

// Open connects to the display and binds the clipboard channels. Calling
// Open while another Screen (or this one) is open is a programming error
// and panics. A failed Open leaves the screen closed; Close is still safe
// to call.
func (s *Screen) Open() error {
	activeMu.Lock()
	if active != nil {
		activeMu.Unlock()
		panic("screen: a screen is already open")
	}
	active = s
	activeMu.Unlock()

	b, err := s.opener()
	if err != nil {
		activeMu.Lock()
		active = nil
		activeMu.Unlock()
		return fmt.Errorf("screen: open display: %w", err)
	}

	s.mu.Lock()
	s.backend = b
	s.stop = false
	s.cancel = make(chan struct{})
	s.saver = saver.New(b, b.Window())
	s.setWindowLocked(b.Window())
	s.mu.Unlock()

	b.OnFatal(s.fatalConnection)
	slog.Debug("screen open", "window", uint32(b.Window()))
	return nil
}

// Close tears the screen down from any state, releasing the connection and
// all channels. Safe after a failed Open and safe to call twice.
func (s *Screen) Close() {
	s.mu.Lock()
	// Stop a running loop and wake its in-flight wait; the connection is
	// about to disappear out from under it.
	if !s.stop && s.cancel != nil {
		s.stop = true
		close(s.cancel)
	}
	if s.saver != nil {
		s.saver.Close()
		s.saver = nil
	}
	for _, ch := range s.channels {
		ch.Discard()
	}
	s.channels = nil
	s.window = display.None
	if s.backend != nil {
		s.backend.Close()
		s.backend = nil
		slog.Debug("closed display")
	}
	s.mu.Unlock()

	activeMu.Lock()
	if active == s {
		active = nil
	}
	activeMu.Unlock()
}

// SetWindow rebinds the clipboard channels to a new adapter window. Pending
// transfers on the old channels are discarded.
func (s *Screen) SetWindow(w display.Window) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.setWindowLocked(w)
}

func (s *Screen) setWindowLocked(w display.Window) {
	for _, ch := range s.channels {
		ch.Discard()
	}
	s.window = w
	s.channels = make(map[display.ClipboardID]*selection.Channel)
	if w == display.None || s.backend == nil {
		return
	}
	for id := display.ClipboardID(0); id < display.ClipboardCount; id++ {
		ch, err := selection.New(s.backend, id, w)
		if err != nil {
			slog.Warn("clipboard channel unavailable", "clipboard", int(id), "err", err)
			continue
		}
		s.channels[id] = ch
	}
}

// AddTimer registers job to fire every period until removed. Replaces any
// existing registration for the same job.
func (s *Screen) AddTimer(job sched.Job, period time.Duration) {
	s.timers.Add(job, period)
}

// RemoveTimer unregisters job.
func (s *Screen) RemoveTimer(job sched.Job) {
	s.timers.Remove(job)
}

// MainLoop blocks, dispatching timers and display events, until
// ExitMainLoop is called. Run it on a dedicated goroutine.
func (s *Screen) MainLoop() {
	s.mu.Lock()
	if s.backend == nil {
		s.mu.Unlock()
		panic("screen: MainLoop before Open")
	}

	for !s.stop {
		// Close may have torn the connection down while the loop was
		// blocked; a gone backend ends the loop like a stop request.
		if s.backend == nil {
			break
		}

		// Bound the wait by the next timer deadline; with no timers
		// registered, wait until an event or cancellation arrives.
		timeout := time.Duration(-1)
		if d, ok := s.timers.NextDeadline(); ok {
			timeout = d
		}
		backend := s.backend
		cancel := s.cancel

		s.mu.Unlock()
		start := time.Now()
		backend.Wait(timeout, cancel)

		// Due jobs run outside both locks so they may freely register and
		// unregister timers, or call back into the screen.
		for _, job := range s.timers.Tick(time.Since(start)) {
			job.Run()
		}
		s.mu.Lock()

		for !s.stop && s.backend != nil && s.backend.Pending() > 0 {
			ev, ok := s.backend.Next()
			if !ok {
				break
			}
			s.mu.Unlock()
			if !s.preDispatch(ev) {
				s.handler.OnEvent(ev)
			}
			s.mu.Lock()
		}
	}
	s.mu.Unlock()
}

// ExitMainLoop requests loop shutdown. Idempotent and callable from any
// goroutine: it sets the stop flag and cancels the in-flight wait, so
// MainLoop returns within the wait primitive's cancellation latency even
// when no events or timers are pending.
func (s *Screen) ExitMainLoop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stop {
		return
	}
	s.stop = true
	if s.cancel != nil {
		close(s.cancel)
	}
}

// preDispatch routes one event through the internal dispatch table.
// Returns true when the event was fully handled. Called without the screen
// lock held; branches take it as needed.
func (s *Screen) preDispatch(ev display.Event) bool {
	switch ev := ev.(type) {
	case display.MappingChanged:
		s.mu.Lock()
		if s.backend != nil {
			s.backend.RefreshMapping()
		}
		s.mu.Unlock()
		// Mapping cache refreshed; the event is still forwarded.

	case display.SelectionCleared:
		s.mu.Lock()
		for id, ch := range s.channels {
			if ch.Selection() == ev.Selection {
				ch.Lost(ev.Time)
				s.mu.Unlock()
				slog.Debug("clipboard grabbed by peer", "clipboard", int(id))
				s.receiver.OnGrabClipboard(id)
				return true
			}
		}
		s.mu.Unlock()

	case display.SelectionReady:
		// Retrieval is driven by the synchronous fetch path; a conversion
		// result arriving here is a straggler. Delete the property per the
		// transfer contract and swallow the event.
		if ev.Property != display.None {
			s.mu.Lock()
			if s.backend != nil {
				s.backend.DeleteProperty(ev.Requestor, ev.Property)
			}
			s.mu.Unlock()
		}
		return true

	case display.SelectionRequested:
		s.mu.Lock()
		for _, ch := range s.channels {
			if ch.Selection() == ev.Selection {
				ch.AddRequest(ev.Owner, ev.Requestor, ev.Target, ev.Time, ev.Property)
				s.mu.Unlock()
				return true
			}
		}
		s.mu.Unlock()

	case display.PropertyDeleted:
		s.mu.Lock()
		for _, ch := range s.channels {
			if ch.PropertyConsumed(ev.Window, ev.Property) {
				break
			}
		}
		s.mu.Unlock()
		return true

	case display.SaverMessage:
		s.handler.OnScreensaver(ev.Active)
		return true

	case display.WindowDestroyed:
		// A transfer requestor may be gone. Other subsystems can care about
		// the window too, so the event is still forwarded.
		s.mu.Lock()
		for _, ch := range s.channels {
			if ch.DestroyRequest(ev.Window) {
				break
			}
		}
		s.mu.Unlock()
	}

	s.mu.Lock()
	if s.saver != nil {
		s.saver.OnPreDispatch(ev)
	}
	s.mu.Unlock()

	return s.handler.OnPreDispatch(ev)
}

// SetClipboard publishes data on the given clipboard, or relinquishes it
// when data is nil. Returns false for an unknown clipboard id, a display
// timestamp failure, or an ownership refusal.
func (s *Screen) SetClipboard(id display.ClipboardID, data []byte) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	ch := s.channels[id]
	if ch == nil || s.backend == nil {
		return false
	}
	// Ownership must be asserted at a real timestamp; the wildcard
	// "current time" sentinel is forbidden by the selection protocol.
	t, err := s.backend.Now()
	if err != nil {
		slog.Warn("timestamp fetch failed", "err", err)
		return false
	}
	if data == nil {
		return ch.Clear(t)
	}
	return ch.Own(t, data)
}

// Clipboard returns the current content of the given clipboard, from this
// process if owned or from the owning peer otherwise. ok is false for an
// unknown id or when no content is available.
func (s *Screen) Clipboard(id display.ClipboardID) (data []byte, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ch := s.channels[id]
	if ch == nil || s.backend == nil {
		return nil, false
	}
	t, err := s.backend.Now()
	if err != nil {
		slog.Warn("timestamp fetch failed", "err", err)
		return nil, false
	}
	return ch.Get(t)
}

// ClipboardOwned reports whether this process owns the given clipboard.
func (s *Screen) ClipboardOwned(id display.ClipboardID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	ch := s.channels[id]
	return ch != nil && ch.Owned()
}

// PendingTransfers returns the number of in-flight outgoing transfers on
// the given clipboard.
func (s *Screen) PendingTransfers(id display.ClipboardID) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	ch := s.channels[id]
	if ch == nil {
		return 0
	}
	return ch.PendingRequests()
}

// OpenSaver arms screensaver handling: notify-only when notify is set,
// outright disable otherwise.
func (s *Screen) OpenSaver(notify bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.saver != nil {
		s.saver.Open(notify)
	}
}

// CloseSaver reverses whichever saver mode was armed.
func (s *Screen) CloseSaver() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.saver != nil {
		s.saver.Close()
	}
}

// SetSaverActive forces the screensaver on or off.
func (s *Screen) SetSaverActive(on bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.saver != nil {
		s.saver.SetActive(on)
	}
}

// Shape returns the screen origin and size.
func (s *Screen) Shape() (x, y, w, h int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.backend == nil {
		return 0, 0, 0, 0
	}
	w, h = s.backend.ScreenSize()
	return 0, 0, w, h
}

// CursorPos returns the pointer position, falling back to the screen
// center when the query fails.
func (s *Screen) CursorPos() (x, y int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.backend == nil {
		return 0, 0
	}
	if px, py, ok := s.backend.PointerPos(); ok {
		return px, py
	}
	w, h := s.backend.ScreenSize()
	return w / 2, h / 2
}

// CursorCenter returns the screen center.
func (s *Screen) CursorCenter() (x, y int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.backend == nil {
		return 0, 0
	}
	w, h := s.backend.ScreenSize()
	return w / 2, h / 2
}

// BlankCursor returns the invisible cursor resource.
func (s *Screen) BlankCursor() display.Cursor {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.backend == nil {
		return 0
	}
	return s.backend.BlankCursor()
}

// fatalConnection is the backend's irrecoverable-loss callback. The
// connection handle is cleared so nothing touches it again, the receiver
// is told, and the process exits with FatalExitCode — there is no way to
// keep running without a display connection.
func (s *Screen) fatalConnection() {
	slog.Warn("display connection unexpectedly lost")
	s.mu.Lock()
	s.backend = nil
	s.mu.Unlock()
	s.receiver.OnError()
	slog.Error("exiting: display connection lost", "code", FatalExitCode)
	exitFunc(FatalExitCode)
}
