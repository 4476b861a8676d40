// Package displaytest provides an in-memory display.Backend for tests:
// events are injected by the test, and every selection, property, and
// screensaver call the code under test makes is recorded for assertion.
package displaytest

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"go.klb.dev/weft/internal/display"
)

// PropertyWrite records one WriteProperty call.
type PropertyWrite struct {
	Window   display.Window
	Property display.Atom
	Type     display.Atom
	Format   byte
	Data     []byte
}

// Notify records one NotifySelection call.
type Notify struct {
	Requestor display.Window
	Selection display.Atom
	Target    display.Atom
	Property  display.Atom
	Time      display.Timestamp
}

// Fake is a scripted display.Backend. All methods are safe for concurrent
// use. The zero value is not usable; call New.
type Fake struct {
	mu sync.Mutex

	queue []display.Event
	ready chan struct{}

	atoms    map[string]display.Atom
	nextAtom display.Atom
	now      uint32

	owners map[display.Atom]display.Window

	// RefuseOwnership makes every OwnSelection call fail.
	RefuseOwnership bool
	// PeerContent is what FetchSelection returns per selection atom.
	PeerContent map[display.Atom][]byte

	writes   []PropertyWrite
	deletes  []PropertyWrite
	notifies []Notify
	saverLog []string

	saverNotify      display.Window
	mappingRefreshes int

	fatal  func()
	closed bool
}

// New returns an empty Fake with a 1280x800 screen.
func New() *Fake {
	return &Fake{
		ready:       make(chan struct{}, 1),
		atoms:       make(map[string]display.Atom),
		nextAtom:    100,
		now:         1000,
		owners:      make(map[display.Atom]display.Window),
		PeerContent: make(map[display.Atom][]byte),
	}
}

// Inject appends events to the pending queue and wakes any Wait call.
func (f *Fake) Inject(evs ...display.Event) {
	f.mu.Lock()
	f.queue = append(f.queue, evs...)
	f.mu.Unlock()
	select {
	case f.ready <- struct{}{}:
	default:
	}
}

// TriggerFatal invokes the registered fatal handler, simulating an
// irrecoverable connection loss.
func (f *Fake) TriggerFatal() {
	f.mu.Lock()
	fn := f.fatal
	f.mu.Unlock()
	if fn != nil {
		fn()
	}
}

func (f *Fake) Close() {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
}

// Closed reports whether Close has been called.
func (f *Fake) Closed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func (f *Fake) Window() display.Window { return 1 }

func (f *Fake) Wait(timeout time.Duration, cancel <-chan struct{}) display.WaitStatus {
	f.mu.Lock()
	pending := len(f.queue)
	f.mu.Unlock()
	if pending > 0 {
		return display.WaitEvent
	}

	var deadline <-chan time.Time
	if timeout >= 0 {
		t := time.NewTimer(timeout)
		defer t.Stop()
		deadline = t.C
	}
	select {
	case <-f.ready:
		return display.WaitEvent
	case <-deadline:
		return display.WaitTimeout
	case <-cancel:
		return display.WaitCancelled
	}
}

func (f *Fake) Pending() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.queue)
}

func (f *Fake) Next() (display.Event, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.queue) == 0 {
		return nil, false
	}
	ev := f.queue[0]
	f.queue = f.queue[1:]
	return ev, true
}

func (f *Fake) Now() (display.Timestamp, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now++
	return display.Timestamp(f.now), nil
}

func (f *Fake) Atom(name string) (display.Atom, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if a, ok := f.atoms[name]; ok {
		return a, nil
	}
	f.nextAtom++
	f.atoms[name] = f.nextAtom
	return f.nextAtom, nil
}

func (f *Fake) SelectionAtom(id display.ClipboardID) (display.Atom, bool) {
	var name string
	switch id {
	case display.ClipboardDefault:
		name = "CLIPBOARD"
	case display.ClipboardSelection:
		name = "PRIMARY"
	default:
		return 0, false
	}
	a, _ := f.Atom(name)
	return a, true
}

func (f *Fake) OwnSelection(sel display.Atom, owner display.Window, t display.Timestamp) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.RefuseOwnership {
		return false
	}
	f.owners[sel] = owner
	return true
}

func (f *Fake) ClearSelection(sel display.Atom, t display.Timestamp) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.owners, sel)
}

// Owner returns the recorded owner of sel.
func (f *Fake) Owner(sel display.Atom) display.Window {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.owners[sel]
}

func (f *Fake) FetchSelection(sel, target display.Atom, t display.Timestamp) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	d, ok := f.PeerContent[sel]
	if !ok {
		return nil, errors.New("displaytest: selection has no owner")
	}
	return append([]byte(nil), d...), nil
}

func (f *Fake) WriteProperty(w display.Window, prop, typ display.Atom, format byte, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.writes = append(f.writes, PropertyWrite{
		Window: w, Property: prop, Type: typ, Format: format,
		Data: append([]byte(nil), data...),
	})
	return nil
}

func (f *Fake) DeleteProperty(w display.Window, prop display.Atom) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deletes = append(f.deletes, PropertyWrite{Window: w, Property: prop})
}

func (f *Fake) NotifySelection(requestor display.Window, sel, target, prop display.Atom, t display.Timestamp) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.notifies = append(f.notifies, Notify{
		Requestor: requestor, Selection: sel, Target: target, Property: prop, Time: t,
	})
	return nil
}

func (f *Fake) RefreshMapping() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.mappingRefreshes++
}

// MappingRefreshes returns how many times RefreshMapping was called.
func (f *Fake) MappingRefreshes() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.mappingRefreshes
}

func (f *Fake) PointerPos() (int, int, bool) { return 640, 400, true }
func (f *Fake) ScreenSize() (int, int)       { return 1280, 800 }
func (f *Fake) BlankCursor() display.Cursor  { return 7 }

func (f *Fake) SaverSetNotify(w display.Window) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.saverNotify = w
	f.saverLog = append(f.saverLog, fmt.Sprintf("notify:%d", w))
}

func (f *Fake) SaverEnable() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.saverLog = append(f.saverLog, "enable")
}

func (f *Fake) SaverDisable() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.saverLog = append(f.saverLog, "disable")
}

func (f *Fake) SaverActivate(on bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if on {
		f.saverLog = append(f.saverLog, "activate")
	} else {
		f.saverLog = append(f.saverLog, "reset")
	}
}

// SaverNotifyWindow returns the window registered for saver notifications.
func (f *Fake) SaverNotifyWindow() display.Window {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.saverNotify
}

// SaverLog returns the ordered screensaver calls made so far.
func (f *Fake) SaverLog() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.saverLog...)
}

func (f *Fake) OnFatal(fn func()) {
	f.mu.Lock()
	f.fatal = fn
	f.mu.Unlock()
}

// Writes returns all property writes so far, optionally filtered to a
// requestor window (0 = all).
func (f *Fake) Writes(w display.Window) []PropertyWrite {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []PropertyWrite
	for _, pw := range f.writes {
		if w == 0 || pw.Window == w {
			out = append(out, pw)
		}
	}
	return out
}

// Deletes returns all property deletions so far.
func (f *Fake) Deletes() []PropertyWrite {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]PropertyWrite(nil), f.deletes...)
}

// Notifies returns all selection notifications, optionally filtered to a
// requestor window (0 = all).
func (f *Fake) Notifies(w display.Window) []Notify {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []Notify
	for _, n := range f.notifies {
		if w == 0 || n.Requestor == w {
			out = append(out, n)
		}
	}
	return out
}

var _ display.Backend = (*Fake)(nil)
