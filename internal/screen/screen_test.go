package screen

import (
	"bytes"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"go.klb.dev/weft/internal/display"
	"go.klb.dev/weft/internal/display/displaytest"
	"go.klb.dev/weft/internal/sched"
)

type consumer struct {
	mu      sync.Mutex
	grabbed []display.ClipboardID
	errors  int
	saver   []bool
	events  []display.Event
	handle  bool // OnPreDispatch return value
}

func (c *consumer) OnGrabClipboard(id display.ClipboardID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.grabbed = append(c.grabbed, id)
}

func (c *consumer) OnError() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.errors++
}

func (c *consumer) OnPreDispatch(ev display.Event) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.handle
}

func (c *consumer) OnEvent(ev display.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, ev)
}

func (c *consumer) OnScreensaver(active bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.saver = append(c.saver, active)
}

func (c *consumer) grabCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.grabbed)
}

func (c *consumer) eventCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.events)
}

func (c *consumer) saverStates() []bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]bool(nil), c.saver...)
}

func newTestScreen(t *testing.T) (*Screen, *displaytest.Fake, *consumer) {
	t.Helper()
	f := displaytest.New()
	c := &consumer{}
	s := New(func() (display.Backend, error) { return f, nil }, c, c)
	require.NoError(t, s.Open())
	t.Cleanup(s.Close)
	return s, f, c
}

func runLoop(t *testing.T, s *Screen) {
	t.Helper()
	done := make(chan struct{})
	go func() {
		s.MainLoop()
		close(done)
	}()
	t.Cleanup(func() {
		s.ExitMainLoop()
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Fatal("MainLoop did not return after ExitMainLoop")
		}
	})
}

func selAtom(t *testing.T, f *displaytest.Fake, id display.ClipboardID) display.Atom {
	t.Helper()
	a, ok := f.SelectionAtom(id)
	require.True(t, ok)
	return a
}

func eventually(t *testing.T, cond func() bool) {
	t.Helper()
	require.Eventually(t, cond, 2*time.Second, 2*time.Millisecond)
}

func TestOpenTwicePanics(t *testing.T) {
	s, _, _ := newTestScreen(t)
	require.Panics(t, func() { _ = s.Open() })
}

func TestSecondScreenWhileOpenPanics(t *testing.T) {
	_, _, _ = newTestScreen(t)
	c := &consumer{}
	other := New(func() (display.Backend, error) { return displaytest.New(), nil }, c, c)
	require.Panics(t, func() { _ = other.Open() })
}

func TestOpenFailureLeavesScreenClosed(t *testing.T) {
	c := &consumer{}
	s := New(func() (display.Backend, error) { return nil, errors.New("no display") }, c, c)
	err := s.Open()
	require.Error(t, err)

	// Close after a failed open is valid, and the singleton slot is free.
	s.Close()
	s2, _, _ := newTestScreen(t)
	s2.Close()
}

func TestCloseReleasesBackend(t *testing.T) {
	s, f, _ := newTestScreen(t)
	s.Close()
	require.True(t, f.Closed())
	// Idempotent.
	s.Close()
}

func TestExitMainLoopUnblocksIndefiniteWait(t *testing.T) {
	s, _, _ := newTestScreen(t)

	done := make(chan struct{})
	go func() {
		s.MainLoop()
		close(done)
	}()

	// No timers, no events: the loop is in a pure indefinite wait.
	time.Sleep(20 * time.Millisecond)
	start := time.Now()
	s.ExitMainLoop()

	select {
	case <-done:
		require.Less(t, time.Since(start), time.Second)
	case <-time.After(2 * time.Second):
		t.Fatal("MainLoop did not return")
	}
}

func TestExitMainLoopIsIdempotent(t *testing.T) {
	s, _, _ := newTestScreen(t)
	runLoop(t, s)
	s.ExitMainLoop()
	s.ExitMainLoop()
}

func TestSetGetClearClipboard(t *testing.T) {
	s, _, _ := newTestScreen(t)

	require.True(t, s.SetClipboard(display.ClipboardDefault, []byte("hi")))
	got, ok := s.Clipboard(display.ClipboardDefault)
	require.True(t, ok)
	require.Equal(t, []byte("hi"), got)
	require.True(t, s.ClipboardOwned(display.ClipboardDefault))

	require.True(t, s.SetClipboard(display.ClipboardDefault, nil))
	_, ok = s.Clipboard(display.ClipboardDefault)
	require.False(t, ok)
}

func TestUnknownClipboardIDFailsLocally(t *testing.T) {
	s, _, _ := newTestScreen(t)

	require.False(t, s.SetClipboard(display.ClipboardCount, []byte("hi")))
	_, ok := s.Clipboard(display.ClipboardCount)
	require.False(t, ok)
	require.False(t, s.ClipboardOwned(display.ClipboardCount))
}

func TestOwnershipRefusalReportedAsFalse(t *testing.T) {
	s, f, _ := newTestScreen(t)
	f.RefuseOwnership = true
	require.False(t, s.SetClipboard(display.ClipboardDefault, []byte("hi")))
	require.False(t, s.ClipboardOwned(display.ClipboardDefault))
}

func TestSelectionClearedMarksUnownedAndNotifies(t *testing.T) {
	s, f, c := newTestScreen(t)
	require.True(t, s.SetClipboard(display.ClipboardDefault, []byte("hi")))
	runLoop(t, s)

	f.Inject(display.SelectionCleared{
		Selection: selAtom(t, f, display.ClipboardDefault),
		Time:      2000,
	})

	eventually(t, func() bool { return c.grabCount() == 1 })
	require.False(t, s.ClipboardOwned(display.ClipboardDefault))
	// Fully handled: never forwarded.
	require.Zero(t, c.eventCount())
}

func TestSelectionRequestServedThroughLoop(t *testing.T) {
	s, f, _ := newTestScreen(t)
	require.True(t, s.SetClipboard(display.ClipboardDefault, []byte("served")))
	runLoop(t, s)

	utf8, err := f.Atom("UTF8_STRING")
	require.NoError(t, err)
	prop, err := f.Atom("XSEL_DATA")
	require.NoError(t, err)

	f.Inject(display.SelectionRequested{
		Owner:     f.Window(),
		Requestor: 42,
		Selection: selAtom(t, f, display.ClipboardDefault),
		Target:    utf8,
		Property:  prop,
		Time:      2000,
	})

	eventually(t, func() bool { return len(f.Notifies(42)) == 1 })
	writes := f.Writes(42)
	require.Len(t, writes, 1)
	require.Equal(t, []byte("served"), writes[0].Data)
}

func TestChunkedTransferPacedByPropertyDeletes(t *testing.T) {
	s, f, _ := newTestScreen(t)
	payload := bytes.Repeat([]byte("abcdefgh"), 1024) // two chunks
	require.True(t, s.SetClipboard(display.ClipboardDefault, payload))
	runLoop(t, s)

	utf8, err := f.Atom("UTF8_STRING")
	require.NoError(t, err)
	prop, err := f.Atom("XSEL_DATA")
	require.NoError(t, err)

	f.Inject(display.SelectionRequested{
		Owner:     f.Window(),
		Requestor: 42,
		Selection: selAtom(t, f, display.ClipboardDefault),
		Target:    utf8,
		Property:  prop,
		Time:      2000,
	})
	eventually(t, func() bool { return len(f.Writes(42)) == 1 })

	f.Inject(display.PropertyDeleted{Window: 42, Property: prop, Time: 2001})
	eventually(t, func() bool { return len(f.Writes(42)) == 2 })

	f.Inject(display.PropertyDeleted{Window: 42, Property: prop, Time: 2002})
	eventually(t, func() bool { return s.PendingTransfers(display.ClipboardDefault) == 0 })

	writes := f.Writes(42)
	require.Len(t, writes, 3)
	require.Empty(t, writes[2].Data)
	require.Equal(t, payload, append(append([]byte(nil), writes[0].Data...), writes[1].Data...))
}

func TestWindowDestroyedPurgesAndForwards(t *testing.T) {
	s, f, c := newTestScreen(t)
	payload := bytes.Repeat([]byte("abcdefgh"), 1024)
	require.True(t, s.SetClipboard(display.ClipboardDefault, payload))
	runLoop(t, s)

	utf8, err := f.Atom("UTF8_STRING")
	require.NoError(t, err)
	prop, err := f.Atom("XSEL_DATA")
	require.NoError(t, err)

	f.Inject(display.SelectionRequested{
		Owner:     f.Window(),
		Requestor: 42,
		Selection: selAtom(t, f, display.ClipboardDefault),
		Target:    utf8,
		Property:  prop,
		Time:      2000,
	})
	eventually(t, func() bool { return s.PendingTransfers(display.ClipboardDefault) == 1 })

	f.Inject(display.WindowDestroyed{Window: 42})
	eventually(t, func() bool { return s.PendingTransfers(display.ClipboardDefault) == 0 })
	// Not fully handled: the destroy event reaches the consumer too.
	eventually(t, func() bool { return c.eventCount() == 1 })
}

func TestSelectionReadySwallowedAndPropertyDeleted(t *testing.T) {
	s, f, c := newTestScreen(t)
	runLoop(t, s)

	prop, err := f.Atom("XSEL_DATA")
	require.NoError(t, err)
	f.Inject(display.SelectionReady{Requestor: f.Window(), Property: prop})

	eventually(t, func() bool { return len(f.Deletes()) == 1 })
	require.Zero(t, c.eventCount())
	_ = s
}

func TestSaverMessageForwardedAsState(t *testing.T) {
	s, f, c := newTestScreen(t)
	runLoop(t, s)

	f.Inject(display.SaverMessage{Active: true})
	f.Inject(display.SaverMessage{Active: false})

	eventually(t, func() bool { return len(c.saverStates()) == 2 })
	require.Equal(t, []bool{true, false}, c.saverStates())
	require.Zero(t, c.eventCount())
	_ = s
}

func TestMappingChangedRefreshesAndForwards(t *testing.T) {
	s, f, c := newTestScreen(t)
	runLoop(t, s)

	f.Inject(display.MappingChanged{})
	eventually(t, func() bool { return f.MappingRefreshes() == 1 })
	eventually(t, func() bool { return c.eventCount() == 1 })
	_ = s
}

func TestGenericEventFallsThrough(t *testing.T) {
	s, f, c := newTestScreen(t)
	runLoop(t, s)

	f.Inject(display.Generic{Kind: "Expose"})
	eventually(t, func() bool { return c.eventCount() == 1 })
	_ = s
}

func TestConsumerPreDispatchCanConsume(t *testing.T) {
	s, f, c := newTestScreen(t)
	c.handle = true
	runLoop(t, s)

	f.Inject(display.Generic{Kind: "Expose"})
	f.Inject(display.SaverMessage{Active: true}) // still handled internally first

	eventually(t, func() bool { return len(c.saverStates()) == 1 })
	require.Zero(t, c.eventCount())
	_ = s
}

func TestTimersFireWhileLooping(t *testing.T) {
	s, _, _ := newTestScreen(t)

	var mu sync.Mutex
	fired := 0
	job := sched.JobOf(func() {
		mu.Lock()
		fired++
		mu.Unlock()
	})
	s.AddTimer(job, 10*time.Millisecond)
	runLoop(t, s)

	eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return fired >= 3
	})

	s.RemoveTimer(job)
	mu.Lock()
	after := fired
	mu.Unlock()
	time.Sleep(50 * time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	require.LessOrEqual(t, fired, after+1)
}

func TestFatalConnectionLoss(t *testing.T) {
	s, f, c := newTestScreen(t)

	var code int
	orig := exitFunc
	exitFunc = func(c int) { code = c }
	defer func() { exitFunc = orig }()

	f.TriggerFatal()
	require.Equal(t, FatalExitCode, code)

	c.mu.Lock()
	defer c.mu.Unlock()
	require.Equal(t, 1, c.errors)

	// The connection handle is cleared: clipboard calls fail locally.
	require.False(t, s.SetClipboard(display.ClipboardDefault, []byte("x")))
}

func TestCloseWhileRunningStopsLoop(t *testing.T) {
	f := displaytest.New()
	c := &consumer{}
	s := New(func() (display.Backend, error) { return f, nil }, c, c)
	require.NoError(t, s.Open())

	done := make(chan struct{})
	go func() {
		defer close(done)
		s.MainLoop()
	}()
	// Let the loop reach its blocking wait.
	time.Sleep(10 * time.Millisecond)

	// Tear down mid-run: the loop must end cleanly, not dereference the
	// cleared connection handle on its next iteration.
	s.Close()
	f.Inject(display.MappingChanged{})

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("MainLoop did not return after Close")
	}
	require.True(t, f.Closed())
}
