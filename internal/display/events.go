package display

// Event is one native display event, already classified into the small set
// the adapter cares about. Anything else arrives as Generic and is passed
// through to the consumer untouched.
type Event interface {
	event()
}

// MappingChanged reports a keyboard mapping change. The adapter refreshes
// its mapping cache and still forwards the event.
type MappingChanged struct{}

// SelectionCleared reports that another client took ownership of sel.
type SelectionCleared struct {
	Selection Atom
	Time      Timestamp
}

// SelectionReady reports that a selection conversion we asked for has
// completed and its result is sitting in Property on Requestor. The loop
// only ever sees stragglers here — synchronous fetches intercept their own
// replies — so it just deletes the property per the transfer contract.
type SelectionReady struct {
	Requestor Window
	Property  Atom
}

// SelectionRequested reports that a peer wants the content of Selection
// converted to Target and written to Property on Requestor.
type SelectionRequested struct {
	Owner     Window
	Requestor Window
	Selection Atom
	Target    Atom
	Property  Atom
	Time      Timestamp
}

// PropertyDeleted reports that a peer consumed (deleted) a property we
// wrote, which paces chunked selection transfers.
type PropertyDeleted struct {
	Window   Window
	Property Atom
	Time     Timestamp
}

// SaverMessage reports a screensaver activation change.
type SaverMessage struct {
	Active bool
}

// WindowDestroyed reports that a window is gone. Pending transfers to it
// are discarded.
type WindowDestroyed struct {
	Window Window
}

// Generic wraps a native event the adapter has no special handling for.
type Generic struct {
	// Kind is a short name for the native event type, for logging.
	Kind string
	// Raw is the backend's native event value.
	Raw any
}

func (MappingChanged) event()     {}
func (SelectionCleared) event()   {}
func (SelectionReady) event()     {}
func (SelectionRequested) event() {}
func (PropertyDeleted) event()    {}
func (SaverMessage) event()       {}
func (WindowDestroyed) event()    {}
func (Generic) event()            {}
