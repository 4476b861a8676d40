package screen

import "go.klb.dev/weft/internal/display"

// Receiver is notified of screen-level state changes the rest of the daemon
// must react to.
type Receiver interface {
	// OnGrabClipboard reports that another client took ownership of the
	// named clipboard.
	OnGrabClipboard(id display.ClipboardID)

	// OnError reports an irrecoverable display failure. The process exits
	// right after this returns.
	OnError()
}

// EventHandler consumes events the screen does not fully handle itself.
type EventHandler interface {
	// OnPreDispatch gets first refusal of an event after the screen's own
	// dispatch. Returning true consumes the event.
	OnPreDispatch(ev display.Event) bool

	// OnEvent receives events nothing else consumed.
	OnEvent(ev display.Event)

	// OnScreensaver reports screensaver activation changes.
	OnScreensaver(active bool)
}
