package saver

import (
	"fmt"

	"github.com/godbus/dbus/v5"
)

const (
	saverService   = "org.freedesktop.ScreenSaver"
	saverObject    = "/org/freedesktop/ScreenSaver"
	saverInhibit   = "org.freedesktop.ScreenSaver.Inhibit"
	saverUninhibit = "org.freedesktop.ScreenSaver.UnInhibit"
)

// Inhibitor suppresses the desktop environment's idle screensaver via the
// org.freedesktop.ScreenSaver D-Bus interface. Sessions where the display
// server's own screensaver controls have no effect (compositors that only
// honour the D-Bus protocol) need this instead of Controller's disable mode.
type Inhibitor struct {
	conn   *dbus.Conn
	cookie uint32
	held   bool
}

// NewInhibitor connects to the session bus. The caller must Close it.
func NewInhibitor() (*Inhibitor, error) {
	conn, err := dbus.SessionBus()
	if err != nil {
		return nil, fmt.Errorf("session bus: %w", err)
	}
	return &Inhibitor{conn: conn}, nil
}

// Inhibit requests screensaver suppression. Idempotent: a second call while
// held is a no-op.
func (i *Inhibitor) Inhibit(reason string) error {
	if i.held {
		return nil
	}
	obj := i.conn.Object(saverService, saverObject)
	call := obj.Call(saverInhibit, 0, "weft", reason)
	if call.Err != nil {
		return fmt.Errorf("inhibit: %w", call.Err)
	}
	if err := call.Store(&i.cookie); err != nil {
		return fmt.Errorf("inhibit cookie: %w", err)
	}
	i.held = true
	return nil
}

// Release gives the screensaver back. No-op when not held.
func (i *Inhibitor) Release() error {
	if !i.held {
		return nil
	}
	obj := i.conn.Object(saverService, saverObject)
	if call := obj.Call(saverUninhibit, 0, i.cookie); call.Err != nil {
		return fmt.Errorf("uninhibit: %w", call.Err)
	}
	i.held = false
	return nil
}

// Close releases any held inhibition and the bus connection.
func (i *Inhibitor) Close() error {
	err := i.Release()
	if cerr := i.conn.Close(); err == nil {
		err = cerr
	}
	return err
}
