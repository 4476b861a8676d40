// Package selection implements per-clipboard selection ownership and the
// request/response handshake that moves clipboard bytes to and from other
// clients on the same display: peers ask for a conversion, the owner writes
// the data into a property on the requestor's window and notifies it, and
// large payloads are paced chunk by chunk by the requestor deleting the
// property after each read.
package selection

import (
	"encoding/binary"
	"fmt"
	"log/slog"

	"go.klb.dev/weft/internal/display"
)

// maxChunk is the largest single property write. Payloads above this are
// delivered in consumed-paced chunks terminated by a zero-length write.
const maxChunk = 4 * 1024

// request is one outstanding transfer to a peer, uniquely keyed by
// (requestor, property). data is snapshotted at arrival so later content
// changes cannot corrupt an in-flight transfer.
type request struct {
	owner     display.Window
	requestor display.Window
	target    display.Atom
	property  display.Atom
	time      display.Timestamp
	data      []byte
	sent      int
}

// Channel owns the state of one clipboard: whether this process holds the
// selection, the published content, and all in-flight transfers. Callers
// serialize access; Channel methods never block on the display.
type Channel struct {
	b      display.Backend
	id     display.ClipboardID
	window display.Window
	sel    display.Atom

	atomTargets display.Atom
	atomUTF8    display.Atom
	atomString  display.Atom
	atomAtom    display.Atom

	owned    bool
	data     []byte
	requests []*request
}

// New binds a channel for clipboard id to the adapter window.
func New(b display.Backend, id display.ClipboardID, window display.Window) (*Channel, error) {
	sel, ok := b.SelectionAtom(id)
	if !ok {
		return nil, fmt.Errorf("selection: no selection atom for clipboard %d", id)
	}
	c := &Channel{b: b, id: id, window: window, sel: sel}

	var err error
	for _, a := range []struct {
		name string
		dst  *display.Atom
	}{
		{"TARGETS", &c.atomTargets},
		{"UTF8_STRING", &c.atomUTF8},
		{"STRING", &c.atomString},
		{"ATOM", &c.atomAtom},
	} {
		if *a.dst, err = b.Atom(a.name); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// ID returns the clipboard id this channel serves.
func (c *Channel) ID() display.ClipboardID { return c.id }

// Selection returns the selection atom this channel tracks.
func (c *Channel) Selection() display.Atom { return c.sel }

// Owned reports whether this process currently owns the selection.
func (c *Channel) Owned() bool { return c.owned }

// PendingRequests returns the number of in-flight transfers.
func (c *Channel) PendingRequests() int { return len(c.requests) }

// Own asserts selection ownership at t and publishes data. Returns false,
// leaving state untouched, if the server refuses the ownership grab.
// t must be a real timestamp, never the wildcard.
func (c *Channel) Own(t display.Timestamp, data []byte) bool {
	if !c.b.OwnSelection(c.sel, c.window, t) {
		slog.Warn("selection ownership refused", "clipboard", int(c.id))
		return false
	}
	c.owned = true
	c.data = cloneBytes(data)
	slog.Debug("selection owned", "clipboard", int(c.id), "bytes", len(data), "time", uint32(t))
	return true
}

// Clear relinquishes the published content: ownership is taken so any
// previous owner is displaced, then the content is dropped. Subsequent
// reads return nothing until someone publishes again.
func (c *Channel) Clear(t display.Timestamp) bool {
	if !c.b.OwnSelection(c.sel, c.window, t) {
		return false
	}
	c.owned = true
	c.data = nil
	return true
}

// Lost records that another client grabbed the selection. Content is kept
// so transfers already in flight can still complete; new reads go to the
// new owner.
func (c *Channel) Lost(t display.Timestamp) {
	slog.Debug("selection lost", "clipboard", int(c.id), "time", uint32(t))
	c.owned = false
}

// Get returns the clipboard content: our own published data when owned,
// otherwise fetched from the current owner over the same handshake we use
// to serve peers. ok is false when there is no content to be had.
func (c *Channel) Get(t display.Timestamp) (data []byte, ok bool) {
	if c.owned {
		if c.data == nil {
			return nil, false
		}
		return cloneBytes(c.data), true
	}
	for _, target := range []display.Atom{c.atomUTF8, c.atomString} {
		d, err := c.b.FetchSelection(c.sel, target, t)
		if err != nil {
			continue
		}
		return d, true
	}
	return nil, false
}

// AddRequest handles an incoming conversion request from a peer. Every
// distinct request is answered exactly once: immediately for enumerations
// and small payloads, via chunked writes for large ones, and with an
// explicit refusal for targets we cannot produce — silence would leave the
// requestor hanging until its own timeout.
func (c *Channel) AddRequest(owner, requestor display.Window, target display.Atom, t display.Timestamp, property display.Atom) {
	// A re-request with the same (requestor, property) key supersedes the
	// old transfer.
	c.dropRequest(requestor, property)

	switch {
	case target == c.atomTargets:
		c.sendTargets(requestor, property, t)

	case (target == c.atomUTF8 || target == c.atomString) && c.data != nil:
		if len(c.data) <= maxChunk {
			c.sendAll(requestor, target, property, t)
			return
		}
		r := &request{
			owner:     owner,
			requestor: requestor,
			target:    target,
			property:  property,
			time:      t,
			data:      cloneBytes(c.data),
		}
		c.requests = append(c.requests, r)
		c.writeChunk(r)
		c.notify(requestor, target, property, t)
		slog.Debug("chunked transfer started",
			"clipboard", int(c.id), "requestor", uint32(requestor), "bytes", len(r.data))

	default:
		slog.Debug("refusing selection request",
			"clipboard", int(c.id), "requestor", uint32(requestor), "target", uint32(target))
		c.notify(requestor, target, display.None, t)
	}
}

// PropertyConsumed advances the transfer keyed by (w, prop) after the peer
// deleted the property: the next chunk is written, or a zero-length
// terminator if all data has been acknowledged. Returns false when no
// transfer matches.
func (c *Channel) PropertyConsumed(w display.Window, prop display.Atom) bool {
	for i, r := range c.requests {
		if r.requestor != w || r.property != prop {
			continue
		}
		if r.sent >= len(r.data) {
			// All bytes acknowledged: terminate with a zero-length write.
			if err := c.b.WriteProperty(r.requestor, r.property, r.target, 8, nil); err != nil {
				slog.Warn("transfer terminator write failed", "err", err)
			}
			c.requests = append(c.requests[:i], c.requests[i+1:]...)
			slog.Debug("chunked transfer complete",
				"clipboard", int(c.id), "requestor", uint32(w), "bytes", len(r.data))
			return true
		}
		c.writeChunk(r)
		return true
	}
	return false
}

// DestroyRequest discards all transfers whose requestor is w. The peer is
// gone, so nothing is written and no completion is signalled.
func (c *Channel) DestroyRequest(w display.Window) bool {
	found := false
	kept := c.requests[:0]
	for _, r := range c.requests {
		if r.requestor == w {
			found = true
			continue
		}
		kept = append(kept, r)
	}
	c.requests = kept
	if found {
		slog.Debug("transfer requestor destroyed", "clipboard", int(c.id), "requestor", uint32(w))
	}
	return found
}

// Discard drops all in-flight transfers, used on channel teardown.
func (c *Channel) Discard() {
	c.requests = nil
}

func (c *Channel) sendTargets(requestor display.Window, prop display.Atom, t display.Timestamp) {
	buf := make([]byte, 0, 3*4)
	for _, a := range []display.Atom{c.atomTargets, c.atomUTF8, c.atomString} {
		buf = binary.LittleEndian.AppendUint32(buf, uint32(a))
	}
	if err := c.b.WriteProperty(requestor, prop, c.atomAtom, 32, buf); err != nil {
		slog.Warn("targets write failed", "err", err)
	}
	c.notify(requestor, c.atomTargets, prop, t)
}

func (c *Channel) sendAll(requestor display.Window, target, prop display.Atom, t display.Timestamp) {
	if err := c.b.WriteProperty(requestor, prop, target, 8, c.data); err != nil {
		slog.Warn("selection write failed", "err", err)
		c.notify(requestor, target, display.None, t)
		return
	}
	c.notify(requestor, target, prop, t)
}

func (c *Channel) writeChunk(r *request) {
	end := r.sent + maxChunk
	if end > len(r.data) {
		end = len(r.data)
	}
	if err := c.b.WriteProperty(r.requestor, r.property, r.target, 8, r.data[r.sent:end]); err != nil {
		slog.Warn("chunk write failed", "err", err)
	}
	r.sent = end
}

func (c *Channel) notify(requestor display.Window, target, prop display.Atom, t display.Timestamp) {
	if err := c.b.NotifySelection(requestor, c.sel, target, prop, t); err != nil {
		slog.Warn("selection notify failed", "err", err)
	}
}

// cloneBytes copies b, keeping nil and zero-length distinct: a published
// empty payload is content, a nil is the cleared state.
func cloneBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

func (c *Channel) dropRequest(requestor display.Window, prop display.Atom) {
	for i, r := range c.requests {
		if r.requestor == requestor && r.property == prop {
			c.requests = append(c.requests[:i], c.requests[i+1:]...)
			return
		}
	}
}
