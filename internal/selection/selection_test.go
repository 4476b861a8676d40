package selection

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"

	"go.klb.dev/weft/internal/display"
	"go.klb.dev/weft/internal/display/displaytest"
)

func newChannel(t *testing.T, f *displaytest.Fake) *Channel {
	t.Helper()
	c, err := New(f, display.ClipboardDefault, f.Window())
	require.NoError(t, err)
	return c
}

func atom(t *testing.T, f *displaytest.Fake, name string) display.Atom {
	t.Helper()
	a, err := f.Atom(name)
	require.NoError(t, err)
	return a
}

func TestOwnThenGetRoundTrip(t *testing.T) {
	f := displaytest.New()
	c := newChannel(t, f)

	require.True(t, c.Own(1001, []byte("hi")))
	require.True(t, c.Owned())
	require.Equal(t, f.Window(), f.Owner(c.Selection()))

	got, ok := c.Get(1002)
	require.True(t, ok)
	require.Equal(t, []byte("hi"), got)
}

func TestClearRelinquishesContent(t *testing.T) {
	f := displaytest.New()
	c := newChannel(t, f)

	require.True(t, c.Own(1001, []byte("hi")))
	require.True(t, c.Clear(1002))

	_, ok := c.Get(1003)
	require.False(t, ok)
}

func TestOwnRefusedLeavesStateUntouched(t *testing.T) {
	f := displaytest.New()
	f.RefuseOwnership = true
	c := newChannel(t, f)

	require.False(t, c.Own(1001, []byte("hi")))
	require.False(t, c.Owned())

	_, ok := c.Get(1002)
	require.False(t, ok)
}

func TestGetFetchesFromPeerWhenNotOwned(t *testing.T) {
	f := displaytest.New()
	c := newChannel(t, f)
	f.PeerContent[c.Selection()] = []byte("peer data")

	got, ok := c.Get(1001)
	require.True(t, ok)
	require.Equal(t, []byte("peer data"), got)
}

func TestSmallRequestAnsweredImmediately(t *testing.T) {
	f := displaytest.New()
	c := newChannel(t, f)
	utf8 := atom(t, f, "UTF8_STRING")
	prop := atom(t, f, "XSEL_DATA")

	require.True(t, c.Own(1001, []byte("payload")))
	c.AddRequest(f.Window(), 42, utf8, 1002, prop)

	writes := f.Writes(42)
	require.Len(t, writes, 1)
	require.Equal(t, []byte("payload"), writes[0].Data)
	require.Equal(t, utf8, writes[0].Type)

	notifies := f.Notifies(42)
	require.Len(t, notifies, 1)
	require.Equal(t, prop, notifies[0].Property)
	require.Zero(t, c.PendingRequests())
}

func TestTwoRequestorsEachAnsweredExactlyOnce(t *testing.T) {
	f := displaytest.New()
	c := newChannel(t, f)
	utf8 := atom(t, f, "UTF8_STRING")
	prop := atom(t, f, "XSEL_DATA")

	require.True(t, c.Own(1001, []byte("shared")))
	c.AddRequest(f.Window(), 42, utf8, 1002, prop)
	c.AddRequest(f.Window(), 43, utf8, 1003, prop)

	require.Len(t, f.Notifies(42), 1)
	require.Len(t, f.Notifies(43), 1)
	require.Len(t, f.Writes(42), 1)
	require.Len(t, f.Writes(43), 1)
}

func TestUnsupportedTargetGetsRefusal(t *testing.T) {
	f := displaytest.New()
	c := newChannel(t, f)
	png := atom(t, f, "image/png")
	prop := atom(t, f, "XSEL_DATA")

	require.True(t, c.Own(1001, []byte("text only")))
	c.AddRequest(f.Window(), 42, png, 1002, prop)

	require.Empty(t, f.Writes(42))
	notifies := f.Notifies(42)
	require.Len(t, notifies, 1)
	require.EqualValues(t, display.None, notifies[0].Property)
}

func TestRequestWithoutContentGetsRefusal(t *testing.T) {
	f := displaytest.New()
	c := newChannel(t, f)
	utf8 := atom(t, f, "UTF8_STRING")
	prop := atom(t, f, "XSEL_DATA")

	c.AddRequest(f.Window(), 42, utf8, 1002, prop)

	notifies := f.Notifies(42)
	require.Len(t, notifies, 1)
	require.EqualValues(t, display.None, notifies[0].Property)
}

func TestTargetsEnumeration(t *testing.T) {
	f := displaytest.New()
	c := newChannel(t, f)
	targets := atom(t, f, "TARGETS")
	prop := atom(t, f, "XSEL_DATA")

	require.True(t, c.Own(1001, []byte("x")))
	c.AddRequest(f.Window(), 42, targets, 1002, prop)

	writes := f.Writes(42)
	require.Len(t, writes, 1)
	require.Equal(t, byte(32), writes[0].Format)
	require.Equal(t, 12, len(writes[0].Data)) // three atoms
	require.Len(t, f.Notifies(42), 1)
}

func TestLargePayloadChunksAndTerminator(t *testing.T) {
	f := displaytest.New()
	c := newChannel(t, f)
	utf8 := atom(t, f, "UTF8_STRING")
	prop := atom(t, f, "XSEL_DATA")

	payload := bytes.Repeat([]byte("abcdefgh"), 1500) // 12000 bytes, 3 chunks
	require.True(t, c.Own(1001, payload))
	c.AddRequest(f.Window(), 42, utf8, 1002, prop)
	require.Equal(t, 1, c.PendingRequests())

	// Pace the transfer: every property deletion pulls the next chunk.
	for c.PendingRequests() > 0 {
		require.True(t, c.PropertyConsumed(42, prop))
	}

	writes := f.Writes(42)
	require.Len(t, writes, 4) // 3 data chunks + zero-length terminator

	var total []byte
	for _, w := range writes[:len(writes)-1] {
		require.NotEmpty(t, w.Data)
		total = append(total, w.Data...)
	}
	require.Empty(t, writes[len(writes)-1].Data)
	require.Equal(t, payload, total)

	// Exactly one completion signal.
	require.Len(t, f.Notifies(42), 1)

	// Stray deletions after completion match nothing.
	require.False(t, c.PropertyConsumed(42, prop))
}

func TestContentChangeDoesNotCorruptInflightTransfer(t *testing.T) {
	f := displaytest.New()
	c := newChannel(t, f)
	utf8 := atom(t, f, "UTF8_STRING")
	prop := atom(t, f, "XSEL_DATA")

	payload := bytes.Repeat([]byte("12345678"), 1024) // 8192 bytes, 2 chunks
	require.True(t, c.Own(1001, payload))
	c.AddRequest(f.Window(), 42, utf8, 1002, prop)

	// New content lands mid-transfer.
	require.True(t, c.Own(1003, []byte("new")))

	for c.PendingRequests() > 0 {
		require.True(t, c.PropertyConsumed(42, prop))
	}

	writes := f.Writes(42)
	var total []byte
	for _, w := range writes[:len(writes)-1] {
		total = append(total, w.Data...)
	}
	require.Equal(t, payload, total)
}

func TestDestroyedRequestorGetsNothingFurther(t *testing.T) {
	f := displaytest.New()
	c := newChannel(t, f)
	utf8 := atom(t, f, "UTF8_STRING")
	prop := atom(t, f, "XSEL_DATA")

	payload := bytes.Repeat([]byte("abcdefgh"), 1024)
	require.True(t, c.Own(1001, payload))
	c.AddRequest(f.Window(), 42, utf8, 1002, prop)

	before := len(f.Writes(42))
	require.True(t, c.DestroyRequest(42))
	require.Zero(t, c.PendingRequests())

	// No further writes, no completion for the dead window.
	require.False(t, c.PropertyConsumed(42, prop))
	require.Len(t, f.Writes(42), before)
	require.Len(t, f.Notifies(42), 1) // only the initial conversion reply

	// Destroying again reports nothing left.
	require.False(t, c.DestroyRequest(42))
}

func TestLostKeepsServingInflightTransfers(t *testing.T) {
	f := displaytest.New()
	c := newChannel(t, f)
	utf8 := atom(t, f, "UTF8_STRING")
	prop := atom(t, f, "XSEL_DATA")

	payload := bytes.Repeat([]byte("abcdefgh"), 1024)
	require.True(t, c.Own(1001, payload))
	c.AddRequest(f.Window(), 42, utf8, 1002, prop)

	c.Lost(1004)
	require.False(t, c.Owned())

	for c.PendingRequests() > 0 {
		require.True(t, c.PropertyConsumed(42, prop))
	}
	writes := f.Writes(42)
	require.Empty(t, writes[len(writes)-1].Data)
}

func TestOwnEmptyPayloadIsNotClear(t *testing.T) {
	f := displaytest.New()
	c := newChannel(t, f)

	require.True(t, c.Own(1001, []byte{}))
	require.True(t, c.Owned())

	// Empty content is still content.
	got, ok := c.Get(1002)
	require.True(t, ok)
	require.Empty(t, got)

	// A peer asking for it gets one zero-length answer, not a refusal.
	utf8 := atom(t, f, "UTF8_STRING")
	prop := atom(t, f, "PEER_PROP")
	c.AddRequest(f.Window(), 55, utf8, 1003, prop)

	writes := f.Writes(55)
	require.Len(t, writes, 1)
	require.Empty(t, writes[0].Data)
	notifies := f.Notifies(55)
	require.Len(t, notifies, 1)
	require.Equal(t, prop, notifies[0].Property)

	// Clearing afterwards really does drop the content.
	require.True(t, c.Clear(1004))
	_, ok = c.Get(1005)
	require.False(t, ok)
}
