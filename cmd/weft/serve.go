package main

import (
	"errors"
	"io"
	"log/slog"
	"net"
	"os"

	"go.klb.dev/weft/internal/display"
	"go.klb.dev/weft/internal/message"
	"go.klb.dev/weft/internal/screen"
	"go.klb.dev/weft/internal/wire"
)

// clipboardID maps a protocol clipboard name to its display id.
func clipboardID(name string) (display.ClipboardID, bool) {
	switch name {
	case message.ClipboardName:
		return display.ClipboardDefault, true
	case message.PrimaryName:
		return display.ClipboardSelection, true
	default:
		return 0, false
	}
}

var clipboardNames = map[display.ClipboardID]string{
	display.ClipboardDefault:   message.ClipboardName,
	display.ClipboardSelection: message.PrimaryName,
}

// serveIPC accepts control-socket connections until the listener closes.
func serveIPC(ln net.Listener, scr *screen.Screen, key *[32]byte) {
	for {
		conn, err := ln.Accept()
		if err != nil {
			if !errors.Is(err, net.ErrClosed) {
				slog.Warn("control socket accept failed", "err", err)
			}
			return
		}
		go handleConn(conn, scr, key)
	}
}

// handleConn answers requests on one control connection. Every request gets
// exactly one reply.
func handleConn(conn net.Conn, scr *screen.Screen, key *[32]byte) {
	wc := wire.New(conn, key)
	defer wc.Close()

	for {
		req, err := wc.Recv()
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) {
				slog.Debug("control connection dropped", "err", err)
			}
			return
		}

		var resp *message.Message
		switch req.Type {
		case message.TypePing:
			resp = &message.Message{Type: message.TypePong}
		case message.TypeSet:
			resp = handleSet(scr, req)
		case message.TypeGet:
			resp = handleGet(scr, req)
		case message.TypeStatus:
			resp = handleStatus(scr)
		default:
			resp = message.Errorf("unsupported request %q", req.Type)
		}

		if err := wc.Send(resp); err != nil {
			slog.Debug("control reply failed", "err", err)
			return
		}
	}
}

func handleSet(scr *screen.Screen, req *message.Message) *message.Message {
	id, ok := clipboardID(req.ClipboardOf())
	if !ok {
		return message.Errorf("unknown clipboard %q", req.Clipboard)
	}

	var data []byte
	if len(req.Items) > 0 {
		var err error
		data, err = req.Items[0].Decode()
		if err != nil {
			return message.Errorf("bad payload: %v", err)
		}
	}
	// An empty SET clears the clipboard: ownership is still asserted so any
	// previous owner is displaced, but reads return nothing.
	if !scr.SetClipboard(id, data) {
		return message.Errorf("clipboard grab refused")
	}
	return &message.Message{Type: message.TypeSet, Clipboard: req.ClipboardOf()}
}

func handleGet(scr *screen.Screen, req *message.Message) *message.Message {
	id, ok := clipboardID(req.ClipboardOf())
	if !ok {
		return message.Errorf("unknown clipboard %q", req.Clipboard)
	}

	resp := &message.Message{
		Type:      message.TypeGetResponse,
		Clipboard: req.ClipboardOf(),
	}
	if data, ok := scr.Clipboard(id); ok {
		resp.Items = []message.Item{message.NewTextItem(string(data))}
	}
	return resp
}

func handleStatus(scr *screen.Screen) *message.Message {
	_, _, w, h := scr.Shape()
	px, py := scr.CursorPos()

	resp := &message.Message{
		Type:    message.TypeStatusResponse,
		Version: Version,
		PID:     os.Getpid(),
		Screen: &message.ScreenStatus{
			Width:     w,
			Height:    h,
			PointerX:  px,
			PointerY:  py,
			PointerOK: true,
		},
	}
	for id := display.ClipboardID(0); id < display.ClipboardCount; id++ {
		data, has := scr.Clipboard(id)
		resp.Clipboards = append(resp.Clipboards, message.ClipboardStatus{
			Name:     clipboardNames[id],
			Owned:    scr.ClipboardOwned(id),
			Pending:  scr.PendingTransfers(id),
			HasBytes: has && len(data) > 0,
		})
	}
	return resp
}
