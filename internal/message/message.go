// Package message defines the weft control protocol spoken between the
// weft CLI and the daemon over the local IPC socket.
//
// Every message is one newline-terminated JSON object. Clipboard payloads
// are base64-encoded so binary content survives the JSON framing.
package message

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
)

// Type identifies the kind of message.
type Type string

const (
	// TypeSet replaces a clipboard's content.
	TypeSet Type = "SET"
	// TypeGet asks for a clipboard's current content.
	TypeGet Type = "GET"
	// TypeGetResponse answers a GET.
	TypeGetResponse Type = "GET_RESPONSE"
	// TypeStatus asks for daemon state.
	TypeStatus Type = "STATUS"
	// TypeStatusResponse answers a STATUS.
	TypeStatusResponse Type = "STATUS_RESPONSE"
	// TypePing and TypePong probe daemon liveness.
	TypePing Type = "PING"
	TypePong Type = "PONG"
	// TypeError reports a request failure.
	TypeError Type = "ERROR"
)

// Clipboard names understood in the Clipboard field.
const (
	ClipboardName = "clipboard" // explicit-copy clipboard
	PrimaryName   = "primary"   // implicit primary selection
)

// Item is one clipboard representation with its MIME type. Data is
// base64-encoded.
type Item struct {
	MIME string `json:"mime"`
	Data string `json:"data"`
}

// NewTextItem builds a text/plain Item from a string.
func NewTextItem(text string) Item {
	return Item{
		MIME: "text/plain",
		Data: base64.StdEncoding.EncodeToString([]byte(text)),
	}
}

// Decode returns the raw bytes of the item payload.
func (it Item) Decode() ([]byte, error) {
	return base64.StdEncoding.DecodeString(it.Data)
}

// ClipboardStatus describes one clipboard slot in a STATUS_RESPONSE.
type ClipboardStatus struct {
	Name     string `json:"name"`
	Owned    bool   `json:"owned"`
	Pending  int    `json:"pending"`  // in-flight outbound transfers
	HasBytes bool   `json:"has_data"` // content cached locally
}

// ScreenStatus describes display state in a STATUS_RESPONSE.
type ScreenStatus struct {
	Width      int  `json:"width"`
	Height     int  `json:"height"`
	PointerX   int  `json:"pointer_x"`
	PointerY   int  `json:"pointer_y"`
	PointerOK  bool `json:"pointer_ok"`
	SaverArmed bool `json:"saver_armed"`
}

// Message is the top-level wire envelope.
type Message struct {
	Type      Type   `json:"type"`
	Clipboard string `json:"clipboard,omitempty"`

	// SET / GET_RESPONSE
	Items []Item `json:"items,omitempty"`

	// STATUS_RESPONSE
	Version    string            `json:"version,omitempty"`
	PID        int               `json:"pid,omitempty"`
	Screen     *ScreenStatus     `json:"screen,omitempty"`
	Clipboards []ClipboardStatus `json:"clipboards,omitempty"`

	// ERROR
	Error string `json:"error,omitempty"`
}

// Encode serialises the message to JSON without the trailing newline.
func (m *Message) Encode() ([]byte, error) {
	return json.Marshal(m)
}

// Decode deserialises a message from raw JSON bytes.
func Decode(b []byte) (*Message, error) {
	var m Message
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, fmt.Errorf("message decode: %w", err)
	}
	return &m, nil
}

// ClipboardOf returns the effective clipboard name, defaulting to the
// explicit-copy clipboard.
func (m *Message) ClipboardOf() string {
	if m.Clipboard == "" {
		return ClipboardName
	}
	return m.Clipboard
}

// TextPayload returns the decoded content of the first text/plain item,
// or "" when there is none.
func (m *Message) TextPayload() string {
	for _, it := range m.Items {
		if it.MIME == "text/plain" {
			b, err := it.Decode()
			if err != nil {
				return ""
			}
			return string(b)
		}
	}
	return ""
}

// Errorf builds an ERROR message.
func Errorf(format string, args ...any) *Message {
	return &Message{Type: TypeError, Error: fmt.Sprintf(format, args...)}
}
