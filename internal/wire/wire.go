// Package wire frames weft control messages over a net.Conn: one
// newline-terminated line per message, optionally sealed with NaCl
// secretbox.
//
// Plain form:
//
//	<json>\n
//
// Sealed form:
//
//	<base64(nonce+ciphertext)>\n
//
// Sealing changes only the line's content, never the framing, so both
// sides read the stream the same way regardless of key.
package wire

import (
	"bufio"
	"encoding/base64"
	"errors"
	"fmt"
	"net"
	"time"

	"go.klb.dev/weft/internal/crypto"
	"go.klb.dev/weft/internal/message"
)

const (
	// MaxLine is the largest line we will read (16 MiB). Clipboard payloads
	// beyond that are rejected rather than buffered.
	MaxLine = 16 * 1024 * 1024

	sendDeadline = 5 * time.Second
)

// Conn frames messages over a net.Conn.
type Conn struct {
	conn net.Conn
	br   *bufio.Reader
	key  *[32]byte // nil = plain JSON
}

// New wraps conn. A non-nil key seals every outbound line and opens every
// inbound one.
func New(conn net.Conn, key *[32]byte) *Conn {
	return &Conn{
		conn: conn,
		br:   bufio.NewReaderSize(conn, 64*1024),
		key:  key,
	}
}

// Close closes the underlying connection.
func (c *Conn) Close() error { return c.conn.Close() }

// RemoteAddr returns the remote network address.
func (c *Conn) RemoteAddr() net.Addr { return c.conn.RemoteAddr() }

// SetRecvDeadline sets the read deadline; zero clears it.
func (c *Conn) SetRecvDeadline(d time.Duration) {
	if d == 0 {
		_ = c.conn.SetReadDeadline(time.Time{})
	} else {
		_ = c.conn.SetReadDeadline(time.Now().Add(d))
	}
}

// Send serialises msg, seals it when a key is set, and writes one line.
func (c *Conn) Send(msg *message.Message) error {
	raw, err := msg.Encode()
	if err != nil {
		return fmt.Errorf("encode: %w", err)
	}

	var line []byte
	if c.key != nil {
		ct, err := crypto.Seal(raw, c.key)
		if err != nil {
			return fmt.Errorf("seal: %w", err)
		}
		line = append([]byte(base64.StdEncoding.EncodeToString(ct)), '\n')
	} else {
		line = append(raw, '\n')
	}

	_ = c.conn.SetWriteDeadline(time.Now().Add(sendDeadline))
	_, err = c.conn.Write(line)
	_ = c.conn.SetWriteDeadline(time.Time{})
	return err
}

// readLine reads up to and including the next newline, failing as soon as
// the accumulated line passes MaxLine so an oversized peer cannot make us
// buffer an unbounded message.
func (c *Conn) readLine() ([]byte, error) {
	var line []byte
	for {
		frag, err := c.br.ReadSlice('\n')
		line = append(line, frag...)
		if len(line) > MaxLine {
			return nil, fmt.Errorf("message too large (over %d bytes)", MaxLine)
		}
		if err == nil {
			return line, nil
		}
		if !errors.Is(err, bufio.ErrBufferFull) {
			return nil, err
		}
	}
}

// Recv reads one line, opens it when a key is set, and decodes the message.
func (c *Conn) Recv() (*message.Message, error) {
	line, err := c.readLine()
	if err != nil {
		return nil, err
	}
	line = line[:len(line)-1]

	raw := line
	if c.key != nil {
		ct, err := base64.StdEncoding.DecodeString(string(line))
		if err != nil {
			return nil, fmt.Errorf("base64 decode: %w", err)
		}
		raw, err = crypto.Open(ct, c.key)
		if err != nil {
			return nil, fmt.Errorf("open: %w", err)
		}
	}

	return message.Decode(raw)
}
