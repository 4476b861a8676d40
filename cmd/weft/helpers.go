package main

import (
	"fmt"
	"time"

	"go.klb.dev/weft/internal/crypto"
	"go.klb.dev/weft/internal/ipc"
	"go.klb.dev/weft/internal/message"
	"go.klb.dev/weft/internal/wire"
)

const replyTimeout = 5 * time.Second

// roundTrip sends one request to the daemon's control socket and returns
// the single reply. token seals the exchange when the daemon requires it.
func roundTrip(token string, req *message.Message) (*message.Message, error) {
	var key *[32]byte
	if token != "" {
		var err error
		key, err = crypto.DeriveKey(token)
		if err != nil {
			return nil, err
		}
	}

	conn, err := ipc.Dial()
	if err != nil {
		return nil, fmt.Errorf("connect daemon: %w", err)
	}
	wc := wire.New(conn, key)
	defer wc.Close()

	if err := wc.Send(req); err != nil {
		return nil, fmt.Errorf("send: %w", err)
	}
	wc.SetRecvDeadline(replyTimeout)
	resp, err := wc.Recv()
	if err != nil {
		return nil, fmt.Errorf("reply: %w", err)
	}
	return resp, nil
}
