// Package ipc is the local control channel between the weft CLI and the
// daemon. The daemon listens on a per-user socket; copy/paste/status
// sub-commands probe for it and fall back to the display server's own
// clipboard tooling when no daemon is running.
package ipc

import (
	"net"
	"os"
)

// SocketPath returns the control socket path. WEFT_SOCKET overrides the
// platform default.
func SocketPath() string {
	if s := os.Getenv("WEFT_SOCKET"); s != "" {
		return s
	}
	return socketPath()
}

// IsRunning reports whether a daemon appears to be listening on the
// control socket. A cheap dial-and-close; no data is exchanged.
func IsRunning() bool {
	c, err := dialIPC(SocketPath())
	if err != nil {
		return false
	}
	_ = c.Close()
	return true
}

// Listen binds the control socket, clearing any stale socket file left by
// a crashed daemon first.
func Listen() (net.Listener, error) {
	path := SocketPath()
	if !IsRunning() {
		_ = os.Remove(path)
	}
	return listenIPC(path)
}

// Dial connects to a running daemon's control socket.
func Dial() (net.Conn, error) {
	return dialIPC(SocketPath())
}
