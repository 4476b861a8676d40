//go:build !windows

package ipc

import (
	"net"
	"os"
	"path/filepath"
)

func socketPath() string {
	if dir := os.Getenv("XDG_RUNTIME_DIR"); dir != "" {
		return filepath.Join(dir, "weft.sock")
	}
	return filepath.Join(os.TempDir(), "weft.sock")
}

func listenIPC(path string) (net.Listener, error) {
	l, err := net.Listen("unix", path)
	if err != nil {
		return nil, err
	}
	// The control channel carries clipboard content; keep it owner-only.
	_ = os.Chmod(path, 0o600)
	return l, nil
}

func dialIPC(path string) (net.Conn, error) {
	return net.Dial("unix", path)
}
