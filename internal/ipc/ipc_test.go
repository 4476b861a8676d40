//go:build !windows

package ipc

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSocketPathOverride(t *testing.T) {
	t.Setenv("WEFT_SOCKET", "/run/custom/weft.sock")
	require.Equal(t, "/run/custom/weft.sock", SocketPath())
}

func TestSocketPathRuntimeDir(t *testing.T) {
	t.Setenv("WEFT_SOCKET", "")
	t.Setenv("XDG_RUNTIME_DIR", "/run/user/1000")
	require.Equal(t, filepath.Join("/run/user/1000", "weft.sock"), SocketPath())
}

func TestListenDialRoundTrip(t *testing.T) {
	sock := filepath.Join(t.TempDir(), "weft.sock")
	t.Setenv("WEFT_SOCKET", sock)

	require.False(t, IsRunning())

	ln, err := Listen()
	require.NoError(t, err)
	defer ln.Close()

	require.True(t, IsRunning())

	done := make(chan struct{})
	go func() {
		defer close(done)
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		_ = conn.Close()
	}()

	conn, err := Dial()
	require.NoError(t, err)
	_ = conn.Close()
	<-done
}

func TestListenClearsStaleSocket(t *testing.T) {
	sock := filepath.Join(t.TempDir(), "weft.sock")
	t.Setenv("WEFT_SOCKET", sock)

	// Simulate a crashed daemon: the socket file exists, nothing listens.
	require.NoError(t, os.WriteFile(sock, nil, 0o600))
	require.False(t, IsRunning())

	ln, err := Listen()
	require.NoError(t, err)
	defer ln.Close()
	require.True(t, IsRunning())
}
