package crypto

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDeriveKeyDeterministic(t *testing.T) {
	k1, err := DeriveKey("sesame")
	require.NoError(t, err)
	k2, err := DeriveKey("sesame")
	require.NoError(t, err)
	require.Equal(t, k1, k2)

	k3, err := DeriveKey("different")
	require.NoError(t, err)
	require.NotEqual(t, k1, k3)
}

func TestSealOpenRoundTrip(t *testing.T) {
	key, err := DeriveKey("sesame")
	require.NoError(t, err)

	plain := []byte(`{"type":"PING"}`)
	ct, err := Seal(plain, key)
	require.NoError(t, err)
	require.NotEqual(t, plain, ct)

	out, err := Open(ct, key)
	require.NoError(t, err)
	require.Equal(t, plain, out)
}

func TestOpenWrongKey(t *testing.T) {
	k1, err := DeriveKey("sesame")
	require.NoError(t, err)
	k2, err := DeriveKey("other")
	require.NoError(t, err)

	ct, err := Seal([]byte("secret"), k1)
	require.NoError(t, err)

	_, err = Open(ct, k2)
	require.Error(t, err)
}

func TestOpenTruncated(t *testing.T) {
	key, err := DeriveKey("sesame")
	require.NoError(t, err)
	_, err = Open([]byte("short"), key)
	require.Error(t, err)
}
