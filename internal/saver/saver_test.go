package saver

import (
	"testing"

	"github.com/stretchr/testify/require"

	"go.klb.dev/weft/internal/display"
	"go.klb.dev/weft/internal/display/displaytest"
)

func TestNotifyModeArmsAndDisarms(t *testing.T) {
	f := displaytest.New()
	c := New(f, f.Window())

	c.Open(true)
	require.Equal(t, f.Window(), f.SaverNotifyWindow())

	c.Close()
	require.EqualValues(t, display.None, f.SaverNotifyWindow())
	require.Equal(t, []string{"notify:1", "notify:0"}, f.SaverLog())
}

func TestDisableModeRestoresOnClose(t *testing.T) {
	f := displaytest.New()
	c := New(f, f.Window())

	c.Open(false)
	c.Close()
	require.Equal(t, []string{"disable", "enable"}, f.SaverLog())
}

func TestCloseWithoutOpenIsNoop(t *testing.T) {
	f := displaytest.New()
	c := New(f, f.Window())

	c.Close()
	require.Empty(t, f.SaverLog())
}

func TestSetActive(t *testing.T) {
	f := displaytest.New()
	c := New(f, f.Window())

	c.SetActive(true)
	c.SetActive(false)
	require.Equal(t, []string{"activate", "reset"}, f.SaverLog())
}
