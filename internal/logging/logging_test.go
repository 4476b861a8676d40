package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseFormat(t *testing.T) {
	require.Equal(t, FormatText, ParseFormat("text"))
	require.Equal(t, FormatText, ParseFormat("HUMAN"))
	require.Equal(t, FormatJSON, ParseFormat("json"))
	require.Equal(t, FormatAuto, ParseFormat(""))
	require.Equal(t, FormatAuto, ParseFormat("bogus"))
}

func TestParseLevel(t *testing.T) {
	require.Equal(t, slog.LevelDebug, ParseLevel("debug"))
	require.Equal(t, slog.LevelWarn, ParseLevel("WARN"))
	require.Equal(t, slog.LevelInfo, ParseLevel("nonsense"))
}

func TestHandlerJSONWhenNotTTY(t *testing.T) {
	var buf bytes.Buffer
	h := Handler(&buf, FormatAuto, slog.LevelInfo)
	logger := slog.New(h)
	logger.Info("hello", "k", "v")

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	require.Equal(t, "hello", line["msg"])
	require.Equal(t, "v", line["k"])
}

func TestHandlerRespectsLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(Handler(&buf, FormatJSON, slog.LevelWarn))
	logger.Info("dropped")
	require.Zero(t, buf.Len())
	logger.Warn("kept")
	require.NotZero(t, buf.Len())
}

func TestNamed(t *testing.T) {
	var buf bytes.Buffer
	old := slog.Default()
	slog.SetDefault(slog.New(Handler(&buf, FormatJSON, slog.LevelInfo)))
	defer slog.SetDefault(old)

	Named("screen").Info("up")

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	require.Equal(t, "screen", line["component"])
}
