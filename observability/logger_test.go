package observability_test

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/coachpo/rivulet/observability"
)

func TestZerologLoggerEmitsFields(t *testing.T) {
	var buf bytes.Buffer
	logger := observability.NewZerologLogger(&buf, "debug")

	logger.Info("queue drained",
		observability.F("queue", "bridge"),
		observability.F("depth", 0))

	out := buf.String()
	require.Contains(t, out, `"message":"queue drained"`)
	require.Contains(t, out, `"queue":"bridge"`)
	require.Contains(t, out, `"depth":0`)
}

func TestZerologLoggerLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger := observability.NewZerologLogger(&buf, "error")

	logger.Debug("suppressed")
	logger.Error("surfaced")

	out := buf.String()
	require.NotContains(t, out, "suppressed")
	require.Contains(t, out, "surfaced")
}

func TestSetLoggerRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	logger := observability.NewZerologLogger(&buf, "info")

	observability.SetLogger(logger)
	t.Cleanup(func() { observability.SetLogger(nil) })

	observability.Log().Info("routed")
	require.Contains(t, buf.String(), "routed")

	observability.SetLogger(nil)
	observability.Log().Info("dropped")
	require.NotContains(t, buf.String(), "dropped")
}
