package log_test

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/CZERTAINLY/Overseer/internal/log"
	"github.com/stretchr/testify/require"
)

func TestContextAttrs(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	logger := log.New(&buf, false)

	ctx := log.ContextAttrs(t.Context(), slog.String("task_id", "overseer-echo-1"))
	a := log.ContextAttrs(ctx, slog.Int("attempt", 1))
	b := log.ContextAttrs(ctx, slog.Int("attempt", 2))

	logger.DebugContext(a, "hidden")
	logger.With("slot", "echo").InfoContext(a, "first")
	logger.InfoContext(b, "second")

	var lines []map[string]any
	dec := json.NewDecoder(&buf)
	for dec.More() {
		var m map[string]any
		require.NoError(t, dec.Decode(&m))
		lines = append(lines, m)
	}
	require.Len(t, lines, 2)
	require.Equal(t, "first", lines[0]["msg"])
	require.Equal(t, "overseer-echo-1", lines[0]["task_id"])
	require.Equal(t, "echo", lines[0]["slot"])
	require.InDelta(t, 1, lines[0]["attempt"], 0)
	require.Equal(t, "second", lines[1]["msg"])
	require.InDelta(t, 2, lines[1]["attempt"], 0)
}

func TestSink(t *testing.T) {
	t.Parallel()
	for _, dest := range []string{"", "stderr", "stdout", "discard"} {
		w, err := log.Sink(dest)
		require.NoError(t, err)
		require.NoError(t, w.Close())
	}

	path := filepath.Join(t.TempDir(), "logs", "overseer.log")
	w, err := log.Sink(path)
	require.NoError(t, err)
	log.New(w, true).Debug("to file")
	require.NoError(t, w.Close())
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Contains(t, string(data), `"msg":"to file"`)
}
