package tracing_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/CZERTAINLY/Overseer/internal/tracing"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestEnd(t *testing.T) {
	t.Parallel()
	exporter := tracetest.NewInMemoryExporter()
	tp, err := tracing.NewProvider("overseer", "test", exporter)
	require.NoError(t, err)
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	tracer := tracing.Tracer(tp)
	_, ok := tracer.Start(t.Context(), "ok")
	tracing.End(ok, nil)
	_, bad := tracer.Start(t.Context(), "bad")
	tracing.End(bad, errors.New("boom"))

	spans := exporter.GetSpans()
	require.Len(t, spans, 2)
	require.Equal(t, "ok", spans[0].Name)
	require.Equal(t, codes.Ok, spans[0].Status.Code)
	require.Equal(t, "bad", spans[1].Name)
	require.Equal(t, codes.Error, spans[1].Status.Code)
	require.Equal(t, "boom", spans[1].Status.Description)
	require.Len(t, spans[1].Events, 1)
}

func TestInitFile(t *testing.T) {
	// can't be parallel as it replaces the global provider
	output := filepath.Join(t.TempDir(), "spans.json")
	shutdown, err := tracing.Init("overseer", "test", output)
	require.NoError(t, err)

	_, span := tracing.Tracer(nil).Start(t.Context(), "launch")
	tracing.End(span, nil)
	require.NoError(t, shutdown(context.Background()))

	data, err := os.ReadFile(output)
	require.NoError(t, err)
	require.Contains(t, string(data), `"Name":"launch"`)
}
