package app

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

func TestLoadConfigDefaultsWithEnv(t *testing.T) {
	t.Setenv("CONFIG_PATH", "")
	t.Setenv("GROW_SERVER_PORT", "9191")

	cfg, err := LoadConfig("")
	require.NoError(t, err)
	assert.Equal(t, 9191, cfg.Server.Port)
}

func TestLoadConfigFromEnvPath(t *testing.T) {
	path := filepath.Join(t.TempDir(), "grow.yaml")
	require.NoError(t, os.WriteFile(path, []byte("scheduler:\n  interval: 2m\n"), 0o600))
	t.Setenv("CONFIG_PATH", path)

	cfg, err := LoadConfig("")
	require.NoError(t, err)
	assert.Equal(t, 2*time.Minute, cfg.Scheduler.Interval)
}

func TestLoadConfigErrors(t *testing.T) {
	t.Setenv("CONFIG_PATH", "")

	_, err := LoadConfig(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to load config")

	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server:\n  port: 0\n"), 0o600))
	_, err = LoadConfig(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid configuration")
}

func TestInitTracingIssuesTraceIDs(t *testing.T) {
	prev := otel.GetTracerProvider()
	t.Cleanup(func() { otel.SetTracerProvider(prev) })

	shutdown := InitTracing("grow-test")
	_, span := otel.Tracer("test").Start(context.Background(), "op")
	sc := trace.SpanContextFromContext(trace.ContextWithSpan(context.Background(), span))
	span.End()

	assert.True(t, sc.HasTraceID())
	require.NoError(t, shutdown(context.Background()))
}

func TestCloseRunsClosersInReverse(t *testing.T) {
	var order []int
	a := &App{}
	a.closers = append(a.closers,
		func() error { order = append(order, 1); return nil },
		func() error { order = append(order, 2); return assert.AnError },
	)

	err := a.Close()
	require.ErrorIs(t, err, assert.AnError)
	assert.Equal(t, []int{2, 1}, order)
	require.NoError(t, a.Close())
}
