package telemetry

import (
	"context"
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestNewMetricsRegistersCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	m.TurnsStarted.WithLabelValues("main").Inc()
	m.ToolCalls.WithLabelValues("fs_read", "ok").Inc()

	families, err := reg.Gather()
	require.NoError(t, err)

	names := make(map[string]bool, len(families))
	for _, f := range families {
		names[f.GetName()] = true
	}
	require.True(t, names["batchismo_turns_started_total"])
	require.True(t, names["batchismo_tool_calls_total"])
}

func TestTurnsStartedCounterIncrements(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)
	m.TurnsStarted.WithLabelValues("worker").Add(3)

	require.Equal(t, float64(3), testutil.ToFloat64(m.TurnsStarted.WithLabelValues("worker")))
}

func TestStartTurnAndEndWithErrorRecordsStatus(t *testing.T) {
	tracer, shutdown := NewTracer("test-service")
	defer func() { _ = shutdown(context.Background()) }()

	_, span := tracer.StartTurn(context.Background(), "session-1", "main")
	EndWithError(span, errors.New("boom"))
	require.False(t, span.IsRecording(), "span must be ended after EndWithError")
}

func TestStartToolSpanEndsCleanlyOnSuccess(t *testing.T) {
	tracer, shutdown := NewTracer("test-service")
	defer func() { _ = shutdown(context.Background()) }()

	_, span := tracer.StartTool(context.Background(), "fs_read")
	EndWithError(span, nil)
	require.False(t, span.IsRecording())
}
