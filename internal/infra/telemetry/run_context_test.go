package telemetry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestEnsureRunMetaGeneratesID(t *testing.T) {
	ctx, meta := EnsureRunMeta(context.Background(), "")
	require.NotEmpty(t, meta.RunID)

	got, ok := RunIDFromContext(ctx)
	require.True(t, ok)
	require.Equal(t, meta.RunID, got)
}

func TestEnsureRunMetaUsesProvidedID(t *testing.T) {
	ctx, meta := EnsureRunMeta(context.Background(), "run-123")
	require.Equal(t, "run-123", meta.RunID)

	ctx, meta = EnsureRunMeta(ctx, "")
	require.Equal(t, "run-123", meta.RunID)

	got, ok := RunIDFromContext(ctx)
	require.True(t, ok)
	require.Equal(t, "run-123", got)
}

func TestTraceSpanFromContext(t *testing.T) {
	traceID, err := trace.TraceIDFromHex("0123456789abcdef0123456789abcdef")
	require.NoError(t, err)
	spanID, err := trace.SpanIDFromHex("0123456789abcdef")
	require.NoError(t, err)
	spanCtx := trace.NewSpanContext(trace.SpanContextConfig{
		TraceID: traceID,
		SpanID:  spanID,
	})
	ctx := trace.ContextWithSpanContext(context.Background(), spanCtx)

	gotTraceID, gotSpanID := TraceSpanFromContext(ctx)
	require.Equal(t, traceID.String(), gotTraceID)
	require.Equal(t, spanID.String(), gotSpanID)

	_, meta := EnsureRunMeta(ctx, "run-1")
	require.Equal(t, traceID.String(), meta.TraceID)
}

func TestRunFields(t *testing.T) {
	fields := RunFields(RunMeta{
		RunID:   "run-1",
		TraceID: "trace-1",
		SpanID:  "span-1",
	})
	require.Len(t, fields, 3)
	require.Equal(t, FieldRunID, fields[0].Key)
	require.Equal(t, FieldTraceID, fields[1].Key)
	require.Equal(t, FieldSpanID, fields[2].Key)
	require.Nil(t, RunFields(RunMeta{}))
}

func TestLoggerWithRun(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	ctx, _ := EnsureRunMeta(context.Background(), "run-9")

	LoggerWithRun(ctx, zap.New(core)).Info("hello")

	entries := logs.All()
	require.Len(t, entries, 1)
	require.Equal(t, "run-9", entries[0].ContextMap()[FieldRunID])
	require.NotNil(t, LoggerWithRun(context.Background(), nil))
}
