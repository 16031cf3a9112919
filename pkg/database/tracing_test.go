package database

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"
)

func captureSpans(t *testing.T) *tracetest.InMemoryExporter {
	t.Helper()
	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter))
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() {
		_ = tp.Shutdown(context.Background())
		otel.SetTracerProvider(prev)
	})
	return exporter
}

func TestTraceQuery_RecordsSpan(t *testing.T) {
	exporter := captureSpans(t)

	ctx, end := TraceQuery(context.Background(), "LockLevel", "SELECT ... FOR UPDATE")
	assert.True(t, trace.SpanContextFromContext(ctx).IsValid())
	end(nil)

	spans := exporter.GetSpans()
	require.Len(t, spans, 1)
	assert.Equal(t, "db.LockLevel", spans[0].Name)
	assert.Equal(t, trace.SpanKindClient, spans[0].SpanKind)
	assert.Equal(t, codes.Unset, spans[0].Status.Code)

	attrs := map[string]string{}
	for _, kv := range spans[0].Attributes {
		attrs[string(kv.Key)] = kv.Value.AsString()
	}
	assert.Equal(t, "postgresql", attrs["db.system"])
	assert.Equal(t, "SELECT ... FOR UPDATE", attrs["db.statement"])
}

func TestTraceQuery_RecordsError(t *testing.T) {
	exporter := captureSpans(t)

	_, end := TraceQuery(context.Background(), "InsertMovement", "INSERT INTO stock_movements")
	end(errors.New("deadlock detected"))

	spans := exporter.GetSpans()
	require.Len(t, spans, 1)
	assert.Equal(t, codes.Error, spans[0].Status.Code)
	assert.Equal(t, "deadlock detected", spans[0].Status.Description)
	require.Len(t, spans[0].Events, 1)
	assert.Equal(t, "exception", spans[0].Events[0].Name)
}

func TestSlowQueryLogging(t *testing.T) {
	t.Cleanup(func() { SetSlowQueryLogging(0, nil) })

	tests := []struct {
		name      string
		threshold time.Duration
		err       error
		wantLog   bool
	}{
		{"disabled", 0, nil, false},
		{"fast", time.Hour, nil, false},
		{"slow", time.Nanosecond, nil, true},
		{"slow and failed", time.Nanosecond, errors.New("timeout"), true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			var buf bytes.Buffer
			SetSlowQueryLogging(tc.threshold, slog.New(slog.NewTextHandler(&buf, nil)))

			_, end := TraceQuery(context.Background(), "ListMovements", "SELECT * FROM stock_movements")
			time.Sleep(time.Millisecond)
			end(tc.err)

			if !tc.wantLog {
				assert.Empty(t, buf.String())
				return
			}
			assert.Contains(t, buf.String(), "slow query")
			assert.Contains(t, buf.String(), "operation=ListMovements")
			if tc.err != nil {
				assert.Contains(t, buf.String(), "error=timeout")
			}
		})
	}
}
