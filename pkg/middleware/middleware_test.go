package middleware

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace"

	"github.com/utafrali/commerce-core/pkg/logger"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func jsonLines(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var out []map[string]any
	for _, line := range bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n")) {
		var m map[string]any
		require.NoError(t, json.Unmarshal(line, &m))
		out = append(out, m)
	}
	return out
}

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	return body.Error.Code
}

func TestRequestLogging_GeneratesCorrelationID(t *testing.T) {
	var buf bytes.Buffer
	var seen string
	h := RequestLogging(logger.NewWithWriter("inventory", "info", &buf))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = logger.CorrelationIDFromContext(r.Context())
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"data":{}}`))
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/inventory/movements", nil))

	require.NotEmpty(t, seen)
	assert.Equal(t, seen, rec.Header().Get(CorrelationHeader))

	lines := jsonLines(t, &buf)
	require.Len(t, lines, 1)
	assert.Equal(t, "http request", lines[0]["msg"])
	assert.Equal(t, float64(http.StatusCreated), lines[0]["status"])
	assert.Equal(t, float64(len(`{"data":{}}`)), lines[0]["bytes"])
	assert.Equal(t, seen, lines[0]["correlation_id"])
}

func TestRequestLogging_KeepsCallerCorrelationID(t *testing.T) {
	h := RequestLogging(discardLogger())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "corr-from-order", logger.CorrelationIDFromContext(r.Context()))
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/payments/p-1", nil)
	req.Header.Set(CorrelationHeader, "corr-from-order")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, "corr-from-order", rec.Header().Get(CorrelationHeader))
}

func TestRecovery(t *testing.T) {
	var buf bytes.Buffer
	h := Recovery(logger.NewWithWriter("payment", "info", &buf))(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("nil processor")
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/payments", nil))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "INTERNAL_ERROR", errorCode(t, rec))
	lines := jsonLines(t, &buf)
	require.Len(t, lines, 1)
	assert.Equal(t, "nil processor", lines[0]["panic"])
	assert.Contains(t, lines[0]["stack"], "runtime/debug.Stack")
}

func TestRecovery_RepanicsOnAbort(t *testing.T) {
	h := Recovery(discardLogger())(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic(http.ErrAbortHandler)
	}))

	assert.PanicsWithValue(t, http.ErrAbortHandler, func() {
		h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	})
}

func TestActor(t *testing.T) {
	tests := []struct {
		header string
		want   string
	}{
		{"staff-4", "staff-4"},
		{"  staff-4 ", "staff-4"},
		{"", ""},
	}
	for _, tc := range tests {
		var got string
		h := Actor(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got = logger.ActorFromContext(r.Context())
		}))
		req := httptest.NewRequest(http.MethodPost, "/api/v1/inventory/transfers", nil)
		req.Header.Set(ActorHeader, tc.header)
		h.ServeHTTP(httptest.NewRecorder(), req)

		assert.Equal(t, tc.want, got, "header %q", tc.header)
	}
}

func TestRequestLogger_EnrichesContextLogger(t *testing.T) {
	var buf bytes.Buffer
	traceID, _ := trace.TraceIDFromHex("4bf92f3577b34da6a3ce929d0e0e4736")
	spanID, _ := trace.SpanIDFromHex("00f067aa0ba902b7")
	sc := trace.NewSpanContext(trace.SpanContextConfig{TraceID: traceID, SpanID: spanID, TraceFlags: trace.FlagsSampled})

	h := RequestLogger(logger.NewWithWriter("inventory", "info", &buf))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		logger.FromContext(r.Context()).Info("reservation created")
	}))

	ctx := trace.ContextWithSpanContext(context.Background(), sc)
	ctx = logger.WithCorrelationID(ctx, "corr-1")
	req := httptest.NewRequest(http.MethodPost, "/api/v1/inventory/reservations", nil).WithContext(ctx)
	req.Header.Set(ActorHeader, "checkout")
	h.ServeHTTP(httptest.NewRecorder(), req)

	line := jsonLines(t, &buf)[0]
	assert.Equal(t, "corr-1", line["correlation_id"])
	assert.Equal(t, "checkout", line["actor"])
	assert.Equal(t, traceID.String(), line["trace_id"])
	assert.Equal(t, spanID.String(), line["span_id"])
}

func TestRequestLogger_PrefersActorFromContext(t *testing.T) {
	var got string
	h := Actor(RequestLogger(discardLogger())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = logger.ActorFromContext(r.Context())
	})))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(ActorHeader, " ops ")
	h.ServeHTTP(httptest.NewRecorder(), req)

	assert.Equal(t, "ops", got)
}

func TestStatusRecorder(t *testing.T) {
	t.Run("first header wins", func(t *testing.T) {
		rec := record(httptest.NewRecorder())
		rec.WriteHeader(http.StatusAccepted)
		rec.WriteHeader(http.StatusInternalServerError)
		assert.Equal(t, http.StatusAccepted, rec.status)
	})

	t.Run("implicit 200 on write", func(t *testing.T) {
		rec := record(httptest.NewRecorder())
		n, err := rec.Write([]byte("ok"))
		require.NoError(t, err)
		assert.Equal(t, http.StatusOK, rec.status)
		assert.Equal(t, 2, n)
		assert.Equal(t, 2, rec.bytes)
	})

	t.Run("reused when nested", func(t *testing.T) {
		outer := record(httptest.NewRecorder())
		assert.Same(t, outer, record(outer))
	})

	t.Run("flush and hijack", func(t *testing.T) {
		inner := httptest.NewRecorder()
		rec := record(inner)
		rec.Flush()
		assert.True(t, inner.Flushed)

		_, _, err := rec.Hijack()
		assert.ErrorIs(t, err, http.ErrNotSupported)
	})
}
