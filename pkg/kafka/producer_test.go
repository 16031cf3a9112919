package kafka

import (
	"context"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/utafrali/commerce-core/pkg/logger"
)

type reservationData struct {
	OrderID  string `json:"order_id"`
	Quantity int    `json:"quantity"`
}

func TestNewEvent(t *testing.T) {
	e, err := NewEvent("inventory.reservation.created", "ord-1", "reservation", "inventory-service",
		reservationData{OrderID: "ord-1", Quantity: 4})

	require.NoError(t, err)
	assert.NotEmpty(t, e.EventID)
	assert.Equal(t, 1, e.Version)
	assert.Equal(t, "ord-1", e.AggregateID)
	assert.False(t, e.Timestamp.IsZero())

	var got reservationData
	require.NoError(t, e.UnmarshalData(&got))
	assert.Equal(t, reservationData{OrderID: "ord-1", Quantity: 4}, got)
}

func TestNewEvent_UnencodablePayload(t *testing.T) {
	_, err := NewEvent("x", "a", "b", "c", make(chan int))
	assert.ErrorContains(t, err, "marshal x payload")
}

func TestUnmarshalEvent(t *testing.T) {
	e, err := NewEvent("ecommerce.order.paid", "ord-9", "order", "payment-service", map[string]string{"order_id": "ord-9"})
	require.NoError(t, err)
	raw, err := e.Marshal()
	require.NoError(t, err)

	decoded, err := UnmarshalEvent(raw)

	require.NoError(t, err)
	assert.Equal(t, e.EventID, decoded.EventID)
	assert.JSONEq(t, `{"order_id":"ord-9"}`, string(decoded.Data))

	_, err = UnmarshalEvent([]byte("{not json"))
	assert.Error(t, err)
}

func TestUnmarshalData_Empty(t *testing.T) {
	e := &Event{EventID: "evt-1", EventType: "ecommerce.order.paid"}
	assert.ErrorContains(t, e.UnmarshalData(&reservationData{}), "has no data")
}

func TestProducer_Publish(t *testing.T) {
	w := &fakeWriter{}
	p := &Producer{writer: w, logger: testLogger()}
	ctx := logger.WithCorrelationID(context.Background(), "corr-7")
	e, err := NewEvent("inventory.movement.applied", "sku-1", "stock_level", "inventory-service", map[string]int{"delta": -3})
	require.NoError(t, err)
	before := testutil.ToFloat64(ProducerMessagesPublished.WithLabelValues("ecommerce.inventory.movement_applied"))

	require.NoError(t, p.Publish(ctx, "ecommerce.inventory.movement_applied", e))

	require.Len(t, w.msgs, 1)
	msg := w.msgs[0]
	assert.Equal(t, "ecommerce.inventory.movement_applied", msg.Topic)
	assert.Equal(t, []byte("sku-1"), msg.Key)
	v, ok := header(msg, "correlation_id")
	assert.True(t, ok)
	assert.Equal(t, "corr-7", v)
	v, _ = header(msg, "event_type")
	assert.Equal(t, "inventory.movement.applied", v)
	assert.Equal(t, "corr-7", e.CorrelationID)
	assert.Equal(t, before+1, testutil.ToFloat64(ProducerMessagesPublished.WithLabelValues("ecommerce.inventory.movement_applied")))
}

func TestProducer_Publish_KeepsExistingCorrelationID(t *testing.T) {
	w := &fakeWriter{}
	p := &Producer{writer: w, logger: testLogger()}
	e := &Event{EventID: "evt-1", EventType: "t", CorrelationID: "from-upstream"}

	require.NoError(t, p.Publish(logger.WithCorrelationID(context.Background(), "local"), "t", e))

	v, _ := header(w.msgs[0], "correlation_id")
	assert.Equal(t, "from-upstream", v)
}

func TestProducer_Publish_InjectsTraceContext(t *testing.T) {
	prev := otel.GetTextMapPropagator()
	otel.SetTextMapPropagator(propagation.TraceContext{})
	t.Cleanup(func() { otel.SetTextMapPropagator(prev) })

	ctx, span := sdktrace.NewTracerProvider().Tracer("test").Start(context.Background(), "reserve")
	defer span.End()

	w := &fakeWriter{}
	p := &Producer{writer: w, logger: testLogger()}
	require.NoError(t, p.Publish(ctx, "t", &Event{EventID: "evt-1"}))

	tp, ok := header(w.msgs[0], "traceparent")
	require.True(t, ok)
	assert.Contains(t, tp, span.SpanContext().TraceID().String())
}

func TestProducer_Publish_WriteError(t *testing.T) {
	w := &fakeWriter{err: errBroker}
	p := &Producer{writer: w, logger: testLogger()}
	before := testutil.ToFloat64(ProducerPublishErrors.WithLabelValues("ecommerce.order.paid"))

	err := p.Publish(context.Background(), "ecommerce.order.paid", &Event{EventID: "evt-1"})

	assert.ErrorIs(t, err, errBroker)
	assert.Equal(t, before+1, testutil.ToFloat64(ProducerPublishErrors.WithLabelValues("ecommerce.order.paid")))
}

func TestProducer_Close(t *testing.T) {
	w := &fakeWriter{}
	p := &Producer{writer: w, logger: testLogger()}

	require.NoError(t, p.Close())
	assert.True(t, w.closed)
}

func TestPingBrokers_NoneConfigured(t *testing.T) {
	assert.ErrorContains(t, PingBrokers(context.Background(), nil), "no brokers configured")
}

func TestProducer_WaitReady(t *testing.T) {
	p := &Producer{writer: &fakeWriter{}, logger: testLogger()}

	err := p.WaitReady(context.Background(), 1)
	assert.ErrorContains(t, err, "after 1 attempts")
	assert.ErrorContains(t, err, "no brokers configured")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, p.WaitReady(ctx, 3), context.Canceled)
}

func TestDefaultProducerConfig(t *testing.T) {
	cfg := DefaultProducerConfig([]string{"kafka-1:9092", "kafka-2:9092"})

	assert.Len(t, cfg.Brokers, 2)
	assert.False(t, cfg.Async)
	assert.Equal(t, 100, cfg.BatchSize)
}
