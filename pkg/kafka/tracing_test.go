package kafka

import (
	"context"
	"testing"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/propagation"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

func TestKafkaHeaderCarrier(t *testing.T) {
	headers := []kafka.Header{{Key: "event_type", Value: []byte("ecommerce.order.paid")}}
	c := NewKafkaHeaderCarrier(&headers)

	assert.Equal(t, "ecommerce.order.paid", c.Get("event_type"))
	assert.Empty(t, c.Get("traceparent"))

	c.Set("traceparent", "00-a-b-01")
	c.Set("event_type", "ecommerce.order.canceled")

	assert.Len(t, headers, 2)
	assert.Equal(t, "ecommerce.order.canceled", c.Get("event_type"))
	assert.ElementsMatch(t, []string{"event_type", "traceparent"}, c.Keys())
}

func TestKafkaHeaderCarrier_RoundTrip(t *testing.T) {
	prop := propagation.TraceContext{}
	ctx, span := sdktrace.NewTracerProvider().Tracer("test").Start(context.Background(), "publish")
	defer span.End()

	var headers []kafka.Header
	prop.Inject(ctx, NewKafkaHeaderCarrier(&headers))
	require.NotEmpty(t, headers)

	extracted := trace.SpanContextFromContext(prop.Extract(context.Background(), NewKafkaHeaderCarrier(&headers)))
	assert.Equal(t, span.SpanContext().TraceID(), extracted.TraceID())
	assert.True(t, extracted.IsRemote())
}
