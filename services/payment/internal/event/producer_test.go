package event

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pkgkafka "github.com/utafrali/commerce-core/pkg/kafka"
	"github.com/utafrali/commerce-core/services/payment/internal/domain"
)

type sentEvent struct {
	topic string
	event *pkgkafka.Event
}

type fakePublisher struct {
	sent []sentEvent
	err  error
}

func (f *fakePublisher) Publish(_ context.Context, topic string, event *pkgkafka.Event) error {
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, sentEvent{topic: topic, event: event})
	return nil
}

func newTestProducer() (*Producer, *fakePublisher) {
	pub := &fakePublisher{}
	return NewProducer(pub, slog.New(slog.NewTextHandler(io.Discard, nil))), pub
}

func samplePayment() *domain.Payment {
	return &domain.Payment{
		ID: "pay-1", OrderID: "ord-1", StoreID: "store-1", ProcessorName: "card",
		TransactionID: "ch_1", Amount: 5000, Currency: "USD", Status: domain.PaymentStatusSucceeded,
	}
}

func TestPublishPaymentSucceeded(t *testing.T) {
	p, pub := newTestProducer()

	require.NoError(t, p.PublishPaymentSucceeded(context.Background(), samplePayment()))

	require.Len(t, pub.sent, 1)
	assert.Equal(t, TopicPaymentSucceeded, pub.sent[0].topic)
	assert.Equal(t, "pay-1", pub.sent[0].event.AggregateID)
	assert.Equal(t, AggregateTypePayment, pub.sent[0].event.AggregateType)
	assert.Equal(t, SourcePaymentService, pub.sent[0].event.Source)

	var data PaymentData
	require.NoError(t, json.Unmarshal(pub.sent[0].event.Data, &data))
	assert.Equal(t, "ch_1", data.TransactionID)
	assert.Equal(t, int64(5000), data.Amount)
}

func TestPublishPaymentRefunded(t *testing.T) {
	p, pub := newTestProducer()
	payment := samplePayment()
	payment.RefundedAmount = 2000
	payment.Status = domain.PaymentStatusPartiallyRefunded

	err := p.PublishPaymentRefunded(context.Background(), payment, &domain.Refund{
		ID: "ref-1", PaymentID: "pay-1", Amount: 2000, Currency: "USD", ExternalRefundID: "re_1",
	})

	require.NoError(t, err)
	require.Len(t, pub.sent, 1)
	var data PaymentRefundedData
	require.NoError(t, json.Unmarshal(pub.sent[0].event.Data, &data))
	assert.Equal(t, int64(2000), data.RefundedTotal)
	assert.Equal(t, domain.PaymentStatusPartiallyRefunded, data.PaymentStatus)
}

// The inventory consumer reads order_id and store_id from this payload.
func TestPublishOrderPaid_PayloadShape(t *testing.T) {
	p, pub := newTestProducer()

	err := p.PublishOrderPaid(context.Background(), &domain.Order{ID: "ord-1", StoreID: "store-1", TotalAmount: 5000, Currency: "USD"}, 5000)

	require.NoError(t, err)
	require.Len(t, pub.sent, 1)
	assert.Equal(t, "ecommerce.order.paid", pub.sent[0].topic)
	var raw map[string]any
	require.NoError(t, json.Unmarshal(pub.sent[0].event.Data, &raw))
	assert.Equal(t, "ord-1", raw["order_id"])
	assert.Equal(t, "store-1", raw["store_id"])
}

func TestPublish_WrapsError(t *testing.T) {
	p, pub := newTestProducer()
	pub.err = errors.New("broker down")

	err := p.PublishPaymentFailed(context.Background(), samplePayment())

	require.Error(t, err)
	assert.Contains(t, err.Error(), "publish ecommerce.payment.failed event")
}
