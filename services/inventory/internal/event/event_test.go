package event

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	apperrors "github.com/utafrali/commerce-core/pkg/errors"
	pkgkafka "github.com/utafrali/commerce-core/pkg/kafka"
	"github.com/utafrali/commerce-core/services/inventory/internal/domain"
)

// --- Mock ReservationService ---

type mockReservationService struct {
	mock.Mock
}

func (m *mockReservationService) Commit(ctx context.Context, refType, refID, actor string) (*domain.Reservation, error) {
	args := m.Called(ctx, refType, refID, actor)
	if r := args.Get(0); r != nil {
		return r.(*domain.Reservation), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockReservationService) Release(ctx context.Context, refType, refID, actor string) (*domain.Reservation, error) {
	args := m.Called(ctx, refType, refID, actor)
	if r := args.Get(0); r != nil {
		return r.(*domain.Reservation), args.Error(1)
	}
	return nil, args.Error(1)
}

// --- Fake publisher ---

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

// --- Test helpers ---

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

func newTestEvent(eventType string, data any) *pkgkafka.Event {
	dataBytes, _ := json.Marshal(data)
	return &pkgkafka.Event{
		EventID:       "evt-test-123",
		EventType:     eventType,
		AggregateID:   "ord-1",
		AggregateType: "order",
		Version:       1,
		Timestamp:     time.Now().UTC(),
		Source:        "order-service",
		Data:          dataBytes,
	}
}

// ============================================================
// Consumer tests
// ============================================================

func TestHandleOrderPaid_CommitsReservation(t *testing.T) {
	svc := new(mockReservationService)
	consumer := NewConsumer(svc, newTestLogger())
	ctx := context.Background()

	svc.On("Commit", ctx, domain.ReferenceOrder, "ord-1", "order-service").
		Return(&domain.Reservation{ReferenceID: "ord-1", Status: domain.ReservationStatusCommitted}, nil)

	err := consumer.HandleOrderPaid(ctx, newTestEvent(TopicOrderPaid, OrderPaidData{OrderID: "ord-1"}))
	require.NoError(t, err)
	svc.AssertExpectations(t)
}

func TestHandleOrderPaid_AcksSettledErrors(t *testing.T) {
	for name, cause := range map[string]error{
		"no reservation":   apperrors.NotFound("reservation", "ord-1"),
		"already released": apperrors.InvalidStateTransition("reservation", "released", "committed"),
	} {
		t.Run(name, func(t *testing.T) {
			svc := new(mockReservationService)
			consumer := NewConsumer(svc, newTestLogger())
			svc.On("Commit", mock.Anything, domain.ReferenceOrder, "ord-1", mock.Anything).Return(nil, cause)

			err := consumer.HandleOrderPaid(context.Background(), newTestEvent(TopicOrderPaid, OrderPaidData{OrderID: "ord-1"}))
			assert.NoError(t, err)
		})
	}
}

func TestHandleOrderPaid_RetriesTransientErrors(t *testing.T) {
	svc := new(mockReservationService)
	consumer := NewConsumer(svc, newTestLogger())
	svc.On("Commit", mock.Anything, domain.ReferenceOrder, "ord-1", mock.Anything).
		Return(nil, apperrors.ConcurrencyConflict(errors.New("lock timeout")))

	err := consumer.HandleOrderPaid(context.Background(), newTestEvent(TopicOrderPaid, OrderPaidData{OrderID: "ord-1"}))
	assert.ErrorIs(t, err, apperrors.ErrConcurrencyConflict)
}

func TestHandleOrderPaid_MissingOrderIDIsAcked(t *testing.T) {
	svc := new(mockReservationService)
	consumer := NewConsumer(svc, newTestLogger())

	err := consumer.HandleOrderPaid(context.Background(), newTestEvent(TopicOrderPaid, OrderPaidData{}))
	assert.NoError(t, err)
	svc.AssertNotCalled(t, "Commit", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestHandleOrderPaid_BadPayload(t *testing.T) {
	consumer := NewConsumer(new(mockReservationService), newTestLogger())
	event := newTestEvent(TopicOrderPaid, nil)
	event.Data = json.RawMessage(`{"order_id":`)

	assert.Error(t, consumer.HandleOrderPaid(context.Background(), event))
}

func TestHandleOrderCanceled_ReleasesReservation(t *testing.T) {
	svc := new(mockReservationService)
	consumer := NewConsumer(svc, newTestLogger())
	ctx := context.Background()

	svc.On("Release", ctx, domain.ReferenceOrder, "ord-1", "order-service").
		Return(&domain.Reservation{ReferenceID: "ord-1", Status: domain.ReservationStatusReleased}, nil)

	err := consumer.HandleOrderCanceled(ctx, newTestEvent(TopicOrderCanceled, OrderCanceledData{OrderID: "ord-1", Reason: "customer"}))
	require.NoError(t, err)
	svc.AssertExpectations(t)
}

func TestHandleOrderCanceled_UnknownOrderIsAcked(t *testing.T) {
	svc := new(mockReservationService)
	consumer := NewConsumer(svc, newTestLogger())
	svc.On("Release", mock.Anything, domain.ReferenceOrder, "ord-9", mock.Anything).
		Return(nil, apperrors.NotFound("reservation", "ord-9"))

	err := consumer.HandleOrderCanceled(context.Background(), newTestEvent(TopicOrderCanceled, OrderCanceledData{OrderID: "ord-9"}))
	assert.NoError(t, err)
}

// ============================================================
// Producer tests
// ============================================================

func TestPublishReservation_OnlyLinesWithStatus(t *testing.T) {
	pub := &fakePublisher{}
	producer := NewProducer(pub, newTestLogger())

	r := domain.NewReservation(domain.ReferenceTransfer, "tr-1", []domain.ReservationLine{
		{ProductID: "prod-1", LocationID: "loc-l", Quantity: 3, Status: domain.ReservationStatusCommitted},
		{ProductID: "prod-1", LocationID: "loc-l", Quantity: 2, Status: domain.ReservationStatusReleased},
	})
	require.NoError(t, producer.PublishReservation(context.Background(), domain.ReservationStatusCommitted, r))

	require.Len(t, pub.sent, 1)
	assert.Equal(t, TopicCommitted, pub.sent[0].topic)
	assert.Equal(t, "tr-1", pub.sent[0].event.AggregateID)
	assert.Equal(t, SourceInventoryService, pub.sent[0].event.Source)

	var data ReservationData
	require.NoError(t, pub.sent[0].event.UnmarshalData(&data))
	require.Len(t, data.Lines, 1)
	assert.Equal(t, 3, data.Lines[0].Quantity)
	assert.Equal(t, domain.ReferenceTransfer, data.ReferenceType)
}

func TestPublishReservation_UnknownStatus(t *testing.T) {
	producer := NewProducer(&fakePublisher{}, newTestLogger())
	err := producer.PublishReservation(context.Background(), "bogus", domain.NewReservation(domain.ReferenceOrder, "ord-1", nil))
	assert.Error(t, err)
}

func TestPublishLowStock(t *testing.T) {
	pub := &fakePublisher{}
	producer := NewProducer(pub, newTestLogger())

	level := &domain.StockLevel{ProductID: "prod-1", LocationID: "loc-l", QuantityOnHand: 3, QuantityReserved: 1, QuantityAvailable: 2, LowStockThreshold: 5}
	require.NoError(t, producer.PublishLowStock(context.Background(), level))

	require.Len(t, pub.sent, 1)
	assert.Equal(t, TopicLowStock, pub.sent[0].topic)
	var data LowStockData
	require.NoError(t, pub.sent[0].event.UnmarshalData(&data))
	assert.Equal(t, 2, data.Available)
	assert.Equal(t, 5, data.LowStockThreshold)
}

func TestPublishTransferStatusChanged(t *testing.T) {
	pub := &fakePublisher{}
	producer := NewProducer(pub, newTestLogger())

	tr := &domain.Transfer{ID: "tr-1", FromLocationID: "loc-l", ToLocationID: "loc-l2", Status: domain.TransferStatusApproved}
	require.NoError(t, producer.PublishTransferStatusChanged(context.Background(), tr, domain.TransferStatusDraft, "manager-1"))

	var data TransferStatusChangedData
	require.NoError(t, pub.sent[0].event.UnmarshalData(&data))
	assert.Equal(t, domain.TransferStatusDraft, data.FromStatus)
	assert.Equal(t, domain.TransferStatusApproved, data.ToStatus)
	assert.Equal(t, "manager-1", data.Actor)
}

func TestPublish_WrapsPublisherError(t *testing.T) {
	producer := NewProducer(&fakePublisher{err: errors.New("broker down")}, newTestLogger())
	err := producer.PublishStockCorrected(context.Background(), &domain.Correction{Key: domain.StockKey{ProductID: "prod-1", LocationID: "loc-l"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), TopicStockCorrected)
}
