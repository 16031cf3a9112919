package service

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/utafrali/commerce-core/pkg/errors"
	"github.com/utafrali/commerce-core/services/payment/internal/domain"
	"github.com/utafrali/commerce-core/services/payment/internal/processor"
	"github.com/utafrali/commerce-core/services/payment/internal/processor/manual"
	"github.com/utafrali/commerce-core/services/payment/internal/processor/simulated"
	"github.com/utafrali/commerce-core/services/payment/internal/repository"
)

// signed builds a simulated webhook the gateway never sent itself.
func signed(t *testing.T, hook simulated.Webhook) ([]byte, string) {
	t.Helper()
	body, err := json.Marshal(hook)
	require.NoError(t, err)
	return body, processor.Sign(testSecret, body)
}

// challenged pays an order whose payment waits on a challenge.
func (e *testEnv) challenged(t *testing.T, orderID string) *domain.Payment {
	t.Helper()
	e.order(orderID, 1003)
	res, err := e.pay(orderID, methodSim, 1003)
	require.NoError(t, err)
	require.Equal(t, domain.PaymentStatusAuthorized, res.Payment.Status)
	return res.Payment
}

// ============================================================================
// Receive
// ============================================================================

func TestReceive_RejectsInvalidSignatureBeforeParsing(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.webhooks.Receive(context.Background(), simulated.Name, "deadbeef", []byte(`not json`))

	assert.ErrorIs(t, err, apperrors.ErrUnauthorized)
	assert.Empty(t, env.guard.seen)
}

func TestReceive_UnknownProcessor(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.webhooks.Receive(context.Background(), "paypal", "sig", []byte(`{}`))

	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestReceive_ManualProcessorNeverVerifies(t *testing.T) {
	env := newTestEnv(t)
	body, sig := signed(t, simulated.Webhook{EventID: "evt-1", Type: "payment", TransactionID: "cash_1", Status: "succeeded"})

	_, err := env.webhooks.Receive(context.Background(), manual.Name, sig, body)

	assert.ErrorIs(t, err, apperrors.ErrUnauthorized)
}

func TestReceive_MalformedBody(t *testing.T) {
	env := newTestEnv(t)
	body := []byte(`{"event_id":"evt-1"}`)

	_, err := env.webhooks.Receive(context.Background(), simulated.Name, processor.Sign(testSecret, body), body)

	assert.ErrorIs(t, err, apperrors.ErrInvalidInput)
}

func TestReceive_RedeliveryIsSkipped(t *testing.T) {
	env := newTestEnv(t)
	p := env.challenged(t, "ord-1")
	body, sig, err := env.sim.Complete(p.TransactionID, true)
	require.NoError(t, err)

	first := env.deliver(t, body, sig)
	second := env.deliver(t, body, sig)

	assert.Equal(t, OutcomeApplied, first.Outcome)
	assert.Equal(t, OutcomeDuplicate, second.Outcome)
	assert.Equal(t, first.EventID, second.EventID)
	assert.True(t, env.guard.has(GuardKey(simulated.Name, first.EventID)))
	assert.Equal(t, 1, env.publisher.count("order_paid"))
}

func TestReceive_FailedFoldClearsGuardForRetry(t *testing.T) {
	env := newTestEnv(t)
	p := env.challenged(t, "ord-1")
	body, sig, err := env.sim.Complete(p.TransactionID, true)
	require.NoError(t, err)
	env.orders.updateErr = apperrors.ServiceUnavailable("order service unavailable")

	_, err = env.webhooks.Receive(context.Background(), simulated.Name, sig, body)

	require.ErrorIs(t, err, apperrors.ErrServiceUnavail)
	assert.Empty(t, env.guard.seen)
	assert.Equal(t, domain.PaymentStatusSucceeded, env.payment(t, p.ID).Status)
	assert.Equal(t, domain.OrderStatusPending, env.orders.status("ord-1"))

	// The provider redelivers once the order service is back.
	env.orders.updateErr = nil
	res := env.deliver(t, body, sig)

	assert.Equal(t, OutcomeUnchanged, res.Outcome)
	assert.Equal(t, domain.OrderStatusProcessing, env.orders.status("ord-1"))
	assert.Equal(t, 1, env.publisher.count("order_paid"))
}

func TestReceive_GuardOutageStillFolds(t *testing.T) {
	env := newTestEnv(t)
	p := env.challenged(t, "ord-1")
	body, sig, err := env.sim.Complete(p.TransactionID, false)
	require.NoError(t, err)
	env.guard.err = errors.New("redis: connection refused")

	res := env.deliver(t, body, sig)

	assert.Equal(t, OutcomeApplied, res.Outcome)
	assert.Equal(t, domain.PaymentStatusFailed, env.payment(t, p.ID).Status)
	assert.True(t, env.publisher.has("payment", domain.PaymentStatusFailed))
}

// ============================================================================
// HandleEvent
// ============================================================================

func TestHandleEvent_UnknownPaymentIsAcknowledged(t *testing.T) {
	env := newTestEnv(t)
	body, sig := signed(t, simulated.Webhook{EventID: "evt-1", Type: "payment", TransactionID: "sim_pay_unknown", Reference: "not-a-uuid", Status: "succeeded"})

	res := env.deliver(t, body, sig)

	assert.Equal(t, OutcomeUnknown, res.Outcome)
}

func TestHandleEvent_IllegalTransitionIsIgnored(t *testing.T) {
	env := newTestEnv(t)
	p := env.paid(t, "ord-1", 5000)
	body, sig := signed(t, simulated.Webhook{EventID: "evt-1", Type: "payment", TransactionID: p.TransactionID, Status: "failed"})

	res := env.deliver(t, body, sig)

	assert.Equal(t, OutcomeIgnored, res.Outcome)
	assert.Equal(t, domain.PaymentStatusSucceeded, env.payment(t, p.ID).Status)
	assert.False(t, env.publisher.has("payment", domain.PaymentStatusFailed))
}

func TestHandleEvent_SameStatusIsNoop(t *testing.T) {
	env := newTestEnv(t)
	p := env.paid(t, "ord-1", 5000)
	before := env.payment(t, p.ID)
	body, sig := signed(t, simulated.Webhook{EventID: "evt-1", Type: "payment", TransactionID: p.TransactionID, Status: "succeeded"})

	res := env.deliver(t, body, sig)

	assert.Equal(t, OutcomeUnchanged, res.Outcome)
	assert.Equal(t, before, env.payment(t, p.ID))
	assert.Equal(t, 1, env.publisher.count("payment"))
	assert.Equal(t, 1, env.publisher.count("order_paid"))
}

func TestHandleEvent_ProcessorMismatchIsUnknown(t *testing.T) {
	env := newTestEnv(t)
	env.order("ord-1", 5000)
	res, err := env.pay("ord-1", methodCash, 5000)
	require.NoError(t, err)
	body, sig := signed(t, simulated.Webhook{EventID: "evt-1", Type: "payment", TransactionID: res.Payment.TransactionID, Status: "failed"})

	out := env.deliver(t, body, sig)

	assert.Equal(t, OutcomeUnknown, out.Outcome)
}

func TestHandleEvent_ProcessorInitiatedRefund(t *testing.T) {
	env := newTestEnv(t)
	p := env.paid(t, "ord-1", 5000)
	body, sig, err := env.sim.RefundWebhook(p.TransactionID, 1500)
	require.NoError(t, err)

	res := env.deliver(t, body, sig)

	assert.Equal(t, OutcomeApplied, res.Outcome)
	payment := env.payment(t, p.ID)
	assert.Equal(t, domain.PaymentStatusPartiallyRefunded, payment.Status)
	assert.Equal(t, int64(1500), payment.RefundedAmount)
	refunds := env.store.Refunds()
	require.Len(t, refunds, 1)
	assert.Equal(t, domain.RefundStatusSucceeded, refunds[0].Status)
	assert.Equal(t, "initiated by processor", refunds[0].Reason)
	assert.True(t, env.publisher.has("refund", domain.PaymentStatusPartiallyRefunded))

	// Folding the same event again, bypassing the guard, changes nothing.
	evt, err := env.sim.ParseWebhookEvent(body)
	require.NoError(t, err)
	outcome, err := env.webhooks.HandleEvent(context.Background(), simulated.Name, evt)
	require.NoError(t, err)
	assert.Equal(t, OutcomeUnchanged, outcome)
	assert.Equal(t, int64(1500), env.payment(t, p.ID).RefundedAmount)
	assert.Len(t, env.store.Refunds(), 1)
}

func TestHandleEvent_RefundWebhookSettlesPendingRefund(t *testing.T) {
	env := newTestEnv(t)
	p := env.paid(t, "ord-1", 5000)
	require.NoError(t, env.store.Do(context.Background(), func(ctx context.Context, tx repository.Tx) error {
		return tx.InsertRefund(ctx, &domain.Refund{ID: "ref-1", PaymentID: p.ID, Amount: 2000, Currency: "USD", Status: domain.RefundStatusPending})
	}))
	body, sig := signed(t, simulated.Webhook{EventID: "evt-1", Type: "refund", TransactionID: p.TransactionID, RefundID: "sim_ref_late", Status: "succeeded", Amount: 2000})

	res := env.deliver(t, body, sig)

	assert.Equal(t, OutcomeApplied, res.Outcome)
	refunds := env.store.Refunds()
	require.Len(t, refunds, 1)
	assert.Equal(t, "ref-1", refunds[0].ID)
	assert.Equal(t, "sim_ref_late", refunds[0].ExternalRefundID)
	assert.Equal(t, domain.RefundStatusSucceeded, refunds[0].Status)
	assert.Equal(t, int64(2000), env.payment(t, p.ID).RefundedAmount)
}

func TestHandleEvent_PaymentRefundedRecordsFullRefund(t *testing.T) {
	env := newTestEnv(t)
	p := env.paid(t, "ord-1", 5000)
	_, err := env.refund(p.TransactionID, int64Ptr(1000))
	require.NoError(t, err)
	body, sig := signed(t, simulated.Webhook{EventID: "evt-1", Type: "payment", TransactionID: p.TransactionID, Status: "refunded"})

	res := env.deliver(t, body, sig)

	assert.Equal(t, OutcomeApplied, res.Outcome)
	payment := env.payment(t, p.ID)
	assert.Equal(t, domain.PaymentStatusRefunded, payment.Status)
	assert.Equal(t, int64(5000), payment.RefundedAmount)
	refunds := env.store.Refunds()
	require.Len(t, refunds, 2)
	assert.Equal(t, "full:"+p.TransactionID, refunds[1].ExternalRefundID)
	assert.Equal(t, int64(4000), refunds[1].Amount)
}

func TestHandleEvent_RefundBeyondBalanceIsClamped(t *testing.T) {
	env := newTestEnv(t)
	p := env.paid(t, "ord-1", 5000)

	res, err := env.payments.ApplyRefund(context.Background(), RefundUpdate{
		TransactionID: p.TransactionID, RefundID: "re_big", Status: domain.RefundStatusSucceeded, Amount: 9000,
	})

	require.NoError(t, err)
	assert.Equal(t, OutcomeApplied, res.Outcome)
	assert.Equal(t, int64(5000), res.Refund.Amount)
	assert.Equal(t, domain.PaymentStatusRefunded, res.Payment.Status)
}
