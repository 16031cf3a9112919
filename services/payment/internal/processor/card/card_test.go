package card

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/utafrali/commerce-core/pkg/errors"
	"github.com/utafrali/commerce-core/pkg/httpclient"
	"github.com/utafrali/commerce-core/services/payment/internal/domain"
	"github.com/utafrali/commerce-core/services/payment/internal/processor"
)

// fakeGateway serves canned answers per path and records request bodies.
type fakeGateway struct {
	t        *testing.T
	bodies   map[string]map[string]any
	handlers map[string]http.HandlerFunc
}

func newFakeGateway(t *testing.T) (*fakeGateway, *Processor) {
	t.Helper()
	fg := &fakeGateway{t: t, bodies: map[string]map[string]any{}, handlers: map[string]http.HandlerFunc{}}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := r.Method + " " + r.URL.Path
		if r.Body != nil {
			raw, _ := io.ReadAll(r.Body)
			if len(raw) > 0 {
				var body map[string]any
				require.NoError(t, json.Unmarshal(raw, &body))
				fg.bodies[key] = body
			}
		}
		h, ok := fg.handlers[key]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		h(w, r)
	}))
	t.Cleanup(srv.Close)

	doer := httpclient.New(httpclient.Config{Timeout: httpclient.DefaultConfig().Timeout})
	return fg, New(Config{BaseURL: srv.URL, APIKey: "sk_test", WebhookSecret: "whsec_card"}, doer)
}

func (fg *fakeGateway) on(key string, status int, body string) {
	fg.handlers[key] = func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}
}

func paymentRequest(amount int64) *processor.PaymentRequest {
	return &processor.PaymentRequest{Reference: "pay-1", OrderID: "ord-1", Amount: amount, Currency: "usd"}
}

// ============================================================================
// ProcessPayment Tests
// ============================================================================

func TestProcessPayment_Succeeded(t *testing.T) {
	fg, p := newFakeGateway(t)
	fg.on("POST /v1/charges", http.StatusOK, `{"id":"ch_1","status":"succeeded","amount":"123.45","currency":"USD"}`)

	res, err := p.ProcessPayment(context.Background(), paymentRequest(12345))

	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, "ch_1", res.TransactionID)
	assert.Equal(t, domain.PaymentStatusSucceeded, res.Status)
	assert.NotEmpty(t, res.Raw)

	sent := fg.bodies["POST /v1/charges"]
	assert.Equal(t, "123.45", sent["amount"])
	assert.Equal(t, "USD", sent["currency"])
	assert.Equal(t, "pay-1", sent["reference"])
}

func TestProcessPayment_ChallengeIsAuthorized(t *testing.T) {
	fg, p := newFakeGateway(t)
	fg.on("POST /v1/charges", http.StatusOK, `{"id":"ch_2","status":"requires_action","action_url":"https://3ds.example/ch_2"}`)

	res, err := p.ProcessPayment(context.Background(), paymentRequest(500))

	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Equal(t, domain.PaymentStatusAuthorized, res.Status)
	require.NotNil(t, res.NextAction)
	assert.Equal(t, domain.NextActionChallenge, res.NextAction.Type)
	assert.Equal(t, "https://3ds.example/ch_2", res.NextAction.URL)
}

func TestProcessPayment_DeclineIsResultNotError(t *testing.T) {
	fg, p := newFakeGateway(t)
	fg.on("POST /v1/charges", http.StatusPaymentRequired, `{"id":"ch_3","status":"declined","decline_reason":"insufficient_funds"}`)

	res, err := p.ProcessPayment(context.Background(), paymentRequest(500))

	require.NoError(t, err)
	assert.Equal(t, domain.PaymentStatusFailed, res.Status)
	assert.Equal(t, "ch_3", res.TransactionID)
	assert.Equal(t, "insufficient_funds", res.FailureReason)
}

func TestProcessPayment_GatewayDownIsUnavailable(t *testing.T) {
	fg, p := newFakeGateway(t)
	fg.on("POST /v1/charges", http.StatusServiceUnavailable, ``)

	_, err := p.ProcessPayment(context.Background(), paymentRequest(500))

	assert.ErrorIs(t, err, apperrors.ErrGatewayUnavailable)
}

// ============================================================================
// Refund and Status Tests
// ============================================================================

func TestRefundPayment_PartialUsesChargeCurrency(t *testing.T) {
	fg, p := newFakeGateway(t)
	fg.on("GET /v1/charges/ch_1", http.StatusOK, `{"id":"ch_1","status":"succeeded","amount":"5000","currency":"JPY"}`)
	fg.on("POST /v1/refunds", http.StatusOK, `{"id":"re_1","charge_id":"ch_1","status":"succeeded","amount":"1500","currency":"JPY"}`)

	amount := int64(1500)
	res, err := p.RefundPayment(context.Background(), "ch_1", &amount)

	require.NoError(t, err)
	assert.Equal(t, "re_1", res.RefundID)
	assert.Equal(t, domain.RefundStatusSucceeded, res.Status)
	assert.Equal(t, int64(1500), res.Amount)
	assert.Equal(t, "1500", fg.bodies["POST /v1/refunds"]["amount"])
}

func TestRefundPayment_FullOmitsAmount(t *testing.T) {
	fg, p := newFakeGateway(t)
	fg.on("POST /v1/refunds", http.StatusOK, `{"id":"re_2","charge_id":"ch_1","status":"pending","amount":"10.00","currency":"USD"}`)

	res, err := p.RefundPayment(context.Background(), "ch_1", nil)

	require.NoError(t, err)
	assert.Equal(t, domain.RefundStatusPending, res.Status)
	assert.Equal(t, int64(1000), res.Amount)
	_, hasAmount := fg.bodies["POST /v1/refunds"]["amount"]
	assert.False(t, hasAmount)
}

func TestGetPaymentStatus(t *testing.T) {
	fg, p := newFakeGateway(t)
	fg.on("GET /v1/charges/ch_1", http.StatusOK, `{"id":"ch_1","status":"succeeded"}`)

	res, err := p.GetPaymentStatus(context.Background(), "ch_1")
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentStatusSucceeded, res.Status)

	_, err = p.GetPaymentStatus(context.Background(), "ch_missing")
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

// ============================================================================
// Webhook Tests
// ============================================================================

func TestValidateWebhookSignature(t *testing.T) {
	_, p := newFakeGateway(t)
	body := []byte(`{"id":"evt_1"}`)

	assert.True(t, p.ValidateWebhookSignature(processor.Sign("whsec_card", body), body))
	assert.False(t, p.ValidateWebhookSignature(processor.Sign("wrong", body), body))
}

func TestParseWebhookEvent_Charge(t *testing.T) {
	_, p := newFakeGateway(t)

	evt, err := p.ParseWebhookEvent([]byte(`{"id":"evt_1","type":"charge.succeeded","data":{"charge_id":"ch_1","reference":"pay-1","status":"succeeded"}}`))

	require.NoError(t, err)
	assert.Equal(t, processor.EventPaymentUpdated, evt.EventType)
	assert.Equal(t, "evt_1", evt.EventID)
	assert.Equal(t, "ch_1", evt.TransactionID)
	assert.Equal(t, "pay-1", evt.Reference)
	assert.Equal(t, domain.PaymentStatusSucceeded, evt.Status)
}

func TestParseWebhookEvent_Refund(t *testing.T) {
	_, p := newFakeGateway(t)

	evt, err := p.ParseWebhookEvent([]byte(`{"id":"evt_2","type":"refund.succeeded","data":{"charge_id":"ch_1","status":"succeeded","refund_id":"re_9","amount":"2.50","currency":"EUR"}}`))

	require.NoError(t, err)
	assert.Equal(t, processor.EventRefundUpdated, evt.EventType)
	assert.Equal(t, "re_9", evt.RefundID)
	assert.Equal(t, int64(250), evt.Amount)
	assert.Equal(t, domain.RefundStatusSucceeded, evt.Status)
}

func TestParseWebhookEvent_Invalid(t *testing.T) {
	_, p := newFakeGateway(t)

	_, err := p.ParseWebhookEvent([]byte(`{`))
	assert.ErrorIs(t, err, apperrors.ErrInvalidInput)

	_, err = p.ParseWebhookEvent([]byte(`{"id":"evt_3","type":"charge.failed","data":{}}`))
	assert.ErrorIs(t, err, apperrors.ErrInvalidInput)
}
