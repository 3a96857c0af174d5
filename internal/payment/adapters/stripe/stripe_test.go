package stripe

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/shopspring/decimal"
	paymentdomain "github.com/smallbiznis/modulebilling/internal/payment/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newAdapter(t *testing.T, handler http.HandlerFunc) paymentdomain.Gateway {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	adapter, err := NewFactory().NewAdapter(paymentdomain.AdapterConfig{
		Config:     map[string]string{"secret_key": "sk_test_123", "api_url": srv.URL},
		HTTPClient: srv.Client(),
	})
	require.NoError(t, err)
	return adapter
}

func chargeRequest() paymentdomain.ChargeRequest {
	return paymentdomain.ChargeRequest{
		Amount:              decimal.RequireFromString("58.38"),
		Currency:            "ILS",
		StoredCredentialRef: "pm_card_visa",
		CustomerRef:         "cus_1",
		IdempotencyKey:      "purchase:1:premium-club:abc",
	}
}

func TestChargeStoredCredential(t *testing.T) {
	adapter := newAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/payment_intents", r.URL.Path)
		assert.Equal(t, "purchase:1:premium-club:abc", r.Header.Get("Idempotency-Key"))
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "5838", r.PostForm.Get("amount"))
		assert.Equal(t, "ils", r.PostForm.Get("currency"))
		assert.Equal(t, "true", r.PostForm.Get("off_session"))
		assert.Equal(t, "pm_card_visa", r.PostForm.Get("payment_method"))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"pi_123","object":"payment_intent","status":"succeeded","latest_charge":"ch_456"}`))
	})

	resp, err := adapter.ChargeStoredCredential(context.Background(), chargeRequest())
	require.NoError(t, err)
	assert.Equal(t, "pi_123", resp.ExternalTransactionRef)
	assert.Equal(t, "ch_456", resp.ApprovalCode)
}

func TestChargeCardError(t *testing.T) {
	adapter := newAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusPaymentRequired)
		_, _ = w.Write([]byte(`{"error":{"type":"card_error","code":"card_declined","decline_code":"insufficient_funds","message":"Your card has insufficient funds."}}`))
	})

	_, err := adapter.ChargeStoredCredential(context.Background(), chargeRequest())
	require.ErrorIs(t, err, paymentdomain.ErrChargeDeclined)
	assert.Equal(t, "Your card has insufficient funds.", paymentdomain.FailureReason(err))
}

func TestChargeRequiresAction(t *testing.T) {
	adapter := newAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"pi_123","object":"payment_intent","status":"requires_action"}`))
	})

	_, err := adapter.ChargeStoredCredential(context.Background(), chargeRequest())
	assert.ErrorIs(t, err, paymentdomain.ErrChargeDeclined)
}

func TestRefundCharge(t *testing.T) {
	adapter := newAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/refunds", r.URL.Path)
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "pi_123", r.PostForm.Get("payment_intent"))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"re_1","object":"refund","status":"succeeded"}`))
	})

	resp, err := adapter.RefundCharge(context.Background(), paymentdomain.RefundRequest{ExternalTransactionRef: "pi_123"})
	require.NoError(t, err)
	assert.Equal(t, "re_1", resp.ExternalRefundRef)
}
