package payplus

import (
	"context"
	"encoding/json"
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
		Config: map[string]string{
			"base_url":     srv.URL + "/api/v1.0/",
			"api_key":      "key",
			"secret_key":   "secret",
			"terminal_uid": "term-1",
		},
		HTTPClient: srv.Client(),
	})
	require.NoError(t, err)
	return adapter
}

func TestChargeStoredCredential(t *testing.T) {
	var got chargeBody
	adapter := newAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1.0/Transactions/Charge", r.URL.Path)
		assert.JSONEq(t, `{"api_key":"key","secret_key":"secret"}`, r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))

		_ = json.NewEncoder(w).Encode(map[string]any{
			"results": map[string]any{"status": "success", "code": 0, "description": "ok"},
			"data":    map[string]any{"transaction_uid": "txn-123", "approval_num": "0456"},
		})
	})

	resp, err := adapter.ChargeStoredCredential(context.Background(), paymentdomain.ChargeRequest{
		Amount:              decimal.RequireFromString("58.38"),
		Currency:            "ils",
		StoredCredentialRef: "tok_abc",
		CustomerRef:         "cus_1",
		IdempotencyKey:      "purchase:1:premium-club:req",
		LineItems: []paymentdomain.LineItem{
			{Name: "Premium Club", Quantity: 1, UnitPrice: decimal.RequireFromString("58.38")},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, "txn-123", resp.ExternalTransactionRef)
	assert.Equal(t, "0456", resp.ApprovalCode)

	assert.Equal(t, "term-1", got.TerminalUID)
	assert.Equal(t, 58.38, got.Amount)
	assert.Equal(t, "ILS", got.CurrencyCode)
	assert.True(t, got.UseToken)
	assert.Equal(t, "tok_abc", got.Token)
	assert.Equal(t, "purchase:1:premium-club:req", got.MoreInfo2)
	require.Len(t, got.Products, 1)
}

func TestChargeDeclined(t *testing.T) {
	adapter := newAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"results": map[string]any{"status": "error", "code": "006", "description": "card expired"},
		})
	})

	_, err := adapter.ChargeStoredCredential(context.Background(), paymentdomain.ChargeRequest{
		Amount:              decimal.RequireFromString("10"),
		StoredCredentialRef: "tok_abc",
		IdempotencyKey:      "k",
	})
	require.ErrorIs(t, err, paymentdomain.ErrChargeDeclined)
	assert.Equal(t, "card expired", paymentdomain.FailureReason(err))
}

func TestChargeServerError(t *testing.T) {
	adapter := newAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte(`<html>bad gateway</html>`))
	})

	_, err := adapter.ChargeStoredCredential(context.Background(), paymentdomain.ChargeRequest{
		Amount:              decimal.RequireFromString("10"),
		StoredCredentialRef: "tok_abc",
		IdempotencyKey:      "k",
	})
	assert.ErrorIs(t, err, paymentdomain.ErrGatewayFailure)
}

func TestRefundCharge(t *testing.T) {
	adapter := newAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1.0/Transactions/RefundByTransactionUID", r.URL.Path)
		var body refundBody
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "txn-123", body.TransactionUID)

		_ = json.NewEncoder(w).Encode(map[string]any{
			"results": map[string]any{"status": "success"},
			"data":    map[string]any{"transaction_uid": "rf-9"},
		})
	})

	resp, err := adapter.RefundCharge(context.Background(), paymentdomain.RefundRequest{ExternalTransactionRef: "txn-123"})
	require.NoError(t, err)
	assert.Equal(t, "rf-9", resp.ExternalRefundRef)
}

func TestFactoryRequiresCredentials(t *testing.T) {
	_, err := NewFactory().NewAdapter(paymentdomain.AdapterConfig{Config: map[string]string{"base_url": "http://x"}})
	assert.ErrorIs(t, err, paymentdomain.ErrInvalidConfig)
}
