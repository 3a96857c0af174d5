package sandbox

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	paymentdomain "github.com/smallbiznis/modulebilling/internal/payment/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSandboxChargeIsIdempotent(t *testing.T) {
	adapter := NewAdapter()
	req := paymentdomain.ChargeRequest{
		Amount:              decimal.RequireFromString("58.38"),
		StoredCredentialRef: "tok_ok",
		IdempotencyKey:      "renewal:1:20260301:1",
	}

	first, err := adapter.ChargeStoredCredential(context.Background(), req)
	require.NoError(t, err)
	second, err := adapter.ChargeStoredCredential(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, first, second)

	req.IdempotencyKey = "renewal:1:20260301:2"
	third, err := adapter.ChargeStoredCredential(context.Background(), req)
	require.NoError(t, err)
	assert.NotEqual(t, first.ExternalTransactionRef, third.ExternalTransactionRef)
}

func TestSandboxDeclines(t *testing.T) {
	_, err := NewAdapter().ChargeStoredCredential(context.Background(), paymentdomain.ChargeRequest{
		Amount:              decimal.RequireFromString("10"),
		StoredCredentialRef: "tok_decline_insufficient",
		IdempotencyKey:      "k",
	})
	assert.ErrorIs(t, err, paymentdomain.ErrChargeDeclined)
}
