package domain

import (
	"errors"
	"fmt"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestChargeErrorUnwrapsToKind(t *testing.T) {
	err := fmt.Errorf("renewal: %w", NewChargeError(ErrChargeDeclined, "006", "insufficient funds"))

	assert.True(t, errors.Is(err, ErrChargeDeclined))
	assert.False(t, errors.Is(err, ErrGatewayTimeout))
	assert.Equal(t, "insufficient funds", FailureReason(err))
	assert.Equal(t, "boom", FailureReason(errors.New("boom")))
	assert.Equal(t, "gateway_timeout", FailureReason(&ChargeError{Kind: ErrGatewayTimeout}))
}

func TestChargeRequestValidate(t *testing.T) {
	valid := ChargeRequest{
		Amount:              decimal.RequireFromString("58.38"),
		StoredCredentialRef: "tok_1",
		IdempotencyKey:      "purchase:1:premium-club:abc",
	}
	assert.NoError(t, valid.Validate())

	zero := valid
	zero.Amount = decimal.Zero
	assert.ErrorIs(t, zero.Validate(), ErrInvalidRequest)

	noKey := valid
	noKey.IdempotencyKey = ""
	assert.ErrorIs(t, noKey.Validate(), ErrInvalidRequest)
}
