// Package sandbox is an in-process gateway for local development and demos.
// Tokens prefixed with "tok_decline" are declined; everything else is approved.
package sandbox

import (
	"context"
	"strings"
	"sync"

	"github.com/google/uuid"
	paymentdomain "github.com/smallbiznis/modulebilling/internal/payment/domain"
)

const declinePrefix = "tok_decline"

type Factory struct{}

func NewFactory() *Factory {
	return &Factory{}
}

func (f *Factory) Provider() string {
	return "sandbox"
}

func (f *Factory) NewAdapter(paymentdomain.AdapterConfig) (paymentdomain.Gateway, error) {
	return NewAdapter(), nil
}

type Adapter struct {
	mu      sync.Mutex
	charges map[string]paymentdomain.ChargeResponse
}

func NewAdapter() *Adapter {
	return &Adapter{charges: map[string]paymentdomain.ChargeResponse{}}
}

func (a *Adapter) ChargeStoredCredential(ctx context.Context, req paymentdomain.ChargeRequest) (paymentdomain.ChargeResponse, error) {
	if err := ctx.Err(); err != nil {
		return paymentdomain.ChargeResponse{}, err
	}
	if err := req.Validate(); err != nil {
		return paymentdomain.ChargeResponse{}, err
	}
	if strings.HasPrefix(req.StoredCredentialRef, declinePrefix) {
		return paymentdomain.ChargeResponse{}, paymentdomain.NewChargeError(paymentdomain.ErrChargeDeclined, "sandbox_decline", "card declined")
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if resp, ok := a.charges[req.IdempotencyKey]; ok {
		return resp, nil
	}
	id := uuid.NewSHA1(uuid.NameSpaceOID, []byte(req.IdempotencyKey))
	resp := paymentdomain.ChargeResponse{
		ExternalTransactionRef: "sbx_" + id.String(),
		ApprovalCode:           strings.ToUpper(id.String()[:6]),
	}
	a.charges[req.IdempotencyKey] = resp
	return resp, nil
}

func (a *Adapter) RefundCharge(ctx context.Context, req paymentdomain.RefundRequest) (paymentdomain.RefundResponse, error) {
	if err := ctx.Err(); err != nil {
		return paymentdomain.RefundResponse{}, err
	}
	if strings.TrimSpace(req.ExternalTransactionRef) == "" {
		return paymentdomain.RefundResponse{}, paymentdomain.ErrInvalidRequest
	}
	id := uuid.NewSHA1(uuid.NameSpaceOID, []byte("refund:"+req.ExternalTransactionRef))
	return paymentdomain.RefundResponse{ExternalRefundRef: "sbx_rf_" + id.String()}, nil
}
