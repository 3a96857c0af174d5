package billingtest

import (
	"context"
	"fmt"
	"sync"

	paymentdomain "github.com/smallbiznis/modulebilling/internal/payment/domain"
)

// Gateway is a scriptable in-memory payment gateway.
type Gateway struct {
	mu      sync.Mutex
	charges []paymentdomain.ChargeRequest
	refunds []paymentdomain.RefundRequest

	// Decline, when set, fails any charge for which it returns a non-nil error.
	Decline func(req paymentdomain.ChargeRequest) error
	// BeforeApprove runs after the decision to approve and before returning.
	BeforeApprove func(req paymentdomain.ChargeRequest)
	RefundErr     error
}

func (g *Gateway) ChargeStoredCredential(_ context.Context, req paymentdomain.ChargeRequest) (paymentdomain.ChargeResponse, error) {
	g.mu.Lock()
	g.charges = append(g.charges, req)
	n := len(g.charges)
	decline := g.Decline
	before := g.BeforeApprove
	g.mu.Unlock()

	if decline != nil {
		if err := decline(req); err != nil {
			return paymentdomain.ChargeResponse{}, err
		}
	}
	if before != nil {
		before(req)
	}
	return paymentdomain.ChargeResponse{
		ExternalTransactionRef: fmt.Sprintf("txn_%d", n),
		ApprovalCode:           fmt.Sprintf("A%04d", n),
	}, nil
}

func (g *Gateway) RefundCharge(_ context.Context, req paymentdomain.RefundRequest) (paymentdomain.RefundResponse, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.refunds = append(g.refunds, req)
	if g.RefundErr != nil {
		return paymentdomain.RefundResponse{}, g.RefundErr
	}
	return paymentdomain.RefundResponse{ExternalRefundRef: "rf_" + req.ExternalTransactionRef}, nil
}

func (g *Gateway) Charges() []paymentdomain.ChargeRequest {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]paymentdomain.ChargeRequest(nil), g.charges...)
}

func (g *Gateway) Refunds() []paymentdomain.RefundRequest {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]paymentdomain.RefundRequest(nil), g.refunds...)
}

// DeclineTokens declines charges whose stored credential is in tokens.
func DeclineTokens(tokens ...string) func(req paymentdomain.ChargeRequest) error {
	set := make(map[string]struct{}, len(tokens))
	for _, t := range tokens {
		set[t] = struct{}{}
	}
	return func(req paymentdomain.ChargeRequest) error {
		if _, ok := set[req.StoredCredentialRef]; ok {
			return paymentdomain.NewChargeError(paymentdomain.ErrChargeDeclined, "05", "do not honor")
		}
		return nil
	}
}
