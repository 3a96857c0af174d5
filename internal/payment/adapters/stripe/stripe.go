package stripe

import (
	"context"
	"errors"
	"net/http"
	"strings"

	paymentdomain "github.com/smallbiznis/modulebilling/internal/payment/domain"
	stripe "github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/paymentintent"
	"github.com/stripe/stripe-go/v82/refund"
)

type Factory struct{}

func NewFactory() *Factory {
	return &Factory{}
}

func (f *Factory) Provider() string {
	return "stripe"
}

// NewAdapter reads secret_key and, for tests, an optional api_url override.
func (f *Factory) NewAdapter(cfg paymentdomain.AdapterConfig) (paymentdomain.Gateway, error) {
	secret := strings.TrimSpace(cfg.Config["secret_key"])
	if secret == "" {
		return nil, paymentdomain.ErrInvalidConfig
	}

	backendCfg := &stripe.BackendConfig{
		MaxNetworkRetries: stripe.Int64(0),
	}
	if apiURL := strings.TrimSpace(cfg.Config["api_url"]); apiURL != "" {
		backendCfg.URL = stripe.String(apiURL)
	}
	if cfg.HTTPClient != nil {
		backendCfg.HTTPClient = cfg.HTTPClient
	}
	backend := stripe.GetBackendWithConfig(stripe.APIBackend, backendCfg)

	return &Adapter{
		intents: &paymentintent.Client{B: backend, Key: secret},
		refunds: &refund.Client{B: backend, Key: secret},
	}, nil
}

type Adapter struct {
	intents *paymentintent.Client
	refunds *refund.Client
}

func (a *Adapter) ChargeStoredCredential(ctx context.Context, req paymentdomain.ChargeRequest) (paymentdomain.ChargeResponse, error) {
	if err := req.Validate(); err != nil {
		return paymentdomain.ChargeResponse{}, err
	}

	params := &stripe.PaymentIntentParams{
		Amount:        stripe.Int64(req.Amount.Round(2).Shift(2).IntPart()),
		Currency:      stripe.String(strings.ToLower(strings.TrimSpace(req.Currency))),
		PaymentMethod: stripe.String(req.StoredCredentialRef),
		OffSession:    stripe.Bool(true),
		Confirm:       stripe.Bool(true),
	}
	if req.CustomerRef != "" {
		params.Customer = stripe.String(req.CustomerRef)
	}
	if req.Description != "" {
		params.Description = stripe.String(req.Description)
	}
	params.Context = ctx
	params.SetIdempotencyKey(req.IdempotencyKey)

	intent, err := a.intents.New(params)
	if err != nil {
		return paymentdomain.ChargeResponse{}, translateError(err)
	}
	if intent.Status != stripe.PaymentIntentStatusSucceeded {
		return paymentdomain.ChargeResponse{}, paymentdomain.NewChargeError(
			paymentdomain.ErrChargeDeclined, string(intent.Status), "payment intent not captured",
		)
	}

	resp := paymentdomain.ChargeResponse{ExternalTransactionRef: intent.ID}
	if intent.LatestCharge != nil {
		resp.ApprovalCode = intent.LatestCharge.ID
	}
	return resp, nil
}

func (a *Adapter) RefundCharge(ctx context.Context, req paymentdomain.RefundRequest) (paymentdomain.RefundResponse, error) {
	if strings.TrimSpace(req.ExternalTransactionRef) == "" {
		return paymentdomain.RefundResponse{}, paymentdomain.ErrInvalidRequest
	}

	params := &stripe.RefundParams{
		PaymentIntent: stripe.String(req.ExternalTransactionRef),
	}
	if req.Amount.IsPositive() {
		params.Amount = stripe.Int64(req.Amount.Round(2).Shift(2).IntPart())
	}
	params.Context = ctx
	if req.IdempotencyKey != "" {
		params.SetIdempotencyKey(req.IdempotencyKey)
	}

	out, err := a.refunds.New(params)
	if err != nil {
		return paymentdomain.RefundResponse{}, translateError(err)
	}
	return paymentdomain.RefundResponse{ExternalRefundRef: out.ID}, nil
}

func translateError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return paymentdomain.NewChargeError(paymentdomain.ErrGatewayTimeout, "", "stripe request timed out")
	}

	var stripeErr *stripe.Error
	if errors.As(err, &stripeErr) {
		code := string(stripeErr.Code)
		if stripeErr.DeclineCode != "" {
			code = string(stripeErr.DeclineCode)
		}
		if stripeErr.Type == stripe.ErrorTypeCard || stripeErr.HTTPStatusCode == http.StatusPaymentRequired {
			return paymentdomain.NewChargeError(paymentdomain.ErrChargeDeclined, code, stripeErr.Msg)
		}
		return paymentdomain.NewChargeError(paymentdomain.ErrGatewayFailure, code, stripeErr.Msg)
	}
	return paymentdomain.NewChargeError(paymentdomain.ErrGatewayFailure, "", err.Error())
}
