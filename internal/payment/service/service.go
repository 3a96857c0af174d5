package service

import (
	"context"
	"errors"
	"time"

	"github.com/smallbiznis/modulebilling/internal/config"
	"github.com/smallbiznis/modulebilling/internal/observability/metrics"
	"github.com/smallbiznis/modulebilling/internal/payment/adapters"
	paymentdomain "github.com/smallbiznis/modulebilling/internal/payment/domain"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type Params struct {
	fx.In

	Config   config.Config
	Billing  *config.BillingConfigHolder
	Log      *zap.Logger
	Registry *adapters.Registry
	Metrics  *metrics.Metrics `optional:"true"`
}

// Service bounds every gateway call by the configured timeout and records
// outcome metrics and spans. Timeouts surface as ErrGatewayTimeout, never
// as success.
type Service struct {
	provider string
	next     paymentdomain.Gateway
	billing  *config.BillingConfigHolder
	log      *zap.Logger
	metrics  *metrics.Metrics
	tracer   trace.Tracer
}

func NewService(p Params) (paymentdomain.Gateway, error) {
	provider := p.Config.Gateway.Provider
	next, err := p.Registry.NewAdapter(provider, paymentdomain.AdapterConfig{
		Config: adapterConfig(p.Config.Gateway),
	})
	if err != nil {
		return nil, err
	}
	p.Log.Named("payment.gateway").Info("payment gateway configured", zap.String("provider", provider))
	return Wrap(provider, next, p.Billing, p.Log, p.Metrics), nil
}

func Wrap(provider string, next paymentdomain.Gateway, billing *config.BillingConfigHolder, log *zap.Logger, m *metrics.Metrics) *Service {
	return &Service{
		provider: provider,
		next:     next,
		billing:  billing,
		log:      log.Named("payment.gateway"),
		metrics:  m,
		tracer:   otel.Tracer("modulebilling/payment"),
	}
}

func adapterConfig(cfg config.GatewayConfig) map[string]string {
	return map[string]string{
		"base_url":     cfg.PayPlusBaseURL,
		"api_key":      cfg.PayPlusAPIKey,
		"secret_key":   secretFor(cfg),
		"terminal_uid": cfg.PayPlusTerminal,
	}
}

func secretFor(cfg config.GatewayConfig) string {
	if cfg.Provider == "stripe" {
		return cfg.StripeSecretKey
	}
	return cfg.PayPlusSecretKey
}

func (s *Service) ChargeStoredCredential(ctx context.Context, req paymentdomain.ChargeRequest) (paymentdomain.ChargeResponse, error) {
	ctx, span := s.tracer.Start(ctx, "payment.charge", trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()
	span.SetAttributes(
		attribute.String("payment.provider", s.provider),
		attribute.String("payment.idempotency_key", req.IdempotencyKey),
	)

	callCtx, cancel := context.WithTimeout(ctx, s.billing.Get().GatewayTimeout)
	defer cancel()

	start := time.Now()
	resp, err := s.next.ChargeStoredCredential(callCtx, req)
	err = s.normalize(callCtx, err)
	s.observe(ctx, span, "charge", start, err)

	if err != nil {
		s.log.Warn("charge failed",
			zap.String("provider", s.provider),
			zap.String("idempotency_key", req.IdempotencyKey),
			zap.String("amount", req.Amount.StringFixed(2)),
			zap.String("reason", paymentdomain.FailureReason(err)),
		)
		return paymentdomain.ChargeResponse{}, err
	}
	return resp, nil
}

func (s *Service) RefundCharge(ctx context.Context, req paymentdomain.RefundRequest) (paymentdomain.RefundResponse, error) {
	ctx, span := s.tracer.Start(ctx, "payment.refund", trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()
	span.SetAttributes(attribute.String("payment.provider", s.provider))

	callCtx, cancel := context.WithTimeout(ctx, s.billing.Get().GatewayTimeout)
	defer cancel()

	start := time.Now()
	resp, err := s.next.RefundCharge(callCtx, req)
	err = s.normalize(callCtx, err)
	s.observe(ctx, span, "refund", start, err)

	if err != nil {
		s.log.Error("refund failed",
			zap.String("provider", s.provider),
			zap.String("external_transaction_ref", req.ExternalTransactionRef),
			zap.Error(err),
		)
		return paymentdomain.RefundResponse{}, err
	}
	return resp, nil
}

// normalize maps context expiry onto the gateway error taxonomy.
func (s *Service) normalize(ctx context.Context, err error) error {
	if err == nil {
		return nil
	}
	var chargeErr *paymentdomain.ChargeError
	if errors.As(err, &chargeErr) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return paymentdomain.NewChargeError(paymentdomain.ErrGatewayTimeout, "", "gateway call exceeded timeout")
	}
	if errors.Is(err, paymentdomain.ErrInvalidRequest) {
		return paymentdomain.NewChargeError(paymentdomain.ErrInvalidRequest, "", err.Error())
	}
	return paymentdomain.NewChargeError(paymentdomain.ErrGatewayFailure, "", err.Error())
}

func (s *Service) observe(ctx context.Context, span trace.Span, kind string, start time.Time, err error) {
	outcome := "success"
	if err != nil {
		outcome = "failed"
		if errors.Is(err, paymentdomain.ErrGatewayTimeout) {
			outcome = "timeout"
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, paymentdomain.FailureReason(err))
	}
	span.SetAttributes(attribute.String("payment.outcome", outcome))
	s.metrics.RecordCharge(ctx, s.provider, kind, outcome, time.Since(start))
}
