package domain

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/shopspring/decimal"
)

type LineItem struct {
	Name      string          `json:"name"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
}

// ChargeRequest charges a previously tokenized card. IdempotencyKey must be
// stable across retries of the same logical charge.
type ChargeRequest struct {
	Amount              decimal.Decimal
	Currency            string
	StoredCredentialRef string
	CustomerRef         string
	IdempotencyKey      string
	Description         string
	LineItems           []LineItem
}

type ChargeResponse struct {
	ExternalTransactionRef string
	ApprovalCode           string
}

type RefundRequest struct {
	ExternalTransactionRef string
	Amount                 decimal.Decimal
	Currency               string
	IdempotencyKey         string
}

type RefundResponse struct {
	ExternalRefundRef string
}

//go:generate mockgen -source=gateway.go -destination=../mocks/mock_gateway.go -package=mocks

// Gateway is the outbound payment contract. Any non-nil error means the
// charge must be treated as not captured.
type Gateway interface {
	ChargeStoredCredential(ctx context.Context, req ChargeRequest) (ChargeResponse, error)
	RefundCharge(ctx context.Context, req RefundRequest) (RefundResponse, error)
}

type AdapterConfig struct {
	Config     map[string]string
	HTTPClient *http.Client
}

type AdapterFactory interface {
	Provider() string
	NewAdapter(cfg AdapterConfig) (Gateway, error)
}

var (
	ErrProviderNotFound = errors.New("payment_provider_not_found")
	ErrInvalidConfig    = errors.New("invalid_payment_config")
	ErrInvalidRequest   = errors.New("invalid_charge_request")
	ErrChargeDeclined   = errors.New("charge_declined")
	ErrGatewayTimeout   = errors.New("gateway_timeout")
	ErrGatewayFailure   = errors.New("gateway_failure")
)

// ChargeError carries the provider's reason for audit logging. Kind is one of
// the sentinel errors above so callers can branch with errors.Is.
type ChargeError struct {
	Kind    error
	Code    string
	Message string
}

func (e *ChargeError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s: %s (%s)", e.Kind, e.Message, e.Code)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *ChargeError) Unwrap() error { return e.Kind }

func NewChargeError(kind error, code, message string) *ChargeError {
	return &ChargeError{Kind: kind, Code: strings.TrimSpace(code), Message: strings.TrimSpace(message)}
}

// FailureReason returns a short reason for the ledger.
func FailureReason(err error) string {
	if err == nil {
		return ""
	}
	var chargeErr *ChargeError
	if errors.As(err, &chargeErr) {
		if chargeErr.Message != "" {
			return chargeErr.Message
		}
		return chargeErr.Kind.Error()
	}
	return err.Error()
}

func (r ChargeRequest) Validate() error {
	if !r.Amount.IsPositive() {
		return ErrInvalidRequest
	}
	if strings.TrimSpace(r.StoredCredentialRef) == "" || strings.TrimSpace(r.IdempotencyKey) == "" {
		return ErrInvalidRequest
	}
	return nil
}
