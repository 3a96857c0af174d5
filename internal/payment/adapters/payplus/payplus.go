package payplus

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	paymentdomain "github.com/smallbiznis/modulebilling/internal/payment/domain"
)

const (
	chargePath = "/Transactions/Charge"
	refundPath = "/Transactions/RefundByTransactionUID"

	statusSuccess = "success"
)

type Factory struct{}

func NewFactory() *Factory {
	return &Factory{}
}

func (f *Factory) Provider() string {
	return "payplus"
}

func (f *Factory) NewAdapter(cfg paymentdomain.AdapterConfig) (paymentdomain.Gateway, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.Config["base_url"]), "/")
	apiKey := strings.TrimSpace(cfg.Config["api_key"])
	secretKey := strings.TrimSpace(cfg.Config["secret_key"])
	terminal := strings.TrimSpace(cfg.Config["terminal_uid"])
	if baseURL == "" || apiKey == "" || secretKey == "" || terminal == "" {
		return nil, paymentdomain.ErrInvalidConfig
	}

	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}

	auth, err := json.Marshal(map[string]string{"api_key": apiKey, "secret_key": secretKey})
	if err != nil {
		return nil, err
	}

	return &Adapter{
		baseURL:     baseURL,
		terminalUID: terminal,
		authHeader:  string(auth),
		client:      client,
	}, nil
}

type Adapter struct {
	baseURL     string
	terminalUID string
	authHeader  string
	client      *http.Client
}

type product struct {
	Name     string  `json:"name"`
	Quantity int     `json:"quantity"`
	Price    float64 `json:"price"`
	VatType  int     `json:"vat_type"`
}

type chargeBody struct {
	TerminalUID    string    `json:"terminal_uid"`
	Amount         float64   `json:"amount"`
	CurrencyCode   string    `json:"currency_code"`
	CreditTerms    int       `json:"credit_terms"`
	UseToken       bool      `json:"use_token"`
	Token          string    `json:"token"`
	CustomerUID    string    `json:"customer_uid,omitempty"`
	InitialInvoice bool      `json:"initial_invoice"`
	MoreInfo       string    `json:"more_info,omitempty"`
	MoreInfo2      string    `json:"more_info_2,omitempty"`
	Products       []product `json:"products,omitempty"`
}

type refundBody struct {
	TerminalUID    string  `json:"terminal_uid"`
	TransactionUID string  `json:"transaction_uid"`
	Amount         float64 `json:"amount,omitempty"`
}

type results struct {
	Status      string          `json:"status"`
	Code        json.RawMessage `json:"code"`
	Description string          `json:"description"`
}

type response struct {
	Results results `json:"results"`
	Data    struct {
		TransactionUID string `json:"transaction_uid"`
		ApprovalNum    string `json:"approval_num"`
	} `json:"data"`
}

func (a *Adapter) ChargeStoredCredential(ctx context.Context, req paymentdomain.ChargeRequest) (paymentdomain.ChargeResponse, error) {
	if err := req.Validate(); err != nil {
		return paymentdomain.ChargeResponse{}, err
	}

	body := chargeBody{
		TerminalUID:    a.terminalUID,
		Amount:         req.Amount.Round(2).InexactFloat64(),
		CurrencyCode:   defaultCurrency(req.Currency),
		CreditTerms:    1,
		UseToken:       true,
		Token:          req.StoredCredentialRef,
		CustomerUID:    req.CustomerRef,
		InitialInvoice: true,
		MoreInfo:       req.Description,
		MoreInfo2:      req.IdempotencyKey,
	}
	for _, item := range req.LineItems {
		body.Products = append(body.Products, product{
			Name:     item.Name,
			Quantity: item.Quantity,
			Price:    item.UnitPrice.Round(2).InexactFloat64(),
			VatType:  0,
		})
	}

	var out response
	if err := a.post(ctx, chargePath, body, &out); err != nil {
		return paymentdomain.ChargeResponse{}, err
	}
	if strings.TrimSpace(out.Data.TransactionUID) == "" {
		return paymentdomain.ChargeResponse{}, paymentdomain.NewChargeError(paymentdomain.ErrGatewayFailure, "", "missing transaction uid")
	}
	return paymentdomain.ChargeResponse{
		ExternalTransactionRef: out.Data.TransactionUID,
		ApprovalCode:           out.Data.ApprovalNum,
	}, nil
}

func (a *Adapter) RefundCharge(ctx context.Context, req paymentdomain.RefundRequest) (paymentdomain.RefundResponse, error) {
	if strings.TrimSpace(req.ExternalTransactionRef) == "" {
		return paymentdomain.RefundResponse{}, paymentdomain.ErrInvalidRequest
	}
	body := refundBody{
		TerminalUID:    a.terminalUID,
		TransactionUID: req.ExternalTransactionRef,
	}
	if req.Amount.IsPositive() {
		body.Amount = req.Amount.Round(2).InexactFloat64()
	}

	var out response
	if err := a.post(ctx, refundPath, body, &out); err != nil {
		return paymentdomain.RefundResponse{}, err
	}
	return paymentdomain.RefundResponse{ExternalRefundRef: out.Data.TransactionUID}, nil
}

func (a *Adapter) post(ctx context.Context, path string, body any, out *response) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", a.authHeader)

	resp, err := a.client.Do(httpReq)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return paymentdomain.NewChargeError(paymentdomain.ErrGatewayTimeout, "", "payplus request timed out")
		}
		return paymentdomain.NewChargeError(paymentdomain.ErrGatewayFailure, "", err.Error())
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return paymentdomain.NewChargeError(paymentdomain.ErrGatewayFailure, "", err.Error())
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return paymentdomain.NewChargeError(paymentdomain.ErrGatewayFailure, strconv.Itoa(resp.StatusCode), "unreadable gateway response")
	}

	if resp.StatusCode >= http.StatusInternalServerError {
		return paymentdomain.NewChargeError(paymentdomain.ErrGatewayFailure, codeString(out.Results.Code, resp.StatusCode), out.Results.Description)
	}
	if resp.StatusCode >= http.StatusBadRequest || !strings.EqualFold(out.Results.Status, statusSuccess) {
		return paymentdomain.NewChargeError(paymentdomain.ErrChargeDeclined, codeString(out.Results.Code, resp.StatusCode), out.Results.Description)
	}
	return nil
}

func codeString(raw json.RawMessage, status int) string {
	code := strings.Trim(strings.TrimSpace(string(raw)), `"`)
	if code == "" || code == "null" {
		return fmt.Sprintf("http_%d", status)
	}
	return code
}

func defaultCurrency(currency string) string {
	currency = strings.ToUpper(strings.TrimSpace(currency))
	if currency == "" {
		return "ILS"
	}
	return currency
}
