package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	ledgerdomain "github.com/smallbiznis/modulebilling/internal/ledger/domain"
	subscriptiondomain "github.com/smallbiznis/modulebilling/internal/subscription/domain"
)

type ValidationError struct {
	Field   string `json:"field"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

type ValidationErrors struct {
	Errors []ValidationError `json:"errors"`
}

func (v ValidationErrors) Error() string {
	return "validation error"
}

type errorPayload struct {
	Type    string            `json:"type"`
	Message string            `json:"message"`
	Errors  []ValidationError `json:"errors,omitempty"`
}

type errorResponse struct {
	Error errorPayload `json:"error"`
}

var (
	ErrUnauthorized   = errors.New("unauthorized")
	ErrNotFound       = errors.New("not_found")
	ErrInvalidRequest = errors.New("invalid_request")
)

func ErrorHandlingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if c.Writer.Written() {
			return
		}

		lastErr := c.Errors.Last()
		if lastErr == nil {
			return
		}

		status, payload := mapError(lastErr.Err)
		c.Header("Content-Type", "application/json")
		c.AbortWithStatusJSON(status, errorResponse{Error: payload})
	}
}

func AbortWithError(c *gin.Context, err error) {
	if err == nil {
		return
	}
	_ = c.Error(err)
	c.Abort()
}

func invalidRequestError() error {
	return newValidationError("request", "invalid_request", "invalid request")
}

func newValidationError(field, code, message string) error {
	return &ValidationErrors{
		Errors: []ValidationError{
			{
				Field:   field,
				Code:    code,
				Message: message,
			},
		},
	}
}

func mapError(err error) (int, errorPayload) {
	if err == nil {
		return http.StatusInternalServerError, errorPayload{
			Type:    "internal_error",
			Message: "internal server error",
		}
	}

	if vErr := asValidationErrors(err); vErr != nil {
		return http.StatusBadRequest, errorPayload{
			Type:    "validation_error",
			Message: "validation error",
			Errors:  vErr.Errors,
		}
	}

	var chargeErr *subscriptiondomain.ChargeFailedError
	switch {
	case errors.Is(err, ErrInvalidRequest),
		errors.Is(err, subscriptiondomain.ErrInvalidStore),
		errors.Is(err, subscriptiondomain.ErrInvalidModuleID),
		errors.Is(err, ledgerdomain.ErrInvalidPageToken):
		return http.StatusBadRequest, errorPayload{
			Type:    "validation_error",
			Message: "validation error",
			Errors: []ValidationError{
				{Field: validationErrorField(err), Code: err.Error(), Message: "invalid value"},
			},
		}
	case errors.Is(err, ErrUnauthorized):
		return http.StatusUnauthorized, errorPayload{
			Type:    "unauthorized",
			Message: "unauthorized",
		}
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound, errorPayload{
			Type:    "not_found",
			Message: "not found",
		}
	case errors.Is(err, subscriptiondomain.ErrModuleNotFound):
		return http.StatusNotFound, errorPayload{
			Type:    subscriptiondomain.ErrModuleNotFound.Error(),
			Message: "module not found",
		}
	case errors.Is(err, subscriptiondomain.ErrNoActiveSubscription):
		return http.StatusNotFound, errorPayload{
			Type:    subscriptiondomain.ErrNoActiveSubscription.Error(),
			Message: "module has no active subscription",
		}
	case errors.Is(err, subscriptiondomain.ErrSubscriptionNotFound):
		return http.StatusNotFound, errorPayload{
			Type:    subscriptiondomain.ErrSubscriptionNotFound.Error(),
			Message: "subscription not found",
		}
	case errors.Is(err, subscriptiondomain.ErrAlreadySubscribed):
		return http.StatusConflict, errorPayload{
			Type:    subscriptiondomain.ErrAlreadySubscribed.Error(),
			Message: "module is already subscribed",
		}
	case errors.Is(err, subscriptiondomain.ErrOperationInProgress):
		return http.StatusConflict, errorPayload{
			Type:    subscriptiondomain.ErrOperationInProgress.Error(),
			Message: "another operation on this module is in progress, retry shortly",
		}
	case errors.Is(err, subscriptiondomain.ErrAccountNotPaying):
		return http.StatusPaymentRequired, errorPayload{
			Type:    subscriptiondomain.ErrAccountNotPaying.Error(),
			Message: "store subscription must be active to buy paid modules",
		}
	case errors.As(err, &chargeErr):
		return http.StatusPaymentRequired, errorPayload{
			Type:    subscriptiondomain.ErrChargeFailed.Error(),
			Message: "payment was not approved: " + chargeErr.Reason,
		}
	case errors.Is(err, subscriptiondomain.ErrNoPaymentCredential):
		return http.StatusUnprocessableEntity, errorPayload{
			Type:    subscriptiondomain.ErrNoPaymentCredential.Error(),
			Message: "add a payment card before buying paid modules",
		}
	case errors.Is(err, subscriptiondomain.ErrInfrastructure):
		return http.StatusServiceUnavailable, errorPayload{
			Type:    "service_unavailable",
			Message: "service unavailable",
		}
	default:
		return http.StatusInternalServerError, errorPayload{
			Type:    "internal_error",
			Message: "internal server error",
		}
	}
}

// classifyErrorForLog returns the response type used for err.
func classifyErrorForLog(err error) string {
	_, payload := mapError(err)
	return payload.Type
}

func asValidationErrors(err error) *ValidationErrors {
	var vErr *ValidationErrors
	if errors.As(err, &vErr) && vErr != nil {
		return vErr
	}
	return nil
}

func validationErrorField(err error) string {
	switch {
	case errors.Is(err, subscriptiondomain.ErrInvalidStore):
		return "store_id"
	case errors.Is(err, subscriptiondomain.ErrInvalidModuleID):
		return "module_id"
	case errors.Is(err, ledgerdomain.ErrInvalidPageToken):
		return "page_token"
	default:
		return "request"
	}
}
