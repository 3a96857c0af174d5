package domain

import (
	"errors"
	"fmt"

	moduledomain "github.com/smallbiznis/modulebilling/internal/module/domain"
)

var (
	ErrModuleNotFound       = moduledomain.ErrModuleNotFound
	ErrAccountNotPaying     = errors.New("account_not_paying")
	ErrNoPaymentCredential  = errors.New("no_payment_credential")
	ErrAlreadySubscribed    = errors.New("already_subscribed")
	ErrNoActiveSubscription = errors.New("no_active_subscription")
	ErrSubscriptionNotFound = errors.New("subscription_not_found")
	ErrChargeFailed         = errors.New("charge_failed")
	ErrInfrastructure       = errors.New("infrastructure_failure")
	ErrOperationInProgress  = errors.New("operation_in_progress")
	ErrInvalidStore         = errors.New("invalid_store")
	ErrInvalidModuleID      = errors.New("invalid_module_id")
)

// ChargeFailedError keeps the gateway reason for the ledger and the caller.
type ChargeFailedError struct {
	Reason string
	Err    error
}

func (e *ChargeFailedError) Error() string {
	return fmt.Sprintf("%s: %s", ErrChargeFailed, e.Reason)
}

func (e *ChargeFailedError) Is(target error) bool { return target == ErrChargeFailed }

func (e *ChargeFailedError) Unwrap() error { return e.Err }

// InfrastructureError wraps storage or lock backend failures.
type InfrastructureError struct {
	Op  string
	Err error
}

func (e *InfrastructureError) Error() string {
	return fmt.Sprintf("%s: %s: %v", ErrInfrastructure, e.Op, e.Err)
}

func (e *InfrastructureError) Is(target error) bool { return target == ErrInfrastructure }

func (e *InfrastructureError) Unwrap() error { return e.Err }

func Infrastructure(op string, err error) error {
	if err == nil {
		return nil
	}
	var infra *InfrastructureError
	if errors.As(err, &infra) {
		return err
	}
	return &InfrastructureError{Op: op, Err: err}
}
