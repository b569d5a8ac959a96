package service

import (
	"errors"
	"fmt"
)

var (
	ErrOrderNotFound        = errors.New("order not found")
	ErrTransactionNotFound  = errors.New("transaction not found")
	ErrNotificationNotFound = errors.New("notification not found")
	ErrInvalidSignature     = errors.New("invalid webhook signature")
	ErrReferenceInUse       = errors.New("payment reference already used by another order")
	ErrOrderInProgress      = errors.New("an order with this payment reference is already being processed")
	ErrOrderAlreadyPaid     = errors.New("order already paid")
	ErrInvalidStatus        = errors.New("invalid order status")
	ErrForbidden            = errors.New("forbidden")
)

// ValidationError is a client-fixable problem with a checkout request.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

func validationErrorf(format string, args ...interface{}) error {
	return &ValidationError{Message: fmt.Sprintf(format, args...)}
}

// VerificationError means the gateway did not confirm the payment.
type VerificationError struct {
	Err error
}

func (e *VerificationError) Error() string {
	return fmt.Sprintf("payment verification failed: %v", e.Err)
}

func (e *VerificationError) Unwrap() error {
	return e.Err
}
