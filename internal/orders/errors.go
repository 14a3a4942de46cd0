package orders

import (
	"errors"
	"fmt"
	"net/http"
)

type ErrorKind string

const (
	KindValidation                ErrorKind = "VALIDATION"
	KindInsufficientInventory     ErrorKind = "INSUFFICIENT_INVENTORY"
	KindInsufficientLoyaltyPoints ErrorKind = "INSUFFICIENT_LOYALTY_POINTS"
	KindOrderCreationFailed       ErrorKind = "ORDER_CREATION_FAILED"
	KindPaymentFailed             ErrorKind = "PAYMENT_FAILED"
	KindIdempotencyConflict       ErrorKind = "IDEMPOTENCY_CONFLICT"
	KindCheckoutInProgress        ErrorKind = "CHECKOUT_IN_PROGRESS"
	KindGatewayUnavailable        ErrorKind = "GATEWAY_UNAVAILABLE"
	KindNotFound                  ErrorKind = "NOT_FOUND"
	KindInternal                  ErrorKind = "INTERNAL"
)

// CheckoutError is the caller-facing failure taxonomy. Retryable tells the
// client whether resubmitting (possibly with a changed cart or a fresh key)
// can succeed.
type CheckoutError struct {
	Kind      ErrorKind
	Message   string
	Retryable bool
}

func (e *CheckoutError) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *CheckoutError) HTTPStatus() int {
	switch e.Kind {
	case KindValidation, KindInsufficientInventory, KindInsufficientLoyaltyPoints:
		return http.StatusBadRequest
	case KindPaymentFailed:
		return http.StatusPaymentRequired
	case KindIdempotencyConflict, KindCheckoutInProgress:
		return http.StatusConflict
	case KindGatewayUnavailable:
		return http.StatusServiceUnavailable
	case KindNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

func NewError(kind ErrorKind, retryable bool, format string, args ...any) *CheckoutError {
	return &CheckoutError{Kind: kind, Message: fmt.Sprintf(format, args...), Retryable: retryable}
}

// AsCheckoutError unwraps err into the taxonomy; unknown errors map to a
// non-retryable INTERNAL.
func AsCheckoutError(err error) *CheckoutError {
	var ce *CheckoutError
	if errors.As(err, &ce) {
		return ce
	}
	return &CheckoutError{Kind: KindInternal, Message: "internal error", Retryable: false}
}

var (
	ErrNotFound     = errors.New("not found")
	ErrDuplicateKey = errors.New("idempotency key already exists")
)
