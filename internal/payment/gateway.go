package payment

import (
	"context"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
)

var (
	// ErrUnavailable: the gateway definitively did not take the charge
	// (unreachable before the request, or it reported an internal error).
	// Safe to cancel the order and let the client retry.
	ErrUnavailable = errors.New("payment gateway unavailable")

	// ErrOutcomeUnknown: the charge may or may not have happened (timeout
	// mid-flight, lookup budget exhausted). The caller must not assume
	// failure and must not retry under a fresh idempotency key.
	ErrOutcomeUnknown = errors.New("payment outcome unknown")
)

type ChargeRequest struct {
	Amount         decimal.Decimal
	IdempotencyKey string
	Metadata       map[string]string
}

type ChargeResult struct {
	Approved      bool
	ReferenceID   string
	AuthCode      string
	DeclineReason string
}

// Gateway is the contract the orchestrator requires from the payment
// processor. The processor must itself honor the idempotency key: repeated
// charges with the same key and amount must not double-charge. Lookup
// retrieves the outcome of a prior charge attempt by its idempotency key.
type Gateway interface {
	Charge(ctx context.Context, req ChargeRequest) (ChargeResult, error)
	Void(ctx context.Context, referenceID string) error
	Lookup(ctx context.Context, idempotencyKey string) (ChargeResult, bool, error)
}
