package orders

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

const (
	EventCheckoutCompleted      = "CheckoutCompleted"
	EventCheckoutCancelled      = "CheckoutCancelled"
	EventReconciliationEnqueued = "ReconciliationEnqueued"
)

type Envelope struct {
	EventID       string          `json:"event_id"`
	EventType     string          `json:"event_type"`
	EventVersion  int             `json:"event_version"`
	OccurredAt    time.Time       `json:"occurred_at"`
	Producer      string          `json:"producer"`
	TraceID       string          `json:"trace_id,omitempty"`
	CorrelationID string          `json:"correlation_id,omitempty"` // order_id
	Payload       json.RawMessage `json:"payload"`
}

type CheckoutCompletedPayload struct {
	OrderID        string          `json:"order_id"`
	OrderNumber    int64           `json:"order_number"`
	SessionID      string          `json:"session_id"`
	CustomerID     string          `json:"customer_id,omitempty"`
	Total          decimal.Decimal `json:"total"`
	PointsEarned   int64           `json:"points_earned"`
	PointsRedeemed int64           `json:"points_redeemed"`
}

type CheckoutCancelledPayload struct {
	OrderID string `json:"order_id"`
	Reason  string `json:"reason"`
}

type ReconciliationEnqueuedPayload struct {
	ItemID  int64  `json:"item_id"`
	OrderID string `json:"order_id"`
	Kind    string `json:"kind"`
}
