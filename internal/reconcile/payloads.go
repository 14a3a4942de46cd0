package reconcile

import "github.com/shopspring/decimal"

// Payloads carry everything a repair needs so the worker never has to
// reconstruct the original request.

type LoyaltyPayload struct {
	CustomerID string `json:"customer_id"`
	Redeem     int64  `json:"redeem"`
	Earn       int64  `json:"earn"`
}

type SessionPayload struct {
	SessionID  string          `json:"session_id"`
	LocationID string          `json:"location_id"`
	Total      decimal.Decimal `json:"total"`
}

type OrderFinalizePayload struct {
	PointsEarned   int64 `json:"points_earned"`
	PointsRedeemed int64 `json:"points_redeemed"`
}

type PaymentUnknownPayload struct {
	IdempotencyKey string          `json:"idempotency_key"`
	CustomerID     string          `json:"customer_id,omitempty"`
	Redeem         int64           `json:"redeem"`
	Earn           int64           `json:"earn"`
	SessionID      string          `json:"session_id"`
	LocationID     string          `json:"location_id"`
	Total          decimal.Decimal `json:"total"`
	CardAmount     decimal.Decimal `json:"card_amount"`
	CashAmount     decimal.Decimal `json:"cash_amount"`
}
