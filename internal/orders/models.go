package orders

import (
	"time"

	"github.com/shopspring/decimal"
)

type PaymentMethod string

const (
	MethodCash  PaymentMethod = "cash"
	MethodCard  PaymentMethod = "card"
	MethodSplit PaymentMethod = "split"
)

type Product struct {
	ID        string
	SKU       string
	Name      string
	Stock     int
	Price     decimal.Decimal
	CreatedAt time.Time
	UpdatedAt time.Time
}

type Order struct {
	ID             string
	OrderNumber    int64
	IdempotencyKey string
	RequestHash    string
	VendorID       string
	LocationID     string
	SessionID      string
	CustomerID     string
	Status         Status
	PaymentStatus  PaymentStatus
	PaymentMethod  PaymentMethod
	Subtotal       decimal.Decimal
	TaxAmount      decimal.Decimal
	DiscountAmount decimal.Decimal
	Total          decimal.Decimal
	PointsEarned   int64
	PointsRedeemed int64
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

type OrderItem struct {
	ID        int64
	OrderID   string
	ProductID string
	Qty       int
	UnitPrice decimal.Decimal
}

type ItemQty struct {
	ProductID string `json:"product_id"`
	Qty       int    `json:"qty"`
}

// Shortage reports how far a reservation attempt fell short for one product.
type Shortage struct {
	ProductID string `json:"product_id"`
	Required  int    `json:"required"`
	Available int    `json:"available"`
}

type ReservationStatus string

const (
	ReservationReserved ReservationStatus = "RESERVED"
	ReservationConsumed ReservationStatus = "CONSUMED"
	ReservationReleased ReservationStatus = "RELEASED"
)

// Reservation is a time-bounded hold against on-hand stock. Stock is
// decremented when the hold is taken, so availability is conservative from
// the first moment: crashes can undersell until the sweep, never oversell.
type Reservation struct {
	ID         int64
	OrderID    string
	ProductID  string
	Qty        int
	Status     ReservationStatus
	ExpiresAt  time.Time
	ReleasedAt *time.Time
	CreatedAt  time.Time
}

type LoyaltyTxType string

const (
	LoyaltyEarned   LoyaltyTxType = "EARNED"
	LoyaltySpent    LoyaltyTxType = "SPENT"
	LoyaltyAdjusted LoyaltyTxType = "ADJUSTED"
)

type LoyaltyRefType string

const (
	RefOrder  LoyaltyRefType = "ORDER"
	RefManual LoyaltyRefType = "MANUAL"
)

// LoyaltyTransaction is append-only. Corrections are new ADJUSTED rows.
type LoyaltyTransaction struct {
	ID            string
	CustomerID    string
	Type          LoyaltyTxType
	Points        int64 // signed
	BalanceBefore int64
	BalanceAfter  int64
	ReferenceType LoyaltyRefType
	ReferenceID   string
	CreatedAt     time.Time
}

type PaymentTxStatus string

const (
	PaymentTxApproved PaymentTxStatus = "APPROVED"
	PaymentTxDeclined PaymentTxStatus = "DECLINED"
	PaymentTxVoided   PaymentTxStatus = "VOIDED"
)

// PaymentTransaction records one tender. A split checkout writes two rows.
type PaymentTransaction struct {
	ID          string
	OrderID     string
	Method      PaymentMethod
	Amount      decimal.Decimal
	Status      PaymentTxStatus
	ReferenceID string
	AuthCode    string
	CreatedAt   time.Time
}
