package checkout

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"

	"github.com/shopspring/decimal"

	"github.com/ariefcatur/go-pos-checkout/internal/orders"
)

type Line struct {
	ProductID string          `json:"product_id"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
}

type Request struct {
	IdempotencyKey        string               `json:"idempotency_key"`
	VendorID              string               `json:"vendor_id"`
	LocationID            string               `json:"location_id"`
	SessionID             string               `json:"session_id"`
	Items                 []Line               `json:"items"`
	Subtotal              decimal.Decimal      `json:"subtotal"`
	TaxAmount             decimal.Decimal      `json:"tax_amount"`
	DiscountAmount        decimal.Decimal      `json:"discount_amount"`
	Total                 decimal.Decimal      `json:"total"`
	PaymentMethod         orders.PaymentMethod `json:"payment_method"`
	CashAmount            decimal.Decimal      `json:"cash_amount"` // split only
	CardAmount            decimal.Decimal      `json:"card_amount"` // split only
	CustomerID            string               `json:"customer_id,omitempty"`
	LoyaltyPointsToRedeem int64                `json:"loyalty_points_to_redeem,omitempty"`
}

type Result struct {
	OrderID        string               `json:"order_id"`
	OrderNumber    int64                `json:"order_number"`
	Status         orders.Status        `json:"status"`
	PaymentStatus  orders.PaymentStatus `json:"payment_status"`
	Total          decimal.Decimal      `json:"total"`
	PointsEarned   int64                `json:"points_earned"`
	PointsRedeemed int64                `json:"points_redeemed"`
	Replayed       bool                 `json:"idempotent_replay"`
}

func invalid(format string, args ...any) error {
	return orders.NewError(orders.KindValidation, false, format, args...)
}

func (r Request) validate() error {
	if r.IdempotencyKey == "" {
		// Never synthesized: a server-made key could collide or vary
		// across retries, which defeats the whole contract.
		return invalid("idempotency_key is required")
	}
	if r.VendorID == "" || r.LocationID == "" || r.SessionID == "" {
		return invalid("vendor_id, location_id and session_id are required")
	}
	if len(r.Items) == 0 {
		return invalid("cart is empty")
	}
	for i, it := range r.Items {
		if it.ProductID == "" {
			return invalid("items[%d]: product_id is required", i)
		}
		if it.Quantity <= 0 {
			return invalid("items[%d]: quantity must be positive", i)
		}
		if it.UnitPrice.IsNegative() {
			return invalid("items[%d]: unit_price must not be negative", i)
		}
	}
	for name, d := range map[string]decimal.Decimal{
		"subtotal": r.Subtotal, "tax_amount": r.TaxAmount,
		"discount_amount": r.DiscountAmount, "total": r.Total,
	} {
		if d.IsNegative() {
			return invalid("%s must not be negative", name)
		}
	}
	if want := r.Subtotal.Sub(r.DiscountAmount).Add(r.TaxAmount); !r.Total.Equal(want) {
		return invalid("total %s does not match subtotal - discount + tax = %s", r.Total, want)
	}

	switch r.PaymentMethod {
	case orders.MethodCash, orders.MethodCard:
	case orders.MethodSplit:
		if r.CashAmount.IsNegative() || r.CardAmount.IsNegative() {
			return invalid("split amounts must not be negative")
		}
		if !r.CashAmount.Add(r.CardAmount).Equal(r.Total) {
			return invalid("split cash + card must equal total")
		}
	default:
		return invalid("unknown payment_method %q", r.PaymentMethod)
	}

	if r.LoyaltyPointsToRedeem < 0 {
		return invalid("loyalty_points_to_redeem must not be negative")
	}
	if r.LoyaltyPointsToRedeem > 0 && r.CustomerID == "" {
		return invalid("loyalty redemption requires customer_id")
	}
	return nil
}

// Hash fingerprints the logical request so a replay under the same key with
// a different payload is detected instead of silently answered.
func (r Request) Hash() string {
	b, _ := json.Marshal(r)
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

// itemQtys merges lines that name the same product. The reservation layer
// accounts per product, so two lines for one product must become one hold
// covering both quantities or a rollback would restore only the first.
func (r Request) itemQtys() []orders.ItemQty {
	idx := make(map[string]int, len(r.Items))
	out := make([]orders.ItemQty, 0, len(r.Items))
	for _, it := range r.Items {
		if i, ok := idx[it.ProductID]; ok {
			out[i].Qty += it.Quantity
			continue
		}
		idx[it.ProductID] = len(out)
		out = append(out, orders.ItemQty{ProductID: it.ProductID, Qty: it.Quantity})
	}
	return out
}

func (r Request) orderLines(orderID string) []orders.OrderItem {
	out := make([]orders.OrderItem, 0, len(r.Items))
	for _, it := range r.Items {
		out = append(out, orders.OrderItem{
			OrderID: orderID, ProductID: it.ProductID, Qty: it.Quantity, UnitPrice: it.UnitPrice,
		})
	}
	return out
}

// cardPortion is what the gateway is asked for: the card share of a split,
// or the whole total for a plain card payment.
func (r Request) cardPortion() decimal.Decimal {
	if r.PaymentMethod == orders.MethodSplit {
		return r.CardAmount
	}
	return r.Total
}

func (r Request) cashPortion() decimal.Decimal {
	switch r.PaymentMethod {
	case orders.MethodSplit:
		return r.CashAmount
	case orders.MethodCash:
		return r.Total
	default:
		return decimal.Zero
	}
}
