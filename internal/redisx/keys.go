package redisx

import "time"

const (
	// Fast-path idempotency for checkout: idem:checkout:{key} -> order_id.
	// Advisory only; the orders table's unique constraint is the truth.
	KeyIdemCheckout = "idem:checkout:%s"

	// Cache of the order's resolved state: order_status:{order_id} -> JSON
	KeyOrderStatus = "order_status:%s"

	// Dedup for event-driven repair: dedup:{service}:{id}
	KeyDedup = "dedup:%s:%s"
)

var (
	TTLIdempotency = 24 * time.Hour
	TTLStatusCache = 5 * time.Minute
	TTLDedup       = 48 * time.Hour
)
