package httpx

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/ariefcatur/go-pos-checkout/internal/checkout"
	"github.com/ariefcatur/go-pos-checkout/internal/metrics"
	"github.com/ariefcatur/go-pos-checkout/internal/orders"
	"github.com/ariefcatur/go-pos-checkout/internal/reconcile"
	"github.com/ariefcatur/go-pos-checkout/internal/redisx"
)

// Checkouter is what the handler needs from the orchestrator.
type Checkouter interface {
	Checkout(ctx context.Context, req checkout.Request) (*checkout.Result, error)
}

type OrderReader interface {
	Get(ctx context.Context, orderID string) (*orders.Order, error)
}

type QueueReader interface {
	ListUnresolved(ctx context.Context, kind string, limit int) ([]reconcile.Item, error)
	Resolve(ctx context.Context, id int64) error
}

type CheckoutHandler struct {
	Checkouts Checkouter
	Orders    OrderReader
	Queue     QueueReader
	Cache     Cache // optional
	Metrics   *metrics.CheckoutMetrics
	Timeout   time.Duration
}

// cachedCheckout pairs the stored result with the request fingerprint so the
// fast path keeps the same conflict semantics as the database replay.
type cachedCheckout struct {
	RequestHash string          `json:"request_hash"`
	Result      checkout.Result `json:"result"`
}

func (h *CheckoutHandler) Register(r *chi.Mux) {
	r.Post("/checkout", h.postCheckout)
	r.Get("/orders/{id}", h.getOrder)
	r.Get("/reconciliation", h.listReconciliation)
	r.Post("/reconciliation/{id}/resolve", h.resolveReconciliation)
}

type errorBody struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable"`
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeCheckoutError(w http.ResponseWriter, err error) *orders.CheckoutError {
	ce := orders.AsCheckoutError(err)
	writeJSON(w, ce.HTTPStatus(), map[string]errorBody{"error": {
		Code: string(ce.Kind), Message: ce.Message, Retryable: ce.Retryable,
	}})
	return ce
}

func (h *CheckoutHandler) postCheckout(w http.ResponseWriter, r *http.Request) {
	var req checkout.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]errorBody{"error": {
			Code: string(orders.KindValidation), Message: "invalid json",
		}})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.Timeout)
	defer cancel()

	// Fast-path replay: a completed checkout under this key answers from the
	// cache without touching the orchestrator. The hash check keeps reuse of
	// the key with a different payload a conflict, exactly as the DB path.
	idemKey := fmt.Sprintf(redisx.KeyIdemCheckout, req.IdempotencyKey)
	if h.Cache != nil && req.IdempotencyKey != "" {
		if s, ok := h.Cache.Get(ctx, idemKey); ok {
			var cc cachedCheckout
			if err := json.Unmarshal([]byte(s), &cc); err == nil {
				if cc.RequestHash != req.Hash() {
					ce := writeCheckoutError(w, orders.NewError(orders.KindIdempotencyConflict, false,
						"idempotency key reused with a different payload"))
					h.count(string(ce.Kind))
					return
				}
				cc.Result.Replayed = true
				h.count("success")
				writeJSON(w, http.StatusOK, cc.Result)
				return
			}
		}
	}

	start := time.Now()
	res, err := h.Checkouts.Checkout(ctx, req)
	if h.Metrics != nil {
		h.Metrics.LatencyMS.WithLabelValues(string(req.PaymentMethod)).
			Observe(float64(time.Since(start).Milliseconds()))
	}
	if err != nil {
		ce := writeCheckoutError(w, err)
		h.count(string(ce.Kind))
		return
	}
	h.count("success")

	if h.Cache != nil {
		// advisory only, the DB unique key is the source of truth
		b, _ := json.Marshal(cachedCheckout{RequestHash: req.Hash(), Result: *res})
		h.Cache.Set(ctx, idemKey, string(b), redisx.TTLIdempotency)
		sb, _ := json.Marshal(res)
		h.Cache.Set(ctx, fmt.Sprintf(redisx.KeyOrderStatus, res.OrderID), string(sb), redisx.TTLStatusCache)
	}

	code := http.StatusCreated
	if res.Replayed {
		code = http.StatusOK
	}
	writeJSON(w, code, res)
}

func (h *CheckoutHandler) count(result string) {
	if h.Metrics != nil {
		h.Metrics.Checkouts.WithLabelValues(result).Inc()
	}
}

func (h *CheckoutHandler) getOrder(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "id")

	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	if h.Cache != nil {
		if s, ok := h.Cache.Get(ctx, fmt.Sprintf(redisx.KeyOrderStatus, orderID)); ok {
			writeJSON(w, http.StatusOK, json.RawMessage(s))
			return
		}
	}

	o, err := h.Orders.Get(ctx, orderID)
	if err != nil {
		writeCheckoutError(w, orders.NewError(orders.KindNotFound, false, "order %s not found", orderID))
		return
	}
	writeJSON(w, http.StatusOK, o)
}

func (h *CheckoutHandler) listReconciliation(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	items, err := h.Queue.ListUnresolved(ctx, r.URL.Query().Get("kind"), 200)
	if err != nil {
		writeCheckoutError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items, "count": len(items)})
}

func (h *CheckoutHandler) resolveReconciliation(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeCheckoutError(w, orders.NewError(orders.KindValidation, false, "invalid item id"))
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	if err := h.Queue.Resolve(ctx, id); err != nil {
		writeCheckoutError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"resolved": id})
}
