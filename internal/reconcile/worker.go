package reconcile

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
	kafkago "github.com/segmentio/kafka-go"
	"github.com/sirupsen/logrus"

	"github.com/ariefcatur/go-pos-checkout/internal/inventory"
	kafkax "github.com/ariefcatur/go-pos-checkout/internal/kafka"
	"github.com/ariefcatur/go-pos-checkout/internal/loyalty"
	"github.com/ariefcatur/go-pos-checkout/internal/metrics"
	"github.com/ariefcatur/go-pos-checkout/internal/orders"
	"github.com/ariefcatur/go-pos-checkout/internal/payment"
	"github.com/ariefcatur/go-pos-checkout/internal/redisx"
	"github.com/ariefcatur/go-pos-checkout/internal/sessions"
)

// Repairer replays the side effects a checkout could not complete after its
// payment had already succeeded. Every repair is idempotent against the
// order's actual ledger state, so duplicate queue items and redeliveries
// are harmless.
type Repairer struct {
	Queue     *Queue
	Orders    *orders.Repo
	Loyalty   *loyalty.Ledger
	Sessions  *sessions.Repo
	Inventory *inventory.Manager
	Gateway   payment.Gateway
	Redis     *redis.Client
	Service   string
	Metrics   *metrics.CheckoutMetrics // optional
	Log       *logrus.Entry
}

func (r *Repairer) count(kind, outcome string) {
	if r.Metrics != nil {
		r.Metrics.RepairsTotal.WithLabelValues(kind, outcome).Inc()
	}
}

// RepairAll processes every unresolved item once. Items whose repair fails
// stay queued for the next pass.
func (r *Repairer) RepairAll(ctx context.Context) (repaired int, err error) {
	items, err := r.Queue.ListUnresolved(ctx, "", 200)
	if err != nil {
		return 0, err
	}
	for _, it := range items {
		if err := r.RepairItem(ctx, &it); err != nil {
			r.count(it.Kind, "error")
			r.Log.WithError(err).WithFields(logrus.Fields{
				"item_id": it.ID, "order_id": it.OrderID, "kind": it.Kind,
			}).Warn("repair failed, leaving queued")
			continue
		}
		r.count(it.Kind, "ok")
		repaired++
	}
	if r.Metrics != nil {
		if n, err := r.Queue.CountUnresolved(ctx); err == nil {
			r.Metrics.QueueDepth.Set(float64(n))
		}
	}
	return repaired, nil
}

func (r *Repairer) RepairItem(ctx context.Context, it *Item) error {
	switch it.Kind {
	case KindLoyaltyUpdate:
		return r.repairLoyalty(ctx, it)
	case KindSessionTotals:
		return r.repairSession(ctx, it)
	case KindOrderFinalize:
		return r.repairOrderFinalize(ctx, it)
	case KindPaymentUnknown:
		return r.repairPaymentUnknown(ctx, it)
	default:
		r.Log.WithField("kind", it.Kind).Warn("unknown reconciliation kind, leaving for operator")
		return nil
	}
}

func (r *Repairer) repairLoyalty(ctx context.Context, it *Item) error {
	var p LoyaltyPayload
	if err := json.Unmarshal(it.Payload, &p); err != nil {
		return err
	}
	applied, err := r.Loyalty.HasOrderTransactions(ctx, it.OrderID)
	if err != nil {
		return err
	}
	if !applied {
		if err := r.Loyalty.ApplyCheckout(ctx, p.CustomerID, p.Redeem, p.Earn, it.OrderID); err != nil {
			return err
		}
	}
	return r.Queue.Resolve(ctx, it.ID)
}

func (r *Repairer) repairSession(ctx context.Context, it *Item) error {
	var p SessionPayload
	if err := json.Unmarshal(it.Payload, &p); err != nil {
		return err
	}
	if err := r.Sessions.AddSale(ctx, p.SessionID, p.LocationID, p.Total); err != nil {
		return err
	}
	return r.Queue.Resolve(ctx, it.ID)
}

func (r *Repairer) repairOrderFinalize(ctx context.Context, it *Item) error {
	var p OrderFinalizePayload
	if err := json.Unmarshal(it.Payload, &p); err != nil {
		return err
	}
	if err := r.Orders.Resolve(ctx, it.OrderID, orders.StatusCompleted, orders.PaymentPaid,
		p.PointsEarned, p.PointsRedeemed); err != nil {
		return err
	}
	if err := r.Inventory.Finalize(ctx, it.OrderID); err != nil {
		return err
	}
	return r.Queue.Resolve(ctx, it.ID)
}

// repairPaymentUnknown settles an order whose charge outcome was unknown when
// the orchestrator returned. The gateway's record, looked up by the original
// idempotency key, is the arbiter.
func (r *Repairer) repairPaymentUnknown(ctx context.Context, it *Item) error {
	var p PaymentUnknownPayload
	if err := json.Unmarshal(it.Payload, &p); err != nil {
		return err
	}
	res, found, err := r.Gateway.Lookup(ctx, p.IdempotencyKey)
	if err != nil {
		return err // gateway still unreachable, retry next pass
	}

	if !found || !res.Approved {
		// Charge never landed or was declined: cancel and put stock back.
		if err := r.Orders.Resolve(ctx, it.OrderID, orders.StatusCancelled, orders.PaymentFailed, 0, 0); err != nil {
			return err
		}
		if err := r.Inventory.Release(ctx, it.OrderID); err != nil {
			return err
		}
		return r.Queue.Resolve(ctx, it.ID)
	}

	// Charge went through: finish the success path the orchestrator started.
	if !p.CashAmount.IsZero() {
		if err := r.Orders.RecordPayment(ctx, &orders.PaymentTransaction{
			OrderID: it.OrderID, Method: orders.MethodCash, Amount: p.CashAmount, Status: orders.PaymentTxApproved,
		}); err != nil {
			return err
		}
	}
	if err := r.Orders.RecordPayment(ctx, &orders.PaymentTransaction{
		OrderID: it.OrderID, Method: orders.MethodCard, Amount: p.CardAmount,
		Status: orders.PaymentTxApproved, ReferenceID: res.ReferenceID, AuthCode: res.AuthCode,
	}); err != nil {
		return err
	}
	if err := r.Orders.Resolve(ctx, it.OrderID, orders.StatusCompleted, orders.PaymentPaid, p.Earn, p.Redeem); err != nil {
		return err
	}
	if err := r.Inventory.Finalize(ctx, it.OrderID); err != nil {
		return err
	}
	if p.CustomerID != "" {
		applied, err := r.Loyalty.HasOrderTransactions(ctx, it.OrderID)
		if err != nil {
			return err
		}
		if !applied {
			if err := r.Loyalty.ApplyCheckout(ctx, p.CustomerID, p.Redeem, p.Earn, it.OrderID); err != nil {
				return err
			}
		}
	}
	if err := r.Sessions.AddSale(ctx, p.SessionID, p.LocationID, p.Total); err != nil {
		return err
	}
	return r.Queue.Resolve(ctx, it.ID)
}

// HandleEnqueued is the kafka consumer entrypoint: a reconciliation item was
// just enqueued, repair it promptly instead of waiting for the next sweep.
func (r *Repairer) HandleEnqueued(ctx context.Context, m kafkago.Message) error {
	var env orders.Envelope
	if err := json.Unmarshal(m.Value, &env); err != nil {
		return err
	}
	if env.EventType != orders.EventReconciliationEnqueued {
		return nil
	}

	dkey := fmt.Sprintf(redisx.KeyDedup, r.Service, env.EventID)
	won, _ := redisx.Claim(ctx, r.Redis, dkey, redisx.TTLDedup)
	if !won {
		return nil
	}

	p, err := kafkax.UnwrapPayload[orders.ReconciliationEnqueuedPayload](env.Payload)
	if err != nil {
		return err
	}
	it, err := r.Queue.Get(ctx, p.ItemID)
	if err != nil {
		return err
	}
	if it.Resolved {
		return nil
	}
	if err := r.RepairItem(ctx, it); err != nil {
		// leave for the periodic sweep; offset is still committed so the
		// topic does not wedge on a poisoned item
		r.Log.WithError(err).WithField("item_id", it.ID).Warn("event-driven repair failed")
	}
	return nil
}
