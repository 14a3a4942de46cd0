package checkout

import (
	"context"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/ariefcatur/go-pos-checkout/internal/loyalty"
	"github.com/ariefcatur/go-pos-checkout/internal/orders"
	"github.com/ariefcatur/go-pos-checkout/internal/payment"
	"github.com/ariefcatur/go-pos-checkout/internal/reconcile"
)

type OrderStore interface {
	CreateDraft(ctx context.Context, o *orders.Order) error
	GetByIdempotencyKey(ctx context.Context, key string) (*orders.Order, error)
	InsertLines(ctx context.Context, orderID string, lines []orders.OrderItem) error
	Resolve(ctx context.Context, orderID string, st orders.Status, ps orders.PaymentStatus, earned, redeemed int64) error
	DeleteDraft(ctx context.Context, orderID string) error
	RecordPayment(ctx context.Context, p *orders.PaymentTransaction) error
}

type InventoryReserver interface {
	Reserve(ctx context.Context, orderID string, items []orders.ItemQty) (bool, []orders.Shortage, error)
	Finalize(ctx context.Context, orderID string) error
	Release(ctx context.Context, orderID string) error
}

type LoyaltyLedger interface {
	CheckBalance(ctx context.Context, customerID string, required int64) error
	ApplyCheckout(ctx context.Context, customerID string, redeem, earn int64, orderID string) error
}

type SessionTotals interface {
	AddSale(ctx context.Context, sessionID, locationID string, total decimal.Decimal) error
}

type ReconcileQueue interface {
	Enqueue(ctx context.Context, orderID, kind string, payload any) (int64, error)
}

// Orchestrator runs one checkout end to end. Correctness rests entirely on
// the database's row locking, never on in-process state: any number of
// instances may run concurrently.
//
// The contract: before the payment step, any failure leaves zero durable
// effects (holds released, draft gone or cancelled). Once payment succeeds,
// the checkout succeeds from the client's point of view; later failures are
// queued for reconciliation, never surfaced.
type Orchestrator struct {
	Orders    OrderStore
	Inventory InventoryReserver
	Loyalty   LoyaltyLedger
	Sessions  SessionTotals
	Queue     ReconcileQueue
	Gateway   payment.Gateway
	Events    Events // optional

	// Points credited per whole currency unit of the post-discount goods
	// value (subtotal minus discounts, tax excluded).
	EarnRate int64

	Log *logrus.Entry
}

func (o *Orchestrator) log() *logrus.Entry {
	if o.Log != nil {
		return o.Log
	}
	return logrus.WithField("component", "checkout")
}

// Checkout executes the state machine. Exactly-once per idempotency key:
// a replay returns the stored outcome of the first execution.
func (o *Orchestrator) Checkout(ctx context.Context, req Request) (*Result, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}
	hash := req.Hash()
	log := o.log().WithField("idempotency_key", req.IdempotencyKey)

	// IDEMPOTENCY_CHECK
	if existing, err := o.Orders.GetByIdempotencyKey(ctx, req.IdempotencyKey); err == nil {
		return o.replay(existing, hash)
	} else if !errors.Is(err, orders.ErrNotFound) {
		return nil, errors.Wrap(err, "idempotency check")
	}

	// RESERVE_INVENTORY. The order ID is minted here so the holds can name
	// their owner before the draft row exists.
	orderID := uuid.NewString()
	ok, shortages, err := o.Inventory.Reserve(ctx, orderID, req.itemQtys())
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, insufficientInventory(shortages)
	}

	// CREATE_DRAFT_ORDER. The unique idempotency key is written in the same
	// statement, closing the race between concurrent requests with one key.
	draft := &orders.Order{
		ID:             orderID,
		IdempotencyKey: req.IdempotencyKey,
		RequestHash:    hash,
		VendorID:       req.VendorID,
		LocationID:     req.LocationID,
		SessionID:      req.SessionID,
		CustomerID:     req.CustomerID,
		PaymentMethod:  req.PaymentMethod,
		Subtotal:       req.Subtotal,
		TaxAmount:      req.TaxAmount,
		DiscountAmount: req.DiscountAmount,
		Total:          req.Total,
	}
	if err := o.Orders.CreateDraft(ctx, draft); err != nil {
		o.releaseQuiet(ctx, orderID)
		if errors.Is(err, orders.ErrDuplicateKey) {
			// Lost the race to a concurrent request with the same key.
			existing, gerr := o.Orders.GetByIdempotencyKey(ctx, req.IdempotencyKey)
			if gerr != nil {
				return nil, errors.Wrap(gerr, "fetch winning order")
			}
			return o.replay(existing, hash)
		}
		return nil, errors.Wrap(err, "create draft order")
	}
	log = log.WithField("order_id", orderID)

	// INSERT_ORDER_LINES
	if err := o.Orders.InsertLines(ctx, orderID, req.orderLines(orderID)); err != nil {
		log.WithError(err).Error("order line insert failed")
		o.releaseQuiet(ctx, orderID)
		if derr := o.Orders.DeleteDraft(ctx, orderID); derr != nil {
			log.WithError(derr).Error("draft cleanup failed")
		}
		return nil, orders.NewError(orders.KindOrderCreationFailed, true, "order creation failed")
	}

	// VALIDATE_LOYALTY_REDEMPTION. Lock, check, commit: the lock must not
	// survive into the payment wait, so the spend is re-checked when applied.
	if req.LoyaltyPointsToRedeem > 0 {
		if err := o.Loyalty.CheckBalance(ctx, req.CustomerID, req.LoyaltyPointsToRedeem); err != nil {
			o.releaseQuiet(ctx, orderID)
			if errors.Is(err, loyalty.ErrInsufficientBalance) {
				o.cancelQuiet(ctx, orderID, "insufficient loyalty points")
				return nil, orders.NewError(orders.KindInsufficientLoyaltyPoints, true,
					"customer has fewer than %d points", req.LoyaltyPointsToRedeem)
			}
			if derr := o.Orders.DeleteDraft(ctx, orderID); derr != nil {
				log.WithError(derr).Error("draft cleanup failed")
			}
			return nil, errors.Wrap(err, "loyalty validation")
		}
	}

	earned := o.earnPoints(req)
	redeemed := req.LoyaltyPointsToRedeem

	// PROCESS_PAYMENT
	charge, err := o.processPayment(ctx, orderID, req, log)
	if err != nil {
		return nil, err
	}

	// Point of no return: the customer has paid. Client disconnects must not
	// abort the remaining writes.
	dctx := context.WithoutCancel(ctx)

	o.recordTenders(dctx, orderID, req, charge, log)

	// FINALIZE_ORDER
	if err := o.Orders.Resolve(dctx, orderID, orders.StatusCompleted, orders.PaymentPaid, earned, redeemed); err != nil {
		log.WithError(err).Error("order finalize failed after payment")
		o.enqueue(dctx, orderID, reconcile.KindOrderFinalize, reconcile.OrderFinalizePayload{
			PointsEarned: earned, PointsRedeemed: redeemed,
		})
	} else if err := o.Inventory.Finalize(dctx, orderID); err != nil {
		// FINALIZE_INVENTORY. Stock is already deducted; only the hold
		// status flip is outstanding.
		log.WithError(err).Error("inventory finalize failed after payment")
		o.enqueue(dctx, orderID, reconcile.KindOrderFinalize, reconcile.OrderFinalizePayload{
			PointsEarned: earned, PointsRedeemed: redeemed,
		})
	}

	// UPDATE_LOYALTY
	if req.CustomerID != "" && (redeemed > 0 || earned > 0) {
		if err := o.Loyalty.ApplyCheckout(dctx, req.CustomerID, redeemed, earned, orderID); err != nil {
			log.WithError(err).Warn("loyalty update failed after payment")
			o.enqueue(dctx, orderID, reconcile.KindLoyaltyUpdate, reconcile.LoyaltyPayload{
				CustomerID: req.CustomerID, Redeem: redeemed, Earn: earned,
			})
		}
	}

	// UPDATE_SESSION_TOTALS
	if err := o.Sessions.AddSale(dctx, req.SessionID, req.LocationID, req.Total); err != nil {
		log.WithError(err).Warn("session totals update failed")
		o.enqueue(dctx, orderID, reconcile.KindSessionTotals, reconcile.SessionPayload{
			SessionID: req.SessionID, LocationID: req.LocationID, Total: req.Total,
		})
	}

	draft.Status = orders.StatusCompleted
	draft.PaymentStatus = orders.PaymentPaid
	draft.PointsEarned = earned
	draft.PointsRedeemed = redeemed
	if o.Events != nil {
		o.Events.CheckoutCompleted(draft)
	}
	log.WithField("order_number", draft.OrderNumber).Info("checkout completed")

	return &Result{
		OrderID:        orderID,
		OrderNumber:    draft.OrderNumber,
		Status:         orders.StatusCompleted,
		PaymentStatus:  orders.PaymentPaid,
		Total:          req.Total,
		PointsEarned:   earned,
		PointsRedeemed: redeemed,
	}, nil
}

// processPayment resolves the card portion with the gateway, or approves
// immediately for cash. Declines and definitive gateway failures cancel the
// order; an unknown outcome parks it for reconciliation.
func (o *Orchestrator) processPayment(ctx context.Context, orderID string, req Request, log *logrus.Entry) (payment.ChargeResult, error) {
	if req.PaymentMethod == orders.MethodCash {
		return payment.ChargeResult{Approved: true}, nil
	}

	res, err := o.Gateway.Charge(ctx, payment.ChargeRequest{
		Amount:         req.cardPortion(),
		IdempotencyKey: req.IdempotencyKey,
		Metadata:       map[string]string{"order_id": orderID, "session_id": req.SessionID},
	})
	switch {
	case err == nil && res.Approved:
		return res, nil

	case err == nil: // explicit decline: safe to resolve
		log.WithField("reason", res.DeclineReason).Info("card declined")
		o.recordQuiet(ctx, &orders.PaymentTransaction{
			OrderID: orderID, Method: orders.MethodCard, Amount: req.cardPortion(),
			Status: orders.PaymentTxDeclined, ReferenceID: res.ReferenceID,
		}, log)
		o.releaseQuiet(ctx, orderID)
		o.cancelQuiet(ctx, orderID, "card declined")
		return res, orders.NewError(orders.KindPaymentFailed, true, "card declined: %s", res.DeclineReason)

	case errors.Is(err, payment.ErrOutcomeUnknown):
		// The charge may have happened. No second attempt, no fresh key.
		// Park the order; the repairer settles it from the gateway's record.
		log.Warn("payment outcome unknown, parking order for reconciliation")
		o.enqueue(context.WithoutCancel(ctx), orderID, reconcile.KindPaymentUnknown, reconcile.PaymentUnknownPayload{
			IdempotencyKey: req.IdempotencyKey,
			CustomerID:     req.CustomerID,
			Redeem:         req.LoyaltyPointsToRedeem,
			Earn:           o.earnPoints(req),
			SessionID:      req.SessionID,
			LocationID:     req.LocationID,
			Total:          req.Total,
			CardAmount:     req.cardPortion(),
			CashAmount:     req.cashPortion(),
		})
		return res, orders.NewError(orders.KindGatewayUnavailable, true,
			"payment outcome unknown; retry with the same idempotency key")

	case errors.Is(err, payment.ErrUnavailable):
		// The gateway definitively did not take the charge.
		o.releaseQuiet(ctx, orderID)
		o.cancelQuiet(ctx, orderID, "payment gateway unavailable")
		return res, orders.NewError(orders.KindGatewayUnavailable, true, "payment gateway unavailable")

	default:
		o.releaseQuiet(ctx, orderID)
		o.cancelQuiet(ctx, orderID, "payment error")
		return res, errors.Wrap(err, "charge")
	}
}

// recordTenders writes one payment_transactions row per tender.
func (o *Orchestrator) recordTenders(ctx context.Context, orderID string, req Request, charge payment.ChargeResult, log *logrus.Entry) {
	switch req.PaymentMethod {
	case orders.MethodCash:
		o.recordQuiet(ctx, &orders.PaymentTransaction{
			OrderID: orderID, Method: orders.MethodCash, Amount: req.Total, Status: orders.PaymentTxApproved,
		}, log)
	case orders.MethodCard:
		o.recordQuiet(ctx, &orders.PaymentTransaction{
			OrderID: orderID, Method: orders.MethodCard, Amount: req.Total,
			Status: orders.PaymentTxApproved, ReferenceID: charge.ReferenceID, AuthCode: charge.AuthCode,
		}, log)
	case orders.MethodSplit:
		o.recordQuiet(ctx, &orders.PaymentTransaction{
			OrderID: orderID, Method: orders.MethodCash, Amount: req.CashAmount, Status: orders.PaymentTxApproved,
		}, log)
		o.recordQuiet(ctx, &orders.PaymentTransaction{
			OrderID: orderID, Method: orders.MethodCard, Amount: req.CardAmount,
			Status: orders.PaymentTxApproved, ReferenceID: charge.ReferenceID, AuthCode: charge.AuthCode,
		}, log)
	}
}

// replay answers a request whose key already has an order.
func (o *Orchestrator) replay(existing *orders.Order, hash string) (*Result, error) {
	if existing.RequestHash != hash {
		return nil, orders.NewError(orders.KindIdempotencyConflict, false,
			"idempotency key reused with a different payload")
	}
	if !existing.Status.Terminal() {
		return nil, orders.NewError(orders.KindCheckoutInProgress, true,
			"a checkout with this idempotency key is still in flight")
	}
	if existing.Status == orders.StatusCancelled {
		return nil, orders.NewError(orders.KindPaymentFailed, true, "checkout was cancelled")
	}
	return &Result{
		OrderID:        existing.ID,
		OrderNumber:    existing.OrderNumber,
		Status:         existing.Status,
		PaymentStatus:  existing.PaymentStatus,
		Total:          existing.Total,
		PointsEarned:   existing.PointsEarned,
		PointsRedeemed: existing.PointsRedeemed,
		Replayed:       true,
	}, nil
}

func (o *Orchestrator) earnPoints(req Request) int64 {
	if req.CustomerID == "" || o.EarnRate <= 0 {
		return 0
	}
	base := req.Subtotal.Sub(req.DiscountAmount)
	if base.IsNegative() {
		return 0
	}
	return base.IntPart() * o.EarnRate
}

func (o *Orchestrator) enqueue(ctx context.Context, orderID, kind string, payload any) {
	id, err := o.Queue.Enqueue(ctx, orderID, kind, payload)
	if err != nil {
		// Worst case: the failure is only in the logs. Loud on purpose.
		o.log().WithError(err).WithFields(logrus.Fields{
			"order_id": orderID, "kind": kind,
		}).Error("reconciliation enqueue failed")
		return
	}
	o.log().WithFields(logrus.Fields{
		"order_id": orderID, "kind": kind, "item_id": id,
	}).Warn("queued for reconciliation")
	if o.Events != nil {
		o.Events.ReconciliationEnqueued(id, orderID, kind)
	}
}

func (o *Orchestrator) releaseQuiet(ctx context.Context, orderID string) {
	if err := o.Inventory.Release(ctx, orderID); err != nil {
		// Holds expire via TTL if this fails.
		o.log().WithError(err).WithField("order_id", orderID).Error("reservation release failed")
	}
}

func (o *Orchestrator) cancelQuiet(ctx context.Context, orderID, reason string) {
	if err := o.Orders.Resolve(ctx, orderID, orders.StatusCancelled, orders.PaymentFailed, 0, 0); err != nil {
		o.log().WithError(err).WithField("order_id", orderID).Error("order cancel failed")
	}
	if o.Events != nil {
		o.Events.CheckoutCancelled(orderID, reason)
	}
}

func (o *Orchestrator) recordQuiet(ctx context.Context, p *orders.PaymentTransaction, log *logrus.Entry) {
	if err := o.Orders.RecordPayment(ctx, p); err != nil {
		log.WithError(err).Error("payment transaction record failed")
	}
}

func insufficientInventory(shortages []orders.Shortage) error {
	if len(shortages) == 0 {
		return orders.NewError(orders.KindInsufficientInventory, true, "insufficient stock")
	}
	s := shortages[0]
	if len(shortages) > 1 {
		return orders.NewError(orders.KindInsufficientInventory, true,
			"insufficient stock for %d products, first %s: need %d, have %d",
			len(shortages), s.ProductID, s.Required, s.Available)
	}
	return orders.NewError(orders.KindInsufficientInventory, true,
		"insufficient stock for %s: need %d, have %d", s.ProductID, s.Required, s.Available)
}
