package checkout

import (
	"context"
	"testing"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ariefcatur/go-pos-checkout/internal/loyalty"
	"github.com/ariefcatur/go-pos-checkout/internal/orders"
	"github.com/ariefcatur/go-pos-checkout/internal/payment"
	"github.com/ariefcatur/go-pos-checkout/internal/reconcile"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

// ---- fakes ----

type fakeOrders struct {
	byID       map[string]*orders.Order
	byKey      map[string]string
	lines      map[string][]orders.OrderItem
	payments   []*orders.PaymentTransaction
	nextNumber int64

	linesErr   error
	resolveErr error
}

func newFakeOrders() *fakeOrders {
	return &fakeOrders{
		byID:  map[string]*orders.Order{},
		byKey: map[string]string{},
		lines: map[string][]orders.OrderItem{},
	}
}

func (f *fakeOrders) CreateDraft(_ context.Context, o *orders.Order) error {
	if _, dup := f.byKey[o.IdempotencyKey]; dup {
		return orders.ErrDuplicateKey
	}
	f.nextNumber++
	o.OrderNumber = f.nextNumber
	o.Status = orders.StatusPending
	o.PaymentStatus = orders.PaymentPending
	cp := *o
	f.byID[o.ID] = &cp
	f.byKey[o.IdempotencyKey] = o.ID
	return nil
}

func (f *fakeOrders) GetByIdempotencyKey(_ context.Context, key string) (*orders.Order, error) {
	id, ok := f.byKey[key]
	if !ok {
		return nil, orders.ErrNotFound
	}
	cp := *f.byID[id]
	return &cp, nil
}

func (f *fakeOrders) InsertLines(_ context.Context, orderID string, lines []orders.OrderItem) error {
	if f.linesErr != nil {
		return f.linesErr
	}
	f.lines[orderID] = lines
	return nil
}

func (f *fakeOrders) Resolve(_ context.Context, orderID string, st orders.Status, ps orders.PaymentStatus, earned, redeemed int64) error {
	if f.resolveErr != nil {
		return f.resolveErr
	}
	o, ok := f.byID[orderID]
	if !ok || o.Status != orders.StatusPending {
		return nil
	}
	o.Status, o.PaymentStatus = st, ps
	o.PointsEarned, o.PointsRedeemed = earned, redeemed
	return nil
}

func (f *fakeOrders) DeleteDraft(_ context.Context, orderID string) error {
	if o, ok := f.byID[orderID]; ok && o.Status == orders.StatusPending {
		delete(f.byKey, o.IdempotencyKey)
		delete(f.byID, orderID)
	}
	return nil
}

func (f *fakeOrders) RecordPayment(_ context.Context, p *orders.PaymentTransaction) error {
	f.payments = append(f.payments, p)
	return nil
}

type fakeHold struct {
	items  []orders.ItemQty
	status orders.ReservationStatus
}

type fakeInventory struct {
	stock map[string]int
	holds map[string]*fakeHold
}

func newFakeInventory(stock map[string]int) *fakeInventory {
	return &fakeInventory{stock: stock, holds: map[string]*fakeHold{}}
}

func (f *fakeInventory) Reserve(_ context.Context, orderID string, items []orders.ItemQty) (bool, []orders.Shortage, error) {
	var shortages []orders.Shortage
	for _, it := range items {
		if f.stock[it.ProductID] < it.Qty {
			shortages = append(shortages, orders.Shortage{
				ProductID: it.ProductID, Required: it.Qty, Available: f.stock[it.ProductID],
			})
		}
	}
	if len(shortages) > 0 {
		return false, shortages, nil
	}
	for _, it := range items {
		f.stock[it.ProductID] -= it.Qty
	}
	f.holds[orderID] = &fakeHold{items: items, status: orders.ReservationReserved}
	return true, nil, nil
}

func (f *fakeInventory) Finalize(_ context.Context, orderID string) error {
	if h, ok := f.holds[orderID]; ok && h.status == orders.ReservationReserved {
		h.status = orders.ReservationConsumed
	}
	return nil
}

func (f *fakeInventory) Release(_ context.Context, orderID string) error {
	if h, ok := f.holds[orderID]; ok && h.status == orders.ReservationReserved {
		for _, it := range h.items {
			f.stock[it.ProductID] += it.Qty
		}
		h.status = orders.ReservationReleased
	}
	return nil
}

type loyaltyApply struct {
	customerID   string
	redeem, earn int64
	orderID      string
}

type fakeLoyalty struct {
	balances map[string]int64
	applied  []loyaltyApply
	applyErr error
}

func (f *fakeLoyalty) CheckBalance(_ context.Context, customerID string, required int64) error {
	if f.balances[customerID] < required {
		return loyalty.ErrInsufficientBalance
	}
	return nil
}

func (f *fakeLoyalty) ApplyCheckout(_ context.Context, customerID string, redeem, earn int64, orderID string) error {
	if f.applyErr != nil {
		return f.applyErr
	}
	if f.balances[customerID] < redeem {
		return loyalty.ErrInsufficientBalance
	}
	f.balances[customerID] += earn - redeem
	f.applied = append(f.applied, loyaltyApply{customerID, redeem, earn, orderID})
	return nil
}

type fakeSessions struct {
	sales map[string]decimal.Decimal
	err   error
}

func (f *fakeSessions) AddSale(_ context.Context, sessionID, _ string, total decimal.Decimal) error {
	if f.err != nil {
		return f.err
	}
	if f.sales == nil {
		f.sales = map[string]decimal.Decimal{}
	}
	f.sales[sessionID] = f.sales[sessionID].Add(total)
	return nil
}

type queued struct {
	orderID, kind string
	payload       any
}

type fakeQueue struct {
	items  []queued
	nextID int64
}

func (f *fakeQueue) Enqueue(_ context.Context, orderID, kind string, payload any) (int64, error) {
	f.nextID++
	f.items = append(f.items, queued{orderID, kind, payload})
	return f.nextID, nil
}

type fakeGateway struct {
	result  payment.ChargeResult
	err     error
	charges []payment.ChargeRequest
}

func (f *fakeGateway) Charge(_ context.Context, req payment.ChargeRequest) (payment.ChargeResult, error) {
	f.charges = append(f.charges, req)
	return f.result, f.err
}

func (f *fakeGateway) Void(context.Context, string) error { return nil }

func (f *fakeGateway) Lookup(context.Context, string) (payment.ChargeResult, bool, error) {
	return payment.ChargeResult{}, false, nil
}

// ---- harness ----

type harness struct {
	orch      *Orchestrator
	orders    *fakeOrders
	inventory *fakeInventory
	loyalty   *fakeLoyalty
	sessions  *fakeSessions
	queue     *fakeQueue
	gateway   *fakeGateway
}

func newHarness(stock map[string]int) *harness {
	h := &harness{
		orders:    newFakeOrders(),
		inventory: newFakeInventory(stock),
		loyalty:   &fakeLoyalty{balances: map[string]int64{}},
		sessions:  &fakeSessions{},
		queue:     &fakeQueue{},
		gateway:   &fakeGateway{result: payment.ChargeResult{Approved: true, ReferenceID: "ref-1", AuthCode: "A1"}},
	}
	h.orch = &Orchestrator{
		Orders:    h.orders,
		Inventory: h.inventory,
		Loyalty:   h.loyalty,
		Sessions:  h.sessions,
		Queue:     h.queue,
		Gateway:   h.gateway,
		EarnRate:  1,
	}
	return h
}

func cashRequest() Request {
	return Request{
		IdempotencyKey: "idem-1",
		VendorID:       "v1",
		LocationID:     "l1",
		SessionID:      "s1",
		Items:          []Line{{ProductID: "p1", Quantity: 2, UnitPrice: dec("50.00")}},
		Subtotal:       dec("100.00"),
		TaxAmount:      dec("10.00"),
		DiscountAmount: dec("0"),
		Total:          dec("110.00"),
		PaymentMethod:  orders.MethodCash,
	}
}

// ---- tests ----

func TestCheckoutHappyPathCash(t *testing.T) {
	h := newHarness(map[string]int{"p1": 5})

	res, err := h.orch.Checkout(context.Background(), cashRequest())
	require.NoError(t, err)

	assert.Equal(t, orders.StatusCompleted, res.Status)
	assert.Equal(t, orders.PaymentPaid, res.PaymentStatus)
	assert.True(t, res.Total.Equal(dec("110.00")))
	assert.Zero(t, res.PointsEarned)
	assert.Zero(t, res.PointsRedeemed)
	assert.False(t, res.Replayed)

	// one inventory deduction per line, hold consumed
	assert.Equal(t, 3, h.inventory.stock["p1"])
	assert.Equal(t, orders.ReservationConsumed, h.inventory.holds[res.OrderID].status)

	// one cash tender, zero loyalty rows, zero reconciliation items
	require.Len(t, h.orders.payments, 1)
	assert.Equal(t, orders.MethodCash, h.orders.payments[0].Method)
	assert.True(t, h.orders.payments[0].Amount.Equal(dec("110.00")))
	assert.Empty(t, h.loyalty.applied)
	assert.Empty(t, h.queue.items)

	// no external call for cash
	assert.Empty(t, h.gateway.charges)

	// session totals updated
	assert.True(t, h.sessions.sales["s1"].Equal(dec("110.00")))
}

func TestCheckoutSplitChargesCardPortionOnly(t *testing.T) {
	h := newHarness(map[string]int{"p1": 10})

	req := Request{
		IdempotencyKey: "idem-split",
		VendorID:       "v1",
		LocationID:     "l1",
		SessionID:      "s1",
		Items:          []Line{{ProductID: "p1", Quantity: 1, UnitPrice: dec("200.00")}},
		Subtotal:       dec("200.00"),
		DiscountAmount: dec("30.00"), // 20 loyalty + 10 campaign
		TaxAmount:      dec("17.00"), // on the discounted 170.00
		Total:          dec("187.00"),
		PaymentMethod:  orders.MethodSplit,
		CashAmount:     dec("130.00"),
		CardAmount:     dec("57.00"),
	}
	res, err := h.orch.Checkout(context.Background(), req)
	require.NoError(t, err)
	assert.True(t, res.Total.Equal(dec("187.00")))

	// gateway saw exactly the card share, not the total
	require.Len(t, h.gateway.charges, 1)
	assert.True(t, h.gateway.charges[0].Amount.Equal(dec("57.00")))
	assert.Equal(t, "idem-split", h.gateway.charges[0].IdempotencyKey)

	// two tenders recorded
	require.Len(t, h.orders.payments, 2)
	assert.Equal(t, orders.MethodCash, h.orders.payments[0].Method)
	assert.True(t, h.orders.payments[0].Amount.Equal(dec("130.00")))
	assert.Equal(t, orders.MethodCard, h.orders.payments[1].Method)
	assert.True(t, h.orders.payments[1].Amount.Equal(dec("57.00")))
}

func TestCheckoutInsufficientInventory(t *testing.T) {
	h := newHarness(map[string]int{"p1": 1})

	_, err := h.orch.Checkout(context.Background(), cashRequest()) // wants 2
	require.Error(t, err)
	ce := orders.AsCheckoutError(err)
	assert.Equal(t, orders.KindInsufficientInventory, ce.Kind)
	assert.True(t, ce.Retryable)

	// zero side effects
	assert.Equal(t, 1, h.inventory.stock["p1"])
	assert.Empty(t, h.orders.byID)
	assert.Empty(t, h.orders.payments)
	assert.Empty(t, h.queue.items)
}

func TestCheckoutLastUnitRace(t *testing.T) {
	h := newHarness(map[string]int{"p1": 2})

	first := cashRequest()
	res, err := h.orch.Checkout(context.Background(), first)
	require.NoError(t, err)
	assert.Equal(t, orders.StatusCompleted, res.Status)

	second := cashRequest()
	second.IdempotencyKey = "idem-2"
	_, err = h.orch.Checkout(context.Background(), second)
	require.Error(t, err)
	assert.Equal(t, orders.KindInsufficientInventory, orders.AsCheckoutError(err).Kind)

	// exactly one winner, loser left nothing behind
	assert.Equal(t, 0, h.inventory.stock["p1"])
	assert.Len(t, h.orders.byID, 1)
}

func TestCheckoutDuplicateLinesRollBackFully(t *testing.T) {
	h := newHarness(map[string]int{"p1": 5})
	h.gateway.result = payment.ChargeResult{Approved: false, DeclineReason: "do not honor"}

	req := Request{
		IdempotencyKey: "idem-dup",
		VendorID:       "v1",
		LocationID:     "l1",
		SessionID:      "s1",
		Items: []Line{
			{ProductID: "p1", Quantity: 2, UnitPrice: dec("50.00")},
			{ProductID: "p1", Quantity: 2, UnitPrice: dec("50.00")},
		},
		Subtotal:      dec("200.00"),
		TaxAmount:     dec("20.00"),
		Total:         dec("220.00"),
		PaymentMethod: orders.MethodCard,
	}
	_, err := h.orch.Checkout(context.Background(), req)
	require.Error(t, err)
	assert.Equal(t, orders.KindPaymentFailed, orders.AsCheckoutError(err).Kind)

	// both lines were held as one merged reservation, and the decline
	// restored every unit
	o, gerr := h.orders.GetByIdempotencyKey(context.Background(), req.IdempotencyKey)
	require.NoError(t, gerr)
	require.Len(t, h.inventory.holds[o.ID].items, 1)
	assert.Equal(t, orders.ItemQty{ProductID: "p1", Qty: 4}, h.inventory.holds[o.ID].items[0])
	assert.Equal(t, 5, h.inventory.stock["p1"])
}

func TestCheckoutDeclinedCard(t *testing.T) {
	h := newHarness(map[string]int{"p1": 5})
	h.gateway.result = payment.ChargeResult{Approved: false, DeclineReason: "insufficient funds"}

	req := cashRequest()
	req.PaymentMethod = orders.MethodCard
	_, err := h.orch.Checkout(context.Background(), req)
	require.Error(t, err)
	ce := orders.AsCheckoutError(err)
	assert.Equal(t, orders.KindPaymentFailed, ce.Kind)
	assert.True(t, ce.Retryable)

	// order cancelled/failed, reservation released, no loyalty rows
	o, err := h.orders.GetByIdempotencyKey(context.Background(), req.IdempotencyKey)
	require.NoError(t, err)
	assert.Equal(t, orders.StatusCancelled, o.Status)
	assert.Equal(t, orders.PaymentFailed, o.PaymentStatus)
	assert.Equal(t, 5, h.inventory.stock["p1"])
	assert.Empty(t, h.loyalty.applied)

	// the decline itself is recorded
	require.Len(t, h.orders.payments, 1)
	assert.Equal(t, orders.PaymentTxDeclined, h.orders.payments[0].Status)
}

func TestCheckoutIdempotentReplay(t *testing.T) {
	h := newHarness(map[string]int{"p1": 5})

	req := cashRequest()
	first, err := h.orch.Checkout(context.Background(), req)
	require.NoError(t, err)

	second, err := h.orch.Checkout(context.Background(), req)
	require.NoError(t, err)

	assert.True(t, second.Replayed)
	assert.Equal(t, first.OrderID, second.OrderID)
	assert.Equal(t, first.OrderNumber, second.OrderNumber)
	assert.True(t, first.Total.Equal(second.Total))

	// exactly one order, one tender, one stock deduction
	assert.Len(t, h.orders.byID, 1)
	assert.Len(t, h.orders.payments, 1)
	assert.Equal(t, 3, h.inventory.stock["p1"])
}

func TestCheckoutIdempotencyConflict(t *testing.T) {
	h := newHarness(map[string]int{"p1": 5})

	req := cashRequest()
	_, err := h.orch.Checkout(context.Background(), req)
	require.NoError(t, err)

	altered := req
	altered.Total = dec("120.00")
	altered.TaxAmount = dec("20.00")
	_, err = h.orch.Checkout(context.Background(), altered)
	require.Error(t, err)
	ce := orders.AsCheckoutError(err)
	assert.Equal(t, orders.KindIdempotencyConflict, ce.Kind)
	assert.False(t, ce.Retryable)
}

func TestCheckoutInProgress(t *testing.T) {
	h := newHarness(map[string]int{"p1": 5})
	req := cashRequest()

	// another instance holds the key with a still-pending draft
	require.NoError(t, h.orders.CreateDraft(context.Background(), &orders.Order{
		ID: "other", IdempotencyKey: req.IdempotencyKey, RequestHash: req.Hash(),
	}))

	_, err := h.orch.Checkout(context.Background(), req)
	require.Error(t, err)
	ce := orders.AsCheckoutError(err)
	assert.Equal(t, orders.KindCheckoutInProgress, ce.Kind)
	assert.True(t, ce.Retryable)
}

func TestCheckoutValidation(t *testing.T) {
	h := newHarness(map[string]int{"p1": 5})

	cases := []struct {
		name   string
		mutate func(*Request)
	}{
		{"missing idempotency key", func(r *Request) { r.IdempotencyKey = "" }},
		{"empty cart", func(r *Request) { r.Items = nil }},
		{"zero quantity", func(r *Request) { r.Items[0].Quantity = 0 }},
		{"total mismatch", func(r *Request) { r.Total = dec("999.00") }},
		{"unknown method", func(r *Request) { r.PaymentMethod = "check" }},
		{"redeem without customer", func(r *Request) { r.LoyaltyPointsToRedeem = 10 }},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			req := cashRequest()
			c.mutate(&req)
			_, err := h.orch.Checkout(context.Background(), req)
			require.Error(t, err)
			assert.Equal(t, orders.KindValidation, orders.AsCheckoutError(err).Kind)
		})
	}

	// no validation failure may leave side effects
	assert.Empty(t, h.orders.byID)
	assert.Equal(t, 5, h.inventory.stock["p1"])
}

func TestCheckoutSplitAmountsMustAddUp(t *testing.T) {
	h := newHarness(map[string]int{"p1": 5})
	req := cashRequest()
	req.PaymentMethod = orders.MethodSplit
	req.CashAmount = dec("100.00")
	req.CardAmount = dec("5.00") // 105 != 110

	_, err := h.orch.Checkout(context.Background(), req)
	require.Error(t, err)
	assert.Equal(t, orders.KindValidation, orders.AsCheckoutError(err).Kind)
}

func TestCheckoutInsufficientLoyaltyPoints(t *testing.T) {
	h := newHarness(map[string]int{"p1": 5})
	h.loyalty.balances["c1"] = 5

	req := cashRequest()
	req.CustomerID = "c1"
	req.LoyaltyPointsToRedeem = 10
	_, err := h.orch.Checkout(context.Background(), req)
	require.Error(t, err)
	ce := orders.AsCheckoutError(err)
	assert.Equal(t, orders.KindInsufficientLoyaltyPoints, ce.Kind)

	// reservation released, draft cancelled, balance untouched
	assert.Equal(t, 5, h.inventory.stock["p1"])
	o, err := h.orders.GetByIdempotencyKey(context.Background(), req.IdempotencyKey)
	require.NoError(t, err)
	assert.Equal(t, orders.StatusCancelled, o.Status)
	assert.EqualValues(t, 5, h.loyalty.balances["c1"])
}

func TestCheckoutLoyaltyEarnAndRedeem(t *testing.T) {
	h := newHarness(map[string]int{"p1": 5})
	h.loyalty.balances["c1"] = 50

	req := cashRequest()
	req.CustomerID = "c1"
	req.LoyaltyPointsToRedeem = 20
	req.DiscountAmount = dec("20.00")
	req.TaxAmount = dec("8.00") // on the discounted 80.00
	req.Total = dec("88.00")

	res, err := h.orch.Checkout(context.Background(), req)
	require.NoError(t, err)

	// earn on the discounted remainder: floor(100 - 20) * rate
	assert.EqualValues(t, 80, res.PointsEarned)
	assert.EqualValues(t, 20, res.PointsRedeemed)

	require.Len(t, h.loyalty.applied, 1)
	assert.Equal(t, loyaltyApply{"c1", 20, 80, res.OrderID}, h.loyalty.applied[0])
	assert.EqualValues(t, 50-20+80, h.loyalty.balances["c1"])
}

func TestCheckoutLoyaltyFailureAfterPaymentDoesNotEscalate(t *testing.T) {
	h := newHarness(map[string]int{"p1": 5})
	h.loyalty.balances["c1"] = 50
	h.loyalty.applyErr = errors.New("deadlock detected")

	req := cashRequest()
	req.CustomerID = "c1"
	req.LoyaltyPointsToRedeem = 10

	res, err := h.orch.Checkout(context.Background(), req)
	require.NoError(t, err) // never surfaced: the customer paid

	assert.Equal(t, orders.StatusCompleted, res.Status)
	assert.Equal(t, orders.PaymentPaid, res.PaymentStatus)

	// exactly one reconciliation item for the loyalty repair
	require.Len(t, h.queue.items, 1)
	assert.Equal(t, reconcile.KindLoyaltyUpdate, h.queue.items[0].kind)
	assert.Equal(t, res.OrderID, h.queue.items[0].orderID)
	p := h.queue.items[0].payload.(reconcile.LoyaltyPayload)
	assert.Equal(t, "c1", p.CustomerID)
	assert.EqualValues(t, 10, p.Redeem)
}

func TestCheckoutSessionFailureAfterPaymentDoesNotEscalate(t *testing.T) {
	h := newHarness(map[string]int{"p1": 5})
	h.sessions.err = errors.New("session row gone")

	res, err := h.orch.Checkout(context.Background(), cashRequest())
	require.NoError(t, err)
	assert.Equal(t, orders.StatusCompleted, res.Status)

	require.Len(t, h.queue.items, 1)
	assert.Equal(t, reconcile.KindSessionTotals, h.queue.items[0].kind)
}

func TestCheckoutPaymentOutcomeUnknownParksOrder(t *testing.T) {
	h := newHarness(map[string]int{"p1": 5})
	h.gateway.err = payment.ErrOutcomeUnknown

	req := cashRequest()
	req.PaymentMethod = orders.MethodCard
	_, err := h.orch.Checkout(context.Background(), req)
	require.Error(t, err)
	ce := orders.AsCheckoutError(err)
	assert.Equal(t, orders.KindGatewayUnavailable, ce.Kind)
	assert.True(t, ce.Retryable)

	// order stays pending, holds stay held: the repairer settles it
	o, gerr := h.orders.GetByIdempotencyKey(context.Background(), req.IdempotencyKey)
	require.NoError(t, gerr)
	assert.Equal(t, orders.StatusPending, o.Status)
	assert.Equal(t, orders.ReservationReserved, h.inventory.holds[o.ID].status)

	require.Len(t, h.queue.items, 1)
	assert.Equal(t, reconcile.KindPaymentUnknown, h.queue.items[0].kind)
	p := h.queue.items[0].payload.(reconcile.PaymentUnknownPayload)
	assert.Equal(t, req.IdempotencyKey, p.IdempotencyKey)
	assert.True(t, p.CardAmount.Equal(dec("110.00")))
}

func TestCheckoutGatewayUnavailableCancels(t *testing.T) {
	h := newHarness(map[string]int{"p1": 5})
	h.gateway.err = payment.ErrUnavailable

	req := cashRequest()
	req.PaymentMethod = orders.MethodCard
	_, err := h.orch.Checkout(context.Background(), req)
	require.Error(t, err)
	assert.Equal(t, orders.KindGatewayUnavailable, orders.AsCheckoutError(err).Kind)

	// definitively not charged: fully rolled back
	o, gerr := h.orders.GetByIdempotencyKey(context.Background(), req.IdempotencyKey)
	require.NoError(t, gerr)
	assert.Equal(t, orders.StatusCancelled, o.Status)
	assert.Equal(t, 5, h.inventory.stock["p1"])
	assert.Empty(t, h.queue.items)
}

func TestCheckoutLineInsertFailureRollsBack(t *testing.T) {
	h := newHarness(map[string]int{"p1": 5})
	h.orders.linesErr = errors.New("constraint violation")

	_, err := h.orch.Checkout(context.Background(), cashRequest())
	require.Error(t, err)
	assert.Equal(t, orders.KindOrderCreationFailed, orders.AsCheckoutError(err).Kind)

	// draft deleted, stock restored
	assert.Empty(t, h.orders.byID)
	assert.Equal(t, 5, h.inventory.stock["p1"])
}

func TestCheckoutResolveFailureAfterPaymentQueuesFinalize(t *testing.T) {
	h := newHarness(map[string]int{"p1": 5})
	h.orders.resolveErr = errors.New("connection reset")

	res, err := h.orch.Checkout(context.Background(), cashRequest())
	require.NoError(t, err) // payment succeeded: still success

	assert.Equal(t, orders.StatusCompleted, res.Status)
	require.NotEmpty(t, h.queue.items)
	assert.Equal(t, reconcile.KindOrderFinalize, h.queue.items[0].kind)
}
