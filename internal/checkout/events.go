package checkout

import (
	"time"

	"github.com/google/uuid"
	kafkago "github.com/segmentio/kafka-go"

	kafkax "github.com/ariefcatur/go-pos-checkout/internal/kafka"
	"github.com/ariefcatur/go-pos-checkout/internal/orders"
)

// Events receives facts about terminal checkouts and queued repairs.
// Publishing is fire-and-forget; the orchestrator never fails a checkout
// over an event.
type Events interface {
	CheckoutCompleted(o *orders.Order)
	CheckoutCancelled(orderID, reason string)
	ReconciliationEnqueued(itemID int64, orderID, kind string)
}

// KafkaEvents publishes versioned envelopes, one producer per topic.
type KafkaEvents struct {
	Completed      *kafkax.Producer
	Cancelled      *kafkax.Producer
	Reconciliation *kafkax.Producer
	Service        string
}

func (e *KafkaEvents) publish(p *kafkax.Producer, eventType, orderID string, payload any) {
	ev := orders.Envelope{
		EventID:       uuid.NewString(),
		EventType:     eventType,
		EventVersion:  1,
		OccurredAt:    time.Now().UTC(),
		Producer:      e.Service,
		CorrelationID: orderID,
		Payload:       kafkax.MustMarshal(payload),
	}
	p.Publish(orders.PartitionKey(orderID), kafkax.MustMarshal(ev),
		kafkago.Header{Key: "x-event-type", Value: []byte(eventType)},
		kafkago.Header{Key: "x-event-version", Value: []byte("1")},
	)
}

func (e *KafkaEvents) CheckoutCompleted(o *orders.Order) {
	e.publish(e.Completed, orders.EventCheckoutCompleted, o.ID, orders.CheckoutCompletedPayload{
		OrderID:        o.ID,
		OrderNumber:    o.OrderNumber,
		SessionID:      o.SessionID,
		CustomerID:     o.CustomerID,
		Total:          o.Total,
		PointsEarned:   o.PointsEarned,
		PointsRedeemed: o.PointsRedeemed,
	})
}

func (e *KafkaEvents) CheckoutCancelled(orderID, reason string) {
	e.publish(e.Cancelled, orders.EventCheckoutCancelled, orderID, orders.CheckoutCancelledPayload{
		OrderID: orderID,
		Reason:  reason,
	})
}

func (e *KafkaEvents) ReconciliationEnqueued(itemID int64, orderID, kind string) {
	e.publish(e.Reconciliation, orders.EventReconciliationEnqueued, orderID, orders.ReconciliationEnqueuedPayload{
		ItemID:  itemID,
		OrderID: orderID,
		Kind:    kind,
	})
}
