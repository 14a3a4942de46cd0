package orders

const (
	TopicCheckoutCompleted      = "checkout.completed"
	TopicCheckoutCancelled      = "checkout.cancelled"
	TopicReconciliationEnqueued = "reconciliation.enqueued"
)

// Partition key = order_id so all events of one order keep their ordering.
func PartitionKey(orderID string) []byte { return []byte(orderID) }
