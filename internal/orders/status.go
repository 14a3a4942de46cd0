package orders

type Status string

const (
	StatusPending   Status = "PENDING"
	StatusCompleted Status = "COMPLETED"
	StatusCancelled Status = "CANCELLED"
)

type PaymentStatus string

const (
	PaymentPending           PaymentStatus = "PENDING"
	PaymentPaid              PaymentStatus = "PAID"
	PaymentFailed            PaymentStatus = "FAILED"
	PaymentRefunded          PaymentStatus = "REFUNDED"
	PaymentPartiallyRefunded PaymentStatus = "PARTIALLY_REFUNDED"
)

var validNext = map[Status]map[Status]bool{
	StatusPending:   {StatusCompleted: true, StatusCancelled: true},
	StatusCompleted: {},
	StatusCancelled: {},
}

func CanTransition(from, to Status) bool {
	return validNext[from][to]
}

func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

// Consistent enforces the cross-axis invariant: a paid order is completed,
// and a cancelled order carries a failed or refunded payment.
func Consistent(s Status, p PaymentStatus) bool {
	if p == PaymentPaid && s != StatusCompleted {
		return false
	}
	if s == StatusCancelled && p != PaymentFailed && p != PaymentRefunded {
		return false
	}
	return true
}
