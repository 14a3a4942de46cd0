package orders

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCanTransition(t *testing.T) {
	assert.True(t, CanTransition(StatusPending, StatusCompleted))
	assert.True(t, CanTransition(StatusPending, StatusCancelled))

	// terminal states are immutable
	assert.False(t, CanTransition(StatusCompleted, StatusCancelled))
	assert.False(t, CanTransition(StatusCancelled, StatusCompleted))
	assert.False(t, CanTransition(StatusCompleted, StatusPending))
}

func TestConsistent(t *testing.T) {
	cases := []struct {
		s    Status
		p    PaymentStatus
		want bool
	}{
		{StatusPending, PaymentPending, true},
		{StatusCompleted, PaymentPaid, true},
		{StatusCancelled, PaymentFailed, true},
		{StatusCancelled, PaymentRefunded, true},
		{StatusPending, PaymentPaid, false},   // paid implies completed
		{StatusCancelled, PaymentPaid, false}, // paid implies completed
		{StatusCancelled, PaymentPending, false},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, Consistent(c.s, c.p), "%s/%s", c.s, c.p)
	}
}
