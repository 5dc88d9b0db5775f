package order

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCanTransition(t *testing.T) {
	assert.True(t, CanTransition(StatusPending, StatusCompleted))
	assert.True(t, CanTransition(StatusPending, StatusCancelled))
	assert.True(t, CanTransition(StatusPending, StatusFailed))

	// Terminal states accept nothing but themselves.
	assert.False(t, CanTransition(StatusCompleted, StatusFailed))
	assert.False(t, CanTransition(StatusCancelled, StatusCompleted))
	assert.False(t, CanTransition(StatusFailed, StatusCompleted))

	// Same-status repeats stay allowed for duplicate webhook deliveries.
	assert.True(t, CanTransition(StatusCompleted, StatusCompleted))
	assert.True(t, CanTransition(StatusPending, StatusPending))
}

func TestCanAdvanceDelivery(t *testing.T) {
	assert.True(t, CanAdvanceDelivery(DeliveryPending, DeliveryShipped))
	assert.True(t, CanAdvanceDelivery(DeliveryShipped, DeliveryOutForDelivery))
	assert.True(t, CanAdvanceDelivery(DeliveryOutForDelivery, DeliveryDelivered))

	// Skipping intermediate states is fine; carriers drop updates.
	assert.True(t, CanAdvanceDelivery(DeliveryPending, DeliveryDelivered))

	// Never backwards.
	assert.False(t, CanAdvanceDelivery(DeliveryDelivered, DeliveryShipped))
	assert.False(t, CanAdvanceDelivery(DeliveryOutForDelivery, DeliveryPending))

	// Repeats are harmless.
	assert.True(t, CanAdvanceDelivery(DeliveryShipped, DeliveryShipped))

	// Unknown values are rejected.
	assert.False(t, CanAdvanceDelivery("LOST", DeliveryShipped))
	assert.False(t, CanAdvanceDelivery(DeliveryShipped, "LOST"))
}
