package order

// Status is the payment-side lifecycle of an Order.
type Status string

const (
	StatusPending   Status = "PENDING"
	StatusCompleted Status = "COMPLETED"
	StatusCancelled Status = "CANCELLED"
	StatusFailed    Status = "FAILED"
)

// PaymentStatus tracks payment settlement per SubOrder.
type PaymentStatus string

const (
	PaymentStatusPending   PaymentStatus = "PENDING"
	PaymentStatusCompleted PaymentStatus = "COMPLETED"
)

// DeliveryStatus is the shipment-side lifecycle of Orders, SubOrders, and
// Deliveries.
type DeliveryStatus string

const (
	DeliveryPending        DeliveryStatus = "PENDING"
	DeliveryShipped        DeliveryStatus = "SHIPPED"
	DeliveryOutForDelivery DeliveryStatus = "OUT_FOR_DELIVERY"
	DeliveryDelivered      DeliveryStatus = "DELIVERED"
)

// deliveryRank orders delivery statuses by progress. Transitions never move
// backwards; re-applying the current status is a no-op.
var deliveryRank = map[DeliveryStatus]int{
	DeliveryPending:        0,
	DeliveryShipped:        1,
	DeliveryOutForDelivery: 2,
	DeliveryDelivered:      3,
}

// CanAdvanceDelivery reports whether moving from one delivery status to
// another is forward progress or a harmless repeat.
func CanAdvanceDelivery(from, to DeliveryStatus) bool {
	fr, ok := deliveryRank[from]
	if !ok {
		return false
	}
	tr, ok := deliveryRank[to]
	if !ok {
		return false
	}
	return tr >= fr
}

var validNext = map[Status]map[Status]bool{
	StatusPending:   {StatusCompleted: true, StatusCancelled: true, StatusFailed: true},
	StatusCompleted: {},
	StatusCancelled: {},
	StatusFailed:    {},
}

// CanTransition reports whether an order status change is allowed.
// Setting a status to itself is always allowed so duplicate gateway events
// stay idempotent.
func CanTransition(from, to Status) bool {
	if from == to {
		return true
	}
	return validNext[from][to]
}
