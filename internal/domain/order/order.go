// Package order implements the checkout core: cart resolution, pricing,
// per-seller order splitting, and persistence contracts for the resulting
// aggregate.
package order

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/velstore/marketplace-core/internal/domain/catalog"
)

// PaymentMethod selects how the buyer pays for an order.
type PaymentMethod string

const (
	PaymentOnline PaymentMethod = "ONLINE"
	PaymentCOD    PaymentMethod = "COD"
)

// Valid reports whether the payment method is one of the supported values.
func (m PaymentMethod) Valid() bool {
	return m == PaymentOnline || m == PaymentCOD
}

// Order is the aggregate root for one checkout, possibly spanning multiple
// sellers.
type Order struct {
	ID                     string
	BuyerID                string
	PaymentMethod          PaymentMethod
	Status                 Status
	DeliveryStatus         DeliveryStatus
	TotalAmount            decimal.Decimal
	ExternalPaymentOrderID string
	ExternalPaymentID      string
	ShippingAddressID      string
	SubOrders              []SubOrder
	CreatedAt              time.Time
	UpdatedAt              time.Time
}

// SubOrder is the portion of an Order belonging to one seller.
type SubOrder struct {
	ID             string
	OrderID        string
	SellerID       string
	TotalAmount    decimal.Decimal
	PaymentStatus  PaymentStatus
	DeliveryStatus DeliveryStatus
	Items          []OrderItem
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// OrderItem is one cart line within a SubOrder. Price is the unit price after
// discount, frozen at checkout time and never recomputed.
type OrderItem struct {
	ID            string
	SubOrderID    string
	CatalogUnitID string
	Quantity      int
	Price         decimal.Decimal
}

// CartLine is one requested line of a checkout cart.
type CartLine struct {
	CatalogUnitID string `json:"catalogUnitId"`
	Quantity      int    `json:"quantity"`
}

// PricedLine is a cart line resolved against live catalog data.
type PricedLine struct {
	Unit      catalog.Unit
	Quantity  int
	UnitPrice decimal.Decimal
	LineTotal decimal.Decimal
}

// Repository defines persistence operations for orders.
type Repository interface {
	// Create persists the order with all sub-orders and items as a single
	// transaction. Either everything is written or nothing is.
	Create(ctx context.Context, o *Order) error

	// GetByID returns the order with its sub-orders and items.
	GetByID(ctx context.Context, id string) (*Order, error)

	// Delete removes the order and, via cascade, its sub-orders and items.
	Delete(ctx context.Context, id string) error
}
