// Package catalog defines the purchasable catalog unit and the inventory
// ledger operations the checkout flow depends on.
package catalog

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// ErrNotFound is returned when a catalog unit does not exist, is unpublished,
// or has been soft-deleted.
var ErrNotFound = errors.New("catalog unit not found")

// InsufficientStockError indicates a requested quantity exceeds the unit's
// available stock at lookup time.
type InsufficientStockError struct {
	UnitID    string
	Requested int
	Available int
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for unit %s: requested %d, available %d",
		e.UnitID, e.Requested, e.Available)
}

// Unit is a single purchasable product x variant x attribute combination,
// owned by exactly one seller.
type Unit struct {
	ID              string
	ProductID       string
	SellerID        string
	SKU             string
	Name            string
	BasePrice       decimal.Decimal
	DiscountPercent decimal.Decimal
	Stock           int
	Published       bool
	Deleted         bool
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

var hundred = decimal.NewFromInt(100)

// FinalPrice returns the unit price after applying the catalog discount,
// rounded to 2 decimal places.
func (u Unit) FinalPrice() decimal.Decimal {
	discount := u.BasePrice.Mul(u.DiscountPercent).Div(hundred)
	return u.BasePrice.Sub(discount).Round(2)
}

// Repository provides catalog lookups and the inventory ledger.
type Repository interface {
	// GetByID returns a live (published, not deleted) unit.
	// Returns ErrNotFound otherwise.
	GetByID(ctx context.Context, id string) (*Unit, error)

	// Decrement atomically reduces the unit's stock by min(stock, qty) and
	// mirrors the reduction onto the owning product's aggregate quantity,
	// both floored at zero. It returns the quantity actually applied.
	// Safe under concurrent invocation for the same unit.
	Decrement(ctx context.Context, id string, qty int) (applied int, err error)

	// Restock adds qty back to the unit's stock and the product aggregate.
	// Used as compensation when an order fails after reservation.
	Restock(ctx context.Context, id string, qty int) error
}
