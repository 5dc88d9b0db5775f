package order

import (
	"fmt"

	"github.com/go-faster/errors"
)

// Sentinel errors for checkout validation.
var (
	ErrEmptyCart        = errors.New("cart items required")
	ErrInvalidQuantity  = errors.New("quantity must be greater than 0")
	ErrNotFound         = errors.New("order not found")
	ErrNotCancellable   = errors.New("order is not cancellable")
	ErrCreationFailed   = errors.New("order creation failed")
	ErrMissingBuyer     = errors.New("buyer id required")
	ErrMissingAddress   = errors.New("shipping address id required")
	ErrBadPaymentMethod = errors.New("payment method must be ONLINE or COD")
)

// UnitNotFoundError indicates a requested catalog unit does not exist or is
// not purchasable.
type UnitNotFoundError struct {
	CatalogUnitID string
}

func (e *UnitNotFoundError) Error() string {
	return fmt.Sprintf("catalog unit %s not found", e.CatalogUnitID)
}

// InvalidQuantityError indicates a cart line has a non-positive quantity.
type InvalidQuantityError struct {
	CatalogUnitID string
}

func (e *InvalidQuantityError) Error() string {
	return fmt.Sprintf("quantity must be greater than 0 for unit %s", e.CatalogUnitID)
}
