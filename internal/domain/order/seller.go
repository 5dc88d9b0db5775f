package order

import "context"

// SellerSubOrder is the seller-facing view of a sub-order: the sub-order
// itself plus the parent order fields a seller dashboard needs.
type SellerSubOrder struct {
	SubOrder
	OrderStatus   Status
	PaymentMethod PaymentMethod
	BuyerID       string
}

// SellerReader lists and loads sub-orders scoped to one seller. Lookups for
// sub-orders owned by a different seller return ErrNotFound rather than
// leaking their existence.
type SellerReader interface {
	ListSellerSubOrders(ctx context.Context, sellerID string) ([]SellerSubOrder, error)
	GetSellerSubOrder(ctx context.Context, sellerID, subOrderID string) (*SellerSubOrder, error)
}
