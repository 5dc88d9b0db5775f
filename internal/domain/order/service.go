package order

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/velstore/marketplace-core/internal/domain/catalog"
	"github.com/velstore/marketplace-core/internal/domain/payment"
	"github.com/velstore/marketplace-core/internal/events"
)

// CheckoutRequest holds the input for one checkout.
type CheckoutRequest struct {
	BuyerID           string
	ShippingAddressID string
	PaymentMethod     PaymentMethod
	Lines             []CartLine
}

// Service orchestrates checkout: cart resolution, payment intent creation,
// per-seller splitting, persistence, and stock reservation.
type Service struct {
	catalog  catalog.Repository
	orders   Repository
	gateway  payment.Gateway
	events   events.Publisher
	currency string
}

// NewService creates an order Service. The events publisher may be nil to
// disable event publishing.
func NewService(
	catalogRepo catalog.Repository,
	orders Repository,
	gateway payment.Gateway,
	publisher events.Publisher,
	currency string,
) *Service {
	return &Service{
		catalog:  catalogRepo,
		orders:   orders,
		gateway:  gateway,
		events:   publisher,
		currency: currency,
	}
}

// ResolveCart validates the requested lines against live catalog data and
// prices them. It is read-only and safely retryable. Lookups for the cart's
// lines are issued concurrently; lines never contend with each other.
func (s *Service) ResolveCart(ctx context.Context, lines []CartLine) ([]PricedLine, decimal.Decimal, error) {
	if len(lines) == 0 {
		return nil, decimal.Zero, ErrEmptyCart
	}
	for _, line := range lines {
		if line.Quantity <= 0 {
			return nil, decimal.Zero, &InvalidQuantityError{CatalogUnitID: line.CatalogUnitID}
		}
	}

	priced := make([]PricedLine, len(lines))
	g, gctx := errgroup.WithContext(ctx)
	for i, line := range lines {
		g.Go(func() error {
			u, err := s.catalog.GetByID(gctx, line.CatalogUnitID)
			if err != nil {
				if errors.Is(err, catalog.ErrNotFound) {
					return &UnitNotFoundError{CatalogUnitID: line.CatalogUnitID}
				}
				return errors.Wrapf(err, "get unit %s", line.CatalogUnitID)
			}
			if line.Quantity > u.Stock {
				return &catalog.InsufficientStockError{
					UnitID:    u.ID,
					Requested: line.Quantity,
					Available: u.Stock,
				}
			}

			price := u.FinalPrice()
			priced[i] = PricedLine{
				Unit:      *u,
				Quantity:  line.Quantity,
				UnitPrice: price,
				LineTotal: price.Mul(decimal.NewFromInt(int64(line.Quantity))),
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, decimal.Zero, err
	}

	total := decimal.Zero
	for _, l := range priced {
		total = total.Add(l.LineTotal)
	}
	return priced, total.Round(2), nil
}

// splitBySeller partitions priced lines into one SubOrder per distinct seller,
// preserving first-seen seller order. Each sub-order total is recomputed from
// its own lines only, so the sub-order totals always sum exactly to the order
// total.
func splitBySeller(orderID string, priced []PricedLine) []SubOrder {
	index := make(map[string]int)
	var subs []SubOrder

	for _, l := range priced {
		i, ok := index[l.Unit.SellerID]
		if !ok {
			i = len(subs)
			index[l.Unit.SellerID] = i
			subs = append(subs, SubOrder{
				ID:             uuid.New().String(),
				OrderID:        orderID,
				SellerID:       l.Unit.SellerID,
				TotalAmount:    decimal.Zero,
				PaymentStatus:  PaymentStatusPending,
				DeliveryStatus: DeliveryPending,
			})
		}

		subs[i].Items = append(subs[i].Items, OrderItem{
			ID:            uuid.New().String(),
			SubOrderID:    subs[i].ID,
			CatalogUnitID: l.Unit.ID,
			Quantity:      l.Quantity,
			Price:         l.UnitPrice,
		})
		subs[i].TotalAmount = subs[i].TotalAmount.Add(l.LineTotal)
	}
	return subs
}

// Checkout turns a cart into a persisted Order with per-seller SubOrders,
// reserves stock, and (for ONLINE payments) registers a payment intent with
// the gateway before anything is persisted, so a gateway failure leaves no
// state behind.
func (s *Service) Checkout(ctx context.Context, req CheckoutRequest) (*Order, error) {
	if req.BuyerID == "" {
		return nil, ErrMissingBuyer
	}
	if req.ShippingAddressID == "" {
		return nil, ErrMissingAddress
	}
	if !req.PaymentMethod.Valid() {
		return nil, ErrBadPaymentMethod
	}

	priced, _, err := s.ResolveCart(ctx, req.Lines)
	if err != nil {
		return nil, err
	}

	orderID := uuid.New().String()
	subs := splitBySeller(orderID, priced)

	// Order total is the sum of sub-order totals, keeping the aggregate
	// invariant exact.
	total := decimal.Zero
	for _, sub := range subs {
		total = total.Add(sub.TotalAmount)
	}

	externalOrderID := ""
	if req.PaymentMethod == PaymentOnline {
		externalOrderID, err = s.gateway.CreateIntent(ctx, total, s.currency, "order_"+orderID)
		if err != nil {
			return nil, errors.Wrap(err, "create payment intent")
		}
	}

	o := &Order{
		ID:                     orderID,
		BuyerID:                req.BuyerID,
		PaymentMethod:          req.PaymentMethod,
		Status:                 StatusPending,
		DeliveryStatus:         DeliveryPending,
		TotalAmount:            total,
		ExternalPaymentOrderID: externalOrderID,
		ShippingAddressID:      req.ShippingAddressID,
		SubOrders:              subs,
	}
	if err := s.orders.Create(ctx, o); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCreationFailed, err)
	}

	s.reserveStock(ctx, o)
	s.publish(ctx, events.TopicOrderCreated, o.ID, events.OrderCreated{
		OrderID:       o.ID,
		BuyerID:       o.BuyerID,
		PaymentMethod: string(o.PaymentMethod),
		TotalAmount:   o.TotalAmount.StringFixed(2),
		SubOrders:     len(o.SubOrders),
	})

	return o, nil
}

// reserveStock decrements stock for every order item. Decrements fan out
// concurrently and are independently atomic at the storage layer. Stock is
// reserved at checkout time for both COD and ONLINE orders. A failed or
// short decrement does not fail the checkout: the order already exists, so
// the shortfall is logged for seller-side resolution.
func (s *Service) reserveStock(ctx context.Context, o *Order) {
	lg := zctx.From(ctx)

	g, gctx := errgroup.WithContext(ctx)
	for _, sub := range o.SubOrders {
		for _, item := range sub.Items {
			g.Go(func() error {
				applied, err := s.catalog.Decrement(gctx, item.CatalogUnitID, item.Quantity)
				if err != nil {
					lg.Error("stock decrement failed",
						zap.String("order_id", o.ID),
						zap.String("unit_id", item.CatalogUnitID),
						zap.Error(err),
					)
					return nil
				}
				if applied < item.Quantity {
					lg.Warn("stock decrement short",
						zap.String("order_id", o.ID),
						zap.String("unit_id", item.CatalogUnitID),
						zap.Int("requested", item.Quantity),
						zap.Int("applied", applied),
					)
				}
				return nil
			})
		}
	}
	_ = g.Wait()
}

// CancelUnpaid deletes an abandoned ONLINE order before payment and releases
// its reserved stock. Only the buyer who placed the order may cancel it.
func (s *Service) CancelUnpaid(ctx context.Context, orderID, buyerID string) error {
	o, err := s.orders.GetByID(ctx, orderID)
	if err != nil {
		return err
	}
	if o.BuyerID != buyerID {
		// Do not reveal other buyers' orders.
		return ErrNotFound
	}
	if o.PaymentMethod != PaymentOnline || o.Status != StatusPending {
		return ErrNotCancellable
	}

	if err := s.orders.Delete(ctx, orderID); err != nil {
		return errors.Wrap(err, "delete order")
	}
	s.releaseStock(ctx, o)
	s.publish(ctx, events.TopicOrderFinalized, o.ID, events.OrderFinalized{
		OrderID:     o.ID,
		FinalStatus: string(StatusCancelled),
	})
	return nil
}

// releaseStock returns reserved quantities to the catalog, best-effort.
func (s *Service) releaseStock(ctx context.Context, o *Order) {
	lg := zctx.From(ctx)
	for _, sub := range o.SubOrders {
		for _, item := range sub.Items {
			if err := s.catalog.Restock(ctx, item.CatalogUnitID, item.Quantity); err != nil {
				lg.Error("restock failed",
					zap.String("order_id", o.ID),
					zap.String("unit_id", item.CatalogUnitID),
					zap.Error(err),
				)
			}
		}
	}
}

func (s *Service) publish(ctx context.Context, topic, orderID string, payload any) {
	if s.events == nil {
		return
	}
	if err := s.events.Publish(ctx, topic, orderID, payload); err != nil {
		zctx.From(ctx).Warn("publish event failed",
			zap.String("topic", topic),
			zap.String("order_id", orderID),
			zap.Error(err),
		)
	}
}
