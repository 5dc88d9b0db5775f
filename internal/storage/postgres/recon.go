package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/velstore/marketplace-core/internal/domain/delivery"
	"github.com/velstore/marketplace-core/internal/domain/order"
	"github.com/velstore/marketplace-core/internal/domain/recon"
)

var _ recon.Store = (*ReconStore)(nil)

// ReconStore is the persistence surface of the reconciliation state machine.
// It reuses the order and delivery repositories for reads and adds the
// idempotent status mutations.
type ReconStore struct {
	pool       *pgxpool.Pool
	orders     *OrderRepository
	deliveries *DeliveryRepository
}

// NewReconStore returns a ReconStore over the given repositories.
func NewReconStore(pool *pgxpool.Pool, orders *OrderRepository, deliveries *DeliveryRepository) *ReconStore {
	return &ReconStore{pool: pool, orders: orders, deliveries: deliveries}
}

// OrderByID loads the full order aggregate.
func (s *ReconStore) OrderByID(ctx context.Context, id string) (*order.Order, error) {
	return s.orders.GetByID(ctx, id)
}

const orderByExternalSQL = `SELECT id, buyer_id, payment_method, status, delivery_status,
	total_amount, COALESCE(external_payment_order_id, ''),
	COALESCE(external_payment_id, ''), shipping_address_id, created_at, updated_at
	FROM orders
	WHERE external_payment_order_id = $1 AND payment_method = 'ONLINE'`

// OrderByExternalPaymentOrderID resolves a gateway order id to the local
// order. Only ONLINE orders carry one, so the lookup is constrained to them.
func (s *ReconStore) OrderByExternalPaymentOrderID(ctx context.Context, externalOrderID string) (*order.Order, error) {
	var o order.Order
	err := s.pool.QueryRow(ctx, orderByExternalSQL, externalOrderID).Scan(
		&o.ID, &o.BuyerID, &o.PaymentMethod, &o.Status, &o.DeliveryStatus,
		&o.TotalAmount, &o.ExternalPaymentOrderID, &o.ExternalPaymentID,
		&o.ShippingAddressID, &o.CreatedAt, &o.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, order.ErrNotFound
		}
		return nil, fmt.Errorf("resolving gateway order %q: %w", externalOrderID, err)
	}
	return &o, nil
}

// SettlePayment records the payment outcome on the order. A completed
// payment also marks every sub-order's payment status as completed; failed
// and cancelled outcomes leave sub-order payment status untouched.
func (s *ReconStore) SettlePayment(ctx context.Context, orderID, externalPaymentID string, status order.Status) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning settle tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	tag, err := tx.Exec(ctx,
		`UPDATE orders SET status = $2,
		 external_payment_id = COALESCE(NULLIF($3, ''), external_payment_id),
		 updated_at = now()
		 WHERE id = $1`,
		orderID, status, externalPaymentID,
	)
	if err != nil {
		return fmt.Errorf("settling order %q: %w", orderID, err)
	}
	if tag.RowsAffected() == 0 {
		return order.ErrNotFound
	}

	if status == order.StatusCompleted {
		if _, err := tx.Exec(ctx,
			`UPDATE sub_orders SET payment_status = $2, updated_at = now() WHERE order_id = $1`,
			orderID, order.PaymentStatusCompleted,
		); err != nil {
			return fmt.Errorf("settling sub-orders of %q: %w", orderID, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("committing settle of %q: %w", orderID, err)
	}
	return nil
}

// DeliveryByShipmentID resolves a partner shipment id to the local delivery.
func (s *ReconStore) DeliveryByShipmentID(ctx context.Context, shipmentID string) (*delivery.Delivery, error) {
	return s.deliveries.GetByShipmentID(ctx, shipmentID)
}

// SetDeliveryStatus updates a delivery's status. A nil eta keeps the stored
// estimate.
func (s *ReconStore) SetDeliveryStatus(ctx context.Context, deliveryID string, st order.DeliveryStatus, eta *time.Time) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE deliveries SET status = $2,
		 estimated_delivery = COALESCE($3, estimated_delivery),
		 updated_at = now()
		 WHERE id = $1`,
		deliveryID, st, eta,
	)
	if err != nil {
		return fmt.Errorf("updating delivery %q: %w", deliveryID, err)
	}
	if tag.RowsAffected() == 0 {
		return delivery.ErrNotFound
	}
	return nil
}

// SetSubOrderDeliveryStatus updates one sub-order's delivery status.
func (s *ReconStore) SetSubOrderDeliveryStatus(ctx context.Context, subOrderID string, st order.DeliveryStatus) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE sub_orders SET delivery_status = $2, updated_at = now() WHERE id = $1`,
		subOrderID, st,
	)
	if err != nil {
		return fmt.Errorf("updating sub-order %q delivery: %w", subOrderID, err)
	}
	if tag.RowsAffected() == 0 {
		return order.ErrNotFound
	}
	return nil
}

// CompleteSubOrderPayment marks a sub-order's payment as completed. Used for
// cash on delivery, which settles when the parcel arrives.
func (s *ReconStore) CompleteSubOrderPayment(ctx context.Context, subOrderID string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE sub_orders SET payment_status = $2, updated_at = now() WHERE id = $1`,
		subOrderID, order.PaymentStatusCompleted,
	)
	if err != nil {
		return fmt.Errorf("completing payment of sub-order %q: %w", subOrderID, err)
	}
	if tag.RowsAffected() == 0 {
		return order.ErrNotFound
	}
	return nil
}

// SubOrderParent returns the owning order id and its payment method.
func (s *ReconStore) SubOrderParent(ctx context.Context, subOrderID string) (string, order.PaymentMethod, error) {
	var (
		orderID string
		method  order.PaymentMethod
	)
	err := s.pool.QueryRow(ctx,
		`SELECT o.id, o.payment_method
		 FROM sub_orders s JOIN orders o ON o.id = s.order_id
		 WHERE s.id = $1`,
		subOrderID,
	).Scan(&orderID, &method)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", "", order.ErrNotFound
		}
		return "", "", fmt.Errorf("resolving parent of sub-order %q: %w", subOrderID, err)
	}
	return orderID, method, nil
}

// CountUndeliveredSubOrders counts the order's sub-orders that have not yet
// reached DELIVERED. Read fresh from storage so concurrent sibling webhooks
// see each other's writes.
func (s *ReconStore) CountUndeliveredSubOrders(ctx context.Context, orderID string) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx,
		`SELECT count(*) FROM sub_orders WHERE order_id = $1 AND delivery_status <> $2`,
		orderID, order.DeliveryDelivered,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("counting undelivered sub-orders of %q: %w", orderID, err)
	}
	return n, nil
}

// SetOrderDeliveryStatus updates the order-level delivery status.
func (s *ReconStore) SetOrderDeliveryStatus(ctx context.Context, orderID string, st order.DeliveryStatus) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE orders SET delivery_status = $2, updated_at = now() WHERE id = $1`,
		orderID, st,
	)
	if err != nil {
		return fmt.Errorf("updating order %q delivery: %w", orderID, err)
	}
	if tag.RowsAffected() == 0 {
		return order.ErrNotFound
	}
	return nil
}
