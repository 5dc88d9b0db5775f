package postgres

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/velstore/marketplace-core/internal/domain/order"
)

const createOrderSQL = `INSERT INTO orders
	(id, buyer_id, payment_method, status, delivery_status, total_amount,
	 external_payment_order_id, shipping_address_id)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

const createSubOrderSQL = `INSERT INTO sub_orders
	(id, order_id, seller_id, total_amount, payment_status, delivery_status)
	VALUES ($1, $2, $3, $4, $5, $6)`

const createOrderItemSQL = `INSERT INTO order_items
	(id, sub_order_id, catalog_unit_id, quantity, price)
	VALUES ($1, $2, $3, $4, $5)`

const getOrderSQL = `SELECT id, buyer_id, payment_method, status, delivery_status,
	total_amount, COALESCE(external_payment_order_id, ''),
	COALESCE(external_payment_id, ''), shipping_address_id, created_at, updated_at
	FROM orders WHERE id = $1`

const getSubOrdersSQL = `SELECT id, order_id, seller_id, total_amount,
	payment_status, delivery_status, created_at, updated_at
	FROM sub_orders WHERE order_id = $1 ORDER BY created_at, id`

const getItemsSQL = `SELECT i.id, i.sub_order_id, i.catalog_unit_id, i.quantity, i.price
	FROM order_items i
	JOIN sub_orders s ON s.id = i.sub_order_id
	WHERE s.order_id = $1 ORDER BY i.id`

var _ order.Repository = (*OrderRepository)(nil)
var _ order.SellerReader = (*OrderRepository)(nil)

// OrderRepository implements order.Repository and the seller-facing reads
// backed by PostgreSQL.
type OrderRepository struct {
	pool *pgxpool.Pool
}

// NewOrderRepository returns an OrderRepository that uses the given pool.
func NewOrderRepository(pool *pgxpool.Pool) *OrderRepository {
	return &OrderRepository{pool: pool}
}

// Create persists the order aggregate in one transaction: the order row, a
// row per sub-order, and a row per item.
func (r *OrderRepository) Create(ctx context.Context, o *order.Order) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning order tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, createOrderSQL,
		o.ID, o.BuyerID, o.PaymentMethod, o.Status, o.DeliveryStatus,
		o.TotalAmount, nullable(o.ExternalPaymentOrderID), o.ShippingAddressID,
	); err != nil {
		return fmt.Errorf("creating order %q: %w", o.ID, err)
	}

	for _, sub := range o.SubOrders {
		if _, err := tx.Exec(ctx, createSubOrderSQL,
			sub.ID, o.ID, sub.SellerID, sub.TotalAmount,
			sub.PaymentStatus, sub.DeliveryStatus,
		); err != nil {
			return fmt.Errorf("creating sub-order %q: %w", sub.ID, err)
		}
		for _, item := range sub.Items {
			if _, err := tx.Exec(ctx, createOrderItemSQL,
				item.ID, sub.ID, item.CatalogUnitID, item.Quantity, item.Price,
			); err != nil {
				return fmt.Errorf("creating order item %q: %w", item.ID, err)
			}
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("committing order %q: %w", o.ID, err)
	}
	return nil
}

// GetByID loads the order with its sub-orders and items.
func (r *OrderRepository) GetByID(ctx context.Context, id string) (*order.Order, error) {
	var o order.Order
	err := r.pool.QueryRow(ctx, getOrderSQL, id).Scan(
		&o.ID, &o.BuyerID, &o.PaymentMethod, &o.Status, &o.DeliveryStatus,
		&o.TotalAmount, &o.ExternalPaymentOrderID, &o.ExternalPaymentID,
		&o.ShippingAddressID, &o.CreatedAt, &o.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, order.ErrNotFound
		}
		return nil, fmt.Errorf("getting order %q: %w", id, err)
	}

	subs, err := r.subOrders(ctx, id)
	if err != nil {
		return nil, err
	}
	o.SubOrders = subs
	return &o, nil
}

func (r *OrderRepository) subOrders(ctx context.Context, orderID string) ([]order.SubOrder, error) {
	rows, err := r.pool.Query(ctx, getSubOrdersSQL, orderID)
	if err != nil {
		return nil, fmt.Errorf("listing sub-orders of %q: %w", orderID, err)
	}
	defer rows.Close()

	var subs []order.SubOrder
	index := make(map[string]int)
	for rows.Next() {
		var s order.SubOrder
		if err := rows.Scan(&s.ID, &s.OrderID, &s.SellerID, &s.TotalAmount,
			&s.PaymentStatus, &s.DeliveryStatus, &s.CreatedAt, &s.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scanning sub-order: %w", err)
		}
		index[s.ID] = len(subs)
		subs = append(subs, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating sub-orders: %w", err)
	}

	itemRows, err := r.pool.Query(ctx, getItemsSQL, orderID)
	if err != nil {
		return nil, fmt.Errorf("listing items of %q: %w", orderID, err)
	}
	defer itemRows.Close()

	for itemRows.Next() {
		var it order.OrderItem
		if err := itemRows.Scan(&it.ID, &it.SubOrderID, &it.CatalogUnitID,
			&it.Quantity, &it.Price,
		); err != nil {
			return nil, fmt.Errorf("scanning order item: %w", err)
		}
		if i, ok := index[it.SubOrderID]; ok {
			subs[i].Items = append(subs[i].Items, it)
		}
	}
	if err := itemRows.Err(); err != nil {
		return nil, fmt.Errorf("iterating order items: %w", err)
	}
	return subs, nil
}

// Delete removes the order. Sub-orders and items go with it via cascade.
func (r *OrderRepository) Delete(ctx context.Context, id string) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM orders WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("deleting order %q: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return order.ErrNotFound
	}
	return nil
}

const listSellerSubOrdersSQL = `SELECT s.id, s.order_id, s.seller_id, s.total_amount,
	s.payment_status, s.delivery_status, s.created_at, s.updated_at,
	o.status, o.payment_method, o.buyer_id
	FROM sub_orders s
	JOIN orders o ON o.id = s.order_id
	WHERE s.seller_id = $1
	ORDER BY s.created_at DESC, s.id`

// ListSellerSubOrders returns the seller's sub-orders, newest first, without
// items.
func (r *OrderRepository) ListSellerSubOrders(ctx context.Context, sellerID string) ([]order.SellerSubOrder, error) {
	rows, err := r.pool.Query(ctx, listSellerSubOrdersSQL, sellerID)
	if err != nil {
		return nil, fmt.Errorf("listing seller %q sub-orders: %w", sellerID, err)
	}
	defer rows.Close()

	var out []order.SellerSubOrder
	for rows.Next() {
		var s order.SellerSubOrder
		if err := rows.Scan(&s.ID, &s.OrderID, &s.SellerID, &s.TotalAmount,
			&s.PaymentStatus, &s.DeliveryStatus, &s.CreatedAt, &s.UpdatedAt,
			&s.OrderStatus, &s.PaymentMethod, &s.BuyerID,
		); err != nil {
			return nil, fmt.Errorf("scanning seller sub-order: %w", err)
		}
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating seller sub-orders: %w", err)
	}
	return out, nil
}

const getSellerSubOrderSQL = `SELECT s.id, s.order_id, s.seller_id, s.total_amount,
	s.payment_status, s.delivery_status, s.created_at, s.updated_at,
	o.status, o.payment_method, o.buyer_id
	FROM sub_orders s
	JOIN orders o ON o.id = s.order_id
	WHERE s.id = $1 AND s.seller_id = $2`

// GetSellerSubOrder loads one sub-order with its items, scoped to the
// seller. A sub-order owned by someone else reads as not found.
func (r *OrderRepository) GetSellerSubOrder(ctx context.Context, sellerID, subOrderID string) (*order.SellerSubOrder, error) {
	var s order.SellerSubOrder
	err := r.pool.QueryRow(ctx, getSellerSubOrderSQL, subOrderID, sellerID).Scan(
		&s.ID, &s.OrderID, &s.SellerID, &s.TotalAmount,
		&s.PaymentStatus, &s.DeliveryStatus, &s.CreatedAt, &s.UpdatedAt,
		&s.OrderStatus, &s.PaymentMethod, &s.BuyerID,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, order.ErrNotFound
		}
		return nil, fmt.Errorf("getting sub-order %q: %w", subOrderID, err)
	}

	rows, err := r.pool.Query(ctx,
		`SELECT id, sub_order_id, catalog_unit_id, quantity, price
		 FROM order_items WHERE sub_order_id = $1 ORDER BY id`,
		subOrderID,
	)
	if err != nil {
		return nil, fmt.Errorf("listing items of sub-order %q: %w", subOrderID, err)
	}
	defer rows.Close()

	for rows.Next() {
		var it order.OrderItem
		if err := rows.Scan(&it.ID, &it.SubOrderID, &it.CatalogUnitID,
			&it.Quantity, &it.Price,
		); err != nil {
			return nil, fmt.Errorf("scanning order item: %w", err)
		}
		s.Items = append(s.Items, it)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating order items: %w", err)
	}
	return &s, nil
}

// nullable maps "" to SQL NULL for optional text columns.
func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
