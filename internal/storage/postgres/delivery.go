package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/velstore/marketplace-core/internal/domain/delivery"
)

const uniqueViolation = "23505"

const createDeliverySQL = `INSERT INTO deliveries
	(id, sub_order_id, seller_id, external_shipment_id, external_order_id,
	 status, pickup_location, packet_dimensions, estimated_delivery)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

const getDeliverySQL = `SELECT id, sub_order_id, seller_id, external_shipment_id,
	external_order_id, status, pickup_location, packet_dimensions,
	estimated_delivery, created_at, updated_at
	FROM deliveries WHERE `

var (
	_ delivery.Repository = (*DeliveryRepository)(nil)
	_ delivery.Reader     = (*DeliveryRepository)(nil)
)

// DeliveryRepository implements delivery.Repository and delivery.Reader
// backed by PostgreSQL.
type DeliveryRepository struct {
	pool *pgxpool.Pool
}

// NewDeliveryRepository returns a DeliveryRepository that uses the given pool.
func NewDeliveryRepository(pool *pgxpool.Pool) *DeliveryRepository {
	return &DeliveryRepository{pool: pool}
}

// Create persists a delivery. A second shipment for the same sub-order hits
// the unique constraint and maps to ErrAlreadyExists.
func (r *DeliveryRepository) Create(ctx context.Context, d *delivery.Delivery) error {
	dims, err := json.Marshal(d.PacketDimensions)
	if err != nil {
		return fmt.Errorf("marshaling packet dimensions: %w", err)
	}

	_, err = r.pool.Exec(ctx, createDeliverySQL,
		d.ID, d.SubOrderID, d.SellerID, d.ExternalShipmentID, d.ExternalOrderID,
		d.Status, d.PickupLocation, dims, d.EstimatedDelivery,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return delivery.ErrAlreadyExists
		}
		return fmt.Errorf("creating delivery %q: %w", d.ID, err)
	}
	return nil
}

// GetByID loads one delivery.
func (r *DeliveryRepository) GetByID(ctx context.Context, id string) (*delivery.Delivery, error) {
	return r.get(ctx, getDeliverySQL+`id = $1`, id)
}

// GetByShipmentID loads the delivery tracking a partner shipment.
func (r *DeliveryRepository) GetByShipmentID(ctx context.Context, shipmentID string) (*delivery.Delivery, error) {
	return r.get(ctx, getDeliverySQL+`external_shipment_id = $1`, shipmentID)
}

func (r *DeliveryRepository) get(ctx context.Context, query, arg string) (*delivery.Delivery, error) {
	var (
		d    delivery.Delivery
		dims []byte
	)
	err := r.pool.QueryRow(ctx, query, arg).Scan(
		&d.ID, &d.SubOrderID, &d.SellerID, &d.ExternalShipmentID,
		&d.ExternalOrderID, &d.Status, &d.PickupLocation, &dims,
		&d.EstimatedDelivery, &d.CreatedAt, &d.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, delivery.ErrNotFound
		}
		return nil, fmt.Errorf("getting delivery %q: %w", arg, err)
	}
	if len(dims) > 0 {
		if err := json.Unmarshal(dims, &d.PacketDimensions); err != nil {
			return nil, fmt.Errorf("unmarshaling packet dimensions: %w", err)
		}
	}
	return &d, nil
}

// Delete removes a delivery record.
func (r *DeliveryRepository) Delete(ctx context.Context, id string) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM deliveries WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("deleting delivery %q: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return delivery.ErrNotFound
	}
	return nil
}

const shipmentInfoSQL = `SELECT s.id, s.order_id, s.seller_id, o.payment_method,
	a.name, a.phone, a.street, a.city, a.state, a.postal_code, a.country
	FROM sub_orders s
	JOIN orders o ON o.id = s.order_id
	JOIN shipping_addresses a ON a.id = o.shipping_address_id
	WHERE s.id = $1`

const shipmentItemsSQL = `SELECT u.name, u.sku, i.quantity, i.price
	FROM order_items i
	JOIN catalog_units u ON u.id = i.catalog_unit_id
	WHERE i.sub_order_id = $1 ORDER BY i.id`

// ShipmentInfo joins a sub-order with its parent order's shipping address
// and itemized contents, everything a partner shipment request needs.
func (r *DeliveryRepository) ShipmentInfo(ctx context.Context, subOrderID string) (*delivery.ShipmentInfo, error) {
	var info delivery.ShipmentInfo
	err := r.pool.QueryRow(ctx, shipmentInfoSQL, subOrderID).Scan(
		&info.SubOrderID, &info.OrderID, &info.SellerID, &info.PaymentMethod,
		&info.AddressName, &info.AddressPhone, &info.AddressStreet,
		&info.AddressCity, &info.AddressState, &info.AddressPincode,
		&info.AddressCountry,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, delivery.ErrNotFound
		}
		return nil, fmt.Errorf("getting shipment info for %q: %w", subOrderID, err)
	}

	rows, err := r.pool.Query(ctx, shipmentItemsSQL, subOrderID)
	if err != nil {
		return nil, fmt.Errorf("listing shipment items for %q: %w", subOrderID, err)
	}
	defer rows.Close()

	for rows.Next() {
		var it delivery.ShipmentItem
		if err := rows.Scan(&it.Name, &it.SKU, &it.Units, &it.SellingPrice); err != nil {
			return nil, fmt.Errorf("scanning shipment item: %w", err)
		}
		info.Items = append(info.Items, it)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating shipment items: %w", err)
	}
	return &info, nil
}

const getSellerSQL = `SELECT id, name, pickup_location, partner_email, partner_password
	FROM sellers WHERE id = $1`

// GetSeller loads a seller profile with its partner credentials.
func (r *DeliveryRepository) GetSeller(ctx context.Context, sellerID string) (*delivery.Seller, error) {
	var s delivery.Seller
	err := r.pool.QueryRow(ctx, getSellerSQL, sellerID).Scan(
		&s.ID, &s.Name, &s.PickupLocation,
		&s.Credentials.Email, &s.Credentials.Password,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, delivery.ErrNotFound
		}
		return nil, fmt.Errorf("getting seller %q: %w", sellerID, err)
	}
	return &s, nil
}
