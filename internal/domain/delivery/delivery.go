// Package delivery manages shipments: creating them with the external
// shipping partner and persisting the resulting tracking records.
package delivery

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/velstore/marketplace-core/internal/domain/order"
)

var (
	// ErrNotFound is returned for missing deliveries, sub-orders, or sellers.
	ErrNotFound = errors.New("delivery not found")

	// ErrNotAuthorized indicates the seller holds no valid partner
	// credentials. Distinct from transient partner failures.
	ErrNotAuthorized = errors.New("seller not authorized with shipping partner")

	// ErrPartnerUnavailable marks transient partner failures; the caller
	// retries the whole operation.
	ErrPartnerUnavailable = errors.New("shipping partner unavailable")

	// ErrAlreadyExists is returned when the sub-order already has an active
	// shipment.
	ErrAlreadyExists = errors.New("shipment already exists for sub-order")
)

// PacketDimensions describes the physical parcel. Weight is in kilograms,
// the rest in centimeters.
type PacketDimensions struct {
	Length  float64 `json:"length"`
	Breadth float64 `json:"breadth"`
	Height  float64 `json:"height"`
	Weight  float64 `json:"weight"`
}

// Delivery is the local record of one partner shipment. At most one active
// shipment exists per sub-order.
type Delivery struct {
	ID                 string
	SubOrderID         string
	SellerID           string
	ExternalShipmentID string
	ExternalOrderID    string
	Status             order.DeliveryStatus
	PickupLocation     string
	PacketDimensions   PacketDimensions
	EstimatedDelivery  *time.Time
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// Credentials authenticate a seller with the shipping partner.
type Credentials struct {
	Email    string
	Password string
}

// Empty reports whether no credentials are configured.
func (c Credentials) Empty() bool {
	return c.Email == "" || c.Password == ""
}

// Seller holds the partner-facing seller profile.
type Seller struct {
	ID             string
	Name           string
	PickupLocation string
	Credentials    Credentials
}

// ShipmentItem is one line of a partner shipment request.
type ShipmentItem struct {
	Name         string
	SKU          string
	Units        int
	SellingPrice decimal.Decimal
}

// ShipmentRequest is the partner-facing shipment payload built from a
// sub-order and its parent order's shipping address.
type ShipmentRequest struct {
	OrderID        string
	OrderDate      time.Time
	PickupLocation string
	BillingName    string
	BillingPhone   string
	BillingAddress string
	BillingCity    string
	BillingPincode string
	BillingState   string
	BillingCountry string
	Items          []ShipmentItem
	CashOnDelivery bool
	Dimensions     PacketDimensions
}

// Shipment is the partner's response to a created shipment.
type Shipment struct {
	ShipmentID string
	OrderID    string
	Status     string
}

// Partner is the outbound port to the shipping provider.
type Partner interface {
	CreateShipment(ctx context.Context, creds Credentials, req ShipmentRequest) (*Shipment, error)
	PickupLocations(ctx context.Context, creds Credentials) ([]string, error)
	CancelShipment(ctx context.Context, creds Credentials, externalOrderID string) error
}

// ShipmentInfo is the read model the service needs to build a partner
// request: the sub-order joined with its parent order's shipping address and
// itemized contents.
type ShipmentInfo struct {
	SubOrderID    string
	OrderID       string
	SellerID      string
	PaymentMethod order.PaymentMethod

	AddressName    string
	AddressPhone   string
	AddressStreet  string
	AddressCity    string
	AddressState   string
	AddressPincode string
	AddressCountry string

	Items []ShipmentItem
}

// Repository defines persistence operations for deliveries.
type Repository interface {
	Create(ctx context.Context, d *Delivery) error
	GetByID(ctx context.Context, id string) (*Delivery, error)
	Delete(ctx context.Context, id string) error
}

// Reader loads the order-side data a shipment needs.
type Reader interface {
	ShipmentInfo(ctx context.Context, subOrderID string) (*ShipmentInfo, error)
	GetSeller(ctx context.Context, sellerID string) (*Seller, error)
}
