package delivery

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"

	"github.com/velstore/marketplace-core/internal/domain/order"
)

// Service orchestrates shipment creation and cancellation against the
// shipping partner. Identity is threaded explicitly: every operation takes
// the acting seller id and enforces ownership.
type Service struct {
	partner    Partner
	deliveries Repository
	reader     Reader
}

// NewService creates a delivery Service.
func NewService(partner Partner, deliveries Repository, reader Reader) *Service {
	return &Service{
		partner:    partner,
		deliveries: deliveries,
		reader:     reader,
	}
}

// CreateShipment builds a partner shipment for the sub-order and persists the
// resulting Delivery. The partner call sequence is all-or-nothing: any failure
// leaves no local record and the caller retries the whole operation.
func (s *Service) CreateShipment(
	ctx context.Context,
	sellerID, subOrderID, pickupLocation string,
	dims PacketDimensions,
) (*Delivery, error) {
	seller, err := s.reader.GetSeller(ctx, sellerID)
	if err != nil {
		return nil, err
	}
	if seller.Credentials.Empty() {
		return nil, ErrNotAuthorized
	}

	info, err := s.reader.ShipmentInfo(ctx, subOrderID)
	if err != nil {
		return nil, err
	}
	if info.SellerID != sellerID {
		// Sellers only ship their own sub-orders.
		return nil, ErrNotFound
	}

	if pickupLocation == "" {
		pickupLocation = seller.PickupLocation
	}
	if pickupLocation == "" {
		pickupLocation = seller.Name
	}

	req := ShipmentRequest{
		OrderID:        info.SubOrderID,
		OrderDate:      time.Now().UTC(),
		PickupLocation: pickupLocation,
		BillingName:    info.AddressName,
		BillingPhone:   info.AddressPhone,
		BillingAddress: info.AddressStreet,
		BillingCity:    info.AddressCity,
		BillingPincode: info.AddressPincode,
		BillingState:   info.AddressState,
		BillingCountry: info.AddressCountry,
		Items:          info.Items,
		CashOnDelivery: info.PaymentMethod == order.PaymentCOD,
		Dimensions:     dims,
	}

	shipment, err := s.partner.CreateShipment(ctx, seller.Credentials, req)
	if err != nil {
		return nil, err
	}

	d := &Delivery{
		ID:                 uuid.New().String(),
		SubOrderID:         info.SubOrderID,
		SellerID:           sellerID,
		ExternalShipmentID: shipment.ShipmentID,
		ExternalOrderID:    shipment.OrderID,
		Status:             order.DeliveryShipped,
		PickupLocation:     pickupLocation,
		PacketDimensions:   dims,
	}
	if err := s.deliveries.Create(ctx, d); err != nil {
		return nil, errors.Wrap(err, "persist delivery")
	}
	return d, nil
}

// PickupLocations is a read-through query to the partner API for the seller's
// registered pickup points.
func (s *Service) PickupLocations(ctx context.Context, sellerID string) ([]string, error) {
	seller, err := s.reader.GetSeller(ctx, sellerID)
	if err != nil {
		return nil, err
	}
	if seller.Credentials.Empty() {
		return nil, ErrNotAuthorized
	}
	return s.partner.PickupLocations(ctx, seller.Credentials)
}

// CancelShipment cancels the shipment with the partner first and only then
// removes the local record, so local and remote state cannot diverge.
func (s *Service) CancelShipment(ctx context.Context, sellerID, deliveryID string) error {
	d, err := s.deliveries.GetByID(ctx, deliveryID)
	if err != nil {
		return err
	}
	if d.SellerID != sellerID {
		return ErrNotFound
	}

	seller, err := s.reader.GetSeller(ctx, sellerID)
	if err != nil {
		return err
	}
	if seller.Credentials.Empty() {
		return ErrNotAuthorized
	}

	if err := s.partner.CancelShipment(ctx, seller.Credentials, d.ExternalOrderID); err != nil {
		return err
	}
	if err := s.deliveries.Delete(ctx, deliveryID); err != nil {
		return errors.Wrap(err, "delete delivery")
	}
	return nil
}
