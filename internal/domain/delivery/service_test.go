package delivery

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/velstore/marketplace-core/internal/domain/order"
)

// --- Mock implementations ---

type mockPartner struct {
	shipment  *Shipment
	createErr error
	cancelErr error
	locations []string

	gotCreds   Credentials
	gotRequest ShipmentRequest
	cancelled  []string
}

func (m *mockPartner) CreateShipment(_ context.Context, creds Credentials, req ShipmentRequest) (*Shipment, error) {
	m.gotCreds = creds
	m.gotRequest = req
	if m.createErr != nil {
		return nil, m.createErr
	}
	return m.shipment, nil
}

func (m *mockPartner) PickupLocations(_ context.Context, creds Credentials) ([]string, error) {
	m.gotCreds = creds
	return m.locations, nil
}

func (m *mockPartner) CancelShipment(_ context.Context, creds Credentials, externalOrderID string) error {
	m.gotCreds = creds
	if m.cancelErr != nil {
		return m.cancelErr
	}
	m.cancelled = append(m.cancelled, externalOrderID)
	return nil
}

type mockDeliveryRepo struct {
	created   *Delivery
	byID      map[string]*Delivery
	deleted   []string
	createErr error
}

func (m *mockDeliveryRepo) Create(_ context.Context, d *Delivery) error {
	if m.createErr != nil {
		return m.createErr
	}
	m.created = d
	return nil
}

func (m *mockDeliveryRepo) GetByID(_ context.Context, id string) (*Delivery, error) {
	d, ok := m.byID[id]
	if !ok {
		return nil, ErrNotFound
	}
	return d, nil
}

func (m *mockDeliveryRepo) Delete(_ context.Context, id string) error {
	m.deleted = append(m.deleted, id)
	return nil
}

type mockReader struct {
	sellers map[string]*Seller
	infos   map[string]*ShipmentInfo
}

func (m *mockReader) ShipmentInfo(_ context.Context, subOrderID string) (*ShipmentInfo, error) {
	info, ok := m.infos[subOrderID]
	if !ok {
		return nil, ErrNotFound
	}
	return info, nil
}

func (m *mockReader) GetSeller(_ context.Context, sellerID string) (*Seller, error) {
	s, ok := m.sellers[sellerID]
	if !ok {
		return nil, ErrNotFound
	}
	return s, nil
}

// --- Helpers ---

func testSeller(pickup string) *Seller {
	return &Seller{
		ID:             "seller-a",
		Name:           "Aurora Textiles",
		PickupLocation: pickup,
		Credentials:    Credentials{Email: "ship@aurora.test", Password: "pass"},
	}
}

func testInfo(method order.PaymentMethod) *ShipmentInfo {
	return &ShipmentInfo{
		SubOrderID:     "sub-1",
		OrderID:        "ord-1",
		SellerID:       "seller-a",
		PaymentMethod:  method,
		AddressName:    "Asha Rao",
		AddressPhone:   "+919800000001",
		AddressStreet:  "14 Lake View Road",
		AddressCity:    "Bengaluru",
		AddressState:   "Karnataka",
		AddressPincode: "560001",
		AddressCountry: "India",
		Items: []ShipmentItem{
			{Name: "Cotton Kurta", SKU: "AUR-KURTA-M-BLU", Units: 2, SellingPrice: decimal.RequireFromString("100.00")},
		},
	}
}

func newFixture(method order.PaymentMethod) (*mockPartner, *mockDeliveryRepo, *mockReader) {
	partner := &mockPartner{shipment: &Shipment{ShipmentID: "ship-1", OrderID: "sr-ord-1", Status: "NEW"}}
	repo := &mockDeliveryRepo{byID: make(map[string]*Delivery)}
	reader := &mockReader{
		sellers: map[string]*Seller{"seller-a": testSeller("Aurora Warehouse")},
		infos:   map[string]*ShipmentInfo{"sub-1": testInfo(method)},
	}
	return partner, repo, reader
}

var dims = PacketDimensions{Length: 30, Breadth: 20, Height: 10, Weight: 0.8}

// --- Tests ---

func TestCreateShipment_PersistsDelivery(t *testing.T) {
	partner, repo, reader := newFixture(order.PaymentOnline)
	svc := NewService(partner, repo, reader)

	d, err := svc.CreateShipment(context.Background(), "seller-a", "sub-1", "", dims)
	require.NoError(t, err)

	assert.Equal(t, "sub-1", d.SubOrderID)
	assert.Equal(t, "ship-1", d.ExternalShipmentID)
	assert.Equal(t, "sr-ord-1", d.ExternalOrderID)
	assert.Equal(t, order.DeliveryShipped, d.Status)
	assert.Equal(t, dims, d.PacketDimensions)
	assert.Same(t, repo.created, d)

	// Partner request carries the buyer address and sub-order contents.
	assert.Equal(t, "sub-1", partner.gotRequest.OrderID)
	assert.Equal(t, "Asha Rao", partner.gotRequest.BillingName)
	assert.Equal(t, "560001", partner.gotRequest.BillingPincode)
	require.Len(t, partner.gotRequest.Items, 1)
	assert.Equal(t, 2, partner.gotRequest.Items[0].Units)
	assert.False(t, partner.gotRequest.CashOnDelivery)
}

func TestCreateShipment_CODFlag(t *testing.T) {
	partner, repo, reader := newFixture(order.PaymentCOD)
	svc := NewService(partner, repo, reader)

	_, err := svc.CreateShipment(context.Background(), "seller-a", "sub-1", "", dims)
	require.NoError(t, err)
	assert.True(t, partner.gotRequest.CashOnDelivery)
}

func TestCreateShipment_PickupFallback(t *testing.T) {
	partner, repo, reader := newFixture(order.PaymentOnline)
	svc := NewService(partner, repo, reader)

	// Explicit argument wins.
	_, err := svc.CreateShipment(context.Background(), "seller-a", "sub-1", "Secondary Hub", dims)
	require.NoError(t, err)
	assert.Equal(t, "Secondary Hub", partner.gotRequest.PickupLocation)

	// Seller's registered location next.
	_, err = svc.CreateShipment(context.Background(), "seller-a", "sub-1", "", dims)
	require.NoError(t, err)
	assert.Equal(t, "Aurora Warehouse", partner.gotRequest.PickupLocation)

	// Seller name as the last resort.
	reader.sellers["seller-a"] = testSeller("")
	_, err = svc.CreateShipment(context.Background(), "seller-a", "sub-1", "", dims)
	require.NoError(t, err)
	assert.Equal(t, "Aurora Textiles", partner.gotRequest.PickupLocation)
}

func TestCreateShipment_NoCredentials(t *testing.T) {
	partner, repo, reader := newFixture(order.PaymentOnline)
	reader.sellers["seller-a"].Credentials = Credentials{}
	svc := NewService(partner, repo, reader)

	_, err := svc.CreateShipment(context.Background(), "seller-a", "sub-1", "", dims)
	require.ErrorIs(t, err, ErrNotAuthorized)
	assert.Nil(t, repo.created)
}

func TestCreateShipment_ForeignSubOrder(t *testing.T) {
	partner, repo, reader := newFixture(order.PaymentOnline)
	reader.infos["sub-1"].SellerID = "seller-b"
	svc := NewService(partner, repo, reader)

	_, err := svc.CreateShipment(context.Background(), "seller-a", "sub-1", "", dims)
	require.ErrorIs(t, err, ErrNotFound)
	assert.Nil(t, repo.created)
}

func TestCreateShipment_PartnerFailureLeavesNoRecord(t *testing.T) {
	partner, repo, reader := newFixture(order.PaymentOnline)
	partner.createErr = ErrPartnerUnavailable
	svc := NewService(partner, repo, reader)

	_, err := svc.CreateShipment(context.Background(), "seller-a", "sub-1", "", dims)
	require.ErrorIs(t, err, ErrPartnerUnavailable)
	assert.Nil(t, repo.created)
}

func TestPickupLocations(t *testing.T) {
	partner, repo, reader := newFixture(order.PaymentOnline)
	partner.locations = []string{"Aurora Warehouse", "Secondary Hub"}
	svc := NewService(partner, repo, reader)

	locations, err := svc.PickupLocations(context.Background(), "seller-a")
	require.NoError(t, err)
	assert.Equal(t, []string{"Aurora Warehouse", "Secondary Hub"}, locations)
	assert.Equal(t, "ship@aurora.test", partner.gotCreds.Email)
}

func TestPickupLocations_NoCredentials(t *testing.T) {
	partner, repo, reader := newFixture(order.PaymentOnline)
	reader.sellers["seller-a"].Credentials = Credentials{}
	svc := NewService(partner, repo, reader)

	_, err := svc.PickupLocations(context.Background(), "seller-a")
	require.ErrorIs(t, err, ErrNotAuthorized)
}

func TestCancelShipment(t *testing.T) {
	partner, repo, reader := newFixture(order.PaymentOnline)
	repo.byID["del-1"] = &Delivery{ID: "del-1", SellerID: "seller-a", ExternalOrderID: "sr-ord-1"}
	svc := NewService(partner, repo, reader)

	err := svc.CancelShipment(context.Background(), "seller-a", "del-1")
	require.NoError(t, err)
	assert.Equal(t, []string{"sr-ord-1"}, partner.cancelled)
	assert.Equal(t, []string{"del-1"}, repo.deleted)
}

func TestCancelShipment_ForeignDelivery(t *testing.T) {
	partner, repo, reader := newFixture(order.PaymentOnline)
	repo.byID["del-1"] = &Delivery{ID: "del-1", SellerID: "seller-b", ExternalOrderID: "sr-ord-1"}
	svc := NewService(partner, repo, reader)

	err := svc.CancelShipment(context.Background(), "seller-a", "del-1")
	require.ErrorIs(t, err, ErrNotFound)
	assert.Empty(t, partner.cancelled)
	assert.Empty(t, repo.deleted)
}

func TestCancelShipment_PartnerFailureKeepsRecord(t *testing.T) {
	partner, repo, reader := newFixture(order.PaymentOnline)
	partner.cancelErr = ErrPartnerUnavailable
	repo.byID["del-1"] = &Delivery{ID: "del-1", SellerID: "seller-a", ExternalOrderID: "sr-ord-1"}
	svc := NewService(partner, repo, reader)

	err := svc.CancelShipment(context.Background(), "seller-a", "del-1")
	require.ErrorIs(t, err, ErrPartnerUnavailable)
	assert.Empty(t, repo.deleted)
}
