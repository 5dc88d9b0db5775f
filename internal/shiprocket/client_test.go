package shiprocket

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/velstore/marketplace-core/internal/domain/delivery"
)

type memTokenCache struct {
	mux    sync.Mutex
	tokens map[string]string
	sets   int
}

func newMemTokenCache() *memTokenCache {
	return &memTokenCache{tokens: make(map[string]string)}
}

func (m *memTokenCache) GetToken(_ context.Context, email string) (string, error) {
	m.mux.Lock()
	defer m.mux.Unlock()
	return m.tokens[email], nil
}

func (m *memTokenCache) SetToken(_ context.Context, email, token string, _ time.Duration) error {
	m.mux.Lock()
	defer m.mux.Unlock()
	m.tokens[email] = token
	m.sets++
	return nil
}

func (m *memTokenCache) DeleteToken(_ context.Context, email string) error {
	m.mux.Lock()
	defer m.mux.Unlock()
	delete(m.tokens, email)
	return nil
}

var testCreds = delivery.Credentials{Email: "ship@aurora.test", Password: "pass"}

// partnerStub is a scripted partner API. It counts logins and records the
// last create payload.
type partnerStub struct {
	mux        *http.ServeMux
	logins     int
	lastCreate map[string]any
}

func newPartnerStub(t *testing.T) (*partnerStub, *Client, *memTokenCache) {
	t.Helper()
	stub := &partnerStub{mux: http.NewServeMux()}
	stub.mux.HandleFunc("POST /v1/external/auth/login", func(w http.ResponseWriter, r *http.Request) {
		var req struct{ Email, Password string }
		_ = json.NewDecoder(r.Body).Decode(&req)
		if req.Password != testCreds.Password {
			http.Error(w, "bad creds", http.StatusUnauthorized)
			return
		}
		stub.logins++
		_ = json.NewEncoder(w).Encode(map[string]string{"token": "tok-1"})
	})
	stub.mux.HandleFunc("POST /v1/external/orders/create/adhoc", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer tok-1" {
			http.Error(w, "no auth", http.StatusUnauthorized)
			return
		}
		_ = json.NewDecoder(r.Body).Decode(&stub.lastCreate)
		_ = json.NewEncoder(w).Encode(map[string]any{"order_id": 7001, "shipment_id": 9001, "status": "NEW"})
	})

	srv := httptest.NewServer(stub.mux)
	t.Cleanup(srv.Close)
	cache := newMemTokenCache()
	client := NewClient(cache, WithBaseURL(srv.URL), WithHTTPClient(srv.Client()))
	return stub, client, cache
}

func shipmentRequest() delivery.ShipmentRequest {
	return delivery.ShipmentRequest{
		OrderID:        "sub-1",
		OrderDate:      time.Date(2026, 3, 14, 10, 30, 0, 0, time.UTC),
		PickupLocation: "Aurora Warehouse",
		BillingName:    "Asha Rao",
		BillingPhone:   "+919800000001",
		BillingAddress: "14 Lake View Road",
		BillingCity:    "Bengaluru",
		BillingPincode: "560001",
		BillingState:   "Karnataka",
		BillingCountry: "India",
		Items: []delivery.ShipmentItem{
			{Name: "Cotton Kurta", SKU: "AUR-KURTA-M-BLU", Units: 2, SellingPrice: decimal.RequireFromString("108")},
		},
		CashOnDelivery: false,
		Dimensions:     delivery.PacketDimensions{Length: 30, Breadth: 20, Height: 10, Weight: 0.8},
	}
}

func TestCreateShipment(t *testing.T) {
	stub, client, cache := newPartnerStub(t)

	shipment, err := client.CreateShipment(context.Background(), testCreds, shipmentRequest())
	require.NoError(t, err)
	assert.Equal(t, "9001", shipment.ShipmentID)
	assert.Equal(t, "7001", shipment.OrderID)
	assert.Equal(t, "NEW", shipment.Status)

	// Payload carries the partner's field names and formats.
	assert.Equal(t, "sub-1", stub.lastCreate["order_id"])
	assert.Equal(t, "2026-03-14 10:30", stub.lastCreate["order_date"])
	assert.Equal(t, "Aurora Warehouse", stub.lastCreate["pickup_location"])
	assert.Equal(t, "Asha Rao", stub.lastCreate["billing_customer_name"])
	assert.Equal(t, "560001", stub.lastCreate["billing_pincode"])
	assert.Equal(t, true, stub.lastCreate["shipping_is_billing"])
	assert.Equal(t, "Prepaid", stub.lastCreate["payment_method"])
	assert.Equal(t, 0.8, stub.lastCreate["weight"])

	items, ok := stub.lastCreate["order_items"].([]any)
	require.True(t, ok)
	require.Len(t, items, 1)
	item := items[0].(map[string]any)
	assert.Equal(t, "AUR-KURTA-M-BLU", item["sku"])
	assert.Equal(t, float64(2), item["units"])
	assert.Equal(t, "108.00", item["selling_price"])

	assert.Equal(t, 1, stub.logins)
	assert.Equal(t, "tok-1", cache.tokens[testCreds.Email])
}

func TestCreateShipment_COD(t *testing.T) {
	stub, client, _ := newPartnerStub(t)

	req := shipmentRequest()
	req.CashOnDelivery = true
	_, err := client.CreateShipment(context.Background(), testCreds, req)
	require.NoError(t, err)
	assert.Equal(t, "COD", stub.lastCreate["payment_method"])
}

func TestCreateShipment_TokenCacheHit(t *testing.T) {
	stub, client, _ := newPartnerStub(t)

	_, err := client.CreateShipment(context.Background(), testCreds, shipmentRequest())
	require.NoError(t, err)
	_, err = client.CreateShipment(context.Background(), testCreds, shipmentRequest())
	require.NoError(t, err)

	// Second call reuses the cached token instead of logging in again.
	assert.Equal(t, 1, stub.logins)
}

func TestCreateShipment_ExpiredTokenEvicted(t *testing.T) {
	_, client, cache := newPartnerStub(t)
	cache.tokens[testCreds.Email] = "tok-stale"

	_, err := client.CreateShipment(context.Background(), testCreds, shipmentRequest())
	require.ErrorIs(t, err, delivery.ErrNotAuthorized)
	assert.Empty(t, cache.tokens[testCreds.Email])
}

func TestCreateShipment_BadCredentials(t *testing.T) {
	_, client, _ := newPartnerStub(t)

	bad := delivery.Credentials{Email: "ship@aurora.test", Password: "wrong"}
	_, err := client.CreateShipment(context.Background(), bad, shipmentRequest())
	require.ErrorIs(t, err, delivery.ErrNotAuthorized)

	_, err = client.CreateShipment(context.Background(), delivery.Credentials{}, shipmentRequest())
	require.ErrorIs(t, err, delivery.ErrNotAuthorized)
}

func TestPickupLocations(t *testing.T) {
	stub, client, _ := newPartnerStub(t)
	stub.mux.HandleFunc("GET /v1/external/settings/company/pickup", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"data": map[string]any{
				"shipping_address": []map[string]string{
					{"pickup_location": "Aurora Warehouse"},
					{"pickup_location": "Secondary Hub"},
				},
			},
		})
	})

	locations, err := client.PickupLocations(context.Background(), testCreds)
	require.NoError(t, err)
	assert.Equal(t, []string{"Aurora Warehouse", "Secondary Hub"}, locations)
}

func TestPickupLocations_RetriesTransientFailure(t *testing.T) {
	stub, client, _ := newPartnerStub(t)
	attempts := 0
	stub.mux.HandleFunc("GET /v1/external/settings/company/pickup", func(w http.ResponseWriter, r *http.Request) {
		attempts++
		if attempts == 1 {
			http.Error(w, "flaky", http.StatusServiceUnavailable)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"data": map[string]any{
				"shipping_address": []map[string]string{{"pickup_location": "Aurora Warehouse"}},
			},
		})
	})

	locations, err := client.PickupLocations(context.Background(), testCreds)
	require.NoError(t, err)
	assert.Equal(t, []string{"Aurora Warehouse"}, locations)
	assert.Equal(t, 2, attempts)
}

func TestPickupLocations_PersistentFailure(t *testing.T) {
	stub, client, _ := newPartnerStub(t)
	attempts := 0
	stub.mux.HandleFunc("GET /v1/external/settings/company/pickup", func(w http.ResponseWriter, r *http.Request) {
		attempts++
		http.Error(w, "down", http.StatusServiceUnavailable)
	})

	_, err := client.PickupLocations(context.Background(), testCreds)
	require.ErrorIs(t, err, delivery.ErrPartnerUnavailable)
	assert.Equal(t, 2, attempts)
}

func TestCancelShipment(t *testing.T) {
	stub, client, _ := newPartnerStub(t)
	var gotIDs []int64
	stub.mux.HandleFunc("POST /v1/external/orders/cancel", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			IDs []int64 `json:"ids"`
		}
		_ = json.NewDecoder(r.Body).Decode(&req)
		gotIDs = req.IDs
		w.WriteHeader(http.StatusOK)
	})

	err := client.CancelShipment(context.Background(), testCreds, "7001")
	require.NoError(t, err)
	assert.Equal(t, []int64{7001}, gotIDs)
}

func TestCancelShipment_BadOrderID(t *testing.T) {
	_, client, _ := newPartnerStub(t)

	err := client.CancelShipment(context.Background(), testCreds, "not-a-number")
	require.Error(t, err)
}

func TestCreateShipment_PartnerDown(t *testing.T) {
	cache := newMemTokenCache()
	srv := httptest.NewServer(http.NotFoundHandler())
	client := NewClient(cache, WithBaseURL(srv.URL))
	srv.Close()

	_, err := client.CreateShipment(context.Background(), testCreds, shipmentRequest())
	require.ErrorIs(t, err, delivery.ErrPartnerUnavailable)
}
