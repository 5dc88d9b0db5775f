// Package shiprocket is the HTTP adapter for the shipping partner. Sellers
// authenticate with their own partner credentials; auth tokens are cached to
// avoid re-login on every call.
package shiprocket

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-faster/errors"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/velstore/marketplace-core/internal/domain/delivery"
)

const (
	defaultBaseURL = "https://apiv2.shiprocket.in"
	tokenTTL       = 24 * time.Hour
)

// Compile-time check: Client implements the partner port.
var _ delivery.Partner = (*Client)(nil)

// TokenCache stores partner auth tokens per seller account. A nil cache
// means every call logs in again.
type TokenCache interface {
	GetToken(ctx context.Context, email string) (string, error)
	SetToken(ctx context.Context, email, token string, ttl time.Duration) error
	DeleteToken(ctx context.Context, email string) error
}

// Client talks to the shipping partner REST API.
type Client struct {
	baseURL string
	tokens  TokenCache
	http    *http.Client
}

// Option customizes the Client.
type Option func(*Client)

// WithBaseURL overrides the partner base URL. Used by tests.
func WithBaseURL(u string) Option {
	return func(c *Client) { c.baseURL = u }
}

// WithHTTPClient overrides the underlying HTTP client.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.http = h }
}

// NewClient creates a partner client with the given token cache.
func NewClient(tokens TokenCache, opts ...Option) *Client {
	c := &Client{
		baseURL: defaultBaseURL,
		tokens:  tokens,
		http: &http.Client{
			Timeout:   15 * time.Second,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginResponse struct {
	Token string `json:"token"`
}

// authenticate returns a partner token for the credentials, from cache when
// possible.
func (c *Client) authenticate(ctx context.Context, creds delivery.Credentials) (string, error) {
	if creds.Empty() {
		return "", delivery.ErrNotAuthorized
	}

	if c.tokens != nil {
		if token, err := c.tokens.GetToken(ctx, creds.Email); err == nil && token != "" {
			return token, nil
		}
	}

	body, err := json.Marshal(loginRequest{Email: creds.Email, Password: creds.Password})
	if err != nil {
		return "", errors.Wrap(err, "marshal login")
	}
	resp, err := c.post(ctx, "/v1/external/auth/login", "", body)
	if err != nil {
		return "", err
	}
	defer func() { _ = resp.Body.Close() }()

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusBadRequest:
		return "", delivery.ErrNotAuthorized
	default:
		return "", errors.Wrapf(delivery.ErrPartnerUnavailable, "login returned %d", resp.StatusCode)
	}

	var out loginResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&out); err != nil {
		return "", errors.Wrap(delivery.ErrPartnerUnavailable, err.Error())
	}
	if out.Token == "" {
		return "", delivery.ErrNotAuthorized
	}

	if c.tokens != nil {
		_ = c.tokens.SetToken(ctx, creds.Email, out.Token, tokenTTL)
	}
	return out.Token, nil
}

type orderItemJSON struct {
	Name         string `json:"name"`
	SKU          string `json:"sku"`
	Units        int    `json:"units"`
	SellingPrice string `json:"selling_price"`
}

type createOrderJSON struct {
	OrderID           string          `json:"order_id"`
	OrderDate         string          `json:"order_date"`
	PickupLocation    string          `json:"pickup_location"`
	BillingName       string          `json:"billing_customer_name"`
	BillingPhone      string          `json:"billing_phone"`
	BillingAddress    string          `json:"billing_address"`
	BillingCity       string          `json:"billing_city"`
	BillingPincode    string          `json:"billing_pincode"`
	BillingState      string          `json:"billing_state"`
	BillingCountry    string          `json:"billing_country"`
	ShippingIsBilling bool            `json:"shipping_is_billing"`
	OrderItems        []orderItemJSON `json:"order_items"`
	PaymentMethod     string          `json:"payment_method"`
	Length            float64         `json:"length"`
	Breadth           float64         `json:"breadth"`
	Height            float64         `json:"height"`
	Weight            float64         `json:"weight"`
}

type createOrderResult struct {
	OrderID    json.Number `json:"order_id"`
	ShipmentID json.Number `json:"shipment_id"`
	Status     string      `json:"status"`
}

// CreateShipment submits an adhoc order to the partner and returns its
// shipment and order identifiers. Both are stored verbatim for webhook
// correlation.
func (c *Client) CreateShipment(ctx context.Context, creds delivery.Credentials, req delivery.ShipmentRequest) (*delivery.Shipment, error) {
	token, err := c.authenticate(ctx, creds)
	if err != nil {
		return nil, err
	}

	method := "Prepaid"
	if req.CashOnDelivery {
		method = "COD"
	}
	items := make([]orderItemJSON, len(req.Items))
	for i, it := range req.Items {
		items[i] = orderItemJSON{
			Name:         it.Name,
			SKU:          it.SKU,
			Units:        it.Units,
			SellingPrice: it.SellingPrice.StringFixed(2),
		}
	}

	body, err := json.Marshal(createOrderJSON{
		OrderID:           req.OrderID,
		OrderDate:         req.OrderDate.Format("2006-01-02 15:04"),
		PickupLocation:    req.PickupLocation,
		BillingName:       req.BillingName,
		BillingPhone:      req.BillingPhone,
		BillingAddress:    req.BillingAddress,
		BillingCity:       req.BillingCity,
		BillingPincode:    req.BillingPincode,
		BillingState:      req.BillingState,
		BillingCountry:    req.BillingCountry,
		ShippingIsBilling: true,
		OrderItems:        items,
		PaymentMethod:     method,
		Length:            req.Dimensions.Length,
		Breadth:           req.Dimensions.Breadth,
		Height:            req.Dimensions.Height,
		Weight:            req.Dimensions.Weight,
	})
	if err != nil {
		return nil, errors.Wrap(err, "marshal shipment")
	}

	resp, err := c.post(ctx, "/v1/external/orders/create/adhoc", token, body)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusUnauthorized:
		// Cached token may have expired; drop it so the retry logs in fresh.
		if c.tokens != nil {
			_ = c.tokens.DeleteToken(ctx, creds.Email)
		}
		return nil, delivery.ErrNotAuthorized
	default:
		return nil, errors.Wrapf(delivery.ErrPartnerUnavailable, "create shipment returned %d", resp.StatusCode)
	}

	var out createOrderResult
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&out); err != nil {
		return nil, errors.Wrap(delivery.ErrPartnerUnavailable, err.Error())
	}
	if out.ShipmentID.String() == "" {
		return nil, errors.Wrap(delivery.ErrPartnerUnavailable, "partner returned no shipment id")
	}

	return &delivery.Shipment{
		ShipmentID: out.ShipmentID.String(),
		OrderID:    out.OrderID.String(),
		Status:     out.Status,
	}, nil
}

type pickupLocationsResult struct {
	Data struct {
		ShippingAddress []struct {
			PickupLocation string `json:"pickup_location"`
		} `json:"shipping_address"`
	} `json:"data"`
}

// PickupLocations lists the seller's registered pickup points. The request
// is idempotent, so a transient failure is retried once.
func (c *Client) PickupLocations(ctx context.Context, creds delivery.Credentials) ([]string, error) {
	token, err := c.authenticate(ctx, creds)
	if err != nil {
		return nil, err
	}

	var resp *http.Response
	for attempt := 0; attempt < 2; attempt++ {
		resp, err = c.get(ctx, "/v1/external/settings/company/pickup", token)
		if err == nil && resp.StatusCode < http.StatusInternalServerError {
			break
		}
		if resp != nil {
			_ = resp.Body.Close()
			resp = nil
		}
	}
	if err != nil {
		return nil, err
	}
	if resp == nil {
		return nil, errors.Wrap(delivery.ErrPartnerUnavailable, "pickup locations unavailable")
	}
	defer func() { _ = resp.Body.Close() }()

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusUnauthorized:
		if c.tokens != nil {
			_ = c.tokens.DeleteToken(ctx, creds.Email)
		}
		return nil, delivery.ErrNotAuthorized
	default:
		return nil, errors.Wrapf(delivery.ErrPartnerUnavailable, "pickup locations returned %d", resp.StatusCode)
	}

	var out pickupLocationsResult
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&out); err != nil {
		return nil, errors.Wrap(delivery.ErrPartnerUnavailable, err.Error())
	}

	locations := make([]string, 0, len(out.Data.ShippingAddress))
	for _, a := range out.Data.ShippingAddress {
		locations = append(locations, a.PickupLocation)
	}
	return locations, nil
}

type cancelRequest struct {
	IDs []int64 `json:"ids"`
}

// CancelShipment cancels the partner order backing a shipment.
func (c *Client) CancelShipment(ctx context.Context, creds delivery.Credentials, externalOrderID string) error {
	token, err := c.authenticate(ctx, creds)
	if err != nil {
		return err
	}

	id, err := strconv.ParseInt(externalOrderID, 10, 64)
	if err != nil {
		return errors.Wrapf(err, "parse partner order id %q", externalOrderID)
	}
	body, err := json.Marshal(cancelRequest{IDs: []int64{id}})
	if err != nil {
		return errors.Wrap(err, "marshal cancel")
	}

	resp, err := c.post(ctx, "/v1/external/orders/cancel", token, body)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		if resp.StatusCode == http.StatusUnauthorized {
			if c.tokens != nil {
				_ = c.tokens.DeleteToken(ctx, creds.Email)
			}
			return delivery.ErrNotAuthorized
		}
		return errors.Wrapf(delivery.ErrPartnerUnavailable, "cancel returned %d", resp.StatusCode)
	}
	return nil
}

func (c *Client) post(ctx context.Context, path, token string, body []byte) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, errors.Wrap(err, "build request")
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", token))
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, errors.Wrap(delivery.ErrPartnerUnavailable, err.Error())
	}
	return resp, nil
}

func (c *Client) get(ctx context.Context, path, token string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, errors.Wrap(err, "build request")
	}
	req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", token))
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, errors.Wrap(delivery.ErrPartnerUnavailable, err.Error())
	}
	return resp, nil
}
