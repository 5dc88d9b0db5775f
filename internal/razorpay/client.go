// Package razorpay is the HTTP adapter for the payment gateway: intent
// creation and webhook parsing.
package razorpay

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/velstore/marketplace-core/internal/domain/payment"
)

const defaultBaseURL = "https://api.razorpay.com"

// Compile-time check: Client implements the gateway port.
var _ payment.Gateway = (*Client)(nil)

// Client talks to the payment gateway REST API using key id/secret basic
// auth. All calls carry an explicit timeout.
type Client struct {
	baseURL   string
	keyID     string
	keySecret string
	signer    *payment.Signer
	http      *http.Client
}

// Option customizes the Client.
type Option func(*Client)

// WithBaseURL overrides the gateway base URL. Used by tests.
func WithBaseURL(u string) Option {
	return func(c *Client) { c.baseURL = u }
}

// WithHTTPClient overrides the underlying HTTP client.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.http = h }
}

// NewClient creates a gateway client. The signer carries both the key secret
// (per-payment signatures) and the webhook secret (raw-body signatures).
func NewClient(keyID, keySecret, webhookSecret string, opts ...Option) *Client {
	c := &Client{
		baseURL:   defaultBaseURL,
		keyID:     keyID,
		keySecret: keySecret,
		signer:    payment.NewSigner([]byte(keySecret), []byte(webhookSecret)),
		http: &http.Client{
			Timeout:   10 * time.Second,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Signer exposes the signature verifier shared with the reconciliation layer.
func (c *Client) Signer() *payment.Signer {
	return c.signer
}

type createOrderRequest struct {
	Amount   int64  `json:"amount"` // smallest currency unit
	Currency string `json:"currency"`
	Receipt  string `json:"receipt"`
}

type createOrderResponse struct {
	ID string `json:"id"`
}

// CreateIntent registers a payment intent and returns the gateway order id.
// Any transport or gateway failure maps to payment.ErrGatewayUnavailable so
// checkout aborts cleanly.
func (c *Client) CreateIntent(ctx context.Context, amount decimal.Decimal, currency, receipt string) (string, error) {
	body, err := json.Marshal(createOrderRequest{
		Amount:   amount.Mul(decimal.NewFromInt(100)).Round(0).IntPart(),
		Currency: currency,
		Receipt:  receipt,
	})
	if err != nil {
		return "", errors.Wrap(err, "marshal request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/orders", bytes.NewReader(body))
	if err != nil {
		return "", errors.Wrap(err, "build request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.SetBasicAuth(c.keyID, c.keySecret)

	resp, err := c.http.Do(req)
	if err != nil {
		return "", errors.Wrap(payment.ErrGatewayUnavailable, err.Error())
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return "", errors.Wrapf(payment.ErrGatewayUnavailable, "gateway returned %d", resp.StatusCode)
	}

	var out createOrderResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&out); err != nil {
		return "", errors.Wrap(payment.ErrGatewayUnavailable, err.Error())
	}
	if out.ID == "" {
		return "", errors.Wrap(payment.ErrGatewayUnavailable, "gateway returned no order id")
	}
	return out.ID, nil
}

// webhookBody mirrors the gateway's nested webhook shape.
type webhookBody struct {
	Event   string `json:"event"`
	Payload struct {
		Payment struct {
			Entity struct {
				ID      string `json:"id"`
				OrderID string `json:"order_id"`
			} `json:"entity"`
		} `json:"payment"`
	} `json:"payload"`
}

// ParseWebhook verifies the raw-body HMAC signature and decodes the event
// into the closed payment.Event variant. Unrecognized events come back with
// Kind EventUnknown; the caller logs and ignores them.
func (c *Client) ParseWebhook(body []byte, signature string) (payment.Event, error) {
	if !c.signer.VerifyWebhook(body, signature) {
		return payment.Event{}, payment.ErrInvalidWebhookSignature
	}

	var wb webhookBody
	if err := json.Unmarshal(body, &wb); err != nil {
		return payment.Event{}, errors.Wrap(err, "decode webhook body")
	}

	ev := payment.Event{
		RawKind:           wb.Event,
		ExternalOrderID:   wb.Payload.Payment.Entity.OrderID,
		ExternalPaymentID: wb.Payload.Payment.Entity.ID,
	}
	switch wb.Event {
	case string(payment.EventPaymentCaptured):
		ev.Kind = payment.EventPaymentCaptured
	case string(payment.EventOrderPaid):
		ev.Kind = payment.EventOrderPaid
	case string(payment.EventPaymentFailed):
		ev.Kind = payment.EventPaymentFailed
	default:
		ev.Kind = payment.EventUnknown
	}
	return ev, nil
}
