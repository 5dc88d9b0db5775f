// Package payment defines the payment gateway port: intent creation, the
// closed set of gateway webhook events, and HMAC signature rules.
package payment

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

var (
	// ErrGatewayUnavailable marks transient gateway failures. Checkout aborts
	// entirely; the caller may retry the whole operation.
	ErrGatewayUnavailable = errors.New("payment gateway unavailable")

	// ErrSignatureMismatch is returned when a per-payment signature does not
	// match. The associated order is cancelled.
	ErrSignatureMismatch = errors.New("payment signature mismatch")

	// ErrInvalidWebhookSignature rejects a webhook delivery outright, with no
	// state change.
	ErrInvalidWebhookSignature = errors.New("invalid webhook signature")
)

// Gateway creates remote payment intents with the external processor.
type Gateway interface {
	// CreateIntent registers an intent for the given amount and returns the
	// gateway's opaque order id. Only invoked for ONLINE payments.
	CreateIntent(ctx context.Context, amount decimal.Decimal, currency, receipt string) (string, error)
}

// EventKind enumerates the recognized gateway webhook events.
type EventKind string

const (
	EventPaymentCaptured EventKind = "payment.captured"
	EventOrderPaid       EventKind = "order.paid"
	EventPaymentFailed   EventKind = "payment.failed"
	// EventUnknown covers everything else: logged and ignored, not an error.
	EventUnknown EventKind = ""
)

// Event is a parsed gateway webhook event. The kind determines which fields
// are populated; unknown events carry only RawKind.
type Event struct {
	Kind              EventKind
	RawKind           string
	ExternalOrderID   string
	ExternalPaymentID string
}
