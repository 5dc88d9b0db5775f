// Package handler exposes the HTTP surface: buyer checkout, payment
// verification, gateway and shipping partner webhooks, and the seller
// fulfilment endpoints.
package handler

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/velstore/marketplace-core/internal/domain/catalog"
	"github.com/velstore/marketplace-core/internal/domain/delivery"
	"github.com/velstore/marketplace-core/internal/domain/order"
	"github.com/velstore/marketplace-core/internal/domain/payment"
	"github.com/velstore/marketplace-core/internal/domain/recon"
)

// WebhookParser verifies and decodes a payment gateway webhook body.
type WebhookParser interface {
	ParseWebhook(body []byte, signature string) (payment.Event, error)
}

// Handler wires the domain services to the router.
type Handler struct {
	orders      *order.Service
	sellerReads order.SellerReader
	deliveries  *delivery.Service
	recon       *recon.Service
	gateway     WebhookParser

	// shippingSecret enables HMAC verification of shipping partner
	// webhooks. Empty disables it.
	shippingSecret []byte
}

// NewHandler constructs a Handler with the required domain dependencies.
func NewHandler(
	orders *order.Service,
	sellerReads order.SellerReader,
	deliveries *delivery.Service,
	reconService *recon.Service,
	gateway WebhookParser,
	shippingSecret []byte,
) *Handler {
	return &Handler{
		orders:         orders,
		sellerReads:    sellerReads,
		deliveries:     deliveries,
		recon:          reconService,
		gateway:        gateway,
		shippingSecret: shippingSecret,
	}
}

// Routes registers every endpoint on a fresh router.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Route("/api", func(r chi.Router) {
		r.Post("/orders", h.checkout)
		r.Delete("/orders/{id}", h.cancelOrder)

		r.Post("/payments/verify", h.verifyPayment)

		r.Route("/sellers", func(r chi.Router) {
			r.Get("/pickup-locations", h.pickupLocations)
			r.Get("/suborders", h.listSubOrders)
			r.Get("/suborders/{id}", h.getSubOrder)
			r.Post("/suborders/{id}/delivery", h.createShipment)
		})

		r.Delete("/deliveries/{id}", h.cancelShipment)
	})

	// Webhook endpoints live outside /api: external providers call them.
	r.Post("/verification", h.paymentWebhook)
	r.Post("/shiprocket/webhook", h.shipmentWebhook)

	return r
}

type errorResponse struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, errorResponse{Code: code, Message: msg})
}

// writeDomainError maps domain errors onto the HTTP error taxonomy. Anything
// unmapped is a 500 with a generic body; the cause goes to the log only.
func (h *Handler) writeDomainError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, order.ErrEmptyCart),
		errors.Is(err, order.ErrMissingBuyer),
		errors.Is(err, order.ErrMissingAddress),
		errors.Is(err, order.ErrBadPaymentMethod),
		errors.Is(err, recon.ErrUnknownStatus),
		errors.Is(err, payment.ErrSignatureMismatch),
		errors.Is(err, payment.ErrInvalidWebhookSignature):
		writeError(w, http.StatusBadRequest, err.Error())
		return

	case errors.Is(err, delivery.ErrNotAuthorized):
		writeError(w, http.StatusUnauthorized, err.Error())
		return

	case errors.Is(err, order.ErrNotFound),
		errors.Is(err, delivery.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
		return

	case errors.Is(err, order.ErrNotCancellable),
		errors.Is(err, delivery.ErrAlreadyExists):
		writeError(w, http.StatusConflict, err.Error())
		return

	case errors.Is(err, payment.ErrGatewayUnavailable),
		errors.Is(err, delivery.ErrPartnerUnavailable):
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}

	var (
		unitErr  *order.UnitNotFoundError
		qtyErr   *order.InvalidQuantityError
		stockErr *catalog.InsufficientStockError
	)
	if errors.As(err, &unitErr) || errors.As(err, &qtyErr) || errors.As(err, &stockErr) {
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}

	zctx.From(r.Context()).Error("request failed",
		zap.String("path", r.URL.Path),
		zap.Error(err),
	)
	writeError(w, http.StatusInternalServerError, "internal error")
}

// sellerID extracts the acting seller identity from the request.
func sellerID(r *http.Request) string {
	return r.Header.Get("X-Seller-ID")
}
