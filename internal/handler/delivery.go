package handler

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/velstore/marketplace-core/internal/domain/delivery"
	"github.com/velstore/marketplace-core/internal/domain/recon"
)

type createShipmentRequest struct {
	PickupLocation   string                    `json:"pickupLocation"`
	PacketDimensions delivery.PacketDimensions `json:"packetDimensions"`
}

type deliveryResponse struct {
	ID                 string                    `json:"id"`
	SubOrderID         string                    `json:"subOrderId"`
	ExternalShipmentID string                    `json:"externalShipmentId"`
	ExternalOrderID    string                    `json:"externalOrderId"`
	Status             string                    `json:"status"`
	PickupLocation     string                    `json:"pickupLocation"`
	PacketDimensions   delivery.PacketDimensions `json:"packetDimensions"`
}

func (h *Handler) createShipment(w http.ResponseWriter, r *http.Request) {
	seller := sellerID(r)
	if seller == "" {
		writeError(w, http.StatusBadRequest, "X-Seller-ID header required")
		return
	}

	var req createShipmentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}

	d, err := h.deliveries.CreateShipment(r.Context(),
		seller, chi.URLParam(r, "id"), req.PickupLocation, req.PacketDimensions)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, deliveryResponse{
		ID:                 d.ID,
		SubOrderID:         d.SubOrderID,
		ExternalShipmentID: d.ExternalShipmentID,
		ExternalOrderID:    d.ExternalOrderID,
		Status:             string(d.Status),
		PickupLocation:     d.PickupLocation,
		PacketDimensions:   d.PacketDimensions,
	})
}

func (h *Handler) pickupLocations(w http.ResponseWriter, r *http.Request) {
	seller := sellerID(r)
	if seller == "" {
		writeError(w, http.StatusBadRequest, "X-Seller-ID header required")
		return
	}

	locations, err := h.deliveries.PickupLocations(r.Context(), seller)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string][]string{"pickupLocations": locations})
}

func (h *Handler) cancelShipment(w http.ResponseWriter, r *http.Request) {
	seller := sellerID(r)
	if seller == "" {
		writeError(w, http.StatusBadRequest, "X-Seller-ID header required")
		return
	}

	if err := h.deliveries.CancelShipment(r.Context(), seller, chi.URLParam(r, "id")); err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// shipmentWebhookRequest accepts the documented body shape and, as aliases,
// the field names the partner's own pushes use (current_status, etd).
type shipmentWebhookRequest struct {
	ShipmentID            json.Number `json:"shipment_id"`
	Status                string      `json:"status"`
	CurrentStatus         string      `json:"current_status"`
	ChannelOrderID        string      `json:"channel_order_id"`
	EstimatedDeliveryDate string      `json:"estimated_delivery_date"`
	ETD                   string      `json:"etd"`
}

func (r *shipmentWebhookRequest) status() string {
	if r.Status != "" {
		return r.Status
	}
	return r.CurrentStatus
}

func (r *shipmentWebhookRequest) estimatedDelivery() string {
	if r.EstimatedDeliveryDate != "" {
		return r.EstimatedDeliveryDate
	}
	return r.ETD
}

// shipmentWebhook receives shipping partner status updates. When a webhook
// secret is configured the raw body must carry a valid HMAC signature.
func (h *Handler) shipmentWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		writeError(w, http.StatusBadRequest, "read body")
		return
	}

	if len(h.shippingSecret) > 0 {
		if !verifyHMAC(h.shippingSecret, body, r.Header.Get("X-Shiprocket-Signature")) {
			writeError(w, http.StatusBadRequest, "invalid webhook signature")
			return
		}
	}

	var req shipmentWebhookRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if req.ShipmentID.String() == "" || req.status() == "" {
		writeError(w, http.StatusBadRequest, "shipment_id and status required")
		return
	}

	ev := recon.ShipmentEvent{
		ShipmentID: req.ShipmentID.String(),
		Status:     req.status(),
	}
	if raw := req.estimatedDelivery(); raw != "" {
		if eta, err := parseETA(raw); err == nil {
			ev.EstimatedDelivery = &eta
		}
	}

	if err := h.recon.ApplyShipmentEvent(r.Context(), ev); err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// parseETA accepts the partner's known timestamp formats.
func parseETA(s string) (time.Time, error) {
	layouts := []string{time.RFC3339, "2006-01-02 15:04:05", "2006-01-02"}
	var lastErr error
	for _, layout := range layouts {
		t, err := time.Parse(layout, s)
		if err == nil {
			return t, nil
		}
		lastErr = err
	}
	return time.Time{}, lastErr
}

// verifyHMAC checks a hex HMAC-SHA256 of the body in constant time.
func verifyHMAC(secret, body []byte, signature string) bool {
	mac := hmac.New(sha256.New, secret)
	mac.Write(body)
	expected := mac.Sum(nil)

	got, err := hex.DecodeString(signature)
	if err != nil {
		return false
	}
	return hmac.Equal(expected, got)
}
