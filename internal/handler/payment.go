package handler

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/go-faster/sdk/zctx"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// maxWebhookBody bounds webhook payload reads.
const maxWebhookBody = 1 << 20

type verifyPaymentRequest struct {
	OrderID           string `json:"orderId"`
	RazorpayOrderID   string `json:"razorpayOrderId"`
	RazorpayPaymentID string `json:"razorpayPaymentId"`
	RazorpaySignature string `json:"razorpaySignature"`
}

// verifyPayment is the synchronous verification callback the buyer's client
// posts after completing gateway checkout.
func (h *Handler) verifyPayment(w http.ResponseWriter, r *http.Request) {
	var req verifyPaymentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if req.OrderID == "" || req.RazorpayOrderID == "" || req.RazorpayPaymentID == "" {
		writeError(w, http.StatusBadRequest, "orderId, razorpayOrderId and razorpayPaymentId required")
		return
	}

	err := h.recon.VerifyPayment(r.Context(),
		req.OrderID, req.RazorpayOrderID, req.RazorpayPaymentID, req.RazorpaySignature)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "COMPLETED"})
}

// paymentWebhook receives asynchronous gateway events. The raw body is
// HMAC-verified before parsing. The gateway expects 200 for anything it
// should not retry, so unknown events still succeed.
func (h *Handler) paymentWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		writeError(w, http.StatusBadRequest, "read body")
		return
	}

	ev, err := h.gateway.ParseWebhook(body, r.Header.Get("X-Razorpay-Signature"))
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}

	eventID := r.Header.Get("X-Razorpay-Event-Id")
	if eventID == "" {
		eventID = uuid.New().String()
	}

	if err := h.recon.ApplyPaymentEvent(r.Context(), eventID, ev); err != nil {
		zctx.From(r.Context()).Error("apply gateway event",
			zap.String("event_id", eventID),
			zap.Error(err),
		)
		// 500 tells the gateway to redeliver; the state machine is
		// idempotent under retries.
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
