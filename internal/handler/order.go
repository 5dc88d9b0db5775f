package handler

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/velstore/marketplace-core/internal/domain/order"
)

type checkoutRequest struct {
	BuyerID       string           `json:"buyerId"`
	AddressID     string           `json:"addressId"`
	PaymentMethod string           `json:"paymentMethod"`
	Items         []order.CartLine `json:"items"`
}

type subOrderResponse struct {
	ID             string              `json:"id"`
	SellerID       string              `json:"sellerId"`
	TotalAmount    string              `json:"totalAmount"`
	PaymentStatus  string              `json:"paymentStatus"`
	DeliveryStatus string              `json:"deliveryStatus"`
	Items          []orderItemResponse `json:"items"`
}

type orderItemResponse struct {
	CatalogUnitID string `json:"catalogUnitId"`
	Quantity      int    `json:"quantity"`
	Price         string `json:"price"`
}

type orderResponse struct {
	ID                     string             `json:"id"`
	BuyerID                string             `json:"buyerId"`
	PaymentMethod          string             `json:"paymentMethod"`
	Status                 string             `json:"status"`
	DeliveryStatus         string             `json:"deliveryStatus"`
	TotalAmount            string             `json:"totalAmount"`
	ExternalPaymentOrderID string             `json:"externalPaymentOrderId,omitempty"`
	SubOrders              []subOrderResponse `json:"subOrders"`
}

func toOrderResponse(o *order.Order) orderResponse {
	resp := orderResponse{
		ID:                     o.ID,
		BuyerID:                o.BuyerID,
		PaymentMethod:          string(o.PaymentMethod),
		Status:                 string(o.Status),
		DeliveryStatus:         string(o.DeliveryStatus),
		TotalAmount:            o.TotalAmount.StringFixed(2),
		ExternalPaymentOrderID: o.ExternalPaymentOrderID,
	}
	for _, sub := range o.SubOrders {
		resp.SubOrders = append(resp.SubOrders, toSubOrderResponse(sub))
	}
	return resp
}

func toSubOrderResponse(sub order.SubOrder) subOrderResponse {
	s := subOrderResponse{
		ID:             sub.ID,
		SellerID:       sub.SellerID,
		TotalAmount:    sub.TotalAmount.StringFixed(2),
		PaymentStatus:  string(sub.PaymentStatus),
		DeliveryStatus: string(sub.DeliveryStatus),
	}
	for _, it := range sub.Items {
		s.Items = append(s.Items, orderItemResponse{
			CatalogUnitID: it.CatalogUnitID,
			Quantity:      it.Quantity,
			Price:         it.Price.StringFixed(2),
		})
	}
	return s
}

func (h *Handler) checkout(w http.ResponseWriter, r *http.Request) {
	var req checkoutRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}

	o, err := h.orders.Checkout(r.Context(), order.CheckoutRequest{
		BuyerID:           req.BuyerID,
		ShippingAddressID: req.AddressID,
		PaymentMethod:     order.PaymentMethod(req.PaymentMethod),
		Lines:             req.Items,
	})
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toOrderResponse(o))
}

func (h *Handler) cancelOrder(w http.ResponseWriter, r *http.Request) {
	buyerID := r.Header.Get("X-Buyer-ID")
	if buyerID == "" {
		writeError(w, http.StatusBadRequest, "X-Buyer-ID header required")
		return
	}

	if err := h.orders.CancelUnpaid(r.Context(), chi.URLParam(r, "id"), buyerID); err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type sellerSubOrderResponse struct {
	subOrderResponse
	OrderID       string    `json:"orderId"`
	OrderStatus   string    `json:"orderStatus"`
	PaymentMethod string    `json:"paymentMethod"`
	BuyerID       string    `json:"buyerId"`
	CreatedAt     time.Time `json:"createdAt"`
}

func toSellerSubOrderResponse(s order.SellerSubOrder) sellerSubOrderResponse {
	return sellerSubOrderResponse{
		subOrderResponse: toSubOrderResponse(s.SubOrder),
		OrderID:          s.OrderID,
		OrderStatus:      string(s.OrderStatus),
		PaymentMethod:    string(s.PaymentMethod),
		BuyerID:          s.BuyerID,
		CreatedAt:        s.CreatedAt,
	}
}

func (h *Handler) listSubOrders(w http.ResponseWriter, r *http.Request) {
	id := sellerID(r)
	if id == "" {
		writeError(w, http.StatusBadRequest, "X-Seller-ID header required")
		return
	}

	subs, err := h.sellerReads.ListSellerSubOrders(r.Context(), id)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}

	out := make([]sellerSubOrderResponse, 0, len(subs))
	for _, s := range subs {
		out = append(out, toSellerSubOrderResponse(s))
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) getSubOrder(w http.ResponseWriter, r *http.Request) {
	id := sellerID(r)
	if id == "" {
		writeError(w, http.StatusBadRequest, "X-Seller-ID header required")
		return
	}

	sub, err := h.sellerReads.GetSellerSubOrder(r.Context(), id, chi.URLParam(r, "id"))
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toSellerSubOrderResponse(*sub))
}
