//go:build integration

package integration

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/velstore/marketplace-core/internal/domain/delivery"
	"github.com/velstore/marketplace-core/internal/domain/order"
	"github.com/velstore/marketplace-core/internal/storage/postgres"
)

func newReconStore() *postgres.ReconStore {
	return postgres.NewReconStore(pool,
		postgres.NewOrderRepository(pool),
		postgres.NewDeliveryRepository(pool),
	)
}

func TestSettlePayment_Idempotent(t *testing.T) {
	sellerID := seedSeller(t, "settle")
	unitID := seedUnit(t, sellerID, "100.00", "0", 10)
	seeded := seedOrder(t, "buyer-10", order.PaymentOnline, map[string]string{sellerID: unitID})

	ctx := context.Background()
	store := newReconStore()

	if err := store.SettlePayment(ctx, seeded.ID, "pay_1", order.StatusCompleted); err != nil {
		t.Fatalf("settle: %v", err)
	}
	// Second delivery of the same event carries no payment id; the stored
	// one must survive.
	if err := store.SettlePayment(ctx, seeded.ID, "", order.StatusCompleted); err != nil {
		t.Fatalf("settle again: %v", err)
	}

	got, err := store.OrderByID(ctx, seeded.ID)
	if err != nil {
		t.Fatalf("get order: %v", err)
	}
	if got.Status != order.StatusCompleted {
		t.Fatalf("status = %s, want COMPLETED", got.Status)
	}
	if got.ExternalPaymentID != "pay_1" {
		t.Fatalf("external payment id = %q, want pay_1", got.ExternalPaymentID)
	}
	for _, sub := range got.SubOrders {
		if sub.PaymentStatus != order.PaymentStatusCompleted {
			t.Fatalf("sub-order %s payment status = %s, want COMPLETED", sub.ID, sub.PaymentStatus)
		}
	}
}

func TestOrderByExternalPaymentOrderID(t *testing.T) {
	sellerID := seedSeller(t, "extlookup")
	unitID := seedUnit(t, sellerID, "100.00", "0", 10)
	seeded := seedOrder(t, "buyer-11", order.PaymentOnline, map[string]string{sellerID: unitID})

	ctx := context.Background()
	store := newReconStore()

	got, err := store.OrderByExternalPaymentOrderID(ctx, seeded.ExternalPaymentOrderID)
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if got.ID != seeded.ID {
		t.Fatalf("order = %s, want %s", got.ID, seeded.ID)
	}

	if _, err := store.OrderByExternalPaymentOrderID(ctx, "rzp_nope"); !errors.Is(err, order.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestDeliveryProgress(t *testing.T) {
	sellerID := seedSeller(t, "progress")
	unitA := seedUnit(t, sellerID, "100.00", "0", 10)
	seeded := seedOrder(t, "buyer-12", order.PaymentCOD, map[string]string{sellerID: unitA})
	sub := seeded.SubOrders[0]

	ctx := context.Background()
	store := newReconStore()
	deliveries := postgres.NewDeliveryRepository(pool)

	d := &delivery.Delivery{
		ID:                 uuid.New().String(),
		SubOrderID:         sub.ID,
		SellerID:           sellerID,
		ExternalShipmentID: "ship-" + sub.ID[:8],
		ExternalOrderID:    "7001",
		Status:             order.DeliveryShipped,
		PacketDimensions:   delivery.PacketDimensions{Length: 30, Breadth: 20, Height: 10, Weight: 0.8},
	}
	if err := deliveries.Create(ctx, d); err != nil {
		t.Fatalf("create delivery: %v", err)
	}

	// A second shipment for the same sub-order violates the uniqueness rule.
	dup := *d
	dup.ID = uuid.New().String()
	dup.ExternalShipmentID = "ship-dup"
	if err := deliveries.Create(ctx, &dup); !errors.Is(err, delivery.ErrAlreadyExists) {
		t.Fatalf("expected ErrAlreadyExists, got %v", err)
	}

	loaded, err := store.DeliveryByShipmentID(ctx, d.ExternalShipmentID)
	if err != nil {
		t.Fatalf("lookup by shipment id: %v", err)
	}
	if loaded.ID != d.ID || loaded.PacketDimensions != d.PacketDimensions {
		t.Fatalf("wrong delivery: %+v", loaded)
	}

	eta := time.Now().Add(48 * time.Hour).UTC().Truncate(time.Second)
	if err := store.SetDeliveryStatus(ctx, d.ID, order.DeliveryDelivered, &eta); err != nil {
		t.Fatalf("set delivery status: %v", err)
	}
	if err := store.SetSubOrderDeliveryStatus(ctx, sub.ID, order.DeliveryDelivered); err != nil {
		t.Fatalf("set sub-order status: %v", err)
	}
	if err := store.CompleteSubOrderPayment(ctx, sub.ID); err != nil {
		t.Fatalf("complete COD payment: %v", err)
	}

	orderID, method, err := store.SubOrderParent(ctx, sub.ID)
	if err != nil {
		t.Fatalf("parent: %v", err)
	}
	if orderID != seeded.ID || method != order.PaymentCOD {
		t.Fatalf("parent = %s/%s, want %s/COD", orderID, method, seeded.ID)
	}

	undelivered, err := store.CountUndeliveredSubOrders(ctx, seeded.ID)
	if err != nil {
		t.Fatalf("count undelivered: %v", err)
	}
	if undelivered != 0 {
		t.Fatalf("undelivered = %d, want 0", undelivered)
	}

	if err := store.SetOrderDeliveryStatus(ctx, seeded.ID, order.DeliveryDelivered); err != nil {
		t.Fatalf("promote order: %v", err)
	}
	got, err := store.OrderByID(ctx, seeded.ID)
	if err != nil {
		t.Fatalf("get order: %v", err)
	}
	if got.DeliveryStatus != order.DeliveryDelivered {
		t.Fatalf("order delivery status = %s, want DELIVERED", got.DeliveryStatus)
	}
	if got.SubOrders[0].PaymentStatus != order.PaymentStatusCompleted {
		t.Fatalf("COD sub-order payment status = %s, want COMPLETED", got.SubOrders[0].PaymentStatus)
	}

	loaded, err = store.DeliveryByShipmentID(ctx, d.ExternalShipmentID)
	if err != nil {
		t.Fatalf("reload delivery: %v", err)
	}
	if loaded.EstimatedDelivery == nil || !loaded.EstimatedDelivery.Equal(eta) {
		t.Fatalf("eta = %v, want %v", loaded.EstimatedDelivery, eta)
	}
}

func TestShipmentInfo(t *testing.T) {
	sellerID := seedSeller(t, "shipinfo")
	unitID := seedUnit(t, sellerID, "120.00", "10", 10)
	seeded := seedOrder(t, "buyer-13", order.PaymentCOD, map[string]string{sellerID: unitID})
	sub := seeded.SubOrders[0]

	deliveries := postgres.NewDeliveryRepository(pool)
	info, err := deliveries.ShipmentInfo(context.Background(), sub.ID)
	if err != nil {
		t.Fatalf("shipment info: %v", err)
	}
	if info.SubOrderID != sub.ID || info.OrderID != seeded.ID || info.SellerID != sellerID {
		t.Fatalf("wrong identifiers: %+v", info)
	}
	if info.PaymentMethod != order.PaymentCOD {
		t.Fatalf("payment method = %s, want COD", info.PaymentMethod)
	}
	if info.AddressCity != "Bengaluru" || info.AddressPincode != "560001" {
		t.Fatalf("wrong address: %+v", info)
	}
	if len(info.Items) != 1 || info.Items[0].Units != 2 {
		t.Fatalf("wrong items: %+v", info.Items)
	}
	if got := info.Items[0].SellingPrice.StringFixed(2); got != "108.00" {
		t.Fatalf("selling price = %s, want 108.00", got)
	}
}

func TestGetSeller(t *testing.T) {
	sellerID := seedSeller(t, "creds")

	deliveries := postgres.NewDeliveryRepository(pool)
	s, err := deliveries.GetSeller(context.Background(), sellerID)
	if err != nil {
		t.Fatalf("get seller: %v", err)
	}
	if s.Credentials.Email != "creds@partner.test" || s.Credentials.Password != "secret" {
		t.Fatalf("wrong credentials: %+v", s.Credentials)
	}
	if s.PickupLocation != "creds Warehouse" {
		t.Fatalf("pickup location = %q", s.PickupLocation)
	}
}

func TestEventLedger_MarkSeen(t *testing.T) {
	ledger := postgres.NewEventLedger(pool)
	ctx := context.Background()
	id := uuid.New().String()

	first, err := ledger.MarkSeen(ctx, "payment", id)
	if err != nil {
		t.Fatalf("mark seen: %v", err)
	}
	if !first {
		t.Fatal("first delivery reported as duplicate")
	}

	again, err := ledger.MarkSeen(ctx, "payment", id)
	if err != nil {
		t.Fatalf("mark seen again: %v", err)
	}
	if again {
		t.Fatal("duplicate delivery reported as first")
	}

	// Same id under another source is a distinct event.
	other, err := ledger.MarkSeen(ctx, "shipping", id)
	if err != nil {
		t.Fatalf("mark seen other source: %v", err)
	}
	if !other {
		t.Fatal("cross-source delivery reported as duplicate")
	}
}
