// Package recon applies external payment and shipping events to persisted
// order state. All transitions are idempotent and monotonic: webhooks arrive
// concurrently, duplicated, and out of order, and both the synchronous verify
// path and the asynchronous webhook path must converge to the same state.
package recon

import (
	"context"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/velstore/marketplace-core/internal/domain/catalog"
	"github.com/velstore/marketplace-core/internal/domain/delivery"
	"github.com/velstore/marketplace-core/internal/domain/order"
	"github.com/velstore/marketplace-core/internal/domain/payment"
	"github.com/velstore/marketplace-core/internal/events"
)

// ErrUnknownStatus is returned for partner status values outside the known
// vocabulary. The webhook is rejected without any mutation.
var ErrUnknownStatus = errors.New("unknown partner delivery status")

// ShipmentEvent is a parsed shipping-partner webhook.
type ShipmentEvent struct {
	ShipmentID        string
	Status            string
	EstimatedDelivery *time.Time
}

// Store is the persistence surface the state machine drives. Every mutation
// is a plain idempotent set; aggregation re-reads current storage state.
type Store interface {
	OrderByID(ctx context.Context, id string) (*order.Order, error)
	OrderByExternalPaymentOrderID(ctx context.Context, externalOrderID string) (*order.Order, error)
	// SettlePayment records the payment outcome on the order and marks every
	// sub-order's payment status accordingly.
	SettlePayment(ctx context.Context, orderID, externalPaymentID string, status order.Status) error

	DeliveryByShipmentID(ctx context.Context, shipmentID string) (*delivery.Delivery, error)
	SetDeliveryStatus(ctx context.Context, deliveryID string, st order.DeliveryStatus, eta *time.Time) error
	SetSubOrderDeliveryStatus(ctx context.Context, subOrderID string, st order.DeliveryStatus) error
	CompleteSubOrderPayment(ctx context.Context, subOrderID string) error
	SubOrderParent(ctx context.Context, subOrderID string) (orderID string, method order.PaymentMethod, err error)
	// CountUndeliveredSubOrders re-evaluates sibling state from storage, not
	// from anything cached, so concurrent sibling webhooks stay correct.
	CountUndeliveredSubOrders(ctx context.Context, orderID string) (int, error)
	SetOrderDeliveryStatus(ctx context.Context, orderID string, st order.DeliveryStatus) error
}

// Service is the reconciliation state machine.
type Service struct {
	store   Store
	catalog catalog.Repository
	signer  *payment.Signer
	events  events.Publisher
	dedup   *Deduper
}

// NewService creates the reconciliation Service. Publisher and deduper may be
// nil.
func NewService(
	store Store,
	catalogRepo catalog.Repository,
	signer *payment.Signer,
	publisher events.Publisher,
	dedup *Deduper,
) *Service {
	return &Service{
		store:   store,
		catalog: catalogRepo,
		signer:  signer,
		events:  publisher,
		dedup:   dedup,
	}
}

// VerifyPayment is the synchronous payment verification path. It checks the
// per-payment HMAC signature and settles the order either way: a valid
// signature completes it, an invalid one cancels it and reports
// ErrSignatureMismatch.
func (s *Service) VerifyPayment(ctx context.Context, orderID, externalOrderID, externalPaymentID, signature string) error {
	o, err := s.store.OrderByID(ctx, orderID)
	if err != nil {
		return err
	}

	// A valid signature only proves the gateway signed this id pair. The
	// pair must also be the one this order was created with, otherwise a
	// captured payment could settle an unrelated pending order.
	if o.ExternalPaymentOrderID != externalOrderID ||
		!s.signer.Verify(externalOrderID, externalPaymentID, signature) {
		if err := s.settle(ctx, o, order.StatusCancelled, ""); err != nil {
			return err
		}
		return payment.ErrSignatureMismatch
	}
	return s.settle(ctx, o, order.StatusCompleted, externalPaymentID)
}

// ApplyPaymentEvent applies a gateway webhook event. Unknown events and
// events for unknown orders are logged and ignored; gateway retries must
// always receive a definitive success.
func (s *Service) ApplyPaymentEvent(ctx context.Context, eventID string, ev payment.Event) error {
	lg := zctx.From(ctx)

	var target order.Status
	switch ev.Kind {
	case payment.EventPaymentCaptured, payment.EventOrderPaid:
		target = order.StatusCompleted
	case payment.EventPaymentFailed:
		target = order.StatusFailed
	default:
		lg.Info("unhandled gateway event", zap.String("event", ev.RawKind))
		return nil
	}

	o, err := s.store.OrderByExternalPaymentOrderID(ctx, ev.ExternalOrderID)
	if err != nil {
		if errors.Is(err, order.ErrNotFound) {
			lg.Warn("gateway event for unknown order",
				zap.String("external_order_id", ev.ExternalOrderID))
			return nil
		}
		return err
	}

	first := s.firstDelivery(ctx, "payment", eventID)
	if !first && o.Status == target {
		// Retried delivery of an already-applied event.
		return nil
	}
	return s.settle(ctx, o, target, ev.ExternalPaymentID)
}

// settle is the single idempotent payment transition shared by the verify
// and webhook paths.
func (s *Service) settle(ctx context.Context, o *order.Order, target order.Status, externalPaymentID string) error {
	if o.Status == target {
		return nil
	}
	if !order.CanTransition(o.Status, target) {
		zctx.From(ctx).Warn("ignoring payment transition",
			zap.String("order_id", o.ID),
			zap.String("from", string(o.Status)),
			zap.String("to", string(target)),
		)
		return nil
	}

	if err := s.store.SettlePayment(ctx, o.ID, externalPaymentID, target); err != nil {
		return errors.Wrap(err, "settle payment")
	}

	switch target {
	case order.StatusCompleted:
		s.publish(ctx, events.TopicPaymentCaptured, o.ID, events.PaymentSettled{
			OrderID:           o.ID,
			ExternalPaymentID: externalPaymentID,
			Outcome:           string(target),
		})
	case order.StatusFailed, order.StatusCancelled:
		// A failed or cancelled payment releases the stock reserved at
		// checkout time.
		s.restock(ctx, o)
		s.publish(ctx, events.TopicPaymentFailed, o.ID, events.PaymentSettled{
			OrderID: o.ID,
			Outcome: string(target),
		})
	}
	return nil
}

// partnerStatus maps the partner's status vocabulary onto the internal
// delivery states. Keys are normalized to upper snake case.
var partnerStatus = map[string]order.DeliveryStatus{
	"PENDING":          order.DeliveryPending,
	"PICKUP_SCHEDULED": order.DeliveryPending,
	"PICKED_UP":        order.DeliveryShipped,
	"SHIPPED":          order.DeliveryShipped,
	"IN_TRANSIT":       order.DeliveryShipped,
	"OUT_FOR_DELIVERY": order.DeliveryOutForDelivery,
	"DELIVERED":        order.DeliveryDelivered,
}

// MapPartnerStatus translates a raw partner status. The second result is
// false for statuses outside the known vocabulary.
func MapPartnerStatus(raw string) (order.DeliveryStatus, bool) {
	key := strings.ToUpper(strings.TrimSpace(raw))
	key = strings.ReplaceAll(key, " ", "_")
	st, ok := partnerStatus[key]
	return st, ok
}

// ApplyShipmentEvent applies a shipping-partner webhook: update the Delivery
// and its SubOrder, and when a sub-order reaches DELIVERED, re-check all
// siblings from storage and promote the parent Order once every sub-order is
// delivered. Applying the same event twice produces the same end state.
func (s *Service) ApplyShipmentEvent(ctx context.Context, ev ShipmentEvent) error {
	st, ok := MapPartnerStatus(ev.Status)
	if !ok {
		return errors.Wrapf(ErrUnknownStatus, "status %q", ev.Status)
	}

	d, err := s.store.DeliveryByShipmentID(ctx, ev.ShipmentID)
	if err != nil {
		return err
	}

	if !order.CanAdvanceDelivery(d.Status, st) {
		// Late or out-of-order event; current state is already further along.
		return nil
	}

	if err := s.store.SetDeliveryStatus(ctx, d.ID, st, ev.EstimatedDelivery); err != nil {
		return errors.Wrap(err, "update delivery")
	}
	if err := s.store.SetSubOrderDeliveryStatus(ctx, d.SubOrderID, st); err != nil {
		return errors.Wrap(err, "update sub-order")
	}

	orderID, method, err := s.store.SubOrderParent(ctx, d.SubOrderID)
	if err != nil {
		return errors.Wrap(err, "load parent order")
	}

	if s.firstDelivery(ctx, "shipping", ev.ShipmentID+":"+string(st)) {
		s.publish(ctx, events.TopicDeliveryUpdated, orderID, events.DeliveryUpdated{
			OrderID:    orderID,
			SubOrderID: d.SubOrderID,
			ShipmentID: ev.ShipmentID,
			Status:     string(st),
		})
	}

	if st != order.DeliveryDelivered {
		return nil
	}

	// COD settles on delivery.
	if method == order.PaymentCOD {
		if err := s.store.CompleteSubOrderPayment(ctx, d.SubOrderID); err != nil {
			return errors.Wrap(err, "complete COD payment")
		}
	}

	undelivered, err := s.store.CountUndeliveredSubOrders(ctx, orderID)
	if err != nil {
		return errors.Wrap(err, "count undelivered sub-orders")
	}
	if undelivered > 0 {
		return nil
	}

	if err := s.store.SetOrderDeliveryStatus(ctx, orderID, order.DeliveryDelivered); err != nil {
		return errors.Wrap(err, "promote order delivery status")
	}
	s.publish(ctx, events.TopicOrderFinalized, orderID, events.OrderFinalized{
		OrderID:     orderID,
		FinalStatus: string(order.DeliveryDelivered),
	})
	return nil
}

// restock releases every reserved item of the order, best-effort.
func (s *Service) restock(ctx context.Context, o *order.Order) {
	lg := zctx.From(ctx)
	full, err := s.store.OrderByID(ctx, o.ID)
	if err != nil {
		lg.Error("load order for restock", zap.String("order_id", o.ID), zap.Error(err))
		return
	}
	for _, sub := range full.SubOrders {
		for _, item := range sub.Items {
			if err := s.catalog.Restock(ctx, item.CatalogUnitID, item.Quantity); err != nil {
				lg.Error("restock failed",
					zap.String("order_id", o.ID),
					zap.String("unit_id", item.CatalogUnitID),
					zap.Error(err),
				)
			}
		}
	}
}

// firstDelivery reports whether this webhook delivery has not been seen
// before. Used only to suppress duplicate event publication; state
// transitions are idempotent regardless.
func (s *Service) firstDelivery(ctx context.Context, source, id string) bool {
	if s.dedup == nil {
		return true
	}
	return s.dedup.FirstDelivery(ctx, source, id)
}

func (s *Service) publish(ctx context.Context, topic, orderID string, payload any) {
	if s.events == nil {
		return
	}
	if err := s.events.Publish(ctx, topic, orderID, payload); err != nil {
		zctx.From(ctx).Warn("publish event failed",
			zap.String("topic", topic),
			zap.String("order_id", orderID),
			zap.Error(err),
		)
	}
}
