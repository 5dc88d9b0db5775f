// Package events publishes domain events to Kafka so downstream consumers
// (notifications, analytics) can follow order progress. Publishing is
// best-effort: the order flow never fails because a broker is down.
package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
)

// Topics, one per lifecycle step. Partition key is always the order id so all
// events of one order keep their relative order.
const (
	TopicOrderCreated    = "order.created"
	TopicPaymentCaptured = "order.payment.captured"
	TopicPaymentFailed   = "order.payment.failed"
	TopicDeliveryUpdated = "order.delivery.updated"
	TopicOrderFinalized  = "order.finalized"
)

// Envelope wraps every published event.
type Envelope struct {
	EventID       string          `json:"event_id"`
	EventType     string          `json:"event_type"`
	OccurredAt    time.Time       `json:"occurred_at"`
	Producer      string          `json:"producer"`
	CorrelationID string          `json:"correlation_id"`
	Payload       json.RawMessage `json:"payload"`
}

// Event payloads.

type OrderCreated struct {
	OrderID       string `json:"order_id"`
	BuyerID       string `json:"buyer_id"`
	PaymentMethod string `json:"payment_method"`
	TotalAmount   string `json:"total_amount"`
	SubOrders     int    `json:"sub_orders"`
}

type PaymentSettled struct {
	OrderID           string `json:"order_id"`
	ExternalPaymentID string `json:"external_payment_id,omitempty"`
	Outcome           string `json:"outcome"`
}

type DeliveryUpdated struct {
	OrderID    string `json:"order_id"`
	SubOrderID string `json:"sub_order_id"`
	ShipmentID string `json:"shipment_id"`
	Status     string `json:"status"`
}

type OrderFinalized struct {
	OrderID     string `json:"order_id"`
	FinalStatus string `json:"final_status"`
}

// Publisher is the outbound event port. A nil Publisher disables publishing.
type Publisher interface {
	Publish(ctx context.Context, topic, orderID string, payload any) error
}

// KafkaPublisher implements Publisher on a shared kafka-go writer.
type KafkaPublisher struct {
	w        *kafka.Writer
	producer string
}

// NewKafkaPublisher creates a publisher for the given brokers. The producer
// name is stamped into every envelope.
func NewKafkaPublisher(brokers []string, producer string) *KafkaPublisher {
	return &KafkaPublisher{
		w: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireOne,
			BatchTimeout: 10 * time.Millisecond,
		},
		producer: producer,
	}
}

// Publish wraps the payload in an Envelope and writes it to the topic, keyed
// by order id.
func (p *KafkaPublisher) Publish(ctx context.Context, topic, orderID string, payload any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return errors.Wrap(err, "marshal payload")
	}

	env := Envelope{
		EventID:       uuid.New().String(),
		EventType:     topic,
		OccurredAt:    time.Now().UTC(),
		Producer:      p.producer,
		CorrelationID: orderID,
		Payload:       raw,
	}
	value, err := json.Marshal(env)
	if err != nil {
		return errors.Wrap(err, "marshal envelope")
	}

	err = p.w.WriteMessages(ctx, kafka.Message{
		Topic: topic,
		Key:   []byte(orderID),
		Value: value,
	})
	if err != nil {
		return errors.Wrap(err, "write message")
	}
	return nil
}

// Close flushes and closes the underlying writer.
func (p *KafkaPublisher) Close() error {
	return p.w.Close()
}
