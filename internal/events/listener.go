package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/dcarapic/hotmeals-sub000/internal/metrics"
	"github.com/dcarapic/hotmeals-sub000/internal/models"
	amqp "github.com/rabbitmq/amqp091-go"
	log "github.com/sirupsen/logrus"
)

// ErrInvalidMessage is returned for messages that are not order updates
var ErrInvalidMessage = errors.New("invalid order update message")

// OrderUpdated is the push notification sent when an order changes
type OrderUpdated struct {
	Order models.PlacedOrder `json:"order"`
}

// UpdateHandler receives decoded order updates and reports whether the
// update was relevant.
type UpdateHandler func(order models.PlacedOrder) bool

// Decode parses an OrderUpdated message body
func Decode(body []byte) (OrderUpdated, error) {
	var msg OrderUpdated
	if err := json.Unmarshal(body, &msg); err != nil {
		return OrderUpdated{}, fmt.Errorf("%w: %v", ErrInvalidMessage, err)
	}
	if msg.Order.OrderID == "" {
		return OrderUpdated{}, fmt.Errorf("%w: missing order id", ErrInvalidMessage)
	}
	if !msg.Order.CurrentStatus.IsValid() {
		return OrderUpdated{}, fmt.Errorf("%w: unknown status %q", ErrInvalidMessage, msg.Order.CurrentStatus)
	}
	return msg, nil
}

// Dispatch decodes body and hands the update to handler
func Dispatch(body []byte, handler UpdateHandler) error {
	msg, err := Decode(body)
	if err != nil {
		metrics.OrderUpdatesReceived.WithLabelValues("invalid").Inc()
		return err
	}

	result := "ignored"
	if handler(msg.Order) {
		result = "applied"
	}
	metrics.OrderUpdatesReceived.WithLabelValues(result).Inc()

	log.WithFields(log.Fields{
		"order_id": msg.Order.OrderID,
		"status":   msg.Order.CurrentStatus,
		"result":   result,
	}).Debug("Order update received")
	return nil
}

// Listener consumes order updates from a RabbitMQ queue
type Listener struct {
	url         string
	queueName   string
	consumerTag string
	handler     UpdateHandler
}

// NewListener creates a listener for queueName on the broker at url
func NewListener(url, queueName, consumerTag string, handler UpdateHandler) *Listener {
	return &Listener{
		url:         url,
		queueName:   queueName,
		consumerTag: consumerTag,
		handler:     handler,
	}
}

// Run consumes messages until ctx is done or the channel closes
func (l *Listener) Run(ctx context.Context) error {
	conn, err := amqp.Dial(l.url)
	if err != nil {
		return fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}
	defer conn.Close()

	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("failed to open channel: %w", err)
	}
	defer ch.Close()

	if _, err := ch.QueueDeclare(
		l.queueName, // name
		true,        // durable
		false,       // delete when unused
		false,       // exclusive
		false,       // no-wait
		nil,         // arguments
	); err != nil {
		return fmt.Errorf("failed to declare queue: %w", err)
	}

	if err := ch.Qos(10, 0, false); err != nil {
		return fmt.Errorf("failed to set QoS: %w", err)
	}

	msgs, err := ch.Consume(
		l.queueName,   // queue
		l.consumerTag, // consumer
		false,         // auto-ack
		false,         // exclusive
		false,         // no-local
		false,         // no-wait
		nil,           // args
	)
	if err != nil {
		return fmt.Errorf("failed to register consumer: %w", err)
	}

	log.WithField("queue", l.queueName).Info("Listening for order updates")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case d, ok := <-msgs:
			if !ok {
				return errors.New("order update channel closed")
			}
			l.process(d)
		}
	}
}

func (l *Listener) process(d amqp.Delivery) {
	if err := Dispatch(d.Body, l.handler); err != nil {
		log.WithField("delivery_tag", d.DeliveryTag).Warn("Dropping order update: ", err)
		if nackErr := d.Nack(false, false); nackErr != nil {
			log.Error("Failed to nack order update: ", nackErr)
		}
		return
	}
	if err := d.Ack(false); err != nil {
		log.Error("Failed to ack order update: ", err)
	}
}
