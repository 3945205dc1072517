package rabbitmq

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"rentlane/internal/common/events"
	"rentlane/internal/common/logging"
	"rentlane/internal/reservation/domain"
)

const exchangeKind = "topic"

// publisher is the subset of *amqp.Channel the dispatcher uses.
type publisher interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
}

// Dispatcher implements domain.NotificationDispatcher by publishing each
// notification as an events.Envelope to a topic exchange. The notification
// type is the routing key, so consumers bind per template ("reservation.*").
type Dispatcher struct {
	conn     *amqp.Connection
	channel  publisher
	exchange string
	now      func() time.Time
}

// Dial connects to the broker and declares the durable exchange.
func Dial(url, exchange string) (*Dispatcher, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("rabbitmq dial: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("rabbitmq channel: %w", err)
	}

	if err := ch.ExchangeDeclare(exchange, exchangeKind, true, false, false, false, nil); err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("rabbitmq exchange declare: %w", err)
	}

	return &Dispatcher{conn: conn, channel: ch, exchange: exchange, now: time.Now}, nil
}

// NewDispatcher wraps an existing channel. The caller owns its connection.
func NewDispatcher(ch publisher, exchange string) *Dispatcher {
	return &Dispatcher{channel: ch, exchange: exchange, now: time.Now}
}

// Send publishes a persistent message carrying the notification.
func (d *Dispatcher) Send(ctx context.Context, typ domain.NotificationType, payload domain.Notification) error {
	env, err := events.NewEnvelope(string(typ), payload.ReservationID, logging.CorrelationIDFromContext(ctx), d.now(), payload)
	if err != nil {
		return err
	}
	body, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}

	if err := d.channel.PublishWithContext(ctx, d.exchange, string(typ), false, false, amqp.Publishing{
		ContentType:   "application/json",
		DeliveryMode:  amqp.Persistent,
		MessageId:     env.EventID.String(),
		CorrelationId: env.CorrelationID.String(),
		Timestamp:     env.OccurredAt,
		Type:          string(typ),
		AppId:         events.Source,
		Body:          body,
	}); err != nil {
		return fmt.Errorf("publish %s: %w", typ, err)
	}

	logging.DebugContext(ctx, "notification published",
		"type", string(typ),
		"recipient", payload.Recipient.String(),
		"event_id", env.EventID.String(),
	)
	return nil
}

// Close closes the channel and connection opened by Dial.
func (d *Dispatcher) Close() {
	if ch, ok := d.channel.(*amqp.Channel); ok && d.conn != nil {
		ch.Close()
	}
	if d.conn != nil {
		d.conn.Close()
	}
}

var _ domain.NotificationDispatcher = (*Dispatcher)(nil)
