package outbox

import (
	"context"
	"fmt"
	"time"

	domoutbox "github.com/Zhima-Mochi/minishop-orders/internal/domain/outbox"
	"github.com/Zhima-Mochi/minishop-orders/internal/observability"
	amqp "github.com/rabbitmq/amqp091-go"
)

const ExchangeType = "topic"

// amqpChannel is the subset of *amqp.Channel used by RabbitPublisher.
type amqpChannel interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// RabbitPublisher publishes events to a topic exchange, routed by event name.
type RabbitPublisher struct {
	ch       amqpChannel
	exchange string
}

// DialRabbit connects to url, retrying while the broker starts, and declares
// a durable topic exchange.
func DialRabbit(url, exchange string, logger observability.Logger) (*amqp.Connection, *amqp.Channel, error) {
	if logger == nil {
		logger = observability.NopLogger()
	}

	var conn *amqp.Connection
	var err error
	for attempt := 1; attempt <= 5; attempt++ {
		conn, err = amqp.Dial(url)
		if err == nil {
			break
		}
		logger.Warn("rabbitmq_dial_failed",
			observability.F("attempt", attempt),
			observability.F("error", err.Error()),
		)
		time.Sleep(2 * time.Second)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("outbox: connect rabbitmq: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, nil, fmt.Errorf("outbox: open channel: %w", err)
	}

	if err := ch.ExchangeDeclare(
		exchange,     // name
		ExchangeType, // type
		true,         // durable
		false,        // auto-deleted
		false,        // internal
		false,        // no-wait
		nil,          // arguments
	); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, nil, fmt.Errorf("outbox: declare exchange %s: %w", exchange, err)
	}

	return conn, ch, nil
}

func NewRabbitPublisher(ch amqpChannel, exchange string) *RabbitPublisher {
	return &RabbitPublisher{ch: ch, exchange: exchange}
}

func (p *RabbitPublisher) Publish(ctx context.Context, e domoutbox.Event) error {
	if e == nil {
		return nil
	}
	body, err := encode(e)
	if err != nil {
		return err
	}

	table := amqp.Table{}
	for k, v := range headers(ctx, e) {
		table[k] = v
	}

	err = p.ch.PublishWithContext(ctx,
		p.exchange,    // exchange
		e.EventName(), // routing key
		false,         // mandatory
		false,         // immediate
		amqp.Publishing{
			ContentType:  contentTypeJSON,
			DeliveryMode: amqp.Persistent,
			MessageId:    eventKey(e),
			Type:         e.EventName(),
			Timestamp:    time.Now().UTC(),
			Headers:      table,
			Body:         body,
		},
	)
	if err != nil {
		return fmt.Errorf("outbox: rabbitmq publish %s: %w", e.EventName(), err)
	}
	return nil
}

func (p *RabbitPublisher) Close() error {
	return p.ch.Close()
}
