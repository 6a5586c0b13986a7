package publisher

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
)

// AMQPOptions configures the AMQP publisher.
type AMQPOptions struct {
	URL      string
	Exchange string
}

// AMQPPublisher publishes to a durable topic exchange. MQTT style topics are
// mapped to routing keys by RoutingKey.
type AMQPPublisher struct {
	conn     *amqp.Connection
	exchange string

	mu sync.Mutex
	ch *amqp.Channel
}

// NewAMQPPublisher dials the broker and declares the exchange.
func NewAMQPPublisher(opts AMQPOptions) (*AMQPPublisher, error) {
	conn, err := amqp.Dial(opts.URL)
	if err != nil {
		return nil, fmt.Errorf("connecting to AMQP broker: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("opening AMQP channel: %w", err)
	}
	if err := ch.ExchangeDeclare(opts.Exchange, "topic", true, false, false, false, nil); err != nil {
		conn.Close()
		return nil, fmt.Errorf("declaring exchange %s: %w", opts.Exchange, err)
	}
	return &AMQPPublisher{conn: conn, exchange: opts.Exchange, ch: ch}, nil
}

// RoutingKey converts a slash separated topic into a dotted routing key.
func RoutingKey(topic string) string {
	return strings.ReplaceAll(strings.Trim(topic, "/"), "/", ".")
}

func (p *AMQPPublisher) Publish(ctx context.Context, topic string, payload []byte) error {
	ch, err := p.channel()
	if err != nil {
		return err
	}
	err = ch.PublishWithContext(ctx, p.exchange, RoutingKey(topic), false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    uuid.NewString(),
		Timestamp:    time.Now(),
		Body:         payload,
	})
	if err != nil {
		return fmt.Errorf("publishing %s: %w", topic, err)
	}
	return nil
}

// channel returns the open channel, reopening it after a channel error.
func (p *AMQPPublisher) channel() (*amqp.Channel, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ch != nil && !p.ch.IsClosed() {
		return p.ch, nil
	}
	ch, err := p.conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("reopening AMQP channel: %w", err)
	}
	p.ch = ch
	return ch, nil
}

func (p *AMQPPublisher) Close() error {
	p.mu.Lock()
	if p.ch != nil {
		_ = p.ch.Close()
	}
	p.mu.Unlock()
	return p.conn.Close()
}
