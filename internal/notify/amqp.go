package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// RoutingKeyPrefix prefixes the template name in the routing key of every job.
const RoutingKeyPrefix = "mail."

type publishChannel interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// Publisher sends mail jobs to a topic exchange.
type Publisher struct {
	mu       sync.Mutex
	conn     *amqp.Connection
	ch       publishChannel
	exchange string
	now      func() time.Time
}

// NewPublisher dials the broker and declares a durable topic exchange.
func NewPublisher(url, exchange string) (*Publisher, error) {
	if strings.TrimSpace(exchange) == "" {
		return nil, errors.New("notify: exchange is required")
	}
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("dial rabbitmq: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}
	if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("declare exchange: %w", err)
	}
	return &Publisher{conn: conn, ch: ch, exchange: exchange, now: time.Now}, nil
}

// Send publishes msg as a persistent JSON job routed by template name.
func (p *Publisher) Send(ctx context.Context, msg Message) error {
	if p == nil || p.ch == nil {
		return errors.New("notify: publisher is closed")
	}
	if msg.Template == "" || msg.To == "" {
		return errors.New("notify: template and recipient are required")
	}
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode mail job: %w", err)
	}

	// amqp channels are not safe for concurrent publishing
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ch.PublishWithContext(ctx, p.exchange, RoutingKeyPrefix+msg.Template, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    p.now(),
		Body:         body,
	})
}

// Close releases the channel and the connection.
func (p *Publisher) Close() error {
	if p == nil {
		return nil
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ch != nil {
		_ = p.ch.Close()
		p.ch = nil
	}
	if p.conn != nil {
		err := p.conn.Close()
		p.conn = nil
		return err
	}
	return nil
}
