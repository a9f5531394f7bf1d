package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
)

// Routing keys published on the order exchange.
const (
	OrderFulfilled     = "order.fulfilled"
	OrderNeedsReview   = "order.needs_review"
	OrderPaymentFailed = "order.payment_failed"
)

// OrderEvent is the message body consumed by the email pipeline.
type OrderEvent struct {
	OrderID     uint      `json:"order_id"`
	UserID      uint      `json:"user_id"`
	AttemptID   uint      `json:"payment_attempt_id,omitempty"`
	AmountMinor int64     `json:"amount_minor,omitempty"`
	Currency    string    `json:"currency,omitempty"`
	Note        string    `json:"note,omitempty"`
	OccurredAt  time.Time `json:"occurred_at"`
}

// Publisher delivers order events. Publishing happens after commit and its
// failure never undoes the business effect.
type Publisher interface {
	Publish(ctx context.Context, routingKey string, ev OrderEvent) error
	Close() error
}

// maxDialTimeout bounds connecting to the broker when the caller's context
// has no earlier deadline.
const maxDialTimeout = 5 * time.Second

// Nop is used when no broker is configured.
type Nop struct{}

func (Nop) Publish(context.Context, string, OrderEvent) error { return nil }
func (Nop) Close() error                                      { return nil }

// AMQPPublisher publishes JSON messages to a durable topic exchange.
type AMQPPublisher struct {
	url      string
	exchange string

	mu   sync.Mutex
	conn *amqp.Connection
	ch   *amqp.Channel
}

// NewAMQPPublisher connects and declares the exchange.
func NewAMQPPublisher(url, exchange string) (*AMQPPublisher, error) {
	p := &AMQPPublisher{url: url, exchange: exchange}
	if err := p.connect(context.Background()); err != nil {
		return nil, err
	}
	return p, nil
}

// New returns an AMQP publisher when url is set and Nop otherwise. A broker
// that is down at start is logged and replaced by Nop.
func New(url, exchange string) Publisher {
	if url == "" {
		return Nop{}
	}
	p, err := NewAMQPPublisher(url, exchange)
	if err != nil {
		log.Warnf("[Notify] RabbitMQ unavailable, order notifications disabled: %v", err)
		return Nop{}
	}
	log.Infof("[Notify] Publishing order events to exchange %s", exchange)
	return p
}

// dialTimeout is the smaller of maxDialTimeout and the time left on ctx.
func dialTimeout(ctx context.Context) time.Duration {
	timeout := maxDialTimeout
	if deadline, ok := ctx.Deadline(); ok {
		if left := time.Until(deadline); left < timeout {
			timeout = left
		}
	}
	return timeout
}

func (p *AMQPPublisher) connect(ctx context.Context) error {
	timeout := dialTimeout(ctx)
	if timeout <= 0 {
		return fmt.Errorf("dial amqp: %w", context.DeadlineExceeded)
	}
	conn, err := amqp.DialConfig(p.url, amqp.Config{
		Heartbeat: 10 * time.Second,
		Locale:    "en_US",
		Dial:      amqp.DefaultDial(timeout),
	})
	if err != nil {
		return fmt.Errorf("dial amqp: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return fmt.Errorf("open amqp channel: %w", err)
	}
	if err := ch.ExchangeDeclare(p.exchange, "topic", true, false, false, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return fmt.Errorf("declare exchange %s: %w", p.exchange, err)
	}
	if p.conn != nil {
		_ = p.conn.Close()
	}
	p.conn = conn
	p.ch = ch
	return nil
}

// Publish sends ev with routingKey. A closed connection or channel is
// reopened once, bounded by ctx.
func (p *AMQPPublisher) Publish(ctx context.Context, routingKey string, ev OrderEvent) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	msg := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    uuid.NewString(),
		Timestamp:    ev.OccurredAt,
		Type:         routingKey,
		Body:         body,
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.conn == nil || p.conn.IsClosed() || p.ch == nil || p.ch.IsClosed() {
		if err := p.connect(ctx); err != nil {
			return err
		}
	}
	return p.ch.PublishWithContext(ctx, p.exchange, routingKey, false, false, msg)
}

func (p *AMQPPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ch != nil {
		_ = p.ch.Close()
	}
	if p.conn != nil {
		return p.conn.Close()
	}
	return nil
}
