package rabbit

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"quiz-engine/internal/domain"
)

// Exchange is the topic exchange session events are published to.
const Exchange = "session.events"

// Routing keys are session.{sessionID}.{event} with single-segment event names,
// so session.*.round_closed or session.# bind as expected.
const (
	EventRoundOpened      = "round_opened"
	EventRoundClosed      = "round_closed"
	EventSessionCompleted = "completed"
	EventSessionAborted   = "aborted"
)

// Channel is the subset of *amqp.Channel the publisher needs.
type Channel interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// Envelope is the message body published for every event.
type Envelope struct {
	Type      string          `json:"type"`
	SessionID string          `json:"sessionId"`
	SentAt    time.Time       `json:"sentAt"`
	Payload   json.RawMessage `json:"payload"`
}

// Publisher forwards session events to RabbitMQ. It is an engine notifier.
type Publisher struct {
	conn     *amqp.Connection
	exchange string
	now      func() time.Time

	mu sync.Mutex // amqp channels must not be shared between concurrent publishers
	ch Channel
}

// Dial connects to the broker and declares the topic exchange.
func Dial(url string) (*Publisher, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("dial rabbitmq: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}
	err = ch.ExchangeDeclare(
		Exchange,
		"topic",
		true,  // durable
		false, // auto-delete
		false, // internal
		false, // no-wait
		nil,
	)
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("declare exchange: %w", err)
	}
	p := NewPublisher(ch, Exchange)
	p.conn = conn
	return p, nil
}

func NewPublisher(ch Channel, exchange string) *Publisher {
	return &Publisher{ch: ch, exchange: exchange, now: time.Now}
}

func (p *Publisher) RoundOpened(ctx context.Context, ev domain.RoundOpened) error {
	return p.publish(ctx, ev.SessionID, EventRoundOpened, ev)
}

func (p *Publisher) RoundClosed(ctx context.Context, ev domain.RoundClosed) error {
	return p.publish(ctx, ev.SessionID, EventRoundClosed, ev)
}

func (p *Publisher) SessionCompleted(ctx context.Context, ev domain.SessionCompleted) error {
	return p.publish(ctx, ev.SessionID, EventSessionCompleted, ev)
}

func (p *Publisher) SessionAborted(ctx context.Context, ev domain.SessionAborted) error {
	return p.publish(ctx, ev.SessionID, EventSessionAborted, ev)
}

// Close closes the channel and, when dialed, the connection.
func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	err := p.ch.Close()
	if p.conn != nil {
		if cerr := p.conn.Close(); err == nil {
			err = cerr
		}
	}
	return err
}

// RoutingKey builds the routing key of an event for a session.
func RoutingKey(sessionID, event string) string {
	return "session." + sessionID + "." + event
}

func (p *Publisher) publish(ctx context.Context, sessionID, event string, payload any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", event, err)
	}
	body, err := json.Marshal(Envelope{Type: event, SessionID: sessionID, SentAt: p.now(), Payload: raw})
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	err = p.ch.PublishWithContext(ctx, p.exchange, RoutingKey(sessionID, event), false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    p.now(),
		Body:         body,
	})
	if err != nil {
		return fmt.Errorf("publish %s for session %s: %w", event, sessionID, err)
	}
	return nil
}
