package notifications

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"cuisine/internal/models"
	"cuisine/internal/observability"

	amqp "github.com/rabbitmq/amqp091-go"
)

// EventReminder is the websocket event type carrying a fired reminder.
const EventReminder = "reminder"

// ReminderDispatcher delivers a fired reminder to its user.
type ReminderDispatcher interface {
	Dispatch(ctx context.Context, payload models.ReminderPayload) error
}

// UserStreamDispatcher publishes reminders to the user's websocket stream.
type UserStreamDispatcher struct {
	notifier *Notifier
}

// NewUserStreamDispatcher returns a dispatcher writing through n.
func NewUserStreamDispatcher(n *Notifier) *UserStreamDispatcher {
	return &UserStreamDispatcher{notifier: n}
}

func (d *UserStreamDispatcher) Dispatch(ctx context.Context, payload models.ReminderPayload) error {
	return d.notifier.PublishUserEvent(ctx, payload.UserID, Event{Type: EventReminder, Payload: payload})
}

// amqpChannel is the part of *amqp.Channel the publisher needs.
type amqpChannel interface {
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// AMQPDispatcher publishes reminders to a topic exchange with routing key
// user.<id> for push gateways.
type AMQPDispatcher struct {
	mu       sync.Mutex
	conn     *amqp.Connection
	ch       amqpChannel
	exchange string
}

// DialAMQP connects to url and declares the durable topic exchange.
func DialAMQP(url, exchange string) (*AMQPDispatcher, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}
	d, err := newAMQPDispatcher(ch, exchange)
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	d.conn = conn
	return d, nil
}

func newAMQPDispatcher(ch amqpChannel, exchange string) (*AMQPDispatcher, error) {
	if err := ch.ExchangeDeclare(
		exchange,
		"topic",
		true,  // durable
		false, // auto-delete
		false, // internal
		false, // no-wait
		nil,
	); err != nil {
		_ = ch.Close()
		return nil, fmt.Errorf("failed to declare exchange: %w", err)
	}
	return &AMQPDispatcher{ch: ch, exchange: exchange}, nil
}

// RoutingKey returns the routing key for a user's reminders.
func RoutingKey(userID uint) string {
	return fmt.Sprintf("user.%d", userID)
}

func (d *AMQPDispatcher) Dispatch(ctx context.Context, payload models.ReminderPayload) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal reminder: %w", err)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.ch.PublishWithContext(ctx,
		d.exchange,
		RoutingKey(payload.UserID),
		false, // mandatory
		false, // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			Body:         body,
		},
	)
}

// Close releases the channel and connection.
func (d *AMQPDispatcher) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	err := d.ch.Close()
	if d.conn != nil {
		err = errors.Join(err, d.conn.Close())
	}
	return err
}

// NamedDispatcher labels a dispatcher for metrics. A non-nil Allow limits
// the target to the users it returns true for.
type NamedDispatcher struct {
	Name       string
	Dispatcher ReminderDispatcher
	Allow      func(userID uint) bool
}

// MultiDispatcher delivers through every configured channel. Delivery
// succeeds when at least one channel accepted the payload.
type MultiDispatcher struct {
	targets []NamedDispatcher
}

// NewMultiDispatcher returns a dispatcher over targets.
func NewMultiDispatcher(targets ...NamedDispatcher) *MultiDispatcher {
	return &MultiDispatcher{targets: targets}
}

func (m *MultiDispatcher) Dispatch(ctx context.Context, payload models.ReminderPayload) error {
	if len(m.targets) == 0 {
		return errors.New("no reminder dispatchers configured")
	}
	var (
		errs      []error
		delivered bool
	)
	for _, t := range m.targets {
		if t.Allow != nil && !t.Allow(payload.UserID) {
			observability.RemindersDispatched.WithLabelValues(t.Name, "skipped").Inc()
			continue
		}
		if err := t.Dispatcher.Dispatch(ctx, payload); err != nil {
			observability.RemindersDispatched.WithLabelValues(t.Name, "error").Inc()
			errs = append(errs, fmt.Errorf("%s: %w", t.Name, err))
			continue
		}
		observability.RemindersDispatched.WithLabelValues(t.Name, "ok").Inc()
		delivered = true
	}
	if delivered {
		return nil
	}
	return errors.Join(errs...)
}
