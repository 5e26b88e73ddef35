package rabbitmq

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/goccy/go-json"
	amqp "github.com/rabbitmq/amqp091-go"
	gobreaker "github.com/sony/gobreaker/v2"

	"chat-realtime/internal/fanout"
	"chat-realtime/internal/logging"
	"chat-realtime/internal/models"
	"chat-realtime/internal/observability"
)

// ErrConsumerClosed is returned when the broker closes the delivery stream.
var ErrConsumerClosed = errors.New("rabbitmq delivery channel closed")

// Broker is a fanout.Broker that can be shut down.
type Broker interface {
	fanout.Broker
	Close() error
}

// BreakerConfig tunes the publish circuit breaker.
type BreakerConfig struct {
	FailureThreshold uint32
	Timeout          time.Duration
}

// NewBroker connects the cross-instance event bridge or falls back to a noop broker.
func NewBroker(amqpURL, exchange string, cfg BreakerConfig) Broker {
	if amqpURL == "" {
		logging.Warn().Str("reason", "empty amqp url").Msg("event broker disabled, using noop")
		return noopBroker{reason: "empty amqp url"}
	}

	conn, ch, err := dialExchange(amqpURL, exchange)
	if err != nil {
		logging.Warn().Err(err).Msg("event broker disabled, using noop")
		return noopBroker{reason: err.Error()}
	}

	logging.Info().Str("exchange", exchange).Msg("event broker connected")
	return &amqpBroker{
		conn:     conn,
		ch:       ch,
		exchange: exchange,
		breaker:  newBreaker("event-broker", cfg),
	}
}

func newBreaker(name string, cfg BreakerConfig) *gobreaker.CircuitBreaker[struct{}] {
	if cfg.FailureThreshold == 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return gobreaker.NewCircuitBreaker[struct{}](gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.FailureThreshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logging.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).Msg("circuit breaker state changed")
		},
	})
}

// RoutingKey maps a topic such as chat:5 to the AMQP routing key chat.5.
func RoutingKey(topic models.Topic) string {
	return strings.Replace(string(topic), ":", ".", 1)
}

type amqpBroker struct {
	mu       sync.Mutex
	conn     *amqp.Connection
	ch       *amqp.Channel
	exchange string
	breaker  *gobreaker.CircuitBreaker[struct{}]
}

func (b *amqpBroker) PublishExternal(ctx context.Context, env fanout.Envelope) error {
	body, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("encode envelope: %w", err)
	}
	mode := amqp.Persistent
	if env.Event.Kind.Transient() {
		mode = amqp.Transient
	}

	_, err = b.breaker.Execute(func() (struct{}, error) {
		b.mu.Lock()
		defer b.mu.Unlock()
		return struct{}{}, b.ch.PublishWithContext(ctx, b.exchange, RoutingKey(env.Event.Topic), false, false, amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: mode,
			Type:         string(env.Event.Kind),
			AppId:        env.Event.Origin,
			Body:         body,
		})
	})
	if err != nil {
		observability.IncAMQPPublishError()
	}
	return err
}

// SubscribeExternal binds an exclusive queue to pattern and calls handler
// for every envelope until ctx is cancelled or the channel closes.
func (b *amqpBroker) SubscribeExternal(ctx context.Context, pattern string, handler func(fanout.Envelope)) error {
	ch, err := b.conn.Channel()
	if err != nil {
		return fmt.Errorf("open consumer channel: %w", err)
	}
	defer ch.Close()

	q, err := ch.QueueDeclare("", false, true, true, false, nil)
	if err != nil {
		return fmt.Errorf("declare queue: %w", err)
	}
	if err := ch.QueueBind(q.Name, pattern, b.exchange, false, nil); err != nil {
		return fmt.Errorf("bind queue: %w", err)
	}
	deliveries, err := ch.ConsumeWithContext(ctx, q.Name, "", true, true, false, false, nil)
	if err != nil {
		return fmt.Errorf("consume: %w", err)
	}

	logging.Info().Str("queue", q.Name).Str("pattern", pattern).Msg("event broker consuming")
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case d, ok := <-deliveries:
			if !ok {
				return ErrConsumerClosed
			}
			var env fanout.Envelope
			if err := json.Unmarshal(d.Body, &env); err != nil {
				logging.Warn().Err(err).Str("routing_key", d.RoutingKey).Msg("drop malformed envelope")
				continue
			}
			handler(env)
		}
	}
}

func (b *amqpBroker) Close() error {
	if b.ch != nil {
		_ = b.ch.Close()
	}
	if b.conn != nil {
		return b.conn.Close()
	}
	return nil
}

type noopBroker struct {
	reason string
}

func (noopBroker) PublishExternal(context.Context, fanout.Envelope) error { return nil }

func (noopBroker) SubscribeExternal(ctx context.Context, _ string, _ func(fanout.Envelope)) error {
	<-ctx.Done()
	return ctx.Err()
}

func (noopBroker) Close() error { return nil }

// BrokerMode reports whether b talks to RabbitMQ.
func BrokerMode(b Broker) string {
	switch b.(type) {
	case *amqpBroker:
		return "amqp"
	case noopBroker:
		return "noop"
	default:
		return "unknown"
	}
}
