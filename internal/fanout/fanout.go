// Package fanout delivers events to every live connection subscribed to a
// topic and forwards them to other instances through an optional broker.
//
// Delivery is best effort and at most once per connection per publish: the
// subscriber set is snapshotted when the publish starts, each connection is
// tried once, and failures are reported rather than returned. Publishes on
// the same topic are serialised, so a subscriber sees them in publish order.
package fanout

import (
	"context"
	"errors"
	"fmt"

	"github.com/goccy/go-json"

	"chat-realtime/internal/logging"
	"chat-realtime/internal/models"
	"chat-realtime/internal/observability"
	"chat-realtime/internal/ws"
)

// ErrNotDurable rejects a message-created event whose message has not been stored.
var ErrNotDurable = errors.New("message-created event without a durable message")

// SubscriberSource resolves the connections subscribed to a topic.
type SubscriberSource interface {
	SubscribersOf(topic models.Topic) []ws.Subscriber
}

// Envelope is what travels between instances.
type Envelope struct {
	Event         models.Event `json:"event"`
	ExcludeUserID int          `json:"exclude_user_id,omitempty"`
}

// Broker moves events across process instances.
type Broker interface {
	PublishExternal(ctx context.Context, env Envelope) error
	SubscribeExternal(ctx context.Context, pattern string, handler func(Envelope)) error
}

// Failure is one connection that could not be reached.
type Failure struct {
	ConnID string
	UserID int
	Err    error
}

// Report summarises one publish.
type Report struct {
	Topic       models.Topic
	Kind        models.EventKind
	Attempted   int
	Delivered   int
	Failures    []Failure
	ExternalErr error
}

// Fanout is the event delivery engine.
type Fanout struct {
	source SubscriberSource
	broker Broker
	origin string
	locks  *topicLocks
}

// Option configures a Fanout.
type Option func(*Fanout)

// WithBroker forwards published events to other instances. origin tags
// events emitted by this process so they are not delivered twice.
func WithBroker(broker Broker, origin string) Option {
	return func(f *Fanout) {
		f.broker = broker
		f.origin = origin
	}
}

// New builds a Fanout reading subscribers from source.
func New(source SubscriberSource, opts ...Option) *Fanout {
	f := &Fanout{source: source, locks: newTopicLocks()}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Publish delivers event to every subscriber of topic.
func (f *Fanout) Publish(ctx context.Context, topic models.Topic, event models.Event) (Report, error) {
	return f.publish(ctx, topic, event, 0)
}

// PublishExcept delivers event to every subscriber of topic except the
// connections owned by excludeUserID.
func (f *Fanout) PublishExcept(ctx context.Context, topic models.Topic, event models.Event, excludeUserID int) (Report, error) {
	return f.publish(ctx, topic, event, excludeUserID)
}

// DeliverExternal hands an event received from the broker to local
// subscribers only. Events this instance emitted itself are dropped.
func (f *Fanout) DeliverExternal(env Envelope) Report {
	if f.origin != "" && env.Event.Origin == f.origin {
		return Report{Topic: env.Event.Topic, Kind: env.Event.Kind}
	}
	payload, err := json.Marshal(env.Event)
	if err != nil {
		logging.Warn().Err(err).Str("topic", string(env.Event.Topic)).Msg("encode external event")
		return Report{Topic: env.Event.Topic, Kind: env.Event.Kind}
	}
	return f.deliver(env.Event.Topic, env.Event.Kind, payload, env.ExcludeUserID)
}

func (f *Fanout) publish(ctx context.Context, topic models.Topic, event models.Event, excludeUserID int) (Report, error) {
	if err := validate(event); err != nil {
		return Report{Topic: topic, Kind: event.Kind}, err
	}
	event.Topic = topic
	if event.Origin == "" {
		event.Origin = f.origin
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return Report{Topic: topic, Kind: event.Kind}, fmt.Errorf("encode event: %w", err)
	}

	report := f.deliver(topic, event.Kind, payload, excludeUserID)

	if f.broker != nil {
		if err := f.broker.PublishExternal(ctx, Envelope{Event: event, ExcludeUserID: excludeUserID}); err != nil {
			report.ExternalErr = err
			logging.Warn().Err(err).Str("topic", string(topic)).Str("kind", string(event.Kind)).Msg("broker publish failed")
		}
	}
	return report, nil
}

func (f *Fanout) deliver(topic models.Topic, kind models.EventKind, payload []byte, excludeUserID int) Report {
	report := Report{Topic: topic, Kind: kind}

	unlock := f.locks.lock(topic)
	subscribers := f.source.SubscribersOf(topic)
	for _, sub := range subscribers {
		if excludeUserID != 0 && sub.UserID == excludeUserID {
			continue
		}
		report.Attempted++
		if sub.Sink == nil {
			report.Failures = append(report.Failures, Failure{ConnID: sub.ConnID, UserID: sub.UserID, Err: ws.ErrClientClosed})
			continue
		}
		if err := sub.Sink.Send(payload); err != nil {
			report.Failures = append(report.Failures, Failure{ConnID: sub.ConnID, UserID: sub.UserID, Err: err})
			continue
		}
		report.Delivered++
	}
	unlock()

	observability.ObserveFanout(string(kind), report.Delivered, len(report.Failures))
	for _, failure := range report.Failures {
		logging.Debug().Err(failure.Err).
			Str("topic", string(topic)).
			Str("conn_id", failure.ConnID).
			Msg("event delivery failed")
	}
	return report
}

func validate(event models.Event) error {
	if event.Kind != models.EventMessageCreated {
		return nil
	}
	var msg models.Message
	switch p := event.Payload.(type) {
	case models.MessagePayload:
		msg = p.Message
	case *models.MessagePayload:
		if p != nil {
			msg = p.Message
		}
	case models.Message:
		msg = p
	case *models.Message:
		if p != nil {
			msg = *p
		}
	}
	if !msg.Durable() {
		return ErrNotDurable
	}
	return nil
}
