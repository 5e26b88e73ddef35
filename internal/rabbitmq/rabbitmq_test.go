package rabbitmq

import (
	"context"
	"errors"
	"testing"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chat-realtime/internal/fanout"
	"chat-realtime/internal/models"
	"chat-realtime/internal/telemetry"
)

func TestNewPublisherWithoutURLIsNoop(t *testing.T) {
	p := NewPublisher("", "events")
	assert.Equal(t, "noop", PublisherMode(p))
	assert.Equal(t, "empty amqp url", PublisherNoopReason(p))
	assert.NoError(t, p.Publish(context.Background(), "audit.chat", telemetry.AuditEnvelope{EventType: "audit_log"}))
	assert.NoError(t, p.PublishJSON(context.Background(), "ws_events.chats", map[string]string{"a": "b"}, nil))
	assert.NoError(t, p.Close())
}

func TestNewBrokerWithoutURLIsNoop(t *testing.T) {
	b := NewBroker("", "events", BreakerConfig{})
	assert.Equal(t, "noop", BrokerMode(b))
	assert.NoError(t, b.PublishExternal(context.Background(), fanout.Envelope{}))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- b.SubscribeExternal(ctx, "#", func(fanout.Envelope) {}) }()
	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("subscribe did not return after cancel")
	}
}

func TestRoutingKey(t *testing.T) {
	assert.Equal(t, "chat.5", RoutingKey(models.ChatTopic(5)))
	assert.Equal(t, "user.12", RoutingKey(models.UserTopic(12)))
}

func TestBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	cb := newBreaker("test", BreakerConfig{FailureThreshold: 2, Timeout: time.Minute})
	fail := func() (struct{}, error) { return struct{}{}, errors.New("boom") }

	_, _ = cb.Execute(fail)
	_, _ = cb.Execute(fail)
	require.Equal(t, gobreaker.StateOpen, cb.State())

	_, err := cb.Execute(func() (struct{}, error) { return struct{}{}, nil })
	assert.ErrorIs(t, err, gobreaker.ErrOpenState)
}
