package supervisor

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"chat-realtime/internal/fanout"
)

type HTTPServer interface {
	ListenAndServe() error
	Shutdown(ctx context.Context) error
}

// HTTPServerService adapts an http.Server to suture.
type HTTPServerService struct {
	server          HTTPServer
	shutdownTimeout time.Duration
	name            string
}

func NewHTTPServerService(server HTTPServer, shutdownTimeout time.Duration) *HTTPServerService {
	if shutdownTimeout <= 0 {
		shutdownTimeout = 10 * time.Second
	}
	return &HTTPServerService{server: server, shutdownTimeout: shutdownTimeout, name: "http-server"}
}

func (h *HTTPServerService) Serve(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		if err := h.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), h.shutdownTimeout)
		defer cancel()
		if err := h.server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("http server shutdown failed: %w", err)
		}
		<-errCh
		return ctx.Err()
	}
}

func (h *HTTPServerService) String() string {
	return h.name
}

// LocalDeliverer hands broker events to local subscribers.
type LocalDeliverer interface {
	DeliverExternal(env fanout.Envelope) fanout.Report
}

// BrokerConsumerService feeds events from other instances into the local fanout.
type BrokerConsumerService struct {
	broker  fanout.Broker
	target  LocalDeliverer
	pattern string
}

func NewBrokerConsumerService(broker fanout.Broker, target LocalDeliverer, pattern string) *BrokerConsumerService {
	if pattern == "" {
		pattern = "#"
	}
	return &BrokerConsumerService{broker: broker, target: target, pattern: pattern}
}

func (b *BrokerConsumerService) Serve(ctx context.Context) error {
	return b.broker.SubscribeExternal(ctx, b.pattern, func(env fanout.Envelope) {
		b.target.DeliverExternal(env)
	})
}

func (b *BrokerConsumerService) String() string {
	return "broker-consumer"
}
