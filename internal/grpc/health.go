package grpc

import (
	"context"
	"errors"
	"net"

	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	grpc "google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"chat-realtime/internal/logging"
	"chat-realtime/internal/observability"
)

// ServiceName is the health service name reported for the realtime core.
const ServiceName = "chat.realtime"

// HealthServer exposes the standard gRPC health protocol.
type HealthServer struct {
	addr   string
	server *grpc.Server
	health *health.Server
}

// NewHealthServer builds a server listening on addr once served.
func NewHealthServer(addr string) *HealthServer {
	srv := grpc.NewServer(
		grpc.StatsHandler(otelgrpc.NewServerHandler()),
		grpc.ChainUnaryInterceptor(observability.GRPCServerMetricsUnaryInterceptor()),
	)
	h := health.NewServer()
	healthpb.RegisterHealthServer(srv, h)
	reflection.Register(srv)

	h.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	h.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_SERVING)
	return &HealthServer{addr: addr, server: srv, health: h}
}

// SetServing flips the reported status, e.g. while draining.
func (s *HealthServer) SetServing(serving bool) {
	status := healthpb.HealthCheckResponse_NOT_SERVING
	if serving {
		status = healthpb.HealthCheckResponse_SERVING
	}
	s.health.SetServingStatus("", status)
	s.health.SetServingStatus(ServiceName, status)
}

// Serve listens on the configured address until ctx is cancelled.
func (s *HealthServer) Serve(ctx context.Context) error {
	lis, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}
	return s.ServeListener(ctx, lis)
}

// ServeListener serves on lis until ctx is cancelled.
func (s *HealthServer) ServeListener(ctx context.Context, lis net.Listener) error {
	stopped := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			s.health.Shutdown()
			s.server.GracefulStop()
		case <-stopped:
		}
	}()
	defer close(stopped)

	logging.Info().Str("addr", lis.Addr().String()).Msg("grpc health server listening")
	err := s.server.Serve(lis)
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if errors.Is(err, grpc.ErrServerStopped) {
		return nil
	}
	return err
}

func (s *HealthServer) String() string { return "grpc-health" }
