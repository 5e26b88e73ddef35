package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"chat-realtime/internal/auth"
	"chat-realtime/internal/cache"
	"chat-realtime/internal/config"
	"chat-realtime/internal/db"
	"chat-realtime/internal/fanout"
	grpcserver "chat-realtime/internal/grpc"
	"chat-realtime/internal/handlers"
	"chat-realtime/internal/logging"
	"chat-realtime/internal/middleware"
	"chat-realtime/internal/observability"
	"chat-realtime/internal/presence"
	"chat-realtime/internal/rabbitmq"
	"chat-realtime/internal/repositories"
	"chat-realtime/internal/session"
	"chat-realtime/internal/supervisor"
	"chat-realtime/internal/telemetry"
	"chat-realtime/internal/unread"
	"chat-realtime/internal/ws"
)

type stores struct {
	participants repositories.ParticipantRepository
	messages     repositories.MessageRepository
	contacts     repositories.ContactRepository
	db           *sqlx.DB
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.Error().Err(err).Msg("invalid configuration")
		os.Exit(1)
	}
	logging.Init(cfg.Logging())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		logging.Error().Err(err).Msg("server error")
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config) error {
	shutdownTracing, err := telemetry.SetupTracing(ctx, cfg.OTLPEndpoint, cfg.ServiceName, cfg.Environment)
	if err != nil {
		logging.Warn().Err(err).Msg("tracing disabled")
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownTracing(flushCtx)
	}()

	st, err := openStores(ctx, cfg)
	if err != nil {
		return err
	}
	if st.db != nil {
		defer st.db.Close()
	}

	publisher := rabbitmq.NewPublisher(cfg.AMQPURL, cfg.AMQPExchange)
	defer publisher.Close()
	observability.SetPublisher(publisher)
	audit := telemetry.NewAuditEmitter(publisher, cfg.AuditRoutingKey, cfg.ServiceName, cfg.Environment)

	broker := rabbitmq.NewBroker(cfg.AMQPURL, cfg.BrokerExchange, rabbitmq.BreakerConfig{
		FailureThreshold: cfg.BreakerFailures,
		Timeout:          cfg.BreakerOpenFor,
	})
	defer broker.Close()

	registry := ws.NewRegistry()
	events := fanout.New(registry, fanout.WithBroker(broker, uuid.NewString()))

	trackerOpts := []presence.Option{presence.WithGrace(cfg.PresenceGrace)}
	if cfg.RedisURL != "" {
		lastSeen, err := cache.NewRedisLastSeen(ctx, cfg.RedisURL, cfg.LastSeenTTL)
		if err != nil {
			logging.Warn().Err(err).Msg("last-seen store disabled")
		} else {
			defer lastSeen.Close()
			trackerOpts = append(trackerOpts, presence.WithLastSeenStore(lastSeen))
		}
	}
	tracker := presence.NewTracker(st.contacts, events, trackerOpts...)
	registry.SetListener(tracker)

	verifier := auth.NewJWTVerifier(cfg.JWTSecret, cfg.JWTIssuer)
	sessions := session.NewService(session.Deps{
		Verifier:     verifier,
		Participants: st.participants,
		Messages:     st.messages,
		Registry:     registry,
		Fanout:       events,
		Unread:       unread.NewAccountant(st.participants, st.messages),
		Presence:     tracker,
		Audit:        audit,
		IdleAfter:    cfg.IdleTimeout / 2,
	})

	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery(), otelgin.Middleware(cfg.ServiceName), observability.HTTPMetricsMiddleware())
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	handlers.RegisterRoutes(router,
		handlers.NewRealtimeHandler(sessions, cfg.WSFramesPerSecond),
		handlers.NewChatHandler(sessions),
		middleware.AuthMiddleware(verifier),
	)
	handlers.RegisterDebugRoutes(router, sessions, audit, cfg.DebugRoutes)

	httpServer := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	health := grpcserver.NewHealthServer(":" + cfg.GRPCPort)

	tree := supervisor.NewTree(supervisor.TreeConfig{ShutdownTimeout: cfg.ShutdownTimeout})
	tree.AddRealtimeService(ws.NewReaper(registry, cfg.IdleTimeout, cfg.ReapInterval))
	tree.AddRealtimeService(supervisor.NewBrokerConsumerService(broker, events, cfg.BrokerBindingKey))
	tree.AddAPIService(supervisor.NewHTTPServerService(httpServer, cfg.ShutdownTimeout))
	tree.AddAPIService(health)

	logging.Info().
		Str("port", cfg.Port).
		Str("grpc_port", cfg.GRPCPort).
		Str("store", cfg.StoreDriver).
		Str("publisher", rabbitmq.PublisherMode(publisher)).
		Str("broker", rabbitmq.BrokerMode(broker)).
		Msg("chat realtime starting")

	err = tree.Serve(ctx)
	health.SetServing(false)
	registry.Close("server shutting down")

	if report, reportErr := tree.UnstoppedServiceReport(); reportErr == nil && len(report) > 0 {
		for _, svc := range report {
			logging.Warn().Str("service", svc.Name).Msg("service did not stop in time")
		}
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	logging.Info().Msg("chat realtime stopped")
	return nil
}

func openStores(ctx context.Context, cfg *config.Config) (stores, error) {
	if cfg.StoreDriver == "memory" {
		mem := repositories.NewMemoryStore()
		logging.Warn().Msg("using in-memory store")
		return stores{participants: mem, messages: mem, contacts: mem}, nil
	}

	database, err := db.Connect(ctx, cfg.DBDSN)
	if err != nil {
		return stores{}, err
	}
	return stores{
		participants: repositories.NewParticipantRepo(database),
		messages:     repositories.NewMessageRepo(database),
		contacts:     repositories.NewContactRepo(database),
		db:           database,
	}, nil
}
