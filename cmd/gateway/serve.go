package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"connectsphere/internal/core/domain"
	"connectsphere/internal/core/ports"
	"connectsphere/internal/core/services"
	httphandlers "connectsphere/internal/handlers/http"
	"connectsphere/internal/infrastructure/distributed"
	"connectsphere/internal/infrastructure/messaging"
	"connectsphere/internal/infrastructure/middleware"
	"connectsphere/internal/infrastructure/monitoring"
	"connectsphere/internal/infrastructure/reliability"
	"connectsphere/internal/infrastructure/repositories"
	wsignal "connectsphere/internal/infrastructure/signal"
	"connectsphere/pkg/circuitbreaker"
	"connectsphere/pkg/config"
	"connectsphere/pkg/logger"
	"connectsphere/pkg/retry"
	"connectsphere/pkg/tracing"
	"connectsphere/pkg/utils"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the gateway (default)",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}
		return serve(cfg)
	},
}

// closer is run in reverse registration order on shutdown.
type closer struct {
	name string
	fn   func(ctx context.Context) error
}

func serve(cfg *config.Config) error {
	startTime := time.Now()

	log, err := logger.NewWithOptions(logger.Options{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		File:       cfg.Logging.File,
		MaxSizeMB:  cfg.Logging.MaxSizeMB,
		MaxBackups: cfg.Logging.MaxBackups,
		MaxAgeDays: cfg.Logging.MaxAgeDays,
	})
	if err != nil {
		return err
	}
	defer log.Sync()

	instanceID := utils.NewInstanceID()
	log = log.With("instance_id", instanceID)

	var closers []closer
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	tp, err := tracing.Init(tracing.Config{
		Enabled:     cfg.Tracing.Enabled,
		ServiceName: cfg.Tracing.ServiceName,
		JaegerURL:   cfg.Tracing.JaegerEndpoint,
		Environment: os.Getenv("CONNECTSPHERE_ENV"),
		SampleRate:  cfg.Tracing.SampleRate,
	})
	if err != nil {
		return fmt.Errorf("failed to init tracing: %w", err)
	}
	closers = append(closers, closer{"tracing", tp.Shutdown})

	repoFactory, err := repositories.NewRepositoryFactory(ctx, cfg, log)
	if err != nil {
		return fmt.Errorf("failed to create repository factory: %w", err)
	}
	closers = append(closers, closer{"repositories", repoFactory.Close})

	var metrics ports.MetricsRecorder = services.NopMetrics{}
	var collector *monitoring.PrometheusCollector
	if cfg.Monitoring.PrometheusEnabled {
		collector = monitoring.NewPrometheusCollector(nil)
		metrics = collector
	}

	// Message persistence: primary store plus optional kafka sink, each
	// behind retry and a circuit breaker.
	stores := []ports.MessageStore{
		reliability.NewMessageStoreWrapper("message-store", repoFactory.CreateMessageStore(), retry.DefaultConfig(), circuitbreaker.DefaultConfig(), log),
	}
	if cfg.Kafka.Enabled {
		sink, err := messaging.NewKafkaEventSink(messaging.KafkaConfig{
			Brokers:  cfg.Kafka.Brokers,
			Topic:    cfg.Kafka.Topic,
			ClientID: cfg.Kafka.ClientID,
			Retries:  cfg.Kafka.Retries,
		}, log)
		if err != nil {
			return err
		}
		closers = append(closers, closer{"kafka", func(context.Context) error { return sink.Close() }})
		stores = append(stores, reliability.NewMessageStoreWrapper("kafka", sink, retry.DefaultConfig(), circuitbreaker.DefaultConfig(), log))
	}
	persister := services.NewMessagePersister(reliability.NewFanoutStore(stores...), cfg.Relay.PersistBatchSize, cfg.Relay.PersistInterval, log, metrics)

	var push ports.PushDispatcher
	if cfg.NATS.Enabled {
		dispatcher, err := messaging.NewNATSPushDispatcher(messaging.NATSConfig{
			Servers:       cfg.NATS.Servers,
			Name:          "connectsphere-" + instanceID,
			SubjectPrefix: cfg.NATS.SubjectPrefix,
			ReconnectWait: cfg.NATS.ReconnectWait,
			Timeout:       cfg.NATS.Timeout,
		}, log)
		if err != nil {
			return err
		}
		closers = append(closers, closer{"nats", func(context.Context) error { return dispatcher.Close() }})
		push = dispatcher
	}

	// Core services.
	hub := wsignal.NewHub(cfg.Signal.SendBuffer, log)
	registry := services.NewConnectionRegistry(log)
	presence := services.NewPresenceTracker(registry, cfg.Presence.OfflineDebounce, log)

	relayCfg := services.DefaultRelayConfig()
	relayCfg.SelfEchoKinds = make([]domain.EventKind, 0, len(cfg.Relay.SelfEchoKinds))
	for _, k := range cfg.Relay.SelfEchoKinds {
		relayCfg.SelfEchoKinds = append(relayCfg.SelfEchoKinds, domain.EventKind(k))
	}
	relayCfg.DirectoryCacheTTL = cfg.Relay.DirectoryCacheTTL
	relayCfg.LookupTimeout = cfg.Relay.LookupTimeout
	relay := services.NewRelayEngine(relayCfg, registry, hub,
		repoFactory.CreateGroupDirectory(), repoFactory.CreateUserDirectory(), persister, metrics, log)

	calls := services.NewCallSessionManager(services.CallConfig{
		RingTimeout:       cfg.Calls.RingTimeout,
		EndedRetention:    cfg.Calls.EndedRetention,
		ReapInterval:      cfg.Calls.ReapInterval,
		ReplaceDuplicates: cfg.Calls.DuplicatePolicy == config.DuplicatePolicyReplace,
		EndOnDisconnect:   cfg.Calls.EndOnDisconnect,
	}, registry, hub, metrics, log)
	calls.Start()
	if collector != nil {
		collector.ObserveCallSessions(
			func() int { return calls.Stats().Live },
			func() int { return calls.Stats().Retained },
		)
	}

	auth := services.NewAuthService(cfg.Auth.JWTSecret, cfg.Auth.AccessTokenTTL, cfg.Auth.Issuer)

	gateway := wsignal.NewGateway(wsignal.GatewayConfig{
		RequireAuth:       cfg.Signal.RequireAuth,
		MaxBodyBytes:      cfg.Relay.MaxBodyBytes,
		BroadcastPresence: cfg.Presence.Broadcast,
		PushFallback:      cfg.Relay.PushFallback,
		PushTimeout:       5 * time.Second,
	}, wsignal.GatewayDeps{
		Hub:      hub,
		Registry: registry,
		Presence: presence,
		Relay:    relay,
		Calls:    calls,
		Auth:     auth,
		Push:     push,
		Metrics:  metrics,
	}, log)

	// Cross-instance presence.
	var cluster httphandlers.ClusterPresence
	if client := repoFactory.RedisClient(); client != nil {
		shared := distributed.NewSharedPresenceRegistry(client, instanceID, cfg.Redis.PresenceTTL, log)
		bus := distributed.NewEventBus(client, instanceID, cfg.Redis.Channel, log)
		forwarder := distributed.NewPresenceForwarder(1024, 2*time.Second, log, shared, bus)
		presence.Subscribe(forwarder.Handle)
		cluster = shared

		go shared.RunRefresher(ctx, 0, registry.OnlineUsers)
		go func() {
			err := bus.Subscribe(ctx, func(ev *distributed.Event) error {
				log.Debugw("remote presence change", "user_id", ev.UserID, "status", ev.Status, "from_instance", ev.InstanceID)
				return nil
			})
			if err != nil && !errors.Is(err, context.Canceled) {
				log.Warnw("presence event bus stopped", "error", err)
			}
		}()

		closers = append(closers, closer{"shared-presence", func(ctx context.Context) error {
			forwarder.Stop()
			return shared.CleanupInstance(ctx, instanceID)
		}})
	}

	// Health.
	checker := monitoring.NewHealthChecker()
	checker.AddCheck("registry", true, time.Second, func(context.Context) error { return registry.Verify() })
	checker.AddCheck("repositories", false, 2*time.Second, repoFactory.HealthCheck)
	checker.AddInfo("connections", func() interface{} { return registry.Stats() })
	checker.AddInfo("call_sessions", func() interface{} { return calls.Stats() })
	checker.AddInfo("uptime", func() interface{} { return utils.FormatDuration(time.Since(startTime)) })

	// HTTP surface.
	wsCfg := wsignal.DefaultServerConfig()
	wsCfg.PingInterval = cfg.Signal.PingInterval
	wsCfg.PongTimeout = cfg.Signal.PongTimeout
	wsCfg.WriteWait = cfg.Signal.WriteWait
	wsCfg.MaxMessageSize = cfg.Signal.MaxMessageSize
	wsCfg.AllowedOrigins = cfg.Signal.AllowedOrigins
	wsCfg.MessagesPerSecond = 0
	if cfg.RateLimiting.Enabled {
		wsCfg.MessagesPerSecond = cfg.RateLimiting.WebSocket.MessagesPerSecond
		wsCfg.Burst = cfg.RateLimiting.WebSocket.Burst
	}
	wsServer := wsignal.NewWebSocketServer(wsCfg, gateway, log)

	router := newRouter(cfg, log, wsServer, checker, httphandlers.NewAdminHandler(registry, presence, calls, cluster), auth)

	srv := &http.Server{
		Addr:         cfg.Server.Address,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	serverErr := make(chan error, 1)
	go func() {
		log.Infow("starting connectsphere gateway", "address", cfg.Server.Address, "version", version)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	var runErr error
	select {
	case runErr = <-serverErr:
		log.Errorw("server failed", "error", runErr)
	case sig := <-sigChan:
		log.Infow("received shutdown signal", "signal", sig)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	// Stop taking upgrades first, then close live sockets so disconnect
	// cascades run while the core is still up.
	if err := wsServer.Shutdown(shutdownCtx); err != nil {
		log.Warnw("websocket shutdown incomplete", "error", err)
	}
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Errorw("error during server shutdown", "error", err)
		_ = srv.Close()
	}
	hub.CloseAll()
	calls.Stop()
	gateway.Close()
	persister.Stop()
	cancel()

	for i := len(closers) - 1; i >= 0; i-- {
		if err := closers[i].fn(shutdownCtx); err != nil {
			log.Warnw("error closing component", "component", closers[i].name, "error", err)
		}
	}

	log.Infow("connectsphere gateway stopped", "uptime", utils.FormatDuration(time.Since(startTime)))
	return runErr
}

func newRouter(
	cfg *config.Config,
	log *zap.SugaredLogger,
	wsServer *wsignal.WebSocketServer,
	checker *monitoring.HealthChecker,
	admin *httphandlers.AdminHandler,
	auth services.AuthService,
) *gin.Engine {
	if cfg.Logging.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	cl := logger.NewContextLogger(log.Desugar())

	router := gin.New()
	router.Use(middleware.RecoveryMiddleware(cl), middleware.TracingMiddleware(), middleware.ErrorHandlerMiddleware(cl))

	corsCfg := cors.DefaultConfig()
	if len(cfg.Signal.AllowedOrigins) == 0 || cfg.Signal.AllowedOrigins[0] == "*" {
		corsCfg.AllowAllOrigins = true
	} else {
		corsCfg.AllowOrigins = cfg.Signal.AllowedOrigins
	}
	corsCfg.AllowMethods = []string{"GET", "OPTIONS"}
	corsCfg.AllowHeaders = []string{"Origin", "Content-Type", "Authorization"}
	router.Use(cors.New(corsCfg))

	router.GET(cfg.Signal.Path, gin.WrapF(wsServer.HandleWebSocket))
	httphandlers.NewHealthHandler(checker, version).SetupRoutes(router)
	if cfg.Monitoring.PrometheusEnabled {
		router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	}

	admin.SetupRoutes(router, middleware.NewHTTPRateLimitMiddleware(cfg), middleware.AuthMiddleware(auth))
	return router
}
