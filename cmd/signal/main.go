package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	ossignal "os/signal"
	"syscall"
	"time"

	"rendezvous/internal/core/services"
	httphandlers "rendezvous/internal/handlers/http"
	"rendezvous/internal/infrastructure/distributed"
	"rendezvous/internal/infrastructure/monitoring"
	"rendezvous/internal/infrastructure/repositories"
	"rendezvous/internal/infrastructure/signal"
	"rendezvous/pkg/config"
	"rendezvous/pkg/logger"
	"rendezvous/pkg/tracing"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var configPaths = []string{
	"configs/config.yaml",
	"./configs/config.yaml",
	"/etc/rendezvous/config.yaml",
	"config.yaml",
}

func configPath() string {
	if path := os.Getenv("RENDEZVOUS_CONFIG"); path != "" {
		return path
	}
	for _, path := range configPaths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

func main() {
	cfg, err := config.Load(configPath())
	if err != nil {
		fmt.Fprintf(os.Stderr, "rendezvous: %v\n", err)
		os.Exit(1)
	}

	zapLogger := logger.NewWithFormat(cfg.Logging.Level, cfg.Logging.Format)
	defer zapLogger.Sync()
	log := zapLogger.Sugar()

	tp, err := tracing.Init(tracing.Config{
		Enabled:     cfg.Tracing.Enabled,
		ServiceName: cfg.Tracing.ServiceName,
		JaegerURL:   cfg.Tracing.JaegerURL,
		Environment: cfg.Tracing.Environment,
		SampleRate:  cfg.Tracing.SampleRate,
	})
	if err != nil {
		log.Fatalw("failed to initialize tracing", "error", err)
	}

	authService, err := services.NewAuthService(cfg.Auth.Mode, cfg.Auth.Token, cfg.Auth.TokenTTL)
	if err != nil {
		log.Fatalw("invalid auth configuration", "error", err)
	}

	repoFactory := repositories.NewRepositoryFactory(cfg, log)
	registry := repoFactory.CreatePeerRegistry()

	var (
		signalingOpts  []services.SignalingOption
		mirrorOpts     []distributed.MirrorOption
		metricsHandler http.Handler
	)
	if cfg.Monitoring.PrometheusEnabled {
		collector := monitoring.NewPrometheusCollector(prometheus.DefaultRegisterer)
		signalingOpts = append(signalingOpts, services.WithMetricsRecorder(collector))
		mirrorOpts = append(mirrorOpts, distributed.WithDropCounter(collector.PresenceEventsDropped))
		metricsHandler = promhttp.Handler()
		log.Info("Prometheus metrics enabled")
	}

	mirror := repoFactory.CreatePresenceMirror(mirrorOpts...)
	if mirror != nil {
		signalingOpts = append(signalingOpts, services.WithPresenceNotifier(mirror))
	}

	wsConfig := signal.Config{
		PingInterval:    cfg.Signal.PingInterval,
		PongTimeout:     cfg.Signal.PongTimeout,
		WriteTimeout:    cfg.Signal.WriteTimeout,
		SendQueueSize:   cfg.Signal.SendQueueSize,
		MaxMessageBytes: cfg.Signal.MaxMessageBytes,
		AllowedOrigins:  cfg.Auth.AllowedOrigins,
	}
	if cfg.RateLimiting.Enabled {
		wsConfig.EventsPerSecond = cfg.RateLimiting.WebSocket.EventsPerSecond
		wsConfig.EventBurst = cfg.RateLimiting.WebSocket.Burst
	}
	wsServer := signal.NewWebSocketServer(wsConfig, log)

	probeInterval, probeEnabled := cfg.ProbeInterval()
	if !probeEnabled {
		probeInterval = 0
	}
	signalingService := services.NewSignalingService(registry, wsServer, services.SignalingConfig{
		ProbeInterval:               probeInterval,
		MaxCountdownOutOf:           cfg.Countdown.MaxOutOf,
		CancelCountdownOnDisconnect: cfg.Countdown.CancelOnDisconnect,
		EventQueueSize:              cfg.Signal.EventQueueSize,
	}, log, signalingOpts...)
	wsServer.Attach(signalingService)

	healthChecker := monitoring.NewHealthChecker()
	if repoFactory.RedisClient() != nil {
		healthChecker.AddCheck("redis", repoFactory.HealthCheck, 2*time.Second)
	}

	if cfg.Logging.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := httphandlers.NewRouter(httphandlers.RouterDeps{
		Config:    cfg,
		Logger:    log,
		Auth:      authService,
		Registry:  registry,
		WebSocket: wsServer,
		Health:    healthChecker,
		Metrics:   metricsHandler,
	})

	loopCtx, stopLoop := context.WithCancel(context.Background())
	loopDone := make(chan struct{})
	go func() {
		defer close(loopDone)
		if err := signalingService.Run(loopCtx); err != nil && !errors.Is(err, context.Canceled) {
			log.Errorw("signaling loop stopped", "error", err)
		}
	}()

	srv := &http.Server{
		Addr:         cfg.Server.Address,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	serverErr := make(chan error, 1)
	go func() {
		log.Infow("starting rendezvous signaling server",
			"address", cfg.Server.Address,
			"ws_path", cfg.Signal.Path,
			"auth_mode", cfg.Auth.Mode,
			"probe_interval", probeInterval,
		)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
	}()

	sigChan := make(chan os.Signal, 1)
	ossignal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serverErr:
		log.Errorw("server failed", "error", err)
	case sig := <-sigChan:
		log.Infow("received shutdown signal", "signal", sig)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Errorw("error during server shutdown", "error", err)
		srv.Close()
	}

	// Hijacked sockets outlive srv.Shutdown; close them and give the loop a
	// chance to process the departures before it stops.
	wsServer.Shutdown()
	drainConnections(shutdownCtx, wsServer)
	stopLoop()
	<-loopDone

	if mirror != nil {
		if err := mirror.Close(shutdownCtx); err != nil {
			log.Errorw("error closing presence mirror", "error", err)
		}
	}
	if err := repoFactory.Close(); err != nil {
		log.Errorw("error closing repository factory", "error", err)
	}
	if err := tp.Shutdown(shutdownCtx); err != nil {
		log.Errorw("error shutting down tracer", "error", err)
	}

	log.Info("rendezvous signaling server stopped")
}

func drainConnections(ctx context.Context, ws *signal.WebSocketServer) {
	ticker := time.NewTicker(20 * time.Millisecond)
	defer ticker.Stop()
	for ws.ConnectionCount() > 0 {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
	// Departures are queued behind the socket teardown.
	select {
	case <-ctx.Done():
	case <-time.After(100 * time.Millisecond):
	}
}
