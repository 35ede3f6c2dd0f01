package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"duocall/internal/core/ports"
	"duocall/internal/core/services"
	httphandlers "duocall/internal/handlers/http"
	"duocall/internal/infrastructure/media"
	"duocall/internal/infrastructure/middleware"
	"duocall/internal/infrastructure/monitoring"
	"duocall/internal/infrastructure/signalstore"
	"duocall/internal/infrastructure/transport"
	"duocall/pkg/config"
	"duocall/pkg/logger"
	"duocall/pkg/tracing"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func main() {
	// Try multiple config paths
	configPaths := []string{
		"configs/config.yaml",
		"./configs/config.yaml",
		"/etc/duocall/config.yaml",
		"config.yaml",
	}

	var cfg *config.Config
	var err error

	for _, path := range configPaths {
		cfg, err = config.Load(path)
		if err == nil {
			break
		}
	}

	if err != nil {
		cfg = config.DefaultConfig()
	}

	// Initialize logger
	zapLogger := logger.New(cfg.Logging.Level, cfg.Logging.Format)
	defer zapLogger.Sync()

	log := zapLogger.Sugar()

	// Initialize tracing
	tp, err := tracing.Init(tracing.Config{
		Enabled:     cfg.Tracing.Enabled,
		ServiceName: "duocall",
		JaegerURL:   cfg.Tracing.JaegerURL,
		Environment: cfg.Tracing.Environment,
		SampleRate:  cfg.Tracing.SampleRate,
	})
	if err != nil {
		log.Fatalw("failed to initialize tracing", "error", err)
	}

	// Initialize signaling store (Redis with memory fallback)
	storeFactory, err := signalstore.NewFactory(cfg, log)
	if err != nil {
		log.Fatalw("failed to create store factory", "error", err)
	}
	defer storeFactory.Close()

	store := storeFactory.CreateSignalingStore()
	defer store.Close()

	// Initialize metrics
	var metrics ports.MetricsRecorder = services.NopMetrics{}
	if cfg.Monitoring.PrometheusEnabled {
		metrics = monitoring.NewPrometheusCollector(prometheus.DefaultRegisterer)
	}

	// Initialize core services
	coordinator := services.NewRoomCoordinator(store, log)
	transportFactory := transport.NewFactory(cfg, log)
	mediaProvider := media.NewSyntheticProvider(log)
	defer mediaProvider.Close()

	manager := services.NewSessionManager(services.SessionDeps{
		Store:       store,
		Coordinator: coordinator,
		Transports:  transportFactory,
		Media:       mediaProvider,
		Metrics:     metrics,
		Logger:      log,
		Constraints: ports.MediaConstraints{
			Audio: ports.AudioConstraints{
				Enabled:          cfg.Media.Audio.Enabled,
				EchoCancellation: cfg.Media.Audio.EchoCancellation,
				NoiseSuppression: cfg.Media.Audio.NoiseSuppression,
				AutoGainControl:  cfg.Media.Audio.AutoGainControl,
			},
			Video: ports.VideoConstraints{
				Enabled: cfg.Media.Video.Enabled,
				Width:   cfg.Media.Video.Width,
				Height:  cfg.Media.Video.Height,
			},
		},
		StatsInterval:   cfg.Session.StatsInterval,
		TeardownTimeout: cfg.Session.TeardownTimeout,
	})

	// Configure Gin
	if cfg.Logging.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.Default()

	// Global HTTP rate limiting (if enabled)
	router.Use(middleware.NewHTTPRateLimitMiddleware(cfg))

	sessionHandler := httphandlers.NewSessionHandler(manager, mediaProvider, storeFactory)
	sessionHandler.SetupRoutes(router)

	// Prometheus metrics endpoint
	if cfg.Monitoring.PrometheusEnabled {
		router.GET("/metrics", gin.WrapH(promhttp.Handler()))
		log.Info("Prometheus metrics enabled")
	}

	srv := &http.Server{
		Addr:         cfg.Server.Address,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	serverErr := make(chan error, 1)
	go func() {
		log.Infof("Starting duocall server on %s", cfg.Server.Address)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serverErr:
		log.Fatalw("Server failed", "error", err)
	case sig := <-sigChan:
		log.Infow("Received shutdown signal", "signal", sig)
	}

	log.Info("Shutting down duocall server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	// End live sessions first so store records are cleaned up while the
	// backend is still reachable.
	manager.Shutdown(shutdownCtx)

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Errorw("Error during server shutdown", "error", err)
		if closeErr := srv.Close(); closeErr != nil {
			log.Errorw("Error force closing server", "error", closeErr)
		}
	} else {
		log.Info("Server shutdown gracefully")
	}

	traceCtx, traceCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer traceCancel()
	if err := tp.Shutdown(traceCtx); err != nil {
		log.Errorw("Error shutting down tracer provider", "error", err)
	}

	log.Info("duocall server stopped")
}
