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

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/wolfman30/whatsapp-assistant-relay/cmd/mainconfig"
	"github.com/wolfman30/whatsapp-assistant-relay/internal/api/router"
	"github.com/wolfman30/whatsapp-assistant-relay/internal/app/bootstrap"
	"github.com/wolfman30/whatsapp-assistant-relay/internal/assistant"
	"github.com/wolfman30/whatsapp-assistant-relay/internal/channels/whatsapp"
	appconfig "github.com/wolfman30/whatsapp-assistant-relay/internal/config"
	"github.com/wolfman30/whatsapp-assistant-relay/internal/http/handlers"
	"github.com/wolfman30/whatsapp-assistant-relay/internal/media"
	"github.com/wolfman30/whatsapp-assistant-relay/internal/messaging"
	"github.com/wolfman30/whatsapp-assistant-relay/internal/observability/metrics"
	"github.com/wolfman30/whatsapp-assistant-relay/pkg/logging"
)

func main() {
	// A missing .env is normal outside local development.
	_ = godotenv.Load()

	cfg := appconfig.Load()
	logger := logging.ForEnv(cfg.Env, cfg.LogLevel)
	logger.Info("starting whatsapp-assistant-relay API server",
		"env", cfg.Env,
		"port", cfg.Port,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	handler, cleanup, err := buildServer(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to initialise server", "error", err)
		os.Exit(1)
	}
	defer cleanup()

	// WriteTimeout leaves room for /processWithAI, which blocks for up to the
	// poll timeout.
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: cfg.AssistantPollTimeout + 30*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
		os.Exit(1)
	}

	logger.Info("server stopped")
	fmt.Println("Server exited gracefully")
}

// setupMetrics registers relay metrics on a dedicated registry together with
// the Go runtime and process collectors.
func setupMetrics() (http.Handler, *metrics.RelayMetrics) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{}), metrics.NewRelayMetrics(reg)
}

// buildServer wires every component from cfg. The returned cleanup releases
// pools and clients.
func buildServer(ctx context.Context, cfg *appconfig.Config, logger *logging.Logger) (http.Handler, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	metricsHandler, relayMetrics := setupMetrics()
	errs := handlers.NewErrorWriter(logger, cfg.IsDevelopment())

	pool, err := bootstrap.BuildPostgresPool(ctx, cfg)
	if err != nil {
		return nil, cleanup, err
	}
	if pool != nil {
		closers = append(closers, pool.Close)
	}
	store := bootstrap.BuildStore(pool, logger)

	redisClient := bootstrap.BuildRedisClient(ctx, cfg, logger, true)
	if redisClient != nil {
		closers = append(closers, func() { _ = redisClient.Close() })
	}
	locker := bootstrap.BuildLocker(redisClient, cfg, logger)

	wa, err := whatsapp.NewClient(whatsapp.Config{
		BaseURL:     cfg.WhatsAppAPIBaseURL,
		AccessToken: cfg.WhatsAppAccessToken,
		Logger:      logger,
	})
	if err != nil {
		return nil, cleanup, fmt.Errorf("whatsapp client: %w", err)
	}

	var mirror *media.S3Mirror
	if cfg.MediaBucket != "" {
		awsCfg, err := mainconfig.LoadAWSConfig(ctx, cfg)
		if err != nil {
			return nil, cleanup, fmt.Errorf("load aws config: %w", err)
		}
		mirror = bootstrap.BuildMediaMirror(cfg, mainconfig.NewS3Client(awsCfg, cfg), wa, logger)
	}

	assistantStack, err := bootstrap.BuildAssistant(cfg, store, relayMetrics, logger)
	if err != nil {
		return nil, cleanup, err
	}

	pipeline := messaging.NewPipeline(messaging.PipelineConfig{
		Store:   store,
		Media:   wa,
		Mirror:  mirror,
		Logger:  logger,
		Metrics: relayMetrics,
	})
	serviceCfg := messaging.ServiceConfig{
		Store:   store,
		Gateway: wa,
		Locker:  locker,
		Logger:  logger,
		Metrics: relayMetrics,
	}
	var assistantHandler *handlers.AssistantHandler
	if assistantStack != nil {
		serviceCfg.Processor = assistantStack.Orchestrator
		assistantHandler = handlers.NewAssistantHandler(handlers.AssistantHandlerConfig{
			Client:             assistantStack.Client,
			DefaultAssistantID: cfg.DefaultAssistantID,
			Poll:               assistant.PollOptions{Interval: cfg.AssistantPollInterval, Timeout: cfg.AssistantPollTimeout},
			Errors:             errs,
		})
	}
	service := messaging.NewService(serviceCfg)

	if cfg.WhatsAppAppSecret == "" {
		logger.Warn("WHATSAPP_APP_SECRET not set; webhook signatures are not verified")
	}
	if cfg.PrivateAPIJWTSecret == "" {
		logger.Warn("PRIVATE_API_JWT_SECRET not set; private routes are unauthenticated")
	}

	handler := router.New(&router.Config{
		Logger: logger,
		Errors: errs,
		Health: handlers.NewHealthHandler(store, logger),
		Webhook: handlers.NewWebhookHandler(handlers.WebhookConfig{
			Ingester:    pipeline,
			VerifyToken: cfg.WhatsAppVerifyToken,
			AppSecret:   cfg.WhatsAppAppSecret,
			Errors:      errs,
			Logger:      logger,
		}),
		Messages:           handlers.NewMessagesHandler(service, errs),
		Assistant:          assistantHandler,
		MetricsHandler:     metricsHandler,
		PrivateAuthSecret:  cfg.PrivateAPIJWTSecret,
		CORSAllowedOrigins: cfg.CORSAllowedOrigins,
	})
	return handler, cleanup, nil
}
