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

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/wolfman30/hotel-pms-backend/cmd/mainconfig"
	"github.com/wolfman30/hotel-pms-backend/internal/api/router"
	"github.com/wolfman30/hotel-pms-backend/internal/app/bootstrap"
	"github.com/wolfman30/hotel-pms-backend/internal/archive"
	"github.com/wolfman30/hotel-pms-backend/internal/audit"
	appconfig "github.com/wolfman30/hotel-pms-backend/internal/config"
	"github.com/wolfman30/hotel-pms-backend/internal/decisions"
	"github.com/wolfman30/hotel-pms-backend/internal/frontdesk"
	"github.com/wolfman30/hotel-pms-backend/internal/http/handlers"
	httpmiddleware "github.com/wolfman30/hotel-pms-backend/internal/http/middleware"
	"github.com/wolfman30/hotel-pms-backend/internal/observability/metrics"
	"github.com/wolfman30/hotel-pms-backend/internal/overstay"
	"github.com/wolfman30/hotel-pms-backend/internal/payments"
	"github.com/wolfman30/hotel-pms-backend/internal/rooms"
	"github.com/wolfman30/hotel-pms-backend/pkg/logging"
)

const sweepLockKey = "hotel:overstay:sweep"

func main() {
	// .env is optional; real deployments inject the environment.
	_ = godotenv.Load()

	cfg := appconfig.Load()
	logger := logging.New(cfg.LogLevel)
	logger.Info("starting hotel booking API server",
		"env", cfg.Env,
		"port", cfg.Port,
		"gateway", cfg.PaymentGateway,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("server exited with error", "error", err)
		os.Exit(1)
	}
	logger.Info("server stopped")
}

func run(ctx context.Context, cfg *appconfig.Config, logger *logging.Logger) error {
	var clients *mainconfig.AWSClients
	if awsCfg, err := mainconfig.LoadAWSConfig(ctx, cfg); err != nil {
		logger.Warn("AWS config unavailable; SQS, S3, DynamoDB and SES disabled", "error", err)
	} else {
		clients = mainconfig.NewAWSClients(awsCfg, cfg)
	}

	db, err := bootstrap.BuildDatabase(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer db.Close()

	redisClient := bootstrap.BuildRedisClient(ctx, cfg, logger, true)
	if redisClient != nil {
		defer redisClient.Close()
	}

	metricsHandler, bookingMetrics := setupMetrics()
	app, err := buildApp(cfg, logger, db, redisClient, clients, bookingMetrics, metricsHandler)
	if err != nil {
		return err
	}

	workers, cancelWorkers := context.WithCancel(context.Background())
	defer cancelWorkers()
	go app.publisher.Start(workers)
	if app.scheduler != nil {
		go app.scheduler.Start(workers)
	}

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      app.handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("listen: %w", err)
		}
	case <-ctx.Done():
	}

	logger.Info("shutting down server...")
	cancelWorkers()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}
	return nil
}

func setupMetrics() (http.Handler, *metrics.BookingMetrics) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{}), metrics.NewBookingMetrics(reg)
}

type application struct {
	handler   http.Handler
	publisher *bootstrap.Publisher
	scheduler *overstay.Scheduler
}

func buildApp(
	cfg *appconfig.Config,
	logger *logging.Logger,
	db *bootstrap.Database,
	redisClient *redis.Client,
	clients *mainconfig.AWSClients,
	bookingMetrics *metrics.BookingMetrics,
	metricsHandler http.Handler,
) (*application, error) {
	if clients == nil {
		clients = &mainconfig.AWSClients{}
	}

	gateway, err := bootstrap.BuildGateway(cfg, logger)
	if err != nil {
		return nil, err
	}
	webhookSecret := cfg.StripeWebhookSecret
	if webhookSecret == "" && gateway.Name() == "fake" {
		// The local checkout signs its own events.
		webhookSecret = "whsec_local_" + uuid.NewString()
	}

	store := bootstrap.BuildBookingStore(db, cfg, logger)
	idem := bootstrap.BuildIdempotencyStore(cfg, redisClient, clients.DynamoDB, logger)
	publisher := bootstrap.BuildPublisher(db, clients.SQS, cfg, logger)
	alerter := bootstrap.BuildAlerter(cfg, clients.SES, logger)
	detector := rooms.NewDetector(cfg.MaxRoomAlternatives)

	memoryLog := audit.NewMemoryLog()
	var (
		recorder  audit.Recorder = memoryLog
		auditView audit.Querier  = memoryLog
		health    router.HealthChecker
	)
	if db != nil {
		staffLog := audit.NewStaffLog(db.SQL)
		recorder, auditView = staffLog, staffLog
		health = db.SQL
	}

	var s3Client archive.S3API
	if clients.S3 != nil {
		s3Client = clients.S3
	}
	webhookArchive := archive.NewWebhookArchive(s3Client, cfg.WebhookArchiveBucket, logger)

	auth := payments.NewAuthorizationService(store, gateway, idem, cfg.PaymentSessionTTL, bookingMetrics, logger)
	processor := payments.NewWebhookProcessor(payments.WebhookConfig{
		Store:       store,
		Gateway:     gateway,
		Idempotency: idem,
		Publisher:   publisher,
		Archiver:    webhookArchive,
		Alerter:     alerter,
		Metrics:     bookingMetrics,
		Secret:      webhookSecret,
		Logger:      logger,
	})
	desk := frontdesk.NewService(frontdesk.Config{
		Store:     store,
		Gateway:   gateway,
		Rooms:     detector,
		Publisher: publisher,
		Alerter:   alerter,
		Audit:     recorder,
		Logger:    logger,
	})
	decider := decisions.NewService(decisions.Config{
		Store:       store,
		Gateway:     gateway,
		Idempotency: idem,
		Publisher:   publisher,
		Alerter:     alerter,
		Audit:       recorder,
		Metrics:     bookingMetrics,
		Logger:      logger,
	})
	stays := overstay.NewService(overstay.ServiceConfig{
		Store:     store,
		Sessions:  auth,
		Gateway:   gateway,
		Rooms:     detector,
		Publisher: publisher,
		Alerter:   alerter,
		Audit:     recorder,
		Metrics:   bookingMetrics,
		Logger:    logger,
	})
	processor.SetExtensionCompleter(stays)
	processor.SetAutoApprover(decider)

	var scheduler *overstay.Scheduler
	if cfg.OverstaySweepEnabled {
		var lock overstay.SweepLock
		if redisClient != nil {
			lock = overstay.NewRedisSweepLock(redisClient, sweepLockKey)
		}
		scheduler = overstay.NewScheduler(overstay.NewDetector(store, publisher, bookingMetrics, logger), lock, cfg.OverstaySweepInterval, logger)
	}

	var limiter *httpmiddleware.RateLimiter
	if cfg.WebhookRateLimit > 0 {
		limiter = httpmiddleware.NewRateLimiter(cfg.WebhookRateLimit, int(cfg.WebhookRateLimit)*2+1)
	}

	routerCfg := &router.Config{
		Logger:             logger,
		StripeWebhook:      handlers.NewStripeWebhookHandler(processor, logger),
		InternalBookings:   handlers.NewInternalBookingsHandler(auth, desk, logger),
		StaffBookings:      handlers.NewStaffBookingsHandler(store, decider, desk, stays, logger),
		Ops:                handlers.NewOpsHandler(store, webhookArchive, logger).WithAudit(auditView),
		WebhookLimiter:     limiter,
		MetricsHandler:     metricsHandler,
		CORSAllowedOrigins: cfg.CORSAllowedOrigins,
		StaffAuthSecret:    cfg.StaffJWTSecret,
		ServiceKey:         cfg.InternalServiceKey,
		DB:                 health,
	}
	if gateway.Name() == "fake" {
		routerCfg.FakeCheckout = handlers.NewFakeCheckoutHandler(store, processor, webhookSecret, logger)
	}

	return &application{
		handler:   router.New(routerCfg),
		publisher: publisher,
		scheduler: scheduler,
	}, nil
}
