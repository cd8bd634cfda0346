package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"sales-service/config"
	"sales-service/internal/api"
	"sales-service/internal/breaker"
	"sales-service/internal/broker"
	"sales-service/internal/clients"
	"sales-service/internal/payments"
	"sales-service/internal/redisclient"
	"sales-service/internal/service"
	"sales-service/internal/store"
	"sales-service/internal/util"
	"sales-service/internal/worker"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

func main() {

	cfg := config.Load()

	if err := util.InitLogger(cfg.Server.Env, cfg.Observ.LogLevel); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer util.SyncLogger()

	logger := util.GetLogger()
	logger.Info("Starting sales service")

	tp, err := util.InitTracer(util.TracerOptions{
		ServiceName:    "sales-service",
		Environment:    cfg.Server.Env,
		JaegerEndpoint: cfg.Observ.JaegerEndpoint,
		SampleRatio:    cfg.Observ.TraceSampleRatio,
	})
	if err != nil {
		logger.Fatal("Failed to initialize tracer", zap.Error(err))
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tp.Shutdown(ctx); err != nil {
			logger.Warn("Error shutting down tracer", zap.Error(err))
		}
	}()

	if cfg.Database.AutoMigrate {
		if err := store.MigrateUp(cfg.Database.URL); err != nil {
			logger.Fatal("Failed to migrate database", zap.Error(err))
		}
		logger.Info("Database schema up to date")
	}

	db, err := store.NewStore(cfg.Database.URL)
	if err != nil {
		logger.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer db.Close()
	logger.Info("Database connected")

	redisClient, err := redisclient.NewClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		logger.Fatal("Failed to connect to Redis", zap.Error(err))
	}
	defer redisClient.Close()
	logger.Info("Redis connected")

	salesProducer := broker.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.TopicSales)
	defer salesProducer.Close()
	retryProducer := broker.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.TopicRetry)
	defer retryProducer.Close()
	logger.Info("Kafka producers initialized")

	eventPublisher := broker.NewEventPublisher(salesProducer, retryProducer)

	registry := breaker.NewRegistry(breaker.DefaultSettings())
	for _, name := range config.BreakerNames {
		bc := cfg.Breakers.For(name)
		registry.Register(breaker.Settings{
			Name:                     name,
			ErrorThresholdPercentage: bc.ErrorThresholdPercentage,
			RequestVolumeThreshold:   bc.RequestVolumeThreshold,
			SleepWindow:              bc.SleepWindow,
			Timeout:                  bc.Timeout,
			MaxConcurrentRequests:    bc.MaxConcurrentRequests,
		})
	}

	identity := clients.NewIdentityClient(cfg.Services.IdentityURL, cfg.Services.HTTPTimeout, registry)
	catalog := clients.NewCatalogClient(cfg.Services.CatalogURL, cfg.Services.HTTPTimeout, registry)
	delivery := clients.NewDeliveryClient(cfg.Services.DeliveryURL, cfg.Services.HTTPTimeout, registry)

	if cfg.Stripe.SecretKey == "" {
		logger.Warn("STRIPE_SECRET_KEY is not set, provider calls will fail")
	}
	gateway := payments.NewGateway(payments.NewStripeProvider(cfg.Stripe.SecretKey), registry)

	deps := service.Dependencies{
		Profiles:      db,
		Payments:      db,
		Subscriptions: db,
		History:       db,
		Catalog:       catalog,
		Gateway:       gateway,
		Delivery:      delivery,
		Events:        eventPublisher,
		Idempotency:   redisClient,
		Locker:        redisClient,
	}
	opts := service.OptionsFromConfig(cfg)

	purchases := service.NewPurchaseOrchestrator(deps, opts)
	subscriptions := service.NewSubscriptionLifecycleManager(deps, opts)
	history := service.NewHistoryService(db, opts)
	profiles := service.NewBillingProfileService(db, opts)

	workerCtx, workerCancel := context.WithCancel(context.Background())
	defer workerCancel()

	retryConsumer := broker.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.TopicRetry, cfg.Kafka.ConsumerGroup)
	retryWorker := worker.NewRetryWorker(retryConsumer, db, delivery, eventPublisher, worker.Config{
		MaxAttempts: cfg.Business.RetryMaxAttempts,
		BaseDelay:   cfg.Business.RetryBaseDelay,
	})
	go func() {
		if err := retryWorker.Start(workerCtx); err != nil && err != context.Canceled {
			logger.Error("Retry worker error", zap.Error(err))
		}
	}()

	if cfg.Server.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	handler := api.NewHandler(api.Services{
		Auth:            identity,
		Purchases:       purchases,
		Subscriptions:   subscriptions,
		History:         history,
		BillingProfiles: profiles,
		Breakers:        registry,
		Readiness: map[string]api.Pinger{
			"postgres": db,
			"redis":    redisClient,
		},
	})
	handler.SetupRoutes(router, cfg.Server.APIPrefix)

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.Server.Port),
		Handler: router,
	}

	go func() {
		logger.Info("Starting HTTP server", zap.String("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("Server forced to shutdown", zap.Error(err))
	}

	workerCancel()
	if err := retryWorker.Stop(); err != nil {
		logger.Warn("Error stopping retry worker", zap.Error(err))
	}

	logger.Info("Server exited")
}
