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

	"campus-market/config"
	"campus-market/internal/api"
	"campus-market/internal/broker"
	"campus-market/internal/paystack"
	"campus-market/internal/redisclient"
	"campus-market/internal/service"
	"campus-market/internal/store"
	"campus-market/internal/util"
	"campus-market/internal/worker"

	"github.com/gin-gonic/gin"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/zap"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	if err := util.InitLogger(cfg.Server.Env, cfg.Observ.LogLevel); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer util.SyncLogger()

	logger := util.GetLogger()
	logger.Info("Starting campus-market order service", zap.String("env", cfg.Server.Env))

	var tp *sdktrace.TracerProvider
	if cfg.Observ.TracingEnabled {
		tp, err = util.InitTracer("campus-market", cfg.Observ.JaegerEndpoint)
		if err != nil {
			logger.Fatal("Failed to initialize tracer", zap.Error(err))
		}
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		util.ShutdownTracer(ctx, tp)
	}()

	db, err := store.NewStore(cfg.Database.URL)
	if err != nil {
		logger.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer db.Close()

	ctx := context.Background()
	if err := db.Migrate(ctx); err != nil {
		logger.Fatal("Failed to migrate database", zap.Error(err))
	}
	logger.Info("Database connected")

	redisClient, err := redisclient.NewClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		logger.Fatal("Failed to connect to Redis", zap.Error(err))
	}
	defer redisClient.Close()
	logger.Info("Redis connected")

	producer := broker.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.TopicOrder)
	defer producer.Close()
	logger.Info("Kafka producer initialized", zap.String("topic", cfg.Kafka.TopicOrder))

	eventPublisher := broker.NewEventPublisher(producer)

	if cfg.Paystack.SecretKey == "" {
		logger.Warn("PAYSTACK_SECRET_KEY is not set; online payments and webhooks will fail")
	}
	gateway := paystack.NewClient(paystack.Config{
		BaseURL:   cfg.Paystack.BaseURL,
		SecretKey: cfg.Paystack.SecretKey,
		Timeout:   cfg.Paystack.VerifyTimeout,
	})

	reconciler := service.NewPaymentReconciler(gateway, db, db, db, eventPublisher,
		cfg.Business.Currency, cfg.Paystack.CallbackURL)
	ledger := service.NewStockLedger(db, redisClient)
	orderService := service.NewOrderService(
		db, db, db, redisClient,
		service.NewOrderValidator(db, cfg.Business.EnforceCatalogPrices),
		reconciler, ledger, eventPublisher,
		service.OrderServiceConfig{
			Currency: cfg.Business.Currency,
			LockTTL:  cfg.Business.OrderLockTTL,
		},
	)
	notificationService := service.NewNotificationService(db)

	if cfg.Business.SyncStockOnStartup {
		if err := ledger.SyncStockToCache(ctx); err != nil {
			logger.Warn("Failed to sync stock to Redis", zap.Error(err))
		}
	}

	workerCtx, workerCancel := context.WithCancel(context.Background())
	defer workerCancel()

	consumer := broker.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.TopicOrder, cfg.Kafka.ConsumerGroup)
	notificationWorker := worker.NewNotificationWorker(consumer, notificationService)
	go func() {
		if err := notificationWorker.Start(workerCtx); err != nil && err != context.Canceled {
			logger.Error("Notification worker error", zap.Error(err))
		}
	}()

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Logger())
	if cfg.Auth.JWTSecret == "" {
		logger.Warn("JWT_SECRET is not set")
	}
	handler := api.NewHandler(orderService, reconciler, notificationService, api.HandlerOptions{
		Verifier: api.NewTokenVerifier(cfg.Auth.JWTSecret, cfg.Auth.Issuer),
		Dependencies: map[string]api.Pinger{
			"postgres": db,
			"redis":    redisClient,
		},
		Production: cfg.IsProduction(),
	})
	handler.SetupRoutes(router)

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

	logger.Info("Shutting down server")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", zap.Error(err))
	}

	workerCancel()
	if err := notificationWorker.Stop(); err != nil {
		logger.Error("Failed to stop notification worker", zap.Error(err))
	}

	logger.Info("Server exited")
}
