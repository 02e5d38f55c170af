package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"orderly/config"
	"orderly/internal/api"
	"orderly/internal/broker"
	"orderly/internal/hub"
	"orderly/internal/models"
	"orderly/internal/redisclient"
	"orderly/internal/service"
	"orderly/internal/store"
	"orderly/internal/util"
	"orderly/internal/worker"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

func main() {
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	if err := util.InitLogger(cfg.Server.Env); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer util.SyncLogger()

	logger := util.GetLogger()
	logger.Info("Starting orderly API")

	tp, err := util.InitTracer(cfg.Observ.ServiceName, cfg.Observ.JaegerEndpoint)
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

	db, err := store.NewStore(cfg.Database.URL, cfg.Database.MaxOpenConns)
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

	conn := broker.Connect(cfg.RabbitMQ.URL, cfg.RabbitMQ.ReconnectMaxBackoff)
	defer conn.Close()

	topology := broker.Topology{
		Exchange:           cfg.RabbitMQ.Exchange,
		DeadLetterExchange: cfg.RabbitMQ.DeadLetterExchange,
		EventTypes:         []string{models.EventTypeOrderCreated},
		AuditEventTypes:    []string{models.EventTypePaymentProcessed},
		Audit: broker.AuditLimits{
			MaxLength: cfg.RabbitMQ.AuditMaxLength,
			TTL:       cfg.RabbitMQ.AuditTTL,
		},
		Retry: broker.RetryPolicy{
			MaxAttempts: cfg.Business.MaxRetryAttempts,
			BaseDelay:   cfg.Business.RetryDelayBase,
		},
	}
	publisher := broker.NewPublisher(conn, topology, cfg.RabbitMQ.ConfirmTimeout)
	defer publisher.Close()

	liveHub := hub.New()
	products := store.NewCachedProducts(db, redisClient, cfg.Redis.CacheTTL)
	orderService := service.NewOrderService(db, publisher, products, liveHub)
	cartService := service.NewCartService(db, products)

	workerCtx, workerCancel := context.WithCancel(context.Background())
	defer workerCancel()

	relay := worker.NewStatusRelay(
		broker.NewFanoutConsumer(conn, topology, models.EventTypePaymentProcessed, cfg.RabbitMQ.PrefetchCount),
		liveHub,
	)
	go func() {
		if err := relay.Start(workerCtx); err != nil {
			logger.Error("Status relay error", zap.Error(err))
		}
	}()

	if cfg.Server.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	auth := api.NewAuthenticator(cfg.Auth.JWTSecret, cfg.Auth.JWTIssuer, cfg.Auth.TokenTTL)
	router := gin.New()
	handler := api.NewHandler(orderService, cartService, auth, liveHub, map[string]api.ReadinessCheck{
		"database": db.Ping,
		"redis":    redisClient.Ping,
		"broker": func(context.Context) error {
			if !conn.IsConnected() {
				return broker.ErrNotConnected
			}
			return nil
		},
	})
	handler.SetupRoutes(router)

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.Server.Port),
		Handler: router,
	}

	go func() {
		logger.Info("Starting HTTP server", zap.String("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
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
		logger.Error("Server forced to shutdown", zap.Error(err))
	}

	relay.Stop()

	logger.Info("Server exited")
}
