package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"orderly/config"
	"orderly/internal/broker"
	"orderly/internal/models"
	"orderly/internal/redisclient"
	"orderly/internal/service"
	"orderly/internal/store"
	"orderly/internal/util"
	"orderly/internal/worker"

	"go.uber.org/zap"
)

func main() {
	cfg := config.Load()
	if err := cfg.ValidateWorker(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	if err := util.InitLogger(cfg.Server.Env); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer util.SyncLogger()

	logger := util.GetLogger()
	logger.Info("Starting payment consumer")

	tp, err := util.InitTracer(cfg.Observ.ServiceName+"-payments", cfg.Observ.JaegerEndpoint)
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

	redisClient, err := redisclient.NewClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		logger.Fatal("Failed to connect to Redis", zap.Error(err))
	}
	defer redisClient.Close()

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

	// no hub in this process; the API relays payment.processed to its subscribers
	products := store.NewCachedProducts(db, redisClient, cfg.Redis.CacheTTL)
	orderService := service.NewOrderService(db, publisher, products, nil)

	gateway := service.NewFakeGateway(
		time.Duration(cfg.Business.PaymentLatencyMillis)*time.Millisecond,
		cfg.Business.PaymentSuccessRate,
		cfg.Redis.IdempotencyTTL,
	)
	paymentService := service.NewPaymentService(orderService, gateway, redisClient, publisher, service.PaymentConfig{
		IdempotencyTTL: cfg.Redis.IdempotencyTTL,
		GatewayTimeout: time.Duration(cfg.Business.PaymentTimeoutSeconds) * time.Second,
	})

	consumer := broker.NewConsumer(conn, topology, models.EventTypeOrderCreated, cfg.RabbitMQ.PrefetchCount)
	paymentWorker := worker.NewPaymentWorker(consumer, paymentService)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := paymentWorker.Start(ctx); err != nil {
			logger.Error("Payment worker error", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
	case <-done:
	}

	// stops new deliveries, requeues unstarted ones and drains in-flight payments
	logger.Info("Shutting down payment consumer...")
	cancel()
	<-done
	logger.Info("Payment consumer exited")
}
