package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"

	"github.com/miteshpedhadiya2/microservices-rabbitmq-simulation/internal/broker"
	"github.com/miteshpedhadiya2/microservices-rabbitmq-simulation/internal/cache"
	"github.com/miteshpedhadiya2/microservices-rabbitmq-simulation/internal/config"
	"github.com/miteshpedhadiya2/microservices-rabbitmq-simulation/internal/health"
	"github.com/miteshpedhadiya2/microservices-rabbitmq-simulation/internal/logger"
)

const appID = "order-service"

type application struct {
	logger      *slog.Logger
	publisher   orderPublisher
	idempotency idempotencyStore
	status      *health.Status
	authToken   string
	newID       func() string
}

func main() {
	var dev bool
	flag.BoolVar(&dev, "dev", false, "Enable godotenv")
	flag.Parse()

	logger := logger.New()

	if dev {
		if err := godotenv.Load(); err != nil {
			logger.Error("Error loading .env file", "error", err)
			os.Exit(1)
		}
	}

	if err := run(logger); err != nil {
		logger.Error("Order Service stopped", "error", err)
		os.Exit(1)
	}
}

func run(log *slog.Logger) error {
	cfg, err := config.Load(config.RoleOrder)
	if err != nil {
		return err
	}
	if err := logger.SetLevel(cfg.LogLevel); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	codec, err := broker.CodecFor(cfg.Publish.Codec)
	if err != nil {
		return err
	}

	connector := broker.NewConnector(cfg.Broker.URL,
		broker.RetryPolicy{MaxAttempts: cfg.Broker.MaxRetries, Delay: cfg.Broker.RetryDelay},
		broker.WithLogger(log),
		broker.WithConnectTimeout(cfg.Broker.ConnectTimeout),
		broker.WithConnectionName(appID),
	)

	var queues []broker.QueueDescriptor
	for _, q := range cfg.Topology.ProducerQueues() {
		queues = append(queues, broker.DurableQueue(q, cfg.Topology.DeadLetterQueue(q)))
	}

	app := &application{
		logger: log,
		publisher: broker.NewPublisher(connector, broker.PublisherConfig{
			Topology: broker.Topology{
				Exchange:     cfg.Topology.Exchange,
				ExchangeType: broker.OrderEventsExchangeType,
				RoutingKey:   cfg.Topology.RoutingKey,
			},
			Queues:  queues,
			Codec:   codec,
			Confirm: cfg.Publish.Confirm,
			AppID:   appID,
		}, log),
		status:    health.New(string(config.RoleOrder)),
		authToken: cfg.HTTP.AuthToken,
		newID:     uuid.NewString,
	}

	if cfg.Redis.Enabled() {
		c := cache.New(cfg.Redis)
		defer c.Close()
		if err := c.Ping(ctx); err != nil {
			return fmt.Errorf("failed to connect to Redis: %w", err)
		}
		app.idempotency = c
	}

	srv := &http.Server{
		Addr:        ":" + cfg.HTTP.Port,
		Handler:     app.routes(),
		ErrorLog:    slog.NewLogLogger(log.Handler(), slog.LevelError),
		ReadTimeout: 10 * time.Second,
		// Long enough for a publish that exhausts the connection retries.
		WriteTimeout: 2 * time.Minute,
		IdleTimeout:  time.Minute,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	app.status.SetReady()
	log.Info("Order Service is running", "port", cfg.HTTP.Port, "queues", cfg.Topology.ProducerQueues())

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	app.status.SetUnready("shutting down")
	log.Info("Shutting down Order Service...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}

	log.Info("Order Service shutdown complete.")
	return nil
}
