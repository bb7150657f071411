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

	"github.com/joho/godotenv"
	_ "github.com/lib/pq"

	"github.com/miteshpedhadiya2/microservices-rabbitmq-simulation/internal/broker"
	"github.com/miteshpedhadiya2/microservices-rabbitmq-simulation/internal/cache"
	"github.com/miteshpedhadiya2/microservices-rabbitmq-simulation/internal/config"
	"github.com/miteshpedhadiya2/microservices-rabbitmq-simulation/internal/database"
	"github.com/miteshpedhadiya2/microservices-rabbitmq-simulation/internal/health"
	"github.com/miteshpedhadiya2/microservices-rabbitmq-simulation/internal/logger"
	"github.com/miteshpedhadiya2/microservices-rabbitmq-simulation/internal/models"
	"github.com/miteshpedhadiya2/microservices-rabbitmq-simulation/internal/worker"
)

const role = config.RoleNotification

func main() {
	var dev bool
	flag.BoolVar(&dev, "dev", false, "Enable godotenv")
	flag.Parse()

	logger := logger.New().With("service", "notification")

	if dev {
		if err := godotenv.Load(); err != nil {
			logger.Error("Error loading .env file", "error", err)
			os.Exit(1)
		}
	}

	if err := run(logger); err != nil {
		logger.Error("Notification service stopped", "error", err)
		os.Exit(1)
	}
	logger.Info("Worker shutdown complete.")
}

func run(log *slog.Logger) error {
	cfg, err := config.Load(role)
	if err != nil {
		return err
	}
	if err := logger.SetLevel(cfg.LogLevel); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	status := health.New(string(role))
	if cfg.HTTP.HealthPort != "" {
		srv := serveHealth(log, status, cfg.HTTP.HealthPort)
		defer shutdown(log, srv)
	}

	h := &handler{logger: log}

	if cfg.Database.Enabled() {
		db, err := database.NewConnection(ctx, cfg.Database)
		if err != nil {
			return fmt.Errorf("failed to connect to database: %w", err)
		}
		defer db.Close()

		if err := database.Migrate(ctx, db); err != nil {
			return err
		}
		h.notifications = models.NewModels(db).Notifications
	}

	var opts []worker.Option
	if cfg.Redis.Enabled() {
		c := cache.New(cfg.Redis)
		defer c.Close()
		if err := c.Ping(ctx); err != nil {
			return fmt.Errorf("failed to connect to Redis: %w", err)
		}
		opts = append(opts, worker.WithCounter(c.AttemptCounter(cache.DefaultAttemptsTTL)))
	}

	queue := cfg.Topology.QueueFor(role)
	dlq := cfg.Topology.DeadLetterQueue(queue)

	connector := broker.NewConnector(cfg.Broker.URL,
		broker.RetryPolicy{MaxAttempts: cfg.Broker.MaxRetries, Delay: cfg.Broker.RetryDelay},
		broker.WithLogger(log),
		broker.WithConnectTimeout(cfg.Broker.ConnectTimeout),
		broker.WithConnectionName("notification-service"),
	)

	runner := worker.NewRunner(connector, worker.RunnerConfig{
		Topology: broker.Topology{
			Exchange:     cfg.Topology.Exchange,
			ExchangeType: broker.OrderEventsExchangeType,
			RoutingKey:   cfg.Topology.RoutingKey,
		},
		Queue: broker.DurableQueue(queue, dlq),
		Session: broker.SessionOptions{
			Prefetch: cfg.Consumer.Prefetch,
			Confirm:  cfg.Publish.Confirm,
			AppID:    "notification-service",
			Logger:   log,
		},
		Worker: worker.Config{
			Queue:           queue,
			DeadLetterQueue: dlq,
			MaxAttempts:     cfg.Consumer.MaxAttempts,
		},
		ReconnectDelay: cfg.Broker.RetryDelay,
	}, h, status, log, opts...)

	log.Info(" [*] Waiting for messages. To exit press CTRL+C", "queue", queue)

	if err := runner.Run(ctx); err != nil {
		if cfg.HTTP.HealthPort == "" {
			return err
		}
		// Keep reporting unready until the orchestrator stops us.
		log.Error("Consumer stopped, staying unready until shutdown", "error", err)
		<-ctx.Done()
	}

	log.Info("Shutting down worker...")
	return nil
}

func serveHealth(log *slog.Logger, status *health.Status, port string) *http.Server {
	mux := http.NewServeMux()
	status.Register(mux)

	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           mux,
		ErrorLog:          slog.NewLogLogger(log.Handler(), slog.LevelError),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("Health server failed", "error", err)
		}
	}()
	return srv
}

func shutdown(log *slog.Logger, srv *http.Server) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Warn("Failed to shut down health server", "error", err)
	}
}
