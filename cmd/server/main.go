package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/pflag"

	"github.com/smukkama/vrisa/internal/api"
	"github.com/smukkama/vrisa/internal/auth"
	"github.com/smukkama/vrisa/internal/database"
	"github.com/smukkama/vrisa/internal/queue"
	"github.com/smukkama/vrisa/pkg/config"
)

func main() {
	migrate := pflag.Bool("migrate", true, "apply pending migrations on startup")
	pflag.Parse()

	cfg, err := config.Load()
	if err != nil {
		config.LogConfig{}.NewLogger(os.Stderr).Error("failed to load configuration", "error", err)
		os.Exit(1)
	}
	logger := cfg.Log.NewLogger(os.Stdout)

	if err := cfg.Auth.Validate(); err != nil {
		logger.Error("invalid auth configuration", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := database.Connect(ctx, cfg.Database)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer db.Close()
	logger.Info("connected to database", "host", cfg.Database.Host, "db", cfg.Database.DBName)

	if *migrate {
		if err := db.RunMigrations(ctx, cfg.HTTP.MigrationsDir, logger); err != nil {
			logger.Error("failed to run migrations", "error", err)
			os.Exit(1)
		}
	}

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer redisClient.Close()
	if err := redisClient.Ping(ctx).Err(); err != nil {
		logger.Error("failed to connect to Redis", "error", err)
		os.Exit(1)
	}
	logger.Info("connected to Redis", "addr", cfg.Redis.Addr)

	if err := queue.CreateTopic(cfg.Kafka.Brokers, cfg.Kafka.TopicAlerts, 1, 1, logger); err != nil {
		logger.Warn("topic creation failed (may already exist)", "topic", cfg.Kafka.TopicAlerts, "error", err)
	}
	alertProducer := queue.NewProducerForTopic(cfg.Kafka, cfg.Kafka.TopicAlerts)
	defer alertProducer.Close()

	srv := api.NewServer(cfg.HTTP, cfg.Auth, db, api.Options{
		Revocations: auth.NewRevocations(redisClient),
		Redis:       redisClient,
		Events:      queue.NewAlertPublisher(alertProducer),
	}, logger)

	httpServer := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           srv.Router(),
		ReadHeaderTimeout: cfg.HTTP.ReadHeaderTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("HTTP API listening", "addr", cfg.HTTP.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		logger.Error("HTTP server failed", "error", err)
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", "error", err)
	}
}
