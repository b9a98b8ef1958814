package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/pflag"

	"github.com/smukkama/vrisa/internal/database"
	"github.com/smukkama/vrisa/internal/gateway"
	"github.com/smukkama/vrisa/internal/queue"
	"github.com/smukkama/vrisa/pkg/config"
)

func main() {
	metricsAddr := pflag.String("metrics-addr", ":9100", "address serving /metrics")
	statsInterval := pflag.Duration("stats-interval", 30*time.Second, "how often to log connection statistics (0 disables)")
	pflag.Parse()

	cfg, err := config.Load()
	if err != nil {
		config.LogConfig{}.NewLogger(os.Stderr).Error("failed to load configuration", "error", err)
		os.Exit(1)
	}
	logger := cfg.Log.NewLogger(os.Stdout).With("service", "gateway")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := database.Connect(ctx, cfg.Database)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	if err := queue.CreateTopic(cfg.Kafka.Brokers, cfg.Kafka.TopicReadings, cfg.Kafka.NumPartitions, 1, logger); err != nil {
		logger.Warn("topic creation failed (may already exist)", "topic", cfg.Kafka.TopicReadings, "error", err)
	}
	producer := queue.NewProducerForTopic(cfg.Kafka, cfg.Kafka.TopicReadings)
	defer producer.Close()
	logger.Info("Kafka producer initialized",
		"topic", cfg.Kafka.TopicReadings, "batch", cfg.Kafka.BatchSize, "compression", cfg.Kafka.Compression)

	gw := gateway.NewServer(cfg.Gateway, db, queue.NewReadingPublisher(producer), logger)
	if err := gw.Start(); err != nil {
		logger.Error("failed to start gateway", "error", err)
		os.Exit(1)
	}
	defer gw.Stop()
	logger.Info("gateway listening", "port", cfg.Gateway.Port, "max_connections", cfg.Gateway.MaxConnections)

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	metricsServer := &http.Server{Addr: *metricsAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server failed", "error", err)
		}
	}()
	defer metricsServer.Close()

	if *statsInterval > 0 {
		go func() {
			ticker := time.NewTicker(*statsInterval)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					stats := gw.Connections().Stats()
					writer := producer.Stats()
					logger.Info("gateway statistics",
						"connections", stats.TotalConnections,
						"max_connections", stats.MaxConnections,
						"stations", stats.Stations,
						"kafka_messages", writer.Messages,
						"kafka_errors", writer.Errors,
					)
				}
			}
		}()
	}

	<-ctx.Done()
	logger.Info("shutting down")
}
