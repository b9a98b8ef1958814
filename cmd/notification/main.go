package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/smukkama/vrisa/internal/notification"
	"github.com/smukkama/vrisa/internal/queue"
	"github.com/smukkama/vrisa/pkg/config"
)

func main() {
	group := pflag.String("group", "notification-group", "Kafka consumer group")
	pflag.Parse()

	cfg, err := config.Load()
	if err != nil {
		config.LogConfig{}.NewLogger(os.Stderr).Error("failed to load configuration", "error", err)
		os.Exit(1)
	}
	logger := cfg.Log.NewLogger(os.Stdout).With("service", "notification")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.SMTP.Username == "" {
		logger.Warn("SMTP not configured, notifications will be logged only")
	}
	mailer := notification.NewMailer(cfg.SMTP, logger)

	consumer := queue.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.TopicAlerts, *group)
	defer consumer.Close()

	logger.Info("notification service running", "topic", cfg.Kafka.TopicAlerts, "group", *group)
	queue.Run(ctx, consumer, mailer.HandleMessage, logger)
	logger.Info("shutting down")
}
