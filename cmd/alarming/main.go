package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/pflag"

	"github.com/smukkama/vrisa/internal/alarming"
	"github.com/smukkama/vrisa/internal/database"
	"github.com/smukkama/vrisa/internal/queue"
	"github.com/smukkama/vrisa/pkg/config"
)

func main() {
	group := pflag.String("group", "alarming-group", "Kafka consumer group")
	pflag.Parse()

	cfg, err := config.Load()
	if err != nil {
		config.LogConfig{}.NewLogger(os.Stderr).Error("failed to load configuration", "error", err)
		os.Exit(1)
	}
	logger := cfg.Log.NewLogger(os.Stdout).With("service", "alarming")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := database.Connect(ctx, cfg.Database)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

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

	if err := queue.CreateTopic(cfg.Kafka.Brokers, cfg.Kafka.TopicAlerts, 1, 1, logger); err != nil {
		logger.Warn("topic creation failed (may already exist)", "topic", cfg.Kafka.TopicAlerts, "error", err)
	}
	alertProducer := queue.NewProducerForTopic(cfg.Kafka, cfg.Kafka.TopicAlerts)
	defer alertProducer.Close()

	evaluator := alarming.NewEvaluator(db, alarming.NewStateManager(redisClient), queue.NewAlertPublisher(alertProducer), logger)

	consumer := queue.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.TopicReadings, *group)
	defer consumer.Close()

	logger.Info("alarming service running", "topic", cfg.Kafka.TopicReadings, "group", *group)
	queue.Run(ctx, consumer, evaluator.HandleMessage, logger)
	logger.Info("shutting down")
}
