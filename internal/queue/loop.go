package queue

import (
	"context"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"
)

// MessageSource is the consuming side of a topic. *Consumer satisfies it.
type MessageSource interface {
	Consume(ctx context.Context) (kafka.Message, error)
	Commit(ctx context.Context, msg kafka.Message) error
}

// HandlerFunc processes one message.
type HandlerFunc func(ctx context.Context, msg kafka.Message) error

const fetchRetryDelay = time.Second

// Run feeds messages from src to handle until ctx is done. Every message
// is committed after handling, whether or not the handler failed; failures
// are logged and the message is not retried.
func Run(ctx context.Context, src MessageSource, handle HandlerFunc, logger *slog.Logger) {
	for {
		msg, err := src.Consume(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			logger.Error("failed to consume message", "error", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(fetchRetryDelay):
			}
			continue
		}

		if err := handle(ctx, msg); err != nil {
			logger.Error("failed to handle message",
				"topic", msg.Topic, "partition", msg.Partition, "offset", msg.Offset, "error", err)
		}

		if err := src.Commit(ctx, msg); err != nil && ctx.Err() == nil {
			logger.Error("failed to commit offset", "offset", msg.Offset, "error", err)
		}
	}
}
