package queue

import (
	"context"
	"fmt"
	"strconv"

	"github.com/smukkama/vrisa/internal/protocol"
)

// publisher is the part of Producer the typed publishers need.
type publisher interface {
	Publish(ctx context.Context, key string, value []byte) error
}

// ReadingPublisher writes device samples to the readings topic.
type ReadingPublisher struct {
	producer publisher
}

func NewReadingPublisher(p publisher) *ReadingPublisher {
	return &ReadingPublisher{producer: p}
}

// PublishReading keys the record by station so that one station's
// readings stay ordered within a partition.
func (r *ReadingPublisher) PublishReading(ctx context.Context, msg *protocol.ReadingMessage) error {
	data, err := protocol.EncodeReadingMessage(msg)
	if err != nil {
		return fmt.Errorf("failed to encode reading: %w", err)
	}
	return r.producer.Publish(ctx, strconv.FormatInt(msg.StationID, 10), data)
}

// AlertPublisher writes alert events to the alerts topic.
type AlertPublisher struct {
	producer publisher
}

func NewAlertPublisher(p publisher) *AlertPublisher {
	return &AlertPublisher{producer: p}
}

func (a *AlertPublisher) PublishAlertEvent(ctx context.Context, event *protocol.AlertEvent) error {
	data, err := protocol.EncodeAlertEvent(event)
	if err != nil {
		return fmt.Errorf("failed to encode alert event: %w", err)
	}
	return a.producer.Publish(ctx, strconv.FormatInt(event.StationID, 10), data)
}
