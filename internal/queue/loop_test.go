package queue

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
)

// scriptedSource replays messages and then blocks until cancelled.
type scriptedSource struct {
	messages  []kafka.Message
	failFirst bool
	committed []int64
}

func (s *scriptedSource) Consume(ctx context.Context) (kafka.Message, error) {
	if s.failFirst {
		s.failFirst = false
		return kafka.Message{}, errors.New("broker unavailable")
	}
	if len(s.messages) == 0 {
		<-ctx.Done()
		return kafka.Message{}, ctx.Err()
	}
	msg := s.messages[0]
	s.messages = s.messages[1:]
	return msg, nil
}

func (s *scriptedSource) Commit(_ context.Context, msg kafka.Message) error {
	s.committed = append(s.committed, msg.Offset)
	return nil
}

func TestRun_CommitsEveryMessage(t *testing.T) {
	src := &scriptedSource{messages: []kafka.Message{{Offset: 1}, {Offset: 2}, {Offset: 3}}}
	ctx, cancel := context.WithCancel(context.Background())

	var handled []int64
	done := make(chan struct{})
	go func() {
		Run(ctx, src, func(_ context.Context, msg kafka.Message) error {
			handled = append(handled, msg.Offset)
			if msg.Offset == 2 {
				return errors.New("bad payload")
			}
			if msg.Offset == 3 {
				cancel()
			}
			return nil
		}, slog.New(slog.NewTextHandler(io.Discard, nil)))
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}

	if len(handled) != 3 {
		t.Errorf("Expected 3 handled messages, got %v", handled)
	}
	if len(src.committed) != 3 {
		t.Errorf("Expected failed messages to be committed too, got %v", src.committed)
	}
}

func TestRun_RetriesAfterFetchError(t *testing.T) {
	src := &scriptedSource{messages: []kafka.Message{{Offset: 9}}, failFirst: true}
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	got := make(chan int64, 1)
	go Run(ctx, src, func(_ context.Context, msg kafka.Message) error {
		got <- msg.Offset
		return nil
	}, slog.New(slog.NewTextHandler(io.Discard, nil)))

	select {
	case offset := <-got:
		if offset != 9 {
			t.Errorf("Expected offset 9, got %d", offset)
		}
	case <-ctx.Done():
		t.Fatal("Message was not delivered after fetch error")
	}
}
