package notification

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/smukkama/vrisa/internal/database"
	"github.com/smukkama/vrisa/internal/protocol"
	"github.com/smukkama/vrisa/pkg/config"
)

type sentMail struct {
	from string
	to   []string
	msg  string
}

type recordingSender struct {
	sent   []sentMail
	failTo string
}

func (s *recordingSender) Send(from string, to []string, msg []byte) error {
	if len(to) == 1 && to[0] == s.failTo {
		return errors.New("mailbox unavailable")
	}
	s.sent = append(s.sent, sentMail{from: from, to: to, msg: string(msg)})
	return nil
}

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

func testEvent() *protocol.AlertEvent {
	return &protocol.AlertEvent{
		EventID:   "evt-1",
		Type:      protocol.AlertEventOpened,
		AlertID:   5,
		StationID: 7,
		AlertDate: time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC),
		Pollutants: []protocol.PollutantLevel{
			{Pollutant: "PM25", Level: 80, Threshold: 50},
		},
		Recipients: []database.Recipient{
			{AuthorizedProfileID: 20, Name: "Ana", Email: "ana@example.com"},
			{AuthorizedProfileID: 21, Name: "Luis", Email: "luis@example.com"},
		},
	}
}

func TestDeliver_OneMailPerRecipient(t *testing.T) {
	sender := &recordingSender{}
	m := NewMailerWithSender("alerts@vrisa.example.com", sender, discard)

	if err := m.Deliver(context.Background(), testEvent()); err != nil {
		t.Fatalf("Deliver failed: %v", err)
	}
	if len(sender.sent) != 2 {
		t.Fatalf("Expected 2 emails, got %d", len(sender.sent))
	}

	first := sender.sent[0]
	if first.to[0] != "ana@example.com" || first.from != "alerts@vrisa.example.com" {
		t.Errorf("Unexpected envelope: %+v", first)
	}
	for _, want := range []string{"Subject: VRISA alert OPENED - station 7", "Hello Ana", "PM25: 80 (threshold 50)", "Alert ID: 5"} {
		if !strings.Contains(first.msg, want) {
			t.Errorf("Expected message to contain %q, got:\n%s", want, first.msg)
		}
	}
}

func TestDeliver_ContinuesAfterFailure(t *testing.T) {
	sender := &recordingSender{failTo: "ana@example.com"}
	m := NewMailerWithSender("alerts@vrisa.example.com", sender, discard)

	err := m.Deliver(context.Background(), testEvent())
	if err == nil {
		t.Fatal("Expected an error for the failed recipient")
	}
	if !strings.Contains(err.Error(), "ana@example.com") {
		t.Errorf("Expected error to name the recipient, got %v", err)
	}
	if len(sender.sent) != 1 || sender.sent[0].to[0] != "luis@example.com" {
		t.Errorf("Expected delivery to continue for luis, got %+v", sender.sent)
	}
}

func TestDeliver_SkipsRecipientWithoutEmail(t *testing.T) {
	sender := &recordingSender{}
	m := NewMailerWithSender("alerts@vrisa.example.com", sender, discard)

	event := testEvent()
	event.Recipients[0].Email = ""
	if err := m.Deliver(context.Background(), event); err != nil {
		t.Fatalf("Deliver failed: %v", err)
	}
	if len(sender.sent) != 1 {
		t.Errorf("Expected 1 email, got %d", len(sender.sent))
	}
}

func TestNewMailer_UnconfiguredLogsOnly(t *testing.T) {
	m := NewMailer(config.SMTPConfig{Host: "localhost", Port: 25, From: "a@b.c"}, discard)
	if m.sender != nil {
		t.Fatal("Expected no sender without credentials")
	}
	if err := m.Deliver(context.Background(), testEvent()); err != nil {
		t.Errorf("Expected unconfigured delivery to succeed, got %v", err)
	}
}

func TestHandleMessage(t *testing.T) {
	sender := &recordingSender{}
	m := NewMailerWithSender("alerts@vrisa.example.com", sender, discard)

	event := testEvent()
	event.Type = protocol.AlertEventNotified
	payload, err := protocol.EncodeAlertEvent(event)
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	if err := m.HandleMessage(context.Background(), kafka.Message{Value: payload}); err != nil {
		t.Fatalf("HandleMessage failed: %v", err)
	}
	if len(sender.sent) != 2 {
		t.Fatalf("Expected 2 emails, got %d", len(sender.sent))
	}
	if !strings.Contains(sender.sent[0].msg, "Subject: VRISA alert - station 7") {
		t.Errorf("Expected notified subject, got:\n%s", sender.sent[0].msg)
	}

	if err := m.HandleMessage(context.Background(), kafka.Message{Value: []byte("not json")}); err == nil {
		t.Error("Expected decode error")
	}
}
