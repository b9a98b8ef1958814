// Package notification delivers alert events to the authorized users
// listed as their recipients.
package notification

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/smtp"
	"strings"
	"text/template"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/smukkama/vrisa/internal/database"
	"github.com/smukkama/vrisa/internal/metrics"
	"github.com/smukkama/vrisa/internal/protocol"
	"github.com/smukkama/vrisa/pkg/config"
)

// Sender hands a fully formed message to a mail transport.
type Sender interface {
	Send(from string, to []string, msg []byte) error
}

type smtpSender struct {
	addr string
	auth smtp.Auth
}

func (s *smtpSender) Send(from string, to []string, msg []byte) error {
	return smtp.SendMail(s.addr, s.auth, from, to, msg)
}

// Mailer sends one e-mail per recipient of an alert event.
type Mailer struct {
	from   string
	sender Sender
	logger *slog.Logger
}

// NewMailer builds a mailer on the configured SMTP relay. Without
// credentials it only logs what it would have sent.
func NewMailer(cfg config.SMTPConfig, logger *slog.Logger) *Mailer {
	m := &Mailer{from: cfg.From, logger: logger}
	if cfg.Username != "" && cfg.Password != "" {
		m.sender = &smtpSender{
			addr: fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
			auth: smtp.PlainAuth("", cfg.Username, cfg.Password, cfg.Host),
		}
	}
	return m
}

// NewMailerWithSender builds a mailer on an explicit transport.
func NewMailerWithSender(from string, sender Sender, logger *slog.Logger) *Mailer {
	return &Mailer{from: from, sender: sender, logger: logger}
}

var bodyTemplate = template.Must(template.New("alert").Parse(`Hello {{.Name}},

{{if eq .Event.Type "ALERT_OPENED"}}A new air quality alert was opened{{else}}You have been notified of an air quality alert{{end}} for station {{if .Event.StationName}}{{.Event.StationName}} ({{.Event.StationID}}){{else}}{{.Event.StationID}}{{end}}.

Alert ID: {{.Event.AlertID}}
Alert date: {{.Event.AlertDate.Format "2006-01-02 15:04 MST"}}
{{range .Event.Pollutants}}
  {{.Pollutant}}: {{.Level}}{{if .Threshold}} (threshold {{.Threshold}}){{end}}{{end}}

You receive this message because you consult this station.

---
VRISA Notification System
`))

func subject(event *protocol.AlertEvent) string {
	if event.Type == protocol.AlertEventOpened {
		return fmt.Sprintf("VRISA alert OPENED - station %d", event.StationID)
	}
	return fmt.Sprintf("VRISA alert - station %d", event.StationID)
}

func (m *Mailer) render(event *protocol.AlertEvent, r database.Recipient) ([]byte, error) {
	var body bytes.Buffer
	err := bodyTemplate.Execute(&body, struct {
		Name  string
		Event *protocol.AlertEvent
	}{Name: r.Name, Event: event})
	if err != nil {
		return nil, fmt.Errorf("failed to render email: %w", err)
	}

	var msg bytes.Buffer
	fmt.Fprintf(&msg, "From: %s\r\n", m.from)
	fmt.Fprintf(&msg, "To: %s\r\n", r.Email)
	fmt.Fprintf(&msg, "Subject: %s\r\n", subject(event))
	fmt.Fprintf(&msg, "Date: %s\r\n", time.Now().Format(time.RFC1123Z))
	msg.WriteString("Content-Type: text/plain; charset=UTF-8\r\n")
	msg.WriteString("\r\n")
	msg.WriteString(strings.ReplaceAll(body.String(), "\n", "\r\n"))
	return msg.Bytes(), nil
}

// Deliver e-mails every recipient of the event. A failed recipient does
// not stop delivery to the rest; all failures are returned joined.
func (m *Mailer) Deliver(ctx context.Context, event *protocol.AlertEvent) error {
	var errs []error
	for _, r := range event.Recipients {
		if err := ctx.Err(); err != nil {
			return err
		}
		if r.Email == "" {
			metrics.NotificationsSent.WithLabelValues("skipped").Inc()
			m.logger.Warn("recipient has no email", "alert_id", event.AlertID, "auth_user", r.AuthorizedProfileID)
			continue
		}

		msg, err := m.render(event, r)
		if err != nil {
			return err
		}

		if m.sender == nil {
			metrics.NotificationsSent.WithLabelValues("skipped").Inc()
			m.logger.Info("SMTP not configured, skipping email",
				"alert_id", event.AlertID, "to", r.Email, "subject", subject(event))
			continue
		}

		if err := m.sender.Send(m.from, []string{r.Email}, msg); err != nil {
			metrics.NotificationsSent.WithLabelValues("failed").Inc()
			errs = append(errs, fmt.Errorf("failed to send email to %s: %w", r.Email, err))
			continue
		}
		metrics.NotificationsSent.WithLabelValues("sent").Inc()
		m.logger.Info("email sent", "alert_id", event.AlertID, "to", r.Email, "type", event.Type)
	}
	return errors.Join(errs...)
}

// HandleMessage decodes an alert event from the alerts topic and
// delivers it.
func (m *Mailer) HandleMessage(ctx context.Context, msg kafka.Message) error {
	event, err := protocol.DecodeAlertEvent(msg.Value)
	if err != nil {
		return fmt.Errorf("failed to decode alert event: %w", err)
	}
	return m.Deliver(ctx, event)
}
