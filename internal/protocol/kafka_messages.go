package protocol

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/smukkama/vrisa/internal/database"
)

// ReadingMessage is the Kafka record the gateway publishes for every
// accepted device sample. It is keyed by station id.
type ReadingMessage struct {
	ConnectionID string             `json:"connection_id"`
	DeviceID     int64              `json:"device_id"`
	SerialNumber string             `json:"serial_number"`
	StationID    int64              `json:"station_id"`
	Timestamp    time.Time          `json:"timestamp"`
	ReceivedAt   time.Time          `json:"received_at"`
	Levels       map[string]float64 `json:"levels"`
}

const (
	AlertEventOpened   = "ALERT_OPENED"
	AlertEventNotified = "ALERT_NOTIFIED"
)

// PollutantLevel is one breached reading carried by an AlertEvent.
type PollutantLevel struct {
	Pollutant string  `json:"pollutant"`
	Level     float64 `json:"level"`
	Threshold float64 `json:"threshold,omitempty"`
}

// AlertEvent tells the notification service that recipients should be
// told about an alert.
type AlertEvent struct {
	EventID     string               `json:"event_id"`
	Type        string               `json:"type"`
	AlertID     int64                `json:"alert_id"`
	StationID   int64                `json:"station_id"`
	StationName string               `json:"station_name,omitempty"`
	AlertDate   time.Time            `json:"alert_date"`
	Pollutants  []PollutantLevel     `json:"pollutants"`
	Recipients  []database.Recipient `json:"recipients"`
	OccurredAt  time.Time            `json:"occurred_at"`
}

// NewAlertEvent builds an event for alert a with a fresh event id.
func NewAlertEvent(eventType string, a *database.Alert, recipients []database.Recipient) *AlertEvent {
	levels := make([]PollutantLevel, 0, len(a.Pollutants))
	for _, p := range a.Pollutants {
		levels = append(levels, PollutantLevel{Pollutant: p.Pollutant, Level: p.Level})
	}
	return &AlertEvent{
		EventID:    uuid.NewString(),
		Type:       eventType,
		AlertID:    a.ID,
		StationID:  a.StationID,
		AlertDate:  a.AlertDate,
		Pollutants: levels,
		Recipients: recipients,
		OccurredAt: time.Now().UTC(),
	}
}

func EncodeReadingMessage(msg *ReadingMessage) ([]byte, error) {
	return json.Marshal(msg)
}

func DecodeReadingMessage(data []byte) (*ReadingMessage, error) {
	var msg ReadingMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

func EncodeAlertEvent(event *AlertEvent) ([]byte, error) {
	return json.Marshal(event)
}

func DecodeAlertEvent(data []byte) (*AlertEvent, error) {
	var event AlertEvent
	if err := json.Unmarshal(data, &event); err != nil {
		return nil, err
	}
	return &event, nil
}
