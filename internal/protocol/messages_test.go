package protocol

import (
	"strings"
	"testing"
	"time"

	"github.com/smukkama/vrisa/internal/database"
)

func TestParseMessage(t *testing.T) {
	tests := []struct {
		name    string
		line    string
		want    MessageType
		wantErr string
	}{
		{"identify", `{"type":"identify","serial_number":"SN-001"}`, MsgTypeIdentify, ""},
		{"identify without serial", `{"type":"identify"}`, "", "serial_number is required"},
		{"readings", `{"type":"readings","timestamp":"2025-03-01T12:00:00Z","levels":{"PM25":41.5,"O3":80}}`, MsgTypeReadings, ""},
		{"readings bad timestamp", `{"type":"readings","timestamp":"yesterday","levels":{"PM25":1}}`, "", "invalid timestamp"},
		{"readings without levels", `{"type":"readings","timestamp":"2025-03-01T12:00:00Z","levels":{}}`, "", "at least one pollutant"},
		{"readings unknown pollutant", `{"type":"readings","timestamp":"2025-03-01T12:00:00Z","levels":{"CO2":1}}`, "", "unknown pollutant"},
		{"readings negative level", `{"type":"readings","timestamp":"2025-03-01T12:00:00Z","levels":{"NO2":-1}}`, "", "non-negative"},
		{"keepalive", `{"type":"keepalive"}`, MsgTypeKeepalive, ""},
		{"ack", `{"type":"ack","status":"error","error":"already identified"}`, MsgTypeAck, ""},
		{"unknown type", `{"type":"metrics"}`, "", "unknown message type"},
		{"not json", `hello`, "", "invalid JSON"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg, err := ParseMessage([]byte(tt.line))
			if tt.wantErr != "" {
				if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
					t.Fatalf("Expected error containing %q, got %v", tt.wantErr, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Unexpected error: %v", err)
			}

			var got MessageType
			switch m := msg.(type) {
			case *IdentifyMessage:
				got = m.Type
			case *ReadingsMessage:
				got = m.Type
			case *KeepaliveMessage:
				got = m.Type
			case *AckMessage:
				got = m.Type
			}
			if got != tt.want {
				t.Errorf("Expected type %s, got %s", tt.want, got)
			}
		})
	}
}

func TestReadingsMessage_ParsedTime(t *testing.T) {
	msg, err := ParseMessage([]byte(`{"type":"readings","timestamp":"2025-03-01T12:00:00Z","levels":{"PM25":1}}`))
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	want := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	if got := msg.(*ReadingsMessage).ParsedTime(); !got.Equal(want) {
		t.Errorf("Expected %v, got %v", want, got)
	}
}

func TestNewAlertEvent(t *testing.T) {
	alert := &database.Alert{
		ID:        9,
		StationID: 3,
		Pollutants: []*database.AlertPollutant{
			{Pollutant: "PM25", Level: 80},
		},
	}
	recipients := []database.Recipient{{AuthorizedProfileID: 4, Email: "a@example.com"}}

	event := NewAlertEvent(AlertEventNotified, alert, recipients)

	if event.EventID == "" {
		t.Error("Expected an event id")
	}
	if event.Type != AlertEventNotified || event.AlertID != 9 || event.StationID != 3 {
		t.Errorf("Unexpected event header: %+v", event)
	}
	if len(event.Pollutants) != 1 || event.Pollutants[0].Level != 80 {
		t.Errorf("Expected one PM25 level, got %+v", event.Pollutants)
	}

	data, err := EncodeAlertEvent(event)
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	decoded, err := DecodeAlertEvent(data)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if len(decoded.Recipients) != 1 || decoded.Recipients[0].Email != "a@example.com" {
		t.Errorf("Expected recipient to survive encoding, got %+v", decoded.Recipients)
	}
}
