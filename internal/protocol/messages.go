package protocol

import (
	"encoding/json"
	"fmt"
	"math"
	"time"

	"github.com/smukkama/vrisa/internal/database"
)

// MessageType represents the type of a device line message
type MessageType string

const (
	// Device to gateway
	MsgTypeIdentify  MessageType = "identify"
	MsgTypeReadings  MessageType = "readings"
	MsgTypeKeepalive MessageType = "keepalive"

	// Gateway to device
	MsgTypeAck MessageType = "ack"
)

// BaseMessage is the common structure for all messages
type BaseMessage struct {
	Type MessageType `json:"type"`
}

// IdentifyMessage is the first line a device sends. The serial number
// must match a registered Device.
type IdentifyMessage struct {
	Type         MessageType `json:"type"`
	SerialNumber string      `json:"serial_number"`
}

// ReadingsMessage carries one sample of pollutant levels keyed by
// pollutant code.
type ReadingsMessage struct {
	Type      MessageType        `json:"type"`
	Timestamp string             `json:"timestamp"`
	Levels    map[string]float64 `json:"levels"`
}

// ParsedTime returns the RFC3339 sample time. ParseMessage has already
// validated it.
func (m *ReadingsMessage) ParsedTime() time.Time {
	ts, _ := time.Parse(time.RFC3339, m.Timestamp)
	return ts
}

type KeepaliveMessage struct {
	Type MessageType `json:"type"`
}

// AckMessage is sent by the gateway in response to every device line
type AckMessage struct {
	Type   MessageType `json:"type"`
	Status string      `json:"status"`
	Error  string      `json:"error,omitempty"`
}

const (
	AckStatusIdentified = "identified"
	AckStatusAccepted   = "accepted"
	AckStatusAlive      = "alive"
	AckStatusError      = "error"
)

// ParseMessage parses a JSON line into the appropriate message type
func ParseMessage(data []byte) (interface{}, error) {
	var base BaseMessage
	if err := json.Unmarshal(data, &base); err != nil {
		return nil, fmt.Errorf("invalid JSON: %w", err)
	}

	switch base.Type {
	case MsgTypeIdentify:
		var msg IdentifyMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, fmt.Errorf("invalid identify message: %w", err)
		}
		if msg.SerialNumber == "" {
			return nil, fmt.Errorf("serial_number is required")
		}
		return &msg, nil

	case MsgTypeReadings:
		var msg ReadingsMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, fmt.Errorf("invalid readings message: %w", err)
		}
		if err := validateReadings(&msg); err != nil {
			return nil, err
		}
		return &msg, nil

	case MsgTypeKeepalive:
		return &KeepaliveMessage{Type: MsgTypeKeepalive}, nil

	case MsgTypeAck:
		var msg AckMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, fmt.Errorf("invalid ack message: %w", err)
		}
		return &msg, nil

	default:
		return nil, fmt.Errorf("unknown message type: %s", base.Type)
	}
}

func validateReadings(msg *ReadingsMessage) error {
	if msg.Timestamp == "" {
		return fmt.Errorf("timestamp is required")
	}
	if _, err := time.Parse(time.RFC3339, msg.Timestamp); err != nil {
		return fmt.Errorf("invalid timestamp format (must be RFC3339): %w", err)
	}
	if len(msg.Levels) == 0 {
		return fmt.Errorf("levels must name at least one pollutant")
	}
	for pollutant, level := range msg.Levels {
		if !database.ValidPollutant(pollutant) {
			return fmt.Errorf("unknown pollutant %q", pollutant)
		}
		if math.IsNaN(level) || math.IsInf(level, 0) || level < 0 {
			return fmt.Errorf("level for %s must be a finite non-negative number", pollutant)
		}
	}
	return nil
}

// EncodeMessage encodes a message to JSON
func EncodeMessage(msg interface{}) ([]byte, error) {
	return json.Marshal(msg)
}

func NewAckMessage(status string) *AckMessage {
	return &AckMessage{
		Type:   MsgTypeAck,
		Status: status,
	}
}

func NewErrorAck(err error) *AckMessage {
	return &AckMessage{
		Type:   MsgTypeAck,
		Status: AckStatusError,
		Error:  err.Error(),
	}
}
