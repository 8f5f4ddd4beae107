package live

import (
	"encoding/json"
	"fmt"
	"time"

	"rfidattendance/internal/attendance"
)

// Message kinds that only exist on the wire.
const (
	KindSnapshot = "snapshot"
	KindPing     = "ping"
)

// Message is the envelope sent over the bus and to dashboards.
type Message struct {
	Kind      string          `json:"kind"`
	SessionID string          `json:"session_id"`
	Data      json.RawMessage `json:"data,omitempty"`
	At        time.Time       `json:"at"`
}

// FromEvent encodes a service event.
func FromEvent(ev attendance.Event) (Message, error) {
	return NewMessage(string(ev.Kind), ev.SessionID, ev.Data, ev.At)
}

// NewMessage encodes data as the message payload.
func NewMessage(kind, sessionID string, data any, at time.Time) (Message, error) {
	msg := Message{Kind: kind, SessionID: sessionID, At: at.UTC()}
	if data == nil {
		return msg, nil
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return Message{}, fmt.Errorf("encode %s payload: %w", kind, err)
	}
	msg.Data = raw
	return msg, nil
}
