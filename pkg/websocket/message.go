package websocket

import (
	"encoding/json"
	"time"
)

// TypeAck is the message type used for acknowledgement replies.
const TypeAck = "ack"

// Message represents a WebSocket message envelope. Inbound messages may
// carry an AckID; the handler's result is sent back as a TypeAck message
// echoing the same AckID. Outbound room events omit it.
type Message struct {
	Type      string                 `json:"type"`
	AckID     string                 `json:"ack_id,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
	Data      map[string]interface{} `json:"data"`
}

// MarshalJSON custom JSON marshaling
func (m *Message) MarshalJSON() ([]byte, error) {
	type Alias Message
	return json.Marshal(&struct {
		Timestamp string `json:"timestamp"`
		*Alias
	}{
		Timestamp: m.Timestamp.Format(time.RFC3339),
		Alias:     (*Alias)(m),
	})
}

// UnmarshalJSON custom JSON unmarshaling
func (m *Message) UnmarshalJSON(data []byte) error {
	type Alias Message
	aux := &struct {
		Timestamp string `json:"timestamp"`
		*Alias
	}{
		Alias: (*Alias)(m),
	}

	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}

	if aux.Timestamp != "" {
		t, err := time.Parse(time.RFC3339, aux.Timestamp)
		if err != nil {
			return err
		}
		m.Timestamp = t
	}

	return nil
}
