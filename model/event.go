package model

import (
	"encoding/json"
	"time"
)

const (
	EventTransmissionAccepted  = "transmission.accepted"
	EventTransmissionStarted   = "transmission.started"
	EventTransmissionCompleted = "transmission.completed"
	EventTransmissionFailed    = "transmission.failed"
	EventPing                  = "ping"
)

// Event is a typed lifecycle notification fanned out to a user's push
// connections. Ping events carry no subject or payload.
type Event struct {
	Kind    string      `json:"kind"`
	Subject string      `json:"subject,omitempty"`
	Payload interface{} `json:"payload,omitempty"`
	Ts      time.Time   `json:"ts"`
}

func (e *Event) ToJSON() ([]byte, error) {
	return json.Marshal(e)
}
