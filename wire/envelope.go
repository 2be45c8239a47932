// Package wire defines the self-describing envelope exchanged between peers
// and the codecs that serialize it onto a WebSocket connection.
package wire

import (
	"encoding/json"
	"time"
)

// Envelope type tags.
const (
	TypeMessage  = "message"
	TypeRequest  = "request"
	TypeResponse = "response"
)

// Envelope is the unit exchanged over the wire. Conversation is only present
// on request and response envelopes; Status only on responses.
type Envelope struct {
	Time         time.Time       `json:"time" bson:"time"`
	Type         string          `json:"type" bson:"type"`
	Name         string          `json:"name" bson:"name"`
	Conversation uint32          `json:"conversation,omitempty" bson:"conversation,omitempty"`
	Status       string          `json:"status,omitempty" bson:"status,omitempty"`
	Data         json.RawMessage `json:"data" bson:"-"`
}

// ValidEnvelope is the default structural validator applied to decoded
// envelopes before dispatch.
func ValidEnvelope(env *Envelope) bool {
	switch env.Type {
	case TypeMessage, TypeRequest:
		return env.Name != ""
	case TypeResponse:
		return true
	default:
		return false
	}
}

// EmptyData is the payload of envelopes that carry no data.
var EmptyData = json.RawMessage(`{}`)
