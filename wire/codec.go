package wire

import (
	"encoding/json"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
)

// Subprotocol names, ordered by preference. Both sides advertise the full
// list at connection time; the first mutually supported name wins.
const (
	ProtocolBSON = "bson"
	ProtocolJSON = "json"
)

var Subprotocols = []string{ProtocolBSON, ProtocolJSON}

// A Codec serializes envelopes to and from a WebSocket frame payload.
// Binary reports whether frames are sent as binary (vs. text) messages.
type Codec interface {
	Name() string
	Binary() bool
	Marshal(*Envelope) ([]byte, error)
	Unmarshal([]byte) (*Envelope, error)
}

// CodecFor returns the codec for a negotiated subprotocol name.
func CodecFor(name string) (Codec, error) {
	switch name {
	case ProtocolBSON:
		return BSONCodec{}, nil
	case ProtocolJSON:
		return JSONCodec{}, nil
	default:
		return nil, fmt.Errorf("invalid protocol %q", name)
	}
}

// JSONCodec encodes envelopes as UTF-8 JSON text frames.
type JSONCodec struct{}

func (JSONCodec) Name() string { return ProtocolJSON }
func (JSONCodec) Binary() bool { return false }

func (JSONCodec) Marshal(env *Envelope) ([]byte, error) {
	e := *env
	if len(e.Data) == 0 {
		e.Data = EmptyData
	}
	b, err := json.Marshal(&e)
	if err != nil {
		return nil, fmt.Errorf("encode envelope: %w", err)
	}
	return b, nil
}

func (JSONCodec) Unmarshal(b []byte) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(b, &env); err != nil {
		return nil, fmt.Errorf("decode envelope: %w", err)
	}
	return &env, nil
}

// BSONCodec encodes envelopes as BSON binary frames carrying the same
// logical shape as the JSON codec. The open-ended data payload crosses the
// JSON/BSON boundary as relaxed Extended JSON.
type BSONCodec struct{}

func (BSONCodec) Name() string { return ProtocolBSON }
func (BSONCodec) Binary() bool { return true }

type bsonEnvelope struct {
	Time         time.Time `bson:"time"`
	Type         string    `bson:"type"`
	Name         string    `bson:"name"`
	Conversation uint32    `bson:"conversation,omitempty"`
	Status       string    `bson:"status,omitempty"`
	Data         bson.Raw  `bson:"data"`
}

func (BSONCodec) Marshal(env *Envelope) ([]byte, error) {
	raw := env.Data
	if len(raw) == 0 {
		raw = EmptyData
	}
	var data bson.D
	if err := bson.UnmarshalExtJSON(raw, false, &data); err != nil {
		return nil, fmt.Errorf("encode envelope data: %w", err)
	}
	doc := bson.D{
		{Key: "time", Value: env.Time},
		{Key: "type", Value: env.Type},
		{Key: "name", Value: env.Name},
	}
	if env.Conversation != 0 {
		doc = append(doc, bson.E{Key: "conversation", Value: int64(env.Conversation)})
	}
	if env.Status != "" {
		doc = append(doc, bson.E{Key: "status", Value: env.Status})
	}
	doc = append(doc, bson.E{Key: "data", Value: data})
	b, err := bson.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("encode envelope: %w", err)
	}
	return b, nil
}

func (BSONCodec) Unmarshal(b []byte) (*Envelope, error) {
	var be bsonEnvelope
	if err := bson.Unmarshal(b, &be); err != nil {
		return nil, fmt.Errorf("decode envelope: %w", err)
	}
	env := &Envelope{
		Time:         be.Time,
		Type:         be.Type,
		Name:         be.Name,
		Conversation: be.Conversation,
		Status:       be.Status,
		Data:         EmptyData,
	}
	if len(be.Data) > 0 {
		ext, err := bson.MarshalExtJSON(be.Data, false, false)
		if err != nil {
			return nil, fmt.Errorf("decode envelope data: %w", err)
		}
		env.Data = ext
	}
	return env, nil
}
