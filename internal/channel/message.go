package channel

import (
	"encoding/json"
	"fmt"

	"github.com/bytedance/sonic"
)

// codec is shared by every payload encode/decode so wire output matches
// encoding/json (sorted map keys, base64 byte slices).
var codec = sonic.ConfigStd

// Message is the unit carried by a Channel. It is immutable once sent.
type Message struct {
	Destination string          `json:"type"`
	Payload     json.RawMessage `json:"data,omitempty"`
}

// NewMessage encodes payload and addresses it to destination.
func NewMessage(destination string, payload interface{}) (Message, error) {
	if destination == "" {
		return Message{}, ErrNoDestination
	}
	if payload == nil {
		return Message{Destination: destination}, nil
	}
	if raw, ok := payload.(json.RawMessage); ok {
		return Message{Destination: destination, Payload: raw}, nil
	}
	data, err := codec.Marshal(payload)
	if err != nil {
		return Message{}, fmt.Errorf("encode %s payload: %w", destination, err)
	}
	return Message{Destination: destination, Payload: data}, nil
}

// Decode unmarshals the payload into v.
func (m Message) Decode(v interface{}) error {
	if len(m.Payload) == 0 {
		return fmt.Errorf("decode %s payload: empty", m.Destination)
	}
	if err := codec.Unmarshal(m.Payload, v); err != nil {
		return fmt.Errorf("decode %s payload: %w", m.Destination, err)
	}
	return nil
}

// Marshal encodes v with the channel codec. Exposed so envelope layers
// share the wire format.
func Marshal(v interface{}) (json.RawMessage, error) {
	return codec.Marshal(v)
}

// Unmarshal decodes data with the channel codec.
func Unmarshal(data []byte, v interface{}) error {
	return codec.Unmarshal(data, v)
}
