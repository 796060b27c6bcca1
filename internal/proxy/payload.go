package proxy

import (
	"encoding/json"
	"fmt"
	"strings"
)

// ValueMessage is the JSON body providers use to report a value:
//
//	{"entity_id": "cabin-temp", "value": 21.5}
//
// Value may be any JSON scalar.
type ValueMessage struct {
	EntityID string          `json:"entity_id"`
	Value    json.RawMessage `json:"value"`
}

// RequestMessage is the JSON body sent to push-style providers to ask for
// a fresh value.
type RequestMessage struct {
	Type      string `json:"type"`
	RequestID string `json:"request_id"`
	EntityID  string `json:"entity_id"`
}

// DecodeValue parses a ValueMessage and renders its value as text.
// Strings lose their quotes; numbers and booleans keep their literal form.
//
// Returns:
//   - string: entity id from the message (may be empty)
//   - string: the value
//   - error: wrapping ErrDeserialize when the body is malformed
func DecodeValue(data []byte) (string, string, error) {
	var msg ValueMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return "", "", fmt.Errorf("%w: %w", ErrDeserialize, err)
	}
	if len(msg.Value) == 0 || string(msg.Value) == "null" {
		return "", "", fmt.Errorf("%w: message has no value", ErrDeserialize)
	}

	var s string
	if err := json.Unmarshal(msg.Value, &s); err == nil {
		return msg.EntityID, s, nil
	}
	return msg.EntityID, strings.TrimSpace(string(msg.Value)), nil
}

// EncodeRequest builds a RequestMessage body for entityID.
func EncodeRequest(requestID, entityID string) ([]byte, error) {
	data, err := json.Marshal(RequestMessage{Type: "get", RequestID: requestID, EntityID: entityID})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSerialize, err)
	}
	return data, nil
}
