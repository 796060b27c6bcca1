package proxy

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestDecodeValue(t *testing.T) {
	tests := []struct {
		name      string
		body      string
		wantID    string
		wantValue string
		wantErr   bool
	}{
		{name: "number", body: `{"entity_id":"t","value":21.5}`, wantID: "t", wantValue: "21.5"},
		{name: "string", body: `{"entity_id":"door","value":"open"}`, wantID: "door", wantValue: "open"},
		{name: "bool", body: `{"value":true}`, wantValue: "true"},
		{name: "missing value", body: `{"entity_id":"t"}`, wantErr: true},
		{name: "null value", body: `{"entity_id":"t","value":null}`, wantErr: true},
		{name: "not json", body: `21.5 degrees`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			id, value, err := DecodeValue([]byte(tt.body))
			if tt.wantErr {
				if !errors.Is(err, ErrDeserialize) {
					t.Errorf("DecodeValue() error = %v, want ErrDeserialize", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("DecodeValue() error = %v", err)
			}
			if id != tt.wantID || value != tt.wantValue {
				t.Errorf("DecodeValue() = %q, %q, want %q, %q", id, value, tt.wantID, tt.wantValue)
			}
		})
	}
}

func TestEncodeRequest(t *testing.T) {
	data, err := EncodeRequest("req-1", "cabin-temp")
	if err != nil {
		t.Fatalf("EncodeRequest() error = %v", err)
	}

	var msg RequestMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		t.Fatalf("request is not JSON: %v", err)
	}
	if msg.Type != "get" || msg.RequestID != "req-1" || msg.EntityID != "cabin-temp" {
		t.Errorf("EncodeRequest() = %+v", msg)
	}
}
