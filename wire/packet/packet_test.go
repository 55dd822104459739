package packet

import (
	"bytes"
	"testing"

	"github.com/google/uuid"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	p := &Packet{
		Type:          MsgWriteEvents,
		CorrelationID: uuid.New(),
		Payload:       []byte("payload bytes"),
	}
	buf, err := Encode(p)
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}

	got, err := Decode(buf)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if got.Type != p.Type {
		t.Errorf("Type mismatch: got %d, want %d", got.Type, p.Type)
	}
	if got.CorrelationID != p.CorrelationID {
		t.Errorf("CorrelationID mismatch: got %v, want %v", got.CorrelationID, p.CorrelationID)
	}
	if !bytes.Equal(got.Payload, p.Payload) {
		t.Errorf("Payload mismatch: got %q, want %q", got.Payload, p.Payload)
	}
	if got.Auth != nil {
		t.Errorf("expected nil Auth, got %+v", got.Auth)
	}
}

func TestEncodeDecodeWithAuth(t *testing.T) {
	p := &Packet{
		Type:          MsgSubscribeToStream,
		CorrelationID: uuid.New(),
		Auth:          &Auth{Login: "alice", Password: "hunter2"},
		Payload:       []byte("sub-request"),
	}
	buf, err := Encode(p)
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	got, err := Decode(buf)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if got.Auth == nil {
		t.Fatal("expected non-nil Auth")
	}
	if got.Auth.Login != "alice" || got.Auth.Password != "hunter2" {
		t.Errorf("Auth mismatch: got %+v", got.Auth)
	}
}

func TestEncodeEmptyPayload(t *testing.T) {
	p := &Packet{Type: MsgHeartbeatRequest, CorrelationID: uuid.New()}
	buf, err := Encode(p)
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	got, err := Decode(buf)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if len(got.Payload) != 0 {
		t.Errorf("expected empty payload, got %d bytes", len(got.Payload))
	}
}

func TestDecodeTruncatedEnvelope(t *testing.T) {
	_, err := Decode([]byte{0x00, 0x01})
	if err == nil {
		t.Fatal("expected error decoding truncated envelope")
	}
}
