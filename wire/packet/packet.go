// Package packet implements the wire envelope (spec §3, §6) that wraps
// every opaque payload exchanged over a connection: flags, a one-byte
// message-type discriminator, a 128-bit correlation id, and an optional
// auth block. It is the generalization of the teacher's protocol.Header —
// same "fixed prefix, then opaque body" shape — with the fixed 32-bit
// Seq replaced by a UUID correlation id (spec §3: "Correlation id: a
// 128-bit UUID, unique per outstanding operation").
package packet

import (
	"fmt"

	"github.com/google/uuid"
)

// MessageType identifies the logical operation a packet carries.
type MessageType byte

// Known message types (spec §4.B). Exactly one value per logical
// operation; decoders must treat any other byte as UnexpectedResponse.
const (
	MsgWriteEvents MessageType = iota
	MsgWriteEventsCompleted
	MsgReadEvent
	MsgReadEventCompleted
	MsgReadStreamEventsForward
	MsgReadStreamEventsForwardCompleted
	MsgReadAllEventsForward
	MsgReadAllEventsForwardCompleted
	MsgSubscribeToStream
	MsgSubscribeToAll
	MsgSubscriptionConfirmed
	MsgStreamEventAppeared
	MsgUnsubscribe
	MsgSubscriptionDropped
	MsgHeartbeatRequest
	MsgHeartbeatResponse
	MsgPing
	MsgPong
	MsgNotAuthenticated
	MsgBadRequest
	MsgNotHandled
)

const flagAuthPresent byte = 1 << 0

// Auth carries optional per-request credentials (spec §3 "optional
// auth"). An empty Auth means the server may refuse the request.
type Auth struct {
	Login    string
	Password string
}

// Present reports whether non-empty credentials are set.
func (a *Auth) Present() bool { return a != nil && (a.Login != "" || a.Password != "") }

// Packet is the decoded wire envelope plus its opaque payload.
type Packet struct {
	Type          MessageType
	CorrelationID uuid.UUID
	Auth          *Auth // nil if no credentials were attached
	Payload       []byte
}

// Encode serializes p into a single buffer suitable for frame.WriteFrame.
func Encode(p *Packet) ([]byte, error) {
	if len(p.Auth.loginBytes()) > 255 || len(p.Auth.passwordBytes()) > 255 {
		return nil, fmt.Errorf("packet: login/password must each be <= 255 bytes")
	}

	flags := byte(0)
	if p.Auth.Present() {
		flags |= flagAuthPresent
	}

	size := 1 + 1 + 16 // flags + type + correlation id
	if p.Auth.Present() {
		size += 1 + len(p.Auth.Login) + 1 + len(p.Auth.Password)
	}
	size += len(p.Payload)

	buf := make([]byte, size)
	offset := 0
	buf[offset] = flags
	offset++
	buf[offset] = byte(p.Type)
	offset++
	copy(buf[offset:offset+16], p.CorrelationID[:])
	offset += 16

	if p.Auth.Present() {
		buf[offset] = byte(len(p.Auth.Login))
		offset++
		offset += copy(buf[offset:], p.Auth.Login)
		buf[offset] = byte(len(p.Auth.Password))
		offset++
		offset += copy(buf[offset:], p.Auth.Password)
	}

	copy(buf[offset:], p.Payload)
	return buf, nil
}

// Decode parses a single packet from a buffer produced by Encode (after
// frame.ReadFrame has already isolated its bytes).
func Decode(buf []byte) (*Packet, error) {
	if len(buf) < 1+1+16 {
		return nil, fmt.Errorf("packet: buffer too short for envelope: %d bytes", len(buf))
	}
	flags := buf[0]
	msgType := MessageType(buf[1])
	var corr uuid.UUID
	copy(corr[:], buf[2:18])
	offset := 18

	p := &Packet{Type: msgType, CorrelationID: corr}

	if flags&flagAuthPresent != 0 {
		if offset >= len(buf) {
			return nil, fmt.Errorf("packet: truncated auth block")
		}
		loginLen := int(buf[offset])
		offset++
		if offset+loginLen > len(buf) {
			return nil, fmt.Errorf("packet: truncated login")
		}
		login := string(buf[offset : offset+loginLen])
		offset += loginLen

		if offset >= len(buf) {
			return nil, fmt.Errorf("packet: truncated auth block")
		}
		pwLen := int(buf[offset])
		offset++
		if offset+pwLen > len(buf) {
			return nil, fmt.Errorf("packet: truncated password")
		}
		password := string(buf[offset : offset+pwLen])
		offset += pwLen

		p.Auth = &Auth{Login: login, Password: password}
	}

	p.Payload = append([]byte(nil), buf[offset:]...)
	return p, nil
}

func (a *Auth) loginBytes() []byte {
	if a == nil {
		return nil
	}
	return []byte(a.Login)
}

func (a *Auth) passwordBytes() []byte {
	if a == nil {
		return nil
	}
	return []byte(a.Password)
}
