package codec

import (
	"encoding/json"

	"github.com/riverlog/riverlog-go/wire/packet"
)

// JSONCodec is the human-readable debug codec, generalized from the
// teacher's JSONCodec (a thin encoding/json wrapper) to the full message
// family here. Every message struct in this package round-trips through
// encoding/json without custom (Un)MarshalJSON methods, so this codec
// stays a pure pass-through.
type JSONCodec struct{}

func (JSONCodec) Name() string { return "json" }

func (JSONCodec) Encode(msgType packet.MessageType, v any) ([]byte, error) {
	return json.Marshal(v)
}

func (JSONCodec) Decode(msgType packet.MessageType, data []byte) (any, error) {
	out, err := zeroValueFor(msgType)
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return out, nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return nil, err
	}
	return out, nil
}

// zeroValueFor allocates the destination struct for msgType so
// json.Unmarshal has somewhere typed to decode into — encoding/json,
// unlike the BinaryCodec's hand-written reader, needs a concrete
// destination pointer rather than a byte-by-byte walk.
func zeroValueFor(msgType packet.MessageType) (any, error) {
	switch msgType {
	case packet.MsgWriteEvents:
		return &WriteEventsRequest{}, nil
	case packet.MsgWriteEventsCompleted:
		return &WriteEventsCompleted{}, nil
	case packet.MsgReadEvent:
		return &ReadEventRequest{}, nil
	case packet.MsgReadEventCompleted:
		return &ReadEventCompleted{}, nil
	case packet.MsgReadStreamEventsForward:
		return &ReadStreamEventsForwardRequest{}, nil
	case packet.MsgReadStreamEventsForwardCompleted:
		return &ReadStreamEventsForwardCompleted{}, nil
	case packet.MsgReadAllEventsForward:
		return &ReadAllEventsForwardRequest{}, nil
	case packet.MsgReadAllEventsForwardCompleted:
		return &ReadAllEventsForwardCompleted{}, nil
	case packet.MsgSubscribeToStream:
		return &SubscribeToStreamRequest{}, nil
	case packet.MsgSubscribeToAll:
		return &SubscribeToAllRequest{}, nil
	case packet.MsgSubscriptionConfirmed:
		return &SubscriptionConfirmed{}, nil
	case packet.MsgStreamEventAppeared:
		return &StreamEventAppeared{}, nil
	case packet.MsgSubscriptionDropped:
		return &SubscriptionDropped{}, nil
	case packet.MsgUnsubscribe:
		return &Unsubscribe{}, nil
	case packet.MsgHeartbeatRequest:
		return &HeartbeatRequest{}, nil
	case packet.MsgHeartbeatResponse:
		return &HeartbeatResponse{}, nil
	case packet.MsgPing:
		return &Ping{}, nil
	case packet.MsgPong:
		return &Pong{}, nil
	case packet.MsgNotAuthenticated:
		return &NotAuthenticated{}, nil
	case packet.MsgBadRequest:
		return &BadRequest{}, nil
	case packet.MsgNotHandled:
		return &NotHandled{}, nil
	default:
		return nil, errUnexpectedType(msgType, nil)
	}
}
