package codec

import (
	"github.com/riverlog/riverlog-go/types"
	"github.com/riverlog/riverlog-go/wire/packet"
)

// BinaryCodec is the compact, allocation-light payload codec, the
// generalization of the teacher's BinaryCodec (length-prefixed field
// encoding) from one envelope shape to one encoder/decoder pair per
// message type named in spec §4.B.
type BinaryCodec struct{}

func (BinaryCodec) Name() string { return "binary" }

func (BinaryCodec) Encode(msgType packet.MessageType, v any) ([]byte, error) {
	w := &writer{}
	switch msgType {
	case packet.MsgWriteEvents:
		req, ok := v.(*WriteEventsRequest)
		if !ok {
			return nil, errUnexpectedType(msgType, v)
		}
		w.PutString(string(req.Stream))
		w.PutExpectedVersion(req.ExpectedVersion)
		w.PutBool(req.RequireMaster)
		w.PutUint32(uint32(len(req.Events)))
		for _, e := range req.Events {
			w.PutEventData(e)
		}

	case packet.MsgWriteEventsCompleted:
		resp, ok := v.(*WriteEventsCompleted)
		if !ok {
			return nil, errUnexpectedType(msgType, v)
		}
		w.PutUint8(uint8(resp.Result))
		w.PutEventNumber(resp.FirstEventNumber)
		w.PutEventNumber(resp.LastEventNumber)
		w.PutUint64(resp.PreparePosition)
		w.PutUint64(resp.CommitPosition)
		w.PutOptionalEventNumber(resp.CurrentVersion)

	case packet.MsgReadEvent:
		req, ok := v.(*ReadEventRequest)
		if !ok {
			return nil, errUnexpectedType(msgType, v)
		}
		w.PutString(string(req.Stream))
		w.PutEventNumber(req.EventNumber)
		w.PutBool(req.ResolveLinkTos)
		w.PutBool(req.RequireMaster)

	case packet.MsgReadEventCompleted:
		resp, ok := v.(*ReadEventCompleted)
		if !ok {
			return nil, errUnexpectedType(msgType, v)
		}
		w.PutUint8(uint8(resp.Result))
		if resp.Event != nil {
			w.PutBool(true)
			w.PutResolvedEvent(*resp.Event)
		} else {
			w.PutBool(false)
		}

	case packet.MsgReadStreamEventsForward:
		req, ok := v.(*ReadStreamEventsForwardRequest)
		if !ok {
			return nil, errUnexpectedType(msgType, v)
		}
		w.PutString(string(req.Stream))
		w.PutEventNumber(req.FromEventNumber)
		w.PutUint32(uint32(req.MaxCount))
		w.PutBool(req.ResolveLinkTos)
		w.PutBool(req.RequireMaster)

	case packet.MsgReadStreamEventsForwardCompleted:
		resp, ok := v.(*ReadStreamEventsForwardCompleted)
		if !ok {
			return nil, errUnexpectedType(msgType, v)
		}
		w.PutUint8(uint8(resp.Result))
		w.PutUint32(uint32(len(resp.Events)))
		for _, e := range resp.Events {
			w.PutResolvedEvent(e)
		}
		w.PutEventNumber(resp.NextEventNumber)
		w.PutEventNumber(resp.LastEventNumber)
		w.PutBool(resp.IsEndOfStream)

	case packet.MsgReadAllEventsForward:
		req, ok := v.(*ReadAllEventsForwardRequest)
		if !ok {
			return nil, errUnexpectedType(msgType, v)
		}
		w.PutPosition(req.FromPosition)
		w.PutUint32(uint32(req.MaxCount))
		w.PutBool(req.ResolveLinkTos)
		w.PutBool(req.RequireMaster)

	case packet.MsgReadAllEventsForwardCompleted:
		resp, ok := v.(*ReadAllEventsForwardCompleted)
		if !ok {
			return nil, errUnexpectedType(msgType, v)
		}
		w.PutUint8(uint8(resp.Result))
		w.PutUint32(uint32(len(resp.Events)))
		for _, e := range resp.Events {
			w.PutResolvedEvent(e)
		}
		w.PutPosition(resp.NextPosition)
		w.PutBool(resp.IsEndOfStream)

	case packet.MsgSubscribeToStream:
		req, ok := v.(*SubscribeToStreamRequest)
		if !ok {
			return nil, errUnexpectedType(msgType, v)
		}
		w.PutString(string(req.Stream))
		w.PutBool(req.ResolveLinkTos)

	case packet.MsgSubscribeToAll:
		req, ok := v.(*SubscribeToAllRequest)
		if !ok {
			return nil, errUnexpectedType(msgType, v)
		}
		w.PutBool(req.ResolveLinkTos)

	case packet.MsgSubscriptionConfirmed:
		resp, ok := v.(*SubscriptionConfirmed)
		if !ok {
			return nil, errUnexpectedType(msgType, v)
		}
		w.PutUint64(resp.LastCommitPosition)
		w.PutOptionalEventNumber(resp.LastEventNumber)

	case packet.MsgStreamEventAppeared:
		msg, ok := v.(*StreamEventAppeared)
		if !ok {
			return nil, errUnexpectedType(msgType, v)
		}
		w.PutResolvedEvent(msg.Event)

	case packet.MsgSubscriptionDropped:
		msg, ok := v.(*SubscriptionDropped)
		if !ok {
			return nil, errUnexpectedType(msgType, v)
		}
		w.PutUint8(uint8(msg.Reason))

	case packet.MsgUnsubscribe:
		if _, ok := v.(*Unsubscribe); !ok {
			return nil, errUnexpectedType(msgType, v)
		}

	case packet.MsgHeartbeatRequest, packet.MsgHeartbeatResponse:
		// no payload

	case packet.MsgPing:
		msg, ok := v.(*Ping)
		if !ok {
			return nil, errUnexpectedType(msgType, v)
		}
		w.PutBytes(msg.Payload)

	case packet.MsgPong:
		msg, ok := v.(*Pong)
		if !ok {
			return nil, errUnexpectedType(msgType, v)
		}
		w.PutBytes(msg.Payload)

	case packet.MsgNotAuthenticated:
		msg, ok := v.(*NotAuthenticated)
		if !ok {
			return nil, errUnexpectedType(msgType, v)
		}
		w.PutString(msg.Detail)

	case packet.MsgBadRequest:
		msg, ok := v.(*BadRequest)
		if !ok {
			return nil, errUnexpectedType(msgType, v)
		}
		w.PutString(msg.Detail)

	case packet.MsgNotHandled:
		msg, ok := v.(*NotHandled)
		if !ok {
			return nil, errUnexpectedType(msgType, v)
		}
		w.PutUint8(uint8(msg.Reason))
		w.PutString(msg.MasterHost)
		w.PutUint32(uint32(msg.MasterPort))
		w.PutUint32(uint32(msg.RetryAfterMs))

	default:
		return nil, errUnexpectedType(msgType, v)
	}
	return w.Bytes(), nil
}

func (BinaryCodec) Decode(msgType packet.MessageType, data []byte) (any, error) {
	r := newReader(data)
	var out any

	switch msgType {
	case packet.MsgWriteEvents:
		req := &WriteEventsRequest{}
		req.Stream = types.StreamID(r.GetString())
		req.ExpectedVersion = r.GetExpectedVersion()
		req.RequireMaster = r.GetBool()
		n := r.GetUint32()
		req.Events = make([]types.EventData, 0, n)
		for i := uint32(0); i < n; i++ {
			req.Events = append(req.Events, r.GetEventData())
		}
		out = req

	case packet.MsgWriteEventsCompleted:
		resp := &WriteEventsCompleted{}
		resp.Result = OperationResult(r.GetUint8())
		resp.FirstEventNumber = r.GetEventNumber()
		resp.LastEventNumber = r.GetEventNumber()
		resp.PreparePosition = r.GetUint64()
		resp.CommitPosition = r.GetUint64()
		resp.CurrentVersion = r.GetOptionalEventNumber()
		out = resp

	case packet.MsgReadEvent:
		req := &ReadEventRequest{}
		req.Stream = types.StreamID(r.GetString())
		req.EventNumber = r.GetEventNumber()
		req.ResolveLinkTos = r.GetBool()
		req.RequireMaster = r.GetBool()
		out = req

	case packet.MsgReadEventCompleted:
		resp := &ReadEventCompleted{}
		resp.Result = OperationResult(r.GetUint8())
		if r.GetBool() {
			ev := r.GetResolvedEvent()
			resp.Event = &ev
		}
		out = resp

	case packet.MsgReadStreamEventsForward:
		req := &ReadStreamEventsForwardRequest{}
		req.Stream = types.StreamID(r.GetString())
		req.FromEventNumber = r.GetEventNumber()
		req.MaxCount = int32(r.GetUint32())
		req.ResolveLinkTos = r.GetBool()
		req.RequireMaster = r.GetBool()
		out = req

	case packet.MsgReadStreamEventsForwardCompleted:
		resp := &ReadStreamEventsForwardCompleted{}
		resp.Result = OperationResult(r.GetUint8())
		n := r.GetUint32()
		resp.Events = make([]types.ResolvedEvent, 0, n)
		for i := uint32(0); i < n; i++ {
			resp.Events = append(resp.Events, r.GetResolvedEvent())
		}
		resp.NextEventNumber = r.GetEventNumber()
		resp.LastEventNumber = r.GetEventNumber()
		resp.IsEndOfStream = r.GetBool()
		out = resp

	case packet.MsgReadAllEventsForward:
		req := &ReadAllEventsForwardRequest{}
		req.FromPosition = r.GetPosition()
		req.MaxCount = int32(r.GetUint32())
		req.ResolveLinkTos = r.GetBool()
		req.RequireMaster = r.GetBool()
		out = req

	case packet.MsgReadAllEventsForwardCompleted:
		resp := &ReadAllEventsForwardCompleted{}
		resp.Result = OperationResult(r.GetUint8())
		n := r.GetUint32()
		resp.Events = make([]types.ResolvedEvent, 0, n)
		for i := uint32(0); i < n; i++ {
			resp.Events = append(resp.Events, r.GetResolvedEvent())
		}
		resp.NextPosition = r.GetPosition()
		resp.IsEndOfStream = r.GetBool()
		out = resp

	case packet.MsgSubscribeToStream:
		req := &SubscribeToStreamRequest{}
		req.Stream = types.StreamID(r.GetString())
		req.ResolveLinkTos = r.GetBool()
		out = req

	case packet.MsgSubscribeToAll:
		req := &SubscribeToAllRequest{ResolveLinkTos: r.GetBool()}
		out = req

	case packet.MsgSubscriptionConfirmed:
		resp := &SubscriptionConfirmed{}
		resp.LastCommitPosition = r.GetUint64()
		resp.LastEventNumber = r.GetOptionalEventNumber()
		out = resp

	case packet.MsgStreamEventAppeared:
		msg := &StreamEventAppeared{Event: r.GetResolvedEvent()}
		out = msg

	case packet.MsgSubscriptionDropped:
		out = &SubscriptionDropped{Reason: types.SubscriptionDropReason(r.GetUint8())}

	case packet.MsgUnsubscribe:
		out = &Unsubscribe{}

	case packet.MsgHeartbeatRequest:
		out = &HeartbeatRequest{}

	case packet.MsgHeartbeatResponse:
		out = &HeartbeatResponse{}

	case packet.MsgPing:
		out = &Ping{Payload: r.GetBytes()}

	case packet.MsgPong:
		out = &Pong{Payload: r.GetBytes()}

	case packet.MsgNotAuthenticated:
		out = &NotAuthenticated{Detail: r.GetString()}

	case packet.MsgBadRequest:
		out = &BadRequest{Detail: r.GetString()}

	case packet.MsgNotHandled:
		msg := &NotHandled{}
		msg.Reason = NotHandledReason(r.GetUint8())
		msg.MasterHost = r.GetString()
		msg.MasterPort = uint16(r.GetUint32())
		msg.RetryAfterMs = int32(r.GetUint32())
		out = msg

	default:
		return nil, errUnexpectedType(msgType, nil)
	}

	if err := r.Err(); err != nil {
		return nil, err
	}
	return out, nil
}
