package subscription

import (
	"context"

	"github.com/google/uuid"

	"github.com/riverlog/riverlog-go/types"
	"github.com/riverlog/riverlog-go/wire/codec"
	"github.com/riverlog/riverlog-go/wire/packet"
)

// SubscribeVolatile opens a live-only subscription (spec §4.E
// "Volatile subscription"): Subscribing -> Running -> Unsubscribed.
func (e *Engine) SubscribeVolatile(ctx context.Context, stream types.StreamID, opts Options, cb Callbacks) (*Handle, error) {
	id := uuid.New()
	sub := &subscriptionState{id: id, kind: KindVolatile, stream: stream, cb: cb, queue: newEventQueue(opts.OverflowCap)}
	e.register(sub)

	var reqType packet.MessageType
	var payload any
	if stream == types.AllStreams {
		reqType = packet.MsgSubscribeToAll
		payload = &codec.SubscribeToAllRequest{ResolveLinkTos: opts.ResolveLinkTos}
	} else {
		reqType = packet.MsgSubscribeToStream
		payload = &codec.SubscribeToStreamRequest{Stream: stream, ResolveLinkTos: opts.ResolveLinkTos}
	}
	body, err := e.pc.Encode(reqType, payload)
	if err != nil {
		e.unregister(id)
		return nil, err
	}
	if err := e.sendRaw(&packet.Packet{Type: reqType, CorrelationID: id, Payload: body}); err != nil {
		e.unregister(id)
		return nil, err
	}

	go e.runVolatile(sub)

	return &Handle{id: id, close: func() { e.closeVolatile(sub) }}, nil
}

func (e *Engine) runVolatile(sub *subscriptionState) {
	// Subscribing: wait for SubscriptionConfirmed.
	item, ok := sub.queue.pop()
	if !ok {
		return // closed before confirmation, e.g. Close raced the server
	}
	if !e.expectConfirmed(sub, item) {
		return
	}
	if sub.cb.OnLiveProcessingStart != nil {
		sub.cb.OnLiveProcessingStart()
	}

	// Running: forward events until dropped, unsubscribed, or the
	// connection is lost.
	for {
		item, ok := sub.queue.pop()
		if !ok {
			return
		}
		if done := e.handleRunningItem(sub, item); done {
			return
		}
	}
}

// expectConfirmed decodes item as SubscriptionConfirmed, reporting the
// failure via onDropped and returning false on anything else (a subscribe
// attempt can fail with NotAuthenticated or be dropped outright).
func (e *Engine) expectConfirmed(sub *subscriptionState, item any) bool {
	p, ok := item.(*packet.Packet)
	if !ok {
		if marker, ok := item.(connectionLostMarker); ok {
			e.terminate(sub, types.DropConnectionLost, marker.cause)
		}
		return false
	}
	switch p.Type {
	case packet.MsgSubscriptionConfirmed:
		return true
	case packet.MsgNotAuthenticated:
		e.terminate(sub, types.DropAccessDenied, nil)
		return false
	case packet.MsgSubscriptionDropped:
		e.terminateFromDropped(sub, p)
		return false
	default:
		e.terminate(sub, types.DropConnectionLost, &types.UnexpectedResponseError{MessageType: byte(p.Type)})
		return false
	}
}

// handleRunningItem processes one queued item during the Running phase.
// It returns true once the subscription has reached a terminal state.
func (e *Engine) handleRunningItem(sub *subscriptionState, item any) bool {
	if marker, ok := item.(connectionLostMarker); ok {
		e.terminate(sub, types.DropConnectionLost, marker.cause)
		return true
	}
	p, ok := item.(*packet.Packet)
	if !ok {
		return false
	}
	switch p.Type {
	case packet.MsgStreamEventAppeared:
		payload, err := e.pc.Decode(p.Type, p.Payload)
		if err != nil {
			e.terminate(sub, types.DropConnectionLost, err)
			return true
		}
		msg := payload.(*codec.StreamEventAppeared)
		if sub.cb.OnEvent != nil {
			sub.cb.OnEvent(msg.Event)
		}
		return false
	case packet.MsgSubscriptionDropped:
		e.terminateFromDropped(sub, p)
		return true
	default:
		return false
	}
}

func (e *Engine) terminateFromDropped(sub *subscriptionState, p *packet.Packet) {
	payload, err := e.pc.Decode(p.Type, p.Payload)
	if err != nil {
		e.terminate(sub, types.DropConnectionLost, err)
		return
	}
	msg := payload.(*codec.SubscriptionDropped)
	e.terminate(sub, msg.Reason, nil)
}

// terminate delivers sub's exactly-one terminal callback (spec §4.E). It is
// idempotent per subscription: whichever of a user Close, a connection
// loss, or a server-sent drop reaches it first wins, and any later call
// (racing on another goroutine) is a no-op.
func (e *Engine) terminate(sub *subscriptionState, reason types.SubscriptionDropReason, cause error) {
	sub.terminateOnce.Do(func() {
		e.unregister(sub.id)
		sub.queue.close()
		if sub.cb.OnDropped != nil {
			sub.cb.OnDropped(reason, cause)
		}
	})
}

func (e *Engine) closeVolatile(sub *subscriptionState) {
	e.sendRaw(&packet.Packet{Type: packet.MsgUnsubscribe, CorrelationID: sub.id})
	e.terminate(sub, types.DropUnsubscribed, nil)
}
