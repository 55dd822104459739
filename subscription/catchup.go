package subscription

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/riverlog/riverlog-go/types"
	"github.com/riverlog/riverlog-go/wire/codec"
	"github.com/riverlog/riverlog-go/wire/packet"
)

// SubscribeCatchUpStream opens a catch-up subscription to a single stream
// (spec §4.E "Catch-up subscription"): Reading -> CatchingUp ->
// LiveProcessing -> Dropped.
func (e *Engine) SubscribeCatchUpStream(ctx context.Context, stream types.StreamID, opts Options, cb Callbacks) (*Handle, error) {
	return e.subscribeCatchUp(ctx, KindCatchUpStream, stream, opts, cb)
}

// SubscribeCatchUpAll opens a catch-up subscription to the global $all log.
func (e *Engine) SubscribeCatchUpAll(ctx context.Context, opts Options, cb Callbacks) (*Handle, error) {
	return e.subscribeCatchUp(ctx, KindCatchUpAll, types.AllStreams, opts, cb)
}

func (e *Engine) subscribeCatchUp(ctx context.Context, kind Kind, stream types.StreamID, opts Options, cb Callbacks) (*Handle, error) {
	id := uuid.New()
	sub := &subscriptionState{id: id, kind: kind, stream: stream, cb: cb, queue: newEventQueue(opts.OverflowCap)}

	runCtx, cancel := context.WithCancel(ctx)
	go e.runCatchUp(runCtx, sub, opts)

	handle := &Handle{id: id, close: func() {
		cancel()
		e.sendRaw(&packet.Packet{Type: packet.MsgUnsubscribe, CorrelationID: id})
		e.terminate(sub, types.DropUnsubscribed, nil)
	}}
	return handle, nil
}

// catchUpCursor tracks the reader's position and the greatest event
// already emitted, per spec §4.E's de-duplication policy: "keep the
// greatest emitted event-number/position; drop any event at or below it."
type catchUpCursor struct {
	nextEvent    types.EventNumber
	lastEvent    types.EventNumber
	haveEvent    bool
	nextPosition types.Position
	lastPosition types.Position
	havePosition bool
}

func newCursor(opts Options) catchUpCursor {
	c := catchUpCursor{nextEvent: types.EventNumberFirst, nextPosition: types.FirstPosition}
	if opts.FromEventNumber != nil {
		c.nextEvent = *opts.FromEventNumber + 1
		c.lastEvent = *opts.FromEventNumber
		c.haveEvent = true
	}
	if opts.FromPosition != nil {
		c.nextPosition = *opts.FromPosition
		c.lastPosition = *opts.FromPosition
		c.havePosition = true
	}
	return c
}

func (c *catchUpCursor) acceptEvent(n types.EventNumber) bool {
	if c.haveEvent && n <= c.lastEvent {
		return false
	}
	c.lastEvent = n
	c.haveEvent = true
	return true
}

func (c *catchUpCursor) acceptPosition(p types.Position) bool {
	if c.havePosition && p.Compare(c.lastPosition) <= 0 {
		return false
	}
	c.lastPosition = p
	c.havePosition = true
	return true
}

func (e *Engine) runCatchUp(ctx context.Context, sub *subscriptionState, opts Options) {
	cursor := newCursor(opts)

	if !e.readHistorical(ctx, sub, opts, &cursor) {
		return // terminated during Reading
	}

	liveStartEvent, liveStartPos, ok := e.beginCatchingUp(ctx, sub, opts)
	if !ok {
		return
	}

	if !e.drainFinalPages(ctx, sub, opts, &cursor, liveStartEvent, liveStartPos) {
		return
	}

	e.runLiveProcessing(sub, &cursor)
}

// readHistorical runs the Reading state: page forward emitting events
// until the server reports end-of-stream or a short page.
func (e *Engine) readHistorical(ctx context.Context, sub *subscriptionState, opts Options, cursor *catchUpCursor) bool {
	for {
		select {
		case <-ctx.Done():
			e.terminate(sub, types.DropUnsubscribed, nil)
			return false
		default:
		}

		if sub.kind == KindCatchUpStream {
			resp, err := e.readStreamPage(ctx, sub, opts, cursor.nextEvent)
			if err != nil {
				e.terminateOnReadError(sub, err)
				return false
			}
			if dropped := e.emitStreamPage(sub, cursor, resp); dropped {
				return false
			}
			cursor.nextEvent = resp.NextEventNumber
			if resp.IsEndOfStream || len(resp.Events) < int(opts.batchSize()) {
				return true
			}
		} else {
			resp, err := e.readAllPage(ctx, sub, opts, cursor.nextPosition)
			if err != nil {
				e.terminateOnReadError(sub, err)
				return false
			}
			if dropped := e.emitAllPage(sub, cursor, resp); dropped {
				return false
			}
			cursor.nextPosition = resp.NextPosition
			if resp.IsEndOfStream || len(resp.Events) < int(opts.batchSize()) {
				return true
			}
		}
	}
}

func (e *Engine) readStreamPage(ctx context.Context, sub *subscriptionState, opts Options, from types.EventNumber) (*codec.ReadStreamEventsForwardCompleted, error) {
	req := &codec.ReadStreamEventsForwardRequest{
		Stream:          sub.stream,
		FromEventNumber: from,
		MaxCount:        opts.batchSize(),
		ResolveLinkTos:  opts.ResolveLinkTos,
	}
	p, err := e.request(ctx, packet.MsgReadStreamEventsForward, req, nil)
	if err != nil {
		return nil, err
	}
	payload, err := e.pc.Decode(p.Type, p.Payload)
	if err != nil {
		return nil, err
	}
	resp, ok := payload.(*codec.ReadStreamEventsForwardCompleted)
	if !ok {
		return nil, &types.UnexpectedResponseError{MessageType: byte(p.Type)}
	}
	if err := resultToError(resp.Result, sub.stream); err != nil {
		return nil, err
	}
	return resp, nil
}

func (e *Engine) readAllPage(ctx context.Context, sub *subscriptionState, opts Options, from types.Position) (*codec.ReadAllEventsForwardCompleted, error) {
	req := &codec.ReadAllEventsForwardRequest{
		FromPosition:   from,
		MaxCount:       opts.batchSize(),
		ResolveLinkTos: opts.ResolveLinkTos,
	}
	p, err := e.request(ctx, packet.MsgReadAllEventsForward, req, nil)
	if err != nil {
		return nil, err
	}
	payload, err := e.pc.Decode(p.Type, p.Payload)
	if err != nil {
		return nil, err
	}
	resp, ok := payload.(*codec.ReadAllEventsForwardCompleted)
	if !ok {
		return nil, &types.UnexpectedResponseError{MessageType: byte(p.Type)}
	}
	if err := resultToError(resp.Result, ""); err != nil {
		return nil, err
	}
	return resp, nil
}

func resultToError(result codec.OperationResult, stream types.StreamID) error {
	switch result {
	case codec.ResultSuccess:
		return nil
	case codec.ResultStreamDeleted:
		return &types.StreamDeletedError{Stream: stream}
	case codec.ResultStreamNotFound:
		return &types.StreamNotFoundError{Stream: stream}
	case codec.ResultAccessDenied:
		return &types.AccessDeniedError{}
	default:
		return &types.UnexpectedResponseError{MessageType: byte(result)}
	}
}

func (e *Engine) terminateOnReadError(sub *subscriptionState, err error) {
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		// The paging read's ctx was cancelled by Handle.Close, not by a
		// broken connection.
		e.terminate(sub, types.DropUnsubscribed, nil)
	default:
		switch err.(type) {
		case *types.AccessDeniedError:
			e.terminate(sub, types.DropAccessDenied, err)
		case *types.StreamNotFoundError, *types.StreamDeletedError:
			e.terminate(sub, types.DropNotFound, err)
		default:
			e.terminate(sub, types.DropConnectionLost, err)
		}
	}
}

// emitStreamPage emits every event above the cursor's last-emitted number
// and reports whether the subscription was dropped while doing so; nothing
// in it can drop the subscription, so it always returns false.
func (e *Engine) emitStreamPage(sub *subscriptionState, cursor *catchUpCursor, resp *codec.ReadStreamEventsForwardCompleted) bool {
	for _, ev := range resp.Events {
		n := resolvedEventNumber(ev)
		if !cursor.acceptEvent(n) {
			continue
		}
		if sub.cb.OnEvent != nil {
			sub.cb.OnEvent(ev)
		}
	}
	return false
}

func (e *Engine) emitAllPage(sub *subscriptionState, cursor *catchUpCursor, resp *codec.ReadAllEventsForwardCompleted) bool {
	for _, ev := range resp.Events {
		pos := resolvedEventPosition(ev)
		if !cursor.acceptPosition(pos) {
			continue
		}
		if sub.cb.OnEvent != nil {
			sub.cb.OnEvent(ev)
		}
	}
	return false
}

func resolvedEventNumber(ev types.ResolvedEvent) types.EventNumber {
	return ev.OriginalEvent().EventNumber
}

func resolvedEventPosition(ev types.ResolvedEvent) types.Position {
	return ev.OriginalEvent().Position
}

// beginCatchingUp registers the subscription for push routing, issues the
// live SubscribeTo, and returns the server-reported live start cursor.
func (e *Engine) beginCatchingUp(ctx context.Context, sub *subscriptionState, opts Options) (types.EventNumber, types.Position, bool) {
	e.register(sub)

	var reqType packet.MessageType
	var payload any
	if sub.kind == KindCatchUpStream {
		reqType = packet.MsgSubscribeToStream
		payload = &codec.SubscribeToStreamRequest{Stream: sub.stream, ResolveLinkTos: opts.ResolveLinkTos}
	} else {
		reqType = packet.MsgSubscribeToAll
		payload = &codec.SubscribeToAllRequest{ResolveLinkTos: opts.ResolveLinkTos}
	}
	body, err := e.pc.Encode(reqType, payload)
	if err != nil {
		e.terminate(sub, types.DropConnectionLost, err)
		return 0, types.Position{}, false
	}
	if err := e.sendRaw(&packet.Packet{Type: reqType, CorrelationID: sub.id, Payload: body}); err != nil {
		e.terminate(sub, types.DropConnectionLost, err)
		return 0, types.Position{}, false
	}

	item, ok := sub.queue.pop()
	if !ok {
		e.terminate(sub, types.DropUnsubscribed, nil) // closed before confirmation
		return 0, types.Position{}, false
	}
	if !e.expectConfirmed(sub, item) {
		return 0, types.Position{}, false
	}
	p := item.(*packet.Packet)
	payloadDecoded, err := e.pc.Decode(p.Type, p.Payload)
	if err != nil {
		e.terminate(sub, types.DropConnectionLost, err)
		return 0, types.Position{}, false
	}
	confirmed := payloadDecoded.(*codec.SubscriptionConfirmed)

	liveStartEvent := types.EventNumberLast
	if confirmed.LastEventNumber != nil {
		liveStartEvent = *confirmed.LastEventNumber
	}
	liveStartPos := types.Position{Commit: confirmed.LastCommitPosition, Prepare: ^uint64(0)}
	return liveStartEvent, liveStartPos, true
}

// drainFinalPages pages forward until the read cursor reaches or exceeds
// the live-start cursor snapshotted when the subscribe was confirmed,
// still emitting and skipping duplicates, per spec §4.E step 2.
func (e *Engine) drainFinalPages(ctx context.Context, sub *subscriptionState, opts Options, cursor *catchUpCursor, liveStartEvent types.EventNumber, liveStartPos types.Position) bool {
	for {
		select {
		case <-ctx.Done():
			e.terminate(sub, types.DropUnsubscribed, nil)
			return false
		default:
		}

		if sub.kind == KindCatchUpStream {
			if cursor.haveEvent && cursor.lastEvent >= liveStartEvent {
				return true
			}
			resp, err := e.readStreamPage(ctx, sub, opts, cursor.nextEvent)
			if err != nil {
				e.terminateOnReadError(sub, err)
				return false
			}
			e.emitStreamPage(sub, cursor, resp)
			cursor.nextEvent = resp.NextEventNumber
			if resp.IsEndOfStream || len(resp.Events) < int(opts.batchSize()) {
				return true
			}
		} else {
			if cursor.havePosition && cursor.lastPosition.Compare(liveStartPos) >= 0 {
				return true
			}
			resp, err := e.readAllPage(ctx, sub, opts, cursor.nextPosition)
			if err != nil {
				e.terminateOnReadError(sub, err)
				return false
			}
			e.emitAllPage(sub, cursor, resp)
			cursor.nextPosition = resp.NextPosition
			if resp.IsEndOfStream || len(resp.Events) < int(opts.batchSize()) {
				return true
			}
		}
	}
}

// runLiveProcessing emits onLiveProcessingStart, drains whatever pushed
// events buffered during CatchingUp (deduplicating against the cursor),
// then passes subsequent pushes straight through.
func (e *Engine) runLiveProcessing(sub *subscriptionState, cursor *catchUpCursor) {
	if sub.cb.OnLiveProcessingStart != nil {
		sub.cb.OnLiveProcessingStart()
	}

	for _, item := range sub.queue.drain() {
		if e.handleLiveItem(sub, cursor, item) {
			return
		}
	}
	for {
		item, ok := sub.queue.pop()
		if !ok {
			e.terminate(sub, types.DropUnsubscribed, nil)
			return
		}
		if e.handleLiveItem(sub, cursor, item) {
			return
		}
	}
}

// handleLiveItem processes one live-phase item and reports whether the
// subscription reached a terminal state.
func (e *Engine) handleLiveItem(sub *subscriptionState, cursor *catchUpCursor, item any) bool {
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
		dup := false
		if sub.kind == KindCatchUpStream {
			dup = !cursor.acceptEvent(resolvedEventNumber(msg.Event))
		} else {
			dup = !cursor.acceptPosition(resolvedEventPosition(msg.Event))
		}
		if !dup && sub.cb.OnEvent != nil {
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
