// Package subscription implements the catch-up and volatile subscription
// engine (spec §4.E): state machines that page historical events from a
// starting position and transition seamlessly to a live push subscription
// without losing or duplicating events. Mini-RPC has no analogue (it is
// pure request/response); the buffer-then-drain live-queue shape and the
// progress-tracking bookkeeping are grounded on
// helius-labs-laserstream-sdk's streamLoop/handleStream, re-targeted from
// Solana slot tracking to event-number/position de-duplication.
package subscription

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/riverlog/riverlog-go/types"
	"github.com/riverlog/riverlog-go/wire/codec"
	"github.com/riverlog/riverlog-go/wire/packet"
)

// Kind is one of the three subscription shapes spec §4.E names.
type Kind int

const (
	KindVolatile Kind = iota
	KindCatchUpStream
	KindCatchUpAll
)

const defaultReadBatchSize = 500

// Options configures a subscription at creation time.
type Options struct {
	ResolveLinkTos bool

	// FromEventNumber is the catch-up-stream start cursor; nil means from
	// the beginning of the stream.
	FromEventNumber *types.EventNumber
	// FromPosition is the catch-up-all start cursor; nil means from the
	// beginning of $all.
	FromPosition *types.Position

	ReadBatchSize int32 // 0 defaults to 500

	// OverflowCap bounds the live buffer accumulated during CatchingUp.
	// 0 means unbounded, per spec §4.E's default.
	OverflowCap int
}

func (o Options) batchSize() int32 {
	if o.ReadBatchSize <= 0 {
		return defaultReadBatchSize
	}
	return o.ReadBatchSize
}

// Callbacks are the observer hooks spec §4.E requires: events in order,
// then exactly one terminal callback.
type Callbacks struct {
	OnEvent               func(types.ResolvedEvent)
	OnLiveProcessingStart func()
	OnDropped             func(reason types.SubscriptionDropReason, cause error)
}

// Handle is returned to callers; Close unsubscribes.
type Handle struct {
	id    uuid.UUID
	close func()
	once  sync.Once
}

func (h *Handle) Close() {
	h.once.Do(func() {
		if h.close != nil {
			h.close()
		}
	})
}

// SendFunc transmits a packet over the connection (typically
// connection.Manager.Send).
type SendFunc func(*packet.Packet) error

// Engine owns every live subscription and the short-lived paging reads a
// catch-up subscription issues, demultiplexing inbound packets by
// correlation id exactly as the dispatcher does for operations, but
// keeping its own map per the spec invariant that the two share no
// mutable state directly.
type Engine struct {
	send   SendFunc
	pc     codec.PayloadCodec
	logger *zap.Logger

	readTimeout time.Duration

	mu      sync.Mutex
	subs    map[uuid.UUID]*subscriptionState
	pending map[uuid.UUID]chan *packet.Packet
}

func New(send SendFunc, pc codec.PayloadCodec, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		send:        send,
		pc:          pc,
		logger:      logger,
		readTimeout: 15 * time.Second,
		subs:        make(map[uuid.UUID]*subscriptionState),
		pending:     make(map[uuid.UUID]chan *packet.Packet),
	}
}

// subscriptionState is the engine-side bookkeeping for one Subscribe call
// (spec's "Subscription record"): its push-routing correlation id, its
// live-event queue, and the callbacks to invoke.
type subscriptionState struct {
	id     uuid.UUID
	kind   Kind
	stream types.StreamID
	cb     Callbacks
	queue  *eventQueue

	// terminateOnce guards the terminal callback so that a user-initiated
	// Close racing with an engine-detected drop (connection loss, a
	// server-sent SubscriptionDropped, a read error) still delivers
	// exactly one OnDropped, per spec §4.E.
	terminateOnce sync.Once
}

// TryHandle routes p either to an outstanding paging read or to a live
// subscription's queue. It returns false if p's correlation id belongs to
// neither, so the caller (the connection's single demux point, which has
// already offered p to the operation dispatcher) can report it as
// unmatched.
func (e *Engine) TryHandle(p *packet.Packet) bool {
	e.mu.Lock()
	if ch, ok := e.pending[p.CorrelationID]; ok {
		e.mu.Unlock()
		select {
		case ch <- p:
		default:
		}
		return true
	}
	sub, ok := e.subs[p.CorrelationID]
	e.mu.Unlock()
	if !ok {
		return false
	}
	if !sub.queue.push(p) {
		e.dropForOverflow(sub)
	}
	return true
}

// ConnectionLost notifies every live subscription and every in-flight
// paging read that the underlying connection broke (spec §4.E: "Connection
// loss during any subscription -> subscription is dropped with
// ConnectionLost. The engine does not auto-resubscribe.").
func (e *Engine) ConnectionLost(cause error) {
	e.mu.Lock()
	subs := make([]*subscriptionState, 0, len(e.subs))
	for _, s := range e.subs {
		subs = append(subs, s)
	}
	pending := make([]chan *packet.Packet, 0, len(e.pending))
	for _, ch := range e.pending {
		pending = append(pending, ch)
	}
	e.mu.Unlock()

	for _, s := range subs {
		s.queue.push(connectionLostMarker{cause: cause})
	}
	for _, ch := range pending {
		select {
		case ch <- connectionLostPacket(cause):
		default:
		}
	}
}

// connectionLostMarker is pushed onto a subscription's queue to unblock a
// drain loop waiting on live events.
type connectionLostMarker struct{ cause error }

// connectionLostPacket synthesizes a packet a paging read's response
// channel can receive to unblock it; the read loop recognizes it via a
// reserved message type match performed by the caller, so this just needs
// to be non-nil and distinguishable — callers check p.Type against
// packet.MessageType(255) as the internal-only "connection lost" sentinel.
const msgTypeConnectionLost packet.MessageType = 255

func connectionLostPacket(cause error) *packet.Packet {
	return &packet.Packet{Type: msgTypeConnectionLost}
}

func (e *Engine) register(sub *subscriptionState) {
	e.mu.Lock()
	e.subs[sub.id] = sub
	e.mu.Unlock()
}

func (e *Engine) unregister(id uuid.UUID) {
	e.mu.Lock()
	delete(e.subs, id)
	e.mu.Unlock()
}

func (e *Engine) dropForOverflow(sub *subscriptionState) {
	e.terminate(sub, types.DropOverflow, nil)
}

// request sends a one-shot packet under a fresh correlation id and waits
// for the matching response, the same short-lived request/response shape
// the dispatcher implements for full operations, scoped here to the
// catch-up paging reads a subscription issues on its own.
func (e *Engine) request(ctx context.Context, reqType packet.MessageType, payload any, auth *packet.Auth) (*packet.Packet, error) {
	id := uuid.New()
	ch := make(chan *packet.Packet, 1)

	e.mu.Lock()
	e.pending[id] = ch
	e.mu.Unlock()
	defer func() {
		e.mu.Lock()
		delete(e.pending, id)
		e.mu.Unlock()
	}()

	body, err := e.pc.Encode(reqType, payload)
	if err != nil {
		return nil, err
	}
	if err := e.send(&packet.Packet{Type: reqType, CorrelationID: id, Auth: auth, Payload: body}); err != nil {
		return nil, err
	}

	timer := time.NewTimer(e.readTimeout)
	defer timer.Stop()
	select {
	case p := <-ch:
		if p.Type == msgTypeConnectionLost {
			return nil, &types.ConnectionLostError{}
		}
		return p, nil
	case <-timer.C:
		return nil, &types.OperationTimedOutError{MessageKind: fmt.Sprintf("%d", reqType)}
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// sendRaw writes p directly without registering a pending response
// channel; used for Unsubscribe, which has no response.
func (e *Engine) sendRaw(p *packet.Packet) error { return e.send(p) }
