// Package codec provides the concrete opaque-payload codec the core
// treats as an external collaborator (spec §6: "a separate codec layer
// produces and consumes those payloads; its only requirement is stated in
// §6"). It defines the typed request/response structures for every
// message family named in spec §4.B, and two codecs that (de)serialize
// them to bytes: a compact BinaryCodec and a human-readable JSONCodec —
// the same Strategy-pattern split as the teacher's codec package
// (BinaryCodec vs JSONCodec), generalized from one envelope type
// (RPCMessage) to one struct per riverlog message type.
package codec

import (
	"time"

	"github.com/riverlog/riverlog-go/types"
)

// OperationResult is the server-reported outcome of a write or read.
// Values map 1:1 onto the dispatcher's retry/terminal decision (spec
// §4.D): PrepareTimeout/CommitTimeout/ForwardTimeout are retryable,
// everything else is terminal.
type OperationResult int

const (
	ResultSuccess OperationResult = iota
	ResultPrepareTimeout
	ResultCommitTimeout
	ResultForwardTimeout
	ResultWrongExpectedVersion
	ResultStreamDeleted
	ResultInvalidTransaction
	ResultAccessDenied
	ResultStreamNotFound
	ResultEventNotFound
)

// NotHandledReason explains a NotHandled response.
type NotHandledReason int

const (
	NotHandledNotReady NotHandledReason = iota
	NotHandledTooBusy
	NotHandledNotMaster
)

// WriteEventsRequest appends Events to Stream under an optimistic
// concurrency precondition.
type WriteEventsRequest struct {
	Stream          types.StreamID
	ExpectedVersion types.ExpectedVersion
	Events          []types.EventData
	RequireMaster   bool
}

// WriteEventsCompleted is the server's response to WriteEventsRequest.
type WriteEventsCompleted struct {
	Result           OperationResult
	FirstEventNumber types.EventNumber
	LastEventNumber  types.EventNumber
	PreparePosition  uint64
	CommitPosition   uint64
	CurrentVersion   *types.EventNumber // set when Result == ResultWrongExpectedVersion, if known
}

// ReadEventRequest reads a single event by stream + number.
type ReadEventRequest struct {
	Stream         types.StreamID
	EventNumber    types.EventNumber
	ResolveLinkTos bool
	RequireMaster  bool
}

// ReadEventCompleted is the server's response to ReadEventRequest.
type ReadEventCompleted struct {
	Result OperationResult
	Event  *types.ResolvedEvent // nil unless Result == ResultSuccess
}

// ReadStreamEventsForwardRequest pages forward through a single stream.
type ReadStreamEventsForwardRequest struct {
	Stream          types.StreamID
	FromEventNumber types.EventNumber
	MaxCount        int32
	ResolveLinkTos  bool
	RequireMaster   bool
}

// ReadStreamEventsForwardCompleted is the server's response.
type ReadStreamEventsForwardCompleted struct {
	Result          OperationResult
	Events          []types.ResolvedEvent
	NextEventNumber types.EventNumber
	LastEventNumber types.EventNumber
	IsEndOfStream   bool
}

// ReadAllEventsForwardRequest pages forward through the global $all log.
type ReadAllEventsForwardRequest struct {
	FromPosition   types.Position
	MaxCount       int32
	ResolveLinkTos bool
	RequireMaster  bool
}

// ReadAllEventsForwardCompleted is the server's response.
type ReadAllEventsForwardCompleted struct {
	Result        OperationResult
	Events        []types.ResolvedEvent
	NextPosition  types.Position
	IsEndOfStream bool
}

// SubscribeToStreamRequest opens a volatile or catch-up live subscription
// to a single stream.
type SubscribeToStreamRequest struct {
	Stream         types.StreamID
	ResolveLinkTos bool
}

// SubscribeToAllRequest opens a live subscription to the $all log.
type SubscribeToAllRequest struct {
	ResolveLinkTos bool
}

// SubscriptionConfirmed answers a subscribe request once the server has
// begun streaming live events on this correlation id.
type SubscriptionConfirmed struct {
	LastCommitPosition uint64
	LastEventNumber    *types.EventNumber // nil for $all subscriptions
}

// StreamEventAppeared is pushed for every live event on a confirmed
// subscription.
type StreamEventAppeared struct {
	Event types.ResolvedEvent
}

// SubscriptionDropped tells the client why a subscription ended
// server-side.
type SubscriptionDropped struct {
	Reason types.SubscriptionDropReason
}

// Unsubscribe asks the server to stop pushing events for a subscription
// correlation id. It carries no fields.
type Unsubscribe struct{}

// NotHandled is returned when the contacted node cannot serve the
// request itself.
type NotHandled struct {
	Reason      NotHandledReason
	MasterHost  string // set when Reason == NotHandledNotMaster and known
	MasterPort  uint16
	RetryAfterMs int32
}

// HeartbeatRequest/HeartbeatResponse carry no payload; they exist purely
// so their message type can be distinguished from request/response
// traffic at the packet layer (spec §4.C).
type HeartbeatRequest struct{}
type HeartbeatResponse struct{}

// Ping/Pong are a liveness pair separate from the heartbeat pair. The
// connection manager itself sends only HeartbeatRequest, and counts an
// inbound HeartbeatResponse or Pong as a heartbeat ack.
type Ping struct{ Payload []byte }
type Pong struct{ Payload []byte }

// NotAuthenticated and BadRequest carry an optional human-readable
// detail string.
type NotAuthenticated struct{ Detail string }
type BadRequest struct{ Detail string }

// eventTimestamp is the wire representation of types.EventRecord.CreatedAt:
// Unix nanoseconds, since the binary codec avoids encoding/gob and does
// not want to hand-roll RFC3339 parsing.
func eventTimestamp(t time.Time) int64 { return t.UnixNano() }
func timeFromWire(ns int64) time.Time  { return time.Unix(0, ns).UTC() }
