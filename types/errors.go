package types

import "fmt"

// SubscriptionDropReason is carried by SubscriptionDropped to tell the
// caller why their subscription ended.
type SubscriptionDropReason int

const (
	DropUnsubscribed SubscriptionDropReason = iota // caller closed it
	DropAccessDenied
	DropNotFound
	DropConnectionLost
	DropOverflow // live buffer exceeded its cap during catch-up
)

func (r SubscriptionDropReason) String() string {
	switch r {
	case DropUnsubscribed:
		return "Unsubscribed"
	case DropAccessDenied:
		return "AccessDenied"
	case DropNotFound:
		return "NotFound"
	case DropConnectionLost:
		return "ConnectionLost"
	case DropOverflow:
		return "Overflow"
	default:
		return "Unknown"
	}
}

// AccessDeniedError is returned when the server rejects a request as
// NotAuthenticated, or an HTTP collaborator returns 401.
type AccessDeniedError struct{}

func (e *AccessDeniedError) Error() string { return "access denied" }

// BadRequestError is returned when the server rejects a request as
// malformed.
type BadRequestError struct{ Detail string }

func (e *BadRequestError) Error() string { return "bad request: " + e.Detail }

// WrongExpectedVersionError reports an optimistic concurrency violation.
type WrongExpectedVersionError struct {
	Given  EventNumber
	Actual *EventNumber // nil if the server did not report the actual version
}

func (e *WrongExpectedVersionError) Error() string {
	if e.Actual == nil {
		return fmt.Sprintf("wrong expected version: given %d", e.Given)
	}
	return fmt.Sprintf("wrong expected version: given %d, actual %d", e.Given, *e.Actual)
}

// StreamDeletedError is returned when an operation targets a tombstoned
// stream.
type StreamDeletedError struct{ Stream StreamID }

func (e *StreamDeletedError) Error() string { return fmt.Sprintf("stream %q deleted", e.Stream) }

// StreamNotFoundError is returned when a read targets a stream that has
// never existed.
type StreamNotFoundError struct{ Stream StreamID }

func (e *StreamNotFoundError) Error() string { return fmt.Sprintf("stream %q not found", e.Stream) }

// EventNotFoundError is returned when a single-event read misses.
type EventNotFoundError struct {
	Stream StreamID
	Number EventNumber
}

func (e *EventNotFoundError) Error() string {
	return fmt.Sprintf("event %d not found in stream %q", e.Number, e.Stream)
}

// OperationTimedOutError is returned when an operation's local deadline
// elapses before a response arrives, distinct from ConnectionLostError.
type OperationTimedOutError struct{ MessageKind string }

func (e *OperationTimedOutError) Error() string {
	return fmt.Sprintf("operation %s timed out", e.MessageKind)
}

// ConnectionLostError is returned when the connection manager's
// reconnection budget is exhausted, or the connection has terminated
// permanently.
type ConnectionLostError struct{}

func (e *ConnectionLostError) Error() string { return "connection lost" }

// RetriesExhaustedError is returned when the dispatcher gives up on an
// operation after its retryable-outcome budget runs out.
type RetriesExhaustedError struct{ MessageKind string }

func (e *RetriesExhaustedError) Error() string {
	return fmt.Sprintf("operation %s retried too many times", e.MessageKind)
}

// UnexpectedResponseError is returned when a response's message type does
// not belong to the family the requesting operation expects.
type UnexpectedResponseError struct{ MessageType byte }

func (e *UnexpectedResponseError) Error() string {
	return fmt.Sprintf("unexpected response message type %d", e.MessageType)
}

// InvalidFrameError is returned on a framing violation: a declared frame
// length over the maximum, or a packet envelope that does not decode.
type InvalidFrameError struct{ Detail string }

func (e *InvalidFrameError) Error() string { return "invalid frame: " + e.Detail }

// SubscriptionDroppedError is the single terminal error a subscription
// observer receives, carrying the reason it ended.
type SubscriptionDroppedError struct {
	Reason SubscriptionDropReason
	Cause  error // optional underlying error, e.g. the connection loss
}

func (e *SubscriptionDroppedError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("subscription dropped: %s: %v", e.Reason, e.Cause)
	}
	return fmt.Sprintf("subscription dropped: %s", e.Reason)
}

func (e *SubscriptionDroppedError) Unwrap() error { return e.Cause }
