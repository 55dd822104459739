package types

import (
	"time"

	"github.com/google/uuid"
)

// ContentType tags whether an event's data/metadata bytes are an opaque
// binary blob or JSON text. Servers use this to decide whether they may
// parse and re-emit the bytes (e.g. for projections).
type ContentType int

const (
	ContentBinary ContentType = iota
	ContentJSON
)

// EventData is the input shape for a single event to append.
//
// ID must be unique within the target stream over its lifetime: the
// server uses it to de-duplicate retried writes (§3 invariant), which is
// what makes the dispatcher's write retries safe to resend verbatim.
type EventData struct {
	ID                  uuid.UUID
	EventType           string
	Data                []byte
	Metadata            []byte
	DataContentType     ContentType
	MetadataContentType ContentType
}

// NewEventData builds an EventData with a fresh random id.
func NewEventData(eventType string, data, metadata []byte, contentType ContentType) EventData {
	return EventData{
		ID:                  uuid.New(),
		EventType:           eventType,
		Data:                data,
		Metadata:            metadata,
		DataContentType:     contentType,
		MetadataContentType: contentType,
	}
}

// EventRecord is the output shape for a single stored event: EventData
// plus the position information assigned by the server.
type EventRecord struct {
	EventData
	StreamID    StreamID
	EventNumber EventNumber
	Position    Position
	CreatedAt   time.Time
}

// ResolvedEvent pairs a delivered event with the link-to pointer that
// produced it, when link resolution was requested and the server followed
// one. When no link is involved, Link is nil and Event is the event as
// stored.
type ResolvedEvent struct {
	Event *EventRecord // the target event (or the pointer itself if unresolved)
	Link  *EventRecord // the pointer event, or nil
}

// OriginalEvent returns the link event if this is a resolved link-to, or
// the underlying event otherwise — i.e. the event as it actually appears
// in the stream the caller read from.
func (r ResolvedEvent) OriginalEvent() *EventRecord {
	if r.Link != nil {
		return r.Link
	}
	return r.Event
}

// CorrelationID identifies one outstanding operation on a connection. The
// server echoes it in every response belonging to that operation.
type CorrelationID = uuid.UUID

// NewCorrelationID allocates a fresh correlation id.
func NewCorrelationID() CorrelationID { return uuid.New() }
