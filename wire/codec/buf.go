package codec

import (
	"encoding/binary"
	"fmt"

	"github.com/google/uuid"
	"github.com/riverlog/riverlog-go/types"
)

// writer accumulates a binary payload field by field, generalizing the
// manual offset bookkeeping in the teacher's BinaryCodec.Encode (which
// hand-tracks a single `offset` across three fields) to the much larger
// set of message shapes here. Every Put* call appends; there is nothing
// to fail until the final byte slice is requested.
type writer struct{ buf []byte }

func (w *writer) PutUint8(v uint8)   { w.buf = append(w.buf, v) }
func (w *writer) PutBool(v bool)     { w.PutUint8(boolByte(v)) }

func (w *writer) PutUint32(v uint32) {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	w.buf = append(w.buf, b[:]...)
}

func (w *writer) PutUint64(v uint64) {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	w.buf = append(w.buf, b[:]...)
}

func (w *writer) PutInt64(v int64) { w.PutUint64(uint64(v)) }

func (w *writer) PutString(s string) {
	w.PutUint32(uint32(len(s)))
	w.buf = append(w.buf, s...)
}

func (w *writer) PutBytes(b []byte) {
	w.PutUint32(uint32(len(b)))
	w.buf = append(w.buf, b...)
}

func (w *writer) PutUUID(u uuid.UUID) { w.buf = append(w.buf, u[:]...) }

func (w *writer) PutPosition(p types.Position) {
	w.PutUint64(p.Commit)
	w.PutUint64(p.Prepare)
}

func (w *writer) PutEventNumber(n types.EventNumber) { w.PutInt64(int64(n)) }

func (w *writer) PutOptionalEventNumber(n *types.EventNumber) {
	w.PutBool(n != nil)
	if n != nil {
		w.PutEventNumber(*n)
	}
}

func (w *writer) PutExpectedVersion(ev types.ExpectedVersion) {
	w.PutUint8(uint8(ev.Kind))
	w.PutEventNumber(ev.Version)
}

func (w *writer) PutEventData(e types.EventData) {
	w.PutUUID(e.ID)
	w.PutString(e.EventType)
	w.PutUint8(uint8(e.DataContentType))
	w.PutUint8(uint8(e.MetadataContentType))
	w.PutBytes(e.Data)
	w.PutBytes(e.Metadata)
}

func (w *writer) PutEventRecord(r types.EventRecord) {
	w.PutEventData(r.EventData)
	w.PutString(string(r.StreamID))
	w.PutEventNumber(r.EventNumber)
	w.PutPosition(r.Position)
	w.PutInt64(eventTimestamp(r.CreatedAt))
}

func (w *writer) PutOptionalEventRecord(r *types.EventRecord) {
	w.PutBool(r != nil)
	if r != nil {
		w.PutEventRecord(*r)
	}
}

func (w *writer) PutResolvedEvent(r types.ResolvedEvent) {
	w.PutOptionalEventRecord(r.Event)
	w.PutOptionalEventRecord(r.Link)
}

func (w *writer) Bytes() []byte { return w.buf }

func boolByte(v bool) uint8 {
	if v {
		return 1
	}
	return 0
}

// reader consumes a binary payload field by field. It records the first
// error encountered and turns every subsequent Get* call into a no-op, so
// callers can decode a whole struct and check err once at the end instead
// of after every field.
type reader struct {
	buf []byte
	off int
	err error
}

func newReader(buf []byte) *reader { return &reader{buf: buf} }

func (r *reader) need(n int) bool {
	if r.err != nil {
		return false
	}
	if r.off+n > len(r.buf) {
		r.err = fmt.Errorf("codec: truncated payload reading %d bytes at offset %d (len %d)", n, r.off, len(r.buf))
		return false
	}
	return true
}

func (r *reader) GetUint8() uint8 {
	if !r.need(1) {
		return 0
	}
	v := r.buf[r.off]
	r.off++
	return v
}

func (r *reader) GetBool() bool { return r.GetUint8() != 0 }

func (r *reader) GetUint32() uint32 {
	if !r.need(4) {
		return 0
	}
	v := binary.BigEndian.Uint32(r.buf[r.off : r.off+4])
	r.off += 4
	return v
}

func (r *reader) GetUint64() uint64 {
	if !r.need(8) {
		return 0
	}
	v := binary.BigEndian.Uint64(r.buf[r.off : r.off+8])
	r.off += 8
	return v
}

func (r *reader) GetInt64() int64 { return int64(r.GetUint64()) }

func (r *reader) GetString() string {
	n := r.GetUint32()
	if !r.need(int(n)) {
		return ""
	}
	s := string(r.buf[r.off : r.off+int(n)])
	r.off += int(n)
	return s
}

func (r *reader) GetBytes() []byte {
	n := r.GetUint32()
	if !r.need(int(n)) {
		return nil
	}
	b := append([]byte(nil), r.buf[r.off:r.off+int(n)]...)
	r.off += int(n)
	return b
}

func (r *reader) GetUUID() uuid.UUID {
	var u uuid.UUID
	if !r.need(16) {
		return u
	}
	copy(u[:], r.buf[r.off:r.off+16])
	r.off += 16
	return u
}

func (r *reader) GetPosition() types.Position {
	return types.Position{Commit: r.GetUint64(), Prepare: r.GetUint64()}
}

func (r *reader) GetEventNumber() types.EventNumber { return types.EventNumber(r.GetInt64()) }

func (r *reader) GetOptionalEventNumber() *types.EventNumber {
	if !r.GetBool() {
		return nil
	}
	n := r.GetEventNumber()
	return &n
}

func (r *reader) GetExpectedVersion() types.ExpectedVersion {
	kind := types.ExpectedVersionKind(r.GetUint8())
	version := r.GetEventNumber()
	return types.ExpectedVersion{Kind: kind, Version: version}
}

func (r *reader) GetEventData() types.EventData {
	id := r.GetUUID()
	eventType := r.GetString()
	dataContent := types.ContentType(r.GetUint8())
	metaContent := types.ContentType(r.GetUint8())
	data := r.GetBytes()
	metadata := r.GetBytes()
	return types.EventData{
		ID:                  id,
		EventType:           eventType,
		DataContentType:     dataContent,
		MetadataContentType: metaContent,
		Data:                data,
		Metadata:            metadata,
	}
}

func (r *reader) GetEventRecord() types.EventRecord {
	data := r.GetEventData()
	stream := types.StreamID(r.GetString())
	number := r.GetEventNumber()
	pos := r.GetPosition()
	ts := r.GetInt64()
	return types.EventRecord{
		EventData:   data,
		StreamID:    stream,
		EventNumber: number,
		Position:    pos,
		CreatedAt:   timeFromWire(ts),
	}
}

func (r *reader) GetOptionalEventRecord() *types.EventRecord {
	if !r.GetBool() {
		return nil
	}
	rec := r.GetEventRecord()
	return &rec
}

func (r *reader) GetResolvedEvent() types.ResolvedEvent {
	event := r.GetOptionalEventRecord()
	link := r.GetOptionalEventRecord()
	return types.ResolvedEvent{Event: event, Link: link}
}

func (r *reader) Err() error { return r.err }
