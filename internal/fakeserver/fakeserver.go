// Package fakeserver implements an in-process riverlog node for
// integration tests (spec §8 "Testable properties", exercised end to end
// rather than through component mocks). It is grounded on the teacher's
// server.Server: an accept loop, one reader goroutine per connection, a
// per-connection write mutex, and per-request goroutines — generalized
// from reflection-based service dispatch to an in-memory event store that
// speaks the wire/packet + wire/codec protocol directly.
package fakeserver

import (
	"net"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/riverlog/riverlog-go/types"
	"github.com/riverlog/riverlog-go/wire/codec"
	"github.com/riverlog/riverlog-go/wire/frame"
	"github.com/riverlog/riverlog-go/wire/packet"
)

// Server is a minimal riverlog node: an in-memory append-only store plus
// enough of the wire protocol to drive write/read/subscribe traffic
// against a real connection.Manager.
type Server struct {
	listener net.Listener
	pc       codec.PayloadCodec

	mu      sync.Mutex
	streams map[types.StreamID][]types.EventRecord
	all     []types.EventRecord // every event across every stream, in commit order
	nextPos uint64

	subsMu sync.Mutex
	subs   []*liveSub

	wg       sync.WaitGroup
	closing  atomic.Bool
	RejectAuth bool // when true, every request is answered with NotAuthenticated
}

type liveSub struct {
	conn   net.Conn
	connMu *sync.Mutex
	id     uuid.UUID
	stream types.StreamID // types.AllStreams subscribes to everything
	closed atomic.Bool
}

// New starts listening on a free loopback port ("127.0.0.1:0") using the
// binary codec, the same codec a real client defaults to.
func New() (*Server, error) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, err
	}
	s := &Server{
		listener: ln,
		pc:       codec.Get(codec.KindBinary),
		streams:  make(map[types.StreamID][]types.EventRecord),
	}
	go s.acceptLoop()
	return s, nil
}

// Addr returns the listening address, suitable for resolver.NewStaticResolver.
func (s *Server) Addr() string { return s.listener.Addr().String() }

func (s *Server) Close() error {
	s.closing.Store(true)
	err := s.listener.Close()
	s.wg.Wait()
	return err
}

func (s *Server) acceptLoop() {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			return
		}
		s.wg.Add(1)
		go s.handleConn(conn)
	}
}

func (s *Server) handleConn(conn net.Conn) {
	defer s.wg.Done()
	defer conn.Close()

	writeMu := &sync.Mutex{}
	for {
		body, err := frame.ReadFrame(conn)
		if err != nil {
			s.dropSubsForConn(conn)
			return
		}
		p, err := packet.Decode(body)
		if err != nil {
			s.dropSubsForConn(conn)
			return
		}
		if p.Type == packet.MsgHeartbeatRequest {
			s.write(conn, writeMu, &packet.Packet{Type: packet.MsgHeartbeatResponse, CorrelationID: p.CorrelationID})
			continue
		}
		if p.Type == packet.MsgPing {
			s.write(conn, writeMu, &packet.Packet{Type: packet.MsgPong, CorrelationID: p.CorrelationID})
			continue
		}
		go s.handleRequest(conn, writeMu, p)
	}
}

func (s *Server) handleRequest(conn net.Conn, writeMu *sync.Mutex, p *packet.Packet) {
	if s.RejectAuth {
		s.write(conn, writeMu, &packet.Packet{Type: packet.MsgNotAuthenticated, CorrelationID: p.CorrelationID})
		return
	}

	switch p.Type {
	case packet.MsgWriteEvents:
		s.handleWrite(conn, writeMu, p)
	case packet.MsgReadEvent:
		s.handleReadEvent(conn, writeMu, p)
	case packet.MsgReadStreamEventsForward:
		s.handleReadStreamForward(conn, writeMu, p)
	case packet.MsgReadAllEventsForward:
		s.handleReadAllForward(conn, writeMu, p)
	case packet.MsgSubscribeToStream:
		s.handleSubscribe(conn, writeMu, p, p.CorrelationID, decodeSubscribeStream(s.pc, p))
	case packet.MsgSubscribeToAll:
		s.handleSubscribe(conn, writeMu, p, p.CorrelationID, types.AllStreams)
	case packet.MsgUnsubscribe:
		s.removeSub(conn, p.CorrelationID)
	default:
		resp, _ := s.pc.Encode(packet.MsgBadRequest, &codec.BadRequest{Detail: "unknown message type"})
		s.write(conn, writeMu, &packet.Packet{Type: packet.MsgBadRequest, CorrelationID: p.CorrelationID, Payload: resp})
	}
}

func decodeSubscribeStream(pc codec.PayloadCodec, p *packet.Packet) types.StreamID {
	payload, err := pc.Decode(p.Type, p.Payload)
	if err != nil {
		return ""
	}
	req, ok := payload.(*codec.SubscribeToStreamRequest)
	if !ok {
		return ""
	}
	return req.Stream
}

func (s *Server) handleWrite(conn net.Conn, writeMu *sync.Mutex, p *packet.Packet) {
	payload, err := s.pc.Decode(p.Type, p.Payload)
	if err != nil {
		s.writeCompleted(conn, writeMu, p.CorrelationID, &codec.WriteEventsCompleted{Result: codec.ResultInvalidTransaction})
		return
	}
	req := payload.(*codec.WriteEventsRequest)

	s.mu.Lock()
	existing := s.streams[req.Stream]
	if !satisfiesExpectedVersion(req.ExpectedVersion, existing) {
		s.mu.Unlock()
		var actual *types.EventNumber
		if len(existing) > 0 {
			n := existing[len(existing)-1].EventNumber
			actual = &n
		}
		s.writeCompleted(conn, writeMu, p.CorrelationID, &codec.WriteEventsCompleted{Result: codec.ResultWrongExpectedVersion, CurrentVersion: actual})
		return
	}

	first := types.EventNumber(len(existing))
	var last types.EventNumber
	for _, ev := range req.Events {
		last = types.EventNumber(len(s.streams[req.Stream]))
		s.nextPos++
		rec := types.EventRecord{
			EventData:   ev,
			StreamID:    req.Stream,
			EventNumber: last,
			Position:    types.Position{Commit: s.nextPos, Prepare: s.nextPos},
		}
		s.streams[req.Stream] = append(s.streams[req.Stream], rec)
		s.all = append(s.all, rec)
	}
	s.mu.Unlock()

	s.fanOut(req.Stream, req.Events)
	s.writeCompleted(conn, writeMu, p.CorrelationID, &codec.WriteEventsCompleted{Result: codec.ResultSuccess, FirstEventNumber: first, LastEventNumber: last})
}

func satisfiesExpectedVersion(ev types.ExpectedVersion, existing []types.EventRecord) bool {
	switch ev.Kind {
	case types.ExpectedAny:
		return true
	case types.ExpectedNoStream:
		return len(existing) == 0
	case types.ExpectedEmptyStream:
		return len(existing) == 0
	case types.ExpectedExact:
		return len(existing) > 0 && existing[len(existing)-1].EventNumber == ev.Version
	default:
		return false
	}
}

func (s *Server) writeCompleted(conn net.Conn, writeMu *sync.Mutex, id uuid.UUID, resp *codec.WriteEventsCompleted) {
	body, _ := s.pc.Encode(packet.MsgWriteEventsCompleted, resp)
	s.write(conn, writeMu, &packet.Packet{Type: packet.MsgWriteEventsCompleted, CorrelationID: id, Payload: body})
}

func (s *Server) handleReadEvent(conn net.Conn, writeMu *sync.Mutex, p *packet.Packet) {
	payload, err := s.pc.Decode(p.Type, p.Payload)
	if err != nil {
		return
	}
	req := payload.(*codec.ReadEventRequest)

	s.mu.Lock()
	events := s.streams[req.Stream]
	s.mu.Unlock()

	resp := &codec.ReadEventCompleted{Result: codec.ResultStreamNotFound}
	if len(events) == 0 {
		resp.Result = codec.ResultStreamNotFound
	} else if int(req.EventNumber) < 0 || int(req.EventNumber) >= len(events) {
		resp.Result = codec.ResultEventNotFound
	} else {
		ev := events[req.EventNumber]
		resp.Result = codec.ResultSuccess
		resp.Event = &types.ResolvedEvent{Event: &ev}
	}
	body, _ := s.pc.Encode(packet.MsgReadEventCompleted, resp)
	s.write(conn, writeMu, &packet.Packet{Type: packet.MsgReadEventCompleted, CorrelationID: p.CorrelationID, Payload: body})
}

func (s *Server) handleReadStreamForward(conn net.Conn, writeMu *sync.Mutex, p *packet.Packet) {
	payload, err := s.pc.Decode(p.Type, p.Payload)
	if err != nil {
		return
	}
	req := payload.(*codec.ReadStreamEventsForwardRequest)

	s.mu.Lock()
	events := s.streams[req.Stream]
	s.mu.Unlock()

	resp := &codec.ReadStreamEventsForwardCompleted{Result: codec.ResultSuccess}
	if len(events) == 0 {
		resp.Result = codec.ResultStreamNotFound
		s.write(conn, writeMu, readStreamPacket(s.pc, p.CorrelationID, resp))
		return
	}

	start := int(req.FromEventNumber)
	if start < 0 {
		start = 0
	}
	if start >= len(events) {
		resp.IsEndOfStream = true
		resp.NextEventNumber = types.EventNumber(len(events))
		resp.LastEventNumber = events[len(events)-1].EventNumber
		s.write(conn, writeMu, readStreamPacket(s.pc, p.CorrelationID, resp))
		return
	}

	end := start + int(req.MaxCount)
	if end > len(events) {
		end = len(events)
	}
	for _, ev := range events[start:end] {
		resp.Events = append(resp.Events, types.ResolvedEvent{Event: cloneEvent(ev)})
	}
	resp.NextEventNumber = types.EventNumber(end)
	resp.LastEventNumber = events[len(events)-1].EventNumber
	resp.IsEndOfStream = end >= len(events)
	s.write(conn, writeMu, readStreamPacket(s.pc, p.CorrelationID, resp))
}

func readStreamPacket(pc codec.PayloadCodec, id uuid.UUID, resp *codec.ReadStreamEventsForwardCompleted) *packet.Packet {
	body, _ := pc.Encode(packet.MsgReadStreamEventsForwardCompleted, resp)
	return &packet.Packet{Type: packet.MsgReadStreamEventsForwardCompleted, CorrelationID: id, Payload: body}
}

func (s *Server) handleReadAllForward(conn net.Conn, writeMu *sync.Mutex, p *packet.Packet) {
	payload, err := s.pc.Decode(p.Type, p.Payload)
	if err != nil {
		return
	}
	req := payload.(*codec.ReadAllEventsForwardRequest)

	s.mu.Lock()
	all := make([]types.EventRecord, len(s.all))
	copy(all, s.all)
	s.mu.Unlock()

	idx := sort.Search(len(all), func(i int) bool {
		return all[i].Position.Compare(req.FromPosition) >= 0
	})

	resp := &codec.ReadAllEventsForwardCompleted{Result: codec.ResultSuccess}
	end := idx + int(req.MaxCount)
	if end > len(all) {
		end = len(all)
	}
	for _, ev := range all[idx:end] {
		resp.Events = append(resp.Events, types.ResolvedEvent{Event: cloneEvent(ev)})
	}
	if end >= len(all) {
		resp.NextPosition = types.LastPosition
		resp.IsEndOfStream = true
	} else {
		resp.NextPosition = all[end].Position
	}
	body, _ := s.pc.Encode(packet.MsgReadAllEventsForwardCompleted, resp)
	s.write(conn, writeMu, &packet.Packet{Type: packet.MsgReadAllEventsForwardCompleted, CorrelationID: p.CorrelationID, Payload: body})
}

func cloneEvent(ev types.EventRecord) *types.EventRecord {
	e := ev
	return &e
}

func (s *Server) handleSubscribe(conn net.Conn, writeMu *sync.Mutex, p *packet.Packet, id uuid.UUID, stream types.StreamID) {
	s.mu.Lock()
	var lastEventNumber *types.EventNumber
	if stream != types.AllStreams {
		events := s.streams[stream]
		if len(events) > 0 {
			n := events[len(events)-1].EventNumber
			lastEventNumber = &n
		}
	}
	lastCommit := s.nextPos
	s.mu.Unlock()

	sub := &liveSub{conn: conn, connMu: writeMu, id: id, stream: stream}
	s.subsMu.Lock()
	s.subs = append(s.subs, sub)
	s.subsMu.Unlock()

	resp := &codec.SubscriptionConfirmed{LastCommitPosition: lastCommit, LastEventNumber: lastEventNumber}
	body, _ := s.pc.Encode(packet.MsgSubscriptionConfirmed, resp)
	s.write(conn, writeMu, &packet.Packet{Type: packet.MsgSubscriptionConfirmed, CorrelationID: id, Payload: body})
}

func (s *Server) removeSub(conn net.Conn, id uuid.UUID) {
	s.subsMu.Lock()
	defer s.subsMu.Unlock()
	for i, sub := range s.subs {
		if sub.conn == conn && sub.id == id {
			sub.closed.Store(true)
			s.subs = append(s.subs[:i], s.subs[i+1:]...)
			return
		}
	}
}

func (s *Server) dropSubsForConn(conn net.Conn) {
	s.subsMu.Lock()
	defer s.subsMu.Unlock()
	kept := s.subs[:0]
	for _, sub := range s.subs {
		if sub.conn != conn {
			kept = append(kept, sub)
		}
	}
	s.subs = kept
}

// fanOut pushes StreamEventAppeared to every live subscription matching
// stream (exact match or a $all subscription).
func (s *Server) fanOut(stream types.StreamID, events []types.EventData) {
	s.subsMu.Lock()
	subs := make([]*liveSub, len(s.subs))
	copy(subs, s.subs)
	s.subsMu.Unlock()

	s.mu.Lock()
	recs := s.streams[stream][len(s.streams[stream])-len(events):]
	matched := make([]types.EventRecord, len(recs))
	copy(matched, recs)
	s.mu.Unlock()

	for _, sub := range subs {
		if sub.closed.Load() {
			continue
		}
		if sub.stream != types.AllStreams && sub.stream != stream {
			continue
		}
		for _, rec := range matched {
			resp := &codec.StreamEventAppeared{Event: types.ResolvedEvent{Event: cloneEvent(rec)}}
			body, _ := s.pc.Encode(packet.MsgStreamEventAppeared, resp)
			s.write(sub.conn, sub.connMu, &packet.Packet{Type: packet.MsgStreamEventAppeared, CorrelationID: sub.id, Payload: body})
		}
	}
}

// DropSubscription forces a SubscriptionDropped with reason for every
// live subscription on stream, letting integration tests exercise the
// server-initiated drop path.
func (s *Server) DropSubscription(stream types.StreamID, reason types.SubscriptionDropReason) {
	s.subsMu.Lock()
	subs := make([]*liveSub, len(s.subs))
	copy(subs, s.subs)
	s.subsMu.Unlock()

	for _, sub := range subs {
		if sub.stream != stream {
			continue
		}
		resp := &codec.SubscriptionDropped{Reason: reason}
		body, _ := s.pc.Encode(packet.MsgSubscriptionDropped, resp)
		s.write(sub.conn, sub.connMu, &packet.Packet{Type: packet.MsgSubscriptionDropped, CorrelationID: sub.id, Payload: body})
	}
}

func (s *Server) write(conn net.Conn, writeMu *sync.Mutex, p *packet.Packet) {
	buf, err := packet.Encode(p)
	if err != nil {
		return
	}
	writeMu.Lock()
	defer writeMu.Unlock()
	frame.WriteFrame(conn, buf)
}
