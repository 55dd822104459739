// Package connection owns the single multiplexed TCP session a client
// keeps open against the database (spec §4.C): dialing through a
// resolver, length-prefixed framing, periodic heartbeats, and
// reconnection with backoff. It is the generalization of the teacher's
// ClientTransport — which multiplexes concurrent RPCs over one conn via a
// recvLoop and a pending map — to a connection that also owns its own
// lifecycle: dial, detect death, back off, redial, replay stashed writes.
package connection

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/riverlog/riverlog-go/resolver"
	"github.com/riverlog/riverlog-go/types"
	"github.com/riverlog/riverlog-go/wire/frame"
	"github.com/riverlog/riverlog-go/wire/packet"
)

// State is the connection manager's lifecycle state (spec §4.C).
type State int

const (
	StateIdle State = iota
	StateConnecting
	StateConnected
	StateTerminated
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "Idle"
	case StateConnecting:
		return "Connecting"
	case StateConnected:
		return "Connected"
	case StateTerminated:
		return "Terminated"
	default:
		return "Unknown"
	}
}

// Config tunes heartbeat cadence, reconnection budget, and the outbound
// stash used while a redial is in flight.
type Config struct {
	HeartbeatInterval time.Duration
	HeartbeatTimeout  time.Duration

	MaxReconnectAttempts int // 0 means unlimited
	BackoffBase          time.Duration
	BackoffMax           time.Duration

	// OutboundStashCap bounds how many encoded packets are held while
	// disconnected; once full, the oldest stashed packet is dropped to
	// make room for the newest one; the operation that sent the dropped
	// packet is not notified.
	OutboundStashCap int

	DialTimeout time.Duration

	// Backpressure sets the three watermarks (spec §4.A, §6:
	// backpressure.low/high/max) guarding every live write to the socket.
	// The zero value falls back to frame.DefaultWatermarks.
	Backpressure frame.Watermarks
}

// DefaultConfig sets the heartbeat/timeout/reconnect/backoff defaults spec
// §6 documents.
func DefaultConfig() Config {
	return Config{
		HeartbeatInterval:    500 * time.Millisecond,
		HeartbeatTimeout:     5 * time.Second,
		MaxReconnectAttempts: 100,
		BackoffBase:          250 * time.Millisecond,
		BackoffMax:           10 * time.Second,
		OutboundStashCap:     256,
		DialTimeout:          1 * time.Second,
		Backpressure:         frame.DefaultWatermarks,
	}
}

// PacketHandler receives every packet read off the wire, including
// heartbeat/ping replies — Manager itself only intercepts those needed to
// satisfy its own liveness check.
type PacketHandler func(*packet.Packet)

// StateChangeHandler is notified whenever the manager transitions state.
type StateChangeHandler func(old, new State)

// Manager owns one logical connection: it dials through a resolver,
// multiplexes reads via a background loop, and reconnects on failure.
type Manager struct {
	resolver resolver.Resolver
	cfg      Config
	logger   *zap.Logger
	onPacket PacketHandler
	onState  StateChangeHandler

	mu          sync.Mutex
	state       State
	conn        net.Conn
	frameWriter *frame.Writer
	current     resolver.Endpoint
	stash       [][]byte

	bp *frame.Buffer

	sendMu       sync.Mutex
	heartbeatAck chan struct{}
}

// NewManager builds a Manager. onPacket is invoked from the manager's own
// goroutine for every packet received; callers needing concurrency must
// dispatch onward themselves (the dispatch and subscription packages do).
func NewManager(r resolver.Resolver, cfg Config, onPacket PacketHandler, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	watermarks := cfg.Backpressure
	if watermarks == (frame.Watermarks{}) {
		watermarks = frame.DefaultWatermarks
	}
	return &Manager{
		resolver:     r,
		cfg:          cfg,
		logger:       logger,
		onPacket:     onPacket,
		state:        StateIdle,
		bp:           frame.NewBuffer(watermarks),
		heartbeatAck: make(chan struct{}, 1),
	}
}

// OnStateChange registers a callback for state transitions. Must be
// called before Run.
func (m *Manager) OnStateChange(fn StateChangeHandler) { m.onState = fn }

func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

func (m *Manager) setState(s State) {
	m.mu.Lock()
	old := m.state
	m.state = s
	m.mu.Unlock()
	if m.onState != nil && old != s {
		m.onState(old, s)
	}
}

// Run drives the connect/serve/reconnect loop until ctx is cancelled or
// the reconnect budget is exhausted, at which point the manager
// transitions to Terminated and Run returns types.ConnectionLostError (or
// nil on a clean ctx cancellation).
func (m *Manager) Run(ctx context.Context) error {
	attempt := 0
	for {
		select {
		case <-ctx.Done():
			m.setState(StateTerminated)
			return nil
		default:
		}

		m.setState(StateConnecting)
		conn, ep, err := m.dial(ctx)
		if err != nil {
			attempt++
			m.logger.Warn("dial failed", zap.Error(err), zap.Int("attempt", attempt))
			if m.cfg.MaxReconnectAttempts > 0 && attempt >= m.cfg.MaxReconnectAttempts {
				m.setState(StateTerminated)
				return &types.ConnectionLostError{}
			}
			if !m.sleepBackoff(ctx, attempt) {
				m.setState(StateTerminated)
				return nil
			}
			continue
		}

		attempt = 0
		m.mu.Lock()
		m.conn = conn
		m.frameWriter = frame.NewWriter(conn, m.bp)
		m.current = ep
		m.mu.Unlock()
		m.setState(StateConnected)
		m.resolver.MarkReachable(ep)
		m.flushStash()

		runErr := m.serve(ctx, conn)
		conn.Close()
		m.resolver.MarkFailed(ep)
		m.logger.Info("connection ended", zap.Error(runErr), zap.String("endpoint", ep.String()))

		select {
		case <-ctx.Done():
			m.setState(StateTerminated)
			return nil
		default:
		}
	}
}

func (m *Manager) dial(ctx context.Context) (net.Conn, resolver.Endpoint, error) {
	ep, err := m.resolver.Next(ctx)
	if err != nil {
		return nil, resolver.Endpoint{}, err
	}
	d := net.Dialer{Timeout: m.cfg.DialTimeout}
	conn, err := d.DialContext(ctx, "tcp", ep.String())
	if err != nil {
		m.resolver.MarkFailed(ep)
		return nil, ep, err
	}
	return conn, ep, nil
}

// serve runs recvLoop and heartbeatLoop for one connection instance and
// blocks until either fails, mirroring the teacher's NewClientTransport
// pair of background goroutines but joined here so Run can redial.
func (m *Manager) serve(ctx context.Context, conn net.Conn) error {
	done := make(chan error, 2)
	serveCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	go func() { done <- m.recvLoop(conn) }()
	go func() { done <- m.heartbeatLoop(serveCtx) }()

	err := <-done
	cancel()
	conn.Close()
	<-done // wait for the other goroutine to notice the closed conn and exit
	return err
}

// recvLoop continuously reads frames off conn and routes decoded packets
// to onPacket, the same single-reader-goroutine shape as the teacher's
// recvLoop (TCP is a byte stream; only one goroutine may read it).
func (m *Manager) recvLoop(conn net.Conn) error {
	for {
		body, err := frame.ReadFrame(conn)
		if err != nil {
			var tooLarge *frame.ErrFrameTooLarge
			if errors.As(err, &tooLarge) {
				return &types.InvalidFrameError{Detail: tooLarge.Error()}
			}
			return err
		}
		p, err := packet.Decode(body)
		if err != nil {
			return &types.InvalidFrameError{Detail: err.Error()}
		}
		if p.Type == packet.MsgHeartbeatResponse || p.Type == packet.MsgPong {
			select {
			case m.heartbeatAck <- struct{}{}:
			default:
			}
		}
		if m.onPacket != nil {
			m.onPacket(p)
		}
	}
}

// heartbeatLoop sends a heartbeat on every tick and requires an ack
// within HeartbeatTimeout, generalizing the teacher's fire-and-forget
// heartbeatLoop into a liveness check that can actually detect a half-open
// socket (spec §4.C: "if no heartbeat ack arrives within the timeout, the
// connection is considered dead").
func (m *Manager) heartbeatLoop(ctx context.Context) error {
	if m.cfg.HeartbeatInterval <= 0 {
		<-ctx.Done()
		return nil
	}
	ticker := time.NewTicker(m.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := m.writePacket(&packet.Packet{Type: packet.MsgHeartbeatRequest}); err != nil {
				return err
			}
			select {
			case <-m.heartbeatAck:
			case <-time.After(m.cfg.HeartbeatTimeout):
				return fmt.Errorf("connection: heartbeat ack timed out after %s", m.cfg.HeartbeatTimeout)
			case <-ctx.Done():
				return nil
			}
		}
	}
}

// Send encodes and writes p. While the manager is not Connected, p is
// stashed and replayed in order once a new connection is established,
// unless the stash is already at capacity, in which case the oldest
// stashed packet is dropped (spec §9).
func (m *Manager) Send(p *packet.Packet) error {
	buf, err := packet.Encode(p)
	if err != nil {
		return err
	}

	m.mu.Lock()
	connected := m.state == StateConnected
	m.mu.Unlock()

	if !connected {
		m.stashPacket(buf)
		return nil
	}
	return m.writeFrame(buf)
}

func (m *Manager) writePacket(p *packet.Packet) error {
	buf, err := packet.Encode(p)
	if err != nil {
		return err
	}
	return m.writeFrame(buf)
}

// writeFrame writes buf through the current connection's frame.Writer,
// which reserves and releases the write against the back-pressure buffer
// (spec §4.A), serialized through sendMu: a single frame.Writer.WriteFrame
// call is not safe for concurrent use, so a dedicated lock prevents two
// goroutines (heartbeat and a caller of Send) from interleaving two
// frames' bytes, exactly the hazard the teacher's sending mutex guards
// against.
func (m *Manager) writeFrame(buf []byte) error {
	m.mu.Lock()
	fw := m.frameWriter
	m.mu.Unlock()
	if fw == nil {
		return fmt.Errorf("connection: writeFrame called with no active connection")
	}

	m.sendMu.Lock()
	defer m.sendMu.Unlock()
	return fw.WriteFrame(buf)
}

func (m *Manager) stashPacket(buf []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cfg.OutboundStashCap > 0 && len(m.stash) >= m.cfg.OutboundStashCap {
		m.stash = m.stash[1:]
	}
	m.stash = append(m.stash, buf)
}

func (m *Manager) flushStash() {
	m.mu.Lock()
	pending := m.stash
	m.stash = nil
	m.mu.Unlock()

	for _, buf := range pending {
		if err := m.writeFrame(buf); err != nil {
			m.logger.Warn("failed to flush stashed packet after reconnect", zap.Error(err))
			return
		}
	}
}

// ForceReconnect closes the current connection, if any, so the Run loop's
// redial picks a fresh endpoint from the resolver. Used by the dispatcher's
// ResolveKick on NotHandled(NotMaster), per spec §4.D: "the last also
// re-resolves the endpoint."
func (m *Manager) ForceReconnect() {
	m.mu.Lock()
	conn := m.conn
	m.mu.Unlock()
	if conn != nil {
		conn.Close()
	}
}

func (m *Manager) sleepBackoff(ctx context.Context, attempt int) bool {
	shift := attempt - 1
	if shift > 16 {
		shift = 16
	}
	if shift < 0 {
		shift = 0
	}
	d := m.cfg.BackoffBase * time.Duration(uint64(1)<<uint(shift))
	if d > m.cfg.BackoffMax {
		d = m.cfg.BackoffMax
	}
	select {
	case <-time.After(d):
		return true
	case <-ctx.Done():
		return false
	}
}
