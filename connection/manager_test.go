package connection

import (
	"context"
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/riverlog/riverlog-go/resolver"
	"github.com/riverlog/riverlog-go/wire/frame"
	"github.com/riverlog/riverlog-go/wire/packet"
)

// loopbackServer accepts exactly one connection, echoes HeartbeatRequest
// with HeartbeatResponse, and otherwise just drains frames.
func loopbackServer(t *testing.T) (addr string, stop func()) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			body, err := frame.ReadFrame(conn)
			if err != nil {
				return
			}
			p, err := packet.Decode(body)
			if err != nil {
				return
			}
			if p.Type == packet.MsgHeartbeatRequest {
				resp := &packet.Packet{Type: packet.MsgHeartbeatResponse, CorrelationID: p.CorrelationID}
				buf, _ := packet.Encode(resp)
				frame.WriteFrame(conn, buf)
			}
		}
	}()
	return ln.Addr().String(), func() { ln.Close() }
}

func TestManagerConnectsAndReachesConnectedState(t *testing.T) {
	addr, stop := loopbackServer(t)
	defer stop()

	host, portStr, _ := net.SplitHostPort(addr)
	port, _ := strconv.Atoi(portStr)
	ep := resolver.Endpoint{Host: host, Port: port}
	r := resolver.NewStaticResolver(ep)

	cfg := DefaultConfig()
	cfg.HeartbeatInterval = 0 // disable for this test

	var gotStates []State
	mgr := NewManager(r, cfg, func(p *packet.Packet) {}, nil)
	mgr.OnStateChange(func(old, new State) { gotStates = append(gotStates, new) })

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- mgr.Run(ctx) }()

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if mgr.State() == StateConnected {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if mgr.State() != StateConnected {
		t.Fatalf("expected Connected, got %v", mgr.State())
	}
	cancel()
	<-done
}

func TestManagerHeartbeatRoundTrip(t *testing.T) {
	addr, stop := loopbackServer(t)
	defer stop()

	host, portStr, _ := net.SplitHostPort(addr)
	port, _ := strconv.Atoi(portStr)
	ep := resolver.Endpoint{Host: host, Port: port}
	r := resolver.NewStaticResolver(ep)

	cfg := DefaultConfig()
	cfg.HeartbeatInterval = 50 * time.Millisecond
	cfg.HeartbeatTimeout = 500 * time.Millisecond

	mgr := NewManager(r, cfg, func(p *packet.Packet) {}, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()
	_ = mgr.Run(ctx)
}

