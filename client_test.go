package riverlog

import (
	"context"
	"net"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/riverlog/riverlog-go/internal/fakeserver"
	"github.com/riverlog/riverlog-go/resolver"
	"github.com/riverlog/riverlog-go/subscription"
	"github.com/riverlog/riverlog-go/types"
)

func newTestClient(t *testing.T, srv *fakeserver.Server) (*Client, func()) {
	t.Helper()
	host, portStr, err := net.SplitHostPort(srv.Addr())
	if err != nil {
		t.Fatalf("split host port: %v", err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		t.Fatalf("parse port: %v", err)
	}
	r := resolver.NewStaticResolver(resolver.Endpoint{Host: host, Port: port})

	cfg := DefaultConfig()
	cfg.Connection.HeartbeatInterval = 0 // disable heartbeats for fast tests

	client := NewClient(r, cfg)
	ctx, cancel := context.WithCancel(context.Background())
	go client.Run(ctx)

	if err := client.WaitConnected(context.Background()); err != nil {
		cancel()
		t.Fatalf("client never connected: %v", err)
	}
	return client, cancel
}

func TestWriteThenReadEventRoundTrips(t *testing.T) {
	srv, err := fakeserver.New()
	if err != nil {
		t.Fatalf("fakeserver.New: %v", err)
	}
	defer srv.Close()

	client, cancel := newTestClient(t, srv)
	defer cancel()

	ctx := context.Background()
	events := []types.EventData{types.NewEventData("Created", []byte(`{"n":1}`), nil, types.ContentJSON)}
	completed, err := client.WriteEvents(ctx, "orders-1", types.NoStream(), events)
	if err != nil {
		t.Fatalf("WriteEvents: %v", err)
	}
	if completed.FirstEventNumber != 0 {
		t.Fatalf("expected first event number 0, got %d", completed.FirstEventNumber)
	}

	read, err := client.ReadEvent(ctx, "orders-1", 0, false)
	if err != nil {
		t.Fatalf("ReadEvent: %v", err)
	}
	if read.Event.EventType != "Created" {
		t.Fatalf("expected event type Created, got %s", read.Event.EventType)
	}
}

func TestWriteWithWrongExpectedVersionFails(t *testing.T) {
	srv, err := fakeserver.New()
	if err != nil {
		t.Fatalf("fakeserver.New: %v", err)
	}
	defer srv.Close()

	client, cancel := newTestClient(t, srv)
	defer cancel()

	ctx := context.Background()
	events := []types.EventData{types.NewEventData("Created", nil, nil, types.ContentBinary)}
	if _, err := client.WriteEvents(ctx, "orders-2", types.Exact(5), events); err == nil {
		t.Fatal("expected a WrongExpectedVersion error")
	}
}

func TestCatchUpStreamSeesHistoricalThenLiveEvents(t *testing.T) {
	srv, err := fakeserver.New()
	if err != nil {
		t.Fatalf("fakeserver.New: %v", err)
	}
	defer srv.Close()

	client, cancel := newTestClient(t, srv)
	defer cancel()

	ctx := context.Background()
	historical := []types.EventData{
		types.NewEventData("A", nil, nil, types.ContentBinary),
		types.NewEventData("B", nil, nil, types.ContentBinary),
	}
	if _, err := client.WriteEvents(ctx, "orders-3", types.NoStream(), historical); err != nil {
		t.Fatalf("seed WriteEvents: %v", err)
	}

	var mu sync.Mutex
	var seen []string
	liveStarted := make(chan struct{})
	var once sync.Once

	cb := subscription.Callbacks{
		OnEvent: func(ev types.ResolvedEvent) {
			mu.Lock()
			seen = append(seen, ev.OriginalEvent().EventType)
			mu.Unlock()
		},
		OnLiveProcessingStart: func() {
			once.Do(func() { close(liveStarted) })
		},
		OnDropped: func(reason types.SubscriptionDropReason, cause error) {},
	}

	handle, err := client.SubscribeCatchUpStream(ctx, "orders-3", subscription.Options{}, cb)
	if err != nil {
		t.Fatalf("SubscribeCatchUpStream: %v", err)
	}
	defer handle.Close()

	select {
	case <-liveStarted:
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for live processing to start")
	}

	live := []types.EventData{types.NewEventData("C", nil, nil, types.ContentBinary)}
	if _, err := client.WriteEvents(ctx, "orders-3", types.Any(), live); err != nil {
		t.Fatalf("live WriteEvents: %v", err)
	}

	deadline := time.After(3 * time.Second)
	for {
		mu.Lock()
		n := len(seen)
		mu.Unlock()
		if n >= 3 {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("timed out waiting for all 3 events, got %d", n)
		case <-time.After(10 * time.Millisecond):
		}
	}

	mu.Lock()
	defer mu.Unlock()
	want := []string{"A", "B", "C"}
	for i, w := range want {
		if seen[i] != w {
			t.Fatalf("event %d: expected %s, got %s", i, w, seen[i])
		}
	}
}

func TestVolatileSubscriptionSeesOnlyLiveEvents(t *testing.T) {
	srv, err := fakeserver.New()
	if err != nil {
		t.Fatalf("fakeserver.New: %v", err)
	}
	defer srv.Close()

	client, cancel := newTestClient(t, srv)
	defer cancel()

	ctx := context.Background()
	seeded := []types.EventData{types.NewEventData("Before", nil, nil, types.ContentBinary)}
	if _, err := client.WriteEvents(ctx, "orders-4", types.NoStream(), seeded); err != nil {
		t.Fatalf("seed WriteEvents: %v", err)
	}

	var mu sync.Mutex
	var seen []string
	dropped := make(chan types.SubscriptionDropReason, 1)

	cb := subscription.Callbacks{
		OnEvent: func(ev types.ResolvedEvent) {
			mu.Lock()
			seen = append(seen, ev.OriginalEvent().EventType)
			mu.Unlock()
		},
		OnDropped: func(reason types.SubscriptionDropReason, cause error) {
			dropped <- reason
		},
	}

	handle, err := client.SubscribeVolatile(ctx, "orders-4", subscription.Options{}, cb)
	if err != nil {
		t.Fatalf("SubscribeVolatile: %v", err)
	}

	live := []types.EventData{types.NewEventData("After", nil, nil, types.ContentBinary)}
	if _, err := client.WriteEvents(ctx, "orders-4", types.Any(), live); err != nil {
		t.Fatalf("live WriteEvents: %v", err)
	}

	deadline := time.After(3 * time.Second)
	for {
		mu.Lock()
		n := len(seen)
		mu.Unlock()
		if n >= 1 {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("timed out waiting for the live event, got %d", n)
		case <-time.After(10 * time.Millisecond):
		}
	}

	mu.Lock()
	if len(seen) != 1 || seen[0] != "After" {
		t.Fatalf("expected only the live event After, got %v", seen)
	}
	mu.Unlock()

	handle.Close()

	select {
	case reason := <-dropped:
		if reason != types.DropUnsubscribed {
			t.Fatalf("expected DropUnsubscribed, got %v", reason)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for OnDropped after Close")
	}
}

func TestVolatileSubscriptionServerInitiatedDrop(t *testing.T) {
	srv, err := fakeserver.New()
	if err != nil {
		t.Fatalf("fakeserver.New: %v", err)
	}
	defer srv.Close()

	client, cancel := newTestClient(t, srv)
	defer cancel()

	ctx := context.Background()
	dropped := make(chan types.SubscriptionDropReason, 1)
	cb := subscription.Callbacks{
		OnDropped: func(reason types.SubscriptionDropReason, cause error) {
			dropped <- reason
		},
	}

	handle, err := client.SubscribeVolatile(ctx, "orders-5", subscription.Options{}, cb)
	if err != nil {
		t.Fatalf("SubscribeVolatile: %v", err)
	}
	defer handle.Close()

	srv.DropSubscription("orders-5", types.DropAccessDenied)

	select {
	case reason := <-dropped:
		if reason != types.DropAccessDenied {
			t.Fatalf("expected DropAccessDenied, got %v", reason)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for server-initiated OnDropped")
	}
}
