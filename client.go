// Package riverlog is the public client facade (spec §4.F): it wires the
// connection manager, operation dispatcher, and subscription engine
// together behind a single Client, the way the teacher's client.Call
// chains discover -> pick -> get transport -> send -> wait into one
// method, generalized here to submit -> dispatcher -> wait-on-handle.
package riverlog

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/riverlog/riverlog-go/connection"
	"github.com/riverlog/riverlog-go/dispatch"
	"github.com/riverlog/riverlog-go/middleware"
	"github.com/riverlog/riverlog-go/resolver"
	"github.com/riverlog/riverlog-go/subscription"
	"github.com/riverlog/riverlog-go/types"
	"github.com/riverlog/riverlog-go/wire/codec"
	"github.com/riverlog/riverlog-go/wire/packet"
)

// Config is the plain, explicitly-threaded configuration record spec §9
// calls for ("avoid process-wide state"); every field has the documented
// default applied by DefaultConfig.
type Config struct {
	Codec codec.Kind

	Connection connection.Config
	Dispatch   dispatch.Config

	// Middlewares wraps every facade operation (logging, retry, rate
	// limiting) in the order given, outermost first. Empty means calls
	// reach the dispatcher with no extra wrapping.
	Middlewares []middleware.Middleware

	Logger *zap.Logger
}

func DefaultConfig() Config {
	return Config{
		Codec:      codec.KindBinary,
		Connection: connection.DefaultConfig(),
		Dispatch:   dispatch.DefaultConfig(),
	}
}

// Client is the single entry point applications use: one multiplexed
// connection, its operation dispatcher, and its subscription engine.
type Client struct {
	cfg    Config
	logger *zap.Logger

	conn *connection.Manager
	disp *dispatch.Dispatcher
	subs *subscription.Engine

	mu      sync.Mutex
	runErr  error
	runDone chan struct{}
}

// NewClient builds a Client against r, which supplies the endpoint(s) to
// dial (spec §4.G: StaticResolver for a fixed address, GossipResolver for
// a discovered cluster).
func NewClient(r resolver.Resolver, cfg Config) *Client {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	pc := codec.Get(cfg.Codec)

	c := &Client{cfg: cfg, logger: cfg.Logger, runDone: make(chan struct{})}

	c.conn = connection.NewManager(r, cfg.Connection, c.demux, cfg.Logger)
	c.disp = dispatch.New(c.conn.Send, pc, cfg.Dispatch, c.conn.ForceReconnect, cfg.Logger)
	c.subs = subscription.New(c.conn.Send, pc, cfg.Logger)

	c.conn.OnStateChange(c.onStateChange)
	return c
}

// Run drives the underlying connection until ctx is cancelled. Callers
// typically run it in its own goroutine and use Wait or Err to observe
// termination.
func (c *Client) Run(ctx context.Context) error {
	err := c.conn.Run(ctx)
	c.mu.Lock()
	c.runErr = err
	c.mu.Unlock()
	close(c.runDone)
	return err
}

// Done is closed once Run returns.
func (c *Client) Done() <-chan struct{} { return c.runDone }

// Err returns the error Run terminated with, valid only after Done closes.
func (c *Client) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.runErr
}

// State reports the connection manager's current lifecycle state.
func (c *Client) State() connection.State { return c.conn.State() }

// invoke runs call through the configured middleware chain under the
// given operation name, so logging/retry/rate-limit middlewares see every
// facade call the same way regardless of which operation it is.
func (c *Client) invoke(ctx context.Context, name string, call func(context.Context) (any, error)) (any, error) {
	terminal := func(ctx context.Context, op middleware.Operation) (any, error) { return call(ctx) }
	handler := middleware.Chain(c.cfg.Middlewares...)(terminal)
	return handler(ctx, middleware.Operation{Name: name})
}

// demux is the connection manager's single onPacket callback: it routes
// every inbound packet to the dispatcher first, then the subscription
// engine, per the spec invariant that a correlation id belongs to exactly
// one of them at any time.
func (c *Client) demux(p *packet.Packet) {
	if c.disp.TryHandle(p) {
		return
	}
	if c.subs.TryHandle(p) {
		return
	}
	c.logger.Warn("riverlog: packet matched no outstanding operation or subscription",
		zap.String("correlation_id", p.CorrelationID.String()))
}

// onStateChange propagates a connection loss to every outstanding
// operation and live subscription, so neither leaves a caller blocked
// forever (spec §4.C/§4.D/§4.E interplay).
func (c *Client) onStateChange(old, new connection.State) {
	if new == connection.StateConnecting && old == connection.StateConnected {
		cause := &types.ConnectionLostError{}
		c.disp.CloseAll(cause)
		c.subs.ConnectionLost(cause)
	}
}

// WriteEvents appends events to stream under an optimistic concurrency
// precondition (spec §4.B WriteEvents).
func (c *Client) WriteEvents(ctx context.Context, stream types.StreamID, expected types.ExpectedVersion, events []types.EventData, opts ...dispatch.SubmitOption) (*codec.WriteEventsCompleted, error) {
	req := &codec.WriteEventsRequest{Stream: stream, ExpectedVersion: expected, Events: events}
	classify := func(payload any) (dispatch.Outcome, any, error) {
		resp, ok := payload.(*codec.WriteEventsCompleted)
		if !ok {
			return dispatch.OutcomeTerminalError, nil, &types.UnexpectedResponseError{}
		}
		switch resp.Result {
		case codec.ResultSuccess:
			return dispatch.OutcomeSuccess, resp, nil
		case codec.ResultPrepareTimeout, codec.ResultCommitTimeout, codec.ResultForwardTimeout:
			return dispatch.OutcomeRetryable, nil, nil
		case codec.ResultWrongExpectedVersion:
			return dispatch.OutcomeTerminalError, nil, &types.WrongExpectedVersionError{Given: expected.Version, Actual: resp.CurrentVersion}
		case codec.ResultStreamDeleted:
			return dispatch.OutcomeTerminalError, nil, &types.StreamDeletedError{Stream: stream}
		case codec.ResultAccessDenied:
			return dispatch.OutcomeTerminalError, nil, &types.AccessDeniedError{}
		default:
			return dispatch.OutcomeTerminalError, nil, fmt.Errorf("riverlog: write failed with result %d", resp.Result)
		}
	}
	value, err := c.invoke(ctx, "WriteEvents", func(ctx context.Context) (any, error) {
		return c.disp.Submit(ctx, packet.MsgWriteEvents, req, classify, opts...)
	})
	if err != nil {
		return nil, err
	}
	return value.(*codec.WriteEventsCompleted), nil
}

// ReadEvent reads a single event by stream and number (spec §4.B
// ReadEvent).
func (c *Client) ReadEvent(ctx context.Context, stream types.StreamID, number types.EventNumber, resolveLinkTos bool, opts ...dispatch.SubmitOption) (*types.ResolvedEvent, error) {
	req := &codec.ReadEventRequest{Stream: stream, EventNumber: number, ResolveLinkTos: resolveLinkTos}
	classify := func(payload any) (dispatch.Outcome, any, error) {
		resp, ok := payload.(*codec.ReadEventCompleted)
		if !ok {
			return dispatch.OutcomeTerminalError, nil, &types.UnexpectedResponseError{}
		}
		switch resp.Result {
		case codec.ResultSuccess:
			return dispatch.OutcomeSuccess, resp.Event, nil
		case codec.ResultStreamNotFound:
			return dispatch.OutcomeTerminalError, nil, &types.StreamNotFoundError{Stream: stream}
		case codec.ResultStreamDeleted:
			return dispatch.OutcomeTerminalError, nil, &types.StreamDeletedError{Stream: stream}
		case codec.ResultEventNotFound:
			return dispatch.OutcomeTerminalError, nil, &types.EventNotFoundError{Stream: stream, Number: number}
		case codec.ResultAccessDenied:
			return dispatch.OutcomeTerminalError, nil, &types.AccessDeniedError{}
		default:
			return dispatch.OutcomeTerminalError, nil, fmt.Errorf("riverlog: read failed with result %d", resp.Result)
		}
	}
	value, err := c.invoke(ctx, "ReadEvent", func(ctx context.Context) (any, error) {
		return c.disp.Submit(ctx, packet.MsgReadEvent, req, classify, opts...)
	})
	if err != nil {
		return nil, err
	}
	return value.(*types.ResolvedEvent), nil
}

// ReadStreamEventsForward pages forward through a single stream (spec
// §4.B ReadStreamEventsForward). Most callers issuing a catch-up
// subscription should prefer SubscribeCatchUpStream, which pages
// internally.
func (c *Client) ReadStreamEventsForward(ctx context.Context, stream types.StreamID, from types.EventNumber, maxCount int32, resolveLinkTos bool, opts ...dispatch.SubmitOption) (*codec.ReadStreamEventsForwardCompleted, error) {
	req := &codec.ReadStreamEventsForwardRequest{Stream: stream, FromEventNumber: from, MaxCount: maxCount, ResolveLinkTos: resolveLinkTos}
	classify := func(payload any) (dispatch.Outcome, any, error) {
		resp, ok := payload.(*codec.ReadStreamEventsForwardCompleted)
		if !ok {
			return dispatch.OutcomeTerminalError, nil, &types.UnexpectedResponseError{}
		}
		switch resp.Result {
		case codec.ResultSuccess:
			return dispatch.OutcomeSuccess, resp, nil
		case codec.ResultStreamNotFound:
			return dispatch.OutcomeTerminalError, nil, &types.StreamNotFoundError{Stream: stream}
		case codec.ResultStreamDeleted:
			return dispatch.OutcomeTerminalError, nil, &types.StreamDeletedError{Stream: stream}
		case codec.ResultAccessDenied:
			return dispatch.OutcomeTerminalError, nil, &types.AccessDeniedError{}
		default:
			return dispatch.OutcomeTerminalError, nil, fmt.Errorf("riverlog: read failed with result %d", resp.Result)
		}
	}
	value, err := c.invoke(ctx, "ReadStreamEventsForward", func(ctx context.Context) (any, error) {
		return c.disp.Submit(ctx, packet.MsgReadStreamEventsForward, req, classify, opts...)
	})
	if err != nil {
		return nil, err
	}
	return value.(*codec.ReadStreamEventsForwardCompleted), nil
}

// ReadAllEventsForward pages forward through the global $all log (spec
// §4.B ReadAllEventsForward).
func (c *Client) ReadAllEventsForward(ctx context.Context, from types.Position, maxCount int32, resolveLinkTos bool, opts ...dispatch.SubmitOption) (*codec.ReadAllEventsForwardCompleted, error) {
	req := &codec.ReadAllEventsForwardRequest{FromPosition: from, MaxCount: maxCount, ResolveLinkTos: resolveLinkTos}
	classify := func(payload any) (dispatch.Outcome, any, error) {
		resp, ok := payload.(*codec.ReadAllEventsForwardCompleted)
		if !ok {
			return dispatch.OutcomeTerminalError, nil, &types.UnexpectedResponseError{}
		}
		switch resp.Result {
		case codec.ResultSuccess:
			return dispatch.OutcomeSuccess, resp, nil
		case codec.ResultAccessDenied:
			return dispatch.OutcomeTerminalError, nil, &types.AccessDeniedError{}
		default:
			return dispatch.OutcomeTerminalError, nil, fmt.Errorf("riverlog: read failed with result %d", resp.Result)
		}
	}
	value, err := c.invoke(ctx, "ReadAllEventsForward", func(ctx context.Context) (any, error) {
		return c.disp.Submit(ctx, packet.MsgReadAllEventsForward, req, classify, opts...)
	})
	if err != nil {
		return nil, err
	}
	return value.(*codec.ReadAllEventsForwardCompleted), nil
}

// SubscribeVolatile opens a live-only subscription (spec §4.E).
func (c *Client) SubscribeVolatile(ctx context.Context, stream types.StreamID, opts subscription.Options, cb subscription.Callbacks) (*subscription.Handle, error) {
	return c.subs.SubscribeVolatile(ctx, stream, opts, cb)
}

// SubscribeCatchUpStream opens a catch-up subscription to a single stream
// (spec §4.E).
func (c *Client) SubscribeCatchUpStream(ctx context.Context, stream types.StreamID, opts subscription.Options, cb subscription.Callbacks) (*subscription.Handle, error) {
	return c.subs.SubscribeCatchUpStream(ctx, stream, opts, cb)
}

// SubscribeCatchUpAll opens a catch-up subscription to the global $all
// log (spec §4.E).
func (c *Client) SubscribeCatchUpAll(ctx context.Context, opts subscription.Options, cb subscription.Callbacks) (*subscription.Handle, error) {
	return c.subs.SubscribeCatchUpAll(ctx, opts, cb)
}

// WaitConnected blocks until the connection reaches StateConnected or ctx
// is cancelled, useful before issuing the first operation after Run
// starts.
func (c *Client) WaitConnected(ctx context.Context) error {
	if c.State() == connection.StateConnected {
		return nil
	}
	ticker := time.NewTicker(20 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if c.State() == connection.StateConnected {
				return nil
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
