// Package dispatch implements the operation dispatcher (spec §4.D):
// correlation-id-based matching of responses to outstanding requests,
// retry of explicit retryable server outcomes, and per-operation
// timeouts. It generalizes the teacher's ClientTransport pending map
// (`sync.Map` of seq -> response channel) into full operation records
// that also carry a deadline, a retry budget, and credentials. Retries are
// driven by dispatcher-classified outcomes rather than string matching on
// an error message, and a retry is re-sent at once, with no backoff delay
// between attempts.
package dispatch

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

// Outcome is how a Classifier judges a decoded response.
type Outcome int

const (
	// OutcomeSuccess completes the operation with the Classifier's result.
	OutcomeSuccess Outcome = iota
	// OutcomeRetryable re-sends the request under the same correlation id
	// and decrements the operation's retry budget.
	OutcomeRetryable
	// OutcomeTerminalError completes the operation with the Classifier's
	// error.
	OutcomeTerminalError
)

// Classifier interprets a decoded response payload for one outstanding
// operation. It is supplied per-Submit by the caller (the public facade),
// since only the facade knows which response shape corresponds to which
// request (spec: WriteEvents -> WriteEventsCompleted, etc.) — the
// dispatcher itself only knows the universal outcomes (NotAuthenticated,
// BadRequest, NotHandled) that apply across every request kind.
type Classifier func(payload any) (Outcome, any, error)

// SendFunc transmits a packet over the connection. Submit calls it once
// per attempt (initial send and every retry).
type SendFunc func(*packet.Packet) error

// ResolveKick is invoked when the dispatcher needs to force re-resolution
// of the current endpoint, as spec §4.D requires for
// NotHandled(NotMaster): "the last also re-resolves the endpoint."
type ResolveKick func()

const defaultMaxRetries = 10

// Config tunes default timeout/retry behavior; individual Submit calls
// may override both via SubmitOption.
type Config struct {
	DefaultTimeout    time.Duration
	DefaultMaxRetries int
	DefaultAuth       *packet.Auth
}

func DefaultConfig() Config {
	return Config{
		DefaultTimeout:    30 * time.Second,
		DefaultMaxRetries: defaultMaxRetries,
	}
}

type operation struct {
	id          uuid.UUID
	reqType     packet.MessageType
	payload     []byte
	auth        *packet.Auth
	deadline    time.Time
	retriesLeft int
	classify    Classifier
	resultCh    chan result
}

type result struct {
	value any
	err   error
}

// Dispatcher maintains the correlation-id -> operation-record map and
// drives submit/retry/timeout per spec §4.D.
type Dispatcher struct {
	send    SendFunc
	pc      codec.PayloadCodec
	cfg     Config
	onRetry ResolveKick
	logger  *zap.Logger

	mu  sync.Mutex
	ops map[uuid.UUID]*operation
}

// New builds a Dispatcher. send transmits a framed packet (typically
// connection.Manager.Send); pc encodes/decodes payloads; onRetry is
// called whenever a NotHandled(NotMaster) retry fires, so the owning
// facade can force the resolver to pick a fresh endpoint on the next
// connect attempt.
func New(send SendFunc, pc codec.PayloadCodec, cfg Config, onRetry ResolveKick, logger *zap.Logger) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.DefaultMaxRetries <= 0 {
		cfg.DefaultMaxRetries = defaultMaxRetries
	}
	return &Dispatcher{
		send:    send,
		pc:      pc,
		cfg:     cfg,
		onRetry: onRetry,
		logger:  logger,
		ops:     make(map[uuid.UUID]*operation),
	}
}

// SubmitOption overrides a Submit call's timeout, retry budget, or
// credentials.
type SubmitOption func(*operation)

func WithTimeout(d time.Duration) SubmitOption {
	return func(o *operation) { o.deadline = time.Now().Add(d) }
}

func WithMaxRetries(n int) SubmitOption {
	return func(o *operation) { o.retriesLeft = n }
}

func WithAuth(a *packet.Auth) SubmitOption {
	return func(o *operation) { o.auth = a }
}

// Submit encodes payload for reqType, installs an operation record, sends
// it, and blocks until classify reports a terminal outcome, the
// operation's deadline elapses, or ctx is cancelled.
func (d *Dispatcher) Submit(ctx context.Context, reqType packet.MessageType, payload any, classify Classifier, opts ...SubmitOption) (any, error) {
	body, err := d.pc.Encode(reqType, payload)
	if err != nil {
		return nil, err
	}

	op := &operation{
		id:          uuid.New(),
		reqType:     reqType,
		payload:     body,
		auth:        d.cfg.DefaultAuth,
		deadline:    time.Now().Add(d.cfg.DefaultTimeout),
		retriesLeft: d.cfg.DefaultMaxRetries,
		classify:    classify,
		resultCh:    make(chan result, 1),
	}
	for _, opt := range opts {
		opt(op)
	}

	d.mu.Lock()
	d.ops[op.id] = op
	d.mu.Unlock()

	if err := d.sendOp(op); err != nil {
		d.remove(op.id)
		return nil, err
	}

	timer := time.NewTimer(time.Until(op.deadline))
	defer timer.Stop()

	select {
	case res := <-op.resultCh:
		return res.value, res.err
	case <-timer.C:
		d.remove(op.id)
		return nil, &types.OperationTimedOutError{MessageKind: fmt.Sprintf("%d", reqType)}
	case <-ctx.Done():
		d.remove(op.id)
		return nil, ctx.Err()
	}
}

func (d *Dispatcher) sendOp(op *operation) error {
	p := &packet.Packet{Type: op.reqType, CorrelationID: op.id, Auth: op.auth, Payload: op.payload}
	return d.send(p)
}

func (d *Dispatcher) remove(id uuid.UUID) {
	d.mu.Lock()
	delete(d.ops, id)
	d.mu.Unlock()
}

// TryHandle attempts to match p against an outstanding operation. It
// returns false without side effects if p's correlation id is not one the
// dispatcher owns, so the caller can try routing it to the subscription
// engine instead (spec invariant: "a correlation id is owned by at most
// one operation or subscription at any time").
func (d *Dispatcher) TryHandle(p *packet.Packet) bool {
	d.mu.Lock()
	op, ok := d.ops[p.CorrelationID]
	d.mu.Unlock()
	if !ok {
		return false
	}

	switch p.Type {
	case packet.MsgNotAuthenticated:
		d.finish(op, nil, &types.AccessDeniedError{})
		return true
	case packet.MsgBadRequest:
		payload, err := d.pc.Decode(p.Type, p.Payload)
		detail := ""
		if err == nil {
			if br, ok := payload.(*codec.BadRequest); ok {
				detail = br.Detail
			}
		}
		d.finish(op, nil, &types.BadRequestError{Detail: detail})
		return true
	case packet.MsgNotHandled:
		d.handleNotHandled(op, p)
		return true
	}

	payload, err := d.pc.Decode(p.Type, p.Payload)
	if err != nil {
		d.finish(op, nil, err)
		return true
	}

	outcome, value, cerr := op.classify(payload)
	switch outcome {
	case OutcomeSuccess:
		d.finish(op, value, nil)
	case OutcomeTerminalError:
		d.finish(op, nil, cerr)
	case OutcomeRetryable:
		d.retry(op)
	default:
		d.finish(op, nil, &types.UnexpectedResponseError{MessageType: byte(p.Type)})
	}
	return true
}

func (d *Dispatcher) handleNotHandled(op *operation, p *packet.Packet) {
	payload, err := d.pc.Decode(p.Type, p.Payload)
	if err != nil {
		d.finish(op, nil, err)
		return
	}
	nh, ok := payload.(*codec.NotHandled)
	if !ok {
		d.finish(op, nil, &types.UnexpectedResponseError{MessageType: byte(p.Type)})
		return
	}
	if nh.Reason == codec.NotHandledNotMaster {
		if d.onRetry != nil {
			d.onRetry()
		}
		d.retry(op)
		return
	}
	d.finish(op, nil, fmt.Errorf("riverlog: request not handled (reason %d)", nh.Reason))
}

// retry re-sends op under its existing correlation id and decrements its
// retry budget, per spec §4.D: "Every retry keeps the same correlation id
// and decrements the counter; on exhaustion -> terminal
// Retried-too-many-times."
func (d *Dispatcher) retry(op *operation) {
	if op.retriesLeft <= 0 {
		d.finish(op, nil, &types.RetriesExhaustedError{MessageKind: fmt.Sprintf("%d", op.reqType)})
		return
	}
	op.retriesLeft--
	if err := d.sendOp(op); err != nil {
		d.finish(op, nil, err)
	}
}

func (d *Dispatcher) finish(op *operation, value any, err error) {
	d.remove(op.id)
	select {
	case op.resultCh <- result{value: value, err: err}:
	default:
	}
}

// CloseAll fails every outstanding operation with err, called when the
// owning connection is lost (spec §4.C/§4.D interplay: a dropped
// connection must not leave callers blocked forever).
func (d *Dispatcher) CloseAll(err error) {
	d.mu.Lock()
	ops := make([]*operation, 0, len(d.ops))
	for _, op := range d.ops {
		ops = append(ops, op)
	}
	d.ops = make(map[uuid.UUID]*operation)
	d.mu.Unlock()

	for _, op := range ops {
		select {
		case op.resultCh <- result{err: err}:
		default:
		}
	}
}
