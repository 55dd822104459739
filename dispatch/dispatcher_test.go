package dispatch

import (
	"context"
	"testing"
	"time"

	"github.com/riverlog/riverlog-go/types"
	"github.com/riverlog/riverlog-go/wire/codec"
	"github.com/riverlog/riverlog-go/wire/packet"
)

func newTestDispatcher(send SendFunc) *Dispatcher {
	cfg := DefaultConfig()
	cfg.DefaultTimeout = 200 * time.Millisecond
	return New(send, codec.BinaryCodec{}, cfg, nil, nil)
}

func TestSubmitSucceedsOnMatchingResponse(t *testing.T) {
	var d *Dispatcher
	send := func(p *packet.Packet) error {
		go func() {
			resp := &codec.WriteEventsCompleted{Result: codec.ResultSuccess, FirstEventNumber: 0, LastEventNumber: 0}
			body, _ := codec.BinaryCodec{}.Encode(packet.MsgWriteEventsCompleted, resp)
			respPacket := &packet.Packet{Type: packet.MsgWriteEventsCompleted, CorrelationID: p.CorrelationID, Payload: body}
			d.TryHandle(respPacket)
		}()
		return nil
	}
	d = newTestDispatcher(send)

	classify := func(payload any) (Outcome, any, error) {
		resp := payload.(*codec.WriteEventsCompleted)
		if resp.Result == codec.ResultSuccess {
			return OutcomeSuccess, resp, nil
		}
		return OutcomeTerminalError, nil, nil
	}

	req := &codec.WriteEventsRequest{Stream: "foo", ExpectedVersion: types.ExpectedVersion{Kind: types.ExpectedAny}}
	val, err := d.Submit(context.Background(), packet.MsgWriteEvents, req, classify)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if val.(*codec.WriteEventsCompleted).Result != codec.ResultSuccess {
		t.Fatalf("unexpected result: %+v", val)
	}
}

func TestSubmitRetriesOnPrepareTimeoutThenSucceeds(t *testing.T) {
	var d *Dispatcher
	attempt := 0
	send := func(p *packet.Packet) error {
		attempt++
		go func() {
			var resp *codec.WriteEventsCompleted
			if attempt == 1 {
				resp = &codec.WriteEventsCompleted{Result: codec.ResultPrepareTimeout}
			} else {
				resp = &codec.WriteEventsCompleted{Result: codec.ResultSuccess}
			}
			body, _ := codec.BinaryCodec{}.Encode(packet.MsgWriteEventsCompleted, resp)
			respPacket := &packet.Packet{Type: packet.MsgWriteEventsCompleted, CorrelationID: p.CorrelationID, Payload: body}
			d.TryHandle(respPacket)
		}()
		return nil
	}
	d = newTestDispatcher(send)

	classify := func(payload any) (Outcome, any, error) {
		resp := payload.(*codec.WriteEventsCompleted)
		switch resp.Result {
		case codec.ResultSuccess:
			return OutcomeSuccess, resp, nil
		case codec.ResultPrepareTimeout, codec.ResultCommitTimeout, codec.ResultForwardTimeout:
			return OutcomeRetryable, nil, nil
		default:
			return OutcomeTerminalError, nil, nil
		}
	}

	req := &codec.WriteEventsRequest{Stream: "foo"}
	val, err := d.Submit(context.Background(), packet.MsgWriteEvents, req, classify)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if val.(*codec.WriteEventsCompleted).Result != codec.ResultSuccess {
		t.Fatalf("expected eventual success, got %+v", val)
	}
	if attempt < 2 {
		t.Fatalf("expected at least 2 attempts, got %d", attempt)
	}
}

func TestSubmitTimesOutWithoutResponse(t *testing.T) {
	send := func(p *packet.Packet) error { return nil } // never answers
	d := newTestDispatcher(send)

	req := &codec.WriteEventsRequest{Stream: "foo"}
	_, err := d.Submit(context.Background(), packet.MsgWriteEvents, req, func(any) (Outcome, any, error) {
		return OutcomeSuccess, nil, nil
	})
	if _, ok := err.(*types.OperationTimedOutError); !ok {
		t.Fatalf("expected OperationTimedOutError, got %v (%T)", err, err)
	}
}

func TestTryHandleReturnsFalseForUnknownCorrelationID(t *testing.T) {
	d := newTestDispatcher(func(p *packet.Packet) error { return nil })
	p := &packet.Packet{Type: packet.MsgStreamEventAppeared}
	if d.TryHandle(p) {
		t.Fatal("expected TryHandle to reject an unowned correlation id")
	}
}

func TestNotAuthenticatedIsTerminalAccessDenied(t *testing.T) {
	var d *Dispatcher
	send := func(p *packet.Packet) error {
		go d.TryHandle(&packet.Packet{Type: packet.MsgNotAuthenticated, CorrelationID: p.CorrelationID})
		return nil
	}
	d = newTestDispatcher(send)

	_, err := d.Submit(context.Background(), packet.MsgWriteEvents, &codec.WriteEventsRequest{Stream: "foo"}, func(any) (Outcome, any, error) {
		return OutcomeSuccess, nil, nil
	})
	if _, ok := err.(*types.AccessDeniedError); !ok {
		t.Fatalf("expected AccessDeniedError, got %v (%T)", err, err)
	}
}
