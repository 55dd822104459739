package middleware

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/riverlog/riverlog-go/types"
)

func echoHandler(ctx context.Context, op Operation) (any, error) {
	return "ok", nil
}

func slowHandler(ctx context.Context, op Operation) (any, error) {
	time.Sleep(200 * time.Millisecond)
	return "ok", nil
}

func TestLoggingPassesResultThrough(t *testing.T) {
	handler := LoggingMiddleware(nil)(echoHandler)

	value, err := handler(context.Background(), Operation{Name: "WriteEvents"})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if value != "ok" {
		t.Fatalf("expected 'ok', got %v", value)
	}
}

func TestTimeoutPassesFastHandler(t *testing.T) {
	handler := TimeoutMiddleware(500 * time.Millisecond)(echoHandler)

	_, err := handler(context.Background(), Operation{Name: "WriteEvents"})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
}

func TestTimeoutExceededReturnsOperationTimedOut(t *testing.T) {
	handler := TimeoutMiddleware(50 * time.Millisecond)(slowHandler)

	_, err := handler(context.Background(), Operation{Name: "WriteEvents"})
	var timedOut *types.OperationTimedOutError
	if !errors.As(err, &timedOut) {
		t.Fatalf("expected *types.OperationTimedOutError, got %v", err)
	}
}

func TestRateLimitAllowsBurstThenRejects(t *testing.T) {
	handler := RateLimitMiddleware(1, 2)(echoHandler)

	for i := 0; i < 2; i++ {
		if _, err := handler(context.Background(), Operation{Name: "WriteEvents"}); err != nil {
			t.Fatalf("request %d should pass, got error: %v", i, err)
		}
	}

	if _, err := handler(context.Background(), Operation{Name: "WriteEvents"}); err == nil {
		t.Fatal("expected the third request to be rate limited")
	}
}

func TestRetryRetriesOnTimeoutThenSucceeds(t *testing.T) {
	attempts := 0
	flaky := func(ctx context.Context, op Operation) (any, error) {
		attempts++
		if attempts < 3 {
			return nil, &types.OperationTimedOutError{MessageKind: op.Name}
		}
		return "ok", nil
	}
	handler := RetryMiddleware(5, time.Millisecond)(flaky)

	value, err := handler(context.Background(), Operation{Name: "WriteEvents"})
	if err != nil {
		t.Fatalf("expected eventual success, got %v", err)
	}
	if value != "ok" {
		t.Fatalf("expected 'ok', got %v", value)
	}
	if attempts != 3 {
		t.Fatalf("expected 3 attempts, got %d", attempts)
	}
}

func TestChainRunsOutermostFirst(t *testing.T) {
	var order []string
	record := func(name string) Middleware {
		return func(next HandlerFunc) HandlerFunc {
			return func(ctx context.Context, op Operation) (any, error) {
				order = append(order, name+".before")
				value, err := next(ctx, op)
				order = append(order, name+".after")
				return value, err
			}
		}
	}
	chained := Chain(record("A"), LoggingMiddleware(nil), TimeoutMiddleware(500*time.Millisecond), record("B"))
	handler := chained(echoHandler)

	value, err := handler(context.Background(), Operation{Name: "WriteEvents"})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if value != "ok" {
		t.Fatalf("expected 'ok', got %v", value)
	}
	want := []string{"A.before", "B.before", "B.after", "A.after"}
	if len(order) != len(want) {
		t.Fatalf("expected order %v, got %v", want, order)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("expected order %v, got %v", want, order)
		}
	}
}
