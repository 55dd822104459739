package middleware

import (
	"context"
	"time"

	"github.com/riverlog/riverlog-go/types"
)

// TimeoutMiddleware enforces a maximum duration for one facade call,
// same race-against-ctx.Done shape as the teacher's TimeOutMiddleware.
// The handler runs with a ctx that carries the timeout, so a ctx-aware
// handler (such as the dispatcher's Submit) is cancelled when it fires;
// the call then returns OperationTimedOutError without waiting for the
// handler's goroutine to finish.
func TimeoutMiddleware(timeout time.Duration) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, op Operation) (any, error) {
			ctx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()

			type outcome struct {
				value any
				err   error
			}
			done := make(chan outcome, 1)
			go func() {
				value, err := next(ctx, op)
				done <- outcome{value, err}
			}()

			select {
			case o := <-done:
				return o.value, o.err
			case <-ctx.Done():
				return nil, &types.OperationTimedOutError{MessageKind: op.Name}
			}
		}
	}
}
