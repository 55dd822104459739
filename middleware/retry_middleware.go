package middleware

import (
	"context"
	"errors"
	"time"

	"github.com/riverlog/riverlog-go/types"
)

// RetryMiddleware retries a facade call on a retryable error, same
// exponential-backoff shape as the teacher's RetryMiddleware, re-targeted
// from matching the substring "timeout" in a response's Error field to
// errors.As against the typed errors the dispatcher and connection
// manager actually return.
func RetryMiddleware(maxRetries int, baseDelay time.Duration) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, op Operation) (any, error) {
			value, err := next(ctx, op)
			for i := 0; i < maxRetries && isRetryable(err); i++ {
				select {
				case <-time.After(baseDelay * time.Duration(uint64(1)<<uint(i))):
				case <-ctx.Done():
					return nil, ctx.Err()
				}
				value, err = next(ctx, op)
			}
			return value, err
		}
	}
}

func isRetryable(err error) bool {
	if err == nil {
		return false
	}
	var timedOut *types.OperationTimedOutError
	var connLost *types.ConnectionLostError
	return errors.As(err, &timedOut) || errors.As(err, &connLost)
}
