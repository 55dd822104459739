package middleware

import (
	"context"
	"fmt"

	"golang.org/x/time/rate"
)

// RateLimitMiddleware bounds the rate of facade calls with a token-bucket
// limiter, same shared-across-requests construction as the teacher's
// RateLimitMiddleware: the limiter is built once in the outer closure, not
// per call, or every call would see a fresh full bucket.
func RateLimitMiddleware(r float64, burst int) Middleware {
	limiter := rate.NewLimiter(rate.Limit(r), burst)
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, op Operation) (any, error) {
			if !limiter.Allow() {
				return nil, fmt.Errorf("riverlog: rate limit exceeded for operation %s", op.Name)
			}
			return next(ctx, op)
		}
	}
}
