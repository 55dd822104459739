package middleware

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// LoggingMiddleware records the operation name, duration, and any error
// for each facade call, the same before/after timing shape as the
// teacher's LoggingMiddleware, re-targeted from log.Printf to structured
// zap fields.
func LoggingMiddleware(logger *zap.Logger) Middleware {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, op Operation) (any, error) {
			start := time.Now()
			result, err := next(ctx, op)
			duration := time.Since(start)
			if err != nil {
				logger.Warn("operation failed", zap.String("operation", op.Name), zap.Duration("duration", duration), zap.Error(err))
			} else {
				logger.Debug("operation completed", zap.String("operation", op.Name), zap.Duration("duration", duration))
			}
			return result, err
		}
	}
}
