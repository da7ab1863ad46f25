package redis

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/utafrali/cartsync/internal/storage/redis"

// WithSlowOpLogging logs commands that take at least threshold as warnings.
// A zero threshold disables it.
func WithSlowOpLogging(threshold time.Duration, logger *slog.Logger) Option {
	return func(s *Storage) {
		s.slowThreshold = threshold
		s.logger = logger
	}
}

// traceOp starts a span for one Redis command. The returned function must
// be called when the command completes:
//
//	ctx, end := s.traceOp(ctx, "GET", key)
//	defer func() { end(err) }()
func (s *Storage) traceOp(ctx context.Context, operation, key string) (context.Context, func(error)) {
	start := time.Now()
	ctx, span := otel.Tracer(tracerName).Start(ctx, "redis."+operation,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("db.system", "redis"),
			attribute.String("db.operation", operation),
			attribute.String("db.redis.key", s.key(key)),
		),
	)

	return ctx, func(err error) {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()

		if s.slowThreshold > 0 && s.logger != nil {
			if elapsed := time.Since(start); elapsed >= s.slowThreshold {
				attrs := []any{
					slog.String("operation", operation),
					slog.String("key", key),
					slog.Duration("duration", elapsed),
				}
				if err != nil {
					attrs = append(attrs, slog.String("error", err.Error()))
				}
				s.logger.WarnContext(ctx, "slow redis command", attrs...)
			}
		}
	}
}
