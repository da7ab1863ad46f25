package middleware

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/utafrali/cartsync/pkg/logger"
)

// CorrelationIDHeader carries the correlation ID between services.
const CorrelationIDHeader = "X-Correlation-ID"

// RequestLogging adopts the caller's correlation ID, or mints one, echoes it
// in the response and logs one line per request. Server errors log at Error
// and client errors at Warn.
func RequestLogging(l *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			ctx := r.Context()
			if id := r.Header.Get(CorrelationIDHeader); id != "" {
				ctx = logger.WithCorrelationID(ctx, id)
			}
			ctx = logger.EnsureCorrelationID(ctx)
			w.Header().Set(CorrelationIDHeader, logger.CorrelationIDFromContext(ctx))

			rec := newStatusRecorder(w)
			r = r.WithContext(ctx)
			next.ServeHTTP(rec, r)

			level := slog.LevelInfo
			switch {
			case rec.status >= 500:
				level = slog.LevelError
			case rec.status >= 400:
				level = slog.LevelWarn
			}
			logger.WithContext(ctx, l).Log(ctx, level, "http request",
				slog.String("method", r.Method),
				slog.String("route", routePattern(r)),
				slog.String("path", r.URL.Path),
				slog.Int("status", rec.status),
				slog.Duration("duration", time.Since(start)),
				slog.Int("bytes", rec.bytes),
			)
		})
	}
}

// RequestLogger stores a logger enriched with the request's correlation ID,
// authenticated user and trace in the context, for logger.FromContext. Mount
// it after Auth and Tracing.
func RequestLogger(base *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			if userID := UserIDFromContext(ctx); userID != "" {
				ctx = logger.WithUserID(ctx, userID)
			}
			ctx = logger.NewContext(ctx, logger.WithContext(ctx, base))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
