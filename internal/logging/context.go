package logging

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const traceHeader = "X-Trace-ID"

// WithContext attaches l to ctx
func WithContext(ctx context.Context, l zerolog.Logger) context.Context {
	return l.WithContext(ctx)
}

// FromContext returns the logger stored in ctx, or a disabled logger
func FromContext(ctx context.Context) *zerolog.Logger {
	return zerolog.Ctx(ctx)
}

// GinMiddleware puts a request-scoped logger carrying a trace ID on the request
// context and logs each completed request.
func GinMiddleware(base zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		traceID := c.GetHeader(traceHeader)
		if traceID == "" {
			traceID = uuid.NewString()
		}
		c.Header(traceHeader, traceID)

		l := base.With().
			Str("component", "http").
			Str("trace_id", traceID).
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Logger()
		c.Request = c.Request.WithContext(WithContext(c.Request.Context(), l))

		c.Next()

		event := l.Debug()
		if c.Writer.Status() >= 500 {
			event = l.Error()
		}
		event.Int("status_code", c.Writer.Status()).Dur("duration", time.Since(start)).Msg("Request completed")
	}
}
