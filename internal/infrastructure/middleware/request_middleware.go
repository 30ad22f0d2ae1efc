package middleware

import (
	"context"
	"net/http"
	"strings"
	"time"

	"rendezvous/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"
)

const RequestIDHeader = "X-Request-ID"

// RequestLoggerMiddleware tags each request with an id and logs its outcome
// through the context logger.
func RequestLoggerMiddleware(cl *logger.ContextLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader(RequestIDHeader)
		if requestID == "" {
			requestID = uuid.NewString()
		}
		c.Header(RequestIDHeader, requestID)

		ctx := context.WithValue(c.Request.Context(), logger.RequestIDKey, requestID)
		if sc := trace.SpanContextFromContext(ctx); sc.HasTraceID() {
			ctx = context.WithValue(ctx, logger.TraceIDKey, sc.TraceID().String())
		}
		c.Request = c.Request.WithContext(ctx)

		start := time.Now()
		c.Next()

		cl.LogRequest(ctx, c.Request.Method, c.Request.URL.Path, c.Writer.Status(), time.Since(start).Milliseconds())
	}
}

// CORSMiddleware answers cross-origin requests for the read-only endpoints.
// An empty allow-list or a "*" entry admits every origin.
func CORSMiddleware(allowedOrigins []string) gin.HandlerFunc {
	allowed := NewOriginSet(allowedOrigins)

	return func(c *gin.Context) {
		origin := c.GetHeader("Origin")
		if origin != "" && allowed.Allows(origin) {
			if allowed.Wildcard() {
				c.Header("Access-Control-Allow-Origin", "*")
			} else {
				c.Header("Access-Control-Allow-Origin", origin)
				c.Header("Vary", "Origin")
			}
			c.Header("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			c.Header("Access-Control-Allow-Headers", "Authorization, Content-Type, "+RequestIDHeader)
		}

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

// OriginSet is a normalized origin allow-list shared by CORS and the
// WebSocket upgrader.
type OriginSet map[string]struct{}

func NewOriginSet(origins []string) OriginSet {
	set := make(OriginSet, len(origins))
	for _, origin := range origins {
		set[strings.TrimSuffix(origin, "/")] = struct{}{}
	}
	return set
}

func (s OriginSet) Wildcard() bool {
	if len(s) == 0 {
		return true
	}
	_, ok := s["*"]
	return ok
}

func (s OriginSet) Allows(origin string) bool {
	if s.Wildcard() {
		return true
	}
	_, ok := s[strings.TrimSuffix(origin, "/")]
	return ok
}
