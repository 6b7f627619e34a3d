package middleware

import (
	"log/slog"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const (
	// RequestIDHeader is the canonical HTTP header used to propagate the request identifier.
	RequestIDHeader = "X-Request-ID"

	// RequestIDKey is the gin.Context key under which the request ID string is stored.
	RequestIDKey = "request_id"

	// LoggerKey holds a *slog.Logger pre-tagged with the request ID.
	LoggerKey = "logger"

	maxRequestIDLength = 128
)

// RequestIDMiddleware ensures every request carries an identifier, reusing a well-formed
// inbound X-Request-ID and otherwise generating a UUID. The ID is echoed in the response
// and attached to a request-scoped logger retrievable with Logger.
func RequestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(RequestIDHeader)
		if !validRequestID(id) {
			id = uuid.New().String()
		}

		c.Set(RequestIDKey, id)
		c.Set(LoggerKey, slog.Default().With("request_id", id))
		c.Header(RequestIDHeader, id)

		c.Next()
	}
}

// Logger returns the request-scoped logger, or slog.Default outside a request
func Logger(c *gin.Context) *slog.Logger {
	if v, ok := c.Get(LoggerKey); ok {
		if l, ok := v.(*slog.Logger); ok {
			return l
		}
	}
	return slog.Default()
}

// validRequestID rejects empty, oversized, or non-printable inbound IDs so
// they cannot be used to inject into log lines.
func validRequestID(id string) bool {
	if id == "" || len(id) > maxRequestIDLength {
		return false
	}
	for i := 0; i < len(id); i++ {
		if id[i] < 0x21 || id[i] > 0x7e {
			return false
		}
	}
	return true
}
