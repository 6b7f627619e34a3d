// Package middleware provides the Gin middleware chain of the membership API.
// Global middleware is registered in internal/api/router.go before any route.
package middleware

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/learnhub/membership-service/internal/telemetry"
)

// ErrorKindKey holds the error kind of a JSON error response. Set through
// AbortWithKind and read by MetricsMiddleware.
const ErrorKindKey = "error_kind"

const noRoute = "<no-route>"

// AbortWithKind writes a JSON error body carrying kind and stops the chain
func AbortWithKind(c *gin.Context, status int, kind string, body gin.H) {
	c.Set(ErrorKindKey, kind)
	body["kind"] = kind
	c.AbortWithStatusJSON(status, body)
}

// MetricsMiddleware records http_requests_total, http_request_duration_seconds
// and, for error responses, http_errors_total.
//
// Labels use the matched route template (c.FullPath()) so membership ids never
// become label values. Unmatched requests are labelled "<no-route>".
// Register after gin.Recovery() and RequestIDMiddleware.
func MetricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		path := c.FullPath()
		if path == "" {
			path = noRoute
		}
		method := c.Request.Method

		telemetry.HTTPRequestsTotal.WithLabelValues(method, path, strconv.Itoa(c.Writer.Status())).Inc()
		telemetry.HTTPRequestDuration.WithLabelValues(method, path).Observe(time.Since(start).Seconds())

		if kind := c.GetString(ErrorKindKey); kind != "" {
			telemetry.HTTPErrorsTotal.WithLabelValues(path, kind).Inc()
		}
	}
}
